package lending

import (
	"github.com/holiman/uint256"
)

const maxBasisPoints = 10_000

var (
	ray     = uint256.MustFromDecimal("1000000000000000000000000000") // 1e27 precision
	halfRay = new(uint256.Int).Rsh(ray, 1)
	wad     = uint256.MustFromDecimal("1000000000000000000") // price precision

	bps     = uint256.NewInt(maxBasisPoints)
	halfBps = uint256.NewInt(maxBasisPoints / 2)
)

// Ray returns a copy of the 1e27 fixed point unit used by all indexes.
func Ray() *uint256.Int { return new(uint256.Int).Set(ray) }

// arith accumulates the first overflow or underflow raised by a sequence of
// fixed point operations. Once an error is recorded every further operation
// returns zero, so callers only check err at the end of a computation.
type arith struct {
	err error
}

func (a *arith) fail(err error) *uint256.Int {
	if a.err == nil {
		a.err = err
	}
	return new(uint256.Int)
}

func (a *arith) add(x, y *uint256.Int) *uint256.Int {
	if a.err != nil {
		return new(uint256.Int)
	}
	z, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return a.fail(ErrArithmeticOverflow)
	}
	return z
}

func (a *arith) sub(x, y *uint256.Int) *uint256.Int {
	if a.err != nil {
		return new(uint256.Int)
	}
	z, underflow := new(uint256.Int).SubOverflow(x, y)
	if underflow {
		return a.fail(ErrArithmeticUnderflow)
	}
	return z
}

func (a *arith) mul(x, y *uint256.Int) *uint256.Int {
	if a.err != nil {
		return new(uint256.Int)
	}
	z, overflow := new(uint256.Int).MulOverflow(x, y)
	if overflow {
		return a.fail(ErrArithmeticOverflow)
	}
	return z
}

// mulDiv computes floor(x*y/d) with a 512-bit intermediate product.
func (a *arith) mulDiv(x, y, d *uint256.Int) *uint256.Int {
	if a.err != nil {
		return new(uint256.Int)
	}
	if d.IsZero() {
		return a.fail(ErrArithmeticOverflow)
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return a.fail(ErrArithmeticOverflow)
	}
	return z
}

// rayMul multiplies two ray values rounding half up.
func (a *arith) rayMul(x, y *uint256.Int) *uint256.Int {
	product := a.mul(x, y)
	product = a.add(product, halfRay)
	if a.err != nil {
		return new(uint256.Int)
	}
	return product.Div(product, ray)
}

// rayDiv divides two ray values rounding half up.
func (a *arith) rayDiv(x, y *uint256.Int) *uint256.Int {
	if a.err != nil {
		return new(uint256.Int)
	}
	if y.IsZero() {
		return a.fail(ErrArithmeticOverflow)
	}
	half := new(uint256.Int).Rsh(y, 1)
	numerator := a.mul(x, ray)
	numerator = a.add(numerator, half)
	if a.err != nil {
		return new(uint256.Int)
	}
	return numerator.Div(numerator, y)
}

// percentMul applies a basis point percentage rounding half up.
func (a *arith) percentMul(x *uint256.Int, percentage uint64) *uint256.Int {
	product := a.mul(x, uint256.NewInt(percentage))
	product = a.add(product, halfBps)
	if a.err != nil {
		return new(uint256.Int)
	}
	return product.Div(product, bps)
}

// weightedAvg returns (x*(10000-w) + y*w) / 10000 rounding half up.
func (a *arith) weightedAvg(x, y *uint256.Int, weight uint64) *uint256.Int {
	if weight > maxBasisPoints {
		return a.fail(ErrInvalidParameter)
	}
	left := a.mul(x, uint256.NewInt(maxBasisPoints-weight))
	right := a.mul(y, uint256.NewInt(weight))
	sum := a.add(left, right)
	sum = a.add(sum, halfBps)
	if a.err != nil {
		return new(uint256.Int)
	}
	return sum.Div(sum, bps)
}

func minOf(x, y *uint256.Int) *uint256.Int {
	if x.Cmp(y) <= 0 {
		return new(uint256.Int).Set(x)
	}
	return new(uint256.Int).Set(y)
}

func zeroFloorSub(x, y *uint256.Int) *uint256.Int {
	if x.Cmp(y) <= 0 {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(x, y)
}

// dust rounds a residual balance of exactly one scaled unit down to zero.
func dust(x *uint256.Int) *uint256.Int {
	if x.IsUint64() && x.Uint64() == 1 {
		return new(uint256.Int)
	}
	return x
}

func zero() *uint256.Int { return new(uint256.Int) }

func clone(x *uint256.Int) *uint256.Int {
	if x == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(x)
}
