package server

import (
	"context"

	"github.com/holiman/uint256"

	"peerlend/native/lending"
	"peerlend/services/lending/engine"
)

type fakeEngine struct {
	supplyFn      func(context.Context, engine.FlowRequest) (*lending.Receipt, error)
	borrowFn      func(context.Context, engine.FlowRequest) (*lending.Receipt, error)
	withdrawFn    func(context.Context, engine.FlowRequest) (*lending.Receipt, error)
	repayFn       func(context.Context, engine.FlowRequest) (*lending.Receipt, error)
	liquidateFn   func(context.Context, engine.LiquidationRequest) (*lending.LiquidationReceipt, error)
	getMarketFn   func(context.Context, string) (engine.Market, error)
	listMarketsFn func(context.Context) ([]engine.Market, error)
	getPositionFn func(context.Context, string, string) (engine.Position, error)
	getHealthFn   func(context.Context, string) (engine.Health, error)
	listAccountFn func(context.Context, string, string) ([]string, error)
	createFn      func(context.Context, engine.MarketParams) (engine.Market, error)
	updateFn      func(context.Context, string, engine.MarketUpdate) (engine.Market, error)
	deltasFn      func(context.Context, string, string) (*uint256.Int, error)
	claimFn       func(context.Context, string, string) (*uint256.Int, error)
	pauseFn       func(context.Context, bool) error
}

var _ engine.Engine = (*fakeEngine)(nil)

func (f *fakeEngine) Supply(ctx context.Context, req engine.FlowRequest) (*lending.Receipt, error) {
	if f.supplyFn != nil {
		return f.supplyFn(ctx, req)
	}
	return nil, engine.ErrInternal
}

func (f *fakeEngine) Borrow(ctx context.Context, req engine.FlowRequest) (*lending.Receipt, error) {
	if f.borrowFn != nil {
		return f.borrowFn(ctx, req)
	}
	return nil, engine.ErrInternal
}

func (f *fakeEngine) Withdraw(ctx context.Context, req engine.FlowRequest) (*lending.Receipt, error) {
	if f.withdrawFn != nil {
		return f.withdrawFn(ctx, req)
	}
	return nil, engine.ErrInternal
}

func (f *fakeEngine) Repay(ctx context.Context, req engine.FlowRequest) (*lending.Receipt, error) {
	if f.repayFn != nil {
		return f.repayFn(ctx, req)
	}
	return nil, engine.ErrInternal
}

func (f *fakeEngine) Liquidate(ctx context.Context, req engine.LiquidationRequest) (*lending.LiquidationReceipt, error) {
	if f.liquidateFn != nil {
		return f.liquidateFn(ctx, req)
	}
	return nil, engine.ErrInternal
}

func (f *fakeEngine) GetMarket(ctx context.Context, market string) (engine.Market, error) {
	if f.getMarketFn != nil {
		return f.getMarketFn(ctx, market)
	}
	return engine.Market{}, engine.ErrNotFound
}

func (f *fakeEngine) ListMarkets(ctx context.Context) ([]engine.Market, error) {
	if f.listMarketsFn != nil {
		return f.listMarketsFn(ctx)
	}
	return nil, nil
}

func (f *fakeEngine) GetPosition(ctx context.Context, addr, market string) (engine.Position, error) {
	if f.getPositionFn != nil {
		return f.getPositionFn(ctx, addr, market)
	}
	return engine.Position{}, engine.ErrNotFound
}

func (f *fakeEngine) GetHealth(ctx context.Context, addr string) (engine.Health, error) {
	if f.getHealthFn != nil {
		return f.getHealthFn(ctx, addr)
	}
	return engine.Health{}, engine.ErrNotFound
}

func (f *fakeEngine) ListAccounts(ctx context.Context, market, list string) ([]string, error) {
	if f.listAccountFn != nil {
		return f.listAccountFn(ctx, market, list)
	}
	return nil, engine.ErrNotFound
}

func (f *fakeEngine) CreateMarket(ctx context.Context, params engine.MarketParams) (engine.Market, error) {
	if f.createFn != nil {
		return f.createFn(ctx, params)
	}
	return engine.Market{}, engine.ErrInternal
}

func (f *fakeEngine) UpdateMarket(ctx context.Context, market string, update engine.MarketUpdate) (engine.Market, error) {
	if f.updateFn != nil {
		return f.updateFn(ctx, market, update)
	}
	return engine.Market{}, engine.ErrInternal
}

func (f *fakeEngine) IncreaseP2PDeltas(ctx context.Context, market, amount string) (*uint256.Int, error) {
	if f.deltasFn != nil {
		return f.deltasFn(ctx, market, amount)
	}
	return nil, engine.ErrInternal
}

func (f *fakeEngine) ClaimReserve(ctx context.Context, market, amount string) (*uint256.Int, error) {
	if f.claimFn != nil {
		return f.claimFn(ctx, market, amount)
	}
	return nil, engine.ErrInternal
}

func (f *fakeEngine) SetModulePaused(ctx context.Context, paused bool) error {
	if f.pauseFn != nil {
		return f.pauseFn(ctx, paused)
	}
	return engine.ErrInternal
}
