package common

import (
	"errors"
	"math"
	"sync"
)

var (
	ErrQuotaRequestsExceeded = errors.New("quota requests exceeded")
	ErrQuotaVolumeExceeded   = errors.New("quota volume cap exceeded")
	ErrQuotaCounterOverflow  = errors.New("quota counter overflow")
)

// QuotaNow captures the current usage counters for one key within an epoch.
type QuotaNow struct {
	ReqCount   uint32
	VolumeUsed uint64
	EpochID    uint64
}

// Quota bounds how many flows, and how much underlying volume, a key may
// submit per epoch. Zero limits are unlimited.
type Quota struct {
	MaxRequestsPerEpoch uint32 `yaml:"max_requests_per_epoch"`
	MaxVolumePerEpoch   uint64 `yaml:"max_volume_per_epoch"`
	EpochSeconds        uint32 `yaml:"epoch_seconds"`
}

// Enabled reports whether any limit is configured.
func (q Quota) Enabled() bool {
	return q.MaxRequestsPerEpoch > 0 || q.MaxVolumePerEpoch > 0
}

// Epoch maps a unix timestamp onto the quota's epoch. A zero EpochSeconds
// means one-minute epochs.
func (q Quota) Epoch(unix uint64) uint64 {
	seconds := uint64(q.EpochSeconds)
	if seconds == 0 {
		seconds = 60
	}
	return unix / seconds
}

// CheckQuota verifies whether the additional request and volume fit within the
// configured quota. The returned QuotaNow reflects the updated counters when
// the quota is not exceeded; on denial prev is returned unchanged.
func CheckQuota(q Quota, nowEpoch uint64, prev QuotaNow, addReq uint32, addVolume uint64) (QuotaNow, error) {
	next := prev
	if prev.EpochID != nowEpoch {
		next = QuotaNow{EpochID: nowEpoch}
	}

	if addReq > 0 {
		if next.ReqCount > math.MaxUint32-addReq {
			return prev, ErrQuotaCounterOverflow
		}
		next.ReqCount += addReq
	}
	if q.MaxRequestsPerEpoch > 0 && next.ReqCount > q.MaxRequestsPerEpoch {
		return prev, ErrQuotaRequestsExceeded
	}

	if addVolume > 0 {
		if next.VolumeUsed > math.MaxUint64-addVolume {
			return prev, ErrQuotaCounterOverflow
		}
		next.VolumeUsed += addVolume
	}
	if q.MaxVolumePerEpoch > 0 && next.VolumeUsed > q.MaxVolumePerEpoch {
		return prev, ErrQuotaVolumeExceeded
	}

	return next, nil
}

// QuotaTracker applies one Quota to many keys.
type QuotaTracker struct {
	mu    sync.Mutex
	quota Quota
	usage map[string]QuotaNow
}

func NewQuotaTracker(q Quota) *QuotaTracker {
	return &QuotaTracker{quota: q, usage: make(map[string]QuotaNow)}
}

// Check reports whether one more request of volume fits for key without
// charging it.
func (t *QuotaTracker) Check(key string, unix uint64, volume uint64) error {
	if t == nil || !t.quota.Enabled() {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := CheckQuota(t.quota, t.quota.Epoch(unix), t.usage[key], 1, volume)
	return err
}

// Consume charges one request and volume to key at the given unix time.
func (t *QuotaTracker) Consume(key string, unix uint64, volume uint64) error {
	if t == nil || !t.quota.Enabled() {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	epoch := t.quota.Epoch(unix)
	next, err := CheckQuota(t.quota, epoch, t.usage[key], 1, volume)
	if err != nil {
		return err
	}
	t.usage[key] = next
	for k, u := range t.usage {
		if u.EpochID < epoch {
			delete(t.usage, k)
		}
	}
	return nil
}
