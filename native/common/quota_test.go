package common

import (
	"errors"
	"math"
	"testing"
)

func TestCheckQuotaRequestLimit(t *testing.T) {
	q := Quota{MaxRequestsPerEpoch: 10}
	prev := QuotaNow{EpochID: 1}

	next, err := CheckQuota(q, 1, prev, 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.ReqCount != 10 {
		t.Fatalf("unexpected request count: %d", next.ReqCount)
	}

	denied, err := CheckQuota(q, 1, next, 1, 0)
	if !errors.Is(err, ErrQuotaRequestsExceeded) {
		t.Fatalf("expected ErrQuotaRequestsExceeded, got %v", err)
	}
	if denied != next {
		t.Fatalf("expected counters to remain unchanged on denial")
	}

	rollover, err := CheckQuota(q, 2, next, 1, 0)
	if err != nil {
		t.Fatalf("unexpected error after epoch rollover: %v", err)
	}
	if rollover.EpochID != 2 || rollover.ReqCount != 1 {
		t.Fatalf("unexpected state after rollover: %+v", rollover)
	}
}

func TestCheckQuotaVolume(t *testing.T) {
	q := Quota{MaxVolumePerEpoch: 1000}
	prev := QuotaNow{EpochID: 5}

	next, err := CheckQuota(q, 5, prev, 0, 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.VolumeUsed != 1000 {
		t.Fatalf("unexpected volume used: %d", next.VolumeUsed)
	}

	denied, err := CheckQuota(q, 5, next, 0, 1)
	if !errors.Is(err, ErrQuotaVolumeExceeded) {
		t.Fatalf("expected ErrQuotaVolumeExceeded, got %v", err)
	}
	if denied != next {
		t.Fatalf("expected counters to remain unchanged on denial")
	}

	rollover, err := CheckQuota(q, 6, next, 0, 500)
	if err != nil {
		t.Fatalf("unexpected error after epoch rollover: %v", err)
	}
	if rollover.VolumeUsed != 500 {
		t.Fatalf("unexpected volume used after rollover: %d", rollover.VolumeUsed)
	}
}

func TestQuotaTrackerPerKey(t *testing.T) {
	tracker := NewQuotaTracker(Quota{MaxRequestsPerEpoch: 1, MaxVolumePerEpoch: 100, EpochSeconds: 10})

	if err := tracker.Consume("a", 100, 60); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if err := tracker.Consume("a", 105, 1); !errors.Is(err, ErrQuotaRequestsExceeded) {
		t.Fatalf("expected request limit, got %v", err)
	}
	if err := tracker.Consume("b", 105, 101); !errors.Is(err, ErrQuotaVolumeExceeded) {
		t.Fatalf("expected volume cap, got %v", err)
	}
	if err := tracker.Consume("b", 105, 100); err != nil {
		t.Fatalf("denied request must not consume quota: %v", err)
	}
	if err := tracker.Consume("a", 110, 1); err != nil {
		t.Fatalf("new epoch should reset counters: %v", err)
	}
}

func TestQuotaTrackerDisabled(t *testing.T) {
	var nilTracker *QuotaTracker
	if err := nilTracker.Consume("a", 0, 1); err != nil {
		t.Fatalf("nil tracker: %v", err)
	}
	tracker := NewQuotaTracker(Quota{})
	for i := 0; i < 5; i++ {
		if err := tracker.Consume("a", 0, math.MaxUint64); err != nil {
			t.Fatalf("disabled quota: %v", err)
		}
	}
}

func TestQuotaTrackerCheckDoesNotCharge(t *testing.T) {
	tr := NewQuotaTracker(Quota{MaxRequestsPerEpoch: 1, MaxVolumePerEpoch: 100, EpochSeconds: 60})
	for i := 0; i < 3; i++ {
		if err := tr.Check("a", 120, 100); err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
	}
	if err := tr.Check("a", 120, 101); !errors.Is(err, ErrQuotaVolumeExceeded) {
		t.Fatalf("expected ErrQuotaVolumeExceeded, got %v", err)
	}
	if err := tr.Consume("a", 120, 100); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if err := tr.Check("a", 121, 1); !errors.Is(err, ErrQuotaRequestsExceeded) {
		t.Fatalf("expected ErrQuotaRequestsExceeded after consume, got %v", err)
	}
}
