package common

import (
	"errors"
	"testing"
)

func TestGuardWithPauseSwitch(t *testing.T) {
	if err := Guard(nil, "lending"); err != nil {
		t.Fatalf("nil view must not block: %v", err)
	}
	var nilSwitch *PauseSwitch
	if err := Guard(nilSwitch, "lending"); err != nil {
		t.Fatalf("nil switch must not block: %v", err)
	}

	s := NewPauseSwitch("lending")
	if err := Guard(s, "lending"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if err := Guard(s, "oracle"); err != nil {
		t.Fatalf("other modules stay active: %v", err)
	}
	if err := Guard(s, ""); err != nil {
		t.Fatalf("empty module is never paused: %v", err)
	}

	s.Set("lending", false)
	if s.IsPaused("lending") {
		t.Fatal("expected lending to resume")
	}
	s.Set("oracle", true)
	if err := Guard(s, "oracle"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected oracle paused, got %v", err)
	}
}
