package common

import (
	"errors"
	"testing"
)

type pauseSet map[string]bool

func (p pauseSet) IsPaused(module string) bool { return p[module] }

func TestGuard(t *testing.T) {
	view := pauseSet{"names": true}
	if err := Guard(view, "names"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if err := Guard(view, "bank"); err != nil {
		t.Fatalf("expected other module unaffected, got %v", err)
	}
	if err := Guard(nil, "names"); err != nil {
		t.Fatalf("expected nil view to pass, got %v", err)
	}
}
