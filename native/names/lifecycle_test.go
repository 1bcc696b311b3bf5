package names

import (
	"errors"
	"math"
	"testing"

	"pgregory.net/rapid"
)

func TestPhaseAtBoundaries(t *testing.T) {
	const expiry, grace = 1_000, 100
	cases := []struct {
		now  int64
		want Phase
	}{
		{now: 0, want: PhaseActive},
		{now: expiry, want: PhaseActive},
		{now: expiry + 1, want: PhaseGrace},
		{now: expiry + grace, want: PhaseGrace},
		{now: expiry + grace + 1, want: PhaseReclaimable},
	}
	for _, tc := range cases {
		if got := PhaseAt(tc.now, expiry, grace); got != tc.want {
			t.Fatalf("PhaseAt(%d) = %s, want %s", tc.now, got, tc.want)
		}
	}
	if got := PhaseAt(expiry+1, expiry, 0); got != PhaseReclaimable {
		t.Fatalf("zero grace should reclaim immediately, got %s", got)
	}
	if got := RecordPhase(nil, 0, 0); got != PhaseUnregistered {
		t.Fatalf("nil record should be unregistered, got %s", got)
	}
}

func TestPhaseAtExclusive(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		expiry := rapid.Int64Range(0, math.MaxInt64/2).Draw(t, "expiry")
		grace := rapid.Int64Range(0, math.MaxInt64/4).Draw(t, "grace")
		now := rapid.Int64Range(0, math.MaxInt64).Draw(t, "now")

		active := now <= expiry
		inGrace := now > expiry && now <= expiry+grace
		reclaimable := now > expiry+grace
		count := 0
		for _, b := range []bool{active, inGrace, reclaimable} {
			if b {
				count++
			}
		}
		if count != 1 {
			t.Fatalf("expected exactly one phase, got %d", count)
		}
		want := PhaseReclaimable
		if active {
			want = PhaseActive
		} else if inGrace {
			want = PhaseGrace
		}
		if got := PhaseAt(now, expiry, grace); got != want {
			t.Fatalf("PhaseAt(%d, %d, %d) = %s, want %s", now, expiry, grace, got, want)
		}
	})
}

func TestRenewedExpiryAnchor(t *testing.T) {
	got, err := RenewedExpiry(500, 1_000, 2)
	if err != nil || got != 1_000+2*SecondsPerYear {
		t.Fatalf("active renewal should stack: %d %v", got, err)
	}
	got, err = RenewedExpiry(1_000, 1_000, 1)
	if err != nil || got != 1_000+SecondsPerYear {
		t.Fatalf("renewal at expiry should stack: %d %v", got, err)
	}
	got, err = RenewedExpiry(1_500, 1_000, 1)
	if err != nil || got != 1_500+SecondsPerYear {
		t.Fatalf("lapsed renewal should restart from now: %d %v", got, err)
	}
	if _, err := RenewedExpiry(0, math.MaxInt64-10, 1); !errors.Is(err, ErrMathOverflow) {
		t.Fatalf("expected ErrMathOverflow, got %v", err)
	}
}
