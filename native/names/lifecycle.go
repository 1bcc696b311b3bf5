package names

import "math"

// Phase is the lifecycle state of a name, derived from timestamps on every
// read and never stored.
type Phase uint8

const (
	PhaseUnregistered Phase = iota
	PhaseActive
	PhaseGrace
	PhaseReclaimable
)

func (p Phase) String() string {
	switch p {
	case PhaseUnregistered:
		return "unregistered"
	case PhaseActive:
		return "active"
	case PhaseGrace:
		return "grace"
	case PhaseReclaimable:
		return "reclaimable"
	default:
		return "unknown"
	}
}

// Resolvable reports whether records in this phase still resolve.
func (p Phase) Resolvable() bool {
	return p == PhaseActive || p == PhaseGrace
}

// PhaseAt derives the phase of a record expiring at expiresAt. Both boundaries
// are inclusive on the earlier phase: now == expiresAt is Active and
// now == expiresAt+grace is Grace.
func PhaseAt(now, expiresAt, grace int64) Phase {
	if now <= expiresAt {
		return PhaseActive
	}
	if grace < 0 {
		grace = 0
	}
	// now > expiresAt here, so the elapsed time is positive.
	elapsed := uint64(now) - uint64(expiresAt)
	if elapsed <= uint64(grace) {
		return PhaseGrace
	}
	return PhaseReclaimable
}

// RecordPhase derives the phase of rec, treating nil as unregistered.
func RecordPhase(rec *DomainRecord, now, grace int64) Phase {
	if rec == nil {
		return PhaseUnregistered
	}
	return PhaseAt(now, rec.ExpiresAt, grace)
}

// yearsToSeconds converts a validated duration to seconds.
func yearsToSeconds(years uint64) (int64, error) {
	if years > uint64(math.MaxInt64/SecondsPerYear) {
		return 0, ErrMathOverflow
	}
	return int64(years) * SecondsPerYear, nil
}

func addSeconds(ts, delta int64) (int64, error) {
	if delta > 0 && ts > math.MaxInt64-delta {
		return 0, ErrMathOverflow
	}
	if delta < 0 && ts < math.MinInt64-delta {
		return 0, ErrMathOverflow
	}
	return ts + delta, nil
}

// RenewedExpiry applies the renewal anchor rule: an unexpired record stacks the
// new years on its current expiry, an expired one restarts from now.
func RenewedExpiry(now, expiresAt int64, years uint64) (int64, error) {
	delta, err := yearsToSeconds(years)
	if err != nil {
		return 0, err
	}
	anchor := expiresAt
	if now > expiresAt {
		anchor = now
	}
	return addSeconds(anchor, delta)
}

// FreshExpiry is the expiry of a record created or reclaimed at now.
func FreshExpiry(now int64, years uint64) (int64, error) {
	delta, err := yearsToSeconds(years)
	if err != nil {
		return 0, err
	}
	return addSeconds(now, delta)
}
