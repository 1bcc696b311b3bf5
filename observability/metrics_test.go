package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegistrarObserveClassifiesErrors(t *testing.T) {
	m := Registrar()
	m.Observe("Register", time.Millisecond, nil, nil)
	m.Observe("register", time.Millisecond, errors.New("boom"), func(error) string { return "price_feed_invalid" })
	if got := testutil.ToFloat64(m.operations.WithLabelValues("register", "success")); got < 1 {
		t.Fatalf("expected success series, got %v", got)
	}
	if got := testutil.ToFloat64(m.operations.WithLabelValues("register", "price_feed_invalid")); got < 1 {
		t.Fatalf("expected classified error series, got %v", got)
	}
}

func TestRegistrarRecordFeeAndGauges(t *testing.T) {
	m := Registrar()
	before := testutil.ToFloat64(m.fees.WithLabelValues("renew"))
	m.RecordFee("renew", 250)
	m.RecordFee("renew", 0)
	if got := testutil.ToFloat64(m.fees.WithLabelValues("renew")) - before; got != 250 {
		t.Fatalf("expected 250 collected, got %v", got)
	}
	m.SetRegistry(7, true)
	if testutil.ToFloat64(m.domains) != 7 || testutil.ToFloat64(m.paused) != 1 {
		t.Fatalf("unexpected registry gauges")
	}
}

func TestOracleRecordFailureReasons(t *testing.T) {
	m := Oracle()
	m.RecordFailure("hermes", errors.New("quote is stale"))
	m.RecordFailure("hermes", nil)
	if got := testutil.ToFloat64(m.failures.WithLabelValues("hermes", "stale")); got < 1 {
		t.Fatalf("expected stale failure, got %v", got)
	}
	m.RecordQuoteAge("hermes", -time.Second)
	if got := testutil.ToFloat64(m.age.WithLabelValues("hermes")); got != 0 {
		t.Fatalf("negative ages should clamp to zero, got %v", got)
	}
}

func TestEventsRecordPublished(t *testing.T) {
	m := Events()
	m.RecordPublished("names.registered")
	if got := testutil.ToFloat64(m.published.WithLabelValues("names.registered")); got < 1 {
		t.Fatalf("expected published counter, got %v", got)
	}
}
