package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordSessionLifecycle(t *testing.T) {
	before := testutil.ToFloat64(sessionsActive)
	RecordSessionOpened()
	if got := testutil.ToFloat64(sessionsActive); got != before+1 {
		t.Fatalf("active sessions = %v, want %v", got, before+1)
	}
	RecordSessionClosed("peer_closed")
	if got := testutil.ToFloat64(sessionsActive); got != before {
		t.Fatalf("active sessions = %v, want %v", got, before)
	}
	if got := testutil.ToFloat64(sessionExits.WithLabelValues("peer_closed")); got < 1 {
		t.Fatalf("exit counter = %v, want >= 1", got)
	}
}

func TestRecordClassification(t *testing.T) {
	identified := testutil.ToFloat64(classifications.WithLabelValues("identified"))
	unidentified := testutil.ToFloat64(classifications.WithLabelValues("unidentified"))

	RecordClassification(true)
	RecordClassification(false)
	RecordClassification(false)

	if got := testutil.ToFloat64(classifications.WithLabelValues("identified")); got != identified+1 {
		t.Fatalf("identified = %v, want %v", got, identified+1)
	}
	if got := testutil.ToFloat64(classifications.WithLabelValues("unidentified")); got != unidentified+2 {
		t.Fatalf("unidentified = %v, want %v", got, unidentified+2)
	}
}

func TestRegisterMetricsIsIdempotent(t *testing.T) {
	RegisterMetrics()
	RegisterMetrics()
}
