package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorsRegistered(t *testing.T) {
	UploadsTotal.WithLabelValues(OutcomeSuccess).Inc()
	if got := testutil.ToFloat64(UploadsTotal.WithLabelValues(OutcomeSuccess)); got < 1 {
		t.Fatalf("uploads_total{outcome=success} = %v, want >= 1", got)
	}

	ReconciledMembers.WithLabelValues("new").Add(2)
	if got := testutil.ToFloat64(ReconciledMembers.WithLabelValues("new")); got < 2 {
		t.Fatalf("reconciled_members_total{kind=new} = %v, want >= 2", got)
	}

	CacheLookups.WithLabelValues("hit").Inc()
	if n := testutil.CollectAndCount(CacheLookups); n < 1 {
		t.Fatalf("unexpected collector count %d", n)
	}
}
