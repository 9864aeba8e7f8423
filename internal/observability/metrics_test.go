package observability

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRequestMetrics_Lifecycle(t *testing.T) {
	active := testutil.ToFloat64(activeRequests)
	played := testutil.ToFloat64(fragmentsTotal.WithLabelValues("played"))
	success := testutil.ToFloat64(ttsRequests.WithLabelValues("success"))

	m := NewRequestMetrics()
	if got := testutil.ToFloat64(activeRequests); got != active+1 {
		t.Errorf("Expected %v active requests, got %v", active+1, got)
	}

	m.RecordFragmentPlayed(480)
	m.RecordFragmentPlayed(480)
	m.RecordQueueDepth(3)
	m.RecordEnd(true)

	if got := testutil.ToFloat64(activeRequests); got != active {
		t.Errorf("Expected %v active requests after end, got %v", active, got)
	}
	if got := testutil.ToFloat64(fragmentsTotal.WithLabelValues("played")); got != played+2 {
		t.Errorf("Expected %v played fragments, got %v", played+2, got)
	}
	if got := testutil.ToFloat64(queueDepth); got != 0 {
		t.Errorf("Expected queue depth reset to 0, got %v", got)
	}
	if got := testutil.ToFloat64(ttsRequests.WithLabelValues("success")); got != success+1 {
		t.Errorf("Expected %v successful requests, got %v", success+1, got)
	}
}

func TestLatencyHelp_DescribesSpeakStart(t *testing.T) {
	for _, c := range []prometheus.Collector{ttsDuration, firstAudioLatency} {
		ch := make(chan *prometheus.Desc, 1)
		c.Describe(ch)
		desc := (<-ch).String()
		if strings.Contains(desc, "from connect") {
			t.Errorf("Expected help measured from Speak, got %s", desc)
		}
		if !strings.Contains(desc, "start of Speak") {
			t.Errorf("Expected help to name the start of Speak, got %s", desc)
		}
	}
}
