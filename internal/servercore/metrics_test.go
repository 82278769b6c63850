package servercore

import "testing"

func TestStatusLabel(t *testing.T) {
	cases := map[int]string{
		200: "2xx",
		301: "3xx",
		404: "4xx",
		500: "5xx",
		0:   "0xx",
	}
	for status, want := range cases {
		if got := statusLabel(status); got != want {
			t.Errorf("statusLabel(%d) = %q, want %q", status, got, want)
		}
	}
}

func TestMetricsObserveRequest(t *testing.T) {
	// NewMetrics registers against the default Prometheus registry, so
	// only one test in this package may construct one — a second
	// registration of the same collector names panics.
	m := NewMetrics()
	m.ObserveRequest("PLAY", 200, 0)
	m.SetRTPSessions(3)
	m.SetBandwidth(4096)
}
