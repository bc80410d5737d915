package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	dto "github.com/prometheus/client_model/go"
)

type fakeObserver struct{ got []float64 }

func (f *fakeObserver) Observe(v float64) { f.got = append(f.got, v) }

// TestTimerObservesOnce verifies the returned func records a single sample
func TestTimerObservesOnce(t *testing.T) {
	var o fakeObserver
	done := Timer(&o)
	done()

	if len(o.got) != 1 {
		t.Fatalf("expected 1 observation, got %d", len(o.got))
	}
	if o.got[0] < 0 {
		t.Errorf("expected non-negative duration, got %v", o.got[0])
	}
}

// TestCounterIncrements verifies the labelled counters are live collectors
func TestCounterIncrements(t *testing.T) {
	c := Toggles.WithLabelValues("expand", OutcomeOK)
	before := counterValue(t, c)
	c.Inc()
	if after := counterValue(t, c); after != before+1 {
		t.Errorf("expected %v, got %v", before+1, after)
	}
}

// TestHandlerExposesCollectors verifies /metrics lists treegrid series
func TestHandlerExposesCollectors(t *testing.T) {
	RowsSent.Add(3)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{"treegrid_rows_sent_total", "treegrid_sessions_active"} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in /metrics output", want)
		}
	}
}

func counterValue(t *testing.T, c interface{ Write(*dto.Metric) error }) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return m.GetCounter().GetValue()
}
