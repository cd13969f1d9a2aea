package chronotype

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

var samplePattern = [24]float64{
	0.3, 0.2, 0.1, 0.1, 0.2, 0.4, 0.7, 0.9, 0.8, 0.9, 0.8, 0.7,
	0.6, 0.7, 0.8, 0.7, 0.6, 0.5, 0.4, 0.3, 0.2, 0.2, 0.3, 0.3,
}

func TestChronotypeString(t *testing.T) {
	tests := []struct {
		ct   Chronotype
		want string
	}{
		{Early, "early"},
		{Intermediate, "intermediate"},
		{Late, "late"},
	}
	for _, tt := range tests {
		if got := tt.ct.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.ct, got, tt.want)
		}
	}
}

func TestParseRoundTrip(t *testing.T) {
	for _, ct := range []Chronotype{Early, Intermediate, Late} {
		got, err := Parse(ct.String())
		if err != nil {
			t.Fatalf("Parse(%q): %v", ct.String(), err)
		}
		if got != ct {
			t.Errorf("Parse(%q) = %v, want %v", ct.String(), got, ct)
		}
	}
	if _, err := Parse("nocturnal"); err == nil {
		t.Error("Parse accepted unknown chronotype")
	}
}

func TestHTTPPredictor_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/predict_chronotype" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		var req struct {
			ActivityPattern []float64 `json:"activity_pattern"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.ActivityPattern) != 24 {
			t.Errorf("pattern length = %d, want 24", len(req.ActivityPattern))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"chronotype": 0,
			"confidence": 0.87,
			"success":    true,
		})
	}))
	defer srv.Close()

	p := NewHTTPPredictor(srv.URL, time.Second)
	pred, err := p.Predict(context.Background(), samplePattern)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if pred.Chronotype != Early {
		t.Errorf("chronotype = %v, want Early", pred.Chronotype)
	}
	if pred.ConfidenceBps != 870 {
		t.Errorf("confidence = %d, want 870", pred.ConfidenceBps)
	}
}

func TestHTTPPredictor_ServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"chronotype": 1,
			"success":    false,
			"error":      "models not loaded",
		})
	}))
	defer srv.Close()

	p := NewHTTPPredictor(srv.URL, time.Second)
	if _, err := p.Predict(context.Background(), samplePattern); !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("Predict error = %v, want ErrServiceUnavailable", err)
	}
}

func TestHTTPPredictor_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewHTTPPredictor(srv.URL, time.Second)
	if _, err := p.Predict(context.Background(), samplePattern); !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("Predict error = %v, want ErrServiceUnavailable", err)
	}
}

func TestHTTPPredictor_ClampsOutOfRangeResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"chronotype": 9,
			"confidence": 1.7,
			"success":    true,
		})
	}))
	defer srv.Close()

	p := NewHTTPPredictor(srv.URL, time.Second)
	pred, err := p.Predict(context.Background(), samplePattern)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if pred.Chronotype != Intermediate {
		t.Errorf("invalid class mapped to %v, want Intermediate", pred.Chronotype)
	}
	if pred.ConfidenceBps != 1000 {
		t.Errorf("confidence = %d, want clamped 1000", pred.ConfidenceBps)
	}
}

type flakyPredictor struct {
	failures int32
	result   Prediction
}

func (f *flakyPredictor) Predict(ctx context.Context, _ [24]float64) (Prediction, error) {
	if atomic.AddInt32(&f.failures, -1) >= 0 {
		return Prediction{}, ErrServiceUnavailable
	}
	return f.result, nil
}

func TestResilientPredictor_RetriesThenSucceeds(t *testing.T) {
	inner := &flakyPredictor{failures: 2, result: Prediction{Chronotype: Late, ConfidenceBps: 640}}
	p := NewResilientPredictor(inner, nil).WithPolicy(3, time.Millisecond, time.Second)

	pred, err := p.Predict(context.Background(), samplePattern)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if pred.Chronotype != Late || pred.ConfidenceBps != 640 {
		t.Errorf("prediction = %+v", pred)
	}
}

func TestResilientPredictor_Exhaustion(t *testing.T) {
	inner := &flakyPredictor{failures: 100}
	p := NewResilientPredictor(inner, nil).WithPolicy(2, time.Millisecond, time.Second)

	if _, err := p.Predict(context.Background(), samplePattern); !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("Predict error = %v, want ErrServiceUnavailable", err)
	}
}

func TestResilientPredictor_CircuitOpensAfterRepeatedFailures(t *testing.T) {
	inner := &flakyPredictor{failures: 10_000}
	p := NewResilientPredictor(inner, nil).WithPolicy(1, time.Millisecond, time.Second)

	for i := 0; i < DefaultBreakerThreshold; i++ {
		if _, err := p.Predict(context.Background(), samplePattern); err == nil {
			t.Fatalf("Predict %d should have failed", i)
		}
	}

	before := atomic.LoadInt32(&inner.failures)
	if _, err := p.Predict(context.Background(), samplePattern); !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("Predict error = %v, want ErrServiceUnavailable", err)
	}
	if after := atomic.LoadInt32(&inner.failures); after != before {
		t.Error("open circuit should not reach the classifier")
	}
}
