package ml

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/calmify/wellness-backend/server/cache"
	"go.uber.org/zap"
)

func testConfig() ClientConfig {
	cfg := DefaultClientConfig()
	cfg.RetryDelay = time.Millisecond
	cfg.HealthCheckInterval = 0
	cfg.Timeout = 2 * time.Second
	return cfg
}

func stressServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/predict", handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestPredictStress(t *testing.T) {
	var got StressFeatures
	srv := stressServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		w.Write([]byte(`{"stress_level": 3, "confidence": 0.81}`))
	})

	client := NewClient(srv.URL, testConfig(), nil, zap.NewNop())
	defer client.Close()

	features := StressFeatures{HeartRate: 95, SleepHours: 4.5, SnoringRate: 60}
	pred, err := client.PredictStress(context.Background(), features)
	if err != nil {
		t.Fatalf("PredictStress() error = %v", err)
	}
	if pred.StressLevel != 3 || pred.Label != "High" || pred.Confidence != 0.81 {
		t.Errorf("PredictStress() = %+v", pred)
	}
	if got != features {
		t.Errorf("server received %+v, want %+v", got, features)
	}
}

func TestPredictStress_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := stressServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"stress_level": 0, "confidence": 0.9}`))
	})

	client := NewClient(srv.URL, testConfig(), nil, zap.NewNop())
	defer client.Close()

	pred, err := client.PredictStress(context.Background(), StressFeatures{HeartRate: 60, SleepHours: 8})
	if err != nil {
		t.Fatalf("PredictStress() error = %v", err)
	}
	if pred.Label != "Low" || calls.Load() != 3 {
		t.Errorf("pred = %+v after %d calls", pred, calls.Load())
	}
}

func TestPredictStress_GivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := stressServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	})

	cfg := testConfig()
	cfg.MaxRetries = 2
	client := NewClient(srv.URL, cfg, nil, zap.NewNop())
	defer client.Close()

	if _, err := client.PredictStress(context.Background(), StressFeatures{HeartRate: 70, SleepHours: 7}); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestPredictStress_OutOfRangeLevel(t *testing.T) {
	var calls atomic.Int32
	srv := stressServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"stress_level": 7, "confidence": 0.5}`))
	})

	client := NewClient(srv.URL, testConfig(), nil, zap.NewNop())
	defer client.Close()

	_, err := client.PredictStress(context.Background(), StressFeatures{HeartRate: 70, SleepHours: 7})
	if !errors.Is(err, ErrBadResponse) {
		t.Fatalf("error = %v, want ErrBadResponse", err)
	}
	if calls.Load() != 1 {
		t.Errorf("bad responses should not be retried, calls = %d", calls.Load())
	}
}

func TestPredictStress_Validation(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", testConfig(), nil, zap.NewNop())
	defer client.Close()

	tests := []StressFeatures{
		{HeartRate: 10, SleepHours: 7},
		{HeartRate: 70, SleepHours: 25},
		{HeartRate: 70, SleepHours: 7, SnoringRate: -1},
	}
	for _, f := range tests {
		if _, err := client.PredictStress(context.Background(), f); !errors.Is(err, ErrInvalidFeatures) {
			t.Errorf("PredictStress(%+v) error = %v, want ErrInvalidFeatures", f, err)
		}
	}
}

func TestPredictStress_Cached(t *testing.T) {
	var calls atomic.Int32
	srv := stressServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"stress_level": 2, "confidence": 0.6}`))
	})

	mem := cache.NewMemoryCache(10, time.Minute, zap.NewNop())
	defer mem.Close()

	client := NewClient(srv.URL, testConfig(), mem, zap.NewNop())
	defer client.Close()

	features := StressFeatures{HeartRate: 80, SleepHours: 6, SnoringRate: 20}
	first, err := client.PredictStress(context.Background(), features)
	if err != nil {
		t.Fatal(err)
	}
	second, err := client.PredictStress(context.Background(), features)
	if err != nil {
		t.Fatal(err)
	}

	if calls.Load() != 1 {
		t.Errorf("model called %d times, want 1", calls.Load())
	}
	if first.Cached || !second.Cached || second.Label != "Elevated" {
		t.Errorf("first = %+v, second = %+v", first, second)
	}
}

func TestHealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, testConfig(), nil, zap.NewNop())
	defer client.Close()

	if err := client.HealthCheck(context.Background()); err == nil {
		t.Error("expected unhealthy service error")
	}
}
