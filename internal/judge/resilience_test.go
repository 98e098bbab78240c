package judge

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// fakeJudge fails a fixed number of times before succeeding.
type fakeJudge struct {
	calls     atomic.Int32
	failFirst int32
	response  string
}

func (f *fakeJudge) Complete(ctx context.Context, prompt string) (string, error) {
	if f.calls.Add(1) <= f.failFirst {
		return "", errors.New("transient API error")
	}
	return f.response, nil
}

func (f *fakeJudge) CompleteJSON(ctx context.Context, prompt string) (string, error) {
	return f.Complete(ctx, prompt)
}

func (f *fakeJudge) Close() error { return nil }

func fastRetry() RetryConfig {
	return RetryConfig{
		InitialInterval:     time.Millisecond,
		MaxInterval:         5 * time.Millisecond,
		MaxElapsedTime:      time.Second,
		Multiplier:          2.0,
		RandomizationFactor: 0,
	}
}

func TestResilientRetriesTransientFailures(t *testing.T) {
	inner := &fakeJudge{failFirst: 2, response: "ok"}
	r := NewResilient(inner, fastRetry())

	out, err := r.Complete(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != "ok" {
		t.Errorf("output = %q, want ok", out)
	}
	if got := inner.calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3 (two failures, one success)", got)
	}
}

func TestResilientStopsOnCancelledContext(t *testing.T) {
	inner := &fakeJudge{failFirst: 100}
	r := NewResilient(inner, fastRetry())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := r.Complete(ctx, "prompt"); err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if got := inner.calls.Load(); got != 0 {
		t.Errorf("calls = %d, want 0 after pre-cancelled context", got)
	}
}

func TestResilientCircuitOpensAfterConsecutiveFailures(t *testing.T) {
	inner := &fakeJudge{failFirst: 1000}
	cfg := fastRetry()
	cfg.MaxElapsedTime = 50 * time.Millisecond
	r := NewResilient(inner, cfg)

	// Burn through enough failing calls to trip the breaker.
	for i := 0; i < 3; i++ {
		if _, err := r.Complete(context.Background(), "prompt"); err == nil {
			t.Fatal("expected failure")
		}
	}

	callsBefore := inner.calls.Load()
	if callsBefore < 5 {
		t.Fatalf("calls = %d, want at least 5 to trip the breaker", callsBefore)
	}

	// With the circuit open the inner judge is no longer invoked.
	if _, err := r.Complete(context.Background(), "prompt"); err == nil {
		t.Fatal("expected open-circuit error")
	}
	if got := inner.calls.Load(); got != callsBefore {
		t.Errorf("calls grew from %d to %d while the circuit was open", callsBefore, got)
	}
}

func TestCleanJSONBlock(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{`{"a":1}`, `{"a":1}`},
		{"  {\"a\":1}  ", `{"a":1}`},
	}
	for _, tt := range tests {
		if got := CleanJSONBlock(tt.in); got != tt.want {
			t.Errorf("CleanJSONBlock(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
