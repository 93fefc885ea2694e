package retry

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"douget/pkg/douyin"
)

func fastConfig(maxAttempts int) *Config {
	return &Config{
		MaxAttempts: maxAttempts,
		Backoff:     &ConstantBackoff{Delay: time.Millisecond},
		RetryIf:     DefaultRetryIf,
		Context:     context.Background(),
	}
}

func TestDoSucceedsAfterRetries(t *testing.T) {
	attempts := 0
	err := Do(func() error {
		attempts++
		if attempts < 3 {
			return &douyin.Error{Type: douyin.ErrorTypeNetwork, Message: "flaky"}
		}
		return nil
	}, fastConfig(5))

	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	attempts := 0
	authErr := &douyin.Error{Type: douyin.ErrorTypeAuth, Message: "bad cookie"}
	err := Do(func() error {
		attempts++
		return authErr
	}, fastConfig(5))

	if !errors.Is(err, authErr) {
		t.Fatalf("err = %v, want the auth error", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 for non-retryable error", attempts)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	attempts := 0
	err := Do(func() error {
		attempts++
		return &douyin.Error{Type: douyin.ErrorTypeServerError, Message: "boom"}
	}, fastConfig(3))

	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if !strings.Contains(err.Error(), "max retry attempts") {
		t.Errorf("err = %v, want max attempts message", err)
	}
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := fastConfig(0)
	cfg.Context = ctx
	cfg.Backoff = &ConstantBackoff{Delay: time.Second}

	err := Do(func() error {
		return &douyin.Error{Type: douyin.ErrorTypeNetwork, Message: "flaky"}
	}, cfg)

	if err == nil || !strings.Contains(err.Error(), "retry cancelled") {
		t.Errorf("err = %v, want retry cancelled", err)
	}
}

func TestDoWithResult(t *testing.T) {
	attempts := 0
	got, err := DoWithResult(func() (string, error) {
		attempts++
		if attempts < 2 {
			return "", &douyin.Error{Type: douyin.ErrorTypeRateLimit, Message: "slow down"}
		}
		return "payload", nil
	}, fastConfig(3))

	if err != nil {
		t.Fatalf("DoWithResult: %v", err)
	}
	if got != "payload" {
		t.Errorf("result = %q", got)
	}
}

func TestDefaultRetryIf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"network", &douyin.Error{Type: douyin.ErrorTypeNetwork}, true},
		{"rate limit", &douyin.Error{Type: douyin.ErrorTypeRateLimit}, true},
		{"server error", &douyin.Error{Type: douyin.ErrorTypeServerError}, true},
		{"auth", &douyin.Error{Type: douyin.ErrorTypeAuth}, false},
		{"not found", &douyin.Error{Type: douyin.ErrorTypeNotFound}, false},
		{"parsing", &douyin.Error{Type: douyin.ErrorTypeParsing}, false},
		{"context cancelled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, false},
		{"unknown error", errors.New("who knows"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DefaultRetryIf(tt.err); got != tt.want {
				t.Errorf("DefaultRetryIf(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestExponentialBackoffGrowsAndCaps(t *testing.T) {
	eb := &ExponentialBackoff{
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   400 * time.Millisecond,
		Multiplier: 2.0,
	}

	if d := eb.NextDelay(1); d != 100*time.Millisecond {
		t.Errorf("attempt 1 delay = %v", d)
	}
	if d := eb.NextDelay(2); d != 200*time.Millisecond {
		t.Errorf("attempt 2 delay = %v", d)
	}
	if d := eb.NextDelay(10); d != 400*time.Millisecond {
		t.Errorf("attempt 10 delay = %v, want cap", d)
	}
	if d := eb.NextDelay(0); d != 0 {
		t.Errorf("attempt 0 delay = %v, want 0", d)
	}
}

func TestExponentialBackoffJitterStaysInBounds(t *testing.T) {
	eb := &ExponentialBackoff{
		BaseDelay:    100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.5,
	}

	for i := 0; i < 100; i++ {
		d := eb.NextDelay(1)
		if d < 50*time.Millisecond || d > 150*time.Millisecond {
			t.Fatalf("jittered delay %v outside [50ms, 150ms]", d)
		}
	}
}
