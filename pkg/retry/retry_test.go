package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	minerErrors "github.com/bardlex/gominer/pkg/errors"
)

func fastConfig(attempts int) *Config {
	return &Config{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    10 * time.Millisecond,
		Multiplier:  2.0,
	}
}

func TestPresets(t *testing.T) {
	tests := []struct {
		name        string
		config      *Config
		maxAttempts int
		baseDelay   time.Duration
		maxDelay    time.Duration
	}{
		{"default", DefaultConfig(), 3, 100 * time.Millisecond, 5 * time.Second},
		{"network", NetworkConfig(), 5, 50 * time.Millisecond, 2 * time.Second},
		{"database", DatabaseConfig(), 3, 200 * time.Millisecond, 3 * time.Second},
		{"submit", SubmitConfig(), 2, 50 * time.Millisecond, 200 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.config.MaxAttempts != tt.maxAttempts {
				t.Errorf("MaxAttempts = %d, want %d", tt.config.MaxAttempts, tt.maxAttempts)
			}
			if tt.config.BaseDelay != tt.baseDelay {
				t.Errorf("BaseDelay = %v, want %v", tt.config.BaseDelay, tt.baseDelay)
			}
			if tt.config.MaxDelay != tt.maxDelay {
				t.Errorf("MaxDelay = %v, want %v", tt.config.MaxDelay, tt.maxDelay)
			}
		})
	}
}

func TestDo_RetryThenSuccess(t *testing.T) {
	config := fastConfig(3)
	var retried []int
	config.OnRetry = func(attempt int, _ error) { retried = append(retried, attempt) }

	callCount := 0
	err := Do(context.Background(), config, func() error {
		callCount++
		if callCount == 1 {
			return minerErrors.New(minerErrors.ErrorTypeNetwork, "test", "retryable error")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Expected success, got error: %v", err)
	}
	if callCount != 2 {
		t.Errorf("Expected 2 calls, got %d", callCount)
	}
	if len(retried) != 1 || retried[0] != 1 {
		t.Errorf("OnRetry calls = %v, want [1]", retried)
	}
}

func TestDo_MaxAttemptsReached(t *testing.T) {
	callCount := 0
	err := Do(context.Background(), fastConfig(2), func() error {
		callCount++
		return minerErrors.New(minerErrors.ErrorTypeNetwork, "test", "persistent error")
	})
	if err == nil {
		t.Fatal("Expected error after max attempts")
	}
	if callCount != 2 {
		t.Errorf("Expected 2 calls, got %d", callCount)
	}
	if !minerErrors.IsType(err, minerErrors.ErrorTypeInternal) {
		t.Error("Expected wrapped error to be internal type")
	}
	if !minerErrors.IsType(err, minerErrors.ErrorTypeNetwork) {
		t.Error("Expected cause to stay reachable")
	}
}

func TestDo_NonRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"validation", minerErrors.New(minerErrors.ErrorTypeValidation, "test", "bad block")},
		{"regular", errors.New("regular error")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			callCount := 0
			err := Do(context.Background(), DefaultConfig(), func() error {
				callCount++
				return tt.err
			})
			if err != tt.err {
				t.Errorf("Expected original error, got %v", err)
			}
			if callCount != 1 {
				t.Errorf("Expected 1 call, got %d", callCount)
			}
		})
	}
}

func TestDo_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	config := &Config{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		MaxDelay:    time.Second,
		Multiplier:  2.0,
	}

	err := Do(ctx, config, func() error {
		cancel()
		return minerErrors.New(minerErrors.ErrorTypeNetwork, "test", "network error")
	})
	if err != context.Canceled {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestDoWithResult(t *testing.T) {
	callCount := 0
	result, err := DoWithResult(context.Background(), nil, func() (string, error) {
		callCount++
		if callCount == 1 {
			return "", minerErrors.New(minerErrors.ErrorTypeTimeout, "test", "slow")
		}
		return "template", nil
	})
	if err != nil {
		t.Fatalf("Expected success, got error: %v", err)
	}
	if result != "template" {
		t.Errorf("Expected result 'template', got %q", result)
	}

	n, err := DoWithResult(context.Background(), fastConfig(2), func() (int, error) {
		return 7, minerErrors.New(minerErrors.ErrorTypeNetwork, "test", "down")
	})
	if err == nil || n != 0 {
		t.Errorf("Expected zero value and error, got %d, %v", n, err)
	}
}

func TestBackOffSchedule(t *testing.T) {
	config := &Config{
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   time.Second,
		Multiplier: 2.0,
	}

	b := config.backOff()
	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}
	for i, w := range want {
		if got := b.NextBackOff(); got != w {
			t.Errorf("delay %d = %v, want %v", i, got, w)
		}
	}

	config.Jitter = true
	if d := config.backOff().NextBackOff(); d < 90*time.Millisecond || d > 110*time.Millisecond {
		t.Errorf("delay with jitter out of range: %v", d)
	}
}
