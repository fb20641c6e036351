package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig(retries int) Config {
	return Config{
		MaxRetries:     retries,
		InitialBackoff: 2 * time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
		Multiplier:     2.0,
		JitterFraction: 0.2,
	}
}

func TestDo_Success(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(3), nil, func(ctx context.Context) error {
		attempts++
		return nil
	})
	if err != nil {
		t.Errorf("Do() returned error = %v, want nil", err)
	}
	if attempts != 1 {
		t.Errorf("Do() made %d attempts, want 1", attempts)
	}
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	attempts := 0
	var retried []int
	cfg := fastConfig(3)
	cfg.OnRetry = func(attempt int, err error, wait time.Duration) { retried = append(retried, attempt) }

	err := Do(context.Background(), cfg, nil, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() returned error = %v, want nil", err)
	}
	if attempts != 3 {
		t.Errorf("Do() made %d attempts, want 3", attempts)
	}
	if len(retried) != 2 || retried[0] != 1 || retried[1] != 2 {
		t.Errorf("OnRetry attempts = %v, want [1 2]", retried)
	}
}

func TestDo_ExhaustsRetries(t *testing.T) {
	attempts := 0
	tempErr := errors.New("temporary")
	err := Do(context.Background(), fastConfig(2), nil, func(ctx context.Context) error {
		attempts++
		return tempErr
	})
	if !errors.Is(err, tempErr) {
		t.Errorf("Do() error = %v, want %v", err, tempErr)
	}
	if attempts != 3 {
		t.Errorf("Do() made %d attempts, want 3", attempts)
	}
}

func TestDo_Permanent(t *testing.T) {
	attempts := 0
	forbidden := errors.New("forbidden")
	err := Do(context.Background(), fastConfig(5), nil, func(ctx context.Context) error {
		attempts++
		return Permanent(forbidden)
	})
	if !errors.Is(err, forbidden) {
		t.Errorf("Do() error = %v, want wrapped %v", err, forbidden)
	}
	if attempts != 1 {
		t.Errorf("Do() made %d attempts, want 1", attempts)
	}
}

func TestDo_CustomClassifier(t *testing.T) {
	attempts := 0
	stop := errors.New("stop")
	classifier := func(err error) bool { return !errors.Is(err, stop) }
	err := Do(context.Background(), fastConfig(5), classifier, func(ctx context.Context) error {
		attempts++
		return stop
	})
	if !errors.Is(err, stop) || attempts != 1 {
		t.Errorf("Do() = %v after %d attempts, want stop after 1", err, attempts)
	}
}

func TestDo_ContextCanceledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := fastConfig(5)
	cfg.InitialBackoff = time.Second
	cfg.MaxBackoff = time.Second

	attempts := 0
	tempErr := errors.New("temporary")
	err := Do(ctx, cfg, nil, func(ctx context.Context) error {
		attempts++
		cancel()
		return tempErr
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do() error = %v, want context.Canceled", err)
	}
	if !errors.Is(err, tempErr) {
		t.Errorf("Do() error = %v, want last error kept", err)
	}
	if attempts != 1 {
		t.Errorf("Do() made %d attempts, want 1", attempts)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"plain", errors.New("x"), true},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, false},
		{"permanent", Permanent(errors.New("x")), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestJitterBounds(t *testing.T) {
	d := 100 * time.Millisecond
	for i := 0; i < 100; i++ {
		j := jitter(d, 0.2)
		if j < -20*time.Millisecond || j > 20*time.Millisecond {
			t.Fatalf("jitter = %v, outside +/-20ms", j)
		}
	}
	if jitter(d, 0) != 0 {
		t.Error("zero fraction should give zero jitter")
	}
}
