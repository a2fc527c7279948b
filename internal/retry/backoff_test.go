package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestExponential_Defaults(t *testing.T) {
	t.Parallel()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{6, 3200 * time.Millisecond},
		{7, 5 * time.Second},
		{12, 5 * time.Second},
	}
	for _, tt := range tests {
		if got := Exponential(tt.attempt, nil); got != tt.want {
			t.Errorf("Exponential(%d, nil) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponential_CustomConfig(t *testing.T) {
	t.Parallel()
	cfg := &Config{Initial: 50 * time.Millisecond, Max: 150 * time.Millisecond}
	if got := Exponential(2, cfg); got != 100*time.Millisecond {
		t.Fatalf("attempt 2 = %v", got)
	}
	if got := Exponential(3, cfg); got != 150*time.Millisecond {
		t.Fatalf("attempt 3 = %v, want cap", got)
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	t.Parallel()
	calls := 0
	var waits []time.Duration
	err := Do(context.Background(), Policy{
		Retries: 3,
		Backoff: Config{Initial: time.Millisecond, Max: 2 * time.Millisecond},
		OnRetry: func(_ int, wait time.Duration, _ error) { waits = append(waits, wait) },
	}, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 3 || len(waits) != 2 {
		t.Fatalf("calls=%d waits=%v", calls, waits)
	}
}

func TestDoStopsAfterRetries(t *testing.T) {
	t.Parallel()
	calls := 0
	boom := errors.New("down")
	err := Do(context.Background(), Policy{Retries: 2, Backoff: Config{Initial: time.Millisecond}}, func(context.Context) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) || calls != 3 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestDoSkipsNonRetryable(t *testing.T) {
	t.Parallel()
	calls := 0
	fatal := errors.New("fatal")
	err := Do(context.Background(), Policy{
		Retries:   5,
		Retryable: func(err error) bool { return !errors.Is(err, fatal) },
	}, func(context.Context) error {
		calls++
		return fatal
	})
	if !errors.Is(err, fatal) || calls != 1 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestDoHonorsCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	err := Do(ctx, Policy{Retries: 5, Backoff: Config{Initial: time.Hour}}, func(context.Context) error {
		cancel()
		return errors.New("fail")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
