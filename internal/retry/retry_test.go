package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts:   attempts,
		InitialDelay:  time.Millisecond,
		BackoffFactor: 2,
		MaxDelay:      5 * time.Millisecond,
		JitterRatio:   0,
	}
}

func TestDo_SucceedsAfterFailures(t *testing.T) {
	boom := errors.New("boom")

	calls := 0
	err := Do(context.Background(), fastPolicy(5), nil, func(_ context.Context) error {
		calls++
		if calls <= 2 {
			return boom
		}

		return nil
	})
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}

	if calls != 3 {
		t.Errorf("operation ran %d times; want 3", calls)
	}
}

func TestDo_ExhaustionReturnsOriginalError(t *testing.T) {
	boom := errors.New("boom")

	calls := 0
	err := Do(context.Background(), fastPolicy(3), nil, func(_ context.Context) error {
		calls++
		return boom
	})

	if calls != 3 {
		t.Errorf("operation ran %d times; want 3", calls)
	}

	if !errors.Is(err, boom) {
		t.Errorf("Do returned %v; want the original error unchanged", err)
	}
}

func TestDo_NonRetryableStopsEarly(t *testing.T) {
	fatal := errors.New("fatal")

	calls := 0
	err := Do(context.Background(), fastPolicy(5), func(err error) bool {
		return !errors.Is(err, fatal)
	}, func(_ context.Context) error {
		calls++
		return fatal
	})

	if calls != 1 {
		t.Errorf("operation ran %d times; want 1", calls)
	}

	if !errors.Is(err, fatal) {
		t.Errorf("Do returned %v; want %v", err, fatal)
	}
}

func TestDo_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0

	err := Do(context.Background(), Policy{}, nil, func(_ context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}

	if calls != 1 {
		t.Errorf("operation ran %d times; want 1", calls)
	}
}

func TestDo_CanceledDuringWait(t *testing.T) {
	boom := errors.New("boom")

	policy := fastPolicy(3)
	policy.InitialDelay = time.Minute

	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	done := make(chan error, 1)

	go func() {
		done <- Do(ctx, policy, nil, func(_ context.Context) error {
			calls++
			return boom
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Do returned %v; want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Do did not return after cancellation")
	}

	if calls != 1 {
		t.Errorf("operation ran %d times; want 1", calls)
	}
}

func TestDoValue_ReturnsResult(t *testing.T) {
	boom := errors.New("boom")

	calls := 0
	got, err := DoValue(context.Background(), fastPolicy(3), nil, func(_ context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", boom
		}

		return "ok", nil
	})
	if err != nil {
		t.Fatalf("DoValue returned error: %v", err)
	}

	if got != "ok" {
		t.Errorf("DoValue = %q; want %q", got, "ok")
	}
}

func TestDoValue_ZeroValueOnFailure(t *testing.T) {
	boom := errors.New("boom")

	got, err := DoValue(context.Background(), fastPolicy(2), nil, func(_ context.Context) (int, error) {
		return 42, boom
	})

	if !errors.Is(err, boom) {
		t.Errorf("DoValue returned %v; want %v", err, boom)
	}

	if got != 0 {
		t.Errorf("DoValue = %d; want zero value on failure", got)
	}
}

func TestPolicy_DelayClampedToMax(t *testing.T) {
	policy := Policy{
		InitialDelay:  100 * time.Millisecond,
		BackoffFactor: 10,
		MaxDelay:      time.Second,
		JitterRatio:   0,
	}

	if got := policy.Delay(1); got != 100*time.Millisecond {
		t.Errorf("Delay(1) = %v; want 100ms", got)
	}

	if got := policy.Delay(5); got != time.Second {
		t.Errorf("Delay(5) = %v; want clamped to 1s", got)
	}
}

func TestPolicy_JitterStaysWithinRatio(t *testing.T) {
	policy := Policy{
		InitialDelay:  100 * time.Millisecond,
		BackoffFactor: 1,
		MaxDelay:      time.Second,
		JitterRatio:   0.2,
	}

	for range 100 {
		d := policy.Delay(1)
		if d < 80*time.Millisecond || d > 120*time.Millisecond {
			t.Fatalf("Delay(1) = %v; want within ±20%% of 100ms", d)
		}
	}
}
