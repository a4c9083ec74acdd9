package retry

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
)

var errFlaky = errors.New("flaky")

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	cfg := Config{Min: time.Millisecond, Max: 2 * time.Millisecond, MaxAttempts: 10}

	calls := 0
	err := Do(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errFlaky
		}
		return nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDoReturnsLastErrorOnAttemptExhaustion(t *testing.T) {
	cfg := Config{Min: time.Millisecond, Max: 2 * time.Millisecond, MaxAttempts: 4}

	calls := 0
	err := Do(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		return errFlaky
	})

	if !errors.Is(err, errFlaky) {
		t.Fatalf("expected errFlaky, got %v", err)
	}
	if calls != 4 {
		t.Errorf("expected 4 calls, got %d", calls)
	}
}

func TestDoStopsAtElapsedCap(t *testing.T) {
	cfg := Config{Min: 50 * time.Millisecond, Max: 50 * time.Millisecond, MaxElapsed: 75 * time.Millisecond}

	calls := 0
	err := Do(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		return errFlaky
	})

	if !errors.Is(err, errFlaky) {
		t.Fatalf("expected errFlaky, got %v", err)
	}
	if calls > 3 {
		t.Errorf("expected the elapsed cap to stop retries, got %d calls", calls)
	}
}

func TestDoRespectsCancellation(t *testing.T) {
	cfg := Config{Min: time.Hour, Max: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := Do(ctx, cfg, func(ctx context.Context) error {
		return errFlaky
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
