// Copyright 2022-, Semiotic AI, Inc.
// SPDX-License-Identifier: Apache-2.0

package pricer

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	// Registers the opencensus measurement recorder; stats.Record panics on a
	// nil recorder otherwise. The production binary imports this via cmd/autoagora.
	_ "go.opencensus.io/stats/view"

	"github.com/semiotic-ai/autoagora/internal/savestate"
)

// seededDB is a save-state Querier presenting one fresh saved state with a
// tight policy spread, so sampled multipliers stay well within range.
// Writes succeed silently.
type seededDB struct{}

func (seededDB) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (seededDB) QueryRow(context.Context, string, ...any) pgx.Row {
	return seededRow{}
}

type seededRow struct{}

func (seededRow) Scan(dest ...any) error {
	*dest[0].(*time.Time) = time.Now()
	*dest[1].(*float64) = 1e-6
	*dest[2].(*float64) = 1e-7
	return nil
}

func TestLoopCycles(t *testing.T) {
	env := &FakeEnv{QPS: 100}
	loop := &Loop{
		Env:                 env,
		Store:               savestate.NewStore(seededDB{}),
		ObservationDuration: time.Millisecond,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx, testID) }()

	deadline := time.After(5 * time.Second)
	for env.MultiplierCount() < 30 {
		select {
		case err := <-done:
			t.Fatalf("loop exited early: %v", err)
		case <-deadline:
			t.Fatalf("only %d multipliers applied", env.MultiplierCount())
		case <-time.After(time.Millisecond):
		}
	}
	cancel()

	if err := <-done; err != context.Canceled {
		t.Fatalf("unexpected exit error: %v", err)
	}

	for _, m := range env.Multipliers {
		if m <= 0 {
			t.Fatalf("non-positive multiplier %v", m)
		}
	}
}

func TestLoopContinuesThroughRecoverableFailures(t *testing.T) {
	env := &FakeEnv{SetErr: context.DeadlineExceeded}
	loop := &Loop{
		Env:                 env,
		Store:               savestate.NewStore(seededDB{}),
		ObservationDuration: time.Millisecond,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	// Every cycle fails to apply the multiplier; the loop must keep going
	// (recording zero rewards) until the context expires.
	if err := loop.Run(ctx, testID); err != context.DeadlineExceeded {
		t.Fatalf("unexpected exit error: %v", err)
	}
}
