// Copyright 2022-, Semiotic AI, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package retry wraps transient network and database calls in exponential
// backoff with attempt and elapsed-time caps.
package retry

import (
	"context"
	"time"

	"github.com/jpillora/backoff"
	"go.uber.org/zap"

	"github.com/semiotic-ai/autoagora/internal/log"
)

// Config bounds a retried operation. Zero MaxAttempts or MaxElapsed means
// unlimited on that axis.
type Config struct {
	// Min is the initial backoff delay.
	Min time.Duration
	// Max caps the delay of a single backoff step.
	Max time.Duration
	// MaxAttempts caps the total number of attempts.
	MaxAttempts int
	// MaxElapsed caps the total time spent, attempts included.
	MaxElapsed time.Duration
}

// Transient is the envelope used for indexer-agent, graph-node and scrape
// calls: backoff steps capped at 30 seconds, give up after 30 seconds total.
var Transient = Config{
	Min:        250 * time.Millisecond,
	Max:        30 * time.Second,
	MaxElapsed: 30 * time.Second,
}

// Observation is the envelope used for query counter sampling: up to 10
// attempts within at most 10 minutes.
var Observation = Config{
	Min:         250 * time.Millisecond,
	Max:         30 * time.Second,
	MaxAttempts: 10,
	MaxElapsed:  10 * time.Minute,
}

// Do runs op until it succeeds, the config's caps are exhausted, or ctx is
// cancelled. It returns the last error seen on exhaustion.
func Do(ctx context.Context, cfg Config, op func(ctx context.Context) error) error {
	b := &backoff.Backoff{
		Min:    cfg.Min,
		Max:    cfg.Max,
		Factor: 2,
		Jitter: true,
	}

	start := time.Now()
	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}

		if cfg.MaxAttempts > 0 && attempt >= cfg.MaxAttempts {
			return lastErr
		}

		delay := b.Duration()
		if cfg.MaxElapsed > 0 && time.Since(start)+delay >= cfg.MaxElapsed {
			return lastErr
		}

		log.Log.Debugw(
			"retrying after transient error",
			zap.Error(lastErr),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
		)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
