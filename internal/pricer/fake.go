// Copyright 2022-, Semiotic AI, Inc.
// SPDX-License-Identifier: Apache-2.0

package pricer

import (
	"context"
	"sync"
	"time"

	"github.com/semiotic-ai/autoagora/internal/subgraph"
)

// FakeEnv is an in-memory PricingEnv for tests. It serves a fixed query
// rate and records every applied multiplier.
type FakeEnv struct {
	mu sync.Mutex

	// QPS is returned by every QueriesPerSecond call.
	QPS float64
	// SetErr and ObserveErr, when set, fail the respective calls.
	SetErr     error
	ObserveErr error

	Multipliers []float64
}

var _ PricingEnv = (*FakeEnv)(nil)

func (f *FakeEnv) SetCostMultiplier(_ context.Context, multiplier float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetErr != nil {
		return f.SetErr
	}
	f.Multipliers = append(f.Multipliers, multiplier)
	return nil
}

func (f *FakeEnv) QueriesPerSecond(_ context.Context, _ time.Duration) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ObserveErr != nil {
		return 0, f.ObserveErr
	}
	return f.QPS, nil
}

// MultiplierCount returns the number of applied multipliers.
func (f *FakeEnv) MultiplierCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Multipliers)
}

// FakeCounter is a Counter stepping through canned samples, repeating the
// last one once exhausted.
type FakeCounter struct {
	mu      sync.Mutex
	Samples []int64
	Err     error
	idx     int
}

var _ Counter = (*FakeCounter)(nil)

func (f *FakeCounter) SubgraphQueryCount(context.Context, subgraph.ID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return 0, f.Err
	}
	if len(f.Samples) == 0 {
		return 0, nil
	}
	sample := f.Samples[f.idx]
	if f.idx < len(f.Samples)-1 {
		f.idx++
	}
	return sample, nil
}
