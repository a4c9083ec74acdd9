// Copyright 2023-, Semiotic AI, Inc.
// SPDX-License-Identifier: Apache-2.0

package mrq

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/semiotic-ai/autoagora/internal/agent"
	"github.com/semiotic-ai/autoagora/internal/graphnode"
	"github.com/semiotic-ai/autoagora/internal/log"
	"github.com/semiotic-ai/autoagora/internal/logsdb"
	"github.com/semiotic-ai/autoagora/internal/modelbuilder"
	"github.com/semiotic-ai/autoagora/internal/subgraph"
)

// DefaultIterations is how many times each candidate query is replayed per
// cycle. The resulting sample feeds the same stats aggregation as the
// organic logs.
const DefaultIterations = 100

// DefaultRefreshInterval between measurement cycles, before jitter.
const DefaultRefreshInterval = 3600 * time.Second

// Loop measures multi-root queries for one subgraph and keeps its MRQ cost
// model fresh.
type Loop struct {
	Client  agent.Client
	Graph   graphnode.Client
	DB      logsdb.Database
	Builder *modelbuilder.Builder

	// Iterations defaults to DefaultIterations when zero.
	Iterations int
	// RefreshInterval is scaled by a log-normal jitter between cycles.
	// Defaults to DefaultRefreshInterval when zero.
	RefreshInterval time.Duration
}

// Run measures and rebuilds until the context is canceled. A failed cycle
// is logged and retried after the next sleep.
func (l *Loop) Run(ctx context.Context, id subgraph.ID) error {
	interval := l.RefreshInterval
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}

	for {
		if err := l.cycle(ctx, id); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Log.Warnw("mrq measurement cycle failed", "subgraph", string(id), "error", err)
		}

		sleep := time.Duration(float64(interval) * sleepMultiplier())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}

func (l *Loop) cycle(ctx context.Context, id subgraph.ID) error {
	candidates, err := l.DB.MostFrequentQueriesNullTime(ctx, id, modelbuilder.MinQueryCount)
	if err != nil {
		return err
	}

	for _, candidate := range candidates {
		if err := l.measure(ctx, id, candidate); err != nil {
			return err
		}
	}

	stats, err := l.DB.MostFrequentMRQ(ctx, id, modelbuilder.MinQueryCount)
	if err != nil {
		return err
	}
	model, err := l.Builder.Build(id, stats)
	if err != nil {
		return err
	}
	log.Log.Debugw("generated mrq agora model", "subgraph", string(id), "model", model)

	return l.Client.SetCostModel(ctx, id, &model, nil)
}

// measure replays one candidate query Iterations times with randomly drawn
// logged variables, recording the wall-clock duration of each execution. A
// graph-node failure skips that probe; a database failure aborts, since
// measurements that cannot be recorded are wasted load on graph-node.
func (l *Loop) measure(ctx context.Context, id subgraph.ID, candidate logsdb.MRQInfo) error {
	iterations := l.Iterations
	if iterations <= 0 {
		iterations = DefaultIterations
	}

	for i := 0; i < iterations; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		blob, err := l.DB.RandomQueryVariables(ctx, candidate.Hash)
		if err != nil {
			return err
		}
		variables, err := positionalVariables(blob)
		if err != nil {
			log.Log.Warnw("skipping probe with unusable variables",
				"subgraph", string(id),
				"error", err,
			)
			continue
		}

		start := time.Now()
		if _, err := l.Graph.Query(ctx, candidate.Query, variables); err != nil {
			log.Log.Warnw("graph-node probe failed",
				"subgraph", string(id),
				"error", err,
			)
			continue
		}
		elapsed := time.Since(start)

		if err := l.DB.InsertMRQLog(ctx, id, candidate.Hash, elapsed, blob); err != nil {
			return errors.Wrap(err, "recording probe measurement")
		}
	}
	return nil
}
