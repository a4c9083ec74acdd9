// Copyright 2022-, Semiotic AI, Inc.
// SPDX-License-Identifier: Apache-2.0

package modelbuilder

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/semiotic-ai/autoagora/internal/agent"
	"github.com/semiotic-ai/autoagora/internal/log"
	"github.com/semiotic-ai/autoagora/internal/logsdb"
	"github.com/semiotic-ai/autoagora/internal/subgraph"
)

// DefaultRefreshInterval between model rebuilds.
const DefaultRefreshInterval = 3600 * time.Second

// ApplyDefaultModel seeds a freshly allocated subgraph with the default
// document and the default variables in a single mutation.
func ApplyDefaultModel(ctx context.Context, client agent.Client, b *Builder, id subgraph.ID) error {
	model, err := b.Build(id, nil)
	if err != nil {
		return err
	}
	log.Log.Debugw("applying default model", "subgraph", string(id), "model", model)
	return errors.Wrapf(
		client.SetCostModel(ctx, id, &model, agent.DefaultCostVariables),
		"applying default model to %s", id,
	)
}

// Loop periodically rebuilds a subgraph's cost model from its organic query
// stats and pushes it to the indexer-agent.
type Loop struct {
	Client  agent.Client
	DB      logsdb.Database
	Builder *Builder

	// RefreshInterval defaults to DefaultRefreshInterval when zero.
	RefreshInterval time.Duration
}

// Run rebuilds and pushes the model every refresh interval until the
// context is canceled. A failed cycle is logged and retried at the next
// tick.
func (l *Loop) Run(ctx context.Context, id subgraph.ID) error {
	interval := l.RefreshInterval
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := l.cycle(ctx, id); err != nil {
			log.Log.Warnw("model rebuild failed", "subgraph", string(id), "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *Loop) cycle(ctx context.Context, id subgraph.ID) error {
	stats, err := l.DB.MostFrequentQueries(ctx, id, MinQueryCount)
	if err != nil {
		return err
	}

	model, err := l.Builder.Build(id, stats)
	if err != nil {
		return err
	}
	log.Log.Debugw("generated agora model", "subgraph", string(id), "model", model)

	return l.Client.SetCostModel(ctx, id, &model, nil)
}
