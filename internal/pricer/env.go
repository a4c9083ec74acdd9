// Copyright 2022-, Semiotic AI, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package pricer runs the per-subgraph price discovery loop: a bandit
// samples a price multiplier, the multiplier is applied through the
// indexer-agent, and the resulting query rate becomes the reward.
package pricer

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/semiotic-ai/autoagora/internal/agent"
	"github.com/semiotic-ai/autoagora/internal/subgraph"
)

// GatewaySettleDelay is how long a multiplier change takes to propagate
// through the gateways. Query rates observed earlier would be priced under
// the previous multiplier.
const GatewaySettleDelay = 60 * time.Second

// Counter samples a subgraph's served-query counter.
type Counter interface {
	SubgraphQueryCount(ctx context.Context, id subgraph.ID) (int64, error)
}

// PricingEnv is the external market a pricing loop acts on.
type PricingEnv interface {
	// SetCostMultiplier applies a price multiplier to the subgraph.
	SetCostMultiplier(ctx context.Context, multiplier float64) error
	// QueriesPerSecond observes the query rate over the given window,
	// waiting out the settle delay of the last multiplier change first.
	QueriesPerSecond(ctx context.Context, window time.Duration) (float64, error)
}

// Env implements PricingEnv over the indexer-agent and the indexer-service
// metrics.
type Env struct {
	client  agent.Client
	counter Counter
	id      subgraph.ID

	lastChange time.Time

	// Injectable clock, for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

var _ PricingEnv = (*Env)(nil)

// NewEnv returns an Env for one subgraph.
func NewEnv(client agent.Client, counter Counter, id subgraph.ID) *Env {
	return &Env{
		client:  client,
		counter: counter,
		id:      id,
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SetCostMultiplier overwrites only the GLOBAL_COST_MULTIPLIER variable,
// leaving the rest of the subgraph's cost variables as the model builder
// wrote them.
func (e *Env) SetCostMultiplier(ctx context.Context, multiplier float64) error {
	variables, err := e.client.CostVariables(ctx, e.id)
	if err != nil {
		return errors.Wrap(err, "reading cost variables")
	}
	variables[agent.GlobalCostMultiplier] = multiplier

	if err := e.client.SetCostModel(ctx, e.id, nil, variables); err != nil {
		return errors.Wrap(err, "writing cost multiplier")
	}
	e.lastChange = e.now()
	return nil
}

// QueriesPerSecond measures the subgraph's query rate over the window. It
// first waits until GatewaySettleDelay has fully passed since the last
// multiplier change, then takes two counter samples window apart. The rate
// divides by the actually elapsed time between the samples, not the nominal
// window.
func (e *Env) QueriesPerSecond(ctx context.Context, window time.Duration) (float64, error) {
	if !e.lastChange.IsZero() {
		if err := e.sleep(ctx, GatewaySettleDelay-e.now().Sub(e.lastChange)); err != nil {
			return 0, err
		}
	}

	before, err := e.counter.SubgraphQueryCount(ctx, e.id)
	if err != nil {
		return 0, errors.Wrap(err, "sampling query count")
	}
	start := e.now()

	if err := e.sleep(ctx, window); err != nil {
		return 0, err
	}

	after, err := e.counter.SubgraphQueryCount(ctx, e.id)
	if err != nil {
		return 0, errors.Wrap(err, "sampling query count")
	}
	elapsed := e.now().Sub(start).Seconds()
	if elapsed <= 0 {
		return 0, errors.New("no time elapsed between query count samples")
	}
	return float64(after-before) / elapsed, nil
}
