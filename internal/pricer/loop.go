// Copyright 2022-, Semiotic AI, Inc.
// SPDX-License-Identifier: Apache-2.0

package pricer

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/semiotic-ai/autoagora/internal/bandit"
	"github.com/semiotic-ai/autoagora/internal/log"
	"github.com/semiotic-ai/autoagora/internal/savestate"
	"github.com/semiotic-ai/autoagora/internal/subgraph"
)

// Starting policy when no usable save state exists.
const (
	DefaultMean   = 5e-8
	DefaultStddev = 1e-1
)

// DefaultObservationDuration is the default query-rate measurement window.
const DefaultObservationDuration = 60 * time.Second

// Loop prices one subgraph with a rolling-PPO bandit.
type Loop struct {
	Env   PricingEnv
	Store *savestate.Store

	// ObservationDuration defaults to DefaultObservationDuration when zero.
	ObservationDuration time.Duration
}

// Run restores the policy and cycles act/observe/update until the context
// is canceled or a fatal error occurs. Numerical overflow and buffer
// inconsistencies are fatal.
func (l *Loop) Run(ctx context.Context, id subgraph.ID) error {
	window := l.ObservationDuration
	if window <= 0 {
		window = DefaultObservationDuration
	}

	mean, stddev := savestate.Restore(ctx, l.Store, id, DefaultMean, DefaultStddev)
	agent, err := bandit.New(bandit.Config{
		Policy: bandit.PolicyConfig{Type: "rolling_ppo", BufferMaxSize: 10},
		Action: bandit.ActionConfig{
			Type:          "scaled_gaussian",
			InitialMean:   mean,
			InitialStddev: stddev,
		},
		Optimizer: bandit.OptimizerConfig{Type: "adam", LR: 0.01},
	})
	if err != nil {
		return errors.Wrap(err, "building pricing agent")
	}

	log.Log.Infow("starting price bandit",
		"subgraph", string(id),
		"mean", mean,
		"stddev", stddev,
	)

	for ctx.Err() == nil {
		if err := l.cycle(ctx, id, agent); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
	}
	return ctx.Err()
}

func (l *Loop) cycle(ctx context.Context, id subgraph.ID, agent *bandit.Agent) error {
	window := l.ObservationDuration
	if window <= 0 {
		window = DefaultObservationDuration
	}

	record(ctx, id, MeasureMean, agent.ScaledMean())
	record(ctx, id, MeasureStddev, agent.Stddev())

	// Best-effort: a failed save must not stall pricing.
	if err := l.Store.Save(ctx, id, agent.ScaledMean(), agent.Stddev()); err != nil {
		log.Log.Warnw("could not save price state", "subgraph", string(id), "error", err)
	}

	multiplier, err := agent.GetAction()
	if err != nil {
		return errors.Wrap(err, "sampling price multiplier")
	}
	log.Log.Debugw("sampled price multiplier", "subgraph", string(id), "multiplier", multiplier)
	record(ctx, id, MeasurePriceMultiplier, multiplier)

	// The sampled action is already buffered, so recoverable act/observe
	// failures must still record a reward to keep the buffers aligned. A
	// zero reward is accurate enough: a multiplier we could not apply or
	// observe earned nothing we know of.
	reward := 0.0
	if err := l.Env.SetCostMultiplier(ctx, multiplier); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Log.Warnw("could not apply price multiplier", "subgraph", string(id), "error", err)
	} else {
		qps, err := l.Env.QueriesPerSecond(ctx, window)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Log.Warnw("could not observe query rate", "subgraph", string(id), "error", err)
		} else {
			reward = qps * multiplier
		}
	}

	log.Log.Debugw("observed reward", "subgraph", string(id), "reward", reward)
	record(ctx, id, MeasureReward, reward)
	agent.AddReward(reward)

	loss, ok, err := agent.UpdatePolicy()
	if err != nil {
		return errors.Wrap(err, "updating pricing policy")
	}
	if ok {
		log.Log.Debugw("updated pricing policy", "subgraph", string(id), "loss", loss)
	}
	return nil
}
