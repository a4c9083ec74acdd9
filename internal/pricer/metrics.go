// Copyright 2022-, Semiotic AI, Inc.
// SPDX-License-Identifier: Apache-2.0

package pricer

import (
	"context"

	"go.opencensus.io/stats"
	"go.opencensus.io/tag"
	"go.uber.org/zap"

	"github.com/semiotic-ai/autoagora/internal/log"
	"github.com/semiotic-ai/autoagora/internal/subgraph"
)

var (
	// MeasureMean is the scaled mean of the Gaussian price multiplier model.
	MeasureMean = stats.Float64("autoagora/measures/bandit_mean", "Mean of the Gaussian price multiplier model", stats.UnitDimensionless)
	// MeasureStddev is the stddev of the Gaussian price multiplier model.
	MeasureStddev = stats.Float64("autoagora/measures/bandit_stddev", "Standard deviation of the Gaussian price multiplier model", stats.UnitDimensionless)
	// MeasurePriceMultiplier is the most recently applied price multiplier.
	MeasurePriceMultiplier = stats.Float64("autoagora/measures/bandit_price_multiplier", "Price multiplier sampled from the model", stats.UnitDimensionless)
	// MeasureReward is the most recent observed reward.
	MeasureReward = stats.Float64("autoagora/measures/bandit_reward", "Reward observed for the sampled price multiplier", stats.UnitDimensionless)

	// TagSubgraph carries the subgraph IPFS hash on every pricing stat.
	TagSubgraph, _ = tag.NewKey("subgraph")
)

// record emits one measurement tagged with the subgraph.
func record(ctx context.Context, id subgraph.ID, m *stats.Float64Measure, value float64) {
	ctx, err := tag.New(ctx, tag.Upsert(TagSubgraph, string(id)))
	if err != nil {
		log.Log.Errorw("could not update tag context with subgraph", zap.Error(err))
	}
	stats.Record(ctx, m.M(value))
}
