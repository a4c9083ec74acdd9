// Copyright 2022-, Semiotic AI, Inc.
// SPDX-License-Identifier: Apache-2.0

package querymetrics

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/common/expfmt"

	"github.com/semiotic-ai/autoagora/internal/retry"
	"github.com/semiotic-ai/autoagora/internal/subgraph"
)

// queriesOkMetric is the indexer-service counter of successfully served
// queries, labeled by deployment.
const queriesOkMetric = "indexer_service_queries_ok"

// QueryCounter reads per-subgraph query counts from the indexer-service
// metrics endpoints.
type QueryCounter struct {
	endpoints Endpoints
	client    *http.Client
}

// NewQueryCounter returns a QueryCounter over the given endpoint set.
func NewQueryCounter(endpoints Endpoints) *QueryCounter {
	return &QueryCounter{
		endpoints: endpoints,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

// SubgraphQueryCount scrapes every endpoint and sums the subgraph's
// successful query counter across them. A subgraph absent from all
// endpoints yields 0: it simply has not received queries yet. The sampling
// pass is retried with exponential backoff, up to 10 attempts within 10
// minutes.
func (q *QueryCounter) SubgraphQueryCount(ctx context.Context, id subgraph.ID) (int64, error) {
	var total int64
	err := retry.Do(ctx, retry.Observation, func(ctx context.Context) error {
		t, err := q.sample(ctx, id)
		if err != nil {
			return err
		}
		total = t
		return nil
	})
	if err != nil {
		return 0, errors.Wrapf(err, "could not sample query count for %s", id)
	}
	return total, nil
}

func (q *QueryCounter) sample(ctx context.Context, id subgraph.ID) (int64, error) {
	var total int64
	for _, endpoint := range q.endpoints.URLs() {
		count, err := q.scrape(ctx, endpoint, id)
		if err != nil {
			return 0, err
		}
		total += count
	}
	return total, nil
}

func (q *QueryCounter) scrape(ctx context.Context, endpoint string, id subgraph.ID) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid metrics endpoint %q", endpoint)
	}

	resp, err := q.client.Do(req)
	if err != nil {
		return 0, errors.Wrapf(err, "could not scrape %q", endpoint)
	}
	defer resp.Body.Close() // nolint: errcheck

	if resp.StatusCode != http.StatusOK {
		return 0, errors.Errorf("scrape of %q returned status %d", endpoint, resp.StatusCode)
	}

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(resp.Body)
	if err != nil {
		return 0, errors.Wrapf(err, "could not parse metrics from %q", endpoint)
	}

	family, ok := families[queriesOkMetric]
	if !ok {
		return 0, nil
	}

	var total int64
	for _, m := range family.GetMetric() {
		matched := false
		for _, l := range m.GetLabel() {
			if l.GetName() == "deployment" && l.GetValue() == string(id) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		switch {
		case m.GetCounter() != nil:
			total += int64(m.GetCounter().GetValue())
		case m.GetUntyped() != nil:
			total += int64(m.GetUntyped().GetValue())
		case m.GetGauge() != nil:
			total += int64(m.GetGauge().GetValue())
		}
	}
	return total, nil
}
