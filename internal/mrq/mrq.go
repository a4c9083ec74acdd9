// Copyright 2023-, Semiotic AI, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package mrq actively measures "multi-root queries": query skeletons
// popular enough to deserve their own pricing entry but for which the
// indexer-service never logged a timing. Each candidate is replayed against
// graph-node with logged variables, the wall-clock timings are written to
// their own log table, and a cost model is built from them.
package mrq

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/pkg/errors"
)

// Log-normal parameters for the decorrelation sleep between measurement
// cycles. Concurrent per-subgraph loops would otherwise hammer graph-node
// in lockstep.
const (
	Mu    = 0.4
	Sigma = 0.2
)

// sleepMultiplier samples the log-normal cycle jitter.
func sleepMultiplier() float64 {
	return math.Exp(rand.NormFloat64()*Sigma + Mu)
}

// positionalVariables remaps a logged query-variables blob onto the
// positional names the sanitized skeletons use. Logged arrays map by index;
// logged objects map by sorted key order, matching how the log processor
// numbers them. An empty blob yields no variables.
func positionalVariables(blob string) (map[string]interface{}, error) {
	if blob == "" || blob == "null" {
		return nil, nil
	}

	var raw interface{}
	if err := json.Unmarshal([]byte(blob), &raw); err != nil {
		return nil, errors.Wrap(err, "parsing logged query variables")
	}

	out := map[string]interface{}{}
	switch values := raw.(type) {
	case []interface{}:
		for i, v := range values {
			out[fmt.Sprintf("_%d", i)] = v
		}
	case map[string]interface{}:
		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for i, k := range keys {
			out[fmt.Sprintf("_%d", i)] = values[k]
		}
	default:
		return nil, errors.Errorf("logged query variables are a %T, not an array or object", raw)
	}
	return out, nil
}
