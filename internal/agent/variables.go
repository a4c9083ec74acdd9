// Copyright 2022-, Semiotic AI, Inc.
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

// GlobalCostMultiplier is the Agora variable manipulated by the pricing
// bandit.
const GlobalCostMultiplier = "GLOBAL_COST_MULTIPLIER"

// DefaultCostVariables are the variables written for a freshly allocated
// subgraph.
var DefaultCostVariables = Variables{"DEFAULT_COST": 50}

// Variables is an Agora cost model variable mapping as exchanged with the
// indexer-agent.
type Variables map[string]interface{}

// JSON renders the variables as the JSON text consumed by the indexer-agent.
// Numeric values are formatted with 18 fractional digits so that very small
// multipliers survive the round trip through the agent's string handling.
// A nil map renders as "null", which the agent treats as "leave untouched".
func (v Variables) JSON() (string, error) {
	if v == nil {
		return "null", nil
	}

	formatted := make(map[string]interface{}, len(v))
	for k, val := range v {
		if f, ok := asFloat(val); ok {
			formatted[k] = fmt.Sprintf("%.18f", f)
		} else {
			formatted[k] = val
		}
	}

	out, err := json.Marshal(formatted)
	if err != nil {
		return "", errors.Wrap(err, "could not marshal cost variables")
	}
	return string(out), nil
}

// ParseVariables decodes the variables JSON text returned by the
// indexer-agent. A "null" or empty blob yields an empty map, since a subgraph
// without a cost model row simply has no variables yet.
func ParseVariables(blob string) (Variables, error) {
	if blob == "" || blob == "null" {
		return Variables{}, nil
	}
	var v Variables
	if err := json.Unmarshal([]byte(blob), &v); err != nil {
		return nil, errors.Wrap(err, "could not unmarshal cost variables")
	}
	if v == nil {
		v = Variables{}
	}
	return v, nil
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
