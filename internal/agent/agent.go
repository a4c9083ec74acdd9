// Copyright 2022-, Semiotic AI, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package agent talks to the indexer-agent management GraphQL endpoint: it
// reads the current allocations and cost variables, and writes cost models.
package agent

import (
	"context"

	"github.com/machinebox/graphql"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/semiotic-ai/autoagora/internal/log"
	"github.com/semiotic-ai/autoagora/internal/retry"
	"github.com/semiotic-ai/autoagora/internal/subgraph"
)

var _ Client = (*client)(nil)
var _ Client = (*FakeClient)(nil)

// ErrNilModelAndVariables is returned when a cost model mutation carries
// neither a model document nor variables.
var ErrNilModelAndVariables = errors.New("model and variables are both nil")

// Client is the consumer-side surface of the indexer-agent management API.
type Client interface {
	// AllocatedSubgraphs returns the subgraphs the indexer currently has open
	// allocations against.
	AllocatedSubgraphs(ctx context.Context) ([]subgraph.ID, error)
	// CostVariables returns the current cost model variables of a subgraph.
	CostVariables(ctx context.Context, id subgraph.ID) (Variables, error)
	// SetCostModel writes the cost model document and/or variables of a
	// subgraph. A nil model leaves the document untouched; nil variables
	// leave the variables untouched. Both nil is an error.
	SetCostModel(ctx context.Context, id subgraph.ID, model *string, variables Variables) error
}

const allocationsQuery = `
{
    indexerAllocations {
        subgraphDeployment
    }
}
`

const costVariablesQuery = `
query ($deployment: String!) {
    costModel(deployment: $deployment) {
        variables
    }
}
`

const setCostModelMutation = `
mutation ($deployment: String!, $model: String, $variables: String) {
    setCostModel(
        costModel: {
            deployment: $deployment,
            model: $model,
            variables: $variables
        }
    ) {
        __typename
    }
}
`

// NewClient returns a Client against the indexer-agent management GraphQL
// endpoint.
func NewClient(endpoint string) *client { // nolint: golint
	return &client{gql: graphql.NewClient(endpoint)}
}

type client struct {
	gql *graphql.Client
}

func (c *client) AllocatedSubgraphs(ctx context.Context) ([]subgraph.ID, error) {
	var resp struct {
		IndexerAllocations []struct {
			SubgraphDeployment string `json:"subgraphDeployment"`
		} `json:"indexerAllocations"`
	}

	req := graphql.NewRequest(allocationsQuery)
	if err := c.run(ctx, req, &resp); err != nil {
		return nil, errors.Wrap(err, "could not query indexer allocations")
	}

	// The agent reports deployments in base58 "Qm…" form; older releases used
	// hex. Entries in neither form are dropped rather than failing the whole
	// reconciliation.
	ids := make([]subgraph.ID, 0, len(resp.IndexerAllocations))
	for _, a := range resp.IndexerAllocations {
		id, err := parseDeployment(a.SubgraphDeployment)
		if err != nil {
			log.Log.Warnw(
				"dropping unparseable allocation",
				zap.String("deployment", a.SubgraphDeployment),
				zap.Error(err),
			)
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// parseDeployment accepts a deployment id in either wire form: canonical
// base58 or 0x-prefixed hex.
func parseDeployment(deployment string) (subgraph.ID, error) {
	if id, err := subgraph.ParseID(deployment); err == nil {
		return id, nil
	}
	return subgraph.FromHex(deployment)
}

func (c *client) CostVariables(ctx context.Context, id subgraph.ID) (Variables, error) {
	hex, err := id.Hex()
	if err != nil {
		return nil, err
	}

	var resp struct {
		CostModel *struct {
			Variables *string `json:"variables"`
		} `json:"costModel"`
	}

	req := graphql.NewRequest(costVariablesQuery)
	req.Var("deployment", hex)
	if err := c.run(ctx, req, &resp); err != nil {
		return nil, errors.Wrapf(err, "could not query cost variables for %s", id)
	}

	if resp.CostModel == nil || resp.CostModel.Variables == nil {
		return Variables{}, nil
	}
	return ParseVariables(*resp.CostModel.Variables)
}

func (c *client) SetCostModel(ctx context.Context, id subgraph.ID, model *string, variables Variables) error {
	if model == nil && variables == nil {
		return ErrNilModelAndVariables
	}

	hex, err := id.Hex()
	if err != nil {
		return err
	}

	variablesJSON, err := variables.JSON()
	if err != nil {
		return err
	}

	var resp struct {
		SetCostModel struct {
			Typename string `json:"__typename"`
		} `json:"setCostModel"`
	}

	req := graphql.NewRequest(setCostModelMutation)
	req.Var("deployment", hex)
	req.Var("model", model)
	req.Var("variables", variablesJSON)
	if err := c.run(ctx, req, &resp); err != nil {
		return errors.Wrapf(err, "could not set cost model for %s", id)
	}
	return nil
}

func (c *client) run(ctx context.Context, req *graphql.Request, resp interface{}) error {
	return retry.Do(ctx, retry.Transient, func(ctx context.Context) error {
		return c.gql.Run(ctx, req, resp)
	})
}
