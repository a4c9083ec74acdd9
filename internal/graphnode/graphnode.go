// Copyright 2022-, Semiotic AI, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package graphnode executes GraphQL queries against a graph-node query
// endpoint. It is used by the multi-root-query prober to time real query
// executions.
package graphnode

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/machinebox/graphql"
	"github.com/pkg/errors"

	"github.com/semiotic-ai/autoagora/internal/retry"
)

var _ Client = (*client)(nil)
var _ Client = (*Fake)(nil)

// Client executes a GraphQL query with the given variable bindings and
// returns the raw response data.
type Client interface {
	Query(ctx context.Context, query string, variables map[string]interface{}) (json.RawMessage, error)
}

// NewClient returns a Client against a graph-node query endpoint, e.g.
// http://graph-node:8000/subgraphs/id/<deployment>.
func NewClient(endpoint string) *client { // nolint: golint
	return &client{gql: graphql.NewClient(endpoint)}
}

type client struct {
	gql *graphql.Client
}

func (c *client) Query(ctx context.Context, query string, variables map[string]interface{}) (json.RawMessage, error) {
	req := graphql.NewRequest(query)
	for k, v := range variables {
		req.Var(k, v)
	}

	var resp json.RawMessage
	err := retry.Do(ctx, retry.Transient, func(ctx context.Context) error {
		return c.gql.Run(ctx, req, &resp)
	})
	if err != nil {
		return nil, errors.Wrap(err, "graph-node query failed")
	}
	return resp, nil
}

// Fake provides a mock Client implementation with a configurable execution
// delay, so probing tests can assert on measured latencies.
type Fake struct {
	mu sync.Mutex

	// Delay is how long each Query blocks before returning.
	Delay time.Duration
	// Err, when set, is returned by every Query.
	Err error
	// Queries records every executed query with its variables.
	Queries []FakeQuery
}

// FakeQuery is one recorded Fake execution.
type FakeQuery struct {
	Query     string
	Variables map[string]interface{}
}

// Query records the call, sleeps for the configured delay and returns.
func (f *Fake) Query(ctx context.Context, query string, variables map[string]interface{}) (json.RawMessage, error) {
	f.mu.Lock()
	f.Queries = append(f.Queries, FakeQuery{Query: query, Variables: variables})
	delay, err := f.Delay, f.Err
	f.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(`{}`), nil
}

// QueryCount returns the number of recorded executions.
func (f *Fake) QueryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Queries)
}
