// Copyright 2022-, Semiotic AI, Inc.
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"sync"

	"github.com/semiotic-ai/autoagora/internal/subgraph"
)

// CostModelUpdate records one SetCostModel mutation observed by a FakeClient.
type CostModelUpdate struct {
	Subgraph  subgraph.ID
	Model     *string
	Variables Variables
}

// FakeClient provides a mock Client implementation. It serves canned
// allocations and variables, records every mutation, and applies variable
// writes to its own state so that read-after-write behaves like the agent.
type FakeClient struct {
	mu sync.Mutex

	Allocations []subgraph.ID
	Variables   map[subgraph.ID]Variables
	Models      map[subgraph.ID]string
	Updates     []CostModelUpdate

	// Err, when set, is returned by every call.
	Err error
}

// AllocatedSubgraphs returns the canned allocation set.
func (f *FakeClient) AllocatedSubgraphs(ctx context.Context) ([]subgraph.ID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	return append([]subgraph.ID{}, f.Allocations...), nil
}

// CostVariables returns a copy of the stored variables for the subgraph.
func (f *FakeClient) CostVariables(ctx context.Context, id subgraph.ID) (Variables, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	out := Variables{}
	for k, v := range f.Variables[id] {
		out[k] = v
	}
	return out, nil
}

// SetCostModel records the mutation and applies it to the fake's state.
func (f *FakeClient) SetCostModel(ctx context.Context, id subgraph.ID, model *string, variables Variables) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	if model == nil && variables == nil {
		return ErrNilModelAndVariables
	}

	f.Updates = append(f.Updates, CostModelUpdate{Subgraph: id, Model: model, Variables: variables})

	if model != nil {
		if f.Models == nil {
			f.Models = map[subgraph.ID]string{}
		}
		f.Models[id] = *model
	}
	if variables != nil {
		if f.Variables == nil {
			f.Variables = map[subgraph.ID]Variables{}
		}
		stored := Variables{}
		for k, v := range variables {
			stored[k] = v
		}
		f.Variables[id] = stored
	}
	return nil
}

// UpdateCount returns the number of mutations recorded so far.
func (f *FakeClient) UpdateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Updates)
}

// SetAllocations replaces the canned allocation set.
func (f *FakeClient) SetAllocations(ids []subgraph.ID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Allocations = append([]subgraph.ID{}, ids...)
}

// SetErr sets the error returned by every subsequent call.
func (f *FakeClient) SetErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Err = err
}
