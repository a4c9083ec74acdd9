// Copyright 2022-, Semiotic AI, Inc.
// SPDX-License-Identifier: Apache-2.0

package logsdb

import (
	"context"
	"sync"
	"time"

	"github.com/semiotic-ai/autoagora/internal/subgraph"
)

// MRQLog is one record a Fake captured through InsertMRQLog.
type MRQLog struct {
	Subgraph  subgraph.ID
	Hash      []byte
	QueryTime time.Duration
	Variables string
}

// Fake is an in-memory Database for tests.
type Fake struct {
	mu sync.Mutex

	Stats     map[subgraph.ID][]QueryStats
	MRQStats  map[subgraph.ID][]QueryStats
	NullTime  map[subgraph.ID][]MRQInfo
	Variables map[string]string

	Logs []MRQLog
	Err  error
}

var _ Database = (*Fake)(nil)

func (f *Fake) MostFrequentQueries(_ context.Context, id subgraph.ID, _ int) ([]QueryStats, error) {
	return f.Stats[id], f.Err
}

func (f *Fake) MostFrequentMRQ(_ context.Context, id subgraph.ID, _ int) ([]QueryStats, error) {
	return f.MRQStats[id], f.Err
}

func (f *Fake) MostFrequentQueriesNullTime(_ context.Context, id subgraph.ID, _ int) ([]MRQInfo, error) {
	return f.NullTime[id], f.Err
}

func (f *Fake) RandomQueryVariables(_ context.Context, hash []byte) (string, error) {
	return f.Variables[string(hash)], f.Err
}

func (f *Fake) InsertMRQLog(_ context.Context, id subgraph.ID, hash []byte, queryTime time.Duration, variables string) error {
	if f.Err != nil {
		return f.Err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Logs = append(f.Logs, MRQLog{Subgraph: id, Hash: hash, QueryTime: queryTime, Variables: variables})
	return nil
}

// LogCount returns the number of captured MRQ measurements.
func (f *Fake) LogCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Logs)
}
