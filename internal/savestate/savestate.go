// Copyright 2023-, Semiotic AI, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package savestate persists the pricing model of each subgraph so that a
// restart can resume from the last known-good price instead of relearning
// from defaults.
package savestate

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"

	"github.com/semiotic-ai/autoagora/internal/log"
	"github.com/semiotic-ai/autoagora/internal/subgraph"
)

// SaveState is one persisted pricing model. Mean is in the scaled
// (multiplier) space, stddev is the raw policy stddev.
type SaveState struct {
	LastUpdate time.Time
	Mean       float64
	Stddev     float64
}

// Querier is the slice of pgxpool.Pool the store needs.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store reads and writes price save states in Postgres. The table is
// created lazily on first use.
type Store struct {
	db Querier

	mu           sync.Mutex
	tableCreated bool
}

// NewStore returns a Store over the given connection pool.
func NewStore(db Querier) *Store {
	return &Store{db: db}
}

func (s *Store) createTable(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tableCreated {
		return nil
	}

	_, err := s.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS price_save_state (
			subgraph        char(46)            PRIMARY KEY,
			last_update     timestamptz         NOT NULL,
			mean            double precision    NOT NULL,
			stddev          double precision    NOT NULL
		)
	`)
	if err != nil {
		return errors.Wrap(err, "creating price_save_state table")
	}
	s.tableCreated = true
	return nil
}

// Save upserts the subgraph's state, stamping it with the current time.
func (s *Store) Save(ctx context.Context, id subgraph.ID, mean, stddev float64) error {
	if err := s.createTable(ctx); err != nil {
		return err
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO price_save_state (subgraph, last_update, mean, stddev)
			VALUES($1, $2, $3, $4)
		ON CONFLICT (subgraph)
			DO
			UPDATE SET
				last_update = $2,
				mean        = $3,
				stddev      = $4
	`, string(id), time.Now().UTC(), mean, stddev)
	return errors.Wrapf(err, "saving price state for %s", id)
}

// Load returns the subgraph's state, or nil if none was ever saved.
func (s *Store) Load(ctx context.Context, id subgraph.ID) (*SaveState, error) {
	if err := s.createTable(ctx); err != nil {
		return nil, err
	}

	var state SaveState
	err := s.db.QueryRow(ctx, `
		SELECT
			last_update,
			mean,
			stddev
		FROM
			price_save_state
		WHERE
			subgraph = $1
	`, string(id)).Scan(&state.LastUpdate, &state.Mean, &state.Stddev)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "loading price state for %s", id)
	}
	return &state, nil
}

// MaxAge is how stale a save state may be and still seed a restarting
// pricing loop. Older states reflect market conditions too old to trust.
const MaxAge = 24 * time.Hour

// Restore returns the subgraph's saved (mean, stddev) if a state exists and
// is younger than MaxAge, and the given defaults otherwise. A load failure
// falls back to the defaults as well, so a broken save-state table never
// prevents pricing from starting.
func Restore(ctx context.Context, store *Store, id subgraph.ID, defaultMean, defaultStddev float64) (mean, stddev float64) {
	state, err := store.Load(ctx, id)
	if err != nil {
		log.Log.Warnw("could not load price save state, using defaults",
			"subgraph", string(id),
			"error", err,
		)
		return defaultMean, defaultStddev
	}
	if state == nil {
		log.Log.Infow("no price save state, using defaults", "subgraph", string(id))
		return defaultMean, defaultStddev
	}
	if age := time.Since(state.LastUpdate); age >= MaxAge {
		log.Log.Infow("price save state too old, using defaults",
			"subgraph", string(id),
			"age", age,
		)
		return defaultMean, defaultStddev
	}
	return state.Mean, state.Stddev
}
