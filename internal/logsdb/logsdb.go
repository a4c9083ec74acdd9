// Copyright 2022-, Semiotic AI, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package logsdb reads the query logs the indexer-service writes to
// Postgres: hashed query skeletons, per-execution timings and variables.
// The model builder and the MRQ prober both feed on it.
package logsdb

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"

	"github.com/semiotic-ai/autoagora/internal/log"
	"github.com/semiotic-ai/autoagora/internal/subgraph"
)

// QueryStats aggregates the execution times of one query skeleton.
type QueryStats struct {
	Query      string
	Count      int64
	MinTime    int32
	MaxTime    int32
	AvgTime    float64
	StddevTime float64
}

// MRQInfo identifies a frequent query skeleton that has no timing data yet
// and is therefore a candidate for active measurement.
type MRQInfo struct {
	Hash      []byte
	Query     string
	Timestamp time.Time
}

// Querier is the slice of pgxpool.Pool the store needs.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Database is the read/write surface over the query logs.
type Database interface {
	MostFrequentQueries(ctx context.Context, id subgraph.ID, minCount int) ([]QueryStats, error)
	MostFrequentMRQ(ctx context.Context, id subgraph.ID, minCount int) ([]QueryStats, error)
	MostFrequentQueriesNullTime(ctx context.Context, id subgraph.ID, minCount int) ([]MRQInfo, error)
	RandomQueryVariables(ctx context.Context, hash []byte) (string, error)
	InsertMRQLog(ctx context.Context, id subgraph.ID, hash []byte, queryTime time.Duration, variables string) error
}

// Store implements Database over Postgres.
type Store struct {
	db Querier
}

var _ Database = (*Store)(nil)

// NewStore returns a Store over the given connection pool.
func NewStore(db Querier) *Store {
	return &Store{db: db}
}

// mfqQuery aggregates per-skeleton timing stats from a logs table. The
// table name is spliced in; only the two fixed names below are ever used.
const mfqQuery = `
	SELECT
		query,
		count_id,
		min_time,
		max_time,
		avg_time,
		stddev_time
	FROM
		query_skeletons
	INNER JOIN
	(
		SELECT
			query_hash as qhash,
			count(id) as count_id,
			Min(query_time_ms) as min_time,
			Max(query_time_ms) as max_time,
			Avg(query_time_ms) as avg_time,
			Stddev(query_time_ms) as stddev_time
		FROM
			` // + table + mfqQuerySuffix

const mfqQuerySuffix = `
		WHERE
			subgraph = $1
			AND query_time_ms IS NOT NULL
		GROUP BY
			qhash
		HAVING
			Count(id) >= $2
	) as query_logs
	ON
		qhash = hash
	ORDER BY
		count_id DESC
`

// MostFrequentQueries returns timing stats for the subgraph's query
// skeletons seen at least minCount times in the organic query logs, most
// frequent first.
func (s *Store) MostFrequentQueries(ctx context.Context, id subgraph.ID, minCount int) ([]QueryStats, error) {
	return s.queryStats(ctx, "query_logs", id, minCount)
}

// MostFrequentMRQ is MostFrequentQueries over the actively measured logs.
func (s *Store) MostFrequentMRQ(ctx context.Context, id subgraph.ID, minCount int) ([]QueryStats, error) {
	return s.queryStats(ctx, "mrq_query_logs", id, minCount)
}

func (s *Store) queryStats(ctx context.Context, table string, id subgraph.ID, minCount int) ([]QueryStats, error) {
	rows, err := s.db.Query(ctx, mfqQuery+table+mfqQuerySuffix, string(id), minCount)
	if err != nil {
		return nil, errors.Wrapf(err, "querying most frequent queries from %s", table)
	}
	defer rows.Close()

	var stats []QueryStats
	for rows.Next() {
		var qs QueryStats
		if err := rows.Scan(&qs.Query, &qs.Count, &qs.MinTime, &qs.MaxTime, &qs.AvgTime, &qs.StddevTime); err != nil {
			return nil, errors.Wrap(err, "scanning query stats row")
		}
		stats = append(stats, qs)
	}
	return stats, errors.Wrap(rows.Err(), "reading query stats rows")
}

// MostFrequentQueriesNullTime returns the subgraph's query skeletons seen
// at least minCount times but never with a timing, i.e. queries that are
// popular yet invisible to the stats-based model builder. Skeletons that
// fail to reformat are dropped with a warning.
func (s *Store) MostFrequentQueriesNullTime(ctx context.Context, id subgraph.ID, minCount int) ([]MRQInfo, error) {
	rows, err := s.db.Query(ctx, `
		SELECT
			hash,
			query,
			max_timestamp
		FROM
			query_skeletons
		INNER JOIN
		(
			SELECT
				query_hash as qhash,
				Max(timestamp) as max_timestamp
			FROM
				query_logs
			WHERE
				subgraph = $1
			GROUP BY
				qhash
			HAVING
				Count(id) >= $2
				AND Sum(CASE WHEN query_time_ms IS NOT NULL THEN 1 ELSE 0 END) = 0
		) as query_logs
		ON
			qhash = hash
	`, string(id), minCount)
	if err != nil {
		return nil, errors.Wrap(err, "querying frequent queries without timing")
	}
	defer rows.Close()

	var infos []MRQInfo
	for rows.Next() {
		var info MRQInfo
		if err := rows.Scan(&info.Hash, &info.Query, &info.Timestamp); err != nil {
			return nil, errors.Wrap(err, "scanning frequent query row")
		}
		reformatted, err := ReformatQuery(info.Query)
		if err != nil {
			log.Log.Warnw("dropping unparseable query skeleton",
				"subgraph", string(id),
				"error", err,
			)
			continue
		}
		info.Query = reformatted
		infos = append(infos, info)
	}
	return infos, errors.Wrap(rows.Err(), "reading frequent query rows")
}

// RandomQueryVariables returns the variables blob of one randomly chosen
// logged execution of the skeleton, or "" if none carried variables.
func (s *Store) RandomQueryVariables(ctx context.Context, hash []byte) (string, error) {
	var variables *string
	err := s.db.QueryRow(ctx, `
		SELECT
			query_variables
		FROM
			query_logs
		WHERE
			query_hash = $1
		ORDER BY
			random()
		LIMIT 1
	`, hash).Scan(&variables)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "picking random query variables")
	}
	if variables == nil {
		return "", nil
	}
	return *variables, nil
}

// InsertMRQLog records one active measurement of a query skeleton.
func (s *Store) InsertMRQLog(ctx context.Context, id subgraph.ID, hash []byte, queryTime time.Duration, variables string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO mrq_query_logs (subgraph, query_hash, timestamp, query_time_ms, query_variables)
			VALUES ($1, $2, $3, $4, $5)
	`, string(id), hash, time.Now().UTC(), queryTime.Milliseconds(), variables)
	return errors.Wrap(err, "inserting mrq query log")
}

// CreateMRQLogTable creates the active-measurement log table. The organic
// tables belong to the indexer-service; this one is ours.
func CreateMRQLogTable(ctx context.Context, db Querier) error {
	_, err := db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS mrq_query_logs (
			id              uuid        PRIMARY KEY DEFAULT gen_random_uuid(),
			subgraph        char(46)    NOT NULL,
			query_hash      bytea       REFERENCES query_skeletons(hash),
			timestamp       timestamptz NOT NULL,
			query_time_ms   integer,
			query_variables text
		)
	`)
	return errors.Wrap(err, "creating mrq_query_logs table")
}
