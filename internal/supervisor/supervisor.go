// Copyright 2022-, Semiotic AI, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package supervisor keeps one set of worker loops running per allocated
// subgraph, reconciling against the indexer-agent's allocation list.
package supervisor

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/semiotic-ai/autoagora/internal/agent"
	"github.com/semiotic-ai/autoagora/internal/log"
	"github.com/semiotic-ai/autoagora/internal/subgraph"
)

// DefaultReconcileInterval between allocation list refreshes.
const DefaultReconcileInterval = 30 * time.Second

// LoopFunc runs one worker loop for a subgraph until its context is
// canceled.
type LoopFunc func(ctx context.Context, id subgraph.ID) error

// Supervisor spawns and reaps per-subgraph loops as allocations come and
// go. Beyond the always-on pricing loop, the model builder and MRQ loops
// are optional.
type Supervisor struct {
	Client agent.Client
	// Exclude lists subgraphs never to manage.
	Exclude map[subgraph.ID]bool

	// Seed is invoked once for every newly allocated subgraph, before any
	// of its loops start.
	Seed func(ctx context.Context, id subgraph.ID) error

	PriceLoop LoopFunc
	// ModelLoop and MRQLoop are skipped when nil.
	ModelLoop LoopFunc
	MRQLoop   LoopFunc

	// ReconcileInterval defaults to DefaultReconcileInterval when zero.
	ReconcileInterval time.Duration

	// MetricsHandler, when set, is served at /metrics on ListenAddr.
	MetricsHandler http.Handler
	ListenAddr     string

	managed map[subgraph.ID]*worker
	fatal   chan error
}

// worker is the running loop set of one subgraph.
type worker struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Run reconciles until the context is canceled or a managed loop fails
// fatally. On a fatal loop error every other loop is canceled and the
// error is returned.
func (s *Supervisor) Run(ctx context.Context) error {
	s.managed = map[subgraph.ID]*worker{}
	s.fatal = make(chan error, 1)

	interval := s.ReconcileInterval
	if interval <= 0 {
		interval = DefaultReconcileInterval
	}

	ctx, done := context.WithCancel(ctx)
	g, ctx := errgroup.WithContext(ctx)

	if s.MetricsHandler != nil {
		g.Go(func() error {
			defer done()
			return s.serveMetrics(ctx)
		})
	}

	g.Go(func() error {
		defer done()

		log.Log.Debug("starting allocation reconcile loop")
		defer log.Log.Debug("exiting allocation reconcile loop")

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			s.reconcile(ctx)

			select {
			case <-ctx.Done():
				s.stopAll()
				return ctx.Err()
			case err := <-s.fatal:
				s.stopAll()
				return err
			case <-ticker.C:
			}
		}
	})

	return g.Wait()
}

func (s *Supervisor) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.MetricsHandler)

	srv := http.Server{
		Addr:    s.ListenAddr,
		Handler: mux,
	}
	log.Log.Infow("starting metrics server", "addr", s.ListenAddr)

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	if err != nil {
		log.Log.Errorw("error listening", zap.Error(err))
	}
	return err
}

// reconcile diffs the allocation list against the managed set. A failed
// allocation query only logs: the already-running loops keep working and
// the next tick retries.
func (s *Supervisor) reconcile(ctx context.Context) {
	allocated, err := s.Client.AllocatedSubgraphs(ctx)
	if err != nil {
		log.Log.Warnw("could not query allocated subgraphs", zap.Error(err))
		return
	}

	want := map[subgraph.ID]bool{}
	for _, id := range allocated {
		if s.Exclude[id] {
			continue
		}
		want[id] = true
	}

	for id := range want {
		if _, ok := s.managed[id]; !ok {
			s.start(ctx, id)
		}
	}
	for id, w := range s.managed {
		if !want[id] {
			log.Log.Infow("subgraph no longer allocated, stopping loops", "subgraph", string(id))
			w.cancel()
			<-w.done
			delete(s.managed, id)
		}
	}
}

// start seeds the subgraph's cost model and spawns its loops. A failed seed
// is retried at the next reconcile tick; loops must not start on a
// subgraph that is still serving without a model.
func (s *Supervisor) start(ctx context.Context, id subgraph.ID) {
	if s.Seed != nil {
		if err := s.Seed(ctx, id); err != nil {
			log.Log.Warnw("could not seed cost model, deferring loops",
				"subgraph", string(id),
				zap.Error(err),
			)
			return
		}
	}

	log.Log.Infow("new allocated subgraph, starting loops", "subgraph", string(id))

	loopCtx, cancel := context.WithCancel(ctx)
	w := &worker{cancel: cancel, done: make(chan struct{})}
	s.managed[id] = w

	go func() {
		defer close(w.done)

		g, loopCtx := errgroup.WithContext(loopCtx)
		for _, loop := range []LoopFunc{s.PriceLoop, s.ModelLoop, s.MRQLoop} {
			if loop == nil {
				continue
			}
			loop := loop
			g.Go(func() error { return loop(loopCtx, id) })
		}

		if err := g.Wait(); err != nil && err != context.Canceled {
			select {
			case s.fatal <- err:
			default:
			}
		}
	}()
}

func (s *Supervisor) stopAll() {
	for id, w := range s.managed {
		w.cancel()
		<-w.done
		delete(s.managed, id)
	}
}
