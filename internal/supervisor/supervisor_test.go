// Copyright 2022-, Semiotic AI, Inc.
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/semiotic-ai/autoagora/internal/agent"
	"github.com/semiotic-ai/autoagora/internal/subgraph"
)

const (
	idA = subgraph.ID("QmPnu3R7Fm4RmBF21aCYUohDmWbKd3VMXo64ACiRtwUQrn")
	idB = subgraph.ID("QmTJBvvpknMow6n4YU8R9Swna6N8mHK8N2WufetysBiyuL")
)

// loopRecorder tracks which subgraphs have a loop running and the order of
// seed/loop events per subgraph.
type loopRecorder struct {
	mu      sync.Mutex
	running map[subgraph.ID]bool
	events  map[subgraph.ID][]string
}

func newLoopRecorder() *loopRecorder {
	return &loopRecorder{
		running: map[subgraph.ID]bool{},
		events:  map[subgraph.ID][]string{},
	}
}

func (r *loopRecorder) seed(_ context.Context, id subgraph.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[id] = append(r.events[id], "seed")
	return nil
}

func (r *loopRecorder) loop(ctx context.Context, id subgraph.ID) error {
	r.mu.Lock()
	r.running[id] = true
	r.events[id] = append(r.events[id], "loop")
	r.mu.Unlock()

	<-ctx.Done()

	r.mu.Lock()
	r.running[id] = false
	r.mu.Unlock()
	return ctx.Err()
}

func (r *loopRecorder) isRunning(id subgraph.ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running[id]
}

func (r *loopRecorder) eventsFor(id subgraph.ID) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.events[id]...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("condition not reached")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestReconcileStartsAndStopsLoops(t *testing.T) {
	client := &agent.FakeClient{Allocations: []subgraph.ID{idA, idB}}
	rec := newLoopRecorder()
	sup := &Supervisor{
		Client:            client,
		Exclude:           map[subgraph.ID]bool{idB: true},
		Seed:              rec.seed,
		PriceLoop:         rec.loop,
		ReconcileInterval: 5 * time.Millisecond,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	waitFor(t, func() bool { return rec.isRunning(idA) })
	if rec.isRunning(idB) {
		t.Fatal("excluded subgraph got a loop")
	}

	// Deallocate A; its loop must stop.
	client.SetAllocations(nil)
	waitFor(t, func() bool { return !rec.isRunning(idA) })

	cancel()
	if err := <-done; err != context.Canceled {
		t.Fatalf("unexpected exit error: %v", err)
	}
}

func TestSeedRunsBeforeLoops(t *testing.T) {
	client := &agent.FakeClient{Allocations: []subgraph.ID{idA}}
	rec := newLoopRecorder()
	sup := &Supervisor{
		Client:            client,
		Seed:              rec.seed,
		PriceLoop:         rec.loop,
		ModelLoop:         rec.loop,
		ReconcileInterval: 5 * time.Millisecond,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	waitFor(t, func() bool { return len(rec.eventsFor(idA)) >= 3 })
	cancel()
	<-done

	events := rec.eventsFor(idA)
	if events[0] != "seed" {
		t.Fatalf("first event %q, want seed", events[0])
	}
	for _, e := range events[1:] {
		if e == "seed" {
			t.Fatalf("seed repeated: %v", events)
		}
	}
}

func TestFatalLoopErrorStopsSupervisor(t *testing.T) {
	client := &agent.FakeClient{Allocations: []subgraph.ID{idA}}
	boom := errors.New("policy overflow")
	sup := &Supervisor{
		Client: client,
		PriceLoop: func(ctx context.Context, id subgraph.ID) error {
			return boom
		},
		ReconcileInterval: 5 * time.Millisecond,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sup.Run(ctx); !errors.Is(err, boom) {
		t.Fatalf("got %v, want the loop error", err)
	}
}

func TestReconcileErrorKeepsLoopsRunning(t *testing.T) {
	client := &agent.FakeClient{Allocations: []subgraph.ID{idA}}
	rec := newLoopRecorder()
	sup := &Supervisor{
		Client:            client,
		PriceLoop:         rec.loop,
		ReconcileInterval: 5 * time.Millisecond,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	waitFor(t, func() bool { return rec.isRunning(idA) })

	// Allocation queries start failing; the running loop must survive.
	client.SetErr(errors.New("agent unreachable"))
	time.Sleep(25 * time.Millisecond)
	if !rec.isRunning(idA) {
		t.Fatal("loop stopped on a reconcile error")
	}

	cancel()
	<-done
}
