// Package statemachine implements the log-backed state machine (C4):
// replaying a logstore.Log into a store.Store, recomputing SchemaIds and
// version numbers deterministically at replay time rather than trusting
// values carried in the log (spec.md §4.4).
package statemachine

import (
	"context"
	"fmt"
	"sync"

	"github.com/lattice-stream/registry/internal/canon"
	"github.com/lattice-stream/registry/internal/compat"
	"github.com/lattice-stream/registry/internal/logstore"
	"github.com/lattice-stream/registry/internal/metrics"
	"github.com/lattice-stream/registry/internal/store"
)

// Machine owns the only goroutine allowed to mutate its Store: the
// replay loop started by Run. Every other caller only reads the Store,
// or calls WaitFor to await a specific offset's effects.
type Machine struct {
	log logstore.Log
	st  *store.Store
	mtr *metrics.Metrics

	mu      sync.Mutex
	applied int64 // offset of the last applied command; -1 before anything is applied
	waiters map[int64][]chan struct{}
}

// New returns a Machine that will replay log into st. st should be
// freshly constructed with store.New — Run always replays from offset 0.
func New(log logstore.Log, st *store.Store) *Machine {
	return &Machine{
		log:     log,
		st:      st,
		applied: -1,
		waiters: make(map[int64][]chan struct{}),
	}
}

// SetMetrics attaches m so every applied command updates the replay-lag
// gauge. Optional — a Machine with no metrics attached behaves exactly
// as before.
func (m *Machine) SetMetrics(mtr *metrics.Metrics) { m.mtr = mtr }

// Store returns the store being replayed into. Safe to read concurrently
// with Run; the store guards its own state with a mutex.
func (m *Machine) Store() *store.Store { return m.st }

// Run replays the log from offset 0, applying each command to the store
// in order, and keeps running until ctx is cancelled or the log reports
// an error. Run does not return until then — callers run it in its own
// goroutine.
func (m *Machine) Run(ctx context.Context) error {
	return m.log.Replay(ctx, 0, m.apply)
}

func (m *Machine) apply(offset int64, cmd logstore.Command) error {
	switch cmd.Kind {
	case logstore.KindRegisterSchema:
		schema, err := canon.Parse(cmd.CanonicalText)
		if err != nil {
			return fmt.Errorf("replay offset %d: %w", offset, err)
		}
		m.st.ApplyRegister(cmd.Subject, schema)

	case logstore.KindSetConfig:
		scope := store.Global
		if cmd.Subject != "" {
			scope = store.Scope{Subject: cmd.Subject}
		}
		m.st.ApplySetConfig(scope, compat.Policy(cmd.Policy))

	default:
		return fmt.Errorf("replay offset %d: unknown command kind %q", offset, cmd.Kind)
	}

	m.mu.Lock()
	m.applied = offset
	waiters := m.waiters[offset]
	delete(m.waiters, offset)
	m.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}

	if m.mtr != nil {
		if tail, err := m.log.Tail(context.Background()); err == nil {
			m.mtr.ReplayLagCommands.Set(float64(tail - offset - 1))
		}
	}
	return nil
}

// WaitFor blocks until the command at offset has been applied to the
// store, or ctx is cancelled first. A write path appends to the log,
// then calls WaitFor on the returned offset before replying to its
// caller, so a registration is only acknowledged once its own node has
// observed it applied (spec.md §4.4).
func (m *Machine) WaitFor(ctx context.Context, offset int64) error {
	m.mu.Lock()
	if m.applied >= offset {
		m.mu.Unlock()
		return nil
	}
	wait := make(chan struct{})
	m.waiters[offset] = append(m.waiters[offset], wait)
	m.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-wait:
		return nil
	}
}
