package statemachine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-stream/registry/internal/logstore"
	"github.com/lattice-stream/registry/internal/metrics"
	"github.com/lattice-stream/registry/internal/store"
)

// memLog is a minimal in-memory logstore.Log for testing the replay
// loop without pulling in pebble or NATS.
type memLog struct {
	mu      sync.Mutex
	entries []logstore.Command
	waiters []chan struct{}
	closed  bool
}

func newMemLog() *memLog { return &memLog{} }

func (l *memLog) Append(ctx context.Context, cmd logstore.Command) (int64, error) {
	l.mu.Lock()
	offset := int64(len(l.entries))
	l.entries = append(l.entries, cmd)
	waiters := l.waiters
	l.waiters = nil
	l.mu.Unlock()
	for _, w := range waiters {
		close(w)
	}
	return offset, nil
}

func (l *memLog) Tail(ctx context.Context) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return int64(len(l.entries)), nil
}

func (l *memLog) Replay(ctx context.Context, from int64, fn logstore.ReplayFunc) error {
	next := from
	for {
		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			return logstore.ErrClosed
		}
		tail := int64(len(l.entries))
		if next >= tail {
			wait := make(chan struct{})
			l.waiters = append(l.waiters, wait)
			l.mu.Unlock()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-wait:
			}
			continue
		}
		cmd := l.entries[next]
		l.mu.Unlock()

		if err := fn(next, cmd); err != nil {
			return err
		}
		next++
	}
}

func (l *memLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	for _, w := range l.waiters {
		close(w)
	}
	l.waiters = nil
	return nil
}

func TestMachineAppliesRegisterInOrder(t *testing.T) {
	log := newMemLog()
	st := store.New()
	m := New(log, st)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	offset, err := log.Append(ctx, logstore.Command{
		Kind:          logstore.KindRegisterSchema,
		Subject:       "orders-value",
		CanonicalText: `{"type":"string"}`,
	})
	require.NoError(t, err)

	require.NoError(t, m.WaitFor(ctx, offset))

	versions, ok := st.Versions("orders-value")
	require.True(t, ok)
	assert.Equal(t, []int{1}, versions)
}

func TestMachineAppliesSetConfig(t *testing.T) {
	log := newMemLog()
	st := store.New()
	m := New(log, st)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	offset, err := log.Append(ctx, logstore.Command{
		Kind:    logstore.KindSetConfig,
		Subject: "orders-value",
		Policy:  "BACKWARD",
	})
	require.NoError(t, err)
	require.NoError(t, m.WaitFor(ctx, offset))

	policy, ok := st.SubjectConfig("orders-value")
	require.True(t, ok)
	assert.EqualValues(t, "BACKWARD", policy)
}

func TestMachineWaitForTimesOutWithoutAppend(t *testing.T) {
	log := newMemLog()
	st := store.New()
	m := New(log, st)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer waitCancel()

	err := m.WaitFor(waitCtx, 0)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMachineRecomputesSchemaIDsAcrossSubjects(t *testing.T) {
	log := newMemLog()
	st := store.New()
	m := New(log, st)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	off1, err := log.Append(ctx, logstore.Command{
		Kind:          logstore.KindRegisterSchema,
		Subject:       "a",
		CanonicalText: `{"type":"string"}`,
	})
	require.NoError(t, err)
	off2, err := log.Append(ctx, logstore.Command{
		Kind:          logstore.KindRegisterSchema,
		Subject:       "b",
		CanonicalText: `{"type":"string"}`,
	})
	require.NoError(t, err)
	require.NoError(t, m.WaitFor(ctx, off2))

	va, _ := st.VersionEntry("a", 1)
	vb, _ := st.VersionEntry("b", 1)
	assert.Equal(t, va.SchemaID, vb.SchemaID, "identical canonical text dedupes to the same schema id")
	_ = off1
}

func TestMachineUpdatesReplayLagMetric(t *testing.T) {
	log := newMemLog()
	st := store.New()
	m := New(log, st)
	mtr := metrics.New()
	m.SetMetrics(mtr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	offset, err := log.Append(ctx, logstore.Command{
		Kind:          logstore.KindRegisterSchema,
		Subject:       "orders-value",
		CanonicalText: `{"type":"string"}`,
	})
	require.NoError(t, err)
	require.NoError(t, m.WaitFor(ctx, offset))

	assert.Equal(t, float64(0), testutil.ToFloat64(mtr.ReplayLagCommands), "replay caught up to the only command appended so far")
}
