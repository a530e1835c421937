// Package pebblelog implements logstore.Log as an embedded, single-node
// append-only log backed by github.com/cockroachdb/pebble, an ordered
// LSM key-value engine. Commands are stored under their big-endian
// offset key, which is exactly "the embedded append-only log used as
// durable storage" spec.md §1 names as an external collaborator. This
// adapter is the one used by the standalone/dev/test deployment shape;
// internal/logstore/natslog is the multi-node counterpart.
package pebblelog

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/lattice-stream/registry/internal/logstore"
)

// Log is a pebble-backed logstore.Log. The zero value is not usable;
// construct with Open.
type Log struct {
	db *pebble.DB

	mu      sync.Mutex
	tail    int64
	waiters []chan struct{}
	closed  bool
}

var _ logstore.Log = (*Log)(nil)

// Open opens (or creates) a pebble-backed log rooted at dir.
func Open(dir string) (*Log, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble log at %s: %w", dir, err)
	}

	l := &Log{db: db}
	tail, err := l.scanTail()
	if err != nil {
		db.Close()
		return nil, err
	}
	l.tail = tail
	return l, nil
}

func (l *Log) scanTail() (int64, error) {
	it, err := l.db.NewIter(nil)
	if err != nil {
		return 0, fmt.Errorf("scan tail: %w", err)
	}
	defer it.Close()

	if !it.Last() {
		return 0, nil
	}
	return int64(binary.BigEndian.Uint64(it.Key())) + 1, nil
}

func offsetKey(offset int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(offset))
	return b
}

// Append durably appends cmd, fsyncing before returning the assigned
// offset — the first suspension point spec.md §5 names. l.mu is held
// across both the offset allocation and the db.Set so concurrent
// Append calls are serialized into the single write path spec.md §5
// describes; releasing the lock between the two would let two callers
// race for the same offset and have one silently overwrite the other.
func (l *Log) Append(ctx context.Context, cmd logstore.Command) (int64, error) {
	payload, err := logstore.Encode(cmd)
	if err != nil {
		return 0, fmt.Errorf("encode command: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return 0, logstore.ErrClosed
	}
	offset := l.tail

	if err := l.db.Set(offsetKey(offset), payload, pebble.Sync); err != nil {
		return 0, fmt.Errorf("append at offset %d: %w", offset, err)
	}

	l.tail = offset + 1
	waiters := l.waiters
	l.waiters = nil
	for _, w := range waiters {
		close(w)
	}

	return offset, nil
}

// Replay delivers every command from fromOffset to the tail, then blocks
// for new appends until ctx is cancelled. Since pebble has no native
// change notification, new-data waiters are woken directly by Append.
func (l *Log) Replay(ctx context.Context, fromOffset int64, fn logstore.ReplayFunc) error {
	next := fromOffset
	if next < 0 {
		next = 0
	}

	for {
		tail, err := l.Tail(ctx)
		if err != nil {
			return err
		}

		if next < tail {
			if err := l.deliver(next, tail, fn); err != nil {
				return err
			}
			next = tail
			continue
		}

		wait := make(chan struct{})
		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			return logstore.ErrClosed
		}
		if l.tail > next {
			// An Append landed after the Tail read above; deliver it now.
			l.mu.Unlock()
			continue
		}
		l.waiters = append(l.waiters, wait)
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wait:
		}
	}
}

func (l *Log) deliver(from, to int64, fn logstore.ReplayFunc) error {
	it, err := l.db.NewIter(&pebble.IterOptions{
		LowerBound: offsetKey(from),
		UpperBound: offsetKey(to),
	})
	if err != nil {
		return fmt.Errorf("iterate [%d,%d): %w", from, to, err)
	}
	defer it.Close()

	for it.First(); it.Valid(); it.Next() {
		offset := int64(binary.BigEndian.Uint64(it.Key()))
		cmd, err := logstore.Decode(it.Value())
		if err != nil {
			return fmt.Errorf("decode command at offset %d: %w", offset, err)
		}
		if err := fn(offset, cmd); err != nil {
			return err
		}
	}
	return it.Error()
}

// Tail returns the offset the next Append would be assigned.
func (l *Log) Tail(ctx context.Context) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tail, nil
}

// Close releases the underlying pebble handle and wakes any blocked
// Replay callers with logstore.ErrClosed.
func (l *Log) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	waiters := l.waiters
	l.waiters = nil
	l.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
	return l.db.Close()
}
