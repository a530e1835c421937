// Package natslog implements logstore.Log as a distributed command log
// backed by a NATS JetStream stream. It is the multi-node counterpart to
// internal/logstore/pebblelog: every registry node subscribes to the
// same stream and replays it in the same order, with only the elected
// primary (internal/coordinator) ever calling Append.
package natslog

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/lattice-stream/registry/internal/logstore"
)

// Log is a JetStream-backed logstore.Log.
type Log struct {
	js      nats.JetStreamContext
	stream  string
	subject string
}

// Open binds to (creating if absent) a file-backed JetStream stream
// named streamName, retrying stream creation the way the teacher's
// makeBucket does for its KV buckets.
func Open(js nats.JetStreamContext, streamName string) (*Log, error) {
	subject := streamName + ".commands"

	const maxRetries = 5
	var lastErr error
	for i := 0; i < maxRetries; i++ {
		if _, err := js.StreamInfo(streamName); err == nil {
			lastErr = nil
			break
		} else if err != nats.ErrStreamNotFound {
			lastErr = err
		} else if _, err := js.AddStream(&nats.StreamConfig{
			Name:      streamName,
			Subjects:  []string{subject},
			Storage:   nats.FileStorage,
			Retention: nats.LimitsPolicy,
		}); err != nil {
			lastErr = err
		} else {
			lastErr = nil
			break
		}
		if i < maxRetries-1 {
			time.Sleep(time.Second)
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("open jetstream log %s: %w", streamName, lastErr)
	}

	return &Log{js: js, stream: streamName, subject: subject}, nil
}

var _ logstore.Log = (*Log)(nil)

// Append publishes cmd to the stream and returns its assigned offset.
// JetStream sequence numbers start at 1; Log offsets start at 0.
func (l *Log) Append(ctx context.Context, cmd logstore.Command) (int64, error) {
	payload, err := logstore.Encode(cmd)
	if err != nil {
		return 0, fmt.Errorf("encode command: %w", err)
	}

	ack, err := l.js.Publish(l.subject, payload, nats.Context(ctx))
	if err != nil {
		return 0, fmt.Errorf("append to stream %s: %w", l.stream, err)
	}
	return int64(ack.Sequence) - 1, nil
}

// Tail returns the offset one past the last sequence committed to the
// stream.
func (l *Log) Tail(ctx context.Context) (int64, error) {
	info, err := l.js.StreamInfo(l.stream)
	if err != nil {
		return 0, fmt.Errorf("stream info for %s: %w", l.stream, err)
	}
	return int64(info.State.LastSeq), nil
}

// Replay delivers every command from fromOffset onward using an ordered
// consumer, blocking for new messages until ctx is cancelled.
func (l *Log) Replay(ctx context.Context, fromOffset int64, fn logstore.ReplayFunc) error {
	opts := []nats.SubOpt{nats.OrderedConsumer()}
	if fromOffset <= 0 {
		opts = append(opts, nats.DeliverAll())
	} else {
		opts = append(opts, nats.StartSequence(uint64(fromOffset)+1))
	}

	sub, err := l.js.SubscribeSync(l.subject, opts...)
	if err != nil {
		return fmt.Errorf("subscribe to stream %s: %w", l.stream, err)
	}
	defer sub.Unsubscribe()

	for {
		msg, err := sub.NextMsgWithContext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("next message from %s: %w", l.stream, err)
		}

		meta, err := msg.Metadata()
		if err != nil {
			return fmt.Errorf("message metadata: %w", err)
		}
		cmd, err := logstore.Decode(msg.Data)
		if err != nil {
			return fmt.Errorf("decode command at sequence %d: %w", meta.Sequence.Stream, err)
		}
		if err := fn(int64(meta.Sequence.Stream)-1, cmd); err != nil {
			return err
		}
	}
}

// Close is a no-op: the underlying NATS connection's lifecycle belongs
// to whoever constructed the JetStreamContext, same as the teacher's
// server never closing nc from within NATS-using components.
func (l *Log) Close() error { return nil }
