// Package logstore defines the boundary between the registry's
// log-backed state machine (C4) and the durable, ordered append-only log
// it replays — an external collaborator per spec.md §1, whose own
// storage internals are out of scope here. Two concrete adapters are
// provided in the pebblelog and natslog subpackages.
package logstore

import (
	"context"
	"encoding/json"
	"fmt"
)

// Kind names a command variant. Only two exist; derived fields such as
// SchemaId and version number are never part of a Command — they are
// recomputed deterministically during replay (spec.md §4.4).
type Kind string

const (
	KindRegisterSchema Kind = "REGISTER_SCHEMA"
	KindSetConfig      Kind = "SET_CONFIG"
)

// Command is the unit appended to and replayed from the log, persisted
// as {kind, subject?, canonical_text?, policy?}. There is no separate
// scope field: a SetConfig's scope is carried in Subject.
type Command struct {
	Kind Kind `json:"kind"`

	// Subject is set for both command kinds: the subject being
	// registered against, or (for SetConfig) the subject a non-global
	// scope targets. Empty Subject on a SetConfig means the global scope.
	Subject string `json:"subject,omitempty"`

	// CanonicalText is set only for RegisterSchema.
	CanonicalText string `json:"canonical_text,omitempty"`

	// Policy is set only for SetConfig.
	Policy string `json:"policy,omitempty"`
}

// Encode serializes a Command for the log. Kept separate from
// json.Marshal so adapters don't need to know the wire format directly.
func Encode(c Command) ([]byte, error) { return json.Marshal(c) }

// Decode deserializes a Command previously produced by Encode.
func Decode(b []byte) (Command, error) {
	var c Command
	if err := json.Unmarshal(b, &c); err != nil {
		return Command{}, fmt.Errorf("decode command: %w", err)
	}
	return c, nil
}

// ReplayFunc is invoked once per command in log order, with the offset
// the command landed at.
type ReplayFunc func(offset int64, cmd Command) error

// Log is the durable, strictly ordered command log. Implementations must
// guarantee that Replay delivers commands in the same order on every
// node for the same prefix (spec.md §5, "Ordering guarantees") and that
// a successful Append is visible to a Replay that starts afterward.
type Log interface {
	// Append durably appends cmd and returns the offset it was assigned.
	// Only the primary may call Append.
	Append(ctx context.Context, cmd Command) (offset int64, err error)

	// Replay delivers every command from fromOffset (inclusive) to the
	// current tail, then continues delivering new commands as they are
	// appended, until ctx is cancelled or fn returns an error.
	Replay(ctx context.Context, fromOffset int64, fn ReplayFunc) error

	// Tail returns the offset one past the last committed command, i.e.
	// the offset the next Append would be assigned. A fresh log reports 0.
	Tail(ctx context.Context) (int64, error)

	// Close releases resources held by the log adapter.
	Close() error
}

// ErrClosed is returned by Log methods called after Close.
var ErrClosed = fmt.Errorf("logstore: log is closed")
