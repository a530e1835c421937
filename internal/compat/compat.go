// Package compat implements the compatibility engine (C2): deciding
// whether a candidate schema may be registered given the prior schemas
// of its subject, under a named compatibility policy.
package compat

import (
	"fmt"

	"github.com/hamba/avro/v2"

	"github.com/lattice-stream/registry/internal/canon"
)

// Policy names a compatibility rule. NONE/BACKWARD/FORWARD/FULL are the
// four policies spec.md defines; the *_TRANSITIVE variants are a
// supplemented feature (see SPEC_FULL.md §4.2.1) carried over from the
// teacher and the original Confluent registry: they run the same pairwise
// check against every prior version instead of only the latest.
type Policy string

const (
	None               Policy = "NONE"
	Backward           Policy = "BACKWARD"
	Forward            Policy = "FORWARD"
	Full               Policy = "FULL"
	BackwardTransitive Policy = "BACKWARD_TRANSITIVE"
	ForwardTransitive  Policy = "FORWARD_TRANSITIVE"
	FullTransitive     Policy = "FULL_TRANSITIVE"
)

// Valid reports whether p is one of the seven recognized policy names.
func Valid(p Policy) bool {
	switch p {
	case None, Backward, Forward, Full, BackwardTransitive, ForwardTransitive, FullTransitive:
		return true
	default:
		return false
	}
}

// Result is the outcome of a compatibility check.
type Result struct {
	Compatible bool
	Reason     string
}

// Check decides whether candidate is compatible under policy given the
// subject's existing schemas, ordered oldest-first (latest last). An
// empty existing list is always compatible — there is nothing to break.
func Check(candidate *canon.Schema, existing []*canon.Schema, policy Policy) Result {
	if policy == None || len(existing) == 0 {
		return Result{Compatible: true}
	}

	latest := existing[len(existing)-1]

	switch policy {
	case Backward:
		return pairwise(candidate, latest)
	case Forward:
		return pairwise(latest, candidate)
	case Full:
		if r := pairwise(candidate, latest); !r.Compatible {
			return r
		}
		return pairwise(latest, candidate)
	case BackwardTransitive:
		for _, prior := range existing {
			if r := pairwise(candidate, prior); !r.Compatible {
				return r
			}
		}
		return Result{Compatible: true}
	case ForwardTransitive:
		for _, prior := range existing {
			if r := pairwise(prior, candidate); !r.Compatible {
				return r
			}
		}
		return Result{Compatible: true}
	case FullTransitive:
		for _, prior := range existing {
			if r := pairwise(candidate, prior); !r.Compatible {
				return r
			}
			if r := pairwise(prior, candidate); !r.Compatible {
				return r
			}
		}
		return Result{Compatible: true}
	default:
		return Result{Compatible: false, Reason: fmt.Sprintf("unknown compatibility policy %q", policy)}
	}
}

// pairwise checks whether reader can consume data written by writer.
func pairwise(reader, writer *canon.Schema) Result {
	ok, reason := compatible(reader.Tree(), writer.Tree())
	return Result{Compatible: ok, Reason: reason}
}

// compatible implements the reader/writer structural check: fields match
// by name, a reader field absent from the writer is only safe if the
// reader supplies a default, and each shared field's writer type must be
// promotable to the reader type.
func compatible(reader, writer avro.Schema) (bool, string) {
	// A writer union means the actual data could be any one of its
	// branches; the reader must be able to consume every branch.
	if wu, ok := writer.(*avro.UnionSchema); ok {
		for _, wt := range wu.Types() {
			if ok, reason := compatible(reader, wt); !ok {
				return false, fmt.Sprintf("union branch %s: %s", wt.Type(), reason)
			}
		}
		return true, ""
	}

	// A reader union can consume the writer's data as long as at least
	// one branch of the reader matches.
	if ru, ok := reader.(*avro.UnionSchema); ok {
		for _, rt := range ru.Types() {
			if ok, _ := compatible(rt, writer); ok {
				return true, ""
			}
		}
		return false, fmt.Sprintf("no branch of reader union can read writer type %s", writer.Type())
	}

	switch r := reader.(type) {
	case *avro.RecordSchema:
		w, ok := writer.(*avro.RecordSchema)
		if !ok {
			return false, fmt.Sprintf("reader is a record, writer is %s", writer.Type())
		}
		writerFields := make(map[string]*avro.Field, len(w.Fields()))
		for _, f := range w.Fields() {
			writerFields[f.Name()] = f
		}
		for _, rf := range r.Fields() {
			wf, exists := writerFields[rf.Name()]
			if !exists {
				if !rf.HasDefault() {
					return false, fmt.Sprintf("field %q was added without a default", rf.Name())
				}
				continue
			}
			if ok, reason := compatible(rf.Type(), wf.Type()); !ok {
				return false, fmt.Sprintf("field %q: %s", rf.Name(), reason)
			}
		}
		return true, ""

	case *avro.EnumSchema:
		w, ok := writer.(*avro.EnumSchema)
		if !ok {
			return false, fmt.Sprintf("reader is an enum, writer is %s", writer.Type())
		}
		readerSymbols := make(map[string]bool, len(r.Symbols()))
		for _, s := range r.Symbols() {
			readerSymbols[s] = true
		}
		for _, s := range w.Symbols() {
			if !readerSymbols[s] {
				return false, fmt.Sprintf("symbol %q is unknown to the reader", s)
			}
		}
		return true, ""

	case *avro.ArraySchema:
		w, ok := writer.(*avro.ArraySchema)
		if !ok {
			return false, fmt.Sprintf("reader is an array, writer is %s", writer.Type())
		}
		return compatible(r.Items(), w.Items())

	case *avro.MapSchema:
		w, ok := writer.(*avro.MapSchema)
		if !ok {
			return false, fmt.Sprintf("reader is a map, writer is %s", writer.Type())
		}
		return compatible(r.Values(), w.Values())

	case *avro.FixedSchema:
		w, ok := writer.(*avro.FixedSchema)
		if !ok || r.Size() != w.Size() {
			return false, "fixed size mismatch"
		}
		return true, ""

	default:
		if !promotable(writer.Type(), r.Type()) {
			return false, fmt.Sprintf("writer type %s cannot be promoted to reader type %s", writer.Type(), r.Type())
		}
		return true, ""
	}
}

// promotable is the fixed numeric-widening and string/bytes promotion
// table: a value written as `from` may be read as `to`.
func promotable(from, to avro.Type) bool {
	if from == to {
		return true
	}
	switch from {
	case avro.Int:
		return to == avro.Long || to == avro.Float || to == avro.Double
	case avro.Long:
		return to == avro.Float || to == avro.Double
	case avro.Float:
		return to == avro.Double
	case avro.String:
		return to == avro.Bytes
	case avro.Bytes:
		return to == avro.String
	default:
		return false
	}
}
