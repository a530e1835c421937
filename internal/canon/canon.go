// Package canon implements the schema registry's canonicalizer (C1):
// parsing the supported structural schema dialect and re-emitting a
// deterministic canonical textual form used for equality and
// fingerprinting.
package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hamba/avro/v2"
)

// Schema is a parsed, canonicalized schema document.
type Schema struct {
	// CanonicalText is the normalized textual form. Two schemas are the
	// same schema iff their CanonicalText is byte-identical.
	CanonicalText string
	// StructuralFingerprint is derived from CanonicalText and used to
	// deduplicate schemas across subjects.
	StructuralFingerprint string

	tree avro.Schema
}

// Tree returns the parsed schema tree, for use by the compatibility
// engine. It is not part of the equality contract — only CanonicalText
// and StructuralFingerprint are.
func (s *Schema) Tree() avro.Schema { return s.tree }

// ParseError is returned when the input document is not a valid schema
// in the supported dialect.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return fmt.Sprintf("invalid schema: %v", e.Err) }
func (e *ParseError) Unwrap() error { return e.Err }

// Parse parses text into its canonical form. Parse is a pure function:
// the same input always yields the same CanonicalText, independent of
// which node runs it.
func Parse(text string) (*Schema, error) {
	tree, err := avro.Parse(text)
	if err != nil {
		return nil, &ParseError{Err: err}
	}

	var b strings.Builder
	(&encoder{buf: &b}).encode(tree)
	canonical := b.String()

	sum := sha256.Sum256([]byte(canonical))
	return &Schema{
		CanonicalText:         canonical,
		StructuralFingerprint: hex.EncodeToString(sum[:]),
		tree:                  tree,
	}, nil
}

// namedSchema captures the subset of hamba/avro's named-type schemas
// (record, enum, fixed) that carry a fully qualified name.
type namedSchema interface {
	FullName() string
}

// encoder re-emits a parsed schema tree as canonical JSON text: schema
// attributes appear in the fixed order {type, name, namespace, fields,
// symbols, items, values, size}, record fields are emitted as
// {name, type, default?}, references to named types are resolved to their fully
// qualified name, documentation is elided, and attributes left at their
// schema default (an empty namespace, absent aliases) are omitted.
type encoder struct {
	buf *strings.Builder
}

func (e *encoder) encode(s avro.Schema) {
	switch t := s.(type) {
	case *avro.RefSchema:
		// A second or later reference to an already-defined named type
		// resolves to just its fully qualified name.
		if named, ok := t.Schema().(namedSchema); ok {
			e.string(named.FullName())
			return
		}
		e.encode(t.Schema())

	case *avro.RecordSchema:
		e.object(func(emit emitter) {
			emit("type", func() { e.string("record") })
			emit("name", func() { e.string(t.Name()) })
			if ns := t.Namespace(); ns != "" {
				emit("namespace", func() { e.string(ns) })
			}
			emit("fields", func() {
				e.array(len(t.Fields()), func(i int) { e.field(t.Fields()[i]) })
			})
		})

	case *avro.EnumSchema:
		e.object(func(emit emitter) {
			emit("type", func() { e.string("enum") })
			emit("name", func() { e.string(t.Name()) })
			if ns := t.Namespace(); ns != "" {
				emit("namespace", func() { e.string(ns) })
			}
			emit("symbols", func() {
				syms := t.Symbols()
				e.array(len(syms), func(i int) { e.string(syms[i]) })
			})
		})

	case *avro.ArraySchema:
		e.object(func(emit emitter) {
			emit("type", func() { e.string("array") })
			emit("items", func() { e.encode(t.Items()) })
		})

	case *avro.MapSchema:
		e.object(func(emit emitter) {
			emit("type", func() { e.string("map") })
			emit("values", func() { e.encode(t.Values()) })
		})

	case *avro.FixedSchema:
		e.object(func(emit emitter) {
			emit("type", func() { e.string("fixed") })
			emit("name", func() { e.string(t.Name()) })
			if ns := t.Namespace(); ns != "" {
				emit("namespace", func() { e.string(ns) })
			}
			emit("size", func() { e.buf.WriteString(fmt.Sprintf("%d", t.Size())) })
		})

	case *avro.UnionSchema:
		types := t.Types()
		e.array(len(types), func(i int) { e.encode(types[i]) })

	default:
		// Primitive: null, boolean, int, long, float, double, string, bytes.
		e.string(string(s.Type()))
	}
}

// field encodes a record field as {name, type, default?}. A field's
// default is part of its observable behavior (it changes what a reader
// synthesizes for a writer that omits the field — see the compatibility
// engine) so, unlike documentation, it is not elided when present.
func (e *encoder) field(f *avro.Field) {
	e.object(func(emit emitter) {
		emit("name", func() { e.string(f.Name()) })
		emit("type", func() { e.encode(f.Type()) })
		if f.HasDefault() {
			emit("default", func() { e.value(f.Default()) })
		}
	})
}

func (e *encoder) value(v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		e.buf.WriteString("null")
		return
	}
	e.buf.Write(b)
}

func (e *encoder) string(s string) {
	b, _ := json.Marshal(s)
	e.buf.Write(b)
}

type emitter func(key string, writeVal func())

func (e *encoder) object(fn func(emit emitter)) {
	e.buf.WriteByte('{')
	first := true
	emit := func(key string, writeVal func()) {
		if !first {
			e.buf.WriteByte(',')
		}
		first = false
		e.string(key)
		e.buf.WriteByte(':')
		writeVal()
	}
	fn(emit)
	e.buf.WriteByte('}')
}

func (e *encoder) array(n int, write func(i int)) {
	e.buf.WriteByte('[')
	for i := 0; i < n; i++ {
		if i > 0 {
			e.buf.WriteByte(',')
		}
		write(i)
	}
	e.buf.WriteByte(']')
}
