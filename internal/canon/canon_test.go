package canon

import (
	"errors"
	"testing"
)

func TestParseIsDeterministic(t *testing.T) {
	text := `{"type":"string"}`
	a, err := Parse(text)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	b, err := Parse(text)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if a.CanonicalText != b.CanonicalText {
		t.Fatalf("same input produced different canonical text: %q vs %q", a.CanonicalText, b.CanonicalText)
	}
	if a.StructuralFingerprint != b.StructuralFingerprint {
		t.Fatalf("same input produced different fingerprints")
	}
}

func TestParseInvalidSchema(t *testing.T) {
	_, err := Parse(`{not json`)
	if err == nil {
		t.Fatal("expected an error for malformed input")
	}
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ParseError, got %T", err)
	}
}

func TestCanonicalFormOmitsEmptyNamespace(t *testing.T) {
	s, err := Parse(`{"type":"record","name":"Foo","fields":[]}`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if want := `{"type":"record","name":"Foo","fields":[]}`; s.CanonicalText != want {
		t.Fatalf("got %q, want %q", s.CanonicalText, want)
	}
}

func TestCanonicalFormIncludesNamespace(t *testing.T) {
	s, err := Parse(`{"type":"record","name":"Foo","namespace":"com.example","fields":[]}`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if want := `{"type":"record","name":"Foo","namespace":"com.example","fields":[]}`; s.CanonicalText != want {
		t.Fatalf("got %q, want %q", s.CanonicalText, want)
	}
}

func TestCanonicalFormKeepsFieldDefault(t *testing.T) {
	s, err := Parse(`{"type":"record","name":"Foo","fields":[{"name":"a","type":"string","default":"x"}]}`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if want := `{"type":"record","name":"Foo","fields":[{"name":"a","type":"string","default":"x"}]}`; s.CanonicalText != want {
		t.Fatalf("got %q, want %q", s.CanonicalText, want)
	}
}

func TestCanonicalFormElidesDoc(t *testing.T) {
	s, err := Parse(`{"type":"record","name":"Foo","doc":"a thing","fields":[{"name":"a","type":"string","doc":"field doc"}]}`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if want := `{"type":"record","name":"Foo","fields":[{"name":"a","type":"string"}]}`; s.CanonicalText != want {
		t.Fatalf("got %q, want %q", s.CanonicalText, want)
	}
}

func TestDifferentAttributeOrderSameFingerprint(t *testing.T) {
	// The dialect is allowed to list record attributes in any order in
	// the input; the canonical form always re-emits them in the fixed
	// order, so two inputs differing only in attribute order must
	// canonicalize identically.
	a, err := Parse(`{"name":"Foo","type":"record","fields":[{"type":"string","name":"a"}]}`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	b, err := Parse(`{"type":"record","fields":[{"name":"a","type":"string"}],"name":"Foo"}`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if a.StructuralFingerprint != b.StructuralFingerprint {
		t.Fatalf("attribute-order-only difference produced different fingerprints: %q vs %q", a.CanonicalText, b.CanonicalText)
	}
}

func TestEnumCanonicalForm(t *testing.T) {
	s, err := Parse(`{"type":"enum","name":"Suit","symbols":["SPADES","HEARTS"]}`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if want := `{"type":"enum","name":"Suit","symbols":["SPADES","HEARTS"]}`; s.CanonicalText != want {
		t.Fatalf("got %q, want %q", s.CanonicalText, want)
	}
}

func TestArrayAndMapCanonicalForm(t *testing.T) {
	arr, err := Parse(`{"type":"array","items":"long"}`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if want := `{"type":"array","items":"long"}`; arr.CanonicalText != want {
		t.Fatalf("got %q, want %q", arr.CanonicalText, want)
	}

	m, err := Parse(`{"type":"map","values":"boolean"}`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if want := `{"type":"map","values":"boolean"}`; m.CanonicalText != want {
		t.Fatalf("got %q, want %q", m.CanonicalText, want)
	}
}

func TestFixedCanonicalForm(t *testing.T) {
	s, err := Parse(`{"type":"fixed","name":"MD5","size":16}`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if want := `{"type":"fixed","name":"MD5","size":16}`; s.CanonicalText != want {
		t.Fatalf("got %q, want %q", s.CanonicalText, want)
	}
}

func TestUnionCanonicalForm(t *testing.T) {
	s, err := Parse(`["null","string"]`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if want := `["null","string"]`; s.CanonicalText != want {
		t.Fatalf("got %q, want %q", s.CanonicalText, want)
	}
}
