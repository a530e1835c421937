package store

import (
	"testing"

	"github.com/lattice-stream/registry/internal/canon"
	"github.com/lattice-stream/registry/internal/compat"
)

func parse(t *testing.T, text string) *canon.Schema {
	t.Helper()
	s, err := canon.Parse(text)
	if err != nil {
		t.Fatalf("parse %q: %v", text, err)
	}
	return s
}

func TestApplyRegisterAssignsFirstIDAndVersion(t *testing.T) {
	s := New()
	schema := parse(t, `{"type":"string"}`)

	res := s.ApplyRegister("orders-value", schema)
	if res.SchemaID != 1 || res.Version != 1 {
		t.Fatalf("got %+v, want SchemaID=1 Version=1", res)
	}
	if !res.CreatedID || !res.CreatedVersion {
		t.Fatalf("expected both CreatedID and CreatedVersion on first registration")
	}
}

func TestApplyRegisterDedupesSameFingerprintSameSubject(t *testing.T) {
	s := New()
	schema := parse(t, `{"type":"string"}`)

	first := s.ApplyRegister("orders-value", schema)
	second := s.ApplyRegister("orders-value", parse(t, `{"type":"string"}`))

	if first.SchemaID != second.SchemaID || first.Version != second.Version {
		t.Fatalf("re-registering identical content must return the same id and version, got %+v vs %+v", first, second)
	}
	if second.CreatedID || second.CreatedVersion {
		t.Fatalf("re-registering identical content must not create an id or a version, got %+v", second)
	}
	versions, ok := s.Versions("orders-value")
	if !ok || len(versions) != 1 {
		t.Fatalf("expected exactly one version, got %v", versions)
	}
}

func TestApplyRegisterSharesSchemaIDAcrossSubjects(t *testing.T) {
	s := New()
	a := s.ApplyRegister("a-value", parse(t, `{"type":"string"}`))
	b := s.ApplyRegister("b-value", parse(t, `{"type":"string"}`))

	if a.SchemaID != b.SchemaID {
		t.Fatalf("identical content registered under different subjects must share a schema id: %d vs %d", a.SchemaID, b.SchemaID)
	}
	if a.Version != 1 || b.Version != 1 {
		t.Fatalf("each subject tracks its own version numbering independently")
	}
}

func TestApplyRegisterAssignsNewVersionForDifferentContent(t *testing.T) {
	s := New()
	s.ApplyRegister("orders-value", parse(t, `{"type":"string"}`))
	second := s.ApplyRegister("orders-value", parse(t, `{"type":"long"}`))

	if second.Version != 2 {
		t.Fatalf("expected version 2, got %d", second.Version)
	}
	if second.SchemaID != 2 {
		t.Fatalf("expected a fresh schema id, got %d", second.SchemaID)
	}
}

func TestGlobalConfigDefault(t *testing.T) {
	s := New()
	if got := s.GlobalConfig(); got != DefaultGlobalPolicy {
		t.Fatalf("got %s, want %s", got, DefaultGlobalPolicy)
	}
}

func TestApplySetConfigGlobalAndSubject(t *testing.T) {
	s := New()
	s.ApplySetConfig(Global, compat.Full)
	if got := s.GlobalConfig(); got != compat.Full {
		t.Fatalf("got %s, want FULL", got)
	}

	s.ApplySetConfig(Scope{Subject: "orders-value"}, compat.Backward)
	p, ok := s.SubjectConfig("orders-value")
	if !ok || p != compat.Backward {
		t.Fatalf("got (%s, %v), want (BACKWARD, true)", p, ok)
	}

	// Global config is unaffected by a subject override.
	if got := s.GlobalConfig(); got != compat.Full {
		t.Fatalf("global config changed unexpectedly: %s", got)
	}
}

func TestEffectivePolicyFallsBackToGlobal(t *testing.T) {
	s := New()
	s.ApplySetConfig(Global, compat.Forward)

	if got := s.EffectivePolicy("never-configured-subject"); got != compat.Forward {
		t.Fatalf("got %s, want FORWARD", got)
	}

	s.ApplySetConfig(Scope{Subject: "orders-value"}, compat.Full)
	if got := s.EffectivePolicy("orders-value"); got != compat.Full {
		t.Fatalf("got %s, want FULL", got)
	}
}

func TestLookupByFingerprintScopedToSubject(t *testing.T) {
	s := New()
	s.ApplyRegister("a-value", parse(t, `{"type":"string"}`))

	schema := parse(t, `{"type":"string"}`)
	if _, ok := s.LookupByFingerprint("b-value", schema.StructuralFingerprint); ok {
		t.Fatal("expected no match: schema was never registered under b-value")
	}
	if _, ok := s.LookupByFingerprint("a-value", schema.StructuralFingerprint); !ok {
		t.Fatal("expected a match under a-value")
	}
}

func TestSubjectsInInsertionOrder(t *testing.T) {
	s := New()
	s.ApplyRegister("c-value", parse(t, `{"type":"string"}`))
	s.ApplyRegister("a-value", parse(t, `{"type":"long"}`))
	s.ApplyRegister("b-value", parse(t, `{"type":"boolean"}`))

	got := s.Subjects()
	want := []string{"c-value", "a-value", "b-value"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestLatestVersion(t *testing.T) {
	s := New()
	s.ApplyRegister("orders-value", parse(t, `{"type":"string"}`))
	s.ApplyRegister("orders-value", parse(t, `{"type":"long"}`))

	latest, ok := s.LatestVersion("orders-value")
	if !ok || latest.Number != 2 {
		t.Fatalf("got (%+v, %v), want version 2", latest, ok)
	}
}
