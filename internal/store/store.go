// Package store implements the schema registry's content-addressed
// store (C3): the schema-by-id table, the fingerprint dedup index, the
// per-subject version index, and the global/subject compatibility
// config. All mutation flows through Apply* methods, called exclusively
// by the log-backed state machine's replay loop (internal/statemachine);
// every other caller only reads, via a consistent snapshot taken under
// RLock.
package store

import (
	"sort"
	"sync"

	"github.com/lattice-stream/registry/internal/canon"
	"github.com/lattice-stream/registry/internal/compat"
)

// Version is a single (version_number, schema_id) pair within a subject.
type Version struct {
	Number   int
	SchemaID int
}

// Store is the process-resident mapping described in spec.md §4.3. The
// zero value is not usable; construct with New.
type Store struct {
	mu sync.RWMutex

	schemasByID     map[int]*canon.Schema
	idByFingerprint map[string]int
	nextID          int

	subjects      map[string][]Version
	subjectOrder  []string // insertion order of first registration

	globalConfig  compat.Policy
	subjectConfig map[string]compat.Policy
}

// DefaultGlobalPolicy is the global compatibility default when no
// SetConfig command has ever targeted the global scope.
const DefaultGlobalPolicy = compat.None

// New returns an empty Store with the global config defaulted per
// spec.md §3 ("the global config must always have a value").
func New() *Store {
	return &Store{
		schemasByID:     make(map[int]*canon.Schema),
		idByFingerprint: make(map[string]int),
		subjects:        make(map[string][]Version),
		globalConfig:    DefaultGlobalPolicy,
		subjectConfig:   make(map[string]compat.Policy),
	}
}

// ApplyResult reports what a replayed RegisterSchema command produced.
type ApplyResult struct {
	SchemaID     int
	Version      int
	CreatedID      bool // a fresh SchemaId was assigned
	CreatedVersion bool // a fresh version was appended under the subject
}

// ApplyRegister replays a RegisterSchema command deterministically: reuse
// the SchemaId for an already-seen fingerprint, otherwise assign
// max(existing)+1; reuse the version if (subject, fingerprint) was
// already registered under this subject, otherwise append
// len(subjects[subject])+1. Must only be called from the replay loop.
func (s *Store) ApplyRegister(subject string, schema *canon.Schema) ApplyResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, idExists := s.idByFingerprint[schema.StructuralFingerprint]
	createdID := !idExists
	if !idExists {
		s.nextID++
		id = s.nextID
		s.idByFingerprint[schema.StructuralFingerprint] = id
		s.schemasByID[id] = schema
	}

	versions := s.subjects[subject]
	if _, firstSeen := s.subjects[subject]; !firstSeen {
		s.subjectOrder = append(s.subjectOrder, subject)
	}
	for _, v := range versions {
		if v.SchemaID == id {
			return ApplyResult{SchemaID: id, Version: v.Number, CreatedID: createdID}
		}
	}

	versionNumber := len(versions) + 1
	s.subjects[subject] = append(versions, Version{Number: versionNumber, SchemaID: id})
	return ApplyResult{SchemaID: id, Version: versionNumber, CreatedID: createdID, CreatedVersion: true}
}

// Scope selects whether a config command targets the global default or a
// specific subject.
type Scope struct {
	Subject string // empty means global
}

// Global is the Scope naming the registry-wide default config.
var Global = Scope{}

// ApplySetConfig replays a SetConfig command: last write wins, serialized
// by the log. Must only be called from the replay loop.
func (s *Store) ApplySetConfig(scope Scope, policy compat.Policy) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if scope.Subject == "" {
		s.globalConfig = policy
		return
	}
	s.subjectConfig[scope.Subject] = policy
}

// SchemaByID returns the schema registered under id, if any id has ever
// been assigned that value.
func (s *Store) SchemaByID(id int) (*canon.Schema, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sch, ok := s.schemasByID[id]
	return sch, ok
}

// IDByFingerprint looks up the global schema id for a fingerprint,
// regardless of subject.
func (s *Store) IDByFingerprint(fingerprint string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.idByFingerprint[fingerprint]
	return id, ok
}

// Subjects returns subject names in insertion order (order of first
// successful registration).
func (s *Store) Subjects() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.subjectOrder))
	copy(out, s.subjectOrder)
	return out
}

// HasSubject reports whether subject has at least one version.
func (s *Store) HasSubject(subject string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.subjects[subject]
	return ok
}

// Versions returns the ascending version numbers for subject.
func (s *Store) Versions(subject string) ([]int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions, ok := s.subjects[subject]
	if !ok {
		return nil, false
	}
	out := make([]int, len(versions))
	for i, v := range versions {
		out[i] = v.Number
	}
	sort.Ints(out)
	return out, true
}

// VersionEntry returns the (version, schema_id) pair for a specific
// version number of subject.
func (s *Store) VersionEntry(subject string, number int) (Version, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, v := range s.subjects[subject] {
		if v.Number == number {
			return v, true
		}
	}
	return Version{}, false
}

// LatestVersion returns the highest-numbered version for subject.
func (s *Store) LatestVersion(subject string) (Version, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions := s.subjects[subject]
	if len(versions) == 0 {
		return Version{}, false
	}
	latest := versions[0]
	for _, v := range versions[1:] {
		if v.Number > latest.Number {
			latest = v
		}
	}
	return latest, true
}

// AllVersionsOrdered returns every version of subject, oldest first, for
// use by the compatibility engine's transitive policies.
func (s *Store) AllVersionsOrdered(subject string) ([]Version, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions, ok := s.subjects[subject]
	if !ok {
		return nil, false
	}
	out := make([]Version, len(versions))
	copy(out, versions)
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, true
}

// LookupByFingerprint finds the version of subject whose schema has the
// given fingerprint.
func (s *Store) LookupByFingerprint(subject, fingerprint string) (Version, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.idByFingerprint[fingerprint]
	if !ok {
		return Version{}, false
	}
	for _, v := range s.subjects[subject] {
		if v.SchemaID == id {
			return v, true
		}
	}
	return Version{}, false
}

// GlobalConfig returns the registry-wide default compatibility policy,
// which always has a value.
func (s *Store) GlobalConfig() compat.Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.globalConfig
}

// SubjectConfig returns the per-subject override, if one has been set.
// It does NOT fall back to the global value — callers that want the
// effective policy should do that themselves (see EffectivePolicy).
func (s *Store) SubjectConfig(subject string) (compat.Policy, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.subjectConfig[subject]
	return p, ok
}

// EffectivePolicy returns the policy that governs writes to subject: its
// own override if set, otherwise the global default.
func (s *Store) EffectivePolicy(subject string) compat.Policy {
	if p, ok := s.SubjectConfig(subject); ok {
		return p
	}
	return s.GlobalConfig()
}
