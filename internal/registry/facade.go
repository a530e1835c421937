package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/lattice-stream/registry/internal/canon"
	"github.com/lattice-stream/registry/internal/compat"
	"github.com/lattice-stream/registry/internal/coordinator"
	"github.com/lattice-stream/registry/internal/logstore"
	"github.com/lattice-stream/registry/internal/metrics"
	"github.com/lattice-stream/registry/internal/statemachine"
	"github.com/lattice-stream/registry/internal/store"
)

// Latest selects a subject's highest-numbered version in GetVersion and
// TestCompatibility, matching the "latest" keyword spec.md §6 allows in
// place of a version number.
const Latest = -1

// Facade is the registry's single entry point: every read consults the
// local store; every write appends to the log and waits for its own
// node's replay loop to apply it before acknowledging (spec.md §4.4).
type Facade struct {
	log   logstore.Log
	mach  *statemachine.Machine
	coord coordinator.Coordinator
	mtr   *metrics.Metrics
}

// NewFacade wires a Facade from its three collaborators. mach must be
// replaying log (its Run already started) for reads to observe writes.
func NewFacade(log logstore.Log, mach *statemachine.Machine, coord coordinator.Coordinator) *Facade {
	return &Facade{log: log, mach: mach, coord: coord}
}

// SetMetrics attaches m so every log append records its duration.
// Optional — a Facade with no metrics attached behaves exactly as
// before.
func (f *Facade) SetMetrics(mtr *metrics.Metrics) { f.mtr = mtr }

// appendCommand is Append with an AppendDuration observation wrapped
// around it, the "append latency" SPEC_FULL.md's ambient A3 component
// names.
func (f *Facade) appendCommand(ctx context.Context, cmd logstore.Command) (int64, error) {
	start := time.Now()
	offset, err := f.log.Append(ctx, cmd)
	if f.mtr != nil {
		f.mtr.AppendDuration.Observe(time.Since(start).Seconds())
	}
	return offset, err
}

// CoordinatorPrimaryEndpoint exposes the coordinator's known primary
// endpoint, for the transport layer to advertise when it rejects a
// write with KindNotPrimary.
func (f *Facade) CoordinatorPrimaryEndpoint() (string, bool) {
	return f.coord.PrimaryEndpoint()
}

func (f *Facade) requirePrimary() error {
	if f.coord.IsPrimary() {
		return nil
	}
	ep, _ := f.coord.PrimaryEndpoint()
	return newError(KindNotPrimary, fmt.Sprintf("this node is not primary; forward to %s", ep))
}

// RegisterResult is the outcome of a successful Register call.
type RegisterResult struct {
	SchemaID int
	Version  int
}

// Register parses, deduplicates, and compatibility-checks schemaText
// before appending a RegisterSchema command for subject. A schema whose
// fingerprint already exists under subject is a no-op that returns the
// existing (SchemaId, version) pair, per spec.md §4.1's dedup rule.
func (f *Facade) Register(ctx context.Context, subject, schemaText string) (RegisterResult, error) {
	if err := f.requirePrimary(); err != nil {
		return RegisterResult{}, err
	}

	schema, err := canon.Parse(schemaText)
	if err != nil {
		return RegisterResult{}, wrapError(KindInvalidSchema, "schema does not parse", err)
	}

	st := f.mach.Store()
	if v, ok := st.LookupByFingerprint(subject, schema.StructuralFingerprint); ok {
		return RegisterResult{SchemaID: v.SchemaID, Version: v.Number}, nil
	}

	existing, err := existingSchemas(st, subject)
	if err != nil {
		return RegisterResult{}, err
	}
	policy := st.EffectivePolicy(subject)
	if result := compat.Check(schema, existing, policy); !result.Compatible {
		return RegisterResult{}, newError(KindIncompatible, result.Reason)
	}

	offset, err := f.appendCommand(ctx, logstore.Command{
		Kind:          logstore.KindRegisterSchema,
		Subject:       subject,
		CanonicalText: schema.CanonicalText,
	})
	if err != nil {
		return RegisterResult{}, wrapError(KindLogUnavailable, "append register command", err)
	}
	if err := f.mach.WaitFor(ctx, offset); err != nil {
		return RegisterResult{}, wrapError(KindLogUnavailable, "await local replay", err)
	}

	v, ok := st.LookupByFingerprint(subject, schema.StructuralFingerprint)
	if !ok {
		return RegisterResult{}, wrapError(KindLogUnavailable, "replay did not produce the expected version", nil)
	}
	return RegisterResult{SchemaID: v.SchemaID, Version: v.Number}, nil
}

func existingSchemas(st *store.Store, subject string) ([]*canon.Schema, error) {
	versions, ok := st.AllVersionsOrdered(subject)
	if !ok {
		return nil, nil
	}
	out := make([]*canon.Schema, 0, len(versions))
	for _, v := range versions {
		schema, ok := st.SchemaByID(v.SchemaID)
		if !ok {
			return nil, wrapError(KindLogUnavailable, fmt.Sprintf("schema id %d missing from store", v.SchemaID), nil)
		}
		out = append(out, schema)
	}
	return out, nil
}

// GetSchemaByID returns the globally unique schema registered under id.
func (f *Facade) GetSchemaByID(id int) (*canon.Schema, error) {
	schema, ok := f.mach.Store().SchemaByID(id)
	if !ok {
		return nil, newError(KindSchemaNotFound, fmt.Sprintf("schema id %d not found", id))
	}
	return schema, nil
}

// ListSubjects returns every subject with at least one registered
// version, in order of first registration.
func (f *Facade) ListSubjects() []string {
	return f.mach.Store().Subjects()
}

// ListVersions returns subject's version numbers in ascending order.
func (f *Facade) ListVersions(subject string) ([]int, error) {
	versions, ok := f.mach.Store().Versions(subject)
	if !ok {
		return nil, newError(KindSubjectNotFound, fmt.Sprintf("subject %q not found", subject))
	}
	return versions, nil
}

// GetVersion returns the (version, schema) pair for subject at the given
// version number, or its latest version when version == Latest.
func (f *Facade) GetVersion(subject string, version int) (store.Version, *canon.Schema, error) {
	st := f.mach.Store()
	if !st.HasSubject(subject) {
		return store.Version{}, nil, newError(KindSubjectNotFound, fmt.Sprintf("subject %q not found", subject))
	}

	var v store.Version
	var ok bool
	if version == Latest {
		v, ok = st.LatestVersion(subject)
	} else {
		if version <= 0 {
			return store.Version{}, nil, newError(KindInvalidVersion, fmt.Sprintf("version %d is not positive", version))
		}
		v, ok = st.VersionEntry(subject, version)
	}
	if !ok {
		return store.Version{}, nil, newError(KindVersionNotFound, fmt.Sprintf("version %d of subject %q not found", version, subject))
	}

	schema, ok := st.SchemaByID(v.SchemaID)
	if !ok {
		return store.Version{}, nil, wrapError(KindLogUnavailable, "schema missing for a known version", nil)
	}
	return v, schema, nil
}

// Lookup finds the version of subject already registered with the exact
// same structural content as schemaText, without registering anything.
func (f *Facade) Lookup(subject, schemaText string) (store.Version, error) {
	st := f.mach.Store()
	if !st.HasSubject(subject) {
		return store.Version{}, newError(KindSubjectNotFound, fmt.Sprintf("subject %q not found", subject))
	}

	schema, err := canon.Parse(schemaText)
	if err != nil {
		return store.Version{}, wrapError(KindInvalidSchema, "schema does not parse", err)
	}

	v, ok := st.LookupByFingerprint(subject, schema.StructuralFingerprint)
	if !ok {
		return store.Version{}, newError(KindSchemaNotFound, "schema is not registered under subject")
	}
	return v, nil
}

// TestCompatibility reports whether schemaText would be accepted against
// a specific existing version of subject, under the subject's effective
// policy. It never appends anything.
func (f *Facade) TestCompatibility(subject string, version int, schemaText string) (compat.Result, error) {
	st := f.mach.Store()
	if !st.HasSubject(subject) {
		return compat.Result{}, newError(KindSubjectNotFound, fmt.Sprintf("subject %q not found", subject))
	}

	var target store.Version
	var ok bool
	if version == Latest {
		target, ok = st.LatestVersion(subject)
	} else {
		if version <= 0 {
			return compat.Result{}, newError(KindInvalidVersion, fmt.Sprintf("version %d is not positive", version))
		}
		target, ok = st.VersionEntry(subject, version)
	}
	if !ok {
		return compat.Result{}, newError(KindVersionNotFound, fmt.Sprintf("version %d of subject %q not found", version, subject))
	}

	candidate, err := canon.Parse(schemaText)
	if err != nil {
		return compat.Result{}, wrapError(KindInvalidSchema, "schema does not parse", err)
	}

	existingSchema, ok := st.SchemaByID(target.SchemaID)
	if !ok {
		return compat.Result{}, wrapError(KindLogUnavailable, "schema missing for a known version", nil)
	}

	policy := st.EffectivePolicy(subject)
	return compat.Check(candidate, []*canon.Schema{existingSchema}, policy), nil
}

// GetConfig returns subject's compatibility policy override. An empty
// subject means the global default, which always has a value. A
// subject with no override errors unless defaultToGlobal is set, in
// which case the global default is returned instead — the asymmetry
// with SetConfig described in SPEC_FULL.md's Design Notes: a subject
// needs no prior registration to receive a config override, but reading
// "its" config without an override is only a default-to-global fallback
// on request, not automatic.
func (f *Facade) GetConfig(subject string, defaultToGlobal bool) (compat.Policy, error) {
	st := f.mach.Store()
	if subject == "" {
		return st.GlobalConfig(), nil
	}
	if p, ok := st.SubjectConfig(subject); ok {
		return p, nil
	}
	if defaultToGlobal {
		return st.GlobalConfig(), nil
	}
	return "", newError(KindSubjectNotFound, fmt.Sprintf("subject %q has no compatibility override", subject))
}

// SetConfig sets the compatibility policy for subject, or the global
// default when subject is empty. Unlike GetConfig, this never requires
// subject to already have any registered schema.
func (f *Facade) SetConfig(ctx context.Context, subject string, policy compat.Policy) error {
	if err := f.requirePrimary(); err != nil {
		return err
	}
	if !compat.Valid(policy) {
		return newError(KindInvalidSchema, fmt.Sprintf("unknown compatibility policy %q", policy))
	}

	offset, err := f.appendCommand(ctx, logstore.Command{
		Kind:    logstore.KindSetConfig,
		Subject: subject,
		Policy:  string(policy),
	})
	if err != nil {
		return wrapError(KindLogUnavailable, "append set-config command", err)
	}
	if err := f.mach.WaitFor(ctx, offset); err != nil {
		return wrapError(KindLogUnavailable, "await local replay", err)
	}
	return nil
}
