// Package sot defines the Source-of-Truth adapter contract: the engine's
// borrowed local durable store. The engine never
// interprets Db beyond handing it to a Converter; SoT implementations only
// need to round-trip it.
package sot

import "context"

// Row is one observed state of a key's row: either present (Value set,
// Absent false) or absent (the key was deleted or never written).
type Row[Db any] struct {
	Value  Db
	Absent bool
}

// SourceOfTruth is the engine's local durable store contract. K is the
// string serialization of a key.Key (see internal/key); Db is the
// implementation-chosen persisted row shape.
//
// reader's channel must emit a fresh Row after any Write/Delete that has
// observably completed: the engine
// relies on this to keep SoT-origin stream emissions live. The channel is
// closed when ctx is canceled; it is never closed for any other reason
// while ctx remains live, since "finite only on close" rules out an
// adapter silently ending a subscription.
type SourceOfTruth[Db any] interface {
	Reader(ctx context.Context, k string) (<-chan Row[Db], error)
	Write(ctx context.Context, k string, dbValue Db) error
	Delete(ctx context.Context, k string) error
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
	Rekey(ctx context.Context, oldKey, newKey string, reconcile func(old Db) Db) error
}
