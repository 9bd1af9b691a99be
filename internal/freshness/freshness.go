// Package freshness implements the pure fetch-plan validator: a function
// of (now, policy, sotMeta, status) that decides whether
// a read needs to skip, conditionally, or unconditionally hit the network.
package freshness

import (
	"time"

	"github.com/yanizio/storex/internal/bookkeeper"
)

// PolicyKind discriminates the freshness policy sum type.
type PolicyKind int

const (
	CachedOrFetch PolicyKind = iota
	MinAge
	MustBeFresh
	StaleIfError
)

// Policy is the consumer-declared tolerance for staleness. MinAgeDuration
// is only meaningful when Kind is
// MinAge; CacheTTL is the TTL CachedOrFetch checks SoT staleness against.
type Policy struct {
	Kind           PolicyKind
	MinAgeDuration time.Duration
	CacheTTL       time.Duration
}

// PlanKind discriminates the FetchPlan sum type.
type PlanKind int

const (
	Skip PlanKind = iota
	Conditional
	Unconditional
)

// Plan is the engine-decided fetch action.
type Plan struct {
	Kind         PlanKind
	Etag         *string
	LastModified *time.Time
}

// Meta is the projected SoT metadata a validator decision is based on.
// A nil *Meta means "no SoT row exists for this key."
type Meta struct {
	UpdatedAt time.Time
	Etag      *string
}

// Validate computes a FetchPlan per the decision table below. It is a
// pure function: no I/O, no locking, safe to call from any goroutine.
func Validate(now time.Time, policy Policy, sotMeta *Meta, status bookkeeper.Status) Plan {
	if status.InBackoff(now) {
		return Plan{Kind: Skip}
	}

	switch policy.Kind {
	case MustBeFresh:
		return Plan{Kind: Unconditional}

	case CachedOrFetch:
		if sotMeta != nil && now.Sub(sotMeta.UpdatedAt) <= policy.CacheTTL {
			return Plan{Kind: Skip}
		}
		return conditionalOrUnconditional(sotMeta)

	case MinAge:
		if sotMeta != nil && now.Sub(sotMeta.UpdatedAt) <= policy.MinAgeDuration {
			return Plan{Kind: Skip}
		}
		return conditionalOrUnconditional(sotMeta)

	case StaleIfError:
		return conditionalOrUnconditional(sotMeta)

	default:
		return Plan{Kind: Unconditional}
	}
}

// conditionalOrUnconditional implements the "Conditional if sotMeta exists,
// else Unconditional" shape shared by three rows of the decision table.
// Conditional always carries lastModified whenever sotMeta.UpdatedAt
// exists, even when etag is absent, so adapters can fall back to
// If-Modified-Since.
func conditionalOrUnconditional(sotMeta *Meta) Plan {
	if sotMeta == nil {
		return Plan{Kind: Unconditional}
	}
	t := sotMeta.UpdatedAt
	return Plan{Kind: Conditional, Etag: sotMeta.Etag, LastModified: &t}
}
