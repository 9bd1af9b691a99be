// internal/freshness/freshness_test.go
//
// Unit-tests for the pure fetch-plan validator.

package freshness

import (
	"testing"
	"time"

	"github.com/yanizio/storex/internal/bookkeeper"
)

var now = time.Unix(100000, 0)

func TestValidateInBackoffAlwaysSkips(t *testing.T) {
	until := now.Add(time.Minute)
	status := bookkeeper.Status{BackoffUntil: &until}

	for _, kind := range []PolicyKind{CachedOrFetch, MinAge, MustBeFresh, StaleIfError} {
		plan := Validate(now, Policy{Kind: kind}, nil, status)
		if plan.Kind != Skip {
			t.Fatalf("policy %v: expected Skip while in backoff, got %v", kind, plan.Kind)
		}
	}
}

func TestValidateMustBeFreshAlwaysUnconditional(t *testing.T) {
	meta := &Meta{UpdatedAt: now}
	plan := Validate(now, Policy{Kind: MustBeFresh}, meta, bookkeeper.Status{})
	if plan.Kind != Unconditional {
		t.Fatalf("expected Unconditional regardless of SoT freshness, got %v", plan.Kind)
	}
}

func TestValidateCachedOrFetchWithinTTLSkips(t *testing.T) {
	meta := &Meta{UpdatedAt: now.Add(-30 * time.Second)}
	policy := Policy{Kind: CachedOrFetch, CacheTTL: time.Minute}

	plan := Validate(now, policy, meta, bookkeeper.Status{})
	if plan.Kind != Skip {
		t.Fatalf("expected Skip when within CacheTTL, got %v", plan.Kind)
	}
}

func TestValidateCachedOrFetchPastTTLIsConditional(t *testing.T) {
	etag := `"abc"`
	meta := &Meta{UpdatedAt: now.Add(-2 * time.Minute), Etag: &etag}
	policy := Policy{Kind: CachedOrFetch, CacheTTL: time.Minute}

	plan := Validate(now, policy, meta, bookkeeper.Status{})
	if plan.Kind != Conditional {
		t.Fatalf("expected Conditional once past CacheTTL with a SoT row present, got %v", plan.Kind)
	}
	if plan.Etag == nil || *plan.Etag != etag {
		t.Fatalf("expected the conditional plan to carry the SoT etag")
	}
	if plan.LastModified == nil {
		t.Fatalf("expected the conditional plan to carry LastModified even with an etag present")
	}
}

func TestValidateCachedOrFetchNoSoTRowIsUnconditional(t *testing.T) {
	policy := Policy{Kind: CachedOrFetch, CacheTTL: time.Minute}
	plan := Validate(now, policy, nil, bookkeeper.Status{})
	if plan.Kind != Unconditional {
		t.Fatalf("expected Unconditional with no SoT row, got %v", plan.Kind)
	}
}

func TestValidateMinAge(t *testing.T) {
	policy := Policy{Kind: MinAge, MinAgeDuration: time.Minute}

	fresh := &Meta{UpdatedAt: now.Add(-30 * time.Second)}
	if plan := Validate(now, policy, fresh, bookkeeper.Status{}); plan.Kind != Skip {
		t.Fatalf("expected Skip within MinAgeDuration, got %v", plan.Kind)
	}

	stale := &Meta{UpdatedAt: now.Add(-2 * time.Minute)}
	if plan := Validate(now, policy, stale, bookkeeper.Status{}); plan.Kind != Conditional {
		t.Fatalf("expected Conditional past MinAgeDuration, got %v", plan.Kind)
	}
}

func TestValidateStaleIfErrorAlwaysAttemptsFetch(t *testing.T) {
	policy := Policy{Kind: StaleIfError}

	meta := &Meta{UpdatedAt: now.Add(-time.Hour)}
	plan := Validate(now, policy, meta, bookkeeper.Status{})
	if plan.Kind != Conditional {
		t.Fatalf("expected Conditional for StaleIfError with a SoT row regardless of age, got %v", plan.Kind)
	}

	plan = Validate(now, policy, nil, bookkeeper.Status{})
	if plan.Kind != Unconditional {
		t.Fatalf("expected Unconditional for StaleIfError with no SoT row, got %v", plan.Kind)
	}
}
