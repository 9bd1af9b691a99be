// internal/bookkeeper/bookkeeper_test.go
//
// Unit-tests for the per-key fetch-status ledger.

package bookkeeper

import (
	"testing"
	"time"

	"github.com/yanizio/storex/internal/storexerr"
)

func TestLastStatusMissingKeyIsZero(t *testing.T) {
	b := New(nil)
	s := b.LastStatus("absent")
	if s.LastSuccessAt != nil || s.LastFailureAt != nil || s.LastEtag != nil || s.BackoffUntil != nil {
		t.Fatalf("expected all-null status for an unseen key, got %#v", s)
	}
}

func TestRecordSuccess(t *testing.T) {
	b := New(nil)
	now := time.Unix(1000, 0)
	etag := `"abc"`

	b.RecordSuccess("k", &etag, now)

	s := b.LastStatus("k")
	if s.LastSuccessAt == nil || !s.LastSuccessAt.Equal(now) {
		t.Fatalf("expected LastSuccessAt = %v, got %v", now, s.LastSuccessAt)
	}
	if s.LastEtag == nil || *s.LastEtag != etag {
		t.Fatalf("expected LastEtag = %q, got %v", etag, s.LastEtag)
	}
	if s.LastFailureAt != nil {
		t.Fatalf("expected RecordSuccess to leave LastFailureAt untouched")
	}
}

func TestRecordSuccessNilEtagOverwrites(t *testing.T) {
	b := New(nil)
	now := time.Unix(1000, 0)
	etag := `"abc"`

	b.RecordSuccess("k", &etag, now)
	b.RecordSuccess("k", nil, now.Add(time.Second))

	s := b.LastStatus("k")
	if s.LastEtag != nil {
		t.Fatalf("expected a nil etag on a later success to overwrite the prior etag, got %v", s.LastEtag)
	}
}

func TestRecordFailureLeavesSuccessUntouched(t *testing.T) {
	b := New(nil)
	now := time.Unix(1000, 0)
	etag := `"abc"`

	b.RecordSuccess("k", &etag, now)
	b.RecordFailure("k", storexerr.New(storexerr.NetworkTimeout, "timed out"), now.Add(time.Minute))

	s := b.LastStatus("k")
	if s.LastSuccessAt == nil || !s.LastSuccessAt.Equal(now) {
		t.Fatalf("expected RecordFailure to leave LastSuccessAt untouched, got %v", s.LastSuccessAt)
	}
	if s.LastFailureAt == nil || !s.LastFailureAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("expected LastFailureAt to be set")
	}
	if s.LastEtag == nil || *s.LastEtag != etag {
		t.Fatalf("expected RecordFailure to leave LastEtag untouched")
	}
}

func TestRecordFailureSetsBackoffFromRetryAfter(t *testing.T) {
	b := New(nil)
	now := time.Unix(1000, 0)

	err := storexerr.RateLimitedError(30 * time.Second)
	b.RecordFailure("k", err, now)

	s := b.LastStatus("k")
	want := now.Add(30 * time.Second)
	if s.BackoffUntil == nil || !s.BackoffUntil.Equal(want) {
		t.Fatalf("expected BackoffUntil = %v, got %v", want, s.BackoffUntil)
	}
	if !s.InBackoff(now.Add(time.Second)) {
		t.Fatalf("expected InBackoff to be true within the backoff window")
	}
	if s.InBackoff(now.Add(time.Minute)) {
		t.Fatalf("expected InBackoff to be false once the backoff window has elapsed")
	}
}

func TestRecordFailureWithoutRetryAfterLeavesBackoffAsIs(t *testing.T) {
	b := New(nil)
	now := time.Unix(1000, 0)

	b.RecordFailure("k", storexerr.New(storexerr.NetworkTimeout, "timed out"), now)

	s := b.LastStatus("k")
	if s.BackoffUntil != nil {
		t.Fatalf("expected no backoff for a non-rate-limited failure, got %v", s.BackoffUntil)
	}
}

func TestSetBackoffUntilClearsWithZeroTime(t *testing.T) {
	b := New(nil)
	now := time.Unix(1000, 0)

	b.SetBackoffUntil("k", now.Add(time.Minute))
	if !b.LastStatus("k").InBackoff(now) {
		t.Fatalf("expected backoff to be in effect")
	}

	b.SetBackoffUntil("k", time.Time{})
	if b.LastStatus("k").BackoffUntil != nil {
		t.Fatalf("expected a zero-time SetBackoffUntil to clear the backoff deadline")
	}
}

type recordingJournal struct {
	records []Status
}

func (j *recordingJournal) Record(key string, s Status) error {
	j.records = append(j.records, s)
	return nil
}

func TestJournalRecordsEveryTransition(t *testing.T) {
	j := &recordingJournal{}
	b := New(j)
	now := time.Unix(1000, 0)

	b.RecordSuccess("k", nil, now)
	b.RecordFailure("k", storexerr.New(storexerr.NetworkTimeout, "timed out"), now)

	if len(j.records) != 2 {
		t.Fatalf("expected 2 journaled transitions, got %d", len(j.records))
	}
}
