// Package sqlstore is the sqlx-backed SourceOfTruth reference adapter,
// adapted from internal/database's connection-pool conventions. Rows are
// stored one-per-key in a single table; the Db shape is the caller-chosen
// converter.JSONRow (or any Go type the caller can (de)serialize to/from a
// TEXT column via RowCodec).
//
// Polling, not LISTEN/NOTIFY or triggers, drives the reader subscription:
// this package targets MySQL, which has no portable change feed. A short
// poll interval is an accepted tradeoff for a
// reference adapter; production callers with a changefeed-capable backend
// should write their own SourceOfTruth.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/yanizio/storex/internal/sot"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS storex_row (
	k           VARCHAR(512) PRIMARY KEY,
	payload     TEXT NOT NULL,
	updated_at  DATETIME NOT NULL,
	etag        VARCHAR(256) NULL
)`

// RowCodec (de)serializes Db to and from the TEXT payload column.
type RowCodec[Db any] interface {
	Encode(v Db) (payload string, etag *string, err error)
	Decode(payload string, etag *string, updatedAt time.Time) (Db, error)
}

// Store is a sqlx-backed SourceOfTruth[Db]. It owns no connection pool of
// its own; callers open one (for example with internal/database.Open) and
// pass it in, and may share it with other consumers.
type Store[Db any] struct {
	db          *sqlx.DB
	codec       RowCodec[Db]
	pollEvery   time.Duration
	mu          sync.Mutex
	subscribers map[string][]chan sot.Row[Db]
}

// New opens (and migrates) a Store against db. pollEvery controls how often
// active readers re-poll the row for external changes; 0 disables polling
// and readers only see writes performed through this Store instance.
func New[Db any](db *sqlx.DB, codec RowCodec[Db], pollEvery time.Duration) (*Store[Db], error) {
	if _, err := db.Exec(schemaDDL); err != nil {
		return nil, err
	}
	return &Store[Db]{
		db:          db,
		codec:       codec,
		pollEvery:   pollEvery,
		subscribers: make(map[string][]chan sot.Row[Db]),
	}, nil
}

type row struct {
	K         string    `db:"k"`
	Payload   string    `db:"payload"`
	UpdatedAt time.Time `db:"updated_at"`
	Etag      *string   `db:"etag"`
}

func (s *Store[Db]) loadRow(ctx context.Context, k string) (sot.Row[Db], error) {
	var r row
	err := s.db.GetContext(ctx, &r, `SELECT k, payload, updated_at, etag FROM storex_row WHERE k = ?`, k)
	if errors.Is(err, sql.ErrNoRows) {
		return sot.Row[Db]{Absent: true}, nil
	}
	if err != nil {
		return sot.Row[Db]{}, err
	}
	v, err := s.codec.Decode(r.Payload, r.Etag, r.UpdatedAt)
	if err != nil {
		return sot.Row[Db]{}, err
	}
	return sot.Row[Db]{Value: v}, nil
}

// Reader emits the current row, then (if pollEvery > 0) re-polls on that
// interval until ctx is canceled, plus immediately after any Write/Delete
// this Store instance itself performs for k.
func (s *Store[Db]) Reader(ctx context.Context, k string) (<-chan sot.Row[Db], error) {
	out := make(chan sot.Row[Db], 4)

	cur, err := s.loadRow(ctx, k)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.subscribers[k] = append(s.subscribers[k], out)
	s.mu.Unlock()

	out <- cur

	go func() {
		var ticker *time.Ticker
		var tickC <-chan time.Time
		if s.pollEvery > 0 {
			ticker = time.NewTicker(s.pollEvery)
			tickC = ticker.C
			defer ticker.Stop()
		}

		for {
			select {
			case <-ctx.Done():
				s.unsubscribe(k, out)
				close(out)
				return
			case <-tickC:
				r, err := s.loadRow(ctx, k)
				if err == nil {
					select {
					case out <- r:
					default:
					}
				}
			}
		}
	}()

	return out, nil
}

func (s *Store[Db]) unsubscribe(k string, ch chan sot.Row[Db]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	subs := s.subscribers[k]
	for i, sb := range subs {
		if sb == ch {
			s.subscribers[k] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

func (s *Store[Db]) notify(k string, r sot.Row[Db]) {
	s.mu.Lock()
	subs := append([]chan sot.Row[Db]{}, s.subscribers[k]...)
	s.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- r:
		default:
		}
	}
}

// Write upserts dbValue for k inside a single statement, then re-emits to
// active readers so the "fresh value after write" contract holds without
// waiting for the next poll.
func (s *Store[Db]) Write(ctx context.Context, k string, dbValue Db) error {
	payload, etag, err := s.codec.Encode(dbValue)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO storex_row (k, payload, updated_at, etag)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE payload = VALUES(payload), updated_at = VALUES(updated_at), etag = VALUES(etag)`,
		k, payload, now, etag)
	if err != nil {
		return err
	}

	s.notify(k, sot.Row[Db]{Value: dbValue})
	return nil
}

// Delete removes k's row and notifies readers of its absence.
func (s *Store[Db]) Delete(ctx context.Context, k string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM storex_row WHERE k = ?`, k); err != nil {
		return err
	}
	s.notify(k, sot.Row[Db]{Absent: true})
	return nil
}

// WithTransaction opens an sqlx transaction, runs fn, and commits (or rolls
// back if fn fails). The transaction is not passed to fn: Write and Delete
// calls inside fn go through the Store's pool, outside the transaction, so
// they are not applied as one atomic unit.
func (s *Store[Db]) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(ctx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Rekey renames a row, applying reconcile to its decoded value before
// re-encoding under newKey.
func (s *Store[Db]) Rekey(ctx context.Context, oldKey, newKey string, reconcile func(old Db) Db) error {
	old, err := s.loadRow(ctx, oldKey)
	if err != nil {
		return err
	}
	if old.Absent {
		return s.Delete(ctx, oldKey)
	}
	if err := s.Write(ctx, newKey, reconcile(old.Value)); err != nil {
		return err
	}
	return s.Delete(ctx, oldKey)
}
