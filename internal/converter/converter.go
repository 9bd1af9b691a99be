// Package converter defines the injectable Net<->Db<->Domain transforms.
// Implementations are supplied by the caller; this
// package also ships a generic JSON-based converter for callers happy to
// store domain values as JSON blobs in the SoT.
package converter

import (
	"encoding/json"
	"time"
)

// Meta is the freshness-relevant projection a converter can extract from
// a Db row without fully decoding it.
type Meta struct {
	UpdatedAt time.Time
	Etag      *string
}

// Converter is the engine's injected triplet of mapping functions. Net is
// the fetcher's wire shape, Db is the SoT's persisted row shape, Domain is
// what callers of the store actually consume.
type Converter[Net, Db, Domain any] interface {
	NetToDbWrite(k string, net Net) (Db, error)
	DbReadToDomain(k string, db Db) (Domain, error)
	DbMetaFromProjection(db Db) (*Meta, bool)
}

// JSONRow is the Db shape used by the JSON converter: the domain value
// serialized as JSON plus the two freshness fields every policy needs.
type JSONRow struct {
	Payload   json.RawMessage
	UpdatedAt time.Time
	Etag      *string
}

// JSON is a Converter for callers whose Net and Domain shapes are the same
// JSON-marshalable Go type, and who are happy to persist that type as an
// opaque JSON blob in the SoT.
type JSON[V any] struct{}

// NewJSON returns a JSON converter for domain type V.
func NewJSON[V any]() JSON[V] { return JSON[V]{} }

func (JSON[V]) NetToDbWrite(k string, net V) (JSONRow, error) {
	payload, err := json.Marshal(net)
	if err != nil {
		return JSONRow{}, err
	}
	return JSONRow{Payload: payload, UpdatedAt: time.Now()}, nil
}

func (JSON[V]) DbReadToDomain(k string, db JSONRow) (V, error) {
	var v V
	if len(db.Payload) == 0 {
		return v, nil
	}
	err := json.Unmarshal(db.Payload, &v)
	return v, err
}

func (JSON[V]) DbMetaFromProjection(db JSONRow) (*Meta, bool) {
	if db.UpdatedAt.IsZero() {
		return nil, false
	}
	return &Meta{UpdatedAt: db.UpdatedAt, Etag: db.Etag}, true
}
