// Package track turns declared track sources into published annotation
// partitions, and defines the record model shared with the resolver.
package track

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Field is one feature field with its one-or-many values. Values keep
// source order; set-like fields are deduplicated at fold time.
type Field struct {
	Name   string   `msgpack:"name"`
	Values []string `msgpack:"values"`
}

// Record is one annotation record: feature fields in declared manifest
// order plus, for interval tracks, the defining interval and the join
// key used for overlap precedence. Field order is fixed by the
// manifest, so encoding is deterministic.
type Record struct {
	JoinKey string  `msgpack:"ref,omitempty"`
	Chrom   string  `msgpack:"chrom,omitempty"`
	Start   int64   `msgpack:"start,omitempty"`
	End     int64   `msgpack:"end,omitempty"`
	Fields  []Field `msgpack:"fields"`
}

// Get returns the values of a named field, or nil.
func (r *Record) Get(name string) []string {
	for i := range r.Fields {
		if r.Fields[i].Name == name {
			return r.Fields[i].Values
		}
	}
	return nil
}

// First returns the first value of a named field, or the empty string.
func (r *Record) First(name string) string {
	vals := r.Get(name)
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

// Encode serializes the record as msgpack.
func (r *Record) Encode() ([]byte, error) {
	data, err := msgpack.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode record %s: %w", r.JoinKey, err)
	}
	return data, nil
}

// DecodeRecord deserializes a stored record.
func DecodeRecord(data []byte) (*Record, error) {
	var r Record
	if err := msgpack.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &r, nil
}
