// Package source feeds raw field-mapping records to track builds. A
// stream hides its origin (flat file, compressed file, or SQL result
// set) behind the same iterator contract.
package source

import (
	"errors"
	"io"
)

// Sentinel errors for source streams.
var (
	// ErrSourceRead marks a stream-level failure (unreadable file,
	// failed query). Fatal for the stream, counted by the builder.
	ErrSourceRead = errors.New("source: read failed")

	// ErrMalformedRow marks a single bad row. Recoverable: the builder
	// skips and counts it.
	ErrMalformedRow = errors.New("source: malformed row")
)

// Record is one raw source row as a field-name -> raw-string mapping.
type Record map[string]string

// Stream is an ordered, finite, restartable sequence of records.
// Next returns io.EOF after the last record. Row-level problems return
// a non-nil Record-less error wrapping ErrMalformedRow and the stream
// stays usable; stream-level problems wrap ErrSourceRead.
type Stream interface {
	Next() (Record, error)
	Reset() error
	Close() error
}

// Drain reads a stream to the end, partitioning rows into good records
// and malformed-row errors. Used by tests and small builds; the track
// builder consumes streams incrementally instead.
func Drain(s Stream) ([]Record, []error, error) {
	var records []Record
	var rowErrs []error
	for {
		rec, err := s.Next()
		if err == io.EOF {
			return records, rowErrs, nil
		}
		if err != nil {
			if errors.Is(err, ErrMalformedRow) {
				rowErrs = append(rowErrs, err)
				continue
			}
			return records, rowErrs, err
		}
		records = append(records, rec)
	}
}
