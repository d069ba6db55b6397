// Package store persists annotation partitions. One bbolt file holds
// the entries for a single (assembly, track, chromosome) partition;
// builds write to a staging file and publish it with an atomic rename,
// so readers observe either the fully-prior or fully-new partition.
package store

import (
	"fmt"
	"path/filepath"

	pkgerrors "github.com/pkg/errors"
)

// Sentinel errors.
var (
	// ErrNotFound is returned by point lookups on absent keys.
	ErrNotFound = pkgerrors.New("store: key not found")

	// ErrIO marks a persistence-layer failure. Fatal for the build it
	// occurs in; builds are retried wholesale, never resumed.
	ErrIO = pkgerrors.New("store: io failure")

	// ErrDuplicateKey marks a repeated put of the same key within one
	// build. Store entries are write-once per build.
	ErrDuplicateKey = pkgerrors.New("store: duplicate key in build")
)

// stagingExt is the extension of an in-progress partition file. The
// file is renamed over the published path only on successful publish.
const stagingExt = ".building"

// Bucket names within a partition file.
var (
	bucketPositions = []byte("positions")
	bucketRecords   = []byte("records")
	bucketIntervals = []byte("intervals")
	bucketMeta      = []byte("meta")
)

// PartitionPath returns the published file path for a partition.
func PartitionPath(dir, assembly, track, chrom string) string {
	return filepath.Join(dir, assembly, track, chrom+".db")
}

// wrapIO attaches partition context to a low-level failure and tags it
// as an ErrIO so callers can classify it.
func wrapIO(err error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrIO, pkgerrors.Wrapf(err, format, args...))
}
