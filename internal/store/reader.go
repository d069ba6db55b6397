package store

import (
	"bytes"
	"os"
	"time"

	pkgerrors "github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/seqindex/trackdb/internal/assembly"
	"github.com/seqindex/trackdb/internal/interval"
)

// Reader provides random-access reads over a published partition.
// Published partitions are immutable, so a reader is safe for
// unbounded concurrent use.
type Reader struct {
	db   *bolt.DB
	path string
}

// OpenPartition opens a published partition file read-only.
// Returns ErrNotFound if the partition was never published.
func OpenPartition(dir, assemblyName, track, chrom string) (*Reader, error) {
	path := PartitionPath(dir, assemblyName, track, chrom)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, pkgerrors.Wrapf(ErrNotFound, "partition %s", path)
	}

	db, err := bolt.Open(path, 0400, &bolt.Options{ReadOnly: true, Timeout: time.Second})
	if err != nil {
		return nil, wrapIO(err, "open partition %s", path)
	}
	return &Reader{db: db, path: path}, nil
}

// Close releases the partition file.
func (r *Reader) Close() error {
	return r.db.Close()
}

// Get fetches the value stored at a region key, or ErrNotFound.
func (r *Reader) Get(key assembly.RegionKey) ([]byte, error) {
	var out []byte
	err := r.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPositions)
		if b == nil {
			return pkgerrors.Errorf("bucket %s not found", bucketPositions)
		}
		v := b.Get(key.Bytes())
		if v == nil {
			return pkgerrors.Wrapf(ErrNotFound, "key %s", key)
		}
		out = make([]byte, len(v))
		copy(out, v)
		return nil
	})
	if err != nil {
		if pkgerrors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, wrapIO(err, "get %s from %s", key, r.path)
	}
	return out, nil
}

// Scan walks position entries with start <= key <= end in key order,
// calling fn for each. fn returning false stops the scan. Each call
// opens a fresh cursor, so scans are restartable.
func (r *Reader) Scan(start, end assembly.RegionKey, fn func(key assembly.RegionKey, value []byte) bool) error {
	err := r.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPositions)
		if b == nil {
			return pkgerrors.Errorf("bucket %s not found", bucketPositions)
		}
		c := b.Cursor()
		for k, v := c.Seek(start.Bytes()); k != nil && bytes.Compare(k, end.Bytes()) <= 0; k, v = c.Next() {
			key, err := assembly.KeyFromBytes(k)
			if err != nil {
				return err
			}
			val := make([]byte, len(v))
			copy(val, v)
			if !fn(key, val) {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return wrapIO(err, "scan %s", r.path)
	}
	return nil
}

// Record fetches a serialized annotation record by its ref (join key).
func (r *Reader) Record(ref string) ([]byte, error) {
	var out []byte
	err := r.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecords)
		if b == nil {
			return pkgerrors.Errorf("bucket %s not found", bucketRecords)
		}
		v := b.Get([]byte(ref))
		if v == nil {
			return pkgerrors.Wrapf(ErrNotFound, "record %s", ref)
		}
		out = make([]byte, len(v))
		copy(out, v)
		return nil
	})
	if err != nil {
		if pkgerrors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, wrapIO(err, "record %s from %s", ref, r.path)
	}
	return out, nil
}

// Intervals loads every interval entry in the partition, in (start,
// end, ref) order, ready for bulk index construction.
func (r *Reader) Intervals() ([]interval.Entry, error) {
	var entries []interval.Entry
	err := r.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketIntervals)
		if b == nil {
			return pkgerrors.Errorf("bucket %s not found", bucketIntervals)
		}
		return b.ForEach(func(k, v []byte) error {
			start, end, ref := unpackIntervalKey(k)
			entries = append(entries, interval.Entry{Start: start, End: end, Ref: ref})
			return nil
		})
	})
	if err != nil {
		return nil, wrapIO(err, "load intervals from %s", r.path)
	}
	return entries, nil
}

// Meta returns the partition's metadata entries.
func (r *Reader) Meta() (map[string]string, error) {
	meta := make(map[string]string)
	err := r.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMeta)
		if b == nil {
			return pkgerrors.Errorf("bucket %s not found", bucketMeta)
		}
		return b.ForEach(func(k, v []byte) error {
			meta[string(k)] = string(v)
			return nil
		})
	})
	if err != nil {
		return nil, wrapIO(err, "load meta from %s", r.path)
	}
	return meta, nil
}
