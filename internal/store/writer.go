package store

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"time"

	pkgerrors "github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/seqindex/trackdb/internal/assembly"
)

// flushEvery is the number of buffered puts that triggers a write
// transaction. Builds are batch workloads; large transactions amortize
// bbolt's per-commit fsync.
const flushEvery = 50000

// Writer stages a partition build. All puts go to a .building file;
// nothing is visible to readers until Publish renames it over the
// published path. Single-writer: one Writer owns one partition.
type Writer struct {
	db        *bolt.DB
	staging   string
	published string

	pending []pendingPut
	seen    map[string]struct{}
}

type pendingPut struct {
	bucket []byte
	key    []byte
	value  []byte
}

// CreatePartition opens a staging file for a partition build, replacing
// any staging leftover from an earlier failed build. The previously
// published file, if any, is untouched until Publish.
func CreatePartition(dir, assemblyName, track, chrom string) (*Writer, error) {
	published := PartitionPath(dir, assemblyName, track, chrom)
	staging := published + stagingExt

	if err := os.MkdirAll(filepath.Dir(published), 0750); err != nil {
		return nil, wrapIO(err, "mkdir %s", filepath.Dir(published))
	}
	if err := os.RemoveAll(staging); err != nil {
		return nil, wrapIO(err, "clear stale staging %s", staging)
	}

	db, err := bolt.Open(staging, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, wrapIO(err, "open staging %s", staging)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketPositions, bucketRecords, bucketIntervals, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return pkgerrors.Wrapf(err, "create bucket %s", name)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		os.Remove(staging)
		return nil, wrapIO(err, "init staging %s", staging)
	}

	return &Writer{
		db:        db,
		staging:   staging,
		published: published,
		seen:      make(map[string]struct{}),
	}, nil
}

// PutPosition stages a region-key -> value entry (dense/point tracks).
func (w *Writer) PutPosition(key assembly.RegionKey, value []byte) error {
	return w.put(bucketPositions, key.Bytes(), value)
}

// PutRecord stages a join-key -> serialized-record entry.
func (w *Writer) PutRecord(ref string, value []byte) error {
	return w.put(bucketRecords, []byte(ref), value)
}

// PutInterval stages an interval entry pointing at a record ref. The
// key packs (start, end, ref) so a bucket scan recovers entries in
// (start, end, ref) order.
func (w *Writer) PutInterval(start, end int64, ref string) error {
	return w.put(bucketIntervals, packIntervalKey(start, end, ref), []byte(ref))
}

// SetMeta stages a metadata entry (provenance, counters, convention).
// Meta keys are exempt from write-once: counters are restamped at publish.
func (w *Writer) SetMeta(key, value string) error {
	w.pending = append(w.pending, pendingPut{bucket: bucketMeta, key: []byte(key), value: []byte(value)})
	if len(w.pending) >= flushEvery {
		return w.flush()
	}
	return nil
}

func (w *Writer) put(bucket, key, value []byte) error {
	id := string(bucket) + "\x00" + string(key)
	if _, dup := w.seen[id]; dup {
		return pkgerrors.Wrapf(ErrDuplicateKey, "bucket %s key %x", bucket, key)
	}
	w.seen[id] = struct{}{}

	// Copy: callers may reuse their buffers between puts.
	k := make([]byte, len(key))
	copy(k, key)
	v := make([]byte, len(value))
	copy(v, value)

	w.pending = append(w.pending, pendingPut{bucket: bucket, key: k, value: v})
	if len(w.pending) >= flushEvery {
		return w.flush()
	}
	return nil
}

func (w *Writer) flush() error {
	if len(w.pending) == 0 {
		return nil
	}
	batch := w.pending
	w.pending = nil

	err := w.db.Update(func(tx *bolt.Tx) error {
		for _, p := range batch {
			b := tx.Bucket(p.bucket)
			if b == nil {
				return pkgerrors.Errorf("bucket %s not found", p.bucket)
			}
			if err := b.Put(p.key, p.value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return wrapIO(err, "flush %d entries to %s", len(batch), w.staging)
	}
	return nil
}

// Publish flushes remaining entries, closes the staging file, and
// atomically renames it over the published path. After Publish the
// writer is spent.
func (w *Writer) Publish() error {
	if err := w.flush(); err != nil {
		w.Discard()
		return err
	}
	if err := w.db.Close(); err != nil {
		return wrapIO(err, "close staging %s", w.staging)
	}
	w.db = nil
	if err := os.Rename(w.staging, w.published); err != nil {
		return wrapIO(err, "publish %s", w.published)
	}
	return nil
}

// Discard drops the staging file, leaving any previously published
// partition untouched. Safe to call after a failed Publish.
func (w *Writer) Discard() {
	if w.db != nil {
		w.db.Close()
		w.db = nil
	}
	os.Remove(w.staging)
	w.pending = nil
}

// intervalRefOffset is where the record ref starts inside a packed
// interval key: start uint32 | end uint32, both big-endian.
const intervalRefOffset = 8

func packIntervalKey(start, end int64, ref string) []byte {
	key := make([]byte, intervalRefOffset+len(ref))
	binary.BigEndian.PutUint32(key[0:4], uint32(start))
	binary.BigEndian.PutUint32(key[4:8], uint32(end))
	copy(key[intervalRefOffset:], ref)
	return key
}

func unpackIntervalKey(key []byte) (start, end int64, ref string) {
	start = int64(binary.BigEndian.Uint32(key[0:4]))
	end = int64(binary.BigEndian.Uint32(key[4:8]))
	ref = string(key[intervalRefOffset:])
	return start, end, ref
}
