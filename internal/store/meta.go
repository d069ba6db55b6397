package store

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Well-known meta keys stamped into every partition.
const (
	MetaTrack      = "track"
	MetaType       = "type"
	MetaAssembly   = "assembly"
	MetaChrom      = "chrom"
	MetaConvention = "convention"
	MetaBuiltAt    = "built_at"
	MetaRows       = "rows"
	MetaSkipped    = "skipped"
)

// Convention1BasedClosed names the single coordinate convention used by
// published partitions: 1-based offsets, closed intervals.
const Convention1BasedClosed = "1-based-closed"

// FileFingerprint holds stat-based identity for a source file, stamped
// into partition meta as build provenance.
type FileFingerprint struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// StatFile creates a FileFingerprint from an on-disk file.
func StatFile(path string) (FileFingerprint, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileFingerprint{}, err
	}
	return FileFingerprint{
		Path:    path,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

// StampProvenance writes build identity, counters, and per-source
// fingerprints into the staging partition's meta bucket.
func (w *Writer) StampProvenance(assemblyName, track, trackType, chrom string, rows, skipped int64, builtAt time.Time, sources []FileFingerprint) error {
	entries := []struct{ k, v string }{
		{MetaAssembly, assemblyName},
		{MetaTrack, track},
		{MetaType, trackType},
		{MetaChrom, chrom},
		{MetaConvention, Convention1BasedClosed},
		{MetaBuiltAt, builtAt.UTC().Format(time.RFC3339Nano)},
		{MetaRows, strconv.FormatInt(rows, 10)},
		{MetaSkipped, strconv.FormatInt(skipped, 10)},
	}
	for _, e := range entries {
		if err := w.SetMeta(e.k, e.v); err != nil {
			return err
		}
	}

	for i, fp := range sources {
		prefix := fmt.Sprintf("source.%d.", i)
		if err := w.SetMeta(prefix+"path", fp.Path); err != nil {
			return err
		}
		if err := w.SetMeta(prefix+"size", strconv.FormatInt(fp.Size, 10)); err != nil {
			return err
		}
		if err := w.SetMeta(prefix+"modtime", fp.ModTime.UTC().Format(time.RFC3339Nano)); err != nil {
			return err
		}
	}
	return nil
}
