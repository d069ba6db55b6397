// Package interval provides immutable per-chromosome overlap indexes.
// An index is bulk-built once per track build (O(n log n) sort) and
// never mutated afterwards, so concurrent queries need no locking.
package interval

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownChromosome marks an overlap query against a chromosome the
// index was never built for. Callers must see this rather than a silent
// empty result.
var ErrUnknownChromosome = errors.New("interval: unknown chromosome")

// Entry is one indexed interval with the reference of its annotation
// record (the track's stable join key). Intervals are 1-based closed.
type Entry struct {
	Start int64
	End   int64
	Ref   string
}

// Index answers point and range overlap queries over a fixed set of
// possibly overlapping intervals on one chromosome.
//
// Layout: entries sorted by (Start, Ref), plus maxEnd[i] = max(End) over
// entries[0..i]. A query binary-searches the rightmost candidate start
// and scans left, stopping as soon as the running max end falls short.
type Index struct {
	entries []Entry
	maxEnd  []int64
}

// Build constructs an index from a batch of entries. The input slice is
// not retained.
func Build(entries []Entry) *Index {
	if len(entries) == 0 {
		return &Index{}
	}

	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		return sorted[i].Ref < sorted[j].Ref
	})

	maxEnd := make([]int64, len(sorted))
	maxEnd[0] = sorted[0].End
	for i := 1; i < len(sorted); i++ {
		maxEnd[i] = sorted[i].End
		if maxEnd[i-1] > maxEnd[i] {
			maxEnd[i] = maxEnd[i-1]
		}
	}

	return &Index{entries: sorted, maxEnd: maxEnd}
}

// Len returns the number of indexed intervals.
func (x *Index) Len() int {
	return len(x.entries)
}

// QueryPoint returns all entries whose interval contains pos, ordered by
// (Start, Ref) ascending.
func (x *Index) QueryPoint(pos int64) []Entry {
	return x.QueryRange(pos, pos)
}

// QueryRange returns all entries whose interval intersects [start, end],
// ordered by (Start, Ref) ascending.
func (x *Index) QueryRange(start, end int64) []Entry {
	if len(x.entries) == 0 || end < start {
		return nil
	}

	// Rightmost candidate: first index with Start > end.
	hi := sort.Search(len(x.entries), func(i int) bool {
		return x.entries[i].Start > end
	})

	var result []Entry
	for i := hi - 1; i >= 0; i-- {
		// maxEnd[i] bounds every End in entries[0..i]; once it drops
		// below the query start nothing to the left can intersect.
		if x.maxEnd[i] < start {
			break
		}
		if x.entries[i].End >= start {
			result = append(result, x.entries[i])
		}
	}

	// The scan collected right-to-left; restore (Start, Ref) order.
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	return result
}

// Forest groups one index per chromosome for a track. Built once from
// the full entry set, immutable afterwards.
type Forest struct {
	indexes map[string]*Index
}

// BuildForest bulk-builds per-chromosome indexes from chromosome-keyed
// entry batches. Chromosomes with a declared (possibly empty) batch are
// known; all others are rejected at query time.
func BuildForest(byChrom map[string][]Entry) *Forest {
	indexes := make(map[string]*Index, len(byChrom))
	for chrom, entries := range byChrom {
		indexes[chrom] = Build(entries)
	}
	return &Forest{indexes: indexes}
}

// QueryPoint returns entries containing pos on the given chromosome.
func (f *Forest) QueryPoint(chrom string, pos int64) ([]Entry, error) {
	x, ok := f.indexes[chrom]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChromosome, chrom)
	}
	return x.QueryPoint(pos), nil
}

// QueryRange returns entries intersecting [start, end] on the given
// chromosome.
func (f *Forest) QueryRange(chrom string, start, end int64) ([]Entry, error) {
	x, ok := f.indexes[chrom]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChromosome, chrom)
	}
	return x.QueryRange(start, end), nil
}

// Chromosomes returns the chromosomes the forest was built for.
func (f *Forest) Chromosomes() []string {
	out := make([]string, 0, len(f.indexes))
	for chrom := range f.indexes {
		out = append(out, chrom)
	}
	sort.Strings(out)
	return out
}
