package track

import (
	"fmt"
	"sort"

	"github.com/seqindex/trackdb/internal/assembly"
	"github.com/seqindex/trackdb/internal/config"
)

// geneGroup folds every source row sharing one join key. The defining
// interval is the union span of the grouped rows; field values keep
// first-seen order with duplicates removed.
type geneGroup struct {
	start  int64
	end    int64
	fields map[string][]string
	seen   map[string]map[string]bool
}

type intervalEntry struct {
	start int64
	end   int64
	rec   *Record
}

// accumulator gathers transformed rows per chromosome before partition
// writing. One accumulator serves one track build; never shared.
type accumulator struct {
	track        *config.Track
	genes        map[string]map[string]*geneGroup // chrom -> joinKey -> group
	intervals    map[string][]intervalEntry       // chrom -> entries
	intervalSeen map[string]map[[2]int64]bool     // chrom -> (start,end) spans
	bases        map[string]map[int64]byte        // chrom -> pos -> symbol
	points       map[string]map[int64]*Record     // chrom -> pos -> record
}

func newAccumulator(t *config.Track) *accumulator {
	return &accumulator{
		track:        t,
		genes:        make(map[string]map[string]*geneGroup),
		intervals:    make(map[string][]intervalEntry),
		intervalSeen: make(map[string]map[[2]int64]bool),
		bases:        make(map[string]map[int64]byte),
		points:       make(map[string]map[int64]*Record),
	}
}

// mergeGene folds one row into its join-key group: the group interval
// widens to cover the row, and each field's values concatenate with
// first-seen-order dedup (the group-concat left-join pattern).
func (a *accumulator) mergeGene(chrom, joinKey string, start, end int64, folded map[string][]string) {
	byKey, ok := a.genes[chrom]
	if !ok {
		byKey = make(map[string]*geneGroup)
		a.genes[chrom] = byKey
	}

	g, ok := byKey[joinKey]
	if !ok {
		g = &geneGroup{
			start:  start,
			end:    end,
			fields: make(map[string][]string),
			seen:   make(map[string]map[string]bool),
		}
		byKey[joinKey] = g
	}
	if start < g.start {
		g.start = start
	}
	if end > g.end {
		g.end = end
	}

	for field, vals := range folded {
		seen, ok := g.seen[field]
		if !ok {
			seen = make(map[string]bool)
			g.seen[field] = seen
		}
		for _, v := range vals {
			if !seen[v] {
				seen[v] = true
				g.fields[field] = append(g.fields[field], v)
			}
		}
	}
}

// addInterval records one score/region entry. Two rows declaring the
// identical interval on one chromosome would collide in the store, so
// the second is rejected as malformed.
func (a *accumulator) addInterval(chrom string, start, end int64, rec *Record) error {
	seen, ok := a.intervalSeen[chrom]
	if !ok {
		seen = make(map[[2]int64]bool)
		a.intervalSeen[chrom] = seen
	}
	span := [2]int64{start, end}
	if seen[span] {
		return fmt.Errorf("duplicate interval %d-%d", start, end)
	}
	seen[span] = true
	a.intervals[chrom] = append(a.intervals[chrom], intervalEntry{start: start, end: end, rec: rec})
	return nil
}

func (a *accumulator) addBase(chrom string, pos int64, sym byte) error {
	byPos, ok := a.bases[chrom]
	if !ok {
		byPos = make(map[int64]byte)
		a.bases[chrom] = byPos
	}
	if _, dup := byPos[pos]; dup {
		return fmt.Errorf("duplicate reference position %s:%d", chrom, pos)
	}
	byPos[pos] = sym
	return nil
}

func (a *accumulator) addPoint(chrom string, pos int64, rec *Record) error {
	byPos, ok := a.points[chrom]
	if !ok {
		byPos = make(map[int64]*Record)
		a.points[chrom] = byPos
	}
	if _, dup := byPos[pos]; dup {
		return fmt.Errorf("duplicate position %s:%d", chrom, pos)
	}
	byPos[pos] = rec
	return nil
}

// chromosomes returns the covered chromosomes in assembly rank order.
func (a *accumulator) chromosomes(asm *assembly.Assembly) []string {
	covered := make(map[string]bool)
	for chrom := range a.genes {
		covered[chrom] = true
	}
	for chrom := range a.intervals {
		covered[chrom] = true
	}
	for chrom := range a.bases {
		covered[chrom] = true
	}
	for chrom := range a.points {
		covered[chrom] = true
	}

	out := make([]string, 0, len(covered))
	for chrom := range covered {
		out = append(out, chrom)
	}
	sort.Slice(out, func(i, j int) bool {
		ri, _ := asm.Rank(out[i])
		rj, _ := asm.Rank(out[j])
		return ri < rj
	})
	return out
}
