// Package assembly defines the genome assembly model and the sortable
// region key used to address annotation store entries.
package assembly

import (
	"errors"
	"fmt"
)

// Sentinel errors for coordinate validation.
var (
	ErrInvalidChromosome = errors.New("assembly: chromosome not declared")
	ErrInvalidPosition   = errors.New("assembly: position out of range")
)

// Assembly is a reference genome version: a name (e.g. hg19) plus the
// ordered set of chromosomes that defines the valid coordinate space.
// Immutable after construction.
type Assembly struct {
	name  string
	names []string
	ranks map[string]int
}

// New creates an assembly from an ordered chromosome list. Chromosome
// order determines region key ordering across chromosomes.
func New(name string, chromosomes []string) (*Assembly, error) {
	if name == "" {
		return nil, fmt.Errorf("assembly name is empty")
	}
	if len(chromosomes) == 0 {
		return nil, fmt.Errorf("assembly %s declares no chromosomes", name)
	}
	if len(chromosomes) > maxChromosomes {
		return nil, fmt.Errorf("assembly %s declares %d chromosomes, max %d", name, len(chromosomes), maxChromosomes)
	}

	names := make([]string, len(chromosomes))
	ranks := make(map[string]int, len(chromosomes))
	for i, chrom := range chromosomes {
		if chrom == "" {
			return nil, fmt.Errorf("assembly %s: empty chromosome name at index %d", name, i)
		}
		if _, dup := ranks[chrom]; dup {
			return nil, fmt.Errorf("assembly %s: duplicate chromosome %s", name, chrom)
		}
		names[i] = chrom
		ranks[chrom] = i
	}

	return &Assembly{name: name, names: names, ranks: ranks}, nil
}

// Name returns the assembly identifier.
func (a *Assembly) Name() string {
	return a.name
}

// Chromosomes returns the declared chromosome names in rank order.
func (a *Assembly) Chromosomes() []string {
	out := make([]string, len(a.names))
	copy(out, a.names)
	return out
}

// Rank returns the ordinal of a chromosome within the assembly.
func (a *Assembly) Rank(chrom string) (int, bool) {
	r, ok := a.ranks[chrom]
	return r, ok
}

// HasChromosome reports whether the chromosome is declared.
func (a *Assembly) HasChromosome(chrom string) bool {
	_, ok := a.ranks[chrom]
	return ok
}

// Interval is a genomic range on one chromosome, 1-based, closed on both
// ends. All tracks commit to this convention; zero-based half-open
// sources are shifted at ingest.
type Interval struct {
	Chrom string
	Start int64
	End   int64
}

// Contains reports whether pos falls inside the interval.
func (iv Interval) Contains(pos int64) bool {
	return pos >= iv.Start && pos <= iv.End
}

// Validate checks the interval against the assembly's chromosome list
// and coordinate bounds.
func (a *Assembly) Validate(iv Interval) error {
	if !a.HasChromosome(iv.Chrom) {
		return fmt.Errorf("%w: %s", ErrInvalidChromosome, iv.Chrom)
	}
	if iv.Start < 1 || iv.Start > maxPosition || iv.End > maxPosition {
		return fmt.Errorf("%w: %d-%d", ErrInvalidPosition, iv.Start, iv.End)
	}
	if iv.End < iv.Start {
		return fmt.Errorf("%w: end %d before start %d", ErrInvalidPosition, iv.End, iv.Start)
	}
	return nil
}
