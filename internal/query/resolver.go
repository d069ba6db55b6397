// Package query resolves genomic positions against published
// annotation partitions.
package query

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/seqindex/trackdb/internal/assembly"
	"github.com/seqindex/trackdb/internal/config"
	"github.com/seqindex/trackdb/internal/interval"
	"github.com/seqindex/trackdb/internal/store"
	"github.com/seqindex/trackdb/internal/track"
)

// Query-time errors. Reported to the caller, never fatal to the
// resolver process.
var (
	ErrTrackNotFound         = errors.New("query: track not found")
	ErrPositionOutOfAssembly = errors.New("query: chromosome not in assembly")
)

// partitionKey addresses one opened partition in the resolver's cache.
type partitionKey struct {
	track string
	chrom string
}

// Resolver answers annotation queries against the published store.
// Published partitions are immutable, so opened readers and built
// overlap forests are cached and shared by unbounded concurrent
// queries; the mutex only guards cache population.
type Resolver struct {
	dir      string
	manifest *config.Manifest
	asm      *assembly.Assembly
	logger   *zap.Logger

	mu      sync.RWMutex
	readers map[partitionKey]*store.Reader
	forests map[string]*interval.Forest
	missing map[partitionKey]bool
}

// NewResolver creates a resolver over a built store directory.
func NewResolver(dir string, m *config.Manifest) (*Resolver, error) {
	asm, err := m.NewAssembly()
	if err != nil {
		return nil, err
	}
	return &Resolver{
		dir:      dir,
		manifest: m,
		asm:      asm,
		logger:   zap.NewNop(),
		readers:  make(map[partitionKey]*store.Reader),
		forests:  make(map[string]*interval.Forest),
		missing:  make(map[partitionKey]bool),
	}, nil
}

// SetLogger sets the logger for lookup diagnostics.
func (r *Resolver) SetLogger(l *zap.Logger) {
	r.logger = l
}

// Close releases every opened partition.
func (r *Resolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for key, rd := range r.readers {
		if err := rd.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(r.readers, key)
	}
	r.forests = make(map[string]*interval.Forest)
	return firstErr
}

// Resolve fetches annotations for one genomic position from every
// requested track. The result maps track name to the (possibly
// multiple, for overlapping gene models) matching records; tracks with
// no annotation at the position map to an empty list.
func (r *Resolver) Resolve(chrom string, pos int64, trackNames []string) (map[string][]*track.Record, error) {
	return r.ResolveRange(chrom, pos, pos, trackNames)
}

// ResolveRange is Resolve over a closed interval [start, end].
func (r *Resolver) ResolveRange(chrom string, start, end int64, trackNames []string) (map[string][]*track.Record, error) {
	if !r.asm.HasChromosome(chrom) {
		return nil, fmt.Errorf("%w: %s not in %s", ErrPositionOutOfAssembly, chrom, r.asm.Name())
	}
	if err := r.asm.Validate(assembly.Interval{Chrom: chrom, Start: start, End: end}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPositionOutOfAssembly, err)
	}

	out := make(map[string][]*track.Record, len(trackNames))
	for _, name := range trackNames {
		t := r.manifest.TrackByName(name)
		if t == nil {
			return nil, fmt.Errorf("%w: %s", ErrTrackNotFound, name)
		}

		records, err := r.resolveTrack(t, chrom, start, end)
		if err != nil {
			return nil, err
		}
		out[name] = records
	}
	return out, nil
}

func (r *Resolver) resolveTrack(t *config.Track, chrom string, start, end int64) ([]*track.Record, error) {
	if t.Interval() {
		f, err := r.forest(t)
		if err != nil {
			return nil, err
		}
		entries, err := f.QueryRange(chrom, start, end)
		if err != nil {
			// Every declared chromosome has a forest entry, so this
			// only fires for undeclared ones, caught above already.
			return nil, fmt.Errorf("%w: %v", ErrPositionOutOfAssembly, err)
		}
		if len(entries) == 0 {
			return []*track.Record{}, nil
		}
		rd, err := r.partition(t, chrom)
		if err != nil {
			return nil, err
		}
		return r.records(rd, entries)
	}

	rd, err := r.partition(t, chrom)
	if err != nil {
		return nil, err
	}
	if rd == nil {
		// Declared chromosome with no published partition for this
		// track: a valid empty result, distinct from an unknown
		// chromosome, which was rejected above.
		return []*track.Record{}, nil
	}
	return r.resolvePoints(t, rd, chrom, start, end)
}

// records fetches and decodes one annotation record per overlap match,
// keeping the forest's deterministic (start, join key) order.
func (r *Resolver) records(rd *store.Reader, entries []interval.Entry) ([]*track.Record, error) {
	records := make([]*track.Record, 0, len(entries))
	for _, e := range entries {
		data, err := rd.Record(e.Ref)
		if err != nil {
			return nil, err
		}
		rec, err := track.DecodeRecord(data)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// resolvePoints answers point-indexed tracks with a direct get per
// position, or a range scan for intervals.
func (r *Resolver) resolvePoints(t *config.Track, rd *store.Reader, chrom string, start, end int64) ([]*track.Record, error) {
	startKey, err := r.asm.Encode(chrom, start)
	if err != nil {
		return nil, err
	}
	endKey, err := r.asm.Encode(chrom, end)
	if err != nil {
		return nil, err
	}

	var records []*track.Record
	var decodeErr error
	err = rd.Scan(startKey, endKey, func(key assembly.RegionKey, value []byte) bool {
		rec, err := r.decodePoint(t, key, value)
		if err != nil {
			decodeErr = err
			return false
		}
		records = append(records, rec)
		return true
	})
	if err != nil {
		return nil, err
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	if records == nil {
		records = []*track.Record{}
	}
	return records, nil
}

// decodePoint turns a point entry into a record. Reference tracks
// store the bare symbol byte; everything else stores msgpack.
func (r *Resolver) decodePoint(t *config.Track, key assembly.RegionKey, value []byte) (*track.Record, error) {
	chrom, pos, err := r.asm.Decode(key)
	if err != nil {
		return nil, err
	}
	if t.Type == config.TypeReference {
		field := "base"
		if len(t.Features) > 0 {
			field = t.Features[0]
		}
		return &track.Record{
			Chrom:  chrom,
			Start:  pos,
			End:    pos,
			Fields: []track.Field{{Name: field, Values: []string{string(value)}}},
		}, nil
	}
	return track.DecodeRecord(value)
}

// forest returns the track's per-chromosome overlap forest, built from
// every published partition on first use. Declared chromosomes without
// a partition get an empty index, so their queries are valid empty
// results; undeclared ones stay unknown to the forest.
func (r *Resolver) forest(t *config.Track) (*interval.Forest, error) {
	r.mu.RLock()
	f, ok := r.forests[t.Name]
	r.mu.RUnlock()
	if ok {
		return f, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.forests[t.Name]; ok {
		return f, nil
	}

	byChrom := make(map[string][]interval.Entry)
	total := 0
	for _, chrom := range r.asm.Chromosomes() {
		byChrom[chrom] = nil
		rd, err := r.readerLocked(t, chrom)
		if err != nil {
			return nil, err
		}
		if rd == nil {
			continue
		}
		entries, err := rd.Intervals()
		if err != nil {
			return nil, err
		}
		byChrom[chrom] = entries
		total += len(entries)
	}

	f = interval.BuildForest(byChrom)
	r.logger.Debug("overlap forest built",
		zap.String("track", t.Name),
		zap.Int("chromosomes", len(byChrom)),
		zap.Int("intervals", total))
	r.forests[t.Name] = f
	return f, nil
}

// partition returns the cached reader for a (track, chromosome) pair,
// opening it on first use. Returns a nil reader for never-published
// partitions.
func (r *Resolver) partition(t *config.Track, chrom string) (*store.Reader, error) {
	key := partitionKey{track: t.Name, chrom: chrom}

	r.mu.RLock()
	rd, ok := r.readers[key]
	miss := r.missing[key]
	r.mu.RUnlock()
	if ok {
		return rd, nil
	}
	if miss {
		return nil, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readerLocked(t, chrom)
}

// readerLocked opens (or returns the cached reader for) a partition.
// Caller holds the write lock.
func (r *Resolver) readerLocked(t *config.Track, chrom string) (*store.Reader, error) {
	key := partitionKey{track: t.Name, chrom: chrom}
	if rd, ok := r.readers[key]; ok {
		return rd, nil
	}
	if r.missing[key] {
		return nil, nil
	}

	rd, err := store.OpenPartition(r.dir, r.asm.Name(), t.Name, chrom)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			r.missing[key] = true
			return nil, nil
		}
		return nil, err
	}
	r.readers[key] = rd
	return rd, nil
}
