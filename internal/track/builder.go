package track

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/seqindex/trackdb/internal/assembly"
	"github.com/seqindex/trackdb/internal/config"
	"github.com/seqindex/trackdb/internal/source"
	"github.com/seqindex/trackdb/internal/store"
)

// ErrBuildAborted marks a track build that failed past the point of
// recovery: too many malformed rows, a store failure, or cancellation.
// Fatal for this track only; the previously published partitions stay
// visible and untouched.
var ErrBuildAborted = errors.New("track: build aborted")

// Conventional coordinate column names in source records.
const (
	colChrom = "chrom"
	colStart = "start"
	colEnd   = "end"
	colPos   = "pos"
)

// Result summarizes one track build.
type Result struct {
	Track       string
	Rows        int64    // source rows seen
	Skipped     int64    // malformed rows dropped
	FieldErrors int64    // non-required field transform failures
	Chromosomes []string // partitions published, in assembly order
}

// Builder turns one declared track's source streams into published
// per-chromosome partitions. A builder owns the sole mutation path
// into its track's partitions; build it, call Build once, discard it.
type Builder struct {
	dir       string
	manifest  *config.Manifest
	asm       *assembly.Assembly
	track     *config.Track
	logger    *zap.Logger
	buildTime time.Time
	workers   int

	// open resolves a source descriptor into a stream. Swappable so
	// tests can feed synthetic streams.
	open func(config.Source) (source.Stream, error)
}

// NewBuilder creates a builder for the named track of the manifest.
func NewBuilder(dir string, m *config.Manifest, trackName string) (*Builder, error) {
	t := m.TrackByName(trackName)
	if t == nil {
		return nil, fmt.Errorf("%w: track %s not in manifest", config.ErrConfig, trackName)
	}
	asm, err := m.NewAssembly()
	if err != nil {
		return nil, err
	}
	return &Builder{
		dir:      dir,
		manifest: m,
		asm:      asm,
		track:    t,
		logger:   zap.NewNop(),
		workers:  1,
		open:     openSource,
	}, nil
}

// SetLogger sets the logger for row-skip and progress messages.
func (b *Builder) SetLogger(l *zap.Logger) {
	b.logger = l
}

// SetBuildTime overrides the provenance timestamp. The default is the
// newest source modtime, so rebuilds from untouched inputs stamp the
// same value.
func (b *Builder) SetBuildTime(t time.Time) {
	b.buildTime = t
}

// SetWorkers sets the partition staging parallelism.
func (b *Builder) SetWorkers(n int) {
	if n > 0 {
		b.workers = n
	}
}

// SetStreamOpener overrides source stream resolution.
func (b *Builder) SetStreamOpener(open func(config.Source) (source.Stream, error)) {
	b.open = open
}

func openSource(s config.Source) (source.Stream, error) {
	if s.Path != "" {
		return source.NewFileStream(s.Path, s.ZeroBased)
	}
	return source.NewSQLStream(s.DB, s.SQL)
}

// Build ingests every source row, groups and transforms per track type,
// and publishes one partition per covered chromosome. All partitions
// are fully staged before any is published, so a failed build leaves
// prior published data untouched. Rebuilding from identical inputs
// yields byte-identical partitions.
func (b *Builder) Build(ctx context.Context) (*Result, error) {
	res := &Result{Track: b.track.Name}
	acc := newAccumulator(b.track)

	var fingerprints []store.FileFingerprint
	for _, src := range b.track.Sources {
		if src.Path != "" {
			fp, err := store.StatFile(src.Path)
			if err != nil {
				return nil, fmt.Errorf("%w: stat source %s: %v", ErrBuildAborted, src.Path, err)
			}
			fingerprints = append(fingerprints, fp)
		}
	}

	builtAt := b.buildTime
	if builtAt.IsZero() {
		builtAt = latestModTime(fingerprints)
	}

	for _, src := range b.track.Sources {
		if err := b.consume(ctx, src, acc, res); err != nil {
			return nil, err
		}
	}

	if res.Rows > 0 {
		frac := float64(res.Skipped) / float64(res.Rows)
		if frac > b.track.MaxSkipped {
			return nil, fmt.Errorf("%w: track %s skipped %d of %d rows (%.1f%% > %.1f%% threshold)",
				ErrBuildAborted, b.track.Name, res.Skipped, res.Rows, frac*100, b.track.MaxSkipped*100)
		}
	}

	chroms := acc.chromosomes(b.asm)
	writers, err := b.stagePartitions(ctx, chroms, acc, res, fingerprints, builtAt)
	if err != nil {
		return nil, err
	}

	// Everything staged; publish in assembly order. Rename is atomic
	// per partition, not per track: a failure partway leaves the
	// chromosomes renamed by earlier iterations in place next to the
	// prior build's remainder. Staging and published files share a
	// directory, so a rename can only fail on a filesystem fault.
	for i, w := range writers {
		if err := w.Publish(); err != nil {
			for _, rest := range writers[i:] {
				rest.Discard()
			}
			return nil, fmt.Errorf("%w: %v", ErrBuildAborted, err)
		}
	}

	res.Chromosomes = chroms
	b.logger.Info("track build complete",
		zap.String("track", b.track.Name),
		zap.Int64("rows", res.Rows),
		zap.Int64("skipped", res.Skipped),
		zap.Int("chromosomes", len(chroms)))
	return res, nil
}

// consume reads one stream to exhaustion, feeding rows to the
// accumulator. Malformed rows are counted and logged, never fatal here.
func (b *Builder) consume(ctx context.Context, src config.Source, acc *accumulator, res *Result) error {
	stream, err := b.open(src)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBuildAborted, err)
	}
	defer stream.Close()

	for {
		if res.Rows%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("%w: %v", ErrBuildAborted, err)
			}
		}

		rec, err := stream.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if errors.Is(err, source.ErrMalformedRow) {
				res.Rows++
				res.Skipped++
				b.logger.Warn("skipping malformed row", zap.String("track", b.track.Name), zap.Error(err))
				continue
			}
			return fmt.Errorf("%w: %v", ErrBuildAborted, err)
		}

		res.Rows++
		if err := b.ingest(rec, acc, res); err != nil {
			res.Skipped++
			b.logger.Warn("skipping row",
				zap.String("track", b.track.Name),
				zap.String("chrom", rec[colChrom]),
				zap.Error(err))
		}
	}
}

// ingest routes one record through the track-type pipeline.
func (b *Builder) ingest(rec source.Record, acc *accumulator, res *Result) error {
	chrom := rec[colChrom]
	if !b.asm.HasChromosome(chrom) {
		return fmt.Errorf("chromosome %q not declared in assembly %s", chrom, b.asm.Name())
	}

	switch b.track.Type {
	case config.TypeGene:
		return b.ingestGene(rec, chrom, acc, res)
	case config.TypeScore, config.TypeRegion:
		return b.ingestInterval(rec, chrom, acc, res)
	case config.TypeReference:
		return b.ingestReference(rec, chrom, acc)
	case config.TypeGeneric:
		return b.ingestGeneric(rec, chrom, acc, res)
	default:
		return fmt.Errorf("unhandled track type %s", b.track.Type)
	}
}

func (b *Builder) ingestGene(rec source.Record, chrom string, acc *accumulator, res *Result) error {
	start, end, err := rowInterval(rec)
	if err != nil {
		return err
	}
	if err := b.asm.Validate(assembly.Interval{Chrom: chrom, Start: start, End: end}); err != nil {
		return err
	}
	joinVal := rec[b.track.JoinKey]
	if joinVal == "" {
		return fmt.Errorf("row has empty join key %s", b.track.JoinKey)
	}

	folded, err := b.foldRow(rec, res)
	if err != nil {
		return err
	}
	acc.mergeGene(chrom, joinVal, start, end, folded)
	return nil
}

func (b *Builder) ingestInterval(rec source.Record, chrom string, acc *accumulator, res *Result) error {
	start, end, err := rowInterval(rec)
	if err != nil {
		return err
	}
	if err := b.asm.Validate(assembly.Interval{Chrom: chrom, Start: start, End: end}); err != nil {
		return err
	}
	folded, err := b.foldRow(rec, res)
	if err != nil {
		return err
	}
	return acc.addInterval(chrom, start, end, b.recordFromFold(chrom, start, end, folded))
}

func (b *Builder) ingestReference(rec source.Record, chrom string, acc *accumulator) error {
	pos, err := rowPosition(rec)
	if err != nil {
		return err
	}
	if err := b.asm.Validate(assembly.Interval{Chrom: chrom, Start: pos, End: pos}); err != nil {
		return err
	}
	field := "base"
	if len(b.track.Features) > 0 {
		field = b.track.Features[0]
	}
	sym := rec[field]
	if len(sym) != 1 {
		return fmt.Errorf("reference symbol %q at %s:%d is not a single character", sym, chrom, pos)
	}
	return acc.addBase(chrom, pos, sym[0])
}

func (b *Builder) ingestGeneric(rec source.Record, chrom string, acc *accumulator, res *Result) error {
	pos, err := rowPosition(rec)
	if err != nil {
		return err
	}
	if err := b.asm.Validate(assembly.Interval{Chrom: chrom, Start: pos, End: pos}); err != nil {
		return err
	}
	folded, err := b.foldRow(rec, res)
	if err != nil {
		return err
	}
	return acc.addPoint(chrom, pos, b.recordFromFold(chrom, pos, pos, folded))
}

// foldRow applies each declared feature's transform rule to the row.
// A failure on a required field makes the whole row malformed; on any
// other field the value is dropped and counted as a field error.
func (b *Builder) foldRow(rec source.Record, res *Result) (map[string][]string, error) {
	folded := make(map[string][]string, len(b.track.Features))
	for _, field := range b.track.Features {
		raw, ok := rec[field]
		if !ok || raw == "" {
			if b.track.IsRequired(field) {
				return nil, fmt.Errorf("required field %s is missing", field)
			}
			continue
		}
		vals, err := b.track.Rules.Apply(field, raw)
		if err != nil {
			if b.track.IsRequired(field) {
				return nil, err
			}
			res.FieldErrors++
			b.logger.Debug("dropping field value",
				zap.String("track", b.track.Name),
				zap.String("field", field),
				zap.Error(err))
			continue
		}
		if len(vals) > 0 {
			folded[field] = vals
		}
	}
	return folded, nil
}

// recordFromFold assembles a Record with fields in declared order.
func (b *Builder) recordFromFold(chrom string, start, end int64, folded map[string][]string) *Record {
	r := &Record{Chrom: chrom, Start: start, End: end}
	for _, field := range b.track.Features {
		if vals, ok := folded[field]; ok {
			r.Fields = append(r.Fields, Field{Name: field, Values: vals})
		}
	}
	return r
}

// stagePartitions writes one staging partition per chromosome using a
// small worker pool. On any failure every staged writer is discarded.
func (b *Builder) stagePartitions(ctx context.Context, chroms []string, acc *accumulator, res *Result, fps []store.FileFingerprint, builtAt time.Time) ([]*store.Writer, error) {
	stage := func(chrom string) (*store.Writer, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		w, err := store.CreatePartition(b.dir, b.asm.Name(), b.track.Name, chrom)
		if err != nil {
			return nil, err
		}
		if err := b.writePartition(w, chrom, acc); err != nil {
			w.Discard()
			return nil, err
		}
		if err := w.StampProvenance(b.asm.Name(), b.track.Name, b.track.Type, chrom,
			res.Rows, res.Skipped, builtAt, fps); err != nil {
			w.Discard()
			return nil, err
		}
		return w, nil
	}

	writers, err := stageAll(chroms, b.workers, stage)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBuildAborted, err)
	}
	return writers, nil
}

// writePartition emits one chromosome's accumulated entries in a
// deterministic order.
func (b *Builder) writePartition(w *store.Writer, chrom string, acc *accumulator) error {
	switch b.track.Type {
	case config.TypeGene:
		groups := acc.genes[chrom]
		refs := make([]string, 0, len(groups))
		for ref := range groups {
			refs = append(refs, ref)
		}
		sort.Strings(refs)
		for _, ref := range refs {
			g := groups[ref]
			rec := &Record{JoinKey: ref, Chrom: chrom, Start: g.start, End: g.end}
			for _, field := range b.track.Features {
				if vals, ok := g.fields[field]; ok {
					rec.Fields = append(rec.Fields, Field{Name: field, Values: vals})
				}
			}
			data, err := rec.Encode()
			if err != nil {
				return err
			}
			if err := w.PutRecord(ref, data); err != nil {
				return err
			}
			if err := w.PutInterval(g.start, g.end, ref); err != nil {
				return err
			}
		}

	case config.TypeScore, config.TypeRegion:
		entries := acc.intervals[chrom]
		sort.Slice(entries, func(i, j int) bool {
			if entries[i].start != entries[j].start {
				return entries[i].start < entries[j].start
			}
			return entries[i].end < entries[j].end
		})
		for _, e := range entries {
			ref := intervalRef(e.start, e.end)
			e.rec.JoinKey = ref
			data, err := e.rec.Encode()
			if err != nil {
				return err
			}
			if err := w.PutRecord(ref, data); err != nil {
				return err
			}
			if err := w.PutInterval(e.start, e.end, ref); err != nil {
				return err
			}
		}

	case config.TypeReference:
		bases := acc.bases[chrom]
		positions := sortedPositions(bases)
		for _, pos := range positions {
			key, err := b.asm.Encode(chrom, pos)
			if err != nil {
				return err
			}
			if err := w.PutPosition(key, []byte{bases[pos]}); err != nil {
				return err
			}
		}

	case config.TypeGeneric:
		points := acc.points[chrom]
		positions := make([]int64, 0, len(points))
		for pos := range points {
			positions = append(positions, pos)
		}
		sort.Slice(positions, func(i, j int) bool { return positions[i] < positions[j] })
		for _, pos := range positions {
			key, err := b.asm.Encode(chrom, pos)
			if err != nil {
				return err
			}
			data, err := points[pos].Encode()
			if err != nil {
				return err
			}
			if err := w.PutPosition(key, data); err != nil {
				return err
			}
		}
	}
	return nil
}

// intervalRef is the stable per-chromosome identity of a score/region
// entry.
func intervalRef(start, end int64) string {
	return strconv.FormatInt(start, 10) + "-" + strconv.FormatInt(end, 10)
}

func rowInterval(rec source.Record) (int64, int64, error) {
	start, err := rowPosition(rec)
	if err != nil {
		return 0, 0, err
	}
	rawEnd, ok := rec[colEnd]
	if !ok || rawEnd == "" {
		return start, start, nil
	}
	end, err := strconv.ParseInt(rawEnd, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("end %q is not an integer", rawEnd)
	}
	if end < start {
		return 0, 0, fmt.Errorf("end %d before start %d", end, start)
	}
	return start, end, nil
}

func rowPosition(rec source.Record) (int64, error) {
	raw, ok := rec[colStart]
	if !ok || raw == "" {
		raw, ok = rec[colPos]
	}
	if !ok || raw == "" {
		return 0, fmt.Errorf("row has neither start nor pos")
	}
	pos, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("position %q is not an integer", raw)
	}
	if pos < 1 {
		return 0, fmt.Errorf("position %d is not 1-based", pos)
	}
	return pos, nil
}

// latestModTime picks the default provenance stamp: the newest source
// modtime, stable across rebuilds of untouched inputs. Zero when no
// file sources exist (SQL-only tracks).
func latestModTime(fps []store.FileFingerprint) time.Time {
	var latest time.Time
	for _, fp := range fps {
		if fp.ModTime.After(latest) {
			latest = fp.ModTime
		}
	}
	return latest.UTC()
}

func sortedPositions(m map[int64]byte) []int64 {
	out := make([]int64, 0, len(m))
	for pos := range m {
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
