package track

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seqindex/trackdb/internal/config"
	"github.com/seqindex/trackdb/internal/interval"
	"github.com/seqindex/trackdb/internal/store"
)

var fixedBuildTime = time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

func writeSource(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func geneManifest(srcPath string) *config.Manifest {
	return &config.Manifest{
		Assembly:    "hg19",
		Chromosomes: []string{"chr1", "chr2"},
		Tracks: []config.Track{{
			Name:       "refSeq",
			Type:       config.TypeGene,
			JoinKey:    "name",
			Features:   []string{"name", "kgID", "geneSymbol"},
			Transforms: map[string]string{"kgID": "split ;"},
			Required:   []string{"name"},
			Sources:    []config.Source{{Path: srcPath}},
		}},
	}
}

func buildTrack(t *testing.T, dir string, m *config.Manifest, name string) (*Result, error) {
	t.Helper()
	require.NoError(t, m.Validate())
	b, err := NewBuilder(dir, m, name)
	require.NoError(t, err)
	b.SetBuildTime(fixedBuildTime)
	return b.Build(context.Background())
}

func TestBuild_GeneJoin(t *testing.T) {
	dir := t.TempDir()
	// Three rows for NM_1 (kgID values A, B, A) plus one for NM_2:
	// the left-join-with-group-concat fold must yield one record per
	// transcript with deduplicated, first-seen-ordered kgIDs.
	src := writeSource(t, dir, "refGene.tsv",
		"chrom\tstart\tend\tname\tkgID\tgeneSymbol\n"+
			"chr1\t100\t200\tNM_1\tA\tTP53\n"+
			"chr1\t100\t200\tNM_1\tB\tTP53\n"+
			"chr1\t100\t200\tNM_1\tA\tTP53\n"+
			"chr1\t150\t300\tNM_2\tC;D\tEGFR\n")

	res, err := buildTrack(t, dir, geneManifest(src), "refSeq")
	require.NoError(t, err)
	assert.Equal(t, int64(4), res.Rows)
	assert.Zero(t, res.Skipped)
	assert.Equal(t, []string{"chr1"}, res.Chromosomes)

	r, err := store.OpenPartition(dir, "hg19", "refSeq", "chr1")
	require.NoError(t, err)
	defer r.Close()

	data, err := r.Record("NM_1")
	require.NoError(t, err)
	rec, err := DecodeRecord(data)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, rec.Get("kgID"), "dedup keeps first-seen order")
	assert.Equal(t, []string{"NM_1"}, rec.Get("name"))
	assert.Equal(t, int64(100), rec.Start)
	assert.Equal(t, int64(200), rec.End)

	data, err = r.Record("NM_2")
	require.NoError(t, err)
	rec, err = DecodeRecord(data)
	require.NoError(t, err)
	assert.Equal(t, []string{"C", "D"}, rec.Get("kgID"), "split transform applied")
}

func TestBuild_OverlapQueries(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "refGene.tsv",
		"chrom\tstart\tend\tname\tkgID\tgeneSymbol\n"+
			"chr1\t100\t200\tNM_1\tA\tTP53\n"+
			"chr1\t150\t300\tNM_2\tB\tEGFR\n")

	_, err := buildTrack(t, dir, geneManifest(src), "refSeq")
	require.NoError(t, err)

	r, err := store.OpenPartition(dir, "hg19", "refSeq", "chr1")
	require.NoError(t, err)
	defer r.Close()

	entries, err := r.Intervals()
	require.NoError(t, err)
	idx := interval.Build(entries)

	both := idx.QueryPoint(160)
	require.Len(t, both, 2)
	assert.Equal(t, "NM_1", both[0].Ref)
	assert.Equal(t, "NM_2", both[1].Ref)

	assert.Empty(t, idx.QueryPoint(50))
}

func TestBuild_Idempotent(t *testing.T) {
	content := "chrom\tstart\tend\tname\tkgID\tgeneSymbol\n" +
		"chr1\t100\t200\tNM_1\tA;B\tTP53\n" +
		"chr2\t500\t900\tNM_3\tE\tKRAS\n"

	dir := t.TempDir()
	src := writeSource(t, dir, "refGene.tsv", content)
	m := geneManifest(src)
	require.NoError(t, m.Validate())

	var files [2][]byte
	for i := range files {
		b, err := NewBuilder(dir, m, "refSeq")
		require.NoError(t, err)
		_, err = b.Build(context.Background())
		require.NoError(t, err)

		data, err := os.ReadFile(store.PartitionPath(dir, "hg19", "refSeq", "chr1"))
		require.NoError(t, err)
		files[i] = data
	}

	assert.Equal(t, files[0], files[1],
		"untouched inputs give byte-identical partitions, no pinning needed")
}

func TestBuild_SkipThreshold(t *testing.T) {
	mkSource := func(t *testing.T, dir string, badRows int) string {
		content := "chrom\tstart\tend\tname\tkgID\tgeneSymbol\n"
		for i := 0; i < 100-badRows; i++ {
			content += fmt.Sprintf("chr1\t%d\t%d\tNM_%d\tX\tG\n", 100+i, 200+i, i)
		}
		for i := 0; i < badRows; i++ {
			content += "chr1\tbroken\n"
		}
		return writeSource(t, dir, "genes.tsv", content)
	}

	t.Run("under threshold succeeds", func(t *testing.T) {
		dir := t.TempDir()
		m := geneManifest(mkSource(t, dir, 2))
		m.Tracks[0].MaxSkipped = 0.05

		res, err := buildTrack(t, dir, m, "refSeq")
		require.NoError(t, err)
		assert.Equal(t, int64(2), res.Skipped, "skipped count is observable")

		r, err := store.OpenPartition(dir, "hg19", "refSeq", "chr1")
		require.NoError(t, err)
		defer r.Close()
		meta, err := r.Meta()
		require.NoError(t, err)
		assert.Equal(t, "2", meta[store.MetaSkipped])
	})

	t.Run("over threshold aborts and preserves prior build", func(t *testing.T) {
		dir := t.TempDir()
		good := geneManifest(mkSource(t, dir, 0))
		good.Tracks[0].MaxSkipped = 0.05
		_, err := buildTrack(t, dir, good, "refSeq")
		require.NoError(t, err)

		published := store.PartitionPath(dir, "hg19", "refSeq", "chr1")
		before, err := os.ReadFile(published)
		require.NoError(t, err)

		bad := geneManifest(mkSource(t, dir, 10))
		bad.Tracks[0].MaxSkipped = 0.05
		_, err = buildTrack(t, dir, bad, "refSeq")
		assert.ErrorIs(t, err, ErrBuildAborted)

		after, err := os.ReadFile(published)
		require.NoError(t, err)
		assert.Equal(t, before, after, "aborted build leaves published partition unchanged")
	})
}

func TestBuild_ScoreTrack(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "phyloP.tsv",
		"chrom\tstart\tend\tscore\n"+
			"chr1\t100\t100\t0.12345\n"+
			"chr1\t101\t101\t-3.9999\n")

	_, err := buildTrack(t, dir, scoreManifest(src), "phyloP")
	require.NoError(t, err)

	r, err := store.OpenPartition(dir, "hg19", "phyloP", "chr1")
	require.NoError(t, err)
	defer r.Close()

	entries, err := r.Intervals()
	require.NoError(t, err)
	require.Len(t, entries, 2)

	data, err := r.Record(entries[0].Ref)
	require.NoError(t, err)
	rec, err := DecodeRecord(data)
	require.NoError(t, err)
	assert.Equal(t, "0.12", rec.First("score"), "declared precision applied")
}

func scoreManifest(src string) *config.Manifest {
	return &config.Manifest{
		Assembly:    "hg19",
		Chromosomes: []string{"chr1"},
		Tracks: []config.Track{{
			Name:       "phyloP",
			Type:       config.TypeScore,
			Features:   []string{"score"},
			Transforms: map[string]string{"score": "number 2"},
			MaxSkipped: 0.9,
			Sources:    []config.Source{{Path: src}},
		}},
	}
}

func TestBuild_OutOfRangeCoordinateRowIsSkipped(t *testing.T) {
	dir := t.TempDir()
	// 5,000,000,000 does not fit the 32-bit position of a region key.
	// The row must be skipped, never truncated modulo 2^32 into a
	// bogus interval.
	src := writeSource(t, dir, "scores.tsv",
		"chrom\tstart\tend\tscore\n"+
			"chr1\t100\t200\t0.5\n"+
			"chr1\t100\t5000000000\t0.9\n")

	res, err := buildTrack(t, dir, scoreManifest(src), "phyloP")
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Skipped)

	r, err := store.OpenPartition(dir, "hg19", "phyloP", "chr1")
	require.NoError(t, err)
	defer r.Close()

	entries, err := r.Intervals()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(200), entries[0].End, "no truncated span reaches the store")
}

func TestBuild_DuplicateIntervalSpanIsSkipped(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "scores.tsv",
		"chrom\tstart\tend\tscore\n"+
			"chr1\t100\t200\t0.5\n"+
			"chr1\t100\t200\t0.9\n")

	res, err := buildTrack(t, dir, scoreManifest(src), "phyloP")
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Skipped, "the span is the record identity; the repeat loses")

	r, err := store.OpenPartition(dir, "hg19", "phyloP", "chr1")
	require.NoError(t, err)
	defer r.Close()

	data, err := r.Record("100-200")
	require.NoError(t, err)
	rec, err := DecodeRecord(data)
	require.NoError(t, err)
	assert.Equal(t, "0.5", rec.First("score"), "first row wins")
}

func TestBuild_ReferenceTrack(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "ref.tsv",
		"chrom\tpos\tbase\n"+
			"chr1\t1\tA\n"+
			"chr1\t2\tC\n"+
			"chr1\t3\tG\n")

	m := &config.Manifest{
		Assembly:    "hg19",
		Chromosomes: []string{"chr1"},
		Tracks: []config.Track{{
			Name:     "ref",
			Type:     config.TypeReference,
			Features: []string{"base"},
			Sources:  []config.Source{{Path: src}},
		}},
	}

	_, err := buildTrack(t, dir, m, "ref")
	require.NoError(t, err)

	r, err := store.OpenPartition(dir, "hg19", "ref", "chr1")
	require.NoError(t, err)
	defer r.Close()

	asm, err := m.NewAssembly()
	require.NoError(t, err)
	key, err := asm.Encode("chr1", 2)
	require.NoError(t, err)

	v, err := r.Get(key)
	require.NoError(t, err)
	assert.Equal(t, []byte("C"), v, "one symbol per region key")
}

func TestBuild_TransformFailures(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "scores.tsv",
		"chrom\tstart\tend\tname\tscore\n"+
			"chr1\t100\t200\tNM_1\tnot-a-number\n"+
			"chr1\t300\t400\tNM_2\t1.5\n")

	m := &config.Manifest{
		Assembly:    "hg19",
		Chromosomes: []string{"chr1"},
		Tracks: []config.Track{{
			Name:       "t",
			Type:       config.TypeRegion,
			Features:   []string{"name", "score"},
			Transforms: map[string]string{"score": "number 1"},
			Sources:    []config.Source{{Path: src}},
		}},
	}

	t.Run("optional field failure drops the value", func(t *testing.T) {
		res, err := buildTrack(t, dir, m, "t")
		require.NoError(t, err)
		assert.Zero(t, res.Skipped)
		assert.Equal(t, int64(1), res.FieldErrors)

		r, err := store.OpenPartition(dir, "hg19", "t", "chr1")
		require.NoError(t, err)
		defer r.Close()
		data, err := r.Record("100-200")
		require.NoError(t, err)
		rec, err := DecodeRecord(data)
		require.NoError(t, err)
		assert.Nil(t, rec.Get("score"), "failed optional value dropped")
		assert.Equal(t, "NM_1", rec.First("name"))
	})

	t.Run("required field failure skips the row", func(t *testing.T) {
		dir2 := t.TempDir()
		src2 := writeSource(t, dir2, "scores.tsv",
			"chrom\tstart\tend\tname\tscore\n"+
				"chr1\t100\t200\tNM_1\tnot-a-number\n"+
				"chr1\t300\t400\tNM_2\t1.5\n")
		m2 := *m
		m2.Tracks = []config.Track{m.Tracks[0]}
		m2.Tracks[0].Required = []string{"score"}
		m2.Tracks[0].MaxSkipped = 0.9
		m2.Tracks[0].Sources = []config.Source{{Path: src2}}

		res, err := buildTrack(t, dir2, &m2, "t")
		require.NoError(t, err)
		assert.Equal(t, int64(1), res.Skipped)
	})
}

func TestBuild_UndeclaredChromosomeRowIsSkipped(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "genes.tsv",
		"chrom\tstart\tend\tname\tkgID\tgeneSymbol\n"+
			"chr1\t100\t200\tNM_1\tA\tG1\n"+
			"chr99\t100\t200\tNM_2\tB\tG2\n")

	m := geneManifest(src)
	m.Tracks[0].MaxSkipped = 0.9

	res, err := buildTrack(t, dir, m, "refSeq")
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Skipped)
	assert.Equal(t, []string{"chr1"}, res.Chromosomes)
}

func TestBuild_Cancellation(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "genes.tsv",
		"chrom\tstart\tend\tname\tkgID\tgeneSymbol\n"+
			"chr1\t100\t200\tNM_1\tA\tG1\n")

	m := geneManifest(src)
	require.NoError(t, m.Validate())
	b, err := NewBuilder(dir, m, "refSeq")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = b.Build(ctx)
	assert.ErrorIs(t, err, ErrBuildAborted)

	_, err = store.OpenPartition(dir, "hg19", "refSeq", "chr1")
	assert.ErrorIs(t, err, store.ErrNotFound, "nothing published after cancellation")
}

func TestBuild_ParallelPartitions(t *testing.T) {
	dir := t.TempDir()
	content := "chrom\tstart\tend\tname\tkgID\tgeneSymbol\n"
	for i := 0; i < 50; i++ {
		content += fmt.Sprintf("chr1\t%d\t%d\tNM_A%d\tX\tG\n", 100+i*10, 200+i*10, i)
		content += fmt.Sprintf("chr2\t%d\t%d\tNM_B%d\tY\tG\n", 100+i*10, 200+i*10, i)
	}
	src := writeSource(t, dir, "genes.tsv", content)

	m := geneManifest(src)
	require.NoError(t, m.Validate())
	b, err := NewBuilder(dir, m, "refSeq")
	require.NoError(t, err)
	b.SetBuildTime(fixedBuildTime)
	b.SetWorkers(4)

	res, err := b.Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"chr1", "chr2"}, res.Chromosomes, "assembly order regardless of worker finish order")

	for _, chrom := range res.Chromosomes {
		r, err := store.OpenPartition(dir, "hg19", "refSeq", chrom)
		require.NoError(t, err)
		entries, err := r.Intervals()
		require.NoError(t, err)
		assert.Len(t, entries, 50)
		r.Close()
	}
}
