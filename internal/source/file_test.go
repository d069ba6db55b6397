package source

import (
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTSV(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestFileStream_Basic(t *testing.T) {
	path := writeTSV(t, "genes.tsv",
		"# refGene extract\n"+
			"chrom\tstart\tend\tname\n"+
			"chr1\t100\t200\tNM_1\n"+
			"chr1\t150\t300\tNM_2\n")

	s, err := NewFileStream(path, false)
	require.NoError(t, err)
	defer s.Close()

	rec, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, Record{"chrom": "chr1", "start": "100", "end": "200", "name": "NM_1"}, rec)

	rec, err = s.Next()
	require.NoError(t, err)
	assert.Equal(t, "NM_2", rec["name"])

	_, err = s.Next()
	assert.Equal(t, io.EOF, err)
}

func TestFileStream_Gzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scores.tsv.gz")
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := gzip.NewWriter(f)
	_, err = gz.Write([]byte("chrom\tstart\tscore\nchr1\t10\t0.5\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())

	s, err := NewFileStream(path, false)
	require.NoError(t, err)
	defer s.Close()

	rec, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, "0.5", rec["score"])

	_, err = s.Next()
	assert.Equal(t, io.EOF, err)
}

func TestFileStream_MalformedRowIsRecoverable(t *testing.T) {
	path := writeTSV(t, "bad.tsv",
		"chrom\tstart\tend\n"+
			"chr1\t100\t200\n"+
			"chr1\t100\n"+ // short row
			"chr1\t300\t400\n")

	s, err := NewFileStream(path, false)
	require.NoError(t, err)
	defer s.Close()

	records, rowErrs, err := Drain(s)
	require.NoError(t, err)
	assert.Len(t, records, 2)
	require.Len(t, rowErrs, 1)
	assert.ErrorIs(t, rowErrs[0], ErrMalformedRow)
}

func TestFileStream_ZeroBasedShift(t *testing.T) {
	path := writeTSV(t, "regions.bed.tsv",
		"chrom\tstart\tend\n"+
			"chr1\t99\t200\n")

	s, err := NewFileStream(path, true)
	require.NoError(t, err)
	defer s.Close()

	rec, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, "100", rec["start"], "0-based half-open start becomes 1-based closed")
	assert.Equal(t, "200", rec["end"], "end is unchanged")
}

func TestFileStream_Reset(t *testing.T) {
	path := writeTSV(t, "genes.tsv",
		"chrom\tname\n"+
			"chr1\tNM_1\n")

	s, err := NewFileStream(path, false)
	require.NoError(t, err)
	defer s.Close()

	first, err := s.Next()
	require.NoError(t, err)
	_, err = s.Next()
	require.Equal(t, io.EOF, err)

	require.NoError(t, s.Reset())
	again, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, first, again, "reset restarts the sequence")
}

func TestFileStream_MissingFile(t *testing.T) {
	_, err := NewFileStream(filepath.Join(t.TempDir(), "absent.tsv"), false)
	assert.ErrorIs(t, err, ErrSourceRead)
}

func TestFileStream_NoHeader(t *testing.T) {
	path := writeTSV(t, "empty.tsv", "# only comments\n")
	_, err := NewFileStream(path, false)
	assert.ErrorIs(t, err, ErrSourceRead)
}
