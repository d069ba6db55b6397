package source

import (
	"database/sql"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSeededDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("duckdb", "")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE refGene (
		chrom VARCHAR, txStart BIGINT, txEnd BIGINT, name VARCHAR, kgID VARCHAR
	)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO refGene VALUES
		('chr1', 100, 200, 'NM_1', 'A'),
		('chr1', 100, 200, 'NM_1', 'B'),
		('chr1', 500, 900, 'NM_2', NULL)`)
	require.NoError(t, err)
	return db
}

func TestSQLStream_Rows(t *testing.T) {
	db := openSeededDB(t)

	s, err := NewSQLStreamFromDB(db,
		"SELECT chrom, txStart AS start, txEnd AS \"end\", name, kgID FROM refGene ORDER BY name, kgID")
	require.NoError(t, err)
	defer s.Close()

	rec, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, "chr1", rec["chrom"])
	assert.Equal(t, "100", rec["start"], "numeric columns are stringified")
	assert.Equal(t, "NM_1", rec["name"])
	assert.Equal(t, "A", rec["kgID"])

	rec, err = s.Next()
	require.NoError(t, err)
	assert.Equal(t, "B", rec["kgID"])

	rec, err = s.Next()
	require.NoError(t, err)
	assert.Equal(t, "NM_2", rec["name"])
	assert.Equal(t, "", rec["kgID"], "NULL becomes empty string")

	_, err = s.Next()
	assert.Equal(t, io.EOF, err)
}

func TestSQLStream_Reset(t *testing.T) {
	db := openSeededDB(t)

	s, err := NewSQLStreamFromDB(db, "SELECT name FROM refGene ORDER BY name")
	require.NoError(t, err)
	defer s.Close()

	first, err := s.Next()
	require.NoError(t, err)

	require.NoError(t, s.Reset())
	again, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestSQLStream_BadStatement(t *testing.T) {
	db := openSeededDB(t)

	_, err := NewSQLStreamFromDB(db, "SELECT nope FROM missing")
	assert.ErrorIs(t, err, ErrSourceRead)
}
