package source

import (
	"database/sql"
	"fmt"
	"io"

	_ "github.com/marcboeker/go-duckdb"
)

// SQLStream runs a declared extraction statement against a DuckDB
// database file and yields each result row as a Record. Column values
// are stringified; NULL becomes the empty string.
type SQLStream struct {
	db        *sql.DB
	ownsDB    bool
	statement string

	rows    *sql.Rows
	columns []string
}

// NewSQLStream opens the database and executes the statement. Use an
// empty path for an in-memory database (tests).
func NewSQLStream(dbPath, statement string) (*SQLStream, error) {
	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open duckdb %s: %v", ErrSourceRead, dbPath, err)
	}

	s := &SQLStream{db: db, ownsDB: true, statement: statement}
	if err := s.run(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStreamFromDB wraps an already-open database; the caller keeps
// ownership of the handle.
func NewSQLStreamFromDB(db *sql.DB, statement string) (*SQLStream, error) {
	s := &SQLStream{db: db, statement: statement}
	if err := s.run(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLStream) run() error {
	rows, err := s.db.Query(s.statement)
	if err != nil {
		return fmt.Errorf("%w: query: %v", ErrSourceRead, err)
	}
	columns, err := rows.Columns()
	if err != nil {
		rows.Close()
		return fmt.Errorf("%w: columns: %v", ErrSourceRead, err)
	}
	s.rows = rows
	s.columns = columns
	return nil
}

// Next returns the next result row, or io.EOF when the set is exhausted.
func (s *SQLStream) Next() (Record, error) {
	if s.rows == nil {
		return nil, io.EOF
	}
	if !s.rows.Next() {
		if err := s.rows.Err(); err != nil {
			return nil, fmt.Errorf("%w: scan rows: %v", ErrSourceRead, err)
		}
		return nil, io.EOF
	}

	values := make([]sql.NullString, len(s.columns))
	ptrs := make([]any, len(s.columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := s.rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("%w: scan row: %v", ErrMalformedRow, err)
	}

	rec := make(Record, len(s.columns))
	for i, col := range s.columns {
		if values[i].Valid {
			rec[col] = values[i].String
		} else {
			rec[col] = ""
		}
	}
	return rec, nil
}

// Reset re-runs the statement from the top.
func (s *SQLStream) Reset() error {
	if s.rows != nil {
		s.rows.Close()
		s.rows = nil
	}
	return s.run()
}

// Close releases the result set, and the database handle when this
// stream opened it.
func (s *SQLStream) Close() error {
	if s.rows != nil {
		s.rows.Close()
		s.rows = nil
	}
	if s.db != nil && s.ownsDB {
		err := s.db.Close()
		s.db = nil
		return err
	}
	s.db = nil
	return nil
}
