package source

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// FileStream reads tab-separated records from a local file. The first
// non-comment line is the header naming the fields. Files ending in
// .gz are decompressed transparently.
//
// Sources declared zeroBased have their "start" column shifted to the
// 1-based closed convention used everywhere downstream (start+1, end
// unchanged).
type FileStream struct {
	path      string
	zeroBased bool

	f       *os.File
	gz      *gzip.Reader
	scanner *bufio.Scanner
	header  []string
	line    int
}

// NewFileStream opens a TSV source file and reads its header.
func NewFileStream(path string, zeroBased bool) (*FileStream, error) {
	s := &FileStream{path: path, zeroBased: zeroBased}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStream) open() error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrSourceRead, s.path, err)
	}

	var reader io.Reader = f
	var gz *gzip.Reader
	if strings.HasSuffix(s.path, ".gz") {
		gz, err = gzip.NewReader(f)
		if err != nil {
			f.Close()
			return fmt.Errorf("%w: open gzip reader for %s: %v", ErrSourceRead, s.path, err)
		}
		reader = gz
	}

	scanner := bufio.NewScanner(reader)
	// Long rows: cross-reference fields can run to hundreds of IDs.
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	s.f = f
	s.gz = gz
	s.scanner = scanner
	s.line = 0

	header, err := s.readHeader()
	if err != nil {
		s.Close()
		return err
	}
	s.header = header
	return nil
}

func (s *FileStream) readHeader() ([]string, error) {
	for s.scanner.Scan() {
		s.line++
		line := s.scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return strings.Split(line, "\t"), nil
	}
	if err := s.scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: read header of %s: %v", ErrSourceRead, s.path, err)
	}
	return nil, fmt.Errorf("%w: %s has no header line", ErrSourceRead, s.path)
}

// Next returns the next record, io.EOF at end of file, or a malformed-row
// error for lines whose field count does not match the header.
func (s *FileStream) Next() (Record, error) {
	for s.scanner.Scan() {
		s.line++
		line := s.scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) != len(s.header) {
			return nil, fmt.Errorf("%w: %s line %d: %d fields, header has %d",
				ErrMalformedRow, s.path, s.line, len(fields), len(s.header))
		}

		rec := make(Record, len(s.header))
		for i, name := range s.header {
			rec[name] = fields[i]
		}
		if s.zeroBased {
			if err := shiftStart(rec); err != nil {
				return nil, fmt.Errorf("%w: %s line %d: %v", ErrMalformedRow, s.path, s.line, err)
			}
		}
		return rec, nil
	}

	if err := s.scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrSourceRead, s.path, err)
	}
	return nil, io.EOF
}

// shiftStart converts a 0-based half-open start to 1-based closed.
func shiftStart(rec Record) error {
	raw, ok := rec["start"]
	if !ok {
		return fmt.Errorf("zeroBased source row has no start field")
	}
	start, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("start %q is not an integer", raw)
	}
	rec["start"] = strconv.FormatInt(start+1, 10)
	return nil
}

// Reset reopens the file and repositions past the header.
func (s *FileStream) Reset() error {
	s.closeReaders()
	return s.open()
}

// Close releases the underlying file handles.
func (s *FileStream) Close() error {
	s.closeReaders()
	return nil
}

func (s *FileStream) closeReaders() {
	if s.gz != nil {
		s.gz.Close()
		s.gz = nil
	}
	if s.f != nil {
		s.f.Close()
		s.f = nil
	}
	s.scanner = nil
}
