// Package source discovers input files and streams their rows one at a time.
package source

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cyderes/tweet-ingest/internal/models"
)

const readBufferSize = 64 * 1024

// RecordError is a row that could not be parsed. The stream can continue past it.
type RecordError struct {
	Line int
	Err  error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

// Reader pulls rows from a CSV file with a header line
type Reader struct {
	file   *os.File
	csv    *csv.Reader
	header []string
	rows   int
}

// Open opens a CSV file and reads its header row
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	r := csv.NewReader(bufio.NewReaderSize(f, readBufferSize))
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read header from %s: %w", path, err)
	}
	cols := make([]string, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		cols[i] = strings.TrimSpace(h)
	}

	return &Reader{file: f, csv: r, header: cols}, nil
}

// Header returns the column names of the file
func (r *Reader) Header() []string {
	return r.header
}

// Rows returns the number of data rows read so far, including unparseable ones
func (r *Reader) Rows() int {
	return r.rows
}

// Next returns the next row keyed by header name. It returns io.EOF at the
// end of the file and a *RecordError for a row that failed to parse; any
// other error means the file can no longer be read.
func (r *Reader) Next() (models.RawRecord, error) {
	row, err := r.csv.Read()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			r.rows++
			return nil, &RecordError{Line: perr.Line, Err: perr.Err}
		}
		return nil, fmt.Errorf("failed to read row: %w", err)
	}
	r.rows++

	rec := make(models.RawRecord, len(r.header))
	for i, col := range r.header {
		if i < len(row) {
			rec[col] = row[i]
		} else {
			rec[col] = ""
		}
	}
	return rec, nil
}

// Close releases the underlying file
func (r *Reader) Close() error {
	return r.file.Close()
}

// ListFiles returns the files in dir whose names end with suffix, sorted by name
func ListFiles(dir, suffix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}
