// Package source reads the raw clinical source tables: UTF-8 text (optionally
// BOM-prefixed), comma-delimited, header row present. Field positions are
// fixed per table and owned by the callers.
package source

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"time"
)

// TimeLayout is the timestamp format used by every source table.
const TimeLayout = "2006-01-02 15:04:05"

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func ParseTime(s string) (time.Time, error) {
	return time.Parse(TimeLayout, s)
}

func FormatTime(t time.Time) string {
	return t.Format(TimeLayout)
}

// Scanner yields source rows one at a time. The large event tables are
// scanned twice in places (the lab frequency pass), so extractors take a
// re-playable Scanner rather than a one-shot iterator.
type Scanner func(fn func(row []string) error) error

// FileScanner returns a Scanner over a delimited file.
func FileScanner(path string, skipHeader bool) Scanner {
	return func(fn func(row []string) error) error {
		return EachRow(path, skipHeader, fn)
	}
}

// SliceScanner returns a Scanner over in-memory rows.
func SliceScanner(rows [][]string) Scanner {
	return func(fn func(row []string) error) error {
		for _, row := range rows {
			if err := fn(row); err != nil {
				return err
			}
		}
		return nil
	}
}

// EachRow streams rows from a delimited file, skipping the header row when
// skipHeader is set. Rows may have varying field counts; callers guard their
// own positions. Returning an error from fn aborts the scan.
func EachRow(path string, skipHeader bool, fn func(row []string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(stripBOM(f))
	r.FieldsPerRecord = -1
	first := true
	for {
		row, err := r.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		if first {
			first = false
			if skipHeader {
				continue
			}
		}
		if err := fn(row); err != nil {
			return err
		}
	}
}

// ReadTable reads all rows after the header row.
func ReadTable(path string) ([][]string, error) {
	return readAll(path, true)
}

// ReadAll reads every row including the first. Used for mapping files that
// carry no header (the medication keyword map).
func ReadAll(path string) ([][]string, error) {
	return readAll(path, false)
}

func readAll(path string, skipHeader bool) ([][]string, error) {
	var rows [][]string
	err := EachRow(path, skipHeader, func(row []string) error {
		rows = append(rows, row)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// WriteTable writes a BOM-prefixed, comma-delimited table with a header row.
// Downstream consumers expect BOM-prefixed UTF-8.
func WriteTable(path string, header []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(utf8BOM); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush %s: %w", path, err)
	}
	return nil
}

// stripBOM skips a leading UTF-8 byte order mark if present.
func stripBOM(f *os.File) io.Reader {
	buf := make([]byte, 3)
	n, _ := io.ReadFull(f, buf)
	if n == 3 && buf[0] == utf8BOM[0] && buf[1] == utf8BOM[1] && buf[2] == utf8BOM[2] {
		return f
	}
	f.Seek(0, io.SeekStart)
	return f
}
