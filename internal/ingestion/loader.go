package ingestion

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ErrUnsupportedFormat is returned when an uploaded file is not supported.
var ErrUnsupportedFormat = errors.New("unsupported file format")

var byteOrderMark = []byte{0xEF, 0xBB, 0xBF}

// Row is one raw data row: the original column names mapped to their string
// values, plus the 1-based position within the upload's data rows. Headers
// preserves the source column order so lookups that depend on which column
// came first stay deterministic.
type Row struct {
	Number  int
	Headers []string
	Values  map[string]string
}

// Loader produces the ordered row set for one stored file in two full
// streaming passes: a count pass that retains nothing, then a load pass that
// materializes every row. The total must be persisted before processing
// starts so that a client polling mid-run sees a real percentage, and
// materializing up front keeps row numbering strictly sequential.
type Loader struct{}

// NewLoader creates a row loader.
func NewLoader() *Loader {
	return &Loader{}
}

// CountRows streams the file once and returns the number of data rows,
// excluding the header and rows that are entirely empty.
func (l *Loader) CountRows(path string) (int, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv", ".txt", ".tsv":
		return l.countCSV(path, delimiterFor(ext))
	case ".xlsx":
		return l.countExcel(path)
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

// LoadRows streams the file again and materializes the complete ordered row
// set. Row numbering matches the count pass: empty rows are skipped in both.
func (l *Loader) LoadRows(path string) ([]Row, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv", ".txt", ".tsv":
		return l.loadCSV(path, delimiterFor(ext))
	case ".xlsx":
		return l.loadExcel(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

func delimiterFor(ext string) rune {
	if ext == ".tsv" {
		return '\t'
	}
	return ','
}

func (l *Loader) countCSV(path string, delimiter rune) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	reader := newCSVReader(file, delimiter)

	// Header row.
	if _, err := reader.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read csv header: %w", err)
	}

	count := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("failed to read csv: %w", err)
		}
		if rowEmpty(record) {
			continue
		}
		count++
	}
	return count, nil
}

func (l *Loader) loadCSV(path string, delimiter rune) ([]Row, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	reader := newCSVReader(file, delimiter)

	headers, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return []Row{}, nil
		}
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	rows := []Row{}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv: %w", err)
		}
		if rowEmpty(record) {
			continue
		}
		rows = append(rows, buildRow(headers, record, len(rows)+1))
	}
	return rows, nil
}

func (l *Loader) countExcel(path string) (int, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return 0, errors.New("excel file has no sheets")
	}

	iter, err := f.Rows(sheets[0])
	if err != nil {
		return 0, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}
	defer func() { _ = iter.Close() }()

	count := 0
	seenHeader := false
	for iter.Next() {
		record, err := iter.Columns()
		if err != nil {
			return 0, fmt.Errorf("failed to read xlsx row: %w", err)
		}
		if rowEmpty(record) {
			continue
		}
		if !seenHeader {
			seenHeader = true
			continue
		}
		count++
	}
	if err := iter.Error(); err != nil {
		return 0, fmt.Errorf("failed to iterate xlsx rows: %w", err)
	}
	return count, nil
}

func (l *Loader) loadExcel(path string) ([]Row, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("excel file has no sheets")
	}

	records, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}

	var headers []string
	rows := []Row{}
	for _, record := range records {
		if rowEmpty(record) {
			continue
		}
		if headers == nil {
			headers = record
			continue
		}
		rows = append(rows, buildRow(headers, record, len(rows)+1))
	}
	return rows, nil
}

func newCSVReader(file io.Reader, delimiter rune) *csv.Reader {
	buffered := bufio.NewReader(file)
	if prefix, err := buffered.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = buffered.Discard(len(byteOrderMark))
	}

	reader := csv.NewReader(buffered)
	reader.Comma = delimiter
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	return reader
}

func buildRow(headers []string, record []string, number int) Row {
	ordered := make([]string, 0, len(headers))
	values := make(map[string]string, len(headers))
	for idx, header := range headers {
		header = strings.TrimSpace(header)
		if header == "" {
			continue
		}
		if _, seen := values[header]; !seen {
			ordered = append(ordered, header)
		}
		if idx < len(record) {
			values[header] = record[idx]
		} else {
			values[header] = ""
		}
	}
	return Row{Number: number, Headers: ordered, Values: values}
}

func rowEmpty(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
