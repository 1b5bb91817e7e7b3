package catalog

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/JonMunkholm/geopostgis/internal/postgis"
)

// Source yields the rows of a catalog.
type Source interface {
	Rows(ctx context.Context) ([]Row, error)
}

// ErrEmptyCatalog is returned for a catalog without a header row.
var ErrEmptyCatalog = errors.New("catalog has no header row")

// CSVSource reads a delimited text file whose first line is the header.
type CSVSource struct {
	Path string

	// Encoding is utf-8 (default), latin1 or windows-1252. A UTF-8 byte
	// order mark is always skipped.
	Encoding string

	// Comma is the field delimiter. Defaults to ','.
	Comma rune
}

func (s CSVSource) Rows(ctx context.Context) ([]Row, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return readCSV(ctx, f, s.Encoding, s.Comma)
}

// XLSXSource reads one sheet of a workbook whose first row is the header.
type XLSXSource struct {
	Path  string
	Sheet string // defaults to the first sheet
}

func (s XLSXSource) Rows(ctx context.Context) ([]Row, error) {
	f, err := excelize.OpenFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return readSheet(ctx, f, s.Sheet)
}

// CatalogReader reads catalog rows from a database table.
type CatalogReader interface {
	ReadCatalog(ctx context.Context, q postgis.CatalogQuery) ([]map[string]string, error)
}

// TableSource reads a catalog table from the spatial database.
type TableSource struct {
	DB    CatalogReader
	Query postgis.CatalogQuery
}

func (s TableSource) Rows(ctx context.Context) ([]Row, error) {
	raw, err := s.DB.ReadCatalog(ctx, s.Query)
	if err != nil {
		return nil, err
	}
	rows := make([]Row, len(raw))
	for i, r := range raw {
		rows[i] = Row(r)
	}
	return rows, nil
}

// ObjectGetter fetches an object from a bucket.
type ObjectGetter interface {
	GetObject(ctx context.Context, bucket, key string) ([]byte, error)
}

// ObjectSource reads a CSV or XLSX catalog stored in a bucket. The format
// follows the key's extension.
type ObjectSource struct {
	Store    ObjectGetter
	Bucket   string
	Key      string
	Sheet    string
	Encoding string
	Comma    rune
}

func (s ObjectSource) Rows(ctx context.Context) ([]Row, error) {
	data, err := s.Store.GetObject(ctx, s.Bucket, s.Key)
	if err != nil {
		return nil, fmt.Errorf("fetch catalog: %w", err)
	}
	switch strings.ToLower(filepath.Ext(s.Key)) {
	case ".xlsx", ".xlsm":
		f, err := excelize.OpenReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("open catalog %s/%s: %w", s.Bucket, s.Key, err)
		}
		defer f.Close()
		return readSheet(ctx, f, s.Sheet)
	default:
		return readCSV(ctx, bytes.NewReader(data), s.Encoding, s.Comma)
	}
}

func readCSV(ctx context.Context, r io.Reader, enc string, comma rune) ([]Row, error) {
	dec, err := textDecoder(enc)
	if err != nil {
		return nil, err
	}
	cr := csv.NewReader(transform.NewReader(r, unicode.BOMOverride(dec.NewDecoder())))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true
	if comma != 0 {
		cr.Comma = comma
	}

	header, err := cr.Read()
	if err == io.EOF {
		return nil, ErrEmptyCatalog
	}
	if err != nil {
		return nil, fmt.Errorf("read catalog header: %w", err)
	}
	cols := headerNames(header)

	var rows []Row
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read catalog line %d: %w", len(rows)+2, err)
		}
		if blank(rec) {
			continue
		}
		rows = append(rows, toRow(cols, rec))
	}
	return rows, nil
}

func readSheet(ctx context.Context, f *excelize.File, sheet string) ([]Row, error) {
	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	records, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	if len(records) == 0 {
		return nil, ErrEmptyCatalog
	}
	cols := headerNames(records[0])

	rows := make([]Row, 0, len(records)-1)
	for _, rec := range records[1:] {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if blank(rec) {
			continue
		}
		rows = append(rows, toRow(cols, rec))
	}
	return rows, nil
}

func textDecoder(name string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.ReplaceAll(name, "_", "-")) {
	case "", "utf-8", "utf8":
		return unicode.UTF8, nil
	case "latin1", "latin-1", "iso-8859-1":
		return charmap.ISO8859_1, nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252, nil
	}
	return nil, fmt.Errorf("unsupported catalog encoding %q", name)
}

func headerNames(header []string) []string {
	cols := make([]string, len(header))
	for i, h := range header {
		cols[i] = strings.TrimSpace(h)
	}
	return cols
}

// toRow pairs values with columns. Short records leave trailing columns
// absent; extra values are dropped.
func toRow(cols, rec []string) Row {
	row := make(Row, len(cols))
	for i, c := range cols {
		if c == "" || i >= len(rec) {
			continue
		}
		row[c] = rec[i]
	}
	return row
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
