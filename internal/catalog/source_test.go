package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/geopostgis/internal/dataset"
	"github.com/JonMunkholm/geopostgis/internal/postgis"
)

func TestDiscover(t *testing.T) {
	both := touch(t, t.TempDir(), "b.tif", "z.shp", "a.shp", "readme.txt")
	rasterOnly := touch(t, t.TempDir(), "b.TIFF", "a.tif")
	file := filepath.Join(touch(t, t.TempDir(), "roads.SHP"), "roads.SHP")

	tests := []struct {
		name       string
		path       string
		wantPath   string
		wantFormat dataset.SourceFormat
		wantErr    bool
	}{
		{"vector preferred and sorted", both, filepath.Join(both, "a.shp"), dataset.FormatShapefile, false},
		{"first raster", rasterOnly, filepath.Join(rasterOnly, "a.tif"), dataset.FormatGeoTIFF, false},
		{"file path", file, file, dataset.FormatShapefile, false},
		{"unsupported file", filepath.Join(both, "readme.txt"), "", "", true},
		{"missing", filepath.Join(both, "missing"), "", "", true},
		{"empty", "  ", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Discover(tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if d.Path != tt.wantPath || d.Format != tt.wantFormat {
				t.Errorf("Discover = %+v", d)
			}
		})
	}
}

func TestDiscover_NotRecursive(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	touch(t, filepath.Join(dir, "sub"), "a.shp")

	if _, err := Discover(dir); !errors.Is(err, ErrNoSource) {
		t.Errorf("err = %v, want ErrNoSource", err)
	}
}

func TestLike(t *testing.T) {
	tests := []struct {
		pattern string
		value   string
		want    bool
	}{
		{"Xunta%", "Xunta de Galicia", true},
		{"Xunta%", "xunta de galicia", false},
		{"%Vigo", "Concello de Vigo", true},
		{"IGN_", "IGNE", true},
		{"IGN_", "IGN", false},
		{`100\%`, "100%", true},
		{`100\%`, "1000", false},
		{"a.b", "axb", false},
		{"%", "", true},
	}
	for _, tt := range tests {
		match, err := Like(tt.pattern)
		if err != nil {
			t.Fatalf("Like(%q): %v", tt.pattern, err)
		}
		if got := match(tt.value); got != tt.want {
			t.Errorf("Like(%q)(%q) = %v, want %v", tt.pattern, tt.value, got, tt.want)
		}
	}
}

func TestCSVSource(t *testing.T) {
	tests := []struct {
		name     string
		content  []byte
		encoding string
		comma    rune
		wantName string
	}{
		{"utf-8 with bom", append([]byte{0xEF, 0xBB, 0xBF}, "identifier,name\nr1,Río Miño\n"...), "", 0, "Río Miño"},
		{"latin1", []byte("identifier;name\nr1;R\xedo Mi\xf1o\n"), "latin1", ';', "Río Miño"},
		{"short line and blank line", []byte("identifier,name,path\nr1,Río Miño\n,,\n"), "", 0, "Río Miño"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "catalog.csv")
			if err := os.WriteFile(path, tt.content, 0o644); err != nil {
				t.Fatal(err)
			}
			rows, err := CSVSource{Path: path, Encoding: tt.encoding, Comma: tt.comma}.Rows(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			if len(rows) != 1 {
				t.Fatalf("rows = %v", rows)
			}
			if rows[0]["identifier"] != "r1" || rows[0]["name"] != tt.wantName {
				t.Errorf("row = %v", rows[0])
			}
		})
	}
}

func TestCSVSource_Errors(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.csv")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := (CSVSource{Path: empty}).Rows(context.Background()); !errors.Is(err, ErrEmptyCatalog) {
		t.Errorf("empty: err = %v", err)
	}
	if _, err := (CSVSource{Path: filepath.Join(dir, "missing.csv")}).Rows(context.Background()); err == nil {
		t.Error("missing: expected error")
	}
	if _, err := (CSVSource{Path: empty, Encoding: "ebcdic"}).Rows(context.Background()); err == nil {
		t.Error("encoding: expected error")
	}
}

func writeWorkbook(t *testing.T, path string) {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	rows := [][]any{
		{"identifier", "name", "srid"},
		{"r1", "Ríos", 25830},
		{nil, nil, nil},
		{"r2", "Lagos"},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatal(err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		t.Fatal(err)
	}
}

func TestXLSXSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.xlsx")
	writeWorkbook(t, path)

	rows, err := XLSXSource{Path: path}.Rows(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %v", rows)
	}
	if rows[0]["srid"] != "25830" || rows[1]["name"] != "Lagos" {
		t.Errorf("rows = %v", rows)
	}
	if _, ok := rows[1]["srid"]; ok {
		t.Error("short row should leave srid absent")
	}
}

type fakeCatalogReader struct {
	got postgis.CatalogQuery
}

func (f *fakeCatalogReader) ReadCatalog(_ context.Context, q postgis.CatalogQuery) ([]map[string]string, error) {
	f.got = q
	return []map[string]string{{"identifier": "a"}, {"identifier": "b"}}, nil
}

func TestTableSource(t *testing.T) {
	db := &fakeCatalogReader{}
	q := postgis.CatalogQuery{Schema: "meta", Table: "catalogo", FilterColumn: "publisher", FilterPattern: "X%"}

	rows, err := TableSource{DB: db, Query: q}.Rows(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[1].Get("identifier") != "b" {
		t.Errorf("rows = %v", rows)
	}
	if db.got != q {
		t.Errorf("query = %+v", db.got)
	}
}

type fakeObjects map[string][]byte

func (f fakeObjects) GetObject(_ context.Context, bucket, key string) ([]byte, error) {
	data, ok := f[bucket+"/"+key]
	if !ok {
		return nil, errors.New("the specified key does not exist")
	}
	return data, nil
}

func TestObjectSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.xlsx")
	writeWorkbook(t, path)
	xlsx, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	store := fakeObjects{
		"catalogs/2024/catalog.csv":  []byte("identifier,name\nr1,Ríos\n"),
		"catalogs/2024/catalog.xlsx": xlsx,
	}

	for _, key := range []string{"2024/catalog.csv", "2024/catalog.xlsx"} {
		rows, err := ObjectSource{Store: store, Bucket: "catalogs", Key: key}.Rows(context.Background())
		if err != nil {
			t.Fatalf("%s: %v", key, err)
		}
		if rows[0]["name"] != "Ríos" {
			t.Errorf("%s: rows = %v", key, rows)
		}
	}

	if _, err := (ObjectSource{Store: store, Bucket: "catalogs", Key: "missing.csv"}).Rows(context.Background()); err == nil {
		t.Error("expected error for a missing object")
	}
}
