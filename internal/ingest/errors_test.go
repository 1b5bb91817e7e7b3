package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"nil error returns empty", nil, ""},
		{"missing file", fmt.Errorf("open shapefile /x.shp: %w", os.ErrNotExist), "IO002"},
		{"missing file by errno text", errors.New("open /x.shp: no such file or directory"), "IO001"},
		{"unsupported database", errors.New("unsupported database type \"oracle\""), "CFG001"},
		{"unsupported datastore", fmt.Errorf("datastore: %w", ErrUnsupported), "CFG002"},
		{"postgis missing", errors.New(`ERROR: function updategeometrysrid(character varying) does not exist`), "DB005"},
		{"refused", errors.New("dial tcp 10.0.0.1:5432: connect: connection refused"), "DB001"},
		{"auth", errors.New("FATAL: password authentication failed for user \"gis\""), "DB006"},
		{"geoserver 401", errors.New("geoserver POST workspaces: HTTP 401: Unauthorized"), "GS001"},
		{"geoserver retries", errors.New("max retries exceeded: geoserver POST workspaces: HTTP 503: down"), "GS004"},
		{"cancelled", context.Canceled, "RUN001"},
		{"deadline", context.DeadlineExceeded, "DB003"},
		{"case insensitive", errors.New("CONNECTION RESET by peer"), "DB002"},
		{"unknown", errors.New("something odd"), "ERR000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError(%v).Code = %q, want %q", tt.err, got.Code, tt.wantCode)
			}
			if tt.err != nil && got.Message == "" {
				t.Error("Message should not be empty")
			}
		})
	}
}

func TestFormatDiagnostic(t *testing.T) {
	got := FormatDiagnostic("failed reading/writing source file", errors.New("connection refused"))
	want := "failed reading/writing source file: connection refused [DB001]"
	if got != want {
		t.Errorf("FormatDiagnostic = %q, want %q", got, want)
	}
	if got := FormatDiagnostic("done", nil); got != "done" {
		t.Errorf("FormatDiagnostic(nil) = %q", got)
	}
}

func TestStageError(t *testing.T) {
	cause := errors.New("connection reset")
	err := fmt.Errorf("load: %w", &StageError{Kind: KindDatabase, Step: "srid", Target: "geo.rios", Err: cause})

	if !errors.Is(err, cause) {
		t.Error("StageError should unwrap to its cause")
	}
	kind, ok := KindOf(err)
	if !ok || kind != KindDatabase {
		t.Errorf("KindOf = %q, %v", kind, ok)
	}
	if !strings.Contains(err.Error(), "database error in srid (geo.rios)") {
		t.Errorf("Error() = %q", err.Error())
	}
	if _, ok := KindOf(cause); ok {
		t.Error("plain error should have no kind")
	}
}
