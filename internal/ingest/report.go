package ingest

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/geopostgis/internal/dataset"
)

// Report is the outcome of one batch run.
type Report struct {
	RunID      uuid.UUID `json:"run_id"`
	Bundle     string    `json:"bundle"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Total        int `json:"total"`
	DBRecords    int `json:"db_records"`
	GeoRecords   int `json:"geo_records"`
	ErrorRecords int `json:"error_records"`

	ByStatus map[dataset.Status]int `json:"by_status"`
	Records  []dataset.Record       `json:"-"`
}

// NewReport computes counts from the final record statuses. Records are
// copied, so the report does not change if the records do.
func NewReport(runID uuid.UUID, bundle string, started, finished time.Time, records []*dataset.Record) *Report {
	rep := &Report{
		RunID:      runID,
		Bundle:     bundle,
		StartedAt:  started,
		FinishedAt: finished,
		Total:      len(records),
		ByStatus:   make(map[dataset.Status]int),
		Records:    make([]dataset.Record, 0, len(records)),
	}
	for _, r := range records {
		rep.ByStatus[r.Status]++
		switch r.Status {
		case dataset.StatusDBUploaded:
			rep.DBRecords++
		case dataset.StatusMapPublished:
			rep.GeoRecords++
		case dataset.StatusError:
			rep.ErrorRecords++
		}
		rep.Records = append(rep.Records, r.Snapshot())
	}
	return rep
}

// Summary is the final log line of a run.
func (r *Report) Summary() string {
	return fmt.Sprintf("bundle %s: %d datasets, %d loaded into database, %d published, %d errors",
		r.Bundle, r.Total, r.DBRecords, r.GeoRecords, r.ErrorRecords)
}

// ReportColumns is the column order of the per-dataset report.
var ReportColumns = []string{
	"identifier",
	"name",
	"status",
	"status_info",
	"description",
	"creator",
	"publisher",
	"metadata_url",
	"carto_type",
	"source_format",
	"source_path",
	"style_path",
	"native_srid",
	"declared_srid",
	"db_schema",
	"db_table",
	"map_workspace",
	"map_layer",
	"updated_at",
}

// Rows returns one dictionary per dataset keyed by ReportColumns.
func (r *Report) Rows() []map[string]string {
	rows := make([]map[string]string, 0, len(r.Records))
	for i := range r.Records {
		rows = append(rows, recordRow(&r.Records[i]))
	}
	return rows
}

func recordRow(d *dataset.Record) map[string]string {
	native := ""
	if d.NativeSRID != nil {
		native = strconv.Itoa(*d.NativeSRID)
	}
	declared := ""
	if d.DeclaredSRID > 0 {
		declared = strconv.Itoa(d.DeclaredSRID)
	}
	updated := ""
	if !d.UpdatedAt.IsZero() {
		updated = d.UpdatedAt.Format(dataset.HistoryTimeLayout)
	}
	return map[string]string{
		"identifier":    d.Identifier,
		"name":          d.Name,
		"status":        string(d.Status),
		"status_info":   d.StatusInfo(),
		"description":   d.Description,
		"creator":       d.Creator,
		"publisher":     d.Publisher,
		"metadata_url":  d.MetadataURL,
		"carto_type":    string(d.CartoType),
		"source_format": string(d.SourceFormat),
		"source_path":   d.SourcePath,
		"style_path":    d.StylePath,
		"native_srid":   native,
		"declared_srid": declared,
		"db_schema":     d.DBSchema,
		"db_table":      d.DBTable,
		"map_workspace": d.MapWorkspace,
		"map_layer":     d.MapLayer,
		"updated_at":    updated,
	}
}

// WriteCSV writes the header and one row per dataset with every field quoted.
func (r *Report) WriteCSV(w io.Writer) error {
	if err := writeQuotedRecord(w, ReportColumns); err != nil {
		return err
	}
	fields := make([]string, len(ReportColumns))
	for _, row := range r.Rows() {
		for i, col := range ReportColumns {
			fields[i] = row[col]
		}
		if err := writeQuotedRecord(w, fields); err != nil {
			return err
		}
	}
	return nil
}

// FileName returns the report file name for the run, stamped with the hour
// the run finished.
func (r *Report) FileName() string {
	at := r.FinishedAt
	if at.IsZero() {
		at = time.Now()
	}
	return fmt.Sprintf("geopostgis-bundle-%s_%sh.csv", dataset.Normalize(r.Bundle), at.Format("2006-01-02_15"))
}

// writeQuotedRecord writes one CSV line quoting every field.
func writeQuotedRecord(w io.Writer, fields []string) error {
	var b strings.Builder
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('"')
		b.WriteString(strings.ReplaceAll(f, `"`, `""`))
		b.WriteByte('"')
	}
	b.WriteString("\r\n")
	_, err := io.WriteString(w, b.String())
	return err
}
