// Package dataset defines the Dataset Record that flows through the ingestion
// pipeline, its status state machine and the name derivation rules for
// database tables and map layers.
//
// A Record is owned by a single goroutine while a stage processes it. Stages
// change its status only through Transition and annotate it only through
// Note; both append to the history, which is never rewritten.
package dataset

import (
	"fmt"
	"strings"
	"time"
)

// SourceFormat identifies the payload format discovered for a dataset.
type SourceFormat string

const (
	FormatShapefile SourceFormat = "vector-shapefile"
	FormatGeoTIFF   SourceFormat = "raster-tiff"
	FormatUnknown   SourceFormat = "unknown"
)

// CartoType classifies a dataset as discrete geometries or gridded coverage.
type CartoType string

const (
	CartoVector CartoType = "vector"
	CartoRaster CartoType = "raster"
)

// ParseCartoType returns the carto type named by s and whether it was recognized.
func ParseCartoType(s string) (CartoType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "vector", "vectorial":
		return CartoVector, true
	case "raster":
		return CartoRaster, true
	}
	return "", false
}

// HistoryTimeLayout is the timestamp layout used when rendering history.
const HistoryTimeLayout = "2006-01-02 15:04:05"

// Event is one entry of a record's status history.
type Event struct {
	At     time.Time `json:"at"`
	Status Status    `json:"status"`
	Note   string    `json:"note"`
}

// Record is one spatial dataset to be ingested.
type Record struct {
	Identifier   string       `json:"identifier"`
	Name         string       `json:"name"`
	Title        string       `json:"title,omitempty"`
	Description  string       `json:"description,omitempty"`
	MetadataURL  string       `json:"metadata_url,omitempty"`
	Creator      string       `json:"creator,omitempty"`
	Publisher    string       `json:"publisher,omitempty"`
	Bundle       string       `json:"bundle,omitempty"`
	SourcePath   string       `json:"source_path"`
	SourceFormat SourceFormat `json:"source_format"`
	CartoType    CartoType    `json:"carto_type,omitempty"`
	StylePath    string       `json:"style_path,omitempty"`

	// NativeSRID is nil until discovered or declared.
	NativeSRID   *int `json:"native_srid,omitempty"`
	DeclaredSRID int  `json:"declared_srid"`

	DBSchema     string `json:"db_schema,omitempty"`
	DBTable      string `json:"db_table,omitempty"`
	MapWorkspace string `json:"map_workspace,omitempty"`
	MapLayer     string `json:"map_layer,omitempty"`

	Status    Status    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`

	history []Event
	now     func() time.Time
}

// New returns a record in the given initial status with a first history entry.
// Unrecognized statuses are stored as StatusUnknown.
func New(identifier string, initial Status, note string) *Record {
	r := &Record{Identifier: identifier, SourceFormat: FormatUnknown}
	if !initial.Valid() {
		initial = StatusUnknown
	}
	r.Status = initial
	r.append(note)
	return r
}

// SetClock replaces the time source used for history entries. Tests use it to
// make rendered history deterministic.
func (r *Record) SetClock(now func() time.Time) {
	r.now = now
}

// Transition moves the record to next and appends note to its history.
// Edges outside the state machine return ErrInvalidTransition and leave the
// record untouched.
func (r *Record) Transition(next Status, note string) error {
	if !CanTransition(r.Status, next) {
		return fmt.Errorf("%w: %s -> %s (%s)", ErrInvalidTransition, r.Status, next, r.Identifier)
	}
	r.Status = next
	r.append(note)
	return nil
}

// Fail moves the record to StatusError when the current status allows it.
// Terminal records only receive the note.
func (r *Record) Fail(note string) {
	if err := r.Transition(StatusError, note); err != nil {
		r.Note(note)
	}
}

// Note appends an informational entry without changing status.
func (r *Record) Note(note string) {
	r.append(note)
}

// History returns a copy of the status history in append order.
func (r *Record) History() []Event {
	out := make([]Event, len(r.history))
	copy(out, r.history)
	return out
}

// HistoryLen returns the number of history entries.
func (r *Record) HistoryLen() int {
	return len(r.history)
}

// LastNote returns the most recent history note, or "" when there is none.
func (r *Record) LastNote() string {
	if len(r.history) == 0 {
		return ""
	}
	return r.history[len(r.history)-1].Note
}

// StatusInfo renders the history as "YYYY-MM-DD HH:MM:SS | note" lines.
func (r *Record) StatusInfo() string {
	lines := make([]string, 0, len(r.history))
	for _, e := range r.history {
		lines = append(lines, e.At.Format(HistoryTimeLayout)+" | "+e.Note)
	}
	return strings.Join(lines, "\n")
}

// SetNativeSRID records a discovered or declared native SRID. Non-positive
// values clear it.
func (r *Record) SetNativeSRID(srid int) {
	if srid <= 0 {
		r.NativeSRID = nil
		return
	}
	v := srid
	r.NativeSRID = &v
}

// NativeSRIDOr returns the native SRID or def when it is unknown.
func (r *Record) NativeSRIDOr(def int) int {
	if r.NativeSRID == nil {
		return def
	}
	return *r.NativeSRID
}

// QualifiedTable returns schema.table for logs and diagnostics.
func (r *Record) QualifiedTable() string {
	if r.DBSchema == "" {
		return r.DBTable
	}
	return r.DBSchema + "." + r.DBTable
}

// Snapshot returns a copy that shares no mutable state with r.
func (r *Record) Snapshot() Record {
	c := *r
	c.history = r.History()
	if r.NativeSRID != nil {
		v := *r.NativeSRID
		c.NativeSRID = &v
	}
	return c
}

func (r *Record) append(note string) {
	now := time.Now
	if r.now != nil {
		now = r.now
	}
	at := now()
	r.history = append(r.history, Event{At: at, Status: r.Status, Note: note})
	r.UpdatedAt = at
}
