package dataset

import (
	"errors"
	"strings"
)

// Status is the position of a dataset in the ingestion pipeline.
type Status string

const (
	StatusReview       Status = "review"        // missing required identifier
	StatusIgnore       Status = "ignore"        // no discoverable source file
	StatusDBToLoad     Status = "db_to_load"    // eligible for database load
	StatusDBUploaded   Status = "db_uploaded"   // table written, pending publication
	StatusGeoToLoad    Status = "geo_to_load"   // eligible for direct publication
	StatusMapPublished Status = "map_published" // served by the map server
	StatusError        Status = "error"         // failed, see history
	StatusUnknown      Status = "unknown"       // unrecognized input value
)

// ErrInvalidTransition is returned when a status change is not an edge of the
// state machine.
var ErrInvalidTransition = errors.New("invalid status transition")

// AllStatuses returns every status in report order.
func AllStatuses() []Status {
	return []Status{
		StatusReview,
		StatusIgnore,
		StatusDBToLoad,
		StatusDBUploaded,
		StatusGeoToLoad,
		StatusMapPublished,
		StatusError,
		StatusUnknown,
	}
}

// transitions lists the allowed edges. States missing from the map are terminal.
var transitions = map[Status][]Status{
	StatusDBToLoad:   {StatusDBUploaded, StatusError},
	StatusDBUploaded: {StatusMapPublished, StatusError},
	StatusGeoToLoad:  {StatusMapPublished, StatusError},
}

// legacyStatuses maps spellings written by earlier versions of the tool.
var legacyStatuses = map[string]Status{
	"db_to-load":         StatusDBToLoad,
	"geo_to-load":        StatusGeoToLoad,
	"geoserver_uploaded": StatusMapPublished,
}

// ParseStatus converts s to a Status. Anything outside the enumeration
// becomes StatusUnknown.
func ParseStatus(s string) Status {
	v := strings.ToLower(strings.TrimSpace(s))
	if st, ok := legacyStatuses[v]; ok {
		return st
	}
	for _, st := range AllStatuses() {
		if string(st) == v {
			return st
		}
	}
	return StatusUnknown
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	for _, st := range AllStatuses() {
		if s == st {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	_, ok := transitions[s]
	return !ok
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s Status) String() string {
	return string(s)
}
