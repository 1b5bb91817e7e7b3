package ingest

// errors.go defines the failure taxonomy of the pipeline stages and the
// diagnostic codes written into dataset history.
//
// Diagnostic codes are grouped by category:
//
//	CFG001 - Unsupported database type
//	CFG002 - Unsupported map server or datastore type
//	IO001  - Source file not found
//	IO002  - Source file could not be opened
//	IO003  - Unsupported geometry type
//	IO004  - Attribute value could not be parsed
//	IO005  - Permission denied reading source
//	DB001  - Database unreachable
//	DB002  - Database connection interrupted
//	DB003  - Operation timed out
//	DB004  - Deadlock
//	DB005  - Missing database object (schema, table, or PostGIS function)
//	DB006  - Database authentication failed
//	GS001  - Map server rejected the credentials
//	GS002  - Map server resource not found
//	GS003  - Map server resource already exists
//	GS004  - Map server did not answer successfully after retries
//	GS005  - Map server internal error
//	RUN001 - Run cancelled
//	ERR000 - Unknown error, see logs
//
// Patterns are matched case-insensitively with strings.Contains against the
// full error chain text. The first match wins, so specific patterns come
// before general ones.

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies stage failures.
type ErrorKind string

const (
	KindValidation    ErrorKind = "validation"
	KindIO            ErrorKind = "io"
	KindDatabase      ErrorKind = "database"
	KindPublish       ErrorKind = "publish"
	KindConfiguration ErrorKind = "configuration"
)

// ErrUnsupported marks configuration the pipeline cannot act on.
var ErrUnsupported = errors.New("not supported yet")

// StageError is a failure inside a Loader or Publisher step.
type StageError struct {
	Kind   ErrorKind
	Step   string // write, srid, index, workspace, datastore, layer, ...
	Target string // schema.table or workspace:layer
	Err    error
}

func (e *StageError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("%s error in %s: %v", e.Kind, e.Step, e.Err)
	}
	return fmt.Sprintf("%s error in %s (%s): %v", e.Kind, e.Step, e.Target, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first StageError in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return "", false
}

// Diagnostic is the operator-facing description of a failure.
type Diagnostic struct {
	Message string // What happened
	Action  string // What to do about it
	Code    string // Reference code
}

type diagnosticPattern struct {
	pattern string
	diag    Diagnostic
}

var diagnosticPatterns = []diagnosticPattern{
	// Configuration
	{"unsupported database type", Diagnostic{"Database type is not supported", "Use a postgis database server in the bundle", "CFG001"}},
	{"not supported yet", Diagnostic{"Map server or datastore type is not supported", "Use geoserver with a postgis datastore", "CFG002"}},

	// Source files
	{"no such file or directory", Diagnostic{"Source file not found", "Check the dataset path in the catalog", "IO001"}},
	{"permission denied", Diagnostic{"Permission denied reading source", "Check file permissions for the service user", "IO005"}},
	{"unsupported shape type", Diagnostic{"Unsupported geometry type", "Convert the file to point, line or polygon geometries", "IO003"}},
	{"invalid number", Diagnostic{"Attribute value could not be parsed", "Fix the attribute table of the source file", "IO004"}},
	{"open shapefile", Diagnostic{"Source file could not be opened", "Check that the .shp, .shx and .dbf files are complete", "IO002"}},

	// Map server (before generic network patterns, messages embed HTTP text)
	{"max retries exceeded", Diagnostic{"Map server did not answer successfully after retries", "Check map server health and retry the run", "GS004"}},
	{"http 401", Diagnostic{"Map server rejected the credentials", "Check the geoserver username and password", "GS001"}},
	{"http 403", Diagnostic{"Map server rejected the credentials", "Check the geoserver user's permissions", "GS001"}},
	{"http 404", Diagnostic{"Map server resource not found", "Check that the workspace and store exist", "GS002"}},
	{"already exists", Diagnostic{"Map server resource already exists", "Remove the conflicting resource or rename the layer", "GS003"}},
	{"http 500", Diagnostic{"Map server internal error", "Check the map server logs", "GS005"}},

	// Database
	{"password authentication failed", Diagnostic{"Database authentication failed", "Check the database username and password", "DB006"}},
	{"connection refused", Diagnostic{"Database unreachable", "Check host and port of the database server", "DB001"}},
	{"connection reset", Diagnostic{"Database connection was interrupted", "Retry the run", "DB002"}},
	{"deadlock", Diagnostic{"Database was busy with conflicting operations", "Retry the run", "DB004"}},
	{"does not exist", Diagnostic{"Database object does not exist", "Check that PostGIS is installed and the schema exists", "DB005"}},

	// Cancellation and time limits
	{"context canceled", Diagnostic{"Run was cancelled", "Start a new run when ready", "RUN001"}},
	{"deadline exceeded", Diagnostic{"Operation timed out", "Raise the timeout or retry the run", "DB003"}},
	{"timeout", Diagnostic{"Operation timed out", "Raise the timeout or retry the run", "DB003"}},
}

var defaultDiagnostic = Diagnostic{
	Message: "An unexpected error occurred",
	Action:  "Check the logs for the technical error",
	Code:    "ERR000",
}

// MapError returns the diagnostic for err. A nil error returns the zero value.
func MapError(err error) Diagnostic {
	if err == nil {
		return Diagnostic{}
	}

	errStr := strings.ToLower(err.Error())
	for _, p := range diagnosticPatterns {
		if strings.Contains(errStr, p.pattern) {
			return p.diag
		}
	}
	return defaultDiagnostic
}

// FormatDiagnostic builds the history note for a failed step:
// "summary: technical error [CODE]".
func FormatDiagnostic(summary string, err error) string {
	if err == nil {
		return summary
	}
	return fmt.Sprintf("%s: %v [%s]", summary, err, MapError(err).Code)
}
