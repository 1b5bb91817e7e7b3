package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/JonMunkholm/geopostgis/internal/ingest"
	"github.com/JonMunkholm/geopostgis/internal/logging"
)

var (
	errRunNotFound    = errors.New("run not found")
	errReportNotReady = errors.New("run has not finished")
	errInvalidRunID   = errors.New("invalid run id")
)

// ErrorResponse is the JSON body of every error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

var requestErrors = map[error]ErrorResponse{
	errRunNotFound:    {Message: "Run not found", Action: "List runs at /api/runs", Code: "RUN404"},
	errReportNotReady: {Message: "Run is still in progress", Action: "Retry when the run has finished", Code: "RUN409"},
	errInvalidRunID:   {Message: "Run ID is not a UUID", Action: "Use a run_id from /api/runs", Code: "RUN400"},
}

// respondError logs err with the request ID and writes its description.
// Request errors have fixed descriptions; anything else goes through the
// same diagnostics as stage failures.
func respondError(w http.ResponseWriter, r *http.Request, err error, status int) {
	resp, ok := lookupRequestError(err)
	if !ok {
		d := ingest.MapError(err)
		resp = ErrorResponse{Message: d.Message, Action: d.Action, Code: d.Code}
	}
	resp.Error = err.Error()

	logger := logging.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Error("request error", "path", r.URL.Path, "status", status, "error", err, "code", resp.Code)
	} else {
		logger.Debug("request rejected", "path", r.URL.Path, "status", status, "error", err, "code", resp.Code)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func lookupRequestError(err error) (ErrorResponse, bool) {
	for target, resp := range requestErrors {
		if errors.Is(err, target) {
			return resp, true
		}
	}
	return ErrorResponse{}, false
}

// writeError writes an error that has no underlying Go error.
func writeError(w http.ResponseWriter, r *http.Request, status int, message, code string) {
	logging.FromContext(r.Context()).Debug("request rejected", "path", r.URL.Path, "status", status, "reason", message)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: message, Message: message, Code: code})
}
