package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/geopostgis/internal/config"
	"github.com/JonMunkholm/geopostgis/internal/dataset"
	"github.com/JonMunkholm/geopostgis/internal/ingest"
)

type fakeWorkers struct{ status ingest.LimiterStatus }

func (f fakeWorkers) Status() ingest.LimiterStatus { return f.status }

func testConfig() config.ServerConfig {
	return config.ServerConfig{RequestTimeout: 5 * time.Second}
}

// finishedRun registers a finished two-dataset run in tr.
func finishedRun(tr *ingest.Tracker) uuid.UUID {
	runID := uuid.New()
	tr.RunStarted(runID, "norte", 2)

	published := dataset.New("ES-001", dataset.StatusDBToLoad, "catalog row 2")
	published.DBTable = "rios"
	_ = published.Transition(dataset.StatusDBUploaded, "table written")
	_ = published.Transition(dataset.StatusMapPublished, "layer published")

	failed := dataset.New("ES-002", dataset.StatusDBToLoad, "catalog row 3")
	failed.Fail("write failed: connection refused [DB001]")

	start := time.Date(2024, 3, 5, 14, 0, 0, 0, time.UTC)
	rep := ingest.NewReport(runID, "norte", start, start.Add(time.Minute), []*dataset.Record{published, failed})
	tr.RunFinished(runID, rep)
	return runID
}

func do(t *testing.T, s *Server, path string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = "192.0.2.10:40000"
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return resp
}

func TestServer_Health(t *testing.T) {
	s := NewServer(ingest.NewTracker(), nil, testConfig())
	rec := do(t, s, "/healthz", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	var body healthResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ok" || body.Runs != 0 {
		t.Errorf("body = %+v", body)
	}
}

func TestServer_Runs(t *testing.T) {
	tr := ingest.NewTracker()
	finished := finishedRun(tr)
	running := uuid.New()
	tr.RunStarted(running, "sur", 4)
	s := NewServer(tr, nil, testConfig())

	rec := do(t, s, "/api/runs", nil)
	var runs []ingest.RunProgress
	if err := json.NewDecoder(rec.Body).Decode(&runs); err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("runs = %+v", runs)
	}

	rec = do(t, s, "/api/runs/"+finished.String(), nil)
	var detail struct {
		State  ingest.RunState `json:"state"`
		Report *struct {
			GeoRecords   int `json:"geo_records"`
			ErrorRecords int `json:"error_records"`
		} `json:"report"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&detail); err != nil {
		t.Fatal(err)
	}
	if detail.State != ingest.RunStateFinished || detail.Report == nil {
		t.Fatalf("detail = %+v", detail)
	}
	if detail.Report.GeoRecords != 1 || detail.Report.ErrorRecords != 1 {
		t.Errorf("report = %+v", *detail.Report)
	}
}

func TestServer_RunErrors(t *testing.T) {
	tr := ingest.NewTracker()
	running := uuid.New()
	tr.RunStarted(running, "sur", 4)
	s := NewServer(tr, nil, testConfig())

	tests := []struct {
		name     string
		path     string
		wantCode int
		wantBody string
	}{
		{"invalid id", "/api/runs/not-a-uuid", http.StatusBadRequest, "RUN400"},
		{"unknown run", "/api/runs/" + uuid.NewString(), http.StatusNotFound, "RUN404"},
		{"unknown run datasets", "/api/runs/" + uuid.NewString() + "/datasets", http.StatusNotFound, "RUN404"},
		{"report of running run", "/api/runs/" + running.String() + "/report.csv", http.StatusConflict, "RUN409"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, tt.path, nil)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if resp := decodeError(t, rec); resp.Code != tt.wantBody {
				t.Errorf("code = %q, want %q", resp.Code, tt.wantBody)
			}
		})
	}
}

func TestServer_Datasets(t *testing.T) {
	tr := ingest.NewTracker()
	runID := finishedRun(tr)
	s := NewServer(tr, nil, testConfig())

	tests := []struct {
		query   string
		wantIDs []string
	}{
		{"", []string{"ES-001", "ES-002"}},
		{"?status=error", []string{"ES-002"}},
		{"?status=review", nil},
	}
	for _, tt := range tests {
		rec := do(t, s, "/api/runs/"+runID.String()+"/datasets"+tt.query, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%q: status = %d", tt.query, rec.Code)
		}
		var rows []map[string]string
		if err := json.NewDecoder(rec.Body).Decode(&rows); err != nil {
			t.Fatal(err)
		}
		if len(rows) != len(tt.wantIDs) {
			t.Fatalf("%q: rows = %v", tt.query, rows)
		}
		for i, id := range tt.wantIDs {
			if rows[i]["identifier"] != id {
				t.Errorf("%q: row %d = %q, want %q", tt.query, i, rows[i]["identifier"], id)
			}
		}
	}
}

func TestServer_ReportCSV(t *testing.T) {
	tr := ingest.NewTracker()
	runID := finishedRun(tr)
	s := NewServer(tr, nil, testConfig())

	rec := do(t, s, "/api/runs/"+runID.String()+"/report.csv", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("Content-Type = %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "geopostgis-bundle-norte_2024-03-05_14h.csv") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	body := rec.Body.String()
	if !strings.HasPrefix(body, `"identifier","name","status"`) {
		t.Errorf("header = %q", body[:min(len(body), 60)])
	}
	if !strings.Contains(body, `"ES-002","","error"`) {
		t.Errorf("missing failed dataset row:\n%s", body)
	}
}

func TestServer_APIKey(t *testing.T) {
	cfg := testConfig()
	cfg.APIKeys = []string{"k1", "k2"}
	s := NewServer(ingest.NewTracker(), nil, cfg)

	tests := []struct {
		name string
		path string
		key  string
		want int
	}{
		{"health is open", "/healthz", "", http.StatusOK},
		{"missing key", "/api/runs", "", http.StatusUnauthorized},
		{"wrong key", "/api/runs", "nope", http.StatusForbidden},
		{"second key", "/api/runs", "k2", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			if tt.key != "" {
				h.Set("X-API-Key", tt.key)
			}
			if rec := do(t, s, tt.path, h); rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestServer_Workers(t *testing.T) {
	s := NewServer(ingest.NewTracker(), fakeWorkers{ingest.LimiterStatus{Active: 2, Available: 1, Workers: 3, Completed: 7}}, testConfig())
	rec := do(t, s, "/api/workers", nil)

	var got ingest.LimiterStatus
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Workers != 3 || got.Active != 2 || got.Completed != 7 {
		t.Errorf("status = %+v", got)
	}
}

func TestRateLimiter(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := newRateLimiter(1, 2)
	rl.now = func() time.Time { return now }

	if !rl.allow("a") || !rl.allow("a") {
		t.Fatal("burst should be allowed")
	}
	if rl.allow("a") {
		t.Error("third request in the same instant should be limited")
	}
	if !rl.allow("b") {
		t.Error("other clients have their own bucket")
	}

	now = now.Add(time.Second)
	if !rl.allow("a") {
		t.Error("bucket should refill")
	}

	now = now.Add(staleAfter + time.Second)
	rl.allow("c")
	if _, ok := rl.visitors["b"]; ok {
		t.Error("stale visitor not swept")
	}
}
