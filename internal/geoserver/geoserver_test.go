package geoserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c := NewClient(ClientConfig{
		BaseURL:   srv.URL + "/geoserver/",
		Username:  "admin",
		Password:  "geoserver",
		RateLimit: 1000,
		RateBurst: 100,
	})
	c.backoff = time.Millisecond
	return c
}

func TestWorkspaceExists(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "admin" || pass != "geoserver" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/geoserver/rest/workspaces/present":
			w.Write([]byte(`{"workspace":{"name":"present"}}`))
		default:
			http.NotFound(w, r)
		}
	})

	ok, err := c.WorkspaceExists(context.Background(), "present")
	if err != nil || !ok {
		t.Errorf("WorkspaceExists(present) = %v, %v", ok, err)
	}
	ok, err = c.WorkspaceExists(context.Background(), "absent")
	if err != nil || ok {
		t.Errorf("WorkspaceExists(absent) = %v, %v", ok, err)
	}
}

func TestCreatePostGISDatastore(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/geoserver/rest/workspaces/ws/datastores" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
	})

	err := c.CreatePostGISDatastore(context.Background(), "ws", "store", DatastoreParams{
		Host: "db", Port: 5432, Database: "gis", Schema: "espacios", User: "u", Password: "p",
	})
	if err != nil {
		t.Fatalf("CreatePostGISDatastore: %v", err)
	}

	ds := got["dataStore"].(map[string]any)
	if ds["name"] != "store" {
		t.Errorf("name = %v", ds["name"])
	}
	entries := ds["connectionParameters"].(map[string]any)["entry"].([]any)
	params := map[string]string{}
	for _, e := range entries {
		m := e.(map[string]any)
		params[m["@key"].(string)] = m["$"].(string)
	}
	if params["dbtype"] != "postgis" || params["port"] != "5432" || params["schema"] != "espacios" {
		t.Errorf("connection params = %v", params)
	}
}

func TestRetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	})

	if err := c.CreateWorkspace(context.Background(), "ws"); err != nil {
		t.Fatalf("CreateWorkspace: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestNoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("Store 'x' already exists"))
	})

	err := c.CreateWorkspace(context.Background(), "ws")
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("err = %v, want HTTPError", err)
	}
	if httpErr.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d", httpErr.StatusCode)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestRetriesExhausted(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	err := c.CreateWorkspace(context.Background(), "ws")
	if err == nil || !strings.Contains(err.Error(), "max retries exceeded") {
		t.Errorf("err = %v", err)
	}
}

func TestPublishFeatureType(t *testing.T) {
	var body map[string]map[string]any
	var path string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusCreated)
	})

	err := c.PublishFeatureType(context.Background(), FeatureTypeRequest{
		Workspace: "ws", Store: "st", Name: "rios", NativeName: "rios", Title: "Ríos",
		SRID: 25830, DeclaredSRID: 3857,
	})
	if err != nil {
		t.Fatalf("PublishFeatureType: %v", err)
	}
	if path != "/geoserver/rest/workspaces/ws/datastores/st/featuretypes" {
		t.Errorf("path = %s", path)
	}
	ft := body["featureType"]
	if ft["srs"] != "EPSG:3857" || ft["projectionPolicy"] != "REPROJECT_TO_DECLARED" {
		t.Errorf("featureType = %v", ft)
	}
}

func TestPublishCoverage(t *testing.T) {
	var requests []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		requests = append(requests, r.Method+" "+r.URL.Path)
		if r.Method == http.MethodGet {
			http.NotFound(w, r)
			return
		}
		if strings.HasSuffix(r.URL.Path, "/coveragestores") {
			b, _ := io.ReadAll(r.Body)
			if !strings.Contains(string(b), `"url":"file:/data/dem.tif"`) {
				t.Errorf("store body = %s", b)
			}
		}
		w.WriteHeader(http.StatusCreated)
	})

	err := c.PublishCoverage(context.Background(), CoverageRequest{
		Workspace: "ws", Store: "dem", Name: "dem", FilePath: "/data/dem.tif", DeclaredSRID: 3857,
	})
	if err != nil {
		t.Fatalf("PublishCoverage: %v", err)
	}
	want := []string{
		"GET /geoserver/rest/workspaces/ws/coveragestores/dem",
		"POST /geoserver/rest/workspaces/ws/coveragestores",
		"POST /geoserver/rest/workspaces/ws/coveragestores/dem/coverages",
	}
	if strings.Join(requests, "\n") != strings.Join(want, "\n") {
		t.Errorf("requests =\n%s", strings.Join(requests, "\n"))
	}
}

func TestUploadStyle_ReplacesExisting(t *testing.T) {
	var methods []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method)
		if r.Method == http.MethodPut && r.Header.Get("Content-Type") != "application/vnd.ogc.sld+xml" {
			t.Errorf("content type = %s", r.Header.Get("Content-Type"))
		}
		w.WriteHeader(http.StatusOK)
	})

	if err := c.UploadStyle(context.Background(), "ws", "rios", []byte("<sld/>")); err != nil {
		t.Fatalf("UploadStyle: %v", err)
	}
	if strings.Join(methods, ",") != "GET,PUT" {
		t.Errorf("methods = %v", methods)
	}
}

func TestLayerExists_Error(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	if _, err := c.LayerExists(context.Background(), "ws", "rios"); err == nil {
		t.Error("expected error on 403")
	}
}

func TestProjectionPolicy(t *testing.T) {
	tests := []struct {
		native, declared int
		want             string
	}{
		{25830, 3857, "REPROJECT_TO_DECLARED"},
		{3857, 3857, "FORCE_DECLARED"},
		{0, 3857, "FORCE_DECLARED"},
	}
	for _, tt := range tests {
		if got := projectionPolicy(tt.native, tt.declared); got != tt.want {
			t.Errorf("projectionPolicy(%d, %d) = %s, want %s", tt.native, tt.declared, got, tt.want)
		}
	}
}
