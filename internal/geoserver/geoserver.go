// Package geoserver talks to the GeoServer REST API: workspaces, PostGIS
// datastores, feature types, GeoTIFF coverages and SLD styles.
package geoserver

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// DatastoreParams are the PostGIS connection settings GeoServer uses for a
// datastore.
type DatastoreParams struct {
	Host     string
	Port     int
	Database string
	Schema   string
	User     string
	Password string
}

// FeatureTypeRequest publishes a database table as a vector layer.
type FeatureTypeRequest struct {
	Workspace    string
	Store        string
	Name         string // published layer name
	NativeName   string // table name
	Title        string
	Abstract     string
	SRID         int // native SRID of the table, 0 when unknown
	DeclaredSRID int
}

// CoverageRequest publishes a GeoTIFF file as a raster layer.
type CoverageRequest struct {
	Workspace    string
	Store        string
	Name         string
	Title        string
	Abstract     string
	FilePath     string
	SRID         int
	DeclaredSRID int
}

// WorkspaceExists reports whether a workspace exists.
func (c *Client) WorkspaceExists(ctx context.Context, workspace string) (bool, error) {
	return c.exists(ctx, "workspaces/"+url.PathEscape(workspace))
}

// CreateWorkspace creates a workspace.
func (c *Client) CreateWorkspace(ctx context.Context, workspace string) error {
	body := map[string]any{"workspace": map[string]any{"name": workspace}}
	if _, err := c.sendJSON(ctx, http.MethodPost, "workspaces", body); err != nil {
		return fmt.Errorf("create workspace %s: %w", workspace, err)
	}
	return nil
}

// DatastoreExists reports whether a datastore exists in a workspace.
func (c *Client) DatastoreExists(ctx context.Context, workspace, store string) (bool, error) {
	return c.exists(ctx, "workspaces/"+url.PathEscape(workspace)+"/datastores/"+url.PathEscape(store))
}

// CreatePostGISDatastore creates a PostGIS datastore in a workspace.
func (c *Client) CreatePostGISDatastore(ctx context.Context, workspace, store string, p DatastoreParams) error {
	entries := []map[string]string{
		{"@key": "dbtype", "$": "postgis"},
		{"@key": "host", "$": p.Host},
		{"@key": "port", "$": strconv.Itoa(p.Port)},
		{"@key": "database", "$": p.Database},
		{"@key": "schema", "$": p.Schema},
		{"@key": "user", "$": p.User},
		{"@key": "passwd", "$": p.Password},
		{"@key": "Expose primary keys", "$": "true"},
	}
	body := map[string]any{
		"dataStore": map[string]any{
			"name":    store,
			"enabled": true,
			"connectionParameters": map[string]any{
				"entry": entries,
			},
		},
	}
	path := "workspaces/" + url.PathEscape(workspace) + "/datastores"
	if _, err := c.sendJSON(ctx, http.MethodPost, path, body); err != nil {
		return fmt.Errorf("create datastore %s:%s: %w", workspace, store, err)
	}
	return nil
}

// LayerExists reports whether workspace:layer is published.
func (c *Client) LayerExists(ctx context.Context, workspace, layer string) (bool, error) {
	return c.exists(ctx, "layers/"+url.PathEscape(workspace+":"+layer))
}

// PublishFeatureType publishes a table of a PostGIS datastore.
func (c *Client) PublishFeatureType(ctx context.Context, r FeatureTypeRequest) error {
	ft := map[string]any{
		"name":             r.Name,
		"nativeName":       r.NativeName,
		"title":            r.Title,
		"abstract":         r.Abstract,
		"srs":              epsg(r.DeclaredSRID),
		"projectionPolicy": projectionPolicy(r.SRID, r.DeclaredSRID),
		"enabled":          true,
	}
	path := "workspaces/" + url.PathEscape(r.Workspace) + "/datastores/" + url.PathEscape(r.Store) + "/featuretypes"
	if _, err := c.sendJSON(ctx, http.MethodPost, path, map[string]any{"featureType": ft}); err != nil {
		return fmt.Errorf("publish feature type %s:%s: %w", r.Workspace, r.Name, err)
	}
	return nil
}

// PublishCoverage creates a GeoTIFF coverage store for the file and publishes
// it as a layer.
func (c *Client) PublishCoverage(ctx context.Context, r CoverageRequest) error {
	ws := url.PathEscape(r.Workspace)

	exists, err := c.exists(ctx, "workspaces/"+ws+"/coveragestores/"+url.PathEscape(r.Store))
	if err != nil {
		return fmt.Errorf("check coverage store %s:%s: %w", r.Workspace, r.Store, err)
	}
	if !exists {
		store := map[string]any{
			"coverageStore": map[string]any{
				"name":      r.Store,
				"type":      "GeoTIFF",
				"enabled":   true,
				"workspace": map[string]any{"name": r.Workspace},
				"url":       "file:" + r.FilePath,
			},
		}
		if _, err := c.sendJSON(ctx, http.MethodPost, "workspaces/"+ws+"/coveragestores", store); err != nil {
			return fmt.Errorf("create coverage store %s:%s: %w", r.Workspace, r.Store, err)
		}
	}

	cov := map[string]any{
		"name":             r.Name,
		"nativeName":       r.Store,
		"title":            r.Title,
		"abstract":         r.Abstract,
		"srs":              epsg(r.DeclaredSRID),
		"projectionPolicy": projectionPolicy(r.SRID, r.DeclaredSRID),
		"enabled":          true,
	}
	path := "workspaces/" + ws + "/coveragestores/" + url.PathEscape(r.Store) + "/coverages"
	if _, err := c.sendJSON(ctx, http.MethodPost, path, map[string]any{"coverage": cov}); err != nil {
		return fmt.Errorf("publish coverage %s:%s: %w", r.Workspace, r.Name, err)
	}
	return nil
}

// UploadStyle creates or replaces an SLD style in a workspace.
func (c *Client) UploadStyle(ctx context.Context, workspace, name string, sld []byte) error {
	ws := url.PathEscape(workspace)
	stylePath := "workspaces/" + ws + "/styles/" + url.PathEscape(name)

	exists, err := c.exists(ctx, stylePath)
	if err != nil {
		return fmt.Errorf("check style %s:%s: %w", workspace, name, err)
	}

	req := request{
		method:      http.MethodPost,
		path:        "workspaces/" + ws + "/styles?name=" + url.QueryEscape(name),
		contentType: "application/vnd.ogc.sld+xml",
		body:        sld,
	}
	if exists {
		req.method = http.MethodPut
		req.path = stylePath
	}
	if _, err := c.do(ctx, req); err != nil {
		return fmt.Errorf("upload style %s:%s: %w", workspace, name, err)
	}
	return nil
}

// SetDefaultStyle assigns a workspace style as the layer's default style.
func (c *Client) SetDefaultStyle(ctx context.Context, workspace, layer, style string) error {
	body := map[string]any{
		"layer": map[string]any{
			"defaultStyle": map[string]any{"name": workspace + ":" + style},
		},
	}
	if _, err := c.sendJSON(ctx, http.MethodPut, "layers/"+url.PathEscape(workspace+":"+layer), body); err != nil {
		return fmt.Errorf("set default style of %s:%s: %w", workspace, layer, err)
	}
	return nil
}

// About returns the GeoServer version, used as a connectivity check.
func (c *Client) About(ctx context.Context) (string, error) {
	resp, err := c.get(ctx, "about/version.json")
	if err != nil {
		return "", err
	}
	var v struct {
		About struct {
			Resource []struct {
				Name    string `json:"@name"`
				Version any    `json:"Version"`
			} `json:"resource"`
		} `json:"about"`
	}
	if err := resp.JSON(&v); err != nil {
		return "", fmt.Errorf("decode version: %w", err)
	}
	for _, r := range v.About.Resource {
		if r.Name == "GeoServer" {
			return fmt.Sprint(r.Version), nil
		}
	}
	return "", nil
}

func epsg(srid int) string {
	return "EPSG:" + strconv.Itoa(srid)
}

// projectionPolicy reprojects when the native reference system is known and
// differs from the declared one; otherwise the declared one is forced.
func projectionPolicy(native, declared int) string {
	if native > 0 && native != declared {
		return "REPROJECT_TO_DECLARED"
	}
	return "FORCE_DECLARED"
}
