package cli

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/geopostgis/internal/catalog"
	"github.com/JonMunkholm/geopostgis/internal/config"
	"github.com/JonMunkholm/geopostgis/internal/geoserver"
	"github.com/JonMunkholm/geopostgis/internal/ingest"
	"github.com/JonMunkholm/geopostgis/internal/logging"
	"github.com/JonMunkholm/geopostgis/internal/postgis"
)

// openPool connects to a bundle's database server and verifies the
// connection.
func openPool(ctx context.Context, b config.Bundle, db config.DatabaseConfig, workers int) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(b.Database.DSN(int(db.ConnectTimeout.Seconds())))
	if err != nil {
		return nil, fmt.Errorf("bundle %s: parse database settings: %w", b.Name, err)
	}

	size := db.PoolSize(workers)
	poolConfig.MaxConns = int32(size)
	poolConfig.MinConns = int32(min(db.MinConns, size))
	poolConfig.MaxConnLifetime = db.MaxConnLifetime
	poolConfig.MaxConnIdleTime = db.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("bundle %s: connect to database: %w", b.Name, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("bundle %s: ping database %s:%d/%s: %w",
			b.Name, b.Database.Host, b.Database.EffectivePort(), b.Database.DBName, err)
	}

	logging.FromContext(ctx).Info("connected to database",
		"bundle", b.Name,
		"host", b.Database.Host,
		"name", b.Database.DBName,
		"max_conns", size,
	)
	return pool, nil
}

// catalogSource returns where the bundle's catalog rows come from. db and
// objects may be nil when the bundle does not need them.
func catalogSource(b config.Bundle, db catalog.CatalogReader, objects catalog.ObjectGetter) (catalog.Source, error) {
	c := b.Catalog
	switch c.SourceKind() {
	case config.SourceCSV:
		return catalog.CSVSource{Path: c.Path, Encoding: c.Encoding, Comma: c.Comma()}, nil
	case config.SourceXLSX:
		return catalog.XLSXSource{Path: c.Path, Sheet: c.Sheet}, nil
	case config.SourceTable:
		if db == nil {
			return nil, fmt.Errorf("bundle %s: a table catalog needs a database connection", b.Name)
		}
		schema := c.Schema
		if schema == "" {
			schema = b.Database.SchemaOrPublic()
		}
		return catalog.TableSource{DB: db, Query: postgis.CatalogQuery{
			Schema:        schema,
			Table:         c.Table,
			FilterColumn:  c.Fields.Merge(catalog.DefaultFieldMapping()).Publisher,
			FilterPattern: c.Publisher,
		}}, nil
	case config.SourceObject:
		if objects == nil {
			return nil, fmt.Errorf("bundle %s: an object catalog needs object_store settings", b.Name)
		}
		return catalog.ObjectSource{
			Store:    objects,
			Bucket:   c.Bucket,
			Key:      c.Key,
			Sheet:    c.Sheet,
			Encoding: c.Encoding,
			Comma:    c.Comma(),
		}, nil
	}
	return nil, fmt.Errorf("bundle %s: unknown catalog source %q", b.Name, c.Source)
}

// builderOptions maps a bundle onto catalog builder options.
func builderOptions(b config.Bundle) catalog.Options {
	return catalog.Options{
		Bundle:            b.Name,
		Fields:            b.Catalog.Fields,
		Schema:            b.Database.SchemaOrPublic(),
		Workspace:         b.GeoServer.Workspace,
		DeclaredSRID:      b.GeoServer.DeclaredSRID,
		RasterDirectToMap: b.IsRasterDirectToMap(),
		PublisherFilter:   b.Catalog.Publisher,
	}
}

// stageSelection is the --stage flag.
type stageSelection string

const (
	stageAll stageSelection = "all"
	stageDB  stageSelection = "db"
	stageMap stageSelection = "map"
)

func parseStage(s string) (stageSelection, error) {
	switch stageSelection(s) {
	case stageAll, stageDB, stageMap:
		return stageSelection(s), nil
	}
	return "", fmt.Errorf("invalid stage %q: must be one of all, db, map", s)
}

// runOptions combines the bundle's options with the command line.
func runOptions(b config.Bundle, stage stageSelection, sequential bool) ingest.Options {
	return ingest.Options{
		LoadToDB:  b.IsLoadToDB() && stage != stageMap,
		LoadToMap: b.IsLoadToMap() && stage != stageDB,
		Parallel:  b.IsParallel() && !sequential,
	}
}

// geoServerClient builds the REST client for a bundle's map server.
func geoServerClient(b config.Bundle, gs config.GeoServerConfig) *geoserver.Client {
	return geoserver.NewClient(geoserver.ClientConfig{
		BaseURL:    b.GeoServer.URL,
		Username:   b.GeoServer.Username,
		Password:   b.GeoServer.Password,
		Timeout:    gs.Timeout,
		MaxRetries: gs.MaxRetries,
		RateLimit:  gs.RateLimit,
		RateBurst:  gs.RateBurst,
	})
}

// publisherConfig describes the datastore GeoServer reads the bundle's
// tables from.
func publisherConfig(b config.Bundle) ingest.PublisherConfig {
	return ingest.PublisherConfig{
		MapServerType: b.GeoServer.Type,
		DBType:        b.Database.Type,
		Workspace:     b.GeoServer.Workspace,
		Datastore:     b.DatastoreName(),
		DatastoreParams: geoserver.DatastoreParams{
			Host:     b.Database.Host,
			Port:     b.Database.EffectivePort(),
			Database: b.Database.DBName,
			Schema:   b.Database.SchemaOrPublic(),
			User:     b.Database.Username,
			Password: b.Database.Password,
		},
		DeclaredSRID: b.GeoServer.DeclaredSRID,
	}
}
