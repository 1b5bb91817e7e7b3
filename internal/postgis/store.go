// Package postgis implements the spatial database operations the loader and
// publisher need on top of a pgx connection pool.
//
// Every write runs in its own transaction taken from the pool, so concurrent
// workers never share a connection.
package postgis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JonMunkholm/geopostgis/internal/spatial"
)

// DefaultBatchSize is the number of feature inserts queued per round trip.
const DefaultBatchSize = 1000

// maxIdentifierLen is PostgreSQL's NAMEDATALEN - 1.
const maxIdentifierLen = 63

// DBTX is the interface for database operations.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Pool is a DBTX that can also start transactions.
type Pool interface {
	DBTX
	Begin(context.Context) (pgx.Tx, error)
}

// Store runs PostGIS statements against a pool.
type Store struct {
	pool      Pool
	batchSize int
}

// NewStore returns a Store. A non-positive batchSize uses DefaultBatchSize.
func NewStore(pool Pool, batchSize int) *Store {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Store{pool: pool, batchSize: batchSize}
}

// WriteTable replaces schema.table with the features in fs. The drop, create
// and inserts commit together; a failure leaves the previous table in place.
func (s *Store) WriteTable(ctx context.Context, schema, table string, fs *spatial.FeatureSet) error {
	if fs == nil {
		return errors.New("write table: nil feature set")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if schema != "" {
		if _, err := tx.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{schema}.Sanitize()); err != nil {
			return fmt.Errorf("create schema %s: %w", schema, err)
		}
	}
	if _, err := tx.Exec(ctx, "DROP TABLE IF EXISTS "+qualified(schema, table)); err != nil {
		return fmt.Errorf("drop table %s: %w", qualified(schema, table), err)
	}
	if _, err := tx.Exec(ctx, createTableSQL(schema, table, fs.Columns, fs.SRID)); err != nil {
		return fmt.Errorf("create table %s: %w", qualified(schema, table), err)
	}

	insert := insertSQL(schema, table, fs.Columns, fs.SRID)
	batch := &pgx.Batch{}
	for i, f := range fs.Features {
		wkb, err := spatial.EncodeWKB(f.Geometry)
		if err != nil {
			return fmt.Errorf("feature %d: %w", i, err)
		}
		args := make([]any, 0, len(f.Values)+1)
		args = append(args, f.Values...)
		args = append(args, wkb)
		batch.Queue(insert, args...)

		if batch.Len() >= s.batchSize {
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return fmt.Errorf("insert into %s: %w", qualified(schema, table), err)
			}
			batch = &pgx.Batch{}
		}
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert into %s: %w", qualified(schema, table), err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit %s: %w", qualified(schema, table), err)
	}
	return nil
}

// UpdateSRID sets the SRID of a geometry column and its typmod.
func (s *Store) UpdateSRID(ctx context.Context, schema, table, column string, srid int) error {
	var result string
	err := s.pool.QueryRow(ctx,
		"SELECT UpdateGeometrySRID($1::varchar, $2::varchar, $3::varchar, $4::integer)",
		schemaOrPublic(schema), table, column, srid,
	).Scan(&result)
	if err != nil {
		return fmt.Errorf("update srid of %s.%s to %d: %w", qualified(schema, table), column, srid, err)
	}
	return nil
}

// FindSRID returns the SRID registered for a geometry column.
func (s *Store) FindSRID(ctx context.Context, schema, table, column string) (int, error) {
	var srid int
	err := s.pool.QueryRow(ctx,
		"SELECT Find_SRID($1::varchar, $2::varchar, $3::varchar)",
		schemaOrPublic(schema), table, column,
	).Scan(&srid)
	if err != nil {
		return 0, fmt.Errorf("find srid of %s.%s: %w", qualified(schema, table), column, err)
	}
	return srid, nil
}

// TableExists reports whether schema.table exists.
func (s *Store) TableExists(ctx context.Context, schema, table string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT FROM pg_tables WHERE schemaname = $1 AND tablename = $2)",
		schemaOrPublic(schema), table,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check table %s: %w", qualified(schema, table), err)
	}
	return exists, nil
}

// CreateSpatialIndex builds a GiST index on column, clusters the table on it
// and refreshes planner statistics.
func (s *Store) CreateSpatialIndex(ctx context.Context, schema, table, column string) error {
	idx := IndexName(table)
	stmts := []string{
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING GIST (%s)",
			pgx.Identifier{idx}.Sanitize(), qualified(schema, table), pgx.Identifier{column}.Sanitize()),
		fmt.Sprintf("CLUSTER %s USING %s", qualified(schema, table), pgx.Identifier{idx}.Sanitize()),
		"ANALYZE " + qualified(schema, table),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("index %s: %w", qualified(schema, table), err)
		}
	}
	return nil
}

// IndexName returns the GiST index name for a table, truncated to the
// PostgreSQL identifier limit.
func IndexName(table string) string {
	name := "gidx_" + table
	if len(name) > maxIdentifierLen {
		name = name[:maxIdentifierLen]
	}
	return name
}

func createTableSQL(schema, table string, cols []spatial.Column, srid int) string {
	defs := make([]string, 0, len(cols)+1)
	for _, c := range cols {
		defs = append(defs, pgx.Identifier{c.Name}.Sanitize()+" "+string(c.Type))
	}
	defs = append(defs, fmt.Sprintf("%s geometry(Geometry, %d)",
		pgx.Identifier{spatial.GeometryColumn}.Sanitize(), srid))
	return fmt.Sprintf("CREATE TABLE %s (%s)", qualified(schema, table), strings.Join(defs, ", "))
}

func insertSQL(schema, table string, cols []spatial.Column, srid int) string {
	names := make([]string, 0, len(cols)+1)
	params := make([]string, 0, len(cols)+1)
	for i, c := range cols {
		names = append(names, pgx.Identifier{c.Name}.Sanitize())
		params = append(params, "$"+strconv.Itoa(i+1))
	}
	names = append(names, pgx.Identifier{spatial.GeometryColumn}.Sanitize())
	params = append(params, fmt.Sprintf("ST_GeomFromWKB($%d::bytea, %d)", len(cols)+1, srid))

	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		qualified(schema, table), strings.Join(names, ", "), strings.Join(params, ", "))
}

func qualified(schema, table string) string {
	if schema == "" {
		return pgx.Identifier{table}.Sanitize()
	}
	return pgx.Identifier{schema, table}.Sanitize()
}

func schemaOrPublic(schema string) string {
	if schema == "" {
		return "public"
	}
	return schema
}
