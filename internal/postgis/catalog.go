package postgis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
)

// CatalogQuery selects the rows of a catalog table.
type CatalogQuery struct {
	Schema string
	Table  string

	// FilterColumn and FilterPattern restrict rows with LIKE when both are set.
	FilterColumn  string
	FilterPattern string
}

// ReadCatalog returns every row of a catalog table as column name to text
// value. NULL becomes the empty string.
func (s *Store) ReadCatalog(ctx context.Context, q CatalogQuery) ([]map[string]string, error) {
	sql := "SELECT * FROM " + qualified(q.Schema, q.Table)
	var args []any
	if q.FilterColumn != "" && q.FilterPattern != "" {
		sql += fmt.Sprintf(" WHERE %s::text LIKE $1", pgx.Identifier{q.FilterColumn}.Sanitize())
		args = append(args, q.FilterPattern)
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query catalog %s: %w", qualified(q.Schema, q.Table), err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []map[string]string
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("scan catalog row %d: %w", len(out)+1, err)
		}
		row := make(map[string]string, len(fields))
		for i, fd := range fields {
			row[fd.Name] = textValue(values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", qualified(q.Schema, q.Table), err)
	}
	return out, nil
}

func textValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.Format("2006-01-02 15:04:05")
	}
	return fmt.Sprint(v)
}
