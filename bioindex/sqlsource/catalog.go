package sqlsource

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/seqsift/bioindex/bioindex"
)

// Catalog implements bioindex.CatalogSource against the "indexes" metadata
// table written by the index builder.
type Catalog struct {
	db *sql.DB
}

// NewCatalog creates a catalog source over db.
func NewCatalog(db *sql.DB) *Catalog {
	return &Catalog{db: db}
}

// ListIndexes returns every index in the metadata table, built or not.
func (c *Catalog) ListIndexes(ctx context.Context) ([]bioindex.Index, error) {
	stmt, args, err := sq.Select("name", "built", "prefix", "schema").
		From("indexes").
		OrderBy("name").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", bioindex.ErrBackendUnavailable, err)
	}

	rows, err := c.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", bioindex.ErrBackendUnavailable, err)
	}
	defer func() { _ = rows.Close() }()

	var indexes []bioindex.Index
	for rows.Next() {
		var (
			idx    bioindex.Index
			schema string
		)
		if err := rows.Scan(&idx.Name, &idx.Built, &idx.Prefix, &schema); err != nil {
			return nil, fmt.Errorf("%w: %v", bioindex.ErrBackendUnavailable, err)
		}
		idx.Schema = ParseSchema(schema)
		indexes = append(indexes, idx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", bioindex.ErrBackendUnavailable, err)
	}
	return indexes, nil
}

// ParseSchema reads a catalog schema string: a comma-separated list of key
// columns with a trailing "*" marking a locus-indexed schema. The inverse of
// bioindex.Schema.String.
func ParseSchema(s string) bioindex.Schema {
	var schema bioindex.Schema
	if strings.HasSuffix(s, "*") {
		schema.HasLocus = true
		s = strings.TrimSuffix(s, "*")
	}
	if s == "" {
		return schema
	}
	schema.KeyColumns = strings.Split(s, ",")
	return schema
}

var _ bioindex.CatalogSource = (*Catalog)(nil)
