// Package db provides pgx bulk-load helpers shared by the postgres store.
package db

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// CopyFrom bulk-inserts rows with the PostgreSQL COPY protocol. Catalogue
// and BoM imports run through this path; a monthly base price sheet is
// tens of thousands of rows. The table name may be schema-qualified.
func CopyFrom(ctx context.Context, pool Pool, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	n, err := pool.CopyFrom(ctx, tableIdent(table), columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, eris.Wrapf(err, "db: COPY INTO %s", table)
	}
	return n, nil
}

// tableIdent splits an optionally schema-qualified table name into a
// pgx identifier.
func tableIdent(table string) pgx.Identifier {
	return pgx.Identifier(strings.SplitN(table, ".", 2))
}
