package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// CopyFrom streams rows into table over the COPY protocol and returns the
// count the server reports. The target may be a pool or an open transaction;
// "schema.table" names are split on the first dot. Every row must have one
// value per column, and a short write is reported as an error so the caller
// can roll back.
func CopyFrom(ctx context.Context, c Copier, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	for i, r := range rows {
		if len(r) != len(columns) {
			return 0, eris.Errorf("db: COPY INTO %s: row %d has %d values for %d columns", table, i, len(r), len(columns))
		}
	}

	written, err := c.CopyFrom(ctx, identifier(table), columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, eris.Wrapf(err, "db: COPY INTO %s", table)
	}
	if written != int64(len(rows)) {
		return written, eris.Errorf("db: COPY INTO %s wrote %d of %d rows", table, written, len(rows))
	}
	return written, nil
}
