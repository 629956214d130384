package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// CopyFrom bulk-inserts rows into a table using the COPY protocol. Inside a
// transaction the rows become visible only on commit.
func CopyFrom(ctx context.Context, q Querier, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	n, err := q.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, eris.Wrapf(err, "db: COPY INTO %s", table)
	}
	return n, nil
}

// GroupRows splits a sequence of single-row inserts into per-table batches,
// preserving the order in which each table first appears.
func GroupRows(rows []Row) []Batch {
	var batches []Batch
	idx := make(map[string]int)
	for _, r := range rows {
		i, ok := idx[r.Table]
		if !ok {
			i = len(batches)
			idx[r.Table] = i
			batches = append(batches, Batch{Table: r.Table, Columns: r.Columns})
		}
		batches[i].Rows = append(batches[i].Rows, r.Values)
	}
	return batches
}

// Row is a single insert.
type Row struct {
	Table   string
	Columns []string
	Values  []any
}

// Batch is a set of rows for one table sharing a column list.
type Batch struct {
	Table   string
	Columns []string
	Rows    [][]any
}
