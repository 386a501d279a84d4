package db

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// Merge describes a bulk insert-or-update into Table keyed on Key.
type Merge struct {
	// Table may be schema-qualified ("public.funds").
	Table   string
	Columns []string
	Key     []string
	// Keep overrides the SET expression for a column on conflict. The stored
	// row is aliased "t" and the incoming one is EXCLUDED. Columns that are
	// neither keys nor in Keep take the incoming value.
	Keep map[string]string
}

// staging is the temp table rows are copied into before the merge.
func (m Merge) staging() string {
	return "_merge_" + strings.ReplaceAll(m.Table, ".", "_")
}

func (m Merge) validate() error {
	switch {
	case m.Table == "":
		return eris.New("db: merge: table is required")
	case len(m.Columns) == 0:
		return eris.New("db: merge: no columns")
	case len(m.Key) == 0:
		return eris.New("db: merge: no key columns")
	}
	cols := make(map[string]bool, len(m.Columns))
	for _, c := range m.Columns {
		cols[c] = true
	}
	for _, k := range m.Key {
		if !cols[k] {
			return eris.Errorf("db: merge: key column %q is not inserted", k)
		}
	}
	return nil
}

// Statements returns the staging DDL and the merge statement.
func (m Merge) Statements() (stage, merge string) {
	target := qualified(m.Table)
	staging := pgx.Identifier{m.staging()}.Sanitize()
	cols := identList(m.Columns)

	stage = "CREATE TEMP TABLE " + staging + " (LIKE " + target + " INCLUDING DEFAULTS) ON COMMIT DROP"

	isKey := make(map[string]bool, len(m.Key))
	for _, k := range m.Key {
		isKey[k] = true
	}
	var set []string
	for _, c := range m.Columns {
		if isKey[c] {
			continue
		}
		ident := pgx.Identifier{c}.Sanitize()
		expr, ok := m.Keep[c]
		if !ok {
			expr = "EXCLUDED." + ident
		}
		set = append(set, ident+" = "+expr)
	}
	var b strings.Builder
	b.WriteString("INSERT INTO " + target + " AS t (" + cols + ") SELECT " + cols + " FROM " + staging)
	b.WriteString(" ON CONFLICT (" + identList(m.Key) + ")")
	if len(set) == 0 {
		b.WriteString(" DO NOTHING")
	} else {
		b.WriteString(" DO UPDATE SET " + strings.Join(set, ", "))
	}
	return stage, b.String()
}

// Exec stages rows with COPY and merges them in a single transaction. It
// returns the number of rows inserted or updated.
func (m Merge) Exec(ctx context.Context, pool Pool, rows [][]any) (int64, error) {
	if err := m.validate(); err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	stage, merge := m.Statements()

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: merge: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, stage); err != nil {
		return 0, eris.Wrapf(err, "db: merge: stage %s", m.Table)
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{m.staging()}, m.Columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: merge: copy %d rows into %s", len(rows), m.Table)
	}
	tag, err := tx.Exec(ctx, merge)
	if err != nil {
		return 0, eris.Wrapf(err, "db: merge: %s", m.Table)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: merge: commit")
	}
	return tag.RowsAffected(), nil
}

func qualified(table string) string {
	if schema, name, ok := strings.Cut(table, "."); ok {
		return pgx.Identifier{schema, name}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

func identList(cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(out, ", ")
}
