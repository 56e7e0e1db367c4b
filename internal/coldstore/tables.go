// Package coldstore is the durable mirror behind the hot Redis state:
// table snapshots land in Postgres (write-behind, recovery source) and
// completed hand histories land in MongoDB.
package coldstore

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var ErrTableNotFound = errors.New("coldstore: table not found")

// PersistedTable is one mirrored snapshot row.
type PersistedTable struct {
	TableID string
	Status  string
	Version uint64
	State   []byte
}

type TableRepo struct {
	pool *pgxpool.Pool
	log  *zap.Logger
	sb   sq.StatementBuilderType
}

func NewTableRepo(pool *pgxpool.Pool, log *zap.Logger) *TableRepo {
	return &TableRepo{
		pool: pool,
		log:  log,
		sb:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

const tableSchema = `
CREATE TABLE IF NOT EXISTS tables (
    table_id   TEXT PRIMARY KEY,
    status     TEXT        NOT NULL,
    version    BIGINT      NOT NULL,
    state      JSONB       NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

func (r *TableRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, tableSchema); err != nil {
		return fmt.Errorf("ensure tables schema: %w", err)
	}
	return nil
}

// Save upserts the mirror row, but never rolls it back to an older version.
func (r *TableRepo) Save(ctx context.Context, t PersistedTable) error {
	query, args, err := r.sb.Insert("tables").
		Columns("table_id", "status", "version", "state").
		Values(t.TableID, t.Status, t.Version, t.State).
		Suffix(`ON CONFLICT (table_id) DO UPDATE
            SET status = EXCLUDED.status,
                version = EXCLUDED.version,
                state = EXCLUDED.state,
                updated_at = now()
            WHERE tables.version <= EXCLUDED.version`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build table upsert: %w", err)
	}
	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("save table %s: %w", t.TableID, err)
	}
	return nil
}

// Get returns one mirrored snapshot.
func (r *TableRepo) Get(ctx context.Context, tableID string) (*PersistedTable, error) {
	query, args, err := r.sb.Select("table_id", "status", "version", "state").
		From("tables").Where(sq.Eq{"table_id": tableID}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build table select: %w", err)
	}
	var t PersistedTable
	err = r.pool.QueryRow(ctx, query, args...).
		Scan(&t.TableID, &t.Status, &t.Version, &t.State)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTableNotFound
		}
		return nil, fmt.Errorf("select table %s: %w", tableID, err)
	}
	return &t, nil
}

// ListOpen returns every non-closed mirrored table, for cold-start recovery
// of the hot store.
func (r *TableRepo) ListOpen(ctx context.Context) ([]PersistedTable, error) {
	query, args, err := r.sb.Select("table_id", "status", "version", "state").
		From("tables").
		Where(sq.NotEq{"status": "CLOSED"}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build open tables select: %w", err)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select open tables: %w", err)
	}
	defer rows.Close()

	var out []PersistedTable
	for rows.Next() {
		var t PersistedTable
		if err := rows.Scan(&t.TableID, &t.Status, &t.Version, &t.State); err != nil {
			return nil, fmt.Errorf("scan table row: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
