package postgres

import (
	"context"
	"fmt"

	"github.com/cwrk-planet/code-room/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

const schema = `
CREATE TABLE IF NOT EXISTS code_runs (
	id          TEXT PRIMARY KEY,
	room_id     TEXT NOT NULL,
	username    TEXT NOT NULL,
	language    TEXT NOT NULL,
	kind        TEXT NOT NULL,
	duration_ms BIGINT NOT NULL,
	output_len  INTEGER NOT NULL,
	error_len   INTEGER NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS code_runs_room_created_idx
	ON code_runs (room_id, created_at DESC, id DESC);`

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// RunRepository stores run metadata only; code and program output are never
// persisted.
type RunRepository struct {
	q querier
}

func NewRunRepository(q querier) *RunRepository {
	return &RunRepository{q: q}
}

func (r *RunRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.q.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (r *RunRepository) Save(ctx context.Context, rec domain.RunRecord) error {
	query := `
		INSERT INTO code_runs (id, room_id, username, language, kind, duration_ms, output_len, error_len, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`
	_, err := r.q.Exec(ctx, query,
		rec.ID, rec.RoomID, rec.User, string(rec.Language), string(rec.Kind),
		rec.DurationMS, rec.OutputLen, rec.ErrorLen, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// History pages through a room's runs, newest first. The returned cursor is
// empty on the last page.
func (r *RunRepository) History(ctx context.Context, roomID, cursorStr string, limit int) ([]domain.RunRecord, string, error) {
	cur, err := ParseCursor(cursorStr)
	if err != nil {
		return nil, "", err
	}
	limit = ClampLimit(limit)

	query := `
		SELECT id, room_id, username, language, kind, duration_ms, output_len, error_len, created_at
		FROM code_runs
		WHERE room_id = $1
		  AND ($2::timestamptz IS NULL OR created_at < $2
		       OR (created_at = $2 AND id < $3))
		ORDER BY created_at DESC, id DESC
		LIMIT $4`

	var createdAt, id any
	if cur != nil {
		createdAt = cur.CreatedAt
		id = cur.ID
	}

	rows, err := r.q.Query(ctx, query, roomID, createdAt, id, limit)
	if err != nil {
		return nil, "", fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.RunRecord
	for rows.Next() {
		var (
			rec        domain.RunRecord
			lang, kind string
		)
		if err := rows.Scan(&rec.ID, &rec.RoomID, &rec.User, &lang, &kind,
			&rec.DurationMS, &rec.OutputLen, &rec.ErrorLen, &rec.CreatedAt); err != nil {
			return nil, "", fmt.Errorf("scan run: %w", err)
		}
		rec.Language = domain.Language(lang)
		rec.Kind = domain.RunKind(kind)
		runs = append(runs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("iterate runs: %w", err)
	}

	var next string
	if len(runs) == limit {
		last := runs[len(runs)-1]
		next = RunCursor{CreatedAt: last.CreatedAt, ID: last.ID}.Encode()
	}
	return runs, next, nil
}

func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		return MaxHistoryLimit
	default:
		return limit
	}
}
