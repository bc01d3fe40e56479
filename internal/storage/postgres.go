package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pnp-exchange/mentions-bot/internal/models"
)

const schemaSQL = `
	CREATE TABLE IF NOT EXISTS mention_rows (
		id          BIGSERIAL PRIMARY KEY,
		payload     JSONB NOT NULL,
		linked_id   TEXT NULL,
		inserted_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS mention_rows_linked_id_idx ON mention_rows (linked_id);
`

// MentionRow pairs a mention with its derived linked identifier for insertion.
type MentionRow struct {
	Mention  models.Mention
	LinkedID *string
}

// RowsFromMentions builds one row per mention.
func RowsFromMentions(mentions []models.Mention) []MentionRow {
	rows := make([]MentionRow, 0, len(mentions))
	for _, m := range mentions {
		rows = append(rows, MentionRow{Mention: m, LinkedID: m.LinkedID})
	}
	return rows
}

// NormalizeRange orders two bounds as low, high.
func NormalizeRange(from, to int64) (int64, int64) {
	if from > to {
		return to, from
	}
	return from, to
}

// DBTX is the subset of *pgxpool.Pool the store uses.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists mentions as rows and serves lookups by row id.
type PostgresStore struct {
	db DBTX
}

// Ensure PostgresStore implements Sink
var _ Sink = (*PostgresStore)(nil)

// NewPostgresStore creates a store backed by db, normally a *pgxpool.Pool.
func NewPostgresStore(db DBTX) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("postgres pool is required")
	}
	return &PostgresStore{db: db}, nil
}

// EnsureSchema creates the mention_rows table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensuring schema: %w", err)
	}
	return nil
}

// Insert writes rows with a single multi-row INSERT, so a batch is stored
// completely or not at all. Any failure is returned to the caller.
func (s *PostgresStore) Insert(ctx context.Context, rows []MentionRow) error {
	if len(rows) == 0 {
		return nil
	}

	var query strings.Builder
	query.WriteString("INSERT INTO mention_rows (payload, linked_id) VALUES ")

	args := make([]any, 0, len(rows)*2)
	for i, row := range rows {
		payload, err := json.Marshal(row.Mention)
		if err != nil {
			return fmt.Errorf("marshalling mention %s: %w", row.Mention.ID, err)
		}
		if i > 0 {
			query.WriteString(", ")
		}
		fmt.Fprintf(&query, "($%d, $%d)", 2*i+1, 2*i+2)
		args = append(args, payload, row.LinkedID)
	}

	if _, err := s.db.Exec(ctx, query.String(), args...); err != nil {
		return fmt.Errorf("inserting %d mention rows: %w", len(rows), err)
	}

	return nil
}

// Append inserts the mentions. Options only apply to documents and are ignored.
func (s *PostgresStore) Append(ctx context.Context, mentions []models.Mention, _ AppendOptions) error {
	return s.Insert(ctx, RowsFromMentions(mentions))
}

// WriteSnapshot inserts every mention of doc. Previously stored rows are not
// consulted, so repeated snapshots store duplicates.
func (s *PostgresStore) WriteSnapshot(ctx context.Context, doc *models.OutputDocument) error {
	return s.Insert(ctx, RowsFromMentions(doc.Tweets))
}

// GetByID returns the row with the given id, or nil when none matches.
func (s *PostgresStore) GetByID(ctx context.Context, id int64) (*models.StoredRow, error) {
	query := `
		SELECT id, payload, linked_id, inserted_at
		FROM mention_rows
		WHERE id = $1
	`

	row, err := scanRow(s.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting mention row %d: %w", id, err)
	}
	return row, nil
}

// GetRange returns rows whose id lies in the inclusive range, ascending. The
// bounds may be given in either order.
func (s *PostgresStore) GetRange(ctx context.Context, from, to int64) ([]models.StoredRow, error) {
	low, high := NormalizeRange(from, to)

	query := `
		SELECT id, payload, linked_id, inserted_at
		FROM mention_rows
		WHERE id BETWEEN $1 AND $2
		ORDER BY id ASC
	`

	rows, err := s.db.Query(ctx, query, low, high)
	if err != nil {
		return nil, fmt.Errorf("listing mention rows %d-%d: %w", low, high, err)
	}
	defer rows.Close()

	result := []models.StoredRow{}
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning mention row: %w", err)
		}
		result = append(result, *row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating mention rows: %w", err)
	}

	return result, nil
}

func scanRow(row pgx.Row) (*models.StoredRow, error) {
	var (
		stored  models.StoredRow
		payload []byte
	)
	if err := row.Scan(&stored.ID, &payload, &stored.LinkedID, &stored.InsertedAt); err != nil {
		return nil, err
	}
	stored.Payload = json.RawMessage(payload)
	return &stored, nil
}
