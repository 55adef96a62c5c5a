package ledger

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/fiscalbridge/internal/fiscal"
	"github.com/odyssey-erp/fiscalbridge/internal/platform/db"
)

//go:embed schema/postgres.sql
var postgresSchema string

const (
	constraintSequence  = "uq_submission_log_sequence"
	constraintActiveDoc = "uq_submission_log_active_doc"
)

const entryColumns = `id, transaction_class, source_document_id, source_revision, sequence_no, payload_snapshot,
	status, result_code, error_detail, gateway_fields, terminal, attempts, supersedes, superseded_by,
	cancelled_at, print_count, created_at, updated_at, acknowledged_at`

// classOrderSQL orders rows the way the sweep visits classes.
var classOrderSQL = func() string {
	var b strings.Builder
	b.WriteString("CASE transaction_class")
	for i, c := range fiscal.Classes {
		fmt.Fprintf(&b, " WHEN '%s' THEN %d", c, i)
	}
	fmt.Fprintf(&b, " ELSE %d END", len(fiscal.Classes))
	return b.String()
}()

// PostgresStore persists the submission log in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresStore constructs the store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

// EnsureSchema creates the submission log table and its indexes.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("ledger: apply schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) MaxSequence(ctx context.Context, class fiscal.Class) (int64, error) {
	var max int64
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(sequence_no), 0) FROM fiscal_submission_log WHERE transaction_class = $1`, string(class)).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("ledger: max sequence: %w", err)
	}
	return max, nil
}

func (s *PostgresStore) Insert(ctx context.Context, entry Entry) error {
	now := s.now()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if entry.Supersedes != nil {
			tag, err := tx.Exec(ctx, `UPDATE fiscal_submission_log
				SET superseded_by = $2, cancelled_at = $3, updated_at = $3
				WHERE id = $1 AND superseded_by IS NULL`, *entry.Supersedes, entry.ID, now)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				var exists bool
				if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM fiscal_submission_log WHERE id = $1)`, *entry.Supersedes).Scan(&exists); err != nil {
					return err
				}
				if !exists {
					return ErrNotFound
				}
				return ErrAlreadySuperseded
			}
		}
		_, err := tx.Exec(ctx, `INSERT INTO fiscal_submission_log
			(id, transaction_class, source_document_id, source_revision, sequence_no, payload_snapshot,
			 status, result_code, error_detail, gateway_fields, terminal, attempts, supersedes,
			 print_count, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15)`,
			entry.ID, string(entry.Class), entry.SourceDocumentID, entry.SourceRevision, entry.SequenceNo, entry.Payload,
			string(entry.Status), entry.ResultCode, entry.ErrorDetail, nullBytes(entry.GatewayFields), entry.Terminal,
			entry.Attempts, nullUUID(entry.Supersedes), entry.PrintCount, entry.CreatedAt)
		return err
	})
	return mapPostgresError(err)
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (Entry, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM fiscal_submission_log WHERE id = $1`, id)
	return scanPostgresEntry(row)
}

func (s *PostgresStore) Active(ctx context.Context, class fiscal.Class, documentID string) (Entry, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM fiscal_submission_log
		WHERE transaction_class = $1 AND source_document_id = $2 AND superseded_by IS NULL`, string(class), documentID)
	return scanPostgresEntry(row)
}

func (s *PostgresStore) History(ctx context.Context, class fiscal.Class, documentID string) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+entryColumns+` FROM fiscal_submission_log
		WHERE transaction_class = $1 AND source_document_id = $2
		ORDER BY created_at, sequence_no`, string(class), documentID)
	if err != nil {
		return nil, fmt.Errorf("ledger: history: %w", err)
	}
	return collectPostgresEntries(rows)
}

func (s *PostgresStore) Record(ctx context.Context, id uuid.UUID, update Update) error {
	at := update.At
	if at.IsZero() {
		at = s.now()
	}
	tag, err := s.pool.Exec(ctx, `UPDATE fiscal_submission_log
		SET status = $2, result_code = $3, error_detail = $4, gateway_fields = $5, terminal = $6,
		    attempts = attempts + 1, updated_at = $7,
		    acknowledged_at = CASE WHEN $2 = 'acknowledged' THEN $7 ELSE acknowledged_at END
		WHERE id = $1 AND status <> 'acknowledged'`,
		id, string(update.Status), update.ResultCode, update.ErrorDetail, nullBytes(update.GatewayFields), update.Terminal, at)
	if err != nil {
		return fmt.Errorf("ledger: record outcome: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return ErrAcknowledged
}

func (s *PostgresStore) ListRetryable(ctx context.Context, limit int) ([]Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM fiscal_submission_log
		WHERE superseded_by IS NULL AND terminal = FALSE AND status <> 'acknowledged'
		ORDER BY ` + classOrderSQL + `, sequence_no`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: list retryable: %w", err)
	}
	return collectPostgresEntries(rows)
}

func (s *PostgresStore) IncrementPrintCount(ctx context.Context, id uuid.UUID) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `UPDATE fiscal_submission_log SET print_count = print_count + 1, updated_at = $2
		WHERE id = $1 RETURNING print_count`, id, s.now()).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("ledger: increment print count: %w", err)
	}
	return count, nil
}

func scanPostgresEntry(row pgx.Row) (Entry, error) {
	var (
		e                       Entry
		class, status           string
		gateway                 []byte
		supersedes, supersededB pgtype.UUID
		cancelled, acknowledged pgtype.Timestamptz
	)
	err := row.Scan(&e.ID, &class, &e.SourceDocumentID, &e.SourceRevision, &e.SequenceNo, &e.Payload,
		&status, &e.ResultCode, &e.ErrorDetail, &gateway, &e.Terminal, &e.Attempts, &supersedes, &supersededB,
		&cancelled, &e.PrintCount, &e.CreatedAt, &e.UpdatedAt, &acknowledged)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("ledger: scan entry: %w", err)
	}
	e.Class = fiscal.Class(class)
	e.Status = Status(status)
	if len(gateway) > 0 {
		e.GatewayFields = gateway
	}
	e.Supersedes = fromPgUUID(supersedes)
	e.SupersededBy = fromPgUUID(supersededB)
	e.CancelledAt = fromPgTime(cancelled)
	e.AcknowledgedAt = fromPgTime(acknowledged)
	return e, nil
}

func collectPostgresEntries(rows pgx.Rows) ([]Entry, error) {
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		e, err := scanPostgresEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func mapPostgresError(err error) error {
	if err == nil {
		return nil
	}
	if constraint, ok := db.UniqueViolation(err); ok {
		switch constraint {
		case constraintSequence:
			return ErrSequenceTaken
		case constraintActiveDoc:
			return ErrActiveEntryExists
		}
	}
	if db.SerializationFailure(err) {
		return ErrAlreadySuperseded
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrAlreadySuperseded) {
		return err
	}
	return fmt.Errorf("ledger: insert entry: %w", err)
}

func fromPgUUID(v pgtype.UUID) *uuid.UUID {
	if !v.Valid {
		return nil
	}
	id := uuid.UUID(v.Bytes)
	return &id
}

func fromPgTime(v pgtype.Timestamptz) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}

func nullUUID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

var _ Store = (*PostgresStore)(nil)
