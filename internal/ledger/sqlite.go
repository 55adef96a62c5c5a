package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/odyssey-erp/fiscalbridge/internal/fiscal"
)

//go:embed schema/sqlite.sql
var sqliteSchema string

// SQLiteStore keeps the submission log in a local SQLite file, for
// single-branch deployments without PostgreSQL.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens or creates the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("ledger: open sqlite: %w", err)
	}
	// A single connection serialises writers and keeps :memory: databases shared.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("ledger: %s: %w", pragma, err)
		}
	}
	if _, err := conn.Exec(sqliteSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ledger: apply sqlite schema: %w", err)
	}
	return &SQLiteStore{db: conn, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close releases the database.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) MaxSequence(ctx context.Context, class fiscal.Class) (int64, error) {
	var max int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(sequence_no), 0) FROM fiscal_submission_log WHERE transaction_class = ?`, string(class)).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("ledger: max sequence: %w", err)
	}
	return max, nil
}

func (s *SQLiteStore) Insert(ctx context.Context, entry Entry) error {
	now := s.now()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ledger: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if entry.Supersedes != nil {
		res, err := tx.ExecContext(ctx, `UPDATE fiscal_submission_log
			SET superseded_by = ?, cancelled_at = ?, updated_at = ?
			WHERE id = ? AND superseded_by IS NULL`, entry.ID.String(), now, now, entry.Supersedes.String())
		if err != nil {
			return fmt.Errorf("ledger: supersede: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			var exists int
			if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM fiscal_submission_log WHERE id = ?`, entry.Supersedes.String()).Scan(&exists); err != nil {
				return err
			}
			if exists == 0 {
				return ErrNotFound
			}
			return ErrAlreadySuperseded
		}
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO fiscal_submission_log
		(id, transaction_class, source_document_id, source_revision, sequence_no, payload_snapshot,
		 status, result_code, error_detail, gateway_fields, terminal, attempts, supersedes,
		 print_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID.String(), string(entry.Class), entry.SourceDocumentID, entry.SourceRevision, entry.SequenceNo, entry.Payload,
		string(entry.Status), entry.ResultCode, entry.ErrorDetail, nullBytes(entry.GatewayFields), entry.Terminal,
		entry.Attempts, nullUUID(entry.Supersedes), entry.PrintCount, entry.CreatedAt, entry.CreatedAt)
	if err != nil {
		return mapSQLiteError(err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ledger: commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id uuid.UUID) (Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM fiscal_submission_log WHERE id = ?`, id.String())
	return scanSQLiteEntry(row)
}

func (s *SQLiteStore) Active(ctx context.Context, class fiscal.Class, documentID string) (Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM fiscal_submission_log
		WHERE transaction_class = ? AND source_document_id = ? AND superseded_by IS NULL`, string(class), documentID)
	return scanSQLiteEntry(row)
}

func (s *SQLiteStore) History(ctx context.Context, class fiscal.Class, documentID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+entryColumns+` FROM fiscal_submission_log
		WHERE transaction_class = ? AND source_document_id = ?
		ORDER BY created_at, sequence_no`, string(class), documentID)
	if err != nil {
		return nil, fmt.Errorf("ledger: history: %w", err)
	}
	return collectSQLiteEntries(rows)
}

func (s *SQLiteStore) Record(ctx context.Context, id uuid.UUID, update Update) error {
	at := update.At
	if at.IsZero() {
		at = s.now()
	}
	var acknowledged any
	if update.Status == StatusAcknowledged {
		acknowledged = at
	}
	res, err := s.db.ExecContext(ctx, `UPDATE fiscal_submission_log
		SET status = ?, result_code = ?, error_detail = ?, gateway_fields = ?, terminal = ?,
		    attempts = attempts + 1, updated_at = ?, acknowledged_at = COALESCE(?, acknowledged_at)
		WHERE id = ? AND status <> 'acknowledged'`,
		string(update.Status), update.ResultCode, update.ErrorDetail, nullBytes(update.GatewayFields), update.Terminal,
		at, acknowledged, id.String())
	if err != nil {
		return fmt.Errorf("ledger: record outcome: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return ErrAcknowledged
}

func (s *SQLiteStore) ListRetryable(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+entryColumns+` FROM fiscal_submission_log
		WHERE superseded_by IS NULL AND terminal = 0 AND status <> 'acknowledged'
		ORDER BY `+classOrderSQL+`, sequence_no LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: list retryable: %w", err)
	}
	return collectSQLiteEntries(rows)
}

func (s *SQLiteStore) IncrementPrintCount(ctx context.Context, id uuid.UUID) (int, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE fiscal_submission_log SET print_count = print_count + 1, updated_at = ? WHERE id = ?`, s.now(), id.String())
	if err != nil {
		return 0, fmt.Errorf("ledger: increment print count: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, ErrNotFound
	}
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT print_count FROM fiscal_submission_log WHERE id = ?`, id.String()).Scan(&count); err != nil {
		return 0, fmt.Errorf("ledger: read print count: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteEntry(row rowScanner) (Entry, error) {
	var (
		e                       Entry
		id, class, status       string
		gateway                 []byte
		supersedes, supersededB sql.NullString
		cancelled, acknowledged sql.NullTime
	)
	err := row.Scan(&id, &class, &e.SourceDocumentID, &e.SourceRevision, &e.SequenceNo, &e.Payload,
		&status, &e.ResultCode, &e.ErrorDetail, &gateway, &e.Terminal, &e.Attempts, &supersedes, &supersededB,
		&cancelled, &e.PrintCount, &e.CreatedAt, &e.UpdatedAt, &acknowledged)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("ledger: scan entry: %w", err)
	}
	if e.ID, err = uuid.Parse(id); err != nil {
		return Entry{}, fmt.Errorf("ledger: scan entry id: %w", err)
	}
	e.Class = fiscal.Class(class)
	e.Status = Status(status)
	if len(gateway) > 0 {
		e.GatewayFields = gateway
	}
	if e.Supersedes, err = parseNullUUID(supersedes); err != nil {
		return Entry{}, err
	}
	if e.SupersededBy, err = parseNullUUID(supersededB); err != nil {
		return Entry{}, err
	}
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	if cancelled.Valid {
		t := cancelled.Time.UTC()
		e.CancelledAt = &t
	}
	if acknowledged.Valid {
		t := acknowledged.Time.UTC()
		e.AcknowledgedAt = &t
	}
	return e, nil
}

func collectSQLiteEntries(rows *sql.Rows) ([]Entry, error) {
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		e, err := scanSQLiteEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func parseNullUUID(v sql.NullString) (*uuid.UUID, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	id, err := uuid.Parse(v.String)
	if err != nil {
		return nil, fmt.Errorf("ledger: parse uuid %q: %w", v.String, err)
	}
	return &id, nil
}

func mapSQLiteError(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		if strings.Contains(sqliteErr.Error(), "sequence_no") {
			return ErrSequenceTaken
		}
		return ErrActiveEntryExists
	}
	return fmt.Errorf("ledger: insert entry: %w", err)
}

var _ Store = (*SQLiteStore)(nil)
