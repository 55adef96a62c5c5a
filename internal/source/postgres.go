// Package source reads finalized business documents from the ledger the
// submission pipeline reports on. It never writes to it.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/fiscalbridge/internal/compliance"
	"github.com/odyssey-erp/fiscalbridge/internal/fiscal"
)

// Repository reads documents from fiscal_source_documents. Each row holds
// the JSON body of the latest revision of one document.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// EnsureSchema creates the documents table when missing. Production
// deployments usually expose it as a view over the business ledger.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS fiscal_source_documents (
		transaction_class TEXT NOT NULL,
		document_id TEXT NOT NULL,
		revision INT NOT NULL DEFAULT 0,
		body JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (transaction_class, document_id)
	)`)
	if err != nil {
		return fmt.Errorf("source: ensure schema: %w", err)
	}
	return nil
}

// Get loads one document.
func (r *Repository) Get(ctx context.Context, class fiscal.Class, id string) (fiscal.Document, error) {
	var (
		revision int
		body     []byte
	)
	err := r.pool.QueryRow(ctx, `SELECT revision, body FROM fiscal_source_documents
		WHERE transaction_class = $1 AND document_id = $2`, string(class), id).Scan(&revision, &body)
	if errors.Is(err, pgx.ErrNoRows) {
		return fiscal.Document{}, fmt.Errorf("%w: %s %s", compliance.ErrDocumentNotFound, class, id)
	}
	if err != nil {
		return fiscal.Document{}, fmt.Errorf("source: get %s %s: %w", class, id, err)
	}
	return Decode(class, id, revision, body)
}

// ListIDs returns the ids of every document of class, ordered by id.
func (r *Repository) ListIDs(ctx context.Context, class fiscal.Class) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT document_id FROM fiscal_source_documents
		WHERE transaction_class = $1 ORDER BY document_id`, string(class))
	if err != nil {
		return nil, fmt.Errorf("source: list %s: %w", class, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("source: list %s: %w", class, err)
	}
	return ids, nil
}

// Put stores a document body. It backs the operator import command and
// tests; the business ledger normally owns this table.
func (r *Repository) Put(ctx context.Context, doc fiscal.Document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("source: encode %s: %w", doc.ID, err)
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO fiscal_source_documents (transaction_class, document_id, revision, body)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (transaction_class, document_id)
		DO UPDATE SET revision = EXCLUDED.revision, body = EXCLUDED.body, updated_at = NOW()`,
		string(doc.Class), doc.ID, doc.Revision, body)
	if err != nil {
		return fmt.Errorf("source: put %s: %w", doc.ID, err)
	}
	return nil
}

// Decode parses a stored body. The row's key columns win over whatever the
// body claims.
func Decode(class fiscal.Class, id string, revision int, body []byte) (fiscal.Document, error) {
	var doc fiscal.Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return fiscal.Document{}, fmt.Errorf("%w: %s: malformed body: %w", fiscal.ErrInvalidDocument, id, err)
	}
	doc.ID = id
	doc.Class = class
	doc.Revision = revision
	return doc, nil
}

var _ compliance.Documents = (*Repository)(nil)
