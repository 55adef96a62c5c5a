package fiscal

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// Document is a finalized business record as exposed by the source ledger.
// It is never mutated by the submission pipeline.
type Document struct {
	ID       string    `json:"id" validate:"required"`
	Class    Class     `json:"class" validate:"required"`
	Revision int       `json:"revision" validate:"gte=0"`
	PostedAt time.Time `json:"posted_at" validate:"required"`

	Counterparty  Party           `json:"counterparty"`
	PaymentMethod string          `json:"payment_method"`
	GrandTotal    decimal.Decimal `json:"grand_total"`
	Lines         []Line          `json:"lines" validate:"dive"`
	Actor         Actor           `json:"actor"`
	Remark        string          `json:"remark"`

	// ReversalOf holds the ID of the document this one reverses.
	ReversalOf     string    `json:"reversal_of,omitempty"`
	ReversalReason string    `json:"reversal_reason,omitempty"`
	ReversedAt     time.Time `json:"reversed_at,omitempty"`

	StockIOType string       `json:"stock_io_type,omitempty"`
	Item        *CatalogItem `json:"item,omitempty"`
}

// Party is the counterparty of a sale, purchase or stock movement.
type Party struct {
	TIN      string `json:"tin"`
	BranchID string `json:"branch_id"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
}

// Actor is the user who finalized the document.
type Actor struct {
	ID   string `json:"id" validate:"required"`
	Name string `json:"name" validate:"required"`
}

// Line is one item row of a document. Amount is tax-inclusive.
type Line struct {
	ItemCode      string          `json:"item_code" validate:"required"`
	ItemClass     string          `json:"item_class"`
	ItemName      string          `json:"item_name" validate:"required"`
	Barcode       string          `json:"barcode"`
	PackagingUnit string          `json:"packaging_unit" validate:"required"`
	QuantityUnit  string          `json:"quantity_unit" validate:"required"`
	Quantity      decimal.Decimal `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	Amount        decimal.Decimal `json:"amount"`
	Discount      decimal.Decimal `json:"discount"`
	TaxAmount     decimal.Decimal `json:"tax_amount"`
	TaxTemplate   string          `json:"tax_template" validate:"required"`
	// Balance is the stock left of the item after a stock movement, nil
	// when the source does not track it.
	Balance *decimal.Decimal `json:"balance,omitempty"`
}

// CatalogItem describes an item registration.
type CatalogItem struct {
	ClassCode     string          `json:"class_code" validate:"required"`
	Type          string          `json:"type" validate:"required"`
	Name          string          `json:"name" validate:"required"`
	StandardName  string          `json:"standard_name"`
	Origin        string          `json:"origin" validate:"required"`
	PackagingUnit string          `json:"packaging_unit" validate:"required"`
	QuantityUnit  string          `json:"quantity_unit" validate:"required"`
	TaxTemplate   string          `json:"tax_template" validate:"required"`
	DefaultPrice  decimal.Decimal `json:"default_price"`
	Barcode       string          `json:"barcode"`
	Active        bool            `json:"active"`
}

// IsReversal reports whether the document reverses an earlier one.
func (d Document) IsReversal() bool {
	return d.ReversalOf != ""
}

// ErrInvalidDocument indicates a document that cannot be submitted as is.
var ErrInvalidDocument = errors.New("fiscal: invalid document")

var validate = validator.New()

// Validate checks the structural requirements of the document.
func (d Document) Validate() error {
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidDocument, d.ID, err)
	}
	if !d.Class.Valid() {
		return fmt.Errorf("%w: %s: unknown class %q", ErrInvalidDocument, d.ID, d.Class)
	}
	switch d.Class {
	case ClassCatalogItem:
		if d.Item == nil {
			return fmt.Errorf("%w: %s: catalog item details required", ErrInvalidDocument, d.ID)
		}
		if err := validate.Struct(d.Item); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidDocument, d.ID, err)
		}
	default:
		if len(d.Lines) == 0 {
			return fmt.Errorf("%w: %s: at least one line required", ErrInvalidDocument, d.ID)
		}
	}
	if d.Class == ClassStockMovement && d.StockIOType == "" {
		return fmt.Errorf("%w: %s: stock i/o type required", ErrInvalidDocument, d.ID)
	}
	if d.IsReversal() && !d.Class.Reversible() {
		return fmt.Errorf("%w: %s: %s cannot be reversed", ErrInvalidDocument, d.ID, d.Class)
	}
	return nil
}
