package fiscal

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func sampleSale() Document {
	return Document{
		ID:       "SINV-0001",
		Class:    ClassSale,
		PostedAt: time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC),
		Actor:    Actor{ID: "cashier@example.com", Name: "Cashier"},
		Lines: []Line{{
			ItemCode:      "RW1NTXU0000001",
			ItemName:      "Soap",
			PackagingUnit: "NT",
			QuantityUnit:  "U",
			Quantity:      decimal.NewFromInt(1),
			Amount:        decimal.NewFromInt(118),
			TaxTemplate:   "B",
		}},
	}
}

func TestParseClass(t *testing.T) {
	c, err := ParseClass(" Sale ")
	require.NoError(t, err)
	require.Equal(t, ClassSale, c)
	require.Equal(t, "/trnsSales/saveSales", c.Endpoint())

	_, err = ParseClass("invoice")
	require.Error(t, err)
}

func TestDocumentValidate(t *testing.T) {
	doc := sampleSale()
	require.NoError(t, doc.Validate())

	missingLines := sampleSale()
	missingLines.Lines = nil
	require.ErrorIs(t, missingLines.Validate(), ErrInvalidDocument)

	badLine := sampleSale()
	badLine.Lines[0].TaxTemplate = ""
	require.ErrorIs(t, badLine.Validate(), ErrInvalidDocument)

	item := Document{
		ID:       "ITEM-1",
		Class:    ClassCatalogItem,
		PostedAt: time.Now(),
		Actor:    Actor{ID: "admin", Name: "Admin"},
	}
	require.Error(t, item.Validate())

	stock := sampleSale()
	stock.Class = ClassStockMovement
	require.Error(t, stock.Validate())
	stock.StockIOType = "sale"
	require.NoError(t, stock.Validate())
}

func TestCatalogItemCannotBeReversed(t *testing.T) {
	doc := Document{
		ID:         "ITEM-2",
		Class:      ClassCatalogItem,
		PostedAt:   time.Now(),
		Actor:      Actor{ID: "admin", Name: "Admin"},
		ReversalOf: "ITEM-1",
		Item: &CatalogItem{
			ClassCode: "5020230602", Type: "2", Name: "Soap", Origin: "RW",
			PackagingUnit: "NT", QuantityUnit: "U", TaxTemplate: "B",
		},
	}
	require.Error(t, doc.Validate())
}

func TestTenantValidate(t *testing.T) {
	require.NoError(t, Tenant{BaseURL: "https://vsdc.example.com/api", TIN: "999000111", BranchID: "00"}.Validate())
	require.Error(t, Tenant{BaseURL: "not a url", TIN: "1", BranchID: "00"}.Validate())
}
