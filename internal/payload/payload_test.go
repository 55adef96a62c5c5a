package payload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/fiscalbridge/internal/codes"
	"github.com/odyssey-erp/fiscalbridge/internal/fiscal"
	"github.com/odyssey-erp/fiscalbridge/internal/ledger"
	"github.com/odyssey-erp/fiscalbridge/internal/tax"
)

var postedAt = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

type stubOriginals map[string]int64

func (s stubOriginals) AcknowledgedSequence(_ context.Context, class fiscal.Class, documentID string) (int64, error) {
	seq, ok := s[string(class)+"/"+documentID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrOriginalNotAcknowledged, documentID)
	}
	return seq, nil
}

func (s stubOriginals) AcknowledgedPayload(_ context.Context, class fiscal.Class, documentID string) ([]byte, error) {
	return nil, fmt.Errorf("%w: %s %s", ErrOriginalNotAcknowledged, class, documentID)
}

func newRegistry(t *testing.T, originals Originals) *Registry {
	t.Helper()
	cb, err := codes.Default()
	require.NoError(t, err)
	if originals == nil {
		originals = stubOriginals{}
	}
	reg, err := NewRegistry(Env{
		Tenant:    fiscal.Tenant{BaseURL: "http://vsdc.test", TIN: "999000111", BranchID: "00"},
		Codes:     cb,
		Originals: originals,
	})
	require.NoError(t, err)
	return reg
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func saleS1() fiscal.Document {
	return fiscal.Document{
		ID:            "SINV-0001",
		Class:         fiscal.ClassSale,
		PostedAt:      postedAt,
		Counterparty:  fiscal.Party{TIN: "101010101", Name: "Kigali Traders Ltd", Phone: "0788000111"},
		PaymentMethod: "Cash",
		GrandTotal:    d("118.00"),
		Actor:         fiscal.Actor{ID: "u-1042", Name: "Aline Uwase"},
		Lines: []fiscal.Line{
			{
				ItemCode: "RW1NTU0000001", ItemClass: "5020230602", ItemName: "Mineral Water 1L",
				PackagingUnit: "NT", QuantityUnit: "U", Quantity: d("2"), UnitPrice: d("29.50"),
				Amount: d("59.00"), TaxAmount: d("9.00"), TaxTemplate: "B - 18%",
			},
			{
				ItemCode: "RW1NTU0000002", ItemClass: "5020230602", ItemName: "Sparkling Water 1L",
				PackagingUnit: "Net", QuantityUnit: "Unit", Quantity: d("1"), UnitPrice: d("59.00"),
				Amount: d("59.00"), TaxAmount: d("9.00"), TaxTemplate: "B",
			},
		},
	}
}

func indent(t *testing.T, body []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.Indent(&buf, body, "", "  "))
	buf.WriteByte('\n')
	return buf.Bytes()
}

func golden(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestSalePayloadGolden(t *testing.T) {
	reg := newRegistry(t, nil)
	draft, err := reg.Prepare(context.Background(), saleS1())
	require.NoError(t, err)

	body, err := draft.Render(1)
	require.NoError(t, err)
	golden(t).Assert(t, "sale_s1", indent(t, body))
}

func TestRenderIsDeterministicPerSequence(t *testing.T) {
	reg := newRegistry(t, nil)
	draft, err := reg.Prepare(context.Background(), saleS1())
	require.NoError(t, err)

	first, err := draft.Render(3)
	require.NoError(t, err)
	again, err := draft.Render(3)
	require.NoError(t, err)
	require.Equal(t, first, again)

	other, err := draft.Render(4)
	require.NoError(t, err)
	require.NotEqual(t, first, other)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(other, &decoded))
	require.EqualValues(t, 4, decoded["invcNo"])

	_, err = draft.Render(0)
	require.Error(t, err)

	ld := draft.Ledger(nil)
	require.Equal(t, fiscal.ClassSale, ld.Class)
	require.Equal(t, "SINV-0001", ld.SourceDocumentID)
	viaLedger, err := ld.Render(3)
	require.NoError(t, err)
	require.Equal(t, first, viaLedger)
}

func TestSaleLinesCarryEqualSupplyAndTotal(t *testing.T) {
	reg := newRegistry(t, nil)
	draft, err := reg.Prepare(context.Background(), saleS1())
	require.NoError(t, err)
	body, err := draft.Render(1)
	require.NoError(t, err)

	var req saleRequest
	require.NoError(t, json.Unmarshal(body, &req))
	require.Len(t, req.Items, 2)
	for _, item := range req.Items {
		require.Equal(t, item.SupplyAmount, item.TotalAmount)
		require.Equal(t, item.Quantity, item.Package)
	}
	require.Equal(t, 100.0, *req.TaxableB)
	require.Equal(t, 18.0, *req.TaxB)
	require.Equal(t, 0.0, *req.TaxableA)
}

func TestSaleValidationFailures(t *testing.T) {
	reg := newRegistry(t, nil)
	ctx := context.Background()

	fractional := saleS1()
	fractional.Lines[0].Quantity = d("1.5")
	_, err := reg.Prepare(ctx, fractional)
	require.ErrorIs(t, err, ErrFractionalQuantity)

	unmapped := saleS1()
	unmapped.PaymentMethod = "Barter"
	_, err = reg.Prepare(ctx, unmapped)
	require.ErrorIs(t, err, codes.ErrUnmappedCode)

	unclassified := saleS1()
	unclassified.Lines[1].TaxTemplate = "Luxury 30%"
	_, err = reg.Prepare(ctx, unclassified)
	require.ErrorIs(t, err, tax.ErrUnclassifiedItem)

	mismatch := saleS1()
	mismatch.GrandTotal = d("120.00")
	_, err = reg.Prepare(ctx, mismatch)
	require.ErrorIs(t, err, tax.ErrTotalMismatch)

	badUnit := saleS1()
	badUnit.Lines[0].PackagingUnit = "Crate"
	_, err = reg.Prepare(ctx, badUnit)
	require.ErrorIs(t, err, codes.ErrUnmappedCode)
}

func TestSaleReversalReferencesAcknowledgedOriginal(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t, stubOriginals{"sale/SINV-0001": 41})

	credit := saleS1()
	credit.ID = "SINV-0001-RET"
	credit.ReversalOf = "SINV-0001"
	credit.ReversalReason = "Wrong Quantity"
	credit.ReversedAt = postedAt.Add(2 * time.Hour)
	for i := range credit.Lines {
		credit.Lines[i].Quantity = credit.Lines[i].Quantity.Neg()
		credit.Lines[i].Amount = credit.Lines[i].Amount.Neg()
		credit.Lines[i].TaxAmount = credit.Lines[i].TaxAmount.Neg()
	}
	credit.GrandTotal = d("-118.00")

	draft, err := reg.Prepare(ctx, credit)
	require.NoError(t, err)
	body, err := draft.Render(42)
	require.NoError(t, err)

	var req saleRequest
	require.NoError(t, json.Unmarshal(body, &req))
	require.EqualValues(t, 41, req.OriginalInvoiceNo)
	require.EqualValues(t, 42, req.InvoiceNo)
	require.Equal(t, "R", req.ReceiptType)
	require.Equal(t, "10", req.RefundReason)
	require.Equal(t, "20240301113000", req.RefundedAt)
	require.Equal(t, 118.0, req.Total)
	require.EqualValues(t, 2, req.Items[0].Quantity)

	orphan := credit
	orphan.ReversalOf = "SINV-0404"
	_, err = reg.Prepare(ctx, orphan)
	require.ErrorIs(t, err, ErrOriginalNotAcknowledged)
}

func TestLedgerOriginalsRequiresAcknowledgement(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	alloc := ledger.NewAllocator(store)
	entry, err := alloc.Append(ctx, ledger.Draft{
		Class: fiscal.ClassPurchase, SourceDocumentID: "PINV-1",
		Render: func(seq int64) ([]byte, error) { return []byte(`{}`), nil },
	})
	require.NoError(t, err)

	originals := LedgerOriginals{Store: store}
	_, err = originals.AcknowledgedSequence(ctx, fiscal.ClassPurchase, "PINV-1")
	require.ErrorIs(t, err, ErrOriginalNotAcknowledged)
	_, err = originals.AcknowledgedSequence(ctx, fiscal.ClassPurchase, "PINV-404")
	require.ErrorIs(t, err, ErrOriginalNotAcknowledged)

	require.NoError(t, store.Record(ctx, entry.ID, ledger.Update{Status: ledger.StatusAcknowledged, ResultCode: "000"}))
	seq, err := originals.AcknowledgedSequence(ctx, fiscal.ClassPurchase, "PINV-1")
	require.NoError(t, err)
	require.EqualValues(t, 1, seq)
}

func TestPurchaseAndStockPayloads(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t, stubOriginals{"stock_movement/STE-1": 9})

	purchase := saleS1()
	purchase.ID = "PINV-0001"
	purchase.Class = fiscal.ClassPurchase
	purchase.Counterparty = fiscal.Party{TIN: "202020202", BranchID: "01", Name: "Supplier Co"}
	draft, err := reg.Prepare(ctx, purchase)
	require.NoError(t, err)
	body, err := draft.Render(5)
	require.NoError(t, err)
	var preq purchaseRequest
	require.NoError(t, json.Unmarshal(body, &preq))
	require.EqualValues(t, 5, preq.InvoiceNo)
	require.Equal(t, "P", preq.ReceiptType)
	require.Equal(t, "202020202", preq.SupplierTIN)
	require.Equal(t, 18.0, *preq.TaxB)
	require.NotContains(t, string(body), "rfdRsnCd")

	stock := saleS1()
	stock.ID = "STE-2"
	stock.Class = fiscal.ClassStockMovement
	stock.StockIOType = "Adjustment_Out"
	draft, err = reg.Prepare(ctx, stock)
	require.NoError(t, err)
	body, err = draft.Render(10)
	require.NoError(t, err)
	var sreq stockRequest
	require.NoError(t, json.Unmarshal(body, &sreq))
	require.EqualValues(t, 10, sreq.StoredAndReleasedNo)
	require.Zero(t, sreq.OriginalStoredReleased)
	require.Equal(t, "16", sreq.IOType)
	require.Equal(t, "20240301", sreq.OccurredAt)
	require.NotContains(t, string(body), "taxblAmtB")

	stock.StockIOType = "teleport"
	_, err = reg.Prepare(ctx, stock)
	require.ErrorIs(t, err, codes.ErrUnmappedCode)

	stock.StockIOType = "Adjustment_Out"
	stock.GrandTotal = decimal.Zero
	_, err = reg.Prepare(ctx, stock)
	require.ErrorIs(t, err, tax.ErrTotalMismatch)
}

func TestPurchaseAndStockReversalsCarryReasonAndTime(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t, stubOriginals{"purchase/PINV-0001": 12, "stock_movement/STE-1": 9})
	reversedAt := postedAt.Add(3 * time.Hour)

	ret := saleS1()
	ret.ID = "PINV-0001-RET"
	ret.Class = fiscal.ClassPurchase
	ret.ReversalOf = "PINV-0001"
	ret.ReversalReason = "Damaged"
	ret.ReversedAt = reversedAt
	draft, err := reg.Prepare(ctx, ret)
	require.NoError(t, err)
	body, err := draft.Render(13)
	require.NoError(t, err)
	var preq purchaseRequest
	require.NoError(t, json.Unmarshal(body, &preq))
	require.EqualValues(t, 12, preq.OriginalInvoiceNo)
	require.Equal(t, "R", preq.ReceiptType)
	require.Equal(t, "03", preq.RefundReason)
	require.Equal(t, "20240301123000", preq.RefundedAt)
	require.Equal(t, "20240301123000", preq.CancelRequestedAt)

	back := saleS1()
	back.ID = "STE-2"
	back.Class = fiscal.ClassStockMovement
	back.StockIOType = "Adjustment_Out"
	back.ReversalOf = "STE-1"
	back.ReversalReason = "Wrong Quantity"
	draft, err = reg.Prepare(ctx, back)
	require.NoError(t, err)
	body, err = draft.Render(10)
	require.NoError(t, err)
	var sreq stockRequest
	require.NoError(t, json.Unmarshal(body, &sreq))
	require.EqualValues(t, 9, sreq.OriginalStoredReleased)
	require.Equal(t, "10", sreq.ReversalReason)
	require.Equal(t, "20240301093000", sreq.ReversedAt, "falls back to the posting time")

	back.ReversalReason = ""
	_, err = reg.Prepare(ctx, back)
	require.ErrorIs(t, err, codes.ErrUnmappedCode)
}

func TestCatalogItemPayloadGolden(t *testing.T) {
	reg := newRegistry(t, nil)
	doc := fiscal.Document{
		ID:       "ITEM-WATER-1L",
		Class:    fiscal.ClassCatalogItem,
		PostedAt: postedAt,
		Actor:    fiscal.Actor{ID: "u-1042", Name: "Aline Uwase"},
		Item: &fiscal.CatalogItem{
			ClassCode: "5020230602", Type: "Finished Product", Name: "Mineral Water 1L",
			Origin: "Rwanda", PackagingUnit: "Bottle", QuantityUnit: "Unit", TaxTemplate: "VAT 18%",
			DefaultPrice: d("500"), Barcode: "6001234567890", Active: true,
		},
	}
	draft, err := reg.Prepare(context.Background(), doc)
	require.NoError(t, err)
	body, err := draft.Render(7)
	require.NoError(t, err)
	golden(t).Assert(t, "catalog_item", indent(t, body))
}

func TestCatalogItemKeepsAcknowledgedCode(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	alloc := ledger.NewAllocator(store)
	reg := newRegistry(t, LedgerOriginals{Store: store})

	doc := fiscal.Document{
		ID:       "ITEM-WATER-1L",
		Class:    fiscal.ClassCatalogItem,
		PostedAt: postedAt,
		Actor:    fiscal.Actor{ID: "u-1042", Name: "Aline Uwase"},
		Item: &fiscal.CatalogItem{
			ClassCode: "5020230602", Type: "Finished Product", Name: "Mineral Water 1L",
			Origin: "Rwanda", PackagingUnit: "Bottle", QuantityUnit: "Unit", TaxTemplate: "VAT 18%",
			DefaultPrice: d("500"), Active: true,
		},
	}
	itemCode := func(body []byte) string {
		var req itemRequest
		require.NoError(t, json.Unmarshal(body, &req))
		return req.ItemCode
	}

	draft, err := reg.Prepare(ctx, doc)
	require.NoError(t, err)
	first, err := alloc.Append(ctx, draft.Ledger(nil))
	require.NoError(t, err)
	require.Equal(t, "RW2BOU0000001", itemCode(first.Payload))

	// Not acknowledged yet: a renumbered entry takes the new serial.
	second, err := alloc.Append(ctx, draft.Ledger(&first.ID))
	require.NoError(t, err)
	require.Equal(t, "RW2BOU0000002", itemCode(second.Payload))
	require.NoError(t, store.Record(ctx, second.ID, ledger.Update{Status: ledger.StatusAcknowledged, ResultCode: "000"}))

	doc.Revision = 1
	doc.Item.DefaultPrice = d("550")
	draft, err = reg.Prepare(ctx, doc)
	require.NoError(t, err)
	amended, err := alloc.Append(ctx, draft.Ledger(&second.ID))
	require.NoError(t, err)
	require.EqualValues(t, 3, amended.SequenceNo)
	require.Equal(t, "RW2BOU0000002", itemCode(amended.Payload))

	// The acknowledged entry is superseded now and still names the code.
	renumbered, err := alloc.Append(ctx, draft.Ledger(&amended.ID))
	require.NoError(t, err)
	require.Equal(t, "RW2BOU0000002", itemCode(renumbered.Payload))
}

func TestFit(t *testing.T) {
	require.Equal(t, "Aline Uwase", Fit("  Aline Uwase ", NameLimit))

	long := strings.Repeat("Jean-Baptiste Habyarimana ", 4)
	fitted := Fit(long, IDLimit)
	require.Len(t, fitted, IDLimit)
	require.Equal(t, fitted, Fit(long, IDLimit))
	for _, r := range fitted {
		require.True(t, (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'))
	}

	other := Fit(long+"x", IDLimit)
	require.NotEqual(t, fitted, other)

	// Compatibility forms normalise to the same token.
	require.Equal(t, Fit(strings.Repeat("ﬁ", 30), IDLimit), Fit(strings.Repeat("fi", 30), IDLimit))

	require.LessOrEqual(t, len(Fit(strings.Repeat("a", 80), NameLimit)), NameLimit)
}

func TestItemCode(t *testing.T) {
	require.Equal(t, "RW2BOU0000007", ItemCode("RW2BOU", 7))
	require.Equal(t, "RW2BOU12345678", ItemCode("RW2BOU", 12345678))
}
