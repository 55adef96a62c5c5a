package payload

import (
	"context"
	"fmt"

	"github.com/odyssey-erp/fiscalbridge/internal/codes"
	"github.com/odyssey-erp/fiscalbridge/internal/fiscal"
)

type saleRequest struct {
	TIN               string `json:"tin"`
	BranchID          string `json:"bhfId"`
	InvoiceNo         int64  `json:"invcNo"`
	OriginalInvoiceNo int64  `json:"orgInvcNo"`
	CustomerTIN       string `json:"custTin,omitempty"`
	CustomerName      string `json:"custNm,omitempty"`
	SalesType         string `json:"salesTyCd"`
	ReceiptType       string `json:"rcptTyCd"`
	PaymentType       string `json:"pmtTyCd"`
	SalesStatus       string `json:"salesSttsCd"`
	ConfirmedAt       string `json:"cfmDt"`
	SalesDate         string `json:"salesDt"`
	StockReleasedAt   string `json:"stockRlsDt"`
	RefundReason      string `json:"rfdRsnCd,omitempty"`
	RefundedAt        string `json:"rfdDt,omitempty"`
	ItemCount         int    `json:"totItemCnt"`
	bracketFields
	TotalTaxable      float64 `json:"totTaxblAmt"`
	TotalTax          float64 `json:"totTaxAmt"`
	Total             float64 `json:"totAmt"`
	PurchaserAccepted string  `json:"prchrAcptcYn"`
	Remark            string  `json:"remark,omitempty"`
	actorFields
	Receipt saleReceipt `json:"receipt"`
	Items   []lineItem  `json:"itemList"`
}

type saleReceipt struct {
	CustomerTIN       string `json:"custTin,omitempty"`
	CustomerPhone     string `json:"custMblNo,omitempty"`
	PurchaserAccepted string `json:"prchrAcptcYn"`
}

// SaleBuilder prepares /trnsSales/saveSales requests.
type SaleBuilder struct {
	env Env
}

func (b *SaleBuilder) Class() fiscal.Class { return fiscal.ClassSale }

func (b *SaleBuilder) Prepare(ctx context.Context, doc fiscal.Document) (*Draft, error) {
	rev, err := resolveReversal(ctx, b.env, doc)
	if err != nil {
		return nil, err
	}
	payment, err := b.env.Codes.Lookup(codes.PaymentType, doc.PaymentMethod)
	if err != nil {
		return nil, fmt.Errorf("payload: sale %s: %w", doc.ID, err)
	}
	lines := absolute(doc.Lines)
	summary, err := summarize(b.env, lines, doc.GrandTotal.Abs())
	if err != nil {
		return nil, fmt.Errorf("payload: sale %s: %w", doc.ID, err)
	}
	brackets, err := newBracketFields(summary)
	if err != nil {
		return nil, err
	}
	items, err := lineItems(b.env, lines, summary)
	if err != nil {
		return nil, fmt.Errorf("payload: sale %s: %w", doc.ID, err)
	}

	req := saleRequest{
		TIN:               b.env.Tenant.TIN,
		BranchID:          b.env.Tenant.BranchID,
		OriginalInvoiceNo: rev.originalSeq,
		CustomerTIN:       doc.Counterparty.TIN,
		CustomerName:      doc.Counterparty.Name,
		SalesType:         typeNormal,
		ReceiptType:       receiptType(doc, "S"),
		PaymentType:       payment,
		SalesStatus:       statusApproved,
		ConfirmedAt:       formatDateTime(doc.PostedAt),
		SalesDate:         formatDate(doc.PostedAt),
		StockReleasedAt:   formatDateTime(doc.PostedAt),
		RefundReason:      rev.reasonCode,
		RefundedAt:        rev.at,
		ItemCount:         len(items),
		bracketFields:     brackets,
		TotalTaxable:      money(summary.TotalTaxable),
		TotalTax:          money(summary.TotalTax),
		Total:             money(summary.Total),
		PurchaserAccepted: flagNo,
		Remark:            doc.Remark,
		actorFields:       newActorFields(doc.Actor),
		Receipt: saleReceipt{
			CustomerTIN:       doc.Counterparty.TIN,
			CustomerPhone:     doc.Counterparty.Phone,
			PurchaserAccepted: flagNo,
		},
		Items: items,
	}
	return &Draft{
		Class:      fiscal.ClassSale,
		DocumentID: doc.ID,
		Revision:   doc.Revision,
		render: func(seq int64) any {
			out := req
			out.InvoiceNo = seq
			return out
		},
	}, nil
}
