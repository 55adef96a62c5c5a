package payload

import (
	"context"
	"fmt"

	"github.com/odyssey-erp/fiscalbridge/internal/codes"
	"github.com/odyssey-erp/fiscalbridge/internal/fiscal"
)

type purchaseRequest struct {
	TIN               string `json:"tin"`
	BranchID          string `json:"bhfId"`
	InvoiceNo         int64  `json:"invcNo"`
	OriginalInvoiceNo int64  `json:"orgInvcNo"`
	SupplierTIN       string `json:"spplrTin,omitempty"`
	SupplierBranchID  string `json:"spplrBhfId,omitempty"`
	SupplierName      string `json:"spplrNm,omitempty"`
	RegistrationType  string `json:"regTyCd"`
	PurchaseType      string `json:"pchsTyCd"`
	ReceiptType       string `json:"rcptTyCd"`
	PaymentType       string `json:"pmtTyCd"`
	PurchaseStatus    string `json:"pchsSttsCd"`
	ConfirmedAt       string `json:"cfmDt"`
	PurchaseDate      string `json:"pchsDt"`
	WarehousedAt      string `json:"wrhsDt"`
	CancelRequestedAt string `json:"cnclReqDt,omitempty"`
	RefundReason      string `json:"rfdRsnCd,omitempty"`
	RefundedAt        string `json:"rfdDt,omitempty"`
	ItemCount         int    `json:"totItemCnt"`
	bracketFields
	TotalTaxable float64 `json:"totTaxblAmt"`
	TotalTax     float64 `json:"totTaxAmt"`
	Total        float64 `json:"totAmt"`
	Remark       string  `json:"remark,omitempty"`
	actorFields
	Items []lineItem `json:"itemList"`
}

// PurchaseBuilder prepares /trnsPurchase/savePurchases requests.
type PurchaseBuilder struct {
	env Env
}

func (b *PurchaseBuilder) Class() fiscal.Class { return fiscal.ClassPurchase }

func (b *PurchaseBuilder) Prepare(ctx context.Context, doc fiscal.Document) (*Draft, error) {
	rev, err := resolveReversal(ctx, b.env, doc)
	if err != nil {
		return nil, err
	}
	payment, err := b.env.Codes.Lookup(codes.PaymentType, doc.PaymentMethod)
	if err != nil {
		return nil, fmt.Errorf("payload: purchase %s: %w", doc.ID, err)
	}
	lines := absolute(doc.Lines)
	summary, err := summarize(b.env, lines, doc.GrandTotal.Abs())
	if err != nil {
		return nil, fmt.Errorf("payload: purchase %s: %w", doc.ID, err)
	}
	brackets, err := newBracketFields(summary)
	if err != nil {
		return nil, err
	}
	items, err := lineItems(b.env, lines, summary)
	if err != nil {
		return nil, fmt.Errorf("payload: purchase %s: %w", doc.ID, err)
	}

	req := purchaseRequest{
		TIN:               b.env.Tenant.TIN,
		BranchID:          b.env.Tenant.BranchID,
		OriginalInvoiceNo: rev.originalSeq,
		SupplierTIN:       doc.Counterparty.TIN,
		SupplierBranchID:  doc.Counterparty.BranchID,
		SupplierName:      doc.Counterparty.Name,
		RegistrationType:  registrationManual,
		PurchaseType:      typeNormal,
		ReceiptType:       receiptType(doc, "P"),
		PaymentType:       payment,
		PurchaseStatus:    statusApproved,
		ConfirmedAt:       formatDateTime(doc.PostedAt),
		PurchaseDate:      formatDate(doc.PostedAt),
		WarehousedAt:      formatDateTime(doc.PostedAt),
		CancelRequestedAt: rev.at,
		RefundReason:      rev.reasonCode,
		RefundedAt:        rev.at,
		ItemCount:         len(items),
		bracketFields:     brackets,
		TotalTaxable:      money(summary.TotalTaxable),
		TotalTax:          money(summary.TotalTax),
		Total:             money(summary.Total),
		Remark:            doc.Remark,
		actorFields:       newActorFields(doc.Actor),
		Items:             items,
	}
	return &Draft{
		Class:      fiscal.ClassPurchase,
		DocumentID: doc.ID,
		Revision:   doc.Revision,
		render: func(seq int64) any {
			out := req
			out.InvoiceNo = seq
			return out
		},
	}, nil
}
