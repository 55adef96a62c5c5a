package payload

import (
	"context"
	"fmt"

	"github.com/odyssey-erp/fiscalbridge/internal/codes"
	"github.com/odyssey-erp/fiscalbridge/internal/fiscal"
)

type stockRequest struct {
	TIN                    string  `json:"tin"`
	BranchID               string  `json:"bhfId"`
	StoredAndReleasedNo    int64   `json:"sarNo"`
	OriginalStoredReleased int64   `json:"orgSarNo"`
	RegistrationType       string  `json:"regTyCd"`
	CustomerTIN            string  `json:"custTin,omitempty"`
	CustomerName           string  `json:"custNm,omitempty"`
	CustomerBranchID       string  `json:"custBhfId,omitempty"`
	IOType                 string  `json:"sarTyCd"`
	OccurredAt             string  `json:"ocrnDt"`
	ReversalReason         string  `json:"rfdRsnCd,omitempty"`
	ReversedAt             string  `json:"rfdDt,omitempty"`
	ItemCount              int     `json:"totItemCnt"`
	TotalTaxable           float64 `json:"totTaxblAmt"`
	TotalTax               float64 `json:"totTaxAmt"`
	Total                  float64 `json:"totAmt"`
	Remark                 string  `json:"remark,omitempty"`
	actorFields
	Items []lineItem `json:"itemList"`
}

// StockBuilder prepares /stock/saveStockItems requests.
type StockBuilder struct {
	env Env
}

func (b *StockBuilder) Class() fiscal.Class { return fiscal.ClassStockMovement }

func (b *StockBuilder) Prepare(ctx context.Context, doc fiscal.Document) (*Draft, error) {
	rev, err := resolveReversal(ctx, b.env, doc)
	if err != nil {
		return nil, err
	}
	ioType, err := b.env.Codes.Lookup(codes.StockIOType, doc.StockIOType)
	if err != nil {
		return nil, fmt.Errorf("payload: stock movement %s: %w", doc.ID, err)
	}
	lines := absolute(doc.Lines)
	summary, err := summarize(b.env, lines, doc.GrandTotal.Abs())
	if err != nil {
		return nil, fmt.Errorf("payload: stock movement %s: %w", doc.ID, err)
	}
	items, err := lineItems(b.env, lines, summary)
	if err != nil {
		return nil, fmt.Errorf("payload: stock movement %s: %w", doc.ID, err)
	}

	req := stockRequest{
		TIN:                    b.env.Tenant.TIN,
		BranchID:               b.env.Tenant.BranchID,
		OriginalStoredReleased: rev.originalSeq,
		RegistrationType:       registrationManual,
		CustomerTIN:            doc.Counterparty.TIN,
		CustomerName:           doc.Counterparty.Name,
		CustomerBranchID:       doc.Counterparty.BranchID,
		IOType:                 ioType,
		OccurredAt:             formatDate(doc.PostedAt),
		ReversalReason:         rev.reasonCode,
		ReversedAt:             rev.at,
		ItemCount:              len(items),
		TotalTaxable:           money(summary.TotalTaxable),
		TotalTax:               money(summary.TotalTax),
		Total:                  money(summary.Total),
		Remark:                 doc.Remark,
		actorFields:            newActorFields(doc.Actor),
		Items:                  items,
	}
	return &Draft{
		Class:      fiscal.ClassStockMovement,
		DocumentID: doc.ID,
		Revision:   doc.Revision,
		render: func(seq int64) any {
			out := req
			out.StoredAndReleasedNo = seq
			return out
		},
	}, nil
}
