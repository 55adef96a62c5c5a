package payload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/odyssey-erp/fiscalbridge/internal/codes"
	"github.com/odyssey-erp/fiscalbridge/internal/fiscal"
)

type itemRequest struct {
	TIN                 string  `json:"tin"`
	BranchID            string  `json:"bhfId"`
	ItemCode            string  `json:"itemCd"`
	ItemClass           string  `json:"itemClsCd"`
	ItemType            string  `json:"itemTyCd"`
	ItemName            string  `json:"itemNm"`
	StandardName        string  `json:"itemStdNm,omitempty"`
	Origin              string  `json:"orgnNatCd"`
	PackagingUnit       string  `json:"pkgUnitCd"`
	QuantityUnit        string  `json:"qtyUnitCd"`
	TaxType             string  `json:"taxTyCd"`
	Barcode             string  `json:"bcd,omitempty"`
	DefaultPrice        float64 `json:"dftPrc"`
	InsuranceApplicable string  `json:"isrcAplcbYn"`
	InUse               string  `json:"useYn"`
	actorFields
}

// ItemBuilder prepares /items/saveItems requests. The sequence number is
// the serial suffix of the generated item code until the gateway accepts
// one; later revisions keep the accepted code.
type ItemBuilder struct {
	env Env
}

func (b *ItemBuilder) Class() fiscal.Class { return fiscal.ClassCatalogItem }

func (b *ItemBuilder) Prepare(ctx context.Context, doc fiscal.Document) (*Draft, error) {
	item := doc.Item
	if item == nil {
		return nil, fmt.Errorf("payload: catalog item %s: item details required", doc.ID)
	}
	lookup := func(category codes.Category, label string) (string, error) {
		code, err := b.env.Codes.Lookup(category, label)
		if err != nil {
			return "", fmt.Errorf("payload: catalog item %s: %w", doc.ID, err)
		}
		return code, nil
	}
	origin, err := lookup(codes.Country, item.Origin)
	if err != nil {
		return nil, err
	}
	itemType, err := lookup(codes.ItemType, item.Type)
	if err != nil {
		return nil, err
	}
	pkgUnit, err := lookup(codes.PackagingUnit, item.PackagingUnit)
	if err != nil {
		return nil, err
	}
	qtyUnit, err := lookup(codes.QuantityUnit, item.QuantityUnit)
	if err != nil {
		return nil, err
	}
	bracket, err := b.env.Codes.Taxes().Resolve(item.TaxTemplate)
	if err != nil {
		return nil, fmt.Errorf("payload: catalog item %s: %w", doc.ID, err)
	}
	registered, err := b.registeredCode(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	inUse := flagNo
	if item.Active {
		inUse = flagYes
	}

	req := itemRequest{
		TIN:                 b.env.Tenant.TIN,
		BranchID:            b.env.Tenant.BranchID,
		ItemClass:           item.ClassCode,
		ItemType:            itemType,
		ItemName:            item.Name,
		StandardName:        item.StandardName,
		Origin:              origin,
		PackagingUnit:       pkgUnit,
		QuantityUnit:        qtyUnit,
		TaxType:             bracket.Code,
		Barcode:             item.Barcode,
		DefaultPrice:        money(item.DefaultPrice),
		InsuranceApplicable: flagNo,
		InUse:               inUse,
		actorFields:         newActorFields(doc.Actor),
	}
	prefix := origin + itemType + pkgUnit + qtyUnit
	return &Draft{
		Class:      fiscal.ClassCatalogItem,
		DocumentID: doc.ID,
		Revision:   doc.Revision,
		render: func(seq int64) any {
			out := req
			out.ItemCode = registered
			if out.ItemCode == "" {
				out.ItemCode = ItemCode(prefix, seq)
			}
			return out
		},
	}, nil
}

// registeredCode returns the item code the gateway acknowledged for the
// document, empty when it never accepted one.
func (b *ItemBuilder) registeredCode(ctx context.Context, documentID string) (string, error) {
	body, err := b.env.Originals.AcknowledgedPayload(ctx, fiscal.ClassCatalogItem, documentID)
	if errors.Is(err, ErrOriginalNotAcknowledged) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("payload: catalog item %s: registered code: %w", documentID, err)
	}
	var prior struct {
		ItemCode string `json:"itemCd"`
	}
	if err := json.Unmarshal(body, &prior); err != nil {
		return "", fmt.Errorf("payload: catalog item %s: decode registered code: %w", documentID, err)
	}
	return prior.ItemCode, nil
}

// ItemCode formats a gateway item code from its classification prefix and
// serial number.
func ItemCode(prefix string, seq int64) string {
	return fmt.Sprintf("%s%07d", prefix, seq)
}
