package payload

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/fiscalbridge/internal/fiscal"
)

type stockMasterRequest struct {
	TIN       string  `json:"tin"`
	BranchID  string  `json:"bhfId"`
	ItemCode  string  `json:"itemCd"`
	Remaining float64 `json:"rsdQty"`
	actorFields
}

// StockMaster renders a /stockMaster/saveStockMaster request setting the
// remaining quantity of one item.
func StockMaster(tenant fiscal.Tenant, itemCode string, remaining decimal.Decimal, actor fiscal.Actor) ([]byte, error) {
	if itemCode == "" {
		return nil, fmt.Errorf("%w: stock master needs an item code", fiscal.ErrInvalidDocument)
	}
	body, err := json.Marshal(stockMasterRequest{
		TIN:         tenant.TIN,
		BranchID:    tenant.BranchID,
		ItemCode:    itemCode,
		Remaining:   money(remaining),
		actorFields: newActorFields(actor),
	})
	if err != nil {
		return nil, fmt.Errorf("payload: encode stock master %s: %w", itemCode, err)
	}
	return body, nil
}
