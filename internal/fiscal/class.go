package fiscal

import (
	"fmt"
	"strings"
)

// Class identifies a transaction class. Every class owns an independent
// sequence-number space and a gateway endpoint.
type Class string

const (
	ClassSale          Class = "sale"
	ClassPurchase      Class = "purchase"
	ClassStockMovement Class = "stock_movement"
	ClassCatalogItem   Class = "catalog_item"
)

// Classes lists every class in sweep order.
var Classes = []Class{ClassSale, ClassPurchase, ClassStockMovement, ClassCatalogItem}

var endpoints = map[Class]string{
	ClassSale:          "/trnsSales/saveSales",
	ClassPurchase:      "/trnsPurchase/savePurchases",
	ClassStockMovement: "/stock/saveStockItems",
	ClassCatalogItem:   "/items/saveItems",
}

// ParseClass converts user input into a Class.
func ParseClass(raw string) (Class, error) {
	c := Class(strings.ToLower(strings.TrimSpace(raw)))
	if !c.Valid() {
		return "", fmt.Errorf("fiscal: unknown transaction class %q", raw)
	}
	return c, nil
}

// Valid reports whether c is a known class.
func (c Class) Valid() bool {
	_, ok := endpoints[c]
	return ok
}

// Endpoint returns the gateway path submissions of this class are sent to.
func (c Class) Endpoint() string {
	return endpoints[c]
}

// Reversible reports whether documents of this class may reverse an
// earlier acknowledged submission.
func (c Class) Reversible() bool {
	return c == ClassSale || c == ClassPurchase || c == ClassStockMovement
}

func (c Class) String() string {
	return string(c)
}
