package payload

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/fiscalbridge/internal/codes"
	"github.com/odyssey-erp/fiscalbridge/internal/fiscal"
	"github.com/odyssey-erp/fiscalbridge/internal/tax"
)

const (
	dateLayout     = "20060102"
	dateTimeLayout = "20060102150405"

	// Gateway constants shared by every transaction request.
	registrationManual = "M"
	typeNormal         = "N"
	statusApproved     = "02"
	flagYes            = "Y"
	flagNo             = "N"
)

// bracketFields are the per-bracket totals of sales and purchases. A nil
// pointer is an unconfigured bracket and stays off the wire.
type bracketFields struct {
	TaxableA *float64 `json:"taxblAmtA,omitempty"`
	TaxableB *float64 `json:"taxblAmtB,omitempty"`
	TaxableC *float64 `json:"taxblAmtC,omitempty"`
	TaxableD *float64 `json:"taxblAmtD,omitempty"`
	RateA    *float64 `json:"taxRtA,omitempty"`
	RateB    *float64 `json:"taxRtB,omitempty"`
	RateC    *float64 `json:"taxRtC,omitempty"`
	RateD    *float64 `json:"taxRtD,omitempty"`
	TaxA     *float64 `json:"taxAmtA,omitempty"`
	TaxB     *float64 `json:"taxAmtB,omitempty"`
	TaxC     *float64 `json:"taxAmtC,omitempty"`
	TaxD     *float64 `json:"taxAmtD,omitempty"`
}

func newBracketFields(summary tax.Summary) (bracketFields, error) {
	var f bracketFields
	for _, b := range summary.Brackets {
		taxable, rate, amount := ptr(money(b.Taxable)), ptr(money(b.Rate)), ptr(money(b.Tax))
		switch b.Code {
		case "A":
			f.TaxableA, f.RateA, f.TaxA = taxable, rate, amount
		case "B":
			f.TaxableB, f.RateB, f.TaxB = taxable, rate, amount
		case "C":
			f.TaxableC, f.RateC, f.TaxC = taxable, rate, amount
		case "D":
			f.TaxableD, f.RateD, f.TaxD = taxable, rate, amount
		default:
			return bracketFields{}, fmt.Errorf("%w: %s", ErrUnsupportedBracket, b.Code)
		}
	}
	return f, nil
}

type actorFields struct {
	RegistrantID   string `json:"regrId"`
	RegistrantName string `json:"regrNm"`
	ModifierID     string `json:"modrId"`
	ModifierName   string `json:"modrNm"`
}

func newActorFields(actor fiscal.Actor) actorFields {
	id, name := Fit(actor.ID, IDLimit), Fit(actor.Name, NameLimit)
	return actorFields{RegistrantID: id, RegistrantName: name, ModifierID: id, ModifierName: name}
}

// lineItem is one itemList row. splyAmt and totAmt always carry the same
// value; qty and pkg always carry the same integer.
type lineItem struct {
	Seq            int     `json:"itemSeq"`
	ItemCode       string  `json:"itemCd"`
	ItemClass      string  `json:"itemClsCd"`
	ItemName       string  `json:"itemNm"`
	Barcode        string  `json:"bcd,omitempty"`
	PackagingUnit  string  `json:"pkgUnitCd"`
	Package        int64   `json:"pkg"`
	QuantityUnit   string  `json:"qtyUnitCd"`
	Quantity       int64   `json:"qty"`
	Price          float64 `json:"prc"`
	SupplyAmount   float64 `json:"splyAmt"`
	DiscountRate   float64 `json:"dcRt"`
	DiscountAmount float64 `json:"dcAmt"`
	TaxType        string  `json:"taxTyCd"`
	TaxableAmount  float64 `json:"taxblAmt"`
	TaxAmount      float64 `json:"taxAmt"`
	TotalAmount    float64 `json:"totAmt"`
}

// summarize resolves taxes of lines and checks them against the grand total.
func summarize(env Env, lines []fiscal.Line, grand decimal.Decimal) (tax.Summary, error) {
	summary, err := tax.Aggregate(lines, env.Codes.Taxes())
	if err != nil {
		return tax.Summary{}, err
	}
	if err := summary.CheckTotal(grand); err != nil {
		return tax.Summary{}, err
	}
	return summary, nil
}

// lineItems maps document lines to itemList rows. summary must come from
// the same lines.
func lineItems(env Env, lines []fiscal.Line, summary tax.Summary) ([]lineItem, error) {
	items := make([]lineItem, 0, len(lines))
	for i, line := range lines {
		qty, err := quantity(line)
		if err != nil {
			return nil, err
		}
		pkgUnit, err := env.Codes.Lookup(codes.PackagingUnit, line.PackagingUnit)
		if err != nil {
			return nil, fmt.Errorf("line %d (%s): %w", i+1, line.ItemCode, err)
		}
		qtyUnit, err := env.Codes.Lookup(codes.QuantityUnit, line.QuantityUnit)
		if err != nil {
			return nil, fmt.Errorf("line %d (%s): %w", i+1, line.ItemCode, err)
		}
		split := summary.Lines[i]
		total := money(split.Total)
		items = append(items, lineItem{
			Seq:            i + 1,
			ItemCode:       line.ItemCode,
			ItemClass:      line.ItemClass,
			ItemName:       line.ItemName,
			Barcode:        line.Barcode,
			PackagingUnit:  pkgUnit,
			Package:        qty,
			QuantityUnit:   qtyUnit,
			Quantity:       qty,
			Price:          money(line.UnitPrice),
			SupplyAmount:   total,
			DiscountRate:   discountRate(line),
			DiscountAmount: money(line.Discount),
			TaxType:        split.Bracket,
			TaxableAmount:  money(split.Taxable),
			TaxAmount:      money(split.Tax),
			TotalAmount:    total,
		})
	}
	return items, nil
}

func quantity(line fiscal.Line) (int64, error) {
	if !line.Quantity.Equal(line.Quantity.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s quantity %s", ErrFractionalQuantity, line.ItemCode, line.Quantity)
	}
	return line.Quantity.IntPart(), nil
}

func discountRate(line fiscal.Line) float64 {
	gross := line.Quantity.Mul(line.UnitPrice)
	if line.Discount.IsZero() || gross.IsZero() {
		return 0
	}
	return money(line.Discount.Mul(decimal.NewFromInt(100)).Div(gross))
}

// absolute returns lines with every amount made positive. Reversals and
// outgoing stock are reported as positive figures.
func absolute(lines []fiscal.Line) []fiscal.Line {
	out := make([]fiscal.Line, len(lines))
	for i, line := range lines {
		line.Quantity = line.Quantity.Abs()
		line.Amount = line.Amount.Abs()
		line.TaxAmount = line.TaxAmount.Abs()
		line.Discount = line.Discount.Abs()
		line.UnitPrice = line.UnitPrice.Abs()
		out[i] = line
	}
	return out
}

func money(d decimal.Decimal) float64 {
	return tax.Round(d).InexactFloat64()
}

func ptr(f float64) *float64 {
	return &f
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}

func formatDateTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateTimeLayout)
}

func receiptType(doc fiscal.Document, original string) string {
	if doc.IsReversal() {
		return "R"
	}
	return original
}
