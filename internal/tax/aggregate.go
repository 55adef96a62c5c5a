package tax

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/fiscalbridge/internal/fiscal"
)

// ErrTotalMismatch is returned when the bracket totals disagree with the
// document grand total by more than one cent.
var ErrTotalMismatch = errors.New("tax: bracket totals do not match grand total")

// Tolerance is the accepted gap between bracket totals and the grand total.
var Tolerance = decimal.New(1, -2)

// BracketTotal is the aggregate of one configured bracket.
type BracketTotal struct {
	Code    string
	Rate    decimal.Decimal
	Taxable decimal.Decimal
	Tax     decimal.Decimal
}

// LineTax is the resolved tax split of one document line.
type LineTax struct {
	Bracket string
	Taxable decimal.Decimal
	Tax     decimal.Decimal
	Total   decimal.Decimal
}

// Summary is the complete aggregation of a document.
type Summary struct {
	Brackets     []BracketTotal
	Lines        []LineTax
	TotalTaxable decimal.Decimal
	TotalTax     decimal.Decimal
	Total        decimal.Decimal
}

// Bracket returns the totals for a code and whether the code is configured.
func (s Summary) Bracket(code string) (BracketTotal, bool) {
	for _, b := range s.Brackets {
		if b.Code == code {
			return b, true
		}
	}
	return BracketTotal{}, false
}

// Round applies the rounding used for every reported amount: half to even
// at two decimal places.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(2)
}

// Aggregate groups lines by bracket. Every configured bracket is present
// in the result, zero-valued when no line uses it.
func Aggregate(lines []fiscal.Line, set *TemplateSet) (Summary, error) {
	if set == nil {
		return Summary{}, errors.New("tax: template set not configured")
	}
	configured := set.Brackets()
	taxable := make(map[string]decimal.Decimal, len(configured))
	taxes := make(map[string]decimal.Decimal, len(configured))

	summary := Summary{Lines: make([]LineTax, 0, len(lines))}
	for i, line := range lines {
		bracket, err := set.Resolve(line.TaxTemplate)
		if err != nil {
			return Summary{}, fmt.Errorf("line %d (%s): %w", i+1, line.ItemCode, err)
		}
		net := line.Amount.Sub(line.TaxAmount)
		taxable[bracket.Code] = taxable[bracket.Code].Add(net)
		taxes[bracket.Code] = taxes[bracket.Code].Add(line.TaxAmount)
		summary.Lines = append(summary.Lines, LineTax{
			Bracket: bracket.Code,
			Taxable: Round(net),
			Tax:     Round(line.TaxAmount),
			Total:   Round(line.Amount),
		})
	}

	for _, b := range configured {
		total := BracketTotal{
			Code:    b.Code,
			Rate:    b.Rate,
			Taxable: Round(taxable[b.Code]),
			Tax:     Round(taxes[b.Code]),
		}
		summary.Brackets = append(summary.Brackets, total)
		summary.TotalTaxable = summary.TotalTaxable.Add(total.Taxable)
		summary.TotalTax = summary.TotalTax.Add(total.Tax)
	}
	summary.Total = summary.TotalTaxable.Add(summary.TotalTax)
	return summary, nil
}

// CheckTotal verifies the bracket totals against the document grand total.
// Only a summary without lines is exempt.
func (s Summary) CheckTotal(grand decimal.Decimal) error {
	if len(s.Lines) == 0 {
		return nil
	}
	if s.Total.Sub(grand).Abs().GreaterThan(Tolerance) {
		return fmt.Errorf("%w: brackets %s, document %s", ErrTotalMismatch, s.Total.StringFixed(2), grand.StringFixed(2))
	}
	return nil
}
