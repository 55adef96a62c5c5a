package tax

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrUnclassifiedItem is returned when a line's tax template matches no
// configured bracket.
var ErrUnclassifiedItem = errors.New("tax: line item has no resolvable tax bracket")

// Bracket is one configured tax bucket, e.g. B at 18%.
type Bracket struct {
	Code    string          `yaml:"code"`
	Rate    decimal.Decimal `yaml:"-"`
	RateRaw string          `yaml:"rate"`
	Aliases []string        `yaml:"aliases"`
}

// TemplateSet is the tenant's configured bracket list.
type TemplateSet struct {
	brackets []Bracket
	index    map[string]int
}

// NewTemplateSet builds a set from brackets. Codes must be unique.
func NewTemplateSet(brackets []Bracket) (*TemplateSet, error) {
	set := &TemplateSet{index: make(map[string]int)}
	sorted := append([]Bracket(nil), brackets...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Code < sorted[j].Code })
	for i, b := range sorted {
		code := normalize(b.Code)
		if code == "" {
			return nil, errors.New("tax: bracket code required")
		}
		if b.RateRaw != "" && b.Rate.IsZero() {
			rate, err := decimal.NewFromString(b.RateRaw)
			if err != nil {
				return nil, fmt.Errorf("tax: bracket %s rate: %w", b.Code, err)
			}
			sorted[i].Rate = rate
		}
		if _, dup := set.index[code]; dup {
			return nil, fmt.Errorf("tax: duplicate bracket %s", b.Code)
		}
		sorted[i].Code = code
		set.index[code] = i
		for _, alias := range b.Aliases {
			if key := normalize(alias); key != "" {
				set.index[key] = i
			}
		}
	}
	set.brackets = sorted
	return set, nil
}

// MustTemplateSet is NewTemplateSet for static tables.
func MustTemplateSet(brackets []Bracket) *TemplateSet {
	set, err := NewTemplateSet(brackets)
	if err != nil {
		panic(err)
	}
	return set
}

// Brackets returns the configured brackets ordered by code.
func (s *TemplateSet) Brackets() []Bracket {
	return append([]Bracket(nil), s.brackets...)
}

// Has reports whether the bracket code is configured.
func (s *TemplateSet) Has(code string) bool {
	i, ok := s.index[normalize(code)]
	return ok && s.brackets[i].Code == normalize(code)
}

// Resolve maps a template label to its bracket. Labels of the form
// "B - 18%" resolve through their leading code.
func (s *TemplateSet) Resolve(label string) (Bracket, error) {
	if s != nil {
		if i, ok := s.index[normalize(label)]; ok {
			return s.brackets[i], nil
		}
		if head, _, found := strings.Cut(label, " - "); found {
			if i, ok := s.index[normalize(head)]; ok {
				return s.brackets[i], nil
			}
		}
	}
	return Bracket{}, fmt.Errorf("%w: %q", ErrUnclassifiedItem, label)
}

func normalize(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
