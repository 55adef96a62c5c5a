package codes

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/odyssey-erp/fiscalbridge/internal/tax"
)

//go:embed default.yaml
var defaultYAML []byte

// Category names a gateway code vocabulary.
type Category string

const (
	PaymentType   Category = "payment_type"
	Country       Category = "country"
	QuantityUnit  Category = "quantity_unit"
	PackagingUnit Category = "packaging_unit"
	ItemType      Category = "item_type"
	StockIOType   Category = "stock_io_type"
	RefundReason  Category = "refund_reason"
)

// ErrUnmappedCode is returned when an internal label has no gateway code.
var ErrUnmappedCode = errors.New("codes: no gateway code for label")

type fileFormat struct {
	TaxBrackets      []tax.Bracket                  `yaml:"tax_brackets"`
	Categories       map[Category]map[string]string `yaml:"categories"`
	ReferenceClasses map[string]Category            `yaml:"reference_classes"`
}

// Codebook maps internal labels to the gateway's fixed code vocabulary.
type Codebook struct {
	mu         sync.RWMutex
	categories map[Category]map[string]string
	references map[string]Category
	taxes      *tax.TemplateSet
}

// Default returns the embedded vocabulary.
func Default() (*Codebook, error) {
	return Parse(defaultYAML)
}

// Load reads a codebook file. An empty path yields the embedded default.
func Load(path string) (*Codebook, error) {
	if path == "" {
		return Default()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("codes: read %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes a YAML codebook.
func Parse(raw []byte) (*Codebook, error) {
	var f fileFormat
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("codes: decode: %w", err)
	}
	taxes, err := tax.NewTemplateSet(f.TaxBrackets)
	if err != nil {
		return nil, err
	}
	cb := &Codebook{
		categories: make(map[Category]map[string]string, len(f.Categories)),
		references: f.ReferenceClasses,
		taxes:      taxes,
	}
	for category, entries := range f.Categories {
		cb.merge(category, entries)
	}
	return cb, nil
}

// Lookup resolves a label within a category. Labels already equal to a
// gateway code of the category are accepted as-is.
func (c *Codebook) Lookup(category Category, label string) (string, error) {
	key := normalize(label)
	c.mu.RLock()
	defer c.mu.RUnlock()
	entries := c.categories[category]
	if code, ok := entries[key]; ok {
		return code, nil
	}
	for _, code := range entries {
		if strings.EqualFold(code, strings.TrimSpace(label)) {
			return code, nil
		}
	}
	return "", fmt.Errorf("%w: %s %q", ErrUnmappedCode, category, label)
}

// Merge overlays label/code pairs onto a category.
func (c *Codebook) Merge(category Category, entries map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.merge(category, entries)
}

func (c *Codebook) merge(category Category, entries map[string]string) {
	target, ok := c.categories[category]
	if !ok {
		target = make(map[string]string, len(entries))
		c.categories[category] = target
	}
	for label, code := range entries {
		if key := normalize(label); key != "" && code != "" {
			target[key] = code
		}
	}
}

// Taxes returns the configured tax template set.
func (c *Codebook) Taxes() *tax.TemplateSet {
	return c.taxes
}

// CategoryFor maps a gateway code-class name to a category.
func (c *Codebook) CategoryFor(className string) (Category, bool) {
	category, ok := c.references[className]
	return category, ok
}

// Categories lists the known categories in a stable order.
func (c *Codebook) Categories() []Category {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Category, 0, len(c.categories))
	for category := range c.categories {
		out = append(out, category)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func normalize(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}
