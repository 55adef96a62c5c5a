package codes

import (
	"fmt"
	"strings"
)

// TransformKind is the closed set of field transforms a mapping may apply.
type TransformKind string

const (
	// TransformIdentity copies the source value as a string.
	TransformIdentity TransformKind = "identity"
	// TransformFlag turns a Y/N style flag into a bool.
	TransformFlag TransformKind = "flag"
	// TransformClassify picks the value of the first matching rule.
	TransformClassify TransformKind = "classify"
)

// Rule is one branch of a classify transform. Equals matches the whole
// source value, Contains a substring; both are case-insensitive.
type Rule struct {
	Equals   string `yaml:"equals"`
	Contains string `yaml:"contains"`
	Value    string `yaml:"value"`
}

func (r Rule) matches(v string) bool {
	v = strings.ToLower(v)
	if r.Equals != "" {
		return v == strings.ToLower(r.Equals)
	}
	return r.Contains != "" && strings.Contains(v, strings.ToLower(r.Contains))
}

// Transform describes how a target field is derived from its source.
type Transform struct {
	Kind    TransformKind `yaml:"kind"`
	Rules   []Rule        `yaml:"rules"`
	Default string        `yaml:"default"`
	// Truthy is the flag value considered true, "Y" when empty.
	Truthy string `yaml:"truthy"`
}

// Mapping binds a target field of a reference record to its source field.
type Mapping struct {
	TargetType string    `yaml:"target_type"`
	FieldName  string    `yaml:"field_name"`
	Source     string    `yaml:"source"`
	Transform  Transform `yaml:"transform"`
}

// Table is a list of mappings evaluated per target type.
type Table []Mapping

// Record is a translated reference row.
type Record map[string]any

// String returns field as a string, empty when absent.
func (r Record) String(field string) string {
	s, _ := r[field].(string)
	return s
}

// Bool returns field as a bool, false when absent.
func (r Record) Bool(field string) bool {
	b, _ := r[field].(bool)
	return b
}

// Translate applies every mapping of targetType to row.
func (t Table) Translate(targetType string, row map[string]any) (Record, error) {
	out := make(Record)
	matched := false
	for _, m := range t {
		if m.TargetType != targetType && m.TargetType != "*" {
			continue
		}
		matched = true
		v, err := m.apply(row)
		if err != nil {
			return nil, fmt.Errorf("codes: map %s.%s: %w", targetType, m.FieldName, err)
		}
		out[m.FieldName] = v
	}
	if !matched {
		return nil, fmt.Errorf("codes: no mappings for target %q", targetType)
	}
	return out, nil
}

func (m Mapping) apply(row map[string]any) (any, error) {
	raw := stringify(row[m.Source])
	switch m.Transform.Kind {
	case TransformIdentity, "":
		return raw, nil
	case TransformFlag:
		truthy := m.Transform.Truthy
		if truthy == "" {
			truthy = "Y"
		}
		return strings.EqualFold(raw, truthy), nil
	case TransformClassify:
		for _, rule := range m.Transform.Rules {
			if rule.matches(raw) {
				return rule.Value, nil
			}
		}
		return m.Transform.Default, nil
	default:
		return nil, fmt.Errorf("unknown transform %q", m.Transform.Kind)
	}
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	default:
		return fmt.Sprint(val)
	}
}

// DefaultTable is the translation applied to gateway code lists. The "*"
// entries apply to every category.
var DefaultTable = Table{
	{TargetType: "*", FieldName: "code", Source: "cd", Transform: Transform{Kind: TransformIdentity}},
	{TargetType: "*", FieldName: "label", Source: "cdNm", Transform: Transform{Kind: TransformIdentity}},
	{TargetType: "*", FieldName: "active", Source: "useYn", Transform: Transform{Kind: TransformFlag}},
	{TargetType: string(PaymentType), FieldName: "kind", Source: "cdNm", Transform: Transform{
		Kind: TransformClassify,
		Rules: []Rule{
			{Contains: "cash", Value: "Cash"},
			{Contains: "bank", Value: "Bank"},
			{Contains: "card", Value: "Bank"},
			{Contains: "mobile", Value: "Phone"},
		},
		Default: "General",
	}},
	{TargetType: string(PackagingUnit), FieldName: "packaging", Source: "cdClsNm", Transform: Transform{
		Kind:    TransformClassify,
		Rules:   []Rule{{Equals: "Packing Unit", Value: "1"}},
		Default: "0",
	}},
	{TargetType: string(QuantityUnit), FieldName: "packaging", Source: "cdClsNm", Transform: Transform{
		Kind:    TransformClassify,
		Rules:   []Rule{{Equals: "Packing Unit", Value: "1"}},
		Default: "0",
	}},
}
