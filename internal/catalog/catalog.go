// Package catalog holds the static registry of evaluable transaction
// features and the policy constants the validators and the policy gate
// enforce. The catalog is loaded once at startup and never mutated.
package catalog

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// FeatureType is the semantic type of a catalog feature. It drives which
// operators are legal and how condition values are checked.
type FeatureType string

const (
	TypeNumber  FeatureType = "number"
	TypeString  FeatureType = "string"
	TypeEnum    FeatureType = "enum"
	TypeBoolean FeatureType = "boolean"
)

// IsValid reports whether t is a known feature type.
func (t FeatureType) IsValid() bool {
	switch t {
	case TypeNumber, TypeString, TypeEnum, TypeBoolean:
		return true
	}
	return false
}

// Ordered reports whether ordering operators apply to this type.
func (t FeatureType) Ordered() bool {
	return t == TypeNumber
}

// Substring reports whether containment applies to this type.
func (t FeatureType) Substring() bool {
	return t == TypeString
}

// Membership reports whether in / not_in apply to this type.
func (t FeatureType) Membership() bool {
	switch t {
	case TypeNumber, TypeString, TypeEnum:
		return true
	}
	return false
}

// FeatureDescriptor declares one evaluable field: its semantic type,
// optional numeric range, optional enum set, maximum string length,
// nullability, and whether the field carries personally identifying
// information.
type FeatureDescriptor struct {
	Name        string      `yaml:"name" json:"name"`
	Type        FeatureType `yaml:"type" json:"type"`
	Description string      `yaml:"description,omitempty" json:"description,omitempty"`
	Min         *float64    `yaml:"min,omitempty" json:"min,omitempty"`
	Max         *float64    `yaml:"max,omitempty" json:"max,omitempty"`
	Enum        []string    `yaml:"enum,omitempty" json:"enum,omitempty"`
	MaxLength   int         `yaml:"max_length,omitempty" json:"max_length,omitempty"`
	Nullable    bool        `yaml:"nullable,omitempty" json:"nullable,omitempty"`
	PII         bool        `yaml:"pii,omitempty" json:"pii,omitempty"`
}

// InEnum reports whether value is a member of the descriptor's enum set.
func (d *FeatureDescriptor) InEnum(value string) bool {
	for _, e := range d.Enum {
		if e == value {
			return true
		}
	}
	return false
}

// InRange reports whether value satisfies the descriptor's numeric bounds.
// Bounds are inclusive; a nil bound is unbounded.
func (d *FeatureDescriptor) InRange(value float64) bool {
	if d.Min != nil && value < *d.Min {
		return false
	}
	if d.Max != nil && value > *d.Max {
		return false
	}
	return true
}

// RangeString renders the declared bounds for violation messages.
func (d *FeatureDescriptor) RangeString() string {
	switch {
	case d.Min != nil && d.Max != nil:
		return fmt.Sprintf("[%g, %g]", *d.Min, *d.Max)
	case d.Min != nil:
		return fmt.Sprintf(">= %g", *d.Min)
	case d.Max != nil:
		return fmt.Sprintf("<= %g", *d.Max)
	default:
		return "unbounded"
	}
}

// Catalog is the immutable registry of feature descriptors.
type Catalog struct {
	Features []FeatureDescriptor `yaml:"features" json:"features"`

	index map[string]int
}

// New builds a catalog from descriptors and validates it.
func New(features []FeatureDescriptor) (*Catalog, error) {
	c := &Catalog{Features: features}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	c.buildIndex()
	return c, nil
}

// Load reads a catalog from a YAML file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog file: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}
	c.buildIndex()
	return &c, nil
}

// Validate checks the catalog for duplicate names, unknown types, and
// inconsistent constraints.
func (c *Catalog) Validate() error {
	if len(c.Features) == 0 {
		return fmt.Errorf("catalog declares no features")
	}
	seen := make(map[string]bool, len(c.Features))
	for i := range c.Features {
		d := &c.Features[i]
		if d.Name == "" {
			return fmt.Errorf("feature %d has no name", i)
		}
		if seen[d.Name] {
			return fmt.Errorf("duplicate feature %q", d.Name)
		}
		seen[d.Name] = true
		if !d.Type.IsValid() {
			return fmt.Errorf("feature %q has unknown type %q", d.Name, d.Type)
		}
		if d.Type == TypeEnum && len(d.Enum) == 0 {
			return fmt.Errorf("enum feature %q declares no values", d.Name)
		}
		if d.Type != TypeEnum && len(d.Enum) > 0 {
			return fmt.Errorf("feature %q declares enum values but has type %q", d.Name, d.Type)
		}
		if d.Min != nil && d.Max != nil && *d.Min > *d.Max {
			return fmt.Errorf("feature %q has min %g greater than max %g", d.Name, *d.Min, *d.Max)
		}
		if (d.Min != nil || d.Max != nil) && d.Type != TypeNumber {
			return fmt.Errorf("feature %q declares a numeric range but has type %q", d.Name, d.Type)
		}
		if d.MaxLength < 0 {
			return fmt.Errorf("feature %q has negative max_length", d.Name)
		}
	}
	return nil
}

func (c *Catalog) buildIndex() {
	c.index = make(map[string]int, len(c.Features))
	for i := range c.Features {
		c.index[c.Features[i].Name] = i
	}
}

// Lookup resolves a field name to its descriptor.
func (c *Catalog) Lookup(name string) (*FeatureDescriptor, bool) {
	if c.index == nil {
		c.buildIndex()
	}
	i, ok := c.index[name]
	if !ok {
		return nil, false
	}
	return &c.Features[i], true
}

// Names returns all feature names in sorted order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.Features))
	for i := range c.Features {
		names = append(names, c.Features[i].Name)
	}
	sort.Strings(names)
	return names
}

// PIIFields returns the names of features flagged as PII, sorted.
func (c *Catalog) PIIFields() []string {
	var names []string
	for i := range c.Features {
		if c.Features[i].PII {
			names = append(names, c.Features[i].Name)
		}
	}
	sort.Strings(names)
	return names
}
