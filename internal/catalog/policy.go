package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PolicyConfig holds the compliance constants the policy gate and the
// catalog validator enforce. Immutable after load.
type PolicyConfig struct {
	// DisallowedFields may never appear in a rule condition.
	DisallowedFields []string `yaml:"disallowed_fields" json:"disallowed_fields"`

	// PIIFields trigger a warning when referenced. Merged with the
	// catalog's per-feature PII flags at gate time.
	PIIFields []string `yaml:"pii_fields" json:"pii_fields"`

	// MaxConditions caps the number of leaf conditions per rule.
	MaxConditions int `yaml:"max_conditions" json:"max_conditions"`

	// SensitivePatterns are regular expressions matched against raw
	// instructions before any generation call.
	SensitivePatterns []string `yaml:"sensitive_patterns" json:"sensitive_patterns"`
}

// DefaultPolicy returns the built-in policy constants.
func DefaultPolicy() *PolicyConfig {
	return &PolicyConfig{
		DisallowedFields: []string{
			"nationality",
			"ethnicity",
			"religion",
			"gender",
			"race",
		},
		PIIFields: []string{
			"email",
			"ip_address",
			"card_bin",
		},
		MaxConditions: 8,
		SensitivePatterns: []string{
			`(?i)\b(nationality|nationalities|citizenship)\b`,
			`(?i)\b(ethnic|ethnicity|ethnicities)\b`,
			`(?i)\b(religion|religious|muslim|christian|jewish|hindu|buddhist)\b`,
			`(?i)\b(gender|male|female|transgender)\b`,
			`(?i)\b(race|racial|skin colou?r)\b`,
			`(?i)\b(immigrant|immigrants|foreigner|foreigners|refugee|refugees)\b`,
			`(?i)\b(ssn|social security number|passport number|national id)\b`,
		},
	}
}

// LoadPolicy reads policy constants from a YAML file.
func LoadPolicy(path string) (*PolicyConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	var p PolicyConfig
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	return &p, nil
}

// Validate checks the policy constants for usable values.
func (p *PolicyConfig) Validate() error {
	if p.MaxConditions < 1 {
		return fmt.Errorf("max_conditions must be at least 1, got %d", p.MaxConditions)
	}
	for _, pat := range p.SensitivePatterns {
		if pat == "" {
			return fmt.Errorf("sensitive_patterns contains an empty pattern")
		}
	}
	return nil
}

// IsDisallowed reports whether field is on the disallowed list.
func (p *PolicyConfig) IsDisallowed(field string) bool {
	for _, f := range p.DisallowedFields {
		if f == field {
			return true
		}
	}
	return false
}

// IsPII reports whether field is on the policy PII list.
func (p *PolicyConfig) IsPII(field string) bool {
	for _, f := range p.PIIFields {
		if f == field {
			return true
		}
	}
	return false
}
