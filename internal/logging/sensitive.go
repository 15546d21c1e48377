// Package logging provides masking helpers so credentials and
// transaction PII never reach log output.
package logging

import (
	"regexp"
	"strings"
)

// SensitiveFields contains field names whose values must be masked.
// Covers service credentials and the catalog's PII features.
var SensitiveFields = map[string]bool{
	"password":          true,
	"secret":            true,
	"token":             true,
	"api_key":           true,
	"apikey":            true,
	"x-api-key":         true,
	"access_key":        true,
	"secret_access_key": true,
	"session_token":     true,
	"credentials":       true,
	"authorization":     true,
	"dsn":               true,
	"audit_secret":      true,
	"email":             true,
	"ip_address":        true,
	"card_bin":          true,
}

// MaskedValue replaces sensitive values in logs.
const MaskedValue = "[REDACTED]"

// IsSensitiveField checks whether a field name must be masked.
func IsSensitiveField(fieldName string) bool {
	lower := strings.ToLower(fieldName)

	if SensitiveFields[lower] {
		return true
	}
	for sensitive := range SensitiveFields {
		if strings.Contains(lower, sensitive) {
			return true
		}
	}
	return false
}

// MaskSensitiveValue masks a value if its field name is sensitive.
func MaskSensitiveValue(fieldName, value string) string {
	if value == "" {
		return value
	}
	if IsSensitiveField(fieldName) {
		return MaskedValue
	}
	return value
}

// MaskAPIKey shows only the first and last four characters of a key.
func MaskAPIKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return MaskedValue
	}
	return key[:4] + "****" + key[len(key)-4:]
}

// MaskEmail partially masks an email address.
func MaskEmail(email string) string {
	if email == "" {
		return ""
	}

	atIdx := strings.Index(email, "@")
	if atIdx <= 0 {
		return MaskedValue
	}

	local := email[:atIdx]
	domain := email[atIdx:]

	if len(local) <= 2 {
		return MaskedValue + domain
	}
	return local[:1] + "***" + local[len(local)-1:] + domain
}

var dsnPassword = regexp.MustCompile(`(://[^:/@]+):[^@]+@`)

// MaskDSN hides the password portion of a connection string so the
// rest stays readable in startup logs.
func MaskDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	return dsnPassword.ReplaceAllString(dsn, "$1:"+MaskedValue+"@")
}

// SafeLogValue returns a loggable version of a value based on its
// field name.
func SafeLogValue(fieldName string, value interface{}) interface{} {
	if value == nil {
		return nil
	}
	if !IsSensitiveField(fieldName) {
		return value
	}

	switch v := value.(type) {
	case []string:
		masked := make([]string, len(v))
		for i := range v {
			masked[i] = MaskedValue
		}
		return masked
	default:
		return MaskedValue
	}
}
