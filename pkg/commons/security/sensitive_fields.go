// Package security detects sensitive field names so logging and telemetry
// can obfuscate secrets before they leave the process.
package security

import (
	"maps"
	"regexp"
	"slices"
	"strings"
	"sync"
	"unicode"
)

// defaultSensitiveFields lists field names whose values must never be
// emitted. Credentials first, then the payment and identity fields a
// banking surface tends to carry.
var defaultSensitiveFields = []string{
	"password",
	"newpassword",
	"oldpassword",
	"passwordsalt",
	"token",
	"secret",
	"key",
	"authorization",
	"auth",
	"credential",
	"credentials",
	"apikey",
	"api_key",
	"access_token",
	"accesstoken",
	"refresh_token",
	"refreshtoken",
	"private_key",
	"privatekey",
	"clientid",
	"client_id",
	"clientsecret",
	"client_secret",

	"card_number",
	"cardnumber",
	"account_number",
	"accountnumber",
	"routing_number",
	"routingnumber",
	"sort_code",
	"iban",
	"swift",
	"bic",
	"pan",
	"bsb",
	"cvv",
	"cvc",
	"pin",
	"otp",
	"totp",
	"mfa_code",
	"expiry",
	"expiration_date",
	"ssn",
	"social_security",
	"tax_id",
	"taxid",
	"tin",
	"national_id",
	"date_of_birth",
	"dob",
	"security_answer",
	"security_question",
	"mother_maiden_name",
	"biometric",
	"fingerprint",
}

var (
	sensitiveFieldsMapOnce sync.Once
	sensitiveFieldsMap     map[string]bool
)

// DefaultSensitiveFields returns the built-in sensitive field names. The
// returned slice is a clone; mutating it does not affect detection.
func DefaultSensitiveFields() []string {
	return slices.Clone(defaultSensitiveFields)
}

// DefaultSensitiveFieldsMap returns the same names as a lookup map, all
// lowercase. The underlying cache is built once; each call returns a clone
// so callers cannot mutate shared state.
func DefaultSensitiveFieldsMap() map[string]bool {
	sensitiveFieldsMapOnce.Do(func() {
		sensitiveFieldsMap = make(map[string]bool, len(defaultSensitiveFields))
		for _, field := range defaultSensitiveFields {
			sensitiveFieldsMap[field] = true
		}
	})

	clone := make(map[string]bool, len(sensitiveFieldsMap))
	maps.Copy(clone, sensitiveFieldsMap)

	return clone
}

// shortSensitiveTokens are names too short for substring matching. They
// match only as whole tokens, so "pin" flags "user_pin" but not "spinning".
var shortSensitiveTokens = map[string]bool{
	"key":  true,
	"auth": true,
	"pan":  true,
	"bic":  true,
	"bsb":  true,
	"cvv":  true,
	"cvc":  true,
	"pin":  true,
	"otp":  true,
	"ssn":  true,
	"tin":  true,
	"dob":  true,
}

// tokenSplitRegex splits field names on non-alphanumeric runs.
var tokenSplitRegex = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// normalizeFieldName rewrites camelCase and PascalCase names as
// underscore-delimited lowercase, so "sessionToken" becomes "session_token"
// and "APIKey" becomes "api_key".
func normalizeFieldName(fieldName string) string {
	var b strings.Builder

	runes := []rune(fieldName)

	for i, r := range runes {
		if i > 0 {
			prev := runes[i-1]

			var next rune
			if i+1 < len(runes) {
				next = runes[i+1]
			}

			if unicode.IsUpper(r) &&
				(unicode.IsLower(prev) || unicode.IsDigit(prev) ||
					(unicode.IsUpper(prev) && next != 0 && unicode.IsLower(next))) {
				b.WriteByte('_')
			}
		}

		b.WriteRune(r)
	}

	return strings.ToLower(b.String())
}

// IsSensitiveField reports whether a field name should be treated as
// sensitive. Matching is case-insensitive and understands camelCase names.
// Short tokens require an exact token match; longer patterns match on word
// boundaries, so "card_expiry" is sensitive but "cotton" is not.
func IsSensitiveField(fieldName string) bool {
	lowerField := strings.ToLower(fieldName)

	if DefaultSensitiveFieldsMap()[lowerField] {
		return true
	}

	normalized := normalizeFieldName(fieldName)
	if normalized != lowerField && DefaultSensitiveFieldsMap()[normalized] {
		return true
	}

	tokens := tokenSplitRegex.Split(normalized, -1)

	for _, sensitive := range defaultSensitiveFields {
		if shortSensitiveTokens[sensitive] {
			if slices.Contains(tokens, sensitive) {
				return true
			}
		} else {
			if matchesWordBoundary(normalized, sensitive) {
				return true
			}

			if normalized != lowerField && matchesWordBoundary(lowerField, sensitive) {
				return true
			}
		}
	}

	return false
}

// matchesWordBoundary reports whether pattern occurs in field bounded by
// the string edges or non-alphanumeric characters on both sides.
func matchesWordBoundary(field, pattern string) bool {
	idx := strings.Index(field, pattern)

	for idx != -1 {
		start := idx
		end := idx + len(pattern)

		startOk := start == 0 || !isAlphanumeric(field[start-1])
		endOk := end == len(field) || !isAlphanumeric(field[end])

		if startOk && endOk {
			return true
		}

		if end >= len(field) {
			break
		}

		nextIdx := strings.Index(field[end:], pattern)
		if nextIdx == -1 {
			break
		}

		idx = end + nextIdx
	}

	return false
}

func isAlphanumeric(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}
