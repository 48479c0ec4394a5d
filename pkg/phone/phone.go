package phone

import (
	"regexp"
	"strings"
)

var e164Regex = regexp.MustCompile(`^(\+)(\d{1,3})(\d{3})(\d+)$`)

// Normalize returns the canonical form used for every caller lookup and write.
// Surrounding whitespace and internal spaces are removed and a leading "+" is
// added when missing. Digits are not validated: malformed input passes through.
func Normalize(raw string) string {
	n := strings.ReplaceAll(strings.TrimSpace(raw), " ", "")
	if !strings.HasPrefix(n, "+") {
		n = "+" + n
	}
	return n
}

// Mask hides the middle of a phone number for logging
// Example: +919876543210 -> +919876••3210
func Mask(phone string) string {
	if phone == "" {
		return ""
	}

	phone = strings.TrimSpace(phone)

	matches := e164Regex.FindStringSubmatch(phone)
	if len(matches) == 5 {
		countryCode := matches[2]
		first3 := matches[3]
		lastDigits := matches[4]

		if len(lastDigits) >= 4 {
			last4 := lastDigits[len(lastDigits)-4:]
			masked := strings.Repeat("•", len(lastDigits)-4)
			return "+" + countryCode + first3 + masked + last4
		}
	}

	// Fallback: mask all but last 4 characters
	if len(phone) > 4 {
		masked := strings.Repeat("•", len(phone)-4)
		return masked + phone[len(phone)-4:]
	}

	return strings.Repeat("•", len(phone))
}
