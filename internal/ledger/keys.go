package ledger

import "strings"

// UnknownKey is used when an instrument carries no digits at all.
const UnknownKey = "unknown"

// LastFourKey derives the ledger key from a masked card number: its last four digits.
// Different cards sharing the same last four digits share one record.
func LastFourKey(masked string) string {
	var digits []byte
	for i := 0; i < len(masked); i++ {
		if c := masked[i]; c >= '0' && c <= '9' {
			digits = append(digits, c)
		}
	}
	if len(digits) == 0 {
		return UnknownKey
	}
	if len(digits) > 4 {
		digits = digits[len(digits)-4:]
	}
	return string(digits)
}

// TokenKey keys the ledger by a caller-issued instrument token, falling back to
// LastFourKey when the token is empty.
func TokenKey(token, masked string) string {
	if t := strings.TrimSpace(token); t != "" {
		return "tok:" + t
	}
	return LastFourKey(masked)
}
