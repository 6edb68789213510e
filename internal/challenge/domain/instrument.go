package domain

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// Instrument describes the payment card being authenticated. It is supplied by the
// caller and never modified.
type Instrument struct {
	Brand         string
	MaskedNumber  string
	Amount        decimal.Decimal
	Currency      string
	MerchantLabel string
	// Token is an optional caller-issued identifier that is stronger than the masked number.
	Token string
}

// ErrInvalidInstrument is returned when a required instrument field is missing.
var ErrInvalidInstrument = errors.New("challenge: invalid instrument")

// Validate checks the fields the flow depends on.
func (i Instrument) Validate() error {
	if strings.TrimSpace(i.MaskedNumber) == "" {
		return errors.Join(ErrInvalidInstrument, errors.New("masked number is required"))
	}
	if strings.TrimSpace(i.Currency) == "" {
		return errors.Join(ErrInvalidInstrument, errors.New("currency is required"))
	}
	if i.Amount.IsNegative() {
		return errors.Join(ErrInvalidInstrument, errors.New("amount must not be negative"))
	}
	return nil
}

// FormattedAmount renders the amount with two decimals and the currency code.
func (i Instrument) FormattedAmount() string {
	return i.Amount.StringFixed(2) + " " + strings.ToUpper(i.Currency)
}
