package service

import (
	"errors"
	"fmt"
	"time"

	"stepup-challenge/internal/challenge/domain"
)

var (
	ErrCodeTooShort    = errors.New("challenge: code too short")
	ErrPINTooShort     = errors.New("challenge: pin too short")
	ErrWrongPhase      = errors.New("challenge: operation not allowed in current phase")
	ErrSessionClosed   = errors.New("challenge: session closed")
	ErrResendCooldown  = errors.New("challenge: resend cooldown active")
	ErrSessionNotFound = errors.New("challenge: session not found")
)

// LockedError rejects a submission while the instrument is locked out.
type LockedError struct {
	Remaining time.Duration
	Until     time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("challenge: instrument locked, retry in %s", domain.FormatCountdown(e.Remaining))
}

// Messages placed in phase Err fields for display.
const (
	msgCodeTooShort = "Enter the full verification code."
	msgPINTooShort  = "Enter your full PIN."
	msgLocked       = "Too many failed attempts."
)
