// Package domain holds the challenge phase model, instrument and outcome types.
package domain

import (
	"fmt"
	"time"
)

// Phase names as reported by Name.
const (
	PhasePreloading      = "preloading"
	PhaseChallenge       = "challenge"
	PhaseVerifyingCode   = "verifyingCode"
	PhasePinEntry        = "pinEntry"
	PhaseWaitingApproval = "waitingApproval"
	PhaseFinalizing      = "finalizing"
	PhaseSucceeded       = "succeeded"
	PhaseFailed          = "failed"
)

// Phase is one state of a challenge session. Each implementation carries only the
// data that is meaningful in that state.
type Phase interface {
	Name() string
	// Terminal reports whether no further transition can happen.
	Terminal() bool
	isPhase()
}

// Preloading is the initial wait before the code prompt.
type Preloading struct{}

// Challenge is the one-time code prompt.
type Challenge struct {
	// ResendIn is the remaining resend cooldown in whole seconds; 0 when resend is allowed.
	ResendIn int
	// Err is the last validation or lockout message, empty when none.
	Err string
	// LockedUntil is set while the instrument is locked out.
	LockedUntil time.Time
}

// VerifyingCode is the fixed wait after a code is accepted.
type VerifyingCode struct{}

// PinEntry is the PIN prompt.
type PinEntry struct {
	Err string
}

// WaitingApproval waits for an operator decision.
type WaitingApproval struct {
	RemainingSeconds int
}

// Finalizing is the settlement wait after approval.
type Finalizing struct{}

// Succeeded is terminal.
type Succeeded struct{}

// Failed is terminal.
type Failed struct {
	Reason string
}

func (Preloading) Name() string      { return PhasePreloading }
func (Challenge) Name() string       { return PhaseChallenge }
func (VerifyingCode) Name() string   { return PhaseVerifyingCode }
func (PinEntry) Name() string        { return PhasePinEntry }
func (WaitingApproval) Name() string { return PhaseWaitingApproval }
func (Finalizing) Name() string      { return PhaseFinalizing }
func (Succeeded) Name() string       { return PhaseSucceeded }
func (Failed) Name() string          { return PhaseFailed }

func (Preloading) Terminal() bool      { return false }
func (Challenge) Terminal() bool       { return false }
func (VerifyingCode) Terminal() bool   { return false }
func (PinEntry) Terminal() bool        { return false }
func (WaitingApproval) Terminal() bool { return false }
func (Finalizing) Terminal() bool      { return false }
func (Succeeded) Terminal() bool       { return true }
func (Failed) Terminal() bool          { return true }

func (Preloading) isPhase()      {}
func (Challenge) isPhase()       {}
func (VerifyingCode) isPhase()   {}
func (PinEntry) isPhase()        {}
func (WaitingApproval) isPhase() {}
func (Finalizing) isPhase()      {}
func (Succeeded) isPhase()       {}
func (Failed) isPhase()          {}

// FormatCountdown renders d as m:ss, rounding up to whole seconds.
func FormatCountdown(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int((d + time.Second - 1) / time.Second)
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}
