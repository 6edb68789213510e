package cli

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"

	"stepup-challenge/internal/challenge/domain"
	"stepup-challenge/internal/challenge/service"
)

var (
	headerColor  = color.New(color.FgCyan, color.Bold)
	hintColor    = color.New(color.Faint)
	errorColor   = color.New(color.FgRed)
	successColor = color.New(color.FgGreen, color.Bold)
)

// Presenter renders session views to a terminal. Phase changes print a block; countdown
// updates within a phase rewrite the current status line.
type Presenter struct {
	w io.Writer

	mu          sync.Mutex
	lastVersion uint64
	lastPhase   string
	lastErr     string
	lastEnded   bool
	statusOpen  bool
}

// NewPresenter returns a Presenter writing to w.
func NewPresenter(w io.Writer) *Presenter {
	return &Presenter{w: w}
}

// Render draws v. Views older than the last rendered one are ignored.
func (p *Presenter) Render(v service.View) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if v.Version != 0 && v.Version <= p.lastVersion {
		return
	}
	p.lastVersion = v.Version

	if v.Ended {
		if !p.lastEnded {
			p.closeStatus()
			fmt.Fprintln(p.w, hintColor.Sprint("Session closed."))
			p.lastEnded = true
		}
		return
	}
	if v.Phase == nil {
		return
	}

	name := v.Phase.Name()
	errText := phaseError(v.Phase)
	if name != p.lastPhase || errText != p.lastErr {
		p.closeStatus()
		p.block(v)
		p.lastPhase = name
		p.lastErr = errText
	}
	if line := statusLine(v); line != "" {
		fmt.Fprintf(p.w, "\r\033[K%s", line)
		p.statusOpen = true
	}
}

func (p *Presenter) closeStatus() {
	if p.statusOpen {
		fmt.Fprintln(p.w)
		p.statusOpen = false
	}
}

func (p *Presenter) block(v service.View) {
	switch ph := v.Phase.(type) {
	case domain.Preloading:
		fmt.Fprintln(p.w, headerColor.Sprintf("Contacting your bank for %s %s (%s)...",
			brandOf(v.Instrument), v.Instrument.MaskedNumber, v.Instrument.FormattedAmount()))
	case domain.Challenge:
		fmt.Fprintln(p.w, headerColor.Sprint("Enter the verification code sent to your phone."))
		if ph.Err != "" {
			fmt.Fprintln(p.w, errorColor.Sprint(ph.Err))
		}
		fmt.Fprintln(p.w, hintColor.Sprint("Type the code, 'resend' or 'cancel'."))
	case domain.VerifyingCode:
		fmt.Fprintln(p.w, headerColor.Sprint("Verifying code..."))
	case domain.PinEntry:
		fmt.Fprintln(p.w, headerColor.Sprint("Enter your card PIN."))
		if ph.Err != "" {
			fmt.Fprintln(p.w, errorColor.Sprint(ph.Err))
		}
	case domain.WaitingApproval:
		fmt.Fprintln(p.w, headerColor.Sprint("Waiting for approval from your bank..."))
	case domain.Finalizing:
		fmt.Fprintln(p.w, headerColor.Sprint("Finalizing payment..."))
	case domain.Succeeded:
		fmt.Fprintln(p.w, successColor.Sprint("Payment authenticated."))
	case domain.Failed:
		fmt.Fprintln(p.w, errorColor.Sprint(ph.Reason))
		fmt.Fprintln(p.w, hintColor.Sprint("Type 'retry' to close this attempt."))
	}
}

func statusLine(v service.View) string {
	switch ph := v.Phase.(type) {
	case domain.Challenge:
		if v.LockoutRemaining > 0 {
			return errorColor.Sprintf("Locked. Try again in %s", domain.FormatCountdown(v.LockoutRemaining))
		}
		if ph.ResendIn > 0 {
			return hintColor.Sprintf("Resend available in %ds", ph.ResendIn)
		}
		return hintColor.Sprint("Resend available")
	case domain.WaitingApproval:
		return hintColor.Sprintf("%ds left", ph.RemainingSeconds)
	}
	return ""
}

func phaseError(p domain.Phase) string {
	switch ph := p.(type) {
	case domain.Challenge:
		return ph.Err
	case domain.PinEntry:
		return ph.Err
	}
	return ""
}

func brandOf(in domain.Instrument) string {
	if in.Brand == "" {
		return "Card"
	}
	return in.Brand
}
