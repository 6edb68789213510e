package cli

import (
	"context"
	"errors"
	"strings"

	"stepup-challenge/internal/approval"
	"stepup-challenge/internal/challenge/domain"
	"stepup-challenge/internal/challenge/service"
)

// errQuit ends the input loop.
var errQuit = errors.New("quit")

// HandleLine applies one line of terminal input to sess. Words are matched first; any
// other text is a code or PIN depending on the phase. local may be nil; when set,
// 'approve' and 'decline' act as the operator.
func HandleLine(ctx context.Context, sess *service.Session, local *approval.Local, line string) error {
	line = strings.TrimSpace(line)
	switch strings.ToLower(line) {
	case "":
		return nil
	case "quit", "exit":
		sess.Close()
		return errQuit
	case "cancel":
		sess.Close()
		return nil
	case "resend":
		return sess.Resend()
	case "retry":
		return sess.Retry()
	case "approve", "decline":
		if local == nil {
			return errors.New("decisions come from the messaging service")
		}
		kind := approval.KindApprove
		if strings.EqualFold(line, "decline") {
			kind = approval.KindDecline
		}
		local.Decide(sess.ID(), kind)
		return nil
	}
	switch sess.Phase().(type) {
	case domain.PinEntry:
		return sess.SubmitPIN(line)
	default:
		return sess.SubmitCode(ctx, line)
	}
}
