package handler

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"stepup-challenge/internal/challenge/domain"
	"stepup-challenge/internal/challenge/service"
)

// Sessions is the subset of *service.Manager the handler uses.
type Sessions interface {
	Start(ctx context.Context, in domain.Instrument, cb service.Callbacks) (*service.Session, error)
	Get(id string) (*service.Session, error)
	Close(id string) error
}

// Server implements ChallengeService over a session manager.
type Server struct {
	sessions Sessions
}

// NewServer returns a ChallengeService server. Pass nil sessions for stub (Unimplemented).
func NewServer(sessions Sessions) *Server {
	return &Server{sessions: sessions}
}

// Start opens a new challenge for the instrument in the request and returns its state.
func (s *Server) Start(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.sessions == nil {
		return nil, status.Error(codes.Unimplemented, "method Start not implemented")
	}
	in, err := instrumentFromRequest(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	sess, err := s.sessions.Start(ctx, in, service.Callbacks{
		OnTerminal: func(o domain.Outcome) {
			log.Printf("challenge: session for %s finished: %s", in.MaskedNumber, o.Kind)
		},
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return viewToStruct(sess.State())
}

// GetState returns the current state of a session.
func (s *Server) GetState(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	sess, err := s.session(req)
	if err != nil {
		return nil, err
	}
	return viewToStruct(sess.State())
}

// SubmitCode submits the one-time code.
func (s *Server) SubmitCode(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	sess, err := s.session(req)
	if err != nil {
		return nil, err
	}
	if err := sess.SubmitCode(ctx, stringField(req, "code")); err != nil {
		return nil, toStatus(err)
	}
	return viewToStruct(sess.State())
}

// SubmitPIN submits the PIN and starts the approval wait.
func (s *Server) SubmitPIN(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	sess, err := s.session(req)
	if err != nil {
		return nil, err
	}
	if err := sess.SubmitPIN(stringField(req, "pin")); err != nil {
		return nil, toStatus(err)
	}
	return viewToStruct(sess.State())
}

// Resend restarts the resend cooldown.
func (s *Server) Resend(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	sess, err := s.session(req)
	if err != nil {
		return nil, err
	}
	if err := sess.Resend(); err != nil {
		return nil, toStatus(err)
	}
	return viewToStruct(sess.State())
}

// Cancel closes the session.
func (s *Server) Cancel(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	sess, err := s.session(req)
	if err != nil {
		return nil, err
	}
	sess.Close()
	return viewToStruct(sess.State())
}

// Retry ends a failed session.
func (s *Server) Retry(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	sess, err := s.session(req)
	if err != nil {
		return nil, err
	}
	if err := sess.Retry(); err != nil {
		return nil, toStatus(err)
	}
	return viewToStruct(sess.State())
}

func (s *Server) session(req *structpb.Struct) (*service.Session, error) {
	if s.sessions == nil {
		return nil, status.Error(codes.Unimplemented, "challenge service not configured")
	}
	id := stringField(req, "sessionId")
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "sessionId is required")
	}
	sess, err := s.sessions.Get(id)
	if err != nil {
		return nil, toStatus(err)
	}
	return sess, nil
}

// toStatus maps service errors to gRPC status codes.
func toStatus(err error) error {
	var locked *service.LockedError
	switch {
	case errors.As(err, &locked):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, domain.ErrInvalidInstrument),
		errors.Is(err, service.ErrCodeTooShort),
		errors.Is(err, service.ErrPINTooShort):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, service.ErrWrongPhase),
		errors.Is(err, service.ErrSessionClosed),
		errors.Is(err, service.ErrResendCooldown):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, service.ErrSessionNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func stringField(req *structpb.Struct, name string) string {
	if req == nil {
		return ""
	}
	v, ok := req.GetFields()[name]
	if !ok {
		return ""
	}
	return strings.TrimSpace(v.GetStringValue())
}

func instrumentFromRequest(req *structpb.Struct) (domain.Instrument, error) {
	in := domain.Instrument{
		Brand:         stringField(req, "brand"),
		MaskedNumber:  stringField(req, "maskedNumber"),
		Currency:      stringField(req, "currency"),
		MerchantLabel: stringField(req, "merchantLabel"),
		Token:         stringField(req, "token"),
	}
	v, ok := req.GetFields()["amount"]
	if !ok {
		return in, nil
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		in.Amount = decimal.NewFromFloat(k.NumberValue)
	case *structpb.Value_StringValue:
		amount, err := decimal.NewFromString(strings.TrimSpace(k.StringValue))
		if err != nil {
			return in, errors.New("amount must be a decimal number")
		}
		in.Amount = amount
	default:
		return in, errors.New("amount must be a number or decimal string")
	}
	return in, nil
}

func viewToStruct(v service.View) (*structpb.Struct, error) {
	m := map[string]interface{}{
		"sessionId": v.SessionID,
		"version":   float64(v.Version),
		"ended":     v.Ended,
		"instrument": map[string]interface{}{
			"brand":        v.Instrument.Brand,
			"maskedNumber": v.Instrument.MaskedNumber,
			"amount":       v.Instrument.FormattedAmount(),
		},
	}
	if v.Phase != nil {
		m["phase"] = v.Phase.Name()
	}
	switch p := v.Phase.(type) {
	case domain.Challenge:
		m["resendIn"] = float64(p.ResendIn)
		if p.Err != "" {
			m["error"] = p.Err
		}
		if !p.LockedUntil.IsZero() {
			m["lockedUntil"] = p.LockedUntil.UTC().Format(time.RFC3339)
		}
		if v.LockoutRemaining > 0 {
			m["lockoutRemaining"] = domain.FormatCountdown(v.LockoutRemaining)
		}
	case domain.PinEntry:
		if p.Err != "" {
			m["error"] = p.Err
		}
	case domain.WaitingApproval:
		m["remainingSeconds"] = float64(p.RemainingSeconds)
	case domain.Failed:
		m["reason"] = p.Reason
	}
	if v.Outcome != nil {
		o := map[string]interface{}{"kind": string(v.Outcome.Kind)}
		if v.Outcome.Reason != "" {
			o["reason"] = v.Outcome.Reason
		}
		m["outcome"] = o
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}
