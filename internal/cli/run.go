package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"stepup-challenge/internal/app"
	"stepup-challenge/internal/challenge/domain"
	"stepup-challenge/internal/challenge/service"
	"stepup-challenge/internal/config"
	"stepup-challenge/internal/telemetry"
)

// RunCmd returns the run command: one challenge in this process, driven from the terminal.
func RunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one step-up challenge in the terminal",
		Long: `Run one step-up challenge in this process and drive it from the terminal.

Notifications go to the configured messaging service, or to the log when BOT_TOKEN is
unset. Without a messaging service, type 'approve' or 'decline' to act as the operator.

Examples:
  stepup run --masked "**** 4242" --amount 129.90 --currency EUR
  stepup run --brand Visa --masked "**** 4242" --amount 5 --currency USD --merchant "Acme"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := instrumentFromFlags(cmd)
			if err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			a, err := app.New(ctx, cfg, nil)
			if err != nil {
				return err
			}
			defer func() {
				time.Sleep(telemetry.ShutdownDrainDuration / 5)
				_ = a.Close(context.Background())
			}()
			return runSession(ctx, a, in, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().String("brand", "", "Card brand shown to the user")
	cmd.Flags().String("masked", "", "Masked card number, e.g. \"**** 4242\" (required)")
	cmd.Flags().String("amount", "0", "Payment amount")
	cmd.Flags().String("currency", "EUR", "ISO currency code")
	cmd.Flags().String("merchant", "", "Merchant label")
	cmd.Flags().String("token", "", "Opaque instrument token (used when LEDGER_KEY_MODE=token)")
	return cmd
}

func instrumentFromFlags(cmd *cobra.Command) (domain.Instrument, error) {
	brand, _ := cmd.Flags().GetString("brand")
	masked, _ := cmd.Flags().GetString("masked")
	amountText, _ := cmd.Flags().GetString("amount")
	currency, _ := cmd.Flags().GetString("currency")
	merchant, _ := cmd.Flags().GetString("merchant")
	token, _ := cmd.Flags().GetString("token")

	amount, err := decimal.NewFromString(amountText)
	if err != nil {
		return domain.Instrument{}, fmt.Errorf("invalid --amount %q: %w", amountText, err)
	}
	in := domain.Instrument{
		Brand:         brand,
		MaskedNumber:  masked,
		Amount:        amount,
		Currency:      currency,
		MerchantLabel: merchant,
		Token:         token,
	}
	return in, in.Validate()
}

func runSession(ctx context.Context, a *app.App, in domain.Instrument, stdin io.Reader, stdout io.Writer) error {
	presenter := NewPresenter(stdout)
	done := make(chan struct{})
	sess, err := a.Manager.Start(ctx, in, service.Callbacks{
		OnClose: func() { close(done) },
	})
	if err != nil {
		return err
	}
	unsubscribe := sess.Subscribe(presenter.Render)
	defer unsubscribe()
	presenter.Render(sess.State())

	stop := make(chan struct{})
	defer close(stop)
	lines := readLines(stdin, stop)

	for {
		select {
		case <-done:
			if o, ok := sess.Outcome(); ok && o.Kind == domain.OutcomeFailed {
				return errors.New(o.Reason)
			}
			return nil
		case <-ctx.Done():
			sess.Close()
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				sess.Close()
				<-done
				return nil
			}
			if err := HandleLine(ctx, sess, a.Local, line); err != nil {
				if errors.Is(err, errQuit) {
					<-done
					return nil
				}
				if !shownInView(err) {
					fmt.Fprintln(stdout, errorColor.Sprint(err.Error()))
				}
			}
		}
	}
}

// readLines sends each line of r until EOF or until stop is closed, then closes the
// returned channel.
func readLines(r io.Reader, stop <-chan struct{}) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-stop:
				return
			}
		}
	}()
	return lines
}

// shownInView reports whether the presenter already displays err as the phase error.
func shownInView(err error) bool {
	var locked *service.LockedError
	return errors.Is(err, service.ErrCodeTooShort) || errors.Is(err, service.ErrPINTooShort) || errors.As(err, &locked)
}
