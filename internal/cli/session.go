package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tay1862/kinsaep-core/internal/tables"
)

// NewSessionCommand creates the session command group.
func NewSessionCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage table sessions and consolidated settlement",
	}
	cmd.AddCommand(newSessionOpenCommand(rootOpts))
	cmd.AddCommand(newSessionShowCommand(rootOpts))
	cmd.AddCommand(newSessionAttachCommand(rootOpts))
	cmd.AddCommand(newSessionBillCommand(rootOpts))
	cmd.AddCommand(newSessionSettleCommand(rootOpts))
	return cmd
}

// sessionErr routes a manager error to the right code and exit class.
func sessionErr(formatter *OutputFormatter, op string, err error) error {
	if tables.IsTransitionError(err) {
		formatter.Error(ErrCodeSession, err.Error(), nil)
		return WrapExitError(ExitFailure, op, err)
	}
	formatter.Error(ErrCodeStore, op, err.Error())
	return WrapExitError(ExitFailure, op, err)
}

func renderSession(s *tables.Session) string {
	out := fmt.Sprintf("session %s  table %s  %s  total %d\n",
		s.SessionID, s.TableID, s.Status, s.TotalAmount)
	for _, id := range s.Orders {
		out += "  order " + id + "\n"
	}
	return out
}

func newSessionOpenCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "open <table-id>",
		Short:         "Open a new session for a table",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)

			app, err := openApp(rootOpts)
			if err != nil {
				formatter.Error(ErrCodeSession, err.Error(), nil)
				return err
			}
			defer app.Close()

			s, err := app.Sessions.Open(cmd.Context(), args[0])
			if err != nil {
				return sessionErr(formatter, "open session", err)
			}
			return formatter.SuccessText(renderSession(s), s)
		},
	}
}

func newSessionShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show <session-id>",
		Short:         "Show a session's current state",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)

			app, err := openApp(rootOpts)
			if err != nil {
				formatter.Error(ErrCodeSession, err.Error(), nil)
				return err
			}
			defer app.Close()

			s, err := app.Sessions.Session(cmd.Context(), args[0])
			if err != nil {
				return sessionErr(formatter, "show session", err)
			}
			return formatter.SuccessText(renderSession(s), s)
		},
	}
}

func newSessionAttachCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "attach <session-id> <order-id> <order-total>",
		Short:         "Attach an order to an active session",
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)

			total, err := strconv.ParseInt(args[2], 10, 64)
			if err != nil {
				formatter.Error(ErrCodeSession, fmt.Sprintf("bad order total %q", args[2]), nil)
				return WrapExitError(ExitCommandError, "parse total", err)
			}

			app, err := openApp(rootOpts)
			if err != nil {
				formatter.Error(ErrCodeSession, err.Error(), nil)
				return err
			}
			defer app.Close()

			s, err := app.Sessions.AttachOrder(cmd.Context(), args[0], args[1], total)
			if err != nil {
				return sessionErr(formatter, "attach order", err)
			}
			return formatter.SuccessText(renderSession(s), s)
		},
	}
}

func newSessionBillCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "bill <session-id>",
		Short:         "Request the bill for an active session",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)

			app, err := openApp(rootOpts)
			if err != nil {
				formatter.Error(ErrCodeSession, err.Error(), nil)
				return err
			}
			defer app.Close()

			s, err := app.Sessions.RequestBill(cmd.Context(), args[0])
			if err != nil {
				return sessionErr(formatter, "request bill", err)
			}
			return formatter.SuccessText(renderSession(s), s)
		},
	}
}

func newSessionSettleCommand(rootOpts *RootOptions) *cobra.Command {
	var paymentRef string

	cmd := &cobra.Command{
		Use:           "settle <session-id>",
		Short:         "Settle a session and print the consolidated receipt",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)

			app, err := openApp(rootOpts)
			if err != nil {
				formatter.Error(ErrCodeSession, err.Error(), nil)
				return err
			}
			defer app.Close()

			r, err := app.Sessions.Settle(cmd.Context(), args[0], paymentRef)
			if err != nil {
				return sessionErr(formatter, "settle", err)
			}
			return formatter.SuccessText(tables.RenderReceipt(r), r)
		},
	}

	cmd.Flags().StringVar(&paymentRef, "payment", "cash", "payment reference recorded on the receipt")
	return cmd
}
