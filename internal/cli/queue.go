package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tay1862/kinsaep-core/internal/outbox"
)

// NewQueueCommand creates the queue command group.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and repair the durable sync queue",
	}
	cmd.AddCommand(newQueueListCommand(rootOpts))
	cmd.AddCommand(newQueueDeadCommand(rootOpts))
	cmd.AddCommand(newQueueRequeueCommand(rootOpts))
	return cmd
}

type queueItem struct {
	ID        string `json:"id"`
	EventID   string `json:"event_id"`
	Kind      int    `json:"kind"`
	Status    string `json:"status"`
	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error,omitempty"`
	NextRetry string `json:"next_retry,omitempty"`
}

func toQueueItems(items []outbox.Item) []queueItem {
	out := make([]queueItem, 0, len(items))
	for _, it := range items {
		qi := queueItem{
			ID:       it.ID,
			EventID:  it.Event.ID,
			Kind:     it.Event.Kind,
			Status:   string(it.Status),
			Attempts: it.Attempts,
		}
		if it.LastError != "" {
			qi.LastError = it.LastError
		}
		if !it.NextRetryAt.IsZero() {
			qi.NextRetry = it.NextRetryAt.UTC().Format(time.RFC3339)
		}
		out = append(out, qi)
	}
	return out
}

func renderQueueItems(items []queueItem) string {
	if len(items) == 0 {
		return "queue is empty\n"
	}
	var b strings.Builder
	for _, it := range items {
		fmt.Fprintf(&b, "%-8s attempts=%d kind=%d item=%s event=%s",
			it.Status, it.Attempts, it.Kind, it.ID, it.EventID)
		if it.LastError != "" {
			fmt.Fprintf(&b, " error=%q", it.LastError)
		}
		if it.NextRetry != "" {
			fmt.Fprintf(&b, " next_retry=%s", it.NextRetry)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func newQueueListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List every queued item",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)

			app, err := openApp(rootOpts)
			if err != nil {
				formatter.Error(ErrCodeQueue, err.Error(), nil)
				return err
			}
			defer app.Close()

			items, err := app.Queue.List(cmd.Context())
			if err != nil {
				formatter.Error(ErrCodeQueue, "list queue", err.Error())
				return WrapExitError(ExitCommandError, "list queue", err)
			}
			qis := toQueueItems(items)
			return formatter.SuccessText(renderQueueItems(qis), qis)
		},
	}
}

func newQueueDeadCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "dead",
		Short:         "List dead-lettered items awaiting operator action",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)

			app, err := openApp(rootOpts)
			if err != nil {
				formatter.Error(ErrCodeQueue, err.Error(), nil)
				return err
			}
			defer app.Close()

			items, err := app.Queue.Dead(cmd.Context())
			if err != nil {
				formatter.Error(ErrCodeQueue, "list dead items", err.Error())
				return WrapExitError(ExitCommandError, "list dead items", err)
			}
			qis := toQueueItems(items)
			if len(qis) == 0 {
				return formatter.SuccessText("no dead items\n", qis)
			}
			// Dead items present: non-zero exit so scripts can alert.
			if err := formatter.SuccessText(renderQueueItems(qis), qis); err != nil {
				return err
			}
			return WrapExitError(ExitFailure, fmt.Sprintf("%d dead items", len(qis)), nil)
		},
	}
}

func newQueueRequeueCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "requeue <item-id>",
		Short:         "Return a dead item to the queue with a fresh retry budget",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)

			app, err := openApp(rootOpts)
			if err != nil {
				formatter.Error(ErrCodeQueue, err.Error(), nil)
				return err
			}
			defer app.Close()

			if err := app.Queue.Requeue(cmd.Context(), args[0]); err != nil {
				formatter.Error(ErrCodeQueue, "requeue", err.Error())
				return WrapExitError(ExitFailure, "requeue", err)
			}
			return formatter.SuccessText(
				fmt.Sprintf("requeued %s\n", args[0]),
				map[string]string{"requeued": args[0]})
		},
	}
}
