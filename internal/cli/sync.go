package cli

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// NewSyncCommand creates the sync command group.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Push queued events to sinks and pull remote events",
	}
	cmd.AddCommand(newSyncPushCommand(rootOpts))
	cmd.AddCommand(newSyncPullCommand(rootOpts))
	cmd.AddCommand(newSyncRunCommand(rootOpts))
	return cmd
}

type pushResult struct {
	Confirmed int `json:"confirmed"`
	Retried   int `json:"retried"`
	Dead      int `json:"dead"`
}

func newSyncPushCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "push",
		Short:         "Drain the sync queue into every configured sink once",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)

			app, err := openApp(rootOpts)
			if err != nil {
				formatter.Error(ErrCodeSync, err.Error(), nil)
				return err
			}
			defer app.Close()

			report, err := app.Engine.PushOnce(cmd.Context())
			if err != nil {
				formatter.Error(ErrCodeSync, "push", err.Error())
				return WrapExitError(ExitFailure, "push", err)
			}
			res := pushResult(report)
			return formatter.SuccessText(
				fmt.Sprintf("confirmed %d, retried %d, dead %d\n",
					res.Confirmed, res.Retried, res.Dead), res)
		},
	}
}

type pullResult struct {
	Sink    string `json:"sink"`
	Applied int    `json:"applied"`
}

func newSyncPullCommand(rootOpts *RootOptions) *cobra.Command {
	var sinkName string

	cmd := &cobra.Command{
		Use:           "pull",
		Short:         "Fetch and merge remote events from configured sinks once",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)

			app, err := openApp(rootOpts)
			if err != nil {
				formatter.Error(ErrCodeSync, err.Error(), nil)
				return err
			}
			defer app.Close()

			names := app.Engine.Sinks()
			if sinkName != "" {
				names = []string{sinkName}
			}
			if len(names) == 0 {
				formatter.Error(ErrCodeSync, "no sinks configured (set relays in the config file)", nil)
				return WrapExitError(ExitCommandError, "no sinks", nil)
			}

			var results []pullResult
			var lines []string
			for _, name := range names {
				applied, err := app.Engine.PullOnce(cmd.Context(), name)
				if err != nil {
					formatter.Error(ErrCodeSync, fmt.Sprintf("pull from %s", name), err.Error())
					return WrapExitError(ExitFailure, "pull", err)
				}
				results = append(results, pullResult{Sink: name, Applied: applied})
				lines = append(lines, fmt.Sprintf("%s: applied %d", name, applied))
			}
			return formatter.SuccessText(strings.Join(lines, "\n")+"\n", results)
		},
	}

	cmd.Flags().StringVar(&sinkName, "sink", "", "pull from one named sink only")
	return cmd
}

func newSyncRunCommand(rootOpts *RootOptions) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:           "run",
		Short:         "Push and pull on an interval until interrupted",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)

			app, err := openApp(rootOpts)
			if err != nil {
				formatter.Error(ErrCodeSync, err.Error(), nil)
				return err
			}
			defer app.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			formatter.VerboseLog("syncing every %s; ctrl-c to stop", interval)
			for {
				report, err := app.Engine.PushOnce(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					formatter.VerboseLog("push: %v", err)
				} else if report.Confirmed+report.Retried+report.Dead > 0 {
					formatter.VerboseLog("push: confirmed %d, retried %d, dead %d",
						report.Confirmed, report.Retried, report.Dead)
				}
				for _, name := range app.Engine.Sinks() {
					applied, err := app.Engine.PullOnce(ctx, name)
					if err != nil {
						if ctx.Err() != nil {
							return nil
						}
						formatter.VerboseLog("pull %s: %v", name, err)
						continue
					}
					if applied > 0 {
						formatter.VerboseLog("pull %s: applied %d", name, applied)
					}
				}

				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
			}
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 15*time.Second, "sync interval")
	return cmd
}
