package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tay1862/kinsaep-core/internal/event"
)

// NewKeysCommand creates the keys command group.
func NewKeysCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage the device signing key",
	}
	cmd.AddCommand(newKeysNewCommand(rootOpts))
	cmd.AddCommand(newKeysShowCommand(rootOpts))
	return cmd
}

type keyInfo struct {
	Author  string `json:"author"`
	KeyPath string `json:"key_path"`
}

func newKeysNewCommand(rootOpts *RootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:           "new",
		Short:         "Generate a device signing key",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)

			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			if _, err := os.Stat(cfg.KeyPath); err == nil && !force {
				formatter.Error(ErrCodeKeys,
					fmt.Sprintf("%s already exists (use --force to overwrite)", cfg.KeyPath), nil)
				return WrapExitError(ExitCommandError, "key exists", nil)
			}

			kp, err := event.NewKeyPair()
			if err != nil {
				formatter.Error(ErrCodeKeys, "generate key", err.Error())
				return WrapExitError(ExitCommandError, "generate key", err)
			}
			if err := os.WriteFile(cfg.KeyPath, []byte(kp.Seed()+"\n"), 0o600); err != nil {
				formatter.Error(ErrCodeKeys, "write key file", err.Error())
				return WrapExitError(ExitCommandError, "write key file", err)
			}

			info := keyInfo{Author: kp.AuthorID(), KeyPath: cfg.KeyPath}
			return formatter.SuccessText(
				fmt.Sprintf("author: %s\nkey written to %s\n", info.Author, info.KeyPath), info)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing key file")
	return cmd
}

func newKeysShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show",
		Short:         "Show the device's author public key",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)

			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			kp, err := loadDeviceKey(cfg.KeyPath)
			if err != nil {
				formatter.Error(ErrCodeKeys, err.Error(), nil)
				return err
			}
			info := keyInfo{Author: kp.AuthorID(), KeyPath: cfg.KeyPath}
			return formatter.SuccessText(
				fmt.Sprintf("author: %s\n", info.Author), info)
		},
	}
}

// newFormatter builds the standard formatter for a command.
func newFormatter(rootOpts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    rootOpts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   rootOpts.Verbose,
	}
}
