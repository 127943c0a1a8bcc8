package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/tay1862/kinsaep-core/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		// Commands print their own formatted errors; flag and usage
		// errors from cobra still need a line here.
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
