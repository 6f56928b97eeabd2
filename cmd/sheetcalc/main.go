package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/vogtb/go-spreadsheet/internal/cli"
)

// main is the entrypoint for the sheetcalc command.
func main() {
	if err := cli.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) {
			// cobra usage errors (unknown flags, wrong argument counts)
			fmt.Fprintln(os.Stderr, err)
			os.Exit(cli.ExitCommandError)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
