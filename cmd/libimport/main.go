package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"github.com/JonMunkholm/libinventory/internal/core"
)

func main() {
	// Load keeps variables already set in the shell.
	_ = godotenv.Load()

	runner := NewRunner(RunnerOpts{})
	slog.SetDefault(runner.logger)

	app := &cli.Command{
		Name:     "libimport",
		Usage:    "Import music library inventory spreadsheets from the command line",
		Version:  "0.3.0",
		Commands: runner.register(),
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		if core.IsUserFacing(err) {
			fmt.Fprintf(os.Stderr, "error: %s\n", core.FormatUserError(err))
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}
