// Package cli implements the sheetcalc command line tool: it loads workbook
// descriptions, recalculates them and reports values, dependency dumps and
// consistency checks.
package cli

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/vogtb/go-spreadsheet/internal/ctxlog"
	"github.com/vogtb/go-spreadsheet/internal/loader"
	"github.com/vogtb/go-spreadsheet/packages/spreadsheet"
	"github.com/vogtb/go-spreadsheet/packages/spreadsheet/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format    string // "json" | "text"
	LogLevel  string
	LogFormat string
	Settings  string // optional settings file overriding the description's
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the sheetcalc CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "sheetcalc",
		Short: "Recalculate spreadsheet workbooks described in YAML",
		Long: `sheetcalc builds a workbook from a YAML description, replays its edits
through the incremental recalculation engine and reports the results.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			logger := config.NewLogger(opts.LogLevel, opts.LogFormat, cmd.ErrOrStderr())
			cmd.SetContext(ctxlog.WithLogger(cmd.Context(), logger))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "warn", "log level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "text", "log format (text|json)")
	cmd.PersistentFlags().StringVar(&opts.Settings, "settings", "", "settings file (.toml or .yaml) overriding the workbook's settings block")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewDumpCommand(opts))
	cmd.AddCommand(NewCheckCommand(opts))

	return cmd
}

// buildWorkbook loads the description at path and builds it. the logger in
// cmd's context becomes the workbook's engine logger.
func buildWorkbook(cmd *cobra.Command, opts *RootOptions, path string, extra ...spreadsheet.Option) (*loader.Description, *spreadsheet.Workbook, error) {
	logger := ctxlog.FromContext(cmd.Context())
	d, err := loader.Load(path)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "loading workbook", err)
	}
	options := []spreadsheet.Option{spreadsheet.WithLogger(logger)}
	if opts.Settings != "" {
		s, err := config.Load(opts.Settings)
		if err != nil {
			return nil, nil, WrapExitError(ExitCommandError, "loading settings", err)
		}
		options = append(options, spreadsheet.WithSettings(s))
	}
	options = append(options, extra...)

	printLn := func(s string) { logger.Info(s) }
	wb, err := d.Build(printLn, options...).Run()
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "building workbook", err)
	}
	logger.Debug("workbook built", slog.String("path", path), slog.String("id", wb.ID.String()),
		slog.Int("sheets", len(wb.Sheets())))
	return d, wb, nil
}
