package cli

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/vogtb/go-spreadsheet/internal/loader"
	"github.com/vogtb/go-spreadsheet/packages/spreadsheet"
	"github.com/vogtb/go-spreadsheet/packages/spreadsheet/value"
)

// CellResult is the final state of one cell
type CellResult struct {
	Cell    string `json:"cell"`
	Value   string `json:"value"`
	Formula string `json:"formula,omitempty"`
}

// RunResult is the output of the run command
type RunResult struct {
	Workbook   string             `json:"workbook"`
	Cells      []CellResult       `json:"cells"`
	Stats      *spreadsheet.Stats `json:"stats,omitempty"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
	Mismatches []loader.Mismatch  `json:"mismatches,omitempty"`
}

type runOptions struct {
	cells []string
	stats bool
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <workbook.yaml>",
		Short: "Build a workbook, recalculate it and print cell values",
		Long: `Build the workbook described by the file, replay its steps and print the
resulting values. Expectations in the file are checked; any mismatch makes
the command exit with status 1.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, rootOpts, opts, args[0])
		},
	}
	cmd.Flags().StringSliceVar(&opts.cells, "cells", nil, "only print these cells, e.g. Sheet1!A1,Sheet1!B2")
	cmd.Flags().BoolVar(&opts.stats, "stats", false, "include evaluation counters and engine metrics")
	return cmd
}

func runRun(cmd *cobra.Command, rootOpts *RootOptions, opts *runOptions, path string) error {
	f := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
	var extra []spreadsheet.Option
	registry := prometheus.NewRegistry()
	if opts.stats {
		metrics := spreadsheet.NewMetrics()
		metrics.MustRegister(registry)
		extra = append(extra, spreadsheet.WithMetrics(metrics))
	}
	d, wb, err := buildWorkbook(cmd, rootOpts, path, extra...)
	if err != nil {
		return f.Fail(ExitCommandError, "run failed", err, nil)
	}

	result := RunResult{Workbook: wb.ID.String(), Mismatches: d.Check(wb)}
	if len(opts.cells) > 0 {
		for _, address := range opts.cells {
			v, err := wb.Get(address)
			if err != nil {
				return f.Fail(ExitCommandError, "reading "+address, err, nil)
			}
			result.Cells = append(result.Cells, CellResult{Cell: address, Value: value.ToString(v)})
		}
	} else {
		result.Cells = allCells(wb)
	}
	if opts.stats {
		stats := wb.Stats()
		result.Stats = &stats
		if result.Metrics, err = gatherMetrics(registry); err != nil {
			return f.Fail(ExitCommandError, "gathering metrics", err, nil)
		}
	}

	if f.JSON() {
		if len(result.Mismatches) > 0 {
			return f.Fail(ExitFailure, fmt.Sprintf("%d expectation(s) not met", len(result.Mismatches)), nil, result)
		}
		return f.Success(result)
	}

	w := f.Writer
	for _, c := range result.Cells {
		if c.Formula != "" {
			fmt.Fprintf(w, "%s = %s  (%s)\n", c.Cell, c.Value, c.Formula)
		} else {
			fmt.Fprintf(w, "%s = %s\n", c.Cell, c.Value)
		}
	}
	if result.Stats != nil {
		fmt.Fprintf(w, "evaluations=%d changed=%d iteration_rounds=%d\n",
			result.Stats.Evaluations, result.Stats.Changed, result.Stats.IterationRounds)
		for _, name := range slices.Sorted(maps.Keys(result.Metrics)) {
			fmt.Fprintf(w, "%s %g\n", name, result.Metrics[name])
		}
	}
	if len(result.Mismatches) > 0 {
		for _, m := range result.Mismatches {
			fmt.Fprintf(w, "  %s\n", m)
		}
		return f.Fail(ExitFailure, fmt.Sprintf("%d expectation(s) not met", len(result.Mismatches)), nil, nil)
	}
	if len(d.Expect) > 0 {
		fmt.Fprintf(w, "✓ %d expectation(s) met\n", len(d.Expect))
	}
	return nil
}

// allCells lists every non-empty cell, sheet by sheet in row-major order
func allCells(wb *spreadsheet.Workbook) []CellResult {
	var out []CellResult
	for _, s := range wb.Sheets() {
		for _, c := range s.Cells() {
			out = append(out, CellResult{
				Cell:    s.Name() + "!" + c.Position().String(),
				Value:   value.ToString(c.Value()),
				Formula: c.Formula(),
			})
		}
	}
	return out
}

// gatherMetrics flattens the counters and histogram counts of g. histogram
// sums are left out: they are wall clock time.
func gatherMetrics(g prometheus.Gatherer) (map[string]float64, error) {
	families, err := g.Gather()
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			var labels []string
			for _, lp := range m.GetLabel() {
				labels = append(labels, fmt.Sprintf("%s=%q", lp.GetName(), lp.GetValue()))
			}
			suffix := ""
			if len(labels) > 0 {
				suffix = "{" + strings.Join(labels, ",") + "}"
			}
			switch {
			case m.GetCounter() != nil:
				out[mf.GetName()+suffix] = m.GetCounter().GetValue()
			case m.GetHistogram() != nil:
				out[mf.GetName()+"_count"+suffix] = float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return out, nil
}
