package cli

import (
	"bytes"

	"github.com/spf13/cobra"
)

// DumpResult is the JSON form of the dump command
type DumpResult struct {
	Workbook string `json:"workbook"`
	Dump     string `json:"dump"`
}

// NewDumpCommand creates the dump command.
func NewDumpCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "dump <workbook.yaml>",
		Short: "Print the dependency indices of a built workbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			_, wb, err := buildWorkbook(cmd, rootOpts, args[0])
			if err != nil {
				return f.Fail(ExitCommandError, "dump failed", err, nil)
			}
			if !f.JSON() {
				return wb.Dump(f.Writer)
			}
			var buf bytes.Buffer
			if err := wb.Dump(&buf); err != nil {
				return f.Fail(ExitCommandError, "dump failed", err, nil)
			}
			return f.Success(DumpResult{Workbook: wb.ID.String(), Dump: buf.String()})
		},
	}
}
