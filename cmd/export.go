package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/fundscout/internal/report"
)

var exportCmd = &cobra.Command{
	Use:   "export <user-id>",
	Short: "Export a user's saved funds as CSV, XLSX or JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		userID := args[0]

		formatFlag, _ := cmd.Flags().GetString("format")
		outPath, _ := cmd.Flags().GetString("out")
		summary, _ := cmd.Flags().GetBool("summary")

		format, err := report.ParseFormat(formatFlag)
		if err != nil {
			return err
		}
		if err := cfg.Validate("data"); err != nil {
			return err
		}
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		funds, err := st.LoadFunds(ctx, userID)
		if err != nil {
			return eris.Wrap(err, "export: load funds")
		}

		if summary {
			formatSummary(os.Stdout, report.Summarize(funds))
			return nil
		}

		if outPath == "-" {
			return report.Write(os.Stdout, format, funds)
		}
		if outPath == "" {
			outPath = report.FileName(format, time.Now())
		}
		f, err := os.Create(outPath)
		if err != nil {
			return eris.Wrap(err, "export: create file")
		}
		if err := report.Write(f, format, funds); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return eris.Wrap(err, "export: close file")
		}
		_, _ = fmt.Fprintf(os.Stderr, "wrote %d funds to %s\n", len(funds), outPath)
		return nil
	},
}

func init() {
	exportCmd.Flags().String("format", "csv", "export format (csv, xlsx, json)")
	exportCmd.Flags().String("out", "", `output path ("-" for stdout, default <date>_fondos.<format>)`)
	exportCmd.Flags().Bool("summary", false, "print the dashboard summary instead of exporting")
	rootCmd.AddCommand(exportCmd)
}

// formatSummary writes dashboard counts to w.
func formatSummary(out io.Writer, s report.Summary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total funds:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Analyzed:\t%d\n", s.Analyzed)
	_, _ = fmt.Fprintln(w, "By status:")
	for _, c := range s.ByStatus {
		_, _ = fmt.Fprintf(w, "  %s:\t%d\n", c.Label, c.Count)
	}
	_, _ = fmt.Fprintln(w, "By SDG:")
	for _, c := range s.BySDG {
		_, _ = fmt.Fprintf(w, "  %s:\t%d\n", c.Label, c.Count)
	}
	_ = w.Flush()
}
