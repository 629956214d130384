package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/landscaper/internal/corrections"
	"github.com/sells-group/landscaper/internal/model"
)

var (
	trendDays int
	trendJSON bool
)

var trendCmd = &cobra.Command{
	Use:   "trend",
	Short: "Show extraction accuracy over a trailing window",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("analytics"); err != nil {
			return err
		}

		reg, err := initRegistry(ctx)
		if err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		trend, err := corrections.New(st, reg).AccuracyTrend(ctx, trendDays)
		if err != nil {
			return eris.Wrap(err, "accuracy trend")
		}
		if trendJSON {
			return writeJSONOut(os.Stdout, trend)
		}
		formatTrend(os.Stdout, trend)
		return nil
	},
}

// formatTrend writes the headline numbers and the top corrected fields to w.
func formatTrend(out io.Writer, t *model.AccuracyTrend) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Period:\t%d days\n", t.PeriodDays)
	_, _ = fmt.Fprintf(w, "Extractions:\t%d\n", t.TotalExtractions)
	_, _ = fmt.Fprintf(w, "Corrections:\t%d\n", t.TotalCorrections)
	_, _ = fmt.Fprintf(w, "Correction rate:\t%.2f%%\n", t.CorrectionRate*100)
	_, _ = fmt.Fprintf(w, "Accuracy:\t%.2f%%\n", t.Accuracy*100)
	_ = w.Flush()

	if len(t.TopCorrectedFields) == 0 {
		return
	}
	_, _ = fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "FIELD\tCORRECTIONS\tAI_CONF\tTYPE\tPATTERN")
	_, _ = fmt.Fprintln(w, "-----\t-----------\t-------\t----\t-------")
	for _, f := range t.TopCorrectedFields {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%.2f\t%s\t%s\n",
			f.FieldPath,
			f.Corrections,
			f.MeanAIConfidence,
			f.DominantType,
			f.Pattern,
		)
	}
	_ = w.Flush()
}

func init() {
	trendCmd.Flags().IntVar(&trendDays, "days", 30, "trailing window in days (7, 30 or 90)")
	trendCmd.Flags().BoolVar(&trendJSON, "json", false, "print the full trend as JSON")
	rootCmd.AddCommand(trendCmd)
}
