package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/landscaper/internal/jobs"
	"github.com/sells-group/landscaper/internal/model"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Run and inspect extraction jobs",
}

// -- jobs run --

var jobsRunMappingSet string

var jobsRunCmd = &cobra.Command{
	Use:   "run <document-id>",
	Short: "Extract a stored document in the foreground",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx, "ingest")
		if err != nil {
			return err
		}
		defer env.Close()

		job, err := env.Runner.Start(ctx, args[0], jobsRunMappingSet)
		if err != nil {
			return eris.Wrap(err, "jobs run")
		}
		env.Runner.Wait()

		v, err := env.Runner.Status(ctx, job.ID)
		if err != nil {
			return err
		}
		formatJobStatus(os.Stdout, v)
		if v.Status != model.JobCompleted {
			return eris.Errorf("job %s %s: %s", v.ID, v.Status, v.Error)
		}
		return nil
	},
}

// -- jobs status --

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show the status of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		job, err := st.GetJob(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "jobs status")
		}
		formatJobStatus(os.Stdout, job.View())
		return nil
	},
}

// -- jobs cancel --

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a queued job left behind by a stopped server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		// No extractor or blobs: this runner only owns jobs it starts itself.
		r := jobs.New(st, nil, nil, nil, cfg.Extract)
		job, err := r.Cancel(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "jobs cancel")
		}
		zap.L().Info("job cancelled", zap.String("job_id", job.ID))
		formatJobStatus(os.Stdout, job.View())
		return nil
	},
}

func init() {
	jobsRunCmd.Flags().StringVar(&jobsRunMappingSet, "mapping-set", "", "confirmed mapping set ID (default: propose a mapping)")

	jobsCmd.AddCommand(jobsRunCmd)
	jobsCmd.AddCommand(jobsStatusCmd)
	jobsCmd.AddCommand(jobsCancelCmd)
	rootCmd.AddCommand(jobsCmd)
}

// formatJobStatus writes one job's polling view to w.
func formatJobStatus(out io.Writer, v model.JobStatusView) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTATUS\tPROGRESS\tERROR")
	_, _ = fmt.Fprintln(w, "--\t------\t--------\t-----")

	progress := "-"
	if v.Progress != nil {
		progress = fmt.Sprintf("%.0f%%", *v.Progress*100)
	}
	_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", truncateID(v.ID), v.Status, progress, v.Error)
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
