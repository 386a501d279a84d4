package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/fundscout/internal/model"
	"github.com/sells-group/fundscout/internal/store"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage background search jobs",
	Long:  "Commands for creating, listing, inspecting and executing background search jobs.",
}

// -- jobs list --

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("data"); err != nil {
			return err
		}
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		user, _ := cmd.Flags().GetString("user")
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		list, err := st.ListJobs(ctx, store.JobFilter{
			UserID: user,
			Status: model.JobStatus(status),
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "jobs list")
		}
		if len(list) == 0 {
			fmt.Fprintln(os.Stderr, "No jobs found.")
			return nil
		}

		formatJobsList(os.Stdout, list)
		return nil
	},
}

// -- jobs show --

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show full details of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("data"); err != nil {
			return err
		}
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		job, err := st.GetJob(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "jobs show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(job)
	},
}

// -- jobs create --

var jobsCreateCmd = &cobra.Command{
	Use:   "create <user-id>",
	Short: "Create a pending job from the user's saved profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		webhook, _ := cmd.Flags().GetString("webhook")
		analyze, _ := cmd.Flags().GetBool("analyze")
		execute, _ := cmd.Flags().GetBool("execute")

		env, err := initApp(ctx, "jobs")
		if err != nil {
			return err
		}
		defer env.Close()

		job, err := env.Jobs.Create(ctx, args[0], webhook, analyze)
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, job.ID)
		if !execute {
			return nil
		}
		return executeJob(ctx, env, job.ID)
	},
}

// -- jobs execute --

var jobsExecuteCmd = &cobra.Command{
	Use:   "execute <job-id>",
	Short: "Run a pending job in the foreground",
	Long:  "Runs a pending job and blocks until it ends. Ctrl-C cancels the job.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx, "jobs")
		if err != nil {
			return err
		}
		defer env.Close()

		return executeJob(ctx, env, args[0])
	},
}

// executeJob runs the job and prints its final state.
func executeJob(ctx context.Context, env *appEnv, id string) error {
	if err := env.Jobs.Execute(ctx, id); err != nil {
		return err
	}
	job, err := env.Jobs.Get(context.WithoutCancel(ctx), id)
	if err != nil {
		return eris.Wrap(err, "jobs execute")
	}
	fmt.Fprintf(os.Stderr, "job %s %s: %d funds, %d analyzed\n", truncateID(job.ID), job.Status, job.FundsFound, job.FundsAnalyzed)
	if job.Status == model.JobStatusFailed {
		return eris.New(job.Error)
	}
	return nil
}

func init() {
	jobsListCmd.Flags().String("user", "", "filter by user ID")
	jobsListCmd.Flags().String("status", "", "filter by job status (pending, running, completed, failed, cancelled)")
	jobsListCmd.Flags().Int("limit", 50, "max number of jobs to display")

	jobsCreateCmd.Flags().String("webhook", "", "URL notified when the job ends")
	jobsCreateCmd.Flags().Bool("analyze", false, "analyze funds after discovery")
	jobsCreateCmd.Flags().Bool("execute", false, "run the job right away in the foreground")

	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsShowCmd)
	jobsCmd.AddCommand(jobsCreateCmd)
	jobsCmd.AddCommand(jobsExecuteCmd)
	rootCmd.AddCommand(jobsCmd)
}

// formatJobsList writes a tabular list of jobs to w.
func formatJobsList(out io.Writer, list []model.Job) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tUSER\tSTATUS\tPROGRESS\tFUNDS\tANALYZED\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t----\t------\t--------\t-----\t--------\t-------")

	for _, j := range list {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d%%\t%d\t%d\t%s\n",
			truncateID(j.ID),
			clip(j.UserID, 24),
			j.Status,
			j.Progress,
			j.FundsFound,
			j.FundsAnalyzed,
			j.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
