package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/roster/internal/admin"
	"github.com/JonMunkholm/roster/internal/core"
	"github.com/JonMunkholm/roster/internal/csvrows"
)

// env is what every subcommand runs against.
type env struct {
	service *core.Service
	reset   *admin.ResetDbs
	close   func()
}

type opener func(ctx context.Context) (*env, error)

func newRootCmd(open opener) *cobra.Command {
	var (
		e     *env
		actor string
	)

	root := &cobra.Command{
		Use:           "rosterctl",
		Short:         "Stage, review and commit member roster files",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			e, err = open(cmd.Context())
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if e != nil && e.close != nil {
				e.close()
			}
		},
	}
	root.PersistentFlags().StringVar(&actor, "actor", defaultActor(), "Actor id recorded in the audit trail")

	current := func() *env { return e }
	actorID := func() string { return actor }

	root.AddCommand(
		newFieldsCmd(current),
		newPreviewCmd(current),
		newCommitCmd(current, actorID),
		newBulkCmd(current, actorID),
		newExportCmd(current, actorID),
		newResetCmd(current),
	)
	return root
}

func defaultActor() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "rosterctl"
}

func newFieldsCmd(current func() *env) *cobra.Command {
	return &cobra.Command{
		Use:   "fields",
		Short: "List the column dictionary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defs, err := current().service.ListFields(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tTYPE\tREQUIRED\tRULE")
			for _, d := range defs {
				rule := "-"
				if d.Rule != nil {
					rule = string(d.Rule.Kind) + ":" + d.Rule.Spec
				}
				fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", d.Name, d.Type, d.Required, rule)
			}
			return tw.Flush()
		},
	}
}

func newPreviewCmd(current func() *env) *cobra.Command {
	var (
		file    string
		session string
	)
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Stage a CSV file and print how each row would be applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID, err := parseSession(session, false)
			if err != nil {
				return err
			}
			rows, err := readRows(file)
			if err != nil {
				return err
			}
			res, err := current().service.StageBatch(cmd.Context(), rows, sessionID)
			if err != nil {
				return err
			}
			printStageResult(cmd.OutOrStdout(), res)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "CSV file to stage (required)")
	cmd.Flags().StringVar(&session, "session", "", "Replace the rows of an existing session")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newCommitCmd(current func() *env, actorID func() string) *cobra.Command {
	var session string
	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Commit a staged session to the roster",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID, err := parseSession(session, true)
			if err != nil {
				return err
			}
			res, err := current().service.CommitSession(cmd.Context(), sessionID, actorID())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "created %d, updated %d, unchanged %d of %d rows\n",
				res.Created, res.Updated, res.Unchanged, res.Total)
			for _, re := range res.Errors {
				fmt.Fprintf(out, "  row %d: %s\n", re.RowNumber, re.Message)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "Session id printed by preview (required)")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func newBulkCmd(current func() *env, actorID func() string) *cobra.Command {
	var (
		file     string
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "bulk",
		Short: "Import a large CSV file as a background job and wait for it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval <= 0 {
				return errors.New("--interval must be positive")
			}
			rows, err := readRows(file)
			if err != nil {
				return err
			}
			svc := current().service
			ticket, err := svc.StartBulkJob(cmd.Context(), core.BulkRequest{
				FileName: filepath.Base(file),
				Rows:     rows,
				ActorID:  actorID(),
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "job %s started, %d rows\n", ticket.JobID, ticket.Total)

			job, err := waitForJob(cmd.Context(), svc, ticket.JobID, interval, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return printJob(cmd.OutOrStdout(), job)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "CSV file to import (required)")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "Progress poll interval")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newExportCmd(current func() *env, actorID func() string) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every member as CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			if out != "" && out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			n, err := current().service.ExportRecords(cmd.Context(), actorID(), w)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "exported %d members\n", n)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (default stdout)")
	return cmd
}

func newResetCmd(current func() *env) *cobra.Command {
	var (
		target string
		yes    bool
	)
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Empty staging, member or audit tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to reset %q without --yes", target)
			}
			e := current()
			if e.reset == nil {
				return errors.New("reset is not available for this store")
			}
			if err := e.reset.Reset(cmd.Context(), admin.Target(target)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reset %s\n", target)
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "target", string(admin.TargetStaging), "staging, members, audit or all")
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the reset")
	return cmd
}

func parseSession(s string, required bool) (uuid.UUID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		if required {
			return uuid.Nil, errors.New("--session is required")
		}
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid --session: %w", err)
	}
	return id, nil
}

func readRows(path string) ([]core.RawRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, err := csvrows.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return rows, nil
}

func printStageResult(w io.Writer, res *core.StageResult) {
	fmt.Fprintf(w, "session %s\n", res.SessionID)
	fmt.Fprintf(w, "%d rows: %d new, %d update, %d unchanged, %d error\n",
		res.Total, res.Counts.New, res.Counts.Update, res.Counts.Unchanged, res.Counts.Error)
	for _, row := range res.Rows {
		if row.State != core.StateError {
			continue
		}
		fmt.Fprintf(w, "  row %d: %s\n", row.RowNumber, strings.Join(row.Errors, "; "))
	}
}

// waitForJob polls until the job reaches a terminal status, printing
// progress to progress whenever it moves.
func waitForJob(ctx context.Context, svc *core.Service, id uuid.UUID, interval time.Duration, progress io.Writer) (core.BulkJob, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := -1
	for {
		job, err := svc.JobStatus(ctx, id)
		if err != nil {
			return core.BulkJob{}, err
		}
		if job.ProcessedRows != last {
			last = job.ProcessedRows
			fmt.Fprintf(progress, "%d/%d rows (%d%%)\n", job.ProcessedRows, job.TotalRows, job.Percent())
		}
		if job.Status.Terminal() {
			return job, nil
		}

		select {
		case <-ctx.Done():
			return core.BulkJob{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func printJob(w io.Writer, job core.BulkJob) error {
	fmt.Fprintf(w, "job %s %s: created %d, updated %d, unchanged %d of %d rows\n",
		job.ID, job.Status, job.Created, job.Updated, job.Unchanged, job.TotalRows)
	for _, msg := range job.Errors {
		fmt.Fprintf(w, "  %s\n", msg)
	}
	if job.Status == core.JobFailed {
		return fmt.Errorf("job failed: %s", job.Failure)
	}
	return nil
}
