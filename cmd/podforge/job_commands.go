package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"podforge/internal/config"
	"podforge/internal/engine"
	"podforge/internal/jobstore"
)

func newStartCommand(ctx *commandContext) *cobra.Command {
	var title string
	var minutes int

	cmd := &cobra.Command{
		Use:   "start [script-file]",
		Short: "Queue a podcast job from a script file (or stdin)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			script, err := readScript(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			return ctx.withEngine(func(cfg *config.Config, store *jobstore.Store, eng *engine.Engine) error {
				job, err := eng.StartJob(cmd.Context(), title, script, minutes)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Queued job %s with %d chunks\n", job.ID, job.TotalChunks)
				fmt.Fprintln(out, "Run 'podforge serve' (or the podforged daemon) to process it.")
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&title, "title", "t", "", "Episode title")
	cmd.Flags().IntVarP(&minutes, "minutes", "m", 0, "Estimated episode length in minutes")
	return cmd
}

func readScript(stdin io.Reader, args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read script from stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", fmt.Errorf("read script file: %w", err)
	}
	return string(data), nil
}

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var statusFilter string

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List podcast jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *jobstore.Store) error {
				var statuses []jobstore.Status
				if trimmed := strings.TrimSpace(statusFilter); trimmed != "" {
					status, ok := jobstore.ParseStatus(trimmed)
					if !ok {
						return fmt.Errorf("unknown status %q", trimmed)
					}
					statuses = append(statuses, status)
				}
				jobs, err := store.ListJobs(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(jobs) == 0 {
					fmt.Fprintln(out, "No jobs found.")
					return nil
				}
				rows := make([][]string, 0, len(jobs))
				for _, job := range jobs {
					rows = append(rows, []string{
						job.ID,
						truncate(job.Title, 32),
						string(job.Status),
						fmt.Sprintf("%d/%d", job.CompletedChunks, job.TotalChunks),
						formatTimestamp(job.CreatedAt),
					})
				}
				fmt.Fprintln(out, renderTable(out,
					[]string{"ID", "Title", "Status", "Chunks", "Created"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&statusFilter, "status", "s", "", "Filter by status (pending, processing, completed, error)")
	return cmd
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status [job-id]",
		Short: "Show overall stats, or one job in detail",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *jobstore.Store) error {
				out := cmd.OutOrStdout()
				if len(args) == 0 {
					stats, err := store.Stats(cmd.Context())
					if err != nil {
						return err
					}
					rows := [][]string{
						{"pending", strconv.Itoa(stats.Pending)},
						{"processing", strconv.Itoa(stats.Processing)},
						{"completed", strconv.Itoa(stats.Completed)},
						{"error", strconv.Itoa(stats.Errored)},
						{"total", strconv.Itoa(stats.Total)},
					}
					fmt.Fprintln(out, renderTable(out,
						[]string{"Status", "Jobs"},
						rows,
						[]columnAlignment{alignLeft, alignRight},
					))
					return nil
				}

				job, err := store.GetJob(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Job:      %s\n", job.ID)
				if job.Title != "" {
					fmt.Fprintf(out, "Title:    %s\n", job.Title)
				}
				fmt.Fprintf(out, "Status:   %s\n", job.Status)
				fmt.Fprintf(out, "Chunks:   %d/%d completed\n", job.CompletedChunks, job.TotalChunks)
				if job.AudioKey != "" {
					fmt.Fprintf(out, "Episode:  %s\n", job.AudioKey)
				}
				if job.ErrorMessage != "" {
					fmt.Fprintf(out, "Error:    %s\n", job.ErrorMessage)
				}
				fmt.Fprintf(out, "Created:  %s\n", formatTimestamp(job.CreatedAt))
				fmt.Fprintf(out, "Updated:  %s\n", formatTimestamp(job.UpdatedAt))
				return nil
			})
		},
	}
}

func newChunksCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "chunks <job-id>",
		Short: "List a job's chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *jobstore.Store) error {
				chunks, err := store.ListChunks(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(chunks) == 0 {
					fmt.Fprintln(out, "No chunks found.")
					return nil
				}
				rows := make([][]string, 0, len(chunks))
				for _, chunk := range chunks {
					rows = append(rows, []string{
						strconv.Itoa(chunk.Index),
						string(chunk.Status),
						strconv.Itoa(chunk.Attempts),
						strconv.Itoa(len(chunk.Text)),
						truncate(chunk.ErrorMessage, 48),
					})
				}
				fmt.Fprintln(out, renderTable(out,
					[]string{"Index", "Status", "Attempts", "Chars", "Error"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignRight, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
}

func newReconcileCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile [job-id]",
		Short: "Repair job counters from chunk rows",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(func(cfg *config.Config, store *jobstore.Store, eng *engine.Engine) error {
				out := cmd.OutOrStdout()
				var reports []engine.Report
				if len(args) == 1 {
					report, err := eng.Reconcile(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					reports = append(reports, report)
				} else {
					var err error
					reports, err = eng.ReconcileAll(cmd.Context())
					if err != nil {
						return err
					}
				}

				changed := 0
				for _, report := range reports {
					if !report.Changed {
						continue
					}
					changed++
					fmt.Fprintf(out, "%s: %s -> %s, completed %d -> %d\n",
						report.JobID,
						report.StatusBefore, report.StatusAfter,
						report.CompletedBefore, report.CompletedAfter,
					)
				}
				fmt.Fprintf(out, "Checked %d jobs, repaired %d.\n", len(reports), changed)
				return nil
			})
		},
	}
}

func newRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id> <chunk-index>",
		Short: "Return an errored chunk to pending for reprocessing",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid chunk index %q", args[1])
			}
			return ctx.withEngine(func(cfg *config.Config, store *jobstore.Store, eng *engine.Engine) error {
				if err := store.ResetChunkForRetry(cmd.Context(), args[0], index); err != nil {
					return err
				}
				// The job may be parked in error; reconciliation moves it
				// back to processing so the daemon picks the chunk up.
				if _, err := eng.Reconcile(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Chunk %d of job %s queued for retry\n", index, args[0])
				return nil
			})
		},
	}
}

func newSweepCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Return chunks stuck in processing to pending",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *jobstore.Store) error {
				cutoff := time.Now().Add(-time.Duration(cfg.Engine.StaleChunkMinutes) * time.Minute)
				reclaimed, err := store.ReclaimStaleProcessing(cmd.Context(), cutoff)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reclaimed %d stale chunks\n", reclaimed)
				return nil
			})
		},
	}
}

func truncate(value string, limit int) string {
	if limit <= 3 || len(value) <= limit {
		return value
	}
	return value[:limit-3] + "..."
}

func formatTimestamp(ts time.Time) string {
	if ts.IsZero() {
		return "-"
	}
	return ts.Local().Format("2006-01-02 15:04:05")
}
