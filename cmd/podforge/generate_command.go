package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"podforge/internal/config"
	"podforge/internal/engine"
	"podforge/internal/jobstore"
	"podforge/internal/scriptgen"
)

func newGenerateCommand(ctx *commandContext) *cobra.Command {
	var title string
	var minutes int
	var scriptOnly bool

	cmd := &cobra.Command{
		Use:   "generate <topic>",
		Short: "Draft a dialogue script for a topic and queue it as a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			client, err := scriptgen.NewClient(cfg.ScriptGen)
			if err != nil {
				return err
			}
			script, err := client.Generate(cmd.Context(), args[0], minutes)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if scriptOnly {
				fmt.Fprintln(out, script)
				return nil
			}

			episodeTitle := title
			if episodeTitle == "" {
				episodeTitle = args[0]
			}
			return ctx.withEngine(func(cfg *config.Config, store *jobstore.Store, eng *engine.Engine) error {
				job, err := eng.StartJob(cmd.Context(), episodeTitle, script, minutes)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Generated script (%d chars) and queued job %s with %d chunks\n",
					len(script), job.ID, job.TotalChunks)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&title, "title", "t", "", "Episode title (defaults to the topic)")
	cmd.Flags().IntVarP(&minutes, "minutes", "m", 0, "Target episode length in minutes")
	cmd.Flags().BoolVar(&scriptOnly, "script-only", false, "Print the script instead of queueing a job")
	return cmd
}
