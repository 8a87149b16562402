package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ibeckermayer/tagscope/internal/app"
	"github.com/ibeckermayer/tagscope/internal/classify"
	"github.com/ibeckermayer/tagscope/internal/report"
	"github.com/ibeckermayer/tagscope/internal/types"
)

var batchOpts fetchFlags

func init() {
	batchOpts.register(batchCmd)
	rootCmd.AddCommand(batchCmd)
}

var batchCmd = &cobra.Command{
	Use:   "batch [topics.csv]",
	Short: "Fetch every topic in a list on one session",
	Long: `Fetches the topics listed in a CSV file (first column, optional header,
leading '#' allowed) one after another, waiting batch.interval_seconds between
topics. Without an argument the configured batch.topics_file is used.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		path := ""
		if len(args) == 1 {
			path = args[0]
		}
		topics, err := a.LoadTopics(path)
		if err != nil {
			return err
		}

		out := cmd.ErrOrStderr()
		progress := func(done, total int, rec *types.TopicRecord) {
			status := "ok"
			if rec.Failed() {
				status = rec.ErrorMessage()
			}
			fmt.Fprintf(out, "[%d/%d] #%s %s\n", done, total, rec.Topic, status)
		}

		stats, err := a.RunBatch(cmd.Context(), topics, batchOpts.apply(cmd, a.FetchOptions()), progress)
		if stats != nil {
			report.Batch(cmd.OutOrStdout(), stats)
		}
		if err != nil {
			return err
		}
		if stats.StoppedBy != "" {
			s := classify.SuggestionFor(stats.StoppedBy)
			return fmt.Errorf("batch stopped: %s; %s", s.Message, s.Action)
		}
		return nil
	},
}

var (
	scheduleOnce bool
	scheduleAt   string
)

func init() {
	scheduleCmd.Flags().BoolVar(&scheduleOnce, "now", false, "run the batch once immediately before waiting for the schedule")
	scheduleCmd.Flags().StringVar(&scheduleAt, "at", "", "run daily at HH:MM instead of schedule.cron")
	rootCmd.AddCommand(scheduleCmd)
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the configured batch on a schedule until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		sched, err := a.NewScheduler()
		if err != nil {
			return err
		}
		if scheduleAt != "" {
			err = sched.AddDailyJob(app.BatchJobName, scheduleAt, a.BatchJob())
		} else {
			err = a.Schedule(sched)
		}
		if err != nil {
			return err
		}

		if scheduleOnce {
			if err := sched.RunNow(app.BatchJobName, a.BatchJob()); err != nil {
				logger.Error("immediate run failed", "error", err)
			}
		}

		sched.Start()
		for _, j := range sched.ListJobs() {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: next run %s\n", j.Name, j.NextRun.Format(time.RFC1123))
		}

		<-cmd.Context().Done()
		<-sched.Stop().Done()
		return nil
	},
}
