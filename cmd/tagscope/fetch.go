package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ibeckermayer/tagscope/internal/fetch"
	"github.com/ibeckermayer/tagscope/internal/report"
	"github.com/ibeckermayer/tagscope/internal/scraper"
)

// fetchFlags are shared by fetch and batch.
type fetchFlags struct {
	headful    bool
	maxRetries int
	maxPosts   int
}

func (f *fetchFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.headful, "headful", false, "show the browser window")
	cmd.Flags().IntVar(&f.maxRetries, "max-retries", 0, "attempts per topic (default from config)")
	cmd.Flags().IntVar(&f.maxPosts, "max-posts", 0, "posts sampled per topic (default from config)")
}

// apply overrides the configured options with any flags given.
func (f *fetchFlags) apply(cmd *cobra.Command, opts fetch.Options) fetch.Options {
	if cmd.Flags().Changed("headful") {
		opts.Headless = !f.headful
	}
	if f.maxRetries > 0 {
		opts.MaxRetries = f.maxRetries
	}
	if cmd.Flags().Changed("max-posts") {
		opts.MaxPosts = f.maxPosts
	}
	return opts
}

var (
	fetchOpts fetchFlags
	fetchJSON bool
)

func init() {
	fetchOpts.register(fetchCmd)
	fetchCmd.Flags().BoolVar(&fetchJSON, "json", false, "print the record as JSON")
	rootCmd.AddCommand(fetchCmd)
}

var fetchCmd = &cobra.Command{
	Use:   "fetch <topic>",
	Short: "Fetch one topic and store the record",
	Example: `  tagscope fetch sunset
  tagscope fetch '#夕日' --max-posts 5 --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		opts := fetchOpts.apply(cmd, a.FetchOptions())
		rec, err := a.FetchTopic(cmd.Context(), args[0], opts)
		if err != nil {
			return err
		}

		if fetchJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(rec); err != nil {
				return err
			}
		} else {
			report.Record(cmd.OutOrStdout(), rec)
		}

		if rec.Failed() {
			return errors.New(rec.ErrorMessage())
		}
		return nil
	},
}

var (
	historyLimit int
	tagsLimit    int
)

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "records to show")
	tagsCmd.Flags().IntVarP(&tagsLimit, "limit", "n", 30, "tags to show")
	rootCmd.AddCommand(historyCmd, showCmd, tagsCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history [topic]",
	Short: "List stored fetches, newest first",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		topic := ""
		if len(args) == 1 {
			topic = scraper.NormalizeTopic(args[0])
		}
		records, err := a.Store().History(cmd.Context(), topic, historyLimit)
		if err != nil {
			return err
		}
		report.History(cmd.OutOrStdout(), records)
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <topic>",
	Short: "Show the latest successful record stored for a topic",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.Store().LatestRecord(cmd.Context(), scraper.NormalizeTopic(args[0]))
		if err != nil {
			return err
		}
		report.Record(cmd.OutOrStdout(), rec)
		return nil
	},
}

var tagsCmd = &cobra.Command{
	Use:   "tags [topic]",
	Short: "Rank the tags used by stored posts",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		topic := ""
		if len(args) == 1 {
			topic = scraper.NormalizeTopic(args[0])
		}
		stats, err := a.Store().TagStats(cmd.Context(), topic, tagsLimit)
		if err != nil {
			return err
		}
		if len(stats) == 0 {
			return fmt.Errorf("no stored posts for %q", topic)
		}
		report.TagStats(cmd.OutOrStdout(), stats)
		return nil
	},
}
