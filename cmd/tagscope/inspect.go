package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/ibeckermayer/tagscope/internal/browser"
	"github.com/ibeckermayer/tagscope/internal/report"
	"github.com/ibeckermayer/tagscope/internal/scraper"
)

var (
	inspectTopic string
	inspectURL   string
)

func init() {
	inspectCmd.Flags().StringVar(&inspectTopic, "topic", "", "topic the page belongs to (excluded from related tags)")
	inspectCmd.Flags().StringVar(&inspectURL, "url", "", "URL the page was saved from (default: the topic page)")
	rootCmd.AddCommand(inspectCmd)
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <page.html>",
	Short: "Run the classifier and extractors against a saved page",
	Long: `Loads a saved HTML page without a browser and reports how it classifies,
which expected elements are missing, and what the count, related-tag and
post-link extractors find. Useful when the site's markup changes.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		html, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		topic := scraper.NormalizeTopic(inspectTopic)
		url := inspectURL
		if url == "" {
			url = scraper.TopicURL("", topic)
		}
		page := browser.NewStaticDocument(url, string(html))
		defer page.Close()

		in, err := a.Inspect(cmd.Context(), page, topic)
		if err != nil {
			return err
		}

		t := report.NewTable(cmd.OutOrStdout())
		t.SetTitle(args[0])
		t.AppendRow(table.Row{"Classification", in.Classification})
		if in.Suggestion.Message != "" {
			t.AppendRow(table.Row{"Suggestion", in.Suggestion.Message + "; " + in.Suggestion.Action})
		}
		missing := "-"
		if len(in.Missing) > 0 {
			missing = strings.Join(in.Missing, ", ")
		}
		t.AppendRow(table.Row{"Missing elements", missing})
		t.AppendRow(table.Row{"Count", report.FormatCount(in.Count)})
		t.AppendRow(table.Row{"Related", strings.Join(in.Related, " ")})
		t.AppendRow(table.Row{"Post links", len(in.PostLinks)})
		for _, l := range in.PostLinks {
			kind := "post"
			if l.Reel {
				kind = "reel"
			}
			t.AppendRow(table.Row{"", fmt.Sprintf("%s %s", kind, l.URL)})
		}
		t.Render()
		return nil
	},
}
