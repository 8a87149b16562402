// Package report renders records, histories and tag statistics as
// terminal tables.
package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ibeckermayer/tagscope/internal/batch"
	"github.com/ibeckermayer/tagscope/internal/store"
	"github.com/ibeckermayer/tagscope/internal/types"
)

const (
	captionWidth = 40
	timeLayout   = "2006-01-02 15:04"
)

// NewTable returns a table writer mirroring to w.
func NewTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.Style().Format.Footer = text.FormatDefault
	t.SetOutputMirror(w)
	return t
}

// Record prints a topic record: a summary table followed by its posts.
func Record(w io.Writer, rec *types.TopicRecord) {
	t := NewTable(w)
	t.SetTitle("#" + rec.Topic)
	t.AppendRow(table.Row{"URL", rec.URL})
	t.AppendRow(table.Row{"Captured", rec.CapturedAt.Local().Format(timeLayout)})
	if rec.Failed() {
		t.AppendRow(table.Row{"Error", rec.ErrorMessage()})
		t.Render()
		return
	}
	t.AppendRow(table.Row{"Posts", FormatCount(rec.Count)})
	t.AppendRow(table.Row{"Related", joinTags(rec.Related)})
	t.Render()

	if len(rec.Posts) == 0 {
		return
	}
	Posts(w, rec.Posts)
}

// Posts prints the sampled posts of a record.
func Posts(w io.Writer, posts []types.PostRecord) {
	t := NewTable(w)
	t.AppendHeader(table.Row{"#", "ID", "Kind", "Likes", "Published", "Tags", "Caption"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Likes", Align: text.AlignRight},
		{Name: "Caption", WidthMax: captionWidth, WidthMaxEnforcer: text.Trim},
	})
	for i, p := range posts {
		t.AppendRow(table.Row{
			i + 1,
			p.PostID,
			p.Kind,
			likes(p.Likes),
			deref(p.PublishedAt),
			joinTags(p.Tags),
			strings.ReplaceAll(deref(p.Caption), "\n", " "),
		})
	}
	t.Render()
}

// History prints stored record summaries.
func History(w io.Writer, records []store.RecordSummary) {
	t := NewTable(w)
	t.AppendHeader(table.Row{"ID", "Captured", "Topic", "Posts", "Related", "Sampled", "Status"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Posts", Align: text.AlignRight},
		{Name: "Status", WidthMax: captionWidth, WidthMaxEnforcer: text.Trim},
	})
	for _, r := range records {
		status := "ok"
		if r.Error != "" {
			status = r.Error
		}
		t.AppendRow(table.Row{
			r.ID,
			r.CapturedAt.Local().Format(timeLayout),
			r.Topic,
			FormatCount(r.Count),
			len(r.Related),
			r.PostCount,
			status,
		})
	}
	t.AppendFooter(table.Row{"", "", "Total", len(records)})
	t.Render()
}

// TagStats prints tag frequencies.
func TagStats(w io.Writer, stats []store.TagStat) {
	t := NewTable(w)
	t.AppendHeader(table.Row{"Rank", "Tag", "Posts", "Topics"})
	for i, s := range stats {
		t.AppendRow(table.Row{i + 1, "#" + s.Tag, s.Posts, s.Topics})
	}
	t.Render()
}

// Batch prints the outcome of a batch run, one row per topic.
func Batch(w io.Writer, stats *batch.Stats) {
	t := NewTable(w)
	t.SetTitle("run " + stats.RunID)
	t.AppendHeader(table.Row{"Topic", "Posts", "Related", "Sampled", "Status"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Status", WidthMax: captionWidth, WidthMaxEnforcer: text.Trim},
	})
	for _, rec := range stats.Records {
		status := "ok"
		if rec.Failed() {
			status = rec.ErrorMessage()
		}
		t.AppendRow(table.Row{rec.Topic, FormatCount(rec.Count), len(rec.Related), len(rec.Posts), status})
	}
	footer := fmt.Sprintf("%d ok, %d failed, %d skipped in %s",
		stats.Succeeded, stats.Failed, stats.Skipped, stats.Duration().Round(time.Second))
	if stats.StoppedBy != "" {
		footer += ", stopped by " + string(stats.StoppedBy)
	}
	t.AppendFooter(table.Row{footer})
	t.Render()
}

// FormatCount renders n with thousands separators.
func FormatCount(n int) string {
	s := strconv.Itoa(n)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}

func likes(n *int) string {
	if n == nil {
		return "hidden"
	}
	return FormatCount(*n)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func joinTags(tags []string) string {
	if len(tags) == 0 {
		return "-"
	}
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = "#" + t
	}
	return strings.Join(out, " ")
}
