package digest

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ibeckermayer/tagscope/internal/report"
	"github.com/ibeckermayer/tagscope/internal/types"
)

// ErrNoDigest is returned when no digest has been written yet.
var ErrNoDigest = errors.New("no digest found")

// Builder creates HTML digests of batch runs
type Builder struct {
	maxPosts int
	template *template.Template
	now      func() time.Time
}

// New creates a new digest builder showing at most maxPosts posts per topic
func New(maxPosts int) (*Builder, error) {
	tmpl, err := template.New("digest").Funcs(template.FuncMap{
		"comma": report.FormatCount,
	}).Parse(defaultTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}

	return &Builder{
		maxPosts: maxPosts,
		template: tmpl,
		now:      time.Now,
	}, nil
}

// Digest represents a rendered run summary
type Digest struct {
	Title     string
	HTMLBody  string
	PlainBody string
	Topics    []string
	CreatedAt time.Time
}

// DigestData is the template data structure
type DigestData struct {
	Title  string
	Date   string
	Topics []TopicData
	Stats  StatsData
}

// TopicData represents one topic in the digest template
type TopicData struct {
	Name    string
	URL     string
	Count   int
	Related []string
	Posts   []PostData
	Error   string
}

// PostData represents a post in the digest template
type PostData struct {
	URL     string
	Kind    string
	Caption string
	Tags    []string
	Likes   string
}

// StatsData contains digest statistics
type StatsData struct {
	Succeeded int
	Failed    int
}

// Build creates a digest from the records of one run. Successful topics
// come first, largest first; each shows its most liked posts.
func (b *Builder) Build(runID string, records []*types.TopicRecord) (*Digest, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("no records to include in digest")
	}

	sorted := make([]*types.TopicRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Failed() != sorted[j].Failed() {
			return !sorted[i].Failed()
		}
		return sorted[i].Count > sorted[j].Count
	})

	now := b.now()
	data := DigestData{
		Title:  "Topic digest",
		Date:   now.Format("Monday, January 2 15:04"),
		Topics: make([]TopicData, len(sorted)),
	}
	if runID != "" {
		data.Title += " · run " + shortID(runID)
	}

	names := make([]string, len(sorted))
	for i, rec := range sorted {
		names[i] = rec.Topic
		td := TopicData{
			Name:    rec.Topic,
			URL:     rec.URL,
			Count:   rec.Count,
			Related: rec.Related,
			Error:   rec.ErrorMessage(),
		}
		if rec.Failed() {
			data.Stats.Failed++
		} else {
			data.Stats.Succeeded++
		}
		for _, p := range topPosts(rec.Posts, b.maxPosts) {
			td.Posts = append(td.Posts, PostData{
				URL:     p.URL,
				Kind:    string(p.Kind),
				Caption: truncate(deref(p.Caption), 200),
				Tags:    p.Tags,
				Likes:   likes(p.Likes),
			})
		}
		data.Topics[i] = td
	}

	var htmlBuf bytes.Buffer
	if err := b.template.Execute(&htmlBuf, data); err != nil {
		return nil, fmt.Errorf("failed to render template: %w", err)
	}

	return &Digest{
		Title:     data.Title,
		HTMLBody:  htmlBuf.String(),
		PlainBody: buildPlainText(data),
		Topics:    names,
		CreatedAt: now,
	}, nil
}

// Save writes d under dir/digests as HTML plus a plain-text copy, and
// returns the HTML path.
func Save(dir string, d *Digest) (string, error) {
	digestDir := filepath.Join(dir, "digests")
	if err := os.MkdirAll(digestDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create digest dir: %w", err)
	}
	base := filepath.Join(digestDir, d.CreatedAt.UTC().Format("2006-01-02T15-04-05"))
	if err := os.WriteFile(base+".html", []byte(d.HTMLBody), 0644); err != nil {
		return "", fmt.Errorf("failed to write digest: %w", err)
	}
	if err := os.WriteFile(base+".txt", []byte(d.PlainBody), 0644); err != nil {
		return "", fmt.Errorf("failed to write digest: %w", err)
	}
	return base + ".html", nil
}

// GetLatestDigest returns the path of the newest digest under dir.
func GetLatestDigest(dir string) (string, error) {
	digestDir := filepath.Join(dir, "digests")
	entries, err := os.ReadDir(digestDir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoDigest
		}
		return "", err
	}

	// os.ReadDir sorts by name, which is chronological for our timestamps
	var latest string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".html") {
			latest = e.Name()
		}
	}
	if latest == "" {
		return "", ErrNoDigest
	}
	return filepath.Join(digestDir, latest), nil
}

func topPosts(posts []types.PostRecord, n int) []types.PostRecord {
	out := make([]types.PostRecord, len(posts))
	copy(out, posts)
	sort.SliceStable(out, func(i, j int) bool {
		return likeCount(out[i].Likes) > likeCount(out[j].Likes)
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

func likeCount(n *int) int {
	if n == nil {
		return -1
	}
	return *n
}

func likes(n *int) string {
	if n == nil {
		return "hidden"
	}
	return report.FormatCount(*n)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-1]) + "…"
}

func buildPlainText(data DigestData) string {
	var buf bytes.Buffer
	buf.WriteString(fmt.Sprintf("%s\n%s\n\n", data.Title, data.Date))

	for i, t := range data.Topics {
		if t.Error != "" {
			buf.WriteString(fmt.Sprintf("%d. #%s: failed: %s\n\n", i+1, t.Name, t.Error))
			continue
		}
		buf.WriteString(fmt.Sprintf("%d. #%s: %s posts\n", i+1, t.Name, report.FormatCount(t.Count)))
		if len(t.Related) > 0 {
			buf.WriteString(fmt.Sprintf("   related: #%s\n", strings.Join(t.Related, " #")))
		}
		for _, p := range t.Posts {
			buf.WriteString(fmt.Sprintf("   %s (%s, %s likes)\n", p.URL, p.Kind, p.Likes))
		}
		buf.WriteString("\n")
	}

	return buf.String()
}

const defaultTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1">
    <title>{{.Title}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; max-width: 720px; margin: 0 auto; padding: 20px; background: #f5f5f5; }
        .container { background: white; border-radius: 8px; padding: 20px; }
        h1 { color: #c13584; margin-bottom: 5px; }
        .date { color: #666; margin-bottom: 20px; }
        .topic { border-bottom: 1px solid #eee; padding: 15px 0; }
        .topic:last-child { border-bottom: none; }
        .name { font-weight: bold; color: #333; font-size: 18px; text-decoration: none; }
        .count { color: #666; }
        .error { color: #b00020; margin: 8px 0; }
        .tags { margin: 8px 0; }
        .tag { background: #fbe9f3; color: #c13584; padding: 2px 8px; border-radius: 12px; font-size: 12px; margin-right: 5px; }
        .post { margin: 10px 0 0 10px; line-height: 1.4; }
        .metrics { color: #666; font-size: 13px; }
        .link { color: #c13584; text-decoration: none; }
        .footer { margin-top: 20px; padding-top: 15px; border-top: 1px solid #eee; color: #999; font-size: 12px; text-align: center; }
    </style>
</head>
<body>
    <div class="container">
        <h1>{{.Title}}</h1>
        <div class="date">{{.Date}}</div>

        {{range .Topics}}
        <div class="topic">
            <a href="{{.URL}}" class="name">#{{.Name}}</a>
            {{if .Error}}
            <div class="error">{{.Error}}</div>
            {{else}}
            <span class="count">{{comma .Count}} posts</span>
            <div class="tags">
                {{range .Related}}<span class="tag">#{{.}}</span>{{end}}
            </div>
            {{range .Posts}}
            <div class="post">
                <div>{{.Caption}}</div>
                <div class="metrics">{{.Kind}} · {{.Likes}} likes{{range .Tags}} · #{{.}}{{end}}</div>
                <a href="{{.URL}}" class="link">View post →</a>
            </div>
            {{end}}
            {{end}}
        </div>
        {{end}}

        <div class="footer">
            {{.Stats.Succeeded}} topics fetched · {{.Stats.Failed}} failed · Generated by tagscope
        </div>
    </div>
</body>
</html>`
