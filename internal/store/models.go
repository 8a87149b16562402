package store

import "time"

// RecordSummary is one stored fetch without its posts
type RecordSummary struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"run_id"`
	Topic      string    `json:"topic"`
	URL        string    `json:"url"`
	Count      int       `json:"count"`
	Related    []string  `json:"related"`
	PostCount  int       `json:"post_count"`
	Error      string    `json:"error,omitempty"` // empty for successful fetches
	CapturedAt time.Time `json:"captured_at"`
}

// Run represents one batch execution
type Run struct {
	ID         string     `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"` // nil while running
	Topics     int        `json:"topics"`
	Succeeded  int        `json:"succeeded"`
	Failed     int        `json:"failed"`
	Skipped    int        `json:"skipped"`
}

// TagStat counts how often a tag appears across stored posts
type TagStat struct {
	Tag    string `json:"tag"`
	Posts  int    `json:"posts"`
	Topics int    `json:"topics"`
}
