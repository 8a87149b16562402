package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ibeckermayer/tagscope/internal/types"
)

// ErrNotFound is returned when no stored record matches a query.
var ErrNotFound = errors.New("not found")

// Store handles all database operations
type Store struct {
	db *sql.DB
}

// New creates a new Store with SQLite backend
func New(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	// One writer at a time; SQLite serializes anyway.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		topics INTEGER NOT NULL DEFAULT 0,
		succeeded INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS topic_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL DEFAULT '',
		topic TEXT NOT NULL,
		url TEXT NOT NULL,
		count INTEGER NOT NULL,
		related TEXT NOT NULL,
		error TEXT,
		captured_at DATETIME NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS topic_posts (
		record_id INTEGER NOT NULL REFERENCES topic_records(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		post_id TEXT NOT NULL,
		url TEXT NOT NULL,
		media_url TEXT,
		kind TEXT NOT NULL,
		caption TEXT,
		tags TEXT NOT NULL,
		likes INTEGER,
		published_at TEXT,
		PRIMARY KEY (record_id, post_id)
	);

	CREATE INDEX IF NOT EXISTS idx_records_topic ON topic_records(topic, captured_at);
	CREATE INDEX IF NOT EXISTS idx_records_run ON topic_records(run_id);
	CREATE INDEX IF NOT EXISTS idx_posts_post_id ON topic_posts(post_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SaveRecord stores rec and its posts, tagging them with runID (which may
// be empty for one-off fetches). It returns the new record's ID.
func (s *Store) SaveRecord(ctx context.Context, runID string, rec *types.TopicRecord) (int64, error) {
	related, err := json.Marshal(nonNil(rec.Related))
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO topic_records (run_id, topic, url, count, related, error, captured_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, runID, rec.Topic, rec.URL, rec.Count, string(related), nullString(rec.Error), rec.CapturedAt.UTC())
	if err != nil {
		return 0, fmt.Errorf("insert record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for i, p := range rec.Posts {
		tags, err := json.Marshal(nonNil(p.Tags))
		if err != nil {
			return 0, err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO topic_posts (record_id, position, post_id, url, media_url, kind,
				caption, tags, likes, published_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(record_id, post_id) DO NOTHING
		`, id, i, p.PostID, p.URL, nullString(p.MediaURL), string(p.Kind),
			nullString(p.Caption), string(tags), nullInt(p.Likes), nullString(p.PublishedAt))
		if err != nil {
			return 0, fmt.Errorf("insert post %s: %w", p.PostID, err)
		}
	}

	return id, tx.Commit()
}

// LatestRecord returns the most recent successful record for topic, with
// its posts.
func (s *Store) LatestRecord(ctx context.Context, topic string) (*types.TopicRecord, error) {
	var (
		id         int64
		related    string
		errMsg     sql.NullString
		capturedAt time.Time
		rec        = &types.TopicRecord{}
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, topic, url, count, related, error, captured_at
		FROM topic_records
		WHERE topic = ? AND error IS NULL
		ORDER BY captured_at DESC, id DESC
		LIMIT 1
	`, topic).Scan(&id, &rec.Topic, &rec.URL, &rec.Count, &related, &errMsg, &capturedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("record for %q: %w", topic, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	rec.CapturedAt = capturedAt
	if errMsg.Valid {
		rec.Error = &errMsg.String
	}
	if err := json.Unmarshal([]byte(related), &rec.Related); err != nil {
		return nil, fmt.Errorf("decode related tags: %w", err)
	}

	rec.Posts, err = s.posts(ctx, id)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Store) posts(ctx context.Context, recordID int64) ([]types.PostRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT post_id, url, media_url, kind, caption, tags, likes, published_at
		FROM topic_posts
		WHERE record_id = ?
		ORDER BY position
	`, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	posts := []types.PostRecord{}
	for rows.Next() {
		var (
			p                            types.PostRecord
			kind, tags                   string
			mediaURL, caption, published sql.NullString
			likes                        sql.NullInt64
		)
		if err := rows.Scan(&p.PostID, &p.URL, &mediaURL, &kind, &caption, &tags, &likes, &published); err != nil {
			return nil, err
		}
		p.Kind = types.MediaKind(kind)
		if !p.Kind.Valid() {
			p.Kind = types.KindImage
		}
		p.MediaURL = fromNullString(mediaURL)
		p.Caption = fromNullString(caption)
		p.PublishedAt = fromNullString(published)
		if likes.Valid {
			n := int(likes.Int64)
			p.Likes = &n
		}
		if err := json.Unmarshal([]byte(tags), &p.Tags); err != nil {
			return nil, fmt.Errorf("decode tags of %s: %w", p.PostID, err)
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// History returns the newest records for topic, or for every topic when
// topic is empty.
func (s *Store) History(ctx context.Context, topic string, limit int) ([]RecordSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.run_id, r.topic, r.url, r.count, r.related, COALESCE(r.error, ''), r.captured_at,
			(SELECT COUNT(*) FROM topic_posts p WHERE p.record_id = r.id)
		FROM topic_records r
		WHERE ? = '' OR r.topic = ?
		ORDER BY r.captured_at DESC, r.id DESC
		LIMIT ?
	`, topic, topic, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RecordSummary
	for rows.Next() {
		var r RecordSummary
		var related string
		if err := rows.Scan(&r.ID, &r.RunID, &r.Topic, &r.URL, &r.Count, &related, &r.Error, &r.CapturedAt, &r.PostCount); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(related), &r.Related); err != nil {
			return nil, fmt.Errorf("decode related tags: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// TagStats counts the tags embedded in stored posts, each distinct post
// counted once, most frequent first. An empty topic covers every topic.
func (s *Store) TagStats(ctx context.Context, topic string, limit int) ([]TagStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.post_id, r.topic, p.tags
		FROM topic_posts p
		JOIN topic_records r ON r.id = p.record_id
		WHERE ? = '' OR r.topic = ?
		ORDER BY r.captured_at DESC, r.id DESC
	`, topic, topic)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type agg struct {
		posts  int
		topics map[string]bool
	}
	counts := map[string]*agg{}
	seenPost := map[string]bool{}
	for rows.Next() {
		var postID, recTopic, raw string
		if err := rows.Scan(&postID, &recTopic, &raw); err != nil {
			return nil, err
		}
		if seenPost[postID] {
			continue
		}
		seenPost[postID] = true

		var tags []string
		if err := json.Unmarshal([]byte(raw), &tags); err != nil {
			return nil, fmt.Errorf("decode tags of %s: %w", postID, err)
		}
		for _, t := range tags {
			key := strings.ToLower(t)
			a, ok := counts[key]
			if !ok {
				a = &agg{topics: map[string]bool{}}
				counts[key] = a
			}
			a.posts++
			a.topics[recTopic] = true
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	stats := make([]TagStat, 0, len(counts))
	for tag, a := range counts {
		stats = append(stats, TagStat{Tag: tag, Posts: a.posts, Topics: len(a.topics)})
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Posts != stats[j].Posts {
			return stats[i].Posts > stats[j].Posts
		}
		return stats[i].Tag < stats[j].Tag
	})
	if limit > 0 && len(stats) > limit {
		stats = stats[:limit]
	}
	return stats, nil
}

// StartRun records the beginning of a batch run
func (s *Store) StartRun(ctx context.Context, id string, startedAt time.Time, topics int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, topics) VALUES (?, ?, ?)
	`, id, startedAt.UTC(), topics)
	return err
}

// FinishRun records the outcome of a batch run
func (s *Store) FinishRun(ctx context.Context, run Run) error {
	finished := time.Now().UTC()
	if run.FinishedAt != nil {
		finished = run.FinishedAt.UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET finished_at = ?, succeeded = ?, failed = ?, skipped = ?
		WHERE id = ?
	`, finished, run.Succeeded, run.Failed, run.Skipped, run.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s: %w", run.ID, ErrNotFound)
	}
	return nil
}

// GetRun returns a batch run by ID
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	var run Run
	var finished sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, finished_at, topics, succeeded, failed, skipped
		FROM runs WHERE id = ?
	`, id).Scan(&run.ID, &run.StartedAt, &finished, &run.Topics, &run.Succeeded, &run.Failed, &run.Skipped)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if finished.Valid {
		run.FinishedAt = &finished.Time
	}
	return &run, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func nullInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}
