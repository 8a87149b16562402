package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/tagscope/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "nested", "tagscope.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func intPtr(n int) *int { return &n }

func sampleRecord(topic string, at time.Time, posts ...types.PostRecord) *types.TopicRecord {
	rec := types.NewTopicRecord(topic, "https://www.instagram.com/explore/tags/"+topic+"/", at)
	rec.Count = 1200
	rec.Related = []string{"travel", "beach"}
	rec.Posts = append(rec.Posts, posts...)
	return rec
}

func post(id string, tags ...string) types.PostRecord {
	return types.PostRecord{
		URL:      "https://www.instagram.com/p/" + id + "/",
		PostID:   id,
		MediaURL: types.StringPtr("https://cdn.example/" + id + ".jpg"),
		Kind:     types.KindImage,
		Caption:  types.StringPtr("caption for " + id),
		Tags:     tags,
		Likes:    intPtr(10),
	}
}

func TestSaveAndLatestRecord(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	t0 := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

	hidden := post("BBB", "sunset")
	hidden.Likes = nil
	hidden.Kind = types.KindVideo
	hidden.PublishedAt = types.StringPtr("2024-05-30T12:00:00.000Z")

	_, err := s.SaveRecord(ctx, "run-1", sampleRecord("sunset", t0, post("AAA", "sunset", "sky")))
	require.NoError(t, err)
	id, err := s.SaveRecord(ctx, "run-2", sampleRecord("sunset", t0.Add(time.Hour), post("AAA", "sunset"), hidden))
	require.NoError(t, err)
	assert.Positive(t, id)

	failed := types.NewTopicRecord("sunset", "u", t0.Add(2*time.Hour))
	failed.SetError("blocked: account restricted")
	_, err = s.SaveRecord(ctx, "run-3", failed)
	require.NoError(t, err)

	rec, err := s.LatestRecord(ctx, "sunset")
	require.NoError(t, err)
	assert.Nil(t, rec.Error, "failed records are skipped")
	assert.True(t, t0.Add(time.Hour).Equal(rec.CapturedAt))
	assert.Equal(t, 1200, rec.Count)
	assert.Equal(t, []string{"travel", "beach"}, rec.Related)
	require.Len(t, rec.Posts, 2)
	assert.Equal(t, "AAA", rec.Posts[0].PostID)
	assert.Equal(t, 10, *rec.Posts[0].Likes)
	assert.Equal(t, []string{"sunset"}, rec.Posts[0].Tags)

	b := rec.Posts[1]
	assert.Equal(t, types.KindVideo, b.Kind)
	assert.Nil(t, b.Likes)
	require.NotNil(t, b.PublishedAt)
	assert.Equal(t, "2024-05-30T12:00:00.000Z", *b.PublishedAt)
}

func TestLatestRecordNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.LatestRecord(context.Background(), "nothing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	t0 := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

	_, err := s.SaveRecord(ctx, "r", sampleRecord("sunset", t0, post("A"), post("B")))
	require.NoError(t, err)
	_, err = s.SaveRecord(ctx, "r", sampleRecord("ocean", t0.Add(time.Minute)))
	require.NoError(t, err)
	failed := types.NewTopicRecord("sunset", "u", t0.Add(2*time.Minute))
	failed.SetError("rate_limited")
	_, err = s.SaveRecord(ctx, "r", failed)
	require.NoError(t, err)

	all, err := s.History(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "rate_limited", all[0].Error)
	assert.Equal(t, "ocean", all[1].Topic)
	assert.Equal(t, 2, all[2].PostCount)

	sunset, err := s.History(ctx, "sunset", 1)
	require.NoError(t, err)
	require.Len(t, sunset, 1)
	assert.Equal(t, []string{}, sunset[0].Related)
}

func TestTagStats(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	t0 := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

	_, err := s.SaveRecord(ctx, "r", sampleRecord("sunset", t0, post("A", "sunset", "Sky"), post("B", "sky")))
	require.NoError(t, err)
	// Post A again in a later capture is not double counted.
	_, err = s.SaveRecord(ctx, "r", sampleRecord("sunset", t0.Add(time.Hour), post("A", "sunset", "Sky")))
	require.NoError(t, err)
	_, err = s.SaveRecord(ctx, "r", sampleRecord("ocean", t0, post("C", "sky", "waves")))
	require.NoError(t, err)

	stats, err := s.TagStats(ctx, "", 0)
	require.NoError(t, err)
	assert.Equal(t, []TagStat{
		{Tag: "sky", Posts: 3, Topics: 2},
		{Tag: "sunset", Posts: 1, Topics: 1},
		{Tag: "waves", Posts: 1, Topics: 1},
	}, stats)

	limited, err := s.TagStats(ctx, "sunset", 1)
	require.NoError(t, err)
	assert.Equal(t, []TagStat{{Tag: "sky", Posts: 2, Topics: 1}}, limited)
}

func TestRuns(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	start := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.StartRun(ctx, "run-1", start, 3))
	run, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Nil(t, run.FinishedAt)
	assert.Equal(t, 3, run.Topics)

	end := start.Add(time.Minute)
	require.NoError(t, s.FinishRun(ctx, Run{ID: "run-1", FinishedAt: &end, Succeeded: 2, Failed: 1}))
	run, err = s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.NotNil(t, run.FinishedAt)
	assert.True(t, end.Equal(*run.FinishedAt))
	assert.Equal(t, 2, run.Succeeded)
	assert.Equal(t, 1, run.Failed)

	assert.ErrorIs(t, s.FinishRun(ctx, Run{ID: "missing"}), ErrNotFound)
	_, err = s.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExportRoundTrip(t *testing.T) {
	dir := t.TempDir()
	t0 := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

	_, err := ExportRecord(dir, sampleRecord("sunset", t0))
	require.NoError(t, err)
	newer := sampleRecord("sunset", time.Date(2024, 7, 2, 8, 0, 0, 0, time.UTC), post("A", "sunset"))
	path, err := ExportRecord(dir, newer)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "202407", "sunset_20240702T080000.json"), path)
	_, err = ExportRecord(dir, sampleRecord("sunset_glow", t0.Add(48*time.Hour)))
	require.NoError(t, err)

	rec, got, err := LoadLatestExport(dir, "sunset")
	require.NoError(t, err)
	assert.Equal(t, path, got)
	assert.Equal(t, "sunset", rec.Topic)
	require.Len(t, rec.Posts, 1)
	assert.Equal(t, []string{"sunset"}, rec.Posts[0].Tags)

	_, err = LatestExport(dir, "ocean")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = LatestExport(filepath.Join(dir, "missing"), "sunset")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExportPathSanitizesTopic(t *testing.T) {
	at := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, filepath.Join("out", "202401", "a_b_20240105T000000.json"), ExportPath("out", "a/b", at))
	assert.Equal(t, filepath.Join("out", "202401", "夕日_20240105T000000.json"), ExportPath("out", "夕日", at))
}
