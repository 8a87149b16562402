package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetErrorClearsData(t *testing.T) {
	rec := NewTopicRecord("sunset", "https://www.instagram.com/explore/tags/sunset/", time.Now())
	rec.Count = 42
	rec.Related = []string{"travel"}
	rec.Posts = []PostRecord{{URL: "https://www.instagram.com/p/A/", PostID: "A", Kind: KindImage}}
	assert.False(t, rec.Failed())
	assert.Empty(t, rec.ErrorMessage())

	rec.SetError("blocked: account restricted")
	assert.True(t, rec.Failed())
	assert.Equal(t, "blocked: account restricted", rec.ErrorMessage())
	assert.Zero(t, rec.Count)
	assert.Empty(t, rec.Related)
	assert.Empty(t, rec.Posts)
}

func TestRecordJSONShape(t *testing.T) {
	rec := NewTopicRecord("sunset", "u", time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))
	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Nil(t, raw["error"])
	assert.Equal(t, []any{}, raw["related"], "empty lists, not null")
	assert.Equal(t, []any{}, raw["posts"])
	assert.Equal(t, "2024-06-01T09:00:00Z", raw["capturedAt"])
}

func TestMediaKindValid(t *testing.T) {
	for _, k := range []MediaKind{KindImage, KindVideo, KindCarousel, KindReel} {
		assert.True(t, k.Valid(), k)
	}
	assert.False(t, MediaKind("story").Valid())
	assert.False(t, MediaKind("").Valid())
}

func TestStringPtr(t *testing.T) {
	assert.Nil(t, StringPtr(""))
	require.NotNil(t, StringPtr("x"))
	assert.Equal(t, "x", *StringPtr("x"))
}
