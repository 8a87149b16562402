package types

import "time"

// MediaKind describes what a post's primary media is.
type MediaKind string

const (
	KindImage    MediaKind = "image"
	KindVideo    MediaKind = "video"
	KindCarousel MediaKind = "carousel"
	KindReel     MediaKind = "reel"
)

// Valid reports whether k is one of the known media kinds.
func (k MediaKind) Valid() bool {
	switch k {
	case KindImage, KindVideo, KindCarousel, KindReel:
		return true
	}
	return false
}

// PostRecord represents a representative post scraped from a topic page
type PostRecord struct {
	URL         string    `json:"url"`
	PostID      string    `json:"postId"`
	MediaURL    *string   `json:"mediaUrl"`
	Kind        MediaKind `json:"kind"`
	Caption     *string   `json:"caption"`
	Tags        []string  `json:"tags"`
	Likes       *int      `json:"likes"`
	PublishedAt *string   `json:"publishedAt"`
}

// TopicRecord is the result of a single topic fetch. Error and the data
// fields are mutually exclusive: a record with a non-nil Error carries a
// zero Count and empty Related/Posts.
type TopicRecord struct {
	Topic      string       `json:"topic"`
	URL        string       `json:"url"`
	Count      int          `json:"count"`
	Related    []string     `json:"related"`
	Posts      []PostRecord `json:"posts"`
	Error      *string      `json:"error"`
	CapturedAt time.Time    `json:"capturedAt"`
}

// NewTopicRecord returns an empty, successful record for topic.
func NewTopicRecord(topic, url string, capturedAt time.Time) *TopicRecord {
	return &TopicRecord{
		Topic:      topic,
		URL:        url,
		Related:    []string{},
		Posts:      []PostRecord{},
		CapturedAt: capturedAt,
	}
}

// Failed reports whether the record carries an error.
func (r *TopicRecord) Failed() bool {
	return r.Error != nil
}

// ErrorMessage returns the error text, or "" for a successful record.
func (r *TopicRecord) ErrorMessage() string {
	if r.Error == nil {
		return ""
	}
	return *r.Error
}

// SetError records msg as the failure and zeroes every data field.
func (r *TopicRecord) SetError(msg string) {
	r.Count = 0
	r.Related = []string{}
	r.Posts = []PostRecord{}
	r.Error = &msg
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
