package batch

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ibeckermayer/tagscope/internal/scraper"
)

// ErrNoTopics is returned when a topic list holds no usable names.
var ErrNoTopics = errors.New("no topics")

// headerNames are first-row values that mark a header rather than a topic.
var headerNames = map[string]bool{
	"topic":    true,
	"topics":   true,
	"tag":      true,
	"tags":     true,
	"hashtag":  true,
	"hashtags": true,
	"name":     true,
}

// LoadTopics reads a topic list. Each row's first column is a topic name,
// with or without a leading '#'. A header row is skipped when present,
// blank rows are ignored and repeated names are kept once, in first-seen
// order.
func LoadTopics(r io.Reader) ([]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	// '#' starts hashtags, not comments.
	cr.Comment = 0

	var topics []string
	seen := map[string]bool{}
	for row := 0; ; row++ {
		fields, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read topic list: %w", err)
		}
		if len(fields) == 0 {
			continue
		}
		cell := strings.TrimSpace(strings.TrimPrefix(fields[0], "\ufeff"))
		if row == 0 && headerNames[strings.ToLower(cell)] {
			continue
		}
		topic := scraper.NormalizeTopic(cell)
		if topic == "" {
			continue
		}
		key := strings.ToLower(topic)
		if seen[key] {
			continue
		}
		seen[key] = true
		topics = append(topics, topic)
	}

	if len(topics) == 0 {
		return nil, ErrNoTopics
	}
	return topics, nil
}

// LoadTopicsFile reads a topic list from path.
func LoadTopicsFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	topics, err := LoadTopics(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return topics, nil
}
