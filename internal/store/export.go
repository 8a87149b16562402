package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ibeckermayer/tagscope/internal/types"
)

const exportTimeFormat = "20060102T150405"

// exportName turns a topic into a safe file name component.
func exportName(topic string) string {
	name := strings.NewReplacer("/", "_", "\\", "_", ":", "_", " ", "_").Replace(topic)
	if name == "" {
		return "untitled"
	}
	return name
}

// ExportPath returns where a record captured at t is exported under dir:
// <dir>/<YYYYMM>/<topic>_<timestamp>.json
func ExportPath(dir, topic string, t time.Time) string {
	t = t.UTC()
	return filepath.Join(dir, t.Format("200601"), exportName(topic)+"_"+t.Format(exportTimeFormat)+".json")
}

// ExportRecord writes rec as indented JSON under dir and returns the path.
func ExportRecord(dir string, rec *types.TopicRecord) (string, error) {
	path := ExportPath(dir, rec.Topic, rec.CapturedAt)
	if err := SaveJSON(path, rec); err != nil {
		return "", err
	}
	return path, nil
}

// SaveJSON saves JSON-serializable data to path, creating parent
// directories as needed.
func SaveJSON[T any](path string, data T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create export dir: %w", err)
	}

	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal export: %w", err)
	}

	if err := os.WriteFile(path, jsonData, 0644); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	return nil
}

// LoadJSON loads JSON data from a specific file path.
func LoadJSON[T any](path string) (T, error) {
	var data T

	jsonData, err := os.ReadFile(path)
	if err != nil {
		return data, fmt.Errorf("failed to read export: %w", err)
	}

	if err := json.Unmarshal(jsonData, &data); err != nil {
		return data, fmt.Errorf("failed to unmarshal export: %w", err)
	}

	return data, nil
}

// LatestExport returns the path of the newest export for topic under dir.
func LatestExport(dir, topic string) (string, error) {
	months, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("no export for %q: %w", topic, ErrNotFound)
		}
		return "", err
	}

	prefix := exportName(topic) + "_"
	var files []string
	for _, m := range months {
		if !m.IsDir() {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(dir, m.Name()))
		if err != nil {
			return "", err
		}
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".json") {
				continue
			}
			// Topics sharing a prefix ("sun" vs "sun_set") differ in what follows.
			stamp := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".json")
			if _, err := time.Parse(exportTimeFormat, stamp); err != nil {
				continue
			}
			files = append(files, filepath.Join(dir, m.Name(), name))
		}
	}

	if len(files) == 0 {
		return "", fmt.Errorf("no export for %q: %w", topic, ErrNotFound)
	}
	// Month dirs and timestamps both sort chronologically by name.
	sort.Strings(files)
	return files[len(files)-1], nil
}

// LoadLatestExport loads the newest exported record for topic.
func LoadLatestExport(dir, topic string) (*types.TopicRecord, string, error) {
	path, err := LatestExport(dir, topic)
	if err != nil {
		return nil, "", err
	}
	rec, err := LoadJSON[*types.TopicRecord](path)
	if err != nil {
		return nil, "", err
	}
	return rec, path, nil
}
