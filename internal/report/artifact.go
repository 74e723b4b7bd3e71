package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/nao1215/linkscout/internal/model"
)

// File and directory modes for the artifact.
const (
	DirPerm  os.FileMode = 0o750
	FilePerm os.FileMode = 0o600
)

// ErrEmptyPath is returned when no artifact path is given.
var ErrEmptyPath = errors.New("artifact path is empty")

// URLDocument is the artifact consumed by the downstream scraper.
type URLDocument struct {
	Site        string    `json:"site"`
	StartURL    string    `json:"start_url"`
	Count       int       `json:"count"`
	URLs        []string  `json:"urls"`
	LastUpdated time.Time `json:"last_updated"`
}

// NewURLDocument builds the artifact for a finished session.
func NewURLDocument(summary *model.CrawlSummary) URLDocument {
	last := summary.FinishedAt
	if last.IsZero() {
		last = time.Now()
	}
	return URLDocument{
		Site:        summary.Site,
		StartURL:    summary.StartURL,
		URLs:        summary.URLs,
		LastUpdated: last.UTC(),
	}
}

// WriteURLs replaces the artifact at path with doc. URLs are deduplicated
// keeping the first occurrence and Count is recomputed. The document is
// written to a temporary file in the same directory, synced and renamed over
// path, so readers see either the old or the new artifact.
func WriteURLs(path string, doc URLDocument) error {
	if path == "" {
		return ErrEmptyPath
	}
	doc.URLs = dedup(doc.URLs)
	doc.Count = len(doc.URLs)
	if doc.LastUpdated.IsZero() {
		doc.LastUpdated = time.Now().UTC()
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}
	data = append(data, '\n')

	return writeAtomic(path, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// LoadURLs reads an artifact written by WriteURLs.
func LoadURLs(path string) (*URLDocument, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	var doc URLDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode artifact %s: %w", path, err)
	}
	doc.URLs = dedup(doc.URLs)
	doc.Count = len(doc.URLs)
	return &doc, nil
}

func writeAtomic(path string, write func(io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DirPerm); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if err = tmp.Chmod(FilePerm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err = write(tmp); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace artifact: %w", err)
	}
	return nil
}

func dedup(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
