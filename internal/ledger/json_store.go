package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/iconidentify/xcrosspost/internal/domain"
)

// document is the on-disk JSON layout: source username -> tweet ID -> entry.
type document struct {
	Mappings map[string]map[domain.TweetID]Entry `json:"mappings"`
}

// JSONStore keeps the ledger in a single JSON file that is rewritten in
// full after every mutation.
type JSONStore struct {
	path string
	doc  document
}

// NewJSONStore creates a store backed by path. The file is created on the
// first write.
func NewJSONStore(path string) *JSONStore {
	return &JSONStore{
		path: path,
		doc:  document{Mappings: make(map[string]map[domain.TweetID]Entry)},
	}
}

// Load reads the ledger file. A missing file is an empty ledger.
func (s *JSONStore) Load(_ context.Context) (map[string]map[domain.TweetID]Entry, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return copyMappings(s.doc.Mappings), nil
		}
		return nil, fmt.Errorf("read ledger file: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse ledger file: %w", err)
	}
	if doc.Mappings == nil {
		doc.Mappings = make(map[string]map[domain.TweetID]Entry)
	}
	s.doc = doc
	return copyMappings(doc.Mappings), nil
}

// Put adds the entry and rewrites the file.
func (s *JSONStore) Put(_ context.Context, source string, id domain.TweetID, e Entry) error {
	m, ok := s.doc.Mappings[source]
	if !ok {
		m = make(map[domain.TweetID]Entry)
		s.doc.Mappings[source] = m
	}
	prev, existed := m[id]
	m[id] = e

	if err := s.save(); err != nil {
		if existed {
			m[id] = prev
		} else {
			delete(m, id)
		}
		return err
	}
	return nil
}

// Close is a no-op; every Put is already on disk.
func (s *JSONStore) Close() error {
	return nil
}

// save writes the whole document atomically via a temp file.
func (s *JSONStore) save() error {
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create ledger directory: %w", err)
	}

	tempPath := s.path + ".tmp"
	if err := writeFileSynced(tempPath, data, 0600); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("write ledger file: %w", err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		return fmt.Errorf("replace ledger file: %w", err)
	}
	return syncDir(filepath.Dir(s.path))
}

// writeFileSynced is os.WriteFile followed by an fsync of the file.
func writeFileSynced(path string, data []byte, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// syncDir flushes a rename in dir to disk.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open ledger directory: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("sync ledger directory: %w", err)
	}
	return nil
}

func copyMappings(in map[string]map[domain.TweetID]Entry) map[string]map[domain.TweetID]Entry {
	out := make(map[string]map[domain.TweetID]Entry, len(in))
	for source, entries := range in {
		m := make(map[domain.TweetID]Entry, len(entries))
		for id, e := range entries {
			m[id] = e
		}
		out[source] = m
	}
	return out
}
