// internal/state/source.go
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/user/deepscout/internal/types"
)

// SourceStore stages context documents per session until the next research
// job uploads them. Files live at sessions/<sessionID>/sources/<name> with
// a sources.json manifest alongside.
type SourceStore struct {
	root string
	mu   sync.RWMutex
}

// NewSourceStore creates a new file-backed SourceStore rooted at the given directory.
func NewSourceStore(root string) *SourceStore {
	return &SourceStore{root: root}
}

func (s *SourceStore) sourcesDir(sessionID types.SessionID) string {
	return filepath.Join(s.root, "sessions", string(sessionID), "sources")
}

func (s *SourceStore) manifestPath(sessionID types.SessionID) string {
	return filepath.Join(s.sourcesDir(sessionID), "sources.json")
}

func (s *SourceStore) loadManifest(sessionID types.SessionID) ([]*types.SourceFile, error) {
	data, err := os.ReadFile(s.manifestPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read sources manifest: %w", err)
	}

	var files []*types.SourceFile
	if err := json.Unmarshal(data, &files); err != nil {
		return nil, fmt.Errorf("unmarshal sources manifest: %w", err)
	}
	return files, nil
}

func (s *SourceStore) saveManifest(sessionID types.SessionID, files []*types.SourceFile) error {
	data, err := json.MarshalIndent(files, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sources manifest: %w", err)
	}

	// Atomic write: write to temp file then rename
	tmp := s.manifestPath(sessionID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp manifest: %w", err)
	}
	if err := os.Rename(tmp, s.manifestPath(sessionID)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp manifest: %w", err)
	}
	return nil
}

// Add stages a document for the session, replacing any staged file with the
// same name. The name is flattened to its base so callers cannot escape the
// sources directory.
func (s *SourceStore) Add(_ context.Context, sessionID types.SessionID, name string, contents []byte) (*types.SourceFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name = filepath.Base(name)
	if name == "." || name == string(filepath.Separator) || name == "" {
		return nil, fmt.Errorf("invalid source name: %q", name)
	}

	dir := s.sourcesDir(sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sources dir: %w", err)
	}

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, contents, 0o644); err != nil {
		return nil, fmt.Errorf("write source file: %w", err)
	}

	file := &types.SourceFile{
		Name:    name,
		Path:    path,
		Size:    int64(len(contents)),
		AddedAt: time.Now(),
	}

	files, err := s.loadManifest(sessionID)
	if err != nil {
		return nil, err
	}

	replaced := false
	for i, existing := range files {
		if existing.Name == name {
			files[i] = file
			replaced = true
			break
		}
	}
	if !replaced {
		files = append(files, file)
	}

	if err := s.saveManifest(sessionID, files); err != nil {
		return nil, err
	}
	return file, nil
}

// List returns the staged documents for the session, oldest first.
func (s *SourceStore) List(_ context.Context, sessionID types.SessionID) ([]*types.SourceFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	files, err := s.loadManifest(sessionID)
	if err != nil {
		return nil, err
	}
	if files == nil {
		return []*types.SourceFile{}, nil
	}
	return files, nil
}

// Read returns the contents of one staged document.
func (s *SourceStore) Read(_ context.Context, sessionID types.SessionID, name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	files, err := s.loadManifest(sessionID)
	if err != nil {
		return nil, err
	}
	for _, file := range files {
		if file.Name == name {
			data, err := os.ReadFile(file.Path)
			if err != nil {
				return nil, fmt.Errorf("read source file: %w", err)
			}
			return data, nil
		}
	}
	return nil, fmt.Errorf("source not found: %s", name)
}

// Remove deletes one staged document. Returns an error if not found.
func (s *SourceStore) Remove(_ context.Context, sessionID types.SessionID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, err := s.loadManifest(sessionID)
	if err != nil {
		return err
	}
	for i, file := range files {
		if file.Name == name {
			if err := os.Remove(file.Path); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("remove source file: %w", err)
			}
			files = append(files[:i], files[i+1:]...)
			return s.saveManifest(sessionID, files)
		}
	}
	return fmt.Errorf("source not found: %s", name)
}

// Clear drops every staged document for the session. Clearing a session with
// nothing staged is a no-op.
func (s *SourceStore) Clear(_ context.Context, sessionID types.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, err := s.loadManifest(sessionID)
	if err != nil {
		return err
	}
	for _, file := range files {
		if err := os.Remove(file.Path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove source file: %w", err)
		}
	}
	return s.saveManifest(sessionID, nil)
}
