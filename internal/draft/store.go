package draft

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileStore keeps one JSON file per task under:
//
//	<baseDir>/.trazo/drafts/<task-id>.json
//
// All writes are atomic and durable (file sync + atomic rename + dir sync), so
// a crash mid-save leaves either the previous snapshot or the new one, never a
// torn file.
type FileStore struct {
	baseDir string
}

// NewFileStore creates a store rooted at baseDir.
func NewFileStore(baseDir string) (*FileStore, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, errors.New("baseDir is required")
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) draftsDir() string {
	return filepath.Join(s.baseDir, ".trazo", "drafts")
}

func (s *FileStore) entryPath(taskID string) string {
	// Task ids are UUIDs, safe to use as filenames.
	return filepath.Join(s.draftsDir(), taskID+".json")
}

// Save persists the entry, replacing any earlier snapshot for the task.
func (s *FileStore) Save(entry Entry) error {
	if s == nil {
		return errors.New("nil FileStore")
	}
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("invalid draft entry: %w", err)
	}
	if err := ensureDirDurable(s.draftsDir(), 0o755); err != nil {
		return fmt.Errorf("ensure drafts dir: %w", err)
	}
	data, err := jsonMarshalStable(entry)
	if err != nil {
		return fmt.Errorf("marshal draft entry: %w", err)
	}
	if err := writeFileAtomicDurable(s.entryPath(entry.TaskID), data, 0o644); err != nil {
		return fmt.Errorf("write draft entry: %w", err)
	}
	return nil
}

// Load reads the snapshot for a task. An absent entry is not an error.
func (s *FileStore) Load(taskID string) (Entry, bool, error) {
	if s == nil {
		return Entry{}, false, errors.New("nil FileStore")
	}
	if strings.TrimSpace(taskID) == "" {
		return Entry{}, false, errors.New("taskID is required")
	}
	var entry Entry
	if err := readJSONStrict(s.entryPath(taskID), &entry); err != nil {
		if os.IsNotExist(err) {
			return Entry{}, false, nil
		}
		return Entry{}, false, err
	}
	if err := entry.Validate(); err != nil {
		return Entry{}, false, fmt.Errorf("invalid draft entry on disk: %w", err)
	}
	return entry, true, nil
}

// Clear deletes the snapshot for a task. Clearing an absent entry is a no-op.
func (s *FileStore) Clear(taskID string) error {
	if s == nil {
		return errors.New("nil FileStore")
	}
	if strings.TrimSpace(taskID) == "" {
		return errors.New("taskID is required")
	}
	if err := os.Remove(s.entryPath(taskID)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// List returns the task ids with a stored snapshot, sorted lexicographically.
func (s *FileStore) List() ([]string, error) {
	if s == nil {
		return nil, errors.New("nil FileStore")
	}
	entries, err := os.ReadDir(s.draftsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		if strings.TrimSpace(id) == "" {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func jsonMarshalStable(v any) ([]byte, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func readJSONStrict(path string, dst any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	// Ensure no trailing junk.
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON: trailing content")
	}
	return nil
}

func ensureDirDurable(dir string, perm os.FileMode) error {
	if err := os.MkdirAll(dir, perm); err != nil {
		return err
	}
	// Best-effort durability: sync the directory and its parent.
	if err := fsyncDir(dir); err != nil {
		return err
	}
	parent := filepath.Dir(dir)
	if parent != dir {
		if err := fsyncDir(parent); err != nil {
			return err
		}
	}
	return nil
}

func writeFileAtomicDurable(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, base+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return fsyncDir(dir)
}

func fsyncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
