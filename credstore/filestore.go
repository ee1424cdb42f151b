package credstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	canonicalFileName = "credentials.json"
	legacyFileName    = "auth.json"
)

// FileStore persists credentials as JSON files under a directory.
// The canonical pair lives in credentials.json; auth.json is the file the
// older session path wrote and is still honored on read.
type FileStore struct {
	dir string
}

// NewFileStore creates a file-backed store rooted at dir, creating the
// directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("credstore: dir is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("credstore: creating %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

// Read returns the stored credentials. The canonical file wins; the legacy
// file is consulted only when the canonical file is absent or unreadable.
// Malformed JSON in either file is treated as absent.
func (s *FileStore) Read() (Credentials, bool, error) {
	for _, name := range []string{canonicalFileName, legacyFileName} {
		raw, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return Credentials{}, false, fmt.Errorf("credstore: reading %s: %w", name, err)
		}
		if creds, ok := decodeEnvelope(raw); ok {
			return creds, true, nil
		}
	}
	return Credentials{}, false, nil
}

// Write stores the credentials in the canonical file. The write is atomic:
// a temp file is written and renamed into place so a crash can never leave a
// partial pair behind.
func (s *FileStore) Write(creds Credentials) error {
	raw, err := json.Marshal(canonicalEnvelope{
		Token: creds.Token,
		User:  mustMarshalUser(creds),
	})
	if err != nil {
		return fmt.Errorf("credstore: encoding credentials: %w", err)
	}

	target := filepath.Join(s.dir, canonicalFileName)
	tmp, err := os.CreateTemp(s.dir, canonicalFileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("credstore: creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("credstore: writing credentials: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("credstore: closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("credstore: replacing %s: %w", canonicalFileName, err)
	}
	return nil
}

// Clear removes both the canonical and the legacy file.
func (s *FileStore) Clear() error {
	var firstErr error
	for _, name := range []string{canonicalFileName, legacyFileName} {
		err := os.Remove(filepath.Join(s.dir, name))
		if err != nil && !errors.Is(err, os.ErrNotExist) && firstErr == nil {
			firstErr = fmt.Errorf("credstore: removing %s: %w", name, err)
		}
	}
	return firstErr
}

func mustMarshalUser(creds Credentials) json.RawMessage {
	raw, err := json.Marshal(creds.User)
	if err != nil {
		// core.User contains only plain fields; this cannot fail.
		return json.RawMessage("{}")
	}
	return raw
}

// Compile-time interface check.
var _ Store = (*FileStore)(nil)
