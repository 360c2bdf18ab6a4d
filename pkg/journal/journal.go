// Package journal provides a small JSON record store on disk. It backs the
// durable pieces of the approval lifecycle: pending approval requests and
// scheduled timers survive process restarts as plain files.
package journal

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("journal: record not found")

// Store manages JSON records grouped by kind, sharded on disk by id hash.
type Store struct {
	BasePath string
}

// NewStore creates a journal rooted at basePath.
func NewStore(basePath string) (*Store, error) {
	if basePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		basePath = filepath.Join(home, ".triagegate", "journal")
	}

	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, err
	}

	return &Store{BasePath: basePath}, nil
}

// Put writes record under kind/id, overwriting any previous version.
func (s *Store) Put(kind, id string, record any) error {
	if err := validateName(kind, id); err != nil {
		return err
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s/%s: %w", kind, id, err)
	}

	dir := filepath.Join(s.BasePath, kind, shard(id))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	// Write-then-rename so a crash mid-write never leaves a torn record.
	path := filepath.Join(dir, id+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Get reads the record under kind/id into out.
func (s *Store) Get(kind, id string, out any) error {
	if err := validateName(kind, id); err != nil {
		return err
	}

	path := filepath.Join(s.BasePath, kind, shard(id), id+".json")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal %s/%s: %w", kind, id, err)
	}
	return nil
}

// Delete removes the record under kind/id. Deleting an absent record is not
// an error.
func (s *Store) Delete(kind, id string) error {
	if err := validateName(kind, id); err != nil {
		return err
	}

	path := filepath.Join(s.BasePath, kind, shard(id), id+".json")
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// List returns the ids of all records of the given kind.
func (s *Store) List(kind string) ([]string, error) {
	if err := validateName(kind, "x"); err != nil {
		return nil, err
	}

	root := filepath.Join(s.BasePath, kind)
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(root, entry.Name()))
		if err != nil {
			return nil, err
		}
		for _, file := range files {
			name := file.Name()
			if strings.HasSuffix(name, ".json") {
				ids = append(ids, strings.TrimSuffix(name, ".json"))
			}
		}
	}
	return ids, nil
}

// shard spreads records over 256 directories by id hash.
func shard(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:1])
}

func validateName(kind, id string) error {
	if kind == "" || id == "" {
		return fmt.Errorf("journal: kind and id are required")
	}
	if strings.ContainsAny(kind, "/\\") || strings.ContainsAny(id, "/\\") {
		return fmt.Errorf("journal: kind and id must not contain path separators")
	}
	return nil
}
