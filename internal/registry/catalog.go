// Package registry is the Model Registry: it owns the catalog of known
// models (local and remote), evaluates download policy, and drives
// HTTP/S3 downloads with resumable range requests.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/hearthai/hearth/internal/core"
)

// ErrNotFound is returned by Get/Delete/SetActive for an unknown model ID.
var ErrNotFound = fmt.Errorf("registry: model not found")

// Catalog is the JSON-backed store of core.ModelInfo records. Writes are
// atomic: a new catalog is written to a temp file in the same directory
// and renamed over the existing one, so a crash mid-write never leaves a
// truncated catalog on disk.
type Catalog struct {
	path string

	mu     sync.RWMutex
	models map[string]core.ModelInfo
}

type catalogFile struct {
	Models []core.ModelInfo `json:"models"`
}

// Open loads the catalog from path, creating an empty one if it does not
// yet exist.
func Open(path string) (*Catalog, error) {
	c := &Catalog{path: path, models: map[string]core.ModelInfo{}}

	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, fmt.Errorf("registry: reading catalog: %w", err)
	}
	if len(b) == 0 {
		return c, nil
	}

	var f catalogFile
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("registry: parsing catalog: %w", err)
	}
	for _, m := range f.Models {
		c.models[m.ID] = m
	}
	return c, nil
}

// List returns every known model, sorted by ID for a deterministic
// response shape.
func (c *Catalog) List() []core.ModelInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]core.ModelInfo, 0, len(c.models))
	for _, m := range c.models {
		out = append(out, m)
	}
	sortModelsByID(out)
	return out
}

// Get returns one model by ID.
func (c *Catalog) Get(id string) (core.ModelInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.models[id]
	if !ok {
		return core.ModelInfo{}, ErrNotFound
	}
	return m, nil
}

// Put inserts or replaces a model record and persists the catalog.
func (c *Catalog) Put(m core.ModelInfo) error {
	c.mu.Lock()
	c.models[m.ID] = m
	snapshot := c.snapshotLocked()
	c.mu.Unlock()
	return c.persist(snapshot)
}

// Delete removes a model record and persists the catalog.
func (c *Catalog) Delete(id string) error {
	c.mu.Lock()
	if _, ok := c.models[id]; !ok {
		c.mu.Unlock()
		return ErrNotFound
	}
	delete(c.models, id)
	snapshot := c.snapshotLocked()
	c.mu.Unlock()
	return c.persist(snapshot)
}

// ModelPath returns the on-disk path for id, satisfying the ModelLookup
// interface the LLM Service depends on.
func (c *Catalog) ModelPath(id string) (string, error) {
	m, err := c.Get(id)
	if err != nil {
		return "", err
	}
	return m.Path, nil
}

// SetActive flips the Active flag on a model record and persists the
// catalog. Activating a model does not stop any other active model of
// the same pool; that policy belongs to the LLM Service and Process
// Runner, not the catalog.
func (c *Catalog) SetActive(id string, active bool) error {
	c.mu.Lock()
	m, ok := c.models[id]
	if !ok {
		c.mu.Unlock()
		return ErrNotFound
	}
	m.Active = active
	c.models[id] = m
	snapshot := c.snapshotLocked()
	c.mu.Unlock()
	return c.persist(snapshot)
}

func (c *Catalog) snapshotLocked() catalogFile {
	models := make([]core.ModelInfo, 0, len(c.models))
	for _, m := range c.models {
		models = append(models, m)
	}
	sortModelsByID(models)
	return catalogFile{Models: models}
}

func (c *Catalog) persist(f catalogFile) error {
	b, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("registry: encoding catalog: %w", err)
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("registry: preparing catalog dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".catalog-*.tmp")
	if err != nil {
		return fmt.Errorf("registry: creating temp catalog: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("registry: writing temp catalog: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("registry: closing temp catalog: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("registry: renaming catalog: %w", err)
	}
	return nil
}

func sortModelsByID(models []core.ModelInfo) {
	for i := 1; i < len(models); i++ {
		for j := i; j > 0 && models[j-1].ID > models[j].ID; j-- {
			models[j-1], models[j] = models[j], models[j-1]
		}
	}
}
