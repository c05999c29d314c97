package combivox

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// cachedLabels is the on-disk shape, stamped so stale caches can be aged
// out by hand.
type cachedLabels struct {
	Panel      string    `json:"panel"`
	Labels     Labels    `json:"labels"`
	LastUpdate time.Time `json:"last_update"`
}

// LabelCache persists downloaded labels on disk, keyed by panel address.
// The label download is slow and hammers the panel, so restarts should
// reuse the previous result.
type LabelCache struct {
	dir   string
	panel string
}

// NewLabelCache builds a cache under dir for the given panel address.
// Empty dir means the user cache directory.
func NewLabelCache(dir, panel string) *LabelCache {
	return &LabelCache{dir: dir, panel: panel}
}

func (c *LabelCache) path() (string, error) {
	dir := c.dir
	if dir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			return "", fmt.Errorf("failed to get user cache directory: %v", err)
		}
		dir = filepath.Join(base, "combivox")
	}
	name := strings.NewReplacer(":", "_", "/", "_").Replace(c.panel)
	return filepath.Join(dir, name+".json"), nil
}

// Save writes the labels for this panel, creating the directory as
// needed.
func (c *LabelCache) Save(labels Labels) error {
	data, err := json.Marshal(cachedLabels{
		Panel:      c.panel,
		Labels:     labels,
		LastUpdate: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal label cache: %v", err)
	}

	path, err := c.path()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write cache file: %v", err)
	}
	return nil
}

// Load returns the cached labels, or ok=false when no cache exists yet.
func (c *LabelCache) Load() (Labels, bool, error) {
	path, err := c.path()
	if err != nil {
		return Labels{}, false, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Labels{}, false, nil
		}
		return Labels{}, false, fmt.Errorf("failed to read cache file: %v", err)
	}

	var cached cachedLabels
	if err := json.Unmarshal(data, &cached); err != nil {
		return Labels{}, false, fmt.Errorf("failed to unmarshal label cache: %v", err)
	}
	return cached.Labels, true, nil
}

// Delete removes the cache file, tolerating its absence.
func (c *LabelCache) Delete() error {
	path, err := c.path()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete cache file: %v", err)
	}
	return nil
}
