package reload

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/timzifer/connreg/config"
)

type fileState struct {
	modTime time.Time
	size    int64
}

// Watcher polls the files a configuration was loaded from and reports
// modifications. When the root is a directory, files added to or removed
// from it are reported as a change of the directory itself.
type Watcher struct {
	mu      sync.Mutex
	files   map[string]fileState
	dir     string
	listing string
}

// NewWatcher builds a watcher tracking the sources of cfg and root.
func NewWatcher(root string, cfg *config.Config) (*Watcher, error) {
	watcher := &Watcher{}
	if err := watcher.Update(root, cfg); err != nil {
		return nil, err
	}
	return watcher, nil
}

// Update replaces the tracked snapshot with the sources of cfg.
func (w *Watcher) Update(root string, cfg *config.Config) error {
	if w == nil {
		return nil
	}
	paths := config.SourceFiles(cfg)
	var dir string
	if root != "" {
		if abs, err := filepath.Abs(root); err == nil {
			if info, err := os.Stat(abs); err == nil {
				if info.IsDir() {
					dir = abs
				} else {
					paths = append(paths, abs)
				}
			}
		}
	}

	states := make(map[string]fileState, len(paths))
	for _, path := range uniquePaths(paths) {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		states[path] = fileState{modTime: info.ModTime(), size: info.Size()}
	}

	w.mu.Lock()
	w.files = states
	w.dir = dir
	w.listing = listConfigFiles(dir)
	w.mu.Unlock()
	return nil
}

// Check reports the tracked paths that changed since the last Update.
func (w *Watcher) Check() ([]string, error) {
	if w == nil {
		return nil, nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	changed := make([]string, 0)
	for path, state := range w.files {
		info, err := os.Stat(path)
		if err != nil {
			changed = append(changed, path)
			continue
		}
		if info.ModTime().After(state.modTime) || info.Size() != state.size {
			changed = append(changed, path)
		}
	}
	if w.dir != "" && listConfigFiles(w.dir) != w.listing {
		changed = append(changed, w.dir)
	}
	sort.Strings(changed)
	return changed, nil
}

func listConfigFiles(dir string) string {
	if dir == "" {
		return ""
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !config.IsConfigFile(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return strings.Join(names, "\n")
}

func uniquePaths(paths []string) []string {
	seen := make(map[string]struct{}, len(paths))
	result := make([]string, 0, len(paths))
	for _, path := range paths {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		if _, ok := seen[path]; ok {
			continue
		}
		seen[path] = struct{}{}
		result = append(result, path)
	}
	return result
}
