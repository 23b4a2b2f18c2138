package pluginhost

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	loomerrors "github.com/alexisbeaulieu97/loomwork/pkg/errors"
)

// loadedPlugin couples a plugin's advisory metadata with the library it was
// resolved from.
type loadedPlugin struct {
	info PluginInfo
	lib  *library
}

// Host owns every library loaded from a single directory for the lifetime
// of a run (spec.md §3 "The Plugin Host owns the loaded libraries").
type Host struct {
	mu      sync.RWMutex
	byName  map[string]int
	plugins []*loadedPlugin
}

// platformExtension returns the shared-library suffix for the running OS
// (spec.md §4.1 "platform's shared-library convention").
func platformExtension() string {
	switch runtime.GOOS {
	case "windows":
		return ".dll"
	case "darwin":
		return ".dylib"
	default:
		return ".so"
	}
}

// LoadFromDirectory scans dir non-recursively for shared libraries, loads
// each, and resolves its vtable. Files that fail to load or declare an
// unsupported ABI version are skipped with a warning rather than aborting
// the scan (spec.md §4.1 "Failure semantics"). Duplicate plugin names are
// first-wins; later duplicates are rejected with a warning.
func LoadFromDirectory(dir string) (*Host, []Warning, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("read plugins directory: %w", err)
	}

	h := &Host{byName: make(map[string]int)}
	var warnings []Warning

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !strings.EqualFold(filepath.Ext(e.Name()), platformExtension()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(dir, name)
		info, lib, err := h.loadOne(path)
		if err != nil {
			warnings = append(warnings, Warning{Path: path, Message: err.Error()})
			continue
		}

		if _, exists := h.byName[info.Name]; exists {
			warnings = append(warnings, Warning{Path: path, Message: fmt.Sprintf("duplicate plugin name %q, first-loaded wins", info.Name)})
			_ = lib.close()
			continue
		}

		h.byName[info.Name] = len(h.plugins)
		h.plugins = append(h.plugins, &loadedPlugin{info: info, lib: lib})
	}

	return h, warnings, nil
}

func (h *Host) loadOne(path string) (PluginInfo, *library, error) {
	lib, err := openLibrary(path)
	if err != nil {
		return PluginInfo{}, nil, err
	}

	name, ok := lib.vt.name()
	if !ok || name == "" {
		_ = lib.close()
		return PluginInfo{}, nil, fmt.Errorf("plugin did not declare a name")
	}

	info := PluginInfo{Name: name, Path: path}
	if version, description, ok := lib.vt.metadata(); ok {
		info.Version = version
		info.Description = description
	}
	if caps, ok := lib.vt.capabilities(); ok {
		info.Capabilities = caps
	}

	return info, lib, nil
}

// Get performs a case-sensitive by-name lookup (spec.md §4.1).
func (h *Host) Get(name string) (Handle, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if _, ok := h.byName[name]; !ok {
		return Handle{}, false
	}
	return Handle{name: name}, true
}

// Has reports plugin availability; it satisfies config.PluginResolver so
// validation (spec.md §4.2 rule 6) can consult the host without an import
// cycle.
func (h *Host) Has(name string) bool {
	_, ok := h.Get(name)
	return ok
}

// List returns every loaded plugin's advisory info (spec.md §4.1).
func (h *Host) List() []PluginInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]PluginInfo, 0, len(h.plugins))
	for _, p := range h.plugins {
		out = append(out, p.info)
	}
	return out
}

// Run invokes the plugin's run entry point with input, blocking the calling
// goroutine until the plugin returns (spec.md §4.1/§5 "Plugin calls are
// blocking"). ctx is accepted for call-site symmetry with the rest of the
// core; an in-flight call cannot be interrupted, matching the stated
// non-goal of plugin sandboxing.
func (h *Host) Run(ctx context.Context, handle Handle, input string) (string, error) {
	h.mu.RLock()
	idx, ok := h.byName[handle.name]
	if !ok {
		h.mu.RUnlock()
		return "", loomerrors.NewPluginError(handle.name, fmt.Errorf("unknown plugin handle"))
	}
	p := h.plugins[idx]
	h.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}

	if !p.lib.vt.validateInput(input) {
		return "", loomerrors.NewPluginError(p.info.Name, fmt.Errorf("input rejected by plugin"))
	}

	out, err := p.lib.vt.run(input)
	if err != nil {
		return "", loomerrors.NewPluginError(p.info.Name, err)
	}
	return out, nil
}

// Close unloads every library in reverse load order (spec.md §4.1
// "unload_all()... releases all libraries in reverse load order").
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var firstErr error
	for i := len(h.plugins) - 1; i >= 0; i-- {
		if err := h.plugins[i].lib.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	h.plugins = nil
	h.byName = make(map[string]int)
	return firstErr
}
