package pluginhost

import "context"

// Runner is the subset of Host the executor depends on (spec.md §4.3). An
// injectable interface so engine tests can stand in a fake plugin host
// without a real shared library, reserving cgo-backed loading tests for
// this package alone.
type Runner interface {
	Get(name string) (Handle, bool)
	Run(ctx context.Context, handle Handle, input string) (string, error)
}

// Handle is an opaque, cheap-to-copy reference to a loaded plugin, borrowed
// from the Host for the Host's lifetime (spec.md §3 ownership notes).
type Handle struct {
	name string
}

// NewHandle builds a Handle carrying name. Exported solely so a fake Runner
// in engine tests can hand back distinguishable handles without a real
// Host; production code always obtains a Handle from (*Host).Get.
func NewHandle(name string) Handle {
	return Handle{name: name}
}

// Name returns the plugin name the Handle refers to.
func (h Handle) Name() string {
	return h.name
}

// PluginInfo is the advisory information a plugin may expose through the
// vtable's optional get_metadata/get_capabilities entries (spec.md §4.1).
// The core never gates execution on it.
type PluginInfo struct {
	Name         string
	Path         string
	Version      string
	Description  string
	Capabilities string // raw JSON from get_capabilities, empty if unsupported
}

// Warning records a plugin that failed to load or had an unsupported
// vtable; the Host remains usable and the file is simply excluded
// (spec.md §4.1 "Failure semantics").
type Warning struct {
	Path    string
	Message string
}

const abiVersion1 = 1

// errNullOutput is the exact message spec.md §4.1 mandates for a plugin
// call that returns a null output pointer.
const errNullOutput = "plugin returned null"
