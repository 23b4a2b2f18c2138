// Package pluginhost discovers, loads, and invokes native plugins: shared
// libraries (.so/.dylib/.dll) exporting a stable C vtable (spec.md §4.1).
// Plugins may be written in any language that can produce a C ABI; the host
// never assumes a Go toolchain built them, so it binds through cgo and
// dlopen/dlsym (POSIX) or LoadLibraryW/GetProcAddress (Windows) rather than
// the standard library's plugin.Open, which only loads Go-built .so files.
package pluginhost
