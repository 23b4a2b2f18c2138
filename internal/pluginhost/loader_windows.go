//go:build windows

package pluginhost

/*
#include <windows.h>
#include <stdint.h>
#include <stdlib.h>
#include <string.h>

typedef struct loomwork_buffer {
    char*  ptr;
    size_t len;
} loomwork_buffer;

typedef struct loomwork_metadata {
    const char* version;
    const char* description;
} loomwork_metadata;

typedef struct loomwork_plugin_vtable {
    uint32_t abi_version;
    const char*     (*name)(void);
    loomwork_buffer (*run)(const char* input, size_t input_len);
    void            (*free_output)(loomwork_buffer output);
    size_t          (*run_with_buffer)(const char* input, size_t input_len, char* buf, size_t buf_len);
    loomwork_metadata (*get_metadata)(void);
    int             (*validate_input)(const char* input, size_t input_len);
    const char*     (*get_capabilities)(void);
} loomwork_plugin_vtable;

static const char* loomwork_call_name(loomwork_plugin_vtable* vt) {
    if (!vt || !vt->name) return NULL;
    return vt->name();
}

static loomwork_buffer loomwork_call_run(loomwork_plugin_vtable* vt, const char* input, size_t input_len) {
    loomwork_buffer out;
    out.ptr = NULL;
    out.len = 0;
    if (!vt || !vt->run) return out;
    return vt->run(input, input_len);
}

static void loomwork_call_free_output(loomwork_plugin_vtable* vt, loomwork_buffer output) {
    if (vt && vt->free_output) {
        vt->free_output(output);
    }
}

static int loomwork_has_validate_input(loomwork_plugin_vtable* vt) {
    return vt && vt->validate_input;
}

static int loomwork_call_validate_input(loomwork_plugin_vtable* vt, const char* input, size_t input_len) {
    if (!vt || !vt->validate_input) return 1;
    return vt->validate_input(input, input_len);
}

static int loomwork_has_metadata(loomwork_plugin_vtable* vt) {
    return vt && vt->get_metadata;
}

static loomwork_metadata loomwork_call_metadata(loomwork_plugin_vtable* vt) {
    loomwork_metadata md;
    md.version = NULL;
    md.description = NULL;
    if (vt && vt->get_metadata) {
        return vt->get_metadata();
    }
    return md;
}

static const char* loomwork_call_capabilities(loomwork_plugin_vtable* vt) {
    if (!vt || !vt->get_capabilities) return NULL;
    return vt->get_capabilities();
}

static HMODULE loomwork_load_library(const wchar_t* path) {
    return LoadLibraryW(path);
}

static FARPROC loomwork_get_proc(HMODULE mod, const char* name) {
    return GetProcAddress(mod, name);
}
*/
import "C"

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

type library struct {
	handle unsafe.Pointer
	vt     *vtable
}

type vtable struct {
	ptr *C.loomwork_plugin_vtable
}

// openLibrary mirrors loader_unix.go's dlopen path using LoadLibraryW and
// GetProcAddress (spec.md §4.1 "Hide platform differences").
func openLibrary(path string) (*library, error) {
	wpath, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return nil, fmt.Errorf("encode path: %w", err)
	}

	handle := C.loomwork_load_library((*C.wchar_t)(unsafe.Pointer(wpath)))
	if handle == nil {
		return nil, fmt.Errorf("LoadLibraryW failed for %s", path)
	}

	symName := C.CString("plugin_vtable")
	defer C.free(unsafe.Pointer(symName))

	sym := C.loomwork_get_proc(handle, symName)
	if sym == nil {
		C.FreeLibrary(handle)
		return nil, fmt.Errorf("symbol plugin_vtable not found in %s", path)
	}

	vt := (*C.loomwork_plugin_vtable)(unsafe.Pointer(sym))
	if uint32(vt.abi_version) != abiVersion1 {
		ver := uint32(vt.abi_version)
		C.FreeLibrary(handle)
		return nil, fmt.Errorf("unsupported abi_version %d", ver)
	}

	return &library{handle: unsafe.Pointer(handle), vt: &vtable{ptr: vt}}, nil
}

func (l *library) close() error {
	if C.FreeLibrary((C.HMODULE)(l.handle)) == 0 {
		return fmt.Errorf("FreeLibrary failed")
	}
	return nil
}

func (v *vtable) name() (string, bool) {
	cName := C.loomwork_call_name(v.ptr)
	if cName == nil {
		return "", false
	}
	return C.GoString(cName), true
}

func (v *vtable) run(input string) (string, error) {
	cInput := C.CString(input)
	defer C.free(unsafe.Pointer(cInput))

	out := C.loomwork_call_run(v.ptr, cInput, C.size_t(len(input)))
	if out.ptr == nil {
		return "", fmt.Errorf(errNullOutput)
	}
	defer C.loomwork_call_free_output(v.ptr, out)

	return C.GoStringN(out.ptr, C.int(out.len)), nil
}

func (v *vtable) validateInput(input string) bool {
	if C.loomwork_has_validate_input(v.ptr) == 0 {
		return true
	}
	cInput := C.CString(input)
	defer C.free(unsafe.Pointer(cInput))
	return C.loomwork_call_validate_input(v.ptr, cInput, C.size_t(len(input))) != 0
}

func (v *vtable) metadata() (version, description string, ok bool) {
	if C.loomwork_has_metadata(v.ptr) == 0 {
		return "", "", false
	}
	md := C.loomwork_call_metadata(v.ptr)
	if md.version != nil {
		version = C.GoString(md.version)
	}
	if md.description != nil {
		description = C.GoString(md.description)
	}
	return version, description, true
}

func (v *vtable) capabilities() (string, bool) {
	cCaps := C.loomwork_call_capabilities(v.ptr)
	if cCaps == nil {
		return "", false
	}
	return C.GoString(cCaps), true
}
