// Go bindings for the system SQLite library.
//
// The shared library is resolved at runtime with the dynamic loader rather
// than linked with cgo. Resolution order:
//
//  1. The SQLSLOT_LIB environment variable, if set, must point directly at
//     the shared library file.
//  2. The platform soname (libsqlite3.so.0 / libsqlite3.dylib), which lets
//     the loader search its usual paths (ldconfig cache, DYLD paths).
//  3. A versionless fallback for systems that only ship the dev symlink.
//
// Loading happens once, lazily, on the first Open or driver connection.
// Failure is reported as an error from those entry points instead of an
// init-time panic so that programs (and tests) on machines without SQLite
// can still link against this package.
package sqlslot

import (
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/ebitengine/purego"
)

var (
	libOnce sync.Once
	libErr  error
)

func libraryCandidates() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{"libsqlite3.dylib", "libsqlite3.0.dylib"}
	default:
		return []string{"libsqlite3.so.0", "libsqlite3.so"}
	}
}

// loadLibrary resolves and registers the SQLite symbols exactly once.
func loadLibrary() error {
	libOnce.Do(func() {
		if path := os.Getenv("SQLSLOT_LIB"); path != "" {
			handle, err := purego.Dlopen(path, purego.RTLD_LAZY|purego.RTLD_GLOBAL)
			if err != nil {
				libErr = fmt.Errorf("sqlslot: load %s: %w", path, err)
				return
			}
			register_sqlite3(handle)
			return
		}

		var firstErr error
		for _, name := range libraryCandidates() {
			handle, err := purego.Dlopen(name, purego.RTLD_LAZY|purego.RTLD_GLOBAL)
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			register_sqlite3(handle)
			return
		}
		libErr = fmt.Errorf("sqlslot: unable to load the SQLite shared library (set SQLSLOT_LIB to its path): %w", firstErr)
	})
	return libErr
}

// libraryLoaded reports whether symbol registration has succeeded. Used by
// tests to skip when no SQLite library is present.
func libraryLoaded() bool {
	return loadLibrary() == nil
}
