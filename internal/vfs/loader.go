// Package vfs manages the litestream VFS extension: one-time process-wide
// loading, on-demand installation, and the status pragmas it exposes on
// replica connections.
package vfs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/mattn/go-sqlite3"
)

// LoadError reports a failed attempt to load the VFS extension into the
// process. The loader records no state on failure, so a later call
// retries from scratch.
type LoadError struct {
	// Path is the extension location the load was attempted from.
	Path string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *LoadError) Error() string {
	return fmt.Sprintf("load litestream VFS extension from %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying cause.
func (e *LoadError) Unwrap() error { return e.Err }

// IsLoadError returns true if err is (or wraps) a LoadError.
func IsLoadError(err error) bool {
	var le *LoadError
	return errors.As(err, &le)
}

// Loader ensures the VFS extension is registered in this process exactly
// once. It is safe for concurrent use from any number of goroutines.
//
// Loading the extension into any connection registers the VFS globally in
// the process's SQLite library, so a single throwaway connection is
// enough; every later connection can open with vfs=litestream.
//
// A Loader lives for the process lifetime and has no teardown: once
// loaded, the extension stays registered.
type Loader struct {
	mu     sync.Mutex
	loaded atomic.Bool

	path      string
	installer *Installer

	// loadFunc performs the actual extension load. Overridable in tests.
	loadFunc func(path string) error
}

// NewLoader creates a loader for the extension at path. If installer is
// non-nil it is used to fetch the extension when the path doesn't exist.
func NewLoader(path string, installer *Installer) *Loader {
	return &Loader{
		path:      path,
		installer: installer,
		loadFunc:  loadExtension,
	}
}

// EnsureLoaded loads the VFS extension if it hasn't been loaded yet.
// Idempotent and safe to call concurrently; at most one underlying load
// happens per process. Every component opening a replica connection must
// call this first.
//
// On failure the loaded flag stays unset, so the next call retries. A
// caller wrapping startup should treat a failure here as non-fatal and
// defer it to first actual use.
func (l *Loader) EnsureLoaded(ctx context.Context) error {
	// Fast path: already loaded, no lock.
	if l.loaded.Load() {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Re-check under the lock: another goroutine may have won the race
	// between our fast-path check and lock acquisition.
	if l.loaded.Load() {
		return nil
	}

	if _, err := os.Stat(l.path); err != nil {
		if l.installer == nil {
			return &LoadError{Path: l.path, Err: fmt.Errorf("extension not installed: %w", err)}
		}
		if _, err := l.installer.Install(ctx); err != nil {
			return &LoadError{Path: l.path, Err: err}
		}
	}

	if err := l.loadFunc(l.path); err != nil {
		return &LoadError{Path: l.path, Err: err}
	}

	l.loaded.Store(true)
	return nil
}

// Loaded reports whether the extension has been registered.
func (l *Loader) Loaded() bool {
	return l.loaded.Load()
}

// loadExtension loads the shared object into a throwaway in-memory
// connection. The connection exists only to trigger the extension's
// global VFS registration and is closed immediately.
func loadExtension(path string) error {
	drv := &sqlite3.SQLiteDriver{Extensions: []string{path}}
	conn, err := drv.Open(":memory:")
	if err != nil {
		return err
	}
	return conn.Close()
}
