package vfs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
)

// fakeExtension creates a file standing in for the extension shared
// object so the loader's existence check passes.
func fakeExtension(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "litestream-vfs-test.so")
	if err := os.WriteFile(path, []byte("not a real extension"), 0o755); err != nil {
		t.Fatalf("write fake extension: %v", err)
	}
	return path
}

func TestEnsureLoaded_LoadsOnce(t *testing.T) {
	var loads atomic.Int32
	l := NewLoader(fakeExtension(t), nil)
	l.loadFunc = func(path string) error {
		loads.Add(1)
		return nil
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := l.EnsureLoaded(ctx); err != nil {
			t.Fatalf("EnsureLoaded() call %d failed: %v", i, err)
		}
	}

	if got := loads.Load(); got != 1 {
		t.Errorf("expected exactly 1 load, got %d", got)
	}
	if !l.Loaded() {
		t.Error("Loaded() = false after successful EnsureLoaded")
	}
}

func TestEnsureLoaded_ConcurrentCallsLoadOnce(t *testing.T) {
	var loads atomic.Int32
	l := NewLoader(fakeExtension(t), nil)
	l.loadFunc = func(path string) error {
		loads.Add(1)
		return nil
	}

	const goroutines = 50
	var wg sync.WaitGroup
	errs := make([]error, goroutines)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = l.EnsureLoaded(context.Background())
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("goroutine %d: EnsureLoaded() failed: %v", i, err)
		}
	}
	if got := loads.Load(); got != 1 {
		t.Errorf("expected exactly 1 load under concurrency, got %d", got)
	}
}

func TestEnsureLoaded_FailureLeavesStateUnsetAndRetries(t *testing.T) {
	var loads atomic.Int32
	l := NewLoader(fakeExtension(t), nil)
	l.loadFunc = func(path string) error {
		if loads.Add(1) == 1 {
			return errors.New("incompatible platform")
		}
		return nil
	}

	ctx := context.Background()

	err := l.EnsureLoaded(ctx)
	if err == nil {
		t.Fatal("expected first EnsureLoaded() to fail")
	}
	if !IsLoadError(err) {
		t.Errorf("expected LoadError, got %T: %v", err, err)
	}
	if l.Loaded() {
		t.Error("Loaded() = true after failed load; no partial state may be recorded")
	}

	// A later call retries from scratch and succeeds.
	if err := l.EnsureLoaded(ctx); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if !l.Loaded() {
		t.Error("Loaded() = false after successful retry")
	}
	if got := loads.Load(); got != 2 {
		t.Errorf("expected 2 load attempts, got %d", got)
	}
}

func TestEnsureLoaded_MissingExtensionWithoutInstaller(t *testing.T) {
	l := NewLoader(filepath.Join(t.TempDir(), "missing.so"), nil)
	l.loadFunc = func(path string) error {
		t.Fatal("loadFunc must not run when the extension is missing")
		return nil
	}

	err := l.EnsureLoaded(context.Background())
	if err == nil {
		t.Fatal("expected error for missing extension")
	}
	if !IsLoadError(err) {
		t.Errorf("expected LoadError, got %T: %v", err, err)
	}
}

func TestEnsureLoaded_InstallsMissingExtension(t *testing.T) {
	dir := t.TempDir()
	name, err := AssetName()
	if err != nil {
		t.Skipf("no extension build for this platform: %v", err)
	}
	path := filepath.Join(dir, name)

	installer := newFileInstaller(t, dir)
	var loads atomic.Int32
	l := NewLoader(path, installer)
	l.loadFunc = func(p string) error {
		if _, err := os.Stat(p); err != nil {
			return err
		}
		loads.Add(1)
		return nil
	}

	if err := l.EnsureLoaded(context.Background()); err != nil {
		t.Fatalf("EnsureLoaded() with installer failed: %v", err)
	}
	if got := loads.Load(); got != 1 {
		t.Errorf("expected 1 load, got %d", got)
	}
}
