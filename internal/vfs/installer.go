package vfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
)

// ErrUnsupportedPlatform indicates no prebuilt extension exists for this
// OS/architecture combination. This is a configuration-level failure and
// is never retried automatically.
var ErrUnsupportedPlatform = errors.New("vfs: no litestream VFS extension build for this platform")

// Installer fetches the VFS extension shared object for the current
// platform and places it in a local directory. The loader only requires
// that, after Install returns, the path exists and is loadable.
type Installer struct {
	// BaseURL is the release URL prefix assets are downloaded from.
	BaseURL string

	// Dir is the directory the extension is installed into.
	Dir string

	// Client is the HTTP client used for downloads. Defaults to
	// http.DefaultClient.
	Client *http.Client
}

// supported maps GOOS to the shared-object suffix for platforms with
// prebuilt extension assets.
var supported = map[string]string{
	"linux":   ".so",
	"darwin":  ".dylib",
	"windows": ".dll",
}

// AssetName returns the platform-specific asset file name, e.g.
// "litestream-vfs-linux-amd64.so". Returns ErrUnsupportedPlatform when no
// build exists for this OS.
func AssetName() (string, error) {
	suffix, ok := supported[runtime.GOOS]
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", ErrUnsupportedPlatform, runtime.GOOS, runtime.GOARCH)
	}
	return fmt.Sprintf("litestream-vfs-%s-%s%s", runtime.GOOS, runtime.GOARCH, suffix), nil
}

// ExtensionPath returns where the current platform's extension lives
// inside dir.
func ExtensionPath(dir string) (string, error) {
	name, err := AssetName()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// Install downloads the platform asset and moves it into place
// atomically. Returns the installed path. Safe to call when the file
// already exists; the existing file is replaced.
func (i *Installer) Install(ctx context.Context) (string, error) {
	name, err := AssetName()
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(i.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create extension dir: %w", err)
	}

	url := i.BaseURL + "/" + name
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build download request: %w", err)
	}

	client := i.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download %s: unexpected status %s", url, resp.Status)
	}

	// Download to a temp file in the target dir, then rename, so a
	// concurrent loader never observes a partially written extension.
	tmp, err := os.CreateTemp(i.Dir, name+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", tmpPath, err)
	}
	if err := os.Chmod(tmpPath, 0o755); err != nil {
		return "", fmt.Errorf("chmod %s: %w", tmpPath, err)
	}

	dest := filepath.Join(i.Dir, name)
	if err := os.Rename(tmpPath, dest); err != nil {
		return "", fmt.Errorf("install %s: %w", dest, err)
	}
	return dest, nil
}
