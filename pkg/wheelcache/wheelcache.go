// Package wheelcache implements the Wheel Cache (C2): fetching, verifying,
// and unpacking wheels from a package index into hashed blobs consumable by
// the content-addressed store, plus an sdist build fallback and a bulk
// prefetch operation.
//
// Grounded on pkg/oci.Builder's staged build pipeline (fetch → verify →
// unpack, each stage idempotent and individually retryable) and pkg/tar's
// path-escape-safe archive extraction.
package wheelcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	progress "github.com/schollz/progressbar/v3"
)

// Spec identifies one artifact to fetch.
type Spec struct {
	Name     string
	Version  string
	Filename string
	URL      string
	SHA256   string
}

// CachedArtifact is the contract's return value (§4.2).
type CachedArtifact struct {
	WheelPath string
	DistPath  string
	Size      int64
}

const markerFile = ".px-wheel.json"

type marker struct {
	SHA256 string `json:"sha256"`
}

// Cache is rooted at a directory laid out <cache>/wheels/<name>/<version>/<filename>
// with a sibling <filename>.dist/ unpack directory (§6).
type Cache struct {
	Root       string
	HTTPClient *http.Client
	Unpacker   Unpacker
	// Quiet suppresses the per-fetch progress bar, for non-interactive
	// invocations and tests.
	Quiet bool
}

// Unpacker extracts a wheel zip into a destination directory. Kept as an
// interface so tests can substitute a fake without a real zip payload.
type Unpacker interface {
	Unpack(ctx context.Context, wheelPath, destDir string) error
}

func New(root string, client *http.Client, unpacker Unpacker) *Cache {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Cache{Root: root, HTTPClient: client, Unpacker: unpacker, Quiet: true}
}

func (c *Cache) wheelPath(s Spec) string {
	return filepath.Join(c.Root, "wheels", s.Name, s.Version, s.Filename)
}

func (c *Cache) distDir(s Spec) string {
	return c.wheelPath(s) + ".dist"
}

// Fetch implements the contract of §4.2: ensure the wheel bytes and unpack
// directory exist and are consistent with the declared sha256, fetching or
// rebuilding only what is missing or stale.
func (c *Cache) Fetch(ctx context.Context, s Spec) (CachedArtifact, error) {
	wheelPath := c.wheelPath(s)
	if err := os.MkdirAll(filepath.Dir(wheelPath), 0o755); err != nil {
		return CachedArtifact{}, err
	}

	size, err := c.ensureWheelBytes(ctx, s, wheelPath)
	if err != nil {
		return CachedArtifact{}, err
	}

	distDir := c.distDir(s)
	if err := c.ensureUnpacked(ctx, s, wheelPath, distDir); err != nil {
		return CachedArtifact{}, err
	}

	return CachedArtifact{WheelPath: wheelPath, DistPath: distDir, Size: size}, nil
}

func (c *Cache) ensureWheelBytes(ctx context.Context, s Spec, wheelPath string) (int64, error) {
	if info, err := os.Stat(wheelPath); err == nil {
		if sha, sizeErr := hashFile(wheelPath); sizeErr == nil && sha == s.SHA256 {
			return info.Size(), nil
		}
		// stale or corrupt: delete and refetch.
		os.Remove(wheelPath)
	}
	return c.download(ctx, s, wheelPath)
}

func (c *Cache) download(ctx context.Context, s Spec, dest string) (int64, error) {
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		size, err := c.downloadOnce(ctx, s, dest)
		if err == nil {
			return size, nil
		}
		lastErr = err
	}
	return 0, fmt.Errorf("fetching %s after 3 attempts: %w", s.Filename, lastErr)
}

func (c *Cache) downloadOnce(ctx context.Context, s Spec, dest string) (int64, error) {
	reqCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, s.URL, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, s.URL)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".px-fetch-*")
	if err != nil {
		return 0, err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	bar := progress.NewOptions64(resp.ContentLength,
		progress.OptionSetVisibility(!c.Quiet),
		progress.OptionSetDescription("fetching "+s.Filename),
		progress.OptionShowBytes(true),
		progress.OptionShowElapsedTimeOnFinish(),
	)
	defer bar.Close()

	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, h, bar), resp.Body)
	closeErr := tmp.Close()
	if err != nil {
		return 0, err
	}
	if closeErr != nil {
		return 0, closeErr
	}

	sum := hex.EncodeToString(h.Sum(nil))
	if sum != s.SHA256 {
		return 0, fmt.Errorf("sha256 mismatch for %s: got %s, want %s", s.Filename, sum, s.SHA256)
	}

	if err := renameOrCopy(tmpPath, dest); err != nil {
		return 0, err
	}
	return size, nil
}

func (c *Cache) ensureUnpacked(ctx context.Context, s Spec, wheelPath, distDir string) error {
	markerPath := filepath.Join(distDir, markerFile)
	if b, err := os.ReadFile(markerPath); err == nil {
		var m marker
		if json.Unmarshal(b, &m) == nil && m.SHA256 == s.SHA256 {
			return nil
		}
	}

	tmp := distDir + ".tmp"
	if err := os.RemoveAll(tmp); err != nil {
		return err
	}
	if err := os.MkdirAll(tmp, 0o755); err != nil {
		return err
	}
	if err := c.Unpacker.Unpack(ctx, wheelPath, tmp); err != nil {
		os.RemoveAll(tmp)
		return err
	}
	b, err := json.Marshal(marker{SHA256: s.SHA256})
	if err != nil {
		os.RemoveAll(tmp)
		return err
	}
	if err := os.WriteFile(filepath.Join(tmp, markerFile), b, 0o644); err != nil {
		os.RemoveAll(tmp)
		return err
	}

	os.RemoveAll(distDir)
	return os.Rename(tmp, distDir)
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func renameOrCopy(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	// cross-device rename: fall back to copy + remove (§4.2).
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
