package wheelcache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// SdistSpec describes a source distribution to build into a wheel.
type SdistSpec struct {
	Name       string
	Version    string
	SdistPath  string // path to the already-fetched sdist archive
	SdistSHA256 string
}

// BuiltWheel is the result of a successful sdist build.
type BuiltWheel struct {
	WheelPath string
	SHA256    string
}

type sdistMeta struct {
	WheelFilename string `json:"wheel_filename"`
	SHA256        string `json:"sha256"`
}

// BuildID is H(name, version, sdist-sha) (§4.2), used to cache build output
// under sdist-build/<id>/.
func BuildID(s SdistSpec) string {
	h := sha256.New()
	h.Write([]byte(s.Name))
	h.Write([]byte{0})
	h.Write([]byte(s.Version))
	h.Write([]byte{0})
	h.Write([]byte(s.SdistSHA256))
	return hex.EncodeToString(h.Sum(nil))
}

// BuildSdist extracts the sdist into a scratch directory and invokes the
// external build backend, promoting the resulting wheel into the cache's
// normal wheels layout. `python -m build` is tried first; `python -m pip
// wheel --no-deps` is the fallback when the build frontend is unavailable.
func (c *Cache) BuildSdist(ctx context.Context, s SdistSpec, interpreterPath string, extract Extractor) (BuiltWheel, error) {
	id := BuildID(s)
	buildDir := filepath.Join(c.Root, "sdist-build", id)
	metaPath := filepath.Join(buildDir, "meta.json")

	if b, err := os.ReadFile(metaPath); err == nil {
		var m sdistMeta
		if json.Unmarshal(b, &m) == nil {
			wheelPath := c.wheelPath(Spec{Name: s.Name, Version: s.Version, Filename: m.WheelFilename})
			if _, err := os.Stat(wheelPath); err == nil {
				return BuiltWheel{WheelPath: wheelPath, SHA256: m.SHA256}, nil
			}
		}
	}

	scratch := filepath.Join(buildDir, "scratch")
	if err := os.RemoveAll(scratch); err != nil {
		return BuiltWheel{}, err
	}
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return BuiltWheel{}, err
	}
	if err := extract.Extract(ctx, s.SdistPath, scratch); err != nil {
		return BuiltWheel{}, fmt.Errorf("extracting sdist %s: %w", s.SdistPath, err)
	}

	outDir := filepath.Join(buildDir, "dist")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return BuiltWheel{}, err
	}

	if err := runBuildFrontend(ctx, interpreterPath, scratch, outDir); err != nil {
		return BuiltWheel{}, fmt.Errorf("sdist build failed for %s-%s: %w", s.Name, s.Version, err)
	}

	wheelFilename, err := findSingleWheel(outDir)
	if err != nil {
		return BuiltWheel{}, err
	}
	wheelPath := c.wheelPath(Spec{Name: s.Name, Version: s.Version, Filename: wheelFilename})
	if err := os.MkdirAll(filepath.Dir(wheelPath), 0o755); err != nil {
		return BuiltWheel{}, err
	}
	if err := os.Rename(filepath.Join(outDir, wheelFilename), wheelPath); err != nil {
		return BuiltWheel{}, err
	}

	sha, err := hashFile(wheelPath)
	if err != nil {
		return BuiltWheel{}, err
	}
	metaBytes, err := json.Marshal(sdistMeta{WheelFilename: wheelFilename, SHA256: sha})
	if err != nil {
		return BuiltWheel{}, err
	}
	if err := os.WriteFile(metaPath, metaBytes, 0o644); err != nil {
		return BuiltWheel{}, err
	}

	return BuiltWheel{WheelPath: wheelPath, SHA256: sha}, nil
}

// Extractor unpacks an sdist archive (.tar.gz or .zip) into a directory.
type Extractor interface {
	Extract(ctx context.Context, archivePath, destDir string) error
}

func runBuildFrontend(ctx context.Context, interpreterPath, srcDir, outDir string) error {
	env := buildEnv()

	cmd := exec.CommandContext(ctx, interpreterPath, "-m", "build", "--wheel", "--outdir", outDir, srcDir)
	cmd.Env = env
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err == nil {
		return nil
	}

	fallback := exec.CommandContext(ctx, interpreterPath, "-m", "pip", "wheel", "--no-deps", "--wheel-dir", outDir, srcDir)
	fallback.Env = env
	var fbErr bytes.Buffer
	fallback.Stderr = &fbErr
	if err := fallback.Run(); err != nil {
		return fmt.Errorf("both `python -m build` (%s) and `pip wheel --no-deps` (%s) failed", stderr.String(), fbErr.String())
	}
	return nil
}

// buildEnv disables proxies and user-site packages for the build subprocess
// so that sdist builds are hermetic (§4.2).
func buildEnv() []string {
	env := os.Environ()
	out := env[:0]
	for _, kv := range env {
		switch {
		case hasPrefixFold(kv, "HTTP_PROXY="), hasPrefixFold(kv, "HTTPS_PROXY="), hasPrefixFold(kv, "ALL_PROXY="):
			continue
		}
		out = append(out, kv)
	}
	return append(out, "PYTHONNOUSERSITE=1")
}

func hasPrefixFold(s, prefix string) bool {
	if len(s) < len(prefix) {
		return false
	}
	for i := range prefix {
		a, b := s[i], prefix[i]
		if 'a' <= a && a <= 'z' {
			a -= 'a' - 'A'
		}
		if 'a' <= b && b <= 'z' {
			b -= 'a' - 'A'
		}
		if a != b {
			return false
		}
	}
	return true
}

func findSingleWheel(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".whl" {
			return e.Name(), nil
		}
	}
	return "", fmt.Errorf("build produced no .whl in %s", dir)
}
