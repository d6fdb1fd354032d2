package env

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// writeEditableStub installs an editable-install marker for the project
// itself (§4.7 step 6): a synthetic `<name>-<version>.dist-info` directory
// with the minimal metadata pip and importlib.metadata expect, plus a
// direct_url.json pointing back at the project root and a PX-EDITABLE
// marker distinguishing px-managed stubs from real installs (used by
// HasConflictingInstall).
func writeEditableStub(siteDir string, req Request) error {
	distInfo := filepath.Join(siteDir, fmt.Sprintf("%s-%s.dist-info", normalizeDistName(req.ProjectName), req.ProjectVersion))
	if err := os.MkdirAll(distInfo, 0o755); err != nil {
		return err
	}

	metadata := fmt.Sprintf("Metadata-Version: 2.1\nName: %s\nVersion: %s\n", req.ProjectName, req.ProjectVersion)
	for _, extra := range req.ExtrasForStub {
		metadata += fmt.Sprintf("Provides-Extra: %s\n", extra)
	}
	if err := os.WriteFile(filepath.Join(distInfo, "METADATA"), []byte(metadata), 0o644); err != nil {
		return err
	}

	directURL := fmt.Sprintf(`{"url": "file://%s", "dir_info": {"editable": true}}`, req.ProjectRoot)
	if err := os.WriteFile(filepath.Join(distInfo, "direct_url.json"), []byte(directURL), 0o644); err != nil {
		return err
	}

	if err := os.WriteFile(filepath.Join(distInfo, "INSTALLER"), []byte("px\n"), 0o644); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(distInfo, "PX-EDITABLE"), []byte{}, 0o644); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(distInfo, "top_level.txt"), []byte(normalizeDistName(req.ProjectName)+"\n"), 0o644); err != nil {
		return err
	}

	record := fmt.Sprintf("%s/METADATA,,\n%s/direct_url.json,,\n%s/INSTALLER,,\n%s/PX-EDITABLE,,\n%s/top_level.txt,,\n",
		filepath.Base(distInfo), filepath.Base(distInfo), filepath.Base(distInfo), filepath.Base(distInfo), filepath.Base(distInfo))
	return os.WriteFile(filepath.Join(distInfo, "RECORD"), []byte(record), 0o644)
}

func normalizeDistName(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), "-", "_")
}
