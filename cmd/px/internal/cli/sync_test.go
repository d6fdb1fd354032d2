package cli

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeTestWheel(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for name, content := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestHTTPUnpackerExtractsFiles(t *testing.T) {
	dir := t.TempDir()
	wheelPath := filepath.Join(dir, "demo-1.0-py3-none-any.whl")
	writeTestWheel(t, wheelPath, map[string]string{
		"demo/__init__.py":        "",
		"demo/mod.py":             "print('hi')\n",
		"demo-1.0.dist-info/METADATA": "Name: demo\n",
	})

	dest := filepath.Join(dir, "unpacked")
	if err := (httpUnpacker{}).Unpack(context.Background(), wheelPath, dest); err != nil {
		t.Fatalf("unpack failed: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dest, "demo", "mod.py"))
	if err != nil {
		t.Fatalf("expected extracted file: %v", err)
	}
	if string(got) != "print('hi')\n" {
		t.Fatalf("unexpected content: %q", got)
	}
}

func TestHTTPUnpackerRejectsPathEscape(t *testing.T) {
	dir := t.TempDir()
	wheelPath := filepath.Join(dir, "evil-1.0-py3-none-any.whl")
	writeTestWheel(t, wheelPath, map[string]string{
		"../../etc/passwd": "pwned",
	})

	dest := filepath.Join(dir, "unpacked")
	err := (httpUnpacker{}).Unpack(context.Background(), wheelPath, dest)
	if err == nil {
		t.Fatal("expected an error for a wheel entry escaping the destination directory")
	}
}
