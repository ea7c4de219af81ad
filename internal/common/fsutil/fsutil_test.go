package fsutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)

	cases := map[string]string{
		"":                   "",
		"/srv/images":        "/srv/images",
		"relative/models":    "relative/models",
		"~":                  home,
		"~/models":           filepath.Join(home, "models"),
		"~/models/lora/x.pt": filepath.Join(home, "models", "lora", "x.pt"),
	}
	for in, want := range cases {
		got, err := ExpandHome(in)
		if err != nil {
			t.Fatalf("ExpandHome(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ExpandHome(%q)=%q want %q", in, got, want)
		}
	}
}

func TestPathExists(t *testing.T) {
	dir := t.TempDir()
	if !PathExists(dir) {
		t.Fatalf("temp dir should exist")
	}
	if PathExists(filepath.Join(dir, "missing.safetensors")) {
		t.Fatalf("missing file reported present")
	}
}

func TestRemoveIfExists(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a.png")
	if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := RemoveIfExists(p); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if PathExists(p) {
		t.Fatalf("file still present")
	}
	if err := RemoveIfExists(p); err != nil {
		t.Fatalf("second remove should be a no-op: %v", err)
	}
	if err := RemoveIfExists(""); err != nil {
		t.Fatalf("empty path: %v", err)
	}
}

func TestWriteFileAtomicCreatesParents(t *testing.T) {
	p := filepath.Join(t.TempDir(), "nested", "deeper", "out.bin")
	if err := WriteFileAtomic(p, []byte("payload"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	b, err := os.ReadFile(p)
	if err != nil || string(b) != "payload" {
		t.Fatalf("read back %q err=%v", b, err)
	}
	entries, _ := os.ReadDir(filepath.Dir(p))
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %d entries", len(entries))
	}
}

func TestWriteFileAtomicReplaces(t *testing.T) {
	p := filepath.Join(t.TempDir(), "img.png")
	if err := WriteFileAtomic(p, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := WriteFileAtomic(p, []byte("new"), 0o600); err != nil {
		t.Fatal(err)
	}
	b, _ := os.ReadFile(p)
	if string(b) != "new" {
		t.Fatalf("content=%q", b)
	}
	st, err := os.Stat(p)
	if err != nil {
		t.Fatal(err)
	}
	if st.Mode().Perm() != 0o600 {
		t.Fatalf("mode=%v", st.Mode().Perm())
	}
}
