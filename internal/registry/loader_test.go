package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"imaged/internal/store"
	"imaged/pkg/types"
)

func touch(t *testing.T, dir string, rel ...string) {
	t.Helper()
	p := filepath.Join(append([]string{dir}, rel...)...)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, []byte(""), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
}

func TestLoadDirClassifiesBySubdirectory(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "checkpoint", "dreamshaper_8.safetensors")
	touch(t, dir, "checkpoint", "notes.txt")
	touch(t, dir, "Lora", "detail.SAFETENSORS")
	touch(t, dir, "vae", "sd-vae.pt")
	touch(t, dir, "controlnet", "canny.pth")
	touch(t, dir, "embeddings", "easynegative.bin")
	touch(t, dir, "upscalers", "x4.pth")
	touch(t, dir, "loose.ckpt")

	models, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(models) != 5 {
		t.Fatalf("expected 5 models, got %d: %+v", len(models), models)
	}
	byName := map[string]types.AIModel{}
	for _, m := range models {
		byName[m.Name] = m
		if !filepath.IsAbs(m.Path) {
			t.Fatalf("path not absolute: %s", m.Path)
		}
	}
	want := map[string]types.AIModelType{
		"dreamshaper_8": types.AIModelCheckpoint,
		"detail":        types.AIModelLora,
		"sd-vae":        types.AIModelVAE,
		"canny":         types.AIModelControlNet,
		"easynegative":  types.AIModelEmbedding,
	}
	for name, mt := range want {
		if byName[name].ModelType != mt {
			t.Fatalf("%s: type=%q want %q", name, byName[name].ModelType, mt)
		}
	}
}

func TestLoadDirExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home dir on this platform: %v", err)
	}
	hTmp, err := os.MkdirTemp(home, "imaged-registry-*")
	if err != nil {
		t.Skipf("cannot create temp under home: %v", err)
	}
	defer os.RemoveAll(hTmp)
	touch(t, hTmp, "vae", "x.safetensors")
	models, err := LoadDir("~/" + filepath.Base(hTmp))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(models) != 1 || models[0].Name != "x" {
		t.Fatalf("unexpected models: %+v", models)
	}
}

func TestSeedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(ctx, "sqlite", filepath.Join(t.TempDir(), "imaged.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()
	dir := t.TempDir()
	touch(t, dir, "checkpoint", "a.safetensors")
	touch(t, dir, "lora", "b.safetensors")

	n, err := Seed(ctx, st.AIModels, dir, zerolog.Nop())
	if err != nil || n != 2 {
		t.Fatalf("first seed: n=%d err=%v", n, err)
	}
	touch(t, dir, "lora", "c.safetensors")
	n, err = Seed(ctx, st.AIModels, dir, zerolog.Nop())
	if err != nil || n != 1 {
		t.Fatalf("second seed: n=%d err=%v", n, err)
	}
	all, _ := st.AIModels.List(ctx)
	if len(all) != 3 {
		t.Fatalf("models=%d", len(all))
	}
}

func TestSeedMissingDirectory(t *testing.T) {
	n, err := Seed(context.Background(), nil, filepath.Join(t.TempDir(), "absent"), zerolog.Nop())
	if err != nil || n != 0 {
		t.Fatalf("n=%d err=%v", n, err)
	}
}
