// Package registry discovers model files on disk and records them as AI
// models.
package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"imaged/internal/common/fsutil"
	"imaged/internal/store"
	"imaged/pkg/types"
)

// weightExts are the file extensions accepted as model weights.
var weightExts = map[string]bool{
	".safetensors": true,
	".ckpt":        true,
	".bin":         true,
	".pt":          true,
	".pth":         true,
}

// subdirTypes maps a subdirectory of the models directory to the model type
// of the files it holds.
var subdirTypes = map[string]types.AIModelType{
	"checkpoint":  types.AIModelCheckpoint,
	"checkpoints": types.AIModelCheckpoint,
	"lora":        types.AIModelLora,
	"loras":       types.AIModelLora,
	"vae":         types.AIModelVAE,
	"controlnet":  types.AIModelControlNet,
	"embedding":   types.AIModelEmbedding,
	"embeddings":  types.AIModelEmbedding,
}

// LoadDir scans dir/<type>/ for weight files. Name is the file name without
// extension; Path is the absolute file path. Unknown subdirectories and
// non-weight files are skipped.
func LoadDir(dir string) ([]types.AIModel, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var models []types.AIModel
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		mt, ok := subdirTypes[strings.ToLower(e.Name())]
		if !ok {
			continue
		}
		files, err := os.ReadDir(filepath.Join(abs, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read dir %s: %w", e.Name(), err)
		}
		for _, f := range files {
			if f.IsDir() {
				continue
			}
			ext := strings.ToLower(filepath.Ext(f.Name()))
			if !weightExts[ext] {
				continue
			}
			models = append(models, types.AIModel{
				Name:      strings.TrimSuffix(f.Name(), filepath.Ext(f.Name())),
				Path:      filepath.Join(abs, e.Name(), f.Name()),
				ModelType: mt,
			})
		}
	}
	sort.Slice(models, func(i, j int) bool { return models[i].Path < models[j].Path })
	return models, nil
}

// ModelStore is the part of the AI model repository Seed needs.
type ModelStore interface {
	GetByPath(ctx context.Context, path string) (types.AIModel, error)
	Create(ctx context.Context, m *types.AIModel) error
}

// Seed scans dir and creates a record for every model file not yet known by
// path. It returns the number of records created. A missing directory is not
// an error.
func Seed(ctx context.Context, models ModelStore, dir string, log zerolog.Logger) (int, error) {
	found, err := LoadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		log.Warn().Str("models_dir", dir).Msg("models directory does not exist, nothing seeded")
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	created := 0
	for _, m := range found {
		_, err := models.GetByPath(ctx, m.Path)
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return created, err
		}
		if err := models.Create(ctx, &m); err != nil {
			return created, fmt.Errorf("create model %s: %w", m.Path, err)
		}
		created++
		log.Debug().Str("model", m.Name).Str("type", string(m.ModelType)).Msg("model registered")
	}
	log.Info().Int("found", len(found)).Int("created", created).Str("models_dir", dir).Msg("models seeded")
	return created, nil
}
