// Package service is the facade between the HTTP layer and the rest of the
// system. It validates input against the repositories, creates and deletes
// rows, and hands lifecycle requests to the supervisor.
package service

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"imaged/internal/gpu"
	"imaged/internal/store"
	"imaged/pkg/types"
)

// Supervisor is the part of the process supervisor the facade drives.
type Supervisor interface {
	StartGenerator(ctx context.Context, gen types.Generator) error
	StopGenerator(ctx context.Context, id int64) error
	SendNewJobSignal(jobID int64)
	IsAlive(id int64) bool
	IsJobClaimed(jobID int64) bool
}

// GPULister discovers the GPUs generators may be bound to.
type GPULister interface {
	List(ctx context.Context) ([]types.GPU, error)
}

// Config wires a Service.
type Config struct {
	Store      *store.Store
	Supervisor Supervisor
	// Optional. Without it gpu_id is only checked for being non-negative.
	GPUs GPULister
	// Directory receiving rendered images and decoded control images.
	ImagesDir string
	// Reported by Info only.
	DBDriver  string
	DBPath    string
	ModelsDir string
	Logger    *zerolog.Logger
}

type Service struct {
	st        *store.Store
	sup       Supervisor
	gpus      GPULister
	imagesDir string
	info      types.InfoResponse
	log       zerolog.Logger
}

func New(cfg Config) *Service {
	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = *cfg.Logger
	}
	return &Service{
		st:        cfg.Store,
		sup:       cfg.Supervisor,
		gpus:      cfg.GPUs,
		imagesDir: cfg.ImagesDir,
		info:      types.InfoResponse{DBDriver: cfg.DBDriver, DBPath: cfg.DBPath, ImagesPath: cfg.ImagesDir, ModelsPath: cfg.ModelsDir},
		log:       log.With().Str("component", "service").Logger(),
	}
}

// Info reports where the daemon keeps its database, images and models.
func (s *Service) Info(context.Context) types.InfoResponse { return s.info }

// ListGPUs returns the discoverable GPUs; none when discovery is unavailable.
func (s *Service) ListGPUs(ctx context.Context) ([]types.GPU, error) {
	if s.gpus == nil {
		return []types.GPU{}, nil
	}
	gpus, err := s.gpus.List(ctx)
	if errors.Is(err, gpu.ErrUnavailable) {
		return []types.GPU{}, nil
	}
	if err != nil {
		return nil, err
	}
	if gpus == nil {
		gpus = []types.GPU{}
	}
	return gpus, nil
}

func (s *Service) ListAIModels(ctx context.Context) ([]types.AIModel, error) {
	return s.st.AIModels.List(ctx)
}

func (s *Service) GetAIModel(ctx context.Context, id int64) (types.AIModel, error) {
	m, err := s.st.AIModels.Get(ctx, id)
	return m, notFound(err)
}

// CreateAIModel registers a model file. Paths are unique.
func (s *Service) CreateAIModel(ctx context.Context, in types.AIModelInput) (types.AIModel, error) {
	var v validation
	if strings.TrimSpace(in.Name) == "" {
		v.add("name", "name can't be empty")
	}
	if strings.TrimSpace(in.Path) == "" {
		v.add("path", "path can't be empty")
	} else if _, err := s.st.AIModels.GetByPath(ctx, in.Path); err == nil {
		v.add("path", "a model with path %s already exists", in.Path)
	} else if !errors.Is(err, store.ErrNotFound) {
		return types.AIModel{}, err
	}
	if !in.ModelType.Valid() {
		v.add("model_type", "unknown model type %q", in.ModelType)
	}
	if err := v.err(); err != nil {
		return types.AIModel{}, err
	}
	m := types.AIModel{Name: in.Name, Path: in.Path, ModelType: in.ModelType, TriggerWords: in.TriggerWords}
	if err := s.st.AIModels.Create(ctx, &m); err != nil {
		return types.AIModel{}, err
	}
	s.log.Info().Int64("aimodel_id", m.ID).Str("path", m.Path).Msg("aimodel created")
	return m, nil
}

// DeleteAIModel removes a model no engine references.
func (s *Service) DeleteAIModel(ctx context.Context, id int64) error {
	if _, err := s.st.AIModels.Get(ctx, id); err != nil {
		return notFound(err)
	}
	used, err := s.st.AIModels.InUse(ctx, id)
	if err != nil {
		return err
	}
	if used {
		return conflictf("aimodel with id %d can't be deleted while it is used by an engine", id)
	}
	return notFound(s.st.AIModels.Delete(ctx, id))
}

// modelOfType resolves a model reference for validation. ok is false when the
// model is missing or has another type.
func (s *Service) modelOfType(ctx context.Context, id int64, want types.AIModelType) (types.AIModel, bool, error) {
	m, err := s.st.AIModels.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return types.AIModel{}, false, nil
	}
	if err != nil {
		return types.AIModel{}, false, err
	}
	return m, m.ModelType == want, nil
}
