package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"imaged/internal/common/fsutil"
	"imaged/internal/store"
	"imaged/pkg/types"
)

func (s *Service) ListGenerators(ctx context.Context) ([]types.Generator, error) {
	return s.st.Generators.List(ctx)
}

func (s *Service) GetGenerator(ctx context.Context, id int64) (types.Generator, error) {
	g, err := s.st.Generators.Get(ctx, id)
	return g, notFound(err)
}

// CreateGenerator stores a generator in status closed.
func (s *Service) CreateGenerator(ctx context.Context, in types.GeneratorInput) (types.Generator, error) {
	var v validation
	name := strings.TrimSpace(in.Name)
	if name == "" {
		v.add("name", "name can't be empty")
	} else if taken, err := s.st.Generators.ExistsByName(ctx, name); err != nil {
		return types.Generator{}, err
	} else if taken {
		v.add("name", "a generator named %s already exists", name)
	}

	engine, err := s.st.Engines.Get(ctx, in.EngineID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		v.add("engine_id", "engine with id %d doesn't exist", in.EngineID)
	case err != nil:
		return types.Generator{}, err
	}

	if in.GPUID < 0 {
		v.add("gpu_id", "gpu id can't be negative")
	} else if gpus, err := s.ListGPUs(ctx); err != nil {
		s.log.Warn().Err(err).Msg("gpu discovery failed, gpu_id not range checked")
	} else if len(gpus) > 0 && in.GPUID >= len(gpus) {
		v.add("gpu_id", "gpu %d doesn't exist, %d gpus available", in.GPUID, len(gpus))
	}

	if err := v.err(); err != nil {
		return types.Generator{}, err
	}
	g := types.Generator{Name: name, GPUID: in.GPUID, Engine: engine}
	if err := s.st.Generators.Create(ctx, &g); err != nil {
		return types.Generator{}, err
	}
	s.log.Info().Int64("generator_id", g.ID).Str("generator", g.Name).Int("gpu_id", g.GPUID).Msg("generator created")
	return g, nil
}

// StartGenerator asks the supervisor to spawn the generator's worker and
// returns the generator as persisted afterwards (usually starting).
func (s *Service) StartGenerator(ctx context.Context, id int64) (types.Generator, error) {
	g, err := s.st.Generators.Get(ctx, id)
	if err != nil {
		return types.Generator{}, notFound(err)
	}
	if err := s.sup.StartGenerator(ctx, g); err != nil {
		return types.Generator{}, err
	}
	return s.GetGenerator(ctx, id)
}

// StopGenerator asks the generator's worker to close. It does not wait.
func (s *Service) StopGenerator(ctx context.Context, id int64) (types.Generator, error) {
	if _, err := s.st.Generators.Get(ctx, id); err != nil {
		return types.Generator{}, notFound(err)
	}
	if err := s.sup.StopGenerator(ctx, id); err != nil {
		return types.Generator{}, err
	}
	return s.GetGenerator(ctx, id)
}

// DeleteGenerator removes a generator without a live worker together with
// its jobs, images and their files.
func (s *Service) DeleteGenerator(ctx context.Context, id int64) error {
	if _, err := s.st.Generators.Get(ctx, id); err != nil {
		return notFound(err)
	}
	if s.sup.IsAlive(id) {
		return conflictf("generator with id %d can't be deleted while its worker is running", id)
	}
	imgs, err := s.st.Images.ListByGenerator(ctx, id)
	if err != nil {
		return err
	}
	s.removeImageFiles(imgs)
	n, err := s.st.Jobs.DeleteByGenerator(ctx, id)
	if err != nil {
		return fmt.Errorf("delete jobs of generator %d: %w", id, err)
	}
	if err := s.st.Generators.Delete(ctx, id); err != nil {
		return notFound(err)
	}
	s.log.Info().Int64("generator_id", id).Int64("jobs", n).Msg("generator deleted")
	return nil
}

// removeImageFiles deletes rendered and control image files. Failures are
// logged; rows are removed regardless.
func (s *Service) removeImageFiles(imgs []types.Image) {
	for _, img := range imgs {
		for _, c := range img.ControlImages {
			if err := fsutil.RemoveIfExists(c.FilePath); err != nil {
				s.log.Warn().Err(err).Str("path", c.FilePath).Msg("remove control image")
			}
		}
		if err := fsutil.RemoveIfExists(img.FilePath); err != nil {
			s.log.Warn().Err(err).Str("path", img.FilePath).Msg("remove image")
		}
	}
}
