package service

import (
	"context"
	"strings"

	"imaged/pkg/types"
)

func (s *Service) ListEngines(ctx context.Context) ([]types.Engine, error) {
	return s.st.Engines.List(ctx)
}

func (s *Service) GetEngine(ctx context.Context, id int64) (types.Engine, error) {
	e, err := s.st.Engines.Get(ctx, id)
	return e, notFound(err)
}

// CreateEngine validates every model reference against its expected type
// and stores the engine. Engines are immutable afterwards.
func (s *Service) CreateEngine(ctx context.Context, in types.EngineInput) (types.Engine, error) {
	var v validation
	e := types.Engine{
		Name:                        strings.TrimSpace(in.Name),
		Scheduler:                   in.Scheduler,
		SchedulerConfig:             in.SchedulerConfig,
		GuidanceScale:               in.GuidanceScale,
		Seed:                        in.Seed,
		Width:                       in.Width,
		Height:                      in.Height,
		Steps:                       in.Steps,
		ClipSkip:                    in.ClipSkip,
		LongPromptTechnique:         in.LongPromptTechnique,
		ControlNetConditioningScale: in.ControlNetConditioningScale,
		ControlGuidanceStart:        in.ControlGuidanceStart,
		ControlGuidanceEnd:          in.ControlGuidanceEnd,
		Loras:                       []types.Lora{},
		ControlNetModels:            []types.AIModel{},
		EmbeddingModels:             []types.AIModel{},
	}

	if e.Name == "" {
		v.add("name", "name can't be empty")
	} else if taken, err := s.st.Engines.ExistsByName(ctx, e.Name); err != nil {
		return types.Engine{}, err
	} else if taken {
		v.add("name", "an engine named %s already exists", e.Name)
	}
	if strings.TrimSpace(in.Scheduler) == "" {
		v.add("scheduler", "scheduler can't be empty")
	}
	if in.Width <= 0 {
		v.add("width", "width must be positive")
	}
	if in.Height <= 0 {
		v.add("height", "height must be positive")
	}
	if in.Steps <= 0 {
		v.add("steps", "steps must be positive")
	}
	if in.GuidanceScale < 0 {
		v.add("guidance_scale", "guidance scale can't be negative")
	}
	if in.ClipSkip != nil && *in.ClipSkip < 0 {
		v.add("clip_skip", "clip skip can't be negative")
	}

	m, ok, err := s.modelOfType(ctx, in.CheckpointModelID, types.AIModelCheckpoint)
	if err != nil {
		return types.Engine{}, err
	}
	if ok {
		e.CheckpointModel = m
	} else {
		v.add("checkpoint_model_id", "checkpoint model with id %d doesn't exist", in.CheckpointModelID)
	}

	if in.VAEModelID != nil {
		m, ok, err := s.modelOfType(ctx, *in.VAEModelID, types.AIModelVAE)
		if err != nil {
			return types.Engine{}, err
		}
		if ok {
			e.VAEModel = &m
		} else {
			v.add("vae_model_id", "VAE model with id %d doesn't exist", *in.VAEModelID)
		}
	}

	for _, l := range in.LoraModels {
		m, ok, err := s.modelOfType(ctx, l.LoraModelID, types.AIModelLora)
		if err != nil {
			return types.Engine{}, err
		}
		if !ok {
			v.add("lora_model_ids", "LoRA model with id %d doesn't exist", l.LoraModelID)
			continue
		}
		e.Loras = append(e.Loras, types.Lora{Model: m, Weight: l.Weight})
	}

	for _, id := range in.ControlNetModelIDs {
		m, ok, err := s.modelOfType(ctx, id, types.AIModelControlNet)
		if err != nil {
			return types.Engine{}, err
		}
		if !ok {
			v.add("control_net_model_ids", "control net model with id %d doesn't exist", id)
			continue
		}
		e.ControlNetModels = append(e.ControlNetModels, m)
	}
	if len(in.ControlNetModelIDs) > 0 {
		if in.ControlNetConditioningScale == nil {
			v.add("controlnet_conditioning_scale", "control net scale can't be empty when control_net_model_ids is not")
		}
		if in.ControlGuidanceStart == nil {
			v.add("control_guidance_start", "control guidance start can't be empty when control_net_model_ids is not")
		}
		if in.ControlGuidanceEnd == nil {
			v.add("control_guidance_end", "control guidance end can't be empty when control_net_model_ids is not")
		}
	}

	for _, id := range in.EmbeddingModelIDs {
		m, ok, err := s.modelOfType(ctx, id, types.AIModelEmbedding)
		if err != nil {
			return types.Engine{}, err
		}
		if !ok {
			v.add("embedding_model_ids", "embedding model with id %d doesn't exist", id)
			continue
		}
		e.EmbeddingModels = append(e.EmbeddingModels, m)
	}

	if err := v.err(); err != nil {
		return types.Engine{}, err
	}
	if err := s.st.Engines.Create(ctx, &e); err != nil {
		return types.Engine{}, err
	}
	s.log.Info().Int64("engine_id", e.ID).Str("engine", e.Name).Msg("engine created")
	return e, nil
}

// DeleteEngine removes an engine no generator references.
func (s *Service) DeleteEngine(ctx context.Context, id int64) error {
	if _, err := s.st.Engines.Get(ctx, id); err != nil {
		return notFound(err)
	}
	used, err := s.st.Engines.InUse(ctx, id)
	if err != nil {
		return err
	}
	if used {
		return conflictf("engine with id %d can't be deleted because it is used by a generator", id)
	}
	return notFound(s.st.Engines.Delete(ctx, id))
}
