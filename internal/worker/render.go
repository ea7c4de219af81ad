package worker

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"imaged/pkg/types"
)

// Renderer turns one resolved image request into a file on disk. Load is
// called once per worker process before the first Render.
type Renderer interface {
	Load(ctx context.Context, engine types.Engine, gpuID int) error
	Render(ctx context.Context, req Request) error
	Close() error
}

// Params are the generation parameters of one image after engine defaults
// have been applied.
type Params struct {
	Prompt               string              `json:"prompt"`
	NegativePrompt       string              `json:"negative_prompt"`
	Seed                 int64               `json:"seed"`
	GuidanceScale        float64             `json:"guidance_scale"`
	Width                int                 `json:"width"`
	Height               int                 `json:"height"`
	Steps                int                 `json:"steps"`
	ControlGuidanceStart *float64            `json:"control_guidance_start,omitempty"`
	ControlGuidanceEnd   *float64            `json:"control_guidance_end,omitempty"`
	FileType             types.FileImageType `json:"file_type"`
	FilePath             string              `json:"file_path"`
}

// Request is what a Renderer receives for each image.
type Request struct {
	GPUID         int                  `json:"gpu_id"`
	Engine        types.Engine         `json:"engine"`
	JobID         int64                `json:"job_id"`
	ImageID       int64                `json:"image_id"`
	Params        Params               `json:"params"`
	ControlImages []types.ControlImage `json:"control_images,omitempty"`
	// Set from the second image of a job carrying an ip-adapter config.
	IPAdapterImage  string         `json:"ip_adapter_image,omitempty"`
	IPAdapterConfig map[string]any `json:"ip_adapter_config,omitempty"`
}

// Resolve fills unset image parameters from the engine.
func Resolve(e types.Engine, img types.Image) Params {
	p := Params{
		Prompt:               img.Prompt,
		NegativePrompt:       img.NegativePrompt,
		Seed:                 e.Seed,
		GuidanceScale:        e.GuidanceScale,
		Width:                e.Width,
		Height:               e.Height,
		Steps:                e.Steps,
		ControlGuidanceStart: e.ControlGuidanceStart,
		ControlGuidanceEnd:   e.ControlGuidanceEnd,
		FileType:             img.FileType,
		FilePath:             img.FilePath,
	}
	if img.Seed != nil {
		p.Seed = *img.Seed
	}
	if img.GuidanceScale != nil {
		p.GuidanceScale = *img.GuidanceScale
	}
	if img.Width != nil {
		p.Width = *img.Width
	}
	if img.Height != nil {
		p.Height = *img.Height
	}
	if img.Steps != nil {
		p.Steps = *img.Steps
	}
	if img.ControlGuidanceStart != nil {
		p.ControlGuidanceStart = img.ControlGuidanceStart
	}
	if img.ControlGuidanceEnd != nil {
		p.ControlGuidanceEnd = img.ControlGuidanceEnd
	}
	if p.FileType == "" {
		p.FileType = types.FilePNG
	}
	return p
}

// Renderer kinds accepted by NewRenderer.
const (
	RendererPlaceholder = "placeholder"
	RendererExec        = "exec"
)

// NewRenderer builds the renderer selected by kind. command and args are
// only used by the exec renderer.
func NewRenderer(kind, command string, args []string, log zerolog.Logger) (Renderer, error) {
	switch kind {
	case "", RendererPlaceholder:
		return NewPlaceholderRenderer(log), nil
	case RendererExec:
		if command == "" {
			return nil, fmt.Errorf("exec renderer requires a command")
		}
		return NewExecRenderer(command, args, log), nil
	default:
		return nil, fmt.Errorf("unknown renderer %q", kind)
	}
}
