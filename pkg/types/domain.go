package types

import "time"

// AIModelType classifies a model file by the role it plays in a pipeline.
type AIModelType string

const (
	AIModelCheckpoint AIModelType = "checkpoint"
	AIModelLora       AIModelType = "lora"
	AIModelVAE        AIModelType = "vae"
	AIModelControlNet AIModelType = "controlnet"
	AIModelEmbedding  AIModelType = "embedding"
)

// Valid reports whether t is a known model type.
func (t AIModelType) Valid() bool {
	switch t {
	case AIModelCheckpoint, AIModelLora, AIModelVAE, AIModelControlNet, AIModelEmbedding:
		return true
	}
	return false
}

// AIModel is a model file known to the service.
type AIModel struct {
	// example: 1
	ID int64 `json:"id" example:"1"`
	// example: dreamshaper-8
	Name string `json:"name" example:"dreamshaper-8"`
	// Absolute path (or hub reference) of the weights.
	// example: /models/checkpoint/dreamshaper_8.safetensors
	Path string `json:"path" example:"/models/checkpoint/dreamshaper_8.safetensors"`
	// example: checkpoint
	ModelType    AIModelType `json:"model_type" example:"checkpoint"`
	TriggerWords string      `json:"trigger_words,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}

// Lora pairs a LoRA model with the weight it is fused with.
type Lora struct {
	Model  AIModel `json:"model"`
	Weight float64 `json:"weight" example:"0.8"`
}

// Engine is an immutable generation configuration.
type Engine struct {
	ID                          int64          `json:"id" example:"1"`
	Name                        string         `json:"name" example:"portrait-sd15"`
	CheckpointModel             AIModel        `json:"checkpoint_model"`
	VAEModel                    *AIModel       `json:"vae_model,omitempty"`
	Loras                       []Lora         `json:"loras"`
	ControlNetModels            []AIModel      `json:"control_net_models"`
	EmbeddingModels             []AIModel      `json:"embedding_models"`
	Scheduler                   string         `json:"scheduler" example:"euler_a"`
	SchedulerConfig             map[string]any `json:"scheduler_config,omitempty"`
	GuidanceScale               float64        `json:"guidance_scale" example:"7.5"`
	Seed                        int64          `json:"seed" example:"42"`
	Width                       int            `json:"width" example:"512"`
	Height                      int            `json:"height" example:"512"`
	Steps                       int            `json:"steps" example:"30"`
	ClipSkip                    *int           `json:"clip_skip,omitempty"`
	LongPromptTechnique         string         `json:"long_prompt_technique,omitempty"`
	ControlNetConditioningScale *float64       `json:"controlnet_conditioning_scale,omitempty"`
	ControlGuidanceStart        *float64       `json:"control_guidance_start,omitempty"`
	ControlGuidanceEnd          *float64       `json:"control_guidance_end,omitempty"`
	CreatedAt                   time.Time      `json:"created_at"`
}

// GeneratorStatus is the persisted lifecycle state of a generator.
type GeneratorStatus string

const (
	GeneratorClosed   GeneratorStatus = "closed"
	GeneratorStarting GeneratorStatus = "starting"
	GeneratorReady    GeneratorStatus = "ready"
	GeneratorBusy     GeneratorStatus = "busy"
	GeneratorClosing  GeneratorStatus = "closing"
	GeneratorFailed   GeneratorStatus = "failed"
)

// Generator binds one engine to one GPU slot.
type Generator struct {
	ID        int64           `json:"id" example:"1"`
	Name      string          `json:"name" example:"gpu0-portraits"`
	GPUID     int             `json:"gpu_id" example:"0"`
	Engine    Engine          `json:"engine"`
	Status    GeneratorStatus `json:"status" example:"closed"`
	LastError string          `json:"last_error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// JobStatus is the persisted lifecycle state of a job.
type JobStatus string

const (
	JobWaiting    JobStatus = "waiting"
	JobProcessing JobStatus = "processing"
	JobFinished   JobStatus = "finished"
	JobFailed     JobStatus = "failed"
)

// FileImageType is the encoding of a rendered image.
type FileImageType string

const (
	FilePNG  FileImageType = "png"
	FileJPG  FileImageType = "jpg"
	FileWEBP FileImageType = "webp"
)

// Valid reports whether t is a supported output encoding.
func (t FileImageType) Valid() bool {
	return t == FilePNG || t == FileJPG || t == FileWEBP
}

// ControlImage is a conditioning image attached to an image request.
type ControlImage struct {
	AIModelID                   *int64   `json:"aimodel_id,omitempty"`
	FilePath                    string   `json:"file_path"`
	ControlNetConditioningScale *float64 `json:"controlnet_conditioning_scale,omitempty"`
	CannyLowThreshold           *int     `json:"canny_low_threshold,omitempty"`
	CannyHighThreshold          *int     `json:"canny_high_threshold,omitempty"`
}

// Image is one prompt plus generation parameters producing exactly one file.
// Unset parameters fall back to the engine defaults at render time.
type Image struct {
	ID                   int64          `json:"id" example:"1"`
	JobID                int64          `json:"job_id" example:"1"`
	GeneratorID          int64          `json:"generator_id" example:"1"`
	Name                 string         `json:"name,omitempty"`
	Prompt               string         `json:"prompt" example:"a lighthouse at dusk"`
	NegativePrompt       string         `json:"negative_prompt"`
	Seed                 *int64         `json:"seed,omitempty"`
	GuidanceScale        *float64       `json:"guidance_scale,omitempty"`
	Width                *int           `json:"width,omitempty"`
	Height               *int           `json:"height,omitempty"`
	Steps                *int           `json:"steps,omitempty"`
	ControlGuidanceStart *float64       `json:"control_guidance_start,omitempty"`
	ControlGuidanceEnd   *float64       `json:"control_guidance_end,omitempty"`
	FileType             FileImageType  `json:"file_type" example:"png"`
	FilePath             string         `json:"file_path"`
	Ready                bool           `json:"ready"`
	ControlImages        []ControlImage `json:"control_images"`
}

// Job is a batch of image requests bound to one generator.
type Job struct {
	ID              int64          `json:"id" example:"1"`
	GeneratorID     int64          `json:"generator_id" example:"1"`
	Images          []Image        `json:"images"`
	Status          JobStatus      `json:"status" example:"waiting"`
	IPAdapterConfig map[string]any `json:"ip_adapter_config,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// GPU describes a device a generator can be bound to.
type GPU struct {
	ID          int     `json:"id" example:"0"`
	Name        string  `json:"name" example:"NVIDIA GeForce RTX 4090"`
	TotalVRAMGB float64 `json:"total_vram_gb" example:"23.99"`
}
