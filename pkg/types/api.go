package types

// AIModelInput registers a model file.
type AIModelInput struct {
	// example: dreamshaper-8
	Name string `json:"name" example:"dreamshaper-8"`
	// example: /models/checkpoint/dreamshaper_8.safetensors
	Path string `json:"path" example:"/models/checkpoint/dreamshaper_8.safetensors"`
	// One of checkpoint, lora, vae, controlnet, embedding.
	// example: checkpoint
	ModelType    AIModelType `json:"model_type" example:"checkpoint"`
	TriggerWords string      `json:"trigger_words,omitempty"`
}

// LoraInput references a LoRA model and its weight.
type LoraInput struct {
	LoraModelID int64   `json:"lora_model_id" example:"3"`
	Weight      float64 `json:"weight" example:"0.8"`
}

// EngineInput is the payload of POST /v1/engines.
type EngineInput struct {
	Name                        string         `json:"name" example:"portrait-sd15"`
	CheckpointModelID           int64          `json:"checkpoint_model_id" example:"1"`
	Scheduler                   string         `json:"scheduler" example:"euler_a"`
	SchedulerConfig             map[string]any `json:"scheduler_config,omitempty"`
	GuidanceScale               float64        `json:"guidance_scale" example:"7.5"`
	Seed                        int64          `json:"seed" example:"42"`
	Width                       int            `json:"width" example:"512"`
	Height                      int            `json:"height" example:"512"`
	Steps                       int            `json:"steps" example:"30"`
	ClipSkip                    *int           `json:"clip_skip,omitempty"`
	LoraModels                  []LoraInput    `json:"lora_model_ids,omitempty"`
	ControlNetModelIDs          []int64        `json:"control_net_model_ids,omitempty"`
	EmbeddingModelIDs           []int64        `json:"embedding_model_ids,omitempty"`
	VAEModelID                  *int64         `json:"vae_model_id,omitempty"`
	LongPromptTechnique         string         `json:"long_prompt_technique,omitempty"`
	ControlNetConditioningScale *float64       `json:"controlnet_conditioning_scale,omitempty"`
	ControlGuidanceStart        *float64       `json:"control_guidance_start,omitempty"`
	ControlGuidanceEnd          *float64       `json:"control_guidance_end,omitempty"`
}

// GeneratorInput is the payload of POST /v1/generators.
type GeneratorInput struct {
	Name     string `json:"name" example:"gpu0-portraits"`
	EngineID int64  `json:"engine_id" example:"1"`
	GPUID    int    `json:"gpu_id" example:"0"`
}

// ControlImageInput carries a base64 encoded conditioning image.
type ControlImageInput struct {
	// Nil selects the engine's control nets.
	AIModelID                   *int64   `json:"aimodel_id,omitempty"`
	DataBase64                  string   `json:"data_base64"`
	ControlNetConditioningScale *float64 `json:"controlnet_conditioning_scale,omitempty"`
	CannyLowThreshold           *int     `json:"canny_low_threshold,omitempty"`
	CannyHighThreshold          *int     `json:"canny_high_threshold,omitempty"`
}

// ImageInput is one requested image of a job.
type ImageInput struct {
	Prompt               string              `json:"prompt" example:"a lighthouse at dusk"`
	NegativePrompt       string              `json:"negative_prompt" example:"blurry"`
	Name                 string              `json:"name,omitempty"`
	Seed                 *int64              `json:"seed,omitempty"`
	GuidanceScale        *float64            `json:"guidance_scale,omitempty"`
	Width                *int                `json:"width,omitempty"`
	Height               *int                `json:"height,omitempty"`
	Steps                *int                `json:"steps,omitempty"`
	ControlImages        []ControlImageInput `json:"control_images,omitempty"`
	FileType             FileImageType       `json:"file_type,omitempty" example:"png"`
	ControlGuidanceStart *float64            `json:"control_guidance_start,omitempty"`
	ControlGuidanceEnd   *float64            `json:"control_guidance_end,omitempty"`
}

// JobInput is the payload of POST /v1/jobs.
type JobInput struct {
	GeneratorID     int64          `json:"generator_id" example:"1"`
	Images          []ImageInput   `json:"images"`
	IPAdapterConfig map[string]any `json:"ip_adapter_config,omitempty"`
}

// FieldError describes one invalid input field.
type FieldError struct {
	// example: engine_id
	Field string `json:"field" example:"engine_id"`
	// example: engine with id 7 doesn't exist
	Error string `json:"error" example:"engine with id 7 doesn't exist"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
	// Per-field validation failures, when any.
	Fields []FieldError `json:"fields,omitempty"`
}

// WorkerStatus summarizes a live worker process for /status.
type WorkerStatus struct {
	GeneratorID int64  `json:"generator_id" example:"1"`
	Name        string `json:"name" example:"gpu0-portraits"`
	// Registry state of the worker (starting, ready, busy, closing, failed).
	// example: ready
	State string `json:"state" example:"ready"`
	// example: 12345
	PID int `json:"pid,omitempty" example:"12345"`
	// Sortable id of this worker process incarnation.
	InstanceID string `json:"instance_id"`
	GPUID      int    `json:"gpu_id" example:"0"`
	// Job currently dispatched to the worker, if any.
	JobID       int64 `json:"job_id,omitempty"`
	StartedAt   int64 `json:"started_unix" example:"1700000000"`
	LastEventAt int64 `json:"last_event_unix,omitempty" example:"1700000000"`
	EventsSeen  int   `json:"events_seen" example:"4"`
}

// InfoResponse is returned by GET /v1/info.
type InfoResponse struct {
	// example: sqlite
	DBDriver string `json:"db_driver" example:"sqlite"`
	// Database file; empty for server databases.
	DBPath     string `json:"db_path,omitempty" example:"imaged.db"`
	ImagesPath string `json:"images_path" example:"/var/lib/imaged/images"`
	ModelsPath string `json:"models_path,omitempty" example:"/var/lib/imaged/models"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Workers []WorkerStatus `json:"workers"`
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
	// Events processed by the supervisor since start.
	EventsTotal uint64 `json:"events_total" example:"12"`
	// Jobs forwarded to workers since start.
	DispatchedTotal uint64 `json:"dispatched_total" example:"3"`
	// Signals dropped because the target generator was not ready.
	DroppedSignalsTotal uint64 `json:"dropped_signals_total" example:"1"`
}
