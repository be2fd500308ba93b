package types

import (
	"bytes"
	"encoding/json"
	"errors"
)

// ImageGenerationRequest is the body of POST /v1/images/generations. It is
// compatible with the OpenAI images API plus diffusion-specific extensions.
type ImageGenerationRequest struct {
	// Prompt text, or a list of prompts generated in one call.
	// example: a lighthouse at dusk, oil painting
	Prompt PromptList `json:"prompt" swaggertype:"array,string" example:"a lighthouse at dusk, oil painting"`
	// Optional model identifier; must match the served model when set.
	// example: stabilityai/sdxl-turbo
	Model string `json:"model,omitempty" example:"stabilityai/sdxl-turbo"`
	// Number of images per prompt (1..10).
	// example: 1
	N *int `json:"n,omitempty" example:"1"`
	// Image size as WIDTHxHEIGHT.
	// example: 1024x1024
	Size string `json:"size,omitempty" example:"1024x1024"`
	// Accepted for compatibility (standard or hd).
	// example: standard
	Quality string `json:"quality,omitempty" example:"standard"`
	// url or b64_json.
	// example: b64_json
	ResponseFormat string `json:"response_format,omitempty" example:"b64_json"`
	// Accepted for compatibility; logged only.
	User string `json:"user,omitempty"`

	// Concepts to steer away from.
	// example: blurry, low quality
	NegativePrompt string `json:"negative_prompt,omitempty" example:"blurry, low quality"`
	// Denoising steps (1..150).
	// example: 30
	NumInferenceSteps *int `json:"num_inference_steps,omitempty" example:"30"`
	// Classifier-free guidance scale (1..20).
	// example: 7.5
	GuidanceScale *float64 `json:"guidance_scale,omitempty" example:"7.5"`
	// Random seed for reproducible output.
	// example: 42
	Seed *int64 `json:"seed,omitempty" example:"42"`
	// LoRA adapter file path or name in the adapters directory.
	// example: watercolor.safetensors
	LoraPath string `json:"lora_path,omitempty" example:"watercolor.safetensors"`
	// LoRA strength (0..2).
	// example: 0.8
	LoraScale *float64 `json:"lora_scale,omitempty" example:"0.8"`
}

// PromptList decodes from either a JSON string or an array of strings.
type PromptList []string

var errPromptType = errors.New("prompt must be a string or an array of strings")

func (p *PromptList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*p = PromptList{s}
		return nil
	}
	if len(b) > 0 && b[0] == '[' {
		var ss []string
		if err := json.Unmarshal(b, &ss); err != nil {
			return errPromptType
		}
		*p = ss
		return nil
	}
	if bytes.Equal(b, []byte("null")) {
		*p = nil
		return nil
	}
	return errPromptType
}

// ImageData is one generated image in an ImagesResponse.
type ImageData struct {
	// Base64 PNG, when response_format is b64_json.
	B64JSON string `json:"b64_json,omitempty"`
	// Download URL, when response_format is url.
	// example: http://localhost:8000/v1/images/2b1f4c1e-4a4e-4c55-9a8e-1f0f3d8a9b10
	URL string `json:"url,omitempty" example:"http://localhost:8000/v1/images/2b1f4c1e-4a4e-4c55-9a8e-1f0f3d8a9b10"`
	// Prompt used for this image.
	RevisedPrompt string `json:"revised_prompt,omitempty"`
	// Seed used for this image, when known.
	// example: 42
	Seed *int64 `json:"seed,omitempty" example:"42"`
}

// ImagesResponse is returned by POST /v1/images/generations.
type ImagesResponse struct {
	// Unix seconds.
	// example: 1700000000
	Created int64       `json:"created" example:"1700000000"`
	Data    []ImageData `json:"data"`
}

// ModelsResponse is the OpenAI-style list returned by GET /v1/models.
type ModelsResponse struct {
	// example: list
	Object string  `json:"object" example:"list"`
	Data   []Model `json:"data"`
}

// AdaptersResponse is returned by GET /v1/adapters.
type AdaptersResponse struct {
	// example: list
	Object string    `json:"object" example:"list"`
	Data   []Adapter `json:"data"`
}

// ErrorBody is the inner object of an ErrorResponse.
type ErrorBody struct {
	// Human-readable message.
	// example: n must be between 1 and 10
	Message string `json:"message" example:"n must be between 1 and 10"`
	// Error category (invalid_request_error, server_error, ...).
	// example: invalid_request_error
	Type string `json:"type" example:"invalid_request_error"`
	// Optional machine-readable code.
	// example: queue_full
	Code string `json:"code,omitempty" example:"queue_full"`
	// Offending request field, for validation errors.
	// example: n
	Param string `json:"param,omitempty" example:"n"`
}

// ErrorResponse is the OpenAI-style JSON error payload.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	// loading, healthy, draining, stopped or error.
	// example: healthy
	Status string `json:"status" example:"healthy"`
	// Raw lifecycle state.
	// example: ready
	State string `json:"state" example:"ready"`
	// example: stabilityai/sdxl-turbo
	Model string `json:"model" example:"stabilityai/sdxl-turbo"`
	// example: cuda
	Device string `json:"device" example:"cuda"`
	// example: float16
	DType string `json:"dtype" example:"float16"`
	// Adapter currently applied, if any.
	// example: watercolor.safetensors
	Adapter string `json:"adapter,omitempty" example:"watercolor.safetensors"`
	// Records waiting for the worker (advisory).
	// example: 3
	QueueSize int `json:"queue_size" example:"3"`
	// example: 100
	QueueCapacity int `json:"queue_capacity" example:"100"`
	// example: 1
	MaxBatchSize int `json:"max_batch_size" example:"1"`
	// example: running
	WorkerState string `json:"worker_state,omitempty" example:"running"`
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Totals since start.
	Submitted uint64 `json:"submitted_total"`
	Completed uint64 `json:"completed_total"`
	Failed    uint64 `json:"failed_total"`
	Rejected  uint64 `json:"rejected_total"`
	// Startup or fatal error, if any.
	Error string `json:"error,omitempty"`
}
