package types

// Model describes the served diffusion model in OpenAI list format.
type Model struct {
	// example: stabilityai/sdxl-turbo
	ID string `json:"id" example:"stabilityai/sdxl-turbo"`
	// example: model
	Object string `json:"object" example:"model"`
	// Unix seconds at which the model became available.
	// example: 1700000000
	Created int64 `json:"created" example:"1700000000"`
	// example: diffusiond
	OwnedBy string `json:"owned_by" example:"diffusiond"`
}

// Adapter is a LoRA weights file discovered in the adapters directory.
type Adapter struct {
	// File name, usable as lora_path.
	// example: watercolor.safetensors
	ID string `json:"id" example:"watercolor.safetensors"`
	// example: adapter
	Object string `json:"object" example:"adapter"`
	// Absolute path on disk.
	// example: /srv/loras/watercolor.safetensors
	Path string `json:"path" example:"/srv/loras/watercolor.safetensors"`
	// File size in bytes.
	// example: 151000000
	SizeBytes int64 `json:"size_bytes" example:"151000000"`
}
