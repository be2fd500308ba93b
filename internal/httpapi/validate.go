package httpapi

import (
	"fmt"
	"strconv"
	"strings"

	"diffusiond/internal/queue"
	"diffusiond/pkg/types"
)

// Request limits and defaults for image generation.
const (
	defaultN              = 1
	maxN                  = 10
	defaultSize           = "1024x1024"
	minDim                = 64
	maxDim                = 4096
	defaultSteps          = 50
	maxSteps              = 150
	defaultGuidance       = 7.5
	minGuidance           = 1.0
	maxGuidance           = 20.0
	defaultLoraScale      = 1.0
	maxLoraScale          = 2.0
	formatURL             = "url"
	formatB64             = "b64_json"
	defaultResponseFormat = formatURL
)

// parseSize parses "WIDTHxHEIGHT" (case-insensitive x).
func parseSize(s string) (int, int, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return 0, 0, fmt.Errorf("invalid size %q, use a format like 1024x1024", s)
	}
	width, errW := strconv.Atoi(strings.TrimSpace(w))
	height, errH := strconv.Atoi(strings.TrimSpace(h))
	if errW != nil || errH != nil {
		return 0, 0, fmt.Errorf("invalid size %q, use a format like 1024x1024", s)
	}
	if width < minDim || width > maxDim || height < minDim || height > maxDim {
		return 0, 0, fmt.Errorf("size %dx%d out of range, each side must be between %d and %d", width, height, minDim, maxDim)
	}
	return width, height, nil
}

// generationRequest is a validated request.
type generationRequest struct {
	params queue.Params
	format string
}

// resolveAdapter maps a lora_path to what the backend should load.
type resolveAdapter func(string) (string, error)

// buildParams validates req and fills defaults.
func buildParams(req types.ImageGenerationRequest, resolve resolveAdapter) (generationRequest, *apiError) {
	var out generationRequest
	if len(req.Prompt) == 0 {
		return out, invalidRequest("prompt", "prompt is required")
	}
	prompts := make([]string, 0, len(req.Prompt))
	for _, p := range req.Prompt {
		if strings.TrimSpace(p) == "" {
			return out, invalidRequest("prompt", "prompt must not be empty")
		}
		prompts = append(prompts, p)
	}

	n := defaultN
	if req.N != nil {
		n = *req.N
	}
	if n < 1 || n > maxN {
		return out, invalidRequest("n", fmt.Sprintf("n must be between 1 and %d", maxN))
	}

	size := req.Size
	if size == "" {
		size = defaultSize
	}
	width, height, err := parseSize(size)
	if err != nil {
		return out, invalidRequest("size", err.Error())
	}

	switch req.Quality {
	case "", "standard", "hd":
	default:
		return out, invalidRequest("quality", "quality must be standard or hd")
	}

	format := req.ResponseFormat
	if format == "" {
		format = defaultResponseFormat
	}
	if format != formatURL && format != formatB64 {
		return out, invalidRequest("response_format", "response_format must be url or b64_json")
	}

	steps := defaultSteps
	if req.NumInferenceSteps != nil {
		steps = *req.NumInferenceSteps
	}
	if steps < 1 || steps > maxSteps {
		return out, invalidRequest("num_inference_steps", fmt.Sprintf("num_inference_steps must be between 1 and %d", maxSteps))
	}

	guidance := defaultGuidance
	if req.GuidanceScale != nil {
		guidance = *req.GuidanceScale
	}
	if guidance < minGuidance || guidance > maxGuidance {
		return out, invalidRequest("guidance_scale", fmt.Sprintf("guidance_scale must be between %g and %g", minGuidance, maxGuidance))
	}

	loraScale := defaultLoraScale
	if req.LoraScale != nil {
		loraScale = *req.LoraScale
	}
	if loraScale < 0 || loraScale > maxLoraScale {
		return out, invalidRequest("lora_scale", fmt.Sprintf("lora_scale must be between 0 and %g", maxLoraScale))
	}
	adapter := strings.TrimSpace(req.LoraPath)
	if adapter != "" && resolve != nil {
		resolved, err := resolve(adapter)
		if err != nil {
			return out, invalidRequest("lora_path", err.Error())
		}
		adapter = resolved
	}

	out.format = format
	out.params = queue.Params{
		Prompts:        prompts,
		NegativePrompt: req.NegativePrompt,
		Steps:          steps,
		GuidanceScale:  guidance,
		Width:          width,
		Height:         height,
		NumImages:      n,
		Seed:           req.Seed,
		AdapterPath:    adapter,
		AdapterScale:   loraScale,
	}
	return out, nil
}
