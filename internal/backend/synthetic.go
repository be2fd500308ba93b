package backend

import (
	"bytes"
	"context"
	"errors"
	"hash/fnv"
	"image"
	"image/color"
	"image/png"
	"math/rand/v2"
	"strings"

	"golang.org/x/image/draw"
)

// syntheticTile is the edge length of the random tile that gets upscaled.
const syntheticTile = 8

// SyntheticLoader produces a Generator that renders deterministic images from
// the seed, prompt and active adapter. It never touches an accelerator.
type SyntheticLoader struct{}

func (SyntheticLoader) Load(ctx context.Context, spec ModelSpec) (Generator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(spec.ModelID) == "" {
		return nil, errors.New("model id is required")
	}
	return &SyntheticGenerator{spec: spec}, nil
}

// SyntheticGenerator is the Generator returned by SyntheticLoader.
type SyntheticGenerator struct {
	spec    ModelSpec
	adapter string
	scale   float64
}

// Adapter returns the currently applied adapter path.
func (g *SyntheticGenerator) Adapter() string { return g.adapter }

func (g *SyntheticGenerator) LoadAdapter(ctx context.Context, path string, scale float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.adapter = strings.TrimSpace(path)
	g.scale = scale
	return nil
}

func (g *SyntheticGenerator) Generate(ctx context.Context, req GenerateRequest) ([]Image, error) {
	if len(req.Prompts) == 0 {
		return nil, &GenerationError{RequestID: req.RequestID, Err: errors.New("empty prompt")}
	}
	if req.Width <= 0 || req.Height <= 0 {
		return nil, &GenerationError{RequestID: req.RequestID, Err: errors.New("invalid image size")}
	}
	n := max(req.NumImages, 1)
	seed := rand.Int64()
	if req.Seed != nil {
		seed = *req.Seed
	}
	out := make([]Image, 0, len(req.Prompts)*n)
	for _, prompt := range req.Prompts {
		for i := 0; i < n; i++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			s := seed + int64(i)
			data, err := g.render(prompt, s, req.Width, req.Height)
			if err != nil {
				return nil, &GenerationError{RequestID: req.RequestID, Err: err}
			}
			out = append(out, Image{Data: data, MIMEType: "image/png", Seed: s})
		}
	}
	return out, nil
}

func (g *SyntheticGenerator) render(prompt string, seed int64, w, h int) ([]byte, error) {
	h64 := fnv.New64a()
	_, _ = h64.Write([]byte(prompt))
	rng := rand.New(rand.NewPCG(uint64(seed), h64.Sum64()))

	tint, scale := g.tint(), g.scale
	if g.adapter == "" {
		scale = 0
	}
	tile := image.NewRGBA(image.Rect(0, 0, syntheticTile, syntheticTile))
	for y := 0; y < syntheticTile; y++ {
		for x := 0; x < syntheticTile; x++ {
			tile.Set(x, y, color.RGBA{
				R: mix(uint8(rng.IntN(256)), tint.R, scale),
				G: mix(uint8(rng.IntN(256)), tint.G, scale),
				B: mix(uint8(rng.IntN(256)), tint.B, scale),
				A: 0xff,
			})
		}
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), tile, tile.Bounds(), draw.Src, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// tint derives a stable colour from the active adapter path.
func (g *SyntheticGenerator) tint() color.RGBA {
	if g.adapter == "" {
		return color.RGBA{}
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(g.adapter))
	v := h.Sum32()
	return color.RGBA{R: uint8(v), G: uint8(v >> 8), B: uint8(v >> 16), A: 0xff}
}

func mix(base, tint uint8, scale float64) uint8 {
	if scale <= 0 {
		return base
	}
	if scale > 2 {
		scale = 2
	}
	w := scale / 2
	return uint8(float64(base)*(1-w) + float64(tint)*w)
}
