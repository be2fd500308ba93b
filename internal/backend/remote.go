package backend

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// remoteLoader talks to a diffusion runner process over HTTP. The runner owns
// the accelerator; this side only serializes calls to it.
type remoteLoader struct {
	baseURL    string
	apiKey     string
	reqTimeout time.Duration
	httpClient *http.Client
}

// NewRemoteLoader constructs a runner-backed Loader.
func NewRemoteLoader(baseURL, apiKey string, reqTimeout, connectTimeout time.Duration) Loader {
	if connectTimeout <= 0 {
		connectTimeout = 5 * time.Second
	}
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          4,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	// Timeout=0: every call carries its own context deadline.
	return &remoteLoader{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		reqTimeout: reqTimeout,
		httpClient: &http.Client{Transport: tr, Timeout: 0},
	}
}

type remoteLoadRequest struct {
	Model  string `json:"model"`
	Device string `json:"device,omitempty"`
	DType  string `json:"dtype,omitempty"`
}

type remoteAdapterRequest struct {
	Path  string  `json:"path"`
	Scale float64 `json:"scale"`
}

type remoteGenerateRequest struct {
	RequestID      string   `json:"request_id,omitempty"`
	Prompt         []string `json:"prompt"`
	NegativePrompt string   `json:"negative_prompt,omitempty"`
	Steps          int      `json:"num_inference_steps"`
	GuidanceScale  float64  `json:"guidance_scale"`
	Width          int      `json:"width"`
	Height         int      `json:"height"`
	NumImages      int      `json:"num_images_per_prompt"`
	Seed           *int64   `json:"seed,omitempty"`
}

type remoteImage struct {
	B64      string `json:"b64"`
	MIMEType string `json:"mime_type"`
	Seed     int64  `json:"seed"`
}

type remoteGenerateResponse struct {
	Images []remoteImage `json:"images"`
	Error  string        `json:"error,omitempty"`
}

func (l *remoteLoader) Load(ctx context.Context, spec ModelSpec) (Generator, error) {
	body := remoteLoadRequest{Model: spec.ModelID, Device: spec.Device, DType: spec.DType}
	if err := l.post(ctx, "/load", body, nil); err != nil {
		return nil, fmt.Errorf("load %s: %w", spec.ModelID, err)
	}
	return &RemoteGenerator{loader: l}, nil
}

// RemoteGenerator is the Generator returned by the remote loader.
type RemoteGenerator struct {
	loader *remoteLoader
}

func (g *RemoteGenerator) LoadAdapter(ctx context.Context, path string, scale float64) error {
	return g.loader.post(ctx, "/adapter", remoteAdapterRequest{Path: path, Scale: scale}, nil)
}

func (g *RemoteGenerator) Generate(ctx context.Context, req GenerateRequest) ([]Image, error) {
	payload := remoteGenerateRequest{
		RequestID:      req.RequestID,
		Prompt:         req.Prompts,
		NegativePrompt: req.NegativePrompt,
		Steps:          req.Steps,
		GuidanceScale:  req.GuidanceScale,
		Width:          req.Width,
		Height:         req.Height,
		NumImages:      req.NumImages,
		Seed:           req.Seed,
	}
	var resp remoteGenerateResponse
	if err := g.loader.post(ctx, "/generate", payload, &resp); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, &GenerationError{RequestID: req.RequestID, Err: err}
	}
	if resp.Error != "" {
		return nil, &GenerationError{RequestID: req.RequestID, Err: errors.New(resp.Error)}
	}
	out := make([]Image, 0, len(resp.Images))
	for i, im := range resp.Images {
		data, err := base64.StdEncoding.DecodeString(im.B64)
		if err != nil {
			return nil, &GenerationError{RequestID: req.RequestID, Err: fmt.Errorf("image %d: %w", i, err)}
		}
		mt := im.MIMEType
		if mt == "" {
			mt = "image/png"
		}
		out = append(out, Image{Data: data, MIMEType: mt, Seed: im.Seed})
	}
	return out, nil
}

// post sends a JSON body to path and decodes a JSON reply into out if non-nil.
func (l *remoteLoader) post(ctx context.Context, path string, in, out any) error {
	if l.reqTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.reqTimeout)
		defer cancel()
	}
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if l.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+l.apiKey)
	}
	resp, err := l.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if isConnRefused(err) {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("runner http error: %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func isConnRefused(err error) bool {
	var op *net.OpError
	return errors.As(err, &op) && op.Op == "dial"
}
