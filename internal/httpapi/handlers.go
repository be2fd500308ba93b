package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"diffusiond/internal/backend"
	"diffusiond/pkg/types"
)

type handlers struct {
	svc  Service
	opts Options
}

// generateImages handles POST /v1/images/generations.
//
// @Summary      Generate images
// @Description  OpenAI-compatible image generation. Blocks until the images are ready.
// @Tags         images
// @Accept       json
// @Produce      json
// @Param        request  body      types.ImageGenerationRequest  true  "Generation request"
// @Success      200      {object}  types.ImagesResponse
// @Failure      400      {object}  types.ErrorResponse
// @Failure      401      {object}  types.ErrorResponse
// @Failure      415      {object}  types.ErrorResponse
// @Failure      500      {object}  types.ErrorResponse
// @Failure      503      {object}  types.ErrorResponse
// @Router       /v1/images/generations [post]
func (h *handlers) generateImages(w http.ResponseWriter, r *http.Request) {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req types.ImageGenerationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeJSONError(w, http.StatusBadRequest, "request body too large")
			return
		}
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.Model != "" && !h.servesModel(req.Model) {
		writeAPIError(w, &apiError{
			status: http.StatusNotFound, errType: errTypeInvalidRequest, code: "model_not_found", param: "model",
			msg: fmt.Sprintf("model %q is not served by this instance", req.Model),
		})
		return
	}
	var resolve resolveAdapter
	if h.opts.Adapters != nil {
		resolve = h.opts.Adapters.Resolve
	}
	gr, verr := buildParams(req, resolve)
	if verr != nil {
		writeAPIError(w, verr)
		return
	}
	if gr.format == formatURL && h.opts.Images == nil {
		writeAPIError(w, invalidRequest("response_format", "url responses are disabled on this server, use b64_json"))
		return
	}

	lvl := requestLogLevel(r)
	start := time.Now()
	if lvl >= LevelInfo {
		ev := zlog.Info().Str("path", r.URL.Path).Int("prompts", len(gr.params.Prompts)).
			Int("n", gr.params.NumImages).Int("width", gr.params.Width).Int("height", gr.params.Height).
			Str("adapter", gr.params.AdapterPath)
		if rid := middleware.GetReqID(r.Context()); rid != "" {
			ev = ev.Str("request_id", rid)
		}
		ev.Msg("generate start")
	}

	// Join server base context with request context so shutdown releases waiters too.
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	images, rec, err := h.svc.Generate(ctx, gr.params)
	if err != nil {
		if r.Context().Err() != nil {
			// Client went away; the record (if admitted) still completes.
			logEnd(r, lvl, 499, start, err)
			return
		}
		if serverBaseCtx.Err() != nil && ctx.Err() != nil {
			err = fmt.Errorf("server shutting down: %w", err)
			IncrementBackpressure("shutdown")
			writeAPIError(w, &apiError{status: http.StatusServiceUnavailable, errType: errTypeUnavailable, code: "shutting_down", msg: err.Error()})
			logEnd(r, lvl, http.StatusServiceUnavailable, start, err)
			return
		}
		ae := classify(err)
		if ae.status == http.StatusServiceUnavailable {
			IncrementBackpressure(ae.code)
		}
		writeAPIError(w, ae)
		logEnd(r, lvl, ae.status, start, err)
		return
	}

	resp := types.ImagesResponse{Created: time.Now().Unix(), Data: make([]types.ImageData, 0, len(images))}
	perPrompt := max(gr.params.NumImages, 1)
	for i, img := range images {
		d := types.ImageData{RevisedPrompt: gr.params.Prompts[min(i/perPrompt, len(gr.params.Prompts)-1)]}
		if img.Seed != 0 || gr.params.Seed != nil {
			seed := img.Seed
			d.Seed = &seed
		}
		if gr.format == formatB64 {
			d.B64JSON = base64.StdEncoding.EncodeToString(img.Data)
		} else {
			id := h.opts.Images.Put(img.Data, mimeOrPNG(img), rec.ID)
			d.URL = h.baseURL(r) + "/v1/images/" + id
		}
		resp.Data = append(resp.Data, d)
	}
	imagesServedTotal.WithLabelValues(gr.format).Add(float64(len(images)))
	writeJSON(w, http.StatusOK, resp)
	logEnd(r, lvl, http.StatusOK, start, nil)
}

// getImage handles GET /v1/images/{id}.
//
// @Summary   Fetch a generated image
// @Tags      images
// @Produce   png
// @Param     id   path  string  true  "Image id"
// @Success   200
// @Failure   404  {object}  types.ErrorResponse
// @Router    /v1/images/{id} [get]
func (h *handlers) getImage(w http.ResponseWriter, r *http.Request) {
	if h.opts.Images == nil {
		writeJSONError(w, http.StatusNotFound, "image storage is disabled")
		return
	}
	e, ok := h.opts.Images.Get(chi.URLParam(r, "id"))
	if !ok {
		writeJSONError(w, http.StatusNotFound, "image not found or expired")
		return
	}
	w.Header().Set("Content-Type", e.MIMEType)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.Header().Set("Last-Modified", e.CreatedAt.UTC().Format(http.TimeFormat))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(e.Data)
}

// listModels handles GET /v1/models.
//
// @Summary   List models
// @Tags      models
// @Produce   json
// @Success   200  {object}  types.ModelsResponse
// @Router    /v1/models [get]
func (h *handlers) listModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.ModelsResponse{Object: "list", Data: h.svc.ListModels()})
}

// listAdapters handles GET /v1/adapters.
//
// @Summary   List LoRA adapters found in the adapters directory
// @Tags      adapters
// @Produce   json
// @Success   200  {object}  types.AdaptersResponse
// @Failure   500  {object}  types.ErrorResponse
// @Router    /v1/adapters [get]
func (h *handlers) listAdapters(w http.ResponseWriter, r *http.Request) {
	resp := types.AdaptersResponse{Object: "list", Data: []types.Adapter{}}
	if h.opts.Adapters != nil {
		list, err := h.opts.Adapters.List()
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to list adapters: "+err.Error())
			return
		}
		if list != nil {
			resp.Data = list
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// health handles GET /health.
//
// @Summary      Service health
// @Description  Returns 200 when the model is loaded and serving, 503 otherwise.
// @Tags         ops
// @Produce      json
// @Success      200  {object}  types.HealthResponse
// @Failure      503  {object}  types.HealthResponse
// @Router       /health [get]
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	hr := h.svc.Health()
	status := http.StatusOK
	if hr.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, hr)
}

func (h *handlers) servesModel(id string) bool {
	for _, m := range h.svc.ListModels() {
		if m.ID == id {
			return true
		}
	}
	return false
}

func (h *handlers) baseURL(r *http.Request) string {
	if h.opts.PublicURL != "" {
		return strings.TrimRight(h.opts.PublicURL, "/")
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p == "http" || p == "https" {
		scheme = p
	}
	return scheme + "://" + r.Host
}

func mimeOrPNG(img backend.Image) string {
	if img.MIMEType == "" {
		return "image/png"
	}
	return img.MIMEType
}
