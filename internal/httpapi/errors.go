package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"diffusiond/internal/manager"
	"diffusiond/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// OpenAI error types.
const (
	errTypeInvalidRequest = "invalid_request_error"
	errTypeAuth           = "authentication_error"
	errTypeNotFound       = "not_found_error"
	errTypeServer         = "server_error"
	errTypeUnavailable    = "service_unavailable"
)

// apiError is a fully classified error ready to be written.
type apiError struct {
	status  int
	errType string
	code    string
	param   string
	msg     string
}

func (e *apiError) Error() string   { return e.msg }
func (e *apiError) StatusCode() int { return e.status }

func invalidRequest(param, msg string) *apiError {
	return &apiError{status: http.StatusBadRequest, errType: errTypeInvalidRequest, code: "invalid_value", param: param, msg: msg}
}

// classify maps service errors onto an HTTP status and OpenAI error body.
func classify(err error) *apiError {
	var ae *apiError
	if errors.As(err, &ae) {
		return ae
	}
	switch {
	case manager.IsDependencyUnavailable(err):
		return &apiError{status: http.StatusServiceUnavailable, errType: errTypeUnavailable, code: "backend_unavailable", msg: err.Error()}
	case manager.IsShuttingDown(err):
		return &apiError{status: http.StatusServiceUnavailable, errType: errTypeUnavailable, code: "shutting_down", msg: err.Error()}
	case manager.IsAdmissionRejected(err):
		return &apiError{status: http.StatusServiceUnavailable, errType: errTypeUnavailable, code: "queue_full", msg: err.Error()}
	case manager.IsAdapterLoadFailed(err):
		return &apiError{status: http.StatusInternalServerError, errType: errTypeServer, code: "adapter_load_failed", msg: err.Error()}
	case manager.IsGenerationFailed(err):
		return &apiError{status: http.StatusInternalServerError, errType: errTypeServer, code: "generation_failed", msg: err.Error()}
	}
	var he HTTPError
	if errors.As(err, &he) {
		return &apiError{status: he.StatusCode(), errType: errTypeServer, msg: he.Error()}
	}
	return &apiError{status: http.StatusInternalServerError, errType: errTypeServer, msg: err.Error()}
}

// writeAPIError writes e as an OpenAI-style JSON error. Backpressure
// responses carry a Retry-After hint.
func writeAPIError(w http.ResponseWriter, e *apiError) {
	if e.status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: types.ErrorBody{
		Message: e.msg,
		Type:    e.errType,
		Code:    e.code,
		Param:   e.param,
	}})
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	errType := errTypeServer
	switch {
	case status == http.StatusUnauthorized:
		errType = errTypeAuth
	case status == http.StatusNotFound:
		errType = errTypeNotFound
	case status == http.StatusServiceUnavailable:
		errType = errTypeUnavailable
	case status >= 400 && status < 500:
		errType = errTypeInvalidRequest
	}
	writeAPIError(w, &apiError{status: status, errType: errType, msg: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
