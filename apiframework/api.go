// Package apiframework carries the shared HTTP plumbing: JSON
// encoding/decoding, the error envelope, request tracing middleware, and
// build metadata.
package apiframework

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// version is injected at build time via -ldflags.
var version = "unknown"

// GetVersion returns the build-injected version string.
func GetVersion() string {
	return version
}

// AboutServer is the payload of the version endpoint.
type AboutServer struct {
	Version        string `json:"version"`
	NodeInstanceID string `json:"nodeInstanceID"`
	Tenancy        string `json:"tenancy"`
}

// APIError pairs an underlying sentinel error with the client-facing message
// and classification that end up in the error envelope.
type APIError struct {
	err       error
	message   string
	param     string
	errorType string
	errorCode string
}

func (e *APIError) Error() string {
	return e.message
}

func (e *APIError) Unwrap() error {
	return e.err
}

// Encode writes v as the JSON response body with the given status code.
func Encode[T any](w http.ResponseWriter, _ *http.Request, status int, v T) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}

// Decode reads the request body as JSON into a T.
func Decode[T any](r *http.Request) (T, error) {
	var v T
	if r.Body == nil {
		return v, ErrEmptyRequestBody
	}
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		if errors.Is(err, io.EOF) {
			return v, ErrEmptyRequestBody
		}
		return v, fmt.Errorf("%w: %v", ErrUnprocessableEntity, err)
	}
	return v, nil
}

type errorBody struct {
	Message string  `json:"message"`
	Type    string  `json:"type"`
	Param   *string `json:"param,omitempty"`
	Code    string  `json:"code"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

// Error maps err to an HTTP status for the given operation and writes the
// error envelope. The shape matches what HandleAPIError expects on the
// client side.
func Error(w http.ResponseWriter, _ *http.Request, err error, op Operation) error {
	status := mapErrorToStatus(op, err)

	message := err.Error()
	param := ""
	errorType := ""
	errorCode := ""
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		message = apiErr.message
		param = apiErr.param
		errorType = apiErr.errorType
		errorCode = apiErr.errorCode
	}
	if errorType == "" {
		errorType, errorCode = getErrorMapping(err)
	}
	if errorType == "" {
		errorType, errorCode = getErrorTypeAndCode(status)
	}

	var paramPtr *string
	if param != "" {
		paramPtr = &param
	}
	resp := errorResponse{Error: errorBody{
		Message: message,
		Type:    errorType,
		Param:   paramPtr,
		Code:    errorCode,
	}}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(resp); encErr != nil {
		return fmt.Errorf("encode error response: %w", encErr)
	}
	return nil
}

// GetPathParam returns the named wildcard from the request pattern. The doc
// string describes the parameter for API documentation tooling; it is not
// evaluated at runtime.
func GetPathParam(r *http.Request, name string, doc string) string {
	_ = doc
	return r.PathValue(name)
}

// GetQueryParam returns the named query parameter, or defaultValue when the
// parameter is absent or empty. The doc string describes the parameter for
// API documentation tooling; it is not evaluated at runtime.
func GetQueryParam(r *http.Request, name string, defaultValue string, doc string) string {
	_ = doc
	value := r.URL.Query().Get(name)
	if value == "" {
		return defaultValue
	}
	return value
}
