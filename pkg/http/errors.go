package http

import (
	"errors"
	"fmt"
	"net/http"

	"PriceCast/internal/domain/errs"
)

// AppError represents application-level error with HTTP status.
type AppError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Field   string                 `json:"field,omitempty"`
	Params  map[string]interface{} `json:"params,omitempty"`
	Status  int                    `json:"-"`
	Err     error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new application error.
func NewAppError(code, field, message string, status int) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Field:   field,
		Status:  status,
		Params:  make(map[string]interface{}),
	}
}

// WithParam sets a single error param.
func (e *AppError) WithParam(key string, value interface{}) *AppError {
	if e.Params == nil {
		e.Params = make(map[string]interface{})
	}
	e.Params[key] = value
	return e
}

// WithError wraps an underlying error.
func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

// NotFoundErrorf creates a 404 error with formatting.
func NotFoundErrorf(format string, a ...interface{}) *AppError {
	return NewAppError("ERR_NOT_FOUND", "", fmt.Sprintf(format, a...), http.StatusNotFound)
}

// BadRequestErrorf creates a 400 error with formatting.
func BadRequestErrorf(format string, a ...interface{}) *AppError {
	return NewAppError("ERR_BAD_REQUEST", "", fmt.Sprintf(format, a...), http.StatusBadRequest)
}

// InternalError creates a 500 error.
func InternalError(message string) *AppError {
	return NewAppError("ERR_INTERNAL", "", message, http.StatusInternalServerError)
}

type kindMapping struct {
	code   string
	status int
}

var kindStatus = map[errs.Kind]kindMapping{
	errs.KindData:                 {"ERR_DATA", http.StatusUnprocessableEntity},
	errs.KindConfig:               {"ERR_CONFIG", http.StatusBadRequest},
	errs.KindScalerNotFitted:      {"ERR_SCALER_NOT_FITTED", http.StatusInternalServerError},
	errs.KindUnknownColumn:        {"ERR_UNKNOWN_COLUMN", http.StatusUnprocessableEntity},
	errs.KindModelNotFound:        {"ERR_MODEL_NOT_FOUND", http.StatusNotFound},
	errs.KindArtifactNotFound:     {"ERR_ARTIFACT_NOT_FOUND", http.StatusNotFound},
	errs.KindDatasetNotFound:      {"ERR_DATASET_NOT_FOUND", http.StatusNotFound},
	errs.KindDatasetExists:        {"ERR_DATASET_EXISTS", http.StatusConflict},
	errs.KindTraining:             {"ERR_TRAINING", http.StatusInternalServerError},
	errs.KindCatalogWriteConflict: {"ERR_CATALOG_CONFLICT", http.StatusConflict},
	errs.KindJobNotFound:          {"ERR_JOB_NOT_FOUND", http.StatusNotFound},
	errs.KindInternal:             {"ERR_INTERNAL", http.StatusInternalServerError},
}

// FromError converts any error into an AppError. Domain errors keep their
// kind as a distinct code and carry their reason as a param.
func FromError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	var de *errs.Error
	if !errors.As(err, &de) {
		return InternalError("Something went wrong").WithError(err)
	}
	m, ok := kindStatus[de.Kind]
	if !ok {
		m = kindStatus[errs.KindInternal]
	}
	ae := NewAppError(m.code, "", de.Message, m.status).WithError(err)
	ae.WithParam("kind", string(de.Kind))
	if de.Reason != "" {
		ae.WithParam("reason", string(de.Reason))
	}
	return ae
}
