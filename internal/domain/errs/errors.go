// Package errs defines the error taxonomy shared by the pipeline, the stores and
// the lifecycle service. Every failure carries a Kind (what went wrong), an
// optional Reason (why) and a human readable message naming the offending
// dataset, column or model.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error. Kinds implement error so callers can use errors.Is(err, errs.KindData).
type Kind string

const (
	KindData                 Kind = "DATA_ERROR"
	KindConfig               Kind = "CONFIG_ERROR"
	KindScalerNotFitted      Kind = "SCALER_NOT_FITTED"
	KindUnknownColumn        Kind = "UNKNOWN_COLUMN"
	KindModelNotFound        Kind = "MODEL_NOT_FOUND"
	KindArtifactNotFound     Kind = "ARTIFACT_NOT_FOUND"
	KindDatasetNotFound      Kind = "DATASET_NOT_FOUND"
	KindDatasetExists        Kind = "DATASET_EXISTS"
	KindTraining             Kind = "TRAINING_ERROR"
	KindCatalogWriteConflict Kind = "CATALOG_WRITE_CONFLICT"
	KindJobNotFound          Kind = "JOB_NOT_FOUND"
	KindInternal             Kind = "INTERNAL"
)

func (k Kind) Error() string { return string(k) }

// Reason refines a Kind. Reasons implement error for errors.Is as well.
type Reason string

const (
	InsufficientRows    Reason = "INSUFFICIENT_ROWS"
	UnknownTarget       Reason = "UNKNOWN_TARGET"
	MissingTimeColumn   Reason = "MISSING_TIME_COLUMN"
	DuplicateTimeColumn Reason = "DUPLICATE_TIME_COLUMN"
	MalformedSchema     Reason = "MALFORMED_SCHEMA"
	NoTrainableData     Reason = "NO_TRAINABLE_DATA"
	OutOfRange          Reason = "OUT_OF_RANGE"
	BadHyperparameter   Reason = "BAD_HYPERPARAMETER"
	Timeout             Reason = "TIMEOUT"
	Cancelled           Reason = "CANCELLED"
)

func (r Reason) Error() string { return string(r) }

// Error is the concrete error type returned across package boundaries.
type Error struct {
	Kind      Kind
	Reason    Reason
	Message   string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	prefix := string(e.Kind)
	if e.Reason != "" {
		prefix = fmt.Sprintf("%s(%s)", e.Kind, e.Reason)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches a Kind, a Reason, or another *Error with the same kind (and reason, if set).
func (e *Error) Is(target error) bool {
	switch t := target.(type) {
	case Kind:
		return e.Kind == t
	case Reason:
		return e.Reason != "" && e.Reason == t
	case *Error:
		return e.Kind == t.Kind && (t.Reason == "" || t.Reason == e.Reason)
	}
	return false
}

// New creates an error of the given kind.
func New(kind Kind, reason Reason, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind wrapping a cause.
func Wrap(kind Kind, reason Reason, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: reason, Message: fmt.Sprintf(format, args...), Err: err}
}

// AsRetryable marks the error as a transient failure.
func (e *Error) AsRetryable() *Error {
	e.Retryable = true
	return e
}

// Data builds a DataError.
func Data(reason Reason, format string, args ...any) *Error {
	return New(KindData, reason, format, args...)
}

// Config builds a ConfigError.
func Config(reason Reason, format string, args ...any) *Error {
	return New(KindConfig, reason, format, args...)
}

// KindOf returns the Kind of err, or KindInternal when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// ReasonOf returns the Reason of err, if any.
func ReasonOf(err error) Reason {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

// IsRetryable reports whether err was marked transient.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}
