package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error by how the caller should react to it.
type Kind int

const (
	// KindValidation - rejected input; surfaced to the caller, never retried
	KindValidation Kind = iota
	// KindOwnership - caller is not the owner of the task/resource
	KindOwnership
	// KindNotFound - task, checkpoint, fragment or code does not exist
	KindNotFound
	// KindConsistency - tri-store invariant violated (orphans, missing evidence coding)
	KindConsistency
	// KindTransient - upstream network/timeout/5xx; retryable with backoff
	KindTransient
	// KindPersistent - schema or credentials missing; fatal for the operation
	KindPersistent
	// KindInternal - unexpected internal state
	KindInternal
)

// Error is the structured error carried across component boundaries.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
	Context map[string]interface{}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on Kind so callers can use errors.Is with a bare-kind sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithContext attaches a key/value pair for boundary logging.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func kindString(k Kind) string {
	switch k {
	case KindValidation:
		return "VALIDATION"
	case KindOwnership:
		return "OWNERSHIP"
	case KindNotFound:
		return "NOT_FOUND"
	case KindConsistency:
		return "CONSISTENCY"
	case KindTransient:
		return "TRANSIENT"
	case KindPersistent:
		return "PERSISTENT"
	default:
		return "INTERNAL"
	}
}

// DetailedString renders the error with kind and context for audit surfaces.
func (e *Error) DetailedString() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", kindString(e.Kind), e.Message))
	if e.Cause != nil {
		sb.WriteString(fmt.Sprintf(" (caused by: %v)", e.Cause))
	}
	for k, v := range e.Context {
		sb.WriteString(fmt.Sprintf(" %s=%v", k, v))
	}
	return sb.String()
}

// New creates a new structured error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a new structured error with formatting.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error, preserving it as the cause.
func Wrap(err error, kind Kind, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: err}
}

// Wrapf wraps an existing error with formatting.
func Wrapf(err error, kind Kind, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: err}
}

// Convenience constructors for the taxonomy used at the API boundary.

func Validation(message string) *Error { return New(KindValidation, message) }

func Validationf(format string, args ...interface{}) *Error {
	return Newf(KindValidation, format, args...)
}

func Ownership(message string) *Error { return New(KindOwnership, message) }

func NotFound(message string) *Error { return New(KindNotFound, message) }

func NotFoundf(format string, args ...interface{}) *Error {
	return Newf(KindNotFound, format, args...)
}

func Consistency(message string) *Error { return New(KindConsistency, message) }

func Consistencyf(format string, args ...interface{}) *Error {
	return Newf(KindConsistency, format, args...)
}

func Transient(message string, cause error) *Error {
	return &Error{Kind: KindTransient, Message: message, Cause: cause}
}

func Persistent(message string, cause error) *Error {
	return &Error{Kind: KindPersistent, Message: message, Cause: cause}
}

func Internal(message string) *Error { return New(KindInternal, message) }

func Internalf(format string, args ...interface{}) *Error {
	return Newf(KindInternal, format, args...)
}

// Artifact-store sentinels.

// StorageUnavailable means the artifact backend is not configured.
func StorageUnavailable(cause error) *Error {
	return Wrap(cause, KindPersistent, "artifact storage unavailable")
}

// TenantRequired means a strict-mode write was attempted without org/project.
func TenantRequired(detail string) *Error {
	return Newf(KindValidation, "tenant required: %s", detail)
}

// TransientIO wraps a retryable artifact-store network failure.
func TransientIO(cause error) *Error {
	return Wrap(cause, KindTransient, "transient artifact I/O failure")
}

// AxialError is a validation failure of the axial evidence gate.
type AxialError struct {
	Reason string
	// UncodedIDs lists evidence fragments not coded with the target code.
	UncodedIDs []string
}

func (e *AxialError) Error() string {
	if len(e.UncodedIDs) > 0 {
		return fmt.Sprintf("axial: %s: uncoded evidence %v", e.Reason, e.UncodedIDs)
	}
	return "axial: " + e.Reason
}

// AxialNotReadyError reports why the axial phase cannot start yet.
type AxialNotReadyError struct {
	BlockingReasons []string
}

func (e *AxialNotReadyError) Error() string {
	return fmt.Sprintf("axial not ready: %s", strings.Join(e.BlockingReasons, "; "))
}

// transientKeywords is the keyword filter used to classify upstream failures
// as retryable. Server-side error codes would be preferable when the backend
// exposes them; the keyword set matches what Qdrant and the gateway emit.
var transientKeywords = []string{
	"timeout",
	"gateway",
	"502",
	"temporarily unavailable",
}

// IsTransient reports whether an upstream error should be retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var se *Error
	if errors.As(err, &se) {
		if se.Kind == KindTransient {
			return true
		}
		if se.Kind == KindValidation || se.Kind == KindPersistent {
			return false
		}
	}
	msg := strings.ToLower(err.Error())
	for _, kw := range transientKeywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}

// HTTPStatus maps an error to the boundary status contract.
func HTTPStatus(err error) int {
	if err == nil {
		return 200
	}
	var ae *AxialNotReadyError
	if errors.As(err, &ae) {
		return 409
	}
	var xe *AxialError
	if errors.As(err, &xe) {
		return 400
	}
	var se *Error
	if !errors.As(err, &se) {
		return 500
	}
	switch se.Kind {
	case KindValidation, KindConsistency:
		return 400
	case KindOwnership:
		return 403
	case KindNotFound:
		return 404
	case KindTransient, KindPersistent:
		return 502
	default:
		return 500
	}
}

// KindOf returns the kind of a structured error, KindInternal otherwise.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}

// IsFatal reports whether an error should terminate a runner task rather
// than a single step: persistent upstream and internal failures only.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	k := KindOf(err)
	return k == KindPersistent || k == KindInternal
}
