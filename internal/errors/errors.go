// Package errors maps application errors onto the HTTP error envelope.
//
// Every error response has the shape
//
//	{"error": {"code": "...", "message": "...", "details": {...}, "request_id": "..."}}
package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/3leaps/vigil/pkg/alert"
	"github.com/3leaps/vigil/pkg/executor"
	"github.com/3leaps/vigil/pkg/job"
	"github.com/3leaps/vigil/pkg/jobregistry"
	"github.com/3leaps/vigil/pkg/model"
	"github.com/3leaps/vigil/pkg/sample"
	"github.com/3leaps/vigil/pkg/source"
	"github.com/3leaps/vigil/pkg/strategy"
)

// Error codes used in the envelope.
const (
	CodeInvalidArgument    = "INVALID_ARGUMENT"
	CodeUnknownStrategy    = "UNKNOWN_STRATEGY"
	CodeNotFound           = "NOT_FOUND"
	CodeConflict           = "CONFLICT"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeRateLimited        = "RATE_LIMITED"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeExternalService    = "EXTERNAL_SERVICE_ERROR"
	CodeInternal           = "INTERNAL_ERROR"
)

// HTTPError is the body of the envelope.
type HTTPError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// HTTPErrorResponse is the envelope written for every failed request.
type HTTPErrorResponse struct {
	Error HTTPError `json:"error"`
}

// AppError is an error that already knows how it should be reported.
type AppError struct {
	Code    string
	Status  int
	Message string
	Details map[string]any
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetails attaches structured context to the error.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	e.Details = details
	return e
}

// NewInvalidArgument reports bad caller input.
func NewInvalidArgument(message string) *AppError {
	return &AppError{Code: CodeInvalidArgument, Status: http.StatusBadRequest, Message: message}
}

// NewNotFound reports a missing resource.
func NewNotFound(message string) *AppError {
	return &AppError{Code: CodeNotFound, Status: http.StatusNotFound, Message: message}
}

// NewConflict reports a request that clashes with current state.
func NewConflict(message string) *AppError {
	return &AppError{Code: CodeConflict, Status: http.StatusConflict, Message: message}
}

// NewExternalServiceError reports a failing dependency.
func NewExternalServiceError(message string) *AppError {
	return &AppError{Code: CodeExternalService, Status: http.StatusBadGateway, Message: message}
}

// WrapInternal wraps err as an internal error. The request id is carried
// along when ctx has one.
func WrapInternal(ctx context.Context, err error, message string) *AppError {
	ae := &AppError{Code: CodeInternal, Status: http.StatusInternalServerError, Message: message, Err: err}
	if id := RequestIDFromContext(ctx); id != "" {
		ae.Details = map[string]any{"request_id": id}
	}
	return ae
}

// Classify returns the status and code for err.
func Classify(err error) (int, string) {
	var ae *AppError
	switch {
	case err == nil:
		return http.StatusOK, ""
	case stderrors.As(err, &ae):
		return ae.Status, ae.Code
	case stderrors.Is(err, strategy.ErrUnknownStrategy):
		return http.StatusBadRequest, CodeUnknownStrategy
	case stderrors.Is(err, job.ErrNotFound),
		stderrors.Is(err, alert.ErrAlertNotFound),
		stderrors.Is(err, sample.ErrNotFound),
		stderrors.Is(err, model.ErrModelNotFound),
		stderrors.Is(err, source.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case stderrors.Is(err, job.ErrAlreadyStarted),
		stderrors.Is(err, job.ErrInvalidTransition),
		stderrors.Is(err, jobregistry.ErrAmbiguousID),
		stderrors.Is(err, sample.ErrDuplicate),
		stderrors.Is(err, model.ErrDuplicate):
		return http.StatusConflict, CodeConflict
	case stderrors.Is(err, alert.ErrInvalidStatus),
		stderrors.Is(err, job.ErrInvalidInput),
		stderrors.Is(err, model.ErrInvalidStatus),
		stderrors.Is(err, sample.ErrNoSamples),
		stderrors.Is(err, source.ErrInvalidRef),
		stderrors.Is(err, source.ErrUnsupported):
		return http.StatusBadRequest, CodeInvalidArgument
	case stderrors.Is(err, executor.ErrShutdown):
		return http.StatusServiceUnavailable, CodeServiceUnavailable
	case stderrors.Is(err, alert.ErrPersistence),
		stderrors.Is(err, model.ErrPersistence),
		stderrors.Is(err, source.ErrUnavailable),
		stderrors.Is(err, source.ErrAccessDenied):
		return http.StatusBadGateway, CodeExternalService
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// RespondWithError writes the envelope for err.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := Classify(err)

	message := err.Error()
	var details map[string]any
	var ae *AppError
	if stderrors.As(err, &ae) {
		details = ae.Details
	}
	if status == http.StatusInternalServerError && ae == nil {
		// Unclassified errors are not echoed to clients.
		message = "internal server error"
	}

	WriteError(w, r, status, code, message, details)
}

// WriteError writes an envelope with explicit fields.
func WriteError(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]any) {
	resp := HTTPErrorResponse{
		Error: HTTPError{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
	if r != nil {
		resp.Error.RequestID = RequestIDFromContext(r.Context())
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

type requestIDKey struct{}

// WithRequestID returns a context carrying id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the request id stored in ctx, if any.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
