package shared

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/phrazzld/eharchive/internal/platform/logger"
)

// Response is the envelope of every API answer. Status is 0 on success and
// an endpoint specific code otherwise.
type Response struct {
	OK      bool   `json:"ok"`
	Status  int    `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

// ResponseOption defines a function to customize response behavior.
type ResponseOption func(*responseOptions)

// responseOptions holds configurable options for error responses.
type responseOptions struct {
	elevateLogLevel bool
}

// WithElevatedLogLevel returns a ResponseOption that raises 4xx errors to WARN level
// instead of the default DEBUG level. Use for important operational issues like
// repeated auth failures.
func WithElevatedLogLevel() ResponseOption {
	return func(opts *responseOptions) {
		opts.elevateLogLevel = true
	}
}

// RespondWithJSON writes a JSON response with the given status code and data.
func RespondWithJSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.FromContext(r.Context()).Error("failed to encode JSON response", "error", err)
	}
}

// RespondWithData writes a successful envelope holding data.
func RespondWithData(w http.ResponseWriter, r *http.Request, httpStatus int, data any) {
	RespondWithJSON(w, r, httpStatus, Response{OK: true, Data: data})
}

// RespondWithError writes a failed envelope. code is the API status code in
// the body, httpStatus the status of the HTTP response.
func RespondWithError(w http.ResponseWriter, r *http.Request, httpStatus, code int, message string) {
	traceID := GetTraceID(r.Context())
	logger.FromContext(r.Context()).Debug("sending error response",
		"status_code", httpStatus,
		"code", code,
		"message", message,
		"trace_id", traceID,
		"path", r.URL.Path,
		"method", r.Method)

	RespondWithJSON(w, r, httpStatus, Response{Status: code, Message: message, TraceID: traceID})
}

// RespondWithErrorAndLog writes a failed envelope with a safe message and
// logs the detailed error.
//
// Log level strategy:
// - 5xx errors: Always logged at ERROR level
// - 4xx errors: By default logged at DEBUG level
// - WithElevatedLogLevel raises 4xx errors to WARN
func RespondWithErrorAndLog(
	w http.ResponseWriter,
	r *http.Request,
	httpStatus, code int,
	userMessage string,
	err error,
	opts ...ResponseOption,
) {
	traceID := GetTraceID(r.Context())

	logAttrs := []slog.Attr{
		slog.String("trace_id", traceID),
		slog.String("path", r.URL.Path),
		slog.String("method", r.Method),
		slog.Int("status_code", httpStatus),
		slog.String("user_message", userMessage),
	}
	if err != nil {
		logAttrs = append(logAttrs,
			slog.String("error", err.Error()),
			slog.String("error_type", fmt.Sprintf("%T", err)))
	}

	responseOpts := responseOptions{}
	for _, opt := range opts {
		opt(&responseOpts)
	}

	logLevel := slog.LevelDebug
	if httpStatus >= http.StatusInternalServerError {
		logLevel = slog.LevelError
	} else if responseOpts.elevateLogLevel && httpStatus >= http.StatusBadRequest {
		logLevel = slog.LevelWarn
	}
	logger.FromContext(r.Context()).LogAttrs(r.Context(), logLevel, "API error response", logAttrs...)

	RespondWithJSON(w, r, httpStatus, Response{Status: code, Message: userMessage, TraceID: traceID})
}
