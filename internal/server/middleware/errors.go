package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"

	"github.com/nmdm/nmdm/internal/metrics"
	"github.com/nmdm/nmdm/internal/observability"
)

// Recovery turns a panic in a handler into a 500 response carrying a
// critical error envelope. The panic is logged with its stack and counted.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			stack := string(debug.Stack())
			requestID := GetRequestID(r.Context())
			endpoint := getEndpointPattern(r)

			envelope := errors.NewErrorEnvelope("INTERNAL_ERROR", fmt.Sprintf("panic: %v", rec)).
				WithCorrelationID(requestID)
			envelope, _ = envelope.WithContext(map[string]interface{}{
				"endpoint":    endpoint,
				"stack_trace": stack,
			})
			envelope, _ = envelope.WithSeverity(errors.SeverityCritical)

			metrics.RecordPanic()
			metrics.RecordErrorByEndpoint(endpoint, envelope.Code)
			observability.Logger().Error("Handler panicked",
				zap.Any("panic", rec),
				zap.String("method", r.Method),
				zap.String("endpoint", endpoint),
				zap.String("requestID", requestID),
				zap.String("stack", stack))

			writeErrorResponse(w, envelope, http.StatusInternalServerError)
		}()

		next.ServeHTTP(w, r)
	})
}

// ErrorResponse mirrors the control plane's error body. The errors package
// imports middleware for request IDs, so the body is rendered here directly.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

func writeErrorResponse(w http.ResponseWriter, envelope *errors.ErrorEnvelope, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: ErrorDetail{
		Code:      envelope.Code,
		Message:   envelope.Message,
		Details:   envelope.Context,
		RequestID: envelope.CorrelationID,
	}})
}
