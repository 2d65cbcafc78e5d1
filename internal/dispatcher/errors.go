package dispatcher

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cdeskio/activity-gateway/internal/core"
)

// errorEnvelope is the {kind, message, retryable} shape spec.md §6/§7
// requires every tool-boundary error response to carry.
type errorEnvelope struct {
	Kind      core.Kind `json:"kind"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Field     string    `json:"field,omitempty"`
	Timestamp string    `json:"timestamp"`
}

// statusFor maps a GatewayError Kind to an HTTP status, grounded on
// internal/api/errors.APIError.StatusCode's switch-on-code shape.
func statusFor(kind core.Kind) int {
	switch kind {
	case core.KindValidation:
		return http.StatusBadRequest
	case core.KindBackpressure, core.KindNoAvailAccount, core.KindCircuitOpen:
		return http.StatusServiceUnavailable
	case core.KindTimeout:
		return http.StatusGatewayTimeout
	case core.KindConfig:
		return http.StatusInternalServerError
	case core.KindWarehouse, core.KindIO:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind := core.KindOf(err)
	env := errorEnvelope{
		Kind:      kind,
		Message:   err.Error(),
		Retryable: defaultRetryableFor(err),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	var ge *core.GatewayError
	if asGatewayError(err, &ge) {
		env.Field = ge.Field
		env.Retryable = ge.Retryable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(kind))
	_ = json.NewEncoder(w).Encode(map[string]any{"error": env})
}

func defaultRetryableFor(err error) bool {
	var ge *core.GatewayError
	if asGatewayError(err, &ge) {
		return ge.Retryable
	}
	return false
}

func asGatewayError(err error, target **core.GatewayError) bool {
	for err != nil {
		if ge, ok := err.(*core.GatewayError); ok {
			*target = ge
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// badRequest wraps a JSON-decode failure as a ValidationError so the
// HTTP boundary's error envelope stays uniform regardless of whether
// the failure happened before or during a tool call.
func badRequest(err error) *core.GatewayError {
	return core.Wrap(core.KindValidation, err)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
