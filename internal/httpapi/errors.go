package httpapi

import (
	"encoding/json"
	"net/http"

	"inferd/internal/gateway"
	"inferd/pkg/types"
)

// statusForErr maps the gateway error taxonomy onto HTTP status codes:
// 429 QueueFull, 400 InvalidRequest/UnknownModel, 504 RequestTimeout,
// 502 BackendCrashed/ModelLoadFailed.
func statusForErr(err error) int {
	switch {
	case gateway.IsQueueFull(err):
		return http.StatusTooManyRequests
	case gateway.IsInvalidRequest(err), gateway.IsUnknownModel(err):
		return http.StatusBadRequest
	case gateway.IsRequestTimeout(err):
		return http.StatusGatewayTimeout
	case gateway.IsBackendCrashed(err), gateway.IsModelLoadFailed(err):
		return http.StatusBadGateway
	case gateway.IsCancelled(err):
		// client is gone; the status is moot but pick something sane
		return 499
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps err to a status and writes the standard payload.
func writeError(w http.ResponseWriter, err error) {
	status := statusForErr(err)
	reason := "internal"
	if re, ok := err.(gateway.ReasonError); ok {
		reason = re.Reason()
	}
	if status == http.StatusTooManyRequests {
		IncrementBackpressure(reason)
	}
	writeJSONError(w, status, reason, err.Error())
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, reason, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Reason: reason, Code: status})
}
