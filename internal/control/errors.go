package control

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gpu-persistd/internal/device"
	"github.com/nerrad567/gpu-persistd/internal/pci"
)

// ErrPermissions is returned by the root gate when the connecting
// process is not privileged to issue a mutating command.
var ErrPermissions = errors.New("control: operation requires root")

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest = "bad_request"
	ErrCodeNotFound   = "not_found"
	ErrCodeForbidden  = "forbidden"
	ErrCodeDriver     = "driver_error"
	ErrCodeNuma       = "numa_error"
	ErrCodeInternal   = "internal_error"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeDomainError maps a manager or repository error onto the HTTP
// error taxonomy. Diagnostic detail beyond the error string stays in
// the daemon log.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, device.ErrDeviceNotFound):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, device.ErrInvalidArgument), errors.Is(err, pci.ErrInvalidAddress):
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, ErrPermissions):
		writeError(w, http.StatusForbidden, ErrCodeForbidden, err.Error())
	case errors.Is(err, device.ErrDriverFailure):
		writeError(w, http.StatusInternalServerError, ErrCodeDriver, err.Error())
	case errors.Is(err, device.ErrNumaFailure):
		writeError(w, http.StatusInternalServerError, ErrCodeNuma, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}
