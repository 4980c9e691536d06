package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gpu-persistd/internal/audit"
	"github.com/nerrad567/gpu-persistd/internal/device"
	"github.com/nerrad567/gpu-persistd/internal/numa"
	"github.com/nerrad567/gpu-persistd/internal/pci"
)

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}

// handleListDevices returns every registered device with its current
// persistence mode and NUMA status.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.manager.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleGetMode returns a single device's current state.
func (s *Server) handleGetMode(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.parseAddress(w, r)
	if !ok {
		return
	}

	snap, err := s.manager.GetPersistenceMode(addr)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// setModeRequest is the body of the mode and mode-only PUT routes.
type setModeRequest struct {
	Mode string `json:"mode"`
}

// handleSetMode sets a device's persistence mode along with the NUMA
// memory state derived from it.
func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	s.applyModeChange(w, r, s.manager.SetPersistenceMode)
}

// handleSetModeOnly sets a device's persistence mode without touching
// its NUMA memory state.
func (s *Server) handleSetModeOnly(w http.ResponseWriter, r *http.Request) {
	s.applyModeChange(w, r, s.manager.SetPersistenceModeOnly)
}

// applyModeChange decodes a mode request, applies it with the given
// manager command and returns the device's resulting state.
func (s *Server) applyModeChange(w http.ResponseWriter, r *http.Request,
	apply func(ctx context.Context, addr pci.Address, mode device.Mode) error,
) {
	addr, ok := s.parseAddress(w, r)
	if !ok {
		return
	}

	var req setModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body: "+err.Error())
		return
	}

	mode, err := device.ParseMode(req.Mode)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if err := apply(r.Context(), addr, mode); err != nil {
		writeDomainError(w, err)
		return
	}

	snap, err := s.manager.GetPersistenceMode(addr)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// setNumaStatusRequest is the body of the numa-status PUT route.
type setNumaStatusRequest struct {
	Status string `json:"status"`
}

// handleSetNumaStatus drives a device's NUMA memory state without
// touching its persistence mode.
func (s *Server) handleSetNumaStatus(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.parseAddress(w, r)
	if !ok {
		return
	}

	var req setNumaStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body: "+err.Error())
		return
	}

	target, err := parseNumaTarget(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}

	if err := s.manager.SetNumaStatus(r.Context(), addr, target); err != nil {
		writeDomainError(w, err)
		return
	}

	snap, err := s.manager.GetPersistenceMode(addr)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleListTransitions returns the transition audit trail, filtered and
// paginated by query parameters.
func (s *Server) handleListTransitions(w http.ResponseWriter, r *http.Request) {
	filter := audit.Filter{
		PCIAddress: r.URL.Query().Get("address"),
		Kind:       r.URL.Query().Get("kind"),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid limit: "+v)
			return
		}
		filter.Limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid offset: "+v)
			return
		}
		filter.Offset = n
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// parseAddress extracts and parses the {address} route parameter,
// writing a 400 response on failure.
func (s *Server) parseAddress(w http.ResponseWriter, r *http.Request) (pci.Address, bool) {
	addr, err := pci.Parse(chi.URLParam(r, "address"))
	if err != nil {
		writeDomainError(w, err)
		return pci.Address{}, false
	}
	return addr, true
}

// parseNumaTarget converts a request status name into a NUMA target.
// Only online and offline are accepted; the in-progress and failed
// states are kernel-reported, not requestable.
func parseNumaTarget(s string) (numa.Status, error) {
	switch s {
	case "online":
		return numa.StatusOnline, nil
	case "offline":
		return numa.StatusOffline, nil
	default:
		return 0, fmt.Errorf("status must be \"online\" or \"offline\", got %q", s)
	}
}
