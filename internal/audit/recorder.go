package audit

import (
	"context"

	"github.com/nerrad567/gpu-persistd/internal/device"
)

// Logger is the logging interface consumed by the recorder.
type Logger interface {
	Error(msg string, args ...any)
}

// Recorder adapts the repository to the device manager's transition
// reporting. Persistence failures are logged, never propagated: a full
// disk must not block a persistence-mode change.
type Recorder struct {
	repo   Repository
	logger Logger
}

// NewRecorder creates a recorder writing to the given repository.
func NewRecorder(repo Repository, logger Logger) *Recorder {
	return &Recorder{repo: repo, logger: logger}
}

// RecordTransition implements device.TransitionRecorder.
func (r *Recorder) RecordTransition(ctx context.Context, tr device.Transition) {
	entry := &Transition{
		PCIAddress: tr.Address,
		Kind:       tr.Kind,
		FromState:  tr.From,
		ToState:    tr.To,
		Success:    tr.Success,
		Error:      tr.Error,
		CreatedAt:  tr.At,
	}

	if err := r.repo.Create(ctx, entry); err != nil && r.logger != nil {
		r.logger.Error("recording transition failed",
			"device", tr.Address, "kind", tr.Kind, "error", err)
	}
}
