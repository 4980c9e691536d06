package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gpu-persistd/internal/driver"
	"github.com/nerrad567/gpu-persistd/internal/numa"
	"github.com/nerrad567/gpu-persistd/internal/pci"
)

// NumaController is the NUMA sequencing capability consumed by the
// manager. Satisfied by *numa.Controller; tests supply fakes.
type NumaController interface {
	Online(addr pci.Address) (numa.DeviceClient, bool, error)
	Offline(client numa.DeviceClient, addr pci.Address, autoOnline bool) error
}

// TransitionRecorder receives every state transition attempt for
// auditing or metrics. Implementations must not block; failures are
// theirs to handle.
type TransitionRecorder interface {
	RecordTransition(ctx context.Context, tr Transition)
}

// Manager drives persistence-mode and NUMA transitions for the
// registered devices. All commands are serialised behind a single
// mutex: at most one transition runs at any time.
type Manager struct {
	mu        sync.Mutex
	registry  *Registry
	drv       driver.Interface
	numa      NumaController
	recorders []TransitionRecorder
	logger    Logger
}

// NewManager creates a manager over the given registry, driver binding
// and NUMA controller.
//
// Parameters:
//   - registry: Populated device registry
//   - drv: Vendor driver binding
//   - numaCtl: NUMA sequencing controller
//   - logger: Logger for transitions; nil for no logging
func NewManager(registry *Registry, drv driver.Interface, numaCtl NumaController, logger Logger) *Manager {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Manager{
		registry: registry,
		drv:      drv,
		numa:     numaCtl,
		logger:   logger,
	}
}

// AddRecorder registers a transition recorder. Not safe to call once
// commands are being served.
func (m *Manager) AddRecorder(r TransitionRecorder) {
	m.recorders = append(m.recorders, r)
}

// SetPersistenceMode sets the device's persistence mode and drives the
// NUMA memory state derived from it: enabling onlines the memory,
// disabling offlines it.
//
// A request matching the current mode is a no-op success; the driver is
// not re-invoked. If the NUMA transition fails after the mode changed,
// the mode change is rolled back best-effort and the NUMA failure is
// returned.
func (m *Manager) SetPersistenceMode(ctx context.Context, addr pci.Address, mode Mode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, err := m.registry.Lookup(addr)
	if err != nil {
		return err
	}

	if d.Mode == mode {
		m.logger.Debug("persistence mode unchanged", "device", d.Address.String(), "mode", mode.String())
		return nil
	}

	from := d.Mode
	if err := m.applyMode(ctx, d, mode); err != nil {
		return err
	}

	target := numa.StatusOffline
	if mode == ModeEnabled {
		target = numa.StatusOnline
	}

	if err := m.applyNuma(ctx, d, target); err != nil {
		m.logger.Warn("rolling back persistence mode after NUMA failure",
			"device", d.Address.String(), "mode", from.String())
		if rerr := m.applyMode(ctx, d, from); rerr != nil {
			m.logger.Error("persistence mode rollback failed",
				"device", d.Address.String(), "error", rerr)
		}
		return err
	}

	return nil
}

// SetPersistenceModeOnly sets the device's persistence mode without
// touching its NUMA memory state.
func (m *Manager) SetPersistenceModeOnly(ctx context.Context, addr pci.Address, mode Mode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, err := m.registry.Lookup(addr)
	if err != nil {
		return err
	}

	if d.Mode == mode {
		m.logger.Debug("persistence mode unchanged", "device", d.Address.String(), "mode", mode.String())
		return nil
	}

	return m.applyMode(ctx, d, mode)
}

// SetNumaStatus drives the device's NUMA memory state without touching
// its persistence mode. Only online and offline are valid targets, and
// onlining requires persistence mode to be enabled so the memory cannot
// outlive the driver state backing it.
func (m *Manager) SetNumaStatus(ctx context.Context, addr pci.Address, target numa.Status) error {
	if target != numa.StatusOnline && target != numa.StatusOffline {
		return fmt.Errorf("%w: NUMA target must be online or offline, got %s", ErrInvalidArgument, target)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	d, err := m.registry.Lookup(addr)
	if err != nil {
		return err
	}

	if target == numa.StatusOnline && d.Mode != ModeEnabled {
		return fmt.Errorf("%w: persistence mode must be enabled before onlining memory", ErrInvalidArgument)
	}

	if d.NumaStatus == target {
		m.logger.Debug("NUMA status unchanged", "device", d.Address.String(), "status", target.String())
		return nil
	}

	return m.applyNuma(ctx, d, target)
}

// GetPersistenceMode returns the device's current state.
func (m *Manager) GetPersistenceMode(addr pci.Address) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, err := m.registry.Lookup(addr)
	if err != nil {
		return Snapshot{}, err
	}
	return d.snapshot(), nil
}

// List returns a snapshot of every registered device in discovery order.
func (m *Manager) List() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snaps := make([]Snapshot, 0, m.registry.Count())
	for _, d := range m.registry.All() {
		snaps = append(snaps, d.snapshot())
	}
	return snaps
}

// ApplyDefaultMode sets the configured startup mode on every device.
// Per-device failures are logged and skipped so one bad device does not
// block the rest.
func (m *Manager) ApplyDefaultMode(ctx context.Context, mode Mode) {
	for _, d := range m.registry.All() {
		if err := m.SetPersistenceMode(ctx, d.Address, mode); err != nil {
			m.logger.Error("applying default persistence mode failed",
				"device", d.Address.String(), "mode", mode.String(), "error", err)
		}
	}
}

// DisableAll disables persistence on every enabled device. Used during
// teardown; failures are logged and skipped.
func (m *Manager) DisableAll(ctx context.Context) {
	for _, d := range m.registry.All() {
		if d.Mode != ModeEnabled {
			continue
		}
		if err := m.SetPersistenceMode(ctx, d.Address, ModeDisabled); err != nil {
			m.logger.Error("disabling persistence during teardown failed",
				"device", d.Address.String(), "error", err)
		}
	}
}

// applyMode performs the attachment side of a mode change and records
// the transition. Caller holds the lock.
func (m *Manager) applyMode(ctx context.Context, d *Device, mode Mode) error {
	from := d.Mode

	var err error
	switch mode {
	case ModeEnabled:
		var handle driver.Handle
		handle, err = m.drv.Attach(d.Address)
		if err == nil {
			d.handle = handle
			d.Mode = ModeEnabled
		}
	case ModeDisabled:
		if d.handle != nil {
			err = m.drv.Detach(d.handle)
		}
		if err == nil {
			d.handle = nil
			d.Mode = ModeDisabled
		}
	}
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrDriverFailure, err)
	}

	m.record(ctx, d, TransitionKindMode, from.String(), mode.String(), err)
	if err == nil {
		m.logger.Info("persistence mode changed",
			"device", d.Address.String(), "from", from.String(), "to", mode.String())
	}
	return err
}

// applyNuma performs a NUMA transition and records it. Caller holds the
// lock.
func (m *Manager) applyNuma(ctx context.Context, d *Device, target numa.Status) error {
	from := d.NumaStatus

	var err error
	switch target {
	case numa.StatusOnline:
		var client numa.DeviceClient
		var auto bool
		client, auto, err = m.numa.Online(d.Address)
		if err == nil {
			d.numaClient = client
			d.autoOnline = auto
			d.NumaStatus = numa.StatusOnline
		} else {
			d.NumaStatus = numa.StatusOnlineFailed
		}

	case numa.StatusOffline:
		if d.numaClient == nil && from != numa.StatusOnline {
			// Nothing was onlined, nothing to undo.
			d.NumaStatus = numa.StatusOffline
			return nil
		}
		err = m.numa.Offline(d.numaClient, d.Address, d.autoOnline)
		if err == nil {
			d.numaClient = nil
			d.autoOnline = false
			d.NumaStatus = numa.StatusOffline
		} else {
			d.NumaStatus = numa.StatusOfflineFailed
		}
	}
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrNumaFailure, err)
	}

	m.record(ctx, d, TransitionKindNuma, from.String(), target.String(), err)
	return err
}

// record fans a transition attempt out to every registered recorder.
func (m *Manager) record(ctx context.Context, d *Device, kind, from, to string, err error) {
	tr := Transition{
		Address: d.Address.String(),
		Kind:    kind,
		From:    from,
		To:      to,
		Success: err == nil,
		At:      time.Now().UTC(),
	}
	if err != nil {
		tr.Error = err.Error()
	}

	for _, r := range m.recorders {
		r.RecordTransition(ctx, tr)
	}
}
