package device

import (
	"context"
	"errors"
	"testing"

	"github.com/nerrad567/gpu-persistd/internal/driver"
	"github.com/nerrad567/gpu-persistd/internal/numa"
	"github.com/nerrad567/gpu-persistd/internal/pci"
)

type fakeHandle struct {
	addr pci.Address
}

func (h fakeHandle) Address() pci.Address { return h.addr }

// fakeDriver is an in-memory driver.Interface counting attach and
// detach invocations.
type fakeDriver struct {
	addrs     []pci.Address
	attachErr error
	detachErr error
	attaches  int
	detaches  int
}

func (f *fakeDriver) Enumerate() ([]pci.Address, error) {
	return f.addrs, nil
}

func (f *fakeDriver) Attach(addr pci.Address) (driver.Handle, error) {
	f.attaches++
	if f.attachErr != nil {
		return nil, f.attachErr
	}
	return fakeHandle{addr: addr}, nil
}

func (f *fakeDriver) Detach(driver.Handle) error {
	f.detaches++
	return f.detachErr
}

func (f *fakeDriver) Shutdown() error { return nil }

// stubNumaClient satisfies numa.DeviceClient for manager tests; the
// manager never calls through it.
type stubNumaClient struct{}

func (stubNumaClient) Info() (numa.Info, error)    { return numa.Info{}, nil }
func (stubNumaClient) SetStatus(numa.Status) error { return nil }
func (stubNumaClient) Close() error                { return nil }

// fakeNumaController counts online and offline sequences.
type fakeNumaController struct {
	onlineErr  error
	offlineErr error
	auto       bool
	onlines    int
	offlines   int
}

func (f *fakeNumaController) Online(pci.Address) (numa.DeviceClient, bool, error) {
	f.onlines++
	if f.onlineErr != nil {
		return nil, false, f.onlineErr
	}
	return stubNumaClient{}, f.auto, nil
}

func (f *fakeNumaController) Offline(client numa.DeviceClient, _ pci.Address, _ bool) error {
	f.offlines++
	return f.offlineErr
}

// recordingRecorder collects every transition the manager reports.
type recordingRecorder struct {
	transitions []Transition
}

func (r *recordingRecorder) RecordTransition(_ context.Context, tr Transition) {
	r.transitions = append(r.transitions, tr)
}

var managerAddr = pci.Address{Domain: 0, Bus: 0x65, Slot: 0, Function: 0}

func newTestManager(t *testing.T, drv *fakeDriver, numaCtl *fakeNumaController) (*Manager, *recordingRecorder) {
	t.Helper()

	if drv.addrs == nil {
		drv.addrs = []pci.Address{managerAddr}
	}

	registry := NewRegistry()
	if err := registry.Populate(drv); err != nil {
		t.Fatalf("Populate() error = %v", err)
	}

	m := NewManager(registry, drv, numaCtl, nil)
	rec := &recordingRecorder{}
	m.AddRecorder(rec)
	return m, rec
}

func TestSetPersistenceMode_Enable(t *testing.T) {
	drv := &fakeDriver{}
	numaCtl := &fakeNumaController{}
	m, rec := newTestManager(t, drv, numaCtl)

	if err := m.SetPersistenceMode(context.Background(), managerAddr, ModeEnabled); err != nil {
		t.Fatalf("SetPersistenceMode() error = %v", err)
	}

	snap, err := m.GetPersistenceMode(managerAddr)
	if err != nil {
		t.Fatalf("GetPersistenceMode() error = %v", err)
	}
	if snap.Mode != "enabled" || snap.NumaStatus != "online" {
		t.Errorf("snapshot = %+v, want enabled/online", snap)
	}
	if drv.attaches != 1 || numaCtl.onlines != 1 {
		t.Errorf("attaches = %d, onlines = %d, want 1 each", drv.attaches, numaCtl.onlines)
	}

	if len(rec.transitions) != 2 {
		t.Fatalf("recorded %d transitions, want 2", len(rec.transitions))
	}
	if rec.transitions[0].Kind != TransitionKindMode || !rec.transitions[0].Success {
		t.Errorf("first transition = %+v, want successful mode change", rec.transitions[0])
	}
	if rec.transitions[1].Kind != TransitionKindNuma || !rec.transitions[1].Success {
		t.Errorf("second transition = %+v, want successful NUMA change", rec.transitions[1])
	}
}

func TestSetPersistenceMode_NoOp(t *testing.T) {
	drv := &fakeDriver{}
	numaCtl := &fakeNumaController{}
	m, _ := newTestManager(t, drv, numaCtl)

	ctx := context.Background()
	if err := m.SetPersistenceMode(ctx, managerAddr, ModeEnabled); err != nil {
		t.Fatalf("SetPersistenceMode() error = %v", err)
	}
	if err := m.SetPersistenceMode(ctx, managerAddr, ModeEnabled); err != nil {
		t.Fatalf("repeat SetPersistenceMode() error = %v", err)
	}

	if drv.attaches != 1 {
		t.Errorf("attaches = %d, want 1: matching request must not re-invoke the driver", drv.attaches)
	}
	if numaCtl.onlines != 1 {
		t.Errorf("onlines = %d, want 1", numaCtl.onlines)
	}
}

func TestSetPersistenceMode_NumaFailureRollsBack(t *testing.T) {
	drv := &fakeDriver{}
	numaCtl := &fakeNumaController{onlineErr: errors.New("blocks missing")}
	m, rec := newTestManager(t, drv, numaCtl)

	err := m.SetPersistenceMode(context.Background(), managerAddr, ModeEnabled)
	if !errors.Is(err, ErrNumaFailure) {
		t.Fatalf("SetPersistenceMode() error = %v, want ErrNumaFailure", err)
	}

	snap, _ := m.GetPersistenceMode(managerAddr)
	if snap.Mode != "disabled" {
		t.Errorf("mode = %q, want rolled back to %q", snap.Mode, "disabled")
	}
	if snap.NumaStatus != "online_failed" {
		t.Errorf("numa status = %q, want %q", snap.NumaStatus, "online_failed")
	}
	if drv.detaches != 1 {
		t.Errorf("detaches = %d, want 1 rollback detach", drv.detaches)
	}

	// Failed NUMA transition and the rollback are both on record.
	var numaFailed bool
	for _, tr := range rec.transitions {
		if tr.Kind == TransitionKindNuma && !tr.Success && tr.Error != "" {
			numaFailed = true
		}
	}
	if !numaFailed {
		t.Error("no failed NUMA transition recorded")
	}
}

func TestSetPersistenceMode_Disable(t *testing.T) {
	drv := &fakeDriver{}
	numaCtl := &fakeNumaController{}
	m, _ := newTestManager(t, drv, numaCtl)

	ctx := context.Background()
	if err := m.SetPersistenceMode(ctx, managerAddr, ModeEnabled); err != nil {
		t.Fatalf("enable error = %v", err)
	}
	if err := m.SetPersistenceMode(ctx, managerAddr, ModeDisabled); err != nil {
		t.Fatalf("disable error = %v", err)
	}

	snap, _ := m.GetPersistenceMode(managerAddr)
	if snap.Mode != "disabled" || snap.NumaStatus != "offline" {
		t.Errorf("snapshot = %+v, want disabled/offline", snap)
	}
	if drv.detaches != 1 || numaCtl.offlines != 1 {
		t.Errorf("detaches = %d, offlines = %d, want 1 each", drv.detaches, numaCtl.offlines)
	}
}

func TestSetPersistenceMode_UnknownDevice(t *testing.T) {
	m, _ := newTestManager(t, &fakeDriver{}, &fakeNumaController{})

	other := pci.Address{Domain: 0, Bus: 0x17, Slot: 0}
	if err := m.SetPersistenceMode(context.Background(), other, ModeEnabled); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("SetPersistenceMode() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestSetPersistenceModeOnly(t *testing.T) {
	drv := &fakeDriver{}
	numaCtl := &fakeNumaController{}
	m, _ := newTestManager(t, drv, numaCtl)

	if err := m.SetPersistenceModeOnly(context.Background(), managerAddr, ModeEnabled); err != nil {
		t.Fatalf("SetPersistenceModeOnly() error = %v", err)
	}

	snap, _ := m.GetPersistenceMode(managerAddr)
	if snap.Mode != "enabled" || snap.NumaStatus != "offline" {
		t.Errorf("snapshot = %+v, want enabled with memory left offline", snap)
	}
	if numaCtl.onlines != 0 {
		t.Errorf("onlines = %d, want 0", numaCtl.onlines)
	}
}

func TestSetNumaStatus(t *testing.T) {
	drv := &fakeDriver{}
	numaCtl := &fakeNumaController{}
	m, _ := newTestManager(t, drv, numaCtl)

	ctx := context.Background()
	if err := m.SetPersistenceModeOnly(ctx, managerAddr, ModeEnabled); err != nil {
		t.Fatalf("enable error = %v", err)
	}

	if err := m.SetNumaStatus(ctx, managerAddr, numa.StatusOnline); err != nil {
		t.Fatalf("SetNumaStatus(online) error = %v", err)
	}
	snap, _ := m.GetPersistenceMode(managerAddr)
	if snap.NumaStatus != "online" {
		t.Errorf("numa status = %q, want %q", snap.NumaStatus, "online")
	}

	if err := m.SetNumaStatus(ctx, managerAddr, numa.StatusOffline); err != nil {
		t.Fatalf("SetNumaStatus(offline) error = %v", err)
	}
	snap, _ = m.GetPersistenceMode(managerAddr)
	if snap.NumaStatus != "offline" {
		t.Errorf("numa status = %q, want %q", snap.NumaStatus, "offline")
	}
}

func TestSetNumaStatus_RequiresEnabledMode(t *testing.T) {
	m, _ := newTestManager(t, &fakeDriver{}, &fakeNumaController{})

	err := m.SetNumaStatus(context.Background(), managerAddr, numa.StatusOnline)
	if !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("SetNumaStatus() error = %v, want ErrInvalidArgument", err)
	}
}

func TestSetNumaStatus_InvalidTarget(t *testing.T) {
	m, _ := newTestManager(t, &fakeDriver{}, &fakeNumaController{})

	for _, target := range []numa.Status{numa.StatusOnlineInProgress, numa.StatusOnlineFailed, numa.StatusDisabled} {
		if err := m.SetNumaStatus(context.Background(), managerAddr, target); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("SetNumaStatus(%s) error = %v, want ErrInvalidArgument", target, err)
		}
	}
}

func TestSetNumaStatus_NoOp(t *testing.T) {
	numaCtl := &fakeNumaController{}
	m, _ := newTestManager(t, &fakeDriver{}, numaCtl)

	if err := m.SetNumaStatus(context.Background(), managerAddr, numa.StatusOffline); err != nil {
		t.Fatalf("SetNumaStatus() error = %v", err)
	}
	if numaCtl.offlines != 0 {
		t.Errorf("offlines = %d, want 0 for matching target", numaCtl.offlines)
	}
}

func TestDisableAll(t *testing.T) {
	second := pci.Address{Domain: 0, Bus: 0x17, Slot: 0}
	drv := &fakeDriver{addrs: []pci.Address{managerAddr, second}}
	numaCtl := &fakeNumaController{}
	m, _ := newTestManager(t, drv, numaCtl)

	ctx := context.Background()
	if err := m.SetPersistenceMode(ctx, managerAddr, ModeEnabled); err != nil {
		t.Fatalf("enable error = %v", err)
	}

	m.DisableAll(ctx)

	for _, snap := range m.List() {
		if snap.Mode != "disabled" {
			t.Errorf("device %s mode = %q after DisableAll, want %q", snap.Address, snap.Mode, "disabled")
		}
	}
	if drv.detaches != 1 {
		t.Errorf("detaches = %d, want 1: only the enabled device is touched", drv.detaches)
	}
}

func TestApplyDefaultMode(t *testing.T) {
	second := pci.Address{Domain: 0, Bus: 0x17, Slot: 0}
	drv := &fakeDriver{addrs: []pci.Address{managerAddr, second}}
	m, _ := newTestManager(t, drv, &fakeNumaController{})

	m.ApplyDefaultMode(context.Background(), ModeEnabled)

	for _, snap := range m.List() {
		if snap.Mode != "enabled" {
			t.Errorf("device %s mode = %q, want %q", snap.Address, snap.Mode, "enabled")
		}
	}
	if drv.attaches != 2 {
		t.Errorf("attaches = %d, want 2", drv.attaches)
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"enabled", ModeEnabled, false},
		{"disabled", ModeDisabled, false},
		{"Enabled", ModeDisabled, true},
		{"on", ModeDisabled, true},
		{"", ModeDisabled, true},
	}

	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("ParseMode(%q) error = %v, want ErrInvalidArgument", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseMode(%q) = (%v, %v), want (%v, nil)", tt.in, got, err, tt.want)
		}
	}
}
