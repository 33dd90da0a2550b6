package gate_test

import (
	"context"
	"image"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/biometric"
	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/device/devicetest"
	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/gate"
	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/store"
	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/store/memory"
	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/types"
)

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordCall struct {
	Dir       types.Direction
	StudentNo string
	Method    types.Method
}

// fakeRecorder grants everything unless outcome or err is set.
type fakeRecorder struct {
	mu      sync.Mutex
	calls   []recordCall
	outcome *types.Outcome
	err     error
}

func (r *fakeRecorder) Record(_ context.Context, dir types.Direction, id string, m types.Method) (types.Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, recordCall{dir, id, m})
	if r.err != nil {
		return types.Outcome{}, r.err
	}
	if r.outcome != nil {
		return *r.outcome, nil
	}
	return types.Granted(types.Identity{StudentNo: id, FullName: "Student " + id}), nil
}

func (r *fakeRecorder) Calls() []recordCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordCall(nil), r.calls...)
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (n *fakeNotifier) Notify(id types.Identity, dir types.Direction) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, id.StudentNo+":"+string(dir))
}

func (n *fakeNotifier) Sent() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.sent...)
}

// fakeSwitch records the fingerprint activation state.
type fakeSwitch struct {
	mu          sync.Mutex
	active      bool
	deactivates int
}

func (s *fakeSwitch) Activate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = true
}

func (s *fakeSwitch) Deactivate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
	s.deactivates++
}

func (s *fakeSwitch) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

type staticGallery struct{ g *biometric.Gallery }

func (s staticGallery) Load(context.Context, bool) (*biometric.Gallery, error) { return s.g, nil }

// faceScript answers every verification pass with the current result.
type faceScript struct {
	mu     sync.Mutex
	result biometric.FaceResult
	passes int
}

func (f *faceScript) Match(_ context.Context, claimed string, _ image.Image, _ *biometric.Gallery) biometric.FaceResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.passes++
	return f.result
}

func (f *faceScript) Set(res biometric.FaceResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.result = res
}

func (f *faceScript) Passes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.passes
}

type harness struct {
	ctrl     *gate.Controller
	recorder *fakeRecorder
	notifier *fakeNotifier
	switcher *fakeSwitch
	faces    *faceScript
	camera   *devicetest.Camera
	store    *memory.Store
}

func newHarness(t *testing.T, cfg gate.Config) *harness {
	t.Helper()
	m := memory.New(store.OriginLocal)
	for _, id := range []string{"S100", "S200"} {
		if err := m.UpsertIdentity(context.Background(), types.Identity{StudentNo: id, FullName: "Student " + id}); err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}

	h := &harness{
		recorder: &fakeRecorder{},
		notifier: &fakeNotifier{},
		switcher: &fakeSwitch{},
		faces:    &faceScript{result: biometric.FaceResult{Reason: biometric.ReasonNoFace}},
		camera:   &devicetest.Camera{Frame: devicetest.Frame(64, 64), Interval: 5 * time.Millisecond},
		store:    m,
	}
	if cfg.ConfirmTimeout == 0 {
		cfg.ConfirmTimeout = 5 * time.Second
	}
	if cfg.Hold == 0 {
		cfg.Hold = 50 * time.Millisecond
	}
	cfg.HardwareRetry = 10 * time.Millisecond

	h.ctrl = gate.NewController(cfg, gate.Dependencies{
		Identities:  m,
		Ledger:      h.recorder,
		Notifier:    h.notifier,
		Gallery:     staticGallery{g: biometric.NewGallery(nil, nil)},
		Faces:       h.faces,
		Camera:      h.camera,
		Fingerprint: h.switcher,
	}, silentLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.ctrl.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}
