// Package gate runs the verification session at one gate: it turns QR
// claims and fingerprint candidates into ledger decisions, confirming QR
// claims against the camera first.
package gate

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/biometric"
	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/device"
	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/errs"
	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/store"
	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/types"
)

// Recorder is the attendance ledger.
type Recorder interface {
	Record(ctx context.Context, dir types.Direction, studentNo string, method types.Method) (types.Outcome, error)
}

// Notifier sends guardian notifications. Notify must not block.
type Notifier interface {
	Notify(id types.Identity, dir types.Direction)
}

type Galleries interface {
	Load(ctx context.Context, force bool) (*biometric.Gallery, error)
}

type FaceVerifier interface {
	Match(ctx context.Context, claimed string, frame image.Image, g *biometric.Gallery) biometric.FaceResult
}

// FingerprintSwitch suspends and resumes fingerprint acquisition.
type FingerprintSwitch interface {
	Activate()
	Deactivate()
}

type Config struct {
	Direction      types.Direction
	ConfirmTimeout time.Duration // default 10s
	Hold           time.Duration // default 2s
	QueueSize      int           // default 16
	HardwareRetry  time.Duration // default 1s
}

type Dependencies struct {
	Identities  store.Provider
	Ledger      Recorder
	Notifier    Notifier
	Gallery     Galleries
	Faces       FaceVerifier
	Camera      device.CameraOpener
	Fingerprint FingerprintSwitch
}

type eventKind int

const (
	evQR eventKind = iota + 1
	evFingerprint
	evFaceResult
	evConfirmTimeout
	evHoldDone
)

type event struct {
	kind      eventKind
	session   string
	studentNo string
	matched   bool
	face      biometric.FaceResult
}

// Controller owns the gate's single verification session. All transitions
// happen on the Run goroutine; other goroutines talk to it through events.
type Controller struct {
	cfg    Config
	deps   Dependencies
	logger *slog.Logger

	events chan event
	done   chan struct{}

	// Owned by Run.
	session     string
	claimed     *types.Identity
	confirm     *time.Timer
	hold        *time.Timer
	stopCamera  context.CancelFunc
	cameraGroup sync.WaitGroup

	mu   sync.RWMutex
	snap Snapshot
}

func NewController(cfg Config, deps Dependencies, logger *slog.Logger) *Controller {
	if cfg.Direction == "" {
		cfg.Direction = types.DirectionEntry
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 10 * time.Second
	}
	if cfg.Hold <= 0 {
		cfg.Hold = 2 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	if cfg.HardwareRetry <= 0 {
		cfg.HardwareRetry = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With("component", "gate", "direction", string(cfg.Direction)),
		events: make(chan event, cfg.QueueSize),
		done:   make(chan struct{}),
		snap:   Snapshot{State: StateIdle, Status: StatusReady, UpdatedAt: time.Now().UTC()},
	}
}

// Snapshot returns the current session state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// SubmitQR offers a scanned QR code. It reports false when the code is
// empty, a session is active or the queue is full; the input is dropped.
func (c *Controller) SubmitQR(code string) bool {
	code = strings.TrimSpace(code)
	if code == "" || c.Snapshot().Active() {
		return false
	}
	return c.offer(event{kind: evQR, studentNo: code})
}

// SubmitFingerprint offers the result of one fingerprint identification.
// matched=false means a finger was read but no template matched.
func (c *Controller) SubmitFingerprint(studentNo string, matched bool) bool {
	if c.Snapshot().Active() {
		return false
	}
	return c.offer(event{kind: evFingerprint, studentNo: studentNo, matched: matched})
}

func (c *Controller) offer(ev event) bool {
	select {
	case c.events <- ev:
		return true
	default:
		return false
	}
}

// post delivers an internal event. It gives up once Run has returned.
func (c *Controller) post(ev event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// Run processes events until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	// done must close before teardown waits on the camera workers.
	defer c.teardown()
	defer close(c.done)

	c.logger.Info("session controller started")
	c.setFingerprint(true)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("session controller stopped")
			return nil
		case ev := <-c.events:
			c.handle(ctx, ev)
		}
	}
}

func (c *Controller) handle(ctx context.Context, ev event) {
	state := c.Snapshot().State

	switch ev.kind {
	case evQR:
		if state != StateIdle {
			c.logger.Debug("qr dropped, session active")
			return
		}
		c.onQR(ctx, ev.studentNo)

	case evFingerprint:
		if state != StateIdle {
			c.logger.Debug("fingerprint dropped, session active")
			return
		}
		c.onFingerprint(ctx, ev.studentNo, ev.matched)

	case evFaceResult:
		if ev.session != c.session || state != StateAwaitingFace {
			return
		}
		c.onFaceResult(ctx, ev.face)

	case evConfirmTimeout:
		if ev.session != c.session || state != StateAwaitingFace {
			return
		}
		c.logger.Info("face confirmation timed out", "session", c.session, "student_no", c.claimed.StudentNo)
		c.endCameraSession()
		c.toIdle(StatusTryAgain)

	case evHoldDone:
		if ev.session != c.session || state != StateDeciding {
			return
		}
		c.toIdle(StatusReady)
	}
}

func (c *Controller) onQR(ctx context.Context, code string) {
	c.setFingerprint(false)

	id, err := c.lookup(ctx, code)
	switch {
	case err != nil:
		c.logger.Warn("qr lookup failed", "error", err)
		c.toIdle(StatusDBError)
		return
	case id == nil:
		c.logger.Info("qr not registered", "code", code)
		c.toIdle(StatusNotRegistered)
		return
	}

	c.session = uuid.NewString()
	c.claimed = id
	sid := c.session
	c.publish(func(s *Snapshot) {
		s.SessionID = sid
		s.State = StateAwaitingFace
		s.Status = StatusQRVerified
		s.Detail = ""
		s.Identity = id
		s.Method = types.MethodQR
		s.FaceBox = nil
	})

	c.confirm = time.AfterFunc(c.cfg.ConfirmTimeout, func() {
		c.post(event{kind: evConfirmTimeout, session: sid})
	})

	camCtx, cancel := context.WithCancel(ctx)
	c.stopCamera = cancel
	c.cameraGroup.Add(1)
	go func() {
		defer c.cameraGroup.Done()
		c.runCamera(camCtx, sid, id.StudentNo)
	}()

	c.logger.Info("qr verified, awaiting face", "session", sid, "student_no", id.StudentNo)
}

func (c *Controller) onFingerprint(ctx context.Context, studentNo string, matched bool) {
	c.session = uuid.NewString()
	if !matched || studentNo == "" {
		c.logger.Info("fingerprint not registered", "session", c.session)
		c.startHold(StatusNotRegistered, "", nil, types.MethodFingerprint)
		return
	}
	c.decide(ctx, studentNo, types.MethodFingerprint)
}

func (c *Controller) onFaceResult(ctx context.Context, res biometric.FaceResult) {
	if !res.OK {
		c.publish(func(s *Snapshot) {
			s.Detail = res.Reason
			s.FaceBox = res.Box
		})
		return
	}

	c.logger.Info("face confirmed", "session", c.session, "student_no", c.claimed.StudentNo, "similarity", res.Similarity)
	if c.confirm != nil {
		c.confirm.Stop()
	}
	c.endCameraSession()
	c.publish(func(s *Snapshot) { s.FaceBox = res.Box })
	c.decide(ctx, c.claimed.StudentNo, types.MethodQR)
}

// decide records the event and holds the result on screen.
func (c *Controller) decide(ctx context.Context, studentNo string, method types.Method) {
	c.publish(func(s *Snapshot) {
		s.SessionID = c.session
		s.State = StateDeciding
		s.Method = method
	})

	out, err := c.deps.Ledger.Record(ctx, c.cfg.Direction, studentNo, method)
	if err != nil {
		level := slog.LevelError
		if errors.Is(err, errs.ErrConnectivity) {
			level = slog.LevelWarn
		}
		c.logger.Log(ctx, level, "ledger write failed", "session", c.session, "student_no", studentNo, "error", err)
		c.startHold(StatusDBError, err.Error(), c.claimed, method)
		return
	}

	id := out.Identity
	if id == nil {
		id = c.claimed
	}
	if out.IsGranted() && c.deps.Notifier != nil && id != nil {
		c.deps.Notifier.Notify(*id, c.cfg.Direction)
	}
	c.startHold(statusFor(c.cfg.Direction, out), out.Reason, id, method)
}

func (c *Controller) startHold(status, detail string, id *types.Identity, method types.Method) {
	sid := c.session
	c.publish(func(s *Snapshot) {
		s.SessionID = sid
		s.State = StateDeciding
		s.Status = status
		s.Detail = detail
		s.Identity = id
		s.Method = method
	})
	c.hold = time.AfterFunc(c.cfg.Hold, func() {
		c.post(event{kind: evHoldDone, session: sid})
	})
}

func (c *Controller) toIdle(status string) {
	c.session = ""
	c.claimed = nil
	c.publish(func(s *Snapshot) {
		*s = Snapshot{State: StateIdle, Status: status}
	})
	c.setFingerprint(true)
}

func (c *Controller) endCameraSession() {
	if c.stopCamera != nil {
		c.stopCamera()
		c.stopCamera = nil
	}
}

func (c *Controller) teardown() {
	if c.confirm != nil {
		c.confirm.Stop()
	}
	if c.hold != nil {
		c.hold.Stop()
	}
	c.endCameraSession()
	c.cameraGroup.Wait()
	c.setFingerprint(false)
}

func (c *Controller) lookup(ctx context.Context, studentNo string) (*types.Identity, error) {
	set, err := c.deps.Identities.Stores(ctx)
	if err != nil {
		return nil, err
	}
	id, ok, err := set.Identities.FindByID(ctx, studentNo)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", studentNo, err)
	}
	if !ok {
		return nil, nil
	}
	return &id, nil
}

func (c *Controller) setFingerprint(on bool) {
	if c.deps.Fingerprint == nil {
		return
	}
	if on {
		c.deps.Fingerprint.Activate()
	} else {
		c.deps.Fingerprint.Deactivate()
	}
}

func (c *Controller) publish(fn func(s *Snapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.snap)
	c.snap.UpdatedAt = time.Now().UTC()
}
