package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/biometric"
	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/errs"
)

var (
	// ErrEnrollmentBusy is returned when an enrollment is already running.
	ErrEnrollmentBusy = errors.New("enrollment already running")

	// ErrSessionActive is returned while a verification session holds the
	// camera or reader.
	ErrSessionActive = errors.New("verification session active")
)

type EnrollmentState string

const (
	EnrollmentRunning   EnrollmentState = "running"
	EnrollmentSucceeded EnrollmentState = "succeeded"
	EnrollmentFailed    EnrollmentState = "failed"
	EnrollmentCancelled EnrollmentState = "cancelled"
)

type EnrollmentStatus struct {
	ID         string
	Modality   biometric.Modality
	StudentNo  string
	State      EnrollmentState
	Error      string
	StartedAt  time.Time
	FinishedAt *time.Time
}

type enrollmentTask interface {
	Run(ctx context.Context, studentNo string) error
}

// Enrollments runs at most one capture task at a time. Every task is bound
// by a hard timeout.
type Enrollments struct {
	fingerprint enrollmentTask
	face        enrollmentTask
	timeout     time.Duration
	logger      *slog.Logger

	// SessionActive, when set, reports whether a verification session is
	// in progress. Start refuses while it is.
	SessionActive func() bool

	mu      sync.Mutex
	current *EnrollmentStatus
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewEnrollments(fp *FingerprintEnrollment, face *FaceEnrollment, timeout time.Duration, logger *slog.Logger) *Enrollments {
	if timeout <= 0 {
		timeout = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Enrollments{timeout: timeout, logger: logger.With("component", "enrollment")}
	// Keep nil pointers out of the interfaces.
	if fp != nil {
		m.fingerprint = fp
	}
	if face != nil {
		m.face = face
	}
	return m
}

// Start launches a capture task detached from ctx's cancellation.
func (m *Enrollments) Start(ctx context.Context, modality biometric.Modality, studentNo string) (EnrollmentStatus, error) {
	var task enrollmentTask
	switch modality {
	case biometric.ModalityFingerprint:
		task = m.fingerprint
	case biometric.ModalityFace:
		task = m.face
	}
	if task == nil {
		return EnrollmentStatus{}, fmt.Errorf("enrollment modality %q: %w", modality, errs.ErrInvalidArgument)
	}
	if studentNo == "" {
		return EnrollmentStatus{}, fmt.Errorf("enrollment: empty student number: %w", errs.ErrInvalidArgument)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil && m.current.State == EnrollmentRunning {
		return EnrollmentStatus{}, ErrEnrollmentBusy
	}
	if m.SessionActive != nil && m.SessionActive() {
		return EnrollmentStatus{}, ErrSessionActive
	}

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
	st := &EnrollmentStatus{
		ID:        uuid.NewString(),
		Modality:  modality,
		StudentNo: studentNo,
		State:     EnrollmentRunning,
		StartedAt: time.Now().UTC(),
	}
	m.current, m.cancel = st, cancel

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		err := task.Run(runCtx, studentNo)
		m.finish(st, err)
	}()

	m.logger.Info("enrollment started", "id", st.ID, "modality", modality, "student_no", studentNo)
	return *st, nil
}

func (m *Enrollments) finish(st *EnrollmentStatus, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	st.FinishedAt = &now
	switch {
	case err == nil:
		st.State = EnrollmentSucceeded
	case errors.Is(err, errs.ErrCancelled):
		st.State = EnrollmentCancelled
		st.Error = err.Error()
	default:
		st.State = EnrollmentFailed
		st.Error = err.Error()
	}
	m.logger.Info("enrollment finished", "id", st.ID, "state", st.State, "error", st.Error)
}

// Cancel stops the running task. It reports whether one was running.
func (m *Enrollments) Cancel() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || m.current.State != EnrollmentRunning {
		return false
	}
	m.cancel()
	return true
}

// Status returns the running or most recent task.
func (m *Enrollments) Status() (EnrollmentStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return EnrollmentStatus{}, false
	}
	return *m.current, true
}

// Close cancels any running task and waits for it.
func (m *Enrollments) Close() {
	m.Cancel()
	m.wg.Wait()
}
