package gate_test

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/biometric"
	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/device"
	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/device/devicetest"
	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/errs"
	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/gate"
)

type fakeEnroller struct {
	mu          sync.Mutex
	fingerprint map[string][]byte
	face        map[string][]float32
}

func newFakeEnroller() *fakeEnroller {
	return &fakeEnroller{fingerprint: map[string][]byte{}, face: map[string][]float32{}}
}

func (e *fakeEnroller) EnrollFingerprint(_ context.Context, id string, tpl []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fingerprint[id] = tpl
	return nil
}

func (e *fakeEnroller) EnrollFace(_ context.Context, id string, emb []float32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.face[id] = emb
	return nil
}

func TestFingerprintEnrollment_TakesReaderFromLoop(t *testing.T) {
	reader := devicetest.NewReader(nil)
	loop := startLoop(t, reader, &sinkRecorder{})
	loop.Activate()
	require.Eventually(t, reader.IsOpen, time.Second, time.Millisecond)

	enr := newFakeEnroller()
	task := &gate.FingerprintEnrollment{
		Reader:   reader,
		Loop:     loop,
		Enroller: enr,
		Interval: 20 * time.Millisecond,
	}

	// Present the finger only once the enrollment holds the reader, so the
	// loop cannot consume it.
	go func() {
		for reader.Opens() < 2 {
			time.Sleep(time.Millisecond)
		}
		reader.Present([]byte("minutiae"))
	}()

	require.NoError(t, task.Run(context.Background(), "S100"))
	assert.Equal(t, []byte("minutiae"), enr.fingerprint["S100"])

	// The loop takes the reader back with a fresh handle.
	require.Eventually(t, reader.IsOpen, time.Second, time.Millisecond)
	assert.GreaterOrEqual(t, reader.Opens(), 3)
}

func TestFingerprintEnrollment_GivesUpAfterAttempts(t *testing.T) {
	reader := devicetest.NewReader(nil)
	loop := gate.NewFingerprintLoop(reader, staticGallery{}, scoreIdentifier{}, nil, fastTiming(), silentLogger())
	task := &gate.FingerprintEnrollment{
		Reader:   reader,
		Loop:     loop,
		Enroller: newFakeEnroller(),
		Interval: time.Millisecond,
	}

	err := task.Run(context.Background(), "S100")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrHardware))
	assert.Equal(t, 5, reader.Acquires())
	assert.False(t, reader.IsOpen())
}

func TestFingerprintEnrollment_ReaderUnavailable(t *testing.T) {
	reader := devicetest.NewReader(nil)
	reader.OpenErr = errors.New("no device")
	loop := gate.NewFingerprintLoop(reader, staticGallery{}, scoreIdentifier{}, nil, fastTiming(), silentLogger())
	task := &gate.FingerprintEnrollment{Reader: reader, Loop: loop, Enroller: newFakeEnroller()}

	err := task.Run(context.Background(), "S100")
	assert.True(t, errors.Is(err, errs.ErrHardware))
}

func TestFaceEnrollment_CapturesSteadyFace(t *testing.T) {
	camera := &devicetest.Camera{Frame: devicetest.Frame(100, 100), Interval: 2 * time.Millisecond}
	detector := &devicetest.Detector{Detections: []device.Detection{{Box: image.Rect(20, 20, 70, 70), Score: 0.9}}}
	embedder := &devicetest.Embedder{Vector: []float32{0.1, 0.2, 0.3}}
	enr := newFakeEnroller()

	task := &gate.FaceEnrollment{
		Camera:   camera,
		Detector: detector,
		Embedder: embedder,
		Enroller: enr,
		StillFor: 20 * time.Millisecond,
	}
	require.NoError(t, task.Run(context.Background(), "S100"))

	assert.Equal(t, []float32{0.1, 0.2, 0.3}, enr.face["S100"])
	assert.Equal(t, 1, embedder.Calls)
	assert.False(t, camera.IsOpen(), "camera must be released")
}

func TestFaceEnrollment_IgnoresWeakDetections(t *testing.T) {
	camera := &devicetest.Camera{Frame: devicetest.Frame(100, 100), Interval: 2 * time.Millisecond}
	detector := &devicetest.Detector{Detections: []device.Detection{{Box: image.Rect(20, 20, 70, 70), Score: 0.78}}}
	embedder := &devicetest.Embedder{Vector: []float32{1}}

	task := &gate.FaceEnrollment{
		Camera:   camera,
		Detector: detector,
		Embedder: embedder,
		Enroller: newFakeEnroller(),
		StillFor: 5 * time.Millisecond,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	err := task.Run(ctx, "S100")
	assert.True(t, errors.Is(err, errs.ErrCancelled))
	assert.Zero(t, embedder.Calls)
	assert.False(t, camera.IsOpen())
}

// movingDetector shifts the box 30px on every call.
type movingDetector struct{ n int }

func (d *movingDetector) Detect(context.Context, image.Image) ([]device.Detection, error) {
	d.n++
	x := (d.n % 2) * 30
	return []device.Detection{{Box: image.Rect(x, 0, x+40, 40), Score: 0.95}}, nil
}

func TestFaceEnrollment_MovingFaceNeverCaptures(t *testing.T) {
	camera := &devicetest.Camera{Frame: devicetest.Frame(100, 100), Interval: 2 * time.Millisecond}
	embedder := &devicetest.Embedder{Vector: []float32{1}}
	task := &gate.FaceEnrollment{
		Camera:   camera,
		Detector: &movingDetector{},
		Embedder: embedder,
		Enroller: newFakeEnroller(),
		StillFor: 5 * time.Millisecond,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	err := task.Run(ctx, "S100")
	assert.True(t, errors.Is(err, errs.ErrCancelled))
	assert.Zero(t, embedder.Calls)
}

func TestEnrollments_SingleTaskAndCancel(t *testing.T) {
	camera := &devicetest.Camera{Frame: devicetest.Frame(100, 100), Interval: 2 * time.Millisecond}
	face := &gate.FaceEnrollment{
		Camera:   camera,
		Detector: &devicetest.Detector{},
		Embedder: &devicetest.Embedder{},
		Enroller: newFakeEnroller(),
	}
	m := gate.NewEnrollments(nil, face, time.Minute, silentLogger())
	defer m.Close()

	_, ok := m.Status()
	assert.False(t, ok)

	st, err := m.Start(context.Background(), biometric.ModalityFace, "S100")
	require.NoError(t, err)
	assert.Equal(t, gate.EnrollmentRunning, st.State)
	assert.NotEmpty(t, st.ID)

	_, err = m.Start(context.Background(), biometric.ModalityFace, "S200")
	assert.ErrorIs(t, err, gate.ErrEnrollmentBusy)

	_, err = m.Start(context.Background(), biometric.ModalityFingerprint, "S200")
	assert.ErrorIs(t, err, errs.ErrInvalidArgument, "no fingerprint task configured")

	require.Eventually(t, camera.IsOpen, time.Second, time.Millisecond)
	assert.True(t, m.Cancel())

	require.Eventually(t, func() bool {
		st, _ := m.Status()
		return st.State == gate.EnrollmentCancelled
	}, time.Second, time.Millisecond)
	assert.False(t, m.Cancel())
	assert.Eventually(t, func() bool { return !camera.IsOpen() }, time.Second, time.Millisecond)
}

func TestEnrollments_RefusedWhileSessionActive(t *testing.T) {
	camera := &devicetest.Camera{Frame: devicetest.Frame(100, 100), Interval: 2 * time.Millisecond}
	face := &gate.FaceEnrollment{
		Camera:   camera,
		Detector: &devicetest.Detector{},
		Embedder: &devicetest.Embedder{},
		Enroller: newFakeEnroller(),
	}
	m := gate.NewEnrollments(nil, face, time.Minute, silentLogger())
	defer m.Close()

	var active atomic.Bool
	active.Store(true)
	m.SessionActive = active.Load

	_, err := m.Start(context.Background(), biometric.ModalityFace, "S100")
	assert.ErrorIs(t, err, gate.ErrSessionActive)
	_, ok := m.Status()
	assert.False(t, ok, "a refused start must not record a task")
	assert.False(t, camera.IsOpen())

	active.Store(false)
	_, err = m.Start(context.Background(), biometric.ModalityFace, "S100")
	require.NoError(t, err)
	require.Eventually(t, camera.IsOpen, time.Second, time.Millisecond)
}

func TestEnrollments_SurvivesRequestContext(t *testing.T) {
	camera := &devicetest.Camera{Frame: devicetest.Frame(100, 100), Interval: 2 * time.Millisecond}
	enr := newFakeEnroller()
	face := &gate.FaceEnrollment{
		Camera:   camera,
		Detector: &devicetest.Detector{Detections: []device.Detection{{Box: image.Rect(10, 10, 50, 50), Score: 0.99}}},
		Embedder: &devicetest.Embedder{Vector: []float32{1, 0}},
		Enroller: enr,
		StillFor: 10 * time.Millisecond,
	}
	m := gate.NewEnrollments(nil, face, time.Minute, silentLogger())
	defer m.Close()

	reqCtx, cancel := context.WithCancel(context.Background())
	_, err := m.Start(reqCtx, biometric.ModalityFace, "S100")
	require.NoError(t, err)
	cancel()

	require.Eventually(t, func() bool {
		st, _ := m.Status()
		return st.State == gate.EnrollmentSucceeded
	}, time.Second, time.Millisecond)
	st, _ := m.Status()
	assert.NotNil(t, st.FinishedAt)
}
