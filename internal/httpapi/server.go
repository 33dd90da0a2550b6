package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/biometric"
	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/errs"
	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/gate"
)

// Gate is the session controller as seen by the operator API.
type Gate interface {
	SubmitQR(code string) bool
	Snapshot() gate.Snapshot
}

type Gallery interface {
	Load(ctx context.Context, force bool) (*biometric.Gallery, error)
}

type Enrollments interface {
	Start(ctx context.Context, modality biometric.Modality, studentNo string) (gate.EnrollmentStatus, error)
	Cancel() bool
	Status() (gate.EnrollmentStatus, bool)
}

type Dependencies struct {
	Logger      *slog.Logger
	Addr        string
	Gate        Gate
	Gallery     Gallery
	Enrollments Enrollments
	// Health reports whether the gate can serve; nil means always healthy.
	Health  func(ctx context.Context) error
	Metrics http.Handler
}

type Server struct {
	logger *slog.Logger
	gate   Gate
	galls  Gallery
	enroll Enrollments
	health func(ctx context.Context) error
	http   *http.Server
}

func NewServer(deps Dependencies) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		logger: logger.With("component", "httpapi"),
		gate:   deps.Gate,
		galls:  deps.Gallery,
		enroll: deps.Enrollments,
		health: deps.Health,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(loggingMiddleware(s.logger))

	r.Get("/healthz", s.handleHealth)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/qr", s.handleQR)
		r.Get("/status", s.handleStatus)
		r.Post("/gallery/refresh", s.handleGalleryRefresh)
		r.Post("/enroll/{modality}/{studentNo}", s.handleEnrollStart)
		r.Get("/enroll", s.handleEnrollStatus)
		r.Delete("/enroll", s.handleEnrollCancel)
	})

	s.http = &http.Server{
		Addr:              deps.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the root http.Handler. Used by tests to mount the server
// on an httptest.Server without binding a real port.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) Start() error {
	s.logger.Info("http listening", "addr", s.http.Addr)
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// ── Health ──────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "unhealthy", err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// ── QR ──────────────────────────────────────────────────────────────────────

type qrRequest struct {
	Code string `json:"code"`
}

func (s *Server) handleQR(w http.ResponseWriter, r *http.Request) {
	var code string
	if isProtobuf(r) {
		var msg wrapperspb.StringValue
		if err := readProto(r, &msg); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_proto", "could not decode protobuf body")
			return
		}
		code = msg.GetValue()
	} else {
		var req qrRequest
		dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", "could not decode JSON body")
			return
		}
		code = req.Code
	}

	code = strings.TrimSpace(code)
	if code == "" {
		writeError(w, http.StatusBadRequest, "missing_code", "code is required")
		return
	}
	if s.gate.Snapshot().Active() {
		writeError(w, http.StatusConflict, "session_active", "a verification session is in progress")
		return
	}
	if !s.gate.SubmitQR(code) {
		writeError(w, http.StatusServiceUnavailable, "queue_full", "gate is busy, try again")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

// ── Status ──────────────────────────────────────────────────────────────────

type statusResponse struct {
	SessionID   string    `json:"session_id,omitempty"`
	State       string    `json:"state"`
	Status      string    `json:"status"`
	Detail      string    `json:"detail,omitempty"`
	StudentNo   string    `json:"student_no,omitempty"`
	Name        string    `json:"name,omitempty"`
	YearSection string    `json:"year_section,omitempty"`
	Method      string    `json:"method,omitempty"`
	FaceBox     []int     `json:"face_box,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toStatusResponse(snap gate.Snapshot) statusResponse {
	resp := statusResponse{
		SessionID: snap.SessionID,
		State:     snap.State.String(),
		Status:    snap.Status,
		Detail:    snap.Detail,
		UpdatedAt: snap.UpdatedAt,
	}
	if snap.Identity != nil {
		resp.StudentNo = snap.Identity.StudentNo
		resp.Name = snap.Identity.DisplayName()
		resp.YearSection = snap.Identity.YearSection()
	}
	if snap.Method != 0 {
		resp.Method = snap.Method.String()
	}
	if b := snap.FaceBox; b != nil {
		resp.FaceBox = []int{b.Min.X, b.Min.Y, b.Max.X, b.Max.Y}
	}
	return resp
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := toStatusResponse(s.gate.Snapshot())
	if !wantsProtobuf(r) {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	fields := map[string]any{
		"state":      resp.State,
		"status":     resp.Status,
		"updated_at": resp.UpdatedAt.Format(time.RFC3339Nano),
	}
	for k, v := range map[string]string{
		"session_id":   resp.SessionID,
		"detail":       resp.Detail,
		"student_no":   resp.StudentNo,
		"name":         resp.Name,
		"year_section": resp.YearSection,
		"method":       resp.Method,
	} {
		if v != "" {
			fields[k] = v
		}
	}
	if len(resp.FaceBox) == 4 {
		box := make([]any, 0, 4)
		for _, v := range resp.FaceBox {
			box = append(box, float64(v))
		}
		fields["face_box"] = box
	}
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "status to struct", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}
	writeProto(w, http.StatusOK, msg)
}

// ── Gallery ─────────────────────────────────────────────────────────────────

type galleryResponse struct {
	Faces        int       `json:"faces"`
	Fingerprints int       `json:"fingerprints"`
	LoadedAt     time.Time `json:"loaded_at"`
}

func (s *Server) handleGalleryRefresh(w http.ResponseWriter, r *http.Request) {
	g, err := s.galls.Load(r.Context(), true)
	if err != nil {
		s.logger.WarnContext(r.Context(), "gallery refresh failed", "error", err)
		if errors.Is(err, errs.ErrConnectivity) {
			writeError(w, http.StatusServiceUnavailable, "store_unavailable", "no store reachable")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", "gallery refresh failed")
		return
	}
	writeJSON(w, http.StatusOK, galleryResponse{
		Faces:        g.FaceCount(),
		Fingerprints: g.FingerprintCount(),
		LoadedAt:     g.LoadedAt(),
	})
}

// ── Enrollment ──────────────────────────────────────────────────────────────

type enrollmentResponse struct {
	ID         string     `json:"id"`
	Modality   string     `json:"modality"`
	StudentNo  string     `json:"student_no"`
	State      string     `json:"state"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func toEnrollmentResponse(st gate.EnrollmentStatus) enrollmentResponse {
	return enrollmentResponse{
		ID:         st.ID,
		Modality:   string(st.Modality),
		StudentNo:  st.StudentNo,
		State:      string(st.State),
		Error:      st.Error,
		StartedAt:  st.StartedAt,
		FinishedAt: st.FinishedAt,
	}
}

func (s *Server) handleEnrollStart(w http.ResponseWriter, r *http.Request) {
	modality := biometric.Modality(chi.URLParam(r, "modality"))
	studentNo := strings.TrimSpace(chi.URLParam(r, "studentNo"))
	if modality != biometric.ModalityFace && modality != biometric.ModalityFingerprint {
		writeError(w, http.StatusBadRequest, "invalid_modality", "modality must be face or fingerprint")
		return
	}

	st, err := s.enroll.Start(r.Context(), modality, studentNo)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, toEnrollmentResponse(st))
	case errors.Is(err, gate.ErrEnrollmentBusy):
		writeError(w, http.StatusConflict, "enrollment_running", "an enrollment is already running")
	case errors.Is(err, gate.ErrSessionActive):
		writeError(w, http.StatusConflict, "session_active", "a verification session is in progress")
	case errors.Is(err, errs.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		s.logger.ErrorContext(r.Context(), "start enrollment", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not start enrollment")
	}
}

func (s *Server) handleEnrollStatus(w http.ResponseWriter, _ *http.Request) {
	st, ok := s.enroll.Status()
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "no enrollment has run")
		return
	}
	writeJSON(w, http.StatusOK, toEnrollmentResponse(st))
}

func (s *Server) handleEnrollCancel(w http.ResponseWriter, _ *http.Request) {
	if !s.enroll.Cancel() {
		writeError(w, http.StatusNotFound, "not_running", "no enrollment is running")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}
