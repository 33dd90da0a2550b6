package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the gate. A nil *Metrics is valid and
// records nothing, so components can be built without a registry in tests.
type Metrics struct {
	Decisions          *prometheus.CounterVec
	DecisionDuration   prometheus.Histogram
	FaceSimilarity     prometheus.Histogram
	FaceRejections     *prometheus.CounterVec
	FingerprintMatches *prometheus.CounterVec
	StoreOrigin        *prometheus.CounterVec
	ReplicationBatches *prometheus.CounterVec
	ReplicatedEntries  prometheus.Counter
	SyncBacklog        prometheus.Gauge
	SyncPruned         prometheus.Counter
	Notifications      *prometheus.CounterVec
	GalleryReloads     prometheus.Counter
	GallerySize        *prometheus.GaugeVec
}

// New registers every gate metric with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "citadel_gate_decisions_total",
			Help: "Ledger decisions by direction, method and outcome",
		}, []string{"direction", "method", "outcome"}),
		DecisionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "citadel_gate_decision_duration_seconds",
			Help:    "Duration of ledger decisions including the store round trip",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		FaceSimilarity: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "citadel_gate_face_similarity",
			Help:    "Best cosine similarity per face verification pass",
			Buckets: []float64{0.3, 0.4, 0.5, 0.6, 0.65, 0.7, 0.75, 0.8, 0.85, 0.9, 0.95},
		}),
		FaceRejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "citadel_gate_face_rejections_total",
			Help: "Face verification passes that did not confirm, by reason",
		}, []string{"reason"}),
		FingerprintMatches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "citadel_gate_fingerprint_identifications_total",
			Help: "Fingerprint identification attempts by result",
		}, []string{"result"}),
		StoreOrigin: f.NewCounterVec(prometheus.CounterOpts{
			Name: "citadel_gate_store_connections_total",
			Help: "Store connections handed out by origin",
		}, []string{"origin"}),
		ReplicationBatches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "citadel_gate_replication_batches_total",
			Help: "Replication cycles by result",
		}, []string{"result"}),
		ReplicatedEntries: f.NewCounter(prometheus.CounterOpts{
			Name: "citadel_gate_replicated_entries_total",
			Help: "Sync queue entries delivered to the remote store",
		}),
		SyncBacklog: f.NewGauge(prometheus.GaugeOpts{
			Name: "citadel_gate_sync_backlog",
			Help: "Undelivered sync queue entries on the local replica",
		}),
		SyncPruned: f.NewCounter(prometheus.CounterOpts{
			Name: "citadel_gate_sync_pruned_total",
			Help: "Delivered sync queue entries deleted by retention",
		}),
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "citadel_gate_notifications_total",
			Help: "Guardian notifications by channel and result",
		}, []string{"channel", "result"}),
		GalleryReloads: f.NewCounter(prometheus.CounterOpts{
			Name: "citadel_gate_gallery_reloads_total",
			Help: "Biometric gallery rebuilds",
		}),
		GallerySize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "citadel_gate_gallery_templates",
			Help: "Templates in the current gallery snapshot by modality",
		}, []string{"modality"}),
	}
}

func (m *Metrics) ObserveDecision(direction, method, outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(direction, method, outcome).Inc()
	m.DecisionDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) ObserveFace(similarity float64, reason string, ok bool) {
	if m == nil {
		return
	}
	if similarity > 0 {
		m.FaceSimilarity.Observe(similarity)
	}
	if !ok {
		m.FaceRejections.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) ObserveFingerprint(matched bool) {
	if m == nil {
		return
	}
	result := "no_match"
	if matched {
		result = "match"
	}
	m.FingerprintMatches.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveOrigin(origin string) {
	if m == nil {
		return
	}
	m.StoreOrigin.WithLabelValues(origin).Inc()
}

// ObserveReplication records one replication cycle. result is one of
// "delivered", "empty", "remote_unavailable" or "error".
func (m *Metrics) ObserveReplication(result string, delivered int) {
	if m == nil {
		return
	}
	m.ReplicationBatches.WithLabelValues(result).Inc()
	if delivered > 0 {
		m.ReplicatedEntries.Add(float64(delivered))
	}
}

func (m *Metrics) SetBacklog(n int64) {
	if m == nil {
		return
	}
	m.SyncBacklog.Set(float64(n))
}

func (m *Metrics) AddPruned(n int64) {
	if m == nil {
		return
	}
	m.SyncPruned.Add(float64(n))
}

func (m *Metrics) ObserveNotification(channel string, err error) {
	if m == nil {
		return
	}
	result := "sent"
	if err != nil {
		result = "failed"
	}
	m.Notifications.WithLabelValues(channel, result).Inc()
}

func (m *Metrics) ObserveGallery(faces, fingerprints int) {
	if m == nil {
		return
	}
	m.GalleryReloads.Inc()
	m.GallerySize.WithLabelValues("face").Set(float64(faces))
	m.GallerySize.WithLabelValues("fingerprint").Set(float64(fingerprints))
}
