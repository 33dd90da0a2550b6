package biometric

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/metrics"
	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/store"
)

// FaceEntry is one decrypted, unit-norm face embedding.
type FaceEntry struct {
	StudentNo string
	Embedding []float64
}

// Gallery is an immutable snapshot of enrolled templates. Face templates are
// held decrypted; fingerprint templates stay sealed until a scan opens them.
type Gallery struct {
	faces        []FaceEntry
	index        map[string]int
	fingerprints []store.SealedTemplate
	loadedAt     time.Time
}

// NewGallery builds a snapshot from already-decoded entries. faces must be
// ordered by student number.
func NewGallery(faces []FaceEntry, fingerprints []store.SealedTemplate) *Gallery {
	g := &Gallery{
		faces:        faces,
		index:        make(map[string]int, len(faces)),
		fingerprints: fingerprints,
		loadedAt:     time.Now().UTC(),
	}
	for i, f := range faces {
		g.index[f.StudentNo] = i
	}
	return g
}

func (g *Gallery) HasFace(studentNo string) bool {
	if g == nil {
		return false
	}
	_, ok := g.index[studentNo]
	return ok
}

func (g *Gallery) FaceCount() int {
	if g == nil {
		return 0
	}
	return len(g.faces)
}

func (g *Gallery) FingerprintCount() int {
	if g == nil {
		return 0
	}
	return len(g.fingerprints)
}

func (g *Gallery) LoadedAt() time.Time {
	if g == nil {
		return time.Time{}
	}
	return g.loadedAt
}

// GalleryCache owns the current gallery snapshot. Concurrent loads share one
// rebuild, and a rebuild that started before a newer one finished never
// replaces the newer snapshot.
type GalleryCache struct {
	stores  store.Provider
	sealer  *Sealer
	logger  *slog.Logger
	metrics *metrics.Metrics

	group   singleflight.Group
	current atomic.Pointer[Gallery]

	mu        sync.Mutex
	nextGen   uint64
	storedGen uint64
}

func NewGalleryCache(p store.Provider, sealer *Sealer, logger *slog.Logger, m *metrics.Metrics) *GalleryCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &GalleryCache{
		stores:  p,
		sealer:  sealer,
		logger:  logger.With("component", "gallery"),
		metrics: m,
	}
}

// Current returns the last loaded snapshot, or nil before the first load.
func (c *GalleryCache) Current() *Gallery {
	return c.current.Load()
}

// Load returns the cached snapshot, building it on first use or when force
// is set.
func (c *GalleryCache) Load(ctx context.Context, force bool) (*Gallery, error) {
	if !force {
		if g := c.current.Load(); g != nil {
			return g, nil
		}
	} else {
		// A forced reload must not join a rebuild that began before the
		// caller's write.
		c.group.Forget("gallery")
	}

	v, err, _ := c.group.Do("gallery", func() (any, error) {
		return c.rebuild(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Gallery), nil
}

func (c *GalleryCache) rebuild(ctx context.Context) (*Gallery, error) {
	c.mu.Lock()
	c.nextGen++
	gen := c.nextGen
	c.mu.Unlock()

	set, err := c.stores.Stores(ctx)
	if err != nil {
		return nil, fmt.Errorf("gallery stores: %w", err)
	}

	sealedFaces, err := set.Templates.FaceTemplates(ctx)
	if err != nil {
		return nil, fmt.Errorf("load face templates: %w", err)
	}
	fingerprints, err := set.Templates.FingerprintTemplates(ctx)
	if err != nil {
		return nil, fmt.Errorf("load fingerprint templates: %w", err)
	}

	faces := make([]FaceEntry, 0, len(sealedFaces))
	for _, st := range sealedFaces {
		emb, err := c.openFace(st)
		if err != nil {
			c.logger.Warn("skipping unreadable face template",
				"student_no", st.StudentNo, "error", err)
			continue
		}
		faces = append(faces, FaceEntry{StudentNo: st.StudentNo, Embedding: emb})
	}

	g := NewGallery(faces, fingerprints)

	c.mu.Lock()
	if gen > c.storedGen {
		c.storedGen = gen
		c.current.Store(g)
	} else {
		g = c.current.Load()
	}
	c.mu.Unlock()

	c.metrics.ObserveGallery(g.FaceCount(), g.FingerprintCount())
	c.logger.Info("gallery loaded",
		"faces", g.FaceCount(),
		"fingerprints", g.FingerprintCount(),
		"skipped", len(sealedFaces)-len(faces),
		"origin", set.Origin,
	)
	return g, nil
}

func (c *GalleryCache) openFace(st store.SealedTemplate) ([]float64, error) {
	pt, err := c.sealer.Open(ModalityFace, st.StudentNo, st.Sealed)
	if err != nil {
		return nil, err
	}
	v, err := DecodeEmbedding(pt)
	if err != nil {
		return nil, err
	}
	if !IsUnit(v) {
		return nil, fmt.Errorf("embedding is not unit norm")
	}
	return v, nil
}
