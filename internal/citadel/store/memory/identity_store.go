package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/errs"
	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/store"
	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/types"
)

func (s *Store) FindByID(_ context.Context, studentNo string) (types.Identity, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.st.students[strings.TrimSpace(studentNo)]
	return id, ok, nil
}

func (s *Store) UpsertIdentity(_ context.Context, id types.Identity) error {
	if strings.TrimSpace(id.StudentNo) == "" {
		return fmt.Errorf("UpsertIdentity: empty student_no")
	}
	return s.update(func(st *state) error {
		st.students[id.StudentNo] = id
		return nil
	})
}

func (s *Store) FaceTemplates(context.Context) ([]store.SealedTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedTemplates(s.st.faces), nil
}

func (s *Store) FingerprintTemplates(context.Context) ([]store.SealedTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedTemplates(s.st.fingerprints), nil
}

func (s *Store) SaveFaceTemplate(_ context.Context, studentNo string, sealed []byte) error {
	return s.update(func(st *state) error {
		if _, ok := st.students[studentNo]; !ok {
			return fmt.Errorf("SaveFaceTemplate %s: %w", studentNo, errs.ErrNotFound)
		}
		st.faces[studentNo] = append([]byte(nil), sealed...)
		return nil
	})
}

func (s *Store) UpsertFingerprintTemplate(_ context.Context, studentNo string, sealed []byte) error {
	return s.update(func(st *state) error {
		st.fingerprints[studentNo] = append([]byte(nil), sealed...)
		return nil
	})
}

// PutFaceTemplate stores a sealed face template without requiring an
// identity row. Test-only helper for corrupt-data cases.
func (s *Store) PutFaceTemplate(studentNo string, sealed []byte) {
	_ = s.update(func(st *state) error {
		st.faces[studentNo] = sealed
		return nil
	})
}

func sortedTemplates(m map[string][]byte) []store.SealedTemplate {
	out := make([]store.SealedTemplate, 0, len(m))
	for id, b := range m {
		out = append(out, store.SealedTemplate{StudentNo: id, Sealed: append([]byte(nil), b...)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentNo < out[j].StudentNo })
	return out
}

func latest(ts ...*time.Time) *time.Time {
	var best *time.Time
	for _, t := range ts {
		if t != nil && (best == nil || t.After(*best)) {
			best = t
		}
	}
	return best
}
