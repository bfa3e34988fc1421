package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/atmx/sabr-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu           sync.RWMutex
	workspaces   map[string]*model.Workspace
	calibrations map[string]map[float64]model.Calibration
	ledger       []model.PricingRecord
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workspaces:   make(map[string]*model.Workspace),
		calibrations: make(map[string]map[float64]model.Calibration),
	}
}

func (s *MemoryStore) CreateWorkspace(_ context.Context, w *model.Workspace) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.workspaces[w.ID]; exists {
		return fmt.Errorf("workspace %s already exists", w.ID)
	}
	// Store a copy to avoid external mutation.
	cp := cloneWorkspace(w)
	s.workspaces[w.ID] = &cp
	return nil
}

func (s *MemoryStore) GetWorkspace(_ context.Context, id string) (*model.Workspace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.workspaces[id]
	if !ok {
		return nil, fmt.Errorf("workspace %s: %w", id, ErrNotFound)
	}
	cp := cloneWorkspace(w)
	return &cp, nil
}

func (s *MemoryStore) ListWorkspaces(_ context.Context) ([]model.Workspace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Workspace, 0, len(s.workspaces))
	for _, w := range s.workspaces {
		out = append(out, cloneWorkspace(w))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateCurve(_ context.Context, id string, spec model.CurveSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.workspaces[id]
	if !ok {
		return fmt.Errorf("workspace %s: %w", id, ErrNotFound)
	}
	w.Curve = cloneCurve(spec)
	return nil
}

func (s *MemoryStore) UpdateQuotes(_ context.Context, id string, quotes []model.MarketQuote) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.workspaces[id]
	if !ok {
		return fmt.Errorf("workspace %s: %w", id, ErrNotFound)
	}
	w.Quotes = cloneQuotes(quotes)
	return nil
}

func (s *MemoryStore) UpsertCalibration(_ context.Context, c *model.Calibration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.workspaces[c.WorkspaceID]; !ok {
		return fmt.Errorf("workspace %s: %w", c.WorkspaceID, ErrNotFound)
	}
	table, ok := s.calibrations[c.WorkspaceID]
	if !ok {
		table = make(map[float64]model.Calibration)
		s.calibrations[c.WorkspaceID] = table
	}
	table[c.Expiry] = *c
	return nil
}

func (s *MemoryStore) ListCalibrations(_ context.Context, workspaceID string) ([]model.Calibration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	table := s.calibrations[workspaceID]
	out := make([]model.Calibration, 0, len(table))
	for _, c := range table {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Expiry < out[j].Expiry })
	return out, nil
}

func (s *MemoryStore) InsertPricing(_ context.Context, r *model.PricingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ledger = append(s.ledger, *r)
	return nil
}

func (s *MemoryStore) ListPricings(_ context.Context, workspaceID string) ([]model.PricingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.PricingRecord
	for _, r := range s.ledger {
		if r.WorkspaceID == workspaceID {
			result = append(result, r)
		}
	}
	return result, nil
}

func cloneWorkspace(w *model.Workspace) model.Workspace {
	cp := *w
	cp.Curve = cloneCurve(w.Curve)
	cp.Quotes = cloneQuotes(w.Quotes)
	return cp
}

func cloneCurve(spec model.CurveSpec) model.CurveSpec {
	if spec.Points != nil {
		spec.Points = append([]model.CurvePoint(nil), spec.Points...)
	}
	return spec
}

func cloneQuotes(quotes []model.MarketQuote) []model.MarketQuote {
	if quotes == nil {
		return nil
	}
	out := make([]model.MarketQuote, len(quotes))
	for i, q := range quotes {
		out[i] = q
		if q.Vol != nil {
			v := *q.Vol
			out[i].Vol = &v
		}
		if q.Price != nil {
			p := *q.Price
			out[i].Price = &p
		}
	}
	return out
}
