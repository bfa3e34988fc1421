package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/sabr-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateWorkspace(ctx context.Context, w *model.Workspace) error {
	if err := s.primary.CreateWorkspace(ctx, w); err != nil {
		return err
	}
	s.cache(ctx, workspaceKey(w.ID), w)
	return nil
}

func (s *CachedStore) UpdateCurve(ctx context.Context, id string, spec model.CurveSpec) error {
	if err := s.primary.UpdateCurve(ctx, id, spec); err != nil {
		return err
	}
	s.rdb.Del(ctx, workspaceKey(id))
	return nil
}

func (s *CachedStore) UpdateQuotes(ctx context.Context, id string, quotes []model.MarketQuote) error {
	if err := s.primary.UpdateQuotes(ctx, id, quotes); err != nil {
		return err
	}
	s.rdb.Del(ctx, workspaceKey(id))
	return nil
}

func (s *CachedStore) UpsertCalibration(ctx context.Context, c *model.Calibration) error {
	if err := s.primary.UpsertCalibration(ctx, c); err != nil {
		return err
	}
	s.rdb.Del(ctx, calibrationsKey(c.WorkspaceID))
	return nil
}

func (s *CachedStore) InsertPricing(ctx context.Context, r *model.PricingRecord) error {
	return s.primary.InsertPricing(ctx, r)
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetWorkspace(ctx context.Context, id string) (*model.Workspace, error) {
	data, err := s.rdb.Get(ctx, workspaceKey(id)).Bytes()
	if err == nil {
		var w model.Workspace
		if json.Unmarshal(data, &w) == nil {
			return &w, nil
		}
	}

	w, err := s.primary.GetWorkspace(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, workspaceKey(id), w)
	return w, nil
}

func (s *CachedStore) ListCalibrations(ctx context.Context, workspaceID string) ([]model.Calibration, error) {
	data, err := s.rdb.Get(ctx, calibrationsKey(workspaceID)).Bytes()
	if err == nil {
		var out []model.Calibration
		if json.Unmarshal(data, &out) == nil {
			return out, nil
		}
	}

	out, err := s.primary.ListCalibrations(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, calibrationsKey(workspaceID), out)
	return out, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListWorkspaces(ctx context.Context) ([]model.Workspace, error) {
	return s.primary.ListWorkspaces(ctx)
}

func (s *CachedStore) ListPricings(ctx context.Context, workspaceID string) ([]model.PricingRecord, error) {
	return s.primary.ListPricings(ctx, workspaceID)
}

// --- Cache helpers ---

func (s *CachedStore) cache(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func workspaceKey(id string) string    { return fmt.Sprintf("sabr:workspace:%s", id) }
func calibrationsKey(id string) string { return fmt.Sprintf("sabr:calibrations:%s", id) }
