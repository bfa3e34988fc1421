// Package store defines the persistence interface for the SABR engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/atmx/sabr-engine/internal/model"
)

// ErrNotFound is wrapped by lookups of a missing workspace.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Workspaces ---

	// CreateWorkspace persists a new workspace.
	CreateWorkspace(ctx context.Context, w *model.Workspace) error

	// GetWorkspace retrieves a workspace by its ID.
	GetWorkspace(ctx context.Context, id string) (*model.Workspace, error)

	// ListWorkspaces returns all workspaces, newest first.
	ListWorkspaces(ctx context.Context) ([]model.Workspace, error)

	// UpdateCurve replaces the workspace curve.
	UpdateCurve(ctx context.Context, id string, spec model.CurveSpec) error

	// UpdateQuotes replaces the workspace market dataset.
	UpdateQuotes(ctx context.Context, id string, quotes []model.MarketQuote) error

	// --- Parameter table ---

	// UpsertCalibration stores the parameters for (workspace, expiry),
	// replacing any previous entry for that exact expiry.
	UpsertCalibration(ctx context.Context, c *model.Calibration) error

	// ListCalibrations returns a workspace's parameter table by ascending expiry.
	ListCalibrations(ctx context.Context, workspaceID string) ([]model.Calibration, error)

	// --- Immutable pricing ledger ---

	// InsertPricing appends an immutable pricing record.
	InsertPricing(ctx context.Context, r *model.PricingRecord) error

	// ListPricings returns a workspace's pricing records, oldest first.
	ListPricings(ctx context.Context, workspaceID string) ([]model.PricingRecord, error)
}
