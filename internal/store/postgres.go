package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/sabr-engine/internal/model"
)

// Schema is the PostgreSQL DDL applied by Migrate. Curves and quote sets are
// stored as JSONB documents; notionals and prices as NUMERIC.
const Schema = `
CREATE TABLE IF NOT EXISTS workspaces (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	beta       DOUBLE PRECISION NOT NULL,
	curve      JSONB NOT NULL DEFAULT '{}',
	quotes     JSONB NOT NULL DEFAULT '[]',
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS calibrations (
	workspace_id TEXT NOT NULL REFERENCES workspaces(id),
	expiry       DOUBLE PRECISION NOT NULL,
	mode         TEXT NOT NULL,
	forward      DOUBLE PRECISION NOT NULL,
	alpha        DOUBLE PRECISION NOT NULL,
	beta         DOUBLE PRECISION NOT NULL,
	rho          DOUBLE PRECISION NOT NULL,
	nu           DOUBLE PRECISION NOT NULL,
	loss         DOUBLE PRECISION NOT NULL,
	iterations   INTEGER NOT NULL,
	converged    BOOLEAN NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (workspace_id, expiry)
);

CREATE TABLE IF NOT EXISTS pricing_records (
	id           TEXT PRIMARY KEY,
	workspace_id TEXT NOT NULL REFERENCES workspaces(id),
	instrument   TEXT NOT NULL,
	notional     NUMERIC NOT NULL,
	strike       DOUBLE PRECISION NOT NULL,
	details      TEXT NOT NULL,
	price        NUMERIC NOT NULL,
	timestamp    TIMESTAMPTZ NOT NULL
);
`

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateWorkspace(ctx context.Context, w *model.Workspace) error {
	curveJSON, quotesJSON, err := encodeWorkspace(w.Curve, w.Quotes)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO workspaces (id, name, beta, curve, quotes, created_at)
		 VALUES ($1, $2, $3, $4::JSONB, $5::JSONB, $6)`,
		w.ID, w.Name, w.Beta, curveJSON, quotesJSON, w.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetWorkspace(ctx context.Context, id string) (*model.Workspace, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, beta, curve::TEXT, quotes::TEXT, created_at
		 FROM workspaces WHERE id = $1`, id)
	w, err := scanWorkspace(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("workspace %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get workspace %s: %w", id, err)
	}
	return w, nil
}

func (s *PostgresStore) ListWorkspaces(ctx context.Context) ([]model.Workspace, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, beta, curve::TEXT, quotes::TEXT, created_at
		 FROM workspaces ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Workspace
	for rows.Next() {
		w, err := scanWorkspace(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateCurve(ctx context.Context, id string, spec model.CurveSpec) error {
	data, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("encode curve: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `UPDATE workspaces SET curve = $2::JSONB WHERE id = $1`, id, string(data))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("workspace %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) UpdateQuotes(ctx context.Context, id string, quotes []model.MarketQuote) error {
	data, err := json.Marshal(quotes)
	if err != nil {
		return fmt.Errorf("encode quotes: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `UPDATE workspaces SET quotes = $2::JSONB WHERE id = $1`, id, string(data))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("workspace %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) UpsertCalibration(ctx context.Context, c *model.Calibration) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO calibrations
		   (workspace_id, expiry, mode, forward, alpha, beta, rho, nu, loss, iterations, converged, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (workspace_id, expiry) DO UPDATE SET
		   mode = EXCLUDED.mode, forward = EXCLUDED.forward,
		   alpha = EXCLUDED.alpha, beta = EXCLUDED.beta, rho = EXCLUDED.rho, nu = EXCLUDED.nu,
		   loss = EXCLUDED.loss, iterations = EXCLUDED.iterations,
		   converged = EXCLUDED.converged, created_at = EXCLUDED.created_at`,
		c.WorkspaceID, c.Expiry, c.Mode, c.Forward,
		c.Params.Alpha, c.Params.Beta, c.Params.Rho, c.Params.Nu,
		c.Loss, c.Iterations, c.Converged, c.CreatedAt,
	)
	return err
}

func (s *PostgresStore) ListCalibrations(ctx context.Context, workspaceID string) ([]model.Calibration, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT workspace_id, expiry, mode, forward, alpha, beta, rho, nu,
		        loss, iterations, converged, created_at
		 FROM calibrations WHERE workspace_id = $1 ORDER BY expiry`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Calibration
	for rows.Next() {
		var c model.Calibration
		if err := rows.Scan(&c.WorkspaceID, &c.Expiry, &c.Mode, &c.Forward,
			&c.Params.Alpha, &c.Params.Beta, &c.Params.Rho, &c.Params.Nu,
			&c.Loss, &c.Iterations, &c.Converged, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) InsertPricing(ctx context.Context, r *model.PricingRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pricing_records (id, workspace_id, instrument, notional, strike, details, price, timestamp)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6, $7::NUMERIC, $8)`,
		r.ID, r.WorkspaceID, r.Instrument, r.Notional.String(),
		r.Strike, r.Details, r.Price.String(), r.Timestamp,
	)
	return err
}

func (s *PostgresStore) ListPricings(ctx context.Context, workspaceID string) ([]model.PricingRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, workspace_id, instrument, notional::TEXT, strike, details, price::TEXT, timestamp
		 FROM pricing_records WHERE workspace_id = $1 ORDER BY timestamp`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPricingRecords(rows)
}

func encodeWorkspace(spec model.CurveSpec, quotes []model.MarketQuote) (string, string, error) {
	curveJSON, err := json.Marshal(spec)
	if err != nil {
		return "", "", fmt.Errorf("encode curve: %w", err)
	}
	if quotes == nil {
		quotes = []model.MarketQuote{}
	}
	quotesJSON, err := json.Marshal(quotes)
	if err != nil {
		return "", "", fmt.Errorf("encode quotes: %w", err)
	}
	return string(curveJSON), string(quotesJSON), nil
}

// pgxRows is the subset of pgx.Rows (and pgx.Row) the scanners need.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanWorkspace(row rowScanner) (*model.Workspace, error) {
	var w model.Workspace
	var curveS, quotesS string
	if err := row.Scan(&w.ID, &w.Name, &w.Beta, &curveS, &quotesS, &w.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(curveS), &w.Curve); err != nil {
		return nil, fmt.Errorf("decode curve for workspace %s: %w", w.ID, err)
	}
	if err := json.Unmarshal([]byte(quotesS), &w.Quotes); err != nil {
		return nil, fmt.Errorf("decode quotes for workspace %s: %w", w.ID, err)
	}
	return &w, nil
}

func scanPricingRecords(rows pgxRows) ([]model.PricingRecord, error) {
	var records []model.PricingRecord
	for rows.Next() {
		var r model.PricingRecord
		var notionalS, priceS string

		if err := rows.Scan(&r.ID, &r.WorkspaceID, &r.Instrument, &notionalS,
			&r.Strike, &r.Details, &priceS, &r.Timestamp); err != nil {
			return nil, err
		}

		r.Notional, _ = decimal.NewFromString(notionalS)
		r.Price, _ = decimal.NewFromString(priceS)

		records = append(records, r)
	}
	return records, rows.Err()
}
