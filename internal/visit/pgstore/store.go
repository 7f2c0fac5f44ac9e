// Package pgstore stores visits in Postgres.
package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evcraddock/street-kams/internal/visit"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS visits (
	id                 UUID        PRIMARY KEY,
	owner_id           TEXT        NOT NULL,
	owner_label        TEXT        NOT NULL DEFAULT '',
	owner_path         TEXT        NOT NULL DEFAULT '',
	schema             TEXT        NOT NULL,
	visit_type         TEXT        NOT NULL,
	zone               TEXT        NOT NULL,
	brand_id           TEXT        NOT NULL,
	restaurant_name    TEXT        NOT NULL,
	decision_maker     TEXT        NOT NULL,
	photo_evidence     TEXT        NOT NULL DEFAULT '',
	latitude           DOUBLE PRECISION,
	longitude          DOUBLE PRECISION,
	location_simulated BOOLEAN     NOT NULL DEFAULT FALSE,
	checked_in_at      TIMESTAMPTZ,
	survey_json        JSONB       NOT NULL DEFAULT '{}',
	details            TEXT        NOT NULL,
	recorded_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_visits_owner ON visits (owner_id, recorded_at DESC);
`

// Store implements visit.Store on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps an open pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Open connects to dsn, verifies the connection and creates the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	s := NewStore(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the visits table if needed.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("creating visits schema: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

const selectColumns = `SELECT id::text, owner_id, owner_label, owner_path, schema, visit_type, zone, brand_id,
	restaurant_name, decision_maker, photo_evidence, latitude, longitude, location_simulated,
	checked_in_at, survey_json::text, details, recorded_at FROM visits`

// Create inserts a visit. Postgres assigns recorded_at.
func (s *Store) Create(ctx context.Context, v *visit.Visit) (*visit.Visit, error) {
	survey, err := visit.EncodeSurvey(v)
	if err != nil {
		return nil, err
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO visits (id, owner_id, owner_label, owner_path, schema, visit_type, zone, brand_id,
			restaurant_name, decision_maker, photo_evidence, latitude, longitude, location_simulated,
			checked_in_at, survey_json, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16::jsonb, $17)
		RETURNING `+returningColumns,
		uuid.New(), v.OwnerID, v.OwnerLabel, v.OwnerPath, v.Schema, string(v.VisitType), v.Zone, v.BrandID,
		v.RestaurantName, v.DecisionMaker, v.PhotoEvidence, v.Latitude, v.Longitude, v.LocationSimulated,
		v.CheckedInAt, survey, v.Details,
	)
	stored, err := scanVisit(row)
	if err != nil {
		return nil, fmt.Errorf("inserting visit: %w", err)
	}
	return stored, nil
}

const returningColumns = `id::text, owner_id, owner_label, owner_path, schema, visit_type, zone, brand_id,
	restaurant_name, decision_maker, photo_evidence, latitude, longitude, location_simulated,
	checked_in_at, survey_json::text, details, recorded_at`

// ListByOwner returns an owner's visits, newest first.
func (s *Store) ListByOwner(ctx context.Context, ownerID string) ([]*visit.Visit, error) {
	return s.list(ctx, selectColumns+" WHERE owner_id = $1 ORDER BY recorded_at DESC, id", ownerID)
}

// ListAll returns every visit, newest first.
func (s *Store) ListAll(ctx context.Context) ([]*visit.Visit, error) {
	return s.list(ctx, selectColumns+" ORDER BY recorded_at DESC, id")
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]*visit.Visit, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing visits: %w", err)
	}
	defer rows.Close()

	var visits []*visit.Visit
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning visit: %w", err)
		}
		visits = append(visits, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating visits: %w", err)
	}
	return visits, nil
}

func scanVisit(row pgx.Row) (*visit.Visit, error) {
	var (
		v          visit.Visit
		visitType  string
		survey     string
		recordedAt time.Time
	)
	if err := row.Scan(&v.ID, &v.OwnerID, &v.OwnerLabel, &v.OwnerPath, &v.Schema, &visitType, &v.Zone, &v.BrandID,
		&v.RestaurantName, &v.DecisionMaker, &v.PhotoEvidence, &v.Latitude, &v.Longitude, &v.LocationSimulated,
		&v.CheckedInAt, &survey, &v.Details, &recordedAt); err != nil {
		return nil, err
	}
	v.VisitType = visit.VisitType(visitType)
	v.RecordedAt = &recordedAt
	if err := visit.DecodeSurvey(&v, survey); err != nil {
		return nil, err
	}
	return &v, nil
}
