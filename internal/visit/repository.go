package visit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository stores visits in SQLite.
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

// NewRepository creates a visit repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// surveyRecord is the JSON stored in survey_json.
type surveyRecord struct {
	Answers   map[string]string `json:"answers"`
	Campaigns []string          `json:"campaigns,omitempty"`
}

// EncodeSurvey serializes a visit's answers and campaigns for storage.
func EncodeSurvey(v *Visit) (string, error) {
	data, err := json.Marshal(surveyRecord{Answers: v.Survey, Campaigns: v.Campaigns})
	if err != nil {
		return "", fmt.Errorf("encoding survey: %w", err)
	}
	return string(data), nil
}

// DecodeSurvey fills a visit's answers and campaigns from stored JSON.
func DecodeSurvey(v *Visit, data string) error {
	var rec surveyRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return fmt.Errorf("decoding survey: %w", err)
	}
	v.Survey = rec.Answers
	if v.Survey == nil {
		v.Survey = map[string]string{}
	}
	v.Campaigns = rec.Campaigns
	return nil
}

const selectColumns = `SELECT id, owner_id, owner_label, owner_path, schema, visit_type, zone, brand_id,
	restaurant_name, decision_maker, photo_evidence, latitude, longitude, location_simulated,
	checked_in_at, survey_json, details, recorded_at FROM visits`

// Create inserts a visit, assigning a new ID and the record time.
func (r *Repository) Create(ctx context.Context, v *Visit) (*Visit, error) {
	survey, err := EncodeSurvey(v)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	recordedAt := r.now().UTC()

	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO visits (id, owner_id, owner_label, owner_path, schema, visit_type, zone, brand_id,
			restaurant_name, decision_maker, photo_evidence, latitude, longitude, location_simulated,
			checked_in_at, survey_json, details, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, v.OwnerID, v.OwnerLabel, v.OwnerPath, v.Schema, v.VisitType, v.Zone, v.BrandID,
		v.RestaurantName, v.DecisionMaker, v.PhotoEvidence, v.Latitude, v.Longitude, v.LocationSimulated,
		v.CheckedInAt, survey, v.Details, recordedAt,
	); err != nil {
		return nil, fmt.Errorf("inserting visit: %w", err)
	}

	stored, err := r.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reading back visit: %w", err)
	}
	return stored, nil
}

// Get returns a visit by ID.
func (r *Repository) Get(ctx context.Context, id string) (*Visit, error) {
	row := r.db.QueryRowContext(ctx, selectColumns+" WHERE id = ?", id)
	v, err := scanVisit(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("visit %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// ListByOwner returns an owner's visits, newest first.
func (r *Repository) ListByOwner(ctx context.Context, ownerID string) ([]*Visit, error) {
	return r.list(ctx, selectColumns+" WHERE owner_id = ? ORDER BY recorded_at DESC, id", ownerID)
}

// ListAll returns every visit, newest first.
func (r *Repository) ListAll(ctx context.Context) ([]*Visit, error) {
	return r.list(ctx, selectColumns+" ORDER BY recorded_at DESC, id")
}

func (r *Repository) list(ctx context.Context, query string, args ...any) (visits []*Visit, err error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing visits: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("closing rows: %w", closeErr)
		}
	}()

	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, err
		}
		visits = append(visits, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating visits: %w", err)
	}

	return visits, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanVisit(s scanner) (*Visit, error) {
	var (
		v          Visit
		lat, lon   sql.NullFloat64
		checkedIn  sql.NullTime
		recordedAt sql.NullTime
		survey     string
	)
	err := s.Scan(&v.ID, &v.OwnerID, &v.OwnerLabel, &v.OwnerPath, &v.Schema, &v.VisitType, &v.Zone, &v.BrandID,
		&v.RestaurantName, &v.DecisionMaker, &v.PhotoEvidence, &lat, &lon, &v.LocationSimulated,
		&checkedIn, &survey, &v.Details, &recordedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning visit: %w", err)
	}

	if lat.Valid && lon.Valid {
		v.Latitude, v.Longitude = &lat.Float64, &lon.Float64
	}
	if checkedIn.Valid {
		t := checkedIn.Time
		v.CheckedInAt = &t
	}
	if recordedAt.Valid {
		t := recordedAt.Time
		v.RecordedAt = &t
	}
	if err := DecodeSurvey(&v, survey); err != nil {
		return nil, err
	}
	return &v, nil
}
