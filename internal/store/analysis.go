package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/ecosort/apiserver/types"
)

// AnalysisRepository handles persistence for device analyses.
type AnalysisRepository struct {
	db *sql.DB
}

func NewAnalysisRepository(db *sql.DB) *AnalysisRepository {
	return &AnalysisRepository{db: db}
}

const analysisColumns = `id, user_id, device_type, device_category, condition, confidence,
		       components, recyclable, remaining_lifespan, lifespan_analysis,
		       image_url, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnalysis(row rowScanner) (types.DeviceAnalysis, error) {
	var analysis types.DeviceAnalysis
	err := row.Scan(
		&analysis.ID,
		&analysis.UserID,
		&analysis.DeviceType,
		&analysis.DeviceCategory,
		&analysis.Condition,
		&analysis.Confidence,
		&analysis.Components,
		&analysis.Recyclable,
		&analysis.RemainingLifespan,
		&analysis.LifespanAnalysis,
		&analysis.ImageURL,
		&analysis.CreatedAt,
	)
	return analysis, err
}

func (r *AnalysisRepository) ListByUser(ctx context.Context, userID int) ([]types.DeviceAnalysis, error) {
	const query = `
		SELECT ` + analysisColumns + `
		FROM device_analyses
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	analyses := make([]types.DeviceAnalysis, 0)
	for rows.Next() {
		analysis, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		analyses = append(analyses, analysis)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return analyses, nil
}

func (r *AnalysisRepository) Get(ctx context.Context, id int) (types.DeviceAnalysis, error) {
	const query = `
		SELECT ` + analysisColumns + `
		FROM device_analyses
		WHERE id = $1`
	analysis, err := scanAnalysis(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.DeviceAnalysis{}, ErrNotFound
		}
		return types.DeviceAnalysis{}, err
	}
	return analysis, nil
}

func (r *AnalysisRepository) Create(ctx context.Context, in types.NewDeviceAnalysis) (types.DeviceAnalysis, error) {
	analysis := types.FromNew(0, in, time.Now())

	const query = `
		INSERT INTO device_analyses (
			user_id, device_type, device_category, condition, confidence,
			components, recyclable, remaining_lifespan, lifespan_analysis,
			image_url, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		analysis.UserID,
		analysis.DeviceType,
		analysis.DeviceCategory,
		string(analysis.Condition),
		analysis.Confidence,
		analysis.Components,
		analysis.Recyclable,
		analysis.RemainingLifespan,
		analysis.LifespanAnalysis,
		analysis.ImageURL,
		analysis.CreatedAt,
	).Scan(&analysis.ID); err != nil {
		return types.DeviceAnalysis{}, err
	}
	return analysis, nil
}
