package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/agenda-lina-api/internal/models"
)

// BimesterRepository reads school years and their bimesters.
type BimesterRepository struct {
	db *sqlx.DB
}

// NewBimesterRepository constructs repository.
func NewBimesterRepository(db *sqlx.DB) *BimesterRepository {
	return &BimesterRepository{db: db}
}

// FindSchoolYear returns a school year by identifier.
func (r *BimesterRepository) FindSchoolYear(ctx context.Context, id string) (*models.SchoolYear, error) {
	const query = `SELECT id, year, is_active, created_at FROM school_years WHERE id = $1`
	var year models.SchoolYear
	if err := r.db.GetContext(ctx, &year, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find school year: %w", err)
	}
	return &year, nil
}

// FindByID returns a bimester by identifier.
func (r *BimesterRepository) FindByID(ctx context.Context, id string) (*models.Bimester, error) {
	const query = `SELECT id, school_year_id, number, start_date, end_date FROM bimesters WHERE id = $1`
	var bimester models.Bimester
	if err := r.db.GetContext(ctx, &bimester, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find bimester: %w", err)
	}
	return &bimester, nil
}

// ListBySchoolYear returns the bimesters of a school year ordered by number.
func (r *BimesterRepository) ListBySchoolYear(ctx context.Context, schoolYearID string) ([]models.Bimester, error) {
	const query = `SELECT id, school_year_id, number, start_date, end_date FROM bimesters WHERE school_year_id = $1 ORDER BY number`
	var bimesters []models.Bimester
	if err := r.db.SelectContext(ctx, &bimesters, query, schoolYearID); err != nil {
		return nil, fmt.Errorf("list bimesters: %w", err)
	}
	return bimesters, nil
}
