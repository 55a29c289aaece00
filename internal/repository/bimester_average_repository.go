package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/agenda-lina-api/internal/models"
)

// BimesterAverageRepository persists computed bimester averages.
type BimesterAverageRepository struct {
	db *sqlx.DB
}

// NewBimesterAverageRepository constructs repository.
func NewBimesterAverageRepository(db *sqlx.DB) *BimesterAverageRepository {
	return &BimesterAverageRepository{db: db}
}

// Upsert stores the average, overwriting the previous value for the same student, subject and bimester.
func (r *BimesterAverageRepository) Upsert(ctx context.Context, record *models.BimesterAverageRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CalculatedAt.IsZero() {
		record.CalculatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO bimester_averages (id, student_id, subject_id, bimester_id, average, has_any_grade, situation, points_needed, calculated_at)
        VALUES (:id, :student_id, :subject_id, :bimester_id, :average, :has_any_grade, :situation, :points_needed, :calculated_at)
        ON CONFLICT (student_id, subject_id, bimester_id)
        DO UPDATE SET average = EXCLUDED.average, has_any_grade = EXCLUDED.has_any_grade, situation = EXCLUDED.situation,
            points_needed = EXCLUDED.points_needed, calculated_at = EXCLUDED.calculated_at`
	if _, err := r.db.NamedExecContext(ctx, query, record); err != nil {
		return fmt.Errorf("upsert bimester average: %w", err)
	}
	return nil
}

// ListBySchoolYear returns the stored averages of a student in a subject for the given school year.
func (r *BimesterAverageRepository) ListBySchoolYear(ctx context.Context, studentID, subjectID, schoolYearID string) ([]models.BimesterAverageRecord, error) {
	const query = `SELECT ba.id, ba.student_id, ba.subject_id, ba.bimester_id, b.number AS bimester_number, ba.average,
        ba.has_any_grade, ba.situation, ba.points_needed, ba.calculated_at
        FROM bimester_averages ba
        JOIN bimesters b ON b.id = ba.bimester_id
        WHERE ba.student_id = $1 AND ba.subject_id = $2 AND b.school_year_id = $3
        ORDER BY b.number`
	var records []models.BimesterAverageRecord
	if err := r.db.SelectContext(ctx, &records, query, studentID, subjectID, schoolYearID); err != nil {
		return nil, fmt.Errorf("list bimester averages: %w", err)
	}
	return records, nil
}

// ReportCardRows returns every graded bimester average of the student in the school year with subject names.
func (r *BimesterAverageRepository) ReportCardRows(ctx context.Context, studentID, schoolYearID string) ([]models.ReportCardAverageRow, error) {
	const query = `SELECT ba.subject_id, s.name AS subject_name, b.number AS bimester_number, ba.average, ba.situation, ba.points_needed
        FROM bimester_averages ba
        JOIN bimesters b ON b.id = ba.bimester_id
        JOIN subjects s ON s.id = ba.subject_id
        WHERE ba.student_id = $1 AND b.school_year_id = $2 AND ba.has_any_grade
        ORDER BY s.name, b.number`
	var rows []models.ReportCardAverageRow
	if err := r.db.SelectContext(ctx, &rows, query, studentID, schoolYearID); err != nil {
		return nil, fmt.Errorf("report card averages: %w", err)
	}
	return rows, nil
}
