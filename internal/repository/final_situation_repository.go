package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/agenda-lina-api/internal/models"
)

// FinalSituationRepository manages yearly final situation persistence.
type FinalSituationRepository struct {
	db *sqlx.DB
}

// NewFinalSituationRepository constructs repository.
func NewFinalSituationRepository(db *sqlx.DB) *FinalSituationRepository {
	return &FinalSituationRepository{db: db}
}

// Upsert stores the final situation, overwriting the previous value for the same student, subject and school year.
func (r *FinalSituationRepository) Upsert(ctx context.Context, record *models.FinalSituationRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CalculatedAt.IsZero() {
		record.CalculatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO final_situations (id, student_id, subject_id, school_year_id, final_average, status, points_needed, note, absence_rate, calculated_at)
        VALUES (:id, :student_id, :subject_id, :school_year_id, :final_average, :status, :points_needed, :note, :absence_rate, :calculated_at)
        ON CONFLICT (student_id, subject_id, school_year_id)
        DO UPDATE SET final_average = EXCLUDED.final_average, status = EXCLUDED.status, points_needed = EXCLUDED.points_needed,
            note = EXCLUDED.note, absence_rate = EXCLUDED.absence_rate, calculated_at = EXCLUDED.calculated_at`
	if _, err := r.db.NamedExecContext(ctx, query, record); err != nil {
		return fmt.Errorf("upsert final situation: %w", err)
	}
	return nil
}

// ReportCardRows returns the final situations of a student for a school year with subject names.
func (r *FinalSituationRepository) ReportCardRows(ctx context.Context, studentID, schoolYearID string) ([]models.ReportCardFinalRow, error) {
	const query = `SELECT fs.subject_id, s.name AS subject_name, fs.final_average, fs.status, fs.points_needed, fs.note
        FROM final_situations fs
        JOIN subjects s ON s.id = fs.subject_id
        WHERE fs.student_id = $1 AND fs.school_year_id = $2
        ORDER BY s.name`
	var rows []models.ReportCardFinalRow
	if err := r.db.SelectContext(ctx, &rows, query, studentID, schoolYearID); err != nil {
		return nil, fmt.Errorf("report card finals: %w", err)
	}
	return rows, nil
}

// ClassAverages returns the final averages of the enrolled students of a class in a subject
// whose year is closed. In-progress situations are skipped.
func (r *FinalSituationRepository) ClassAverages(ctx context.Context, classID, subjectID, schoolYearID string) ([]float64, error) {
	const query = `SELECT fs.final_average
        FROM final_situations fs
        JOIN enrollments e ON e.student_id = fs.student_id
        WHERE e.class_id = $1 AND fs.subject_id = $2 AND fs.school_year_id = $3
          AND fs.status <> 'IN_PROGRESS'
        ORDER BY fs.final_average DESC`
	var averages []float64
	if err := r.db.SelectContext(ctx, &averages, query, classID, subjectID, schoolYearID); err != nil {
		return nil, fmt.Errorf("class averages: %w", err)
	}
	return averages, nil
}
