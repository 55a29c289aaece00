package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/agenda-lina-api/internal/models"
)

// AttendanceRepository aggregates class attendance records.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository constructs repository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

// Totals counts the sessions held and the absences of the student in a subject across the school year.
func (r *AttendanceRepository) Totals(ctx context.Context, studentID, subjectID, schoolYearID string) (*models.AttendanceTotals, error) {
	const query = `SELECT COUNT(*) AS total_sessions,
        COUNT(*) FILTER (WHERE NOT ar.present) AS total_absences
        FROM attendance_records ar
        JOIN bimesters b ON b.id = ar.bimester_id
        WHERE ar.student_id = $1 AND ar.subject_id = $2 AND b.school_year_id = $3`
	var totals models.AttendanceTotals
	if err := r.db.GetContext(ctx, &totals, query, studentID, subjectID, schoolYearID); err != nil {
		return nil, fmt.Errorf("attendance totals: %w", err)
	}
	return &totals, nil
}
