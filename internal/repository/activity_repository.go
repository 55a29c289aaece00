package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/agenda-lina-api/internal/models"
)

// ActivityRepository reads activities and writes the scores students receive in them.
type ActivityRepository struct {
	db *sqlx.DB
}

// NewActivityRepository creates a new activity repository.
func NewActivityRepository(db *sqlx.DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// FindByID returns a single activity.
func (r *ActivityRepository) FindByID(ctx context.Context, id string) (*models.Activity, error) {
	const query = `SELECT id, class_id, subject_id, bimester_id, title, max_value, weight, created_at FROM activities WHERE id = $1`
	var activity models.Activity
	if err := r.db.GetContext(ctx, &activity, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find activity: %w", err)
	}
	return &activity, nil
}

// ListGraded returns every activity of the subject in the bimester together with the student's score, if any.
func (r *ActivityRepository) ListGraded(ctx context.Context, studentID, subjectID, bimesterID string) ([]models.GradedActivityRow, error) {
	const query = `SELECT a.id AS activity_id, a.title, a.max_value, a.weight, ag.value
        FROM activities a
        JOIN enrollments e ON e.class_id = a.class_id AND e.student_id = $1
        LEFT JOIN activity_grades ag ON ag.activity_id = a.id AND ag.student_id = $1
        WHERE a.subject_id = $2 AND a.bimester_id = $3
        ORDER BY a.created_at`
	var rows []models.GradedActivityRow
	if err := r.db.SelectContext(ctx, &rows, query, studentID, subjectID, bimesterID); err != nil {
		return nil, fmt.Errorf("list graded activities: %w", err)
	}
	return rows, nil
}

// ListClassStudents returns the IDs of students enrolled in the class.
func (r *ActivityRepository) ListClassStudents(ctx context.Context, classID string) ([]string, error) {
	const query = `SELECT student_id FROM enrollments WHERE class_id = $1 ORDER BY student_id`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, classID); err != nil {
		return nil, fmt.Errorf("list class students: %w", err)
	}
	return ids, nil
}

// UpsertGrade records a student's score for an activity, replacing any previous score.
func (r *ActivityRepository) UpsertGrade(ctx context.Context, grade *models.ActivityGrade) error {
	if grade.ID == "" {
		grade.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if grade.CreatedAt.IsZero() {
		grade.CreatedAt = now
	}
	grade.UpdatedAt = now
	const query = `INSERT INTO activity_grades (id, activity_id, student_id, value, created_at, updated_at)
        VALUES (:id, :activity_id, :student_id, :value, :created_at, :updated_at)
        ON CONFLICT (activity_id, student_id)
        DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, grade); err != nil {
		return fmt.Errorf("upsert activity grade: %w", err)
	}
	return nil
}
