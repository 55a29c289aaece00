package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// schema creates the tables read and written by the grading repositories.
// Statements are idempotent and run in order.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		full_name TEXT NOT NULL,
		role TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		last_login TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS students (
		id TEXT PRIMARY KEY,
		user_id TEXT REFERENCES users(id) ON DELETE SET NULL,
		full_name TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS guardian_students (
		guardian_user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		student_id TEXT NOT NULL REFERENCES students(id) ON DELETE CASCADE,
		PRIMARY KEY (guardian_user_id, student_id)
	)`,
	`CREATE TABLE IF NOT EXISTS school_years (
		id TEXT PRIMARY KEY,
		year INT NOT NULL UNIQUE,
		is_active BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS bimesters (
		id TEXT PRIMARY KEY,
		school_year_id TEXT NOT NULL REFERENCES school_years(id) ON DELETE CASCADE,
		number INT NOT NULL CHECK (number >= 1),
		start_date DATE NOT NULL,
		end_date DATE NOT NULL,
		CONSTRAINT bimester_unique UNIQUE (school_year_id, number)
	)`,
	`CREATE TABLE IF NOT EXISTS subjects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS enrollments (
		class_id TEXT NOT NULL,
		student_id TEXT NOT NULL REFERENCES students(id) ON DELETE CASCADE,
		PRIMARY KEY (class_id, student_id)
	)`,
	`CREATE TABLE IF NOT EXISTS activities (
		id TEXT PRIMARY KEY,
		class_id TEXT NOT NULL,
		subject_id TEXT NOT NULL REFERENCES subjects(id),
		bimester_id TEXT NOT NULL REFERENCES bimesters(id),
		title TEXT NOT NULL,
		max_value NUMERIC(6,2) NOT NULL CHECK (max_value > 0),
		weight NUMERIC(6,2) NOT NULL DEFAULT 1 CHECK (weight > 0),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS activity_grades (
		id TEXT PRIMARY KEY,
		activity_id TEXT NOT NULL REFERENCES activities(id) ON DELETE CASCADE,
		student_id TEXT NOT NULL REFERENCES students(id) ON DELETE CASCADE,
		value NUMERIC(6,2),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT activity_grade_unique UNIQUE (activity_id, student_id)
	)`,
	`CREATE TABLE IF NOT EXISTS bimester_averages (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL REFERENCES students(id) ON DELETE CASCADE,
		subject_id TEXT NOT NULL REFERENCES subjects(id),
		bimester_id TEXT NOT NULL REFERENCES bimesters(id),
		average NUMERIC(5,2) NOT NULL,
		has_any_grade BOOLEAN NOT NULL,
		situation TEXT NOT NULL,
		points_needed NUMERIC(5,2),
		calculated_at TIMESTAMPTZ NOT NULL,
		CONSTRAINT bimester_average_unique UNIQUE (student_id, subject_id, bimester_id)
	)`,
	`CREATE TABLE IF NOT EXISTS final_situations (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL REFERENCES students(id) ON DELETE CASCADE,
		subject_id TEXT NOT NULL REFERENCES subjects(id),
		school_year_id TEXT NOT NULL REFERENCES school_years(id),
		final_average NUMERIC(5,2) NOT NULL,
		status TEXT NOT NULL,
		points_needed NUMERIC(5,2),
		note TEXT,
		absence_rate NUMERIC(5,4),
		calculated_at TIMESTAMPTZ NOT NULL,
		CONSTRAINT final_situation_unique UNIQUE (student_id, subject_id, school_year_id)
	)`,
	`CREATE TABLE IF NOT EXISTS attendance_records (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL REFERENCES students(id) ON DELETE CASCADE,
		subject_id TEXT NOT NULL REFERENCES subjects(id),
		bimester_id TEXT NOT NULL REFERENCES bimesters(id),
		session_date DATE NOT NULL,
		present BOOLEAN NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_attendance_student_subject ON attendance_records (student_id, subject_id)`,
}

// Migrate applies the schema inside one transaction.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	for i, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration step %d: %w", i+1, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	return nil
}
