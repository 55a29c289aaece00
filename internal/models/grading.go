package models

import "time"

// SchoolYear represents an academic year split into bimesters.
type SchoolYear struct {
	ID        string    `db:"id" json:"id"`
	Year      int       `db:"year" json:"year"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Bimester is one of the grading periods of a school year.
type Bimester struct {
	ID           string    `db:"id" json:"id"`
	SchoolYearID string    `db:"school_year_id" json:"school_year_id"`
	Number       int       `db:"number" json:"number"`
	StartDate    time.Time `db:"start_date" json:"start_date"`
	EndDate      time.Time `db:"end_date" json:"end_date"`
}

// Activity is an assessable task created by a teacher for a class and subject.
type Activity struct {
	ID         string    `db:"id" json:"id"`
	ClassID    string    `db:"class_id" json:"class_id"`
	SubjectID  string    `db:"subject_id" json:"subject_id"`
	BimesterID string    `db:"bimester_id" json:"bimester_id"`
	Title      string    `db:"title" json:"title"`
	MaxValue   float64   `db:"max_value" json:"max_value"`
	Weight     float64   `db:"weight" json:"weight"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// ActivityGrade stores the score a student received in an activity.
type ActivityGrade struct {
	ID         string    `db:"id" json:"id"`
	ActivityID string    `db:"activity_id" json:"activity_id"`
	StudentID  string    `db:"student_id" json:"student_id"`
	Value      float64   `db:"value" json:"value"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// GradedActivityRow joins an activity with the (possibly missing) score of one student.
type GradedActivityRow struct {
	ActivityID string   `db:"activity_id" json:"activity_id"`
	Title      string   `db:"title" json:"title"`
	MaxValue   float64  `db:"max_value" json:"max_value"`
	Weight     float64  `db:"weight" json:"weight"`
	Value      *float64 `db:"value" json:"value,omitempty"`
}

// BimesterAverageRecord is the persisted average of a student in a subject for one bimester.
type BimesterAverageRecord struct {
	ID             string    `db:"id" json:"id"`
	StudentID      string    `db:"student_id" json:"student_id"`
	SubjectID      string    `db:"subject_id" json:"subject_id"`
	BimesterID     string    `db:"bimester_id" json:"bimester_id"`
	BimesterNumber int       `db:"bimester_number" json:"bimester_number"`
	Average        float64   `db:"average" json:"average"`
	HasAnyGrade    bool      `db:"has_any_grade" json:"has_any_grade"`
	Situation      string    `db:"situation" json:"situation"`
	PointsNeeded   *float64  `db:"points_needed" json:"points_needed,omitempty"`
	CalculatedAt   time.Time `db:"calculated_at" json:"calculated_at"`
}

// FinalSituationRecord is the persisted yearly verdict of a student in a subject.
type FinalSituationRecord struct {
	ID           string    `db:"id" json:"id"`
	StudentID    string    `db:"student_id" json:"student_id"`
	SubjectID    string    `db:"subject_id" json:"subject_id"`
	SchoolYearID string    `db:"school_year_id" json:"school_year_id"`
	FinalAverage float64   `db:"final_average" json:"final_average"`
	Status       string    `db:"status" json:"status"`
	PointsNeeded *float64  `db:"points_needed" json:"points_needed,omitempty"`
	Note         string    `db:"note" json:"note"`
	AbsenceRate  *float64  `db:"absence_rate" json:"absence_rate,omitempty"`
	CalculatedAt time.Time `db:"calculated_at" json:"calculated_at"`
}

// AttendanceTotals aggregates attendance for a student in a subject across a school year.
type AttendanceTotals struct {
	TotalAbsences int `db:"total_absences" json:"total_absences"`
	TotalSessions int `db:"total_sessions" json:"total_sessions"`
}

// BimesterKey identifies a bimester average.
type BimesterKey struct {
	StudentID  string `json:"student_id" validate:"required"`
	SubjectID  string `json:"subject_id" validate:"required"`
	BimesterID string `json:"bimester_id" validate:"required"`
}

// FinalSituationKey identifies a final situation.
type FinalSituationKey struct {
	StudentID    string `json:"student_id" validate:"required"`
	SubjectID    string `json:"subject_id" validate:"required"`
	SchoolYearID string `json:"school_year_id" validate:"required"`
}

// ReportCardBimester is one bimester cell of the report card.
type ReportCardBimester struct {
	BimesterNumber int      `json:"bimester_number"`
	Average        float64  `json:"average"`
	Situation      string   `json:"situation"`
	PointsNeeded   *float64 `json:"points_needed,omitempty"`
}

// ReportCardSubject groups the bimester averages and final situation of one subject.
type ReportCardSubject struct {
	SubjectID    string               `json:"subject_id"`
	SubjectName  string               `json:"subject_name"`
	Bimesters    []ReportCardBimester `json:"bimesters"`
	FinalAverage *float64             `json:"final_average,omitempty"`
	Status       string               `json:"status,omitempty"`
	PointsNeeded *float64             `json:"points_needed,omitempty"`
	Note         string               `json:"note,omitempty"`
}

// ReportCard is the read-only boletim of a student for a school year.
type ReportCard struct {
	StudentID    string              `json:"student_id"`
	SchoolYearID string              `json:"school_year_id"`
	Subjects     []ReportCardSubject `json:"subjects"`
	GeneratedAt  time.Time           `json:"generated_at"`
}

// ReportCardAverageRow is a bimester average joined with subject metadata.
type ReportCardAverageRow struct {
	SubjectID      string   `db:"subject_id"`
	SubjectName    string   `db:"subject_name"`
	BimesterNumber int      `db:"bimester_number"`
	Average        float64  `db:"average"`
	Situation      string   `db:"situation"`
	PointsNeeded   *float64 `db:"points_needed"`
}

// ReportCardFinalRow is a final situation joined with subject metadata.
type ReportCardFinalRow struct {
	SubjectID    string   `db:"subject_id"`
	SubjectName  string   `db:"subject_name"`
	FinalAverage float64  `db:"final_average"`
	Status       string   `db:"status"`
	PointsNeeded *float64 `db:"points_needed"`
	Note         string   `db:"note"`
}

// ClassStatsReport wraps class statistics with their scope.
type ClassStatsReport struct {
	ClassID         string  `json:"class_id"`
	SubjectID       string  `json:"subject_id"`
	SchoolYearID    string  `json:"school_year_id"`
	MeanAverage     float64 `json:"mean_average"`
	ApprovedCount   int     `json:"approved_count"`
	RecoveryCount   int     `json:"recovery_count"`
	FailedCount     int     `json:"failed_count"`
	Total           int     `json:"total"`
	PassRatePercent float64 `json:"pass_rate_percent"`
}
