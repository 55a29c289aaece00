package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/agenda-lina-api/internal/grading"
	"github.com/noah-isme/agenda-lina-api/internal/models"
	appErrors "github.com/noah-isme/agenda-lina-api/pkg/errors"
	"github.com/noah-isme/agenda-lina-api/pkg/jobs"
)

// JobTypeStudentRecalculation identifies queue jobs that recompute one student's year.
const JobTypeStudentRecalculation = "grades.recalculate_student"

type activityRepo interface {
	FindByID(ctx context.Context, id string) (*models.Activity, error)
	ListGraded(ctx context.Context, studentID, subjectID, bimesterID string) ([]models.GradedActivityRow, error)
	ListClassStudents(ctx context.Context, classID string) ([]string, error)
	UpsertGrade(ctx context.Context, grade *models.ActivityGrade) error
}

type bimesterReader interface {
	FindSchoolYear(ctx context.Context, id string) (*models.SchoolYear, error)
	FindByID(ctx context.Context, id string) (*models.Bimester, error)
	ListBySchoolYear(ctx context.Context, schoolYearID string) ([]models.Bimester, error)
}

type bimesterAverageRepo interface {
	Upsert(ctx context.Context, record *models.BimesterAverageRecord) error
	ListBySchoolYear(ctx context.Context, studentID, subjectID, schoolYearID string) ([]models.BimesterAverageRecord, error)
	ReportCardRows(ctx context.Context, studentID, schoolYearID string) ([]models.ReportCardAverageRow, error)
}

type finalSituationRepo interface {
	Upsert(ctx context.Context, record *models.FinalSituationRecord) error
	ReportCardRows(ctx context.Context, studentID, schoolYearID string) ([]models.ReportCardFinalRow, error)
	ClassAverages(ctx context.Context, classID, subjectID, schoolYearID string) ([]float64, error)
}

type attendanceReader interface {
	Totals(ctx context.Context, studentID, subjectID, schoolYearID string) (*models.AttendanceTotals, error)
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

// RecordGradeRequest captures a score entered for one student in one activity.
type RecordGradeRequest struct {
	ActivityID string   `json:"activity_id" validate:"required"`
	StudentID  string   `json:"student_id" validate:"required"`
	Value      *float64 `json:"value" validate:"required,min=0"`
}

// RecordGradeResult returns the stored score and the refreshed bimester average.
type RecordGradeResult struct {
	Grade           *models.ActivityGrade         `json:"grade"`
	BimesterAverage *models.BimesterAverageRecord `json:"bimester_average"`
}

// SimulateRecoveryRequest asks for the outcome of a hypothetical recovery exam.
type SimulateRecoveryRequest struct {
	CurrentAverage    *float64 `json:"current_average" validate:"required,min=0,max=10"`
	RecoveryExamScore *float64 `json:"recovery_exam_score" validate:"required,min=0,max=10"`
}

// RecalculateClassRequest scopes a background recalculation.
type RecalculateClassRequest struct {
	ClassID      string `json:"class_id" validate:"required"`
	SubjectID    string `json:"subject_id" validate:"required"`
	SchoolYearID string `json:"school_year_id" validate:"required"`
}

// RecalculationTicket summarises the jobs queued for a class.
type RecalculationTicket struct {
	ClassID  string   `json:"class_id"`
	Queued   int      `json:"queued"`
	JobIDs   []string `json:"job_ids"`
	Failures []string `json:"failures,omitempty"`
}

// StudentRecalculation is the payload of a recalculation job.
type StudentRecalculation struct {
	StudentID    string
	SubjectID    string
	SchoolYearID string
}

// GradeServiceConfig tunes grading behaviour.
type GradeServiceConfig struct {
	AbsenceCheck bool
	CacheTTL     time.Duration
}

// GradeServiceParams groups constructor dependencies.
type GradeServiceParams struct {
	Engine     *grading.Engine
	Activities activityRepo
	Bimesters  bimesterReader
	Averages   bimesterAverageRepo
	Finals     finalSituationRepo
	Attendance attendanceReader
	Queue      jobDispatcher
	Cache      *CacheService
	Metrics    *MetricsService
	Validator  *validator.Validate
	Logger     *zap.Logger
	Config     GradeServiceConfig
}

// GradeService computes and persists averages and situations through the grade engine.
type GradeService struct {
	engine     *grading.Engine
	activities activityRepo
	bimesters  bimesterReader
	averages   bimesterAverageRepo
	finals     finalSituationRepo
	attendance attendanceReader
	queue      jobDispatcher
	cache      *CacheService
	metrics    *MetricsService
	validator  *validator.Validate
	logger     *zap.Logger
	cfg        GradeServiceConfig
	now        func() time.Time
}

// NewGradeService constructs GradeService.
func NewGradeService(params GradeServiceParams) *GradeService {
	if params.Validator == nil {
		params.Validator = validator.New()
	}
	if params.Logger == nil {
		params.Logger = zap.NewNop()
	}
	if params.Engine == nil {
		params.Engine, _ = grading.NewEngine(grading.DefaultConfig())
	}
	return &GradeService{
		engine:     params.Engine,
		activities: params.Activities,
		bimesters:  params.Bimesters,
		averages:   params.Averages,
		finals:     params.Finals,
		attendance: params.Attendance,
		queue:      params.Queue,
		cache:      params.Cache,
		metrics:    params.Metrics,
		validator:  params.Validator,
		logger:     params.Logger,
		cfg:        params.Config,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// ComputeBimesterAverage recomputes and stores the average of a student in a subject for one bimester.
func (s *GradeService) ComputeBimesterAverage(ctx context.Context, key models.BimesterKey) (*models.BimesterAverageRecord, error) {
	if err := s.validator.Struct(key); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid bimester key")
	}
	bimester, err := s.bimesters.FindByID(ctx, key.BimesterID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "bimester not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load bimester")
	}
	return s.computeBimester(ctx, key, bimester)
}

func (s *GradeService) computeBimester(ctx context.Context, key models.BimesterKey, bimester *models.Bimester) (*models.BimesterAverageRecord, error) {
	start := time.Now()
	rows, err := s.activities.ListGraded(ctx, key.StudentID, key.SubjectID, key.BimesterID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load graded activities")
	}
	s.metrics.ObserveDBQuery("graded_activities", time.Since(start))

	activities := toGradedActivities(rows)
	if err := grading.ValidateActivities(activities); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInvalidActivity.Code, appErrors.ErrInvalidActivity.Status, "activity configuration prevents grading")
	}
	result := s.engine.ComputeBimesterAverage(activities)

	record := &models.BimesterAverageRecord{
		StudentID:      key.StudentID,
		SubjectID:      key.SubjectID,
		BimesterID:     key.BimesterID,
		BimesterNumber: bimester.Number,
		Average:        result.Average,
		HasAnyGrade:    result.HasAnyGrade,
		Situation:      string(grading.StatusInProgress),
		CalculatedAt:   s.now(),
	}
	if result.HasAnyGrade {
		situation := s.engine.BimesterSituation(result.Average)
		record.Situation = string(situation.Status)
		record.PointsNeeded = situation.PointsNeeded
	}
	if err := s.averages.Upsert(ctx, record); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store bimester average")
	}
	s.metrics.ObserveGradeComputation("bimester", record.Situation)
	s.invalidate(ctx, key.StudentID, key.SubjectID)
	return record, nil
}

// ComputeFinalSituation recomputes and stores the yearly situation of a student in a subject.
func (s *GradeService) ComputeFinalSituation(ctx context.Context, key models.FinalSituationKey) (*models.FinalSituationRecord, error) {
	if err := s.validator.Struct(key); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid final situation key")
	}
	if err := s.requireSchoolYear(ctx, key.SchoolYearID); err != nil {
		return nil, err
	}
	records, err := s.averages.ListBySchoolYear(ctx, key.StudentID, key.SubjectID, key.SchoolYearID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load bimester averages")
	}
	averages := make([]grading.BimesterAverage, 0, len(records))
	for _, record := range records {
		if !record.HasAnyGrade {
			continue
		}
		averages = append(averages, grading.BimesterAverage{BimesterNumber: record.BimesterNumber, Average: record.Average})
	}

	var final grading.FinalSituation
	if s.cfg.AbsenceCheck && s.attendance != nil {
		totals, err := s.attendance.Totals(ctx, key.StudentID, key.SubjectID, key.SchoolYearID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attendance")
		}
		final = s.engine.ComputeFinalSituationWithAttendance(averages, grading.Attendance{TotalAbsences: totals.TotalAbsences, TotalSessions: totals.TotalSessions})
	} else {
		final = s.engine.ComputeFinalSituation(averages)
	}

	record := &models.FinalSituationRecord{
		StudentID:    key.StudentID,
		SubjectID:    key.SubjectID,
		SchoolYearID: key.SchoolYearID,
		FinalAverage: final.FinalAverage,
		Status:       string(final.Status),
		PointsNeeded: final.PointsNeeded,
		Note:         final.Note,
		AbsenceRate:  final.AbsenceRate,
		CalculatedAt: s.now(),
	}
	if err := s.finals.Upsert(ctx, record); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store final situation")
	}
	s.metrics.ObserveGradeComputation("final", record.Status)
	s.invalidate(ctx, key.StudentID, key.SubjectID)
	return record, nil
}

// RecordGrade stores a score and refreshes the affected bimester average.
func (s *GradeService) RecordGrade(ctx context.Context, req RecordGradeRequest) (*RecordGradeResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid grade payload")
	}
	activity, err := s.activities.FindByID(ctx, req.ActivityID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "activity not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load activity")
	}
	if *req.Value > activity.MaxValue {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("value must not exceed %g", activity.MaxValue))
	}
	// Sibling activities must be gradable before the score is stored.
	rows, err := s.activities.ListGraded(ctx, req.StudentID, activity.SubjectID, activity.BimesterID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load graded activities")
	}
	if err := grading.ValidateActivities(toGradedActivities(rows)); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInvalidActivity.Code, appErrors.ErrInvalidActivity.Status, "activity configuration prevents grading")
	}

	grade := &models.ActivityGrade{ActivityID: activity.ID, StudentID: req.StudentID, Value: *req.Value}
	if err := s.activities.UpsertGrade(ctx, grade); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store grade")
	}
	average, err := s.ComputeBimesterAverage(ctx, models.BimesterKey{StudentID: req.StudentID, SubjectID: activity.SubjectID, BimesterID: activity.BimesterID})
	if err != nil {
		return nil, err
	}
	return &RecordGradeResult{Grade: grade, BimesterAverage: average}, nil
}

// ReportCard assembles the boletim of a student. The boolean reports a cache hit.
func (s *GradeService) ReportCard(ctx context.Context, studentID, schoolYearID string) (*models.ReportCard, bool, error) {
	if studentID == "" || schoolYearID == "" {
		return nil, false, appErrors.Clone(appErrors.ErrValidation, "student and school year required")
	}
	cacheKey := reportCardCacheKey(studentID, schoolYearID)
	var cached models.ReportCard
	if hit, err := s.cache.Get(ctx, cacheKey, &cached); err == nil && hit {
		return &cached, true, nil
	}

	start := time.Now()
	averageRows, err := s.averages.ReportCardRows(ctx, studentID, schoolYearID)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load report card averages")
	}
	finalRows, err := s.finals.ReportCardRows(ctx, studentID, schoolYearID)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load report card finals")
	}
	s.metrics.ObserveDBQuery("report_card", time.Since(start))

	card := buildReportCard(studentID, schoolYearID, averageRows, finalRows)
	card.GeneratedAt = s.now()
	if err := s.cache.Set(ctx, cacheKey, card, s.cfg.CacheTTL); err != nil {
		s.logger.Warn("cache report card", zap.Error(err))
	}
	return card, false, nil
}

// ClassStats aggregates the final averages of a class in a subject. The boolean reports a cache hit.
func (s *GradeService) ClassStats(ctx context.Context, classID, subjectID, schoolYearID string) (*models.ClassStatsReport, bool, error) {
	if classID == "" || subjectID == "" || schoolYearID == "" {
		return nil, false, appErrors.Clone(appErrors.ErrValidation, "class, subject and school year required")
	}
	cacheKey := classStatsCacheKey(classID, subjectID, schoolYearID)
	var cached models.ClassStatsReport
	if hit, err := s.cache.Get(ctx, cacheKey, &cached); err == nil && hit {
		return &cached, true, nil
	}

	start := time.Now()
	averages, err := s.finals.ClassAverages(ctx, classID, subjectID, schoolYearID)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class averages")
	}
	s.metrics.ObserveDBQuery("class_averages", time.Since(start))

	stats := s.engine.ComputeClassStats(averages)
	report := &models.ClassStatsReport{
		ClassID:         classID,
		SubjectID:       subjectID,
		SchoolYearID:    schoolYearID,
		MeanAverage:     stats.MeanAverage,
		ApprovedCount:   stats.ApprovedCount,
		RecoveryCount:   stats.RecoveryCount,
		FailedCount:     stats.FailedCount,
		Total:           stats.Total,
		PassRatePercent: stats.PassRatePercent,
	}
	if err := s.cache.Set(ctx, cacheKey, report, s.cfg.CacheTTL); err != nil {
		s.logger.Warn("cache class stats", zap.Error(err))
	}
	return report, false, nil
}

// SimulateRecovery projects the outcome of a recovery exam without persisting anything.
func (s *GradeService) SimulateRecovery(req SimulateRecoveryRequest) (*grading.RecoveryOutcome, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid simulation payload")
	}
	outcome := s.engine.SimulateRecoveryOutcome(*req.CurrentAverage, *req.RecoveryExamScore)
	return &outcome, nil
}

// RecalculateClass queues one recalculation job per enrolled student.
func (s *GradeService) RecalculateClass(ctx context.Context, req RecalculateClassRequest) (*RecalculationTicket, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid recalculation payload")
	}
	if s.queue == nil {
		return nil, appErrors.Clone(appErrors.ErrServiceUnavailable, "recalculation queue unavailable")
	}
	if err := s.requireSchoolYear(ctx, req.SchoolYearID); err != nil {
		return nil, err
	}
	students, err := s.activities.ListClassStudents(ctx, req.ClassID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list class students")
	}
	ticket := &RecalculationTicket{ClassID: req.ClassID, JobIDs: make([]string, 0, len(students))}
	for _, studentID := range students {
		job := jobs.Job{
			ID:   uuid.NewString(),
			Type: JobTypeStudentRecalculation,
			Payload: StudentRecalculation{
				StudentID:    studentID,
				SubjectID:    req.SubjectID,
				SchoolYearID: req.SchoolYearID,
			},
		}
		if err := s.queue.Enqueue(job); err != nil {
			s.logger.Warn("enqueue recalculation", zap.String("student_id", studentID), zap.Error(err))
			ticket.Failures = append(ticket.Failures, studentID)
			continue
		}
		ticket.JobIDs = append(ticket.JobIDs, job.ID)
	}
	ticket.Queued = len(ticket.JobIDs)
	s.logger.Info("class recalculation queued", zap.String("class_id", req.ClassID), zap.Int("jobs", ticket.Queued))
	return ticket, nil
}

// RecalculateStudent recomputes every bimester of the school year and then the final situation.
func (s *GradeService) RecalculateStudent(ctx context.Context, target StudentRecalculation) error {
	bimesters, err := s.bimesters.ListBySchoolYear(ctx, target.SchoolYearID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list bimesters")
	}
	for i := range bimesters {
		key := models.BimesterKey{StudentID: target.StudentID, SubjectID: target.SubjectID, BimesterID: bimesters[i].ID}
		if _, err := s.computeBimester(ctx, key, &bimesters[i]); err != nil {
			return err
		}
	}
	_, err = s.ComputeFinalSituation(ctx, models.FinalSituationKey{StudentID: target.StudentID, SubjectID: target.SubjectID, SchoolYearID: target.SchoolYearID})
	return err
}

func (s *GradeService) requireSchoolYear(ctx context.Context, schoolYearID string) error {
	if _, err := s.bimesters.FindSchoolYear(ctx, schoolYearID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "school year not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load school year")
	}
	return nil
}

func (s *GradeService) invalidate(ctx context.Context, studentID, subjectID string) {
	if err := s.cache.Invalidate(ctx, reportCardCacheKey(studentID, "*")); err != nil {
		s.logger.Warn("invalidate report card cache", zap.String("student_id", studentID), zap.Error(err))
	}
	if err := s.cache.Invalidate(ctx, classStatsCacheKey("*", subjectID, "*")); err != nil {
		s.logger.Warn("invalidate class stats cache", zap.String("subject_id", subjectID), zap.Error(err))
	}
}

func toGradedActivities(rows []models.GradedActivityRow) []grading.GradedActivity {
	activities := make([]grading.GradedActivity, 0, len(rows))
	for _, row := range rows {
		activities = append(activities, grading.GradedActivity{Value: row.Value, MaxValue: row.MaxValue, Weight: row.Weight})
	}
	return activities
}

func buildReportCard(studentID, schoolYearID string, averages []models.ReportCardAverageRow, finals []models.ReportCardFinalRow) *models.ReportCard {
	subjects := make(map[string]*models.ReportCardSubject)
	subject := func(id, name string) *models.ReportCardSubject {
		entry, ok := subjects[id]
		if !ok {
			entry = &models.ReportCardSubject{SubjectID: id, SubjectName: name, Bimesters: []models.ReportCardBimester{}}
			subjects[id] = entry
		}
		return entry
	}
	for _, row := range averages {
		entry := subject(row.SubjectID, row.SubjectName)
		entry.Bimesters = append(entry.Bimesters, models.ReportCardBimester{
			BimesterNumber: row.BimesterNumber,
			Average:        row.Average,
			Situation:      row.Situation,
			PointsNeeded:   row.PointsNeeded,
		})
	}
	for _, row := range finals {
		entry := subject(row.SubjectID, row.SubjectName)
		finalAverage := row.FinalAverage
		entry.FinalAverage = &finalAverage
		entry.Status = row.Status
		entry.PointsNeeded = row.PointsNeeded
		entry.Note = row.Note
	}

	card := &models.ReportCard{StudentID: studentID, SchoolYearID: schoolYearID, Subjects: make([]models.ReportCardSubject, 0, len(subjects))}
	for _, entry := range subjects {
		sort.Slice(entry.Bimesters, func(i, j int) bool { return entry.Bimesters[i].BimesterNumber < entry.Bimesters[j].BimesterNumber })
		card.Subjects = append(card.Subjects, *entry)
	}
	sort.Slice(card.Subjects, func(i, j int) bool {
		if card.Subjects[i].SubjectName == card.Subjects[j].SubjectName {
			return card.Subjects[i].SubjectID < card.Subjects[j].SubjectID
		}
		return card.Subjects[i].SubjectName < card.Subjects[j].SubjectName
	})
	return card
}

func reportCardCacheKey(studentID, schoolYearID string) string {
	return fmt.Sprintf("grades:report-card:%s:%s", studentID, schoolYearID)
}

func classStatsCacheKey(classID, subjectID, schoolYearID string) string {
	return fmt.Sprintf("grades:class-stats:%s:%s:%s", classID, subjectID, schoolYearID)
}
