package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"path"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/agenda-lina-api/internal/grading"
	"github.com/noah-isme/agenda-lina-api/internal/models"
	appErrors "github.com/noah-isme/agenda-lina-api/pkg/errors"
	"github.com/noah-isme/agenda-lina-api/pkg/jobs"
)

type fakeActivityRepo struct {
	activities map[string]models.Activity
	graded     map[string][]models.GradedActivityRow
	students   map[string][]string
	grades     []models.ActivityGrade
	listErr    error
}

func (f *fakeActivityRepo) FindByID(ctx context.Context, id string) (*models.Activity, error) {
	activity, ok := f.activities[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &activity, nil
}

func (f *fakeActivityRepo) ListGraded(ctx context.Context, studentID, subjectID, bimesterID string) ([]models.GradedActivityRow, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.graded[studentID+"|"+subjectID+"|"+bimesterID], nil
}

func (f *fakeActivityRepo) ListClassStudents(ctx context.Context, classID string) ([]string, error) {
	return f.students[classID], nil
}

func (f *fakeActivityRepo) UpsertGrade(ctx context.Context, grade *models.ActivityGrade) error {
	f.grades = append(f.grades, *grade)
	return nil
}

type fakeBimesterReader struct {
	years     map[string]models.SchoolYear
	bimesters []models.Bimester
}

func (f *fakeBimesterReader) FindSchoolYear(ctx context.Context, id string) (*models.SchoolYear, error) {
	year, ok := f.years[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &year, nil
}

func (f *fakeBimesterReader) FindByID(ctx context.Context, id string) (*models.Bimester, error) {
	for _, b := range f.bimesters {
		if b.ID == id {
			found := b
			return &found, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeBimesterReader) ListBySchoolYear(ctx context.Context, schoolYearID string) ([]models.Bimester, error) {
	var result []models.Bimester
	for _, b := range f.bimesters {
		if b.SchoolYearID == schoolYearID {
			result = append(result, b)
		}
	}
	return result, nil
}

type fakeAverageRepo struct {
	records    map[string]models.BimesterAverageRecord
	reportRows []models.ReportCardAverageRow
}

func (f *fakeAverageRepo) Upsert(ctx context.Context, record *models.BimesterAverageRecord) error {
	if f.records == nil {
		f.records = make(map[string]models.BimesterAverageRecord)
	}
	f.records[record.StudentID+"|"+record.SubjectID+"|"+record.BimesterID] = *record
	return nil
}

func (f *fakeAverageRepo) ListBySchoolYear(ctx context.Context, studentID, subjectID, schoolYearID string) ([]models.BimesterAverageRecord, error) {
	var result []models.BimesterAverageRecord
	for _, record := range f.records {
		if record.StudentID == studentID && record.SubjectID == subjectID {
			result = append(result, record)
		}
	}
	return result, nil
}

func (f *fakeAverageRepo) ReportCardRows(ctx context.Context, studentID, schoolYearID string) ([]models.ReportCardAverageRow, error) {
	return f.reportRows, nil
}

type fakeFinalRepo struct {
	records       map[string]models.FinalSituationRecord
	reportRows    []models.ReportCardFinalRow
	classAverages []float64
	classCalls    int
}

func (f *fakeFinalRepo) Upsert(ctx context.Context, record *models.FinalSituationRecord) error {
	if f.records == nil {
		f.records = make(map[string]models.FinalSituationRecord)
	}
	f.records[record.StudentID+"|"+record.SubjectID] = *record
	return nil
}

func (f *fakeFinalRepo) ReportCardRows(ctx context.Context, studentID, schoolYearID string) ([]models.ReportCardFinalRow, error) {
	return f.reportRows, nil
}

func (f *fakeFinalRepo) ClassAverages(ctx context.Context, classID, subjectID, schoolYearID string) ([]float64, error) {
	f.classCalls++
	return f.classAverages, nil
}

type fakeAttendance struct {
	totals models.AttendanceTotals
}

func (f *fakeAttendance) Totals(ctx context.Context, studentID, subjectID, schoolYearID string) (*models.AttendanceTotals, error) {
	totals := f.totals
	return &totals, nil
}

type fakeQueue struct {
	jobs    []jobs.Job
	failFor map[string]bool
}

func (f *fakeQueue) Enqueue(job jobs.Job) error {
	payload := job.Payload.(StudentRecalculation)
	if f.failFor[payload.StudentID] {
		return jobs.ErrQueueFull
	}
	f.jobs = append(f.jobs, job)
	return nil
}

type memoryCache struct {
	entries map[string][]byte
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string][]byte)}
}

func (m *memoryCache) Get(ctx context.Context, key string, dest interface{}) error {
	raw, ok := m.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.entries[key] = raw
	return nil
}

func (m *memoryCache) DeleteByPattern(ctx context.Context, pattern string) error {
	for key := range m.entries {
		if ok, _ := path.Match(pattern, key); ok {
			delete(m.entries, key)
		}
	}
	return nil
}

type gradeFixture struct {
	service    *GradeService
	activities *fakeActivityRepo
	averages   *fakeAverageRepo
	finals     *fakeFinalRepo
	attendance *fakeAttendance
	queue      *fakeQueue
	cache      *memoryCache
}

func ptr(v float64) *float64 { return &v }

func newGradeFixture(t *testing.T, cfg GradeServiceConfig) *gradeFixture {
	t.Helper()
	engine, err := grading.NewEngine(grading.DefaultConfig())
	require.NoError(t, err)

	f := &gradeFixture{
		activities: &fakeActivityRepo{
			activities: map[string]models.Activity{
				"act-1": {ID: "act-1", SubjectID: "math", BimesterID: "b1", MaxValue: 10, Weight: 1},
			},
			graded:   map[string][]models.GradedActivityRow{},
			students: map[string][]string{"class-1": {"stu-1", "stu-2", "stu-3"}},
		},
		averages:   &fakeAverageRepo{},
		finals:     &fakeFinalRepo{},
		attendance: &fakeAttendance{},
		queue:      &fakeQueue{failFor: map[string]bool{}},
		cache:      newMemoryCache(),
	}
	bimesters := &fakeBimesterReader{years: map[string]models.SchoolYear{"sy": {ID: "sy", Year: 2025}}, bimesters: []models.Bimester{
		{ID: "b1", SchoolYearID: "sy", Number: 1},
		{ID: "b2", SchoolYearID: "sy", Number: 2},
		{ID: "b3", SchoolYearID: "sy", Number: 3},
		{ID: "b4", SchoolYearID: "sy", Number: 4},
	}}
	metrics := NewMetricsService()
	f.service = NewGradeService(GradeServiceParams{
		Engine:     engine,
		Activities: f.activities,
		Bimesters:  bimesters,
		Averages:   f.averages,
		Finals:     f.finals,
		Attendance: f.attendance,
		Queue:      f.queue,
		Cache:      NewCacheService(f.cache, metrics, time.Minute, zap.NewNop(), true),
		Metrics:    metrics,
		Logger:     zap.NewNop(),
		Config:     cfg,
	})
	return f
}

func (f *gradeFixture) grade(studentID, bimesterID string, rows ...models.GradedActivityRow) {
	f.activities.graded[studentID+"|math|"+bimesterID] = rows
}

func appCode(t *testing.T, err error) string {
	t.Helper()
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr), "expected app error, got %v", err)
	return appErr.Code
}

func TestGradeServiceComputeBimesterAverage(t *testing.T) {
	f := newGradeFixture(t, GradeServiceConfig{})
	f.grade("stu-1", "b1",
		models.GradedActivityRow{MaxValue: 10, Weight: 2, Value: ptr(8)},
		models.GradedActivityRow{MaxValue: 5, Weight: 1, Value: ptr(2.5)},
		models.GradedActivityRow{MaxValue: 10, Weight: 1},
	)

	record, err := f.service.ComputeBimesterAverage(context.Background(), models.BimesterKey{StudentID: "stu-1", SubjectID: "math", BimesterID: "b1"})
	require.NoError(t, err)
	assert.Equal(t, 7.0, record.Average)
	assert.True(t, record.HasAnyGrade)
	assert.Equal(t, string(grading.StatusApproved), record.Situation)
	assert.Nil(t, record.PointsNeeded)
	assert.Equal(t, 1, record.BimesterNumber)
	assert.Len(t, f.averages.records, 1)
}

func TestGradeServiceBimesterWithoutGradesIsInProgress(t *testing.T) {
	f := newGradeFixture(t, GradeServiceConfig{})
	f.grade("stu-1", "b2", models.GradedActivityRow{MaxValue: 10, Weight: 1})

	record, err := f.service.ComputeBimesterAverage(context.Background(), models.BimesterKey{StudentID: "stu-1", SubjectID: "math", BimesterID: "b2"})
	require.NoError(t, err)
	assert.False(t, record.HasAnyGrade)
	assert.Equal(t, 0.0, record.Average)
	assert.Equal(t, string(grading.StatusInProgress), record.Situation)
}

func TestGradeServiceBimesterRecoveryPointsNeeded(t *testing.T) {
	f := newGradeFixture(t, GradeServiceConfig{})
	f.grade("stu-1", "b1", models.GradedActivityRow{MaxValue: 10, Weight: 1, Value: ptr(5.5)})

	record, err := f.service.ComputeBimesterAverage(context.Background(), models.BimesterKey{StudentID: "stu-1", SubjectID: "math", BimesterID: "b1"})
	require.NoError(t, err)
	assert.Equal(t, string(grading.StatusRecovery), record.Situation)
	require.NotNil(t, record.PointsNeeded)
	assert.Equal(t, 1.5, *record.PointsNeeded)
}

func TestGradeServiceComputeBimesterAverageErrors(t *testing.T) {
	f := newGradeFixture(t, GradeServiceConfig{})
	ctx := context.Background()

	_, err := f.service.ComputeBimesterAverage(ctx, models.BimesterKey{StudentID: "stu-1"})
	assert.Equal(t, appErrors.ErrValidation.Code, appCode(t, err))

	_, err = f.service.ComputeBimesterAverage(ctx, models.BimesterKey{StudentID: "stu-1", SubjectID: "math", BimesterID: "missing"})
	assert.Equal(t, appErrors.ErrNotFound.Code, appCode(t, err))

	f.grade("stu-1", "b1", models.GradedActivityRow{MaxValue: 10, Weight: 0, Value: ptr(9)})
	_, err = f.service.ComputeBimesterAverage(ctx, models.BimesterKey{StudentID: "stu-1", SubjectID: "math", BimesterID: "b1"})
	assert.Equal(t, appErrors.ErrInvalidActivity.Code, appCode(t, err))

	f.activities.listErr = errors.New("db down")
	_, err = f.service.ComputeBimesterAverage(ctx, models.BimesterKey{StudentID: "stu-1", SubjectID: "math", BimesterID: "b1"})
	assert.Equal(t, appErrors.ErrInternal.Code, appCode(t, err))
}

func TestGradeServiceComputeFinalSituation(t *testing.T) {
	f := newGradeFixture(t, GradeServiceConfig{})
	ctx := context.Background()
	scores := map[string]float64{"b1": 6, "b2": 6, "b3": 6.5, "b4": 6.5}
	for bimester, score := range scores {
		f.grade("stu-1", bimester, models.GradedActivityRow{MaxValue: 10, Weight: 1, Value: ptr(score)})
		_, err := f.service.ComputeBimesterAverage(ctx, models.BimesterKey{StudentID: "stu-1", SubjectID: "math", BimesterID: bimester})
		require.NoError(t, err)
	}

	record, err := f.service.ComputeFinalSituation(ctx, models.FinalSituationKey{StudentID: "stu-1", SubjectID: "math", SchoolYearID: "sy"})
	require.NoError(t, err)
	assert.Equal(t, 6.25, record.FinalAverage)
	assert.Equal(t, string(grading.StatusRecovery), record.Status)
	require.NotNil(t, record.PointsNeeded)
	assert.Equal(t, 0.75, *record.PointsNeeded)
	assert.Nil(t, record.AbsenceRate)
}

func TestGradeServiceUnknownSchoolYearIsNotFound(t *testing.T) {
	f := newGradeFixture(t, GradeServiceConfig{})
	ctx := context.Background()

	_, err := f.service.ComputeFinalSituation(ctx, models.FinalSituationKey{StudentID: "stu-1", SubjectID: "math", SchoolYearID: "does-not-exist"})
	assert.Equal(t, appErrors.ErrNotFound.Code, appCode(t, err))
	assert.Empty(t, f.finals.records)

	_, err = f.service.RecalculateClass(ctx, RecalculateClassRequest{ClassID: "class-1", SubjectID: "math", SchoolYearID: "does-not-exist"})
	assert.Equal(t, appErrors.ErrNotFound.Code, appCode(t, err))
	assert.Empty(t, f.queue.jobs)
}

func TestGradeServiceFinalSituationIgnoresUngradedBimesters(t *testing.T) {
	f := newGradeFixture(t, GradeServiceConfig{})
	ctx := context.Background()
	f.grade("stu-1", "b1", models.GradedActivityRow{MaxValue: 10, Weight: 1, Value: ptr(8)})
	f.grade("stu-1", "b2", models.GradedActivityRow{MaxValue: 10, Weight: 1})
	for _, bimester := range []string{"b1", "b2"} {
		_, err := f.service.ComputeBimesterAverage(ctx, models.BimesterKey{StudentID: "stu-1", SubjectID: "math", BimesterID: bimester})
		require.NoError(t, err)
	}

	record, err := f.service.ComputeFinalSituation(ctx, models.FinalSituationKey{StudentID: "stu-1", SubjectID: "math", SchoolYearID: "sy"})
	require.NoError(t, err)
	assert.Equal(t, string(grading.StatusInProgress), record.Status)
	assert.Equal(t, 8.0, record.FinalAverage)
	assert.Equal(t, "3 bimester(s) pending", record.Note)
}

func TestGradeServiceFinalSituationAbsenceCheck(t *testing.T) {
	f := newGradeFixture(t, GradeServiceConfig{AbsenceCheck: true})
	ctx := context.Background()
	for _, bimester := range []string{"b1", "b2", "b3", "b4"} {
		f.grade("stu-1", bimester, models.GradedActivityRow{MaxValue: 10, Weight: 1, Value: ptr(9)})
		_, err := f.service.ComputeBimesterAverage(ctx, models.BimesterKey{StudentID: "stu-1", SubjectID: "math", BimesterID: bimester})
		require.NoError(t, err)
	}
	f.attendance.totals = models.AttendanceTotals{TotalAbsences: 30, TotalSessions: 80}

	record, err := f.service.ComputeFinalSituation(ctx, models.FinalSituationKey{StudentID: "stu-1", SubjectID: "math", SchoolYearID: "sy"})
	require.NoError(t, err)
	assert.Equal(t, string(grading.StatusFailedAbsence), record.Status)
	require.NotNil(t, record.AbsenceRate)
	assert.Nil(t, record.PointsNeeded)
}

func TestGradeServiceRecordGrade(t *testing.T) {
	f := newGradeFixture(t, GradeServiceConfig{})
	f.grade("stu-1", "b1", models.GradedActivityRow{MaxValue: 10, Weight: 1, Value: ptr(9)})

	result, err := f.service.RecordGrade(context.Background(), RecordGradeRequest{ActivityID: "act-1", StudentID: "stu-1", Value: ptr(9)})
	require.NoError(t, err)
	require.Len(t, f.activities.grades, 1)
	assert.Equal(t, 9.0, result.Grade.Value)
	assert.Equal(t, 9.0, result.BimesterAverage.Average)

	_, err = f.service.RecordGrade(context.Background(), RecordGradeRequest{ActivityID: "act-1", StudentID: "stu-1", Value: ptr(11)})
	assert.Equal(t, appErrors.ErrValidation.Code, appCode(t, err))

	_, err = f.service.RecordGrade(context.Background(), RecordGradeRequest{ActivityID: "nope", StudentID: "stu-1", Value: ptr(1)})
	assert.Equal(t, appErrors.ErrNotFound.Code, appCode(t, err))

	_, err = f.service.RecordGrade(context.Background(), RecordGradeRequest{ActivityID: "act-1", StudentID: "stu-1"})
	assert.Equal(t, appErrors.ErrValidation.Code, appCode(t, err))
}

func TestGradeServiceRecordGradeRejectsBeforeStoring(t *testing.T) {
	f := newGradeFixture(t, GradeServiceConfig{})
	f.grade("stu-1", "b1",
		models.GradedActivityRow{MaxValue: 10, Weight: 1, Value: ptr(7)},
		models.GradedActivityRow{MaxValue: 0, Weight: 1},
	)

	_, err := f.service.RecordGrade(context.Background(), RecordGradeRequest{ActivityID: "act-1", StudentID: "stu-1", Value: ptr(7)})
	assert.Equal(t, appErrors.ErrInvalidActivity.Code, appCode(t, err))
	assert.Empty(t, f.activities.grades)
	assert.Empty(t, f.averages.records)
}

func TestGradeServiceReportCardCachesAndInvalidates(t *testing.T) {
	f := newGradeFixture(t, GradeServiceConfig{})
	ctx := context.Background()
	f.averages.reportRows = []models.ReportCardAverageRow{
		{SubjectID: "math", SubjectName: "Mathematics", BimesterNumber: 2, Average: 6, Situation: "RECOVERY", PointsNeeded: ptr(1)},
		{SubjectID: "math", SubjectName: "Mathematics", BimesterNumber: 1, Average: 8, Situation: "APPROVED"},
		{SubjectID: "art", SubjectName: "Arts", BimesterNumber: 1, Average: 9, Situation: "APPROVED"},
	}
	f.finals.reportRows = []models.ReportCardFinalRow{
		{SubjectID: "math", SubjectName: "Mathematics", FinalAverage: 7, Status: "IN_PROGRESS", Note: "2 bimester(s) pending"},
	}

	card, hit, err := f.service.ReportCard(ctx, "stu-1", "sy")
	require.NoError(t, err)
	assert.False(t, hit)
	require.Len(t, card.Subjects, 2)
	assert.Equal(t, "Arts", card.Subjects[0].SubjectName)
	assert.Nil(t, card.Subjects[0].FinalAverage)
	math := card.Subjects[1]
	assert.Equal(t, 1, math.Bimesters[0].BimesterNumber)
	assert.Equal(t, 2, math.Bimesters[1].BimesterNumber)
	require.NotNil(t, math.FinalAverage)
	assert.Equal(t, 7.0, *math.FinalAverage)

	_, hit, err = f.service.ReportCard(ctx, "stu-1", "sy")
	require.NoError(t, err)
	assert.True(t, hit)

	f.grade("stu-1", "b1", models.GradedActivityRow{MaxValue: 10, Weight: 1, Value: ptr(9)})
	_, err = f.service.ComputeBimesterAverage(ctx, models.BimesterKey{StudentID: "stu-1", SubjectID: "math", BimesterID: "b1"})
	require.NoError(t, err)

	_, hit, err = f.service.ReportCard(ctx, "stu-1", "sy")
	require.NoError(t, err)
	assert.False(t, hit)

	_, _, err = f.service.ReportCard(ctx, "", "sy")
	assert.Equal(t, appErrors.ErrValidation.Code, appCode(t, err))
}

func TestGradeServiceClassStats(t *testing.T) {
	f := newGradeFixture(t, GradeServiceConfig{})
	ctx := context.Background()
	f.finals.classAverages = []float64{9, 7, 6, 4}

	report, hit, err := f.service.ClassStats(ctx, "class-1", "math", "sy")
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 6.5, report.MeanAverage)
	assert.Equal(t, 2, report.ApprovedCount)
	assert.Equal(t, 1, report.RecoveryCount)
	assert.Equal(t, 1, report.FailedCount)
	assert.Equal(t, 4, report.Total)
	assert.Equal(t, 50.0, report.PassRatePercent)

	_, hit, err = f.service.ClassStats(ctx, "class-1", "math", "sy")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 1, f.finals.classCalls)

	_, _, err = f.service.ClassStats(ctx, "class-1", "", "sy")
	assert.Equal(t, appErrors.ErrValidation.Code, appCode(t, err))
}

func TestGradeServiceSimulateRecovery(t *testing.T) {
	f := newGradeFixture(t, GradeServiceConfig{})

	outcome, err := f.service.SimulateRecovery(SimulateRecoveryRequest{CurrentAverage: ptr(4), RecoveryExamScore: ptr(6)})
	require.NoError(t, err)
	assert.Equal(t, 5.0, outcome.FinalAverage)
	assert.True(t, outcome.Passed)

	_, err = f.service.SimulateRecovery(SimulateRecoveryRequest{CurrentAverage: ptr(4), RecoveryExamScore: ptr(12)})
	assert.Equal(t, appErrors.ErrValidation.Code, appCode(t, err))
}

func TestGradeServiceRecalculateClass(t *testing.T) {
	f := newGradeFixture(t, GradeServiceConfig{})
	f.queue.failFor["stu-2"] = true

	ticket, err := f.service.RecalculateClass(context.Background(), RecalculateClassRequest{ClassID: "class-1", SubjectID: "math", SchoolYearID: "sy"})
	require.NoError(t, err)
	assert.Equal(t, 2, ticket.Queued)
	assert.Equal(t, []string{"stu-2"}, ticket.Failures)
	require.Len(t, f.queue.jobs, 2)
	assert.Equal(t, JobTypeStudentRecalculation, f.queue.jobs[0].Type)

	noQueue := NewGradeService(GradeServiceParams{Activities: f.activities})
	_, err = noQueue.RecalculateClass(context.Background(), RecalculateClassRequest{ClassID: "class-1", SubjectID: "math", SchoolYearID: "sy"})
	assert.Equal(t, appErrors.ErrServiceUnavailable.Code, appCode(t, err))
}

func TestGradeServiceRecalculateStudent(t *testing.T) {
	f := newGradeFixture(t, GradeServiceConfig{})
	for _, bimester := range []string{"b1", "b2", "b3", "b4"} {
		f.grade("stu-1", bimester, models.GradedActivityRow{MaxValue: 10, Weight: 1, Value: ptr(3)})
	}

	require.NoError(t, f.service.RecalculateStudent(context.Background(), StudentRecalculation{StudentID: "stu-1", SubjectID: "math", SchoolYearID: "sy"}))
	assert.Len(t, f.averages.records, 4)
	final := f.finals.records["stu-1|math"]
	assert.Equal(t, string(grading.StatusFailed), final.Status)
	assert.Equal(t, 3.0, final.FinalAverage)
}
