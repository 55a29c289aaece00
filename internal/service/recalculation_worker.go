package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/agenda-lina-api/pkg/jobs"
)

type studentRecalculator interface {
	RecalculateStudent(ctx context.Context, target StudentRecalculation) error
}

// RecalculationWorker bridges queue jobs to GradeService.
type RecalculationWorker struct {
	grades  studentRecalculator
	metrics *MetricsService
	logger  *zap.Logger
}

// NewRecalculationWorker constructs a worker.
func NewRecalculationWorker(grades studentRecalculator, metrics *MetricsService, logger *zap.Logger) *RecalculationWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecalculationWorker{grades: grades, metrics: metrics, logger: logger}
}

// Handle processes a queue job. Returned errors are retried by the queue.
func (w *RecalculationWorker) Handle(ctx context.Context, job jobs.Job) error {
	if job.Type != JobTypeStudentRecalculation {
		w.logger.Warn("unexpected job type", zap.String("job_id", job.ID), zap.String("type", job.Type))
		return nil
	}
	var target StudentRecalculation
	switch payload := job.Payload.(type) {
	case StudentRecalculation:
		target = payload
	case *StudentRecalculation:
		if payload == nil {
			return fmt.Errorf("job %s: empty payload", job.ID)
		}
		target = *payload
	default:
		w.logger.Error("invalid recalculation payload", zap.String("job_id", job.ID))
		w.metrics.ObserveRecalculationJob(fmt.Errorf("invalid payload %T", job.Payload))
		return nil
	}

	if err := w.grades.RecalculateStudent(ctx, target); err != nil {
		return err
	}
	w.metrics.ObserveRecalculationJob(nil)
	w.logger.Debug("student recalculated",
		zap.String("job_id", job.ID),
		zap.String("student_id", target.StudentID),
		zap.String("subject_id", target.SubjectID),
		zap.Int("attempt", job.Attempt),
	)
	return nil
}

// GiveUp records a job that exhausted its retries.
func (w *RecalculationWorker) GiveUp(job jobs.Job, err error) {
	w.metrics.ObserveRecalculationJob(err)
	w.logger.Error("recalculation abandoned", zap.String("job_id", job.ID), zap.Int("attempts", job.Attempt), zap.Error(err))
}
