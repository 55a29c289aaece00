package grading

import (
	"errors"
	"fmt"
	"math"
)

// Status describes the academic situation of a student in a subject.
type Status string

const (
	StatusApproved              Status = "APPROVED"
	StatusRecovery              Status = "RECOVERY"
	StatusFailed                Status = "FAILED"
	StatusInProgress            Status = "IN_PROGRESS"
	StatusFailedAbsence         Status = "FAILED_ABSENCE"
	StatusFailedGradeAndAbsence Status = "FAILED_GRADE_AND_ABSENCE"
)

// Config holds the thresholds used by the engine. The zero value is not usable; start from DefaultConfig.
type Config struct {
	MinApproval      float64
	MinRecovery      float64
	RecoveryPassMark float64
	TotalBimesters   int
	MaxAbsenceRate   float64
}

// DefaultConfig returns the thresholds used across the school network.
func DefaultConfig() Config {
	return Config{
		MinApproval:      7.0,
		MinRecovery:      5.0,
		RecoveryPassMark: 5.0,
		TotalBimesters:   4,
		MaxAbsenceRate:   0.25,
	}
}

// Validate checks the thresholds for consistency.
func (c Config) Validate() error {
	if c.MinApproval <= 0 || c.MinApproval > MaxScore {
		return fmt.Errorf("min approval must be within (0, %.0f]", MaxScore)
	}
	if c.MinRecovery < 0 || c.MinRecovery > c.MinApproval {
		return errors.New("min recovery must be within [0, min approval]")
	}
	if c.RecoveryPassMark <= 0 || c.RecoveryPassMark > MaxScore {
		return fmt.Errorf("recovery pass mark must be within (0, %.0f]", MaxScore)
	}
	if c.TotalBimesters <= 0 {
		return errors.New("total bimesters must be positive")
	}
	if c.MaxAbsenceRate < 0 || c.MaxAbsenceRate > 1 {
		return errors.New("max absence rate must be within [0, 1]")
	}
	return nil
}

// MaxScore is the top of the normalised grading scale.
const MaxScore = 10.0

// GradedActivity is one scored assignment. A nil Value means the activity has not been graded yet.
type GradedActivity struct {
	Value    *float64
	MaxValue float64
	Weight   float64
}

// BimesterAverage is the stored average of one bimester.
type BimesterAverage struct {
	BimesterNumber int
	Average        float64
}

// Attendance carries yearly absence totals for a student in a subject.
type Attendance struct {
	TotalAbsences int
	TotalSessions int
}

// BimesterResult is the outcome of ComputeBimesterAverage.
type BimesterResult struct {
	Average     float64 `json:"average"`
	HasAnyGrade bool    `json:"has_any_grade"`
}

// Situation is a threshold verdict for a single average.
type Situation struct {
	Status       Status   `json:"status"`
	PointsNeeded *float64 `json:"points_needed,omitempty"`
}

// FinalSituation is the yearly verdict for a student in a subject.
type FinalSituation struct {
	FinalAverage     float64  `json:"final_average"`
	Status           Status   `json:"status"`
	PointsNeeded     *float64 `json:"points_needed,omitempty"`
	Note             string   `json:"note"`
	BimestersGraded  int      `json:"bimesters_graded"`
	BimestersPending int      `json:"bimesters_pending"`
	AbsenceRate      *float64 `json:"absence_rate,omitempty"`
}

// ClassStats aggregates the averages of a class.
type ClassStats struct {
	MeanAverage     float64 `json:"mean_average"`
	ApprovedCount   int     `json:"approved_count"`
	RecoveryCount   int     `json:"recovery_count"`
	FailedCount     int     `json:"failed_count"`
	Total           int     `json:"total"`
	PassRatePercent float64 `json:"pass_rate_percent"`
}

// RecoveryOutcome is the projected result of a recovery exam.
type RecoveryOutcome struct {
	FinalAverage float64 `json:"final_average"`
	Passed       bool    `json:"passed"`
}

// Engine computes averages and situations. It holds no mutable state and is safe for concurrent use.
type Engine struct {
	cfg Config
}

// NewEngine builds an engine after validating its thresholds.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("grading config: %w", err)
	}
	return &Engine{cfg: cfg}, nil
}

// Config returns a copy of the engine thresholds.
func (e *Engine) Config() Config {
	return e.cfg
}

// ComputeBimesterAverage returns the weighted average of the scored activities on a 0-10 scale.
// Unscored activities and activities with a non-positive max value or weight carry no weight.
func (e *Engine) ComputeBimesterAverage(activities []GradedActivity) BimesterResult {
	var weightedSum, weightSum float64
	for _, activity := range activities {
		if !scorable(activity) {
			continue
		}
		normalized := (*activity.Value / activity.MaxValue) * MaxScore
		weightedSum += normalized * activity.Weight
		weightSum += activity.Weight
	}
	if weightSum <= 0 {
		return BimesterResult{}
	}
	return BimesterResult{Average: Round2(weightedSum / weightSum), HasAnyGrade: true}
}

// BimesterSituation classifies a single average against the approval and recovery thresholds.
func (e *Engine) BimesterSituation(average float64) Situation {
	status := e.classify(average)
	situation := Situation{Status: status}
	if status == StatusRecovery {
		situation.PointsNeeded = e.pointsNeeded(average)
	}
	return situation
}

// ComputeFinalSituation derives the yearly verdict from the bimester averages recorded so far.
func (e *Engine) ComputeFinalSituation(averages []BimesterAverage) FinalSituation {
	graded := e.distinctAverages(averages)
	mean := Round2(meanOf(graded))
	pending := e.cfg.TotalBimesters - len(graded)
	if pending > 0 {
		return FinalSituation{
			FinalAverage:     mean,
			Status:           StatusInProgress,
			Note:             fmt.Sprintf("%d bimester(s) pending", pending),
			BimestersGraded:  len(graded),
			BimestersPending: pending,
		}
	}

	final := FinalSituation{
		FinalAverage:    mean,
		Status:          e.classify(mean),
		BimestersGraded: len(graded),
	}
	switch final.Status {
	case StatusApproved:
		final.Note = "approved"
	case StatusRecovery:
		final.PointsNeeded = e.pointsNeeded(mean)
		final.Note = fmt.Sprintf("recovery exam required, %.2f points needed to reach %.2f", *final.PointsNeeded, e.cfg.MinApproval)
	default:
		final.Note = "failed"
	}
	return final
}

// ComputeFinalSituationWithAttendance applies the absence rule on top of ComputeFinalSituation.
// The rule only applies to a complete year with at least one recorded session.
func (e *Engine) ComputeFinalSituationWithAttendance(averages []BimesterAverage, attendance Attendance) FinalSituation {
	final := e.ComputeFinalSituation(averages)
	if attendance.TotalSessions <= 0 {
		return final
	}
	rate := Round2(float64(attendance.TotalAbsences) / float64(attendance.TotalSessions))
	final.AbsenceRate = &rate
	if final.Status == StatusInProgress {
		return final
	}
	if float64(attendance.TotalAbsences)/float64(attendance.TotalSessions) <= e.cfg.MaxAbsenceRate {
		return final
	}
	final.PointsNeeded = nil
	if final.Status == StatusFailed {
		final.Status = StatusFailedGradeAndAbsence
		final.Note = fmt.Sprintf("failed by grade and by absence rate %.0f%%", rate*100)
	} else {
		final.Status = StatusFailedAbsence
		final.Note = fmt.Sprintf("failed by absence rate %.0f%%", rate*100)
	}
	return final
}

// ComputeClassStats summarises a list of student averages.
func (e *Engine) ComputeClassStats(averages []float64) ClassStats {
	if len(averages) == 0 {
		return ClassStats{}
	}
	stats := ClassStats{Total: len(averages), MeanAverage: Round2(meanOf(averages))}
	for _, avg := range averages {
		switch e.classify(avg) {
		case StatusApproved:
			stats.ApprovedCount++
		case StatusRecovery:
			stats.RecoveryCount++
		default:
			stats.FailedCount++
		}
	}
	stats.PassRatePercent = Round2(float64(stats.ApprovedCount) / float64(stats.Total) * 100)
	return stats
}

// SimulateRecoveryOutcome blends the current average with a recovery exam score 50/50.
func (e *Engine) SimulateRecoveryOutcome(currentAverage, recoveryExamScore float64) RecoveryOutcome {
	final := Round2((currentAverage + recoveryExamScore) / 2)
	return RecoveryOutcome{FinalAverage: final, Passed: final >= e.cfg.RecoveryPassMark}
}

// ValidateActivities reports the first activity that would be ignored or break the scale.
func ValidateActivities(activities []GradedActivity) error {
	for i, activity := range activities {
		switch {
		case !positiveFinite(activity.MaxValue):
			return fmt.Errorf("activity %d: max value must be positive", i)
		case !positiveFinite(activity.Weight):
			return fmt.Errorf("activity %d: weight must be positive", i)
		case activity.Value == nil:
			continue
		case *activity.Value < 0 || *activity.Value > activity.MaxValue || math.IsNaN(*activity.Value):
			return fmt.Errorf("activity %d: value must be within [0, %g]", i, activity.MaxValue)
		}
	}
	return nil
}

// Round2 rounds half away from zero at the hundredths digit.
func Round2(x float64) float64 {
	return math.Round(x*100) / 100
}

func (e *Engine) classify(average float64) Status {
	switch {
	case average >= e.cfg.MinApproval:
		return StatusApproved
	case average >= e.cfg.MinRecovery:
		return StatusRecovery
	default:
		return StatusFailed
	}
}

func (e *Engine) pointsNeeded(average float64) *float64 {
	points := Round2(math.Max(0, e.cfg.MinApproval-average))
	return &points
}

// distinctAverages keeps the last average per bimester number within the configured range.
func (e *Engine) distinctAverages(averages []BimesterAverage) []float64 {
	byNumber := make(map[int]float64, len(averages))
	order := make([]int, 0, len(averages))
	for _, avg := range averages {
		if avg.BimesterNumber < 1 || avg.BimesterNumber > e.cfg.TotalBimesters {
			continue
		}
		if _, seen := byNumber[avg.BimesterNumber]; !seen {
			order = append(order, avg.BimesterNumber)
		}
		byNumber[avg.BimesterNumber] = avg.Average
	}
	values := make([]float64, 0, len(order))
	for _, number := range order {
		values = append(values, byNumber[number])
	}
	return values
}

func scorable(activity GradedActivity) bool {
	if activity.Value == nil || !positiveFinite(activity.MaxValue) || !positiveFinite(activity.Weight) {
		return false
	}
	return !math.IsNaN(*activity.Value) && !math.IsInf(*activity.Value, 0)
}

func positiveFinite(x float64) bool {
	return x > 0 && !math.IsInf(x, 1)
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
