package grading

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func score(v float64) *float64 {
	return &v
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine(DefaultConfig())
	require.NoError(t, err)
	return engine
}

func TestNewEngineRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinRecovery = 8
	_, err := NewEngine(cfg)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.TotalBimesters = 0
	_, err = NewEngine(cfg)
	assert.Error(t, err)
}

func TestComputeBimesterAverage(t *testing.T) {
	engine := newTestEngine(t)

	tests := []struct {
		name       string
		activities []GradedActivity
		average    float64
		hasGrade   bool
	}{
		{name: "empty", activities: nil, average: 0, hasGrade: false},
		{name: "unscored only", activities: []GradedActivity{{MaxValue: 10, Weight: 1}}, average: 0, hasGrade: false},
		{name: "single full credit", activities: []GradedActivity{{Value: score(10), MaxValue: 10, Weight: 1}}, average: 10, hasGrade: true},
		{
			name: "weighted mix",
			activities: []GradedActivity{
				{Value: score(7), MaxValue: 10, Weight: 2},
				{Value: score(9), MaxValue: 10, Weight: 1},
			},
			average:  7.67,
			hasGrade: true,
		},
		{
			name: "different scales",
			activities: []GradedActivity{
				{Value: score(15), MaxValue: 20, Weight: 1},
				{Value: score(4), MaxValue: 5, Weight: 1},
			},
			average:  7.75,
			hasGrade: true,
		},
		{
			name: "zero max value ignored",
			activities: []GradedActivity{
				{Value: score(5), MaxValue: 0, Weight: 1},
				{Value: score(8), MaxValue: 10, Weight: 1},
			},
			average:  8,
			hasGrade: true,
		},
		{
			name: "infinite weight ignored",
			activities: []GradedActivity{
				{Value: score(0), MaxValue: 10, Weight: math.Inf(1)},
				{Value: score(6), MaxValue: 10, Weight: 1},
			},
			average:  6,
			hasGrade: true,
		},
		{
			name:       "infinite max value only",
			activities: []GradedActivity{{Value: score(0), MaxValue: math.Inf(1), Weight: 1}},
			average:    0,
			hasGrade:   false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := engine.ComputeBimesterAverage(tc.activities)
			assert.False(t, math.IsNaN(result.Average))
			assert.Equal(t, tc.average, result.Average)
			assert.Equal(t, tc.hasGrade, result.HasAnyGrade)
		})
	}
}

func TestComputeBimesterAverageIsIdempotent(t *testing.T) {
	engine := newTestEngine(t)
	activities := []GradedActivity{
		{Value: score(6.3), MaxValue: 10, Weight: 3},
		{Value: score(17), MaxValue: 20, Weight: 2},
	}
	first := engine.ComputeBimesterAverage(activities)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, engine.ComputeBimesterAverage(activities))
	}
}

func TestBimesterSituationBoundaries(t *testing.T) {
	engine := newTestEngine(t)

	assert.Equal(t, StatusApproved, engine.BimesterSituation(7.0).Status)
	assert.Nil(t, engine.BimesterSituation(7.0).PointsNeeded)

	almost := engine.BimesterSituation(6.999)
	assert.Equal(t, StatusRecovery, almost.Status)
	require.NotNil(t, almost.PointsNeeded)
	assert.Equal(t, 0.0, *almost.PointsNeeded)

	atRecovery := engine.BimesterSituation(5.0)
	assert.Equal(t, StatusRecovery, atRecovery.Status)
	require.NotNil(t, atRecovery.PointsNeeded)
	assert.Equal(t, 2.0, *atRecovery.PointsNeeded)

	assert.Equal(t, StatusFailed, engine.BimesterSituation(4.999).Status)
}

func TestComputeFinalSituationInProgress(t *testing.T) {
	engine := newTestEngine(t)

	final := engine.ComputeFinalSituation([]BimesterAverage{{BimesterNumber: 1, Average: 6}, {BimesterNumber: 2, Average: 8}})
	assert.Equal(t, StatusInProgress, final.Status)
	assert.Equal(t, 7.0, final.FinalAverage)
	assert.Equal(t, 2, final.BimestersPending)
	assert.Contains(t, final.Note, "2")
	assert.Nil(t, final.PointsNeeded)

	empty := engine.ComputeFinalSituation(nil)
	assert.Equal(t, StatusInProgress, empty.Status)
	assert.Equal(t, 0.0, empty.FinalAverage)
	assert.Equal(t, 4, empty.BimestersPending)
}

func TestComputeFinalSituationComplete(t *testing.T) {
	engine := newTestEngine(t)
	year := func(values ...float64) []BimesterAverage {
		out := make([]BimesterAverage, len(values))
		for i, v := range values {
			out[i] = BimesterAverage{BimesterNumber: i + 1, Average: v}
		}
		return out
	}

	recovery := engine.ComputeFinalSituation(year(6, 6, 6, 6))
	assert.Equal(t, StatusRecovery, recovery.Status)
	assert.Equal(t, 6.0, recovery.FinalAverage)
	require.NotNil(t, recovery.PointsNeeded)
	assert.Equal(t, 1.0, *recovery.PointsNeeded)

	approved := engine.ComputeFinalSituation(year(7, 8, 6.5, 9))
	assert.Equal(t, StatusApproved, approved.Status)
	assert.Equal(t, 7.63, approved.FinalAverage)

	failed := engine.ComputeFinalSituation(year(3, 4, 5, 4))
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Equal(t, 4.0, failed.FinalAverage)
}

func TestComputeFinalSituationDeduplicatesBimesters(t *testing.T) {
	engine := newTestEngine(t)

	final := engine.ComputeFinalSituation([]BimesterAverage{
		{BimesterNumber: 1, Average: 2},
		{BimesterNumber: 1, Average: 8},
		{BimesterNumber: 2, Average: 8},
		{BimesterNumber: 3, Average: 8},
		{BimesterNumber: 5, Average: 0},
	})
	assert.Equal(t, StatusInProgress, final.Status)
	assert.Equal(t, 3, final.BimestersGraded)
	assert.Equal(t, 8.0, final.FinalAverage)
}

func TestComputeFinalSituationWithAttendance(t *testing.T) {
	engine := newTestEngine(t)
	complete := []BimesterAverage{{1, 8}, {2, 8}, {3, 8}, {4, 8}}
	failing := []BimesterAverage{{1, 3}, {2, 3}, {3, 3}, {4, 3}}

	ok := engine.ComputeFinalSituationWithAttendance(complete, Attendance{TotalAbsences: 10, TotalSessions: 40})
	assert.Equal(t, StatusApproved, ok.Status)
	require.NotNil(t, ok.AbsenceRate)
	assert.Equal(t, 0.25, *ok.AbsenceRate)

	absent := engine.ComputeFinalSituationWithAttendance(complete, Attendance{TotalAbsences: 11, TotalSessions: 40})
	assert.Equal(t, StatusFailedAbsence, absent.Status)

	both := engine.ComputeFinalSituationWithAttendance(failing, Attendance{TotalAbsences: 20, TotalSessions: 40})
	assert.Equal(t, StatusFailedGradeAndAbsence, both.Status)

	noSessions := engine.ComputeFinalSituationWithAttendance(complete, Attendance{})
	assert.Equal(t, StatusApproved, noSessions.Status)
	assert.Nil(t, noSessions.AbsenceRate)

	inProgress := engine.ComputeFinalSituationWithAttendance(complete[:2], Attendance{TotalAbsences: 30, TotalSessions: 40})
	assert.Equal(t, StatusInProgress, inProgress.Status)
}

func TestComputeClassStats(t *testing.T) {
	engine := newTestEngine(t)

	stats := engine.ComputeClassStats([]float64{8, 6, 4, 9})
	assert.Equal(t, 6.75, stats.MeanAverage)
	assert.Equal(t, 2, stats.ApprovedCount)
	assert.Equal(t, 1, stats.RecoveryCount)
	assert.Equal(t, 1, stats.FailedCount)
	assert.Equal(t, 50.0, stats.PassRatePercent)

	assert.Equal(t, ClassStats{}, engine.ComputeClassStats(nil))

	third := engine.ComputeClassStats([]float64{7, 1, 1})
	assert.Equal(t, 33.33, third.PassRatePercent)
}

func TestSimulateRecoveryOutcome(t *testing.T) {
	engine := newTestEngine(t)

	outcome := engine.SimulateRecoveryOutcome(4, 8)
	assert.Equal(t, 6.0, outcome.FinalAverage)
	assert.True(t, outcome.Passed)

	low := engine.SimulateRecoveryOutcome(3, 6.5)
	assert.Equal(t, 4.75, low.FinalAverage)
	assert.False(t, low.Passed)
}

func TestCustomThresholds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinApproval = 6
	cfg.MinRecovery = 4
	cfg.TotalBimesters = 2
	engine, err := NewEngine(cfg)
	require.NoError(t, err)

	assert.Equal(t, StatusApproved, engine.BimesterSituation(6).Status)
	final := engine.ComputeFinalSituation([]BimesterAverage{{1, 5}, {2, 5}})
	assert.Equal(t, StatusRecovery, final.Status)
	require.NotNil(t, final.PointsNeeded)
	assert.Equal(t, 1.0, *final.PointsNeeded)
}

func TestValidateActivities(t *testing.T) {
	assert.NoError(t, ValidateActivities([]GradedActivity{{Value: score(5), MaxValue: 10, Weight: 1}, {MaxValue: 10, Weight: 2}}))
	assert.Error(t, ValidateActivities([]GradedActivity{{Value: score(5), MaxValue: 0, Weight: 1}}))
	assert.Error(t, ValidateActivities([]GradedActivity{{Value: score(5), MaxValue: 10, Weight: -1}}))
	assert.Error(t, ValidateActivities([]GradedActivity{{Value: score(11), MaxValue: 10, Weight: 1}}))
	assert.Error(t, ValidateActivities([]GradedActivity{{Value: score(0), MaxValue: 10, Weight: math.Inf(1)}}))
	assert.Error(t, ValidateActivities([]GradedActivity{{Value: score(0), MaxValue: math.Inf(1), Weight: 1}}))
	assert.Error(t, ValidateActivities([]GradedActivity{{MaxValue: 10, Weight: math.NaN()}}))
}

func TestRound2Idempotent(t *testing.T) {
	for _, x := range []float64{0, 1.005, 2.675, 7.666666, 9.999, 3.14159, 6.125} {
		once := Round2(x)
		assert.Equal(t, once, Round2(once))
		assert.LessOrEqual(t, math.Abs(once-x), 0.005+1e-9)
	}
}
