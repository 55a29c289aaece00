package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/agenda-lina-api/internal/grading"
	"github.com/noah-isme/agenda-lina-api/internal/models"
	"github.com/noah-isme/agenda-lina-api/internal/service"
	appErrors "github.com/noah-isme/agenda-lina-api/pkg/errors"
	"github.com/noah-isme/agenda-lina-api/pkg/response"
)

type gradeWriter interface {
	RecordGrade(ctx context.Context, req service.RecordGradeRequest) (*service.RecordGradeResult, error)
	ComputeBimesterAverage(ctx context.Context, key models.BimesterKey) (*models.BimesterAverageRecord, error)
	ComputeFinalSituation(ctx context.Context, key models.FinalSituationKey) (*models.FinalSituationRecord, error)
	RecalculateClass(ctx context.Context, req service.RecalculateClassRequest) (*service.RecalculationTicket, error)
	SimulateRecovery(req service.SimulateRecoveryRequest) (*grading.RecoveryOutcome, error)
}

// GradeHandler exposes grade entry and computation endpoints.
type GradeHandler struct {
	grades gradeWriter
}

// NewGradeHandler constructs handler.
func NewGradeHandler(grades gradeWriter) *GradeHandler {
	return &GradeHandler{grades: grades}
}

// RecordGrade godoc
// @Summary Record an activity grade
// @Description Stores the score of a student in an activity and refreshes the bimester average.
// @Description Nothing is stored when an activity of the same bimester cannot be graded.
// @Tags Grades
// @Accept json
// @Produce json
// @Param payload body service.RecordGradeRequest true "Grade payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /grades/entries [post]
func (h *GradeHandler) RecordGrade(c *gin.Context) {
	var req service.RecordGradeRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.grades.RecordGrade(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result)
}

// ComputeBimesterAverage godoc
// @Summary Recompute a bimester average
// @Tags Grades
// @Accept json
// @Produce json
// @Param payload body models.BimesterKey true "Student, subject and bimester"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /grades/bimester-averages [post]
func (h *GradeHandler) ComputeBimesterAverage(c *gin.Context) {
	var key models.BimesterKey
	if !bindJSON(c, &key) {
		return
	}
	record, err := h.grades.ComputeBimesterAverage(c.Request.Context(), key)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record)
}

// ComputeFinalSituation godoc
// @Summary Recompute the yearly final situation
// @Tags Grades
// @Accept json
// @Produce json
// @Param payload body models.FinalSituationKey true "Student, subject and school year"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /grades/final-situations [post]
func (h *GradeHandler) ComputeFinalSituation(c *gin.Context) {
	var key models.FinalSituationKey
	if !bindJSON(c, &key) {
		return
	}
	record, err := h.grades.ComputeFinalSituation(c.Request.Context(), key)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record)
}

// Recalculate godoc
// @Summary Recalculate a class in the background
// @Description Queues one job per enrolled student; each job recomputes every bimester and the final situation
// @Tags Grades
// @Accept json
// @Produce json
// @Param payload body service.RecalculateClassRequest true "Recalculation scope"
// @Success 202 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /grades/recalculate [post]
func (h *GradeHandler) Recalculate(c *gin.Context) {
	var req service.RecalculateClassRequest
	if !bindJSON(c, &req) {
		return
	}
	ticket, err := h.grades.RecalculateClass(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, ticket)
}

// SimulateRecovery godoc
// @Summary Simulate a recovery exam
// @Description Blends the current average with a hypothetical recovery score; nothing is stored
// @Tags Grades
// @Accept json
// @Produce json
// @Param payload body service.SimulateRecoveryRequest true "Simulation input"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /grades/recovery/simulate [post]
func (h *GradeHandler) SimulateRecovery(c *gin.Context) {
	var req service.SimulateRecoveryRequest
	if !bindJSON(c, &req) {
		return
	}
	outcome, err := h.grades.SimulateRecovery(req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, outcome)
}

func bindJSON(c *gin.Context, dest interface{}) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return false
	}
	return true
}
