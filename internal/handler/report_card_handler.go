package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/agenda-lina-api/internal/middleware"
	"github.com/noah-isme/agenda-lina-api/internal/models"
	"github.com/noah-isme/agenda-lina-api/internal/service"
	"github.com/noah-isme/agenda-lina-api/pkg/response"
)

type gradeReader interface {
	ReportCard(ctx context.Context, studentID, schoolYearID string) (*models.ReportCard, bool, error)
	ClassStats(ctx context.Context, classID, subjectID, schoolYearID string) (*models.ClassStatsReport, bool, error)
}

type reportCardExporter interface {
	ReportCardExport(ctx context.Context, studentID, schoolYearID, format string) (*service.ExportFile, error)
}

// ReportCardHandler serves read-only grade views.
type ReportCardHandler struct {
	grades   gradeReader
	exporter reportCardExporter
}

// NewReportCardHandler constructs handler.
func NewReportCardHandler(grades gradeReader, exporter reportCardExporter) *ReportCardHandler {
	return &ReportCardHandler{grades: grades, exporter: exporter}
}

// ReportCard godoc
// @Summary Student report card
// @Description Bimester averages and final situation per subject for a school year
// @Tags Report Cards
// @Produce json
// @Param studentId path string true "Student ID"
// @Param schoolYearId query string true "School year ID"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /report-cards/{studentId} [get]
func (h *ReportCardHandler) ReportCard(c *gin.Context) {
	card, hit, err := h.grades.ReportCard(c.Request.Context(), c.Param("studentId"), c.Query("schoolYearId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, hit)
	response.JSON(c, http.StatusOK, card, middleware.ExtractMeta(c))
}

// Export godoc
// @Summary Download a report card
// @Tags Report Cards
// @Produce text/csv
// @Produce application/pdf
// @Param studentId path string true "Student ID"
// @Param schoolYearId query string true "School year ID"
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Router /report-cards/{studentId}/export [get]
func (h *ReportCardHandler) Export(c *gin.Context) {
	file, err := h.exporter.ReportCardExport(c.Request.Context(), c.Param("studentId"), c.Query("schoolYearId"), c.DefaultQuery("format", service.ExportFormatCSV))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Data)
}

// ClassStats godoc
// @Summary Class statistics for a subject
// @Tags Report Cards
// @Produce json
// @Param classId path string true "Class ID"
// @Param subjectId query string true "Subject ID"
// @Param schoolYearId query string true "School year ID"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /classes/{classId}/stats [get]
func (h *ReportCardHandler) ClassStats(c *gin.Context) {
	stats, hit, err := h.grades.ClassStats(c.Request.Context(), c.Param("classId"), c.Query("subjectId"), c.Query("schoolYearId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, hit)
	response.JSON(c, http.StatusOK, stats, middleware.ExtractMeta(c))
}
