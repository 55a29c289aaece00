package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/agenda-lina-api/internal/models"
	appErrors "github.com/noah-isme/agenda-lina-api/pkg/errors"
	"github.com/noah-isme/agenda-lina-api/pkg/export"
)

// Export formats accepted by ReportCardExport.
const (
	ExportFormatCSV = "csv"
	ExportFormatPDF = "pdf"
)

type reportCardSource interface {
	ReportCard(ctx context.Context, studentID, schoolYearID string) (*models.ReportCard, bool, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportFile is a rendered report ready to be streamed.
type ExportFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ExportService renders report cards into downloadable files.
type ExportService struct {
	reports        reportCardSource
	csv            csvRenderer
	pdf            pdfRenderer
	totalBimesters int
	logger         *zap.Logger
}

// NewExportService constructs an ExportService. Nil renderers fall back to the pkg/export defaults.
func NewExportService(reports reportCardSource, totalBimesters int, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if totalBimesters <= 0 {
		totalBimesters = 4
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter().WithFooter("Agenda Lina")
	}
	return &ExportService{reports: reports, csv: csv, pdf: pdf, totalBimesters: totalBimesters, logger: logger}
}

// ReportCardExport renders the report card of a student in the requested format.
func (s *ExportService) ReportCardExport(ctx context.Context, studentID, schoolYearID, format string) (*ExportFile, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = ExportFormatCSV
	}
	if format != ExportFormatCSV && format != ExportFormatPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
	card, _, err := s.reports.ReportCard(ctx, studentID, schoolYearID)
	if err != nil {
		return nil, err
	}
	dataset := s.reportCardDataset(card)
	base := fmt.Sprintf("report-card-%s-%s", studentID, schoolYearID)

	var (
		data        []byte
		contentType string
	)
	switch format {
	case ExportFormatPDF:
		data, err = s.pdf.Render(dataset, "Report Card")
		contentType = "application/pdf"
	default:
		data, err = s.csv.Render(dataset)
		contentType = "text/csv"
	}
	if err != nil {
		s.logger.Error("render report card", zap.String("student_id", studentID), zap.String("format", format), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render report card")
	}
	return &ExportFile{Filename: base + "." + format, ContentType: contentType, Data: data}, nil
}

func (s *ExportService) reportCardDataset(card *models.ReportCard) export.Dataset {
	headers := []string{"Subject"}
	for i := 1; i <= s.totalBimesters; i++ {
		headers = append(headers, fmt.Sprintf("B%d", i))
	}
	headers = append(headers, "Final", "Status", "Points Needed", "Note")

	rows := make([]map[string]string, 0, len(card.Subjects))
	for _, subject := range card.Subjects {
		row := map[string]string{"Subject": subject.SubjectName, "Status": subject.Status, "Note": subject.Note}
		for _, bimester := range subject.Bimesters {
			row[fmt.Sprintf("B%d", bimester.BimesterNumber)] = formatScore(bimester.Average)
		}
		if subject.FinalAverage != nil {
			row["Final"] = formatScore(*subject.FinalAverage)
		}
		if subject.PointsNeeded != nil {
			row["Points Needed"] = formatScore(*subject.PointsNeeded)
		}
		rows = append(rows, row)
	}
	return export.Dataset{
		Headers: headers,
		Rows:    rows,
		Meta: []string{
			"Student: " + card.StudentID,
			"School year: " + card.SchoolYearID,
			"Generated at: " + card.GeneratedAt.Format("2006-01-02 15:04 MST"),
		},
	}
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
