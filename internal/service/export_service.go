package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/lab-booking-api/internal/models"
	appErrors "github.com/noah-isme/lab-booking-api/pkg/errors"
	"github.com/noah-isme/lab-booking-api/pkg/export"
)

// Export formats.
const (
	FormatCSV = "csv"
	FormatPDF = "pdf"
)

const exportPageSize = 500

type bookingLister interface {
	List(ctx context.Context, filter models.BookingFilter) ([]models.Booking, int, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportFile is a rendered booking sheet.
type ExportFile struct {
	Filename    string
	ContentType string
	Body        []byte
	Rows        int
}

// ExportService renders booking sheets for administrators.
type ExportService struct {
	bookings bookingLister
	csv      csvRenderer
	pdf      pdfRenderer
	maxRows  int
	logger   *zap.Logger
}

// NewExportService constructs an ExportService.
func NewExportService(bookings bookingLister, maxRows int, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxRows <= 0 {
		maxRows = 5000
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{bookings: bookings, csv: csv, pdf: pdf, maxRows: maxRows, logger: logger}
}

var bookingSheetHeaders = []string{"Lab", "Date", "Period", "Time", "Status", "Type", "Holder", "Role", "Purpose", "Recurrence"}

// ExportBookings renders bookings matching filter in format.
func (s *ExportService) ExportBookings(ctx context.Context, filter models.BookingFilter, format string) (*ExportFile, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = FormatCSV
	}
	if format != FormatCSV && format != FormatPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
	filter.LabCode = models.NormalizeLabCode(filter.LabCode)

	rows, err := s.collect(ctx, filter)
	if err != nil {
		return nil, err
	}
	dataset := export.Dataset{Headers: bookingSheetHeaders, Rows: rows}

	name := exportName(filter)
	file := &ExportFile{Rows: len(rows)}
	switch format {
	case FormatPDF:
		file.Body, err = s.pdf.Render(dataset, "Lab bookings "+name)
		file.ContentType = "application/pdf"
		file.Filename = "bookings-" + name + ".pdf"
	default:
		file.Body, err = s.csv.Render(dataset)
		file.ContentType = "text/csv"
		file.Filename = "bookings-" + name + ".csv"
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}
	s.logger.Info("bookings exported", zap.String("format", format), zap.Int("rows", file.Rows))
	return file, nil
}

func (s *ExportService) collect(ctx context.Context, filter models.BookingFilter) ([]map[string]string, error) {
	var rows []map[string]string
	filter.PageSize = exportPageSize
	for page := 1; ; page++ {
		filter.Page = page
		bookings, total, err := s.bookings.List(ctx, filter)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load bookings")
		}
		if total > s.maxRows {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("export matches %d bookings, limit is %d; narrow the date range", total, s.maxRows))
		}
		for i := range bookings {
			rows = append(rows, bookingRow(&bookings[i]))
		}
		if len(bookings) < exportPageSize || len(rows) >= total {
			return rows, nil
		}
	}
}

func bookingRow(b *models.Booking) map[string]string {
	slot := ""
	if p, ok := models.LookupPeriod(b.Period); ok {
		slot = p.Start + "-" + p.End
	}
	recurrence := ""
	if b.RecurrenceID != nil {
		recurrence = *b.RecurrenceID
	}
	return map[string]string{
		"Lab":        b.LabCode,
		"Date":       models.FormatDate(b.Date),
		"Period":     strconv.Itoa(b.Period),
		"Time":       slot,
		"Status":     string(b.Status),
		"Type":       string(b.Type),
		"Holder":     b.CreatorName,
		"Role":       string(b.Role),
		"Purpose":    b.Purpose,
		"Recurrence": recurrence,
	}
}

func exportName(filter models.BookingFilter) string {
	parts := []string{}
	if filter.LabCode != "" {
		parts = append(parts, strings.ToLower(filter.LabCode))
	}
	if filter.From != nil {
		parts = append(parts, models.FormatDate(*filter.From))
	}
	if filter.To != nil {
		parts = append(parts, models.FormatDate(*filter.To))
	}
	if len(parts) == 0 {
		parts = append(parts, time.Now().UTC().Format("20060102"))
	}
	return strings.Join(parts, "_")
}
