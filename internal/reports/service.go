package reports

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"time"

	"github.com/ecoloimp/ecoloimp/internal/view"
	"github.com/ecoloimp/ecoloimp/report"
)

//go:embed templates/*.html
var pdfTemplates embed.FS

// ErrPDFDisabled is returned when no PDF engine is configured.
var ErrPDFDisabled = errors.New("reports: pdf export disabled")

// UsageSource aggregates counter readings.
type UsageSource interface {
	EquipmentUsage(ctx context.Context, rng Range) ([]EquipmentUsage, error)
}

// Renderer converts HTML into PDF.
type Renderer interface {
	RenderHTML(ctx context.Context, html []byte, opts report.PageOptions) ([]byte, error)
}

// Service builds reports.
type Service struct {
	source   UsageSource
	renderer Renderer
	pdf      *template.Template
	now      func() time.Time
}

// NewService builds Service. renderer may be nil, which disables PDF export.
func NewService(source UsageSource, renderer Renderer) *Service {
	pdf := template.Must(template.New("counters.html").Funcs(template.FuncMap{
		"formatNumber": view.FormatNumber,
		"formatDay":    func(t time.Time) string { return t.Format("02/01/2006") },
	}).ParseFS(pdfTemplates, "templates/counters.html"))
	return &Service{source: source, renderer: renderer, pdf: pdf, now: time.Now}
}

// ParseRange reads a yyyy-mm-dd period. Empty bounds default to the last
// 30 days ending today.
func (s *Service) ParseRange(from, to string) (Range, error) {
	today := day(s.now())
	rng := Range{From: today.AddDate(0, 0, -29), To: today}
	if to != "" {
		t, err := time.Parse("2006-01-02", to)
		if err != nil {
			return Range{}, fmt.Errorf("%w: %v", ErrInvalidRange, err)
		}
		rng.To = t
		if from == "" {
			rng.From = t.AddDate(0, 0, -29)
		}
	}
	if from != "" {
		f, err := time.Parse("2006-01-02", from)
		if err != nil {
			return Range{}, fmt.Errorf("%w: %v", ErrInvalidRange, err)
		}
		rng.From = f
	}
	if rng.To.Before(rng.From) || rng.To.Sub(rng.From) > MaxRange {
		return Range{}, fmt.Errorf("%w: %s to %s", ErrInvalidRange, rng.From.Format("2006-01-02"), rng.To.Format("2006-01-02"))
	}
	return rng, nil
}

// Counters summarizes printer usage per equipment within rng.
func (s *Service) Counters(ctx context.Context, rng Range) (CountersReport, error) {
	rows, err := s.source.EquipmentUsage(ctx, rng)
	if err != nil {
		return CountersReport{}, err
	}
	rep := CountersReport{Range: rng, Rows: rows, GeneratedAt: s.now()}
	for _, row := range rows {
		rep.Totals.Prints += row.Usage.Prints
		rep.Totals.Scans += row.Usage.Scans
		rep.Totals.Copies += row.Usage.Copies
		rep.Readings += row.Readings
	}
	return rep, nil
}

// PDF renders rep through the PDF engine.
func (s *Service) PDF(ctx context.Context, rep CountersReport) ([]byte, error) {
	if s.renderer == nil {
		return nil, ErrPDFDisabled
	}
	var buf bytes.Buffer
	if err := s.pdf.Execute(&buf, rep); err != nil {
		return nil, err
	}
	return s.renderer.RenderHTML(ctx, buf.Bytes(), report.PageOptions{Landscape: true, Margin: 0.4})
}

func day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Ping checks the PDF engine when it supports health checks.
func (s *Service) Ping(ctx context.Context) error {
	if s.renderer == nil {
		return ErrPDFDisabled
	}
	if p, ok := s.renderer.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}
