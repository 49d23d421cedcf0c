// Package export renders a verification report for a task payload as HTML,
// PDF or DOCX.
package export

import (
	"errors"
	"time"

	"classverify/internal/taskdata"
)

// Format represents the export output format
type Format string

const (
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// ParseFormat maps a query value to a Format. Empty means PDF.
func ParseFormat(raw string) (Format, error) {
	switch Format(raw) {
	case "":
		return FormatPDF, nil
	case FormatHTML, FormatPDF, FormatDOCX:
		return Format(raw), nil
	}
	return "", ErrUnsupportedFormat
}

// Report is one task payload plus the metadata printed in the header.
type Report struct {
	TaskID  string
	Name    string
	Status  string
	Version string // commit hash, empty for the ingested input
	SavedBy string
	SavedAt time.Time
	Data    taskdata.TaskData
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	ErrUnsupportedFormat = errors.New("unsupported export format")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)
