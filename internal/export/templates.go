package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"

	"classverify/internal/taskdata"
)

//go:embed templates/report.html
var templateFS embed.FS

var reportTemplate = template.Must(template.New("report.html").Funcs(template.FuncMap{
	"lower": strings.ToLower,
	"formatDate": func(t time.Time, layout string) string {
		return t.UTC().Format(layout)
	},
	"percent": func(v float64) int {
		return int(v*100 + 0.5)
	},
}).ParseFS(templateFS, "templates/report.html"))

// Document states printed in the report.
const (
	StateClassified = "Classified"
	StateReview     = "Review required"
	StateResolved   = "Resolved"
	StateRejected   = "Rejected"
	StateDeleted    = "Deleted"
)

// TemplateData holds data for report template rendering
type TemplateData struct {
	Title                string
	TaskID               string
	Status               string
	Version              string
	SavedBy              string
	SavedAt              time.Time
	GeneratedAt          time.Time
	ClassificationStatus string
	HasRejected          bool
	Summary              Summary
	Documents            []TemplateDocument
}

type Summary struct {
	Documents int
	Pages     int
	Resolved  int
	Rejected  int
	Deleted   int
	Review    int
}

// TemplateDocument is one row of the document table.
type TemplateDocument struct {
	ID           string
	Name         string
	Class        string
	State        string
	Confidence   float64
	Generated    bool
	PageCount    int
	PageIDs      string
	RejectReason string
	RejectNote   string
}

// BuildTemplateData flattens a report into the rows the template prints.
func BuildTemplateData(report Report, now time.Time) TemplateData {
	data := report.Data
	classes := make(map[string]string, len(data.DocumentClasses))
	for _, class := range data.DocumentClasses {
		classes[class.ID] = class.Name
	}
	reasons := make(map[string]string, len(data.RejectReasons))
	for _, reason := range data.RejectReasons {
		reasons[reason.ID] = reason.Name
	}

	title := report.Name
	if title == "" {
		title = report.TaskID
	}
	out := TemplateData{
		Title:                title,
		TaskID:               report.TaskID,
		Status:               report.Status,
		Version:              report.Version,
		SavedBy:              report.SavedBy,
		SavedAt:              report.SavedAt,
		GeneratedAt:          now,
		ClassificationStatus: data.ClassificationStatus,
		HasRejected:          data.HasRejectedDocuments,
		Documents:            make([]TemplateDocument, 0, len(data.Documents)),
	}

	for _, doc := range data.Documents {
		row := TemplateDocument{
			ID:         doc.ID,
			Name:       doc.Name,
			Class:      classes[doc.ClassID],
			State:      documentState(doc),
			Confidence: doc.ClassificationConfidence,
			Generated:  doc.IsGenerated,
			PageCount:  len(doc.Pages),
			RejectNote: doc.RejectNote,
		}
		if row.Class == "" {
			row.Class = doc.ClassID
		}
		if doc.RejectedReasonID != "" {
			row.RejectReason = reasons[doc.RejectedReasonID]
			if row.RejectReason == "" {
				row.RejectReason = doc.RejectedReasonID
			}
		}
		ids := make([]string, 0, len(doc.Pages))
		for _, page := range doc.Pages {
			ids = append(ids, taskdata.PageID(page))
		}
		row.PageIDs = strings.Join(ids, ", ")

		out.Summary.Documents++
		out.Summary.Pages += row.PageCount
		switch row.State {
		case StateResolved:
			out.Summary.Resolved++
		case StateRejected:
			out.Summary.Rejected++
		case StateDeleted:
			out.Summary.Deleted++
		case StateReview:
			out.Summary.Review++
		}
		out.Documents = append(out.Documents, row)
	}
	return out
}

func documentState(doc taskdata.Document) string {
	switch {
	case doc.MarkAsDeleted:
		return StateDeleted
	case doc.MarkAsRejected:
		return StateRejected
	case doc.MarkAsResolved:
		return StateResolved
	case doc.ClassificationReviewStatus == taskdata.ReviewRequired:
		return StateReview
	}
	return StateClassified
}

// RenderReportHTML renders the report template with provided data
func RenderReportHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
