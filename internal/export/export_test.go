package export

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"classverify/internal/docstate"
	"classverify/internal/taskdata"
)

func sampleReport() Report {
	return Report{
		TaskID:  "task-1",
		Name:    "Batch 42",
		Status:  "completed",
		Version: "0123456789abcdef0123456789abcdef01234567",
		SavedBy: "Avery",
		SavedAt: time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC),
		Data: taskdata.TaskData{
			ContentFileReferences: []taskdata.ContentFileReference{{FileReference: "scan.pdf"}},
			DocumentClasses:       []docstate.DocumentClass{{ID: "invoice", Name: "Invoice"}, {ID: "receipt", Name: "Receipt"}},
			RejectReasons:         []taskdata.RejectReason{{ID: "blurry", Name: "Unreadable scan"}},
			ClassificationStatus:  taskdata.StatusReviewRequired,
			HasRejectedDocuments:  true,
			Documents: []taskdata.Document{
				{ID: "A", Name: "A", ClassID: "invoice", ClassificationConfidence: 0.91, MarkAsResolved: true,
					Pages: []taskdata.Page{{ContentFileReferenceIndex: 0, SourcePageIndex: 0}, {ContentFileReferenceIndex: 0, SourcePageIndex: 1}}},
				{ID: "B", Name: "B <draft>", ClassID: "receipt", MarkAsRejected: true, RejectedReasonID: "blurry", RejectNote: "torn corner",
					Pages: []taskdata.Page{{ContentFileReferenceIndex: 0, SourcePageIndex: 2}}},
				{ID: "C", Name: "C", ClassID: "unknown", MarkAsDeleted: true, Pages: []taskdata.Page{}},
				{ID: "D", Name: "A_split", ClassID: "invoice", IsGenerated: true, ClassificationReviewStatus: taskdata.ReviewRequired,
					Pages: []taskdata.Page{{ContentFileReferenceIndex: 0, SourcePageIndex: 3}}},
			},
		},
	}
}

func TestBuildTemplateData(t *testing.T) {
	now := time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)
	data := BuildTemplateData(sampleReport(), now)

	if data.Title != "Batch 42" || !data.GeneratedAt.Equal(now) {
		t.Fatalf("unexpected header: %+v", data)
	}
	want := Summary{Documents: 4, Pages: 4, Resolved: 1, Rejected: 1, Deleted: 1, Review: 1}
	if data.Summary != want {
		t.Fatalf("summary = %+v, want %+v", data.Summary, want)
	}

	states := []string{StateResolved, StateRejected, StateDeleted, StateReview}
	for i, doc := range data.Documents {
		if doc.State != states[i] {
			t.Errorf("document %s state = %q, want %q", doc.ID, doc.State, states[i])
		}
	}
	if data.Documents[0].Class != "Invoice" || data.Documents[0].PageIDs != "0_0, 0_1" {
		t.Fatalf("unexpected first row: %+v", data.Documents[0])
	}
	if data.Documents[1].RejectReason != "Unreadable scan" || data.Documents[1].RejectNote != "torn corner" {
		t.Fatalf("unexpected rejection: %+v", data.Documents[1])
	}
	if data.Documents[2].Class != "unknown" {
		t.Fatalf("unknown class should fall back to its id, got %q", data.Documents[2].Class)
	}
}

func TestBuildTemplateDataFallsBackToTaskID(t *testing.T) {
	report := sampleReport()
	report.Name = ""
	if got := BuildTemplateData(report, time.Now()).Title; got != "task-1" {
		t.Fatalf("title = %q, want task-1", got)
	}
}

func TestRenderReportHTML(t *testing.T) {
	html, err := RenderReportHTML(BuildTemplateData(sampleReport(), time.Now()))
	if err != nil {
		t.Fatalf("RenderReportHTML() error = %v", err)
	}

	for _, want := range []string{"Batch 42", "Saved by Avery", "Unreadable scan", "A_split (split)", "91%", "4 documents", "ReviewRequired"} {
		if !strings.Contains(html, want) {
			t.Errorf("HTML missing %q", want)
		}
	}
	if strings.Contains(html, "B <draft>") || !strings.Contains(html, "B &lt;draft&gt;") {
		t.Error("document names must be escaped")
	}
}

func TestExportHTML(t *testing.T) {
	svc := NewService()
	svc.now = func() time.Time { return time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC) }

	result, err := svc.Export(context.Background(), sampleReport(), FormatHTML)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if result.Filename != "Batch-42-01234567.html" {
		t.Errorf("filename = %q", result.Filename)
	}
	if !strings.HasPrefix(result.MimeType, "text/html") || !strings.Contains(string(result.Data), "Batch 42") {
		t.Errorf("unexpected result: %s", result.MimeType)
	}
}

func TestExportDelegatesToConverters(t *testing.T) {
	svc := NewService()
	var gotTitle string
	svc.pdf = func(_ context.Context, html, title string) (*Result, error) {
		gotTitle = title
		if !strings.Contains(html, "<table>") {
			t.Error("converter should receive the rendered report")
		}
		return &Result{Data: []byte("%PDF"), Filename: sanitizeFilename(title) + ".pdf", MimeType: "application/pdf"}, nil
	}
	svc.docx = func(context.Context, string, string) (*Result, error) {
		return nil, ErrDOCXDependencyMissing
	}

	result, err := svc.Export(context.Background(), sampleReport(), FormatPDF)
	if err != nil {
		t.Fatalf("Export(pdf) error = %v", err)
	}
	if gotTitle != "Batch 42 01234567" || result.MimeType != "application/pdf" {
		t.Fatalf("unexpected pdf export: %q %+v", gotTitle, result)
	}

	if _, err := svc.Export(context.Background(), sampleReport(), FormatDOCX); !errors.Is(err, ErrDOCXDependencyMissing) {
		t.Fatalf("Export(docx) error = %v", err)
	}
	if _, err := svc.Export(context.Background(), sampleReport(), Format("odt")); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("Export(odt) error = %v", err)
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		raw     string
		want    Format
		wantErr bool
	}{
		{"", FormatPDF, false},
		{"pdf", FormatPDF, false},
		{"docx", FormatDOCX, false},
		{"html", FormatHTML, false},
		{"PDF", "", true},
		{"odt", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.raw)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v", tt.raw, got, err)
		}
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Batch 42", "Batch-42"},
		{"task/../etc", "tasketc"},
		{"", "verification-report"},
		{"***", "verification-report"},
		{strings.Repeat("a", 80), strings.Repeat("a", 60)},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := sanitizeFilename(tt.input)
			if result != tt.expected {
				t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello world", "hello%20world"},
		{"test+sign", "test%2Bsign"},
		{"special<>", "special%3C%3E"},
		{"normal-text.txt", "normal-text.txt"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := percentEncodeForDataURL(tt.input)
			if result != tt.expected {
				t.Errorf("percentEncodeForDataURL(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}
