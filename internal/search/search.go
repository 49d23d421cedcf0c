package search

import (
	"strings"

	"classverify/internal/taskdata"
)

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultDocument ResultType = "document"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type       ResultType `json:"type"`
	ID         string     `json:"id"`
	TaskID     string     `json:"taskId"`
	DocumentID string     `json:"documentId"`
	Title      string     `json:"title"`
	Snippet    string     `json:"snippet"`
	ClassID    string     `json:"classId"`
}

// Query describes a search request.
type Query struct {
	Text         string
	TaskID       string
	ClassID      string
	OnlyRejected bool
	Limit        int
	Offset       int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// DocumentRecord is the data we index for a saved document.
type DocumentRecord struct {
	ID         string `json:"id"`
	TaskID     string `json:"taskId"`
	DocumentID string `json:"documentId"`
	Name       string `json:"name"`
	ClassID    string `json:"classId"`
	ClassName  string `json:"className"`
	Status     string `json:"status"`
	Rejected   bool   `json:"rejected"`
	Deleted    bool   `json:"deleted"`
	PageCount  int    `json:"pageCount"`
	RejectNote string `json:"rejectNote"`
}

// Records projects a saved payload onto index records.
func Records(taskID string, data taskdata.TaskData) []DocumentRecord {
	classNames := make(map[string]string, len(data.DocumentClasses))
	for _, class := range data.DocumentClasses {
		classNames[class.ID] = class.Name
	}
	records := make([]DocumentRecord, 0, len(data.Documents))
	for _, doc := range data.Documents {
		records = append(records, DocumentRecord{
			ID:         RecordID(taskID, doc.ID),
			TaskID:     taskID,
			DocumentID: doc.ID,
			Name:       doc.Name,
			ClassID:    doc.ClassID,
			ClassName:  classNames[doc.ClassID],
			Status:     string(doc.ClassificationReviewStatus),
			Rejected:   doc.MarkAsRejected,
			Deleted:    doc.MarkAsDeleted,
			PageCount:  len(doc.Pages),
			RejectNote: doc.RejectNote,
		})
	}
	return records
}

// RecordID builds an index key from a task and document id. Meilisearch
// keys only allow alphanumerics, hyphens and underscores.
func RecordID(taskID, documentID string) string {
	return sanitizeKey(taskID) + "__" + sanitizeKey(documentID)
}

func sanitizeKey(input string) string {
	var b strings.Builder
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
			continue
		}
		b.WriteByte('-')
	}
	return b.String()
}
