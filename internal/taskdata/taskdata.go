// Package taskdata maps the external task payload of a class verification
// task to document entities and back.
package taskdata

import (
	"errors"
	"fmt"

	"classverify/internal/docstate"
)

type ReviewStatus string

const (
	ReviewRequired    ReviewStatus = "ReviewRequired"
	ReviewNotRequired ReviewStatus = "ReviewNotRequired"
)

const (
	StatusReviewRequired = "ReviewRequired"
	StatusClassified     = "Classified"
)

var ErrTaskDataNotFound = errors.New("Task data not found")

type Page struct {
	ContentFileReferenceIndex int `json:"contentFileReferenceIndex"`
	SourcePageIndex           int `json:"sourcePageIndex"`
}

type Document struct {
	ID                         string       `json:"id"`
	Name                       string       `json:"name"`
	ClassID                    string       `json:"classId,omitempty"`
	ClassificationConfidence   float64      `json:"classificationConfidence"`
	ClassificationReviewStatus ReviewStatus `json:"classificationReviewStatus,omitempty"`
	IsGenerated                bool         `json:"isGenerated,omitempty"`
	MarkAsDeleted              bool         `json:"markAsDeleted,omitempty"`
	MarkAsResolved             bool         `json:"markAsResolved,omitempty"`
	MarkAsRejected             bool         `json:"markAsRejected,omitempty"`
	RejectedReasonID           string       `json:"rejectedReasonId,omitempty"`
	RejectNote                 string       `json:"rejectNote,omitempty"`
	Pages                      []Page       `json:"pages"`
}

type ContentFileReference struct {
	FileReference string `json:"fileReference"`
	ContentType   string `json:"contentType,omitempty"`
	PageCount     int    `json:"pageCount,omitempty"`
}

type RejectReason struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Config struct {
	ConfidenceThreshold float64 `json:"confidenceThreshold,omitempty"`
	UnclassifiedClassID string  `json:"unclassifiedClassId,omitempty"`
}

// TaskData is the batch exchanged with the task system.
type TaskData struct {
	Documents             []Document               `json:"documents"`
	ContentFileReferences []ContentFileReference   `json:"contentFileReferences"`
	DocumentClasses       []docstate.DocumentClass `json:"documentClasses"`
	RejectReasons         []RejectReason           `json:"rejectReasons,omitempty"`
	Config                Config                   `json:"config"`
	ClassificationStatus  string                   `json:"classificationStatus,omitempty"`
	HasRejectedDocuments  bool                     `json:"hasRejectedDocuments"`
}

// PageID is the synthetic page id used inside the editor.
func PageID(p Page) string {
	return fmt.Sprintf("%d_%d", p.ContentFileReferenceIndex, p.SourcePageIndex)
}

// UnclassifiedClassID returns the placeholder class id for the batch.
func (t TaskData) UnclassifiedClassID() string {
	if t.Config.UnclassifiedClassID != "" {
		return t.Config.UnclassifiedClassID
	}
	return docstate.DefaultUnclassifiedClassID
}

func (t TaskData) class(id string) *docstate.DocumentClass {
	if id == "" {
		return nil
	}
	for _, class := range t.DocumentClasses {
		if class.ID == id {
			found := class
			return &found
		}
	}
	return nil
}

// ToDocuments builds the document entities for a loaded task.
func ToDocuments(data TaskData) []docstate.Document {
	docs := make([]docstate.Document, 0, len(data.Documents))
	for _, in := range data.Documents {
		status := docstate.AutoValid
		if in.ClassificationReviewStatus == ReviewRequired {
			status = docstate.AutoInvalid
		}
		doc := docstate.Document{
			ID:                       in.ID,
			Name:                     in.Name,
			Class:                    data.class(in.ClassID),
			ClassificationConfidence: in.ClassificationConfidence,
			VerificationStatus:       status,
			IsGenerated:              in.IsGenerated,
			MarkAsDeleted:            in.MarkAsDeleted,
			MarkAsResolved:           in.MarkAsResolved,
			RejectedReasonID:         in.RejectedReasonID,
			RejectNote:               in.RejectNote,
			Pages:                    make([]docstate.Page, 0, len(in.Pages)),
		}
		for _, p := range in.Pages {
			page := docstate.Page{
				ID:                        PageID(p),
				Name:                      fmt.Sprintf("Page %d", p.SourcePageIndex+1),
				ContentFileReferenceIndex: p.ContentFileReferenceIndex,
				SourcePageIndex:           p.SourcePageIndex,
			}
			if p.ContentFileReferenceIndex >= 0 && p.ContentFileReferenceIndex < len(data.ContentFileReferences) {
				page.FileReference = data.ContentFileReferences[p.ContentFileReferenceIndex].FileReference
			}
			doc.Pages = append(doc.Pages, page)
		}
		docs = append(docs, doc)
	}
	return docs
}

// FromDocuments rebuilds the external payload from the current documents.
// input is the payload the task was loaded with.
func FromDocuments(docs []docstate.Document, input *TaskData) (TaskData, error) {
	if input == nil {
		return TaskData{}, ErrTaskDataNotFound
	}

	previous := make(map[string]ReviewStatus, len(input.Documents))
	for _, doc := range input.Documents {
		previous[doc.ID] = doc.ClassificationReviewStatus
	}

	out := TaskData{
		Documents:             make([]Document, 0, len(docs)),
		ContentFileReferences: append([]ContentFileReference(nil), input.ContentFileReferences...),
		DocumentClasses:       append([]docstate.DocumentClass(nil), input.DocumentClasses...),
		RejectReasons:         append([]RejectReason(nil), input.RejectReasons...),
		Config:                input.Config,
		ClassificationStatus:  StatusClassified,
	}

	unclassified := input.UnclassifiedClassID()
	for _, doc := range docs {
		review := previous[doc.ID]
		if doc.VerificationStatus == docstate.ManualValid {
			review = ReviewNotRequired
		}
		item := Document{
			ID:                         doc.ID,
			Name:                       doc.Name,
			ClassificationConfidence:   doc.ClassificationConfidence,
			ClassificationReviewStatus: review,
			IsGenerated:                doc.IsGenerated,
			MarkAsDeleted:              doc.MarkAsDeleted,
			MarkAsResolved:             doc.MarkAsResolved,
			MarkAsRejected:             doc.IsRejected(),
			RejectedReasonID:           doc.RejectedReasonID,
			RejectNote:                 doc.RejectNote,
			Pages:                      make([]Page, 0, len(doc.Pages)),
		}
		if doc.Class != nil {
			item.ClassID = doc.Class.ID
		}
		for _, page := range doc.Pages {
			item.Pages = append(item.Pages, Page{
				ContentFileReferenceIndex: page.ContentFileReferenceIndex,
				SourcePageIndex:           page.SourcePageIndex,
			})
		}
		out.Documents = append(out.Documents, item)

		if item.MarkAsRejected {
			out.HasRejectedDocuments = true
		}
		if !docstate.IsValid(doc, unclassified) {
			out.ClassificationStatus = StatusReviewRequired
		}
	}
	return out, nil
}

// Validate checks a payload before it is accepted for verification.
func Validate(data TaskData) error {
	if len(data.Documents) == 0 {
		return errors.New("task has no documents")
	}
	docIDs := make(map[string]struct{}, len(data.Documents))
	pageIDs := make(map[string]string)
	for _, doc := range data.Documents {
		if doc.ID == "" {
			return errors.New("document id is required")
		}
		if _, dup := docIDs[doc.ID]; dup {
			return fmt.Errorf("duplicate document id %q", doc.ID)
		}
		docIDs[doc.ID] = struct{}{}
		for _, page := range doc.Pages {
			if page.ContentFileReferenceIndex < 0 || page.ContentFileReferenceIndex >= len(data.ContentFileReferences) {
				return fmt.Errorf("document %q: content file reference index %d out of range", doc.ID, page.ContentFileReferenceIndex)
			}
			if page.SourcePageIndex < 0 {
				return fmt.Errorf("document %q: negative source page index", doc.ID)
			}
			id := PageID(page)
			if owner, dup := pageIDs[id]; dup {
				return fmt.Errorf("page %s appears in documents %q and %q", id, owner, doc.ID)
			}
			pageIDs[id] = doc.ID
		}
	}
	return nil
}
