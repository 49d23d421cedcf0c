// Package docstate holds the normalized document table edited on the class
// verification screen, the closed set of state updates that mutate it, and
// the inverse generator used by undo/redo.
package docstate

type VerificationStatus string

const (
	AutoValid   VerificationStatus = "AutoValid"
	AutoInvalid VerificationStatus = "AutoInvalid"
	ManualValid VerificationStatus = "ManualValid"
)

// DefaultUnclassifiedClassID is the placeholder class id used when a batch
// does not configure its own.
const DefaultUnclassifiedClassID = "unclassified"

type Page struct {
	ID                        string `json:"id"`
	Name                      string `json:"name"`
	FileReference             string `json:"fileReference"`
	ContentFileReferenceIndex int    `json:"contentFileReferenceIndex"`
	SourcePageIndex           int    `json:"sourcePageIndex"`
}

type DocumentClass struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type Document struct {
	ID                       string             `json:"id"`
	Name                     string             `json:"name"`
	Class                    *DocumentClass     `json:"class,omitempty"`
	ClassificationConfidence float64            `json:"classificationConfidence"`
	VerificationStatus       VerificationStatus `json:"verificationStatus"`
	IsGenerated              bool               `json:"isGenerated"`
	MarkAsDeleted            bool               `json:"markAsDeleted"`
	MarkAsResolved           bool               `json:"markAsResolved"`
	RejectedReasonID         string             `json:"rejectedReasonId,omitempty"`
	RejectNote               string             `json:"rejectNote,omitempty"`
	Pages                    []Page             `json:"pages"`
}

// Clone returns a copy that shares no memory with d.
func (d Document) Clone() Document {
	out := d
	if d.Class != nil {
		class := *d.Class
		out.Class = &class
	}
	out.Pages = make([]Page, len(d.Pages))
	copy(out.Pages, d.Pages)
	return out
}

// PageIndex returns the position of pageID in d.Pages, or -1.
func (d Document) PageIndex(pageID string) int {
	for i, page := range d.Pages {
		if page.ID == pageID {
			return i
		}
	}
	return -1
}

func (d Document) IsRejected() bool {
	return d.RejectedReasonID != ""
}

// IsValid reports whether the document has no outstanding review issue.
func IsValid(d Document, unclassifiedClassID string) bool {
	if unclassifiedClassID == "" {
		unclassifiedClassID = DefaultUnclassifiedClassID
	}
	if d.IsRejected() || d.MarkAsResolved {
		return true
	}
	if d.VerificationStatus == AutoInvalid {
		return false
	}
	return d.Class != nil && d.Class.ID != unclassifiedClassID
}
