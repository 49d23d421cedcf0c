// Package editops turns verification edit intents into document state
// updates. It reads the current documents and never mutates them; callers
// apply the returned batch to the store.
package editops

import (
	"errors"

	"classverify/internal/docstate"
)

type DocAction string

const (
	PageMerge           DocAction = "pageMerge"
	PageSplit           DocAction = "pageSplit"
	PageMove            DocAction = "pageMove"
	PageDelete          DocAction = "pageDelete"
	DocumentResolve     DocAction = "documentResolve"
	DocumentReject      DocAction = "documentReject"
	DocumentClassChange DocAction = "documentClassChange"
)

func (a DocAction) Valid() bool {
	switch a {
	case PageMerge, PageSplit, PageMove, PageDelete, DocumentResolve, DocumentReject, DocumentClassChange:
		return true
	}
	return false
}

// Intent is a user-issued edit. Which fields are read depends on Action:
// TargetDocumentID is the merge/move target and the split create-after
// reference, TargetIndex is the move position, ClassID the new class and
// RejectedReasonID/RejectNote the rejection details.
type Intent struct {
	Action           DocAction `json:"type" yaml:"type"`
	PageIDs          []string  `json:"pageIds,omitempty" yaml:"pages,omitempty"`
	DocumentIDs      []string  `json:"documentIds,omitempty" yaml:"documents,omitempty"`
	TargetDocumentID string    `json:"targetDocumentId,omitempty" yaml:"target,omitempty"`
	TargetIndex      int       `json:"targetIndex,omitempty" yaml:"index,omitempty"`
	ClassID          string    `json:"classId,omitempty" yaml:"class,omitempty"`
	RejectedReasonID string    `json:"rejectedReasonId,omitempty" yaml:"reason,omitempty"`
	RejectNote       string    `json:"rejectNote,omitempty" yaml:"note,omitempty"`
	NoUndo           bool      `json:"noUndo,omitempty" yaml:"noUndo,omitempty"`
}

var (
	ErrTargetDocumentNotFound = errors.New("target document not found")
	ErrClassNotFound          = errors.New("target class not found")
	ErrNoDocuments            = errors.New("no documents found for operation")
	ErrUnknownAction          = errors.New("unknown document action")

	// ErrPageNotFound means a listed page is not held by any document the
	// operation resolved. The caller's page references are out of sync
	// with the store.
	ErrPageNotFound = errors.New("page not found in context documents")
)

// Success is the outcome of an edit that produced a batch.
type Success struct {
	DocAction           DocAction              `json:"docAction"`
	CanUndo             bool                   `json:"canUndoAction"`
	Updates             []docstate.StateUpdate `json:"updates"`
	ContextPageIDs      []string               `json:"contextPageIds"`
	NotificationMessage string                 `json:"notificationMessage"`
	MessageArgs         map[string]any         `json:"messageArgs,omitempty"`
}

// Failure is an expected, user-facing rejection of an edit.
type Failure struct {
	DocAction           DocAction `json:"docAction"`
	Err                 error     `json:"-"`
	NotificationMessage string    `json:"notificationMessage"`
}

// Result holds exactly one of Success or Failure.
type Result struct {
	Success *Success
	Failure *Failure
}
