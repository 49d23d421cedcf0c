package store

import (
	"time"

	"classverify/internal/taskdata"
)

const (
	TaskStatusPending   = "pending"
	TaskStatusInReview  = "in_review"
	TaskStatusCompleted = "completed"
)

// Task is an ingested verification task. Input is the payload as received;
// Result is the last saved payload, if any.
type Task struct {
	ID                   string
	Name                 string
	Status               string
	Input                taskdata.TaskData
	Result               *taskdata.TaskData
	Context              map[string]any
	ClassificationStatus string
	HasRejected          bool
	ResultHash           string
	CreatedBy            string
	UpdatedBy            string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

type TaskSummary struct {
	ID                   string
	Name                 string
	Status               string
	DocumentCount        int
	ClassificationStatus string
	HasRejected          bool
	UpdatedBy            string
	UpdatedAt            time.Time
}

// TaskSave is one row of the append-only save log.
type TaskSave struct {
	ID                   int64
	TaskID               string
	TaskAction           string
	ClassificationStatus string
	HasRejected          bool
	CommitHash           string
	SavedBy              string
	SavedAt              time.Time
}

// SaveRecord carries everything written by a single save.
type SaveRecord struct {
	TaskID     string
	TaskAction string
	Status     string
	Result     taskdata.TaskData
	CommitHash string
	SavedBy    string
}

// IndexedDocument is the searchable projection of a saved document.
type IndexedDocument struct {
	TaskID       string
	DocumentID   string
	Name         string
	ClassID      string
	ClassName    string
	Status       string
	Rejected     bool
	Deleted      bool
	PageCount    int
	RejectReason string
	RejectNote   string
}

type CommitInfo struct {
	Hash      string
	Message   string
	Author    string
	CreatedAt time.Time
	Added     int
	Removed   int
}
