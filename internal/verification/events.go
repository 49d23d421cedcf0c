package verification

import (
	"classverify/internal/docstate"
	"classverify/internal/editops"
	"classverify/internal/taskdata"
)

type EventType string

const (
	EventCreateDocuments          EventType = "createDocuments"
	EventDocumentOperationSuccess EventType = "documentOperationSuccess"
	EventDocumentOperationError   EventType = "documentOperationError"
	EventNotificationShow         EventType = "notificationShow"
	EventUndo                     EventType = "undoAction"
	EventRedo                     EventType = "redoAction"
	EventTaskPrepareUpdateSuccess EventType = "taskPrepareUpdateSuccess"
	EventTaskPrepareUpdateError   EventType = "taskPrepareUpdateError"
)

type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
)

type Notification struct {
	Severity    Severity       `json:"severity"`
	Message     string         `json:"message"`
	MessageArgs map[string]any `json:"messageArgs,omitempty"`
}

// Event is an outbound message produced by a session transition. Only the
// fields relevant to Type are set.
type Event struct {
	Type           EventType              `json:"type"`
	DocAction      editops.DocAction      `json:"docAction,omitempty"`
	CanUndo        bool                   `json:"canUndoAction,omitempty"`
	Documents      int                    `json:"documents,omitempty"`
	Updates        []docstate.StateUpdate `json:"updates,omitempty"`
	ContextPageIDs []string               `json:"contextPageIds,omitempty"`
	Notification   *Notification          `json:"notification,omitempty"`
	TaskAction     string                 `json:"taskAction,omitempty"`
	TaskData       *taskdata.TaskData     `json:"taskData,omitempty"`
	Error          string                 `json:"error,omitempty"`
}

func notify(severity Severity, message string, args map[string]any) Event {
	return Event{
		Type:         EventNotificationShow,
		Notification: &Notification{Severity: severity, Message: message, MessageArgs: args},
	}
}
