// Package verification runs a class verification session: it feeds edit
// intents through the edit engine, records them for undo and applies the
// resulting batches to the document store, one transition at a time.
package verification

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"classverify/internal/docstate"
	"classverify/internal/editops"
	"classverify/internal/history"
	"classverify/internal/taskdata"
)

var ErrNotLoaded = errors.New("no task loaded")

// Task is the screen-load input. Context is carried through unmodified.
type Task struct {
	ID      string            `json:"id"`
	Data    taskdata.TaskData `json:"data"`
	Context map[string]any    `json:"context,omitempty"`
}

type Option func(*Session)

func WithLogger(log *zap.Logger) Option {
	return func(s *Session) {
		if log != nil {
			s.log = log
		}
	}
}

func WithEngine(engine *editops.Engine) Option {
	return func(s *Session) {
		if engine != nil {
			s.engine = engine
		}
	}
}

func WithHistoryLimit(limit int) Option {
	return func(s *Session) { s.historyLimit = limit }
}

// Session is safe for concurrent use. Transitions are serialised and each
// runs to completion before the next starts.
type Session struct {
	mu           sync.Mutex
	log          *zap.Logger
	engine       *editops.Engine
	store        *docstate.Store
	ledger       *history.Ledger
	historyLimit int
	task         *Task
}

func New(opts ...Option) *Session {
	s := &Session{
		log:    zap.NewNop(),
		engine: editops.New(),
		store:  docstate.NewStore(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ledger = history.New(s.historyLimit)
	return s
}

// Load seeds the session from a task payload and drops any previous state.
func (s *Session) Load(task Task) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs := taskdata.ToDocuments(task.Data)
	s.store.Reset()
	s.ledger.Clear()
	s.store.CreateDocuments(docs)
	loaded := task
	s.task = &loaded

	s.log.Info("task loaded", zap.String("task_id", task.ID), zap.Int("documents", len(docs)))
	return []Event{{Type: EventCreateDocuments, Documents: len(docs)}}
}

func (s *Session) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.task != nil
}

// Dispatch runs one edit intent. Expected failures come back as
// documentOperationError events. A returned error means the intent referenced
// pages the store does not hold; the store is left in the error state.
func (s *Session) Dispatch(intent editops.Intent) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.task == nil {
		return nil, ErrNotLoaded
	}

	s.store.BeginOperation()
	result, err := s.engine.Apply(s.store, s.task.Data.DocumentClasses, intent)
	if err != nil {
		s.store.OperationError(string(intent.Action))
		s.log.Error("edit rejected", zap.String("task_id", s.task.ID), zap.String("action", string(intent.Action)), zap.Error(err))
		return nil, err
	}

	if f := result.Failure; f != nil {
		s.store.OperationError(string(f.DocAction))
		s.log.Warn("edit failed",
			zap.String("task_id", s.task.ID),
			zap.String("action", string(f.DocAction)),
			zap.String("notification", f.NotificationMessage),
			zap.Error(f.Err),
		)
		return []Event{
			{Type: EventDocumentOperationError, DocAction: f.DocAction, Error: errString(f.Err)},
			notify(SeverityError, f.NotificationMessage, nil),
		}, nil
	}

	ok := result.Success
	if ok.CanUndo {
		s.ledger.Record(s.store, ok.Updates)
	}
	s.store.OperationSuccess(string(ok.DocAction), ok.Updates, ok.ContextPageIDs)
	s.log.Debug("edit applied",
		zap.String("task_id", s.task.ID),
		zap.String("action", string(ok.DocAction)),
		zap.Int("updates", len(ok.Updates)),
	)
	return []Event{
		{
			Type:           EventDocumentOperationSuccess,
			DocAction:      ok.DocAction,
			CanUndo:        ok.CanUndo,
			Updates:        ok.Updates,
			ContextPageIDs: ok.ContextPageIDs,
		},
		notify(SeveritySuccess, ok.NotificationMessage, ok.MessageArgs),
	}, nil
}

// Undo reverts the newest recorded edit. It returns no events when there is
// nothing to undo.
func (s *Session) Undo() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	ops, ok := s.ledger.Undo(s.store)
	if !ok {
		return nil
	}
	s.store.OperationSuccess(string(EventUndo), ops, nil)
	return []Event{{Type: EventUndo, Updates: ops}}
}

func (s *Session) Redo() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	ops, ok := s.ledger.Redo(s.store)
	if !ok {
		return nil
	}
	s.store.OperationSuccess(string(EventRedo), ops, nil)
	return []Event{{Type: EventRedo, Updates: ops}}
}

// PrepareUpdate rebuilds the task payload from the current documents.
func (s *Session) PrepareUpdate(taskAction string) Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	var input *taskdata.TaskData
	if s.task != nil {
		input = &s.task.Data
	}
	data, err := taskdata.FromDocuments(s.store.Documents(), input)
	if err != nil {
		s.log.Warn("prepare update failed", zap.String("task_action", taskAction), zap.Error(err))
		return Event{Type: EventTaskPrepareUpdateError, TaskAction: taskAction, Error: err.Error()}
	}
	return Event{Type: EventTaskPrepareUpdateSuccess, TaskAction: taskAction, TaskData: &data}
}

// Unload tears the session down.
func (s *Session) Unload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store.Reset()
	s.ledger.Clear()
	s.task = nil
}

type UIActionType string

const (
	UISelectPage     UIActionType = "selectPage"
	UIExpandDocument UIActionType = "expandDocument"
	UIDragPage       UIActionType = "dragPage"
	UIPreviewPage    UIActionType = "previewPage"
	UIClearSelection UIActionType = "clearSelection"
)

type UIAction struct {
	Type UIActionType `json:"type"`
	ID   string       `json:"id,omitempty"`
}

var ErrUnknownUIAction = errors.New("unknown ui action")

// ApplyUI toggles one of the screen flags kept beside the documents.
func (s *Session) ApplyUI(action UIAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch action.Type {
	case UISelectPage:
		s.store.ToggleSelectedPage(action.ID)
	case UIExpandDocument:
		s.store.ToggleExpandedDocument(action.ID)
	case UIDragPage:
		s.store.ToggleDraggedPage(action.ID)
	case UIPreviewPage:
		s.store.TogglePreviewPage(action.ID)
	case UIClearSelection:
		s.store.ClearSelection()
	default:
		return ErrUnknownUIAction
	}
	return nil
}

// View is what the presentation layer renders.
type View struct {
	TaskID  string         `json:"taskId"`
	State   docstate.State `json:"state"`
	CanUndo bool           `json:"canUndo"`
	CanRedo bool           `json:"canRedo"`
}

func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		State:   s.store.State(),
		CanUndo: s.ledger.CanUndo(),
		CanRedo: s.ledger.CanRedo(),
	}
	if s.task != nil {
		v.TaskID = s.task.ID
	}
	return v
}

// Snapshot is the persisted form of a session.
type Snapshot struct {
	Task    *Task            `json:"task,omitempty"`
	State   docstate.State   `json:"state"`
	History history.Snapshot `json:"history"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{State: s.store.State(), History: s.ledger.Snapshot()}
	if s.task != nil {
		task := *s.task
		snap.Task = &task
	}
	return snap
}

// Restore replaces the session contents with snap.
func (s *Session) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.store.Restore(snap.State)
	if snap.History.Limit == 0 {
		snap.History.Limit = s.historyLimit
	}
	s.ledger = history.Restore(snap.History)
	s.task = nil
	if snap.Task != nil {
		task := *snap.Task
		s.task = &task
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
