package verification

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"classverify/internal/docstate"
	"classverify/internal/editops"
	"classverify/internal/taskdata"
)

func testTask() Task {
	return Task{
		ID: "task-1",
		Data: taskdata.TaskData{
			ContentFileReferences: []taskdata.ContentFileReference{{FileReference: "scan.pdf"}},
			DocumentClasses: []docstate.DocumentClass{
				{ID: "invoice", Name: "Invoice"},
				{ID: "receipt", Name: "Receipt"},
			},
			Documents: []taskdata.Document{
				{ID: "A", Name: "A", ClassID: "invoice", Pages: []taskdata.Page{{ContentFileReferenceIndex: 0, SourcePageIndex: 0}, {ContentFileReferenceIndex: 0, SourcePageIndex: 1}}},
				{ID: "B", Name: "B", ClassID: "invoice", Pages: []taskdata.Page{{ContentFileReferenceIndex: 0, SourcePageIndex: 2}}},
				{ID: "C", Name: "C", ClassID: "receipt", Pages: []taskdata.Page{{ContentFileReferenceIndex: 0, SourcePageIndex: 3}}},
			},
		},
		Context: map[string]any{"queue": "finance"},
	}
}

func newSession(t *testing.T, opts ...Option) *Session {
	t.Helper()
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	s := New(opts...)
	s.Load(testTask())
	return s
}

func eventTypes(events []Event) []EventType {
	out := make([]EventType, 0, len(events))
	for _, e := range events {
		out = append(out, e.Type)
	}
	return out
}

func TestLoad(t *testing.T) {
	s := New(WithLogger(zaptest.NewLogger(t)))
	assert.False(t, s.Loaded())

	events := s.Load(testTask())
	require.Len(t, events, 1)
	assert.Equal(t, EventCreateDocuments, events[0].Type)
	assert.Equal(t, 3, events[0].Documents)

	view := s.View()
	assert.Equal(t, "task-1", view.TaskID)
	assert.Equal(t, docstate.LoadStateLoaded, view.State.LoadState)
	assert.Len(t, view.State.Documents, 3)
	assert.False(t, view.CanUndo)
}

func TestDispatchBeforeLoad(t *testing.T) {
	s := New()
	_, err := s.Dispatch(editops.Intent{Action: editops.PageMerge})
	assert.ErrorIs(t, err, ErrNotLoaded)
}

func TestDispatchSuccessRecordsUndo(t *testing.T) {
	s := newSession(t)

	events, err := s.Dispatch(editops.Intent{
		Action:           editops.PageMerge,
		PageIDs:          []string{"0_2"},
		TargetDocumentID: "A",
	})
	require.NoError(t, err)
	assert.Equal(t, []EventType{EventDocumentOperationSuccess, EventNotificationShow}, eventTypes(events))
	assert.Equal(t, SeveritySuccess, events[1].Notification.Severity)
	assert.Equal(t, editops.MsgMergeSuccess, events[1].Notification.Message)

	view := s.View()
	assert.True(t, view.CanUndo)
	require.NotNil(t, view.State.LastAction)
	assert.True(t, view.State.LastAction.Success)
	assert.Equal(t, []string{"B", "A"}, view.State.LastAction.Documents)
}

func TestMoveToUnknownTargetLeavesStoreUntouched(t *testing.T) {
	s := newSession(t)
	before := s.View().State.Documents

	events, err := s.Dispatch(editops.Intent{
		Action:           editops.PageMove,
		PageIDs:          []string{"0_0"},
		TargetDocumentID: "missing",
	})
	require.NoError(t, err)
	assert.Equal(t, []EventType{EventDocumentOperationError, EventNotificationShow}, eventTypes(events))
	assert.Equal(t, editops.PageMove, events[0].DocAction)
	assert.Equal(t, SeverityError, events[1].Notification.Severity)
	assert.Equal(t, editops.MsgTargetNotFound, events[1].Notification.Message)

	view := s.View()
	if diff := cmp.Diff(before, view.State.Documents); diff != "" {
		t.Fatalf("documents changed (-before +after):\n%s", diff)
	}
	assert.Equal(t, docstate.LoadStateError, view.State.LoadState)
	assert.False(t, view.CanUndo)
}

func TestStalePageReferenceIsAnError(t *testing.T) {
	s := newSession(t)
	_, err := s.Dispatch(editops.Intent{
		Action:           editops.PageMerge,
		PageIDs:          []string{"9_9"},
		TargetDocumentID: "A",
	})
	assert.True(t, errors.Is(err, editops.ErrPageNotFound))
	assert.Equal(t, docstate.LoadStateError, s.View().State.LoadState)
}

func TestUndoRedoUndo(t *testing.T) {
	s := newSession(t)
	initial := s.View().State.Documents

	_, err := s.Dispatch(editops.Intent{Action: editops.PageSplit, PageIDs: []string{"0_1", "0_2"}})
	require.NoError(t, err)
	_, err = s.Dispatch(editops.Intent{Action: editops.DocumentReject, DocumentIDs: []string{"C"}, RejectedReasonID: "blurry"})
	require.NoError(t, err)
	edited := s.View().State.Documents

	events := s.Undo()
	require.Len(t, events, 1)
	assert.Equal(t, EventUndo, events[0].Type)
	s.Undo()
	if diff := cmp.Diff(initial, s.View().State.Documents); diff != "" {
		t.Fatalf("undo did not restore the loaded state:\n%s", diff)
	}
	assert.Nil(t, s.Undo())

	s.Redo()
	s.Redo()
	if diff := cmp.Diff(edited, s.View().State.Documents); diff != "" {
		t.Fatalf("redo did not restore the edited state:\n%s", diff)
	}
	assert.Nil(t, s.Redo())

	s.Undo()
	s.Undo()
	if diff := cmp.Diff(initial, s.View().State.Documents); diff != "" {
		t.Fatalf("second undo did not restore the loaded state:\n%s", diff)
	}
}

func TestNewEditClearsRedo(t *testing.T) {
	s := newSession(t)
	_, err := s.Dispatch(editops.Intent{Action: editops.DocumentResolve, DocumentIDs: []string{"A"}})
	require.NoError(t, err)
	s.Undo()
	assert.True(t, s.View().CanRedo)

	_, err = s.Dispatch(editops.Intent{Action: editops.DocumentResolve, DocumentIDs: []string{"B"}})
	require.NoError(t, err)
	assert.False(t, s.View().CanRedo)
}

func TestNoUndoIntentIsNotRecorded(t *testing.T) {
	s := newSession(t)
	events, err := s.Dispatch(editops.Intent{Action: editops.DocumentResolve, DocumentIDs: []string{"A"}, NoUndo: true})
	require.NoError(t, err)
	assert.False(t, events[0].CanUndo)
	assert.False(t, s.View().CanUndo)
}

func TestHistoryLimit(t *testing.T) {
	s := newSession(t, WithHistoryLimit(1))
	for _, id := range []string{"A", "B"} {
		_, err := s.Dispatch(editops.Intent{Action: editops.DocumentResolve, DocumentIDs: []string{id}})
		require.NoError(t, err)
	}
	require.NotNil(t, s.Undo())
	assert.Nil(t, s.Undo())
}

func TestPrepareUpdate(t *testing.T) {
	s := newSession(t)
	_, err := s.Dispatch(editops.Intent{Action: editops.DocumentClassChange, DocumentIDs: []string{"B"}, ClassID: "receipt"})
	require.NoError(t, err)

	event := s.PrepareUpdate("Save")
	assert.Equal(t, EventTaskPrepareUpdateSuccess, event.Type)
	assert.Equal(t, "Save", event.TaskAction)
	require.NotNil(t, event.TaskData)
	assert.Equal(t, "receipt", event.TaskData.Documents[1].ClassID)
	assert.Equal(t, taskdata.ReviewNotRequired, event.TaskData.Documents[1].ClassificationReviewStatus)
	assert.Equal(t, taskdata.StatusClassified, event.TaskData.ClassificationStatus)
}

func TestPrepareUpdateWithoutTask(t *testing.T) {
	s := newSession(t)
	s.Unload()

	event := s.PrepareUpdate("Save")
	assert.Equal(t, EventTaskPrepareUpdateError, event.Type)
	assert.Equal(t, "Task data not found", event.Error)
	assert.False(t, s.Loaded())
}

func TestApplyUI(t *testing.T) {
	s := newSession(t)
	require.NoError(t, s.ApplyUI(UIAction{Type: UISelectPage, ID: "0_0"}))
	require.NoError(t, s.ApplyUI(UIAction{Type: UIExpandDocument, ID: "A"}))
	require.NoError(t, s.ApplyUI(UIAction{Type: UIPreviewPage, ID: "0_1"}))

	state := s.View().State
	assert.Equal(t, []string{"0_0"}, state.SelectedPageIDs)
	assert.Equal(t, []string{"A"}, state.ExpandedDocumentIDs)
	assert.Equal(t, []string{"0_1"}, state.PreviewPageIDs)

	require.NoError(t, s.ApplyUI(UIAction{Type: UIClearSelection}))
	assert.Empty(t, s.View().State.SelectedPageIDs)

	assert.ErrorIs(t, s.ApplyUI(UIAction{Type: "wiggle"}), ErrUnknownUIAction)
}

func TestSnapshotRestore(t *testing.T) {
	s := newSession(t)
	_, err := s.Dispatch(editops.Intent{Action: editops.PageDelete, PageIDs: []string{"0_3"}})
	require.NoError(t, err)
	snap := s.Snapshot()

	restored := New(WithLogger(zaptest.NewLogger(t)))
	restored.Restore(snap)
	assert.True(t, restored.Loaded())
	if diff := cmp.Diff(s.View(), restored.View()); diff != "" {
		t.Fatalf("restored view differs:\n%s", diff)
	}
	require.NotNil(t, snap.Task)
	assert.Equal(t, "finance", snap.Task.Context["queue"])

	restored.Undo()
	c, ok := restoredDocument(restored, "C")
	require.True(t, ok)
	assert.False(t, c.MarkAsDeleted)
	assert.Len(t, c.Pages, 1)
}

func restoredDocument(s *Session, id string) (docstate.Document, bool) {
	for _, doc := range s.View().State.Documents {
		if doc.ID == id {
			return doc, true
		}
	}
	return docstate.Document{}, false
}
