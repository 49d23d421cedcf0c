package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"classverify/internal/config"
	"classverify/internal/docstate"
	"classverify/internal/editops"
	"classverify/internal/export"
	"classverify/internal/gitrepo"
	"classverify/internal/search"
	"classverify/internal/session"
	"classverify/internal/store"
	"classverify/internal/taskdata"
	"classverify/internal/verification"
)

type fakeStore struct {
	mu      sync.Mutex
	tasks   map[string]store.Task
	saves   []store.TaskSave
	indexed map[string][]store.IndexedDocument
	pingErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{tasks: map[string]store.Task{}, indexed: map[string][]store.IndexedDocument{}}
}

func (f *fakeStore) InsertTask(_ context.Context, task store.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tasks[task.ID]; ok {
		return store.ErrTaskExists
	}
	now := time.Now()
	task.CreatedAt, task.UpdatedAt, task.UpdatedBy = now, now, task.CreatedBy
	f.tasks[task.ID] = task
	return nil
}

func (f *fakeStore) GetTask(_ context.Context, taskID string) (store.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[taskID]
	if !ok {
		return store.Task{}, store.ErrNotFound
	}
	return task, nil
}

func (f *fakeStore) ListTasks(_ context.Context, status string, limit int) ([]store.TaskSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.TaskSummary, 0)
	for _, task := range f.tasks {
		if status != "" && task.Status != status {
			continue
		}
		items = append(items, store.TaskSummary{ID: task.ID, Name: task.Name, Status: task.Status, DocumentCount: len(task.Input.Documents)})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (f *fakeStore) UpdateTaskStatus(_ context.Context, taskID, status, updatedBy string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[taskID]
	if !ok {
		return store.ErrNotFound
	}
	task.Status, task.UpdatedBy = status, updatedBy
	f.tasks[taskID] = task
	return nil
}

func (f *fakeStore) SaveTaskResult(_ context.Context, record store.SaveRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[record.TaskID]
	if !ok {
		return store.ErrNotFound
	}
	result := record.Result
	task.Result = &result
	task.Status = record.Status
	task.ResultHash = record.CommitHash
	task.UpdatedBy = record.SavedBy
	task.ClassificationStatus = result.ClassificationStatus
	task.HasRejected = result.HasRejectedDocuments
	f.tasks[record.TaskID] = task
	f.saves = append(f.saves, store.TaskSave{
		ID:                   int64(len(f.saves) + 1),
		TaskID:               record.TaskID,
		TaskAction:           record.TaskAction,
		ClassificationStatus: result.ClassificationStatus,
		CommitHash:           record.CommitHash,
		SavedBy:              record.SavedBy,
		SavedAt:              time.Now(),
	})
	return nil
}

func (f *fakeStore) ListTaskSaves(_ context.Context, taskID string, _ int) ([]store.TaskSave, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.TaskSave, 0)
	for i := len(f.saves) - 1; i >= 0; i-- {
		if f.saves[i].TaskID == taskID {
			items = append(items, f.saves[i])
		}
	}
	return items, nil
}

func (f *fakeStore) ReplaceTaskDocuments(_ context.Context, taskID string, docs []store.IndexedDocument) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed[taskID] = docs
	return nil
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

type indexCall struct {
	taskID  string
	records []search.DocumentRecord
	removed []string
}

type fakeSearch struct {
	mu    sync.Mutex
	calls []indexCall
}

func (f *fakeSearch) Search(q search.Query) search.Response {
	return search.Response{Results: []search.Result{{Type: search.ResultDocument, ID: "task-1__A", TaskID: "task-1", DocumentID: "A", Title: q.Text}}, Total: 1, Query: q.Text}
}

func (f *fakeSearch) IndexTask(taskID string, records []search.DocumentRecord, removed []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, indexCall{taskID: taskID, records: records, removed: removed})
}

func (f *fakeSearch) last() indexCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

type fakeContent struct {
	objects map[string]bool
}

func (f *fakeContent) PresignPage(_ context.Context, ref string, page int) (string, error) {
	return fmt.Sprintf("https://blobs.test/%s#page=%d", ref, page+1), nil
}

func (f *fakeContent) Exists(_ context.Context, ref string) (bool, error) {
	return f.objects[ref], nil
}

type testEnv struct {
	svc    *Service
	store  *fakeStore
	search *fakeSearch
	redis  *miniredis.Miniredis
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	sessions, err := session.NewRedisStore("redis://"+mr.Addr(), time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { sessions.Close() })

	seq := 0
	fs := newFakeStore()
	fsearch := &fakeSearch{}
	svc := &Service{
		cfg:      config.Config{TokenSecret: "secret", UnclassifiedClassID: "unclassified"},
		log:      zaptest.NewLogger(t),
		store:    fs,
		sessions: sessions,
		git:      gitrepo.New(t.TempDir()),
		search:   fsearch,
		reports:  export.NewService(),
		engine: editops.New(editops.WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("gen-%d", seq)
		})),
		locks: make(map[string]*sync.Mutex),
	}
	return &testEnv{svc: svc, store: fs, search: fsearch, redis: mr}
}

var reviewer = Identity{UserID: "usr_avery", UserName: "Avery", Role: "reviewer"}

func taskInput() IngestTaskInput {
	return IngestTaskInput{
		ID:   "task-1",
		Name: "Invoices batch",
		Data: taskdata.TaskData{
			ContentFileReferences: []taskdata.ContentFileReference{{FileReference: "scan.pdf", ContentType: "application/pdf", PageCount: 4}},
			DocumentClasses: []docstate.DocumentClass{
				{ID: "invoice", Name: "Invoice"},
				{ID: "receipt", Name: "Receipt"},
			},
			RejectReasons: []taskdata.RejectReason{{ID: "blurry", Name: "Blurry scan"}},
			Documents: []taskdata.Document{
				{ID: "A", Name: "A", ClassID: "invoice", Pages: []taskdata.Page{{ContentFileReferenceIndex: 0, SourcePageIndex: 0}, {ContentFileReferenceIndex: 0, SourcePageIndex: 1}}},
				{ID: "B", Name: "B", ClassID: "invoice", Pages: []taskdata.Page{{ContentFileReferenceIndex: 0, SourcePageIndex: 2}}},
				{ID: "C", Name: "C", ClassID: "receipt", ClassificationReviewStatus: taskdata.ReviewRequired, Pages: []taskdata.Page{{ContentFileReferenceIndex: 0, SourcePageIndex: 3}}},
			},
		},
		Context: map[string]any{"queue": "finance"},
	}
}

func (e *testEnv) ingestAndOpen(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	_, err := e.svc.IngestTask(ctx, taskInput(), Identity{UserName: "Admin", Role: "admin"})
	require.NoError(t, err)
	_, err = e.svc.OpenSession(ctx, "task-1", reviewer)
	require.NoError(t, err)
}

func sessionView(t *testing.T, payload map[string]any) verification.View {
	t.Helper()
	view, ok := payload["session"].(verification.View)
	require.True(t, ok, "payload has no session view")
	return view
}

func assertDomainError(t *testing.T, err error, status int, code string) {
	t.Helper()
	var domainErr *DomainError
	require.True(t, errors.As(err, &domainErr), "expected DomainError, got %v", err)
	assert.Equal(t, status, domainErr.Status)
	assert.Equal(t, code, domainErr.Code)
}

func TestIngestTask(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	payload, err := env.svc.IngestTask(ctx, taskInput(), Identity{UserName: "Admin"})
	require.NoError(t, err)
	assert.Equal(t, "task-1", payload["task"].(map[string]any)["id"])

	task := env.store.tasks["task-1"]
	assert.Equal(t, store.TaskStatusPending, task.Status)
	assert.Equal(t, "unclassified", task.Input.Config.UnclassifiedClassID)

	_, err = env.svc.IngestTask(ctx, taskInput(), Identity{UserName: "Admin"})
	assertDomainError(t, err, http.StatusConflict, "TASK_EXISTS")

	broken := taskInput()
	broken.ID = "task-2"
	broken.Data.Documents[1].Pages = broken.Data.Documents[0].Pages
	_, err = env.svc.IngestTask(ctx, broken, Identity{UserName: "Admin"})
	assertDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}

func TestIngestChecksContentFiles(t *testing.T) {
	env := newTestEnv(t)
	env.svc.content = &fakeContent{objects: map[string]bool{}}

	_, err := env.svc.IngestTask(context.Background(), taskInput(), Identity{UserName: "Admin"})
	assertDomainError(t, err, http.StatusUnprocessableEntity, "CONTENT_FILE_MISSING")

	env.svc.content = &fakeContent{objects: map[string]bool{"scan.pdf": true}}
	_, err = env.svc.IngestTask(context.Background(), taskInput(), Identity{UserName: "Admin"})
	require.NoError(t, err)
}

func TestOpenSessionMovesTaskIntoReview(t *testing.T) {
	env := newTestEnv(t)
	env.ingestAndOpen(t)

	assert.Equal(t, store.TaskStatusInReview, env.store.tasks["task-1"].Status)

	payload, err := env.svc.GetSession(context.Background(), "task-1")
	require.NoError(t, err)
	view := sessionView(t, payload)
	assert.Equal(t, "task-1", view.TaskID)
	assert.Len(t, view.State.Documents, 3)
	assert.False(t, view.CanUndo)
}

func TestSessionRequiredForEdits(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.IngestTask(context.Background(), taskInput(), Identity{UserName: "Admin"})
	require.NoError(t, err)

	_, err = env.svc.DispatchAction(context.Background(), "task-1", editops.Intent{Action: editops.DocumentResolve, DocumentIDs: []string{"A"}})
	assertDomainError(t, err, http.StatusNotFound, "SESSION_NOT_FOUND")

	_, err = env.svc.OpenSession(context.Background(), "missing", reviewer)
	assertDomainError(t, err, http.StatusNotFound, "TASK_NOT_FOUND")
}

func TestDispatchUndoRedoAcrossRequests(t *testing.T) {
	env := newTestEnv(t)
	env.ingestAndOpen(t)
	ctx := context.Background()

	payload, err := env.svc.DispatchAction(ctx, "task-1", editops.Intent{
		Action:           editops.PageMerge,
		PageIDs:          []string{"0_2"},
		TargetDocumentID: "A",
	})
	require.NoError(t, err)
	events := payload["events"].([]verification.Event)
	require.Len(t, events, 2)
	assert.Equal(t, verification.EventDocumentOperationSuccess, events[0].Type)
	assert.True(t, sessionView(t, payload).CanUndo)

	payload, err = env.svc.Undo(ctx, "task-1")
	require.NoError(t, err)
	view := sessionView(t, payload)
	assert.False(t, view.CanUndo)
	assert.True(t, view.CanRedo)
	for _, doc := range view.State.Documents {
		if doc.ID == "B" {
			assert.False(t, doc.MarkAsDeleted)
			assert.Len(t, doc.Pages, 1)
		}
	}

	payload, err = env.svc.Redo(ctx, "task-1")
	require.NoError(t, err)
	assert.True(t, sessionView(t, payload).CanUndo)

	payload, err = env.svc.Redo(ctx, "task-1")
	require.NoError(t, err)
	assert.Empty(t, payload["events"])
}

func TestDispatchExpectedFailure(t *testing.T) {
	env := newTestEnv(t)
	env.ingestAndOpen(t)

	payload, err := env.svc.DispatchAction(context.Background(), "task-1", editops.Intent{
		Action:           editops.PageMove,
		PageIDs:          []string{"0_0"},
		TargetDocumentID: "missing",
	})
	require.NoError(t, err)
	events := payload["events"].([]verification.Event)
	assert.Equal(t, verification.EventDocumentOperationError, events[0].Type)
	assert.Equal(t, editops.MsgTargetNotFound, events[1].Notification.Message)
	assert.Equal(t, docstate.LoadStateError, sessionView(t, payload).State.LoadState)
}

func TestDispatchStalePagesIsConflict(t *testing.T) {
	env := newTestEnv(t)
	env.ingestAndOpen(t)

	_, err := env.svc.DispatchAction(context.Background(), "task-1", editops.Intent{
		Action:           editops.PageMerge,
		PageIDs:          []string{"9_9"},
		TargetDocumentID: "A",
	})
	assertDomainError(t, err, http.StatusConflict, "STATE_CONFLICT")

	payload, err := env.svc.GetSession(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, docstate.LoadStateError, sessionView(t, payload).State.LoadState)
}

func TestApplyUI(t *testing.T) {
	env := newTestEnv(t)
	env.ingestAndOpen(t)
	ctx := context.Background()

	_, err := env.svc.ApplyUI(ctx, "task-1", verification.UIAction{Type: verification.UISelectPage, ID: "0_1"})
	require.NoError(t, err)
	payload, err := env.svc.GetSession(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"0_1"}, sessionView(t, payload).State.SelectedPageIDs)

	_, err = env.svc.ApplyUI(ctx, "task-1", verification.UIAction{Type: "wiggle"})
	assertDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}

func TestSaveAndComplete(t *testing.T) {
	env := newTestEnv(t)
	env.ingestAndOpen(t)
	ctx := context.Background()

	_, err := env.svc.DispatchAction(ctx, "task-1", editops.Intent{Action: editops.PageSplit, PageIDs: []string{"0_1"}})
	require.NoError(t, err)
	_, err = env.svc.DispatchAction(ctx, "task-1", editops.Intent{Action: editops.DocumentReject, DocumentIDs: []string{"C"}, RejectedReasonID: "blurry"})
	require.NoError(t, err)

	payload, err := env.svc.SaveTask(ctx, "task-1", "", reviewer)
	require.NoError(t, err)
	assert.Equal(t, store.TaskStatusInReview, payload["status"])
	event := payload["event"].(verification.Event)
	require.NotNil(t, event.TaskData)
	assert.Len(t, event.TaskData.Documents, 4)
	assert.True(t, event.TaskData.HasRejectedDocuments)

	task := env.store.tasks["task-1"]
	require.NotNil(t, task.Result)
	assert.NotEmpty(t, task.ResultHash)
	require.Len(t, env.store.saves, 1)
	assert.Equal(t, "Save", env.store.saves[0].TaskAction)

	indexed := env.store.indexed["task-1"]
	require.Len(t, indexed, 4)
	for _, doc := range indexed {
		if doc.DocumentID == "C" {
			assert.True(t, doc.Rejected)
			assert.Equal(t, "Blurry scan", doc.RejectReason)
		}
	}
	assert.Len(t, env.search.last().records, 4)
	assert.Empty(t, env.search.last().removed)

	// merging the split page back empties the generated document, which is
	// dropped from the payload and from the index
	_, err = env.svc.DispatchAction(ctx, "task-1", editops.Intent{Action: editops.PageMerge, PageIDs: []string{"0_1"}, TargetDocumentID: "A"})
	require.NoError(t, err)
	payload, err = env.svc.SaveTask(ctx, "task-1", TaskActionComplete, reviewer)
	require.NoError(t, err)
	assert.Equal(t, store.TaskStatusCompleted, payload["status"])
	assert.Equal(t, []string{"gen-1"}, env.search.last().removed)

	_, err = env.svc.GetSession(ctx, "task-1")
	assertDomainError(t, err, http.StatusNotFound, "SESSION_NOT_FOUND")
	_, err = env.svc.OpenSession(ctx, "task-1", reviewer)
	assertDomainError(t, err, http.StatusConflict, "TASK_COMPLETED")

	versions, err := env.svc.Versions(ctx, "task-1", 10)
	require.NoError(t, err)
	assert.Len(t, versions["commits"], 3)
	assert.Len(t, versions["saves"], 2)
}

func TestReopenAfterSaveLoadsResult(t *testing.T) {
	env := newTestEnv(t)
	env.ingestAndOpen(t)
	ctx := context.Background()

	_, err := env.svc.DispatchAction(ctx, "task-1", editops.Intent{Action: editops.DocumentClassChange, DocumentIDs: []string{"C"}, ClassID: "invoice"})
	require.NoError(t, err)
	_, err = env.svc.SaveTask(ctx, "task-1", "Save", reviewer)
	require.NoError(t, err)

	payload, err := env.svc.OpenSession(ctx, "task-1", reviewer)
	require.NoError(t, err)
	view := sessionView(t, payload)
	assert.False(t, view.CanUndo)
	for _, doc := range view.State.Documents {
		if doc.ID == "C" {
			assert.Equal(t, "invoice", doc.Class.ID)
		}
	}
}

func TestGetVersion(t *testing.T) {
	env := newTestEnv(t)
	env.ingestAndOpen(t)
	ctx := context.Background()

	_, err := env.svc.DispatchAction(ctx, "task-1", editops.Intent{Action: editops.DocumentResolve, DocumentIDs: []string{"C"}})
	require.NoError(t, err)
	saved, err := env.svc.SaveTask(ctx, "task-1", "Save", reviewer)
	require.NoError(t, err)
	hash := saved["commit"].(map[string]any)["hash"].(string)

	payload, err := env.svc.GetVersion(ctx, "task-1", hash)
	require.NoError(t, err)
	changes := payload["changes"].([]gitrepo.DocumentChange)
	require.Len(t, changes, 1)
	assert.Equal(t, "C", changes[0].DocumentID)

	_, err = env.svc.GetVersion(ctx, "task-1", "deadbeef")
	assertDomainError(t, err, http.StatusNotFound, "VERSION_NOT_FOUND")
}

func TestPageContent(t *testing.T) {
	env := newTestEnv(t)
	env.ingestAndOpen(t)
	ctx := context.Background()

	_, err := env.svc.PageContent(ctx, "task-1", "0_1")
	assertDomainError(t, err, http.StatusServiceUnavailable, "CONTENT_UNAVAILABLE")

	env.svc.content = &fakeContent{}
	payload, err := env.svc.PageContent(ctx, "task-1", "0_1")
	require.NoError(t, err)
	assert.Equal(t, "https://blobs.test/scan.pdf#page=2", payload["url"])
	assert.Equal(t, "application/pdf", payload["contentType"])

	for _, pageID := range []string{"3_0", "abc", "0_-1"} {
		_, err = env.svc.PageContent(ctx, "task-1", pageID)
		assertDomainError(t, err, http.StatusNotFound, "PAGE_NOT_FOUND")
	}
}

func TestExportReport(t *testing.T) {
	env := newTestEnv(t)
	env.ingestAndOpen(t)
	ctx := context.Background()

	result, err := env.svc.ExportReport(ctx, "task-1", "", "html")
	require.NoError(t, err)
	assert.Contains(t, string(result.Data), "Ingested input")
	assert.Equal(t, "Invoices-batch.html", result.Filename)

	_, err = env.svc.DispatchAction(ctx, "task-1", editops.Intent{Action: editops.DocumentReject, DocumentIDs: []string{"C"}, RejectedReasonID: "blurry"})
	require.NoError(t, err)
	saved, err := env.svc.SaveTask(ctx, "task-1", "", reviewer)
	require.NoError(t, err)
	hash := saved["commit"].(map[string]any)["hash"].(string)

	result, err = env.svc.ExportReport(ctx, "task-1", "", "html")
	require.NoError(t, err)
	body := string(result.Data)
	assert.Contains(t, body, "Blurry scan")
	assert.Contains(t, body, "Saved by Avery")
	assert.Contains(t, body, hash)

	result, err = env.svc.ExportReport(ctx, "task-1", hash, "html")
	require.NoError(t, err)
	assert.Contains(t, string(result.Data), "Blurry scan")

	_, err = env.svc.ExportReport(ctx, "task-1", "", "odt")
	assertDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
	_, err = env.svc.ExportReport(ctx, "task-1", "nope", "html")
	assertDomainError(t, err, http.StatusNotFound, "VERSION_NOT_FOUND")
	_, err = env.svc.ExportReport(ctx, "nope", "", "html")
	assertDomainError(t, err, http.StatusNotFound, "TASK_NOT_FOUND")
}

type missingConverter struct{}

func (missingConverter) Export(context.Context, export.Report, export.Format) (*export.Result, error) {
	return nil, fmt.Errorf("%w: chromium not installed", export.ErrPDFDependencyMissing)
}

func TestExportReportUnavailable(t *testing.T) {
	env := newTestEnv(t)
	env.ingestAndOpen(t)
	env.svc.reports = missingConverter{}

	_, err := env.svc.ExportReport(context.Background(), "task-1", "", "pdf")
	assertDomainError(t, err, http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE")
}

func TestSessionExpiry(t *testing.T) {
	env := newTestEnv(t)
	env.ingestAndOpen(t)

	env.redis.FastForward(2 * time.Hour)
	_, err := env.svc.Undo(context.Background(), "task-1")
	assertDomainError(t, err, http.StatusNotFound, "SESSION_NOT_FOUND")
}

func TestConcurrentDispatchIsSerialised(t *testing.T) {
	env := newTestEnv(t)
	env.ingestAndOpen(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, id := range []string{"A", "B", "C"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := env.svc.DispatchAction(ctx, "task-1", editops.Intent{Action: editops.DocumentResolve, DocumentIDs: []string{id}})
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	payload, err := env.svc.GetSession(ctx, "task-1")
	require.NoError(t, err)
	for _, doc := range sessionView(t, payload).State.Documents {
		assert.True(t, doc.MarkAsResolved, doc.ID)
	}
	for i := 0; i < 3; i++ {
		_, err := env.svc.Undo(ctx, "task-1")
		require.NoError(t, err)
	}
	payload, err = env.svc.GetSession(ctx, "task-1")
	require.NoError(t, err)
	assert.False(t, sessionView(t, payload).CanUndo)
}
