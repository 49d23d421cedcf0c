package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"classverify/internal/blob"
	"classverify/internal/config"
	"classverify/internal/editops"
	"classverify/internal/export"
	"classverify/internal/gitrepo"
	"classverify/internal/search"
	"classverify/internal/session"
	"classverify/internal/store"
	"classverify/internal/taskdata"
	"classverify/internal/verification"
)

// TaskActionComplete closes a task: the result is saved, tagged and the open
// session is dropped.
const TaskActionComplete = "Complete"

type IngestTaskInput struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	Data    taskdata.TaskData `json:"data"`
	Context map[string]any    `json:"context"`
}

type taskStore interface {
	InsertTask(context.Context, store.Task) error
	GetTask(context.Context, string) (store.Task, error)
	ListTasks(context.Context, string, int) ([]store.TaskSummary, error)
	UpdateTaskStatus(context.Context, string, string, string) error
	SaveTaskResult(context.Context, store.SaveRecord) error
	ListTaskSaves(context.Context, string, int) ([]store.TaskSave, error)
	ReplaceTaskDocuments(context.Context, string, []store.IndexedDocument) error
	Ping(ctx context.Context) error
}

type sessionStore interface {
	Save(context.Context, string, verification.Snapshot) error
	Load(context.Context, string) (verification.Snapshot, error)
	Delete(context.Context, string) error
	Ping(ctx context.Context) error
}

type gitService interface {
	EnsureTaskRepo(string, taskdata.TaskData, string) error
	CommitResult(string, taskdata.TaskData, string, string) (store.CommitInfo, error)
	History(string, int) ([]store.CommitInfo, error)
	GetResultByHash(string, string) (taskdata.TaskData, error)
	CreateTag(string, string, string) error
}

type searchService interface {
	Search(search.Query) search.Response
	IndexTask(string, []search.DocumentRecord, []string)
}

type reportExporter interface {
	Export(context.Context, export.Report, export.Format) (*export.Result, error)
}

type contentStore interface {
	PresignPage(context.Context, string, int) (string, error)
	Exists(context.Context, string) (bool, error)
}

type Service struct {
	cfg      config.Config
	log      *zap.Logger
	store    taskStore
	sessions sessionStore
	git      gitService
	search   searchService
	content  contentStore
	reports  reportExporter
	engine   *editops.Engine

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New wires the service. content may be nil when object storage is not
// configured; page content links are then unavailable.
func New(
	cfg config.Config,
	dataStore *store.PostgresStore,
	sessions *session.RedisStore,
	gitService *gitrepo.Service,
	searchService *search.Service,
	content *blob.Store,
	log *zap.Logger,
) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		cfg:      cfg,
		log:      log.Named("app"),
		store:    dataStore,
		sessions: sessions,
		git:      gitService,
		search:   searchService,
		reports:  export.NewService(),
		engine:   editops.New(),
		locks:    make(map[string]*sync.Mutex),
	}
	if content != nil {
		s.content = content
	}
	return s
}

// Ping checks the database.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) PingSessions(ctx context.Context) error {
	return s.sessions.Ping(ctx)
}

func (s *Service) IngestTask(ctx context.Context, input IngestTaskInput, actor Identity) (map[string]any, error) {
	taskID := strings.TrimSpace(input.ID)
	if taskID == "" {
		taskID = uuid.NewString()
	}
	if err := taskdata.Validate(input.Data); err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}
	if input.Data.Config.UnclassifiedClassID == "" {
		input.Data.Config.UnclassifiedClassID = s.cfg.UnclassifiedClassID
	}
	if err := s.checkContentFiles(ctx, input.Data); err != nil {
		return nil, err
	}

	task := store.Task{
		ID:        taskID,
		Name:      firstNonBlank(input.Name, taskID),
		Status:    store.TaskStatusPending,
		Input:     input.Data,
		Context:   input.Context,
		CreatedBy: actor.UserName,
	}
	if err := s.store.InsertTask(ctx, task); err != nil {
		if errors.Is(err, store.ErrTaskExists) {
			return nil, domainError(http.StatusConflict, "TASK_EXISTS", "Task already exists", map[string]any{"taskId": taskID})
		}
		return nil, err
	}
	if err := s.git.EnsureTaskRepo(taskID, input.Data, actor.UserName); err != nil {
		return nil, fmt.Errorf("ensure task repo: %w", err)
	}

	s.log.Info("task ingested",
		zap.String("task_id", taskID),
		zap.Int("documents", len(input.Data.Documents)),
		zap.String("actor", actor.UserName),
	)
	return map[string]any{
		"task": map[string]any{
			"id":            taskID,
			"name":          task.Name,
			"status":        task.Status,
			"documentCount": len(input.Data.Documents),
		},
	}, nil
}

func (s *Service) checkContentFiles(ctx context.Context, data taskdata.TaskData) error {
	if s.content == nil {
		return nil
	}
	missing := make([]string, 0)
	for _, ref := range data.ContentFileReferences {
		ok, err := s.content.Exists(ctx, ref.FileReference)
		if errors.Is(err, blob.ErrInvalidRef) {
			missing = append(missing, ref.FileReference)
			continue
		}
		if err != nil {
			return fmt.Errorf("check content file %s: %w", ref.FileReference, err)
		}
		if !ok {
			missing = append(missing, ref.FileReference)
		}
	}
	if len(missing) > 0 {
		return domainError(http.StatusUnprocessableEntity, "CONTENT_FILE_MISSING", "Content files are missing", map[string]any{"missing": missing})
	}
	return nil
}

func (s *Service) ListTasks(ctx context.Context, status string, limit int) (map[string]any, error) {
	items, err := s.store.ListTasks(ctx, status, limit)
	if err != nil {
		return nil, err
	}
	tasks := make([]map[string]any, 0, len(items))
	for _, item := range items {
		tasks = append(tasks, map[string]any{
			"id":                   item.ID,
			"name":                 item.Name,
			"status":               item.Status,
			"documentCount":        item.DocumentCount,
			"classificationStatus": item.ClassificationStatus,
			"hasRejectedDocuments": item.HasRejected,
			"updatedBy":            item.UpdatedBy,
			"updatedAt":            item.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	return map[string]any{"tasks": tasks}, nil
}

func (s *Service) GetTask(ctx context.Context, taskID string) (map[string]any, error) {
	task, err := s.getTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"task": map[string]any{
			"id":                   task.ID,
			"name":                 task.Name,
			"status":               task.Status,
			"classificationStatus": task.ClassificationStatus,
			"hasRejectedDocuments": task.HasRejected,
			"resultHash":           task.ResultHash,
			"createdBy":            task.CreatedBy,
			"updatedBy":            task.UpdatedBy,
			"createdAt":            task.CreatedAt.UTC().Format(time.RFC3339),
			"updatedAt":            task.UpdatedAt.UTC().Format(time.RFC3339),
			"context":              task.Context,
			"taskData":             currentPayload(task),
		},
	}, nil
}

// OpenSession loads the task into a fresh verification session. An existing
// session for the task is replaced and its undo history is lost.
func (s *Service) OpenSession(ctx context.Context, taskID string, actor Identity) (map[string]any, error) {
	lock := s.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	task, err := s.getTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status == store.TaskStatusCompleted {
		return nil, domainError(http.StatusConflict, "TASK_COMPLETED", "Task is already completed", nil)
	}

	sess := s.newSession()
	events := sess.Load(verification.Task{ID: task.ID, Data: currentPayload(task), Context: task.Context})
	if err := s.sessions.Save(ctx, taskID, sess.Snapshot()); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	if task.Status == store.TaskStatusPending {
		if err := s.store.UpdateTaskStatus(ctx, taskID, store.TaskStatusInReview, actor.UserName); err != nil {
			return nil, err
		}
	}
	return sessionPayload(events, sess), nil
}

func (s *Service) GetSession(ctx context.Context, taskID string) (map[string]any, error) {
	sess, err := s.restore(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"session": sess.View()}, nil
}

func (s *Service) CloseSession(ctx context.Context, taskID string) error {
	lock := s.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()
	return s.sessions.Delete(ctx, taskID)
}

// DispatchAction runs one edit intent against the stored session. Page
// references the session does not hold are a conflict: the session is kept
// in its error state and the caller should reload it.
func (s *Service) DispatchAction(ctx context.Context, taskID string, intent editops.Intent) (map[string]any, error) {
	lock := s.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := s.restore(ctx, taskID)
	if err != nil {
		return nil, err
	}
	events, dispatchErr := sess.Dispatch(intent)
	if dispatchErr != nil && !errors.Is(dispatchErr, editops.ErrPageNotFound) {
		return nil, dispatchErr
	}
	if err := s.sessions.Save(ctx, taskID, sess.Snapshot()); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	if dispatchErr != nil {
		s.log.Error("stale page references",
			zap.String("task_id", taskID),
			zap.String("action", string(intent.Action)),
			zap.Strings("page_ids", intent.PageIDs),
			zap.Error(dispatchErr),
		)
		return nil, domainError(http.StatusConflict, "STATE_CONFLICT", "Page references are out of sync with the session", map[string]any{
			"action":  intent.Action,
			"pageIds": intent.PageIDs,
		})
	}
	return sessionPayload(events, sess), nil
}

func (s *Service) Undo(ctx context.Context, taskID string) (map[string]any, error) {
	return s.replay(ctx, taskID, (*verification.Session).Undo)
}

func (s *Service) Redo(ctx context.Context, taskID string) (map[string]any, error) {
	return s.replay(ctx, taskID, (*verification.Session).Redo)
}

func (s *Service) replay(ctx context.Context, taskID string, step func(*verification.Session) []verification.Event) (map[string]any, error) {
	lock := s.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := s.restore(ctx, taskID)
	if err != nil {
		return nil, err
	}
	events := step(sess)
	if events != nil {
		if err := s.sessions.Save(ctx, taskID, sess.Snapshot()); err != nil {
			return nil, fmt.Errorf("save session: %w", err)
		}
	}
	return sessionPayload(events, sess), nil
}

func (s *Service) ApplyUI(ctx context.Context, taskID string, action verification.UIAction) (map[string]any, error) {
	lock := s.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := s.restore(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := sess.ApplyUI(action); err != nil {
		if errors.Is(err, verification.ErrUnknownUIAction) {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), map[string]any{"type": action.Type})
		}
		return nil, err
	}
	if err := s.sessions.Save(ctx, taskID, sess.Snapshot()); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	return map[string]any{"session": sess.View()}, nil
}

// SaveTask rebuilds the payload from the session and persists it: a git
// commit first, then the task row, the save log and the search rows.
func (s *Service) SaveTask(ctx context.Context, taskID, taskAction string, actor Identity) (map[string]any, error) {
	taskAction = firstNonBlank(taskAction, "Save")

	lock := s.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	task, err := s.getTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	sess, err := s.restore(ctx, taskID)
	if err != nil {
		return nil, err
	}
	event := sess.PrepareUpdate(taskAction)
	if event.Type == verification.EventTaskPrepareUpdateError {
		return nil, domainError(http.StatusUnprocessableEntity, "TASK_DATA_NOT_FOUND", event.Error, nil)
	}
	result := *event.TaskData
	previous := currentPayload(task)

	commit, err := s.git.CommitResult(taskID, result, actor.UserName, fmt.Sprintf("%s by %s", taskAction, actor.UserName))
	if err != nil {
		return nil, fmt.Errorf("commit result: %w", err)
	}

	completing := strings.EqualFold(taskAction, TaskActionComplete)
	status := store.TaskStatusInReview
	if completing {
		status = store.TaskStatusCompleted
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.store.SaveTaskResult(gctx, store.SaveRecord{
			TaskID:     taskID,
			TaskAction: taskAction,
			Status:     status,
			Result:     result,
			CommitHash: commit.Hash,
			SavedBy:    actor.UserName,
		})
	})
	g.Go(func() error {
		return s.store.ReplaceTaskDocuments(gctx, taskID, indexedDocuments(taskID, result))
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("persist save: %w", err)
	}

	s.search.IndexTask(taskID, search.Records(taskID, result), removedDocumentIDs(gitrepo.DiffDocuments(previous, result)))

	if completing {
		if err := s.git.CreateTag(taskID, commit.Hash, "completed"); err != nil {
			s.log.Warn("tag completed result", zap.String("task_id", taskID), zap.Error(err))
		}
		if err := s.sessions.Delete(ctx, taskID); err != nil {
			s.log.Warn("drop completed session", zap.String("task_id", taskID), zap.Error(err))
		}
	}

	s.log.Info("task saved",
		zap.String("task_id", taskID),
		zap.String("task_action", taskAction),
		zap.String("status", status),
		zap.String("commit", commit.Hash),
		zap.String("classification_status", result.ClassificationStatus),
	)
	return map[string]any{
		"event":  event,
		"status": status,
		"commit": commitPayload(commit),
	}, nil
}

func (s *Service) Versions(ctx context.Context, taskID string, limit int) (map[string]any, error) {
	if _, err := s.getTask(ctx, taskID); err != nil {
		return nil, err
	}
	commits, err := s.git.History(taskID, limit)
	if err != nil {
		return nil, err
	}
	saves, err := s.store.ListTaskSaves(ctx, taskID, limit)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(commits))
	for _, commit := range commits {
		items = append(items, commitPayload(commit))
	}
	savePayload := make([]map[string]any, 0, len(saves))
	for _, save := range saves {
		savePayload = append(savePayload, map[string]any{
			"taskAction":           save.TaskAction,
			"classificationStatus": save.ClassificationStatus,
			"hasRejectedDocuments": save.HasRejected,
			"commitHash":           save.CommitHash,
			"savedBy":              save.SavedBy,
			"savedAt":              save.SavedAt.UTC().Format(time.RFC3339),
		})
	}
	return map[string]any{"commits": items, "saves": savePayload}, nil
}

// GetVersion returns a saved payload and how its documents differ from the
// ingested input.
func (s *Service) GetVersion(ctx context.Context, taskID, hash string) (map[string]any, error) {
	task, err := s.getTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	payload, err := s.git.GetResultByHash(taskID, hash)
	if err != nil {
		if errors.Is(err, gitrepo.ErrVersionNotFound) {
			return nil, domainError(http.StatusNotFound, "VERSION_NOT_FOUND", "Version not found", map[string]any{"hash": hash})
		}
		return nil, err
	}
	return map[string]any{
		"hash":     hash,
		"taskData": payload,
		"changes":  gitrepo.DiffDocuments(task.Input, payload),
	}, nil
}

// PageContent returns a short-lived link to the content file holding pageID.
func (s *Service) PageContent(ctx context.Context, taskID, pageID string) (map[string]any, error) {
	if s.content == nil {
		return nil, domainError(http.StatusServiceUnavailable, "CONTENT_UNAVAILABLE", "Page content storage is not configured", nil)
	}
	task, err := s.getTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	var fileIndex, pageIndex int
	if _, err := fmt.Sscanf(pageID, "%d_%d", &fileIndex, &pageIndex); err != nil || pageIndex < 0 {
		return nil, domainError(http.StatusNotFound, "PAGE_NOT_FOUND", "Page not found", map[string]any{"pageId": pageID})
	}
	refs := task.Input.ContentFileReferences
	if fileIndex < 0 || fileIndex >= len(refs) {
		return nil, domainError(http.StatusNotFound, "PAGE_NOT_FOUND", "Page not found", map[string]any{"pageId": pageID})
	}
	ref := refs[fileIndex]
	link, err := s.content.PresignPage(ctx, ref.FileReference, pageIndex)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"pageId":      pageID,
		"url":         link,
		"contentType": ref.ContentType,
	}, nil
}

// ExportReport renders a verification report. An empty version uses the last
// saved result, or the ingested input when nothing was saved yet.
func (s *Service) ExportReport(ctx context.Context, taskID, version, rawFormat string) (*export.Result, error) {
	format, err := export.ParseFormat(rawFormat)
	if err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "format must be 'pdf', 'docx' or 'html'", map[string]any{"format": rawFormat})
	}
	task, err := s.getTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	report := export.Report{TaskID: task.ID, Name: task.Name, Status: task.Status, Data: task.Input}
	switch {
	case version != "":
		data, err := s.git.GetResultByHash(taskID, version)
		if err != nil {
			if errors.Is(err, gitrepo.ErrVersionNotFound) {
				return nil, domainError(http.StatusNotFound, "VERSION_NOT_FOUND", "Version not found", map[string]any{"hash": version})
			}
			return nil, err
		}
		report.Data = data
		report.Version = version
	case task.Result != nil:
		report.Data = *task.Result
		report.Version = task.ResultHash
		report.SavedBy = task.UpdatedBy
		report.SavedAt = task.UpdatedAt
	}

	result, err := s.reports.Export(ctx, report, format)
	if errors.Is(err, export.ErrPDFDependencyMissing) || errors.Is(err, export.ErrDOCXDependencyMissing) {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export format is not available on this server", map[string]any{"format": format})
	}
	if err != nil {
		return nil, err
	}
	s.log.Info("report exported", zap.String("task_id", taskID), zap.String("format", string(format)), zap.String("version", report.Version))
	return result, nil
}

func (s *Service) Search(q search.Query) search.Response {
	return s.search.Search(q)
}

func (s *Service) getTask(ctx context.Context, taskID string) (store.Task, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Task{}, domainError(http.StatusNotFound, "TASK_NOT_FOUND", "Task not found", map[string]any{"taskId": taskID})
	}
	return task, err
}

func (s *Service) newSession() *verification.Session {
	return verification.New(
		verification.WithLogger(s.log),
		verification.WithEngine(s.engine),
		verification.WithHistoryLimit(s.cfg.HistoryLimit),
	)
}

func (s *Service) restore(ctx context.Context, taskID string) (*verification.Session, error) {
	snap, err := s.sessions.Load(ctx, taskID)
	if errors.Is(err, session.ErrNotFound) {
		return nil, domainError(http.StatusNotFound, "SESSION_NOT_FOUND", "No open verification session for task", map[string]any{"taskId": taskID})
	}
	if err != nil {
		return nil, err
	}
	sess := s.newSession()
	sess.Restore(snap)
	return sess, nil
}

func (s *Service) taskLock(taskID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	if s.locks == nil {
		s.locks = make(map[string]*sync.Mutex)
	}
	lock, ok := s.locks[taskID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[taskID] = lock
	}
	return lock
}

// currentPayload is the last saved result, or the input if nothing was saved.
func currentPayload(task store.Task) taskdata.TaskData {
	if task.Result != nil {
		return *task.Result
	}
	return task.Input
}

func sessionPayload(events []verification.Event, sess *verification.Session) map[string]any {
	if events == nil {
		events = []verification.Event{}
	}
	return map[string]any{"events": events, "session": sess.View()}
}

func commitPayload(commit store.CommitInfo) map[string]any {
	return map[string]any{
		"hash":      commit.Hash,
		"message":   commit.Message,
		"author":    commit.Author,
		"createdAt": commit.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func indexedDocuments(taskID string, data taskdata.TaskData) []store.IndexedDocument {
	reasons := make(map[string]string, len(data.RejectReasons))
	for _, reason := range data.RejectReasons {
		reasons[reason.ID] = reason.Name
	}
	records := search.Records(taskID, data)
	docs := make([]store.IndexedDocument, 0, len(records))
	for i, record := range records {
		docs = append(docs, store.IndexedDocument{
			TaskID:       taskID,
			DocumentID:   record.DocumentID,
			Name:         record.Name,
			ClassID:      record.ClassID,
			ClassName:    record.ClassName,
			Status:       record.Status,
			Rejected:     record.Rejected,
			Deleted:      record.Deleted,
			PageCount:    record.PageCount,
			RejectReason: reasons[data.Documents[i].RejectedReasonID],
			RejectNote:   record.RejectNote,
		})
	}
	return docs
}

func removedDocumentIDs(changes []gitrepo.DocumentChange) []string {
	removed := make([]string, 0)
	for _, change := range changes {
		if change.Kind == gitrepo.ChangeRemoved {
			removed = append(removed, change.DocumentID)
		}
	}
	return removed
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
