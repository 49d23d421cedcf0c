package gitrepo

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"classverify/internal/store"
	"classverify/internal/taskdata"
)

const payloadFile = "task.json"

var (
	ErrRepoNotFound    = errors.New("task repository not found")
	ErrVersionNotFound = errors.New("version not found")
)

// Service keeps one git repository per task. Every save of the task payload
// is a commit on main.
type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// EnsureTaskRepo creates the repository with initial as its baseline
// commit. It is a no-op when the repository already exists.
func (s *Service) EnsureTaskRepo(taskID string, initial taskdata.TaskData, author string) error {
	lock := s.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	path := s.repoPath(taskID)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat repo path: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create repo dir: %w", err)
	}

	repo, err := git.PlainInit(path, false)
	if err != nil {
		return fmt.Errorf("init repo: %w", err)
	}
	hash, err := s.commit(repo, initial, author, "Import task baseline")
	if err != nil {
		return err
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName("main"), hash)); err != nil {
		return fmt.Errorf("set main branch ref: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return fmt.Errorf("set HEAD to main: %w", err)
	}
	return nil
}

// CommitResult records a saved payload. Saves with no changes still get a
// commit so each save has its own hash.
func (s *Service) CommitResult(taskID string, result taskdata.TaskData, author, message string) (store.CommitInfo, error) {
	lock := s.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(taskID)
	if err != nil {
		return store.CommitInfo{}, err
	}
	hash, err := s.commit(repo, result, author, message)
	if err != nil {
		return store.CommitInfo{}, err
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return store.CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj), nil
}

func (s *Service) GetHeadResult(taskID string) (taskdata.TaskData, store.CommitInfo, error) {
	lock := s.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(taskID)
	if err != nil {
		return taskdata.TaskData{}, store.CommitInfo{}, err
	}
	ref, err := repo.Reference(plumbing.NewBranchReferenceName("main"), true)
	if err != nil {
		return taskdata.TaskData{}, store.CommitInfo{}, fmt.Errorf("resolve main: %w", err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return taskdata.TaskData{}, store.CommitInfo{}, fmt.Errorf("load commit object: %w", err)
	}
	data, err := readPayloadFromCommit(commitObj)
	if err != nil {
		return taskdata.TaskData{}, store.CommitInfo{}, err
	}
	return data, toCommitInfo(commitObj), nil
}

func (s *Service) GetResultByHash(taskID, hash string) (taskdata.TaskData, error) {
	lock := s.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(taskID)
	if err != nil {
		return taskdata.TaskData{}, err
	}
	resolvedHash, err := resolveHash(repo, hash)
	if err != nil {
		return taskdata.TaskData{}, versionErr(hash, err)
	}
	commitObj, err := repo.CommitObject(resolvedHash)
	if err != nil {
		return taskdata.TaskData{}, versionErr(hash, err)
	}
	return readPayloadFromCommit(commitObj)
}

func (s *Service) History(taskID string, limit int) ([]store.CommitInfo, error) {
	lock := s.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(taskID)
	if err != nil {
		return nil, err
	}
	ref, err := repo.Reference(plumbing.NewBranchReferenceName("main"), true)
	if err != nil {
		return nil, fmt.Errorf("resolve main: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]store.CommitInfo, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommitInfo(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// CreateTag marks a commit, e.g. the save that completed the task.
func (s *Service) CreateTag(taskID, hash, name string) error {
	lock := s.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(taskID)
	if err != nil {
		return err
	}
	resolvedHash, err := resolveHash(repo, hash)
	if err != nil {
		return err
	}

	_, err = repo.CreateTag(name, resolvedHash, &git.CreateTagOptions{
		Tagger: &object.Signature{
			Name:  "classverify",
			Email: "classverify@localhost",
			When:  time.Now(),
		},
		Message: name,
	})
	if err != nil && !errors.Is(err, git.ErrTagExists) {
		return fmt.Errorf("create tag: %w", err)
	}
	return nil
}

func (s *Service) repoPath(taskID string) string {
	return filepath.Join(s.baseDir, taskID)
}

func (s *Service) open(taskID string) (*git.Repository, error) {
	repo, err := git.PlainOpen(s.repoPath(taskID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("%w: %s", ErrRepoNotFound, taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	return repo, nil
}

func (s *Service) taskLock(taskID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[taskID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[taskID] = lock
	return lock
}

func (s *Service) commit(repo *git.Repository, data taskdata.TaskData, author, message string) (plumbing.Hash, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("open worktree: %w", err)
	}

	payload, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("marshal payload: %w", err)
	}

	repoRoot := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(repoRoot, payloadFile), append(payload, '\n'), 0o644); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("write %s: %w", payloadFile, err)
	}
	if _, err := worktree.Add(payloadFile); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("git add payload: %w", err)
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@classverify.local", sanitizeEmail(author)),
			When:  time.Now(),
		},
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("commit payload: %w", err)
	}
	return hash, nil
}

func readPayloadFromCommit(commitObj *object.Commit) (taskdata.TaskData, error) {
	file, err := commitObj.File(payloadFile)
	if err != nil {
		return taskdata.TaskData{}, fmt.Errorf("load %s from commit: %w", payloadFile, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return taskdata.TaskData{}, fmt.Errorf("open payload reader: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return taskdata.TaskData{}, fmt.Errorf("read payload bytes: %w", err)
	}

	var data taskdata.TaskData
	if err := json.Unmarshal(raw, &data); err != nil {
		return taskdata.TaskData{}, fmt.Errorf("decode commit payload: %w", err)
	}
	return data, nil
}

const (
	ChangeAdded   = "added"
	ChangeRemoved = "removed"
	ChangeChanged = "changed"
)

// DocumentChange describes how one document differs between two saved
// payloads.
type DocumentChange struct {
	DocumentID string   `json:"documentId"`
	Kind       string   `json:"kind"`
	Fields     []string `json:"fields,omitempty"`
}

// DiffDocuments compares two payloads document by document. Documents are
// reported as added, removed or changed, sorted by id.
func DiffDocuments(from, to taskdata.TaskData) []DocumentChange {
	before := make(map[string]taskdata.Document, len(from.Documents))
	for _, doc := range from.Documents {
		before[doc.ID] = doc
	}
	after := make(map[string]taskdata.Document, len(to.Documents))
	for _, doc := range to.Documents {
		after[doc.ID] = doc
	}

	changes := make([]DocumentChange, 0)
	for id, doc := range after {
		prev, ok := before[id]
		if !ok {
			changes = append(changes, DocumentChange{DocumentID: id, Kind: ChangeAdded})
			continue
		}
		if fields := changedFields(prev, doc); len(fields) > 0 {
			changes = append(changes, DocumentChange{DocumentID: id, Kind: ChangeChanged, Fields: fields})
		}
	}
	for id := range before {
		if _, ok := after[id]; !ok {
			changes = append(changes, DocumentChange{DocumentID: id, Kind: ChangeRemoved})
		}
	}
	sort.Slice(changes, func(i, j int) bool {
		return changes[i].DocumentID < changes[j].DocumentID
	})
	return changes
}

func changedFields(from, to taskdata.Document) []string {
	fields := make([]string, 0)
	if from.Name != to.Name {
		fields = append(fields, "name")
	}
	if from.ClassID != to.ClassID {
		fields = append(fields, "classId")
	}
	if from.ClassificationReviewStatus != to.ClassificationReviewStatus {
		fields = append(fields, "classificationReviewStatus")
	}
	if from.MarkAsDeleted != to.MarkAsDeleted {
		fields = append(fields, "markAsDeleted")
	}
	if from.MarkAsResolved != to.MarkAsResolved {
		fields = append(fields, "markAsResolved")
	}
	if from.RejectedReasonID != to.RejectedReasonID || from.RejectNote != to.RejectNote {
		fields = append(fields, "rejection")
	}
	if !samePages(from.Pages, to.Pages) {
		fields = append(fields, "pages")
	}
	return fields
}

func samePages(a, b []taskdata.Page) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func toCommitInfo(commitObj *object.Commit) store.CommitInfo {
	return store.CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}

func versionErr(hash string, err error) error {
	if errors.Is(err, plumbing.ErrObjectNotFound) || errors.Is(err, plumbing.ErrReferenceNotFound) {
		return fmt.Errorf("%w: %s", ErrVersionNotFound, hash)
	}
	return fmt.Errorf("read commit %s: %w", hash, err)
}
