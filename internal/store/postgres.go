package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"classverify/internal/taskdata"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrTaskExists = errors.New("task already exists")
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) InsertTask(ctx context.Context, task Task) error {
	input, err := json.Marshal(task.Input)
	if err != nil {
		return fmt.Errorf("marshal task input: %w", err)
	}
	taskContext := task.Context
	if taskContext == nil {
		taskContext = map[string]any{}
	}
	encodedContext, err := json.Marshal(taskContext)
	if err != nil {
		return fmt.Errorf("marshal task context: %w", err)
	}
	status := task.Status
	if status == "" {
		status = TaskStatusPending
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, name, status, input, context, document_count, created_by, updated_by)
		VALUES ($1, $2, $3, $4::jsonb, $5::jsonb, $6, $7, $7)
		ON CONFLICT (id) DO NOTHING
	`, task.ID, task.Name, status, string(input), string(encodedContext), len(task.Input.Documents), task.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrTaskExists
	}
	return nil
}

func (s *PostgresStore) GetTask(ctx context.Context, taskID string) (Task, error) {
	var (
		task       Task
		inputRaw   []byte
		resultRaw  []byte
		contextRaw []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, status, input, result, context, classification_status, has_rejected,
			result_hash, created_by, updated_by, created_at, updated_at
		FROM tasks
		WHERE id=$1
	`, taskID).Scan(
		&task.ID,
		&task.Name,
		&task.Status,
		&inputRaw,
		&resultRaw,
		&contextRaw,
		&task.ClassificationStatus,
		&task.HasRejected,
		&task.ResultHash,
		&task.CreatedBy,
		&task.UpdatedBy,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, ErrNotFound
	}
	if err != nil {
		return Task{}, fmt.Errorf("get task: %w", err)
	}

	if err := json.Unmarshal(inputRaw, &task.Input); err != nil {
		return Task{}, fmt.Errorf("decode task input: %w", err)
	}
	if len(resultRaw) > 0 {
		var result taskdata.TaskData
		if err := json.Unmarshal(resultRaw, &result); err != nil {
			return Task{}, fmt.Errorf("decode task result: %w", err)
		}
		task.Result = &result
	}
	_ = json.Unmarshal(contextRaw, &task.Context)
	return task, nil
}

func (s *PostgresStore) ListTasks(ctx context.Context, status string, limit int) ([]TaskSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, status, document_count, classification_status, has_rejected, updated_by, updated_at
		FROM tasks
		WHERE ($1='' OR status=$1)
		ORDER BY updated_at DESC
		LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	items := make([]TaskSummary, 0)
	for rows.Next() {
		var item TaskSummary
		if err := rows.Scan(
			&item.ID,
			&item.Name,
			&item.Status,
			&item.DocumentCount,
			&item.ClassificationStatus,
			&item.HasRejected,
			&item.UpdatedBy,
			&item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateTaskStatus(ctx context.Context, taskID, status, updatedBy string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status=$2, updated_by=$3, updated_at=NOW() WHERE id=$1
	`, taskID, status, updatedBy)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveTaskResult stores the saved payload on the task and appends a row to
// the save log in one transaction.
func (s *PostgresStore) SaveTaskResult(ctx context.Context, record SaveRecord) error {
	result, err := json.Marshal(record.Result)
	if err != nil {
		return fmt.Errorf("marshal task result: %w", err)
	}
	status := record.Status
	if status == "" {
		status = TaskStatusInReview
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE tasks
		SET result=$2::jsonb, status=$3, classification_status=$4, has_rejected=$5,
			result_hash=$6, document_count=$7, updated_by=$8, updated_at=NOW()
		WHERE id=$1
	`, record.TaskID, string(result), status, record.Result.ClassificationStatus, record.Result.HasRejectedDocuments,
		record.CommitHash, len(record.Result.Documents), record.SavedBy)
	if err != nil {
		return fmt.Errorf("update task result: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO task_saves (task_id, task_action, classification_status, has_rejected, commit_hash, saved_by)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, record.TaskID, record.TaskAction, record.Result.ClassificationStatus, record.Result.HasRejectedDocuments,
		record.CommitHash, record.SavedBy); err != nil {
		return fmt.Errorf("insert task save: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListTaskSaves(ctx context.Context, taskID string, limit int) ([]TaskSave, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, task_action, classification_status, has_rejected, commit_hash, saved_by, saved_at
		FROM task_saves
		WHERE task_id=$1
		ORDER BY saved_at DESC, id DESC
		LIMIT $2
	`, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("list task saves: %w", err)
	}
	defer rows.Close()

	items := make([]TaskSave, 0)
	for rows.Next() {
		var item TaskSave
		if err := rows.Scan(
			&item.ID,
			&item.TaskID,
			&item.TaskAction,
			&item.ClassificationStatus,
			&item.HasRejected,
			&item.CommitHash,
			&item.SavedBy,
			&item.SavedAt,
		); err != nil {
			return nil, fmt.Errorf("scan task save: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task saves: %w", err)
	}
	return items, nil
}

// ReplaceTaskDocuments swaps the searchable rows of a task for docs.
func (s *PostgresStore) ReplaceTaskDocuments(ctx context.Context, taskID string, docs []IndexedDocument) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin index tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM task_documents WHERE task_id=$1`, taskID); err != nil {
		return fmt.Errorf("clear task documents: %w", err)
	}
	for _, doc := range docs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO task_documents (task_id, document_id, name, class_id, class_name, status, rejected, deleted, page_count, reject_reason, reject_note)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, taskID, doc.DocumentID, doc.Name, doc.ClassID, doc.ClassName, doc.Status, doc.Rejected, doc.Deleted,
			doc.PageCount, doc.RejectReason, doc.RejectNote); err != nil {
			return fmt.Errorf("insert task document %s: %w", doc.DocumentID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit index tx: %w", err)
	}
	return nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
