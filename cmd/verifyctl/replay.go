package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"classverify/internal/editops"
	"classverify/internal/logger"
	"classverify/internal/taskdata"
	"classverify/internal/verification"
)

const lockTimeout = 5 * time.Second

// step is one line of an intent script. Undo and redo steps carry no intent.
type step struct {
	editops.Intent `yaml:",inline"`
	Undo           bool `yaml:"undo,omitempty"`
	Redo           bool `yaml:"redo,omitempty"`
}

type script struct {
	TaskAction   string `yaml:"taskAction"`
	HistoryLimit int    `yaml:"historyLimit"`
	Steps        []step `yaml:"steps"`
}

func newReplayCmd(root *rootOptions) *cobra.Command {
	var (
		taskPath   string
		scriptPath string
		write      bool
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Run an intent script against a task file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if taskPath == "" || scriptPath == "" {
				return errors.New("--task and --script are required")
			}
			return runReplay(cmd.Context(), cmd.OutOrStdout(), taskPath, scriptPath, write)
		},
	}
	cmd.Flags().StringVar(&taskPath, "task", "", "Task file (JSON: id, data, context)")
	cmd.Flags().StringVar(&scriptPath, "script", "", "Intent script (YAML)")
	cmd.Flags().BoolVar(&write, "write", false, "Write the saved payload back into the task file")
	return cmd
}

func runReplay(ctx context.Context, out io.Writer, taskPath, scriptPath string, write bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	lock := flock.New(taskPath + ".lock")
	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()
	locked, err := lock.TryLockContext(lockCtx, 50*time.Millisecond)
	if err != nil || !locked {
		return fmt.Errorf("task file %s is locked by another process", taskPath)
	}
	defer lock.Unlock()

	task, err := readTask(taskPath)
	if err != nil {
		return err
	}
	sc, err := readScript(scriptPath)
	if err != nil {
		return err
	}

	sess := verification.New(
		verification.WithLogger(logger.Get()),
		verification.WithHistoryLimit(sc.HistoryLimit),
	)
	printEvents(out, sess.Load(task))
	for i, st := range sc.Steps {
		switch {
		case st.Undo:
			printEvents(out, sess.Undo())
		case st.Redo:
			printEvents(out, sess.Redo())
		default:
			events, err := sess.Dispatch(st.Intent)
			if err != nil {
				return fmt.Errorf("step %d (%s): %w", i+1, st.Action, err)
			}
			printEvents(out, events)
		}
	}

	taskAction := sc.TaskAction
	if taskAction == "" {
		taskAction = "Save"
	}
	event := sess.PrepareUpdate(taskAction)
	if event.Type == verification.EventTaskPrepareUpdateError {
		return errors.New(event.Error)
	}
	if write {
		task.Data = *event.TaskData
		if err := writeTask(taskPath, task); err != nil {
			return err
		}
		fmt.Fprintf(out, "wrote %s (%s)\n", taskPath, task.Data.ClassificationStatus)
		return nil
	}
	encoded, err := json.MarshalIndent(event.TaskData, "", "  ")
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	fmt.Fprintln(out, string(encoded))
	return nil
}

func printEvents(out io.Writer, events []verification.Event) {
	for _, event := range events {
		switch event.Type {
		case verification.EventNotificationShow:
			args := ""
			if len(event.Notification.MessageArgs) > 0 {
				raw, _ := json.Marshal(event.Notification.MessageArgs)
				args = " " + string(raw)
			}
			fmt.Fprintf(out, "[%s] %s%s\n", event.Notification.Severity, event.Notification.Message, args)
		case verification.EventCreateDocuments:
			fmt.Fprintf(out, "loaded %d documents\n", event.Documents)
		case verification.EventUndo, verification.EventRedo:
			fmt.Fprintf(out, "%s: %d updates\n", event.Type, len(event.Updates))
		}
	}
}

func readTask(path string) (verification.Task, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return verification.Task{}, fmt.Errorf("read task file: %w", err)
	}
	var task verification.Task
	if err := json.Unmarshal(raw, &task); err != nil {
		return verification.Task{}, fmt.Errorf("decode task file: %w", err)
	}
	if err := taskdata.Validate(task.Data); err != nil {
		return verification.Task{}, fmt.Errorf("invalid task file: %w", err)
	}
	return task, nil
}

func readScript(path string) (script, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return script{}, fmt.Errorf("read script: %w", err)
	}
	var sc script
	if err := yaml.Unmarshal(raw, &sc); err != nil {
		return script{}, fmt.Errorf("decode script: %w", err)
	}
	return sc, nil
}

// writeTask replaces the task file through a temp file in the same
// directory.
func writeTask(path string, task verification.Task) error {
	encoded, err := json.MarshalIndent(task, "", "  ")
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".task-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(encoded, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace task file: %w", err)
	}
	return nil
}
