package storage

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"singleschedule/internal/task"
)

// validateSet checks the invariants every persisted task set must hold.
func validateSet(tasks []task.Task, validate func(task.Task) error) error {
	if err := task.CheckUnique(tasks); err != nil {
		return err
	}
	for _, t := range tasks {
		if strings.TrimSpace(t.Slug) == "" {
			return errors.New("task with empty slug")
		}
		if t.Command.IsZero() {
			return fmt.Errorf("task %q: empty command", t.Slug)
		}
		if validate != nil {
			if err := validate(t); err != nil {
				return fmt.Errorf("task %q: %w", t.Slug, err)
			}
		}
	}
	return nil
}

// checkLoaded validates a set read from disk. Any violation means the
// store is corrupt, so the cause is flattened into the Corrupt error.
func checkLoaded(path string, tasks []task.Task, validate func(task.Task) error) error {
	if err := validateSet(tasks, validate); err != nil {
		return task.CorruptError(path, fmt.Errorf("invalid task set: %v", err))
	}
	return nil
}

func cloneAll(tasks []task.Task) []task.Task {
	out := make([]task.Task, len(tasks))
	for i := range tasks {
		out[i] = tasks[i].Clone()
	}
	return out
}

func sameTasks(a, b []task.Task) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !reflect.DeepEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}
