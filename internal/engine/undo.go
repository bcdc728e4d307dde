package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/smarttodo/tasksync/internal/schema"
)

// ErrNothingToUndo is returned by Undo when the history is empty.
var ErrNothingToUndo = errors.New("nothing to undo")

// UndoKind names the task mutation an UndoAction reverses.
type UndoKind string

const (
	UndoAdd    UndoKind = "add"
	UndoUpdate UndoKind = "update"
	UndoDelete UndoKind = "delete"
)

// UndoAction is one reversible task mutation. Task is the task as added,
// or as it was before an update or delete.
type UndoAction struct {
	Kind UndoKind     `json:"kind"`
	Task *schema.Task `json:"task"`
}

func (a UndoAction) validate() error {
	switch a.Kind {
	case UndoAdd, UndoUpdate, UndoDelete:
	default:
		return fmt.Errorf("unknown undo kind %q", a.Kind)
	}
	if a.Task == nil || a.Task.ID == "" {
		return fmt.Errorf("undo %s has no task", a.Kind)
	}
	return nil
}

// pushUndo records a mutation, dropping the oldest beyond UndoSteps.
// Callers hold e.mu.
func (e *Engine) pushUndo(a UndoAction) {
	if e.cfg.UndoSteps <= 0 {
		return
	}
	e.undo = append(e.undo, a)
	if n := len(e.undo) - e.cfg.UndoSteps; n > 0 {
		e.undo = append([]UndoAction(nil), e.undo[n:]...)
	}
}

// Undo reverses the most recent task mutation: an add is deleted, an
// update is rolled back to the previous values and a delete is re-added.
// The reversal is queued like any other change and is not itself undoable.
func (e *Engine) Undo(ctx context.Context) (UndoAction, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return UndoAction{}, ErrClosed
	}
	n := len(e.undo)
	if n == 0 {
		e.mu.Unlock()
		return UndoAction{}, ErrNothingToUndo
	}
	a := e.undo[n-1]
	e.undo = e.undo[:n-1]
	e.mu.Unlock()

	var err error
	switch a.Kind {
	case UndoAdd:
		err = e.deleteTask(ctx, a.Task.ID, false)
	case UndoUpdate:
		_, err = e.updateTask(ctx, a.Task.ID, schema.RestorePatch(a.Task), false)
	case UndoDelete:
		_, err = e.addTask(ctx, *a.Task, true)
	}
	if err != nil {
		return a, fmt.Errorf("failed to undo %s of task %s: %w", a.Kind, a.Task.ID, err)
	}
	return a, nil
}

// UndoHistory returns the recorded mutations, oldest first.
func (e *Engine) UndoHistory() []UndoAction {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]UndoAction, len(e.undo))
	for i, a := range e.undo {
		out[i] = UndoAction{Kind: a.Kind, Task: a.Task.Clone()}
	}
	return out
}

// RestoreUndo replaces the history with actions, keeping the newest
// UndoSteps of them. It lets a short-lived process carry the history
// between runs.
func (e *Engine) RestoreUndo(actions []UndoAction) error {
	for _, a := range actions {
		if err := a.validate(); err != nil {
			return err
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.undo = nil
	for _, a := range actions {
		e.pushUndo(UndoAction{Kind: a.Kind, Task: a.Task.Clone()})
	}
	return nil
}
