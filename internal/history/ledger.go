// Package history keeps the undo and redo stacks for a verification session.
package history

import "classverify/internal/docstate"

// ActionInstance is one user-visible edit expressed as the operations that
// replay it.
type ActionInstance struct {
	Operations []docstate.StateUpdate `json:"operations"`
}

// Ledger holds two stacks of action instances. Each entry is stored as the
// operations to apply, and its opposite entry is recomputed against the
// state current at replay time.
type Ledger struct {
	undoStack []ActionInstance
	redoStack []ActionInstance
	limit     int
}

// New returns a ledger that keeps at most limit entries per stack. A limit
// of zero or less means unbounded.
func New(limit int) *Ledger {
	return &Ledger{limit: limit}
}

func (l *Ledger) CanUndo() bool { return len(l.undoStack) > 0 }
func (l *Ledger) CanRedo() bool { return len(l.redoStack) > 0 }
func (l *Ledger) UndoSize() int { return len(l.undoStack) }
func (l *Ledger) RedoSize() int { return len(l.redoStack) }

// Record pushes the inverse of updates, computed against state before they
// are applied, and clears the redo stack.
func (l *Ledger) Record(state docstate.Reader, updates []docstate.StateUpdate) {
	if len(updates) == 0 {
		return
	}
	l.undoStack = l.push(l.undoStack, ActionInstance{
		Operations: docstate.GenerateReverseActions(state, updates),
	})
	l.redoStack = nil
}

// Undo pops the newest undo entry, pushes its inverse onto the redo stack
// and returns the operations to apply. ok is false when there is nothing to
// undo.
func (l *Ledger) Undo(state docstate.Reader) (ops []docstate.StateUpdate, ok bool) {
	var entry ActionInstance
	l.undoStack, entry, ok = pop(l.undoStack)
	if !ok {
		return nil, false
	}
	l.redoStack = l.push(l.redoStack, ActionInstance{
		Operations: docstate.GenerateReverseActions(state, entry.Operations),
	})
	return entry.Operations, true
}

// Redo is the mirror of Undo.
func (l *Ledger) Redo(state docstate.Reader) (ops []docstate.StateUpdate, ok bool) {
	var entry ActionInstance
	l.redoStack, entry, ok = pop(l.redoStack)
	if !ok {
		return nil, false
	}
	l.undoStack = l.push(l.undoStack, ActionInstance{
		Operations: docstate.GenerateReverseActions(state, entry.Operations),
	})
	return entry.Operations, true
}

func (l *Ledger) Clear() {
	l.undoStack = nil
	l.redoStack = nil
}

func (l *Ledger) push(stack []ActionInstance, entry ActionInstance) []ActionInstance {
	stack = append(stack, entry)
	if l.limit > 0 && len(stack) > l.limit {
		stack = stack[len(stack)-l.limit:]
	}
	return stack
}

func pop(stack []ActionInstance) ([]ActionInstance, ActionInstance, bool) {
	if len(stack) == 0 {
		return stack, ActionInstance{}, false
	}
	last := stack[len(stack)-1]
	return stack[:len(stack)-1], last, true
}

// Snapshot is the serialisable form of a Ledger.
type Snapshot struct {
	UndoStack []ActionInstance `json:"undoStack"`
	RedoStack []ActionInstance `json:"redoStack"`
	Limit     int              `json:"limit"`
}

func (l *Ledger) Snapshot() Snapshot {
	return Snapshot{
		UndoStack: append([]ActionInstance{}, l.undoStack...),
		RedoStack: append([]ActionInstance{}, l.redoStack...),
		Limit:     l.limit,
	}
}

func Restore(snapshot Snapshot) *Ledger {
	return &Ledger{
		undoStack: append([]ActionInstance(nil), snapshot.UndoStack...),
		redoStack: append([]ActionInstance(nil), snapshot.RedoStack...),
		limit:     snapshot.Limit,
	}
}
