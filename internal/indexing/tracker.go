// Package indexing runs the codebase indexing pipeline: discovery, change
// detection, chunking, embedding and vector/lexical writes, reported through
// an operation tracker and the event bus.
package indexing

import (
	"sort"
	"sync"
	"time"

	"github.com/Aman-CERP/amanctx/internal/domain"
	"github.com/Aman-CERP/amanctx/internal/ids"
	"github.com/Aman-CERP/amanctx/internal/ports"
)

// Tracker is the in-memory operation tracker. Each operation has a single
// writer, the pipeline that started it; readers get copies.
type Tracker struct {
	mu  sync.RWMutex
	ops map[string]*domain.IndexingOperation
	now func() time.Time
}

var _ ports.OperationTracker = (*Tracker)(nil)

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{ops: make(map[string]*domain.IndexingOperation), now: time.Now}
}

// StartOperation registers an operation in the Starting state.
func (t *Tracker) StartOperation(collection ids.CollectionID, name string, totalFiles int) string {
	op := &domain.IndexingOperation{
		ID:             ids.New(),
		Collection:     collection,
		CollectionName: name,
		Status:         domain.StatusStarting,
		TotalFiles:     totalFiles,
		StartedAt:      t.now().UTC(),
	}
	t.mu.Lock()
	t.ops[op.ID] = op
	t.mu.Unlock()
	return op.ID
}

// UpdateProgress records progress and moves a Starting operation to
// InProgress. Terminal operations are left untouched, as are unknown ids.
func (t *Tracker) UpdateProgress(id, currentFile string, processed int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	op, ok := t.ops[id]
	if !ok || op.Status.Terminal() {
		return
	}
	op.Status = domain.StatusInProgress
	if currentFile != "" {
		op.CurrentFile = currentFile
	}
	if processed > op.ProcessedFiles {
		op.ProcessedFiles = processed
	}
}

// SetStatus transitions an operation. Once terminal, an operation's fields
// are frozen.
func (t *Tracker) SetStatus(id string, status domain.OperationStatus, errs []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	op, ok := t.ops[id]
	if !ok || op.Status.Terminal() {
		return
	}
	op.Status = status
	if len(errs) > 0 {
		op.Errors = append(op.Errors[:len(op.Errors):len(op.Errors)], errs...)
	}
	if status.Terminal() {
		op.CurrentFile = ""
	}
}

// Fail marks the operation failed with msg appended to its errors.
func (t *Tracker) Fail(id, msg string) {
	t.SetStatus(id, domain.StatusFailed, []string{msg})
}

// Complete marks the operation completed.
func (t *Tracker) Complete(id string) {
	t.SetStatus(id, domain.StatusCompleted, nil)
}

// Get returns a copy of the operation.
func (t *Tracker) Get(id string) (domain.IndexingOperation, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	op, ok := t.ops[id]
	if !ok {
		return domain.IndexingOperation{}, false
	}
	return clone(op), true
}

// Active returns the non-terminal operations, oldest first.
func (t *Tracker) Active() []domain.IndexingOperation {
	t.mu.RLock()
	out := make([]domain.IndexingOperation, 0, len(t.ops))
	for _, op := range t.ops {
		if !op.Status.Terminal() {
			out = append(out, clone(op))
		}
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// CompleteOperation forgets the operation.
func (t *Tracker) CompleteOperation(id string) {
	t.mu.Lock()
	delete(t.ops, id)
	t.mu.Unlock()
}

func clone(op *domain.IndexingOperation) domain.IndexingOperation {
	c := *op
	c.Errors = append([]string(nil), op.Errors...)
	return c
}
