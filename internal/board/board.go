// Package board holds the kanban view of tracked applications: five fixed
// columns, optimistic cross-column moves reconciled against the Jobs API,
// and purely local same-column reorders.
package board

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/lei/simple-apply/internal/models"
	"github.com/lei/simple-apply/pkg/logger"
)

var (
	// ErrCardNotFound indicates the card id is not on the board
	ErrCardNotFound = errors.New("card not found")

	// ErrCardBusy indicates a status update for this card is still in
	// flight; a second write for the same card is rejected, never queued
	ErrCardBusy = errors.New("card update in flight")

	// ErrInvalidTarget indicates the drop target is not a valid column
	ErrInvalidTarget = errors.New("invalid move target")
)

// StatusUpdater is the slice of the Jobs API the board needs.
// *remote.Jobs satisfies it.
type StatusUpdater interface {
	UpdateStatus(ctx context.Context, id string, status models.ApplicationStatus) error
}

// Toast is a user-facing error notification emitted on failed moves
type Toast struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// Target is a resolved drag-end destination: either a column, or a sibling
// card whose column and position the dragged card should take.
type Target struct {
	Column models.ApplicationStatus // set when dropped on a column
	Before string                   // set when dropped on a sibling card id
}

// ColumnTarget targets the end of a column
func ColumnTarget(col models.ApplicationStatus) Target {
	return Target{Column: col}
}

// CardTarget targets the position of a sibling card
func CardTarget(siblingID string) Target {
	return Target{Before: siblingID}
}

// Board is the local mirror of the pipeline. Every card belongs to exactly
// one column at any instant, including while a move is in flight.
type Board struct {
	jobs   StatusUpdater
	log    *logger.Logger
	notify func(Toast)

	mu       sync.Mutex
	columns  map[models.ApplicationStatus][]models.JobApplication
	inflight map[string]struct{}
}

// New creates a board backed by the given status updater. notify receives
// error toasts on failed moves; it may be nil.
func New(jobs StatusUpdater, log *logger.Logger, notify func(Toast)) *Board {
	cols := make(map[models.ApplicationStatus][]models.JobApplication, 5)
	for _, s := range models.Columns() {
		cols[s] = nil
	}
	return &Board{
		jobs:     jobs,
		log:      log,
		notify:   notify,
		columns:  cols,
		inflight: make(map[string]struct{}),
	}
}

// Load replaces the board contents from a fresh server listing
func (b *Board) Load(cards []models.JobApplication) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, s := range models.Columns() {
		b.columns[s] = nil
	}
	for _, c := range cards {
		status := c.Status
		if !status.Valid() {
			status = models.StatusSaved
			c.Status = status
		}
		b.columns[status] = append(b.columns[status], c)
	}
}

// Columns returns a copy of the board, keyed by column in display order
func (b *Board) Columns() map[models.ApplicationStatus][]models.JobApplication {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[models.ApplicationStatus][]models.JobApplication, len(b.columns))
	for _, s := range models.Columns() {
		out[s] = append([]models.JobApplication(nil), b.columns[s]...)
	}
	return out
}

// Move resolves a drag-end. Same-column targets are a pure local reorder;
// cross-column targets apply optimistically, issue the remote status update,
// and roll the card back to its previous column and index on failure.
func (b *Board) Move(ctx context.Context, cardID string, target Target) error {
	destCol, destIdx, err := b.resolveTarget(cardID, target)
	if err != nil {
		return err
	}

	b.mu.Lock()
	srcCol, srcIdx, found := b.locateLocked(cardID)
	if !found {
		b.mu.Unlock()
		return fmt.Errorf("move card %s: %w", cardID, ErrCardNotFound)
	}

	if srcCol == destCol {
		b.reorderLocked(srcCol, srcIdx, destIdx)
		b.mu.Unlock()
		b.log.Debug("board: local reorder", "card_id", cardID, "column", srcCol)
		return nil
	}

	if _, busy := b.inflight[cardID]; busy {
		b.mu.Unlock()
		return fmt.Errorf("move card %s: %w", cardID, ErrCardBusy)
	}
	b.inflight[cardID] = struct{}{}

	// Optimistic apply: the card renders in the new column immediately
	card := b.removeLocked(srcCol, srcIdx)
	card.Status = destCol
	b.insertLocked(destCol, destIdx, card)
	b.mu.Unlock()

	b.log.Debug("board: optimistic move",
		"card_id", cardID, "from", srcCol, "to", destCol)

	err = b.jobs.UpdateStatus(ctx, cardID, destCol)

	b.mu.Lock()
	delete(b.inflight, cardID)
	if err != nil {
		// Revert atomically with respect to readers: the card reappears
		// at its old column and index in the same critical section
		if col, idx, ok := b.locateLocked(cardID); ok {
			reverted := b.removeLocked(col, idx)
			reverted.Status = srcCol
			b.insertLocked(srcCol, srcIdx, reverted)
		}
		b.mu.Unlock()

		b.log.Warn("board: move failed, rolled back",
			"card_id", cardID, "from", srcCol, "to", destCol, "error", err)
		b.toast(fmt.Sprintf("Could not move %q to %s", card.Title, destCol))
		return fmt.Errorf("move card %s: %w", cardID, err)
	}
	b.mu.Unlock()

	b.log.Info("board: card moved",
		"card_id", cardID, "from", srcCol, "to", destCol)
	return nil
}

// Reorder moves a card before a sibling within its own column. Ordering is
// session-local and never persisted remotely.
func (b *Board) Reorder(cardID, beforeID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	srcCol, srcIdx, found := b.locateLocked(cardID)
	if !found {
		return fmt.Errorf("reorder card %s: %w", cardID, ErrCardNotFound)
	}
	destCol, destIdx, found := b.locateLocked(beforeID)
	if !found || destCol != srcCol {
		return fmt.Errorf("reorder card %s before %s: %w", cardID, beforeID, ErrInvalidTarget)
	}

	b.reorderLocked(srcCol, srcIdx, destIdx)
	return nil
}

// resolveTarget turns a drag target into a concrete column and index
func (b *Board) resolveTarget(cardID string, target Target) (models.ApplicationStatus, int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if target.Before != "" {
		col, idx, found := b.locateLocked(target.Before)
		if !found {
			return "", 0, fmt.Errorf("resolve target %s: %w", target.Before, ErrCardNotFound)
		}
		return col, idx, nil
	}

	if !target.Column.Valid() {
		return "", 0, fmt.Errorf("resolve target %q: %w", target.Column, ErrInvalidTarget)
	}
	// Dropping on a column lands at its end; exclude the card itself when
	// it is already there so the index stays in range
	n := len(b.columns[target.Column])
	if col, _, found := b.locateLocked(cardID); found && col == target.Column {
		n--
	}
	return target.Column, n, nil
}

// locateLocked finds a card's column and index; callers hold b.mu
func (b *Board) locateLocked(cardID string) (models.ApplicationStatus, int, bool) {
	for _, s := range models.Columns() {
		for i, c := range b.columns[s] {
			if c.ID == cardID {
				return s, i, true
			}
		}
	}
	return "", 0, false
}

// removeLocked removes and returns the card at col[idx]; callers hold b.mu
func (b *Board) removeLocked(col models.ApplicationStatus, idx int) models.JobApplication {
	cards := b.columns[col]
	card := cards[idx]
	b.columns[col] = append(cards[:idx], cards[idx+1:]...)
	return card
}

// insertLocked inserts the card at col[idx]; callers hold b.mu
func (b *Board) insertLocked(col models.ApplicationStatus, idx int, card models.JobApplication) {
	cards := b.columns[col]
	if idx < 0 {
		idx = 0
	}
	if idx > len(cards) {
		idx = len(cards)
	}
	cards = append(cards, models.JobApplication{})
	copy(cards[idx+1:], cards[idx:])
	cards[idx] = card
	b.columns[col] = cards
}

// reorderLocked splices a card to a new index in the same column
func (b *Board) reorderLocked(col models.ApplicationStatus, from, to int) {
	if from == to {
		return
	}
	card := b.removeLocked(col, from)
	if to > len(b.columns[col]) {
		to = len(b.columns[col])
	}
	b.insertLocked(col, to, card)
}

// toast emits a user-facing error notification
func (b *Board) toast(message string) {
	if b.notify == nil {
		return
	}
	b.notify(Toast{ID: uuid.NewString(), Message: message})
}
