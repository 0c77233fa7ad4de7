package store

import (
	"fmt"
	"sync"

	"github.com/kindlyrobotics/iplchat/internal/models"
)

// writeQueue is the in-memory FIFO enqueue_message appends to; flush
// drains it to durable storage in order (spec §4.5).
type writeQueue struct {
	mu    sync.Mutex
	items []*models.Message
}

func newWriteQueue(capacityHint int) *writeQueue {
	return &writeQueue{items: make([]*models.Message, 0, capacityHint)}
}

func (q *writeQueue) enqueue(msg *models.Message) {
	q.mu.Lock()
	q.items = append(q.items, msg)
	q.mu.Unlock()
}

// drain removes and returns every queued message, in enqueue order.
func (q *writeQueue) drain() []*models.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = make([]*models.Message, 0, cap(items))
	return items
}

func kindToColumn(k models.Kind) string {
	if k == models.KindFile {
		return "file"
	}
	return "text"
}

// EnqueueMessage appends msg to the write queue. It is not visible to
// readers of the messages table until the next Flush.
func (e *Engine) EnqueueMessage(msg *models.Message) {
	e.queue.enqueue(msg)
}

// Flush drains the write queue and inserts every message into the
// messages table in a single transaction, preserving enqueue order (spec
// §4.5, §9 — the source left WriteMessage empty; this completes it).
func (e *Engine) Flush() error {
	pending := e.queue.drain()
	if len(pending) == 0 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	tx, err := e.db.Begin()
	if err != nil {
		return fmt.Errorf("store: flush begin: %w", err)
	}

	stmt, err := tx.Prepare(
		`INSERT INTO messages (kind, sender, channel, content) VALUES (?, ?, ?, ?)`,
	)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("store: flush prepare: %w", err)
	}
	defer stmt.Close()

	for _, msg := range pending {
		if _, err := stmt.Exec(kindToColumn(msg.Kind), msg.SenderUUID, msg.ChannelUUID, msg.Ciphertext); err != nil {
			tx.Rollback()
			return fmt.Errorf("store: flush insert: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: flush commit: %w", err)
	}
	return nil
}

// PendingMessageCount reports how many messages are queued but not yet
// flushed, used by the admin console's `log`/diagnostic output.
func (e *Engine) PendingMessageCount() int {
	e.queue.mu.Lock()
	defer e.queue.mu.Unlock()
	return len(e.queue.items)
}
