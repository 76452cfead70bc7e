package client

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type EntryState int

const (
	EntryConfirmed EntryState = iota
	EntryPending
	EntryFailed
)

func (s EntryState) String() string {
	switch s {
	case EntryConfirmed:
		return "confirmed"
	case EntryPending:
		return "pending"
	case EntryFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Entry is one line of a locally displayed transcript. Confirmed entries
// carry the server ID. Pending and failed entries only have a LocalID until
// the next reconcile replaces them with server truth.
type Entry struct {
	ID        int64
	LocalID   string
	Sender    Sender
	Message   string
	State     EntryState
	Err       error
	CreatedAt time.Time
}

// Conversation tracks the transcript of one project and allows a single
// outstanding send at a time.
type Conversation struct {
	client    *Client
	projectID int64

	mu      sync.Mutex
	entries []Entry
	sending bool
}

func (c *Client) Conversation(projectID int64) *Conversation {
	return &Conversation{client: c, projectID: projectID}
}

func (cv *Conversation) ProjectID() int64 {
	return cv.projectID
}

// Entries returns a copy of the transcript in display order.
func (cv *Conversation) Entries() []Entry {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	out := make([]Entry, len(cv.entries))
	copy(out, cv.entries)
	return out
}

// Sending reports whether a send is outstanding.
func (cv *Conversation) Sending() bool {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	return cv.sending
}

// Reconcile replaces the transcript with the server's. Failed notices are
// dropped; the server already holds whatever part of those turns it persisted.
func (cv *Conversation) Reconcile(ctx context.Context) error {
	msgs, err := cv.client.ListChatMessages(ctx, cv.projectID)
	if err != nil {
		return err
	}

	entries := make([]Entry, len(msgs))
	for i, m := range msgs {
		entries[i] = Entry{
			ID:        m.ID,
			Sender:    m.Sender,
			Message:   m.Message,
			State:     EntryConfirmed,
			CreatedAt: m.CreatedAt,
		}
	}

	cv.mu.Lock()
	cv.entries = entries
	cv.mu.Unlock()
	return nil
}

// Send appends a pending user entry and runs one chat turn. While the turn
// is outstanding further calls return ErrTurnInFlight without touching the
// network. On failure the pending entry becomes EntryFailed and can be
// passed to Retry.
func (cv *Conversation) Send(ctx context.Context, message string) (*ChatMessage, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, &ValidationError{Field: "message", Message: "Please enter a message"}
	}

	cv.mu.Lock()
	if cv.sending {
		cv.mu.Unlock()
		return nil, ErrTurnInFlight
	}
	cv.sending = true
	localID := uuid.NewString()
	cv.entries = append(cv.entries, Entry{
		LocalID:   localID,
		Sender:    SenderUser,
		Message:   message,
		State:     EntryPending,
		CreatedAt: time.Now(),
	})
	cv.mu.Unlock()

	defer func() {
		cv.mu.Lock()
		cv.sending = false
		cv.mu.Unlock()
	}()

	reply, err := cv.client.SendChatMessage(ctx, cv.projectID, message)
	if err != nil {
		cv.update(localID, func(e *Entry) {
			e.State = EntryFailed
			e.Err = err
		})
		return nil, err
	}

	if rerr := cv.Reconcile(ctx); rerr != nil {
		// Keep the pending entry and show the reply until the next reconcile.
		cv.mu.Lock()
		cv.entries = append(cv.entries, Entry{
			ID:        reply.ID,
			Sender:    reply.Sender,
			Message:   reply.Message,
			State:     EntryConfirmed,
			CreatedAt: reply.CreatedAt,
		})
		cv.mu.Unlock()
	}
	return reply, nil
}

// Retry removes the failed entry identified by localID and sends its
// message again.
func (cv *Conversation) Retry(ctx context.Context, localID string) (*ChatMessage, error) {
	cv.mu.Lock()
	if cv.sending {
		cv.mu.Unlock()
		return nil, ErrTurnInFlight
	}
	idx := -1
	for i, e := range cv.entries {
		if e.LocalID == localID && e.State == EntryFailed {
			idx = i
			break
		}
	}
	if idx < 0 {
		cv.mu.Unlock()
		return nil, &ValidationError{Field: "entry", Message: "No failed message to retry"}
	}
	message := cv.entries[idx].Message
	cv.entries = append(cv.entries[:idx], cv.entries[idx+1:]...)
	cv.mu.Unlock()

	return cv.Send(ctx, message)
}

func (cv *Conversation) update(localID string, fn func(*Entry)) {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	for i := range cv.entries {
		if cv.entries[i].LocalID == localID {
			fn(&cv.entries[i])
			return
		}
	}
}
