// Package mailbox delivers agent-to-agent mail into per-agent inboxes.
package mailbox

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/agentcircle/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Mailbox stores mail per recipient.
type Mailbox interface {
	// Deliver appends mail to the recipient's inbox and returns the stored copy.
	Deliver(ctx context.Context, mail types.Mail) (types.Mail, error)
	// List returns the whole inbox of agentID, oldest first.
	List(ctx context.Context, agentID string) ([]types.Mail, error)
	// Unread returns unread mail of agentID, oldest first, without marking it.
	Unread(ctx context.Context, agentID string) ([]types.Mail, error)
	// MarkRead marks the given mail ids of agentID read. Unknown ids are ignored.
	MarkRead(ctx context.Context, agentID string, ids ...string) error
}

func prepare(mail types.Mail, now time.Time) (types.Mail, error) {
	if mail.To == "" {
		return mail, types.NewError(types.ErrInvalidRequest, "mail recipient is required")
	}
	if mail.ID == "" {
		mail.ID = uuid.NewString()
	}
	if mail.CreatedAt.IsZero() {
		mail.CreatedAt = now
	}
	mail.Read = false
	return mail, nil
}

// MemoryMailbox is an in-process Mailbox.
type MemoryMailbox struct {
	mu      sync.RWMutex
	inboxes map[string][]types.Mail
	now     func() time.Time
	logger  *zap.Logger
}

// NewMemoryMailbox creates an empty in-memory mailbox.
func NewMemoryMailbox(logger *zap.Logger) *MemoryMailbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryMailbox{
		inboxes: make(map[string][]types.Mail),
		now:     time.Now,
		logger:  logger.With(zap.String("component", "mailbox_memory")),
	}
}

func (m *MemoryMailbox) Deliver(ctx context.Context, mail types.Mail) (types.Mail, error) {
	if err := ctx.Err(); err != nil {
		return types.Mail{}, err
	}
	mail, err := prepare(mail, m.now())
	if err != nil {
		return types.Mail{}, err
	}

	m.mu.Lock()
	m.inboxes[mail.To] = append(m.inboxes[mail.To], mail)
	m.mu.Unlock()

	m.logger.Debug("mail delivered", zap.String("from", mail.From), zap.String("to", mail.To))
	return mail, nil
}

func (m *MemoryMailbox) List(ctx context.Context, agentID string) ([]types.Mail, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]types.Mail{}, m.inboxes[agentID]...), nil
}

func (m *MemoryMailbox) Unread(ctx context.Context, agentID string) ([]types.Mail, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var unread []types.Mail
	for _, mail := range m.inboxes[agentID] {
		if !mail.Read {
			unread = append(unread, mail)
		}
	}
	return unread, nil
}

func (m *MemoryMailbox) MarkRead(ctx context.Context, agentID string, ids ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	marked := make(map[string]bool, len(ids))
	for _, id := range ids {
		marked[id] = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	inbox := m.inboxes[agentID]
	for i := range inbox {
		if marked[inbox[i].ID] {
			inbox[i].Read = true
		}
	}
	return nil
}
