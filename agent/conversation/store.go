package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/agentcircle/agent/persistence"
	"github.com/BaSui01/agentcircle/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const conversationsKey = "conversations"

func messagesKey(conversationID string) string {
	return "messages:" + conversationID
}

// Store keeps conversations and their append-only transcripts.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]*types.Conversation
	order         []string
	messages      map[string][]types.Message
	seen          map[string]map[string]struct{}
	kv            persistence.KV
	now           func() time.Time
	logger        *zap.Logger
}

// NewStore creates a store persisted in kv, loading what is already there.
// A nil kv keeps everything in memory. Corrupt data is logged and skipped.
func NewStore(ctx context.Context, kv persistence.KV, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		conversations: make(map[string]*types.Conversation),
		messages:      make(map[string][]types.Message),
		seen:          make(map[string]map[string]struct{}),
		kv:            kv,
		now:           time.Now,
		logger:        logger.With(zap.String("component", "conversation_store")),
	}
	if kv != nil {
		s.load(ctx)
	}
	return s
}

func (s *Store) load(ctx context.Context) {
	var convs []types.Conversation
	if _, err := persistence.LoadJSON(ctx, s.kv, conversationsKey, &convs); err != nil {
		s.logger.Warn("stored conversations unreadable, starting empty", zap.Error(err))
		return
	}
	for i := range convs {
		c := convs[i].Clone()
		if c.ID == "" || s.conversations[c.ID] != nil {
			continue
		}
		s.conversations[c.ID] = &c
		s.order = append(s.order, c.ID)

		var msgs []types.Message
		if _, err := persistence.LoadJSON(ctx, s.kv, messagesKey(c.ID), &msgs); err != nil {
			s.logger.Warn("stored transcript unreadable", zap.String("conversation_id", c.ID), zap.Error(err))
			continue
		}
		seen := make(map[string]struct{}, len(msgs))
		for _, m := range msgs {
			if _, dup := seen[m.ID]; dup {
				continue
			}
			seen[m.ID] = struct{}{}
			s.messages[c.ID] = append(s.messages[c.ID], m)
		}
		s.seen[c.ID] = seen
	}
}

// Create adds a conversation with the given participants in order.
func (s *Store) Create(ctx context.Context, id, title string, participants []string) (types.Conversation, error) {
	if id == "" {
		id = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[id]; ok {
		return types.Conversation{}, types.Errorf(types.ErrAlreadyExists, "conversation %s already exists", id)
	}
	now := s.now()
	c := &types.Conversation{
		ID:        id,
		Title:     title,
		JoinedAt:  make(map[string]time.Time),
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, p := range participants {
		if c.IndexOf(p) >= 0 {
			continue
		}
		c.Participants = append(c.Participants, p)
		c.JoinedAt[p] = now
	}
	s.conversations[id] = c
	s.order = append(s.order, id)
	return c.Clone(), s.persistConversationsLocked(ctx)
}

// EnsureCommonRoom creates the common room when missing and adds every agent
// that is not yet a participant.
func (s *Store) EnsureCommonRoom(ctx context.Context, agentIDs []string) (types.Conversation, error) {
	s.mu.RLock()
	_, exists := s.conversations[types.CommonRoomID]
	s.mu.RUnlock()
	if !exists {
		if _, err := s.Create(ctx, types.CommonRoomID, "Common room", nil); err != nil && !types.IsErrorCode(err, types.ErrAlreadyExists) {
			return types.Conversation{}, err
		}
	}
	for _, id := range agentIDs {
		if err := s.AddParticipant(ctx, types.CommonRoomID, id); err != nil {
			return types.Conversation{}, err
		}
	}
	c, _ := s.Get(types.CommonRoomID)
	return c, nil
}

// AddParticipant appends agentID to the participant list. Adding an existing
// participant is a no-op.
func (s *Store) AddParticipant(ctx context.Context, conversationID, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return types.Errorf(types.ErrNotFound, "conversation %s not found", conversationID)
	}
	if c.IndexOf(agentID) >= 0 {
		return nil
	}
	now := s.now()
	c.Participants = append(c.Participants, agentID)
	c.JoinedAt[agentID] = now
	c.UpdatedAt = now
	return s.persistConversationsLocked(ctx)
}

// Get returns a copy of the conversation.
func (s *Store) Get(id string) (types.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return types.Conversation{}, false
	}
	return c.Clone(), true
}

// List returns every conversation in creation order.
func (s *Store) List() []types.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Conversation, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.conversations[id].Clone())
	}
	return out
}

// Participants returns the ordered participant ids of a conversation.
func (s *Store) Participants(conversationID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.conversations[conversationID]; ok {
		return append([]string(nil), c.Participants...)
	}
	return nil
}

// Append adds msg to the transcript. It reports false when a message with
// the same id was already appended.
func (s *Store) Append(ctx context.Context, conversationID string, msg types.Message) (types.Message, bool, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return types.Message{}, false, types.Errorf(types.ErrNotFound, "conversation %s not found", conversationID)
	}
	seen := s.seen[conversationID]
	if seen == nil {
		seen = make(map[string]struct{})
		s.seen[conversationID] = seen
	}
	if _, dup := seen[msg.ID]; dup {
		return msg, false, nil
	}
	seen[msg.ID] = struct{}{}
	s.messages[conversationID] = append(s.messages[conversationID], msg)
	c.UpdatedAt = msg.Timestamp

	if s.kv != nil {
		if err := persistence.SaveJSON(ctx, s.kv, messagesKey(conversationID), s.messages[conversationID]); err != nil {
			s.logger.Error("failed to persist transcript", zap.String("conversation_id", conversationID), zap.Error(err))
			return msg, true, types.NewError(types.ErrInternalError, "failed to persist transcript").WithCause(err)
		}
	}
	return msg, true, nil
}

// Messages returns the last limit messages of a transcript, oldest first.
// A limit of 0 returns all of them.
func (s *Store) Messages(conversationID string, limit int) []types.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]types.Message(nil), msgs...)
}

func (s *Store) persistConversationsLocked(ctx context.Context) error {
	if s.kv == nil {
		return nil
	}
	list := make([]types.Conversation, 0, len(s.order))
	for _, id := range s.order {
		list = append(list, *s.conversations[id])
	}
	if err := persistence.SaveJSON(ctx, s.kv, conversationsKey, list); err != nil {
		s.logger.Error("failed to persist conversations", zap.Error(err))
		return types.NewError(types.ErrInternalError, "failed to persist conversations").WithCause(err)
	}
	return nil
}
