package scheduler

import (
	"context"
	"time"

	"github.com/BaSui01/agentcircle/agent/persistence"
	"github.com/BaSui01/agentcircle/types"
	"go.uber.org/zap"
)

// TemplateStore persists the template set.
type TemplateStore interface {
	LoadTemplates(ctx context.Context) ([]types.Template, error)
	SaveTemplates(ctx context.Context, templates []types.Template) error
}

// SessionStore persists the sessions of one conversation.
type SessionStore interface {
	LoadSessions(ctx context.Context, conversationID string) ([]types.ScheduledSession, error)
	SaveSessions(ctx context.Context, conversationID string, sessions []types.ScheduledSession) error
}

const (
	templatesKey = "templates"
	// templatesSeededKey 在首次保存后写入，此后空列表也按原样返回
	templatesSeededKey = "templates:seeded"
)

func sessionsKey(conversationID string) string {
	return "sessions:" + conversationID
}

// DefaultTemplates is the built-in template set used when nothing is stored.
func DefaultTemplates() []types.Template {
	epoch := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return []types.Template{
		{
			ID:         "default-free",
			Title:      "Discussione libera",
			Prompt:     "Parlate liberamente di ciò che vi sta a cuore oggi. Ascoltatevi e rispondetevi a vicenda.",
			ProposedBy: "system",
			CreatedAt:  epoch,
		},
		{
			ID:         "default-memory",
			Title:      "Ricordi condivisi",
			Prompt:     "Ripercorrete insieme i ricordi più importanti degli ultimi giorni e decidete quali condividere.",
			ProposedBy: "system",
			CreatedAt:  epoch,
		},
		{
			ID:         "default-creative",
			Title:      "Progetto creativo",
			Prompt:     "Create insieme un breve racconto: ognuno aggiunge un pezzo partendo da quello precedente.",
			ProposedBy: "system",
			CreatedAt:  epoch,
		},
	}
}

// KVStore keeps templates and sessions as JSON arrays in a persistence.KV.
// Unreadable data is logged and replaced by defaults, never returned as an error.
type KVStore struct {
	kv     persistence.KV
	logger *zap.Logger
}

// NewKVStore creates a KVStore.
func NewKVStore(kv persistence.KV, logger *zap.Logger) *KVStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KVStore{kv: kv, logger: logger.With(zap.String("component", "scheduler_store"))}
}

func (s *KVStore) LoadTemplates(ctx context.Context) ([]types.Template, error) {
	var templates []types.Template
	found, err := persistence.LoadJSON(ctx, s.kv, templatesKey, &templates)
	if err != nil {
		s.logger.Warn("stored templates unreadable, using defaults", zap.Error(err))
		return DefaultTemplates(), nil
	}
	if len(templates) > 0 {
		return templates, nil
	}
	var seeded bool
	if found {
		if _, err := persistence.LoadJSON(ctx, s.kv, templatesSeededKey, &seeded); err != nil {
			s.logger.Warn("template seed marker unreadable", zap.Error(err))
		}
	}
	if seeded {
		return []types.Template{}, nil
	}
	return DefaultTemplates(), nil
}

func (s *KVStore) SaveTemplates(ctx context.Context, templates []types.Template) error {
	if templates == nil {
		templates = []types.Template{}
	}
	if err := persistence.SaveJSON(ctx, s.kv, templatesKey, templates); err != nil {
		return err
	}
	return persistence.SaveJSON(ctx, s.kv, templatesSeededKey, true)
}

func (s *KVStore) LoadSessions(ctx context.Context, conversationID string) ([]types.ScheduledSession, error) {
	var sessions []types.ScheduledSession
	if _, err := persistence.LoadJSON(ctx, s.kv, sessionsKey(conversationID), &sessions); err != nil {
		s.logger.Warn("stored sessions unreadable, starting empty",
			zap.String("conversation_id", conversationID), zap.Error(err))
		return nil, nil
	}
	return sessions, nil
}

func (s *KVStore) SaveSessions(ctx context.Context, conversationID string, sessions []types.ScheduledSession) error {
	return persistence.SaveJSON(ctx, s.kv, sessionsKey(conversationID), sessions)
}
