package scheduler

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/agentcircle/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TemplateBook is the template set shared by every conversation's scheduler.
type TemplateBook struct {
	mu     sync.Mutex
	store  TemplateStore
	now    func() time.Time
	logger *zap.Logger
}

// NewTemplateBook creates a TemplateBook over store.
func NewTemplateBook(store TemplateStore, logger *zap.Logger) *TemplateBook {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TemplateBook{
		store:  store,
		now:    time.Now,
		logger: logger.With(zap.String("component", "template_book")),
	}
}

// List returns every template.
func (b *TemplateBook) List(ctx context.Context) ([]types.Template, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.store.LoadTemplates(ctx)
}

// Get returns the template with id.
func (b *TemplateBook) Get(ctx context.Context, id string) (types.Template, bool) {
	list, err := b.List(ctx)
	if err != nil {
		return types.Template{}, false
	}
	for _, t := range list {
		if t.ID == id {
			return t, true
		}
	}
	return types.Template{}, false
}

// Add creates a template.
func (b *TemplateBook) Add(ctx context.Context, title, prompt, proposedBy string) (types.Template, error) {
	title, prompt = strings.TrimSpace(title), strings.TrimSpace(prompt)
	if title == "" || prompt == "" {
		return types.Template{}, types.NewError(types.ErrInvalidRequest, "template title and prompt are required")
	}
	t := types.Template{
		ID:         uuid.NewString(),
		Title:      title,
		Prompt:     prompt,
		ProposedBy: proposedBy,
		CreatedAt:  b.now(),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	list, err := b.store.LoadTemplates(ctx)
	if err != nil {
		return types.Template{}, err
	}
	if err := b.store.SaveTemplates(ctx, append(list, t)); err != nil {
		return types.Template{}, types.NewError(types.ErrInternalError, "failed to save templates").WithCause(err)
	}
	b.logger.Info("template added", zap.String("id", t.ID), zap.String("title", t.Title))
	return t, nil
}

// Remove deletes a template. Sessions that reference it fall back to the
// free-discussion prompt.
func (b *TemplateBook) Remove(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	list, err := b.store.LoadTemplates(ctx)
	if err != nil {
		return err
	}
	out := make([]types.Template, 0, len(list))
	for _, t := range list {
		if t.ID != id {
			out = append(out, t)
		}
	}
	if len(out) == len(list) {
		return types.Errorf(types.ErrNotFound, "template %s not found", id)
	}
	if err := b.store.SaveTemplates(ctx, out); err != nil {
		return types.NewError(types.ErrInternalError, "failed to save templates").WithCause(err)
	}
	return nil
}
