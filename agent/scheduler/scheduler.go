// Package scheduler starts and stops timed group sessions in a conversation.
package scheduler

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/agentcircle/internal/clock"
	"github.com/BaSui01/agentcircle/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultFallbackPrompt seeds a session whose template no longer exists.
const DefaultFallbackPrompt = "Sessione di discussione libera: condividete pensieri, domande e idee tra di voi."

// Driver is the part of the runtime a scheduler controls.
type Driver interface {
	// InjectPrompt appends prompt to the conversation as a user message.
	InjectPrompt(ctx context.Context, conversationID, prompt string) error
	// SetContinuous turns continuous play on or off for the conversation.
	SetContinuous(conversationID string, on bool) error
	// IsActive reports whether the conversation is the one currently bound.
	IsActive(conversationID string) bool
}

// Config configures a scheduler.
type Config struct {
	CheckInterval  time.Duration `yaml:"check_interval" json:"check_interval"`
	SettleDelay    time.Duration `yaml:"settle_delay" json:"settle_delay"`
	FallbackPrompt string        `yaml:"fallback_prompt" json:"fallback_prompt"`
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		CheckInterval:  60 * time.Second,
		SettleDelay:    2 * time.Second,
		FallbackPrompt: DefaultFallbackPrompt,
	}
}

// ScheduleRequest describes a session to create. Exactly one of TemplateID
// and CustomPrompt must be set.
type ScheduleRequest struct {
	TemplateID      string    `json:"template_id,omitempty"`
	CustomPrompt    string    `json:"custom_prompt,omitempty"`
	ScheduledAt     time.Time `json:"scheduled_at"`
	DurationMinutes int       `json:"duration_minutes"`
}

// TransitionHook observes session status changes.
type TransitionHook func(session types.ScheduledSession, from types.SessionStatus)

// Scheduler owns the sessions of one conversation. At most one of them runs
// at a time.
type Scheduler struct {
	mu sync.Mutex

	conversationID string
	templates      *TemplateBook
	store          SessionStore
	driver         Driver
	clock          clock.Clock
	config         Config
	logger         *zap.Logger

	sessions  []types.ScheduledSession
	activeID  string
	endsAt    time.Time
	countdown clock.Timer
	settle    clock.Timer
	loop      clock.Timer
	running   bool
	onChange  TransitionHook
}

// New creates the scheduler of conversationID and loads its sessions.
// Sessions persisted as running belong to a previous process and are
// completed on load.
func New(ctx context.Context, conversationID string, templates *TemplateBook, store SessionStore,
	driver Driver, clk clock.Clock, config Config, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.Real()
	}
	if config.CheckInterval <= 0 {
		config.CheckInterval = DefaultConfig().CheckInterval
	}
	if config.FallbackPrompt == "" {
		config.FallbackPrompt = DefaultFallbackPrompt
	}
	s := &Scheduler{
		conversationID: conversationID,
		templates:      templates,
		store:          store,
		driver:         driver,
		clock:          clk,
		config:         config,
		logger: logger.With(
			zap.String("component", "scheduler"),
			zap.String("conversation_id", conversationID)),
	}

	sessions, err := store.LoadSessions(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	now := clk.Now()
	dirty := false
	for _, sess := range sessions {
		if sess.Status == types.SessionRunning {
			_ = sess.Transition(types.SessionCompleted, now)
			dirty = true
		}
		s.sessions = append(s.sessions, sess)
	}
	if dirty {
		s.saveLocked(ctx)
	}
	return s, nil
}

// OnTransition registers a hook for status changes.
func (s *Scheduler) OnTransition(hook TransitionHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = hook
}

// ConversationID returns the conversation this scheduler drives.
func (s *Scheduler) ConversationID() string { return s.conversationID }

// AddTemplate creates a template in the shared book.
func (s *Scheduler) AddTemplate(ctx context.Context, title, prompt, proposedBy string) (types.Template, error) {
	return s.templates.Add(ctx, title, prompt, proposedBy)
}

// RemoveTemplate deletes a template from the shared book.
func (s *Scheduler) RemoveTemplate(ctx context.Context, id string) error {
	return s.templates.Remove(ctx, id)
}

// Templates lists the shared templates.
func (s *Scheduler) Templates(ctx context.Context) ([]types.Template, error) {
	return s.templates.List(ctx)
}

// ScheduleSession creates a scheduled session.
func (s *Scheduler) ScheduleSession(ctx context.Context, req ScheduleRequest) (types.ScheduledSession, error) {
	sess := types.ScheduledSession{
		ID:              uuid.NewString(),
		ConversationID:  s.conversationID,
		TemplateID:      strings.TrimSpace(req.TemplateID),
		CustomPrompt:    strings.TrimSpace(req.CustomPrompt),
		ScheduledAt:     req.ScheduledAt,
		DurationMinutes: req.DurationMinutes,
		Status:          types.SessionScheduled,
	}
	if err := sess.Validate(); err != nil {
		return types.ScheduledSession{}, err
	}
	if sess.ScheduledAt.IsZero() {
		sess.ScheduledAt = s.clock.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = append(s.sessions, sess)
	s.saveLocked(ctx)
	s.logger.Info("session scheduled",
		zap.String("session_id", sess.ID),
		zap.Time("scheduled_at", sess.ScheduledAt),
		zap.Int("duration_minutes", sess.DurationMinutes))
	return sess, nil
}

// StartSessionNow creates a session and starts it immediately. It fails with
// SESSION_RUNNING while another session runs and NO_ACTIVE_SESSION when the
// conversation is not the bound one.
func (s *Scheduler) StartSessionNow(ctx context.Context, req ScheduleRequest) (types.ScheduledSession, error) {
	if err := s.checkActive(); err != nil {
		return types.ScheduledSession{}, err
	}
	if active, ok := s.ActiveSession(); ok {
		return types.ScheduledSession{}, types.Errorf(types.ErrSessionRunning, "session %s is already running", active.ID)
	}
	req.ScheduledAt = s.clock.Now()
	sess, err := s.ScheduleSession(ctx, req)
	if err != nil {
		return types.ScheduledSession{}, err
	}
	if err := s.StartSession(ctx, sess.ID); err != nil {
		return types.ScheduledSession{}, err
	}
	started, _ := s.Session(sess.ID)
	return started, nil
}

// CancelSession cancels a scheduled session. Running and finished sessions
// are immutable history.
func (s *Scheduler) CancelSession(ctx context.Context, id string) (types.ScheduledSession, error) {
	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return types.ScheduledSession{}, types.Errorf(types.ErrNotFound, "session %s not found", id)
	}
	if err := s.sessions[i].Transition(types.SessionCancelled, s.clock.Now()); err != nil {
		s.mu.Unlock()
		return types.ScheduledSession{}, err
	}
	sess := s.sessions[i]
	s.saveLocked(ctx)
	hook := s.onChange
	s.mu.Unlock()

	if hook != nil {
		hook(sess, types.SessionScheduled)
	}
	return sess, nil
}

// Sessions returns every session ordered by scheduled time.
func (s *Scheduler) Sessions() []types.ScheduledSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]types.ScheduledSession(nil), s.sessions...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out
}

// Session returns one session.
func (s *Scheduler) Session(id string) (types.ScheduledSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(id); i >= 0 {
		return s.sessions[i], true
	}
	return types.ScheduledSession{}, false
}

// ActiveSession returns the running session, if any.
func (s *Scheduler) ActiveSession() (types.ScheduledSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(s.activeID); i >= 0 && s.activeID != "" {
		return s.sessions[i], true
	}
	return types.ScheduledSession{}, false
}

// Remaining returns the time left in the running session.
func (s *Scheduler) Remaining() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeID == "" {
		return 0
	}
	if d := s.endsAt.Sub(s.clock.Now()); d > 0 {
		return d
	}
	return 0
}

// StartSession starts a scheduled session: it injects the resolved prompt,
// enables continuous play after the settle delay and arms the countdown.
// Only the bound conversation can start a session.
func (s *Scheduler) StartSession(ctx context.Context, id string) error {
	if err := s.checkActive(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.activeID != "" {
		s.mu.Unlock()
		return types.Errorf(types.ErrSessionRunning, "session %s is already running", s.activeID)
	}
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return types.Errorf(types.ErrNotFound, "session %s not found", id)
	}
	if !types.CanTransition(s.sessions[i].Status, types.SessionRunning) {
		s.mu.Unlock()
		return types.Errorf(types.ErrInvalidTransition, "session %s is %s", id, s.sessions[i].Status)
	}
	// claim the slot before releasing the lock for the prompt injection
	s.activeID = id
	sess := s.sessions[i]
	s.mu.Unlock()

	prompt := s.resolvePrompt(ctx, sess)
	if err := s.driver.InjectPrompt(ctx, s.conversationID, prompt); err != nil {
		s.mu.Lock()
		s.activeID = ""
		s.mu.Unlock()
		s.logger.Error("failed to inject session prompt", zap.String("session_id", id), zap.Error(err))
		return err
	}

	s.mu.Lock()
	i = s.indexLocked(id)
	// StopSession 可能在注入期间取消了本次启动
	if s.activeID != id || i < 0 {
		s.mu.Unlock()
		return types.Errorf(types.ErrInvalidTransition, "session %s was stopped before it started", id)
	}
	now := s.clock.Now()
	if err := s.sessions[i].Transition(types.SessionRunning, now); err != nil {
		s.activeID = ""
		s.mu.Unlock()
		return err
	}
	sess = s.sessions[i]
	s.endsAt = now.Add(sess.Duration())
	s.settle = s.clock.AfterFunc(s.config.SettleDelay, func() { s.enableContinuous(id) })
	s.countdown = s.clock.AfterFunc(sess.Duration(), func() { s.expire(id) })
	s.saveLocked(ctx)
	hook := s.onChange
	s.mu.Unlock()

	s.logger.Info("session started",
		zap.String("session_id", id),
		zap.Int("duration_minutes", sess.DurationMinutes))
	if hook != nil {
		hook(sess, types.SessionScheduled)
	}
	return nil
}

func (s *Scheduler) checkActive() error {
	if s.driver.IsActive(s.conversationID) {
		return nil
	}
	return types.Errorf(types.ErrNoActiveSession, "conversation %s is not bound", s.conversationID)
}

func (s *Scheduler) resolvePrompt(ctx context.Context, sess types.ScheduledSession) string {
	if sess.CustomPrompt != "" {
		return sess.CustomPrompt
	}
	if s.templates != nil {
		if t, ok := s.templates.Get(ctx, sess.TemplateID); ok && strings.TrimSpace(t.Prompt) != "" {
			return t.Prompt
		}
	}
	return s.config.FallbackPrompt
}

func (s *Scheduler) enableContinuous(id string) {
	s.mu.Lock()
	active := s.activeID == id
	s.settle = nil
	s.mu.Unlock()
	if !active {
		return
	}
	if err := s.driver.SetContinuous(s.conversationID, true); err != nil {
		s.logger.Warn("failed to enable continuous play", zap.String("session_id", id), zap.Error(err))
	}
}

func (s *Scheduler) expire(id string) {
	s.mu.Lock()
	active := s.activeID == id
	s.mu.Unlock()
	if !active {
		return
	}
	if err := s.StopSession(context.Background()); err != nil {
		s.logger.Warn("failed to stop expired session", zap.String("session_id", id), zap.Error(err))
	}
}

// StopSession disables continuous play and completes the running session.
// A session still starting is cancelled instead; its StartSession fails.
func (s *Scheduler) StopSession(ctx context.Context) error {
	s.mu.Lock()
	i := s.indexLocked(s.activeID)
	if s.activeID == "" || i < 0 {
		s.mu.Unlock()
		return types.NewError(types.ErrNoActiveSession, "no session is running")
	}
	if s.countdown != nil {
		s.countdown.Stop()
		s.countdown = nil
	}
	if s.settle != nil {
		s.settle.Stop()
		s.settle = nil
	}
	from := s.sessions[i].Status
	target := types.SessionCompleted
	if from == types.SessionScheduled {
		target = types.SessionCancelled
	}
	if err := s.sessions[i].Transition(target, s.clock.Now()); err != nil {
		s.mu.Unlock()
		return err
	}
	sess := s.sessions[i]
	s.activeID = ""
	s.endsAt = time.Time{}
	s.saveLocked(ctx)
	hook := s.onChange
	s.mu.Unlock()

	if err := s.driver.SetContinuous(s.conversationID, false); err != nil {
		s.logger.Debug("continuous play not stopped", zap.Error(err))
	}
	s.logger.Info("session stopped", zap.String("session_id", sess.ID), zap.String("status", string(sess.Status)))
	if hook != nil {
		hook(sess, from)
	}
	return nil
}

// Tick starts the earliest due session when the conversation is active and
// nothing is running. It reports the started session id, if any.
func (s *Scheduler) Tick(ctx context.Context) (string, error) {
	if !s.driver.IsActive(s.conversationID) {
		return "", nil
	}
	s.mu.Lock()
	if s.activeID != "" {
		s.mu.Unlock()
		return "", nil
	}
	now := s.clock.Now()
	due := ""
	var dueAt time.Time
	for _, sess := range s.sessions {
		if sess.Status != types.SessionScheduled || sess.ScheduledAt.After(now) {
			continue
		}
		if due == "" || sess.ScheduledAt.Before(dueAt) {
			due, dueAt = sess.ID, sess.ScheduledAt
		}
	}
	s.mu.Unlock()

	if due == "" {
		return "", nil
	}
	if err := s.StartSession(ctx, due); err != nil {
		if types.IsErrorCode(err, types.ErrSessionRunning) {
			return "", nil
		}
		return "", err
	}
	return due, nil
}

// Start runs Tick every CheckInterval until Stop or ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.armLoopLocked(ctx)
}

func (s *Scheduler) armLoopLocked(ctx context.Context) {
	s.loop = s.clock.AfterFunc(s.config.CheckInterval, func() {
		if ctx.Err() != nil {
			s.Stop()
			return
		}
		if _, err := s.Tick(ctx); err != nil {
			s.logger.Warn("scheduled session failed to start", zap.Error(err))
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.running {
			s.armLoopLocked(ctx)
		}
	})
}

// Stop halts the background check. A running session keeps running.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	if s.loop != nil {
		s.loop.Stop()
		s.loop = nil
	}
}

// Shutdown stops the background check and cancels session timers without
// changing session status.
func (s *Scheduler) Shutdown() {
	s.Stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range []clock.Timer{s.countdown, s.settle} {
		if t != nil {
			t.Stop()
		}
	}
	s.countdown, s.settle = nil, nil
}

func (s *Scheduler) indexLocked(id string) int {
	if id == "" {
		return -1
	}
	for i := range s.sessions {
		if s.sessions[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Scheduler) saveLocked(ctx context.Context) {
	if err := s.store.SaveSessions(ctx, s.conversationID, s.sessions); err != nil {
		s.logger.Error("failed to persist sessions", zap.Error(err))
	}
}
