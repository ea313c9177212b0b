package runtime

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/BaSui01/agentcircle/agent/conversation"
	"github.com/BaSui01/agentcircle/agent/embedding"
	"github.com/BaSui01/agentcircle/agent/invoker"
	"github.com/BaSui01/agentcircle/agent/library"
	"github.com/BaSui01/agentcircle/agent/mailbox"
	"github.com/BaSui01/agentcircle/agent/memory"
	"github.com/BaSui01/agentcircle/agent/notify"
	"github.com/BaSui01/agentcircle/agent/scheduler"
	"github.com/BaSui01/agentcircle/agent/tools"
	"github.com/BaSui01/agentcircle/internal/clock"
	"github.com/BaSui01/agentcircle/internal/ctxkeys"
	"github.com/BaSui01/agentcircle/internal/metrics"
	"github.com/BaSui01/agentcircle/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultTurnPrompt asks the speaking agent for its next contribution.
const DefaultTurnPrompt = "Tocca a te: rispondi alla conversazione."

// Config configures the runtime.
type Config struct {
	TopN           int    `yaml:"top_n" json:"top_n"`
	HistoryLimit   int    `yaml:"history_limit" json:"history_limit"`
	AutoWakeOnMail bool   `yaml:"auto_wake_on_mail" json:"auto_wake_on_mail"`
	MaxWakeChain   int    `yaml:"max_wake_chain" json:"max_wake_chain"`
	OperatorName   string `yaml:"operator_name" json:"operator_name"`
	TurnPrompt     string `yaml:"turn_prompt" json:"turn_prompt"`

	Orchestrator conversation.OrchestratorConfig `yaml:"orchestrator" json:"orchestrator"`
	Scheduler    scheduler.Config                `yaml:"scheduler" json:"scheduler"`
	Tools        tools.ProcessorConfig           `yaml:"tools" json:"tools"`
}

// DefaultConfig returns the default runtime configuration.
func DefaultConfig() Config {
	return Config{
		TopN:           6,
		HistoryLimit:   40,
		AutoWakeOnMail: true,
		MaxWakeChain:   3,
		OperatorName:   tools.DefaultOperatorName,
		TurnPrompt:     DefaultTurnPrompt,
		Orchestrator:   conversation.DefaultOrchestratorConfig(),
		Scheduler:      scheduler.DefaultConfig(),
		Tools:          tools.DefaultProcessorConfig(),
	}
}

// Dependencies are the components a runtime wires together. Library,
// Notifier and Metrics are optional.
type Dependencies struct {
	Registry  *conversation.Registry
	Store     *conversation.Store
	Engine    *memory.Engine
	Embedder  embedding.Embedder
	Mailbox   mailbox.Mailbox
	Library   library.Library
	Notifier  notify.Notifier
	Policy    *tools.Policy
	Invoker   invoker.Invoker
	Templates *scheduler.TemplateBook
	Sessions  scheduler.SessionStore
	Clock     clock.Clock
	Metrics   *metrics.Collector
}

func (d Dependencies) validate() error {
	var missing []string
	if d.Registry == nil {
		missing = append(missing, "registry")
	}
	if d.Store == nil {
		missing = append(missing, "store")
	}
	if d.Engine == nil {
		missing = append(missing, "engine")
	}
	if d.Embedder == nil {
		missing = append(missing, "embedder")
	}
	if d.Mailbox == nil {
		missing = append(missing, "mailbox")
	}
	if d.Policy == nil {
		missing = append(missing, "policy")
	}
	if d.Invoker == nil {
		missing = append(missing, "invoker")
	}
	if d.Templates == nil {
		missing = append(missing, "templates")
	}
	if d.Sessions == nil {
		missing = append(missing, "sessions")
	}
	if len(missing) > 0 {
		return types.Errorf(types.ErrInvalidRequest, "runtime dependencies missing: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Runtime runs agent turns and owns the orchestrator and the per-conversation
// schedulers.
type Runtime struct {
	deps      Dependencies
	config    Config
	processor *tools.Processor
	prompts   *invoker.PromptBuilder
	orch      *conversation.Orchestrator
	logger    *zap.Logger

	mu         sync.Mutex
	schedulers map[string]*scheduler.Scheduler
	wakes      map[string]string // conversation id -> agent to wake
	waking     string
	wakeChain  int
	onTurn     []func(conversation.TurnReport)
	started    bool
	ctx        context.Context
}

// New wires a runtime.
func New(deps Dependencies, config Config, logger *zap.Logger) (*Runtime, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	def := DefaultConfig()
	if config.TopN <= 0 {
		config.TopN = def.TopN
	}
	if config.HistoryLimit <= 0 {
		config.HistoryLimit = def.HistoryLimit
	}
	if config.MaxWakeChain <= 0 {
		config.MaxWakeChain = def.MaxWakeChain
	}
	if config.OperatorName == "" {
		config.OperatorName = def.OperatorName
	}
	if config.TurnPrompt == "" {
		config.TurnPrompt = def.TurnPrompt
	}
	if config.Tools.OperatorName == "" {
		config.Tools.OperatorName = config.OperatorName
	}

	r := &Runtime{
		deps:       deps,
		config:     config,
		prompts:    invoker.NewPromptBuilder(config.OperatorName),
		logger:     logger.With(zap.String("component", "runtime")),
		schedulers: make(map[string]*scheduler.Scheduler),
		wakes:      make(map[string]string),
		ctx:        context.Background(),
	}
	r.processor = tools.NewProcessor(tools.Dependencies{
		Policy:    deps.Policy,
		Directory: deps.Registry,
		Mailbox:   deps.Mailbox,
		Library:   deps.Library,
		Memory:    deps.Engine.Store(),
		Embedder:  deps.Embedder,
		Notifier:  deps.Notifier,
		Now:       deps.Clock.Now,
	}, config.Tools, logger)

	r.orch = conversation.NewOrchestrator(r, deps.Clock, config.Orchestrator, logger)
	r.orch.OnTurn(r.afterTurn)
	r.orch.OnError(func(conversationID, agentID string, err error) {
		r.logger.Warn("turn failed",
			zap.String("conversation_id", conversationID),
			zap.String("agent_id", agentID),
			zap.Error(err))
	})
	return r, nil
}

// Orchestrator returns the single turn orchestrator.
func (r *Runtime) Orchestrator() *conversation.Orchestrator { return r.orch }

// Processor returns the tool processor.
func (r *Runtime) Processor() *tools.Processor { return r.processor }

// Config returns the effective configuration.
func (r *Runtime) Config() Config { return r.config }

// OnTurn registers an observer called after every turn.
func (r *Runtime) OnTurn(fn func(conversation.TurnReport)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onTurn = append(r.onTurn, fn)
}

// =============================================================================
// Lifecycle
// =============================================================================

// Start initializes the embedder, makes sure the common room exists and
// starts the schedulers created so far.
func (r *Runtime) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := r.deps.Embedder.Init(gctx); err != nil {
			return fmt.Errorf("init embedder: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		_, err := r.deps.Store.EnsureCommonRoom(gctx, r.deps.Registry.IDs())
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	r.mu.Lock()
	r.started = true
	r.ctx = ctx
	scheds := make([]*scheduler.Scheduler, 0, len(r.schedulers))
	for _, s := range r.schedulers {
		scheds = append(scheds, s)
	}
	r.mu.Unlock()
	for _, s := range scheds {
		s.Start(ctx)
	}
	r.logger.Info("runtime started", zap.Int("agents", len(r.deps.Registry.IDs())))
	return nil
}

// Shutdown stops every scheduler and unbinds the orchestrator.
func (r *Runtime) Shutdown() {
	r.mu.Lock()
	scheds := make([]*scheduler.Scheduler, 0, len(r.schedulers))
	for _, s := range r.schedulers {
		scheds = append(scheds, s)
	}
	r.started = false
	r.mu.Unlock()

	for _, s := range scheds {
		s.Shutdown()
	}
	_ = r.orch.Unbind()
	r.logger.Info("runtime stopped")
}

// =============================================================================
// Agents and conversations
// =============================================================================

// RegisterAgent registers an agent and adds it to the common room.
func (r *Runtime) RegisterAgent(ctx context.Context, a types.Agent) (types.Agent, error) {
	a, err := r.deps.Registry.Register(ctx, a)
	if err != nil {
		return types.Agent{}, err
	}
	room, err := r.deps.Store.EnsureCommonRoom(ctx, r.deps.Registry.IDs())
	if err != nil {
		return a, err
	}
	if r.orch.ConversationID() == room.ID {
		_ = r.orch.SetParticipants(room.Participants)
	}
	return a, nil
}

// CreateConversation creates a conversation between registered agents.
func (r *Runtime) CreateConversation(ctx context.Context, id, title string, participants []string) (types.Conversation, error) {
	for _, p := range participants {
		if _, ok := r.deps.Registry.Agent(p); !ok {
			return types.Conversation{}, types.Errorf(types.ErrNotFound, "agent %s not found", p)
		}
	}
	if id == "" {
		id = uuid.NewString()
	}
	return r.deps.Store.Create(ctx, id, title, participants)
}

// AddParticipant adds a registered agent to a conversation.
func (r *Runtime) AddParticipant(ctx context.Context, conversationID, agentID string) error {
	if _, ok := r.deps.Registry.Agent(agentID); !ok {
		return types.Errorf(types.ErrNotFound, "agent %s not found", agentID)
	}
	if err := r.deps.Store.AddParticipant(ctx, conversationID, agentID); err != nil {
		return err
	}
	if r.orch.ConversationID() == conversationID {
		return r.orch.SetParticipants(r.deps.Store.Participants(conversationID))
	}
	return nil
}

// SwitchConversation binds the orchestrator to a conversation.
func (r *Runtime) SwitchConversation(ctx context.Context, conversationID string) error {
	conv, ok := r.deps.Store.Get(conversationID)
	if !ok {
		return types.Errorf(types.ErrNotFound, "conversation %s not found", conversationID)
	}
	if err := r.orch.Bind(conv.ID, conv.Participants); err != nil {
		return err
	}
	r.mu.Lock()
	r.wakeChain = 0
	r.waking = ""
	r.mu.Unlock()
	_, err := r.Scheduler(ctx, conv.ID)
	return err
}

// PostUserMessage appends a user message, stores it in the conversation's
// shared memory and notifies the orchestrator.
func (r *Runtime) PostUserMessage(ctx context.Context, conversationID, text string, attachment *types.Attachment) (types.Message, error) {
	if strings.TrimSpace(text) == "" && attachment == nil {
		return types.Message{}, types.NewError(types.ErrInvalidRequest, "message text is required")
	}
	msg, added, err := r.deps.Store.Append(ctx, conversationID, types.Message{
		Sender:     types.SenderUser,
		Text:       text,
		Attachment: attachment,
	})
	if err != nil {
		return types.Message{}, err
	}
	if !added {
		return msg, nil
	}

	r.vectorize(ctx, conversationID, msg)

	if r.orch.ConversationID() == conversationID {
		if err := r.orch.UserMessage(msg.ID); err != nil {
			return msg, err
		}
	}
	return msg, nil
}

func (r *Runtime) vectorize(ctx context.Context, conversationID string, msg types.Message) {
	text := strings.TrimSpace(msg.Text)
	if msg.Attachment != nil && msg.Attachment.Content != "" {
		text = strings.TrimSpace(text + "\n" + msg.Attachment.Name + ": " + msg.Attachment.Content)
	}
	if text == "" || !r.deps.Embedder.Ready() {
		return
	}
	vec, err := r.deps.Embedder.Embed(ctx, text)
	if err != nil {
		r.logger.Warn("embed user message failed", zap.String("message_id", msg.ID), zap.Error(err))
		return
	}
	err = r.deps.Engine.Store().Put(ctx, types.MemoryDocument{
		ID:        msg.ID,
		Scope:     types.SharedScope(conversationID),
		Text:      text,
		Embedding: vec,
		Utility:   1.0,
		CreatedAt: msg.Timestamp,
	})
	if err != nil {
		r.logger.Warn("store user message memory failed", zap.String("message_id", msg.ID), zap.Error(err))
	}
}

// =============================================================================
// Turn execution
// =============================================================================

// RunTurn lets agentID speak once in conversationID.
func (r *Runtime) RunTurn(ctx context.Context, conversationID, agentID string) error {
	start := r.deps.Clock.Now()
	turnID := uuid.NewString()
	ctx = ctxkeys.WithTurn(ctx, turnID, conversationID, agentID)

	ctx, span := otel.Tracer("agentcircle/runtime").Start(ctx, "runtime.RunTurn")
	span.SetAttributes(
		attribute.String("turn.id", turnID),
		attribute.String("conversation.id", conversationID),
		attribute.String("agent.id", agentID),
	)
	defer span.End()

	err := r.runTurn(ctx, conversationID, agentID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(types.GetErrorCode(err)))
	}
	r.deps.Metrics.RecordTurn(agentID, err, r.deps.Clock.Now().Sub(start))
	return err
}

func (r *Runtime) runTurn(ctx context.Context, conversationID, agentID string) error {
	agent, ok := r.deps.Registry.Agent(agentID)
	if !ok {
		return types.Errorf(types.ErrNotFound, "agent %s not found", agentID)
	}
	conv, ok := r.deps.Store.Get(conversationID)
	if !ok {
		return types.Errorf(types.ErrNotFound, "conversation %s not found", conversationID)
	}

	history := r.deps.Store.Messages(conversationID, r.config.HistoryLimit)
	names := r.names()
	retrieved := r.retrieve(ctx, agentID, conversationID, history)

	// 邮件在调用成功后才标记已读，失败的回合下次仍能看到
	mail, err := r.deps.Mailbox.Unread(ctx, agentID)
	if err != nil {
		r.logger.Warn("read unread mail failed", zap.String("agent_id", agentID), zap.Error(err))
	}

	system := r.prompts.Build(invoker.PromptInput{
		Agent:        agent,
		Memory:       retrieved,
		Mail:         mail,
		AllowedTools: r.allowedTools(agentID),
		Names:        names,
		Participants: conv.Participants,
	})

	raw, err := r.deps.Invoker.Complete(ctx, invoker.Request{
		Agent:      agent,
		System:     system,
		History:    history,
		Prompt:     r.config.TurnPrompt,
		Attachment: latestAttachment(history),
		Memory:     retrieved,
		Names:      names,
	})
	if err != nil {
		if _, _, appendErr := r.deps.Store.Append(ctx, conversationID, types.Message{
			Sender: types.SenderSystem,
			Text:   fmt.Sprintf("⚠️ %s: %s", agent.Name, err.Error()),
		}); appendErr != nil {
			r.logger.Error("append failure notice", zap.Error(appendErr))
		}
		return err
	}

	if len(mail) > 0 {
		ids := make([]string, 0, len(mail))
		for _, m := range mail {
			ids = append(ids, m.ID)
		}
		if err := r.deps.Mailbox.MarkRead(ctx, agentID, ids...); err != nil {
			r.logger.Warn("mark mail read failed", zap.String("agent_id", agentID), zap.Error(err))
		}
	}

	result := r.processor.Process(ctx, agent, conversationID, raw)
	for _, e := range result.Executions {
		r.deps.Metrics.RecordToolExecution(string(e.Tool), e.Success, e.Denied)
	}

	if strings.TrimSpace(result.Text) != "" {
		if _, _, err := r.deps.Store.Append(ctx, conversationID, types.Message{
			Sender: agentID,
			Text:   result.Text,
		}); err != nil {
			return err
		}
	}

	if r.config.AutoWakeOnMail {
		r.planWake(conversationID, agentID, conv, result.Messaged())
	}
	return nil
}

// latestAttachment returns the attachment of the newest user message in
// history, or nil when that message carries none.
func latestAttachment(history []types.Message) *types.Attachment {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].FromUser() {
			return history[i].Attachment
		}
	}
	return nil
}

// retrieve embeds the latest text not written by agentID and runs a hybrid
// query. Retrieval problems degrade to an empty memory context.
func (r *Runtime) retrieve(ctx context.Context, agentID, conversationID string, history []types.Message) types.RetrievedSet {
	if !r.deps.Embedder.Ready() {
		return nil
	}
	query := ""
	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]
		if m.Sender == agentID || m.Sender == types.SenderSystem {
			continue
		}
		if strings.TrimSpace(m.Text) != "" {
			query = m.Text
			break
		}
	}
	if query == "" {
		return nil
	}
	vec, err := r.deps.Embedder.Embed(ctx, query)
	if err != nil {
		r.logger.Warn("embed query failed", zap.String("agent_id", agentID), zap.Error(err))
		return nil
	}
	set, err := r.deps.Engine.HybridQuery(ctx, vec, types.PrivateScope(agentID), types.SharedScope(conversationID), r.config.TopN)
	if err != nil {
		r.logger.Warn("hybrid query failed", zap.String("agent_id", agentID), zap.Error(err))
		return nil
	}
	r.deps.Metrics.RecordRetrieval(agentID, len(set))
	return set
}

func (r *Runtime) allowedTools(agentID string) []types.ToolName {
	var out []types.ToolName
	for _, t := range types.AllTools {
		if ok, _ := r.deps.Policy.CanUse(agentID, t); ok {
			out = append(out, t)
		}
	}
	return out
}

func (r *Runtime) names() map[string]string {
	agents := r.deps.Registry.List()
	names := make(map[string]string, len(agents)+1)
	for _, a := range agents {
		names[a.ID] = a.Name
	}
	names[types.SenderUser] = r.config.OperatorName
	return names
}

// =============================================================================
// Auto-wake
// =============================================================================

// planWake remembers the first messaged participant. The wake happens after
// the orchestrator has released the turn.
func (r *Runtime) planWake(conversationID, agentID string, conv types.Conversation, messaged []string) {
	for _, to := range messaged {
		if to == agentID || conv.IndexOf(to) < 0 {
			continue
		}
		r.mu.Lock()
		r.wakes[conversationID] = to
		r.mu.Unlock()
		return
	}
}

func (r *Runtime) afterTurn(report conversation.TurnReport) {
	r.mu.Lock()
	target, planned := r.wakes[report.ConversationID]
	delete(r.wakes, report.ConversationID)
	if report.Trigger == conversation.TriggerForce && report.AgentID == r.waking {
		r.wakeChain++
	} else {
		r.wakeChain = 0
	}
	r.waking = ""
	wake := planned && !report.Stale && report.Err == nil &&
		report.Trigger != conversation.TriggerContinuous &&
		r.wakeChain < r.config.MaxWakeChain
	if wake {
		r.waking = target
	}
	observers := make([]func(conversation.TurnReport), len(r.onTurn))
	copy(observers, r.onTurn)
	r.mu.Unlock()

	for _, fn := range observers {
		fn(report)
	}
	if wake && !r.orch.IsContinuous() {
		if err := r.orch.ForceTurn(target); err != nil {
			r.mu.Lock()
			r.waking = ""
			r.mu.Unlock()
			r.logger.Debug("auto-wake skipped", zap.String("agent_id", target), zap.Error(err))
		} else {
			r.logger.Info("auto-wake",
				zap.String("conversation_id", report.ConversationID),
				zap.String("from", report.AgentID),
				zap.String("agent_id", target))
		}
	}
}

// =============================================================================
// Schedulers
// =============================================================================

// Scheduler returns the scheduler of conversationID, creating it on first use.
func (r *Runtime) Scheduler(ctx context.Context, conversationID string) (*scheduler.Scheduler, error) {
	if _, ok := r.deps.Store.Get(conversationID); !ok {
		return nil, types.Errorf(types.ErrNotFound, "conversation %s not found", conversationID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.schedulers[conversationID]; ok {
		return s, nil
	}
	s, err := scheduler.New(ctx, conversationID, r.deps.Templates, r.deps.Sessions, r,
		r.deps.Clock, r.config.Scheduler, r.logger)
	if err != nil {
		return nil, err
	}
	s.OnTransition(func(sess types.ScheduledSession, from types.SessionStatus) {
		r.deps.Metrics.RecordSessionTransition(string(sess.Status))
	})
	r.schedulers[conversationID] = s
	if r.started {
		s.Start(r.ctx)
	}
	return s, nil
}

// InjectPrompt posts a session prompt as a user message.
func (r *Runtime) InjectPrompt(ctx context.Context, conversationID, prompt string) error {
	_, err := r.PostUserMessage(ctx, conversationID, prompt, nil)
	return err
}

// SetContinuous drives continuous play of the bound conversation.
func (r *Runtime) SetContinuous(conversationID string, on bool) error {
	if r.orch.ConversationID() != conversationID {
		if !on {
			return nil
		}
		return types.Errorf(types.ErrNoActiveSession, "conversation %s is not active", conversationID)
	}
	return r.orch.SetContinuous(on)
}

// IsActive reports whether conversationID is bound to the orchestrator.
func (r *Runtime) IsActive(conversationID string) bool {
	return conversationID != "" && r.orch.ConversationID() == conversationID
}

// Mail returns every item in an agent's inbox.
func (r *Runtime) Mail(ctx context.Context, agentID string) ([]types.Mail, error) {
	if _, ok := r.deps.Registry.Agent(agentID); !ok {
		return nil, types.Errorf(types.ErrNotFound, "agent %s not found", agentID)
	}
	return r.deps.Mailbox.List(ctx, agentID)
}

// SearchLibrary ranks library documents against a free-text query.
func (r *Runtime) SearchLibrary(ctx context.Context, query string, topK int) ([]library.SearchResult, error) {
	if r.deps.Library == nil {
		return nil, types.NewError(types.ErrInternalError, "library unavailable")
	}
	if !r.deps.Embedder.Ready() {
		return nil, types.NewError(types.ErrEmbedderNotReady, "embedder not initialized")
	}
	vec, err := r.deps.Embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return r.deps.Library.Search(ctx, vec, topK)
}

// Deps exposes the wired components to transport layers.
func (r *Runtime) Deps() Dependencies { return r.deps }

var _ conversation.TurnRunner = (*Runtime)(nil)
var _ scheduler.Driver = (*Runtime)(nil)
