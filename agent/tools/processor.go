package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/agentcircle/agent/embedding"
	"github.com/BaSui01/agentcircle/agent/library"
	"github.com/BaSui01/agentcircle/agent/mailbox"
	"github.com/BaSui01/agentcircle/agent/memory"
	"github.com/BaSui01/agentcircle/agent/notify"
	"github.com/BaSui01/agentcircle/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DeniedPrefix starts the visible marker left in place of a denied tag.
const DeniedPrefix = "⛔ permission denied: "

// Execution records the outcome of one tool invocation.
type Execution struct {
	Tool    types.ToolName `json:"tool"`
	Agent   string         `json:"agent"`
	Success bool           `json:"success"`
	Denied  bool           `json:"denied,omitempty"`
	Message string         `json:"message"`
	Payload any            `json:"payload,omitempty"`
}

// Result is the rewritten text plus the executions that produced it.
type Result struct {
	Text       string      `json:"text"`
	Executions []Execution `json:"executions,omitempty"`
}

// Messaged returns the recipients of successfully delivered sibling
// messages, in text order.
func (r Result) Messaged() []string {
	var ids []string
	for _, e := range r.Executions {
		if e.Tool != types.ToolSiblingMessage || !e.Success {
			continue
		}
		if mail, ok := e.Payload.(types.Mail); ok {
			ids = append(ids, mail.To)
		}
	}
	return ids
}

// ProcessorConfig configures tool effects.
type ProcessorConfig struct {
	OperatorName string  `yaml:"operator_name" json:"operator_name"`
	ShareUtility float64 `yaml:"share_utility" json:"share_utility"`
	ShareBoost   float64 `yaml:"share_boost" json:"share_boost"`
}

// DefaultProcessorConfig returns the default effect settings.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		OperatorName: DefaultOperatorName,
		ShareUtility: 1.0,
		ShareBoost:   0.5,
	}
}

// Dependencies are the collaborators tool effects act on. Missing ones make
// the corresponding tool fail visibly.
type Dependencies struct {
	Policy    *Policy
	Directory Directory
	Mailbox   mailbox.Mailbox
	Library   library.Library
	Memory    memory.Store
	Embedder  embedding.Embedder
	Notifier  notify.Notifier
	Now       func() time.Time
}

// Processor parses agent output, checks permissions and runs tool effects.
type Processor struct {
	deps    Dependencies
	config  ProcessorConfig
	grammar *Grammar
	candle  *CandleTest
	logger  *zap.Logger
}

// NewProcessor creates a processor.
func NewProcessor(deps Dependencies, config ProcessorConfig, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if config.OperatorName == "" {
		config.OperatorName = DefaultOperatorName
	}
	return &Processor{
		deps:    deps,
		config:  config,
		grammar: NewGrammar(config.OperatorName),
		candle:  NewCandleTest(config.OperatorName),
		logger:  logger.With(zap.String("component", "tool_processor")),
	}
}

// Grammar returns the grammar the processor parses with.
func (p *Processor) Grammar() *Grammar { return p.grammar }

// Process runs every tool invocation in text on behalf of agent and returns
// the rewritten text. Text outside matched tags is preserved verbatim.
func (p *Processor) Process(ctx context.Context, agent types.Agent, conversationID, text string) Result {
	invocations := p.grammar.Parse(text)
	if len(invocations) == 0 {
		return Result{Text: text}
	}

	var b strings.Builder
	res := Result{Executions: make([]Execution, 0, len(invocations))}
	last := 0
	for _, inv := range invocations {
		inv.Agent = agent.ID
		b.WriteString(text[last:inv.Start])
		exec, replacement := p.run(ctx, agent, conversationID, inv)
		b.WriteString(replacement)
		res.Executions = append(res.Executions, exec)
		last = inv.End
	}
	b.WriteString(text[last:])
	res.Text = b.String()
	return res
}

func (p *Processor) run(ctx context.Context, agent types.Agent, conversationID string, inv ToolInvocation) (Execution, string) {
	exec := Execution{Tool: inv.Tool, Agent: agent.ID}

	if p.deps.Policy != nil {
		if ok, reason := p.deps.Policy.CanUse(agent.ID, inv.Tool); !ok {
			exec.Denied = true
			exec.Message = reason
			p.logger.Info("tool denied",
				zap.String("agent_id", agent.ID),
				zap.String("tool", string(inv.Tool)),
				zap.String("reason", reason))
			return exec, DeniedPrefix + reason
		}
	}

	var (
		replacement string
		err         error
	)
	switch inv.Tool {
	case types.ToolCandleTest:
		result := p.candle.Evaluate(inv.Body)
		exec.Payload = result
		replacement = result.Format()
	case types.ToolSiblingMessage:
		replacement, exec.Payload, err = p.sendSibling(ctx, agent, conversationID, inv)
	case types.ToolLibrarySave:
		replacement, exec.Payload, err = p.saveToLibrary(ctx, agent, inv)
	case types.ToolShareMemory:
		replacement, exec.Payload, err = p.shareMemory(ctx, conversationID, inv)
	case types.ToolContactOperator:
		replacement, exec.Payload, err = p.contactOperator(ctx, agent, conversationID, inv)
	default:
		err = fmt.Errorf("unknown tool %s", inv.Tool)
	}

	if err != nil {
		exec.Message = err.Error()
		p.logger.Warn("tool failed",
			zap.String("agent_id", agent.ID),
			zap.String("tool", string(inv.Tool)),
			zap.Error(err))
		return exec, fmt.Sprintf("⚠️ %s failed: %s", inv.Tool, err.Error())
	}
	exec.Success = true
	exec.Message = replacement
	return exec, replacement
}

var errEmptyBody = errors.New("empty content")

func (p *Processor) sendSibling(ctx context.Context, agent types.Agent, conversationID string, inv ToolInvocation) (string, any, error) {
	if p.deps.Mailbox == nil || p.deps.Directory == nil {
		return "", nil, errors.New("mailbox unavailable")
	}
	if inv.Body == "" {
		return "", nil, errEmptyBody
	}
	recipient, ok := p.deps.Directory.AgentByName(inv.Argument)
	if !ok {
		return "", nil, fmt.Errorf("unknown recipient %q", inv.Argument)
	}
	mail, err := p.deps.Mailbox.Deliver(ctx, types.Mail{
		From:           agent.ID,
		To:             recipient.ID,
		ConversationID: conversationID,
		Body:           inv.Body,
		CreatedAt:      p.deps.Now(),
	})
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("✉️ message sent to %s", recipient.Name), mail, nil
}

func (p *Processor) saveToLibrary(ctx context.Context, agent types.Agent, inv ToolInvocation) (string, any, error) {
	if p.deps.Library == nil {
		return "", nil, errors.New("library unavailable")
	}
	if inv.Body == "" {
		return "", nil, errEmptyBody
	}
	doc := types.LibraryDocument{
		Title:     inv.Argument,
		Body:      inv.Body,
		AuthorID:  agent.ID,
		CreatedAt: p.deps.Now(),
	}
	if p.deps.Embedder != nil {
		vec, err := p.deps.Embedder.Embed(ctx, inv.Argument+"\n"+inv.Body)
		if err != nil {
			return "", nil, err
		}
		doc.Embedding = vec
	}
	saved, err := p.deps.Library.Save(ctx, doc)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("📚 saved to the library: %q", saved.Title), saved, nil
}

func (p *Processor) shareMemory(ctx context.Context, conversationID string, inv ToolInvocation) (string, any, error) {
	if p.deps.Memory == nil || p.deps.Embedder == nil {
		return "", nil, errors.New("shared memory unavailable")
	}
	if inv.Body == "" {
		return "", nil, errEmptyBody
	}
	vec, err := p.deps.Embedder.Embed(ctx, inv.Body)
	if err != nil {
		return "", nil, err
	}
	doc := types.MemoryDocument{
		ID:        uuid.NewString(),
		Scope:     types.SharedScope(conversationID),
		Text:      inv.Body,
		Embedding: vec,
		Utility:   p.config.ShareUtility + p.config.ShareBoost,
		CreatedAt: p.deps.Now(),
	}
	if err := p.deps.Memory.Put(ctx, doc); err != nil {
		return "", nil, err
	}
	return "🧠 memory shared with the circle", doc.ID, nil
}

func (p *Processor) contactOperator(ctx context.Context, agent types.Agent, conversationID string, inv ToolInvocation) (string, any, error) {
	if p.deps.Notifier == nil {
		return "", nil, errors.New("notifier unavailable")
	}
	if inv.Body == "" {
		return "", nil, errEmptyBody
	}
	n := types.Notification{
		From:           agent.ID,
		ConversationID: conversationID,
		Body:           inv.Body,
		Urgent:         inv.Variant == "CONTATTA URGENTE",
		CreatedAt:      p.deps.Now(),
	}
	if err := p.deps.Notifier.Notify(ctx, n); err != nil {
		return "", nil, err
	}
	if n.Urgent {
		return fmt.Sprintf("🚨 %s contacted (urgent)", p.config.OperatorName), n, nil
	}
	return fmt.Sprintf("📨 %s contacted", p.config.OperatorName), n, nil
}
