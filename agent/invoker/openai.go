package invoker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/agentcircle/internal/ctxkeys"
	"github.com/BaSui01/agentcircle/internal/tlsutil"
	"github.com/BaSui01/agentcircle/types"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"
)

// OpenAIConfig configures an OpenAI-compatible backend.
type OpenAIConfig struct {
	Name         string        `yaml:"name" json:"name"`
	APIKey       string        `yaml:"api_key" json:"api_key"`
	BaseURL      string        `yaml:"base_url" json:"base_url"`
	DefaultModel string        `yaml:"default_model" json:"default_model"`
	Temperature  float64       `yaml:"temperature" json:"temperature"`
	MaxTokens    int64         `yaml:"max_tokens" json:"max_tokens"`
	Timeout      time.Duration `yaml:"timeout" json:"timeout"`
}

// OpenAIInvoker calls a Chat Completions endpoint. The model comes from the
// agent's backend reference, falling back to DefaultModel.
type OpenAIInvoker struct {
	client openai.Client
	config OpenAIConfig
	logger *zap.Logger
}

// NewOpenAIInvoker creates an invoker for cfg. The SDK's own retries are
// disabled.
func NewOpenAIInvoker(cfg OpenAIConfig, logger *zap.Logger) *OpenAIInvoker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Name == "" {
		cfg.Name = "openai"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = openai.ChatModelGPT4oMini
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	opts := []option.RequestOption{
		option.WithMaxRetries(0),
		option.WithHTTPClient(tlsutil.SecureHTTPClient(cfg.Timeout)),
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAIInvoker{
		client: openai.NewClient(opts...),
		config: cfg,
		logger: logger.With(zap.String("component", "invoker_openai"), zap.String("provider", cfg.Name)),
	}
}

func (o *OpenAIInvoker) Complete(ctx context.Context, req Request) (string, error) {
	model := o.config.DefaultModel
	if strings.Contains(req.Agent.Backend, ":") && req.Agent.Model() != "" {
		model = req.Agent.Model()
	}

	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: buildMessages(req),
	}
	if o.config.Temperature > 0 {
		params.Temperature = openai.Float(o.config.Temperature)
	}
	if o.config.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(o.config.MaxTokens)
	}

	start := time.Now()
	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		fields := append(ctxkeys.Fields(ctx), zap.String("model", model), zap.Error(err))
		o.logger.Warn("completion failed", fields...)
		return "", upstreamError(o.config.Name, err)
	}
	if len(resp.Choices) == 0 {
		return "", types.NewError(types.ErrUpstreamError, "completion returned no choices").WithProvider(o.config.Name)
	}
	o.logger.Debug("completion done",
		zap.String("agent_id", req.Agent.ID),
		zap.String("model", model),
		zap.Duration("latency", time.Since(start)))
	return resp.Choices[0].Message.Content, nil
}

func upstreamError(provider string, err error) error {
	e := types.NewError(types.ErrUpstreamError, err.Error()).WithProvider(provider).WithCause(err)
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		e.Message = fmt.Sprintf("%s returned status %d", provider, apiErr.StatusCode)
		e = e.WithRetryable(apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500)
	}
	return e
}

// buildMessages maps the transcript onto chat roles: the agent's own turns
// are assistant messages, everyone else speaks as a named user.
func buildMessages(req Request) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.History)+2)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	for _, m := range req.History {
		text := m.Text
		if m.Attachment != nil && m.Attachment.Name != "" {
			// 历史中只保留文件名，内容随 req.Attachment 附在本轮提示后
			text += " [📎 " + m.Attachment.Name + "]"
		}
		switch {
		case m.Sender == req.Agent.ID:
			messages = append(messages, openai.AssistantMessage(text))
		case m.Sender == types.SenderSystem:
			messages = append(messages, openai.UserMessage("[sistema] "+text))
		default:
			messages = append(messages, openai.UserMessage(req.SenderName(m.Sender)+": "+text))
		}
	}

	prompt := req.Prompt
	if req.Attachment != nil && req.Attachment.Content != "" {
		prompt += fmt.Sprintf("\n\n📎 %s\n%s", req.Attachment.Name, req.Attachment.Content)
	}
	if strings.TrimSpace(prompt) != "" {
		messages = append(messages, openai.UserMessage(prompt))
	}
	return messages
}
