// Package notify delivers out-of-band messages from agents to the human operator.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/BaSui01/agentcircle/internal/ctxkeys"
	"github.com/BaSui01/agentcircle/internal/tlsutil"
	"github.com/BaSui01/agentcircle/types"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrThrottled is returned when a non-urgent notification exceeds the rate limit.
var ErrThrottled = errors.New("notification throttled")

// Notifier sends notifications to the operator.
type Notifier interface {
	Notify(ctx context.Context, n types.Notification) error
}

// =============================================================================
// Log notifier
// =============================================================================

// LogNotifier writes notifications to the log. It is the fallback when no
// webhook is configured.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger.With(zap.String("component", "notifier_log"))}
}

func (l *LogNotifier) Notify(ctx context.Context, n types.Notification) error {
	fields := []zap.Field{
		zap.String("from", n.From),
		zap.String("conversation_id", n.ConversationID),
		zap.String("body", n.Body),
	}
	if n.Urgent {
		l.logger.Warn("urgent operator notification", fields...)
	} else {
		l.logger.Info("operator notification", fields...)
	}
	return nil
}

// =============================================================================
// Webhook notifier
// =============================================================================

// WebhookConfig configures the webhook notifier.
type WebhookConfig struct {
	URL     string        `yaml:"url" json:"url"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	// RatePerMinute bounds non-urgent notifications. Urgent ones wait for a token.
	RatePerMinute int `yaml:"rate_per_minute" json:"rate_per_minute"`
	Burst         int `yaml:"burst" json:"burst"`
}

// WebhookNotifier POSTs notifications as JSON.
type WebhookNotifier struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

func NewWebhookNotifier(cfg WebhookConfig, logger *zap.Logger) (*WebhookNotifier, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RatePerMinute <= 0 {
		cfg.RatePerMinute = 6
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 2
	}
	return &WebhookNotifier{
		url:     cfg.URL,
		client:  tlsutil.SecureHTTPClient(cfg.Timeout),
		limiter: rate.NewLimiter(rate.Limit(float64(cfg.RatePerMinute)/60.0), cfg.Burst),
		logger:  logger.With(zap.String("component", "notifier_webhook")),
	}, nil
}

func (w *WebhookNotifier) Notify(ctx context.Context, n types.Notification) error {
	if n.Urgent {
		if err := w.limiter.Wait(ctx); err != nil {
			return err
		}
	} else if !w.limiter.Allow() {
		w.logger.Warn("notification throttled", zap.String("from", n.From))
		return ErrThrottled
	}

	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if turnID, ok := ctxkeys.TurnID(ctx); ok {
		req.Header.Set("X-Turn-ID", turnID)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// =============================================================================
// Fan-out
// =============================================================================

// Multi sends to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n types.Notification) error {
	var errs []error
	for _, notifier := range m {
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps notifications in memory, newest last. The operator API reads it.
type Recorder struct {
	mu    sync.RWMutex
	items []types.Notification
	limit int
}

// NewRecorder keeps at most limit notifications (0 means 100).
func NewRecorder(limit int) *Recorder {
	if limit <= 0 {
		limit = 100
	}
	return &Recorder{limit: limit}
}

func (r *Recorder) Notify(ctx context.Context, n types.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
	if len(r.items) > r.limit {
		r.items = r.items[len(r.items)-r.limit:]
	}
	return nil
}

// Items returns a copy of the recorded notifications.
func (r *Recorder) Items() []types.Notification {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]types.Notification{}, r.items...)
}
