package mailbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BaSui01/agentcircle/types"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisMailbox keeps inboxes in Redis lists.
// Keys: <prefix>mail:<agent>:all, <prefix>mail:<agent>:unread, <prefix>mail:<agent>:read (set of ids).
type RedisMailbox struct {
	client    *redis.Client
	keyPrefix string
	now       func() time.Time
	logger    *zap.Logger
}

// NewRedisMailbox creates a mailbox on an existing client.
func NewRedisMailbox(client *redis.Client, keyPrefix string, logger *zap.Logger) *RedisMailbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	if keyPrefix == "" {
		keyPrefix = "agentcircle:"
	}
	return &RedisMailbox{
		client:    client,
		keyPrefix: keyPrefix + "mail:",
		now:       time.Now,
		logger:    logger.With(zap.String("component", "mailbox_redis")),
	}
}

func (m *RedisMailbox) key(agentID, kind string) string {
	return m.keyPrefix + agentID + ":" + kind
}

func (m *RedisMailbox) Deliver(ctx context.Context, mail types.Mail) (types.Mail, error) {
	mail, err := prepare(mail, m.now())
	if err != nil {
		return types.Mail{}, err
	}
	data, err := json.Marshal(mail)
	if err != nil {
		return types.Mail{}, fmt.Errorf("failed to marshal mail: %w", err)
	}

	pipe := m.client.TxPipeline()
	pipe.RPush(ctx, m.key(mail.To, "all"), data)
	pipe.RPush(ctx, m.key(mail.To, "unread"), data)
	if _, err := pipe.Exec(ctx); err != nil {
		return types.Mail{}, fmt.Errorf("failed to deliver mail: %w", err)
	}
	return mail, nil
}

func (m *RedisMailbox) List(ctx context.Context, agentID string) ([]types.Mail, error) {
	raw, err := m.client.LRange(ctx, m.key(agentID, "all"), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list mail: %w", err)
	}
	readIDs, err := m.client.SMembers(ctx, m.key(agentID, "read")).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list read mail: %w", err)
	}
	read := make(map[string]bool, len(readIDs))
	for _, id := range readIDs {
		read[id] = true
	}

	out := make([]types.Mail, 0, len(raw))
	for _, item := range raw {
		mail, ok := m.decode(item)
		if !ok {
			continue
		}
		mail.Read = read[mail.ID]
		out = append(out, mail)
	}
	return out, nil
}

func (m *RedisMailbox) Unread(ctx context.Context, agentID string) ([]types.Mail, error) {
	raw, err := m.client.LRange(ctx, m.key(agentID, "unread"), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list unread mail: %w", err)
	}
	var out []types.Mail
	for _, item := range raw {
		if mail, ok := m.decode(item); ok {
			out = append(out, mail)
		}
	}
	return out, nil
}

func (m *RedisMailbox) MarkRead(ctx context.Context, agentID string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	unreadKey := m.key(agentID, "unread")
	raw, err := m.client.LRange(ctx, unreadKey, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to list unread mail: %w", err)
	}
	marked := make(map[string]bool, len(ids))
	members := make([]any, 0, len(ids))
	for _, id := range ids {
		marked[id] = true
		members = append(members, id)
	}

	// 按原始条目删除，期间新投递的邮件保留在 unread 中
	_, err = m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, item := range raw {
			mail, ok := m.decode(item)
			if ok && marked[mail.ID] {
				pipe.LRem(ctx, unreadKey, 1, item)
			}
		}
		pipe.SAdd(ctx, m.key(agentID, "read"), members...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to mark mail read: %w", err)
	}
	return nil
}

func (m *RedisMailbox) decode(item string) (types.Mail, bool) {
	var mail types.Mail
	if err := json.Unmarshal([]byte(item), &mail); err != nil {
		m.logger.Warn("skipping corrupt mail entry", zap.Error(err))
		return types.Mail{}, false
	}
	return mail, true
}
