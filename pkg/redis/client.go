package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/relaycore/sms-conversation-service/environments"
	"github.com/relaycore/sms-conversation-service/internal/domain"
	"github.com/relaycore/sms-conversation-service/pkg/logger"
)

// Client is a best-effort cache in front of MySQL. The service runs without it
// (nil client): the unique key on provider_sid stays the idempotency authority,
// this just answers the common replay fast and keeps hot conversation
// summaries out of the DB read path.
type Client struct {
	client valkey.Client
}

const (
	seenSIDKeyPrefix       = "inbound_sid:"
	seenSIDTTL             = 24 * time.Hour
	conversationKeyPrefix  = "conversation:"
	conversationSummaryTTL = 5 * time.Minute
)

func NewRedisClient(cfg environments.RedisConfig) (*Client, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)},
		Password:    cfg.Password,
		SelectDB:    cfg.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Infof("Connected to Redis (via Valkey client)")

	return &Client{client: client}, nil
}

// MarkInboundSeen records a processed provider SID. Returns true when this
// call was the first to mark it (SET NX semantics).
func (c *Client) MarkInboundSeen(ctx context.Context, providerSID string) (bool, error) {
	key := seenSIDKeyPrefix + providerSID

	result := c.client.Do(ctx, c.client.B().Set().Key(key).Value("1").Nx().Ex(seenSIDTTL).Build())
	if result.Error() != nil {
		if valkey.IsValkeyNil(result.Error()) {
			// NX miss: key already present.
			return false, nil
		}
		return false, fmt.Errorf("failed to mark inbound sid seen: %w", result.Error())
	}

	return true, nil
}

// InboundSeen reports whether a provider SID has already been processed.
func (c *Client) InboundSeen(ctx context.Context, providerSID string) (bool, error) {
	key := seenSIDKeyPrefix + providerSID

	count, err := c.client.Do(ctx, c.client.B().Exists().Key(key).Build()).AsInt64()
	if err != nil {
		return false, fmt.Errorf("failed to check inbound sid: %w", err)
	}

	return count > 0, nil
}

// CacheConversation stores a conversation snapshot keyed by canonical phone.
func (c *Client) CacheConversation(ctx context.Context, conv *domain.Conversation) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}

	key := conversationKeyPrefix + conv.PhoneCanonical
	err = c.client.Do(ctx, c.client.B().Set().Key(key).Value(string(data)).Ex(conversationSummaryTTL).Build()).Error()
	if err != nil {
		return fmt.Errorf("failed to cache conversation: %w", err)
	}

	logger.Debugf("Cached conversation %s in Redis", conv.PhoneCanonical)

	return nil
}

// GetCachedConversation returns the cached snapshot or nil on miss.
func (c *Client) GetCachedConversation(ctx context.Context, phoneCanonical string) (*domain.Conversation, error) {
	key := conversationKeyPrefix + phoneCanonical

	result := c.client.Do(ctx, c.client.B().Get().Key(key).Build())
	if result.Error() != nil {
		if valkey.IsValkeyNil(result.Error()) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get cached conversation: %w", result.Error())
	}

	data, err := result.ToString()
	if err != nil {
		return nil, fmt.Errorf("failed to read cached conversation: %w", err)
	}

	var conv domain.Conversation
	if err := json.Unmarshal([]byte(data), &conv); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached conversation: %w", err)
	}

	return &conv, nil
}

// InvalidateConversation drops the cached snapshot after a write.
func (c *Client) InvalidateConversation(ctx context.Context, phoneCanonical string) error {
	key := conversationKeyPrefix + phoneCanonical
	return c.client.Do(ctx, c.client.B().Del().Key(key).Build()).Error()
}

func (c *Client) Close() error {
	c.client.Close()
	return nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Do(ctx, c.client.B().Ping().Build()).Error()
}
