package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

// 跨行程事件發布
//
// 大廳狀態只存在單一行程內；外部服務（例如對戰伺服器、統計）
// 透過 Redis Pub/Sub 或 NATS 訂閱事件，不回寫狀態。

// RedisPublisher 以 Redis PUBLISH 發布事件
//
// 頻道格式：{prefix}:{lobby_id}
type RedisPublisher struct {
	client  redis.UniversalClient
	prefix  string
	timeout time.Duration
}

// NewRedisPublisher 創建 Redis 發布者
func NewRedisPublisher(client redis.UniversalClient, prefix string, timeout time.Duration) *RedisPublisher {
	return &RedisPublisher{
		client:  client,
		prefix:  prefix,
		timeout: timeout,
	}
}

// Channel 事件頻道名稱
func (p *RedisPublisher) Channel(lobbyID string) string {
	return fmt.Sprintf("%s:%s", p.prefix, lobbyID)
}

// Publish 實現 Publisher
func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.client.Publish(ctx, p.Channel(event.LobbyID), payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", event.Type, err)
	}
	return nil
}

// NatsPublisher 以 NATS 發布事件
//
// 主題格式：{prefix}.{lobby_id}.{event}，訂閱者可用 {prefix}.*.member_joined 之類的萬用字元。
type NatsPublisher struct {
	conn   *nats.Conn
	prefix string
}

// NewNatsPublisher 創建 NATS 發布者
func NewNatsPublisher(conn *nats.Conn, prefix string) *NatsPublisher {
	return &NatsPublisher{
		conn:   conn,
		prefix: prefix,
	}
}

// Subject 事件主題名稱
func (p *NatsPublisher) Subject(event Event) string {
	return fmt.Sprintf("%s.%s.%s", p.prefix, event.LobbyID, event.Type)
}

// Publish 實現 Publisher
func (p *NatsPublisher) Publish(_ context.Context, event Event) error {
	if p.conn == nil || !p.conn.IsConnected() {
		return fmt.Errorf("nats publish %s: %w", event.Type, nats.ErrConnectionClosed)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return p.conn.Publish(p.Subject(event), payload)
}

// ConnectPublishers 依配置建立外部發布者，返回關閉函數
func ConnectPublishers(ctx context.Context, cfg EventsConfig, logger *slog.Logger) ([]Publisher, func(), error) {
	var (
		publishers []Publisher
		closers    []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, cfg.PublishTimeout)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			_ = client.Close()
			closeAll()
			return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		publishers = append(publishers, NewRedisPublisher(client, cfg.RedisChannelPrefix, cfg.PublishTimeout))
		closers = append(closers, func() { _ = client.Close() })
		logger.Info("Redis 事件發布已啟用", "addr", cfg.RedisAddr, "prefix", cfg.RedisChannelPrefix)
	}

	if cfg.NatsURL != "" {
		conn, err := nats.Connect(cfg.NatsURL,
			nats.Name("lobbyd"),
			nats.Timeout(cfg.PublishTimeout),
		)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("connect nats %s: %w", cfg.NatsURL, err)
		}
		publishers = append(publishers, NewNatsPublisher(conn, cfg.NatsSubjectPrefix))
		closers = append(closers, func() {
			if err := conn.Drain(); err != nil {
				conn.Close()
			}
		})
		logger.Info("NATS 事件發布已啟用", "url", cfg.NatsURL, "prefix", cfg.NatsSubjectPrefix)
	}

	return publishers, closeAll, nil
}
