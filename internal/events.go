package internal

import (
	"context"
	"time"
)

// EventType 大廳事件類型
type EventType string

const (
	EventLobbyCreated EventType = "lobby_created"
	EventMemberJoined EventType = "member_joined"
	EventMemberLeft   EventType = "member_left"
	EventHostChanged  EventType = "host_changed"
	EventLobbyClosed  EventType = "lobby_closed"
)

// Event 大廳事件
type Event struct {
	Type      EventType `json:"event"`
	LobbyID   string    `json:"lobby_id"`
	PlayerID  string    `json:"player_id,omitempty"`
	Lobby     Lobby     `json:"lobby"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher 事件發布者
//
// 實作不可阻塞太久：Directory 在請求路徑上同步呼叫，錯誤只記錄不返回。
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// PublisherFunc 函數轉 Publisher
type PublisherFunc func(ctx context.Context, event Event) error

// Publish 實現 Publisher
func (f PublisherFunc) Publish(ctx context.Context, event Event) error {
	return f(ctx, event)
}
