package internal

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/google/uuid"
)

// Identity 玩家身分
type Identity struct {
	PlayerID    string `json:"player_id"`
	DisplayName string `json:"display_name"`
}

// IdentityProvider 提供玩家身分
//
// 實際部署時應委派給驗證服務；這裡只需要在任何大廳操作前給出
// 唯一的玩家 ID 與顯示名稱。
type IdentityProvider interface {
	Resolve(ctx context.Context, playerID, displayName string) (Identity, error)
}

// IdentityStub 匿名身分替身
//
//   - 沒有玩家 ID 時視為匿名登入，配發 uuid
//   - 有提供名稱時記住它（ristretto 快取）
//   - 查不到名稱時走預設分支，產生 Guest_NNNN 並記住
type IdentityStub struct {
	names  *ristretto.Cache
	ttl    time.Duration
	logger *slog.Logger
}

// NewIdentityStub 創建身分替身
func NewIdentityStub(ttl time.Duration, logger *slog.Logger) (*IdentityStub, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create name cache: %w", err)
	}

	return &IdentityStub{
		names:  cache,
		ttl:    ttl,
		logger: logger,
	}, nil
}

// Resolve 解析玩家身分
func (s *IdentityStub) Resolve(ctx context.Context, playerID, displayName string) (Identity, error) {
	playerID = strings.TrimSpace(playerID)
	displayName = strings.TrimSpace(displayName)

	if playerID == "" {
		playerID = uuid.NewString()
		s.logger.DebugContext(ctx, "匿名登入", "player_id", playerID)
	}

	if displayName != "" {
		s.remember(playerID, displayName)
		return Identity{PlayerID: playerID, DisplayName: displayName}, nil
	}

	if cached, ok := s.names.Get(playerID); ok {
		if name, ok := cached.(string); ok {
			return Identity{PlayerID: playerID, DisplayName: name}, nil
		}
	}

	// 查無自訂名稱是預期情況：產生預設暱稱，不視為錯誤
	name := GuestName()
	s.remember(playerID, name)
	s.logger.DebugContext(ctx, "無自訂名稱，使用預設暱稱", "player_id", playerID, "name", name)
	return Identity{PlayerID: playerID, DisplayName: name}, nil
}

// remember 記住名稱（ristretto 寫入是非同步的，Wait 讓後續讀取可見）
func (s *IdentityStub) remember(playerID, name string) {
	s.names.SetWithTTL(playerID, name, int64(len(name)), s.ttl)
	s.names.Wait()
}

// Close 釋放快取資源
func (s *IdentityStub) Close() {
	s.names.Close()
}

// GuestName 產生 Guest_1000 ~ Guest_9999 的預設暱稱
func GuestName() string {
	n, err := rand.Int(rand.Reader, big.NewInt(9000))
	if err != nil {
		// 隨機來源失敗時退回時間
		return fmt.Sprintf("Guest_%d", 1000+time.Now().UnixNano()%9000)
	}
	return fmt.Sprintf("Guest_%d", 1000+n.Int64())
}
