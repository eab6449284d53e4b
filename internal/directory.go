package internal

import (
	"context"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

const (
	maxDataKeyLength   = 64
	maxDataValueLength = 256
)

// DirectoryConfig 目錄服務驗證規則
type DirectoryConfig struct {
	MaxNameLength  int
	MaxDataEntries int
}

// CreateLobbyRequest 創建大廳參數
type CreateLobbyRequest struct {
	Name        string
	MaxPlayers  int
	IsPrivate   bool
	PlayerID    string
	DisplayName string
	PlayerData  map[string]string
	Data        map[string]string
}

// JoinRequest 加入大廳參數
type JoinRequest struct {
	PlayerID    string
	DisplayName string
	PlayerData  map[string]string
}

// Directory 大廳目錄服務
//
// 對外的唯一入口：驗證輸入、透過 IdentityProvider 建立成員，
// 再交由 Store 修改狀態，最後發布事件。
type Directory struct {
	store    *Store
	identity IdentityProvider
	cfg      DirectoryConfig
	logger   *slog.Logger

	pubMu      sync.RWMutex
	publishers []Publisher
}

// NewDirectory 創建目錄服務
func NewDirectory(store *Store, identity IdentityProvider, cfg DirectoryConfig, logger *slog.Logger) *Directory {
	return &Directory{
		store:    store,
		identity: identity,
		cfg:      cfg,
		logger:   logger,
	}
}

// Subscribe 註冊事件發布者
func (d *Directory) Subscribe(p Publisher) {
	d.pubMu.Lock()
	d.publishers = append(d.publishers, p)
	d.pubMu.Unlock()
}

// CreateLobby 創建大廳，呼叫者成為房主
func (d *Directory) CreateLobby(ctx context.Context, req CreateLobbyRequest) (Lobby, error) {
	name := strings.TrimSpace(req.Name)
	if err := d.validateName(name); err != nil {
		return Lobby{}, err
	}
	if err := d.validateData("lobby data", req.Data); err != nil {
		return Lobby{}, err
	}
	host, err := d.member(ctx, req.PlayerID, req.DisplayName, req.PlayerData)
	if err != nil {
		return Lobby{}, err
	}

	lobby, err := d.store.Create(name, req.MaxPlayers, req.IsPrivate, host, req.Data)
	if err != nil {
		return Lobby{}, err
	}

	d.logger.InfoContext(ctx, "大廳已創建",
		"lobby_id", lobby.ID,
		"join_code", lobby.JoinCode,
		"name", lobby.Name,
		"max_players", lobby.MaxPlayers,
		"private", lobby.IsPrivate,
		"host_id", lobby.HostID)

	d.publish(ctx, EventLobbyCreated, lobby, lobby.HostID)
	return lobby, nil
}

// ListLobbies 列出大廳（惰性序列，由新到舊）
func (d *Directory) ListLobbies(_ context.Context, filter ListFilter) iter.Seq[Lobby] {
	return d.store.List(filter)
}

// GetLobby 依 ID 取得大廳
func (d *Directory) GetLobby(_ context.Context, lobbyID string) (Lobby, error) {
	return d.store.Get(lobbyID)
}

// LookupByCode 依加入碼取得大廳
func (d *Directory) LookupByCode(_ context.Context, code string) (Lobby, error) {
	code = NormalizeCode(code)
	if err := d.validateCode(code); err != nil {
		return Lobby{}, err
	}
	return d.store.GetByCode(code)
}

// Join 依 ID 加入大廳
func (d *Directory) Join(ctx context.Context, lobbyID string, req JoinRequest) (Lobby, error) {
	member, err := d.member(ctx, req.PlayerID, req.DisplayName, req.PlayerData)
	if err != nil {
		return Lobby{}, err
	}

	lobby, err := d.store.AddMember(lobbyID, member)
	if err != nil {
		return Lobby{}, err
	}

	d.logger.InfoContext(ctx, "玩家加入大廳",
		"lobby_id", lobby.ID,
		"player_id", member.PlayerID,
		"display_name", member.DisplayName,
		"players", lobby.PlayerCount(),
		"max_players", lobby.MaxPlayers)

	d.publish(ctx, EventMemberJoined, lobby, member.PlayerID)
	return lobby, nil
}

// JoinByCode 依加入碼加入大廳
func (d *Directory) JoinByCode(ctx context.Context, code string, req JoinRequest) (Lobby, error) {
	target, err := d.LookupByCode(ctx, code)
	if err != nil {
		return Lobby{}, err
	}
	return d.Join(ctx, target.ID, req)
}

// Leave 離開大廳
//
// 對已離開的玩家再次呼叫會返回 NotFound 且狀態不變，呼叫端應視為成功。
func (d *Directory) Leave(ctx context.Context, lobbyID, playerID string) error {
	removal, err := d.store.RemoveMember(lobbyID, playerID)
	if err != nil {
		return err
	}

	d.logger.InfoContext(ctx, "玩家離開大廳",
		"lobby_id", lobbyID,
		"player_id", playerID,
		"was_host", removal.Removed.IsHost())

	d.publish(ctx, EventMemberLeft, removal.Lobby, playerID)

	if removal.NewHost != nil {
		d.logger.InfoContext(ctx, "房主已轉移",
			"lobby_id", lobbyID,
			"from", playerID,
			"to", removal.NewHost.PlayerID)
		d.publish(ctx, EventHostChanged, removal.Lobby, removal.NewHost.PlayerID)
	}

	if removal.Closed {
		d.logger.InfoContext(ctx, "大廳已無成員，關閉", "lobby_id", lobbyID)
		d.publish(ctx, EventLobbyClosed, removal.Lobby, playerID)
	}
	return nil
}

// Heartbeat 刷新大廳心跳
//
// 每個大廳只有一個期限：非房主的心跳同樣被接受，沒有額外效果。
// playerID 為空時不檢查成員身分。
func (d *Directory) Heartbeat(ctx context.Context, lobbyID, playerID string) (Lobby, error) {
	if playerID != "" {
		lobby, err := d.store.Get(lobbyID)
		if err != nil {
			return Lobby{}, err
		}
		member, ok := lobby.Member(playerID)
		if !ok {
			return Lobby{}, notFound("player %s not in lobby %s", playerID, lobbyID)
		}
		if !member.IsHost() {
			d.logger.DebugContext(ctx, "非房主送出心跳", "lobby_id", lobbyID, "player_id", playerID)
		}
	}

	lobby, err := d.store.RefreshHeartbeat(lobbyID)
	if err != nil {
		return Lobby{}, err
	}

	d.logger.DebugContext(ctx, "心跳已刷新",
		"lobby_id", lobbyID,
		"expires_at", lobby.ExpiresAt)
	return lobby, nil
}

// ListPlayers 列出大廳成員（依加入順序）
func (d *Directory) ListPlayers(_ context.Context, lobbyID string) ([]Member, error) {
	lobby, err := d.store.Get(lobbyID)
	if err != nil {
		return nil, err
	}
	return lobby.Members, nil
}

// CloseLobby 房主關閉大廳
func (d *Directory) CloseLobby(ctx context.Context, lobbyID, playerID string) error {
	lobby, err := d.store.Get(lobbyID)
	if err != nil {
		return err
	}
	if lobby.HostID != playerID {
		return forbidden("only the host can close lobby %s", lobbyID)
	}

	closed, err := d.store.Close(lobbyID)
	if err != nil {
		return err
	}

	d.logger.InfoContext(ctx, "大廳已由房主關閉", "lobby_id", lobbyID, "host_id", playerID)
	d.publish(ctx, EventLobbyClosed, closed, playerID)
	return nil
}

// Stats 統計資訊
func (d *Directory) Stats() StoreStats {
	return d.store.Stats()
}

// member 透過身分提供者建立成員
func (d *Directory) member(ctx context.Context, playerID, displayName string, data map[string]string) (Member, error) {
	if err := d.validateData("player data", data); err != nil {
		return Member{}, err
	}
	if utf8.RuneCountInString(displayName) > d.cfg.MaxNameLength {
		return Member{}, validationError("display name longer than %d characters", d.cfg.MaxNameLength)
	}

	id, err := d.identity.Resolve(ctx, playerID, displayName)
	if err != nil {
		return Member{}, err
	}
	return Member{
		PlayerID:    id.PlayerID,
		DisplayName: id.DisplayName,
		Data:        data,
	}, nil
}

// publish 發布事件，失敗只記錄
func (d *Directory) publish(ctx context.Context, typ EventType, lobby Lobby, playerID string) {
	d.pubMu.RLock()
	publishers := make([]Publisher, len(d.publishers))
	copy(publishers, d.publishers)
	d.pubMu.RUnlock()

	if len(publishers) == 0 {
		return
	}

	event := Event{
		Type:      typ,
		LobbyID:   lobby.ID,
		PlayerID:  playerID,
		Lobby:     lobby,
		Timestamp: time.Now(),
	}
	for _, p := range publishers {
		if err := p.Publish(ctx, event); err != nil {
			d.logger.WarnContext(ctx, "事件發布失敗",
				"event", typ,
				"lobby_id", lobby.ID,
				"error", err)
		}
	}
}

func (d *Directory) validateName(name string) error {
	if name == "" {
		return validationError("lobby name must not be empty")
	}
	if utf8.RuneCountInString(name) > d.cfg.MaxNameLength {
		return validationError("lobby name longer than %d characters", d.cfg.MaxNameLength)
	}
	return nil
}

func (d *Directory) validateData(what string, data map[string]string) error {
	if len(data) > d.cfg.MaxDataEntries {
		return validationError("%s has %d entries, limit is %d", what, len(data), d.cfg.MaxDataEntries)
	}
	for k, v := range data {
		if strings.TrimSpace(k) == "" {
			return validationError("%s contains an empty key", what)
		}
		if utf8.RuneCountInString(k) > maxDataKeyLength {
			return validationError("%s key %q longer than %d characters", what, k, maxDataKeyLength)
		}
		if utf8.RuneCountInString(v) > maxDataValueLength {
			return validationError("%s value for %q longer than %d characters", what, k, maxDataValueLength)
		}
	}
	return nil
}

func (d *Directory) validateCode(code string) error {
	cfg := d.store.Config()
	if len(code) != cfg.CodeLength {
		return validationError("join code must be %d characters", cfg.CodeLength)
	}
	for _, r := range code {
		if !strings.ContainsRune(cfg.CodeAlphabet, r) {
			return validationError("join code contains invalid character %q", r)
		}
	}
	return nil
}
