package internal

import (
	"crypto/rand"
	"fmt"
	"iter"
	"maps"
	"math/big"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// maxCodeAttempts 產生加入碼的最大重試次數
const maxCodeAttempts = 32

// StoreConfig 大廳存儲配置
type StoreConfig struct {
	HeartbeatTTL time.Duration // 心跳存活時間
	MaxLobbySize int           // 單一大廳人數上限
	CodeLength   int           // 加入碼長度
	CodeAlphabet string        // 加入碼字元集
}

// StoreOption Store 選項
type StoreOption func(*Store)

// WithClock 替換時間來源（測試用）
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// WithIDGenerator 替換大廳 ID 產生器
func WithIDGenerator(gen func() string) StoreOption {
	return func(s *Store) {
		s.newID = gen
	}
}

// Store 大廳存儲
//
// 鎖順序：先 Store.mu 再 lobbyState.mu，持有大廳鎖時不得再取 Store.mu。
//
// 清理與加入的競爭：
//
//	清理先取得大廳鎖 → 標記 closed → 釋放 → 從 map 摘除
//	加入若先取得鎖則成功，隨後仍被本輪清理移除；
//	加入若後取得鎖則看到 closed，返回 NotFound。
type Store struct {
	cfg StoreConfig

	mu      sync.RWMutex
	lobbies map[string]*lobbyState // lobbyID -> lobby
	codes   map[string]string      // joinCode -> lobbyID
	seq     uint64

	now   func() time.Time
	newID func() string
}

// NewStore 創建大廳存儲
func NewStore(cfg StoreConfig, opts ...StoreOption) *Store {
	s := &Store{
		cfg:     cfg,
		lobbies: make(map[string]*lobbyState),
		codes:   make(map[string]string),
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config 返回存儲配置
func (s *Store) Config() StoreConfig {
	return s.cfg
}

// Create 創建大廳，host 成為唯一成員
func (s *Store) Create(name string, maxPlayers int, isPrivate bool, host Member, data map[string]string) (Lobby, error) {
	if maxPlayers < 1 {
		return Lobby{}, capacityError("max players must be at least 1, got %d", maxPlayers)
	}
	if s.cfg.MaxLobbySize > 0 && maxPlayers > s.cfg.MaxLobbySize {
		return Lobby{}, capacityError("max players must not exceed %d, got %d", s.cfg.MaxLobbySize, maxPlayers)
	}

	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	code, err := s.uniqueCode()
	if err != nil {
		return Lobby{}, err
	}

	s.seq++
	state := &lobbyState{
		id:            s.newID(),
		code:          code,
		name:          name,
		maxPlayers:    maxPlayers,
		private:       isPrivate,
		createdAt:     now,
		seq:           s.seq,
		data:          maps.Clone(data),
		members:       make(map[string]*Member),
		lastHeartbeat: now,
		deadline:      now.Add(s.cfg.HeartbeatTTL),
	}
	state.addMember(host, RoleHost, now)

	s.lobbies[state.id] = state
	s.codes[code] = state.id

	return state.snapshot(), nil
}

// Get 依 ID 取得大廳
func (s *Store) Get(id string) (Lobby, error) {
	state, err := s.lookup(id)
	if err != nil {
		return Lobby{}, err
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	if !state.live(s.now()) {
		return Lobby{}, notFound("lobby %s not found", id)
	}
	return state.snapshot(), nil
}

// GetByCode 依加入碼取得大廳（不分大小寫）
func (s *Store) GetByCode(code string) (Lobby, error) {
	s.mu.RLock()
	id, exists := s.codes[NormalizeCode(code)]
	s.mu.RUnlock()
	if !exists {
		return Lobby{}, notFound("join code %s not found", code)
	}

	lobby, err := s.Get(id)
	if err != nil {
		return Lobby{}, notFound("join code %s not found", code)
	}
	return lobby, nil
}

// ListFilter 列表過濾條件
type ListFilter struct {
	// IncludePrivate 包含 RequesterID 所屬的私人大廳
	IncludePrivate bool
	RequesterID    string
	// AvailableOnly 只列出仍有空位的大廳
	AvailableOnly bool
	// Data 大廳資料需完全相符的鍵值
	Data map[string]string
}

func (f ListFilter) match(l Lobby) bool {
	if l.IsPrivate {
		if !f.IncludePrivate || f.RequesterID == "" {
			return false
		}
		if _, ok := l.Member(f.RequesterID); !ok {
			return false
		}
	}
	if f.AvailableOnly && l.AvailableSlots() <= 0 {
		return false
	}
	for k, v := range f.Data {
		if l.Data[k] != v {
			return false
		}
	}
	return true
}

// List 列出大廳，依建立順序由新到舊
//
// 返回的序列是惰性的：每次迭代才取快照，且可以重複迭代。
func (s *Store) List(filter ListFilter) iter.Seq[Lobby] {
	return func(yield func(Lobby) bool) {
		s.mu.RLock()
		states := make([]*lobbyState, 0, len(s.lobbies))
		for _, state := range s.lobbies {
			states = append(states, state)
		}
		s.mu.RUnlock()

		slices.SortFunc(states, func(a, b *lobbyState) int {
			switch {
			case a.seq > b.seq:
				return -1
			case a.seq < b.seq:
				return 1
			}
			return 0
		})

		for _, state := range states {
			state.mu.Lock()
			live := state.live(s.now())
			var lobby Lobby
			if live {
				lobby = state.snapshot()
			}
			state.mu.Unlock()

			if !live || !filter.match(lobby) {
				continue
			}
			if !yield(lobby) {
				return
			}
		}
	}
}

// AddMember 加入成員
func (s *Store) AddMember(lobbyID string, member Member) (Lobby, error) {
	state, err := s.lookup(lobbyID)
	if err != nil {
		return Lobby{}, err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	if !state.live(s.now()) {
		return Lobby{}, notFound("lobby %s not found", lobbyID)
	}
	if len(state.members) >= state.maxPlayers {
		return Lobby{}, capacityError("lobby %s is full (%d/%d)", lobbyID, len(state.members), state.maxPlayers)
	}
	if _, exists := state.members[member.PlayerID]; exists {
		return Lobby{}, duplicateError("player %s already in lobby %s", member.PlayerID, lobbyID)
	}

	state.addMember(member, RoleGuest, s.now())
	return state.snapshot(), nil
}

// Removal 移除成員的結果
type Removal struct {
	Lobby   Lobby   // 移除後的快照（Closed 時為最後狀態）
	Removed Member  // 被移除的成員
	NewHost *Member // 房主轉移時的新房主
	Closed  bool    // 最後一位成員離開，大廳已銷毀
}

// RemoveMember 移除成員
//
// 房主離開時由最早加入的成員接任；沒有剩餘成員時銷毀大廳。
func (s *Store) RemoveMember(lobbyID, playerID string) (Removal, error) {
	state, err := s.lookup(lobbyID)
	if err != nil {
		return Removal{}, err
	}

	state.mu.Lock()
	if !state.live(s.now()) {
		state.mu.Unlock()
		return Removal{}, notFound("lobby %s not found", lobbyID)
	}
	member, exists := state.members[playerID]
	if !exists {
		state.mu.Unlock()
		return Removal{}, notFound("player %s not in lobby %s", playerID, lobbyID)
	}

	delete(state.members, playerID)
	result := Removal{Removed: *member}

	if len(state.members) == 0 {
		state.hostID = ""
		state.closed = true
		result.Closed = true
	} else if member.Role == RoleHost {
		if promoted, ok := state.promoteEarliest(); ok {
			c := *promoted
			result.NewHost = &c
		}
	}
	result.Lobby = state.snapshot()
	state.mu.Unlock()

	if result.Closed {
		s.detach(state)
	}
	return result, nil
}

// RefreshHeartbeat 延長心跳期限為 now + TTL
func (s *Store) RefreshHeartbeat(lobbyID string) (Lobby, error) {
	state, err := s.lookup(lobbyID)
	if err != nil {
		return Lobby{}, err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	now := s.now()
	if !state.live(now) {
		return Lobby{}, notFound("lobby %s not found", lobbyID)
	}
	state.lastHeartbeat = now
	state.deadline = now.Add(s.cfg.HeartbeatTTL)
	return state.snapshot(), nil
}

// Close 主動關閉大廳
func (s *Store) Close(lobbyID string) (Lobby, error) {
	state, err := s.lookup(lobbyID)
	if err != nil {
		return Lobby{}, err
	}

	state.mu.Lock()
	if !state.live(s.now()) {
		state.mu.Unlock()
		return Lobby{}, notFound("lobby %s not found", lobbyID)
	}
	state.closed = true
	lobby := state.snapshot()
	state.mu.Unlock()

	s.detach(state)
	return lobby, nil
}

// EvictExpired 移除所有心跳期限已過的大廳，返回被移除大廳的最後快照
//
// 已被標記 closed 但尚未摘除的大廳也會在這裡一併清除。
func (s *Store) EvictExpired() []Lobby {
	s.mu.RLock()
	states := make([]*lobbyState, 0, len(s.lobbies))
	for _, state := range s.lobbies {
		states = append(states, state)
	}
	s.mu.RUnlock()

	var evicted []Lobby
	for _, state := range states {
		state.mu.Lock()
		now := s.now()
		if state.closed {
			state.mu.Unlock()
			s.detach(state)
			continue
		}
		if now.Before(state.deadline) {
			state.mu.Unlock()
			continue
		}
		state.closed = true
		lobby := state.snapshot()
		state.mu.Unlock()

		s.detach(state)
		evicted = append(evicted, lobby)
	}
	return evicted
}

// StoreStats 存儲統計
type StoreStats struct {
	TotalLobbies   int `json:"total_lobbies"`
	PublicLobbies  int `json:"public_lobbies"`
	PrivateLobbies int `json:"private_lobbies"`
	TotalPlayers   int `json:"total_players"`
}

// Stats 統計存活中的大廳
func (s *Store) Stats() StoreStats {
	s.mu.RLock()
	states := make([]*lobbyState, 0, len(s.lobbies))
	for _, state := range s.lobbies {
		states = append(states, state)
	}
	s.mu.RUnlock()

	var stats StoreStats
	for _, state := range states {
		state.mu.Lock()
		if state.live(s.now()) {
			stats.TotalLobbies++
			stats.TotalPlayers += len(state.members)
			if state.private {
				stats.PrivateLobbies++
			} else {
				stats.PublicLobbies++
			}
		}
		state.mu.Unlock()
	}
	return stats
}

// lookup 取得內部狀態（不檢查存活）
func (s *Store) lookup(id string) (*lobbyState, error) {
	s.mu.RLock()
	state, exists := s.lobbies[id]
	s.mu.RUnlock()
	if !exists {
		return nil, notFound("lobby %s not found", id)
	}
	return state, nil
}

// detach 從索引中摘除大廳（不可持有 state.mu）
func (s *Store) detach(state *lobbyState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, exists := s.lobbies[state.id]; exists && current == state {
		delete(s.lobbies, state.id)
	}
	if id, exists := s.codes[state.code]; exists && id == state.id {
		delete(s.codes, state.code)
	}
}

// uniqueCode 產生未被使用的加入碼（需要持有 s.mu 寫鎖）
func (s *Store) uniqueCode() (string, error) {
	for range maxCodeAttempts {
		code, err := generateJoinCode(s.cfg.CodeAlphabet, s.cfg.CodeLength)
		if err != nil {
			return "", err
		}
		if _, taken := s.codes[code]; !taken {
			return code, nil
		}
	}
	return "", fmt.Errorf("no free join code after %d attempts", maxCodeAttempts)
}

// generateJoinCode 生成簡短的加入碼
func generateJoinCode(alphabet string, length int) (string, error) {
	if alphabet == "" || length < 1 {
		return "", fmt.Errorf("invalid join code settings: alphabet=%q length=%d", alphabet, length)
	}
	limit := big.NewInt(int64(len(alphabet)))
	b := make([]byte, length)
	for i := range b {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generate join code: %w", err)
		}
		b[i] = alphabet[n.Int64()]
	}
	return string(b), nil
}

// NormalizeCode 加入碼統一轉大寫並去除空白
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
