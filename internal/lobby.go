package internal

import (
	"maps"
	"slices"
	"sync"
	"time"
)

// 系統設計問題：
//   如何讓大量客戶端同時建立、加入、離開大廳，並在房主失聯時自動回收大廳？
//
// 核心挑戰：
//   1. 容量約束：任何時刻成員數都不能超過上限
//   2. 房主唯一：房主離開時必須確定性地轉移給下一位
//   3. 存活檢測：房主停止心跳後大廳必須從列表與加入碼中消失
//   4. 並發控制：心跳清理與加入操作同時發生時結果必須確定
//
// 設計方案：
//   ✅ 每個大廳一把 Mutex - 同一大廳的變更串行化
//   ✅ closed 標記 - 清理與移除先標記再摘除，其他操作看到標記即返回 NotFound
//   ✅ 加入序號 - 以 joinSeq 決定房主轉移順序（不依賴時鐘精度）
//   ✅ 快照返回 - 呼叫者只拿到值拷貝，內部狀態不外洩

// Role 成員角色
type Role string

const (
	RoleHost  Role = "host"  // 房主（每個大廳恰好一位）
	RoleGuest Role = "guest" // 一般成員
)

// Member 大廳成員（快照）
type Member struct {
	PlayerID    string            `json:"player_id"`
	DisplayName string            `json:"display_name"`
	Data        map[string]string `json:"data,omitempty"`
	Role        Role              `json:"role"`
	JoinedAt    time.Time         `json:"joined_at"`
	JoinSeq     uint64            `json:"join_seq"`
}

// IsHost 是否為房主
func (m Member) IsHost() bool {
	return m.Role == RoleHost
}

// Lobby 大廳（快照）
//
// Store 只對外返回 Lobby 值，修改必須透過 Store 的方法。
type Lobby struct {
	ID            string            `json:"lobby_id"`
	JoinCode      string            `json:"join_code"`
	Name          string            `json:"name"`
	MaxPlayers    int               `json:"max_players"`
	IsPrivate     bool              `json:"is_private"`
	HostID        string            `json:"host_id"`
	Members       []Member          `json:"members"`
	Data          map[string]string `json:"data,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	LastHeartbeat time.Time         `json:"last_heartbeat"`
	ExpiresAt     time.Time         `json:"expires_at"`
}

// PlayerCount 成員數
func (l Lobby) PlayerCount() int {
	return len(l.Members)
}

// AvailableSlots 剩餘名額
func (l Lobby) AvailableSlots() int {
	return l.MaxPlayers - len(l.Members)
}

// Member 依玩家 ID 查找成員
func (l Lobby) Member(playerID string) (Member, bool) {
	for _, m := range l.Members {
		if m.PlayerID == playerID {
			return m, true
		}
	}
	return Member{}, false
}

// Host 返回房主
func (l Lobby) Host() (Member, bool) {
	return l.Member(l.HostID)
}

// lobbyState 大廳內部狀態
//
// 欄位在建立後不變的部分（id、code、name、maxPlayers、private、createdAt、seq）
// 不需要持鎖即可讀取；其餘欄位由 mu 保護。
type lobbyState struct {
	id         string
	code       string
	name       string
	maxPlayers int
	private    bool
	createdAt  time.Time
	seq        uint64 // 建立序號（列表排序用）

	mu            sync.Mutex
	data          map[string]string
	members       map[string]*Member
	hostID        string
	nextJoinSeq   uint64
	lastHeartbeat time.Time
	deadline      time.Time
	closed        bool
}

// live 檢查大廳是否仍可存取（需要持有 mu）
func (s *lobbyState) live(now time.Time) bool {
	return !s.closed && now.Before(s.deadline)
}

// addMember 加入成員（需要持有 mu）
func (s *lobbyState) addMember(m Member, role Role, now time.Time) *Member {
	s.nextJoinSeq++
	member := &Member{
		PlayerID:    m.PlayerID,
		DisplayName: m.DisplayName,
		Data:        maps.Clone(m.Data),
		Role:        role,
		JoinedAt:    now,
		JoinSeq:     s.nextJoinSeq,
	}
	s.members[member.PlayerID] = member
	if role == RoleHost {
		s.hostID = member.PlayerID
	}
	return member
}

// promoteEarliest 將最早加入的成員提升為房主（需要持有 mu）
func (s *lobbyState) promoteEarliest() (*Member, bool) {
	var earliest *Member
	for _, m := range s.members {
		if earliest == nil || m.JoinSeq < earliest.JoinSeq {
			earliest = m
		}
	}
	if earliest == nil {
		return nil, false
	}
	earliest.Role = RoleHost
	s.hostID = earliest.PlayerID
	return earliest, true
}

// snapshot 建立快照（需要持有 mu）
func (s *lobbyState) snapshot() Lobby {
	members := make([]Member, 0, len(s.members))
	for _, m := range s.members {
		c := *m
		c.Data = maps.Clone(m.Data)
		members = append(members, c)
	}
	slices.SortFunc(members, func(a, b Member) int {
		switch {
		case a.JoinSeq < b.JoinSeq:
			return -1
		case a.JoinSeq > b.JoinSeq:
			return 1
		}
		return 0
	})

	return Lobby{
		ID:            s.id,
		JoinCode:      s.code,
		Name:          s.name,
		MaxPlayers:    s.maxPlayers,
		IsPrivate:     s.private,
		HostID:        s.hostID,
		Members:       members,
		Data:          maps.Clone(s.data),
		CreatedAt:     s.createdAt,
		LastHeartbeat: s.lastHeartbeat,
		ExpiresAt:     s.deadline,
	}
}
