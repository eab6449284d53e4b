package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// 系統設計問題：
//   大廳成員如何即時得知有人加入、離開或房主轉移？
//
// 核心挑戰：
//   1. 即時推送：事件發生後立即送達同一大廳的所有連線
//   2. 連接管理：斷線、重複連線、大廳關閉後的清理
//   3. 心跳機制：檢測死連接（網絡異常、客戶端崩潰）
//   4. 慢客戶端：不能拖累 Directory 的請求路徑
//
// 設計方案：
//   ✅ WebSocket - 全雙工通信（低延遲、服務器推送）
//   ✅ Hub 實現 Publisher - Directory 發布事件時直接廣播，不需輪詢
//   ✅ Ping/Pong 心跳 - 檢測死連接（54s/60s）
//   ✅ 緩衝 channel - 異步發送，緩衝區滿時丟棄

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	sendBufferSize = 256
)

// WebSocketHub WebSocket 連接中心
//
// 連接映射：map[lobbyID]map[playerID]*Connection
//   - 兩層 map：快速定位大廳和玩家
//   - 讀多寫少：廣播用讀鎖，註冊/註銷用寫鎖
type WebSocketHub struct {
	directory   *Directory
	logger      *slog.Logger
	upgrader    websocket.Upgrader
	connections map[string]map[string]*Connection // lobbyID -> playerID -> Connection
	mu          sync.RWMutex
	stopped     bool
}

// Connection WebSocket 連接
type Connection struct {
	PlayerID  string
	LobbyID   string
	Conn      *websocket.Conn
	Send      chan []byte
	Hub       *WebSocketHub
	LastPing  time.Time
	mu        sync.Mutex
	closeOnce sync.Once // 確保 channel 只關閉一次
}

// clientMessage 客戶端消息
type clientMessage struct {
	Type string `json:"type"`
}

// NewWebSocketHub 創建 WebSocket Hub
func NewWebSocketHub(directory *Directory, logger *slog.Logger) *WebSocketHub {
	return &WebSocketHub{
		directory: directory,
		logger:    logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// 在生產環境應該檢查來源
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		connections: make(map[string]map[string]*Connection),
	}
}

// ServeWS 處理 WebSocket 連接（只允許大廳成員）
func (hub *WebSocketHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	lobbyID := r.PathValue("lobby_id")
	if lobbyID == "" {
		http.Error(w, "缺少大廳 ID", http.StatusBadRequest)
		return
	}

	playerID := r.URL.Query().Get("player_id")
	if playerID == "" {
		http.Error(w, "缺少玩家 ID", http.StatusBadRequest)
		return
	}

	lobby, err := hub.directory.GetLobby(r.Context(), lobbyID)
	if err != nil {
		http.Error(w, "大廳不存在", http.StatusNotFound)
		return
	}
	if _, ok := lobby.Member(playerID); !ok {
		http.Error(w, "玩家不在大廳中", http.StatusForbidden)
		return
	}

	conn, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("升級 WebSocket 失敗", "error", err)
		return
	}

	connection := &Connection{
		PlayerID: playerID,
		LobbyID:  lobbyID,
		Conn:     conn,
		Send:     make(chan []byte, sendBufferSize),
		Hub:      hub,
		LastPing: time.Now(),
	}

	if !hub.register(connection) {
		_ = conn.Close()
		return
	}

	go connection.writePump()
	go connection.readPump()

	hub.logger.Info("WebSocket 連接建立",
		"lobby_id", lobbyID,
		"player_id", playerID)
}

// Publish 實現 Publisher：事件廣播給該大廳的所有連線
//
// 成員離開時關閉其連線；大廳關閉時在廣播後關閉全部連線。
func (hub *WebSocketHub) Publish(_ context.Context, event Event) error {
	message, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	hub.broadcast(event.LobbyID, message)

	switch event.Type {
	case EventMemberLeft:
		hub.DisconnectPlayer(event.LobbyID, event.PlayerID)
	case EventLobbyClosed:
		hub.DisconnectLobby(event.LobbyID)
	}
	return nil
}

// register 註冊連接，Hub 已停止時返回 false
func (hub *WebSocketHub) register(conn *Connection) bool {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	if hub.stopped {
		return false
	}

	if hub.connections[conn.LobbyID] == nil {
		hub.connections[conn.LobbyID] = make(map[string]*Connection)
	}

	// 同一玩家重複連線時關閉舊連接
	if old, exists := hub.connections[conn.LobbyID][conn.PlayerID]; exists {
		old.close()
	}

	hub.connections[conn.LobbyID][conn.PlayerID] = conn
	return true
}

// unregister 取消註冊連接
func (hub *WebSocketHub) unregister(conn *Connection) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	if lobbyConns, exists := hub.connections[conn.LobbyID]; exists {
		if actual, exists := lobbyConns[conn.PlayerID]; exists && actual == conn {
			delete(lobbyConns, conn.PlayerID)
			conn.closeSend()

			if len(lobbyConns) == 0 {
				delete(hub.connections, conn.LobbyID)
			}
		}
	}
}

// broadcast 廣播消息到大廳
func (hub *WebSocketHub) broadcast(lobbyID string, message []byte) {
	hub.mu.RLock()
	defer hub.mu.RUnlock()

	for _, conn := range hub.connections[lobbyID] {
		select {
		case conn.Send <- message:
		default:
			hub.logger.Warn("連接緩衝區滿，丟棄消息",
				"lobby_id", lobbyID,
				"player_id", conn.PlayerID)
		}
	}
}

// DisconnectPlayer 斷開玩家連接
func (hub *WebSocketHub) DisconnectPlayer(lobbyID, playerID string) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	if lobbyConns, exists := hub.connections[lobbyID]; exists {
		if conn, exists := lobbyConns[playerID]; exists {
			conn.closeSend()
			delete(lobbyConns, playerID)
			if len(lobbyConns) == 0 {
				delete(hub.connections, lobbyID)
			}
		}
	}
}

// DisconnectLobby 斷開大廳所有連接（大廳關閉或被清理時）
//
// 只關閉 Send：writePump 會先送完緩衝中的消息再送出 close frame。
func (hub *WebSocketHub) DisconnectLobby(lobbyID string) {
	hub.mu.Lock()
	lobbyConns := hub.connections[lobbyID]
	delete(hub.connections, lobbyID)
	hub.mu.Unlock()

	for _, conn := range lobbyConns {
		conn.closeSend()
	}
	if len(lobbyConns) > 0 {
		hub.logger.Info("大廳連線已全部關閉", "lobby_id", lobbyID, "connections", len(lobbyConns))
	}
}

// Stop 停止 WebSocket Hub
func (hub *WebSocketHub) Stop() {
	hub.mu.Lock()
	hub.stopped = true
	for _, lobbyConns := range hub.connections {
		for _, conn := range lobbyConns {
			conn.close()
		}
	}
	hub.connections = make(map[string]map[string]*Connection)
	hub.mu.Unlock()

	hub.logger.Info("WebSocket Hub 已停止")
}

// GetConnectionCount 獲取每個大廳的連接數
func (hub *WebSocketHub) GetConnectionCount() map[string]int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()

	result := make(map[string]int, len(hub.connections))
	for lobbyID, conns := range hub.connections {
		result[lobbyID] = len(conns)
	}
	return result
}

// closeSend 關閉發送通道，writePump 送完剩餘消息後結束
func (c *Connection) closeSend() {
	c.closeOnce.Do(func() {
		close(c.Send)
	})
}

// close 立即關閉連接
func (c *Connection) close() {
	c.closeSend()
	_ = c.Conn.Close()
}

// readPump 讀取客戶端消息
//
// 60 秒內沒有收到任何消息（包括 Pong）即關閉連接；
// 配合 writePump 每 54 秒一次的 Ping，留 6 秒網絡余量。
func (c *Connection) readPump() {
	defer func() {
		c.Hub.unregister(c)
		_ = c.Conn.Close()
	}()

	if err := c.Conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.Hub.logger.Error("設置讀取期限失敗", "error", err)
	}

	c.Conn.SetPongHandler(func(string) error {
		if err := c.Conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.Hub.logger.Error("設置讀取期限失敗", "error", err)
		}
		c.mu.Lock()
		c.LastPing = time.Now()
		c.mu.Unlock()
		return nil
	})

	for {
		messageType, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.Error("WebSocket 讀取錯誤",
					"error", err,
					"lobby_id", c.LobbyID,
					"player_id", c.PlayerID)
			}
			break
		}

		if messageType == websocket.TextMessage {
			c.handleMessage(message)
		}
	}
}

// writePump 寫入消息到客戶端，並定期發送 Ping
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.Hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if !ok {
				// Hub 關閉了通道，嘗試送出 close frame（連接可能已關閉）
				_ = c.Conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.Hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage 處理客戶端消息
func (c *Connection) handleMessage(message []byte) {
	var msg clientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.Hub.logger.Error("解析客戶端消息失敗",
			"error", err,
			"lobby_id", c.LobbyID,
			"player_id", c.PlayerID)
		return
	}

	switch msg.Type {
	case "ping":
		c.reply(map[string]any{"type": "pong"})
	case "heartbeat":
		lobby, err := c.Hub.directory.Heartbeat(context.Background(), c.LobbyID, c.PlayerID)
		if err != nil {
			c.reply(map[string]any{
				"type":  "error",
				"code":  ErrorCode(err),
				"error": err.Error(),
			})
			return
		}
		c.reply(map[string]any{
			"type":       "heartbeat_ack",
			"expires_at": lobby.ExpiresAt,
		})
	default:
		c.Hub.logger.Debug("收到未知消息類型",
			"type", msg.Type,
			"lobby_id", c.LobbyID,
			"player_id", c.PlayerID)
	}
}

// reply 單播回覆（緩衝區滿或已關閉時丟棄）
func (c *Connection) reply(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}

	c.Hub.mu.RLock()
	defer c.Hub.mu.RUnlock()
	if current := c.Hub.connections[c.LobbyID][c.PlayerID]; current != c {
		return
	}
	select {
	case c.Send <- data:
	default:
	}
}
