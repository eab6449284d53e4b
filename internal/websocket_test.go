package internal_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koopa0/system-design/14-lobby-directory/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wsFixture struct {
	dir    *internal.Directory
	hub    *internal.WebSocketHub
	server *httptest.Server
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()

	dir := newTestDirectory(t, newTestStore(nil))
	hub := internal.NewWebSocketHub(dir, testLogger())
	dir.Subscribe(hub)

	mux := http.NewServeMux()
	mux.Handle("/", internal.NewHandler(dir, testLogger()).Routes())
	mux.HandleFunc("GET /ws/lobbies/{lobby_id}", hub.ServeWS)

	server := httptest.NewServer(mux)
	t.Cleanup(func() {
		hub.Stop()
		server.Close()
	})
	return &wsFixture{dir: dir, hub: hub, server: server}
}

func (f *wsFixture) dial(t *testing.T, lobbyID, playerID string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/lobbies/" + lobbyID + "?player_id=" + playerID
	return websocket.DefaultDialer.Dial(url, nil)
}

// connect 建立連線並以 ping/pong 確認已註冊
func (f *wsFixture) connect(t *testing.T, lobbyID, playerID string) *websocket.Conn {
	t.Helper()

	conn, _, err := f.dial(t, lobbyID, playerID)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	msg := readJSON(t, conn)
	require.Equal(t, "pong", msg["type"])
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

// TestWebSocketHub_MemberEvents 成員收到加入與離開事件
func TestWebSocketHub_MemberEvents(t *testing.T) {
	ctx := context.Background()
	f := newWSFixture(t)

	lobby, err := f.dir.CreateLobby(ctx, internal.CreateLobbyRequest{Name: "room", MaxPlayers: 4, PlayerID: "host"})
	require.NoError(t, err)

	conn := f.connect(t, lobby.ID, "host")
	assert.Equal(t, 1, f.hub.GetConnectionCount()[lobby.ID])

	_, err = f.dir.Join(ctx, lobby.ID, internal.JoinRequest{PlayerID: "guest", DisplayName: "Guest"})
	require.NoError(t, err)

	msg := readJSON(t, conn)
	assert.Equal(t, string(internal.EventMemberJoined), msg["event"])
	assert.Equal(t, "guest", msg["player_id"])
	assert.Equal(t, lobby.ID, msg["lobby_id"])

	require.NoError(t, f.dir.Leave(ctx, lobby.ID, "guest"))
	msg = readJSON(t, conn)
	assert.Equal(t, string(internal.EventMemberLeft), msg["event"])
}

// TestWebSocketHub_Heartbeat 透過 WebSocket 送出心跳
func TestWebSocketHub_Heartbeat(t *testing.T) {
	ctx := context.Background()
	f := newWSFixture(t)

	lobby, err := f.dir.CreateLobby(ctx, internal.CreateLobbyRequest{Name: "room", MaxPlayers: 4, PlayerID: "host"})
	require.NoError(t, err)

	conn := f.connect(t, lobby.ID, "host")
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "heartbeat"}))

	msg := readJSON(t, conn)
	assert.Equal(t, "heartbeat_ack", msg["type"])
	assert.NotEmpty(t, msg["expires_at"])
}

// TestWebSocketHub_LobbyClosed 大廳關閉後連線結束
func TestWebSocketHub_LobbyClosed(t *testing.T) {
	ctx := context.Background()
	f := newWSFixture(t)

	lobby, err := f.dir.CreateLobby(ctx, internal.CreateLobbyRequest{Name: "room", MaxPlayers: 4, PlayerID: "host"})
	require.NoError(t, err)

	conn := f.connect(t, lobby.ID, "host")
	require.NoError(t, f.dir.CloseLobby(ctx, lobby.ID, "host"))

	msg := readJSON(t, conn)
	assert.Equal(t, string(internal.EventLobbyClosed), msg["event"])

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)

	assert.Eventually(t, func() bool {
		return f.hub.GetConnectionCount()[lobby.ID] == 0
	}, time.Second, 10*time.Millisecond)
}

// TestWebSocketHub_DisconnectLobby 清理回呼斷開連線
func TestWebSocketHub_DisconnectLobby(t *testing.T) {
	ctx := context.Background()
	f := newWSFixture(t)

	lobby, err := f.dir.CreateLobby(ctx, internal.CreateLobbyRequest{Name: "room", MaxPlayers: 4, PlayerID: "host"})
	require.NoError(t, err)

	conn := f.connect(t, lobby.ID, "host")
	f.hub.DisconnectLobby(lobby.ID)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
	assert.Empty(t, f.hub.GetConnectionCount())
}

// TestWebSocketHub_Rejects 非成員或不存在的大廳無法連線
func TestWebSocketHub_Rejects(t *testing.T) {
	ctx := context.Background()
	f := newWSFixture(t)

	lobby, err := f.dir.CreateLobby(ctx, internal.CreateLobbyRequest{Name: "room", MaxPlayers: 4, PlayerID: "host"})
	require.NoError(t, err)

	tests := []struct {
		name       string
		lobbyID    string
		playerID   string
		wantStatus int
	}{
		{name: "non member", lobbyID: lobby.ID, playerID: "stranger", wantStatus: http.StatusForbidden},
		{name: "unknown lobby", lobbyID: "missing", playerID: "host", wantStatus: http.StatusNotFound},
		{name: "missing player id", lobbyID: lobby.ID, playerID: "", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp, err := f.dial(t, tt.lobbyID, tt.playerID)
			require.ErrorIs(t, err, websocket.ErrBadHandshake)
			require.NotNil(t, resp)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}
}
