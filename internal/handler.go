package internal

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Handler HTTP 請求處理器
type Handler struct {
	directory *Directory
	logger    *slog.Logger
}

// NewHandler 創建 HTTP 處理器
func NewHandler(directory *Directory, logger *slog.Logger) *Handler {
	return &Handler{
		directory: directory,
		logger:    logger,
	}
}

// Routes 設定路由
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	// 中間件鏈
	wrap := func(handler http.HandlerFunc) http.HandlerFunc {
		return h.recoverer(h.loggerMiddleware(handler))
	}

	// 大廳 API
	mux.HandleFunc("POST /api/v1/lobbies", wrap(h.createLobby))
	mux.HandleFunc("GET /api/v1/lobbies", wrap(h.listLobbies))
	mux.HandleFunc("GET /api/v1/lobbies/{lobby_id}", wrap(h.getLobby))
	mux.HandleFunc("GET /api/v1/lobbies/code/{code}", wrap(h.lookupByCode))
	mux.HandleFunc("POST /api/v1/lobbies/{lobby_id}/members", wrap(h.joinLobby))
	mux.HandleFunc("POST /api/v1/lobbies/code/{code}/members", wrap(h.joinByCode))
	mux.HandleFunc("DELETE /api/v1/lobbies/{lobby_id}/members/{player_id}", wrap(h.leaveLobby))
	mux.HandleFunc("POST /api/v1/lobbies/{lobby_id}/heartbeat", wrap(h.heartbeat))
	mux.HandleFunc("POST /api/v1/lobbies/{lobby_id}/close", wrap(h.closeLobby))

	// 健康檢查
	mux.HandleFunc("GET /health", wrap(h.health))
	mux.HandleFunc("GET /stats", wrap(h.stats))

	return mux
}

// 請求結構
type createLobbyRequest struct {
	Name        string            `json:"name"`
	MaxPlayers  int               `json:"max_players"`
	IsPrivate   bool              `json:"is_private"`
	PlayerID    string            `json:"player_id"`
	DisplayName string            `json:"display_name"`
	PlayerData  map[string]string `json:"player_data,omitempty"`
	Data        map[string]string `json:"data,omitempty"`
}

type joinLobbyRequest struct {
	PlayerID    string            `json:"player_id"`
	DisplayName string            `json:"display_name"`
	PlayerData  map[string]string `json:"player_data,omitempty"`
}

type playerRequest struct {
	PlayerID string `json:"player_id"`
}

// listResponse 分頁列表
type listResponse struct {
	Lobbies []Lobby `json:"lobbies"`
	Total   int     `json:"total"`
	Page    int     `json:"page"`
	Limit   int     `json:"limit"`
}

// createLobby 創建大廳
func (h *Handler) createLobby(w http.ResponseWriter, r *http.Request) {
	var req createLobbyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorResponse(w, "無效的請求格式", CodeValidation, http.StatusBadRequest)
		return
	}

	lobby, err := h.directory.CreateLobby(r.Context(), CreateLobbyRequest{
		Name:        req.Name,
		MaxPlayers:  req.MaxPlayers,
		IsPrivate:   req.IsPrivate,
		PlayerID:    req.PlayerID,
		DisplayName: req.DisplayName,
		PlayerData:  req.PlayerData,
		Data:        req.Data,
	})
	if err != nil {
		h.lobbyError(w, err)
		return
	}

	h.jsonResponse(w, lobby, http.StatusCreated)
}

// listLobbies 列出大廳
//
// 查詢參數：page、limit、player_id、include_private、available、data.<key>=<value>
func (h *Handler) listLobbies(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	page := 1
	if p := query.Get("page"); p != "" {
		if val, err := strconv.Atoi(p); err == nil && val > 0 {
			page = val
		}
	}

	limit := defaultPageSize
	if l := query.Get("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil && val > 0 && val <= maxPageSize {
			limit = val
		}
	}

	filter := ListFilter{
		RequesterID:    query.Get("player_id"),
		IncludePrivate: parseBool(query.Get("include_private")),
		AvailableOnly:  parseBool(query.Get("available")),
	}
	for key, values := range query {
		if name, ok := strings.CutPrefix(key, "data."); ok && name != "" && len(values) > 0 {
			if filter.Data == nil {
				filter.Data = make(map[string]string)
			}
			filter.Data[name] = values[0]
		}
	}

	// 只保留目標頁，其餘只計數
	start := (page - 1) * limit
	lobbies := make([]Lobby, 0, limit)
	total := 0
	for lobby := range h.directory.ListLobbies(r.Context(), filter) {
		if total >= start && len(lobbies) < limit {
			lobbies = append(lobbies, lobby)
		}
		total++
	}

	h.jsonResponse(w, listResponse{
		Lobbies: lobbies,
		Total:   total,
		Page:    page,
		Limit:   limit,
	}, http.StatusOK)
}

// getLobby 獲取大廳詳情（含成員列表）
func (h *Handler) getLobby(w http.ResponseWriter, r *http.Request) {
	lobby, err := h.directory.GetLobby(r.Context(), r.PathValue("lobby_id"))
	if err != nil {
		h.lobbyError(w, err)
		return
	}
	h.jsonResponse(w, lobby, http.StatusOK)
}

// lookupByCode 依加入碼查詢大廳
func (h *Handler) lookupByCode(w http.ResponseWriter, r *http.Request) {
	lobby, err := h.directory.LookupByCode(r.Context(), r.PathValue("code"))
	if err != nil {
		h.lobbyError(w, err)
		return
	}
	h.jsonResponse(w, lobby, http.StatusOK)
}

// joinLobby 依 ID 加入大廳
func (h *Handler) joinLobby(w http.ResponseWriter, r *http.Request) {
	var req joinLobbyRequest
	if err := decodeOptional(r, &req); err != nil {
		h.errorResponse(w, "無效的請求格式", CodeValidation, http.StatusBadRequest)
		return
	}

	lobby, err := h.directory.Join(r.Context(), r.PathValue("lobby_id"), JoinRequest(req))
	if err != nil {
		h.lobbyError(w, err)
		return
	}
	h.jsonResponse(w, lobby, http.StatusOK)
}

// joinByCode 依加入碼加入大廳
func (h *Handler) joinByCode(w http.ResponseWriter, r *http.Request) {
	var req joinLobbyRequest
	if err := decodeOptional(r, &req); err != nil {
		h.errorResponse(w, "無效的請求格式", CodeValidation, http.StatusBadRequest)
		return
	}

	lobby, err := h.directory.JoinByCode(r.Context(), r.PathValue("code"), JoinRequest(req))
	if err != nil {
		h.lobbyError(w, err)
		return
	}
	h.jsonResponse(w, lobby, http.StatusOK)
}

// leaveLobby 離開大廳
//
// 重複離開不是錯誤：返回 200 與 left=false。
func (h *Handler) leaveLobby(w http.ResponseWriter, r *http.Request) {
	lobbyID := r.PathValue("lobby_id")
	playerID := r.PathValue("player_id")

	err := h.directory.Leave(r.Context(), lobbyID, playerID)
	if err != nil && !IsNotFound(err) {
		h.lobbyError(w, err)
		return
	}

	h.jsonResponse(w, map[string]any{
		"success": true,
		"left":    err == nil,
	}, http.StatusOK)
}

// heartbeat 刷新心跳（body 可省略）
func (h *Handler) heartbeat(w http.ResponseWriter, r *http.Request) {
	var req playerRequest
	if err := decodeOptional(r, &req); err != nil {
		h.errorResponse(w, "無效的請求格式", CodeValidation, http.StatusBadRequest)
		return
	}

	lobby, err := h.directory.Heartbeat(r.Context(), r.PathValue("lobby_id"), req.PlayerID)
	if err != nil {
		h.lobbyError(w, err)
		return
	}

	h.jsonResponse(w, map[string]any{
		"lobby_id":   lobby.ID,
		"expires_at": lobby.ExpiresAt,
	}, http.StatusOK)
}

// closeLobby 房主關閉大廳
func (h *Handler) closeLobby(w http.ResponseWriter, r *http.Request) {
	var req playerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorResponse(w, "無效的請求格式", CodeValidation, http.StatusBadRequest)
		return
	}
	if req.PlayerID == "" {
		h.errorResponse(w, "玩家ID為必填", CodeValidation, http.StatusBadRequest)
		return
	}

	if err := h.directory.CloseLobby(r.Context(), r.PathValue("lobby_id"), req.PlayerID); err != nil {
		h.lobbyError(w, err)
		return
	}

	h.jsonResponse(w, map[string]any{
		"success": true,
	}, http.StatusOK)
}

// health 健康檢查
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, map[string]any{
		"status": "healthy",
		"time":   time.Now().Unix(),
	}, http.StatusOK)
}

// stats 統計資訊
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, h.directory.Stats(), http.StatusOK)
}

// jsonResponse 返回 JSON 響應
func (h *Handler) jsonResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("編碼 JSON 失敗", "error", err)
	}
}

// errorResponse 返回錯誤響應
func (h *Handler) errorResponse(w http.ResponseWriter, message, code string, status int) {
	h.jsonResponse(w, map[string]any{
		"error": message,
		"code":  code,
	}, status)
}

// lobbyError 依錯誤碼映射 HTTP 狀態
func (h *Handler) lobbyError(w http.ResponseWriter, err error) {
	code := ErrorCode(err)
	status := statusFor(code)
	if status == http.StatusInternalServerError {
		h.logger.Error("處理請求失敗", "error", err)
		h.errorResponse(w, "內部伺服器錯誤", "INTERNAL", status)
		return
	}

	message := err.Error()
	var le *LobbyError
	if errors.As(err, &le) {
		message = le.Message
	}
	h.errorResponse(w, message, code, status)
}

func statusFor(code string) int {
	switch code {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeCapacity, CodeDuplicate:
		return http.StatusConflict
	case CodeValidation:
		return http.StatusBadRequest
	case CodeForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// decodeOptional 解析 JSON body，空 body 視為零值
func decodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(s)
	return err == nil && b
}

// loggerMiddleware 日誌中間件
func (h *Handler) loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// 包裝 ResponseWriter 以獲取狀態碼
		ww := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next(ww, r)

		h.logger.Info("HTTP 請求",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.statusCode,
			"duration", time.Since(start))
	}
}

// recoverer panic 恢復中間件
func (h *Handler) recoverer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				h.logger.Error("處理請求時發生 panic",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path)

				h.errorResponse(w, "內部伺服器錯誤", "INTERNAL", http.StatusInternalServerError)
			}
		}()

		next(w, r)
	}
}

// responseWriter 包裝 ResponseWriter 以獲取狀態碼
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
