// Package lobbydirectory 提供一個自架的遊戲大廳目錄服務。
//
// 玩家可以創建大廳、瀏覽公開大廳、以簡短加入碼查找私人大廳、
// 加入與離開，並由房主定期送出心跳維持大廳存活。
//
// # 大廳生命週期
//
//   - 創建：呼叫者成為房主，取得唯一的大廳 ID 與加入碼
//   - 加入：人數達上限返回 Capacity，重複加入返回 Duplicate
//   - 離開：房主離開時由最早加入的成員接任，最後一人離開即銷毀
//   - 心跳：每次心跳將期限延長為 now + TTL（預設 15 秒）
//   - 清理：背景監控定期移除逾期大廳，之後以 ID 或加入碼查詢皆為 NotFound
//
// # 事件推送
//
// 大廳變更會發布 lobby_created、member_joined、member_left、host_changed、
// lobby_closed 事件：
//   - WebSocket：/ws/lobbies/{lobby_id}?player_id=...（僅限成員）
//   - Redis Pub/Sub：頻道 {prefix}:{lobby_id}
//   - NATS：主題 {prefix}.{lobby_id}.{event}
//
// # 使用範例
//
// 啟動服務器：
//
//	lobbyd serve --config lobbyd.yaml
//
// 創建大廳：
//
//	curl -X POST localhost:8080/api/v1/lobbies \
//	  -d '{"name":"Test Lobby","max_players":4,"display_name":"Alice","data":{"GameMode":"Default","Map":"Arena"}}'
//
// 以加入碼加入：
//
//	curl -X POST localhost:8080/api/v1/lobbies/code/ABC123/members -d '{"display_name":"Bob"}'
//
// # 架構設計
//
//   - Handler 層：HTTP 路由、參數解析、錯誤碼映射
//   - Directory 層：輸入驗證、身分解析、事件發布
//   - Store 層：大廳狀態、容量與房主約束、加入碼索引
//   - HeartbeatMonitor：定期清理逾期大廳
//   - WebSocketHub：事件即時推送
//
// 所有狀態只存在記憶體中；重啟後大廳全部消失。
//
// # 配置選項
//
// 配置來源依序為預設值、YAML 配置檔、LOBBY_ 前綴的環境變數，例如：
//   - LOBBY_SERVER_PORT：服務監聽端口（預設 8080）
//   - LOBBY_LOBBY_HEARTBEAT_TTL：心跳存活時間（預設 15s）
//   - LOBBY_EVENTS_REDIS_ADDR：啟用 Redis 事件發布
//   - LOBBY_DEBUG_STATSVIZ：啟用 /debug/statsviz/ 執行期儀表板
package lobbydirectory
