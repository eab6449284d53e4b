package internal

import (
	"log/slog"
	"sync"
	"time"
)

// EvictHook 大廳被清理時的回呼
type EvictHook func(lobby Lobby)

// HeartbeatMonitor 心跳監控器
//
// 以固定間隔掃描所有大廳，移除心跳期限已過者（不論成員數）。
// 清理結果只記錄日誌並通知 hook，呼叫者透過後續的 NotFound 間接得知。
type HeartbeatMonitor struct {
	store    *Store
	interval time.Duration
	logger   *slog.Logger

	hooksMu sync.RWMutex
	hooks   []EvictHook

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewHeartbeatMonitor 創建心跳監控器
func NewHeartbeatMonitor(store *Store, interval time.Duration, logger *slog.Logger) *HeartbeatMonitor {
	return &HeartbeatMonitor{
		store:    store,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// OnEvict 註冊清理回呼
func (m *HeartbeatMonitor) OnEvict(hook EvictHook) {
	m.hooksMu.Lock()
	m.hooks = append(m.hooks, hook)
	m.hooksMu.Unlock()
}

// Start 啟動背景清理 goroutine
func (m *HeartbeatMonitor) Start() {
	m.startOnce.Do(func() {
		m.wg.Add(1)
		go m.loop()
		m.logger.Info("心跳監控已啟動", "interval", m.interval)
	})
}

// loop 定期清理過期大廳
func (m *HeartbeatMonitor) loop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Sweep()
		case <-m.stopCh:
			return
		}
	}
}

// Sweep 執行一次清理（公開方法供測試使用），返回被清理的大廳數
func (m *HeartbeatMonitor) Sweep() int {
	evicted := m.store.EvictExpired()
	if len(evicted) == 0 {
		return 0
	}

	m.hooksMu.RLock()
	hooks := make([]EvictHook, len(m.hooks))
	copy(hooks, m.hooks)
	m.hooksMu.RUnlock()

	for _, lobby := range evicted {
		m.logger.Info("大廳心跳逾時已清理",
			"lobby_id", lobby.ID,
			"join_code", lobby.JoinCode,
			"players", lobby.PlayerCount(),
			"last_heartbeat", lobby.LastHeartbeat)
		for _, hook := range hooks {
			hook(lobby)
		}
	}
	return len(evicted)
}

// Stop 停止監控器
func (m *HeartbeatMonitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.wg.Wait()
		m.logger.Info("心跳監控已停止")
	})
}
