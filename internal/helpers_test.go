package internal_test

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/koopa0/system-design/14-lobby-directory/internal"
	"github.com/stretchr/testify/require"
)

// 創建測試用的 logger
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError, // 測試時只顯示錯誤
	}))
}

// fakeClock 可手動推進的時鐘
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testStoreConfig() internal.StoreConfig {
	return internal.StoreConfig{
		HeartbeatTTL: 15 * time.Second,
		MaxLobbySize: 100,
		CodeLength:   6,
		CodeAlphabet: "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789",
	}
}

func newTestStore(clock *fakeClock) *internal.Store {
	if clock == nil {
		return internal.NewStore(testStoreConfig())
	}
	return internal.NewStore(testStoreConfig(), internal.WithClock(clock.Now))
}

func host(id string) internal.Member {
	return internal.Member{PlayerID: id, DisplayName: id}
}

func newTestDirectory(t *testing.T, store *internal.Store) *internal.Directory {
	t.Helper()

	identity, err := internal.NewIdentityStub(time.Hour, testLogger())
	require.NoError(t, err)
	t.Cleanup(identity.Close)

	return internal.NewDirectory(store, identity, internal.DirectoryConfig{
		MaxNameLength:  64,
		MaxDataEntries: 16,
	}, testLogger())
}

// eventRecorder 記錄收到的事件
type eventRecorder struct {
	mu     sync.Mutex
	events []internal.Event
}

func (r *eventRecorder) Publish(_ context.Context, event internal.Event) error {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	return nil
}

func (r *eventRecorder) Types() []internal.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()

	types := make([]internal.EventType, len(r.events))
	for i, e := range r.events {
		types[i] = e.Type
	}
	return types
}

func (r *eventRecorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
