package internal_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koopa0/system-design/14-lobby-directory/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestHeartbeatMonitor_Sweep 只清理逾期大廳
func TestHeartbeatMonitor_Sweep(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore(clock)
	monitor := internal.NewHeartbeatMonitor(store, time.Second, testLogger())

	var (
		mu      sync.Mutex
		evicted []string
	)
	monitor.OnEvict(func(lobby internal.Lobby) {
		mu.Lock()
		evicted = append(evicted, lobby.ID)
		mu.Unlock()
	})

	stale, err := store.Create("stale", 4, false, host("a"), nil)
	require.NoError(t, err)
	alive, err := store.Create("alive", 4, false, host("b"), nil)
	require.NoError(t, err)

	assert.Equal(t, 0, monitor.Sweep(), "nothing expires before the TTL")

	clock.Advance(10 * time.Second)
	_, err = store.RefreshHeartbeat(alive.ID)
	require.NoError(t, err)

	clock.Advance(6 * time.Second)
	assert.Equal(t, 1, monitor.Sweep())

	mu.Lock()
	assert.Equal(t, []string{stale.ID}, evicted)
	mu.Unlock()

	_, err = store.GetByCode(stale.JoinCode)
	assert.True(t, internal.IsNotFound(err))
	_, err = store.Get(alive.ID)
	assert.NoError(t, err)
}

// TestHeartbeatMonitor_EvictsRegardlessOfMembers 有成員的大廳同樣會被清理
func TestHeartbeatMonitor_EvictsRegardlessOfMembers(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore(clock)
	monitor := internal.NewHeartbeatMonitor(store, time.Second, testLogger())

	lobby, err := store.Create("Arena", 4, false, host("p1"), nil)
	require.NoError(t, err)
	for _, id := range []string{"p2", "p3", "p4"} {
		_, err = store.AddMember(lobby.ID, host(id))
		require.NoError(t, err)
	}

	clock.Advance(16 * time.Second)
	assert.Equal(t, 1, monitor.Sweep())

	_, err = store.GetByCode(lobby.JoinCode)
	assert.True(t, internal.IsNotFound(err))
}

// TestHeartbeatMonitor_StartStop 背景清理
func TestHeartbeatMonitor_StartStop(t *testing.T) {
	cfg := testStoreConfig()
	cfg.HeartbeatTTL = 50 * time.Millisecond
	store := internal.NewStore(cfg)

	monitor := internal.NewHeartbeatMonitor(store, 10*time.Millisecond, testLogger())
	var count atomic.Int32
	monitor.OnEvict(func(internal.Lobby) {
		count.Add(1)
	})

	_, err := store.Create("short lived", 4, false, host("a"), nil)
	require.NoError(t, err)

	monitor.Start()
	monitor.Start() // 重複啟動無效果

	require.Eventually(t, func() bool {
		return count.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)

	monitor.Stop()
	monitor.Stop() // 重複停止無效果
}

// TestHeartbeatMonitor_SweepRacesJoin 清理與加入並發時結果一致
func TestHeartbeatMonitor_SweepRacesJoin(t *testing.T) {
	for range 50 {
		clock := newFakeClock()
		store := newTestStore(clock)
		monitor := internal.NewHeartbeatMonitor(store, time.Second, testLogger())

		lobby, err := store.Create("race", 4, false, host("host"), nil)
		require.NoError(t, err)

		// 期限前一刻：加入與清理的先後決定結果
		clock.Advance(15*time.Second - time.Nanosecond)

		var (
			wg      sync.WaitGroup
			joinErr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, joinErr = store.AddMember(lobby.ID, host("guest"))
		}()
		go func() {
			defer wg.Done()
			clock.Advance(time.Nanosecond)
			monitor.Sweep()
		}()
		wg.Wait()

		if joinErr != nil {
			assert.True(t, internal.IsNotFound(joinErr))
		}

		// 不論誰先，清理後大廳都不可見
		monitor.Sweep()
		_, err = store.Get(lobby.ID)
		assert.True(t, internal.IsNotFound(err))
	}
}
