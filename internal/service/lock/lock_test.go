package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/krobus00/futures-engine/internal/constant"
	"github.com/krobus00/futures-engine/internal/entity"
	"github.com/krobus00/futures-engine/internal/util"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu      sync.Mutex
	owners  map[string]string
	setErr  error
	deletes int
	extends int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{owners: make(map[string]string)}
}

func (s *memoryStore) SetNX(_ context.Context, key, owner string, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.setErr != nil {
		return false, s.setErr
	}
	if _, held := s.owners[key]; held {
		return false, nil
	}
	s.owners[key] = owner
	return true, nil
}

func (s *memoryStore) Extend(_ context.Context, key, owner string, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.owners[key] != owner {
		return false, nil
	}
	s.extends++
	return true, nil
}

func (s *memoryStore) extendCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.extends
}

func (s *memoryStore) CompareAndDelete(_ context.Context, key, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deletes++
	if s.owners[key] == owner {
		delete(s.owners, key)
	}
	return nil
}

func newLock(store Store, opts ...Option) *SymbolLock {
	logger, _ := test.NewNullLogger()
	return NewSymbolLock(store, append([]Option{WithLogger(logger)}, opts...)...)
}

func TestSymbolLock_ExcludesConcurrentHolders(t *testing.T) {
	l := newLock(newMemoryStore(), WithRetryInterval(time.Millisecond))

	var active, maxActive atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			release, err := l.Acquire(context.Background(), "BTCUSDT")
			if !assert.NoError(t, err) {
				return
			}
			defer release()

			now := active.Add(1)
			for {
				prev := maxActive.Load()
				if now <= prev || maxActive.CompareAndSwap(prev, now) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			active.Add(-1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive.Load())
}

func TestSymbolLock_AcrossProcesses(t *testing.T) {
	store := newMemoryStore()
	clock := util.NewFakeClock(time.Unix(0, 0))
	first := newLock(store)
	second := newLock(store, WithClock(clock), WithRetryInterval(100*time.Millisecond))

	release, err := first.Acquire(context.Background(), "btcusdt")
	require.NoError(t, err)

	blockedCtx, blockedCancel := context.WithCancel(context.Background())
	blockedCancel()
	_, err = second.Acquire(blockedCtx, "BTCUSDT")
	assert.ErrorIs(t, err, entity.ErrSymbolLocked)

	release()
	release()
	assert.Equal(t, 1, store.deletes)

	releaseSecond, err := second.Acquire(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	releaseSecond()
}

func TestSymbolLock_IndependentSymbols(t *testing.T) {
	l := newLock(newMemoryStore())

	releaseBTC, err := l.Acquire(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	defer releaseBTC()

	releaseETH, err := l.Acquire(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	releaseETH()
}

func TestSymbolLock_StoreErrorReleasesLocalSlot(t *testing.T) {
	store := newMemoryStore()
	store.setErr = errors.New("redis down")
	l := newLock(store)

	_, err := l.Acquire(context.Background(), "BTCUSDT")
	require.Error(t, err)

	store.setErr = nil
	release, err := l.Acquire(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	release()
}

func TestSymbolLock_WithoutStore(t *testing.T) {
	l := newLock(nil)

	release, err := l.Acquire(context.Background(), "BTCUSDT")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "BTCUSDT")
	assert.ErrorIs(t, err, entity.ErrSymbolLocked)

	release()
}

func TestSymbolLock_RenewsHeldKeyUntilRelease(t *testing.T) {
	store := newMemoryStore()
	l := newLock(store, WithTTL(time.Second), WithRenewInterval(5*time.Millisecond))

	release, err := l.Acquire(context.Background(), "BTCUSDT")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return store.extendCount() >= 2
	}, time.Second, time.Millisecond)

	release()
	renewed := store.extendCount()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, renewed, store.extendCount())
	assert.Empty(t, store.owners)
}

func TestSymbolLock_StopsRenewingLostKey(t *testing.T) {
	store := newMemoryStore()
	l := newLock(store, WithTTL(time.Second), WithRenewInterval(5*time.Millisecond))

	release, err := l.Acquire(context.Background(), "BTCUSDT")
	require.NoError(t, err)

	store.mu.Lock()
	store.owners[constant.GetSymbolLockKey("BTCUSDT")] = "someone-else"
	store.mu.Unlock()

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, store.extendCount())

	release()
	assert.Equal(t, "someone-else", store.owners[constant.GetSymbolLockKey("BTCUSDT")])
}

func TestNewSymbolLock_DefaultRenewInterval(t *testing.T) {
	assert.Equal(t, 10*time.Second, newLock(nil).renewInterval)
	assert.Equal(t, 2*time.Second, newLock(nil, WithTTL(6*time.Second)).renewInterval)
	assert.Equal(t, time.Second, newLock(nil, WithTTL(6*time.Second), WithRenewInterval(time.Second)).renewInterval)
}
