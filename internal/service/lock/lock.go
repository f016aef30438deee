package lock

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/krobus00/futures-engine/internal/constant"
	"github.com/krobus00/futures-engine/internal/entity"
	"github.com/krobus00/futures-engine/internal/util"
	"github.com/sirupsen/logrus"
)

const (
	defaultTTL           = 30 * time.Second
	defaultRetryInterval = 100 * time.Millisecond
)

// Store is a distributed key/owner lock backend. Extend reports false once key no longer holds owner.
type Store interface {
	SetNX(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Extend(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key, owner string) error
}

// SymbolLock serializes order-affecting work per symbol, first inside the process and then
// across processes through Store. A nil Store limits exclusion to the current process.
// A held key is renewed every renewInterval until released.
type SymbolLock struct {
	store         Store
	ttl           time.Duration
	renewInterval time.Duration
	retryInterval time.Duration
	clock         util.Clock
	logger        logrus.FieldLogger

	mu     sync.Mutex
	locals map[string]chan struct{}
}

type Option func(*SymbolLock)

func WithTTL(ttl time.Duration) Option {
	return func(l *SymbolLock) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithRenewInterval sets how often a held key is extended. It defaults to a third of the ttl.
func WithRenewInterval(interval time.Duration) Option {
	return func(l *SymbolLock) {
		if interval > 0 {
			l.renewInterval = interval
		}
	}
}

func WithRetryInterval(interval time.Duration) Option {
	return func(l *SymbolLock) {
		if interval > 0 {
			l.retryInterval = interval
		}
	}
}

func WithClock(clock util.Clock) Option {
	return func(l *SymbolLock) {
		if clock != nil {
			l.clock = clock
		}
	}
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(l *SymbolLock) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func NewSymbolLock(store Store, opts ...Option) *SymbolLock {
	l := &SymbolLock{
		store:         store,
		ttl:           defaultTTL,
		retryInterval: defaultRetryInterval,
		clock:         util.RealClock{},
		logger:        logrus.StandardLogger(),
		locals:        make(map[string]chan struct{}),
	}

	for _, opt := range opts {
		opt(l)
	}
	if l.renewInterval <= 0 || l.renewInterval >= l.ttl {
		l.renewInterval = l.ttl / 3
	}

	return l
}

// Acquire blocks until symbol is held by the caller or ctx is done, in which case
// ErrSymbolLocked is returned. The returned release func is safe to call more than once.
func (l *SymbolLock) Acquire(ctx context.Context, symbol string) (func(), error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	local := l.local(symbol)

	select {
	case local <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", symbol, entity.ErrSymbolLocked)
	}

	if l.store == nil {
		return l.releaser(symbol, local, "", nil), nil
	}

	key := constant.GetSymbolLockKey(symbol)
	owner := uuid.NewString()
	for {
		acquired, err := l.store.SetNX(ctx, key, owner, l.ttl)
		if err != nil {
			<-local
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if acquired {
			stop := make(chan struct{})
			done := make(chan struct{})
			go l.renew(symbol, key, owner, stop, done)
			return l.releaser(symbol, local, owner, func() {
				close(stop)
				<-done
			}), nil
		}

		if err := util.Sleep(ctx, l.clock, l.retryInterval); err != nil {
			<-local
			return nil, fmt.Errorf("%s: %w", symbol, entity.ErrSymbolLocked)
		}
	}
}

// renew extends key while it is held so work running past the ttl keeps exclusion.
func (l *SymbolLock) renew(symbol, key, owner string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(l.renewInterval)
	defer ticker.Stop()

	logger := l.logger.WithField("symbol", symbol)
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), l.renewInterval)
		held, err := l.store.Extend(ctx, key, owner, l.ttl)
		cancel()

		switch {
		case err != nil:
			logger.WithError(err).Warn("failed to extend symbol lock")
		case !held:
			logger.Error("symbol lock lost before release")
			return
		}
	}
}

func (l *SymbolLock) releaser(symbol string, local chan struct{}, owner string, stopRenew func()) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			if stopRenew != nil {
				stopRenew()
			}
			if owner != "" {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()

				if err := l.store.CompareAndDelete(ctx, constant.GetSymbolLockKey(symbol), owner); err != nil {
					l.logger.WithField("symbol", symbol).WithError(err).Warn("failed to release symbol lock, it expires after ttl")
				}
			}
			<-local
		})
	}
}

func (l *SymbolLock) local(symbol string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch, ok := l.locals[symbol]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locals[symbol] = ch
	}
	return ch
}
