package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/krobus00/futures-engine/internal/config"
	"github.com/krobus00/futures-engine/internal/infrastructure"
	"github.com/krobus00/futures-engine/internal/repository"
	"github.com/krobus00/futures-engine/internal/service/exchange"
	"github.com/krobus00/futures-engine/internal/service/executor"
	"github.com/krobus00/futures-engine/internal/service/lock"
	"github.com/krobus00/futures-engine/internal/service/position"
	"github.com/krobus00/futures-engine/internal/service/quantization"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	databaseName = "futures_engine"
	redisName    = "lock"
)

type operation func(ctx context.Context) error

// gracefulShutdown waits for termination syscalls and doing clean up operations after received it.
func gracefulShutdown(ctx context.Context, timeout time.Duration, ops map[string]operation) <-chan struct{} {
	wait := make(chan struct{})
	go func() {
		s := make(chan os.Signal, 1)

		// add any other syscalls that you want to be notified with
		signal.Notify(s, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
		<-s

		logrus.Info("shutting down")

		// set timeout for the ops to be done to prevent system hang
		timeoutFunc := time.AfterFunc(timeout, func() {
			logrus.Error(fmt.Sprintf("timeout %d ms has been elapsed, force exit", timeout.Milliseconds()))
			os.Exit(0)
		})

		defer timeoutFunc.Stop()

		var wg sync.WaitGroup

		// Do the operations asynchronously to save time
		for key, op := range ops {
			wg.Add(1)
			innerOp := op
			innerKey := key
			go func() {
				defer wg.Done()

				logrus.Info(fmt.Sprintf("cleaning up: %s", innerKey))
				if err := innerOp(ctx); err != nil {
					logrus.Error(fmt.Sprintf("%s: clean up failed: %s", innerKey, err.Error()))
					return
				}

				logrus.Info(fmt.Sprintf("%s was shutdown gracefully", innerKey))
			}()
		}

		wg.Wait()

		close(wait)
	}()

	return wait
}

// tradingCore is the exchange-facing part shared by the trader service and the position CLI.
type tradingCore struct {
	gateway      *exchange.BinanceFuturesGateway
	rules        *quantization.RulesCache
	executor     *executor.OrderExecutor
	symbolLock   *lock.SymbolLock
	orderHistory *repository.OrderHistoryRepository
	db           *sqlx.DB
	dbHealth     *infrastructure.PostgresHealth
	redis        *redis.Client
}

type coreOptions struct {
	requireDatabase bool
	requireRedis    bool
}

func newTradingCore(ctx context.Context, opts coreOptions) (*tradingCore, error) {
	engineCfg := config.Env.Engine
	core := &tradingCore{}

	core.gateway = exchange.NewBinanceFuturesGateway(config.Env.Exchange, exchange.WithLogger(logrus.WithField("component", "gateway")))
	core.rules = quantization.NewRulesCache(core.gateway, logrus.WithField("component", "quantization"))

	executorOpts := []executor.Option{
		executor.WithLogger(logrus.WithField("component", "executor")),
		executor.WithPollInterval(engineCfg.PollInterval),
	}

	dbConfig, hasDB := config.Env.Database[databaseName]
	if hasDB && strings.TrimSpace(dbConfig.DSN) != "" {
		db, err := infrastructure.NewPostgresConnection(ctx, dbConfig)
		if err != nil {
			return nil, err
		}
		core.db = db
		core.dbHealth = infrastructure.StartPostgresHealthCheck(ctx, db, dbConfig.PingInterval)
		core.orderHistory = repository.NewOrderHistoryRepository(db)
		executorOpts = append(executorOpts, executor.WithOrderHistoryRecorder(core.orderHistory))
	} else if opts.requireDatabase {
		return nil, fmt.Errorf("database %q is not configured", databaseName)
	}

	var store lock.Store
	redisConfig, hasRedis := config.Env.Redis[redisName]
	if hasRedis && strings.TrimSpace(redisConfig.CacheDSN) != "" {
		client, err := infrastructure.NewRedisClient(ctx, redisConfig)
		if err != nil {
			core.close()
			return nil, err
		}
		core.redis = client
		store = lock.NewRedisStore(client)
	} else if opts.requireRedis {
		core.close()
		return nil, fmt.Errorf("redis %q is not configured", redisName)
	} else {
		logrus.Warn("redis lock is not configured, symbol lock only covers this process")
	}

	core.executor = executor.NewOrderExecutor(core.gateway, core.rules, executorOpts...)
	core.symbolLock = lock.NewSymbolLock(store,
		lock.WithTTL(engineCfg.LockTTL),
		lock.WithLogger(logrus.WithField("component", "symbol_lock")),
	)

	return core, nil
}

func (c *tradingCore) newPositionManager(symbol string, opts ...position.Option) *position.Manager {
	base := []position.Option{
		position.WithLogger(logrus.WithFields(logrus.Fields{"component": "position", "symbol": strings.ToUpper(symbol)})),
		position.WithSubmitOptions(executor.SubmitOptionsFromConfig(config.Env.Engine)),
	}

	return position.NewManager(symbol, c.gateway, c.executor, append(base, opts...)...)
}

func (c *tradingCore) close() {
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			logrus.Errorf("close database: %v", err)
		}
	}
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			logrus.Errorf("close redis: %v", err)
		}
	}
}
