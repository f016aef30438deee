package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/krobus00/futures-engine/internal/config"
	"github.com/krobus00/futures-engine/internal/util"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

const (
	defaultConnectTimeout = 5 * time.Second
	defaultBackoffFactor  = 2.0
	defaultMinJitter      = 100 * time.Millisecond
	defaultMaxJitter      = 1 * time.Second
	defaultMaxIdleConns   = 10
	defaultMaxOpenConns   = 100
	defaultConnLifetime   = 1 * time.Hour
)

// backoffPolicy spaces reconnect attempts: min*factor^attempt plus up to max-min of jitter, capped at max.
type backoffPolicy struct {
	factor float64
	min    time.Duration
	max    time.Duration
}

func resolveBackoffPolicy(factor float64, minJitter, maxJitter time.Duration, defaults backoffPolicy) backoffPolicy {
	policy := backoffPolicy{factor: factor, min: minJitter, max: maxJitter}
	if policy.factor < 1 {
		policy.factor = defaults.factor
	}
	if policy.min <= 0 {
		policy.min = defaults.min
	}
	if policy.max <= 0 {
		policy.max = defaults.max
	}
	if policy.max < policy.min {
		policy.max = policy.min
	}

	return policy
}

func (p backoffPolicy) delay(attempt int, rng *rand.Rand) time.Duration {
	return backoffWithJitter(attempt, p.factor, p.min, p.max, rng)
}

type postgresOptions struct {
	connectTimeout  time.Duration
	maxRetry        int
	backoff         backoffPolicy
	maxIdleConns    int
	maxOpenConns    int
	maxConnLifetime time.Duration
	maxConnIdleTime time.Duration
}

func resolvePostgresOptions(cfg config.DatabaseConfig) postgresOptions {
	opts := postgresOptions{
		connectTimeout:  cfg.PingInterval,
		maxRetry:        max(cfg.MaxRetry, 0),
		maxIdleConns:    cfg.MaxIdleConns,
		maxOpenConns:    cfg.MaxActiveConns,
		maxConnLifetime: cfg.MaxConnLifetime,
		maxConnIdleTime: cfg.PingInterval,
	}
	opts.backoff = resolveBackoffPolicy(cfg.ReconnectFactor, cfg.MinJitter, cfg.MaxJitter, backoffPolicy{
		factor: defaultBackoffFactor,
		min:    defaultMinJitter,
		max:    defaultMaxJitter,
	})

	if opts.connectTimeout <= 0 {
		opts.connectTimeout = defaultConnectTimeout
	}
	if opts.maxIdleConns <= 0 {
		opts.maxIdleConns = defaultMaxIdleConns
	}
	if opts.maxOpenConns <= 0 {
		opts.maxOpenConns = defaultMaxOpenConns
	}
	if opts.maxConnLifetime <= 0 {
		opts.maxConnLifetime = defaultConnLifetime
	}

	return opts
}

// NewPostgresConnection connects to the order and decision history database, retrying with
// backoff and jitter until MaxRetry is used up or ctx is done.
func NewPostgresConnection(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("database dsn is required")
	}

	opts := resolvePostgresOptions(cfg)
	logger := logrus.WithField("postgres_dsn", maskDSN(cfg.DSN))
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var lastErr error

	for attempt := 0; attempt <= opts.maxRetry; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		attemptCtx, cancel := context.WithTimeout(ctx, opts.connectTimeout)
		db, err := sqlx.ConnectContext(attemptCtx, "postgres", cfg.DSN)
		cancel()
		if err == nil {
			db.SetMaxIdleConns(opts.maxIdleConns)
			db.SetMaxOpenConns(opts.maxOpenConns)
			db.SetConnMaxLifetime(opts.maxConnLifetime)
			if opts.maxConnIdleTime > 0 {
				db.SetConnMaxIdleTime(opts.maxConnIdleTime)
			}

			logger.WithFields(logrus.Fields{
				"max_idle_conns":    opts.maxIdleConns,
				"max_active_conns":  opts.maxOpenConns,
				"max_conn_lifetime": opts.maxConnLifetime,
			}).Info("postgres connection established")

			return db, nil
		}

		lastErr = err
		if attempt == opts.maxRetry {
			break
		}

		waitDuration := opts.backoff.delay(attempt, rng)
		logger.WithFields(logrus.Fields{
			"attempt":   attempt + 1,
			"max_retry": opts.maxRetry,
			"retry_in":  waitDuration.String(),
		}).Warnf("postgres connection failed: %v", err)

		if err := util.Sleep(ctx, util.RealClock{}, waitDuration); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("connect postgres after %d attempts: %w", opts.maxRetry+1, lastErr)
}

type pinger interface {
	PingContext(ctx context.Context) error
}

// PostgresHealth tracks the outcome of the periodic ping. A nil PostgresHealth is always healthy.
type PostgresHealth struct {
	healthy atomic.Bool
	logger  logrus.FieldLogger
}

func newPostgresHealth() *PostgresHealth {
	h := &PostgresHealth{logger: logrus.WithField("component", "postgres_health")}
	h.healthy.Store(true)
	return h
}

func (h *PostgresHealth) Healthy() bool {
	if h == nil {
		return true
	}
	return h.healthy.Load()
}

func (h *PostgresHealth) check(ctx context.Context, db pinger, timeout time.Duration) {
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	err := db.PingContext(pingCtx)
	cancel()

	healthy := err == nil
	if h.healthy.Swap(healthy) == healthy {
		return
	}

	if healthy {
		h.logger.Info("postgres health check recovered")
		return
	}
	h.logger.Errorf("postgres health check failed: %v", err)
}

// StartPostgresHealthCheck pings db every interval until ctx is done. A non-positive interval
// disables the check and returns nil.
func StartPostgresHealthCheck(ctx context.Context, db *sqlx.DB, interval time.Duration) *PostgresHealth {
	if db == nil || interval <= 0 {
		return nil
	}

	health := newPostgresHealth()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				health.check(ctx, db, interval)
			}
		}
	}()

	return health
}

func backoffWithJitter(attempt int, factor float64, min, max time.Duration, rng *rand.Rand) time.Duration {
	backoff := float64(min) * math.Pow(factor, float64(attempt))
	if backoff > float64(max) {
		backoff = float64(max)
	}

	base := time.Duration(backoff)
	if max <= min {
		return base
	}

	jitterWindow := max - min
	jitter := time.Duration(rng.Int63n(int64(jitterWindow) + 1))
	result := base + jitter
	if result > max {
		return max
	}

	return result
}

func maskDSN(dsn string) string {
	idx := strings.Index(dsn, "@")
	if idx == -1 {
		return dsn
	}

	prefix := dsn[:idx]
	credsIdx := strings.LastIndex(prefix, "://")
	if credsIdx == -1 {
		return "***" + dsn[idx:]
	}

	return prefix[:credsIdx+3] + "***" + dsn[idx:]
}
