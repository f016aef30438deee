package infrastructure

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/krobus00/futures-engine/internal/config"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

const (
	defaultNatsMaxRetries      = 10
	defaultNatsBackoffFactor   = 2.0
	defaultNatsMinJitter       = 100 * time.Millisecond
	defaultNatsMaxJitter       = 2 * time.Second
	defaultNatsConnectTimeout  = 5 * time.Second
	defaultNatsDrainTimeout    = 10 * time.Second
	defaultNatsPingInterval    = 30 * time.Second
	defaultNatsPingOutstanding = 3
	defaultJetStreamMaxWait    = 5 * time.Second
)

// NewJetstream connects to NATS with bounded jittered reconnects and returns a JetStream context.
func NewJetstream(cfg config.NatsJetstreamConfig) (nc *nats.Conn, js nats.JetStreamContext, err error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, nil, errors.New("nats jetstream url is required")
	}

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultNatsMaxRetries
	}

	backoff := resolveBackoffPolicy(cfg.ReconnectFactor, cfg.MinJitter, cfg.MaxJitter, backoffPolicy{
		factor: defaultNatsBackoffFactor,
		min:    defaultNatsMinJitter,
		max:    defaultNatsMaxJitter,
	})
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	logger := logrus.WithField("component", "nats")

	nc, err = nats.Connect(cfg.URL,
		nats.Name(config.ServiceName),
		nats.Timeout(defaultNatsConnectTimeout),
		nats.DrainTimeout(defaultNatsDrainTimeout),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(maxRetries),
		nats.PingInterval(defaultNatsPingInterval),
		nats.MaxPingsOutstanding(defaultNatsPingOutstanding),
		nats.CustomReconnectDelay(func(attempts int) time.Duration {
			return backoff.delay(attempts, rng)
		}),
		nats.DisconnectErrHandler(func(conn *nats.Conn, disErr error) {
			logger.WithError(disErr).Warn("nats disconnected, decisions are paused until reconnect")
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			logger.Infof("nats reconnected: %s", conn.ConnectedUrl())
		}),
		nats.ErrorHandler(func(conn *nats.Conn, sub *nats.Subscription, asyncErr error) {
			entry := logger.WithError(asyncErr)
			if sub != nil {
				entry = entry.WithField("subject", sub.Subject)
			}
			entry.Error("nats async error")
		}),
		nats.ClosedHandler(func(conn *nats.Conn) {
			logger.Warnf("nats connection closed: %v", conn.LastError())
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err = nc.JetStream(
		nats.PublishAsyncMaxPending(256),
		nats.MaxWait(defaultJetStreamMaxWait),
	)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create jetstream context: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"url":         cfg.URL,
		"max_retries": maxRetries,
	}).Info("nats jetstream connection established")

	return nc, js, nil
}

func CloseJetstream(nc *nats.Conn) error {
	if nc == nil {
		return nil
	}

	if err := nc.Drain(); err != nil {
		nc.Close()
		return fmt.Errorf("drain nats connection: %w", err)
	}

	nc.Close()
	return nil
}
