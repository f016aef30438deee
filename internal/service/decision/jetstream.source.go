package decision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/krobus00/futures-engine/internal/constant"
	"github.com/krobus00/futures-engine/internal/entity"
	"github.com/krobus00/futures-engine/internal/util"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

const (
	defaultMaxSignalAge   = 10 * time.Minute
	defaultHandlerTimeout = 5 * time.Second
	decisionStreamMaxAge  = time.Hour
)

// JetStreamSource keeps the latest unconsumed decision per symbol received from JetStream.
type JetStreamSource struct {
	js             nats.JetStreamContext
	symbols        []string
	maxAge         time.Duration
	handlerTimeout time.Duration
	clock          util.Clock
	logger         logrus.FieldLogger

	mu      sync.Mutex
	pending map[string]entity.DecisionSignal
	subs    []*nats.Subscription
}

type JetStreamSourceConfig struct {
	Symbols        []string
	MaxSignalAge   time.Duration
	HandlerTimeout time.Duration
	Clock          util.Clock
	Logger         logrus.FieldLogger
}

func NewJetStreamSource(js nats.JetStreamContext, cfg JetStreamSourceConfig) *JetStreamSource {
	s := &JetStreamSource{
		js:             js,
		maxAge:         cfg.MaxSignalAge,
		handlerTimeout: cfg.HandlerTimeout,
		clock:          cfg.Clock,
		logger:         util.LoggerOrDefault(cfg.Logger),
		pending:        make(map[string]entity.DecisionSignal),
	}

	if s.maxAge <= 0 {
		s.maxAge = defaultMaxSignalAge
	}
	if s.handlerTimeout <= 0 {
		s.handlerTimeout = defaultHandlerTimeout
	}
	if s.clock == nil {
		s.clock = util.RealClock{}
	}
	for _, symbol := range cfg.Symbols {
		s.symbols = append(s.symbols, strings.ToUpper(strings.TrimSpace(symbol)))
	}

	return s
}

func (s *JetStreamSource) JetstreamEventInit(ctx context.Context) error {
	streamConfig := &nats.StreamConfig{
		Name:      constant.DecisionStreamName,
		Subjects:  []string{constant.DecisionStreamSubjectAll},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    decisionStreamMaxAge,
		Replicas:  1,
	}

	return ensureStream(ctx, s.js, streamConfig, s.logger)
}

func (s *JetStreamSource) JetstreamEventSubscribe(ctx context.Context) error {
	if err := s.JetstreamEventInit(ctx); err != nil {
		s.logger.Error(err)
		return err
	}

	for _, symbol := range s.symbols {
		sub, err := s.js.QueueSubscribe(
			constant.GetDecisionSubject(symbol),
			constant.GetDecisionDurableName(symbol),
			func(msg *nats.Msg) {
				err := util.ProcessWithTimeout(ctx, s.handlerTimeout, msg, s.handleDecisionEvent)
				if err != nil {
					s.logger.Errorf("error processing decision message: %v", err)
					_ = msg.Term()
					return
				}

				if err := msg.Ack(); err != nil {
					s.logger.Errorf("failed to acknowledge decision message: %v", err)
				}
			},
			nats.ManualAck(),
			nats.Durable(constant.GetDecisionDurableName(symbol)),
			nats.DeliverNew(),
		)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", constant.GetDecisionSubject(symbol), err)
		}

		s.mu.Lock()
		s.subs = append(s.subs, sub)
		s.mu.Unlock()

		s.logger.WithField("symbol", symbol).Info("subscribed to decision signals")
	}

	return nil
}

func (s *JetStreamSource) handleDecisionEvent(_ context.Context, msg *nats.Msg) error {
	var event SignalEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		return fmt.Errorf("decode decision event: %w", err)
	}

	if event.Symbol == "" {
		event.Symbol = strings.TrimPrefix(msg.Subject, constant.DecisionStreamName+".")
	}

	s.Offer(event.ToSignal(s.clock.Now()))
	return nil
}

// Offer stores signal as the pending decision of its symbol unless a newer one is already pending.
func (s *JetStreamSource) Offer(signal entity.DecisionSignal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.pending[signal.Symbol]; ok && current.IssuedAt.After(signal.IssuedAt) {
		s.logger.WithField("symbol", signal.Symbol).Debug("ignoring decision older than the pending one")
		return
	}

	s.pending[signal.Symbol] = signal
	s.logger.WithFields(logrus.Fields{
		"symbol":         signal.Symbol,
		"decision":       signal.Decision,
		"strategy_label": signal.StrategyLabel,
	}).Info("decision received")
}

// Next consumes the pending decision of symbol. Without a fresh pending decision it returns HOLD.
func (s *JetStreamSource) Next(_ context.Context, symbol string) (entity.DecisionSignal, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	now := s.clock.Now()

	s.mu.Lock()
	signal, ok := s.pending[symbol]
	delete(s.pending, symbol)
	s.mu.Unlock()

	if !ok {
		return holdSignal(symbol, now), nil
	}

	if now.Sub(signal.IssuedAt) > s.maxAge {
		s.logger.WithFields(logrus.Fields{
			"symbol":    symbol,
			"decision":  signal.Decision,
			"issued_at": signal.IssuedAt,
		}).Warn("dropping stale decision")
		return holdSignal(symbol, now), nil
	}

	return signal, nil
}

func (s *JetStreamSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, sub := range s.subs {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, err)
		}
	}
	s.subs = nil

	return errors.Join(errs...)
}

func ensureStream(ctx context.Context, js nats.JetStreamContext, streamConfig *nats.StreamConfig, logger logrus.FieldLogger) error {
	stream, err := js.StreamInfo(streamConfig.Name, nats.Context(ctx))
	if err != nil && !errors.Is(err, nats.ErrStreamNotFound) {
		logger.Error(err)
		return err
	}

	if stream == nil {
		logger.Infof("creating stream: %s", streamConfig.Name)
		_, err = js.AddStream(streamConfig, nats.Context(ctx))
		return err
	}

	logger.Infof("updating stream: %s", streamConfig.Name)
	_, err = js.UpdateStream(streamConfig, nats.Context(ctx))
	if err != nil {
		logger.Error(err)
		return err
	}

	logger.Infof("stream %s is ready", streamConfig.Name)
	return nil
}
