package marketdata

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/krobus00/futures-engine/internal/entity"
	"github.com/krobus00/futures-engine/internal/util"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	defaultWSURL = "wss://fstream.binance.com"

	wsReconnectMinDelay = 500 * time.Millisecond
	wsReconnectMaxDelay = 30 * time.Second
	wsReconnectFactor   = 2.0
	wsPingInterval      = 30 * time.Second
	wsReadTimeout       = time.Minute

	markPriceEventType = "markPriceUpdate"
)

type markPriceEnvelope struct {
	Stream string                              `json:"stream"`
	Data   entity.BinanceFuturesMarkPriceEvent `json:"data"`
}

// MarkPriceStream follows <symbol>@markPrice@1s for a set of symbols and keeps the latest snapshot of each.
type MarkPriceStream struct {
	wsURL       string
	symbols     []string
	dialer      *websocket.Dialer
	readTimeout time.Duration
	clock       util.Clock
	logger      logrus.FieldLogger

	mu        sync.RWMutex
	snapshots map[string]*atomic.Pointer[entity.MarketSnapshot]
}

type Option func(*MarkPriceStream)

func WithDialer(dialer *websocket.Dialer) Option {
	return func(s *MarkPriceStream) {
		s.dialer = dialer
	}
}

// WithReadTimeout sets how long the connection may stay silent before it is dropped and redialed.
func WithReadTimeout(timeout time.Duration) Option {
	return func(s *MarkPriceStream) {
		if timeout > 0 {
			s.readTimeout = timeout
		}
	}
}

func WithClock(clock util.Clock) Option {
	return func(s *MarkPriceStream) {
		s.clock = clock
	}
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *MarkPriceStream) {
		s.logger = logger
	}
}

func NewMarkPriceStream(wsURL string, symbols []string, opts ...Option) *MarkPriceStream {
	s := &MarkPriceStream{
		wsURL:     strings.TrimRight(strings.TrimSpace(wsURL), "/"),
		dialer:      websocket.DefaultDialer,
		readTimeout: wsReadTimeout,
		clock:       util.RealClock{},
		snapshots:   make(map[string]*atomic.Pointer[entity.MarketSnapshot]),
	}
	if s.wsURL == "" {
		s.wsURL = defaultWSURL
	}

	for _, symbol := range symbols {
		symbol = strings.ToUpper(strings.TrimSpace(symbol))
		if symbol == "" {
			continue
		}
		s.symbols = append(s.symbols, symbol)
		s.snapshots[symbol] = &atomic.Pointer[entity.MarketSnapshot]{}
	}

	for _, opt := range opts {
		opt(s)
	}
	s.logger = util.LoggerOrDefault(s.logger)

	return s
}

// Snapshot returns the latest mark price view of symbol, or nil before the first update.
func (s *MarkPriceStream) Snapshot(symbol string) *entity.MarketSnapshot {
	s.mu.RLock()
	ptr, ok := s.snapshots[strings.ToUpper(symbol)]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	return ptr.Load()
}

func (s *MarkPriceStream) StreamURL() (string, error) {
	if len(s.symbols) == 0 {
		return "", fmt.Errorf("mark price stream: no symbols")
	}

	streams := make([]string, 0, len(s.symbols))
	for _, symbol := range s.symbols {
		streams = append(streams, strings.ToLower(symbol)+"@markPrice@1s")
	}

	wsHost, err := url.Parse(s.wsURL + "/stream")
	if err != nil {
		return "", fmt.Errorf("invalid binance futures ws url: %w", err)
	}
	if wsHost.Scheme != "ws" && wsHost.Scheme != "wss" || wsHost.Host == "" {
		return "", fmt.Errorf("invalid binance futures ws url %q: want ws:// or wss:// with a host", s.wsURL)
	}

	query := wsHost.Query()
	query.Set("streams", strings.Join(streams, "/"))
	wsHost.RawQuery = query.Encode()

	return wsHost.String(), nil
}

// HandleMessage decodes one combined-stream frame and stores it as the symbol's latest snapshot.
func (s *MarkPriceStream) HandleMessage(message []byte) error {
	var envelope markPriceEnvelope
	if err := json.Unmarshal(message, &envelope); err != nil {
		return fmt.Errorf("decode mark price message: %w", err)
	}

	update := envelope.Data
	if update.Event != markPriceEventType {
		return nil
	}

	symbol := strings.ToUpper(update.Symbol)
	s.mu.RLock()
	ptr, ok := s.snapshots[symbol]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unexpected mark price symbol %q", update.Symbol)
	}

	snapshot, err := toSnapshot(update)
	if err != nil {
		return err
	}

	if current := ptr.Load(); current != nil && current.EventTime.After(snapshot.EventTime) {
		return nil
	}
	ptr.Store(snapshot)

	return nil
}

func toSnapshot(u entity.BinanceFuturesMarkPriceEvent) (*entity.MarketSnapshot, error) {
	markPrice, err := decimal.NewFromString(u.MarkPrice)
	if err != nil {
		return nil, fmt.Errorf("parse mark price %q: %w", u.MarkPrice, err)
	}

	snapshot := &entity.MarketSnapshot{
		Symbol:    strings.ToUpper(u.Symbol),
		MarkPrice: markPrice,
		EventTime: time.UnixMilli(u.EventTime).UTC(),
	}
	if u.IndexPrice != "" {
		if snapshot.IndexPrice, err = decimal.NewFromString(u.IndexPrice); err != nil {
			return nil, fmt.Errorf("parse index price %q: %w", u.IndexPrice, err)
		}
	}
	if u.FundingRate != "" {
		if snapshot.FundingRate, err = decimal.NewFromString(u.FundingRate); err != nil {
			return nil, fmt.Errorf("parse funding rate %q: %w", u.FundingRate, err)
		}
	}

	return snapshot, nil
}

// Run keeps the websocket connected until ctx is done, reconnecting with backoff and jitter.
func (s *MarkPriceStream) Run(ctx context.Context) error {
	streamURL, err := s.StreamURL()
	if err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(s.clock.Now().UnixNano()))
	attempt := 0

	for {
		if ctx.Err() != nil {
			return nil
		}

		s.logger.Infof("connecting to %s", streamURL)
		conn, _, err := s.dialer.DialContext(ctx, streamURL, nil)
		if err != nil {
			wait := ReconnectDelay(attempt, rng)
			attempt++
			s.logger.WithFields(logrus.Fields{"retry_in": wait.String(), "attempt": attempt}).Warnf("mark price ws dial failed: %v", err)
			if util.Sleep(ctx, s.clock, wait) != nil {
				return nil
			}
			continue
		}

		attempt = 0
		if s.consume(ctx, conn) {
			return nil
		}

		wait := ReconnectDelay(attempt, rng)
		attempt++
		s.logger.WithFields(logrus.Fields{"retry_in": wait.String(), "attempt": attempt}).Warn("reconnecting mark price ws")
		if util.Sleep(ctx, s.clock, wait) != nil {
			return nil
		}
	}
}

// consume reads frames until the connection breaks or stays silent past readTimeout.
// It reports whether ctx ended the session.
func (s *MarkPriceStream) consume(ctx context.Context, conn *websocket.Conn) bool {
	stop := make(chan struct{})
	defer close(stop)
	defer conn.Close()

	extendDeadline := func() error {
		return conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	}
	if err := extendDeadline(); err != nil {
		s.logger.Errorf("mark price ws set read deadline failed: %v", err)
		return false
	}
	conn.SetPongHandler(func(string) error {
		return extendDeadline()
	})

	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
					s.logger.Error(err)
					return
				}
			case <-ctx.Done():
				_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				_ = conn.Close()
				return
			case <-stop:
				return
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return true
			}
			s.logger.Errorf("mark price ws read failed: %v", err)
			return false
		}
		if err := extendDeadline(); err != nil {
			s.logger.Errorf("mark price ws set read deadline failed: %v", err)
			return false
		}

		if err := s.HandleMessage(message); err != nil {
			s.logger.Errorf("mark price ws handle message failed: %v", err)
		}
	}
}

func ReconnectDelay(attempt int, rng *rand.Rand) time.Duration {
	backoff := float64(wsReconnectMinDelay) * math.Pow(wsReconnectFactor, float64(attempt))
	if backoff > float64(wsReconnectMaxDelay) {
		backoff = float64(wsReconnectMaxDelay)
	}

	base := time.Duration(backoff)
	jitter := time.Duration(rng.Int63n(int64(wsReconnectMinDelay) + 1))
	result := base + jitter
	if result > wsReconnectMaxDelay {
		return wsReconnectMaxDelay
	}

	return result
}
