package fetcher

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"crypto-arb-scanner/internal/market"
	"crypto-arb-scanner/internal/resilience"
)

// StreamFields are gjson paths into one book-ticker message.
type StreamFields struct {
	Symbol string `mapstructure:"symbol"`
	Bid    string `mapstructure:"bid"`
	Ask    string `mapstructure:"ask"`
	BidQty string `mapstructure:"bid_qty"`
	AskQty string `mapstructure:"ask_qty"`
}

// StreamOptions parameterise a WebSocket book-ticker feed for one exchange.
type StreamOptions struct {
	URL          string
	Subscribe    string
	SymbolFormat string
	Fields       StreamFields
	StaleAfter   time.Duration
	MaxBackoff   time.Duration
}

// DefaultBinanceStream subscribes to the all-market book ticker.
func DefaultBinanceStream() StreamOptions {
	return StreamOptions{
		URL:          "wss://stream.binance.com:9443/ws/!bookTicker",
		SymbolFormat: "{base}{quote}",
		Fields:       StreamFields{Symbol: "s", Bid: "b", Ask: "a", BidQty: "B", AskQty: "A"},
		StaleAfter:   30 * time.Second,
		MaxBackoff:   16 * time.Second,
	}
}

// Stream keeps the latest quote per symbol from a WebSocket feed.
type Stream struct {
	opts     StreamOptions
	exchange string
	logger   zerolog.Logger
	dialer   *websocket.Dialer

	mu     sync.RWMutex
	quotes map[string]market.Ticker
}

// NewStream builds a stream for exchangeID. Call Run to connect.
func NewStream(exchangeID string, opts StreamOptions, logger zerolog.Logger) *Stream {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 30 * time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 16 * time.Second
	}
	return &Stream{
		opts:     opts,
		exchange: strings.ToLower(exchangeID),
		logger:   logger.With().Str("component", "stream_fetcher").Str("exchange", exchangeID).Logger(),
		dialer:   websocket.DefaultDialer,
		quotes:   make(map[string]market.Ticker),
	}
}

const minStreamBackoff = time.Second

// Run connects and consumes messages until ctx is done, reconnecting with capped
// exponential backoff.
func (s *Stream) Run(ctx context.Context) error {
	if s.opts.URL == "" {
		return errors.New("stream url not configured")
	}
	var delay time.Duration
	for {
		connected, err := s.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		delay = s.retryDelay(delay, connected)
		s.logger.Warn().Err(err).Bool("was_connected", connected).Dur("backoff", delay).Msg("stream disconnected")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// retryDelay is the wait before the next dial. A session that got past the dial
// starts the sequence over.
func (s *Stream) retryDelay(prev time.Duration, connected bool) time.Duration {
	if connected || prev <= 0 {
		return minStreamBackoff
	}
	next := prev * 2
	if next > s.opts.MaxBackoff {
		next = s.opts.MaxBackoff
	}
	return next
}

// session runs one connection. connected reports whether the dial succeeded.
func (s *Stream) session(ctx context.Context) (connected bool, err error) {
	conn, _, err := s.dialer.DialContext(ctx, s.opts.URL, nil)
	if err != nil {
		return false, resilience.Wrap(resilience.KindNetwork, s.exchange, "dial", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if s.opts.Subscribe != "" {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(s.opts.Subscribe)); err != nil {
			return true, resilience.Wrap(resilience.KindNetwork, s.exchange, "subscribe", err)
		}
	}
	s.logger.Info().Str("url", s.opts.URL).Msg("stream connected")

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return true, resilience.Wrap(resilience.KindNetwork, s.exchange, "read", err)
		}
		s.handle(msg)
	}
}

func (s *Stream) handle(msg []byte) {
	if !gjson.ValidBytes(msg) {
		return
	}
	doc := gjson.ParseBytes(msg)
	symbol := strings.ToUpper(doc.Get(s.opts.Fields.Symbol).String())
	bid, ask := doc.Get(s.opts.Fields.Bid), doc.Get(s.opts.Fields.Ask)
	if symbol == "" || !bid.Exists() || !ask.Exists() {
		return
	}
	t := market.Ticker{
		Bid:       bid.Float(),
		Ask:       ask.Float(),
		Last:      (bid.Float() + ask.Float()) / 2,
		BidVolume: doc.Get(s.opts.Fields.BidQty).Float(),
		AskVolume: doc.Get(s.opts.Fields.AskQty).Float(),
		Timestamp: timeNow(),
	}
	t.BaseVolume = t.BidVolume + t.AskVolume

	s.mu.Lock()
	s.quotes[symbol] = t
	s.mu.Unlock()
}

// FetchSnapshot returns the latest fresh quotes for pairs.
func (s *Stream) FetchSnapshot(ctx context.Context, ex market.Exchange, pairs []string) (market.Snapshot, error) {
	now := timeNow()
	snap := market.NewSnapshot(ex, now)
	if err := ctx.Err(); err != nil {
		return snap, err
	}

	s.mu.RLock()
	for _, symbol := range pairs {
		p, err := market.ParsePair(symbol)
		if err != nil {
			continue
		}
		t, ok := s.quotes[strings.ToUpper(p.Symbol(s.opts.SymbolFormat))]
		if !ok || now.Sub(t.Timestamp) > s.opts.StaleAfter {
			continue
		}
		t.Symbol = p.String()
		snap.Tickers[p.String()] = t
	}
	s.mu.RUnlock()

	if snap.Empty() {
		return snap, resilience.Errorf(resilience.KindData, ex.ID, "stream", "no fresh quotes for %d pairs", len(pairs))
	}
	return snap, nil
}

var _ Source = (*Stream)(nil)
