package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"crypto-arb-scanner/internal/market"
	"crypto-arb-scanner/internal/resilience"
)

// FieldPaths are gjson paths into one ticker response.
type FieldPaths struct {
	Bid         string `mapstructure:"bid"`
	Ask         string `mapstructure:"ask"`
	Last        string `mapstructure:"last"`
	Open        string `mapstructure:"open"`
	High        string `mapstructure:"high"`
	Low         string `mapstructure:"low"`
	BaseVolume  string `mapstructure:"base_volume"`
	QuoteVolume string `mapstructure:"quote_volume"`
	BidQty      string `mapstructure:"bid_qty"`
	AskQty      string `mapstructure:"ask_qty"`
}

// RESTEndpoint describes how to poll one exchange.
type RESTEndpoint struct {
	URL           string     `mapstructure:"url"`
	SymbolFormat  string     `mapstructure:"symbol_format"`
	RatePerSecond float64    `mapstructure:"rate_per_second"`
	Burst         int        `mapstructure:"burst"`
	Fields        FieldPaths `mapstructure:"fields"`
}

// DefaultRESTEndpoints are public ticker endpoints for the registry exchanges.
func DefaultRESTEndpoints() map[string]RESTEndpoint {
	return map[string]RESTEndpoint{
		"binance": {
			URL:           "https://api.binance.com/api/v3/ticker/24hr?symbol={symbol}",
			SymbolFormat:  "{base}{quote}",
			RatePerSecond: 10,
			Burst:         5,
			Fields: FieldPaths{
				Bid: "bidPrice", Ask: "askPrice", Last: "lastPrice", Open: "openPrice",
				High: "highPrice", Low: "lowPrice", BaseVolume: "volume", QuoteVolume: "quoteVolume",
				BidQty: "bidQty", AskQty: "askQty",
			},
		},
		"kraken": {
			URL:           "https://api.kraken.com/0/public/Ticker?pair={symbol}",
			SymbolFormat:  "{base}{quote}",
			RatePerSecond: 1,
			Burst:         1,
			Fields: FieldPaths{
				Bid: "result.*.b.0", Ask: "result.*.a.0", Last: "result.*.c.0", Open: "result.*.o",
				High: "result.*.h.1", Low: "result.*.l.1", BaseVolume: "result.*.v.1",
				BidQty: "result.*.b.2", AskQty: "result.*.a.2",
			},
		},
		"coinbase": {
			URL:           "https://api.exchange.coinbase.com/products/{symbol}/ticker",
			SymbolFormat:  "{base}-{quote}",
			RatePerSecond: 3,
			Burst:         3,
			Fields: FieldPaths{
				Bid: "bid", Ask: "ask", Last: "price", BaseVolume: "volume",
			},
		},
		"kucoin": {
			URL:           "https://api.kucoin.com/api/v1/market/stats?symbol={symbol}",
			SymbolFormat:  "{base}-{quote}",
			RatePerSecond: 5,
			Burst:         5,
			Fields: FieldPaths{
				Bid: "data.buy", Ask: "data.sell", Last: "data.last", High: "data.high",
				Low: "data.low", BaseVolume: "data.vol", QuoteVolume: "data.volValue",
			},
		},
		"bybit": {
			URL:           "https://api.bybit.com/v5/market/tickers?category=spot&symbol={symbol}",
			SymbolFormat:  "{base}{quote}",
			RatePerSecond: 5,
			Burst:         5,
			Fields: FieldPaths{
				Bid: "result.list.0.bid1Price", Ask: "result.list.0.ask1Price", Last: "result.list.0.lastPrice",
				Open: "result.list.0.prevPrice24h", High: "result.list.0.highPrice24h", Low: "result.list.0.lowPrice24h",
				BaseVolume: "result.list.0.volume24h", QuoteVolume: "result.list.0.turnover24h",
				BidQty: "result.list.0.bid1Size", AskQty: "result.list.0.ask1Size",
			},
		},
	}
}

// RESTOptions parameterise the polling source.
type RESTOptions struct {
	Endpoints map[string]RESTEndpoint
	Timeout   time.Duration
	UserAgent string
}

// REST polls public ticker endpoints, one request per pair.
type REST struct {
	opts     RESTOptions
	logger   zerolog.Logger
	client   *http.Client
	limiters map[string]*rate.Limiter
}

// NewREST constructs the polling source. A nil endpoint map uses the defaults.
func NewREST(opts RESTOptions, logger zerolog.Logger) *REST {
	if opts.Endpoints == nil {
		opts.Endpoints = DefaultRESTEndpoints()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	endpoints := make(map[string]RESTEndpoint, len(opts.Endpoints))
	limiters := make(map[string]*rate.Limiter, len(opts.Endpoints))
	for id, ep := range opts.Endpoints {
		id = strings.ToLower(id)
		endpoints[id] = ep
		limit := rate.Inf
		if ep.RatePerSecond > 0 {
			limit = rate.Limit(ep.RatePerSecond)
		}
		burst := ep.Burst
		if burst <= 0 {
			burst = 1
		}
		limiters[id] = rate.NewLimiter(limit, burst)
	}
	opts.Endpoints = endpoints

	return &REST{
		opts:     opts,
		logger:   logger.With().Str("component", "rest_fetcher").Logger(),
		client:   &http.Client{Timeout: timeout},
		limiters: limiters,
	}
}

// FetchSnapshot polls every pair. Individual pair failures are logged and skipped;
// the call fails only when no pair succeeds.
func (r *REST) FetchSnapshot(ctx context.Context, ex market.Exchange, pairs []string) (market.Snapshot, error) {
	snap := market.NewSnapshot(ex, timeNow())
	ep, ok := r.opts.Endpoints[strings.ToLower(ex.ID)]
	if !ok {
		return snap, resilience.Errorf(resilience.KindAPI, ex.ID, "fetch", "no rest endpoint configured")
	}
	limiter := r.limiters[strings.ToLower(ex.ID)]

	var lastErr error
	for _, symbol := range pairs {
		p, err := market.ParsePair(symbol)
		if err != nil {
			lastErr = resilience.Wrap(resilience.KindValidation, ex.ID, "fetch", err)
			continue
		}
		if err := limiter.Wait(ctx); err != nil {
			return snap, resilience.Wrap(resilience.KindTimeout, ex.ID, "rate wait", err)
		}
		t, err := r.fetchTicker(ctx, ex.ID, ep, p)
		if err != nil {
			lastErr = err
			r.logger.Warn().Err(err).Str("exchange", ex.ID).Str("pair", p.String()).Msg("ticker fetch failed")
			continue
		}
		snap.Tickers[p.String()] = t
	}

	if snap.Empty() && lastErr != nil {
		return snap, fmt.Errorf("all %d pairs failed: %w", len(pairs), lastErr)
	}
	snap.FetchedAt = timeNow()
	return snap, nil
}

func (r *REST) fetchTicker(ctx context.Context, exchangeID string, ep RESTEndpoint, p market.Pair) (market.Ticker, error) {
	endpoint := strings.ReplaceAll(ep.URL, "{symbol}", url.PathEscape(p.Symbol(ep.SymbolFormat)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return market.Ticker{}, resilience.Wrap(resilience.KindAPI, exchangeID, "build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(r.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "arbscan/1.0")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return market.Ticker{}, resilience.Wrap(transportKind(err), exchangeID, "get "+p.String(), err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return market.Ticker{}, resilience.Wrap(resilience.KindNetwork, exchangeID, "read body", err)
	}
	if err := statusError(exchangeID, resp.StatusCode, payload); err != nil {
		return market.Ticker{}, err
	}
	return parseTicker(exchangeID, p, ep.Fields, payload)
}

func transportKind(err error) resilience.Kind {
	if k := resilience.KindOf(err); k == resilience.KindTimeout {
		return k
	}
	return resilience.KindNetwork
}

func statusError(exchangeID string, status int, payload []byte) error {
	if status == http.StatusOK {
		return nil
	}
	body := strings.TrimSpace(string(payload))
	if len(body) > 200 {
		body = body[:200]
	}
	err := fmt.Errorf("http %d: %s", status, body)
	switch {
	case status == http.StatusTooManyRequests:
		return resilience.Wrap(resilience.KindRateLimit, exchangeID, "fetch", err)
	case status >= 500:
		return resilience.Wrap(resilience.KindNetwork, exchangeID, "fetch", err)
	default:
		return resilience.Wrap(resilience.KindAPI, exchangeID, "fetch", err)
	}
}

var errMissingQuote = errors.New("bid or ask missing from payload")

func parseTicker(exchangeID string, p market.Pair, f FieldPaths, payload []byte) (market.Ticker, error) {
	if !gjson.ValidBytes(payload) {
		return market.Ticker{}, resilience.Errorf(resilience.KindData, exchangeID, "decode", "invalid json for %s", p)
	}
	doc := gjson.ParseBytes(payload)
	get := func(path string) float64 {
		if path == "" {
			return 0
		}
		return doc.Get(path).Float()
	}

	bid, ask := doc.Get(f.Bid), doc.Get(f.Ask)
	if f.Bid == "" || f.Ask == "" || !bid.Exists() || !ask.Exists() {
		return market.Ticker{}, resilience.Wrap(resilience.KindData, exchangeID, "decode "+p.String(), errMissingQuote)
	}

	return market.Ticker{
		Symbol:      p.String(),
		Bid:         bid.Float(),
		Ask:         ask.Float(),
		Last:        get(f.Last),
		Open:        get(f.Open),
		High:        get(f.High),
		Low:         get(f.Low),
		Close:       get(f.Last),
		BaseVolume:  get(f.BaseVolume),
		QuoteVolume: get(f.QuoteVolume),
		BidVolume:   get(f.BidQty),
		AskVolume:   get(f.AskQty),
		Timestamp:   timeNow(),
	}, nil
}

var _ Source = (*REST)(nil)
