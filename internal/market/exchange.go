package market

import (
	"fmt"
	"strings"
)

// Exchange identifies a trading venue.
type Exchange struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Logo string `json:"logo,omitempty"`
}

const logoBase = "https://s2.coinmarketcap.com/static/img/exchanges/64x64/"

var registry = []Exchange{
	{ID: "binance", Name: "Binance", Logo: logoBase + "270.png"},
	{ID: "kraken", Name: "Kraken", Logo: logoBase + "24.png"},
	{ID: "coinbase", Name: "Coinbase", Logo: logoBase + "89.png"},
	{ID: "kucoin", Name: "KuCoin", Logo: logoBase + "311.png"},
	{ID: "bybit", Name: "Bybit", Logo: logoBase + "525.png"},
	{ID: "uniswap", Name: "Uniswap V2"},
}

// DefaultExchangeIDs lists the centralised venues scanned when none are configured.
var DefaultExchangeIDs = []string{"binance", "kraken", "coinbase", "kucoin", "bybit"}

// DefaultPairs is the scan universe used when none is configured.
var DefaultPairs = []string{
	"BTC/USDT", "ETH/USDT", "SOL/USDT", "XRP/USDT", "DOGE/USDT", "ADA/USDT",
	"LINK/USDT", "MATIC/USDT", "LTC/USDT", "BCH/USDT",
	"BTC/EUR", "ETH/EUR",
	"ETH/BTC", "XRP/BTC", "SOL/BTC", "ADA/BTC", "LTC/BTC", "MATIC/BTC",
}

// Exchanges returns a copy of the registry.
func Exchanges() []Exchange {
	out := make([]Exchange, len(registry))
	copy(out, registry)
	return out
}

// LookupExchange finds a registry entry by id (case-insensitive).
func LookupExchange(id string) (Exchange, bool) {
	id = strings.ToLower(strings.TrimSpace(id))
	for _, ex := range registry {
		if ex.ID == id {
			return ex, true
		}
	}
	return Exchange{}, false
}

// ResolveExchanges maps ids onto registry entries, preserving order.
func ResolveExchanges(ids []string) ([]Exchange, error) {
	out := make([]Exchange, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		ex, ok := LookupExchange(id)
		if !ok {
			return nil, fmt.Errorf("unknown exchange %q", id)
		}
		if _, dup := seen[ex.ID]; dup {
			continue
		}
		seen[ex.ID] = struct{}{}
		out = append(out, ex)
	}
	return out, nil
}
