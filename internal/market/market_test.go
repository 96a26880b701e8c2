package market

import "testing"

func TestParsePair(t *testing.T) {
	p, err := ParsePair("btc/usdt")
	if err != nil {
		t.Fatalf("parse pair: %v", err)
	}
	if p.Base != "BTC" || p.Quote != "USDT" {
		t.Fatalf("unexpected pair %+v", p)
	}
	if p.Inverse().String() != "USDT/BTC" {
		t.Fatalf("inverse = %s", p.Inverse())
	}
	if got := p.Symbol("{base}{quote}"); got != "BTCUSDT" {
		t.Fatalf("symbol = %s", got)
	}
	if got := p.Symbol("{base_lower}-{quote_lower}"); got != "btc-usdt" {
		t.Fatalf("symbol = %s", got)
	}

	for _, bad := range []string{"", "BTC", "BTC/", "/USDT", "A/B/C"} {
		if _, err := ParsePair(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestResolveExchanges(t *testing.T) {
	got, err := ResolveExchanges([]string{"Binance", "kraken", "binance"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(got) != 2 || got[0].Name != "Binance" || got[1].ID != "kraken" {
		t.Fatalf("unexpected exchanges %+v", got)
	}
	if _, err := ResolveExchanges([]string{"mtgox"}); err == nil {
		t.Fatal("unknown exchange should fail")
	}
}

func TestTickerHelpers(t *testing.T) {
	tk := Ticker{Bid: 99, Ask: 101}
	if tk.Mid() != 100 {
		t.Fatalf("mid = %v", tk.Mid())
	}
	if tk.Reference() != 100 {
		t.Fatalf("reference should fall back to mid, got %v", tk.Reference())
	}
	tk.Last = 100.5
	if tk.Reference() != 100.5 {
		t.Fatalf("reference = %v", tk.Reference())
	}
	if s := (Ticker{Bid: 100, Ask: 101}).SpreadPct(); s < 0.999 || s > 1.001 {
		t.Fatalf("spread = %v", s)
	}
}
