package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"crypto-arb-scanner/internal/lifecycle"
	"crypto-arb-scanner/internal/opportunity"
)

func spatialEntry() lifecycle.Entry {
	o := opportunity.Opportunity{
		Kind:      opportunity.Spatial,
		Pair:      "BTC/USDT",
		Exchanges: []string{"kucoin", "binance"},
		Profit:    0.61234,
		Spatial: &opportunity.SpatialDetail{
			BuyExchange: "kucoin", SellExchange: "binance",
			BuyPrice: 43000, SellPrice: 43300.5,
		},
	}
	return lifecycle.Entry{Key: o.Key(), Opportunity: o, Status: lifecycle.StatusUpdated, UpdateCount: 2}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/bottoken/sendMessage") {
			t.Fatalf("路径应包含 sendMessage, 实际 %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("解析请求体失败: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	note := FromEntry(spatialEntry(), 0.5, []string{"telegram"}, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	if err := notifier.Notify(context.Background(), note); err != nil {
		t.Fatalf("Telegram Notify 应成功: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("chat_id 不正确: %#v", received)
	}
	text := received["text"]
	assert.Contains(t, text, "Type: spatial BTC/USDT")
	assert.Contains(t, text, "Route: buy kucoin @ 43000.0000, sell binance @ 43300.5000")
	assert.Contains(t, text, "Profit: 0.612% (threshold 0.500%)")
	assert.Contains(t, text, "Status: UPDATED, 2 updates")
	assert.Contains(t, text, "Time: 2024-01-01T00:00:00Z UTC")
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), FromEntry(spatialEntry(), 0.5, nil, time.Now())); err == nil {
		t.Fatal("ok=false 应报错")
	}
}

func TestTelegramNotifierStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	err := notifier.Notify(context.Background(), FromEntry(spatialEntry(), 0.5, nil, time.Now()))
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("非 2xx 应报错, got %v", err)
	}
}

func TestRoute(t *testing.T) {
	tri := opportunity.Opportunity{
		Kind:     opportunity.Triangular,
		Triangle: &opportunity.TriangleDetail{Exchange: "binance", Currencies: [3]string{"BTC", "ETH", "USDT"}},
	}
	assert.Equal(t, "BTC -> ETH -> USDT -> BTC on binance", Route(tri))

	cross := opportunity.Opportunity{
		Kind:      opportunity.CrossTriangular,
		Exchanges: []string{"binance", "kraken", "okx"},
		Triangle:  &opportunity.TriangleDetail{Currencies: [3]string{"BTC", "ETH", "USDT"}},
	}
	assert.Equal(t, "BTC -> ETH -> USDT -> BTC across binance,kraken,okx", Route(cross))

	mm := opportunity.Opportunity{Kind: opportunity.MarketMaking, MarketMaking: &opportunity.MarketMakingDetail{Exchange: "kraken", SpreadPct: 0.25}}
	assert.Equal(t, "quote kraken spread 0.250%", Route(mm))
}

func TestLogNotifier(t *testing.T) {
	var buf strings.Builder
	n := NewLogNotifier(zerolog.New(&buf))
	if err := n.Notify(context.Background(), FromEntry(spatialEntry(), 0.5, nil, time.Now())); err != nil {
		t.Fatalf("log notifier 不应报错: %v", err)
	}
	assert.Contains(t, buf.String(), `"profit_pct":"0.6123"`)
	assert.Contains(t, buf.String(), `"component":"alert_log"`)
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
