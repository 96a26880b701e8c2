package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crypto-arb-scanner/internal/lifecycle"
	"crypto-arb-scanner/internal/opportunity"
)

// Notification 封装告警上下文。
type Notification struct {
	Timestamp     time.Time
	Key           string
	Kind          opportunity.Kind
	Pair          string
	Route         string
	Status        lifecycle.Status
	ProfitPct     decimal.Decimal
	ThresholdPct  decimal.Decimal
	UpdateCount   int
	Channels      []string
	AdditionalMsg string
}

// FromEntry builds a notification for a lifecycle entry.
func FromEntry(e lifecycle.Entry, threshold float64, channels []string, ts time.Time) Notification {
	o := e.Opportunity
	return Notification{
		Timestamp:    ts,
		Key:          e.Key,
		Kind:         o.Kind,
		Pair:         o.Pair,
		Route:        Route(o),
		Status:       e.Status,
		ProfitPct:    decimal.NewFromFloat(o.Profit).Round(4),
		ThresholdPct: decimal.NewFromFloat(threshold),
		UpdateCount:  e.UpdateCount,
		Channels:     channels,
	}
}

// Route renders a one-line trade path.
func Route(o opportunity.Opportunity) string {
	switch {
	case o.Spatial != nil:
		return fmt.Sprintf("buy %s @ %s, sell %s @ %s",
			o.Spatial.BuyExchange, price(o.Spatial.BuyPrice), o.Spatial.SellExchange, price(o.Spatial.SellPrice))
	case o.Flash != nil:
		return fmt.Sprintf("buy %s, sell %s (%s urgency)", o.Flash.BuyExchange, o.Flash.SellExchange, o.Flash.Urgency)
	case o.Triangle != nil:
		c := o.Triangle.Currencies
		path := fmt.Sprintf("%s -> %s -> %s -> %s", c[0], c[1], c[2], c[0])
		if o.Triangle.Exchange != "" {
			return path + " on " + o.Triangle.Exchange
		}
		return path + " across " + strings.Join(o.Exchanges, ",")
	case o.Statistical != nil:
		return fmt.Sprintf("long %s, short %s (z=%.2f)", o.Statistical.BuyExchange, o.Statistical.SellExchange, o.Statistical.ZScore)
	case o.MarketMaking != nil:
		return fmt.Sprintf("quote %s spread %.3f%%", o.MarketMaking.Exchange, o.MarketMaking.SpreadPct)
	case o.Pairs != nil:
		return fmt.Sprintf("long %s, short %s on %s", o.Pairs.LongPair, o.Pairs.ShortPair, o.Pairs.Exchange)
	}
	return strings.Join(o.Exchanges, ",")
}

func price(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(4)
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// Channel binds a notifier to the name used in metrics and alert records.
type Channel struct {
	Name     string
	Notifier Notifier
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().Str("key", note.Key).
		Str("profit_pct", note.ProfitPct.String()).
		Str("channels", strings.Join(note.Channels, ",")).
		Msg("告警已发送 (Telegram)")
	return nil
}

// LogNotifier writes alerts to the structured log; useful without a bot token.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier builds a log-only notifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Notify logs the notification at warn level.
func (n *LogNotifier) Notify(_ context.Context, note Notification) error {
	n.logger.Warn().
		Str("key", note.Key).
		Str("kind", string(note.Kind)).
		Str("pair", note.Pair).
		Str("route", note.Route).
		Str("status", string(note.Status)).
		Str("profit_pct", note.ProfitPct.String()).
		Str("threshold_pct", note.ThresholdPct.String()).
		Msg("arbitrage alert")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString("[Arbitrage Alert]\n")
	builder.WriteString(fmt.Sprintf("Time: %s UTC\n", note.Timestamp.UTC().Format(time.RFC3339)))
	builder.WriteString(fmt.Sprintf("Type: %s %s\n", note.Kind, note.Pair))
	builder.WriteString(fmt.Sprintf("Route: %s\n", note.Route))
	builder.WriteString(fmt.Sprintf("Profit: %s%% (threshold %s%%)\n", note.ProfitPct.StringFixed(3), note.ThresholdPct.StringFixed(3)))
	status := string(note.Status)
	if note.UpdateCount > 0 {
		status = fmt.Sprintf("%s, %d updates", status, note.UpdateCount)
	}
	builder.WriteString(fmt.Sprintf("Status: %s\n", status))
	if len(note.Channels) > 0 {
		builder.WriteString(fmt.Sprintf("Channels: %s\n", strings.Join(note.Channels, ",")))
	}
	if note.AdditionalMsg != "" {
		builder.WriteString(note.AdditionalMsg)
	}
	return builder.String()
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
)
