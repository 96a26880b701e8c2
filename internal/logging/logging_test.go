package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"
)

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(Config{Level: "warn", Format: "json"}, &buf)

	logger.Info().Msg("dropped")
	logger.Warn().Str("component", "scanner").Msg("kept")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("warn 级别应只输出一行, got %d: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("输出应为 JSON: %v", err)
	}
	if entry["message"] != "kept" || entry["component"] != "scanner" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if _, ok := entry["time"]; !ok {
		t.Fatal("缺少 time 字段")
	}
}

func TestNewLoggerConsole(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(Config{Level: "debug", Format: "console"}, &buf)
	logger.Debug().Msg("hello")
	if strings.HasPrefix(strings.TrimSpace(buf.String()), "{") {
		t.Fatalf("console 格式不应输出 JSON: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "hello") {
		t.Fatalf("missing message: %q", buf.String())
	}
}

func TestOutputStream(t *testing.T) {
	if outputStream("stdout") != os.Stdout {
		t.Fatal("stdout 应映射到 os.Stdout")
	}
	if outputStream("") != os.Stderr || outputStream("nonsense") != os.Stderr {
		t.Fatal("默认输出应为 stderr")
	}
}
