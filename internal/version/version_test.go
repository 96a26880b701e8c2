package version

import (
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	old := Version
	Version = "1.2.3"
	defer func() { Version = old }()

	out := String()
	if !strings.HasPrefix(out, "arbscan 1.2.3\n") {
		t.Fatalf("版本输出不正确: %q", out)
	}
	if !strings.Contains(out, "commit: ") {
		t.Fatalf("缺少 commit 行: %q", out)
	}
}
