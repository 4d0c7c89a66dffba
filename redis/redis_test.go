package redis

import (
	"strings"
	"testing"
)

func TestNew_Unreachable(t *testing.T) {
	// Port 1 on loopback refuses immediately.
	_, err := New(Config{Addr: "127.0.0.1:1"})
	if err == nil {
		t.Fatal("expected ping error for unreachable server")
	}
	if !strings.Contains(err.Error(), "redis ping failed") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestKeyPrefix(t *testing.T) {
	c := &Client{prefix: "mvdocs:"}
	if got := c.key("rl:upload:1.2.3.4"); got != "mvdocs:rl:upload:1.2.3.4" {
		t.Errorf("unexpected key %q", got)
	}
}
