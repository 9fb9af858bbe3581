package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestConfigFromEnv_DisabledByDefault(t *testing.T) {
	t.Setenv("LOOKOUT_REDIS_URL", "")
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if cfg.Enabled() {
		t.Fatalf("Enabled()=true, want false")
	}
	if cfg.KeyPrefix != "lookout:" {
		t.Fatalf("KeyPrefix=%q, want lookout:", cfg.KeyPrefix)
	}
}

func TestConfigFromEnv_RejectsNegativeTTL(t *testing.T) {
	t.Setenv("LOOKOUT_REDIS_ENTRY_TTL", "-1m")
	if _, err := ConfigFromEnv(); err == nil {
		t.Fatalf("expected error")
	}
}

func TestOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := Open(context.Background(), Config{
		URL:         "redis://" + mr.Addr(),
		KeyPrefix:   "lookout:",
		PingTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("Open() err=%v", err)
	}
	defer client.Close()

	if _, err := Open(context.Background(), Config{KeyPrefix: "lookout:"}); err == nil {
		t.Fatalf("Open() without url err=nil, want error")
	}
}
