package config

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load("", filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Gossip.Interval != 5*time.Second {
		t.Fatalf("gossip.interval = %s, want 5s", cfg.Gossip.Interval)
	}
	if cfg.Engine.OperationTimeout != time.Minute {
		t.Fatalf("engine.operation_timeout = %s, want 1m", cfg.Engine.OperationTimeout)
	}
	if cfg.Gossip.EvictThreshold <= cfg.Gossip.StaleThreshold {
		t.Fatalf("default evict threshold %s not above stale threshold %s", cfg.Gossip.EvictThreshold, cfg.Gossip.StaleThreshold)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeFile(t, "undockd.yaml", `
node_id: node-a
gossip:
  listen: 0.0.0.0:8000
  seeds: [10.0.0.2:7946]
  interval: 3s
publish:
  interval: 500ms
`)
	t.Setenv("UNDOCKED_GOSSIP_INTERVAL", "4s")

	cfg, err := NewLoader().Load(path, filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.NodeID != "node-a" {
		t.Fatalf("node_id = %q, want node-a", cfg.NodeID)
	}
	if cfg.Gossip.Interval != 4*time.Second {
		t.Fatalf("gossip.interval = %s, want env override 4s", cfg.Gossip.Interval)
	}
	if cfg.Publish.Interval != 500*time.Millisecond {
		t.Fatalf("publish.interval = %s, want 500ms", cfg.Publish.Interval)
	}
	if !slices.Equal(cfg.Gossip.Seeds, []string{"10.0.0.2:7946"}) {
		t.Fatalf("seeds = %v", cfg.Gossip.Seeds)
	}
}

func TestLoadDotEnv(t *testing.T) {
	env := writeFile(t, "test.env", "UNDOCKED_NODE_ID=from-dotenv\n")
	t.Setenv("UNDOCKED_NODE_ID", "")
	os.Unsetenv("UNDOCKED_NODE_ID")

	cfg, err := NewLoader().Load("", env)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.NodeID != "from-dotenv" {
		t.Fatalf("node_id = %q, want from-dotenv", cfg.NodeID)
	}
}

func TestFlagsOverrideFile(t *testing.T) {
	path := writeFile(t, "undockd.yaml", "node_id: from-file\n")
	fs := pflag.NewFlagSet("undockd", pflag.ContinueOnError)
	fs.String("node-id", "", "")
	if err := fs.Parse([]string{"--node-id", "from-flag"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	l := NewLoader()
	if err := l.BindFlags(fs); err != nil {
		t.Fatalf("BindFlags() error = %v", err)
	}
	cfg, err := l.Load(path, filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.NodeID != "from-flag" {
		t.Fatalf("node_id = %q, want from-flag", cfg.NodeID)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Socket:        "/run/undockd.sock",
			ShutdownGrace: time.Second,
			API:           API{HTTP: "127.0.0.1:7947"},
			Gossip: Gossip{
				Listen:         "0.0.0.0:7946",
				Interval:       5 * time.Second,
				Jitter:         time.Second,
				PeerTimeout:    time.Second,
				StaleThreshold: 10 * time.Second,
				EvictThreshold: 20 * time.Second,
				EvictInterval:  5 * time.Second,
			},
			Engine:  Engine{ProbeInterval: time.Second, OperationTimeout: time.Minute},
			Publish: Publish{Interval: time.Second},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "evict below stale", mutate: func(c *Config) { c.Gossip.EvictThreshold = 5 * time.Second }, wantErr: "must exceed"},
		{name: "zero interval", mutate: func(c *Config) { c.Publish.Interval = 0 }, wantErr: "publish.interval must be positive"},
		{name: "jitter too large", mutate: func(c *Config) { c.Gossip.Jitter = 5 * time.Second }, wantErr: "gossip.jitter"},
		{name: "bad seed", mutate: func(c *Config) { c.Gossip.Seeds = []string{"nohost"} }, wantErr: "gossip.seeds[0]"},
		{name: "http disabled", mutate: func(c *Config) { c.API.HTTP = "" }},
		{name: "ntp without interval", mutate: func(c *Config) { c.Clock.NTPServer = "pool.ntp.org" }, wantErr: "clock.check_interval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestAdvertiseAddr(t *testing.T) {
	tests := []struct {
		g    Gossip
		want string
	}{
		{Gossip{Listen: "0.0.0.0:7946"}, ""},
		{Gossip{Listen: ":7946"}, ""},
		{Gossip{Listen: "192.168.1.5:7946"}, "192.168.1.5:7946"},
		{Gossip{Listen: "0.0.0.0:7946", Advertise: "node.lan:7946"}, "node.lan:7946"},
	}
	for _, tt := range tests {
		if got := tt.g.AdvertiseAddr(); got != tt.want {
			t.Fatalf("AdvertiseAddr(%+v) = %q, want %q", tt.g, got, tt.want)
		}
	}
}
