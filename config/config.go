// Package config loads undockd settings from defaults, an optional YAML
// file, .env files and UNDOCKED_* environment variables, in increasing
// order of precedence. Flags bound with BindFlags win over all of them.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"undocked/platform"
)

const envPrefix = "UNDOCKED"

type Config struct {
	NodeID        string        `mapstructure:"node_id"`
	StateDir      string        `mapstructure:"state_dir"`
	Socket        string        `mapstructure:"socket"`
	Catalog       string        `mapstructure:"catalog"`
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`

	Log     Log     `mapstructure:"log"`
	API     API     `mapstructure:"api"`
	Gossip  Gossip  `mapstructure:"gossip"`
	Engine  Engine  `mapstructure:"engine"`
	Publish Publish `mapstructure:"publish"`
	Clock   Clock   `mapstructure:"clock"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type API struct {
	// HTTP is the listen address of the HTTP API. Empty disables it.
	HTTP string `mapstructure:"http"`
}

type Gossip struct {
	Listen         string        `mapstructure:"listen"`
	Advertise      string        `mapstructure:"advertise"`
	Seeds          []string      `mapstructure:"seeds"`
	Interval       time.Duration `mapstructure:"interval"`
	Jitter         time.Duration `mapstructure:"jitter"`
	PeerTimeout    time.Duration `mapstructure:"peer_timeout"`
	StaleThreshold time.Duration `mapstructure:"stale_threshold"`
	EvictThreshold time.Duration `mapstructure:"evict_threshold"`
	EvictInterval  time.Duration `mapstructure:"evict_interval"`
}

type Engine struct {
	ProbeInterval    time.Duration `mapstructure:"probe_interval"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
}

type Publish struct {
	Interval time.Duration `mapstructure:"interval"`
}

type Clock struct {
	// NTPServer is queried to detect local clock offset. Empty disables the
	// check.
	NTPServer     string        `mapstructure:"ntp_server"`
	CheckInterval time.Duration `mapstructure:"check_interval"`
	MaxOffset     time.Duration `mapstructure:"max_offset"`
}

// StatePath is the sqlite file under StateDir, or "" when StateDir is empty.
func (c *Config) StatePath() string {
	if c.StateDir == "" {
		return ""
	}
	return filepath.Join(c.StateDir, platform.StateFileName)
}

// Loader reads configuration. The zero value is not usable; use NewLoader.
type Loader struct {
	v *viper.Viper
}

func NewLoader() *Loader {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Loader{v: v}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("node_id", "")
	v.SetDefault("state_dir", platform.DaemonStateDir)
	v.SetDefault("socket", platform.DaemonSocketPath)
	v.SetDefault("catalog", "")
	v.SetDefault("shutdown_grace", 10*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("api.http", platform.DefaultHTTPAddr)

	v.SetDefault("gossip.listen", platform.DefaultGossipAddr)
	v.SetDefault("gossip.advertise", "")
	v.SetDefault("gossip.seeds", []string{})
	v.SetDefault("gossip.interval", 5*time.Second)
	v.SetDefault("gossip.jitter", time.Second)
	v.SetDefault("gossip.peer_timeout", 2*time.Second)
	v.SetDefault("gossip.stale_threshold", 15*time.Second)
	v.SetDefault("gossip.evict_threshold", 30*time.Second)
	v.SetDefault("gossip.evict_interval", 10*time.Second)

	v.SetDefault("engine.probe_interval", 10*time.Second)
	v.SetDefault("engine.operation_timeout", 60*time.Second)

	v.SetDefault("publish.interval", 2*time.Second)

	v.SetDefault("clock.ntp_server", "pool.ntp.org")
	v.SetDefault("clock.check_interval", 5*time.Minute)
	v.SetDefault("clock.max_offset", 500*time.Millisecond)
}

// flagKeys maps undockd flag names to config keys.
var flagKeys = map[string]string{
	"node-id":       "node_id",
	"state-dir":     "state_dir",
	"socket":        "socket",
	"catalog":       "catalog",
	"http":          "api.http",
	"gossip-listen": "gossip.listen",
	"advertise":     "gossip.advertise",
	"seed":          "gossip.seeds",
	"log-level":     "log.level",
	"log-format":    "log.format",
	"ntp-server":    "clock.ntp_server",
}

// BindFlags makes explicitly set flags override every other source. Flags
// not present in fs are ignored.
func (l *Loader) BindFlags(fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := l.v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// Load reads path (if non-empty), then .env files from the working
// directory, and returns the validated config.
func (l *Loader) Load(path string, envFiles ...string) (*Config, error) {
	if err := loadDotEnv(envFiles...); err != nil {
		return nil, err
	}
	if path != "" {
		l.v.SetConfigFile(path)
		l.v.SetConfigType("yaml")
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Gossip.Seeds = splitSeeds(cfg.Gossip.Seeds)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load is NewLoader().Load(path) with the default .env file.
func Load(path string) (*Config, error) {
	return NewLoader().Load(path)
}

// loadDotEnv sets variables from files without overriding the existing
// environment. Missing files are skipped.
func loadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load env file %s: %w", f, err)
		}
	}
	return nil
}

// splitSeeds accepts both list and comma separated forms.
func splitSeeds(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate checks intervals and addresses.
func (c *Config) Validate() error {
	var errs []error
	positive := map[string]time.Duration{
		"shutdown_grace":           c.ShutdownGrace,
		"gossip.interval":          c.Gossip.Interval,
		"gossip.peer_timeout":      c.Gossip.PeerTimeout,
		"gossip.stale_threshold":   c.Gossip.StaleThreshold,
		"gossip.evict_threshold":   c.Gossip.EvictThreshold,
		"gossip.evict_interval":    c.Gossip.EvictInterval,
		"engine.probe_interval":    c.Engine.ProbeInterval,
		"engine.operation_timeout": c.Engine.OperationTimeout,
		"publish.interval":         c.Publish.Interval,
	}
	for key, d := range positive {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", key, d))
		}
	}
	if c.Gossip.Jitter < 0 || (c.Gossip.Interval > 0 && c.Gossip.Jitter >= c.Gossip.Interval) {
		errs = append(errs, fmt.Errorf("gossip.jitter must be in [0, gossip.interval), got %s", c.Gossip.Jitter))
	}
	if c.Gossip.EvictThreshold <= c.Gossip.StaleThreshold {
		errs = append(errs, fmt.Errorf("gossip.evict_threshold (%s) must exceed gossip.stale_threshold (%s)",
			c.Gossip.EvictThreshold, c.Gossip.StaleThreshold))
	}
	if c.Clock.NTPServer != "" && (c.Clock.CheckInterval <= 0 || c.Clock.MaxOffset <= 0) {
		errs = append(errs, errors.New("clock.check_interval and clock.max_offset must be positive when clock.ntp_server is set"))
	}
	if c.Socket == "" {
		errs = append(errs, errors.New("socket is required"))
	}

	addrs := map[string]string{"gossip.listen": c.Gossip.Listen}
	if c.API.HTTP != "" {
		addrs["api.http"] = c.API.HTTP
	}
	if c.Gossip.Advertise != "" {
		addrs["gossip.advertise"] = c.Gossip.Advertise
	}
	for i, seed := range c.Gossip.Seeds {
		addrs[fmt.Sprintf("gossip.seeds[%d]", i)] = seed
	}
	for key, addr := range addrs {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid address %q: %w", key, addr, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// AdvertiseAddr is the gossip address peers should dial. It falls back to the
// listen address when that names a concrete host.
func (g Gossip) AdvertiseAddr() string {
	if g.Advertise != "" {
		return g.Advertise
	}
	host, _, err := net.SplitHostPort(g.Listen)
	if err != nil {
		return ""
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		return ""
	}
	return g.Listen
}
