// Package config loads fabrik.toml: strict TOML decoding (unknown fields
// are errors), ${VAR}/${VAR:-default} expansion before parsing, and an
// environment-variable overlay applied after.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the root of fabrik.toml.
type Config struct {
	Cache         CacheConfig         `toml:"cache"`
	Upstream      []UpstreamConfig    `toml:"upstream"`
	Auth          AuthConfig          `toml:"auth"`
	P2P           P2PConfig              `toml:"p2p"`
	BuildSystems  map[string]interface{} `toml:"build_systems"`
	Server        ServerConfig           `toml:"server"`
	Observability ObservabilityConfig `toml:"observability"`
	Runtime       RuntimeConfig       `toml:"runtime"`
	Daemon        DaemonConfig        `toml:"daemon"`
}

type CacheConfig struct {
	Dir            string        `toml:"dir"`
	MaxSize        int64         `toml:"max_size"`
	EvictionPolicy string        `toml:"eviction_policy"` // lru|lfu|ttl
	DefaultTTL     time.Duration `toml:"default_ttl"`
}

type UpstreamConfig struct {
	URL           string        `toml:"url"`
	Timeout       time.Duration `toml:"timeout"`
	ReadOnly      bool          `toml:"read_only"`
	Permanent     bool          `toml:"permanent"`
	WriteThrough  bool          `toml:"write_through"`
	Workers       int           `toml:"workers"`
	Region        string        `toml:"region"`
	Endpoint      string        `toml:"endpoint"`
	AccessKey     string        `toml:"access_key"`
	SecretKey     string        `toml:"secret_key"`
}

type AuthConfig struct {
	Provider           string           `toml:"provider"` // token|oauth2
	PublicKeyFile      string           `toml:"public_key_file"`
	KeyRefreshInterval time.Duration    `toml:"key_refresh_interval"`
	Required           bool             `toml:"required"`
	Token              TokenAuthConfig  `toml:"token"`
	OAuth2             OAuth2AuthConfig `toml:"oauth2"`
}

type TokenAuthConfig struct {
	EnvVar string `toml:"env_var"`
	File   string `toml:"file"`
}

type OAuth2AuthConfig struct {
	ClientID string   `toml:"client_id"`
	Scopes   []string `toml:"scopes"`
	Storage  string   `toml:"storage"` // keychain|file|memory
}

type P2PConfig struct {
	Enabled     bool   `toml:"enabled"`
	Secret      string `toml:"secret"`
	ConsentMode string `toml:"consent_mode"`
	BindPort    int    `toml:"bind_port"`
	Advertise   bool   `toml:"advertise"`
	Discovery   bool   `toml:"discovery"`
	MaxPeers    int    `toml:"max_peers"`
}

// EnabledBuildSystems returns the build_systems.enabled list.
func (c Config) EnabledBuildSystems() []string {
	raw, _ := c.BuildSystems["enabled"].([]interface{})
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// BuildSystemTool returns the [build_systems.<name>] block, or nil.
func (c Config) BuildSystemTool(name string) map[string]interface{} {
	tbl, _ := c.BuildSystems[name].(map[string]interface{})
	return tbl
}

type ServerConfig struct {
	Layer string `toml:"layer"` // local|regional
	Bind  string `toml:"bind"`
}

type ObservabilityConfig struct {
	LogLevel    string `toml:"log_level"`
	MetricsBind string `toml:"metrics_bind"`
	HealthBind  string `toml:"health_bind"`
	Enabled     bool   `toml:"enabled"`
}

type RuntimeConfig struct {
	GracefulShutdownTimeout time.Duration `toml:"graceful_shutdown_timeout"`
	MaxConcurrentRequests   int           `toml:"max_concurrent_requests"`
	WorkerThreads           int           `toml:"worker_threads"`
}

type DaemonConfig struct {
	Socket string `toml:"socket"`
}

// Default fills in the documented defaults the spec implies but doesn't
// require the file to spell out.
func Default() Config {
	return Config{
		Cache: CacheConfig{EvictionPolicy: "lru"},
		Runtime: RuntimeConfig{
			GracefulShutdownTimeout: 30 * time.Second,
		},
	}
}

// Load reads path, expands ${VAR} references against env, strictly decodes
// the result (unknown fields are errors), and applies the environment
// overlay.
func Load(path string, env func(string) (string, bool)) (Config, error) {
	raw, err := readFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}

	expanded, err := expandVars(string(raw), env)
	if err != nil {
		return Config{}, fmt.Errorf("config: expanding %s: %w", path, err)
	}

	cfg := Default()
	meta, err := toml.Decode(expanded, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("config: unknown field %q in %s", undecoded[0].String(), path)
	}

	if err := applyEnvOverlay(&cfg, env); err != nil {
		return Config{}, fmt.Errorf("config: applying environment overlay: %w", err)
	}
	return cfg, nil
}
