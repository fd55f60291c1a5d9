package zenoh

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/hsiuhsiu/zenoh-go-exp/pkg/zenoh/internal/backend"
)

// Session modes.
const (
	ModePeer   = "peer"
	ModeClient = "client"
)

// Config configures a session.
type Config struct {
	// Mode is ModePeer or ModeClient.
	Mode string `koanf:"mode"`
	// Connect lists endpoints to connect to.
	Connect []string `koanf:"connect"`
	// QueryTimeout applies to gets that do not set their own timeout. Zero
	// leaves the choice to the engine.
	QueryTimeout time.Duration `koanf:"query_timeout"`
	// OpenRetries is the number of extra Open attempts made while the engine
	// reports itself unavailable.
	OpenRetries uint `koanf:"open_retries"`
	// OpenRetryDelay is the base delay between Open attempts.
	OpenRetryDelay time.Duration `koanf:"open_retry_delay"`
	// LogLevel is read by the command line tools: debug, info, warn or error.
	LogLevel string `koanf:"log_level"`
}

// DefaultConfig returns a peer-mode configuration.
func DefaultConfig() Config {
	return Config{
		Mode:           ModePeer,
		QueryTimeout:   10 * time.Second,
		OpenRetries:    3,
		OpenRetryDelay: 100 * time.Millisecond,
		LogLevel:       "info",
	}
}

// Validate checks the values the binding interprets itself.
func (c Config) Validate() error {
	switch c.Mode {
	case ModePeer, ModeClient:
	default:
		return fmt.Errorf("%w: mode %q", ErrInvalidConfig, c.Mode)
	}
	if c.QueryTimeout < 0 || c.OpenRetryDelay < 0 {
		return fmt.Errorf("%w: negative duration", ErrInvalidConfig)
	}
	for _, ep := range c.Connect {
		if ep == "" || strings.Contains(ep, ",") {
			return fmt.Errorf("%w: endpoint %q", ErrInvalidConfig, ep)
		}
	}
	return nil
}

// LoadConfig reads a YAML (.yaml, .yml) or JSON (.json) file. Keys absent
// from the file keep their DefaultConfig values.
func LoadConfig(path string) (Config, error) {
	var format string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = "yaml"
	case ".json":
		format = "json"
	default:
		return Config{}, fmt.Errorf("%w: unsupported file %q", ErrInvalidConfig, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("zenoh: read config: %w", err)
	}
	return ConfigFromBytes(data, format)
}

// ConfigFromBytes parses data in the given format, "yaml" or "json".
func ConfigFromBytes(data []byte, format string) (Config, error) {
	var parser koanf.Parser
	switch format {
	case "yaml", "yml":
		parser = yaml.Parser()
	case "json":
		parser = json.Parser()
	default:
		return Config{}, fmt.Errorf("%w: unsupported format %q", ErrInvalidConfig, format)
	}
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(data), parser); err != nil {
		return Config{}, fmt.Errorf("%w: parse: %w", ErrInvalidConfig, err)
	}
	cfg := DefaultConfig()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// toEngine builds the engine's configuration object.
func (c Config) toEngine(eng backend.Engine) (Owned[backend.OwnedConfig], error) {
	var raw backend.OwnedConfig
	if r := eng.ConfigDefault(&raw); r.Failed() {
		return Owned[backend.OwnedConfig]{}, fromResult("config", r)
	}
	cfg := FromRaw(&raw, dropper[backend.ConfigKind](eng))
	entries := [][2]string{{"mode", c.Mode}}
	if len(c.Connect) > 0 {
		entries = append(entries, [2]string{"connect/endpoints", strings.Join(c.Connect, ",")})
	}
	for _, kv := range entries {
		if r := eng.ConfigInsert(loaned(&cfg), kv[0], kv[1]); r.Failed() {
			cfg.Drop()
			return Owned[backend.OwnedConfig]{}, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, kv[0], fromResult("config insert", r))
		}
	}
	return cfg.Move(), nil
}
