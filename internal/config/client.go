package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"chatfeed/internal/feed"
)

// ClientConfig configures the terminal viewer.
type ClientConfig struct {
	ServerURL      string        `yaml:"server_url"`
	Token          string        `yaml:"token"`
	Channel        string        `yaml:"channel"`
	LogFile        string        `yaml:"log_file"`
	MetricsAddr    string        `yaml:"metrics_addr"` // empty disables the listener
	RequestTimeout time.Duration `yaml:"request_timeout"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	Feed           feed.Options  `yaml:"feed"`
}

// LoadClient reads the viewer config. A missing file is not an error; the
// viewer can run from environment variables alone.
func LoadClient(path string) (*ClientConfig, error) {
	var cfg ClientConfig

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("reading config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	cfg.setDefaults()

	return &cfg, nil
}

func (c *ClientConfig) applyEnvOverrides() {
	if v := os.Getenv("CHATFEED_SERVER_URL"); v != "" {
		c.ServerURL = v
	}
	if v := os.Getenv("CHATFEED_TOKEN"); v != "" {
		c.Token = v
	}
	if v := os.Getenv("CHATFEED_METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}
}

func (c *ClientConfig) validate() error {
	if c.Token == "" {
		return fmt.Errorf("token is required (set CHATFEED_TOKEN)")
	}
	if c.RequestTimeout < 0 || c.ReconnectDelay < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	return nil
}

func (c *ClientConfig) setDefaults() {
	if c.ServerURL == "" {
		c.ServerURL = "http://localhost:8080"
	}
	if c.LogFile == "" {
		c.LogFile = "feedview.log"
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.Feed.Heuristics == (feed.Heuristics{}) {
		c.Feed.Heuristics = feed.LineHeuristics
	}
	// Terminal extents are rows, so the pixel defaults are scaled down.
	if c.Feed.Overscan == 0 {
		c.Feed.Overscan = 20
	}
	if c.Feed.Lookahead == 0 {
		c.Feed.Lookahead = 10
	}
	if c.Feed.AtBottomThreshold == 0 {
		c.Feed.AtBottomThreshold = 3
	}
	c.Feed = c.Feed.WithDefaults()
}
