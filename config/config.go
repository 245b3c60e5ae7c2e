package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/driverlink/core/emergency"
	"github.com/kilianp07/driverlink/core/factory"
	"github.com/kilianp07/driverlink/core/journal"
	"github.com/kilianp07/driverlink/core/metrics"
	"github.com/kilianp07/driverlink/core/offer"
	"github.com/kilianp07/driverlink/core/tracking"
	"github.com/kilianp07/driverlink/infra/httpapi"
	"github.com/kilianp07/driverlink/infra/mqtt"
	"github.com/kilianp07/driverlink/infra/redis"
)

type Config struct {
	Agent     AgentConfig          `json:"agent"`
	MQTT      mqtt.Config          `json:"mqtt"`
	Feed      FeedConfig           `json:"feed"`
	Location  factory.ModuleConfig `json:"location"`
	Tracking  tracking.Config      `json:"tracking"`
	Telemetry TelemetryConfig      `json:"telemetry"`
	Offers    offer.Config         `json:"offers"`
	Emergency emergency.Config     `json:"emergency"`
	HTTP      httpapi.Config       `json:"http"`
	Metrics   metrics.Config       `json:"metrics"`
	Journal   journal.Config       `json:"journal"`
	Redis     redis.Config         `json:"redis"`
	Sentry    SentryConfig         `json:"sentry"`
	API       APIConfig            `json:"api"`
	Logging   LoggingConfig        `json:"logging"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// K_SECTION__FIELD overrides section.field; the callback already maps the
	// separator, so the provider splits on ".".
	if err := k.Load(env.Provider("K_", ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "k_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults applies the defaults of every section.
func (c *Config) SetDefaults() {
	c.Agent.SetDefaults()
	c.MQTT.SetDefaults()
	c.Feed.SetDefaults()
	if c.Location.Type == "" {
		c.Location.Type = "watch"
	}
	c.Tracking.SetDefaults()
	c.Telemetry.SetDefaults()
	c.Emergency.SetDefaults()
	c.HTTP.SetDefaults()
	c.Journal.SetDefaults()
	c.API.SetDefaults()
	c.Sentry.SetDefaults()
	c.Logging.SetDefaults()
}

// Validate checks every section and the cross-section requirements.
func (c Config) Validate() error {
	if err := c.Agent.Validate(); err != nil {
		return err
	}
	if err := c.Feed.Validate(); err != nil {
		return err
	}
	if err := c.Telemetry.Validate(); err != nil {
		return err
	}
	// The device bridge behind every location source is reached over MQTT.
	if err := c.MQTT.Validate(); err != nil {
		return err
	}
	// Offer responses and SOS submissions always go through the REST API.
	if err := c.HTTP.Validate(); err != nil {
		return err
	}
	if err := c.Tracking.Validate(); err != nil {
		return err
	}
	if err := c.Journal.Validate(); err != nil {
		return err
	}
	if err := c.Metrics.Validate(); err != nil {
		return err
	}
	if err := c.Sentry.Validate(); err != nil {
		return err
	}
	return c.Logging.Validate()
}
