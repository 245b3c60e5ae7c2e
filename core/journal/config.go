package journal

import "fmt"

// Config defines settings for journal storage and rotation.
type Config struct {
	// Backend selects the store type: "jsonl", "rotating" or "sqlite".
	Backend string `json:"backend"`
	// Path is the file location of the store.
	Path string `json:"path"`
	// MaxSizeMB triggers rotation when the file exceeds this size in megabytes.
	MaxSizeMB int `json:"max_size_mb"`
	// MaxBackups limits the number of rotated files to keep.
	MaxBackups int `json:"max_backups"`
	// MaxAgeDays removes rotated files older than this number of days.
	MaxAgeDays int `json:"max_age_days"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "jsonl"
	}
	if c.Path == "" {
		c.Path = "driverlink-journal.jsonl"
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	switch c.Backend {
	case "jsonl", "rotating", "sqlite":
	default:
		return fmt.Errorf("unknown journal backend %s", c.Backend)
	}
	if c.Path == "" {
		return fmt.Errorf("journal path is required")
	}
	return nil
}

// Open creates the store selected by cfg.
func Open(cfg Config) (Store, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Backend {
	case "sqlite":
		return NewSQLiteStore(cfg.Path)
	case "rotating":
		return NewRotatingJSONLStore(cfg.Path, cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays)
	default:
		return NewJSONLStore(cfg.Path)
	}
}
