// internal/workers/booking/cancellation/config.go
package cancellation

import (
	"fmt"
	"time"
)

type Config struct {
	Enabled    bool          `mapstructure:"enabled"`
	TemplateID string        `mapstructure:"template_id"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

func DefaultConfig() *Config {
	return &Config{
		Enabled: true,
		Timeout: 60 * time.Second,
	}
}

func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.TemplateID == "" {
		return fmt.Errorf("template_id is required")
	}
	return nil
}
