// internal/workers/assistant/search-knowledge/config.go
package searchknowledge

import "time"

type Config struct {
	Timeout time.Duration
}

func LoadConfig() *Config {
	return &Config{
		Timeout: 10 * time.Second,
	}
}
