package extraction

import (
	"fmt"
	"os"
	"time"

	"github.com/abhisek/sheetsolver/internal/resilience"
)

// Config holds the extraction service endpoint and credentials.
type Config struct {
	BaseURL string
	AppID   string
	AppKey  string

	// Formats requested from the service for every document.
	Formats []string

	// Poll is the retry budget for job status polling.
	Poll resilience.Policy

	// HTTPTimeout bounds a single HTTP exchange.
	HTTPTimeout time.Duration
}

// DefaultFormats are the output formats normalization knows how to read.
var DefaultFormats = []string{"text", "latex_styled", "data"}

// DefaultConfig returns a configuration with no credentials.
func DefaultConfig() Config {
	return Config{
		Formats:     DefaultFormats,
		Poll:        resilience.PollPolicy(),
		HTTPTimeout: 30 * time.Second,
	}
}

// ConfigFromEnv overlays SHEETSOLVER_EXTRACTION_* variables on DefaultConfig.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	if v := os.Getenv("SHEETSOLVER_EXTRACTION_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("SHEETSOLVER_EXTRACTION_APP_ID"); v != "" {
		cfg.AppID = v
	}
	if v := os.Getenv("SHEETSOLVER_EXTRACTION_APP_KEY"); v != "" {
		cfg.AppKey = v
	}
	return cfg
}

// Validate reports the first missing setting.
func (c Config) Validate() error {
	switch {
	case c.BaseURL == "":
		return fmt.Errorf("extraction base URL is required (set SHEETSOLVER_EXTRACTION_URL)")
	case c.AppID == "":
		return fmt.Errorf("extraction app id is required (set SHEETSOLVER_EXTRACTION_APP_ID)")
	case c.AppKey == "":
		return fmt.Errorf("extraction app key is required (set SHEETSOLVER_EXTRACTION_APP_KEY)")
	}
	return nil
}
