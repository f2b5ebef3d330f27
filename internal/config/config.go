// Package config provides configuration loading for facturad.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the facturad pipeline.
type Config struct {
	Logging    LoggingConfig    `koanf:"logging"`
	Mailbox    MailboxConfig    `koanf:"mailbox"`
	Classifier ClassifierConfig `koanf:"classifier"`
	Store      StoreConfig      `koanf:"store"`
	Sync       SyncConfig       `koanf:"sync"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// MailboxConfig holds credentials and endpoints for the mail provider.
type MailboxConfig struct {
	ClientID     string   `koanf:"client_id"`
	ClientSecret Secret   `koanf:"client_secret"`
	TokenURL     string   `koanf:"token_url"`
	BaseURL      string   `koanf:"base_url"`
	Timeout      Duration `koanf:"timeout"`
	Queries      []string `koanf:"queries"`
}

// ClassifierConfig holds settings for the model-fallback classifier.
type ClassifierConfig struct {
	Provider  string   `koanf:"provider"` // "disabled" or "openai"
	APIKey    Secret   `koanf:"api_key"`
	Model     string   `koanf:"model"`
	BaseURL   string   `koanf:"base_url"`
	BatchSize int      `koanf:"batch_size"`
	Timeout   Duration `koanf:"timeout"`
}

// StoreConfig holds invoice store settings.
type StoreConfig struct {
	Path string `koanf:"path"` // empty means in-memory
}

// SyncConfig holds run-level settings. Timeout bounds a whole sync
// invocation; zero leaves it unbounded, and each network call still
// carries its own client timeout.
type SyncConfig struct {
	FiscalYear int      `koanf:"fiscal_year"`
	Timeout    Duration `koanf:"timeout"`
}

// maxClassifierBatch bounds one classification-service call.
const maxClassifierBatch = 50

// DefaultQueries are the mailbox searches used to discover invoice mail.
// Multiple phrasings maximize recall; results are de-duplicated downstream.
func DefaultQueries() []string {
	return []string{
		`subject:(factura OR "comprobante electronico") has:attachment`,
		`filename:xml (factura OR comprobante OR ruc)`,
		`filename:zip (factura OR comprobante)`,
		`"se ha generado su comprobante" has:attachment`,
	}
}

// applyDefaults fills zero values with sane defaults.
func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Mailbox.TokenURL == "" {
		cfg.Mailbox.TokenURL = "https://oauth2.googleapis.com/token"
	}
	if cfg.Mailbox.BaseURL == "" {
		cfg.Mailbox.BaseURL = "https://gmail.googleapis.com/gmail/v1"
	}
	if cfg.Mailbox.Timeout == 0 {
		cfg.Mailbox.Timeout = Duration(30 * time.Second)
	}
	if len(cfg.Mailbox.Queries) == 0 {
		cfg.Mailbox.Queries = DefaultQueries()
	}
	if cfg.Classifier.Provider == "" {
		cfg.Classifier.Provider = "disabled"
	}
	if cfg.Classifier.Model == "" {
		cfg.Classifier.Model = "gpt-4o-mini"
	}
	if cfg.Classifier.BaseURL == "" {
		cfg.Classifier.BaseURL = "https://api.openai.com"
	}
	if cfg.Classifier.BatchSize == 0 {
		cfg.Classifier.BatchSize = maxClassifierBatch
	}
	if cfg.Classifier.Timeout == 0 {
		cfg.Classifier.Timeout = Duration(60 * time.Second)
	}
	if cfg.Sync.FiscalYear == 0 {
		cfg.Sync.FiscalYear = time.Now().Year()
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	switch c.Classifier.Provider {
	case "disabled", "openai":
	default:
		return fmt.Errorf("classifier.provider must be disabled or openai, got %q", c.Classifier.Provider)
	}
	if c.Classifier.Provider == "openai" && !c.Classifier.APIKey.IsSet() {
		return fmt.Errorf("classifier.api_key required when classifier.provider is openai")
	}
	if c.Classifier.BatchSize < 1 || c.Classifier.BatchSize > maxClassifierBatch {
		return fmt.Errorf("classifier.batch_size must be between 1 and %d, got %d", maxClassifierBatch, c.Classifier.BatchSize)
	}
	if c.Sync.FiscalYear < 2000 || c.Sync.FiscalYear > 2100 {
		return fmt.Errorf("sync.fiscal_year out of range: %d", c.Sync.FiscalYear)
	}
	return nil
}
