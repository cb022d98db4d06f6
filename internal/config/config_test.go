package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: "8080"},
		Database: DatabaseConfig{
			Driver: "mysql",
			Host:   "localhost",
			User:   "test",
			DBName: "test",
		},
		Gmail: GmailConfig{
			ClientID:     "test",
			ClientSecret: "test",
			RefreshToken: "test",
		},
		Poller:     PollerConfig{Schedule: "@every 5m", Filter: "subject:inquiry"},
		Queue:      QueueConfig{MaxRetries: 3},
		Pipeline:   PipelineConfig{CallTimeout: time.Minute},
		Portal:     PortalConfig{BaseURL: "http://localhost:9222"},
		Generation: GenerationConfig{BaseURL: "https://api.example.com", APIKey: "key"},
		Notifier:   NotifierConfig{Transport: "log"},
	}
}

func TestConfigValidation(t *testing.T) {
	assert.NoError(t, validConfig().Validate())

	invalid := &Config{Server: ServerConfig{Port: ""}}
	assert.Error(t, invalid.Validate())
}

func TestConfigValidationRules(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "oracle" }},
		{"sqlite without path", func(c *Config) { c.Database = DatabaseConfig{Driver: "sqlite"} }},
		{"imap without credentials", func(c *Config) { c.Gmail.UseIMAP = true }},
		{"empty schedule", func(c *Config) { c.Poller.Schedule = " " }},
		{"empty filter", func(c *Config) { c.Poller.Filter = "" }},
		{"zero retries", func(c *Config) { c.Queue.MaxRetries = 0 }},
		{"test mode without sender", func(c *Config) { c.Pipeline.TestMode = true }},
		{"zero timeout", func(c *Config) { c.Pipeline.CallTimeout = 0 }},
		{"missing api key", func(c *Config) { c.Generation.APIKey = "" }},
		{"gmail transport without destination", func(c *Config) { c.Notifier.Transport = "gmail" }},
		{"amqp transport without url", func(c *Config) { c.Notifier.Transport = "amqp" }},
		{"unknown transport", func(c *Config) { c.Notifier.Transport = "pager" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSQLiteConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Database = DatabaseConfig{Driver: "sqlite", Path: "/tmp/inquiries.db"}
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, "/tmp/inquiries.db", cfg.Database.GetDSN())
}

func TestDatabaseDSN(t *testing.T) {
	cfg := DatabaseConfig{
		Driver:   "mysql",
		Host:     "localhost",
		Port:     3306,
		User:     "testuser",
		Password: "testpass",
		DBName:   "testdb",
	}

	expected := "testuser:testpass@tcp(localhost:3306)/testdb?charset=utf8mb4&parseTime=True&loc=Local"
	assert.Equal(t, expected, cfg.GetDSN())
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("QUEUE_MAX_RETRIES", "5")
	t.Setenv("AUTO_SEND", "true")

	cfg, err := LoadConfig()
	assert.NoError(t, err)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "0 */5 * * * *", cfg.Poller.Schedule)
	assert.Equal(t, 5, cfg.Queue.MaxRetries)
	assert.True(t, cfg.Pipeline.AutoSend)
	assert.Equal(t, 2*time.Minute, cfg.Pipeline.CallTimeout)
	assert.Equal(t, "log", cfg.Notifier.Transport)
}
