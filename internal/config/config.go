package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Gmail      GmailConfig      `mapstructure:"gmail"`
	Poller     PollerConfig     `mapstructure:"poller"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Portal     PortalConfig     `mapstructure:"portal"`
	Generation GenerationConfig `mapstructure:"generation"`
	Notifier   NotifierConfig   `mapstructure:"notifier"`
	Log        LogConfig        `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	Path     string `mapstructure:"path"`
}

// GmailConfig holds mail account configuration
type GmailConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RefreshToken string `mapstructure:"refresh_token"`
	UserEmail    string `mapstructure:"user_email"`
	UseIMAP      bool   `mapstructure:"use_imap"`
	IMAPHost     string `mapstructure:"imap_host"`
	IMAPPort     int    `mapstructure:"imap_port"`
	IMAPUser     string `mapstructure:"imap_user"`
	IMAPPassword string `mapstructure:"imap_password"`
}

// PollerConfig holds inquiry polling configuration
type PollerConfig struct {
	Schedule string        `mapstructure:"schedule"`
	Filter   string        `mapstructure:"filter"`
	Lookback time.Duration `mapstructure:"lookback"`
}

// QueueConfig holds retry queue configuration
type QueueConfig struct {
	MaxRetries int `mapstructure:"max_retries"`
}

// PipelineConfig holds orchestration behaviour switches
type PipelineConfig struct {
	AutoSend    bool          `mapstructure:"auto_send"`
	TestMode    bool          `mapstructure:"test_mode"`
	TestSender  string        `mapstructure:"test_sender"`
	CallTimeout time.Duration `mapstructure:"call_timeout"`
}

// PortalConfig holds the portal session service configuration.
// Username and Password are only a fallback for hosts without a keyring.
type PortalConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	Headless       bool   `mapstructure:"headless"`
	KeyringService string `mapstructure:"keyring_service"`
	Username       string `mapstructure:"username"`
	Password       string `mapstructure:"password"`
}

// GenerationConfig holds text generation service configuration
type GenerationConfig struct {
	BaseURL      string `mapstructure:"base_url"`
	APIKey       string `mapstructure:"api_key"`
	Model        string `mapstructure:"model"`
	MaxTokens    int    `mapstructure:"max_tokens"`
	SystemPrompt string `mapstructure:"system_prompt"`
}

// NotifierConfig holds operator notification configuration
type NotifierConfig struct {
	Transport           string `mapstructure:"transport"`
	ErrorDestination    string `mapstructure:"error_destination"`
	ApprovalDestination string `mapstructure:"approval_destination"`
	AMQPURL             string `mapstructure:"amqp_url"`
	AMQPExchange        string `mapstructure:"amqp_exchange"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// LoadConfig loads configuration from environment variables and config file
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.AutomaticEnv()
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.path", "inquiries.db")

	v.SetDefault("gmail.use_imap", false)
	v.SetDefault("gmail.user_email", "me")
	v.SetDefault("gmail.imap_host", "imap.gmail.com")
	v.SetDefault("gmail.imap_port", 993)

	v.SetDefault("poller.schedule", "0 */5 * * * *")
	v.SetDefault("poller.filter", "is:unread subject:inquiry")
	v.SetDefault("poller.lookback", "72h")

	v.SetDefault("queue.max_retries", 3)

	v.SetDefault("pipeline.auto_send", false)
	v.SetDefault("pipeline.test_mode", false)
	v.SetDefault("pipeline.call_timeout", "2m")

	v.SetDefault("portal.base_url", "http://localhost:9222")
	v.SetDefault("portal.headless", true)
	v.SetDefault("portal.keyring_service", "inquiry-relay")

	v.SetDefault("generation.base_url", "https://api.anthropic.com")
	v.SetDefault("generation.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("generation.max_tokens", 1024)

	v.SetDefault("notifier.transport", "log")
	v.SetDefault("notifier.amqp_exchange", "inquiry")

	v.SetDefault("log.level", "info")
}

// bindEnvVars binds environment variables to configuration keys
func bindEnvVars(v *viper.Viper) {
	// Server
	v.BindEnv("server.port", "SERVER_PORT")
	v.BindEnv("server.read_timeout", "SERVER_READ_TIMEOUT")
	v.BindEnv("server.write_timeout", "SERVER_WRITE_TIMEOUT")

	// Database
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.dbname", "DB_NAME")
	v.BindEnv("database.path", "DB_PATH")

	// Gmail
	v.BindEnv("gmail.client_id", "GMAIL_CLIENT_ID")
	v.BindEnv("gmail.client_secret", "GMAIL_CLIENT_SECRET")
	v.BindEnv("gmail.refresh_token", "GMAIL_REFRESH_TOKEN")
	v.BindEnv("gmail.user_email", "GMAIL_USER_EMAIL")
	v.BindEnv("gmail.use_imap", "GMAIL_USE_IMAP")
	v.BindEnv("gmail.imap_host", "GMAIL_IMAP_HOST")
	v.BindEnv("gmail.imap_port", "GMAIL_IMAP_PORT")
	v.BindEnv("gmail.imap_user", "GMAIL_IMAP_USER")
	v.BindEnv("gmail.imap_password", "GMAIL_IMAP_PASSWORD")

	// Poller and queue
	v.BindEnv("poller.schedule", "POLLER_SCHEDULE")
	v.BindEnv("poller.filter", "POLLER_FILTER")
	v.BindEnv("poller.lookback", "POLLER_LOOKBACK")
	v.BindEnv("queue.max_retries", "QUEUE_MAX_RETRIES")

	// Pipeline
	v.BindEnv("pipeline.auto_send", "AUTO_SEND")
	v.BindEnv("pipeline.test_mode", "TEST_MODE")
	v.BindEnv("pipeline.test_sender", "TEST_SENDER")
	v.BindEnv("pipeline.call_timeout", "PIPELINE_CALL_TIMEOUT")

	// Portal
	v.BindEnv("portal.base_url", "PORTAL_BASE_URL")
	v.BindEnv("portal.headless", "PORTAL_HEADLESS")
	v.BindEnv("portal.keyring_service", "PORTAL_KEYRING_SERVICE")
	v.BindEnv("portal.username", "PORTAL_USERNAME")
	v.BindEnv("portal.password", "PORTAL_PASSWORD")

	// Generation
	v.BindEnv("generation.base_url", "GENERATION_BASE_URL")
	v.BindEnv("generation.api_key", "GENERATION_API_KEY")
	v.BindEnv("generation.model", "GENERATION_MODEL")
	v.BindEnv("generation.max_tokens", "GENERATION_MAX_TOKENS")

	// Notifier
	v.BindEnv("notifier.transport", "NOTIFIER_TRANSPORT")
	v.BindEnv("notifier.error_destination", "NOTIFIER_ERROR_DESTINATION")
	v.BindEnv("notifier.approval_destination", "NOTIFIER_APPROVAL_DESTINATION")
	v.BindEnv("notifier.amqp_url", "NOTIFIER_AMQP_URL")
	v.BindEnv("notifier.amqp_exchange", "NOTIFIER_AMQP_EXCHANGE")

	v.BindEnv("log.level", "LOG_LEVEL")
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	if c.Driver == "sqlite" {
		return c.Path
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.DBName)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	switch c.Database.Driver {
	case "mysql":
		if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
			return fmt.Errorf("database host, user, and dbname are required")
		}
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database path is required for sqlite")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	if !c.Gmail.UseIMAP {
		if c.Gmail.ClientID == "" || c.Gmail.ClientSecret == "" || c.Gmail.RefreshToken == "" {
			return fmt.Errorf("Gmail OAuth2 credentials are required when not using IMAP")
		}
	} else {
		if c.Gmail.IMAPUser == "" || c.Gmail.IMAPPassword == "" {
			return fmt.Errorf("IMAP credentials are required when using IMAP")
		}
	}

	if strings.TrimSpace(c.Poller.Schedule) == "" {
		return fmt.Errorf("poller schedule is required")
	}
	if strings.TrimSpace(c.Poller.Filter) == "" {
		return fmt.Errorf("poller filter is required")
	}

	if c.Queue.MaxRetries <= 0 {
		return fmt.Errorf("queue max_retries must be greater than 0")
	}

	if c.Pipeline.TestMode && strings.TrimSpace(c.Pipeline.TestSender) == "" {
		return fmt.Errorf("test_sender is required when test_mode is enabled")
	}
	if c.Pipeline.CallTimeout <= 0 {
		return fmt.Errorf("pipeline call_timeout must be greater than 0")
	}

	if c.Portal.BaseURL == "" {
		return fmt.Errorf("portal base_url is required")
	}

	if c.Generation.BaseURL == "" || c.Generation.APIKey == "" {
		return fmt.Errorf("generation base_url and api_key are required")
	}

	switch c.Notifier.Transport {
	case "log":
	case "gmail":
		if c.Notifier.ErrorDestination == "" {
			return fmt.Errorf("notifier error_destination is required for gmail transport")
		}
		if c.Gmail.UseIMAP {
			return fmt.Errorf("gmail notifier transport requires Gmail OAuth2 credentials")
		}
	case "amqp":
		if c.Notifier.AMQPURL == "" {
			return fmt.Errorf("notifier amqp_url is required for amqp transport")
		}
	default:
		return fmt.Errorf("unsupported notifier transport %q", c.Notifier.Transport)
	}

	return nil
}
