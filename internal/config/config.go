package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

const (
	DefaultConfigPath   = "config.toml"
	DefaultHTTPAddr     = ":8080"
	DefaultJWTExpiresIn = "24h"
	DefaultPGHost       = "127.0.0.1"
	DefaultPGPort       = 5432
	DefaultPGUser       = "postgres"
	DefaultPGDatabase   = "relay"
	DefaultPGSSLMode    = "disable"
)

type Config struct {
	Log        LogConfig        `toml:"log"`
	Server     ServerConfig     `toml:"server"`
	Admin      AdminConfig      `toml:"admin"`
	Auth       AuthConfig       `toml:"auth"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Automation AutomationConfig `toml:"automation"`
	Engine     EngineConfig     `toml:"engine"`
	Email      EmailConfig      `toml:"email"`
	Fax        FaxConfig        `toml:"fax"`
	Mail       MailConfig       `toml:"mail"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type AdminConfig struct {
	Username string `toml:"username"`
	Password string `toml:"password"`
	Email    string `toml:"email"`
}

type AuthConfig struct {
	JWTSecret    string `toml:"jwt_secret"`
	JWTExpiresIn string `toml:"jwt_expires_in"`
}

type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

// AutomationConfig bounds scripted portal sessions. UploadTimeoutSeconds
// applies to document upload/download, the longest-latency steps.
type AutomationConfig struct {
	RequestTimeoutSeconds int `toml:"request_timeout_seconds"`
	UploadTimeoutSeconds  int `toml:"upload_timeout_seconds"`
	DispatchWorkers       int `toml:"dispatch_workers"`
	DispatchQueueSize     int `toml:"dispatch_queue_size"`
}

// EngineConfig tunes routing behavior. ResponseBusinessDays is the
// statutory response window used to recompute due dates after a send.
type EngineConfig struct {
	ResponseBusinessDays int    `toml:"response_business_days"`
	HealthSweepSpec      string `toml:"health_sweep_spec"`
}

type EmailConfig struct {
	Provider    string `toml:"provider"`
	FromAddress string `toml:"from_address"`
	ReplyDomain string `toml:"reply_domain"`

	SMTPHost     string `toml:"smtp_host"`
	SMTPPort     int    `toml:"smtp_port"`
	SMTPSecurity string `toml:"smtp_security"`
	Username     string `toml:"username"`
	Password     string `toml:"password"`

	IMAPHost            string `toml:"imap_host"`
	IMAPPort            int    `toml:"imap_port"`
	IMAPSecurity        string `toml:"imap_security"`
	PollIntervalSeconds int    `toml:"poll_interval_seconds"`

	MailgunDomain     string `toml:"mailgun_domain"`
	MailgunAPIKey     string `toml:"mailgun_api_key"`
	MailgunSigningKey string `toml:"mailgun_signing_key"`
}

type FaxConfig struct {
	GatewayURL  string `toml:"gateway_url"`
	APIKey      string `toml:"api_key"`
	CallbackURL string `toml:"callback_url"`
}

type MailConfig struct {
	LetterAPIURL string `toml:"letter_api_url"`
	APIKey       string `toml:"api_key"`
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Admin: AdminConfig{
			Username: "admin",
			Password: "change-your-password-here",
			Email:    "you@example.com",
		},
		Auth: AuthConfig{
			JWTExpiresIn: DefaultJWTExpiresIn,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Automation: AutomationConfig{
			RequestTimeoutSeconds: 20,
			UploadTimeoutSeconds:  30,
			DispatchWorkers:       4,
			DispatchQueueSize:     256,
		},
		Engine: EngineConfig{
			ResponseBusinessDays: 20,
			HealthSweepSpec:      "@every 1h",
		},
		Email: EmailConfig{
			Provider:            "smtp",
			SMTPPort:            587,
			SMTPSecurity:        "starttls",
			IMAPPort:            993,
			IMAPSecurity:        "tls",
			PollIntervalSeconds: 300,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}
