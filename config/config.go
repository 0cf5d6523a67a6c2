package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Pesapal  PesapalConfig  `mapstructure:"pesapal"`
	Frontend FrontendConfig `mapstructure:"frontend"`
	API      APIConfig      `mapstructure:"api"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// PesapalConfig holds credentials and endpoints for the Pesapal v3 API.
type PesapalConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	ConsumerKey     string        `mapstructure:"consumer_key"`
	ConsumerSecret  string        `mapstructure:"consumer_secret"`
	IPNID           string        `mapstructure:"ipn_id"` // pre-registered notification channel id
	CallbackURL     string        `mapstructure:"callback_url"`
	CancellationURL string        `mapstructure:"cancellation_url"`
	CountryCode     string        `mapstructure:"country_code"`
	AuthTimeout     time.Duration `mapstructure:"auth_timeout"`
	SubmitTimeout   time.Duration `mapstructure:"submit_timeout"`
	StatusTimeout   time.Duration `mapstructure:"status_timeout"`
	// TokenTTL is the local token cache lifetime. Kept below the
	// gateway's real token TTL so an expired token is never presented.
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

// FrontendConfig holds the browser landing pages for redirect channels.
type FrontendConfig struct {
	SuccessURL  string `mapstructure:"success_url"`
	CanceledURL string `mapstructure:"canceled_url"`
	ErrorURL    string `mapstructure:"error_url"`
}

// APIConfig holds inbound API authentication settings.
// An empty key disables authentication (development mode).
type APIConfig struct {
	Key string `mapstructure:"key"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: PESA_.
// Nested keys use underscore: PESA_DATABASE_HOST, PESA_PESAPAL_CONSUMER_KEY, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "pesaflow")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("pesapal.base_url", "https://cybqa.pesapal.com/pesapalv3")
	v.SetDefault("pesapal.consumer_key", "")
	v.SetDefault("pesapal.consumer_secret", "")
	v.SetDefault("pesapal.ipn_id", "")
	v.SetDefault("pesapal.callback_url", "http://localhost:8080/api/v1/payments/callback")
	v.SetDefault("pesapal.cancellation_url", "http://localhost:8080/api/v1/payments/cancel")
	v.SetDefault("pesapal.country_code", "KE")
	v.SetDefault("pesapal.auth_timeout", "10s")
	v.SetDefault("pesapal.submit_timeout", "15s")
	v.SetDefault("pesapal.status_timeout", "10s")
	v.SetDefault("pesapal.token_ttl", "4m")
	v.SetDefault("frontend.success_url", "http://localhost:3000/payment-success")
	v.SetDefault("frontend.canceled_url", "http://localhost:3000/payment-canceled")
	v.SetDefault("frontend.error_url", "http://localhost:3000/payment-error")
	v.SetDefault("api.key", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: PESA_DATABASE_HOST -> database.host
	v.SetEnvPrefix("PESA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required — env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}
