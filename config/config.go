package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Backend    BackendConfig    `yaml:"backend"`
	API        APIConfig        `yaml:"api"`
	Realtime   RealtimeConfig   `yaml:"realtime"`
	Cache      CacheConfig      `yaml:"cache"`
	Session    SessionConfig    `yaml:"session"`
	Database   DatabaseConfig   `yaml:"database"`
	Payment    PaymentConfig    `yaml:"payment"`
	Cloudinary CloudinaryConfig `yaml:"cloudinary"`
	Log        LogConfig        `yaml:"log"`
}

type ServerConfig struct {
	Port           string        `yaml:"port"`
	Env            string        `yaml:"env"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	RateLimit      int           `yaml:"rate_limit"` // requests per minute per client
}

// BackendConfig points at the hosted backend-as-a-service project.
type BackendConfig struct {
	URL     string        `yaml:"url"`
	AnonKey string        `yaml:"anon_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// APIConfig is the platform's own REST API (rankings).
type APIConfig struct {
	URL string `yaml:"url"`
}

type RealtimeConfig struct {
	Enabled           bool          `yaml:"enabled"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	ReconnectMin      time.Duration `yaml:"reconnect_min"`
	ReconnectMax      time.Duration `yaml:"reconnect_max"`
}

type CacheConfig struct {
	StaleTime           time.Duration `yaml:"stale_time"`
	ReadRetries         int           `yaml:"read_retries"`
	RetryDelay          time.Duration `yaml:"retry_delay"`
	MatchInterval       time.Duration `yaml:"match_interval"`
	LeaderboardInterval time.Duration `yaml:"leaderboard_interval"`
	WalletInterval      time.Duration `yaml:"wallet_interval"`
	RedisAddr           string        `yaml:"redis_addr"`
	RedisPassword       string        `yaml:"redis_password"`
	RedisDB             int           `yaml:"redis_db"`
	MirrorTTL           time.Duration `yaml:"mirror_ttl"`
}

type SessionConfig struct {
	File          string        `yaml:"file"`
	Passphrase    string        `yaml:"passphrase"`
	RefreshMargin time.Duration `yaml:"refresh_margin"`
	JWTSecret     string        `yaml:"jwt_secret"` // optional; empty skips signature checks
	OAuthRedirect string        `yaml:"oauth_redirect"`
	MutationWait  time.Duration `yaml:"mutation_timeout"`
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type PaymentConfig struct {
	FeePercent           int          `yaml:"fee_percent"`
	Currency             string       `yaml:"currency"`
	StripePublishableKey string       `yaml:"stripe_publishable_key"`
	StripeBaseURL        string       `yaml:"stripe_base_url"`
	PayPal               PayPalConfig `yaml:"paypal"`
}

type PayPalConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	BaseURL      string `yaml:"base_url"`
}

type CloudinaryConfig struct {
	CloudName string `yaml:"cloud_name"`
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or text
}

// Load builds the configuration from defaults, then the optional yaml file at
// path (environment references expanded), then .env and process environment.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{Realtime: RealtimeConfig{Enabled: true}}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			data = []byte(os.ExpandEnv(string(data)))
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	str("FGC_BACKEND_URL", &c.Backend.URL)
	str("FGC_BACKEND_ANON_KEY", &c.Backend.AnonKey)
	str("FGC_API_URL", &c.API.URL)
	str("FGC_STRIPE_PUBLISHABLE_KEY", &c.Payment.StripePublishableKey)
	str("FGC_PAYPAL_CLIENT_ID", &c.Payment.PayPal.ClientID)
	str("FGC_PAYPAL_CLIENT_SECRET", &c.Payment.PayPal.ClientSecret)
	str("FGC_DATABASE_DSN", &c.Database.DSN)
	str("FGC_REDIS_ADDR", &c.Cache.RedisAddr)
	str("FGC_SESSION_PASSPHRASE", &c.Session.Passphrase)
	str("FGC_JWT_SECRET", &c.Session.JWTSecret)
	str("FGC_CLOUDINARY_CLOUD_NAME", &c.Cloudinary.CloudName)
	str("FGC_CLOUDINARY_API_KEY", &c.Cloudinary.APIKey)
	str("FGC_CLOUDINARY_API_SECRET", &c.Cloudinary.APISecret)
	str("FGC_PORT", &c.Server.Port)
	str("FGC_ENV", &c.Server.Env)
	str("FGC_LOG_LEVEL", &c.Log.Level)
	if v := os.Getenv("FGC_ALLOWED_ORIGINS"); v != "" {
		c.Server.AllowedOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("FGC_REALTIME_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Realtime.Enabled = b
		}
	}
	if v := os.Getenv("FGC_FEE_PERCENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Payment.FeePercent = n
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8787"
	}
	if c.Server.Env == "" {
		c.Server.Env = "development"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"http://localhost:5173"}
	}
	if c.Server.RateLimit == 0 {
		c.Server.RateLimit = 300
	}

	if c.API.URL == "" && c.Backend.URL != "" {
		c.API.URL = strings.TrimRight(c.Backend.URL, "/") + "/functions/v1/api"
	}
	if c.Backend.Timeout == 0 {
		c.Backend.Timeout = 20 * time.Second
	}

	if c.Realtime.HeartbeatInterval == 0 {
		c.Realtime.HeartbeatInterval = 25 * time.Second
	}
	if c.Realtime.ReconnectMin == 0 {
		c.Realtime.ReconnectMin = time.Second
	}
	if c.Realtime.ReconnectMax == 0 {
		c.Realtime.ReconnectMax = 30 * time.Second
	}

	if c.Cache.StaleTime == 0 {
		c.Cache.StaleTime = 30 * time.Second
	}
	if c.Cache.ReadRetries == 0 {
		c.Cache.ReadRetries = 3
	}
	if c.Cache.RetryDelay == 0 {
		c.Cache.RetryDelay = 500 * time.Millisecond
	}
	if c.Cache.MatchInterval == 0 {
		c.Cache.MatchInterval = 5 * time.Second
	}
	if c.Cache.LeaderboardInterval == 0 {
		c.Cache.LeaderboardInterval = 30 * time.Second
	}
	if c.Cache.WalletInterval == 0 {
		c.Cache.WalletInterval = time.Minute
	}
	if c.Cache.MirrorTTL == 0 {
		c.Cache.MirrorTTL = 10 * time.Minute
	}

	if c.Session.File == "" {
		if dir, err := os.UserConfigDir(); err == nil {
			c.Session.File = dir + "/fgcmatch/session.bin"
		}
	}
	if c.Session.RefreshMargin == 0 {
		c.Session.RefreshMargin = time.Minute
	}
	if c.Session.MutationWait == 0 {
		c.Session.MutationWait = 30 * time.Second
	}

	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 2
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 5
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = time.Hour
	}

	if c.Payment.FeePercent == 0 {
		c.Payment.FeePercent = 5
	}
	if c.Payment.Currency == "" {
		c.Payment.Currency = "usd"
	}
	if c.Payment.StripeBaseURL == "" {
		c.Payment.StripeBaseURL = "https://api.stripe.com"
	}
	if c.Payment.PayPal.BaseURL == "" {
		c.Payment.PayPal.BaseURL = "https://api-m.sandbox.paypal.com"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
		if c.Server.Env == "production" {
			c.Log.Format = "json"
		}
	}
}

func (c *Config) Validate() error {
	if c.Backend.URL == "" {
		return errors.New("config: backend url is required (FGC_BACKEND_URL)")
	}
	if c.Backend.AnonKey == "" {
		return errors.New("config: backend anon key is required (FGC_BACKEND_ANON_KEY)")
	}
	if c.Payment.FeePercent < 0 || c.Payment.FeePercent > 100 {
		return fmt.Errorf("config: fee percent %d outside 0..100", c.Payment.FeePercent)
	}
	return nil
}

// Default returns a configuration with all defaults applied and no backend set.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.Realtime.Enabled = true
	return cfg
}

func (c *Config) IsProduction() bool { return c.Server.Env == "production" }
