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
	HTTPAddr       string
	DatabaseURL    string
	ServiceToken   string
	AllowedOrigins string
	AppURL         string
	// LogLevel is applied after .env is loaded; the logger itself starts
	// from the process environment.
	LogLevel string

	// ShopifyAPISecret signs both webhooks and app proxy requests.
	ShopifyAPISecret  string
	ShopifyAdminToken string
	ShopifyAPIVersion string
	// AppProxyMaxAge bounds the age of signed storefront requests; zero disables the check.
	AppProxyMaxAge time.Duration

	DefaultRedirectURL string
	CookieName         string
	CookieTTL          time.Duration
	AttributionWindow  time.Duration
	MetafieldTimeout   time.Duration
	MetafieldNamespace string
	AttributionDriver  string
	RedisURL           string

	NotifierDriver   string
	NotifyTimeout    time.Duration
	NotificationURL  string
	NotificationAuth string
	KafkaBrokers     []string
	KafkaTopic       string

	ArchiveWebhooks   bool
	R2AccountID       string
	R2AccessKeyID     string
	R2AccessKeySecret string
	R2Bucket          string

	ExpirySweepInterval time.Duration
}

type configFile struct {
	Server struct {
		Addr           string `yaml:"addr"`
		AllowedOrigins string `yaml:"allowed_origins"`
		AppURL         string `yaml:"app_url"`
		LogLevel       string `yaml:"log_level"`
	} `yaml:"server"`
	Tracking struct {
		DefaultRedirectURL string `yaml:"default_redirect_url"`
		CookieName         string `yaml:"cookie_name"`
		CookieDays         int    `yaml:"cookie_days"`
	} `yaml:"tracking"`
	Attribution struct {
		WindowDays         int    `yaml:"window_days"`
		MetafieldTimeoutMS int    `yaml:"metafield_timeout_ms"`
		MetafieldNamespace string `yaml:"metafield_namespace"`
		Driver             string `yaml:"driver"`
	} `yaml:"attribution"`
	Notifier struct {
		Driver     string   `yaml:"driver"`
		TimeoutMS  int      `yaml:"timeout_ms"`
		URL        string   `yaml:"url"`
		KafkaTopic string   `yaml:"kafka_topic"`
		Brokers    []string `yaml:"kafka_brokers"`
	} `yaml:"notifier"`
	Workers struct {
		ExpirySweepMinutes int `yaml:"expiry_sweep_minutes"`
	} `yaml:"workers"`
}

func defaults() Config {
	return Config{
		HTTPAddr:            ":5200",
		LogLevel:            "info",
		AllowedOrigins:      "http://localhost:3000",
		ShopifyAPIVersion:   "2024-07",
		AppProxyMaxAge:      5 * time.Minute,
		DefaultRedirectURL:  "https://example.myshopify.com",
		CookieName:          "referral_ref",
		CookieTTL:           30 * 24 * time.Hour,
		AttributionWindow:   30 * 24 * time.Hour,
		MetafieldTimeout:    2 * time.Second,
		MetafieldNamespace:  "referrals",
		AttributionDriver:   "none",
		NotifierDriver:      "log",
		NotifyTimeout:       5 * time.Second,
		KafkaTopic:          "referral.notifications",
		ExpirySweepInterval: time.Hour,
	}
}

// Load reads .env, then the optional YAML file, then environment overrides.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := defaults()
	path := envString("CONFIG_FILE", "config.yaml")
	if raw, err := os.ReadFile(path); err == nil {
		if err := applyFile(&cfg, raw); err != nil {
			return Config{}, err
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, raw []byte) error {
	var f configFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	if f.Server.Addr != "" {
		cfg.HTTPAddr = f.Server.Addr
	}
	if f.Server.AllowedOrigins != "" {
		cfg.AllowedOrigins = f.Server.AllowedOrigins
	}
	if f.Server.AppURL != "" {
		cfg.AppURL = f.Server.AppURL
	}
	if f.Server.LogLevel != "" {
		cfg.LogLevel = f.Server.LogLevel
	}
	if f.Tracking.DefaultRedirectURL != "" {
		cfg.DefaultRedirectURL = f.Tracking.DefaultRedirectURL
	}
	if f.Tracking.CookieName != "" {
		cfg.CookieName = f.Tracking.CookieName
	}
	if f.Tracking.CookieDays > 0 {
		cfg.CookieTTL = days(f.Tracking.CookieDays)
	}
	if f.Attribution.WindowDays > 0 {
		cfg.AttributionWindow = days(f.Attribution.WindowDays)
	}
	if f.Attribution.MetafieldTimeoutMS > 0 {
		cfg.MetafieldTimeout = time.Duration(f.Attribution.MetafieldTimeoutMS) * time.Millisecond
	}
	if f.Attribution.MetafieldNamespace != "" {
		cfg.MetafieldNamespace = f.Attribution.MetafieldNamespace
	}
	if f.Attribution.Driver != "" {
		cfg.AttributionDriver = f.Attribution.Driver
	}
	if f.Notifier.Driver != "" {
		cfg.NotifierDriver = f.Notifier.Driver
	}
	if f.Notifier.TimeoutMS > 0 {
		cfg.NotifyTimeout = time.Duration(f.Notifier.TimeoutMS) * time.Millisecond
	}
	if f.Notifier.URL != "" {
		cfg.NotificationURL = f.Notifier.URL
	}
	if f.Notifier.KafkaTopic != "" {
		cfg.KafkaTopic = f.Notifier.KafkaTopic
	}
	if len(f.Notifier.Brokers) > 0 {
		cfg.KafkaBrokers = f.Notifier.Brokers
	}
	if f.Workers.ExpirySweepMinutes > 0 {
		cfg.ExpirySweepInterval = time.Duration(f.Workers.ExpirySweepMinutes) * time.Minute
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.HTTPAddr = envString("HTTP_ADDR", cfg.HTTPAddr)
	cfg.DatabaseURL = envString("DATABASE_URL", cfg.DatabaseURL)
	cfg.ServiceToken = envString("SERVICE_TOKEN", cfg.ServiceToken)
	cfg.AllowedOrigins = envString("ALLOWED_ORIGINS", cfg.AllowedOrigins)
	cfg.AppURL = envString("APP_URL", cfg.AppURL)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)

	cfg.ShopifyAPISecret = envString("SHOPIFY_API_SECRET", envString("SHOPIFY_WEBHOOK_SECRET", cfg.ShopifyAPISecret))
	cfg.ShopifyAdminToken = envString("SHOPIFY_ADMIN_TOKEN", cfg.ShopifyAdminToken)
	cfg.ShopifyAPIVersion = envString("SHOPIFY_API_VERSION", cfg.ShopifyAPIVersion)
	cfg.AppProxyMaxAge = time.Duration(envInt("APP_PROXY_MAX_AGE_SECONDS", int(cfg.AppProxyMaxAge.Seconds()))) * time.Second

	cfg.DefaultRedirectURL = envString("DEFAULT_REDIRECT_URL", cfg.DefaultRedirectURL)
	cfg.CookieName = envString("ATTRIBUTION_COOKIE_NAME", cfg.CookieName)
	cfg.CookieTTL = days(envInt("ATTRIBUTION_COOKIE_DAYS", int(cfg.CookieTTL.Hours()/24)))
	cfg.AttributionWindow = days(envInt("ATTRIBUTION_WINDOW_DAYS", int(cfg.AttributionWindow.Hours()/24)))
	cfg.MetafieldTimeout = time.Duration(envInt("METAFIELD_LOOKUP_TIMEOUT_MS", int(cfg.MetafieldTimeout.Milliseconds()))) * time.Millisecond
	cfg.MetafieldNamespace = envString("METAFIELD_NAMESPACE", cfg.MetafieldNamespace)
	cfg.AttributionDriver = strings.ToLower(envString("CUSTOMER_ATTRIBUTION_DRIVER", cfg.AttributionDriver))
	cfg.RedisURL = envString("REDIS_URL", cfg.RedisURL)

	cfg.NotifierDriver = strings.ToLower(envString("NOTIFIER_DRIVER", cfg.NotifierDriver))
	cfg.NotifyTimeout = time.Duration(envInt("NOTIFY_TIMEOUT_MS", int(cfg.NotifyTimeout.Milliseconds()))) * time.Millisecond
	cfg.NotificationURL = envString("NOTIFICATION_SERVICE_URL", cfg.NotificationURL)
	cfg.NotificationAuth = envString("NOTIFICATION_SERVICE_TOKEN", cfg.NotificationAuth)
	if brokers := envList("KAFKA_BROKERS"); len(brokers) > 0 {
		cfg.KafkaBrokers = brokers
	}
	cfg.KafkaTopic = envString("KAFKA_TOPIC", cfg.KafkaTopic)

	cfg.ArchiveWebhooks = envBool("ARCHIVE_WEBHOOKS", cfg.ArchiveWebhooks)
	cfg.R2AccountID = envString("CLOUDFLARE_ACCOUNT_ID", cfg.R2AccountID)
	cfg.R2AccessKeyID = envString("R2_ACCESS_KEY_ID", cfg.R2AccessKeyID)
	cfg.R2AccessKeySecret = envString("R2_ACCESS_KEY_SECRET", cfg.R2AccessKeySecret)
	cfg.R2Bucket = envString("R2_BUCKET_NAME", cfg.R2Bucket)

	cfg.ExpirySweepInterval = time.Duration(envInt("EXPIRY_SWEEP_MINUTES", int(cfg.ExpirySweepInterval.Minutes()))) * time.Minute
}

func (c Config) Validate() error {
	var problems []string
	if c.DatabaseURL == "" {
		problems = append(problems, "DATABASE_URL is required")
	}
	if c.ServiceToken == "" {
		problems = append(problems, "SERVICE_TOKEN is required")
	}
	if c.ShopifyAPISecret == "" {
		problems = append(problems, "SHOPIFY_API_SECRET is required")
	}
	switch c.AttributionDriver {
	case "none":
	case "redis":
		if c.RedisURL == "" {
			problems = append(problems, "REDIS_URL is required for the redis attribution driver")
		}
	case "shopify":
		if c.ShopifyAdminToken == "" {
			problems = append(problems, "SHOPIFY_ADMIN_TOKEN is required for the shopify attribution driver")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown CUSTOMER_ATTRIBUTION_DRIVER %q", c.AttributionDriver))
	}
	switch c.NotifierDriver {
	case "log":
	case "http":
		if c.NotificationURL == "" {
			problems = append(problems, "NOTIFICATION_SERVICE_URL is required for the http notifier")
		}
	case "kafka":
		if len(c.KafkaBrokers) == 0 {
			problems = append(problems, "KAFKA_BROKERS is required for the kafka notifier")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown NOTIFIER_DRIVER %q", c.NotifierDriver))
	}
	if c.ArchiveWebhooks && c.R2Bucket == "" {
		problems = append(problems, "R2_BUCKET_NAME is required when ARCHIVE_WEBHOOKS is on")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Origins splits ALLOWED_ORIGINS into trimmed entries.
func (c Config) Origins() []string {
	var out []string
	for _, origin := range strings.Split(c.AllowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			out = append(out, origin)
		}
	}
	return out
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

func envInt(name string, fallback int) int {
	if raw := os.Getenv(name); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			return v
		}
	}
	return fallback
}

func envBool(name string, fallback bool) bool {
	if raw := os.Getenv(name); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			return v
		}
	}
	return fallback
}

func envString(name, fallback string) string {
	if raw := os.Getenv(name); raw != "" {
		return raw
	}
	return fallback
}

func envList(name string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(name), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
