package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (SHOP_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (SHOP_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Currency    string `default:"EUR" usage:"ISO currency code for all charges"`

	Card      CardGatewayConfig
	Wallet    WalletGatewayConfig
	Admin     AdminConfig
	Sweep     SweepConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Graceful  GracefulConfig

	// CancelWindow is how long after payment an order can still be cancelled.
	CancelWindow time.Duration `default:"24h" usage:"Cancellation window after payment" flag:"cancel-window"`
}

// CardGatewayConfig configures the card-network intent provider.
type CardGatewayConfig struct {
	BaseURL          string        `usage:"Card provider API base URL" flag:"card-base-url"`
	APIKey           string        `usage:"Card provider secret API key" flag:"card-api-key"`
	WebhookSecret    string        `usage:"Card provider webhook signing secret" flag:"card-webhook-secret"`
	WebhookTolerance time.Duration `default:"5m" usage:"Max age of signed webhook timestamps" flag:"card-webhook-tolerance"`
}

// WalletGatewayConfig configures the redirect-wallet provider.
type WalletGatewayConfig struct {
	BaseURL       string `usage:"Wallet provider API base URL" flag:"wallet-base-url"`
	ClientID      string `usage:"Wallet provider client id" flag:"wallet-client-id"`
	Secret        string `usage:"Wallet provider client secret" flag:"wallet-secret"`
	ReturnURL     string `usage:"Redirect target after wallet approval" flag:"wallet-return-url"`
	CancelURL     string `usage:"Redirect target after wallet cancellation" flag:"wallet-cancel-url"`
	WebhookSecret string `usage:"Wallet provider webhook signing secret" flag:"wallet-webhook-secret"`
}

// AdminConfig guards the back-office endpoints.
type AdminConfig struct {
	APIKey string `usage:"Back-office API key (SHOP_ADMIN_API_KEY)" flag:"admin-api-key"`
	Pepper string `usage:"HMAC pepper for API key hashing" flag:"admin-pepper"`
}

// SweepConfig controls the stale-pending-order sweeper.
type SweepConfig struct {
	Interval       time.Duration `default:"1m" usage:"Sweep pass interval"`
	PendingTimeout time.Duration `default:"30m" usage:"How long an order may stay pending" flag:"pending-timeout"`
	BatchSize      int           `default:"100" usage:"Max orders swept per pass" flag:"sweep-batch"`
}

// RateLimitConfig controls the per-client rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins []string `default:"*" usage:"Allowed CORS origins"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "SHOP",
		Files:     []string{"config.yaml", "/etc/checkout/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set SHOP_DATABASE_URL or DATABASE_URL")
	}
	if cfg.Card.WebhookSecret == "" || cfg.Wallet.WebhookSecret == "" {
		return nil, errors.New("webhook secrets are required: set SHOP_CARD_WEBHOOK_SECRET and SHOP_WALLET_WEBHOOK_SECRET")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's SHOP_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
