package config

import (
	"fmt"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/marketplace-settlement/internal/fee"
)

type Config struct {
	DatabaseURL        string   `env:"DATABASE_URL,required"`
	JWTSecret          string   `env:"JWT_SECRET,required"`
	Port               int      `env:"PORT" envDefault:"8080"`
	LogLevel           string   `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv             string   `env:"APP_ENV" envDefault:"production"`
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`

	PlatformFeeAccountID string `env:"PLATFORM_FEE_ACCOUNT_ID" envDefault:"platform-fee-collector"`
	TaxAccountID         string `env:"TAX_ACCOUNT_ID" envDefault:"platform-gst-collector"`

	PlatformFeeRate decimal.Decimal `env:"PLATFORM_FEE_RATE" envDefault:"0.07"`
	GSTRate         decimal.Decimal `env:"GST_RATE" envDefault:"0.18"`
	ReferralRate    decimal.Decimal `env:"REFERRAL_RATE" envDefault:"0.0005"`
	FeeSchedulePath string          `env:"FEE_SCHEDULE_PATH"`

	StoreTimeout      time.Duration `env:"STORE_TIMEOUT" envDefault:"3s"`
	ReconcileInterval time.Duration `env:"RECONCILE_INTERVAL" envDefault:"1m"`
	ReconcileGrace    time.Duration `env:"RECONCILE_GRACE" envDefault:"10m"`

	DBMaxOpenConns     int `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns     int `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	DBConnMaxLifetimeS int `env:"DB_CONN_MAX_LIFETIME_S" envDefault:"300"`
	DBConnMaxIdleTimeS int `env:"DB_CONN_MAX_IDLE_TIME_S" envDefault:"60"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	if cfg.FeeSchedulePath != "" {
		schedule, err := LoadFeeSchedule(cfg.FeeSchedulePath)
		if err != nil {
			return nil, fmt.Errorf("config.Load: %w", err)
		}
		schedule.apply(&cfg)
	}

	if cfg.PlatformFeeAccountID == cfg.TaxAccountID {
		return nil, fmt.Errorf("config.Load: platform fee and tax accounts must differ")
	}
	if cfg.StoreTimeout <= 0 {
		return nil, fmt.Errorf("config.Load: STORE_TIMEOUT must be positive")
	}

	return &cfg, nil
}

func (c *Config) FeeRates() fee.Rates {
	return fee.Rates{
		PlatformFee: c.PlatformFeeRate,
		GST:         c.GSTRate,
		Referral:    c.ReferralRate,
	}
}
