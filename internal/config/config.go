package config

import (
	"fmt"
	"time"

	env "github.com/caarlos0/env/v11"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required"`
	Port        int    `env:"PORT" envDefault:"8080"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv      string `env:"APP_ENV" envDefault:"production"`

	GatewayBaseURL       string `env:"GATEWAY_BASE_URL,required"`
	GatewayKey           string `env:"GATEWAY_KEY,required"`
	GatewayTimeoutS      int    `env:"GATEWAY_TIMEOUT_S" envDefault:"15"`
	GatewayStatusRetries int    `env:"GATEWAY_STATUS_RETRIES" envDefault:"3"`
	GatewayRetryDelayS   int    `env:"GATEWAY_RETRY_DELAY_S" envDefault:"2"`

	// CallbackBaseURL is where the gateway redirects the payer's browser;
	// FrontendBaseURL is where we redirect them afterwards.
	CallbackBaseURL string `env:"CALLBACK_BASE_URL" envDefault:"http://app:8080/api/v1/payments/callback"`
	FrontendBaseURL string `env:"FRONTEND_BASE_URL" envDefault:"http://localhost:3000"`

	OrderFeeBps int `env:"ORDER_FEE_BPS" envDefault:"200"`

	DistributionDayOfMonth int `env:"DISTRIBUTION_DAY_OF_MONTH" envDefault:"1"`
	DistributionIntervalS  int `env:"DISTRIBUTION_INTERVAL_S" envDefault:"3600"`

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
	return &cfg, nil
}

func (c *Config) GatewayTimeout() time.Duration {
	return time.Duration(c.GatewayTimeoutS) * time.Second
}

func (c *Config) GatewayRetryDelay() time.Duration {
	return time.Duration(c.GatewayRetryDelayS) * time.Second
}

func (c *Config) DistributionInterval() time.Duration {
	return time.Duration(c.DistributionIntervalS) * time.Second
}
