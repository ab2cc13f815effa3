package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	SeriesCode  string           `yaml:"series_code" mapstructure:"series_code"`
	CountryCode string           `yaml:"country_code" mapstructure:"country_code"`
	Source      SourceConfig     `yaml:"source" mapstructure:"source"`
	Forecast    ForecastConfig   `yaml:"forecast" mapstructure:"forecast"`
	Output      OutputConfig     `yaml:"output" mapstructure:"output"`
	Store       StoreConfig      `yaml:"store" mapstructure:"store"`
	Server      ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring  MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log         LogConfig        `yaml:"log" mapstructure:"log"`
}

// SourceConfig configures the World Bank indicator API client.
type SourceConfig struct {
	BaseURL      string `yaml:"base_url" mapstructure:"base_url"`
	PerPage      int    `yaml:"per_page" mapstructure:"per_page"`
	TimeoutSecs  int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries   int    `yaml:"max_retries" mapstructure:"max_retries"`
	UserAgent    string `yaml:"user_agent" mapstructure:"user_agent"`
	CacheSize    int    `yaml:"cache_size" mapstructure:"cache_size"`
	CacheTTLMins int    `yaml:"cache_ttl_mins" mapstructure:"cache_ttl_mins"`
	// RequestsPerSec is the starting request rate per API host. It halves on
	// 429 responses and recovers on success.
	RequestsPerSec float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
}

// ForecastConfig configures the horizon and the two forecasting models.
type ForecastConfig struct {
	CutOffYear  int         `yaml:"cut_off_year" mapstructure:"cut_off_year"`
	TimeoutSecs int         `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Models      []string    `yaml:"models" mapstructure:"models"`
	ARIMA       ARIMAConfig `yaml:"arima" mapstructure:"arima"`
	Trend       TrendConfig `yaml:"trend" mapstructure:"trend"`
}

// ARIMAConfig tunes the autoregressive model's order search.
type ARIMAConfig struct {
	MaxP      int    `yaml:"max_p" mapstructure:"max_p"`
	MaxD      int    `yaml:"max_d" mapstructure:"max_d"`
	Criterion string `yaml:"criterion" mapstructure:"criterion"`
}

// TrendConfig tunes the additive trend/seasonality model.
type TrendConfig struct {
	Changepoints     int     `yaml:"changepoints" mapstructure:"changepoints"`
	ChangepointRange float64 `yaml:"changepoint_range" mapstructure:"changepoint_range"`
	ChangepointPrior float64 `yaml:"changepoint_prior" mapstructure:"changepoint_prior"`
	SeasonalPeriod   float64 `yaml:"seasonal_period" mapstructure:"seasonal_period"`
	FourierOrder     int     `yaml:"fourier_order" mapstructure:"fourier_order"`
}

// OutputConfig configures on-disk result files.
type OutputConfig struct {
	Dir  string `yaml:"dir" mapstructure:"dir"`
	XLSX bool   `yaml:"xlsx" mapstructure:"xlsx"`
}

// StoreConfig configures the run history database.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// MonitoringConfig configures failure alerts.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("FORECAST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("series_code", "SP.POP.TOTL")
	v.SetDefault("country_code", "AFG")
	v.SetDefault("source.base_url", "https://api.worldbank.org/v2")
	v.SetDefault("source.per_page", 1000)
	v.SetDefault("source.timeout_secs", 30)
	v.SetDefault("source.max_retries", 3)
	v.SetDefault("source.user_agent", "forecast-cli/1.0")
	v.SetDefault("source.cache_size", 256)
	v.SetDefault("source.cache_ttl_mins", 60)
	v.SetDefault("source.requests_per_sec", 10)
	v.SetDefault("forecast.cut_off_year", 2030)
	v.SetDefault("forecast.timeout_secs", 120)
	v.SetDefault("forecast.models", []string{"arima", "trend"})
	v.SetDefault("forecast.arima.max_p", 3)
	v.SetDefault("forecast.arima.max_d", 2)
	v.SetDefault("forecast.arima.criterion", "aicc")
	v.SetDefault("forecast.trend.changepoints", 5)
	v.SetDefault("forecast.trend.changepoint_range", 0.8)
	v.SetDefault("forecast.trend.changepoint_prior", 0.05)
	v.SetDefault("forecast.trend.seasonal_period", 0)
	v.SetDefault("forecast.trend.fourier_order", 0)
	v.SetDefault("output.dir", "_output")
	v.SetDefault("output.xlsx", false)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "forecast.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on. Mode is one of
// "forecast" or "serve".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "forecast":
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Forecast.CutOffYear <= 0 {
		errs = append(errs, "forecast.cut_off_year must be > 0")
	}
	if len(c.Forecast.Models) != 2 {
		errs = append(errs, "forecast.models must name exactly two models")
	}
	if c.Forecast.ARIMA.MaxP < 0 || c.Forecast.ARIMA.MaxD < 0 {
		errs = append(errs, "forecast.arima orders must be >= 0")
	}
	switch strings.ToLower(c.Forecast.ARIMA.Criterion) {
	case "", "aic", "aicc", "bic":
	default:
		errs = append(errs, "forecast.arima.criterion must be one of aic, aicc, bic")
	}
	if r := c.Forecast.Trend.ChangepointRange; r < 0 || r > 1 {
		errs = append(errs, "forecast.trend.changepoint_range must be between 0 and 1")
	}
	if c.Forecast.Trend.ChangepointPrior < 0 {
		errs = append(errs, "forecast.trend.changepoint_prior must be >= 0")
	}
	if c.Forecast.Trend.FourierOrder > 0 && c.Forecast.Trend.SeasonalPeriod <= 0 {
		errs = append(errs, "forecast.trend.seasonal_period is required when fourier_order > 0")
	}
	if c.Source.RequestsPerSec < 0 {
		errs = append(errs, "source.requests_per_sec must be >= 0")
	}
	switch c.Store.Driver {
	case "sqlite", "postgres", "none":
	default:
		errs = append(errs, "store.driver must be one of sqlite, postgres, none")
	}
	if t := c.Monitoring.FailureRateThreshold; t < 0 || t > 1 {
		errs = append(errs, "monitoring.failure_rate_threshold must be between 0 and 1")
	}
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required for the postgres driver")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
