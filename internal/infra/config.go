package infra

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"copytrade_go/internal/domain"
)

// ErrInvalidConfig wraps every validation failure of Config.
var ErrInvalidConfig = errors.New("invalid configuration")

// Trading modes and networks.
const (
	ModePaper = "PAPER"
	ModeMock  = "MOCK"
	ModeLive  = "LIVE"

	NetworkMainnet = "mainnet"
	NetworkTestnet = "testnet"
)

// Config holds every application setting.
// LoadConfig reads it from YAML and then applies environment overrides.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Trading struct {
		Mode    string `yaml:"mode"`
		Network string `yaml:"network"`
	} `yaml:"trading"`

	Copy struct {
		LeaderID             string             `yaml:"leader_id"`
		FollowerID           string             `yaml:"follower_id"`
		Multiplier           float64            `yaml:"multiplier"`
		SizingMode           string             `yaml:"sizing_mode"`
		MaxExposureUSD       float64            `yaml:"max_exposure_usd"`
		PerMarketCapUSD      map[string]float64 `yaml:"per_market_cap_usd"`
		StopLossPctByMarket  map[string]float64 `yaml:"stop_loss_pct_by_market"`
		LiquidationBufferPct float64            `yaml:"liquidation_buffer_pct"`
		ReconcileIntervalMS  int                `yaml:"reconcile_interval_ms"`
	} `yaml:"copy"`

	Order struct {
		Enabled        bool   `yaml:"enabled"`
		Venue          string `yaml:"venue"`
		OrderFlags     int64  `yaml:"order_flags"`
		Builder        string `yaml:"builder"`
		BuilderFeeRate int64  `yaml:"builder_fee_rate"`
		BuilderFeeMode string `yaml:"builder_fee_mode"`
	} `yaml:"order"`

	Resilience struct {
		BreakerThreshold   int                 `yaml:"breaker_threshold"`
		BreakerCooldownMS  int                 `yaml:"breaker_cooldown_ms"`
		RateLimitPerSec    float64             `yaml:"rate_limit_per_sec"`
		RateLimitBurst     int                 `yaml:"rate_limit_burst"`
		MaxReadAttempts    int                 `yaml:"max_read_attempts"`
		MaintenanceWindows []MaintenanceWindow `yaml:"maintenance_windows"`
	} `yaml:"resilience"`

	LeaderStream struct {
		WSURL           string `yaml:"ws_url"`
		PingIntervalSec int    `yaml:"ping_interval_sec"`
		ReadTimeoutSec  int    `yaml:"read_timeout_sec"`
	} `yaml:"leader_stream"`

	Signer struct {
		Provider          string `yaml:"provider"`
		SessionID         string `yaml:"session_id"`
		DomainName        string `yaml:"domain_name"`
		DomainVersion     string `yaml:"domain_version"`
		ChainID           int64  `yaml:"chain_id"`
		VerifyingContract string `yaml:"verifying_contract"`
		ExpirySec         int    `yaml:"expiry_sec"`
		PrivateKey        string `yaml:"private_key"`
		SecretsPath       string `yaml:"secrets_path"`
	} `yaml:"signer"`

	Storage struct {
		SQLitePath       string `yaml:"sqlite_path"`
		RedisAddr        string `yaml:"redis_addr"`
		RedisKey         string `yaml:"redis_key"`
		MetricsTTLSec    int    `yaml:"metrics_ttl_sec"`
		FlushIntervalSec int    `yaml:"flush_interval_sec"`
	} `yaml:"storage"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// LoadConfig reads .env (if present), parses the YAML file, applies defaults
// and environment overrides, then validates.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return ParseConfig(data)
}

// ParseConfig is LoadConfig without file access.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = AppName
	}
	if c.Trading.Mode == "" {
		c.Trading.Mode = ModePaper
	}
	c.Trading.Mode = strings.ToUpper(c.Trading.Mode)
	c.Trading.Network = strings.ToLower(strings.TrimSpace(c.Trading.Network))
	if c.Trading.Network == "" {
		c.Trading.Network = NetworkMainnet
	}
	if c.Copy.SizingMode == "" {
		c.Copy.SizingMode = string(domain.SizingC1)
	}
	if c.Copy.Multiplier == 0 {
		c.Copy.Multiplier = 1
	}
	if c.Copy.ReconcileIntervalMS == 0 {
		c.Copy.ReconcileIntervalMS = 30_000
	}
	if c.Order.Venue == "" {
		c.Order.Venue = "copy_engine"
	}
	if c.Order.BuilderFeeMode == "" {
		c.Order.BuilderFeeMode = "fail_closed"
	}
	if c.Resilience.BreakerThreshold == 0 {
		c.Resilience.BreakerThreshold = 5
	}
	if c.Resilience.BreakerCooldownMS == 0 {
		c.Resilience.BreakerCooldownMS = 30_000
	}
	if c.Resilience.RateLimitPerSec == 0 {
		c.Resilience.RateLimitPerSec = 10
	}
	if c.Resilience.RateLimitBurst == 0 {
		c.Resilience.RateLimitBurst = 5
	}
	if c.Resilience.MaxReadAttempts == 0 {
		c.Resilience.MaxReadAttempts = 3
	}
	if c.LeaderStream.PingIntervalSec == 0 {
		c.LeaderStream.PingIntervalSec = 30
	}
	if c.LeaderStream.ReadTimeoutSec == 0 {
		c.LeaderStream.ReadTimeoutSec = 90
	}
	if c.Signer.Provider == "" {
		c.Signer.Provider = "eip712"
	}
	if c.Signer.ExpirySec == 0 {
		c.Signer.ExpirySec = 60
	}
	if c.Storage.RedisKey == "" {
		c.Storage.RedisKey = "copytrade:metrics"
	}
	if c.Storage.MetricsTTLSec == 0 {
		c.Storage.MetricsTTLSec = 86_400
	}
	if c.Storage.FlushIntervalSec == 0 {
		c.Storage.FlushIntervalSec = 60
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	switch c.Trading.Mode {
	case ModePaper, ModeMock, ModeLive:
	default:
		return fmt.Errorf("%w: unknown trading mode %q", ErrInvalidConfig, c.Trading.Mode)
	}

	ws := c.LeaderStream.WSURL
	if ws == "" || (!strings.HasPrefix(ws, "ws://") && !strings.HasPrefix(ws, "wss://")) {
		return fmt.Errorf("%w: invalid leader stream WS URL: %q", ErrInvalidConfig, ws)
	}
	if err := ValidateEndpointNetwork(c.Trading.Network, ws, "leader_stream.ws_url"); err != nil {
		return err
	}

	switch c.Order.BuilderFeeMode {
	case "fail_open", "fail_closed":
	default:
		return fmt.Errorf("%w: unknown builder fee mode %q", ErrInvalidConfig, c.Order.BuilderFeeMode)
	}
	switch c.Order.Venue {
	case "manual_trading", "copy_engine":
	default:
		return fmt.Errorf("%w: unknown venue %q", ErrInvalidConfig, c.Order.Venue)
	}

	for i, w := range c.Resilience.MaintenanceWindows {
		if w.DayOfWeek < time.Sunday || w.DayOfWeek > time.Saturday ||
			w.StartHourUTC < 0 || w.EndHourUTC > 24 || w.StartHourUTC >= w.EndHourUTC {
			return fmt.Errorf("%w: maintenance window %d out of range", ErrInvalidConfig, i)
		}
	}

	if err := c.CopyTrading().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return nil
}

// ValidateEndpointNetwork rejects a testnet endpoint on mainnet and a
// non-testnet endpoint on testnet.
func ValidateEndpointNetwork(network, endpoint, name string) error {
	isTestnet := strings.Contains(endpoint, "testnet")
	switch network {
	case NetworkMainnet:
		if isTestnet {
			return fmt.Errorf("%w: endpoint %s is testnet but network is mainnet", ErrInvalidConfig, name)
		}
	case NetworkTestnet:
		if !isTestnet {
			return fmt.Errorf("%w: endpoint %s must be testnet when network is testnet", ErrInvalidConfig, name)
		}
	default:
		return fmt.Errorf("%w: unknown network %q, expected mainnet or testnet", ErrInvalidConfig, network)
	}
	return nil
}

// CopyTrading converts the copy section to the immutable domain config.
func (c *Config) CopyTrading() domain.CopyTradingConfig {
	caps := make(map[string]float64, len(c.Copy.PerMarketCapUSD))
	for k, v := range c.Copy.PerMarketCapUSD {
		caps[k] = v
	}
	stops := make(map[string]float64, len(c.Copy.StopLossPctByMarket))
	for k, v := range c.Copy.StopLossPctByMarket {
		stops[k] = v
	}
	return domain.CopyTradingConfig{
		LeaderID:             c.Copy.LeaderID,
		FollowerID:           c.Copy.FollowerID,
		Multiplier:           c.Copy.Multiplier,
		SizingMode:           domain.SizingMode(c.Copy.SizingMode),
		MaxExposureUSD:       c.Copy.MaxExposureUSD,
		PerMarketCapUSD:      caps,
		StopLossPctByMarket:  stops,
		LiquidationBufferPct: c.Copy.LiquidationBufferPct,
		ReconcileInterval:    time.Duration(c.Copy.ReconcileIntervalMS) * time.Millisecond,
	}
}

// overrideWithEnv lets environment variables take precedence over the file.
func overrideWithEnv(cfg *Config) {
	if cfg.Signer.PrivateKey != "" {
		slog.Warn("Signer private key found in config file; prefer COPYTRADE_SIGNER_KEY or signer.secrets_path")
	}

	if v := os.Getenv("COPYTRADE_LEADER_ID"); v != "" {
		cfg.Copy.LeaderID = v
	}
	if v := os.Getenv("COPYTRADE_FOLLOWER_ID"); v != "" {
		cfg.Copy.FollowerID = v
	}
	if v := os.Getenv("COPYTRADE_SIGNER_KEY"); v != "" {
		cfg.Signer.PrivateKey = v
	}
	if v := os.Getenv("COPYTRADE_REDIS_ADDR"); v != "" {
		cfg.Storage.RedisAddr = v
	}
	if v := os.Getenv("COPYTRADE_LEADER_WS_URL"); v != "" {
		cfg.LeaderStream.WSURL = v
	}
}
