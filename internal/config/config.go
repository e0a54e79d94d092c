package config

import (
	"encoding/hex"
	"errors"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
	DB struct {
		DSN        string `yaml:"dsn"`
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"db"`
	Gateway struct {
		BaseURL        string `yaml:"base_url"`
		APIKey         string `yaml:"api_key"`
		NetworkUTXO    string `yaml:"network_utxo"`
		NetworkAccount string `yaml:"network_account"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"gateway"`
	Vault struct {
		Key string `yaml:"key"`
	} `yaml:"vault"`
	Wallet struct {
		XPub         string `yaml:"xpub"`
		Bech32Prefix string `yaml:"bech32_prefix"`
	} `yaml:"wallet"`
	Platform struct {
		TradeFeePercent float64 `yaml:"trade_fee_percent"`
		CoinPrecision   int     `yaml:"coin_precision"`
	} `yaml:"platform"`
	Worker struct {
		IntervalSeconds int64 `yaml:"interval_seconds"`
		BatchSize       int   `yaml:"batch_size"`
	} `yaml:"worker"`
	Pricing struct {
		FeedURL string `yaml:"feed_url"`
	} `yaml:"pricing"`
}

func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if cfg.Server.Addr == "" {
		return nil, errors.New("server.addr is required")
	}
	if cfg.DB.DSN == "" && cfg.DB.SQLitePath == "" {
		return nil, errors.New("db.dsn or db.sqlite_path is required")
	}
	if cfg.Gateway.BaseURL == "" {
		return nil, errors.New("gateway.base_url is required")
	}
	if _, err := DecodeVaultKey(cfg.Vault.Key); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DecodeVaultKey parses the hex-encoded 32-byte at-rest encryption key.
func DecodeVaultKey(v string) ([]byte, error) {
	if v == "" {
		return nil, errors.New("vault.key is required")
	}
	key, err := hex.DecodeString(v)
	if err != nil {
		return nil, errors.New("vault.key must be hex encoded")
	}
	if len(key) != 32 {
		return nil, errors.New("vault.key must decode to 32 bytes")
	}
	return key, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Gateway.TimeoutSeconds <= 0 {
		cfg.Gateway.TimeoutSeconds = 10
	}
	if cfg.Platform.CoinPrecision <= 0 {
		cfg.Platform.CoinPrecision = 8
	}
	if cfg.Worker.IntervalSeconds <= 0 {
		cfg.Worker.IntervalSeconds = 30
	}
	if cfg.Worker.BatchSize <= 0 {
		cfg.Worker.BatchSize = 50
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.DB.DSN = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.DB.SQLitePath = v
	}
	if v := os.Getenv("GATEWAY_BASE_URL"); v != "" {
		cfg.Gateway.BaseURL = v
	}
	if v := os.Getenv("GATEWAY_API_KEY"); v != "" {
		cfg.Gateway.APIKey = v
	}
	if v := os.Getenv("GATEWAY_NETWORK_UTXO"); v != "" {
		cfg.Gateway.NetworkUTXO = v
	}
	if v := os.Getenv("GATEWAY_NETWORK_ACCOUNT"); v != "" {
		cfg.Gateway.NetworkAccount = v
	}
	if v := os.Getenv("GATEWAY_TIMEOUT_SECONDS"); v != "" {
		cfg.Gateway.TimeoutSeconds = atoiOr(cfg.Gateway.TimeoutSeconds, v)
	}
	if v := os.Getenv("VAULT_KEY"); v != "" {
		cfg.Vault.Key = v
	}
	if v := os.Getenv("WALLET_XPUB"); v != "" {
		cfg.Wallet.XPub = v
	}
	if v := os.Getenv("BECH32_PREFIX"); v != "" {
		cfg.Wallet.Bech32Prefix = v
	}
	if v := os.Getenv("TRADE_FEE_PERCENT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Platform.TradeFeePercent = f
		}
	}
	if v := os.Getenv("COIN_PRECISION"); v != "" {
		cfg.Platform.CoinPrecision = atoiOr(cfg.Platform.CoinPrecision, v)
	}
	if v := os.Getenv("WORKER_INTERVAL_SECONDS"); v != "" {
		cfg.Worker.IntervalSeconds = atoi64Or(cfg.Worker.IntervalSeconds, v)
	}
	if v := os.Getenv("WORKER_BATCH_SIZE"); v != "" {
		cfg.Worker.BatchSize = atoiOr(cfg.Worker.BatchSize, v)
	}
	if v := os.Getenv("PRICE_FEED_URL"); v != "" {
		cfg.Pricing.FeedURL = v
	}
}

func atoiOr(fallback int, v string) int {
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func atoi64Or(fallback int64, v string) int64 {
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}
