package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"time"
)

// SeedConfig models the subset of values we need from seed.json.
type SeedConfig struct {
	ServiceID string `json:"serviceId"`
	Chain     struct {
		ChainID   int64  `json:"chainId"`
		Name      string `json:"name"`
		RPCURL    string `json:"rpcUrl"`
		BlockTime int    `json:"blockTime"`
	} `json:"chain"`
	Relayer struct {
		MinBalanceWei   string `json:"minBalanceWei"`
		GasLimit        uint64 `json:"gasLimit"`
		BalanceInterval int    `json:"balanceIntervalSeconds"`
	} `json:"relayer"`
	Secrets struct {
		APIHMACSecret     string `json:"apiHmacSecret"`
		WebhookHMACSecret string `json:"webhookHmacSecret"`
	} `json:"secrets"`
	Limits struct {
		RequestsPerMinute int `json:"requestsPerMinute"`
		MaxMemoLength     int `json:"maxMemoLength"`
	} `json:"limits"`
	Timeouts struct {
		RPCTimeoutMs          int `json:"rpcTimeoutMs"`
		ConfirmationTimeoutMs int `json:"confirmationTimeoutMs"`
		WebhookTimeoutMs      int `json:"webhookTimeoutMs"`
	} `json:"timeouts"`
}

// DeploymentConfig represents deployments.json.
type DeploymentConfig struct {
	ChainID   int64  `json:"chainId"`
	Deployer  string `json:"deployer"`
	Contracts struct {
		GaslessForwarder string `json:"GaslessForwarder"`
	} `json:"contracts"`
}

// AppConfig ties together seed + deployment info and derived values.
type AppConfig struct {
	Seed       SeedConfig
	Deployment DeploymentConfig
	Service    ServiceConfig
	Chain      ChainConfig
	Relayer    RelayerConfig
	Notify     NotifyConfig
}

type ServiceConfig struct {
	HTTPPort          int
	HMACClockSkew     time.Duration
	ShutdownGrace     time.Duration
	RequestsPerMinute int
	RedisURL          string
	HistoryDSN        string
}

type ChainConfig struct {
	RPCURL              string
	PrivateKey          string
	RPCTimeout          time.Duration
	ConfirmationTimeout time.Duration
	ReceiptPollInterval time.Duration
}

type RelayerConfig struct {
	MinBalanceWei   *big.Int
	GasLimit        uint64
	BalanceInterval time.Duration
}

type NotifyConfig struct {
	WebhookURL     string
	WebhookSecret  string
	WebhookTimeout time.Duration
}

const (
	defaultSeedPath        = "seed.json"
	defaultDeploymentsPath = "deployments.json"
)

var (
	ErrMissingPrivateKey = errors.New("relayer private key is not configured")
	ErrMissingForwarder  = errors.New("forwarder contract address is not configured")
)

// Load aggregates configuration from disk and environment. Missing signing
// credentials or contract addresses are fatal: the process must not serve
// requests with a nonfunctional relayer identity.
func Load() (*AppConfig, error) {
	seedPath := envOr("SEED_PATH", defaultSeedPath)
	deploymentsPath := envOr("DEPLOYMENTS_PATH", defaultDeploymentsPath)

	seedCfg, err := loadSeed(seedPath)
	if err != nil {
		return nil, fmt.Errorf("load seed: %w", err)
	}

	deployCfg, err := loadDeployments(deploymentsPath)
	if err != nil {
		return nil, fmt.Errorf("load deployments: %w", err)
	}

	serviceCfg := ServiceConfig{
		HTTPPort:          envOrInt("API_HTTP_PORT", 3000),
		HMACClockSkew:     time.Duration(envOrInt("HMAC_CLOCK_SKEW_SECONDS", 60)) * time.Second,
		ShutdownGrace:     time.Duration(envOrInt("SHUTDOWN_GRACE_SECONDS", 15)) * time.Second,
		RequestsPerMinute: envOrInt("RELAY_REQUESTS_PER_MINUTE", seedCfg.Limits.RequestsPerMinute),
		RedisURL:          envOr("REDIS_URL", ""),
		HistoryDSN:        envOr("HISTORY_POSTGRES_DSN", ""),
	}

	chainCfg := ChainConfig{
		RPCURL:              envOr("CHAIN_RPC_URL", seedCfg.Chain.RPCURL),
		PrivateKey:          envOr("RELAYER_PRIVATE_KEY", ""),
		RPCTimeout:          msOr(seedCfg.Timeouts.RPCTimeoutMs, 10*time.Second),
		ConfirmationTimeout: msOr(seedCfg.Timeouts.ConfirmationTimeoutMs, 90*time.Second),
		ReceiptPollInterval: time.Duration(envOrInt("RECEIPT_POLL_INTERVAL_MS", 2000)) * time.Millisecond,
	}
	if chainCfg.PrivateKey == "" {
		return nil, ErrMissingPrivateKey
	}
	if deployCfg.Contracts.GaslessForwarder == "" {
		return nil, ErrMissingForwarder
	}

	minBalance, ok := new(big.Int).SetString(envOr("RELAYER_MIN_BALANCE_WEI", seedCfg.Relayer.MinBalanceWei), 10)
	if !ok {
		return nil, fmt.Errorf("invalid minimum balance %q", seedCfg.Relayer.MinBalanceWei)
	}

	gasLimit := seedCfg.Relayer.GasLimit
	if gasLimit == 0 {
		gasLimit = 300_000
	}

	relayerCfg := RelayerConfig{
		MinBalanceWei:   minBalance,
		GasLimit:        gasLimit,
		BalanceInterval: secsOr(seedCfg.Relayer.BalanceInterval, 5*time.Minute),
	}

	notifyCfg := NotifyConfig{
		WebhookURL:     envOr("NOTIFY_WEBHOOK_URL", ""),
		WebhookSecret:  seedCfg.Secrets.WebhookHMACSecret,
		WebhookTimeout: msOr(seedCfg.Timeouts.WebhookTimeoutMs, 5*time.Second),
	}

	return &AppConfig{
		Seed:       *seedCfg,
		Deployment: *deployCfg,
		Service:    serviceCfg,
		Chain:      chainCfg,
		Relayer:    relayerCfg,
		Notify:     notifyCfg,
	}, nil
}

func loadSeed(path string) (*SeedConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg SeedConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadDeployments(path string) (*DeploymentConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg DeploymentConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envOr(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
	}
	return fallback
}

func msOr(ms int, fallback time.Duration) time.Duration {
	if ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

func secsOr(secs int, fallback time.Duration) time.Duration {
	if secs <= 0 {
		return fallback
	}
	return time.Duration(secs) * time.Second
}
