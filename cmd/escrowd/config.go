package main

import (
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"escrow-backend/ipfs"

	"github.com/ethereum/go-ethereum/common"
)

type config struct {
	RPCURL          string
	Factory         common.Address
	ChainID         *big.Int
	ClefURL         string
	ConfirmTimeout  time.Duration
	AccountPoll     time.Duration
	WatchInterval   time.Duration
	MetadataDriver  string
	IPFS            ipfs.Config
	IPFSRequireAuth bool
	PGDSN           string
	NATSURL         string
	NATSSubject     string
	HTTPPort        string
	Transport       string
	LogLevel        slog.Level
}

func loadConfig() (config, error) {
	cfg := config{
		RPCURL:          envDefault("ESCROW_RPC_URL", "http://127.0.0.1:8545"),
		ClefURL:         envDefault("ESCROW_CLEF_URL", "http://127.0.0.1:8550"),
		ConfirmTimeout:  envSeconds("ESCROW_CONFIRM_TIMEOUT_SEC", 120*time.Second),
		AccountPoll:     envSeconds("ESCROW_ACCOUNT_POLL_SEC", 5*time.Second),
		WatchInterval:   envSeconds("ESCROW_WATCH_INTERVAL_SEC", 15*time.Second),
		MetadataDriver:  strings.ToLower(envDefault("ESCROW_METADATA_DRIVER", "ipfs")),
		IPFS:            ipfs.ConfigFromEnv(),
		IPFSRequireAuth: os.Getenv("IPFS_REQUIRE_AUTH") == "true",
		PGDSN:           os.Getenv("ESCROW_PG_DSN"),
		NATSURL:         os.Getenv("ESCROW_NATS_URL"),
		NATSSubject:     envDefault("ESCROW_NATS_SUBJECT", "escrow.jobs"),
		HTTPPort:        envDefault("ESCROW_HTTP_PORT", "3003"),
		Transport:       strings.ToLower(envDefault("ESCROW_TRANSPORT", "stdio")),
		LogLevel:        slog.LevelInfo,
	}

	factory := strings.TrimSpace(os.Getenv("ESCROW_FACTORY_ADDRESS"))
	if factory == "" {
		return cfg, fmt.Errorf("ESCROW_FACTORY_ADDRESS is required")
	}
	if !common.IsHexAddress(factory) {
		return cfg, fmt.Errorf("ESCROW_FACTORY_ADDRESS %q is not a hex address", factory)
	}
	cfg.Factory = common.HexToAddress(factory)

	if raw := strings.TrimSpace(os.Getenv("ESCROW_CHAIN_ID")); raw != "" {
		id, ok := new(big.Int).SetString(raw, 10)
		if !ok || id.Sign() <= 0 {
			return cfg, fmt.Errorf("ESCROW_CHAIN_ID %q is not a positive integer", raw)
		}
		cfg.ChainID = id
	}

	switch cfg.MetadataDriver {
	case "ipfs", "memory":
	case "postgres":
		if cfg.PGDSN == "" {
			return cfg, fmt.Errorf("ESCROW_PG_DSN required when ESCROW_METADATA_DRIVER=postgres")
		}
	default:
		return cfg, fmt.Errorf("unknown ESCROW_METADATA_DRIVER %q", cfg.MetadataDriver)
	}

	switch cfg.Transport {
	case "stdio", "http":
	default:
		return cfg, fmt.Errorf("unknown ESCROW_TRANSPORT %q", cfg.Transport)
	}

	if raw := os.Getenv("ESCROW_LOG_LEVEL"); raw != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(raw)); err != nil {
			return cfg, fmt.Errorf("ESCROW_LOG_LEVEL: %w", err)
		}
	}
	return cfg, nil
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envSeconds(key string, def time.Duration) time.Duration {
	if raw := os.Getenv(key); raw != "" {
		if v, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && v > 0 {
			return time.Duration(v) * time.Second
		}
	}
	return def
}
