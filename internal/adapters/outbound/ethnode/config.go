package ethnode

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/archon-research/stl-liquidator/internal/pkg/retry"
)

// LedgerConfig holds configuration for the node-backed ledger client.
type LedgerConfig struct {
	// PoolAddress is the lending pool whose events and account data are read.
	PoolAddress common.Address

	// ExecutorAddress is the flash-loan liquidation contract.
	ExecutorAddress common.Address

	// ChainID is used to sign transactions.
	ChainID *big.Int

	// PrivateKey signs liquidation transactions. Without it the client is read-only
	// and Submit fails.
	PrivateKey *ecdsa.PrivateKey

	// RequestsPerSecond limits outbound RPC calls. Defaults to 10.
	RequestsPerSecond float64

	// Burst is the rate limiter burst. Defaults to 5.
	Burst int

	// CallTimeout bounds a single RPC call. Defaults to 15 seconds.
	CallTimeout time.Duration

	// ReceiptPollInterval is how often Await checks for a receipt. Defaults to 2 seconds.
	ReceiptPollInterval time.Duration

	// Retry controls retries of read calls that fail transiently.
	Retry retry.Config

	// Logger is the structured logger.
	Logger *slog.Logger
}

// LedgerConfigDefaults returns a config with default values.
func LedgerConfigDefaults() LedgerConfig {
	return LedgerConfig{
		RequestsPerSecond:   10,
		Burst:               5,
		CallTimeout:         15 * time.Second,
		ReceiptPollInterval: 2 * time.Second,
		Retry:               retry.DefaultConfig(),
		Logger:              slog.Default(),
	}
}

// Validate checks that all required configuration fields are set.
func (c *LedgerConfig) Validate() error {
	if c.PoolAddress == (common.Address{}) {
		return errors.New("PoolAddress is required")
	}
	if c.PrivateKey != nil {
		if c.ExecutorAddress == (common.Address{}) {
			return errors.New("ExecutorAddress is required when a signing key is set")
		}
		if c.ChainID == nil || c.ChainID.Sign() <= 0 {
			return errors.New("ChainID is required when a signing key is set")
		}
	}
	return nil
}

func (c *LedgerConfig) applyDefaults() {
	defaults := LedgerConfigDefaults()
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = defaults.RequestsPerSecond
	}
	if c.Burst <= 0 {
		c.Burst = defaults.Burst
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = defaults.CallTimeout
	}
	if c.ReceiptPollInterval <= 0 {
		c.ReceiptPollInterval = defaults.ReceiptPollInterval
	}
	if c.Retry == (retry.Config{}) {
		c.Retry = defaults.Retry
	}
	if c.Logger == nil {
		c.Logger = defaults.Logger
	}
}

// ParsePrivateKey parses a hex-encoded secp256k1 key, with or without 0x prefix.
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, errors.New("private key is empty")
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return key, nil
}
