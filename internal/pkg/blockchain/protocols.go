// Package blockchain holds per-deployment protocol constants.
package blockchain

import "github.com/ethereum/go-ethereum/common"

// ProtocolConfig describes one lending pool deployment and the assets used to
// liquidate on it.
type ProtocolConfig struct {
	Name        string
	ChainID     int64
	PoolAddress common.Address

	// BorrowAsset is flash-borrowed to repay the target's debt.
	BorrowAsset         common.Address
	BorrowAssetDecimals int32

	// CollateralAsset is seized from the target.
	CollateralAsset common.Address

	// DefaultRPCURL is a public endpoint used when none is configured.
	DefaultRPCURL string

	// FallbackAccounts are known-active borrowers seeded when discovery finds nothing.
	FallbackAccounts []string
}

const (
	ChainIDBase int64 = 8453
)

// ProtocolRegistry maps chain IDs to their Aave V3 deployment.
var ProtocolRegistry = map[int64]ProtocolConfig{
	ChainIDBase: {
		Name:                "Aave V3 Base",
		ChainID:             ChainIDBase,
		PoolAddress:         common.HexToAddress("0xA238Dd80C259a72e81d7e4664a9801593F98d1c5"),
		BorrowAsset:         common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"), // USDC
		BorrowAssetDecimals: 6,
		CollateralAsset:     common.HexToAddress("0x4200000000000000000000000000000000000006"), // WETH
		DefaultRPCURL:       "https://mainnet.base.org",
		FallbackAccounts: []string{
			"0x0c0d117297298687f8582998344682029107067d",
			"0x2c9C858977F47e62a370e1b9E4A96C4126D77133",
			"0x4a3A6Dd60A34bb2Aba60D73B4C88315E9CeB6A3D",
			"0xe27BFf95221d609206D44089C3517A762951C818",
		},
	},
}

// GetProtocolConfig returns the deployment for chainID.
func GetProtocolConfig(chainID int64) (ProtocolConfig, bool) {
	config, exists := ProtocolRegistry[chainID]
	return config, exists
}
