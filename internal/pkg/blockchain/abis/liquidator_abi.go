package abis

import "github.com/ethereum/go-ethereum/accounts/abi"

// GetLiquidatorABI returns the ABI of the flash-loan liquidation executor.
func GetLiquidatorABI() (*abi.ABI, error) {
	return ParseABI(`[{
		"inputs": [
			{"name": "_assetToBorrow", "type": "address"},
			{"name": "_amountToBorrow", "type": "uint256"},
			{"name": "_targetUser", "type": "address"},
			{"name": "_collateralAsset", "type": "address"}
		],
		"name": "executeLiquidation",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	}]`)
}
