// Package outbound contains the secondary/outbound ports.
// These interfaces are implemented by adapters and consumed by services.
package outbound

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/stl-liquidator/internal/domain/entity"
)

// TxRequest describes a liquidation call on the executor contract.
type TxRequest struct {
	BorrowAsset     common.Address
	Amount          *big.Int
	Target          entity.AccountID
	CollateralAsset common.Address
	GasLimit        uint64
}

// TxHandle identifies a submitted transaction.
type TxHandle struct {
	Hash  common.Hash
	Nonce uint64
}

// Receipt is the final result of a mined transaction.
type Receipt struct {
	TxHash      common.Hash
	BlockNumber uint64
	GasUsed     uint64
	Success     bool
}

// LedgerClient is the read/write gateway to the chain. Implementations wrap
// rate-limit and timeout failures in entity.ErrTransientNetwork.
type LedgerClient interface {
	// CurrentHeight returns the latest block number.
	CurrentHeight(ctx context.Context) (uint64, error)

	// FetchEvents returns the decoded events of one kind in the inclusive range [from, to].
	FetchEvents(ctx context.Context, kind entity.EventKind, from, to uint64) ([]entity.EventRecord, error)

	// ReadAccountHealth performs a point read of one account's solvency data.
	ReadAccountHealth(ctx context.Context, id entity.AccountID) (entity.RawAccountData, error)

	// Submit signs and broadcasts a liquidation transaction.
	// Failures wrap entity.ErrSubmission.
	Submit(ctx context.Context, req TxRequest) (TxHandle, error)

	// Await blocks until the transaction is mined. A reverted transaction returns
	// a receipt with Success=false and no error; a transaction that never lands
	// returns an error wrapping entity.ErrSubmission.
	Await(ctx context.Context, handle TxHandle) (Receipt, error)
}
