// Package ethnode implements the ledger port against an Ethereum JSON-RPC node
// using go-ethereum's ethclient.
package ethnode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"

	"github.com/archon-research/stl-liquidator/internal/domain/entity"
	"github.com/archon-research/stl-liquidator/internal/pkg/blockchain/abis"
	"github.com/archon-research/stl-liquidator/internal/pkg/retry"
	"github.com/archon-research/stl-liquidator/internal/ports/outbound"
)

// Compile-time checks.
var (
	_ outbound.LedgerClient = (*Ledger)(nil)
	_ Backend               = (*ethclient.Client)(nil)
)

// Backend is the subset of ethclient.Client the ledger needs.
type Backend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Ledger reads pool state and submits liquidations through a node.
type Ledger struct {
	backend     Backend
	config      LedgerConfig
	poolABI     *abi.ABI
	executorABI *abi.ABI
	eventTopics map[entity.EventKind]common.Hash
	limiter     *rate.Limiter
	signer      types.Signer
	from        common.Address
	submitMu    sync.Mutex
	logger      *slog.Logger
}

// NewLedger creates a Ledger on top of backend.
func NewLedger(backend Backend, config LedgerConfig) (*Ledger, error) {
	if backend == nil {
		return nil, errors.New("backend is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	config.applyDefaults()

	poolABI, err := abis.GetPoolABI()
	if err != nil {
		return nil, fmt.Errorf("failed to load pool ABI: %w", err)
	}
	executorABI, err := abis.GetLiquidatorABI()
	if err != nil {
		return nil, fmt.Errorf("failed to load liquidator ABI: %w", err)
	}

	topics := make(map[entity.EventKind]common.Hash, len(entity.CandidateEventKinds))
	for _, kind := range entity.CandidateEventKinds {
		ev, ok := poolABI.Events[kind.String()]
		if !ok {
			return nil, fmt.Errorf("pool ABI has no %s event", kind)
		}
		topics[kind] = ev.ID
	}

	l := &Ledger{
		backend:     backend,
		config:      config,
		poolABI:     poolABI,
		executorABI: executorABI,
		limiter:     rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.Burst),
		logger:      config.Logger.With("component", "ethnode-ledger"),
		eventTopics: topics,
	}
	if config.PrivateKey != nil {
		l.signer = types.LatestSignerForChainID(config.ChainID)
		l.from = crypto.PubkeyToAddress(config.PrivateKey.PublicKey)
	}
	return l, nil
}

// Dial connects to rawURL and returns a Ledger using it.
func Dial(ctx context.Context, rawURL string, config LedgerConfig) (*Ledger, *ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rawURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to node: %w", err)
	}
	ledger, err := NewLedger(client, config)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return ledger, client, nil
}

// From returns the signing address, or the zero address for a read-only ledger.
func (l *Ledger) From() common.Address {
	return l.from
}

// CurrentHeight returns the latest block number.
func (l *Ledger) CurrentHeight(ctx context.Context) (uint64, error) {
	return read(ctx, l, "eth_blockNumber", func(ctx context.Context) (uint64, error) {
		return l.backend.BlockNumber(ctx)
	})
}

// FetchEvents returns the kind events emitted by the pool in [from, to].
func (l *Ledger) FetchEvents(ctx context.Context, kind entity.EventKind, from, to uint64) ([]entity.EventRecord, error) {
	topic, ok := l.eventTopics[kind]
	if !ok {
		return nil, fmt.Errorf("unsupported event kind %q", kind)
	}
	if to < from {
		return nil, fmt.Errorf("invalid range [%d,%d]", from, to)
	}
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{l.config.PoolAddress},
		Topics:    [][]common.Hash{{topic}},
	}

	logs, err := read(ctx, l, "eth_getLogs", func(ctx context.Context) ([]types.Log, error) {
		return l.backend.FilterLogs(ctx, query)
	})
	if err != nil {
		return nil, err
	}

	records := make([]entity.EventRecord, 0, len(logs))
	for _, lg := range logs {
		// Topics: signature, reserve, onBehalfOf, referralCode.
		if lg.Removed || len(lg.Topics) < 3 {
			continue
		}
		records = append(records, entity.EventRecord{
			Kind:        kind,
			Account:     common.BytesToAddress(lg.Topics[2].Bytes()),
			BlockNumber: lg.BlockNumber,
			TxHash:      lg.TxHash,
			LogIndex:    lg.Index,
		})
	}
	return records, nil
}

// ReadAccountHealth calls getUserAccountData for id at the latest block.
func (l *Ledger) ReadAccountHealth(ctx context.Context, id entity.AccountID) (entity.RawAccountData, error) {
	data, err := l.poolABI.Pack("getUserAccountData", id)
	if err != nil {
		return entity.RawAccountData{}, fmt.Errorf("failed to pack getUserAccountData: %w", err)
	}
	msg := ethereum.CallMsg{To: &l.config.PoolAddress, Data: data}

	result, err := read(ctx, l, "getUserAccountData", func(ctx context.Context) ([]byte, error) {
		return l.backend.CallContract(ctx, msg, nil)
	})
	if err != nil {
		return entity.RawAccountData{}, err
	}

	out, err := l.poolABI.Unpack("getUserAccountData", result)
	if err != nil {
		return entity.RawAccountData{}, fmt.Errorf("failed to unpack getUserAccountData: %w", err)
	}
	if len(out) != 6 {
		return entity.RawAccountData{}, fmt.Errorf("getUserAccountData returned %d values, want 6", len(out))
	}
	collateral, ok1 := out[0].(*big.Int)
	debt, ok2 := out[1].(*big.Int)
	hf, ok3 := out[5].(*big.Int)
	if !ok1 || !ok2 || !ok3 {
		return entity.RawAccountData{}, errors.New("getUserAccountData returned unexpected types")
	}
	return entity.RawAccountData{
		TotalCollateralBase: collateral,
		TotalDebtBase:       debt,
		HealthFactor:        hf,
	}, nil
}

// Submit signs and broadcasts executeLiquidation. Submissions are serialized
// so nonces never collide.
func (l *Ledger) Submit(ctx context.Context, req outbound.TxRequest) (outbound.TxHandle, error) {
	if l.config.PrivateKey == nil {
		return outbound.TxHandle{}, fmt.Errorf("%w: ledger has no signing key", entity.ErrSubmission)
	}
	data, err := l.executorABI.Pack("executeLiquidation", req.BorrowAsset, req.Amount, req.Target, req.CollateralAsset)
	if err != nil {
		return outbound.TxHandle{}, fmt.Errorf("%w: failed to pack executeLiquidation: %w", entity.ErrSubmission, err)
	}

	l.submitMu.Lock()
	defer l.submitMu.Unlock()

	nonce, err := read(ctx, l, "eth_getTransactionCount", func(ctx context.Context) (uint64, error) {
		return l.backend.PendingNonceAt(ctx, l.from)
	})
	if err != nil {
		return outbound.TxHandle{}, fmt.Errorf("%w: %w", entity.ErrSubmission, err)
	}
	gasPrice, err := read(ctx, l, "eth_gasPrice", func(ctx context.Context) (*big.Int, error) {
		return l.backend.SuggestGasPrice(ctx)
	})
	if err != nil {
		return outbound.TxHandle{}, fmt.Errorf("%w: %w", entity.ErrSubmission, err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &l.config.ExecutorAddress,
		Value:    big.NewInt(0),
		Gas:      req.GasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, l.signer, l.config.PrivateKey)
	if err != nil {
		return outbound.TxHandle{}, fmt.Errorf("%w: failed to sign transaction: %w", entity.ErrSubmission, err)
	}

	if err := l.limiter.Wait(ctx); err != nil {
		return outbound.TxHandle{}, fmt.Errorf("%w: %w", entity.ErrSubmission, err)
	}
	sendCtx, cancel := context.WithTimeout(ctx, l.config.CallTimeout)
	err = l.backend.SendTransaction(sendCtx, signed)
	cancel()
	if err != nil {
		return outbound.TxHandle{}, fmt.Errorf("%w: %w", entity.ErrSubmission, classify("eth_sendRawTransaction", err))
	}

	l.logger.Debug("transaction sent",
		"tx", signed.Hash().Hex(),
		"nonce", nonce,
		"gasPrice", gasPrice.String(),
		"gasLimit", req.GasLimit)
	return outbound.TxHandle{Hash: signed.Hash(), Nonce: nonce}, nil
}

// Await polls for the receipt of handle until it is mined or ctx is done.
func (l *Ledger) Await(ctx context.Context, handle outbound.TxHandle) (outbound.Receipt, error) {
	for {
		receipt, err := l.receipt(ctx, handle.Hash)
		switch {
		case err == nil:
			return outbound.Receipt{
				TxHash:      receipt.TxHash,
				BlockNumber: receipt.BlockNumber.Uint64(),
				GasUsed:     receipt.GasUsed,
				Success:     receipt.Status == types.ReceiptStatusSuccessful,
			}, nil
		case errors.Is(err, ethereum.NotFound):
		case isTransient(err):
			l.logger.Debug("receipt poll failed", "tx", handle.Hash.Hex(), "error", err)
		default:
			return outbound.Receipt{}, fmt.Errorf("%w: receipt for %s: %w", entity.ErrSubmission, handle.Hash.Hex(), err)
		}

		if err := retry.Sleep(ctx, l.config.ReceiptPollInterval); err != nil {
			return outbound.Receipt{}, fmt.Errorf("%w: no receipt for %s: %w", entity.ErrSubmission, handle.Hash.Hex(), err)
		}
	}
}

func (l *Ledger) receipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, l.config.CallTimeout)
	defer cancel()
	receipt, err := l.backend.TransactionReceipt(callCtx, hash)
	if err != nil {
		return nil, err
	}
	if receipt == nil || receipt.BlockNumber == nil {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

// read runs a rate-limited, time-bounded call and retries transient failures.
func read[T any](ctx context.Context, l *Ledger, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	onRetry := func(attempt int, err error, backoff time.Duration) {
		l.logger.Debug("retrying rpc call", "op", op, "attempt", attempt, "backoff", backoff, "error", err)
	}
	result, err := retry.Do(ctx, l.config.Retry, isTransient, onRetry, func() (T, error) {
		var zero T
		if err := l.limiter.Wait(ctx); err != nil {
			return zero, err
		}
		callCtx, cancel := context.WithTimeout(ctx, l.config.CallTimeout)
		defer cancel()
		return fn(callCtx)
	})
	if err != nil {
		var zero T
		return zero, classify(op, err)
	}
	return result, nil
}
