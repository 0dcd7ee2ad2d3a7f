// Package sns publishes finished liquidation attempts to an AWS SNS topic.
//
// Messages are JSON documents. Subscribers can filter on the message
// attributes:
//   - outcome: "settled", "reverted" or "failed"
//   - chainId: the chain ID as a number
//   - target: the liquidated account address
package sns

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/stl-liquidator/internal/domain/entity"
	"github.com/archon-research/stl-liquidator/internal/pkg/retry"
	"github.com/archon-research/stl-liquidator/internal/ports/outbound"
)

// Compile-time check that Notifier implements outbound.AttemptNotifier
var _ outbound.AttemptNotifier = (*Notifier)(nil)

// SNSPublisher defines the subset of SNS client methods used by Notifier.
type SNSPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Config holds configuration for the SNS notifier.
type Config struct {
	// TopicARN is the topic finished attempts are published to.
	TopicARN string

	// ChainID is attached to every message.
	ChainID int64

	// Retry controls backoff for transient publish failures.
	Retry retry.Config

	// Logger is the structured logger for the notifier.
	Logger *slog.Logger
}

// ConfigDefaults returns a config with default values.
func ConfigDefaults() Config {
	return Config{
		Retry: retry.Config{
			MaxRetries:     3,
			InitialBackoff: 100 * time.Millisecond,
			MaxBackoff:     5 * time.Second,
			BackoffFactor:  2.0,
		},
		Logger: slog.Default(),
	}
}

// Notifier publishes attempt outcomes to SNS.
type Notifier struct {
	client SNSPublisher
	config Config
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// attemptMessage is the JSON body of a published attempt.
type attemptMessage struct {
	ID              string    `json:"id"`
	ChainID         int64     `json:"chainId"`
	Target          string    `json:"target"`
	SolvencyMargin  string    `json:"solvencyMargin"`
	DebtValue       string    `json:"debtValue"`
	BorrowAsset     string    `json:"borrowAsset"`
	CollateralAsset string    `json:"collateralAsset"`
	Amount          string    `json:"amount"`
	GasLimit        uint64    `json:"gasLimit"`
	TriggerBlock    uint64    `json:"triggerBlock"`
	TxHash          string    `json:"txHash,omitempty"`
	ReceiptBlock    uint64    `json:"receiptBlock,omitempty"`
	Outcome         string    `json:"outcome"`
	Reason          string    `json:"reason,omitempty"`
	StartedAt       time.Time `json:"startedAt"`
	FinishedAt      time.Time `json:"finishedAt"`
}

// NewNotifier creates a new SNS notifier.
func NewNotifier(client SNSPublisher, config Config) (*Notifier, error) {
	if client == nil {
		return nil, errors.New("sns client is required")
	}
	if config.TopicARN == "" {
		return nil, errors.New("topic ARN is required")
	}

	defaults := ConfigDefaults()
	if config.Retry == (retry.Config{}) {
		config.Retry = defaults.Retry
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	return &Notifier{
		client: client,
		config: config,
		logger: config.Logger.With("component", "sns-notifier"),
	}, nil
}

// Notify publishes a finished attempt. Pending attempts are rejected.
func (n *Notifier) Notify(ctx context.Context, attempt entity.LiquidationAttempt) error {
	n.mu.RLock()
	closed := n.closed
	n.mu.RUnlock()
	if closed {
		return errors.New("notifier is closed")
	}
	if !attempt.Outcome.IsFinal() {
		return fmt.Errorf("attempt %s is not finished (outcome %q)", attempt.ID, attempt.Outcome)
	}

	body, err := json.Marshal(n.toMessage(attempt))
	if err != nil {
		return fmt.Errorf("failed to marshal attempt: %w", err)
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(n.config.TopicARN),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"outcome": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(attempt.Outcome)),
			},
			"chainId": {
				DataType:    aws.String("Number"),
				StringValue: aws.String(strconv.FormatInt(n.config.ChainID, 10)),
			},
			"target": {
				DataType:    aws.String("String"),
				StringValue: aws.String(attempt.Target.Hex()),
			},
		},
	}

	onRetry := func(try int, err error, backoff time.Duration) {
		n.logger.Warn("request failed, retrying",
			"attempt", try,
			"maxRetries", n.config.Retry.MaxRetries,
			"backoff", backoff,
			"error", err,
			"id", attempt.ID)
	}
	err = retry.DoVoid(ctx, n.config.Retry, isRetryableError, onRetry, func() error {
		_, err := n.client.Publish(ctx, input)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to publish attempt %s to SNS: %w", attempt.ID, err)
	}
	return nil
}

func (n *Notifier) toMessage(a entity.LiquidationAttempt) attemptMessage {
	msg := attemptMessage{
		ID:              a.ID.String(),
		ChainID:         n.config.ChainID,
		Target:          a.Target.Hex(),
		SolvencyMargin:  a.SolvencyMargin.String(),
		DebtValue:       a.DebtValue.String(),
		BorrowAsset:     a.BorrowAsset.Hex(),
		CollateralAsset: a.CollateralAsset.Hex(),
		Amount:          "0",
		GasLimit:        a.GasLimit,
		TriggerBlock:    a.TriggerBlock,
		ReceiptBlock:    a.ReceiptBlock,
		Outcome:         string(a.Outcome),
		Reason:          a.Reason,
		StartedAt:       a.StartedAt.UTC(),
		FinishedAt:      a.FinishedAt.UTC(),
	}
	if a.Amount != nil {
		msg.Amount = a.Amount.String()
	}
	if a.TxHash != (common.Hash{}) {
		msg.TxHash = a.TxHash.Hex()
	}
	return msg
}

// isRetryableError determines if an error should trigger a retry.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var invalidParam *types.InvalidParameterException
	var invalidValue *types.InvalidParameterValueException
	var notFound *types.NotFoundException
	var authErr *types.AuthorizationErrorException
	switch {
	case errors.As(err, &invalidParam),
		errors.As(err, &invalidValue),
		errors.As(err, &notFound),
		errors.As(err, &authErr):
		return false
	}

	// Throttling, internal errors and network failures are retried.
	return true
}

// Close marks the notifier as closed and prevents further publishing.
func (n *Notifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.closed {
		n.closed = true
		n.logger.Info("SNS notifier closed")
	}
	return nil
}
