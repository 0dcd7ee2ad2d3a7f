package sns

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/archon-research/stl-liquidator/internal/domain/entity"
	"github.com/archon-research/stl-liquidator/internal/pkg/retry"
)

// mockSNSClient implements SNSPublisher for testing.
type mockSNSClient struct {
	publishFunc func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
	calls       []*sns.PublishInput
}

func (m *mockSNSClient) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	m.calls = append(m.calls, params)
	if m.publishFunc != nil {
		return m.publishFunc(ctx, params, optFns...)
	}
	return &sns.PublishOutput{MessageId: aws.String("test-message-id")}, nil
}

const testTopicARN = "arn:aws:sns:us-east-1:123456789:liquidation-attempts"

func fastRetry() retry.Config {
	return retry.Config{
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		BackoffFactor:  2,
	}
}

func settledAttempt() entity.LiquidationAttempt {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return entity.LiquidationAttempt{
		ID:              uuid.MustParse("0b9f0e7c-6d0e-4f6b-8f4b-2c4f7ad2c001"),
		Target:          common.HexToAddress("0x2222222222222222222222222222222222222222"),
		SolvencyMargin:  decimal.RequireFromString("0.95"),
		DebtValue:       decimal.RequireFromString("5000"),
		BorrowAsset:     common.HexToAddress("0xaf88d065e77c8cC2239327C5EDb3A432268e5831"),
		CollateralAsset: common.HexToAddress("0x82aF49447D8a07e3bd95BD0d56f35241523fBab1"),
		Amount:          big.NewInt(2500000000),
		GasLimit:        600000,
		TriggerBlock:    1000,
		TxHash:          common.HexToHash("0xbeef"),
		ReceiptBlock:    1001,
		Outcome:         entity.OutcomeSettled,
		StartedAt:       start,
		FinishedAt:      start.Add(3 * time.Second),
	}
}

func TestNewNotifier_Validation(t *testing.T) {
	if _, err := NewNotifier(nil, Config{TopicARN: testTopicARN}); err == nil || err.Error() != "sns client is required" {
		t.Errorf("unexpected error for nil client: %v", err)
	}
	if _, err := NewNotifier(&mockSNSClient{}, Config{}); err == nil || err.Error() != "topic ARN is required" {
		t.Errorf("unexpected error for missing topic: %v", err)
	}
}

func TestNewNotifier_AppliesDefaults(t *testing.T) {
	n, err := NewNotifier(&mockSNSClient{}, Config{TopicARN: testTopicARN})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.config.Retry.MaxRetries != 3 {
		t.Errorf("expected MaxRetries 3, got %d", n.config.Retry.MaxRetries)
	}
	if n.config.Logger == nil {
		t.Error("expected default logger")
	}
}

func TestNotify_PublishesMessageAndAttributes(t *testing.T) {
	client := &mockSNSClient{}
	n, err := NewNotifier(client, Config{TopicARN: testTopicARN, ChainID: 42161, Retry: fastRetry()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	attempt := settledAttempt()
	if err := n.Notify(context.Background(), attempt); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	if len(client.calls) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(client.calls))
	}

	input := client.calls[0]
	if aws.ToString(input.TopicArn) != testTopicARN {
		t.Errorf("topic = %s", aws.ToString(input.TopicArn))
	}

	attrs := map[string]string{}
	for k, v := range input.MessageAttributes {
		attrs[k] = aws.ToString(v.StringValue)
	}
	if attrs["outcome"] != "settled" {
		t.Errorf("outcome attribute = %q", attrs["outcome"])
	}
	if attrs["chainId"] != "42161" {
		t.Errorf("chainId attribute = %q", attrs["chainId"])
	}
	if attrs["target"] != attempt.Target.Hex() {
		t.Errorf("target attribute = %q", attrs["target"])
	}

	var msg attemptMessage
	if err := json.Unmarshal([]byte(aws.ToString(input.Message)), &msg); err != nil {
		t.Fatalf("message is not JSON: %v", err)
	}
	if msg.Amount != "2500000000" || msg.TxHash != attempt.TxHash.Hex() || msg.ReceiptBlock != 1001 {
		t.Errorf("unexpected message: %+v", msg)
	}
	if msg.ChainID != 42161 || msg.DebtValue != "5000" {
		t.Errorf("unexpected message: %+v", msg)
	}
}

func TestNotify_RejectsPendingAttempt(t *testing.T) {
	client := &mockSNSClient{}
	n, _ := NewNotifier(client, Config{TopicARN: testTopicARN, Retry: fastRetry()})

	attempt := settledAttempt()
	attempt.Outcome = entity.OutcomePending
	if err := n.Notify(context.Background(), attempt); err == nil {
		t.Fatal("expected error for pending attempt")
	}
	if len(client.calls) != 0 {
		t.Errorf("expected no publish, got %d", len(client.calls))
	}
}

func TestNotify_Retries(t *testing.T) {
	tests := []struct {
		name      string
		errs      []error
		wantCalls int
		wantErr   bool
	}{
		{
			name:      "throttled then success",
			errs:      []error{&types.ThrottledException{Message: aws.String("slow down")}},
			wantCalls: 2,
		},
		{
			name: "internal error exhausts retries",
			errs: []error{
				&types.InternalErrorException{Message: aws.String("boom")},
				&types.InternalErrorException{Message: aws.String("boom")},
				&types.InternalErrorException{Message: aws.String("boom")},
			},
			wantCalls: 3,
			wantErr:   true,
		},
		{
			name:      "invalid parameter is not retried",
			errs:      []error{&types.InvalidParameterException{Message: aws.String("bad")}},
			wantCalls: 1,
			wantErr:   true,
		},
		{
			name:      "authorization error is not retried",
			errs:      []error{&types.AuthorizationErrorException{Message: aws.String("denied")}},
			wantCalls: 1,
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			call := 0
			client := &mockSNSClient{
				publishFunc: func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
					defer func() { call++ }()
					if call < len(tt.errs) {
						return nil, tt.errs[call]
					}
					return &sns.PublishOutput{}, nil
				},
			}
			n, _ := NewNotifier(client, Config{TopicARN: testTopicARN, Retry: fastRetry()})

			err := n.Notify(context.Background(), settledAttempt())
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if len(client.calls) != tt.wantCalls {
				t.Errorf("expected %d calls, got %d", tt.wantCalls, len(client.calls))
			}
		})
	}
}

func TestNotify_AfterClose(t *testing.T) {
	client := &mockSNSClient{}
	n, _ := NewNotifier(client, Config{TopicARN: testTopicARN})
	if err := n.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := n.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	err := n.Notify(context.Background(), settledAttempt())
	if err == nil || !strings.Contains(err.Error(), "closed") {
		t.Errorf("expected closed error, got %v", err)
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, false},
		{"throttled", &types.ThrottledException{}, true},
		{"kms throttled", &types.KMSThrottlingException{}, true},
		{"not found", &types.NotFoundException{}, false},
		{"invalid value", &types.InvalidParameterValueException{}, false},
		{"network", errors.New("connection reset by peer"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryableError(tt.err); got != tt.want {
				t.Errorf("isRetryableError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
