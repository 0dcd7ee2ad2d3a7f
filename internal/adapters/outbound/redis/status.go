package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/archon-research/stl-liquidator/internal/domain/entity"
	"github.com/archon-research/stl-liquidator/internal/ports/outbound"
)

// Compile-time check that StatusSink implements outbound.StatusSink
var _ outbound.StatusSink = (*StatusSink)(nil)

// StatusSink stores the latest snapshot and publishes it to subscribers.
type StatusSink struct {
	client *Client
	logger *slog.Logger
}

// NewStatusSink creates a StatusSink on client.
func NewStatusSink(client *Client) (*StatusSink, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &StatusSink{
		client: client,
		logger: client.logger.With("component", "redis-status"),
	}, nil
}

// Publish writes the snapshot with a TTL and announces it in one pipeline.
func (s *StatusSink) Publish(ctx context.Context, snapshot entity.Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.client.cfg.WriteTimeout)
	defer cancel()

	pipe := s.client.rdb.TxPipeline()
	pipe.Set(ctx, s.client.statusKey(), data, s.client.cfg.StatusTTL)
	pipe.Publish(ctx, s.client.StatusChannel(), data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish status: %w", err)
	}
	return nil
}

// Latest reads the last stored snapshot. It returns nil if none is stored.
func (s *StatusSink) Latest(ctx context.Context) (*entity.Snapshot, error) {
	data, err := s.client.rdb.Get(ctx, s.client.statusKey()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read status: %w", err)
	}
	var snapshot entity.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode status: %w", err)
	}
	return &snapshot, nil
}
