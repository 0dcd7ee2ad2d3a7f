package outbound

import "context"

// BlockHeader represents a block header as delivered by a newHeads subscription.
// Numeric fields are hex strings as sent by the node.
type BlockHeader struct {
	Number     string `json:"number"`
	Hash       string `json:"hash"`
	ParentHash string `json:"parentHash"`
	Timestamp  string `json:"timestamp"`
}

// BlockSubscriber delivers new block headers. It is the only trigger of new work.
type BlockSubscriber interface {
	// Subscribe starts the subscription. The returned channel is closed by Unsubscribe.
	Subscribe(ctx context.Context) (<-chan BlockHeader, error)

	// Unsubscribe stops the subscription. Safe to call more than once.
	Unsubscribe() error

	// HealthCheck verifies the subscription is connected and receiving blocks.
	HealthCheck(ctx context.Context) error
}
