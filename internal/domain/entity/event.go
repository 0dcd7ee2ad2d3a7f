package entity

import "github.com/ethereum/go-ethereum/common"

// EventKind is a pool event that reveals a potentially indebted account.
type EventKind string

const (
	// EventBorrow is emitted when debt is opened.
	EventBorrow EventKind = "Borrow"
	// EventSupply is emitted when collateral is deposited.
	EventSupply EventKind = "Supply"
)

// CandidateEventKinds lists the event kinds scanned for candidate discovery.
var CandidateEventKinds = []EventKind{EventBorrow, EventSupply}

// IsValid returns true if the EventKind is a known kind.
func (k EventKind) IsValid() bool {
	return k == EventBorrow || k == EventSupply
}

func (k EventKind) String() string {
	return string(k)
}

// EventRecord is one decoded pool event. Account is the position holder
// (the onBehalfOf argument), not the transaction sender.
type EventRecord struct {
	Kind        EventKind
	Account     AccountID
	BlockNumber uint64
	TxHash      common.Hash
	LogIndex    uint
}
