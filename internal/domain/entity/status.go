package entity

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the coarse engine state exposed to operators.
type Status int

const (
	StatusIdle Status = iota
	StatusScanning
	StatusAttacking
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "IDLE"
	case StatusScanning:
		return "SCANNING"
	case StatusAttacking:
		return "ATTACKING"
	case StatusStopped:
		return "STOPPED"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// MarshalText renders the status by name in JSON payloads.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a status name.
func (s *Status) UnmarshalText(b []byte) error {
	switch string(b) {
	case "IDLE":
		*s = StatusIdle
	case "SCANNING":
		*s = StatusScanning
	case "ATTACKING":
		*s = StatusAttacking
	case "STOPPED":
		*s = StatusStopped
	default:
		return fmt.Errorf("unknown status %q", string(b))
	}
	return nil
}

// TargetSummary is one of the most at-risk queue entries.
type TargetSummary struct {
	Account        string          `json:"account"`
	SolvencyMargin decimal.Decimal `json:"solvencyMargin"`
	DebtValue      decimal.Decimal `json:"debtValue"`
}

// AttemptCounters totals attempts by outcome since start.
type AttemptCounters struct {
	Attempts int `json:"attempts"`
	Settled  int `json:"settled"`
	Reverted int `json:"reverted"`
	Failed   int `json:"failed"`
}

// Snapshot is a read-only copy of engine state.
type Snapshot struct {
	Status         Status          `json:"status"`
	LastBlock      uint64          `json:"lastBlock"`
	CandidateCount int             `json:"candidateCount"`
	QueueLength    int             `json:"queueLength"`
	WatchCount     int             `json:"watchCount"`
	GasLimit       uint64          `json:"gasLimit"`
	Counters       AttemptCounters `json:"counters"`
	ActiveTargets  []TargetSummary `json:"activeTargets"`
	RecentLogLines []string        `json:"recentLogLines"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}
