// Package entity contains the core domain types of the liquidation monitor.
// Apart from the address and decimal primitives they have no external dependencies.
package entity

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// AccountID identifies a borrower on the lending pool.
//
// It is the raw 20-byte address, so two textual spellings of the same account
// (lower-case, checksummed, upper-case) always compare equal and hash to the
// same map key. Render with Hex() to get the EIP-55 checksum form.
type AccountID = common.Address

// ParseAccountID normalizes a textual address into an AccountID.
// It accepts any hex casing with or without the 0x prefix.
func ParseAccountID(s string) (AccountID, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return AccountID{}, fmt.Errorf("invalid account address %q", s)
	}
	id := common.HexToAddress(s)
	if id == (common.Address{}) {
		return AccountID{}, fmt.Errorf("zero account address")
	}
	return id, nil
}

// MustParseAccountID is like ParseAccountID but panics on invalid input.
// Intended for static address lists.
func MustParseAccountID(s string) AccountID {
	id, err := ParseAccountID(s)
	if err != nil {
		panic(err)
	}
	return id
}

// ParseAccountIDs parses a list of addresses, dropping duplicates after
// normalization. The first invalid entry aborts the parse.
func ParseAccountIDs(values []string) ([]AccountID, error) {
	seen := make(map[AccountID]struct{}, len(values))
	out := make([]AccountID, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			continue
		}
		id, err := ParseAccountID(v)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}
