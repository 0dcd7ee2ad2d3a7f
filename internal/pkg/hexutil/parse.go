// Package hexutil parses the hex quantities used in JSON-RPC payloads.
//
// It lives in internal/pkg so both adapters and services can import it.
package hexutil

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseUint64 parses a hex quantity such as a block number.
// The 0x/0X prefix is optional.
func ParseUint64(hexNum string) (uint64, error) {
	s := strings.TrimPrefix(strings.TrimPrefix(hexNum, "0x"), "0X")
	if s == "" {
		return 0, fmt.Errorf("empty hex quantity %q", hexNum)
	}
	return strconv.ParseUint(s, 16, 64)
}

// FormatUint64 renders n as a 0x-prefixed hex quantity.
func FormatUint64(n uint64) string {
	return "0x" + strconv.FormatUint(n, 16)
}
