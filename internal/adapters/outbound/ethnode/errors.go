package ethnode

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"

	"github.com/archon-research/stl-liquidator/internal/domain/entity"
)

// JSON-RPC error code used by most providers for request throttling.
const rpcLimitExceeded = -32005

var transientMessages = []string{
	"rate limit",
	"too many requests",
	"timeout",
	"timed out",
	"connection reset",
	"connection refused",
	"eof",
	"header not found",
}

// isTransient reports whether err is a network or throttling failure worth retrying.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, entity.ErrTransientNetwork) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == rpcLimitExceeded {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, m := range transientMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// classify wraps transient failures in entity.ErrTransientNetwork.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, entity.ErrTransientNetwork) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if isTransient(err) {
		return fmt.Errorf("%s: %w: %w", op, entity.ErrTransientNetwork, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
