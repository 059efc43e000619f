package chain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/rpc"

	"github.com/swissborg/certificate-guardian/internal/registry"
)

var (
	// ErrDuplicateEntry means the fingerprint is already registered. It is
	// not fatal: the fingerprint is on chain either way.
	ErrDuplicateEntry = errors.New("certificate hash already registered")
	// ErrInsufficientFunds means the transaction key cannot pay for gas.
	// Retrying will not help until an operator funds the account.
	ErrInsufficientFunds = errors.New("insufficient funds for registration")
	ErrNetworkUnavailable = errors.New("chain network unavailable")
	ErrTimeout            = errors.New("chain operation timed out")
	ErrNotOwner           = errors.New("transaction key is not the registry owner")
	ErrReverted           = errors.New("registration transaction reverted")
)

// Retryable reports whether a registration error is transient.
func Retryable(err error) bool {
	return errors.Is(err, ErrNetworkUnavailable) || errors.Is(err, ErrTimeout)
}

// classify maps a go-ethereum error onto the package sentinels. The
// original error is kept in the message.
func classify(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}

	msg := strings.ToLower(err.Error())

	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%s: %w: %v", op, ErrTimeout, err)
	case strings.Contains(msg, "insufficient funds"):
		return fmt.Errorf("%s: %w: %v", op, ErrInsufficientFunds, err)
	case strings.Contains(msg, strings.ToLower(registry.RevertAlreadyExists)):
		return fmt.Errorf("%s: %w: %v", op, ErrDuplicateEntry, err)
	case strings.Contains(msg, strings.ToLower(registry.RevertNotOwner)):
		return fmt.Errorf("%s: %w: %v", op, ErrNotOwner, err)
	case isNetworkError(err):
		return fmt.Errorf("%s: %w: %v", op, ErrNetworkUnavailable, err)
	}

	return fmt.Errorf("%s: %w", op, err)
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, rpc.ErrClientQuit) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection refused", "no such host", "connection reset", "i/o timeout"} {
		if strings.Contains(msg, s) {
			return true
		}
	}

	return false
}
