package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/swissborg/certificate-guardian/internal/certificate"
	"github.com/swissborg/certificate-guardian/internal/registry"
)

// LedgerClient has the same contract as EthClient but talks to an
// in-process registry.Ledger. It backs the "ledger" chain backend used for
// local development.
type LedgerClient struct {
	ledger *registry.Ledger
	from   common.Address
}

func NewLedgerClient(ledger *registry.Ledger, from common.Address) *LedgerClient {
	return &LedgerClient{ledger: ledger, from: from}
}

func (c *LedgerClient) Close() {}

func (c *LedgerClient) From() common.Address {
	return c.from
}

func (c *LedgerClient) EnsureOwner(ctx context.Context) error {
	if owner := c.ledger.Owner(); owner != c.from {
		return fmt.Errorf("%w: owner is %s, key is %s", ErrNotOwner, owner, c.from)
	}
	return nil
}

func (c *LedgerClient) Register(ctx context.Context, fp certificate.Fingerprint) (common.Hash, error) {
	if err := ctx.Err(); err != nil {
		return common.Hash{}, classify(ctx, "submit registration", err)
	}

	tx, err := c.ledger.AddHash(c.from, fp)
	switch {
	case errors.Is(err, registry.ErrAlreadyExists):
		return common.Hash{}, fmt.Errorf("%w: %s", ErrDuplicateEntry, fp)
	case errors.Is(err, registry.ErrNotOwner):
		return common.Hash{}, fmt.Errorf("%w: %s", ErrNotOwner, c.from)
	case err != nil:
		return common.Hash{}, err
	}

	return tx, nil
}

func (c *LedgerClient) Verify(ctx context.Context, fp certificate.Fingerprint) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("%w: read registry: %w", ErrNetworkUnavailable, err)
	}
	return c.ledger.IsVerified(fp), nil
}

func (c *LedgerClient) HashAdded(ctx context.Context, fromBlock uint64) ([]registry.HashAdded, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: filter HashAdded logs: %w", ErrNetworkUnavailable, err)
	}
	return c.ledger.Events(fromBlock), nil
}

// Client is implemented by EthClient and LedgerClient.
type Client interface {
	Register(ctx context.Context, fp certificate.Fingerprint) (common.Hash, error)
	Verify(ctx context.Context, fp certificate.Fingerprint) (bool, error)
	HashAdded(ctx context.Context, fromBlock uint64) ([]registry.HashAdded, error)
	EnsureOwner(ctx context.Context) error
	From() common.Address
	Close()
}

var (
	_ Client = (*EthClient)(nil)
	_ Client = (*LedgerClient)(nil)
)
