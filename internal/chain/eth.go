package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	log "github.com/sirupsen/logrus"

	"github.com/swissborg/certificate-guardian/internal/certificate"
	"github.com/swissborg/certificate-guardian/internal/registry"
)

const (
	DefaultConfirmTimeout = 2 * time.Minute
	DefaultCallTimeout    = 15 * time.Second
)

// Backend is the part of an Ethereum node the client needs. *ethclient.Client
// implements it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	ChainID(ctx context.Context) (*big.Int, error)
}

type Options struct {
	// ConfirmTimeout bounds Register, from signing until the receipt is seen.
	ConfirmTimeout time.Duration
	// CallTimeout bounds read-only calls.
	CallTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.ConfirmTimeout <= 0 {
		o.ConfirmTimeout = DefaultConfirmTimeout
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = DefaultCallTimeout
	}
	return o
}

// EthClient registers and checks fingerprints in a deployed
// CertificateRegistry.
type EthClient struct {
	backend  Backend
	registry *registry.CertificateRegistry
	key      *ecdsa.PrivateKey
	from     common.Address
	opts     Options
	closer   func()

	// submitMu orders nonce assignment between concurrent submissions. It is
	// released before waiting for the receipt.
	submitMu sync.Mutex
}

// Dial connects to rpcURL and binds the registry at registryAddress.
func Dial(
	ctx context.Context,
	rpcURL string,
	registryAddress common.Address,
	key *ecdsa.PrivateKey,
	opts Options,
) (*EthClient, error) {
	ethClient, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("connect to ethereum node: %w", err)
	}

	c, err := NewEthClient(ethClient, registryAddress, key, opts)
	if err != nil {
		ethClient.Close()
		return nil, err
	}
	c.closer = ethClient.Close

	return c, nil
}

func NewEthClient(backend Backend, registryAddress common.Address, key *ecdsa.PrivateKey, opts Options) (*EthClient, error) {
	if key == nil {
		return nil, fmt.Errorf("transaction key is required")
	}

	reg, err := registry.NewCertificateRegistry(registryAddress, backend)
	if err != nil {
		return nil, fmt.Errorf("load certificate registry: %w", err)
	}

	return &EthClient{
		backend:  backend,
		registry: reg,
		key:      key,
		from:     crypto.PubkeyToAddress(key.PublicKey),
		opts:     opts.withDefaults(),
	}, nil
}

func (c *EthClient) Close() {
	if c.closer != nil {
		c.closer()
	}
}

// From is the address transactions are sent from.
func (c *EthClient) From() common.Address {
	return c.from
}

// EnsureOwner fails unless the transaction key owns the registry; only the
// owner can add hashes.
func (c *EthClient) EnsureOwner(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
	defer cancel()

	owner, err := c.registry.Owner(&bind.CallOpts{Context: ctx})
	if err != nil {
		return classify(ctx, "retrieve registry owner", err)
	}

	if owner != c.from {
		return fmt.Errorf("%w: owner is %s, key is %s", ErrNotOwner, owner, c.from)
	}

	return nil
}

// Register submits addCertificateHash(fp) and blocks until the transaction
// is mined or ConfirmTimeout elapses. On ErrTimeout the returned hash is the
// submitted transaction, which may still be mined later.
func (c *EthClient) Register(ctx context.Context, fp certificate.Fingerprint) (common.Hash, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.ConfirmTimeout)
	defer cancel()

	tx, err := c.submit(ctx, fp)
	if err != nil {
		if c.alreadyRegistered(ctx, fp) {
			return common.Hash{}, fmt.Errorf("%w: %s", ErrDuplicateEntry, fp)
		}
		return common.Hash{}, classify(ctx, "submit registration", err)
	}

	log.WithField("fingerprint", fp.Short()).
		WithField("tx", tx.Hash().Hex()).
		Info("registration submitted")

	receipt, err := bind.WaitMined(ctx, c.backend, tx)
	if err != nil {
		return tx.Hash(), classify(ctx, "wait until registration is mined", err)
	}

	if receipt.Status == types.ReceiptStatusFailed {
		// a concurrent registration of the same hash may have been mined first
		if c.alreadyRegistered(ctx, fp) {
			return common.Hash{}, fmt.Errorf("%w: %s", ErrDuplicateEntry, fp)
		}
		return tx.Hash(), fmt.Errorf("%w: %s", ErrReverted, tx.Hash())
	}

	return tx.Hash(), nil
}

func (c *EthClient) submit(ctx context.Context, fp certificate.Fingerprint) (*types.Transaction, error) {
	c.submitMu.Lock()
	defer c.submitMu.Unlock()

	auth, err := c.getAuth(ctx)
	if err != nil {
		return nil, err
	}

	return c.registry.AddCertificateHash(auth, fp)
}

// Verify reads isVerified(fp). Any failure is reported as
// ErrNetworkUnavailable, never as false.
func (c *EthClient) Verify(ctx context.Context, fp certificate.Fingerprint) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
	defer cancel()

	ok, err := c.registry.IsVerified(&bind.CallOpts{Context: ctx}, fp)
	if err != nil {
		return false, fmt.Errorf("%w: read registry: %w", ErrNetworkUnavailable, err)
	}

	return ok, nil
}

// HashAdded lists registry events from fromBlock to the latest block.
func (c *EthClient) HashAdded(ctx context.Context, fromBlock uint64) ([]registry.HashAdded, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
	defer cancel()

	events, err := c.registry.FilterHashAdded(&bind.FilterOpts{Start: fromBlock, Context: ctx}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: filter HashAdded logs: %w", ErrNetworkUnavailable, err)
	}

	return events, nil
}

func (c *EthClient) alreadyRegistered(ctx context.Context, fp certificate.Fingerprint) bool {
	ok, err := c.registry.IsVerified(&bind.CallOpts{Context: ctx}, fp)
	if err != nil {
		log.WithError(err).
			WithField("fingerprint", fp.Short()).
			Warn("check whether fingerprint is already registered")
		return false
	}
	return ok
}

func (c *EthClient) getAuth(ctx context.Context) (*bind.TransactOpts, error) {
	chainID, err := c.backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("retrieve chain id: %w", err)
	}

	auth, err := bind.NewKeyedTransactorWithChainID(c.key, chainID)
	if err != nil {
		return nil, fmt.Errorf("create transaction signer from private key: %w", err)
	}
	auth.Context = ctx

	return auth, nil
}
