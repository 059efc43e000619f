package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net"
	"sync"
	"syscall"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/swissborg/certificate-guardian/internal/registry"
)

// ledgerBackend is a node stand-in that executes registry calls against a
// registry.Ledger, so EthClient can be driven through the real binding.
type ledgerBackend struct {
	mu       sync.Mutex
	ledger   *registry.Ledger
	abi      *abi.ABI
	chainID  *big.Int
	nonces   map[common.Address]uint64
	receipts map[common.Hash]*types.Receipt

	down         bool
	broke        bool
	neverMined   bool
	revertOnSend bool
	// competing lands another registration of the same hash in the block
	// before ours
	competing bool
}

func newLedgerBackend(ledger *registry.Ledger) *ledgerBackend {
	parsed, err := registry.CertificateRegistryMetaData.GetAbi()
	if err != nil {
		panic(err)
	}

	return &ledgerBackend{
		ledger:   ledger,
		abi:      parsed,
		chainID:  big.NewInt(1337),
		nonces:   make(map[common.Address]uint64),
		receipts: make(map[common.Hash]*types.Receipt),
	}
}

var errConnRefused = &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}

func (b *ledgerBackend) check() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.down {
		return errConnRefused
	}
	return nil
}

func (b *ledgerBackend) decode(data []byte) (string, [32]byte, error) {
	var hash [32]byte

	method, err := b.abi.MethodById(data[:4])
	if err != nil {
		return "", hash, err
	}

	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return "", hash, err
	}
	if len(args) == 1 {
		hash = args[0].([32]byte)
	}

	return method.Name, hash, nil
}

func (b *ledgerBackend) ChainID(ctx context.Context) (*big.Int, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	return b.chainID, nil
}

func (b *ledgerBackend) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	return []byte{0x60}, b.check()
}

func (b *ledgerBackend) PendingCodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	return []byte{0x60}, b.check()
}

func (b *ledgerBackend) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if err := b.check(); err != nil {
		return nil, err
	}

	name, hash, err := b.decode(call.Data)
	if err != nil {
		return nil, err
	}

	switch name {
	case "isVerified":
		return b.abi.Methods[name].Outputs.Pack(b.ledger.IsVerified(hash))
	case "owner":
		return b.abi.Methods[name].Outputs.Pack(b.ledger.Owner())
	}
	return nil, fmt.Errorf("unexpected call %s", name)
}

func (b *ledgerBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	// no BaseFee: the binding falls back to legacy transactions
	return &types.Header{Number: new(big.Int).SetUint64(b.ledger.BlockNumber())}, nil
}

func (b *ledgerBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	if err := b.check(); err != nil {
		return 0, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nonces[account], nil
}

func (b *ledgerBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1), b.check()
}

func (b *ledgerBackend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1), b.check()
}

func (b *ledgerBackend) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	if err := b.check(); err != nil {
		return 0, err
	}

	b.mu.Lock()
	broke := b.broke
	b.mu.Unlock()
	if broke {
		return 0, errors.New("insufficient funds for gas * price + value: address " + call.From.Hex() + " have 0 want 50000")
	}

	name, hash, err := b.decode(call.Data)
	if err != nil {
		return 0, err
	}
	if name == "addCertificateHash" {
		if call.From != b.ledger.Owner() {
			return 0, errors.New("execution reverted: " + registry.RevertNotOwner)
		}
		if b.ledger.IsVerified(hash) {
			return 0, errors.New("execution reverted: " + registry.RevertAlreadyExists)
		}
	}

	return 50_000, nil
}

func (b *ledgerBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if err := b.check(); err != nil {
		return err
	}

	from, err := types.Sender(types.LatestSignerForChainID(b.chainID), tx)
	if err != nil {
		return err
	}

	_, hash, err := b.decode(tx.Data())
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nonces[from]++
	if b.neverMined {
		return nil
	}

	if b.competing {
		_, _ = b.ledger.AddHash(b.ledger.Owner(), hash)
	}

	status := types.ReceiptStatusSuccessful
	if b.revertOnSend {
		status = types.ReceiptStatusFailed
	} else if _, err := b.ledger.AddHash(from, hash); err != nil {
		status = types.ReceiptStatusFailed
	}

	b.receipts[tx.Hash()] = &types.Receipt{
		Status:      status,
		TxHash:      tx.Hash(),
		BlockNumber: new(big.Int).SetUint64(b.ledger.BlockNumber()),
	}
	return nil
}

func (b *ledgerBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	if err := b.check(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if r, ok := b.receipts[txHash]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

func (b *ledgerBackend) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	if err := b.check(); err != nil {
		return nil, err
	}

	var from uint64
	if q.FromBlock != nil {
		from = q.FromBlock.Uint64()
	}

	var logs []types.Log
	for _, ev := range b.ledger.Events(from) {
		logs = append(logs, ev.Raw)
	}
	return logs, nil
}

func (b *ledgerBackend) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	return nil, errors.New("subscriptions not supported")
}

var _ Backend = (*ledgerBackend)(nil)
