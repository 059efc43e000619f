package registry

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrAlreadyExists = errors.New(RevertAlreadyExists)
	ErrNotOwner      = errors.New(RevertNotOwner)
)

// Ledger is an in-process CertificateRegistry. Every AddHash call is
// processed as one block holding one transaction, so two concurrent calls
// for the same hash resolve exactly like on chain: one succeeds, the other
// reverts with ErrAlreadyExists.
type Ledger struct {
	mu       sync.RWMutex
	address  common.Address
	owner    common.Address
	verified map[[32]byte]bool
	events   []HashAdded
	height   uint64
}

// NewLedger deploys a ledger owned by owner at a deterministic address.
func NewLedger(owner common.Address) *Ledger {
	return &Ledger{
		address:  crypto.CreateAddress(owner, 0),
		owner:    owner,
		verified: make(map[[32]byte]bool),
	}
}

func (l *Ledger) Address() common.Address {
	return l.address
}

func (l *Ledger) Owner() common.Address {
	return l.owner
}

// AddHash marks hash as verified on behalf of caller and returns the
// synthetic transaction hash. State is unchanged on error.
func (l *Ledger) AddHash(caller common.Address, hash [32]byte) (common.Hash, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.owner {
		return common.Hash{}, ErrNotOwner
	}
	if l.verified[hash] {
		return common.Hash{}, ErrAlreadyExists
	}

	l.height++
	l.verified[hash] = true

	txHash := l.txHash(caller, hash)
	l.events = append(l.events, HashAdded{
		CertificateHash: hash,
		Raw: types.Log{
			Address:     l.address,
			Topics:      []common.Hash{HashAddedTopic(), common.Hash(hash)},
			BlockNumber: l.height,
			TxHash:      txHash,
		},
	})

	return txHash, nil
}

// IsVerified returns false for never-seen hashes.
func (l *Ledger) IsVerified(hash [32]byte) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.verified[hash]
}

// Events returns HashAdded events from blocks >= fromBlock in block order.
func (l *Ledger) Events(fromBlock uint64) []HashAdded {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []HashAdded
	for _, ev := range l.events {
		if ev.Raw.BlockNumber >= fromBlock {
			out = append(out, ev)
		}
	}
	return out
}

func (l *Ledger) BlockNumber() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.height
}

func (l *Ledger) txHash(caller common.Address, hash [32]byte) common.Hash {
	var nonce [8]byte
	binary.BigEndian.PutUint64(nonce[:], l.height)
	return crypto.Keccak256Hash(caller.Bytes(), hash[:], nonce[:])
}
