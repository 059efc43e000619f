// Package registry binds the CertificateRegistry contract
// (contracts/CertificateRegistry.sol) and provides an in-process Ledger with
// the same state machine.
package registry

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Revert reasons emitted by the contract.
const (
	RevertAlreadyExists = "Certificate hash already exists"
	RevertNotOwner      = "Caller is not the owner"
)

const (
	methodAddCertificateHash = "addCertificateHash"
	methodIsVerified         = "isVerified"
	methodOwner              = "owner"
	eventHashAdded           = "HashAdded"
)

// CertificateRegistryABI is the input ABI used to generate the binding from.
const CertificateRegistryABI = `[
	{"inputs":[],"stateMutability":"nonpayable","type":"constructor"},
	{"anonymous":false,"inputs":[{"indexed":true,"internalType":"bytes32","name":"certificateHash","type":"bytes32"}],"name":"HashAdded","type":"event"},
	{"inputs":[{"internalType":"bytes32","name":"certificateHash","type":"bytes32"}],"name":"addCertificateHash","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"internalType":"bytes32","name":"certificateHash","type":"bytes32"}],"name":"isVerified","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"owner","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"}
]`

// CertificateRegistryMetaData contains all meta data concerning the CertificateRegistry contract.
var CertificateRegistryMetaData = &bind.MetaData{
	ABI: CertificateRegistryABI,
}

// HashAdded represents a HashAdded event raised by the CertificateRegistry contract.
type HashAdded struct {
	CertificateHash [32]byte
	Raw             types.Log
}

// CertificateRegistry is a Go binding around the deployed contract.
type CertificateRegistry struct {
	address  common.Address
	contract *bind.BoundContract
}

// NewCertificateRegistry creates a new instance of CertificateRegistry, bound to a specific deployed contract.
func NewCertificateRegistry(address common.Address, backend bind.ContractBackend) (*CertificateRegistry, error) {
	parsed, err := CertificateRegistryMetaData.GetAbi()
	if err != nil {
		return nil, err
	}
	if parsed == nil {
		return nil, errors.New("GetABI returned nil")
	}

	contract := bind.NewBoundContract(address, *parsed, backend, backend, backend)

	return &CertificateRegistry{address: address, contract: contract}, nil
}

func (r *CertificateRegistry) Address() common.Address {
	return r.address
}

// IsVerified is a free data retrieval call binding the contract method isVerified(bytes32).
func (r *CertificateRegistry) IsVerified(opts *bind.CallOpts, certificateHash [32]byte) (bool, error) {
	var out []interface{}
	if err := r.contract.Call(opts, &out, methodIsVerified, certificateHash); err != nil {
		return false, err
	}

	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

// Owner is a free data retrieval call binding the contract method owner().
func (r *CertificateRegistry) Owner(opts *bind.CallOpts) (common.Address, error) {
	var out []interface{}
	if err := r.contract.Call(opts, &out, methodOwner); err != nil {
		return common.Address{}, err
	}

	return *abi.ConvertType(out[0], new(common.Address)).(*common.Address), nil
}

// AddCertificateHash is a paid mutator transaction binding the contract method addCertificateHash(bytes32).
func (r *CertificateRegistry) AddCertificateHash(opts *bind.TransactOpts, certificateHash [32]byte) (*types.Transaction, error) {
	return r.contract.Transact(opts, methodAddCertificateHash, certificateHash)
}

// FilterHashAdded collects the HashAdded logs in the range given by opts,
// optionally restricted to the given hashes.
func (r *CertificateRegistry) FilterHashAdded(opts *bind.FilterOpts, certificateHash [][32]byte) ([]HashAdded, error) {
	var hashRule []interface{}
	for _, h := range certificateHash {
		hashRule = append(hashRule, h)
	}

	logs, sub, err := r.contract.FilterLogs(opts, eventHashAdded, hashRule)
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	var events []HashAdded
	for {
		select {
		case log := <-logs:
			ev, err := r.ParseHashAdded(log)
			if err != nil {
				return nil, err
			}
			events = append(events, *ev)
		case err := <-sub.Err():
			if err != nil {
				return nil, err
			}
			// the producer is done; pick up anything still buffered
			for {
				select {
				case log := <-logs:
					ev, err := r.ParseHashAdded(log)
					if err != nil {
						return nil, err
					}
					events = append(events, *ev)
				default:
					return events, nil
				}
			}
		}
	}
}

// ParseHashAdded is a log parse operation binding the contract event HashAdded.
func (r *CertificateRegistry) ParseHashAdded(log types.Log) (*HashAdded, error) {
	event := new(HashAdded)
	if err := r.contract.UnpackLog(event, eventHashAdded, log); err != nil {
		return nil, fmt.Errorf("unpack %s log: %w", eventHashAdded, err)
	}
	event.Raw = log
	return event, nil
}

// HashAddedTopic is the topic0 of every HashAdded log.
func HashAddedTopic() common.Hash {
	parsed, err := CertificateRegistryMetaData.GetAbi()
	if err != nil {
		panic(err)
	}
	return parsed.Events[eventHashAdded].ID
}
