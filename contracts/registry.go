// Copyright 2024 The Mist Authors
// This file is part of the Mist library.

package contracts

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"

	"github.com/vaniiiii/mist/stealth"
)

// ErrNotRegistered is returned when an identity has no meta-address
var ErrNotRegistered = errors.New("no meta-address registered")

// Registry is a typed client of the meta-address key registry
type Registry struct {
	address  common.Address
	contract *bind.BoundContract
}

// NewRegistry binds the registry deployed at address
func NewRegistry(address common.Address, backend bind.ContractBackend) *Registry {
	return &Registry{
		address:  address,
		contract: bind.NewBoundContract(address, registryABI, backend, backend, backend),
	}
}

// Address returns the registry address
func (r *Registry) Address() common.Address {
	return r.address
}

// GetMetaAddress returns the raw registry entry of identity. Identities
// that never registered yield the zero entry.
func (r *Registry) GetMetaAddress(ctx context.Context, identity common.Address) (*stealth.RegistryEntry, error) {
	var out []interface{}
	if err := r.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getStealthMetaAddress", identity); err != nil {
		return nil, err
	}
	if len(out) != 4 {
		return nil, fmt.Errorf("unexpected registry response with %d values", len(out))
	}
	words := make([]*big.Int, 4)
	for i := range out {
		w, ok := out[i].(*big.Int)
		if !ok {
			return nil, fmt.Errorf("unexpected registry value %T", out[i])
		}
		words[i] = w
	}
	return &stealth.RegistryEntry{
		SpendingPrefix: words[0],
		SpendingX:      words[1],
		ViewingPrefix:  words[2],
		ViewingX:       words[3],
	}, nil
}

// LookupMetaAddress returns the validated meta-address of identity
func (r *Registry) LookupMetaAddress(ctx context.Context, identity common.Address) (*stealth.MetaAddress, error) {
	entry, err := r.GetMetaAddress(ctx, identity)
	if err != nil {
		return nil, err
	}
	if entry.IsEmpty() {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, identity.Hex())
	}
	return stealth.DecodeMetaAddress(entry)
}

// SetMetaAddress publishes meta as the meta-address of the transaction sender
func (r *Registry) SetMetaAddress(opts *bind.TransactOpts, meta *stealth.MetaAddress) (*types.Transaction, error) {
	entry := stealth.EncodeMetaAddress(meta)
	tx, err := r.contract.Transact(opts, "setStealthMetaAddress",
		entry.SpendingPrefix, entry.SpendingX, entry.ViewingPrefix, entry.ViewingX)
	if err != nil {
		return nil, err
	}
	log.Info("Submitted meta-address registration", "from", opts.From, "tx", tx.Hash())
	return tx, nil
}
