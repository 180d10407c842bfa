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

	"github.com/vaniiiii/mist/params"
)

var (
	// ErrZeroDestination is returned for payments without a destination
	ErrZeroDestination = errors.New("zero destination address")
	// ErrInvalidAmount is returned for payments of nothing
	ErrInvalidAmount = errors.New("invalid payment amount")
)

// Payment is a typed client of the stealth payment contract. Every send
// emits an Announcement carrying the ephemeral key and metadata.
type Payment struct {
	address  common.Address
	contract *bind.BoundContract
}

// NewPayment binds the payment contract deployed at address
func NewPayment(address common.Address, backend bind.ContractBackend) *Payment {
	return &Payment{
		address:  address,
		contract: bind.NewBoundContract(address, paymentABI, backend, backend, backend),
	}
}

// Address returns the payment contract address
func (p *Payment) Address() common.Address {
	return p.address
}

// SchemeID reads the scheme the contract announces with
func (p *Payment) SchemeID(ctx context.Context) (*big.Int, error) {
	var out []interface{}
	if err := p.contract.Call(&bind.CallOpts{Context: ctx}, &out, "SCHEME_ID"); err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("unexpected SCHEME_ID response with %d values", len(out))
	}
	id, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected SCHEME_ID value %T", out[0])
	}
	return id, nil
}

// CheckScheme verifies the contract announces with the scheme this
// client implements
func (p *Payment) CheckScheme(ctx context.Context) error {
	id, err := p.SchemeID(ctx)
	if err != nil {
		return err
	}
	if id.Cmp(params.SchemeIDBig) != 0 {
		return fmt.Errorf("payment contract uses scheme %v, want %d", id, params.SchemeID)
	}
	return nil
}

// SendValue transfers opts.Value of the native currency to dest
func (p *Payment) SendValue(opts *bind.TransactOpts, dest common.Address, ephemeralPubKey, metadata []byte) (*types.Transaction, error) {
	if dest == (common.Address{}) {
		return nil, ErrZeroDestination
	}
	if opts.Value == nil || opts.Value.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	tx, err := p.contract.Transact(opts, "sendEth", dest, ephemeralPubKey, metadata)
	if err != nil {
		return nil, err
	}
	log.Info("Submitted stealth payment", "kind", "native", "dest", dest, "value", opts.Value, "tx", tx.Hash())
	return tx, nil
}

// SendFungibleToken transfers amount of an ERC-20 token to dest. The
// contract must hold an allowance for the amount.
func (p *Payment) SendFungibleToken(opts *bind.TransactOpts, dest, token common.Address, amount *big.Int, ephemeralPubKey, metadata []byte) (*types.Transaction, error) {
	if dest == (common.Address{}) || token == (common.Address{}) {
		return nil, ErrZeroDestination
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	tx, err := p.contract.Transact(opts, "sendERC20", dest, token, amount, ephemeralPubKey, metadata)
	if err != nil {
		return nil, err
	}
	log.Info("Submitted stealth payment", "kind", "erc20", "dest", dest, "token", token, "amount", amount, "tx", tx.Hash())
	return tx, nil
}

// SendNonFungibleToken transfers an ERC-721 token to dest. The contract
// must be approved for the token.
func (p *Payment) SendNonFungibleToken(opts *bind.TransactOpts, dest, token common.Address, tokenID *big.Int, ephemeralPubKey, metadata []byte) (*types.Transaction, error) {
	if dest == (common.Address{}) || token == (common.Address{}) {
		return nil, ErrZeroDestination
	}
	if tokenID == nil || tokenID.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	tx, err := p.contract.Transact(opts, "sendERC721", dest, token, tokenID, ephemeralPubKey, metadata)
	if err != nil {
		return nil, err
	}
	log.Info("Submitted stealth payment", "kind", "erc721", "dest", dest, "token", token, "id", tokenID, "tx", tx.Hash())
	return tx, nil
}
