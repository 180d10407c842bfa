// Copyright 2024 The Mist Authors
// This file is part of the Mist library.

package contracts

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/log"
)

// Client bundles the contracts of one deployment behind a single ledger
// connection
type Client struct {
	eth *ethclient.Client

	Registry      *Registry
	Payment       *Payment
	Announcements *AnnouncementLog
}

// Dial connects to the ledger node at rawurl and binds the contracts
func Dial(ctx context.Context, rawurl string, registry, payment common.Address) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rawurl)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rawurl, err)
	}
	log.Debug("Connected to ledger node", "url", rawurl)
	return &Client{
		eth:           eth,
		Registry:      NewRegistry(registry, eth),
		Payment:       NewPayment(payment, eth),
		Announcements: NewAnnouncementLog(eth, payment),
	}, nil
}

// ChainID returns the chain the node serves
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	return c.eth.ChainID(ctx)
}

// Backend returns the underlying ledger client
func (c *Client) Backend() *ethclient.Client {
	return c.eth
}

// WaitMined blocks until tx is included and fails if it reverted. The
// caller bounds the wait through ctx.
func (c *Client) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	receipt, err := bind.WaitMined(ctx, c.eth, tx)
	if err != nil {
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("transaction %s reverted", tx.Hash().Hex())
	}
	return receipt, nil
}

// Close closes the ledger connection
func (c *Client) Close() {
	c.eth.Close()
}
