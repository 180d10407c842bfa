// Copyright 2024 The Mist Authors
// This file is part of Mist.

package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/urfave/cli/v2"

	"github.com/vaniiiii/mist/config"
	"github.com/vaniiiii/mist/contracts"
	"github.com/vaniiiii/mist/core/feeestimator"
	"github.com/vaniiiii/mist/params"
	"github.com/vaniiiii/mist/stealth"
)

var (
	waitFlag = &cli.BoolFlag{
		Name:  "wait",
		Usage: "Wait until the transaction is mined",
	}
	waitTimeoutFlag = &cli.DurationFlag{
		Name:  "wait.timeout",
		Usage: "Maximum time to wait for the transaction",
		Value: 5 * time.Minute,
	}
	valueFlag = &cli.StringFlag{
		Name:  "value",
		Usage: "Amount of native currency to send, in wei",
	}
	tokenFlag = &cli.StringFlag{
		Name:  "token",
		Usage: "Token contract to send from (ERC-20 with --amount, ERC-721 with --id)",
	}
	amountFlag = &cli.StringFlag{
		Name:  "amount",
		Usage: "ERC-20 amount in base units",
	}
	tokenIDFlag = &cli.StringFlag{
		Name:  "id",
		Usage: "ERC-721 token id",
	}
	speedFlag = &cli.StringFlag{
		Name:  "speed",
		Usage: "Price the fees from recent blocks (slow, average, fast, instant)",
	}
)

// feeHistoryBlocks is the number of recent blocks sampled for --speed
const feeHistoryBlocks = 20

// metaCommand converts meta-addresses between their two encodings
var metaCommand = &cli.Command{
	Name:  "meta",
	Usage: "Convert meta-addresses between string and registry form",
	Subcommands: []*cli.Command{
		{
			Name:      "encode",
			Usage:     "Print the registry words of a meta-address",
			ArgsUsage: "<meta-address>",
			Action:    metaEncode,
		},
		{
			Name:      "decode",
			Usage:     "Rebuild a meta-address from its four registry words",
			ArgsUsage: "<spendPrefix> <spendX> <viewPrefix> <viewX>",
			Action:    metaDecode,
		},
		{
			Name:      "lookup",
			Usage:     "Read the meta-address an account registered",
			ArgsUsage: "<account>",
			Action:    metaLookup,
		},
	},
}

// addressCommand computes a one-time stealth address
var addressCommand = &cli.Command{
	Name:      "address",
	Usage:     "Generate a stealth address for a recipient",
	ArgsUsage: "<meta-address>",
	Action:    stealthAddress,
}

// registerCommand publishes the stored meta-address
var registerCommand = &cli.Command{
	Name:   "register",
	Usage:  "Publish the stored meta-address in the registry",
	Flags:  []cli.Flag{keyFlag, keyFileFlag, waitFlag, waitTimeoutFlag},
	Action: register,
}

// sendCommand pays a recipient at a fresh stealth address
var sendCommand = &cli.Command{
	Name:      "send",
	Usage:     "Send a stealth payment",
	ArgsUsage: "<meta-address | registered account>",
	Description: `
Computes a fresh stealth address for the recipient and pays it through the
payment contract, which announces the ephemeral key. The recipient is either
a meta-address or an account that registered one.`,
	Flags:  []cli.Flag{keyFlag, keyFileFlag, valueFlag, tokenFlag, amountFlag, tokenIDFlag, speedFlag, waitFlag, waitTimeoutFlag},
	Action: send,
}

func metaEncode(ctx *cli.Context) error {
	meta, err := stealth.ParseMetaAddress(ctx.Args().First())
	if err != nil {
		return fmt.Errorf("invalid meta-address: %v", err)
	}
	entry := stealth.EncodeMetaAddress(meta)
	for _, word := range []*big.Int{entry.SpendingPrefix, entry.SpendingX, entry.ViewingPrefix, entry.ViewingX} {
		fmt.Fprintf(ctx.App.Writer, "0x%064x\n", word)
	}
	return nil
}

func metaDecode(ctx *cli.Context) error {
	if ctx.NArg() != 4 {
		return fmt.Errorf("expected four registry words, got %d", ctx.NArg())
	}
	words := make([]*big.Int, 4)
	for i := range words {
		w, ok := math.ParseBig256(ctx.Args().Get(i))
		if !ok {
			return fmt.Errorf("invalid registry word %q", ctx.Args().Get(i))
		}
		words[i] = w
	}
	meta, err := stealth.DecodeMetaAddress(&stealth.RegistryEntry{
		SpendingPrefix: words[0],
		SpendingX:      words[1],
		ViewingPrefix:  words[2],
		ViewingX:       words[3],
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(ctx.App.Writer, meta.String())
	return nil
}

func metaLookup(ctx *cli.Context) error {
	account := ctx.Args().First()
	if !common.IsHexAddress(account) {
		return fmt.Errorf("invalid account %q", account)
	}
	client, err := dialLedger(ctx, getConfig(ctx))
	if err != nil {
		return err
	}
	defer client.Close()

	meta, err := client.Registry.LookupMetaAddress(ctx.Context, common.HexToAddress(account))
	if err != nil {
		return err
	}
	fmt.Fprintln(ctx.App.Writer, meta.String())
	return nil
}

func stealthAddress(ctx *cli.Context) error {
	meta, err := stealth.ParseMetaAddress(ctx.Args().First())
	if err != nil {
		return fmt.Errorf("invalid meta-address: %v", err)
	}
	out, err := stealth.GenerateStealthAddress(meta, rand.Reader)
	if err != nil {
		return fmt.Errorf("failed to generate stealth address: %v", err)
	}
	printOutput(ctx, out)
	return nil
}

func printOutput(ctx *cli.Context, out *stealth.StealthOutput) {
	w := ctx.App.Writer
	fmt.Fprintf(w, "Stealth Address:    %s\n", out.Address.Hex())
	fmt.Fprintf(w, "Ephemeral Pub Key:  %s\n", hexutil.Encode(out.EphemeralPubKey))
	fmt.Fprintf(w, "View Tag:           0x%02x\n", out.ViewTag)
}

// dialLedger connects to the configured node and checks it serves the
// configured chain
func dialLedger(ctx *cli.Context, cfg *config.Config) (*contracts.Client, error) {
	client, err := contracts.Dial(ctx.Context, cfg.Network.URL, cfg.Network.Registry, cfg.Network.Payment)
	if err != nil {
		return nil, err
	}
	id, err := client.ChainID(ctx.Context)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to read chain id: %v", err)
	}
	if !id.IsUint64() || id.Uint64() != cfg.Network.ChainID {
		client.Close()
		return nil, fmt.Errorf("ledger serves chain %v, configured for %d", id, cfg.Network.ChainID)
	}
	return client, nil
}

func transactor(ctx *cli.Context, cfg *config.Config) (*bind.TransactOpts, error) {
	key, err := accountKey(ctx)
	if err != nil {
		return nil, err
	}
	opts, err := bind.NewKeyedTransactorWithChainID(key, new(big.Int).SetUint64(cfg.Network.ChainID))
	if err != nil {
		return nil, err
	}
	opts.Context = ctx.Context
	return opts, nil
}

func finish(ctx *cli.Context, client *contracts.Client, tx *types.Transaction) error {
	fmt.Fprintln(ctx.App.Writer, "Transaction:", tx.Hash().Hex())
	if !ctx.Bool(waitFlag.Name) {
		return nil
	}
	wctx, cancel := context.WithTimeout(ctx.Context, ctx.Duration(waitTimeoutFlag.Name))
	defer cancel()

	receipt, err := client.WaitMined(wctx, tx)
	if err != nil {
		return err
	}
	fmt.Fprintln(ctx.App.Writer, "Mined in block", receipt.BlockNumber)
	return nil
}

func register(ctx *cli.Context) error {
	cfg := getConfig(ctx)
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	km, err := openStore(ctx, cfg, db).GetPublic()
	db.Close()
	if err != nil {
		return err
	}

	client, err := dialLedger(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	opts, err := transactor(ctx, cfg)
	if err != nil {
		return err
	}
	tx, err := client.Registry.SetMetaAddress(opts, km.MetaAddress())
	if err != nil {
		return fmt.Errorf("registration failed: %v", err)
	}
	fmt.Fprintln(ctx.App.Writer, "Registering", km.MetaAddress().String(), "for", opts.From.Hex())
	return finish(ctx, client, tx)
}

func send(ctx *cli.Context) error {
	cfg := getConfig(ctx)
	target := ctx.Args().First()
	if target == "" {
		return fmt.Errorf("must provide a recipient")
	}
	client, err := dialLedger(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Payment.CheckScheme(ctx.Context); err != nil {
		return err
	}
	meta, err := resolveRecipient(ctx, client, target)
	if err != nil {
		return err
	}
	out, err := stealth.GenerateStealthAddress(meta, rand.Reader)
	if err != nil {
		return err
	}
	opts, err := transactor(ctx, cfg)
	if err != nil {
		return err
	}
	if ctx.IsSet(speedFlag.Name) {
		if err := priceFees(ctx, client, opts); err != nil {
			return err
		}
	}

	var tx *types.Transaction
	switch {
	case ctx.IsSet(tokenFlag.Name):
		token := ctx.String(tokenFlag.Name)
		if !common.IsHexAddress(token) {
			return fmt.Errorf("invalid token %q", token)
		}
		switch {
		case ctx.IsSet(amountFlag.Name):
			amount, err := parseBig(ctx, amountFlag)
			if err != nil {
				return err
			}
			tx, err = client.Payment.SendFungibleToken(opts, out.Address, common.HexToAddress(token), amount, out.EphemeralPubKey, out.Metadata())
			if err != nil {
				return err
			}
		case ctx.IsSet(tokenIDFlag.Name):
			id, err := parseBig(ctx, tokenIDFlag)
			if err != nil {
				return err
			}
			tx, err = client.Payment.SendNonFungibleToken(opts, out.Address, common.HexToAddress(token), id, out.EphemeralPubKey, out.Metadata())
			if err != nil {
				return err
			}
		default:
			return fmt.Errorf("--%s needs --%s or --%s", tokenFlag.Name, amountFlag.Name, tokenIDFlag.Name)
		}
	default:
		value, err := parseBig(ctx, valueFlag)
		if err != nil {
			return err
		}
		opts.Value = value
		if tx, err = client.Payment.SendValue(opts, out.Address, out.EphemeralPubKey, out.Metadata()); err != nil {
			return err
		}
	}
	printOutput(ctx, out)
	return finish(ctx, client, tx)
}

// priceFees sets the dynamic fees of opts from the ledger's fee history
func priceFees(ctx *cli.Context, client *contracts.Client, opts *bind.TransactOpts) error {
	speed, err := feeestimator.ParseSpeed(ctx.String(speedFlag.Name))
	if err != nil {
		return err
	}
	est := feeestimator.New(nil, nil)
	if err := est.Sync(ctx.Context, client.Backend(), feeHistoryBlocks); err != nil {
		return err
	}
	tip, feeCap, err := est.Fees(speed)
	if err != nil {
		return err
	}
	opts.GasTipCap, opts.GasFeeCap = tip, feeCap
	fmt.Fprintf(ctx.App.Writer, "Tip %s wei, fee cap %s wei (~%d blocks)\n", tip, feeCap, est.EstimateConfirmationTime(tip))
	return nil
}

// resolveRecipient accepts a meta-address or an account registered in
// the registry
func resolveRecipient(ctx *cli.Context, client *contracts.Client, target string) (*stealth.MetaAddress, error) {
	if strings.HasPrefix(target, params.MetaAddressPrefix) {
		return stealth.ParseMetaAddress(target)
	}
	if !common.IsHexAddress(target) {
		return nil, fmt.Errorf("recipient %q is neither a meta-address nor an account", target)
	}
	return client.Registry.LookupMetaAddress(ctx.Context, common.HexToAddress(target))
}

func parseBig(ctx *cli.Context, flag *cli.StringFlag) (*big.Int, error) {
	raw := ctx.String(flag.Name)
	if raw == "" {
		return nil, fmt.Errorf("--%s is required", flag.Name)
	}
	v, ok := math.ParseBig256(raw)
	if !ok {
		return nil, fmt.Errorf("invalid --%s %q", flag.Name, raw)
	}
	return v, nil
}
