// Copyright 2024 The Mist Authors
// This file is part of Mist.

package main

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/urfave/cli/v2"

	"github.com/vaniiiii/mist/accounts/keystore"
	"github.com/vaniiiii/mist/core/rawdb"
	"github.com/vaniiiii/mist/params"
	"github.com/vaniiiii/mist/signer"
	"github.com/vaniiiii/mist/stealth"
)

var (
	signerFlag = &cli.StringFlag{
		Name:  "signer",
		Usage: "Wallet endpoint answering personal_sign (default: --key)",
	}
	accountFlag = &cli.StringFlag{
		Name:  "account",
		Usage: "Wallet account signing the derivation message",
	}
	legacyFlag = &cli.BoolFlag{
		Name:  "legacy",
		Usage: "Sign the unversioned derivation message of earlier clients (same as --version 0)",
	}
	msgVersionFlag = &cli.UintFlag{
		Name:  "version",
		Usage: "Derivation message version; another version yields an unrelated key set",
		Value: params.DefaultDerivationMessage(0).Version,
	}
	watchOnlyFlag = &cli.BoolFlag{
		Name:  "watch-only",
		Usage: "Store the viewing key only; payments are detected but cannot be spent",
	}
	spendKeyFlag = &cli.StringFlag{
		Name:     "spend",
		Usage:    "Hex spending private key",
		Required: true,
	}
	viewKeyFlag = &cli.StringFlag{
		Name:     "view",
		Usage:    "Hex viewing private key",
		Required: true,
	}
)

// keysCommand manages the stored stealth keys
var keysCommand = &cli.Command{
	Name:  "keys",
	Usage: "Manage the stealth key material",
	Subcommands: []*cli.Command{
		{
			Name:  "derive",
			Usage: "Derive stealth keys from a wallet signature and store them",
			Description: `
Signs the derivation message with the given account and derives the spending
and viewing keys from the signature. The same account always yields the same
keys, so they can be re-derived on any device.`,
			Flags:  []cli.Flag{keyFlag, keyFileFlag, signerFlag, accountFlag, legacyFlag, msgVersionFlag, watchOnlyFlag},
			Action: keysDerive,
		},
		{
			Name:   "import",
			Usage:  "Store existing stealth private keys",
			Flags:  []cli.Flag{spendKeyFlag, viewKeyFlag, watchOnlyFlag},
			Action: keysImport,
		},
		{
			Name:   "show",
			Usage:  "Print the stored meta-address and public keys",
			Action: keysShow,
		},
		{
			Name:   "clear",
			Usage:  "Delete the stored key material and its scan state",
			Action: keysClear,
		},
	},
}

// derivationSigner returns the signer and account for key derivation
func derivationSigner(ctx *cli.Context) (signer.Signer, common.Address, func(), error) {
	endpoint := ctx.String(signerFlag.Name)
	if endpoint == "" {
		endpoint = getConfig(ctx).Network.Signer
	}
	if endpoint == "" {
		key, err := accountKey(ctx)
		if err != nil {
			return nil, common.Address{}, nil, err
		}
		local := signer.NewLocalSigner(key)
		return local, local.Address(), func() {}, nil
	}
	account := ctx.String(accountFlag.Name)
	if !common.IsHexAddress(account) {
		return nil, common.Address{}, nil, fmt.Errorf("a remote signer needs --%s", accountFlag.Name)
	}
	remote, err := signer.DialRemoteSigner(ctx.Context, endpoint)
	if err != nil {
		return nil, common.Address{}, nil, err
	}
	return remote, common.HexToAddress(account), remote.Close, nil
}

func keysDerive(ctx *cli.Context) error {
	cfg := getConfig(ctx)

	s, account, release, err := derivationSigner(ctx)
	if err != nil {
		return err
	}
	defer release()

	msg := params.DefaultDerivationMessage(cfg.Network.ChainID)
	msg.Version = ctx.Uint(msgVersionFlag.Name)
	if ctx.Bool(legacyFlag.Name) {
		msg = params.DerivationMessage{}
	}
	fmt.Fprintf(ctx.App.Writer, "Requesting signature from %s (message version %d)\n", account.Hex(), msg.Version)
	keys, err := signer.DeriveKeys(ctx.Context, s, account, msg)
	if err != nil {
		return derivationError(err, msg)
	}
	return storeKeys(ctx, keys)
}

// derivationError explains a failed derivation
func derivationError(err error, msg params.DerivationMessage) error {
	switch {
	case errors.Is(err, signer.ErrSigningRejected):
		return fmt.Errorf("signature request rejected by the wallet: %w", err)
	case errors.Is(err, stealth.ErrDerivationDegenerate):
		// Vanishingly rare; the keys of another message version are sound
		return fmt.Errorf("failed to derive keys: %w; sign again with --%s %d", err, msgVersionFlag.Name, msg.Version+1)
	}
	return fmt.Errorf("failed to derive keys: %w", err)
}

func keysImport(ctx *cli.Context) error {
	keys, err := stealth.KeysFromHex(ctx.String(spendKeyFlag.Name), ctx.String(viewKeyFlag.Name))
	if err != nil {
		return err
	}
	return storeKeys(ctx, keys)
}

func storeKeys(ctx *cli.Context, keys *stealth.StealthKeys) error {
	cfg := getConfig(ctx)
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	km := keystore.FromStealthKeys(keys)
	if ctx.Bool(watchOnlyFlag.Name) {
		km.SpendingPrivateKey = nil
	}
	if err := openStore(ctx, cfg, db).Update(km); errors.Is(err, keystore.ErrNoPassphrase) {
		return fmt.Errorf("%w (--%s)", err, passwordFlag.Name)
	} else if err != nil {
		return fmt.Errorf("failed to store keys: %w", err)
	}

	fmt.Fprintln(ctx.App.Writer, "Stealth keys stored")
	fmt.Fprintln(ctx.App.Writer, "Identity:    ", keys.Identity().Hex())
	fmt.Fprintln(ctx.App.Writer, "Meta-Address:", keys.MetaAddress().String())
	return nil
}

func keysShow(ctx *cli.Context) error {
	cfg := getConfig(ctx)
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	km, err := openStore(ctx, cfg, db).GetPublic()
	if err != nil {
		return err
	}
	id := km.StealthKeys().Identity()
	scans := rawdb.NewScanStore(db)
	processed, err := scans.Processed(id)
	if err != nil {
		return err
	}
	cursor, err := scans.ReadCursor(id)
	if err != nil {
		return err
	}

	w := ctx.App.Writer
	fmt.Fprintln(w, "Identity:        ", id.Hex())
	fmt.Fprintln(w, "Meta-Address:    ", km.MetaAddress().String())
	fmt.Fprintln(w, "Spend Public Key:", hexutil.Encode(stealth.CompressPublicKey(km.SpendingPublicKey)))
	fmt.Fprintln(w, "View Public Key: ", hexutil.Encode(stealth.CompressPublicKey(km.ViewingPublicKey)))
	fmt.Fprintln(w, "Payments Seen:   ", processed)
	if cursor != nil {
		fmt.Fprintln(w, "Scanned Up To:   ", cursor.ToBlock)
	}
	return nil
}

func keysClear(ctx *cli.Context) error {
	cfg := getConfig(ctx)
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	store := openStore(ctx, cfg, db)
	km, err := store.GetPublic()
	if errors.Is(err, keystore.ErrNoKeyMaterial) {
		fmt.Fprintln(ctx.App.Writer, "No key material stored")
		return nil
	}
	if err != nil {
		return err
	}
	if err := rawdb.NewScanStore(db).Forget(km.StealthKeys().Identity()); err != nil {
		return err
	}
	if err := store.Clear(); err != nil {
		return err
	}
	fmt.Fprintln(ctx.App.Writer, "Key material cleared")
	return nil
}
