// Copyright 2024 The Mist Authors
// This file is part of Mist.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/vaniiiii/mist/accounts/keystore"
	"github.com/vaniiiii/mist/config"
	"github.com/vaniiiii/mist/core/rawdb"
	"github.com/vaniiiii/mist/health"
	"github.com/vaniiiii/mist/metrics"
	"github.com/vaniiiii/mist/node"
	"github.com/vaniiiii/mist/rpc"
	"github.com/vaniiiii/mist/shutdown"
	"github.com/vaniiiii/mist/stealth"
)

var (
	fromBlockFlag = &cli.Uint64Flag{
		Name:  "from",
		Usage: "Rescan starting at this block",
	}
	lookbackFlag = &cli.Uint64Flag{
		Name:  "lookback",
		Usage: "Blocks behind the head the first scan starts at",
	}
	ephemeralFlag = &cli.StringFlag{
		Name:     "ephemeral",
		Usage:    "Announced ephemeral public key",
		Required: true,
	}
	stealthAddressFlag = &cli.StringFlag{
		Name:     "address",
		Usage:    "Announced stealth address",
		Required: true,
	}
	scanIntervalFlag = &cli.DurationFlag{
		Name:  "scan-interval",
		Usage: "Time between scans",
	}
	httpFlag = &cli.BoolFlag{
		Name:  "http",
		Usage: "Enable the HTTP-RPC server",
	}
	httpAddrFlag = &cli.StringFlag{
		Name:  "http.addr",
		Usage: "HTTP-RPC server listening interface",
	}
	httpPortFlag = &cli.IntFlag{
		Name:  "http.port",
		Usage: "HTTP-RPC server listening port",
	}
)

// scanCommand runs a single scan for the stored identity
var scanCommand = &cli.Command{
	Name:   "scan",
	Usage:  "Scan announcements for payments to the stored keys",
	Flags:  []cli.Flag{fromBlockFlag, lookbackFlag},
	Action: scan,
}

// recoverCommand prints the key controlling a stealth address
var recoverCommand = &cli.Command{
	Name:   "recover",
	Usage:  "Recover the private key of a stealth address",
	Flags:  []cli.Flag{ephemeralFlag, stealthAddressFlag},
	Action: recoverKey,
}

// serveCommand keeps scanning and serves the RPC API
var serveCommand = &cli.Command{
	Name:   "serve",
	Usage:  "Scan periodically and serve the wallet-host RPC API",
	Flags:  []cli.Flag{scanIntervalFlag, lookbackFlag, httpFlag, httpAddrFlag, httpPortFlag},
	Action: serve,
}

// printNotifier writes detected payments to w
func printNotifier(w io.Writer) stealth.NotifierFunc {
	return func(ctx context.Context, id common.Address, payments []*stealth.Payment) error {
		for _, p := range payments {
			value := "unknown"
			if p.Value != nil {
				value = p.Value.Dec() + " wei"
			}
			fmt.Fprintf(w, "Payment to %s: %s (block %d, tx %s)\n", p.StealthAddress.Hex(), value, p.BlockNumber, p.TxHash.Hex())
		}
		return nil
	}
}

func scannerConfig(ctx *cli.Context, cfg *config.Config) stealth.ScannerConfig {
	sc := cfg.ScannerParams()
	if ctx.IsSet(lookbackFlag.Name) {
		sc.Lookback = ctx.Uint64(lookbackFlag.Name)
	}
	return sc
}

func scan(ctx *cli.Context) error {
	cfg := getConfig(ctx)
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	km, err := openStore(ctx, cfg, db).Get()
	if err != nil {
		return err
	}
	client, err := dialLedger(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	scans := rawdb.NewScanStore(db)
	service := stealth.NewService(client.Announcements, scannerConfig(ctx, cfg), scans, scans, printNotifier(ctx.App.Writer))
	id, err := service.Register(km.StealthKeys())
	if err != nil {
		return err
	}
	if ctx.IsSet(fromBlockFlag.Name) {
		if err := service.ResetCursor(id, ctx.Uint64(fromBlockFlag.Name)); err != nil {
			return err
		}
	}
	payments, err := service.ScanIdentity(ctx.Context, id)
	if err != nil {
		return err
	}
	cursor, err := service.Cursor(id)
	if err != nil {
		return err
	}
	fmt.Fprintf(ctx.App.Writer, "Found %d new payments\n", len(payments))
	if cursor != nil {
		fmt.Fprintf(ctx.App.Writer, "Scanned up to block %d\n", cursor.ToBlock)
	}
	return nil
}

func recoverKey(ctx *cli.Context) error {
	cfg := getConfig(ctx)
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	km, err := openStore(ctx, cfg, db).Get()
	db.Close()
	if err != nil {
		return err
	}
	if km.SpendingPrivateKey == nil || km.ViewingPrivateKey == nil {
		return errors.New("stored keys are watch-only")
	}
	ephemeral, err := hexutil.Decode(ctx.String(ephemeralFlag.Name))
	if err != nil {
		return fmt.Errorf("invalid ephemeral key: %v", err)
	}
	addr := ctx.String(stealthAddressFlag.Name)
	if !common.IsHexAddress(addr) {
		return fmt.Errorf("invalid stealth address %q", addr)
	}
	priv, err := stealth.RecoverPrivateKey(ephemeral, km.ViewingPrivateKey, km.SpendingPrivateKey, common.HexToAddress(addr))
	if errors.Is(err, stealth.ErrRecoveryMismatch) {
		return errors.New("the stealth address does not belong to the stored keys")
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(ctx.App.Writer, "Address:    ", crypto.PubkeyToAddress(priv.PublicKey).Hex())
	fmt.Fprintln(ctx.App.Writer, "Private Key:", hexutil.Encode(crypto.FromECDSA(priv)))
	return nil
}

func serve(ctx *cli.Context) error {
	cfg := getConfig(ctx)
	if ctx.IsSet(httpFlag.Name) {
		cfg.RPC.Enabled = ctx.Bool(httpFlag.Name)
	}
	if ctx.IsSet(httpAddrFlag.Name) {
		cfg.RPC.Address = ctx.String(httpAddrFlag.Name)
	}
	if ctx.IsSet(httpPortFlag.Name) {
		cfg.RPC.Port = ctx.Int(httpPortFlag.Name)
	}
	interval := cfg.ScanInterval()
	if ctx.IsSet(scanIntervalFlag.Name) {
		interval = ctx.Duration(scanIntervalFlag.Name)
	}
	if interval <= 0 {
		return fmt.Errorf("invalid scan interval %v", interval)
	}

	mgr := shutdown.New(30 * time.Second)
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	mgr.Register(shutdown.CloserHandler("database", db))

	client, err := dialLedger(ctx, cfg)
	if err != nil {
		db.Close()
		return err
	}
	mgr.Register(shutdown.NewFuncHandler("ledger", func(context.Context) error {
		client.Close()
		return nil
	}))
	if err := client.Payment.CheckScheme(ctx.Context); err != nil {
		log.Warn("Payment contract scheme check failed", "err", err)
	}

	scans := rawdb.NewScanStore(db)
	store := openStore(ctx, cfg, db)
	service := stealth.NewService(client.Announcements, scannerConfig(ctx, cfg), scans, scans, printNotifier(ctx.App.Writer))
	if err := watchStored(store, service); err != nil {
		mgr.Shutdown(context.Background())
		return err
	}

	monitor := health.New()
	monitor.Register(&health.StoreCheck{DB: db}, true)
	monitor.Register(&health.LedgerCheck{
		Head:    client.Announcements.ChainHead,
		ChainID: client.ChainID,
		Want:    cfg.Network.ChainID,
	}, true)
	monitor.Register(&health.ScanCheck{
		Metrics: metrics.GetGlobalRegistry(),
		Head:    client.Announcements.ChainHead,
		MaxLag:  cfg.Scanner.Lookback,
		MaxAge:  3 * interval,
	}, false)

	nodeCfg := &node.Config{
		HTTPCors:    cfg.RPC.CORS,
		HTTPModules: cfg.RPC.APIs,
		WSEnabled:   cfg.RPC.WSEnabled,
	}
	if cfg.RPC.Enabled {
		nodeCfg.HTTPHost, nodeCfg.HTTPPort = cfg.RPC.Address, cfg.RPC.Port
	}
	stack := node.New(nodeCfg)
	if err := stack.RegisterLifecycle("scanner", node.NewScanLoop(service, interval)); err != nil {
		mgr.Shutdown(context.Background())
		return err
	}
	stack.RegisterAPIs(rpc.APIs(rpc.NewMistAPI(store, service), rpc.NewAdmin(monitor, metrics.GetGlobalRegistry(), service), nil))
	if err := stack.Start(); err != nil {
		mgr.Shutdown(context.Background())
		return err
	}
	mgr.Register(shutdown.NewFuncHandler("node", func(context.Context) error {
		return stack.Stop()
	}))

	log.Info("Mist client started", "network", cfg.Network.Preset, "chain", cfg.Network.ChainID, "identities", len(service.Identities()))
	mgr.Start()
	mgr.Wait()
	return nil
}

// watchStored registers the stored identity with the service, if the
// stored keys can view
func watchStored(store *keystore.Store, service *stealth.Service) error {
	km, err := store.Get()
	if errors.Is(err, keystore.ErrNoKeyMaterial) {
		log.Info("No key material stored, waiting for mist_updateState")
		return nil
	}
	if err != nil {
		return err
	}
	if km.ViewingPrivateKey == nil {
		log.Warn("Stored keys cannot view, not scanning")
		return nil
	}
	_, err = service.Register(km.StealthKeys())
	return err
}
