// Copyright 2024 The Mist Authors
// This file is part of the Mist library.

// Package signer obtains the derivation signature from a wallet.
package signer

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/vaniiiii/mist/params"
	"github.com/vaniiiii/mist/stealth"
)

// userRejectedCode is the EIP-1193 error code for a request the user declined
const userRejectedCode = 4001

var (
	// ErrSigningRejected is returned when the user declines to sign. It is
	// a cancellation and must not be retried.
	ErrSigningRejected = errors.New("signature request rejected")
	// ErrUnknownAccount is returned when the signer does not control the account
	ErrUnknownAccount = errors.New("unknown account")
	// ErrSignatureMismatch is returned when a signature was not made by the account
	ErrSignatureMismatch = errors.New("signature does not match account")
)

// Signer signs messages in the personal_sign format
type Signer interface {
	// SignMessage signs msg with the account's key. It blocks until the
	// owner approves or rejects the request.
	SignMessage(ctx context.Context, account common.Address, msg []byte) ([]byte, error)
}

// LocalSigner signs with an in-process private key
type LocalSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewLocalSigner creates a signer for key
func NewLocalSigner(key *ecdsa.PrivateKey) *LocalSigner {
	return &LocalSigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

// Address returns the account the signer controls
func (s *LocalSigner) Address() common.Address {
	return s.address
}

// SignMessage implements Signer
func (s *LocalSigner) SignMessage(ctx context.Context, account common.Address, msg []byte) ([]byte, error) {
	if account != s.address {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, account.Hex())
	}
	sig, err := crypto.Sign(accounts.TextHash(msg), s.key)
	if err != nil {
		return nil, err
	}
	// Wallets return v in {27, 28}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// RemoteSigner asks a wallet to sign over JSON-RPC personal_sign
type RemoteSigner struct {
	client *rpc.Client
}

// NewRemoteSigner creates a signer that forwards requests to client
func NewRemoteSigner(client *rpc.Client) *RemoteSigner {
	return &RemoteSigner{client: client}
}

// DialRemoteSigner connects to a wallet endpoint
func DialRemoteSigner(ctx context.Context, endpoint string) (*RemoteSigner, error) {
	client, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	return NewRemoteSigner(client), nil
}

// Close closes the underlying connection
func (s *RemoteSigner) Close() {
	s.client.Close()
}

// SignMessage implements Signer
func (s *RemoteSigner) SignMessage(ctx context.Context, account common.Address, msg []byte) ([]byte, error) {
	var sig hexutil.Bytes
	if err := s.client.CallContext(ctx, &sig, "personal_sign", hexutil.Bytes(msg), account); err != nil {
		var rpcErr rpc.Error
		if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == userRejectedCode {
			log.Info("Signature request rejected", "account", account)
			return nil, fmt.Errorf("%w: %v", ErrSigningRejected, err)
		}
		return nil, err
	}
	if len(sig) != params.SignatureLength {
		return nil, fmt.Errorf("%w: signer returned %d bytes", stealth.ErrInvalidSignature, len(sig))
	}
	return sig, nil
}

// VerifySignature checks that sig is account's personal_sign signature
// over msg. Both v encodings {0, 1} and {27, 28} are accepted.
func VerifySignature(account common.Address, msg, sig []byte) error {
	if len(sig) != params.SignatureLength {
		return stealth.ErrInvalidSignature
	}
	sig = common.CopyBytes(sig)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash(msg), sig)
	if err != nil {
		return fmt.Errorf("%w: %v", stealth.ErrInvalidSignature, err)
	}
	if crypto.PubkeyToAddress(*pub) != account {
		return ErrSignatureMismatch
	}
	return nil
}

// DeriveKeys asks signer for the derivation signature of account and
// derives the stealth keys from it. The signature is checked against the
// account before use.
func DeriveKeys(ctx context.Context, signer Signer, account common.Address, msg params.DerivationMessage) (*stealth.StealthKeys, error) {
	text := []byte(msg.Text())
	sig, err := signer.SignMessage(ctx, account, text)
	if err != nil {
		return nil, err
	}
	if err := VerifySignature(account, text, sig); err != nil {
		return nil, err
	}
	keys, err := stealth.DeriveKeys(sig)
	if err != nil {
		return nil, err
	}
	log.Debug("Derived stealth keys", "account", account, "version", msg.Version, "identity", keys.Identity())
	return keys, nil
}
