// Copyright 2024 The Mist Authors
// This file is part of the Mist library.

// Package stealth implements the dual-key stealth address protocol used by Mist.
//
// A recipient owns two secp256k1 key pairs: a spending pair that controls
// funds and a viewing pair that lets automated scanners recognize incoming
// payments. Senders combine the published public halves (the meta-address)
// with a fresh ephemeral key to compute a one-time address that only the
// recipient can link back to themselves.
package stealth

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"fmt"
	"io"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/vaniiiii/mist/params"
)

// KeyPair is a secp256k1 key pair. PublicKey always equals PrivateKey*G.
type KeyPair struct {
	PrivateKey *ecdsa.PrivateKey
	PublicKey  *ecdsa.PublicKey
}

func newKeyPair(priv *ecdsa.PrivateKey) KeyPair {
	return KeyPair{PrivateKey: priv, PublicKey: &priv.PublicKey}
}

// StealthKeys contains both the spending and the viewing key pair of a recipient
type StealthKeys struct {
	// Spending controls funds received at stealth addresses
	Spending KeyPair

	// Viewing is used to scan announcements for incoming payments
	Viewing KeyPair
}

// DeriveKeys deterministically derives a recipient's keys from a 65-byte
// signature over a derivation message. The r and s halves are hashed with
// SHA-256 and reduced mod n; r yields the spending key, s the viewing key.
// The recovery byte is ignored.
func DeriveKeys(signature []byte) (*StealthKeys, error) {
	if len(signature) != params.SignatureLength {
		return nil, fmt.Errorf("%w: want %d bytes, have %d", ErrInvalidSignature, params.SignatureLength, len(signature))
	}
	spend, err := scalarFromDigest(sha256.Sum256(signature[:32]))
	if err != nil {
		return nil, fmt.Errorf("spending key: %w", err)
	}
	view, err := scalarFromDigest(sha256.Sum256(signature[32:64]))
	if err != nil {
		return nil, fmt.Errorf("viewing key: %w", err)
	}
	return &StealthKeys{
		Spending: newKeyPair(spend),
		Viewing:  newKeyPair(view),
	}, nil
}

func scalarFromDigest(digest [32]byte) (*ecdsa.PrivateKey, error) {
	var s secp256k1.ModNScalar
	s.SetBytes(&digest)
	return privateKeyFromScalar(&s)
}

// GenerateStealthKeys generates random, non-derived stealth keys
func GenerateStealthKeys(random io.Reader) (*StealthKeys, error) {
	spendPriv, err := ecdsa.GenerateKey(crypto.S256(), random)
	if err != nil {
		return nil, err
	}
	viewPriv, err := ecdsa.GenerateKey(crypto.S256(), random)
	if err != nil {
		return nil, err
	}
	return &StealthKeys{
		Spending: newKeyPair(spendPriv),
		Viewing:  newKeyPair(viewPriv),
	}, nil
}

// KeysFromPrivate rebuilds stealth keys from raw 32-byte private scalars
func KeysFromPrivate(spendPriv, viewPriv []byte) (*StealthKeys, error) {
	spend, err := crypto.ToECDSA(spendPriv)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSpendKey, err)
	}
	view, err := crypto.ToECDSA(viewPriv)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidViewKey, err)
	}
	return &StealthKeys{
		Spending: newKeyPair(spend),
		Viewing:  newKeyPair(view),
	}, nil
}

// KeysFromHex creates StealthKeys from hex encoded private keys
func KeysFromHex(spendPrivHex, viewPrivHex string) (*StealthKeys, error) {
	spend, err := crypto.HexToECDSA(strings.TrimPrefix(spendPrivHex, "0x"))
	if err != nil {
		return nil, ErrInvalidSpendKey
	}
	view, err := crypto.HexToECDSA(strings.TrimPrefix(viewPrivHex, "0x"))
	if err != nil {
		return nil, ErrInvalidViewKey
	}
	return &StealthKeys{
		Spending: newKeyPair(spend),
		Viewing:  newKeyPair(view),
	}, nil
}

// MetaAddress returns the stealth meta-address (public keys) for sharing
func (k *StealthKeys) MetaAddress() *MetaAddress {
	return &MetaAddress{
		SpendingPubKey: k.Spending.PublicKey,
		ViewingPubKey:  k.Viewing.PublicKey,
	}
}

// Identity returns the address of the spending public key. It names the
// key set in stores and scanners and is never used on chain.
func (k *StealthKeys) Identity() common.Address {
	return PublicKeyToAddress(k.Spending.PublicKey)
}

// MetaAddress is the public information a recipient publishes so that
// senders can compute stealth addresses for them
type MetaAddress struct {
	SpendingPubKey *ecdsa.PublicKey
	ViewingPubKey  *ecdsa.PublicKey
}

// String returns the textual meta-address.
// Format: "st:eth:0x<spendPubKey><viewPubKey>" with both keys compressed.
func (m *MetaAddress) String() string {
	return params.MetaAddressPrefix +
		common.Bytes2Hex(CompressPublicKey(m.SpendingPubKey)) +
		common.Bytes2Hex(CompressPublicKey(m.ViewingPubKey))
}

// Equal reports whether both meta-addresses carry the same keys.
func (m *MetaAddress) Equal(other *MetaAddress) bool {
	if m == nil || other == nil {
		return m == other
	}
	return samePoint(m.SpendingPubKey, other.SpendingPubKey) && samePoint(m.ViewingPubKey, other.ViewingPubKey)
}

func samePoint(a, b *ecdsa.PublicKey) bool {
	return a.X.Cmp(b.X) == 0 && a.Y.Cmp(b.Y) == 0
}

// ParseMetaAddress parses a textual stealth meta-address
func ParseMetaAddress(s string) (*MetaAddress, error) {
	if !strings.HasPrefix(s, params.MetaAddressPrefix) {
		return nil, fmt.Errorf("%w: missing %q prefix", ErrInvalidMetaAddress, params.MetaAddressPrefix)
	}
	body := s[len(params.MetaAddressPrefix):]
	if len(body) != 4*params.CompressedPubKeyLength || !isHex(body) {
		return nil, fmt.Errorf("%w: malformed key section", ErrInvalidMetaAddress)
	}
	data := common.Hex2Bytes(body)

	spend, err := DecompressPublicKey(data[:params.CompressedPubKeyLength])
	if err != nil {
		return nil, fmt.Errorf("spending key: %w", err)
	}
	view, err := DecompressPublicKey(data[params.CompressedPubKeyLength:])
	if err != nil {
		return nil, fmt.Errorf("viewing key: %w", err)
	}
	return &MetaAddress{SpendingPubKey: spend, ViewingPubKey: view}, nil
}

func isHex(s string) bool {
	for _, c := range []byte(s) {
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F') {
			return false
		}
	}
	return true
}
