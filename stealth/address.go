// Copyright 2024 The Mist Authors
// This file is part of the Mist library.

package stealth

import (
	"crypto/ecdsa"
	"io"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// StealthOutput is the sender's result for a single payment
type StealthOutput struct {
	// Address is the one-time destination of the payment
	Address common.Address
	// EphemeralPubKey is R = r*G, compressed. It carries no secret and must
	// be announced together with the payment.
	EphemeralPubKey []byte
	// ViewTag is the first byte of the hashed shared secret
	ViewTag byte
	// StealthPubKey is Q, the public key controlling Address
	StealthPubKey *ecdsa.PublicKey
}

// Metadata returns the announcement metadata for this output. The view
// tag goes first so receivers can reject foreign announcements with one
// hash instead of a point multiplication and an addition.
func (o *StealthOutput) Metadata() []byte {
	return []byte{o.ViewTag}
}

// GenerateStealthAddress creates a new stealth address for the recipient
// using a fresh ephemeral key drawn from random. An ephemeral key must
// never be reused across payments.
func GenerateStealthAddress(meta *MetaAddress, random io.Reader) (*StealthOutput, error) {
	ephemeral, err := ecdsa.GenerateKey(crypto.S256(), random)
	if err != nil {
		return nil, err
	}
	return GenerateStealthAddressWithEphemeral(meta, ephemeral)
}

// GenerateStealthAddressWithEphemeral is like GenerateStealthAddress but
// takes the ephemeral private key r from the caller.
func GenerateStealthAddressWithEphemeral(meta *MetaAddress, ephemeral *ecdsa.PrivateKey) (*StealthOutput, error) {
	if meta == nil || meta.SpendingPubKey == nil || meta.ViewingPubKey == nil {
		return nil, ErrMissingMetaAddress
	}
	if ephemeral == nil || ephemeral.D == nil || ephemeral.D.Sign() <= 0 || ephemeral.D.Cmp(curveN) >= 0 {
		return nil, ErrInvalidEphemeralKey
	}
	// R = r*G
	ephX, ephY := crypto.S256().ScalarBaseMult(padScalar(ephemeral))
	ephPub := &ecdsa.PublicKey{Curve: crypto.S256(), X: ephX, Y: ephY}

	// h = keccak256((r*V).x) mod n
	h, viewTag, err := blindingScalar(ephemeral, meta.ViewingPubKey)
	if err != nil {
		return nil, err
	}
	// Q = S + h*G
	stealthPub, err := offsetPublicKey(meta.SpendingPubKey, h)
	if err != nil {
		return nil, err
	}
	return &StealthOutput{
		Address:         PublicKeyToAddress(stealthPub),
		EphemeralPubKey: CompressPublicKey(ephPub),
		ViewTag:         viewTag,
		StealthPubKey:   stealthPub,
	}, nil
}

func padScalar(priv *ecdsa.PrivateKey) []byte {
	b := make([]byte, 32)
	return priv.D.FillBytes(b)
}
