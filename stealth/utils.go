// Copyright 2024 The Mist Authors
// This file is part of the Mist library.

package stealth

import (
	"crypto/ecdsa"
	"math/big"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	curveN = crypto.S256().Params().N
	curveP = crypto.S256().Params().P
)

// SharedSecretPoint computes the ECDH shared point privKey * pubKey.
func SharedSecretPoint(privKey *ecdsa.PrivateKey, pubKey *ecdsa.PublicKey) (*big.Int, *big.Int) {
	return crypto.S256().ScalarMult(pubKey.X, pubKey.Y, math.PaddedBigBytes(privKey.D, 32))
}

// SharedSecretBytes hashes the x-coordinate of a shared point, left padded
// to 32 bytes. The y-coordinate does not take part.
func SharedSecretBytes(x, y *big.Int) []byte {
	return crypto.Keccak256(math.PaddedBigBytes(x, 32))
}

// SharedSecret computes keccak256(S.x) for S = privKey * pubKey.
func SharedSecret(privKey *ecdsa.PrivateKey, pubKey *ecdsa.PublicKey) []byte {
	return SharedSecretBytes(SharedSecretPoint(privKey, pubKey))
}

// PublicKeyToAddress converts a public key to a 20-byte ledger address
func PublicKeyToAddress(pubKey *ecdsa.PublicKey) common.Address {
	return crypto.PubkeyToAddress(*pubKey)
}

// CompressPublicKey compresses an ECDSA public key
func CompressPublicKey(pubKey *ecdsa.PublicKey) []byte {
	return crypto.CompressPubkey(pubKey)
}

// DecompressPublicKey decompresses a 33-byte compressed public key
func DecompressPublicKey(compressed []byte) (*ecdsa.PublicKey, error) {
	if len(compressed) != 33 {
		return nil, ErrInvalidCurvePoint
	}
	pub, err := crypto.DecompressPubkey(compressed)
	if err != nil {
		return nil, ErrInvalidCurvePoint
	}
	return pub, nil
}

// tweakScalar reduces a shared secret hash to the blinding scalar h.
func tweakScalar(sharedSecret []byte) (*secp256k1.ModNScalar, error) {
	var h secp256k1.ModNScalar
	h.SetByteSlice(sharedSecret)
	if h.IsZero() {
		return nil, ErrDerivationDegenerate
	}
	return &h, nil
}

// blindingScalar runs ECDH between privKey and pubKey and returns the
// blinding scalar together with the view tag.
func blindingScalar(privKey *ecdsa.PrivateKey, pubKey *ecdsa.PublicKey) (*secp256k1.ModNScalar, byte, error) {
	x, y := SharedSecretPoint(privKey, pubKey)
	if isInfinity(x, y) {
		return nil, 0, ErrInvalidCurvePoint
	}
	secret := SharedSecretBytes(x, y)
	h, err := tweakScalar(secret)
	if err != nil {
		return nil, 0, err
	}
	return h, secret[0], nil
}

func offsetPublicKey(pub *ecdsa.PublicKey, h *secp256k1.ModNScalar) (*ecdsa.PublicKey, error) {
	hb := h.Bytes()
	curve := crypto.S256()

	gx, gy := curve.ScalarBaseMult(hb[:])
	x, y := curve.Add(pub.X, pub.Y, gx, gy)
	if isInfinity(x, y) {
		return nil, ErrDerivationDegenerate
	}
	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
}

func offsetPrivateKey(priv *ecdsa.PrivateKey, h *secp256k1.ModNScalar) (*ecdsa.PrivateKey, error) {
	var d secp256k1.ModNScalar
	if overflow := d.SetByteSlice(math.PaddedBigBytes(priv.D, 32)); overflow {
		return nil, ErrInvalidKey
	}
	d.Add(h)
	return privateKeyFromScalar(&d)
}

// privateKeyFromScalar builds an ECDSA key from a reduced scalar. Zero is
// the only value a ModNScalar can hold that is not a valid key.
func privateKeyFromScalar(s *secp256k1.ModNScalar) (*ecdsa.PrivateKey, error) {
	if s.IsZero() {
		return nil, ErrDerivationDegenerate
	}
	b := s.Bytes()
	defer clear(b[:])
	return crypto.ToECDSA(b[:])
}

func isInfinity(x, y *big.Int) bool {
	return x == nil || y == nil || (x.Sign() == 0 && y.Sign() == 0)
}
