// Copyright 2024 The Mist Authors
// This file is part of the Mist library.

package stealth

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
)

// Compressed point parity prefixes
const (
	prefixEven byte = 0x02
	prefixOdd  byte = 0x03
)

// EncodePoint splits a public key into the parity prefix and x-coordinate
// of its compressed form, the layout stored by the key registry.
func EncodePoint(pub *ecdsa.PublicKey) (byte, *big.Int) {
	compressed := crypto.CompressPubkey(pub)
	return compressed[0], new(big.Int).SetBytes(compressed[1:])
}

// DecodePoint reassembles a compressed point from its prefix and
// x-coordinate and checks that it lies on the curve.
func DecodePoint(prefix byte, x *big.Int) (*ecdsa.PublicKey, error) {
	if prefix != prefixEven && prefix != prefixOdd {
		return nil, fmt.Errorf("%w: prefix 0x%02x", ErrInvalidCurvePoint, prefix)
	}
	if x == nil || x.Sign() < 0 || x.Cmp(curveP) >= 0 {
		return nil, fmt.Errorf("%w: x outside the field", ErrInvalidCurvePoint)
	}
	compressed := make([]byte, 0, 33)
	compressed = append(compressed, prefix)
	compressed = append(compressed, math.PaddedBigBytes(x, 32)...)

	pub, err := crypto.DecompressPubkey(compressed)
	if err != nil || !pub.Curve.IsOnCurve(pub.X, pub.Y) {
		return nil, fmt.Errorf("%w: no point with x=%#x", ErrInvalidCurvePoint, x)
	}
	return pub, nil
}

// RegistryEntry is a meta-address as four uint256 registry words.
type RegistryEntry struct {
	SpendingPrefix *big.Int
	SpendingX      *big.Int
	ViewingPrefix  *big.Int
	ViewingX       *big.Int
}

// IsEmpty reports whether the entry is the zero record the registry
// returns for identities that never registered.
func (e *RegistryEntry) IsEmpty() bool {
	for _, v := range []*big.Int{e.SpendingPrefix, e.SpendingX, e.ViewingPrefix, e.ViewingX} {
		if v != nil && v.Sign() != 0 {
			return false
		}
	}
	return true
}

// EncodeMetaAddress converts a meta-address into its registry layout
func EncodeMetaAddress(m *MetaAddress) *RegistryEntry {
	sp, sx := EncodePoint(m.SpendingPubKey)
	vp, vx := EncodePoint(m.ViewingPubKey)
	return &RegistryEntry{
		SpendingPrefix: big.NewInt(int64(sp)),
		SpendingX:      sx,
		ViewingPrefix:  big.NewInt(int64(vp)),
		ViewingX:       vx,
	}
}

// DecodeMetaAddress rebuilds and validates a meta-address from registry words
func DecodeMetaAddress(e *RegistryEntry) (*MetaAddress, error) {
	spend, err := decodeWordPoint(e.SpendingPrefix, e.SpendingX)
	if err != nil {
		return nil, fmt.Errorf("spending key: %w", err)
	}
	view, err := decodeWordPoint(e.ViewingPrefix, e.ViewingX)
	if err != nil {
		return nil, fmt.Errorf("viewing key: %w", err)
	}
	return &MetaAddress{SpendingPubKey: spend, ViewingPubKey: view}, nil
}

func decodeWordPoint(prefix, x *big.Int) (*ecdsa.PublicKey, error) {
	if prefix == nil || prefix.Sign() < 0 || !prefix.IsUint64() || prefix.Uint64() > 0xff {
		return nil, fmt.Errorf("%w: prefix word out of range", ErrInvalidCurvePoint)
	}
	return DecodePoint(byte(prefix.Uint64()), x)
}
