// Copyright 2024 The Mist Authors
// This file is part of the Mist library.

package stealth

import (
	"crypto/ecdsa"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// RecoverPrivateKey recovers the private key controlling a stealth address.
// It computes d = (keccak256((v*R).x) + d_s) mod n and checks that d*G
// hashes to the announced address, returning ErrRecoveryMismatch otherwise.
func RecoverPrivateKey(ephemeralPubKey []byte, viewPrivKey, spendPrivKey *ecdsa.PrivateKey, announced common.Address) (*ecdsa.PrivateKey, error) {
	stealthPrivKey, derived, err := DeriveStealthAddressPrivateKey(viewPrivKey, spendPrivKey, ephemeralPubKey)
	if err != nil {
		return nil, err
	}
	if derived != announced {
		return nil, ErrRecoveryMismatch
	}
	return stealthPrivKey, nil
}

// DeriveStealthAddressPrivateKey derives the private key for a stealth
// address and the address it controls, without checking the result
// against an announcement.
func DeriveStealthAddressPrivateKey(viewPrivKey, spendPrivKey *ecdsa.PrivateKey, ephemeralPubKey []byte) (*ecdsa.PrivateKey, common.Address, error) {
	ephPubKey, err := DecompressPublicKey(ephemeralPubKey)
	if err != nil {
		return nil, common.Address{}, err
	}
	h, _, err := blindingScalar(viewPrivKey, ephPubKey)
	if err != nil {
		return nil, common.Address{}, err
	}
	stealthPrivKey, err := offsetPrivateKey(spendPrivKey, h)
	if err != nil {
		return nil, common.Address{}, err
	}
	return stealthPrivKey, crypto.PubkeyToAddress(stealthPrivKey.PublicKey), nil
}

// ComputeStealthPublicKey computes the stealth public key S + h*G on the
// receiver side. It needs only the viewing private key, so watch-only
// scanners can recognize payments without holding the spending key.
func ComputeStealthPublicKey(viewPrivKey *ecdsa.PrivateKey, spendPubKey *ecdsa.PublicKey, ephemeralPubKey []byte) (*ecdsa.PublicKey, error) {
	ephPubKey, err := DecompressPublicKey(ephemeralPubKey)
	if err != nil {
		return nil, err
	}
	h, _, err := blindingScalar(viewPrivKey, ephPubKey)
	if err != nil {
		return nil, err
	}
	return offsetPublicKey(spendPubKey, h)
}

// ComputeStealthAddress computes what the stealth address would be for given keys
func ComputeStealthAddress(viewPrivKey *ecdsa.PrivateKey, spendPubKey *ecdsa.PublicKey, ephemeralPubKey []byte) (common.Address, error) {
	stealthPubKey, err := ComputeStealthPublicKey(viewPrivKey, spendPubKey, ephemeralPubKey)
	if err != nil {
		return common.Address{}, err
	}
	return PublicKeyToAddress(stealthPubKey), nil
}

// CheckViewTag quickly checks whether an announcement may be addressed to
// the owner of viewPrivKey. A false result is final; a true result still
// requires full recovery.
func CheckViewTag(viewPrivKey *ecdsa.PrivateKey, ephemeralPubKey []byte, viewTag byte) (bool, error) {
	ephPubKey, err := DecompressPublicKey(ephemeralPubKey)
	if err != nil {
		return false, err
	}
	return SharedSecret(viewPrivKey, ephPubKey)[0] == viewTag, nil
}
