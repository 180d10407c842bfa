// Copyright 2024 The Mist Authors
// This file is part of the Mist library.

// Package keystore keeps a recipient's stealth key material, encrypted at
// rest under a passphrase.
package keystore

import (
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"

	"github.com/vaniiiii/mist/core/rawdb"
	"github.com/vaniiiii/mist/stealth"
)

const materialVersion = 1

var (
	// ErrNoKeyMaterial is returned when no key material was stored
	ErrNoKeyMaterial = errors.New("no key material stored")
	// ErrKeyMismatch is returned when a private key does not match its public half
	ErrKeyMismatch = errors.New("private key does not match public key")
	// ErrMissingPublicKey is returned when key material lacks a public half
	ErrMissingPublicKey = errors.New("spending and viewing public keys required")
	// ErrNoPassphrase is returned when private keys would be stored unencrypted
	ErrNoPassphrase = errors.New("a passphrase is required to store private keys")
)

// KeyMaterial is the stored state of a recipient. The private halves are
// optional; without them the material describes a watch-only identity or
// just the published meta-address.
type KeyMaterial struct {
	SpendingPublicKey  *ecdsa.PublicKey
	ViewingPublicKey   *ecdsa.PublicKey
	SpendingPrivateKey *ecdsa.PrivateKey
	ViewingPrivateKey  *ecdsa.PrivateKey
}

// FromStealthKeys converts derived stealth keys into key material
func FromStealthKeys(keys *stealth.StealthKeys) *KeyMaterial {
	return &KeyMaterial{
		SpendingPublicKey:  keys.Spending.PublicKey,
		ViewingPublicKey:   keys.Viewing.PublicKey,
		SpendingPrivateKey: keys.Spending.PrivateKey,
		ViewingPrivateKey:  keys.Viewing.PrivateKey,
	}
}

// StealthKeys converts the material back into stealth keys. Missing
// private halves stay nil.
func (km *KeyMaterial) StealthKeys() *stealth.StealthKeys {
	return &stealth.StealthKeys{
		Spending: stealth.KeyPair{PrivateKey: km.SpendingPrivateKey, PublicKey: km.SpendingPublicKey},
		Viewing:  stealth.KeyPair{PrivateKey: km.ViewingPrivateKey, PublicKey: km.ViewingPublicKey},
	}
}

// MetaAddress returns the public meta-address of the material
func (km *KeyMaterial) MetaAddress() *stealth.MetaAddress {
	return &stealth.MetaAddress{SpendingPubKey: km.SpendingPublicKey, ViewingPubKey: km.ViewingPublicKey}
}

// HasPrivate reports whether any private half is present
func (km *KeyMaterial) HasPrivate() bool {
	return km.SpendingPrivateKey != nil || km.ViewingPrivateKey != nil
}

func (km *KeyMaterial) validate() error {
	if km.SpendingPublicKey == nil || km.ViewingPublicKey == nil {
		return ErrMissingPublicKey
	}
	if km.SpendingPrivateKey != nil && !matches(km.SpendingPrivateKey, km.SpendingPublicKey) {
		return fmt.Errorf("spending key: %w", ErrKeyMismatch)
	}
	if km.ViewingPrivateKey != nil && !matches(km.ViewingPrivateKey, km.ViewingPublicKey) {
		return fmt.Errorf("viewing key: %w", ErrKeyMismatch)
	}
	return nil
}

func matches(priv *ecdsa.PrivateKey, pub *ecdsa.PublicKey) bool {
	return priv.PublicKey.X.Cmp(pub.X) == 0 && priv.PublicKey.Y.Cmp(pub.Y) == 0
}

// metaJSON is the stored public record
type metaJSON struct {
	ID                string        `json:"id"`
	Version           int           `json:"version"`
	SpendingPublicKey hexutil.Bytes `json:"spendingPublicKey"`
	ViewingPublicKey  hexutil.Bytes `json:"viewingPublicKey"`
}

// materialJSON is the stored private record
type materialJSON struct {
	Spending *encryptedKeyJSON `json:"spending,omitempty"`
	Viewing  *encryptedKeyJSON `json:"viewing,omitempty"`
}

// Store keeps a single set of key material in the database
type Store struct {
	mu         sync.Mutex
	db         *rawdb.Database
	passphrase string
	scryptN    int
	scryptP    int
}

// NewStore creates a key material store. Private keys are encrypted with
// passphrase using the given scrypt parameters.
func NewStore(db *rawdb.Database, passphrase string, scryptN, scryptP int) *Store {
	return &Store{db: db, passphrase: passphrase, scryptN: scryptN, scryptP: scryptP}
}

// Get returns the stored key material, decrypting the private halves.
// It returns ErrNoKeyMaterial when the store is empty.
func (s *Store) Get() (*KeyMaterial, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	km, err := s.readPublic()
	if err != nil {
		return nil, err
	}
	blob, err := rawdb.ReadKeyMaterialBlob(s.db)
	if err != nil {
		return nil, err
	}
	if blob == nil {
		return km, nil
	}
	var enc materialJSON
	if err := json.Unmarshal(blob, &enc); err != nil {
		return nil, fmt.Errorf("corrupt key material: %w", err)
	}
	if enc.Spending != nil {
		key, err := DecryptKey(enc.Spending, s.passphrase)
		if err != nil {
			return nil, fmt.Errorf("spending key: %w", err)
		}
		km.SpendingPrivateKey = key.PrivateKey
	}
	if enc.Viewing != nil {
		key, err := DecryptKey(enc.Viewing, s.passphrase)
		if err != nil {
			return nil, fmt.Errorf("viewing key: %w", err)
		}
		km.ViewingPrivateKey = key.PrivateKey
	}
	if err := km.validate(); err != nil {
		return nil, err
	}
	return km, nil
}

// GetPublic returns the stored public halves without decrypting anything
func (s *Store) GetPublic() (*KeyMaterial, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readPublic()
}

func (s *Store) readPublic() (*KeyMaterial, error) {
	blob, err := rawdb.ReadMetaAddressBlob(s.db)
	if err != nil {
		return nil, err
	}
	if blob == nil {
		return nil, ErrNoKeyMaterial
	}
	var meta metaJSON
	if err := json.Unmarshal(blob, &meta); err != nil {
		return nil, fmt.Errorf("corrupt key material: %w", err)
	}
	if meta.Version != materialVersion {
		return nil, fmt.Errorf("unsupported key material version: %d", meta.Version)
	}
	spend, err := stealth.DecompressPublicKey(meta.SpendingPublicKey)
	if err != nil {
		return nil, fmt.Errorf("spending public key: %w", err)
	}
	view, err := stealth.DecompressPublicKey(meta.ViewingPublicKey)
	if err != nil {
		return nil, fmt.Errorf("viewing public key: %w", err)
	}
	return &KeyMaterial{SpendingPublicKey: spend, ViewingPublicKey: view}, nil
}

// Update overwrites the stored key material. Either everything is written
// or nothing is. Private halves are only accepted by a store opened with a
// passphrase.
func (s *Store) Update(km *KeyMaterial) error {
	if km == nil {
		return ErrMissingPublicKey
	}
	if err := km.validate(); err != nil {
		return err
	}
	if km.HasPrivate() && s.passphrase == "" {
		return ErrNoPassphrase
	}
	meta, err := json.Marshal(&metaJSON{
		ID:                uuid.NewString(),
		Version:           materialVersion,
		SpendingPublicKey: stealth.CompressPublicKey(km.SpendingPublicKey),
		ViewingPublicKey:  stealth.CompressPublicKey(km.ViewingPublicKey),
	})
	if err != nil {
		return err
	}
	var material []byte
	if km.HasPrivate() {
		var enc materialJSON
		if km.SpendingPrivateKey != nil {
			if enc.Spending, err = EncryptKey(newKey(km.SpendingPrivateKey), s.passphrase, s.scryptN, s.scryptP); err != nil {
				return err
			}
		}
		if km.ViewingPrivateKey != nil {
			if enc.Viewing, err = EncryptKey(newKey(km.ViewingPrivateKey), s.passphrase, s.scryptN, s.scryptP); err != nil {
				return err
			}
		}
		if material, err = json.Marshal(&enc); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := rawdb.WriteKeyMaterialBlobs(s.db, meta, material); err != nil {
		return err
	}
	log.Info("Stored key material", "meta", km.MetaAddress().String(), "private", km.HasPrivate())
	return nil
}

// Clear erases the stored key material
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := rawdb.DeleteKeyMaterialBlobs(s.db); err != nil {
		return err
	}
	log.Info("Cleared key material")
	return nil
}
