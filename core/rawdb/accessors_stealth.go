// Copyright 2024 The Mist Authors
// This file is part of the Mist library.

package rawdb

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/vaniiiii/mist/stealth"
)

var (
	// Database key prefixes
	cursorPrefix    = []byte("c") // cursorPrefix + identity -> scan cursor
	processedPrefix = []byte("p") // processedPrefix + identity + txhash + log index -> processed marker

	keyMaterialKey = []byte("KeyMaterial") // keyMaterialKey -> encrypted key material
	metaAddressKey = []byte("MetaAddress") // metaAddressKey -> public halves of the key material
)

// storedCursor is the RLP encoding of a scan cursor
type storedCursor struct {
	FromBlock uint64
	ToBlock   uint64
}

// cursorKey returns the cursor key of an identity
func cursorKey(identity common.Address) []byte {
	return append(append([]byte{}, cursorPrefix...), identity.Bytes()...)
}

// processedKey returns the processed marker key of an announcement
func processedKey(identity common.Address, id stealth.AnnouncementID) []byte {
	key := make([]byte, 0, len(processedPrefix)+common.AddressLength+stealth.AnnouncementIDLength)
	key = append(key, processedPrefix...)
	key = append(key, identity.Bytes()...)
	return append(key, id[:]...)
}

// processedIdentityPrefix returns the prefix of all markers of an identity
func processedIdentityPrefix(identity common.Address) []byte {
	return append(append([]byte{}, processedPrefix...), identity.Bytes()...)
}

// Scan cursor accessors

// ReadScanCursor retrieves the scan cursor of an identity, nil if absent
func ReadScanCursor(db *Database, identity common.Address) (*stealth.ScanCursor, error) {
	data, err := db.Get(cursorKey(identity))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var enc storedCursor
	if err := rlp.DecodeBytes(data, &enc); err != nil {
		return nil, err
	}
	return &stealth.ScanCursor{FromBlock: enc.FromBlock, ToBlock: enc.ToBlock}, nil
}

// WriteScanCursor stores the scan cursor of an identity
func WriteScanCursor(db KeyValueWriter, identity common.Address, cursor stealth.ScanCursor) error {
	data, err := rlp.EncodeToBytes(&storedCursor{FromBlock: cursor.FromBlock, ToBlock: cursor.ToBlock})
	if err != nil {
		return err
	}
	return db.Put(cursorKey(identity), data)
}

// DeleteScanCursor removes the scan cursor of an identity
func DeleteScanCursor(db KeyValueWriter, identity common.Address) error {
	return db.Delete(cursorKey(identity))
}

// Processed ledger accessors

// HasProcessed reports whether an announcement was delivered to an identity
func HasProcessed(db *Database, identity common.Address, id stealth.AnnouncementID) (bool, error) {
	return db.Has(processedKey(identity, id))
}

// WriteProcessed marks an announcement as delivered to an identity
func WriteProcessed(db KeyValueWriter, identity common.Address, id stealth.AnnouncementID) error {
	return db.Put(processedKey(identity, id), []byte{1})
}

// DeleteProcessedRange removes all processed markers of an identity
func DeleteProcessedRange(db *Database, identity common.Address) error {
	it := db.NewIterator(processedIdentityPrefix(identity), nil)
	defer it.Release()

	batch := db.NewBatch()
	for it.Next() {
		batch.Delete(common.CopyBytes(it.Key()))
	}
	if err := it.Error(); err != nil {
		return err
	}
	return batch.Write()
}

// CountProcessed returns the number of announcements delivered to an identity
func CountProcessed(db *Database, identity common.Address) (int, error) {
	it := db.NewIterator(processedIdentityPrefix(identity), nil)
	defer it.Release()

	n := 0
	for it.Next() {
		n++
	}
	return n, it.Error()
}

// Key material accessors

// ReadKeyMaterialBlob retrieves the encoded key material, nil if absent
func ReadKeyMaterialBlob(db *Database) ([]byte, error) {
	data, err := db.Get(keyMaterialKey)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return data, err
}

// ReadMetaAddressBlob retrieves the stored public key halves, nil if absent
func ReadMetaAddressBlob(db *Database) ([]byte, error) {
	data, err := db.Get(metaAddressKey)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return data, err
}

// WriteKeyMaterialBlobs replaces the stored key material. Both records are
// written in one batch.
func WriteKeyMaterialBlobs(db *Database, meta, material []byte) error {
	batch := db.NewBatch()
	batch.Put(metaAddressKey, meta)
	if material != nil {
		batch.Put(keyMaterialKey, material)
	} else {
		batch.Delete(keyMaterialKey)
	}
	if err := batch.Write(); err != nil {
		log.Error("Failed to store key material", "err", err)
		return err
	}
	return nil
}

// DeleteKeyMaterialBlobs erases the stored key material in one batch
func DeleteKeyMaterialBlobs(db *Database) error {
	batch := db.NewBatch()
	batch.Delete(metaAddressKey)
	batch.Delete(keyMaterialKey)
	return batch.Write()
}
