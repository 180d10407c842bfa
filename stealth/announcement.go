// Copyright 2024 The Mist Authors
// This file is part of the Mist library.

package stealth

import (
	"crypto/ecdsa"
	"encoding/binary"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Announcement is an immutable record emitted by the payment contract for
// every stealth payment
type Announcement struct {
	SchemeID        *big.Int
	StealthAddress  common.Address
	Caller          common.Address
	EphemeralPubKey []byte
	Metadata        []byte

	// Position of the record in the log
	BlockNumber uint64
	TxHash      common.Hash
	LogIndex    uint

	// Value is the native value carried by the announcing transaction
	Value *uint256.Int
}

// AnnouncementIDLength is the length of an AnnouncementID
const AnnouncementIDLength = common.HashLength + 8

// AnnouncementID identifies an announcement by transaction hash and log index
type AnnouncementID [AnnouncementIDLength]byte

// ID returns the stable identifier of the announcement
func (a *Announcement) ID() AnnouncementID {
	var id AnnouncementID
	copy(id[:common.HashLength], a.TxHash[:])
	binary.BigEndian.PutUint64(id[common.HashLength:], uint64(a.LogIndex))
	return id
}

// ViewTag returns the view tag carried in the metadata, if any
func (a *Announcement) ViewTag() (byte, bool) {
	if len(a.Metadata) == 0 {
		return 0, false
	}
	return a.Metadata[0], true
}

// SortAnnouncements orders announcements by their position in the log
func SortAnnouncements(anns []*Announcement) {
	sort.SliceStable(anns, func(i, j int) bool {
		if anns[i].BlockNumber != anns[j].BlockNumber {
			return anns[i].BlockNumber < anns[j].BlockNumber
		}
		return anns[i].LogIndex < anns[j].LogIndex
	})
}

// Payment is an announcement recognized as addressed to the receiver
type Payment struct {
	*Announcement

	// PrivateKey controls the stealth address. It is nil for watch-only
	// receivers.
	PrivateKey *ecdsa.PrivateKey
}
