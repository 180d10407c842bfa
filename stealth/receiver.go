// Copyright 2024 The Mist Authors
// This file is part of the Mist library.

package stealth

import (
	"crypto/ecdsa"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/vaniiiii/mist/metrics"
	"github.com/vaniiiii/mist/params"
)

// ProcessedLedger records which announcements an identity has consumed
type ProcessedLedger interface {
	// IsProcessed reports whether the announcement was already delivered
	IsProcessed(identity common.Address, id AnnouncementID) (bool, error)
	// MarkProcessed records the announcements as delivered
	MarkProcessed(identity common.Address, ids []AnnouncementID) error
}

// Receiver recognizes announcements addressed to one set of stealth keys.
// Without a spending private key it runs watch-only and reports payments
// with a nil PrivateKey.
type Receiver struct {
	identity     common.Address
	schemeID     *big.Int
	viewPrivKey  *ecdsa.PrivateKey
	spendPubKey  *ecdsa.PublicKey
	spendPrivKey *ecdsa.PrivateKey
	ledger       ProcessedLedger
}

// NewReceiver creates a receiver for the given keys. The ledger may be nil,
// in which case every matching announcement is returned.
func NewReceiver(keys *StealthKeys, ledger ProcessedLedger) (*Receiver, error) {
	if keys == nil || keys.Viewing.PrivateKey == nil || keys.Spending.PublicKey == nil {
		return nil, ErrKeysRequired
	}
	return &Receiver{
		identity:     keys.Identity(),
		schemeID:     params.SchemeIDBig,
		viewPrivKey:  keys.Viewing.PrivateKey,
		spendPubKey:  keys.Spending.PublicKey,
		spendPrivKey: keys.Spending.PrivateKey,
		ledger:       ledger,
	}, nil
}

// Identity returns the identity the receiver watches for
func (r *Receiver) Identity() common.Address {
	return r.identity
}

// WatchOnly reports whether the receiver lacks the spending private key
func (r *Receiver) WatchOnly() bool {
	return r.spendPrivKey == nil
}

// Match returns the announcements addressed to the receiver, in input
// order. Foreign and already processed announcements are skipped, as are
// announcements carrying malformed keys. A degenerate derivation aborts
// the whole pass.
func (r *Receiver) Match(anns []*Announcement) ([]*Payment, error) {
	var payments []*Payment
	for _, ann := range anns {
		payment, err := r.match(ann)
		switch {
		case err == nil:
		case errors.Is(err, ErrRecoveryMismatch):
			metrics.RecordSkip()
			log.Trace("Announcement not addressed to identity", "identity", r.identity, "tx", ann.TxHash, "index", ann.LogIndex)
			continue
		case errors.Is(err, ErrInvalidCurvePoint):
			metrics.RecordInvalidAnnouncement()
			log.Warn("Rejected announcement with invalid ephemeral key", "tx", ann.TxHash, "index", ann.LogIndex, "err", err)
			continue
		default:
			return nil, err
		}
		if payment == nil {
			continue
		}
		metrics.RecordMatch()
		log.Info("Stealth payment detected", "identity", r.identity, "address", payment.StealthAddress, "tx", payment.TxHash, "block", payment.BlockNumber)
		payments = append(payments, payment)
	}
	return payments, nil
}

// match checks a single announcement. A nil payment and nil error mean the
// announcement is outside the receiver's scheme or already processed.
func (r *Receiver) match(ann *Announcement) (*Payment, error) {
	if ann.SchemeID != nil && ann.SchemeID.Cmp(r.schemeID) != 0 {
		metrics.RecordRejectedAnnouncement()
		return nil, nil
	}
	if r.ledger != nil {
		done, err := r.ledger.IsProcessed(r.identity, ann.ID())
		if err != nil {
			return nil, err
		}
		if done {
			return nil, nil
		}
	}
	if tag, ok := ann.ViewTag(); ok {
		hit, err := CheckViewTag(r.viewPrivKey, ann.EphemeralPubKey, tag)
		if err != nil {
			return nil, err
		}
		if !hit {
			return nil, ErrRecoveryMismatch
		}
	}
	if r.spendPrivKey == nil {
		addr, err := ComputeStealthAddress(r.viewPrivKey, r.spendPubKey, ann.EphemeralPubKey)
		if err != nil {
			return nil, err
		}
		if addr != ann.StealthAddress {
			return nil, ErrRecoveryMismatch
		}
		return &Payment{Announcement: ann}, nil
	}
	priv, err := RecoverPrivateKey(ann.EphemeralPubKey, r.viewPrivKey, r.spendPrivKey, ann.StealthAddress)
	if err != nil {
		return nil, err
	}
	return &Payment{Announcement: ann, PrivateKey: priv}, nil
}
