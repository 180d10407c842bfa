// Copyright 2024 The Mist Authors
// This file is part of the Mist library.

package contracts

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/vaniiiii/mist/stealth"
)

// LogBackend is the part of a ledger client the announcement log needs.
// It is satisfied by *ethclient.Client.
type LogBackend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
}

// announcementData holds the non-indexed fields of an Announcement event
type announcementData struct {
	EphemeralPubKey []byte
	Metadata        []byte
}

// AnnouncementLog reads Announcement events of the payment contract. It
// implements stealth.AnnouncementSource.
type AnnouncementLog struct {
	backend LogBackend
	address common.Address

	// FetchValues enables looking up the value of each announcing transaction
	FetchValues bool
}

// NewAnnouncementLog creates a reader for the contract at address
func NewAnnouncementLog(backend LogBackend, address common.Address) *AnnouncementLog {
	return &AnnouncementLog{backend: backend, address: address, FetchValues: true}
}

// ChainHead implements stealth.AnnouncementSource
func (l *AnnouncementLog) ChainHead(ctx context.Context) (uint64, error) {
	return l.backend.BlockNumber(ctx)
}

// Announcements implements stealth.AnnouncementSource. A log that cannot
// be decoded fails the whole query.
func (l *AnnouncementLog) Announcements(ctx context.Context, schemeID *big.Int, from, to uint64) ([]*stealth.Announcement, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{l.address},
		Topics:    [][]common.Hash{{AnnouncementEventID}, {common.BigToHash(schemeID)}},
	}
	logs, err := l.backend.FilterLogs(ctx, query)
	if err != nil {
		return nil, err
	}
	values := make(map[common.Hash]*uint256.Int)

	anns := make([]*stealth.Announcement, 0, len(logs))
	for i := range logs {
		if logs[i].Removed {
			continue
		}
		ann, err := DecodeAnnouncement(&logs[i])
		if err != nil {
			return nil, err
		}
		if l.FetchValues {
			if ann.Value, err = l.value(ctx, values, ann.TxHash); err != nil {
				return nil, err
			}
		}
		anns = append(anns, ann)
	}
	log.Trace("Fetched announcements", "from", from, "to", to, "count", len(anns))
	return anns, nil
}

func (l *AnnouncementLog) value(ctx context.Context, cache map[common.Hash]*uint256.Int, hash common.Hash) (*uint256.Int, error) {
	if v, ok := cache[hash]; ok {
		return v, nil
	}
	tx, _, err := l.backend.TransactionByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("transaction %s: %w", hash.Hex(), err)
	}
	v, overflow := uint256.FromBig(tx.Value())
	if overflow {
		return nil, fmt.Errorf("transaction %s: value overflows 256 bits", hash.Hex())
	}
	cache[hash] = v
	return v, nil
}

// DecodeAnnouncement decodes an Announcement event log
func DecodeAnnouncement(lg *types.Log) (*stealth.Announcement, error) {
	if len(lg.Topics) != 4 || lg.Topics[0] != AnnouncementEventID {
		return nil, fmt.Errorf("log %s:%d is not an announcement", lg.TxHash.Hex(), lg.Index)
	}
	var data announcementData
	if err := paymentABI.UnpackIntoInterface(&data, "Announcement", lg.Data); err != nil {
		return nil, fmt.Errorf("log %s:%d: %w", lg.TxHash.Hex(), lg.Index, err)
	}
	return &stealth.Announcement{
		SchemeID:        lg.Topics[1].Big(),
		StealthAddress:  common.BytesToAddress(lg.Topics[2].Bytes()),
		Caller:          common.BytesToAddress(lg.Topics[3].Bytes()),
		EphemeralPubKey: data.EphemeralPubKey,
		Metadata:        data.Metadata,
		BlockNumber:     lg.BlockNumber,
		TxHash:          lg.TxHash,
		LogIndex:        lg.Index,
	}, nil
}
