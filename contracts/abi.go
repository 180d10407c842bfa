// Copyright 2024 The Mist Authors
// This file is part of the Mist library.

// Package contracts contains typed clients for the key registry and the
// stealth payment contract.
package contracts

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// RegistryABI is the interface of the meta-address key registry
const RegistryABI = `[
	{"type":"function","name":"N","stateMutability":"nonpayable","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"getStealthMetaAddress","stateMutability":"view",
	 "inputs":[{"name":"userAddress","type":"address"}],
	 "outputs":[{"name":"spendingPubKeyPrefix","type":"uint256"},{"name":"spendingPubKey","type":"uint256"},
	            {"name":"viewingPubKeyPrefix","type":"uint256"},{"name":"viewingPubKey","type":"uint256"}]},
	{"type":"function","name":"setStealthMetaAddress","stateMutability":"nonpayable",
	 "inputs":[{"name":"spendingPubKeyPrefix","type":"uint256"},{"name":"spendingPubKey","type":"uint256"},
	           {"name":"viewingPubKeyPrefix","type":"uint256"},{"name":"viewingPubKey","type":"uint256"}],
	 "outputs":[]}
]`

// PaymentABI is the interface of the stealth payment contract
const PaymentABI = `[
	{"type":"error","name":"AddressEmptyCode","inputs":[{"name":"target","type":"address"}]},
	{"type":"error","name":"AddressInsufficientBalance","inputs":[{"name":"account","type":"address"}]},
	{"type":"error","name":"FailedInnerCall","inputs":[]},
	{"type":"error","name":"Mist__AddressZero","inputs":[]},
	{"type":"error","name":"Mist__InvalidAmount","inputs":[]},
	{"type":"error","name":"SafeERC20FailedOperation","inputs":[{"name":"token","type":"address"}]},
	{"type":"event","name":"Announcement","anonymous":false,
	 "inputs":[{"indexed":true,"name":"schemeId","type":"uint256"},
	           {"indexed":true,"name":"stealthAddress","type":"address"},
	           {"indexed":true,"name":"caller","type":"address"},
	           {"indexed":false,"name":"ephemeralPubKey","type":"bytes"},
	           {"indexed":false,"name":"metadata","type":"bytes"}]},
	{"type":"function","name":"SCHEME_ID","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"sendERC20","stateMutability":"nonpayable",
	 "inputs":[{"name":"receiver","type":"address"},{"name":"tokenAddress","type":"address"},
	           {"name":"amount","type":"uint256"},{"name":"ephemeralPubKey","type":"bytes"},
	           {"name":"metadata","type":"bytes"}],
	 "outputs":[]},
	{"type":"function","name":"sendERC721","stateMutability":"nonpayable",
	 "inputs":[{"name":"receiver","type":"address"},{"name":"tokenAddress","type":"address"},
	           {"name":"tokenId","type":"uint256"},{"name":"ephemeralPubKey","type":"bytes"},
	           {"name":"metadata","type":"bytes"}],
	 "outputs":[]},
	{"type":"function","name":"sendEth","stateMutability":"payable",
	 "inputs":[{"name":"receiver","type":"address"},{"name":"ephemeralPubKey","type":"bytes"},
	           {"name":"metadata","type":"bytes"}],
	 "outputs":[]}
]`

var (
	registryABI = mustParseABI(RegistryABI)
	paymentABI  = mustParseABI(PaymentABI)

	// AnnouncementEventID is the topic of the Announcement event
	AnnouncementEventID = paymentABI.Events["Announcement"].ID
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}
