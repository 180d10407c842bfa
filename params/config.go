// Copyright 2024 The Mist Authors
// This file is part of the Mist library.

package params

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// NetworkPreset bundles the contract deployments of a known network.
type NetworkPreset struct {
	Name     string
	ChainID  uint64
	RPCURL   string
	Registry common.Address // stealth meta-address registry
	Payment  common.Address // announcing payment contract

	// DeployBlock is the first block that may hold announcements.
	DeployBlock uint64
}

// String implements the stringer interface
func (p *NetworkPreset) String() string {
	return fmt.Sprintf("%s(chainId: %d, registry: %s, payment: %s)", p.Name, p.ChainID, p.Registry.Hex(), p.Payment.Hex())
}

// SepoliaPreset is the Sepolia testnet deployment.
var SepoliaPreset = &NetworkPreset{
	Name:     "sepolia",
	ChainID:  11155111,
	RPCURL:   "https://sepolia.gateway.tenderly.co",
	Registry: common.HexToAddress("0xC77484F08f260c571922C112C2AB671093ce1fA9"),
	Payment:  common.HexToAddress("0x6f4ef23960C89145896ee15140128e1b93925668"),
}

// DevPreset targets a local development node (hardhat / anvil).
var DevPreset = &NetworkPreset{
	Name:    "dev",
	ChainID: 31337,
	RPCURL:  "http://127.0.0.1:8545",
}

// PresetByName returns the preset registered under name.
func PresetByName(name string) (*NetworkPreset, error) {
	switch name {
	case "sepolia":
		return SepoliaPreset, nil
	case "dev":
		return DevPreset, nil
	default:
		return nil, fmt.Errorf("unknown network preset %q", name)
	}
}
