// Copyright 2024 The Mist Authors
// This file is part of the Mist library.

package params

import (
	"fmt"
	"math/big"
	"time"
)

// Version information
const (
	VersionMajor = 0       // Major version component
	VersionMinor = 3       // Minor version component
	VersionPatch = 0       // Patch version component
	VersionMeta  = "alpha" // Version metadata
)

// Version holds the textual version string
var Version = func() string {
	return fmt.Sprintf("%d.%d.%d", VersionMajor, VersionMinor, VersionPatch)
}()

// VersionWithMeta holds the textual version string including metadata
var VersionWithMeta = func() string {
	v := Version
	if VersionMeta != "" {
		v += "-" + VersionMeta
	}
	return v
}()

// Stealth protocol constants
const (
	// SchemeID tags announcements built with secp256k1 ECDH and view tags
	// (scheme 1 of the announcement log).
	SchemeID = 1

	// DefaultLookbackBlocks is how far behind the chain head the first scan
	// of an identity starts when no cursor has been stored.
	DefaultLookbackBlocks uint64 = 5000

	// DefaultScanInterval is the period between scheduled scan cycles.
	DefaultScanInterval = 30 * time.Second

	// SignatureLength is the length of a recoverable secp256k1 signature
	// (r || s || v).
	SignatureLength = 65

	// CompressedPubKeyLength is the length of a SEC1 compressed point.
	CompressedPubKeyLength = 33

	// MetaAddressPrefix prefixes the textual form of a meta-address.
	MetaAddressPrefix = "st:eth:0x"
)

// SchemeIDBig is SchemeID as a uint256 topic value.
var SchemeIDBig = big.NewInt(SchemeID)

// LegacyDerivationText is the message the first generation of wallets
// signed to derive stealth keys. Keys derived from it stay reachable through
// derivation version 0.
const LegacyDerivationText = "Sign this message to access your Mist account."

// DerivationMessage is the message a recipient signs to derive their
// spending and viewing keys. Bumping Version yields an unrelated key set.
type DerivationMessage struct {
	Version uint   `json:"version"`
	Domain  string `json:"domain"`
	ChainID uint64 `json:"chainId"`
}

// DefaultDerivationMessage returns the current derivation message for a chain.
func DefaultDerivationMessage(chainID uint64) DerivationMessage {
	return DerivationMessage{Version: 1, Domain: "mist", ChainID: chainID}
}

// Text renders the message exactly as it is handed to the signer.
func (m DerivationMessage) Text() string {
	if m.Version == 0 {
		return LegacyDerivationText
	}
	return fmt.Sprintf("Mist stealth key derivation\n\nDomain: %s\nChain ID: %d\nVersion: %d\n\n"+
		"Signing this message reveals your Mist viewing and spending keys to this application. "+
		"Only sign it on a site you trust.", m.Domain, m.ChainID, m.Version)
}
