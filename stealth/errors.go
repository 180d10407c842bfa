// Copyright 2024 The Mist Authors
// This file is part of the Mist library.

package stealth

import "errors"

var (
	// ErrInvalidKey is returned when a key is invalid
	ErrInvalidKey = errors.New("invalid stealth key")
	// ErrInvalidViewKey is returned when a view key is invalid
	ErrInvalidViewKey = errors.New("invalid view key")
	// ErrInvalidSpendKey is returned when a spend key is invalid
	ErrInvalidSpendKey = errors.New("invalid spend key")
	// ErrInvalidSignature is returned when a derivation signature is malformed
	ErrInvalidSignature = errors.New("invalid derivation signature")
	// ErrInvalidMetaAddress is returned when a meta-address string cannot be parsed
	ErrInvalidMetaAddress = errors.New("invalid stealth meta-address")
	// ErrInvalidEphemeralKey is returned when an ephemeral private key is out of range
	ErrInvalidEphemeralKey = errors.New("invalid ephemeral key")
	// ErrMissingMetaAddress is returned when no recipient meta-address was given
	ErrMissingMetaAddress = errors.New("missing recipient meta-address")

	// ErrDerivationDegenerate is returned when a derived scalar reduces to zero
	// or a derived point is the identity. The signer has to sign a different
	// derivation message version.
	ErrDerivationDegenerate = errors.New("derived scalar is degenerate")
	// ErrInvalidCurvePoint is returned when stored or announced bytes do not
	// describe a point on secp256k1.
	ErrInvalidCurvePoint = errors.New("invalid curve point")
	// ErrTransportFailure wraps errors of the announcement source. The scan
	// may be retried with backoff; the cursor has not moved.
	ErrTransportFailure = errors.New("announcement source failure")
	// ErrRecoveryMismatch is returned when an announcement was not addressed to
	// the receiver's keys. It is the expected outcome for most announcements.
	ErrRecoveryMismatch = errors.New("announcement not addressed to these keys")

	// ErrIdentityExists is returned when an identity is registered twice
	ErrIdentityExists = errors.New("identity already registered")
	// ErrIdentityNotFound is returned for unknown identities
	ErrIdentityNotFound = errors.New("identity not found")
	// ErrServiceRunning is returned when the scan loop is started twice
	ErrServiceRunning = errors.New("stealth service already running")
	// ErrKeysRequired is returned when a receiver is built without a viewing key
	ErrKeysRequired = errors.New("viewing key and spending public key required")
)
