// Copyright 2024 The Mist Authors
// This file is part of the Mist library.

package rpc

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"

	"github.com/vaniiiii/mist/accounts/keystore"
	"github.com/vaniiiii/mist/params"
	"github.com/vaniiiii/mist/stealth"
)

// Common errors
var (
	ErrNoState        = errors.New("no key state stored")
	ErrNoPrivateState = errors.New("stored key state has no private keys")
	ErrNotWatching    = errors.New("stored identity is not being scanned")
)

// KeyStore is the key material storage used by the API. It is satisfied
// by *keystore.Store.
type KeyStore interface {
	Get() (*keystore.KeyMaterial, error)
	GetPublic() (*keystore.KeyMaterial, error)
	Update(km *keystore.KeyMaterial) error
	Clear() error
}

// KeyState is the key material exchanged with the wallet host. Public keys
// may be compressed or uncompressed. Private keys are optional.
type KeyState struct {
	SpendingPublicKey  hexutil.Bytes  `json:"spendingPublicKey"`
	ViewingPublicKey   hexutil.Bytes  `json:"viewingPublicKey"`
	SpendingPrivateKey *hexutil.Bytes `json:"spendingPrivateKey,omitempty"`
	ViewingPrivateKey  *hexutil.Bytes `json:"viewingPrivateKey,omitempty"`
}

// StateInfo describes the stored key material without its secrets
type StateInfo struct {
	Identity          common.Address `json:"identity"`
	MetaAddress       string         `json:"metaAddress"`
	SpendingPublicKey hexutil.Bytes  `json:"spendingPublicKey"`
	ViewingPublicKey  hexutil.Bytes  `json:"viewingPublicKey"`
	CanView           bool           `json:"canView"`
	CanSpend          bool           `json:"canSpend"`
}

// StealthOutput is a freshly computed payment destination
type StealthOutput struct {
	StealthAddress  common.Address `json:"stealthAddress"`
	EphemeralPubKey hexutil.Bytes  `json:"ephemeralPubKey"`
	ViewTag         hexutil.Uint   `json:"viewTag"`
	Metadata        hexutil.Bytes  `json:"metadata"`
}

// PaymentInfo is a detected payment
type PaymentInfo struct {
	StealthAddress  common.Address `json:"stealthAddress"`
	Caller          common.Address `json:"caller"`
	EphemeralPubKey hexutil.Bytes  `json:"ephemeralPubKey"`
	Metadata        hexutil.Bytes  `json:"metadata"`
	BlockNumber     hexutil.Uint64 `json:"blockNumber"`
	TxHash          common.Hash    `json:"transactionHash"`
	LogIndex        hexutil.Uint   `json:"logIndex"`
	Value           *hexutil.Big   `json:"value,omitempty"`
}

// RecoverArgs names an announcement to recover the spending key of
type RecoverArgs struct {
	EphemeralPubKey hexutil.Bytes  `json:"ephemeralPubKey"`
	StealthAddress  common.Address `json:"stealthAddress"`
}

// RecoveredKey is the private key controlling a stealth address
type RecoveredKey struct {
	Address    common.Address `json:"address"`
	PrivateKey hexutil.Bytes  `json:"privateKey"`
}

// MistAPI is the wallet-host API under the mist namespace
type MistAPI struct {
	store   KeyStore
	service *stealth.Service // may be nil
}

// NewMistAPI creates the wallet-host API. Without a service the scan
// endpoint is unavailable.
func NewMistAPI(store KeyStore, service *stealth.Service) *MistAPI {
	return &MistAPI{store: store, service: service}
}

// UpdateState replaces the stored key material. When the material can
// view, its identity replaces the previous one in the scanner.
func (api *MistAPI) UpdateState(state KeyState) (common.Address, error) {
	km, err := state.material()
	if err != nil {
		return common.Address{}, err
	}
	prev, err := api.store.GetPublic()
	if err != nil && !errors.Is(err, keystore.ErrNoKeyMaterial) {
		return common.Address{}, err
	}
	if err := api.store.Update(km); err != nil {
		return common.Address{}, err
	}
	keys := km.StealthKeys()
	id := keys.Identity()

	if api.service != nil {
		if prev != nil {
			api.unwatch(prev.StealthKeys().Identity())
		}
		if km.ViewingPrivateKey != nil {
			if _, err := api.service.Register(keys); err != nil && !errors.Is(err, stealth.ErrIdentityExists) {
				return id, err
			}
		}
	}
	log.Info("Key state updated", "identity", id, "view", km.ViewingPrivateKey != nil, "spend", km.SpendingPrivateKey != nil)
	return id, nil
}

// GetState returns the public view of the stored key material, or null
// when nothing is stored
func (api *MistAPI) GetState() (*StateInfo, error) {
	km, err := api.store.Get()
	if errors.Is(err, keystore.ErrNoKeyMaterial) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &StateInfo{
		Identity:          km.StealthKeys().Identity(),
		MetaAddress:       km.MetaAddress().String(),
		SpendingPublicKey: stealth.CompressPublicKey(km.SpendingPublicKey),
		ViewingPublicKey:  stealth.CompressPublicKey(km.ViewingPublicKey),
		CanView:           km.ViewingPrivateKey != nil,
		CanSpend:          km.SpendingPrivateKey != nil,
	}, nil
}

// ClearState removes the stored key material and stops scanning for it
func (api *MistAPI) ClearState() error {
	prev, err := api.store.GetPublic()
	if err != nil && !errors.Is(err, keystore.ErrNoKeyMaterial) {
		return err
	}
	if err := api.store.Clear(); err != nil {
		return err
	}
	if prev != nil && api.service != nil {
		api.unwatch(prev.StealthKeys().Identity())
	}
	return nil
}

func (api *MistAPI) unwatch(id common.Address) {
	if err := api.service.Unregister(id); err != nil && !errors.Is(err, stealth.ErrIdentityNotFound) {
		log.Warn("Failed to stop scanning identity", "identity", id, "err", err)
	}
}

// MetaAddress returns the st:eth: meta-address of the stored keys
func (api *MistAPI) MetaAddress() (string, error) {
	km, err := api.public()
	if err != nil {
		return "", err
	}
	return km.MetaAddress().String(), nil
}

// ComputeStealthAddress computes a fresh stealth address for the given
// meta-address
func (api *MistAPI) ComputeStealthAddress(metaAddress string) (*StealthOutput, error) {
	meta, err := stealth.ParseMetaAddress(metaAddress)
	if err != nil {
		return nil, err
	}
	out, err := stealth.GenerateStealthAddress(meta, rand.Reader)
	if err != nil {
		return nil, err
	}
	return &StealthOutput{
		StealthAddress:  out.Address,
		EphemeralPubKey: out.EphemeralPubKey,
		ViewTag:         hexutil.Uint(out.ViewTag),
		Metadata:        out.Metadata(),
	}, nil
}

// Scan runs one scan cycle for the stored identity and returns the new
// payments
func (api *MistAPI) Scan(ctx context.Context) ([]*PaymentInfo, error) {
	if api.service == nil {
		return nil, ErrNotWatching
	}
	km, err := api.public()
	if err != nil {
		return nil, err
	}
	payments, err := api.service.ScanIdentity(ctx, km.StealthKeys().Identity())
	if errors.Is(err, stealth.ErrIdentityNotFound) {
		return nil, ErrNotWatching
	}
	if err != nil {
		return nil, err
	}
	infos := make([]*PaymentInfo, len(payments))
	for i, p := range payments {
		infos[i] = newPaymentInfo(p)
	}
	return infos, nil
}

// Recover returns the private key of the stealth address announced with
// the given ephemeral key
func (api *MistAPI) Recover(args RecoverArgs) (*RecoveredKey, error) {
	km, err := api.store.Get()
	if errors.Is(err, keystore.ErrNoKeyMaterial) {
		return nil, ErrNoState
	}
	if err != nil {
		return nil, err
	}
	if km.SpendingPrivateKey == nil || km.ViewingPrivateKey == nil {
		return nil, ErrNoPrivateState
	}
	priv, err := stealth.RecoverPrivateKey(args.EphemeralPubKey, km.ViewingPrivateKey, km.SpendingPrivateKey, args.StealthAddress)
	if err != nil {
		return nil, err
	}
	return &RecoveredKey{
		Address:    crypto.PubkeyToAddress(priv.PublicKey),
		PrivateKey: crypto.FromECDSA(priv),
	}, nil
}

// Protocol returns the protocol parameters the client implements
func (api *MistAPI) Protocol() map[string]interface{} {
	return map[string]interface{}{
		"schemeId":      hexutil.Uint64(params.SchemeID),
		"metaPrefix":    params.MetaAddressPrefix,
		"lookback":      hexutil.Uint64(params.DefaultLookbackBlocks),
		"clientVersion": params.VersionWithMeta,
	}
}

func (api *MistAPI) public() (*keystore.KeyMaterial, error) {
	km, err := api.store.GetPublic()
	if errors.Is(err, keystore.ErrNoKeyMaterial) {
		return nil, ErrNoState
	}
	return km, err
}

func newPaymentInfo(p *stealth.Payment) *PaymentInfo {
	info := &PaymentInfo{
		StealthAddress:  p.StealthAddress,
		Caller:          p.Caller,
		EphemeralPubKey: p.EphemeralPubKey,
		Metadata:        p.Metadata,
		BlockNumber:     hexutil.Uint64(p.BlockNumber),
		TxHash:          p.TxHash,
		LogIndex:        hexutil.Uint(p.LogIndex),
	}
	if p.Value != nil {
		info.Value = (*hexutil.Big)(p.Value.ToBig())
	}
	return info
}

// material converts the wire state into key material. Missing public keys
// are derived from their private halves.
func (s *KeyState) material() (*keystore.KeyMaterial, error) {
	km := new(keystore.KeyMaterial)
	var err error
	switch {
	case s.SpendingPrivateKey != nil && s.ViewingPrivateKey != nil:
		keys, err := stealth.KeysFromPrivate(*s.SpendingPrivateKey, *s.ViewingPrivateKey)
		if err != nil {
			return nil, err
		}
		km.SpendingPrivateKey, km.ViewingPrivateKey = keys.Spending.PrivateKey, keys.Viewing.PrivateKey
	case s.SpendingPrivateKey != nil:
		if km.SpendingPrivateKey, err = crypto.ToECDSA(*s.SpendingPrivateKey); err != nil {
			return nil, fmt.Errorf("%w: %w", stealth.ErrInvalidSpendKey, err)
		}
	case s.ViewingPrivateKey != nil:
		if km.ViewingPrivateKey, err = crypto.ToECDSA(*s.ViewingPrivateKey); err != nil {
			return nil, fmt.Errorf("%w: %w", stealth.ErrInvalidViewKey, err)
		}
	}
	if km.SpendingPublicKey, err = publicKey(s.SpendingPublicKey, km.SpendingPrivateKey); err != nil {
		return nil, fmt.Errorf("spending public key: %w", err)
	}
	if km.ViewingPublicKey, err = publicKey(s.ViewingPublicKey, km.ViewingPrivateKey); err != nil {
		return nil, fmt.Errorf("viewing public key: %w", err)
	}
	return km, nil
}

func publicKey(raw []byte, priv *ecdsa.PrivateKey) (*ecdsa.PublicKey, error) {
	switch {
	case len(raw) == 0 && priv != nil:
		return &priv.PublicKey, nil
	case len(raw) == params.CompressedPubKeyLength:
		return stealth.DecompressPublicKey(raw)
	case len(raw) == 65:
		return crypto.UnmarshalPubkey(raw)
	}
	return nil, stealth.ErrInvalidKey
}
