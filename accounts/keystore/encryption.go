// Copyright 2024 The Mist Authors
// This file is part of the Mist library.

package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"golang.org/x/crypto/scrypt"
)

const (
	// StandardScryptN is the N parameter of Scrypt encryption algorithm, using 256MB
	// memory and taking approximately 1s CPU time on a modern processor.
	StandardScryptN = 1 << 18

	// StandardScryptP is the P parameter of Scrypt encryption algorithm, using 256MB
	// memory and taking approximately 1s CPU time on a modern processor.
	StandardScryptP = 1

	// LightScryptN is the N parameter of Scrypt encryption algorithm, using 4MB
	// memory and taking approximately 100ms CPU time on a modern processor.
	LightScryptN = 1 << 12

	// LightScryptP is the P parameter of Scrypt encryption algorithm, using 4MB
	// memory and taking approximately 100ms CPU time on a modern processor.
	LightScryptP = 6

	scryptR     = 8
	scryptDKLen = 32

	// Key file version
	keyFileVersion = 3
)

var (
	ErrDecryptFailed = errors.New("could not decrypt key with given password")
	ErrMACMismatch   = errors.New("MAC verification failed")
)

// Key is a private key together with its record identifier
type Key struct {
	ID         uuid.UUID
	Address    common.Address
	PrivateKey *ecdsa.PrivateKey
}

// newKey wraps a private key with a fresh random identifier
func newKey(priv *ecdsa.PrivateKey) *Key {
	return &Key{
		ID:         uuid.New(),
		Address:    crypto.PubkeyToAddress(priv.PublicKey),
		PrivateKey: priv,
	}
}

type encryptedKeyJSON struct {
	Address string     `json:"address"`
	Crypto  cryptoJSON `json:"crypto"`
	ID      string     `json:"id"`
	Version int        `json:"version"`
}

type cryptoJSON struct {
	Cipher       string           `json:"cipher"`
	CipherText   string           `json:"ciphertext"`
	CipherParams cipherparamsJSON `json:"cipherparams"`
	KDF          string           `json:"kdf"`
	KDFParams    scryptParamsJSON `json:"kdfparams"`
	MAC          string           `json:"mac"`
}

type cipherparamsJSON struct {
	IV string `json:"iv"`
}

type scryptParamsJSON struct {
	N     int    `json:"n"`
	R     int    `json:"r"`
	P     int    `json:"p"`
	DKLen int    `json:"dklen"`
	Salt  string `json:"salt"`
}

// EncryptKey encrypts a key with a password using scrypt and AES-128-CTR
func EncryptKey(key *Key, password string, scryptN, scryptP int) (*encryptedKeyJSON, error) {
	// Generate random salt
	salt, err := GenerateRandomBytes(32)
	if err != nil {
		return nil, err
	}

	// Derive key using scrypt
	derivedKey, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, scryptDKLen)
	if err != nil {
		return nil, err
	}

	// First half of derived key is encryption key
	encryptKey := derivedKey[:16]

	// Generate random IV
	iv, err := GenerateRandomBytes(aes.BlockSize)
	if err != nil {
		return nil, err
	}

	// Encrypt private key
	privateKeyBytes := math.PaddedBigBytes(key.PrivateKey.D, 32)
	defer clear(privateKeyBytes)
	cipherText, err := aesCTRXOR(encryptKey, privateKeyBytes, iv)
	if err != nil {
		return nil, err
	}

	// Generate MAC: Keccak256(derivedKey[16:32] + cipherText)
	mac := crypto.Keccak256(derivedKey[16:32], cipherText)

	return &encryptedKeyJSON{
		Address: hex.EncodeToString(key.Address[:]),
		ID:      key.ID.String(),
		Version: keyFileVersion,
		Crypto: cryptoJSON{
			Cipher: "aes-128-ctr",
			CipherParams: cipherparamsJSON{
				IV: hex.EncodeToString(iv),
			},
			CipherText: hex.EncodeToString(cipherText),
			KDF:        "scrypt",
			KDFParams: scryptParamsJSON{
				N:     scryptN,
				R:     scryptR,
				P:     scryptP,
				DKLen: scryptDKLen,
				Salt:  hex.EncodeToString(salt),
			},
			MAC: hex.EncodeToString(mac),
		},
	}, nil
}

// DecryptKey decrypts an encrypted key JSON with a password
func DecryptKey(encryptedKey *encryptedKeyJSON, password string) (*Key, error) {
	if encryptedKey.Version != keyFileVersion {
		return nil, fmt.Errorf("unsupported key file version: %d", encryptedKey.Version)
	}

	if encryptedKey.Crypto.Cipher != "aes-128-ctr" {
		return nil, fmt.Errorf("unsupported cipher: %s", encryptedKey.Crypto.Cipher)
	}

	if encryptedKey.Crypto.KDF != "scrypt" {
		return nil, fmt.Errorf("unsupported KDF: %s", encryptedKey.Crypto.KDF)
	}

	kdf := encryptedKey.Crypto.KDFParams
	salt, err := hex.DecodeString(kdf.Salt)
	if err != nil {
		return nil, err
	}
	if kdf.DKLen != scryptDKLen {
		return nil, fmt.Errorf("unsupported derived key length: %d", kdf.DKLen)
	}

	// Derive key using scrypt
	derivedKey, err := scrypt.Key([]byte(password), salt, kdf.N, kdf.R, kdf.P, kdf.DKLen)
	if err != nil {
		return nil, err
	}

	// Verify MAC
	cipherText, err := hex.DecodeString(encryptedKey.Crypto.CipherText)
	if err != nil {
		return nil, err
	}

	mac, err := hex.DecodeString(encryptedKey.Crypto.MAC)
	if err != nil {
		return nil, err
	}

	calculatedMAC := crypto.Keccak256(derivedKey[16:32], cipherText)
	if subtle.ConstantTimeCompare(mac, calculatedMAC) != 1 {
		return nil, ErrMACMismatch
	}

	// Decrypt private key
	iv, err := hex.DecodeString(encryptedKey.Crypto.CipherParams.IV)
	if err != nil {
		return nil, err
	}

	encryptKey := derivedKey[:16]
	privateKeyBytes, err := aesCTRXOR(encryptKey, cipherText, iv)
	if err != nil {
		return nil, err
	}
	defer clear(privateKeyBytes)

	// Parse private key
	privateKey, err := crypto.ToECDSA(privateKeyBytes)
	if err != nil {
		return nil, ErrDecryptFailed
	}

	// Parse UUID
	id, err := uuid.Parse(encryptedKey.ID)
	if err != nil {
		return nil, err
	}

	// Verify address matches
	address := common.HexToAddress(encryptedKey.Address)
	if crypto.PubkeyToAddress(privateKey.PublicKey) != address {
		return nil, errors.New("address mismatch")
	}

	return &Key{
		ID:         id,
		Address:    address,
		PrivateKey: privateKey,
	}, nil
}

// GenerateRandomBytes reads n bytes from the system random source
func GenerateRandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, err
	}
	return b, nil
}

// aesCTRXOR performs AES-128-CTR encryption/decryption
func aesCTRXOR(key, input, iv []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	stream := cipher.NewCTR(block, iv)
	output := make([]byte, len(input))
	stream.XORKeyStream(output, input)

	return output, nil
}
