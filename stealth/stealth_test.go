// Copyright 2024 The Mist Authors
// This file is part of the Mist library.

package stealth

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/vaniiiii/mist/params"
)

func testSignature(t *testing.T) []byte {
	t.Helper()
	account, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("Failed to generate account key: %v", err)
	}
	msg := params.DefaultDerivationMessage(params.SepoliaPreset.ChainID).Text()
	sig, err := crypto.Sign(accounts.TextHash([]byte(msg)), account)
	if err != nil {
		t.Fatalf("Failed to sign derivation message: %v", err)
	}
	return sig
}

func TestDeriveKeysDeterministic(t *testing.T) {
	sig := testSignature(t)

	a, err := DeriveKeys(sig)
	if err != nil {
		t.Fatalf("Failed to derive keys: %v", err)
	}
	b, err := DeriveKeys(sig)
	if err != nil {
		t.Fatalf("Failed to derive keys: %v", err)
	}
	if a.Spending.PrivateKey.D.Cmp(b.Spending.PrivateKey.D) != 0 {
		t.Error("Spending keys differ between derivations")
	}
	if a.Viewing.PrivateKey.D.Cmp(b.Viewing.PrivateKey.D) != 0 {
		t.Error("Viewing keys differ between derivations")
	}
	if !a.MetaAddress().Equal(b.MetaAddress()) {
		t.Error("Meta-addresses differ between derivations")
	}
}

func TestDeriveKeysFromHalves(t *testing.T) {
	sig := testSignature(t)
	keys, err := DeriveKeys(sig)
	if err != nil {
		t.Fatalf("Failed to derive keys: %v", err)
	}

	h1 := sha256.Sum256(sig[:32])
	h2 := sha256.Sum256(sig[32:64])
	wantSpend := new(big.Int).Mod(new(big.Int).SetBytes(h1[:]), curveN)
	wantView := new(big.Int).Mod(new(big.Int).SetBytes(h2[:]), curveN)

	if keys.Spending.PrivateKey.D.Cmp(wantSpend) != 0 {
		t.Errorf("Spending key mismatch: have %x, want %x", keys.Spending.PrivateKey.D, wantSpend)
	}
	if keys.Viewing.PrivateKey.D.Cmp(wantView) != 0 {
		t.Errorf("Viewing key mismatch: have %x, want %x", keys.Viewing.PrivateKey.D, wantView)
	}

	// Public halves are the private scalars times G
	x, y := crypto.S256().ScalarBaseMult(math.PaddedBigBytes(wantSpend, 32))
	if x.Cmp(keys.Spending.PublicKey.X) != 0 || y.Cmp(keys.Spending.PublicKey.Y) != 0 {
		t.Error("Spending public key is not d*G")
	}

	// The recovery byte takes no part
	flipped := common.CopyBytes(sig)
	flipped[64] ^= 1
	other, err := DeriveKeys(flipped)
	if err != nil {
		t.Fatalf("Failed to derive keys: %v", err)
	}
	if !other.MetaAddress().Equal(keys.MetaAddress()) {
		t.Error("Recovery byte changed the derived keys")
	}
}

func TestDeriveKeysInvalidSignature(t *testing.T) {
	for _, n := range []int{0, 64, 66} {
		if _, err := DeriveKeys(make([]byte, n)); !errors.Is(err, ErrInvalidSignature) {
			t.Errorf("length %d: expected ErrInvalidSignature, got %v", n, err)
		}
	}
}

func TestScalarFromDigestDegenerate(t *testing.T) {
	var n, zero [32]byte
	curveN.FillBytes(n[:])

	for _, digest := range [][32]byte{n, zero} {
		if _, err := scalarFromDigest(digest); !errors.Is(err, ErrDerivationDegenerate) {
			t.Errorf("digest %x: expected ErrDerivationDegenerate, got %v", digest, err)
		}
	}

	// n+1 reduces to one
	var n1 [32]byte
	new(big.Int).Add(curveN, big.NewInt(1)).FillBytes(n1[:])
	key, err := scalarFromDigest(n1)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if key.D.Cmp(big.NewInt(1)) != 0 {
		t.Errorf("Expected scalar 1, got %x", key.D)
	}
}

func TestECDHSymmetry(t *testing.T) {
	for i := 0; i < 100; i++ {
		r, _ := crypto.GenerateKey()
		v, _ := crypto.GenerateKey()

		x1, y1 := SharedSecretPoint(r, &v.PublicKey)
		x2, y2 := SharedSecretPoint(v, &r.PublicKey)
		if x1.Cmp(x2) != 0 || y1.Cmp(y2) != 0 {
			t.Fatalf("trial %d: r*V != v*R", i)
		}
		if !bytes.Equal(SharedSecret(r, &v.PublicKey), SharedSecret(v, &r.PublicKey)) {
			t.Fatalf("trial %d: shared secret hashes differ", i)
		}
	}
}

func TestMetaAddressString(t *testing.T) {
	keys, err := GenerateStealthKeys(rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate keys: %v", err)
	}
	meta := keys.MetaAddress()

	str := meta.String()
	if !strings.HasPrefix(str, params.MetaAddressPrefix) {
		t.Errorf("Invalid meta address format: %s", str)
	}
	if len(str) != len(params.MetaAddressPrefix)+4*params.CompressedPubKeyLength {
		t.Errorf("Unexpected meta address length %d", len(str))
	}

	parsed, err := ParseMetaAddress(str)
	if err != nil {
		t.Fatalf("Failed to parse meta address: %v", err)
	}
	if !parsed.Equal(meta) {
		t.Error("Parsed meta-address differs from the original")
	}
}

func TestParseMetaAddressInvalid(t *testing.T) {
	keys, _ := GenerateStealthKeys(rand.Reader)
	valid := keys.MetaAddress().String()

	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"empty", "", ErrInvalidMetaAddress},
		{"wrong prefix", "st:obs:0x" + valid[len(params.MetaAddressPrefix):], ErrInvalidMetaAddress},
		{"short", valid[:len(valid)-2], ErrInvalidMetaAddress},
		{"not hex", valid[:len(valid)-1] + "z", ErrInvalidMetaAddress},
		{"bad point", params.MetaAddressPrefix + "04" + valid[len(params.MetaAddressPrefix)+2:], ErrInvalidCurvePoint},
	}
	for _, tt := range tests {
		if _, err := ParseMetaAddress(tt.input); !errors.Is(err, tt.want) {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.want, err)
		}
	}
}

func TestPointCodecRoundTrip(t *testing.T) {
	for i := 0; i < 200; i++ {
		key, _ := crypto.GenerateKey()

		prefix, x := EncodePoint(&key.PublicKey)
		if prefix != prefixEven && prefix != prefixOdd {
			t.Fatalf("Unexpected prefix 0x%02x", prefix)
		}
		if x.Cmp(key.PublicKey.X) != 0 {
			t.Fatal("x-coordinate not preserved")
		}
		pub, err := DecodePoint(prefix, x)
		if err != nil {
			t.Fatalf("Failed to decode point: %v", err)
		}
		if !samePoint(pub, &key.PublicKey) {
			t.Fatal("Decoded point differs from the original")
		}
	}
}

func TestDecodePointInvalid(t *testing.T) {
	key, _ := crypto.GenerateKey()
	_, x := EncodePoint(&key.PublicKey)

	// Find an x with no point on the curve: x^3 + 7 is not a square
	noPoint := big.NewInt(1)
	for {
		rhs := new(big.Int).Exp(noPoint, big.NewInt(3), curveP)
		rhs.Add(rhs, big.NewInt(7)).Mod(rhs, curveP)
		if new(big.Int).ModSqrt(rhs, curveP) == nil {
			break
		}
		noPoint.Add(noPoint, big.NewInt(1))
	}

	tests := []struct {
		name   string
		prefix byte
		x      *big.Int
	}{
		{"uncompressed prefix", 0x04, x},
		{"zero prefix", 0x00, x},
		{"nil x", prefixEven, nil},
		{"negative x", prefixEven, big.NewInt(-1)},
		{"x equals p", prefixEven, new(big.Int).Set(curveP)},
		{"x above p", prefixOdd, new(big.Int).Add(curveP, big.NewInt(5))},
		{"x off curve", prefixEven, noPoint},
	}
	for _, tt := range tests {
		if _, err := DecodePoint(tt.prefix, tt.x); !errors.Is(err, ErrInvalidCurvePoint) {
			t.Errorf("%s: expected ErrInvalidCurvePoint, got %v", tt.name, err)
		}
	}
}

func TestRegistryEntryRoundTrip(t *testing.T) {
	keys, _ := GenerateStealthKeys(rand.Reader)
	meta := keys.MetaAddress()

	entry := EncodeMetaAddress(meta)
	if entry.IsEmpty() {
		t.Fatal("Encoded entry reported empty")
	}
	decoded, err := DecodeMetaAddress(entry)
	if err != nil {
		t.Fatalf("Failed to decode entry: %v", err)
	}
	if !decoded.Equal(meta) {
		t.Error("Decoded meta-address differs from the original")
	}

	empty := &RegistryEntry{new(big.Int), new(big.Int), new(big.Int), new(big.Int)}
	if !empty.IsEmpty() {
		t.Error("Zero entry not reported empty")
	}
	if _, err := DecodeMetaAddress(empty); !errors.Is(err, ErrInvalidCurvePoint) {
		t.Errorf("Expected ErrInvalidCurvePoint for empty entry, got %v", err)
	}

	entry.ViewingPrefix = big.NewInt(0x102)
	if _, err := DecodeMetaAddress(entry); !errors.Is(err, ErrInvalidCurvePoint) {
		t.Errorf("Expected ErrInvalidCurvePoint for wide prefix word, got %v", err)
	}
}

func TestStealthCorrectness(t *testing.T) {
	const trials = 1000

	for i := 0; i < trials; i++ {
		keys, err := GenerateStealthKeys(rand.Reader)
		if err != nil {
			t.Fatalf("trial %d: failed to generate keys: %v", i, err)
		}
		out, err := GenerateStealthAddress(keys.MetaAddress(), rand.Reader)
		if err != nil {
			t.Fatalf("trial %d: failed to generate stealth address: %v", i, err)
		}
		priv, err := RecoverPrivateKey(out.EphemeralPubKey, keys.Viewing.PrivateKey, keys.Spending.PrivateKey, out.Address)
		if err != nil {
			t.Fatalf("trial %d: failed to recover key: %v", i, err)
		}
		// d*G == Q
		if !samePoint(&priv.PublicKey, out.StealthPubKey) {
			t.Fatalf("trial %d: d*G differs from the stealth public key", i)
		}
		if crypto.PubkeyToAddress(priv.PublicKey) != out.Address {
			t.Fatalf("trial %d: recovered key controls the wrong address", i)
		}
		ok, err := CheckViewTag(keys.Viewing.PrivateKey, out.EphemeralPubKey, out.ViewTag)
		if err != nil || !ok {
			t.Fatalf("trial %d: view tag rejected: %v", i, err)
		}
	}
}

func TestWatchOnlyComputation(t *testing.T) {
	keys, _ := GenerateStealthKeys(rand.Reader)
	out, err := GenerateStealthAddress(keys.MetaAddress(), rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate stealth address: %v", err)
	}

	pub, err := ComputeStealthPublicKey(keys.Viewing.PrivateKey, keys.Spending.PublicKey, out.EphemeralPubKey)
	if err != nil {
		t.Fatalf("Failed to compute stealth public key: %v", err)
	}
	if !samePoint(pub, out.StealthPubKey) {
		t.Error("Watch-only stealth public key differs from sender's")
	}
	addr, err := ComputeStealthAddress(keys.Viewing.PrivateKey, keys.Spending.PublicKey, out.EphemeralPubKey)
	if err != nil {
		t.Fatalf("Failed to compute stealth address: %v", err)
	}
	if addr != out.Address {
		t.Errorf("Watch-only address mismatch: have %s, want %s", addr.Hex(), out.Address.Hex())
	}
}

func TestOffsetKeysFromSecret(t *testing.T) {
	keys, _ := GenerateStealthKeys(rand.Reader)
	r, _ := crypto.GenerateKey()

	h, err := tweakScalar(SharedSecret(r, keys.Viewing.PublicKey))
	if err != nil {
		t.Fatalf("Failed to reduce shared secret: %v", err)
	}
	pub, err := offsetPublicKey(keys.Spending.PublicKey, h)
	if err != nil {
		t.Fatalf("Failed to offset spending public key: %v", err)
	}
	priv, err := offsetPrivateKey(keys.Spending.PrivateKey, h)
	if err != nil {
		t.Fatalf("Failed to offset spending private key: %v", err)
	}
	if !samePoint(pub, &priv.PublicKey) {
		t.Error("Stealth private key does not match stealth public key")
	}

	if _, err := tweakScalar(make([]byte, 32)); !errors.Is(err, ErrDerivationDegenerate) {
		t.Errorf("Expected ErrDerivationDegenerate for zero secret, got %v", err)
	}
}

func TestRecoverMismatch(t *testing.T) {
	for i := 0; i < 100; i++ {
		recipient, _ := GenerateStealthKeys(rand.Reader)
		stranger, _ := GenerateStealthKeys(rand.Reader)

		out, err := GenerateStealthAddress(recipient.MetaAddress(), rand.Reader)
		if err != nil {
			t.Fatalf("Failed to generate stealth address: %v", err)
		}
		_, err = RecoverPrivateKey(out.EphemeralPubKey, stranger.Viewing.PrivateKey, stranger.Spending.PrivateKey, out.Address)
		if !errors.Is(err, ErrRecoveryMismatch) {
			t.Fatalf("trial %d: expected ErrRecoveryMismatch, got %v", i, err)
		}
		// Right spending key with the wrong viewing key also misses
		_, err = RecoverPrivateKey(out.EphemeralPubKey, stranger.Viewing.PrivateKey, recipient.Spending.PrivateKey, out.Address)
		if !errors.Is(err, ErrRecoveryMismatch) {
			t.Fatalf("trial %d: expected ErrRecoveryMismatch with foreign view key, got %v", i, err)
		}
	}
}

func TestRecoverInvalidEphemeral(t *testing.T) {
	keys, _ := GenerateStealthKeys(rand.Reader)
	out, _ := GenerateStealthAddress(keys.MetaAddress(), rand.Reader)

	bad := [][]byte{
		nil,
		out.EphemeralPubKey[:32],
		append([]byte{0x04}, out.EphemeralPubKey[1:]...),
		crypto.FromECDSAPub(&keys.Viewing.PrivateKey.PublicKey),
	}
	for i, eph := range bad {
		_, err := RecoverPrivateKey(eph, keys.Viewing.PrivateKey, keys.Spending.PrivateKey, out.Address)
		if !errors.Is(err, ErrInvalidCurvePoint) {
			t.Errorf("case %d: expected ErrInvalidCurvePoint, got %v", i, err)
		}
	}
}

func TestGenerateStealthAddressInvalid(t *testing.T) {
	keys, _ := GenerateStealthKeys(rand.Reader)
	meta := keys.MetaAddress()

	if _, err := GenerateStealthAddress(nil, rand.Reader); !errors.Is(err, ErrMissingMetaAddress) {
		t.Errorf("Expected ErrMissingMetaAddress, got %v", err)
	}
	for _, d := range []*big.Int{big.NewInt(0), new(big.Int).Set(curveN)} {
		eph := &ecdsa.PrivateKey{PublicKey: ecdsa.PublicKey{Curve: crypto.S256()}, D: d}
		if _, err := GenerateStealthAddressWithEphemeral(meta, eph); !errors.Is(err, ErrInvalidEphemeralKey) {
			t.Errorf("d=%x: expected ErrInvalidEphemeralKey, got %v", d, err)
		}
	}
}

func TestGenerateStealthAddressFixedEphemeral(t *testing.T) {
	keys, _ := GenerateStealthKeys(rand.Reader)
	eph, _ := crypto.GenerateKey()

	a, err := GenerateStealthAddressWithEphemeral(keys.MetaAddress(), eph)
	if err != nil {
		t.Fatalf("Failed to generate stealth address: %v", err)
	}
	b, err := GenerateStealthAddressWithEphemeral(keys.MetaAddress(), eph)
	if err != nil {
		t.Fatalf("Failed to generate stealth address: %v", err)
	}
	if a.Address != b.Address || !bytes.Equal(a.EphemeralPubKey, b.EphemeralPubKey) {
		t.Error("Same ephemeral key produced different outputs")
	}
	if !bytes.Equal(a.EphemeralPubKey, crypto.CompressPubkey(&eph.PublicKey)) {
		t.Error("Ephemeral public key is not r*G")
	}
	if !bytes.Equal(a.Metadata(), []byte{a.ViewTag}) {
		t.Error("Metadata does not lead with the view tag")
	}

	// Fresh ephemeral keys give unlinkable addresses
	c, _ := GenerateStealthAddress(keys.MetaAddress(), rand.Reader)
	if c.Address == a.Address {
		t.Error("Different ephemeral keys produced the same address")
	}
}

func TestKeysFromHex(t *testing.T) {
	keys, _ := GenerateStealthKeys(rand.Reader)
	spendHex := common.Bytes2Hex(crypto.FromECDSA(keys.Spending.PrivateKey))
	viewHex := common.Bytes2Hex(crypto.FromECDSA(keys.Viewing.PrivateKey))

	restored, err := KeysFromHex("0x"+spendHex, viewHex)
	if err != nil {
		t.Fatalf("Failed to restore keys: %v", err)
	}
	if restored.Identity() != keys.Identity() {
		t.Error("Restored identity differs")
	}
	if _, err := KeysFromHex("zz", viewHex); !errors.Is(err, ErrInvalidSpendKey) {
		t.Errorf("Expected ErrInvalidSpendKey, got %v", err)
	}
	if _, err := KeysFromPrivate(crypto.FromECDSA(keys.Spending.PrivateKey), make([]byte, 32)); !errors.Is(err, ErrInvalidViewKey) {
		t.Errorf("Expected ErrInvalidViewKey, got %v", err)
	}
}
