// Copyright 2024 The Mist Authors
// This file is part of the Mist library.

package rpc

import (
	"context"
	"crypto/rand"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaniiiii/mist/accounts/keystore"
	"github.com/vaniiiii/mist/core/rawdb"
	"github.com/vaniiiii/mist/health"
	"github.com/vaniiiii/mist/metrics"
	"github.com/vaniiiii/mist/stealth"
)

// memorySource is an in-memory announcement log
type memorySource struct {
	mu   sync.Mutex
	head uint64
	anns []*stealth.Announcement
}

func (s *memorySource) ChainHead(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.head, nil
}

func (s *memorySource) Announcements(ctx context.Context, schemeID *big.Int, from, to uint64) ([]*stealth.Announcement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*stealth.Announcement
	for _, a := range s.anns {
		if a.BlockNumber >= from && a.BlockNumber <= to && a.SchemeID.Cmp(schemeID) == 0 {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *memorySource) pay(t *testing.T, meta *stealth.MetaAddress, block uint64, value uint64) *stealth.StealthOutput {
	t.Helper()
	out, err := stealth.GenerateStealthAddress(meta, rand.Reader)
	require.NoError(t, err)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.anns = append(s.anns, &stealth.Announcement{
		SchemeID:        big.NewInt(1),
		StealthAddress:  out.Address,
		Caller:          common.HexToAddress("0xca11e4"),
		EphemeralPubKey: out.EphemeralPubKey,
		Metadata:        out.Metadata(),
		BlockNumber:     block,
		TxHash:          common.BigToHash(big.NewInt(int64(len(s.anns) + 1))),
		Value:           uint256.NewInt(value),
	})
	return out
}

type testBackend struct {
	source  *memorySource
	db      *rawdb.Database
	service *stealth.Service
	client  *rpc.Client
}

func newTestBackend(t *testing.T) *testBackend {
	t.Helper()
	return newTestBackendWithPassphrase(t, "secret")
}

func newTestBackendWithPassphrase(t *testing.T, passphrase string) *testBackend {
	t.Helper()
	source := &memorySource{head: 10}
	db := rawdb.NewMemoryDatabase()
	scans := rawdb.NewScanStore(db)
	service := stealth.NewService(source, stealth.DefaultScannerConfig(), scans, scans, nil)
	store := keystore.NewStore(db, passphrase, keystore.LightScryptN, keystore.LightScryptP)

	monitor := health.New()
	monitor.Register(&health.StoreCheck{DB: db}, true)

	srv, err := NewServer(APIs(NewMistAPI(store, service), NewAdmin(monitor, metrics.NewMetricsRegistry(), service), nil))
	require.NoError(t, err)
	client := rpc.DialInProc(srv)
	t.Cleanup(func() {
		client.Close()
		srv.Stop()
		db.Close()
	})
	return &testBackend{source: source, db: db, service: service, client: client}
}

func keyState(keys *stealth.StealthKeys, withPrivate bool) KeyState {
	state := KeyState{
		SpendingPublicKey: crypto.FromECDSAPub(keys.Spending.PublicKey),
		ViewingPublicKey:  stealth.CompressPublicKey(keys.Viewing.PublicKey),
	}
	if withPrivate {
		spend := hexutil.Bytes(crypto.FromECDSA(keys.Spending.PrivateKey))
		view := hexutil.Bytes(crypto.FromECDSA(keys.Viewing.PrivateKey))
		state.SpendingPrivateKey, state.ViewingPrivateKey = &spend, &view
	}
	return state
}

func TestStateLifecycle(t *testing.T) {
	b := newTestBackend(t)
	keys, err := stealth.GenerateStealthKeys(rand.Reader)
	require.NoError(t, err)

	var info *StateInfo
	require.NoError(t, b.client.Call(&info, "mist_getState"))
	assert.Nil(t, info)

	var id common.Address
	require.NoError(t, b.client.Call(&id, "mist_updateState", keyState(keys, true)))
	assert.Equal(t, keys.Identity(), id)
	assert.Equal(t, []common.Address{id}, b.service.Identities())

	require.NoError(t, b.client.Call(&info, "mist_getState"))
	require.NotNil(t, info)
	assert.True(t, info.CanView)
	assert.True(t, info.CanSpend)
	assert.Equal(t, keys.MetaAddress().String(), info.MetaAddress)

	var meta string
	require.NoError(t, b.client.Call(&meta, "mist_metaAddress"))
	assert.Equal(t, keys.MetaAddress().String(), meta)

	// Replacing the state moves the scanner to the new identity
	other, _ := stealth.GenerateStealthKeys(rand.Reader)
	require.NoError(t, b.client.Call(&id, "mist_updateState", keyState(other, true)))
	assert.Equal(t, []common.Address{other.Identity()}, b.service.Identities())

	require.NoError(t, b.client.Call(nil, "mist_clearState"))
	assert.Empty(t, b.service.Identities())
	require.NoError(t, b.client.Call(&info, "mist_getState"))
	assert.Nil(t, info)

	err = b.client.Call(&meta, "mist_metaAddress")
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrNoState.Error())
}

func TestUpdateStatePublicOnly(t *testing.T) {
	b := newTestBackend(t)
	keys, _ := stealth.GenerateStealthKeys(rand.Reader)

	var id common.Address
	require.NoError(t, b.client.Call(&id, "mist_updateState", keyState(keys, false)))
	assert.Empty(t, b.service.Identities(), "public keys alone cannot scan")

	var info *StateInfo
	require.NoError(t, b.client.Call(&info, "mist_getState"))
	assert.False(t, info.CanView)
	assert.False(t, info.CanSpend)

	var key *RecoveredKey
	err := b.client.Call(&key, "mist_recover", RecoverArgs{EphemeralPubKey: keys.Viewing.PublicKey.X.Bytes()})
	assert.Error(t, err)
}

func TestUpdateStateRejectsMismatch(t *testing.T) {
	b := newTestBackend(t)
	keys, _ := stealth.GenerateStealthKeys(rand.Reader)
	other, _ := stealth.GenerateStealthKeys(rand.Reader)

	state := keyState(keys, true)
	state.ViewingPublicKey = stealth.CompressPublicKey(other.Viewing.PublicKey)
	err := b.client.Call(nil, "mist_updateState", state)
	require.Error(t, err)
	assert.Contains(t, err.Error(), keystore.ErrKeyMismatch.Error())

	state.ViewingPublicKey = []byte{0x02, 0x01}
	assert.Error(t, b.client.Call(nil, "mist_updateState", state))
}

func TestUpdateStateRequiresPassphrase(t *testing.T) {
	b := newTestBackendWithPassphrase(t, "")
	keys, _ := stealth.GenerateStealthKeys(rand.Reader)

	err := b.client.Call(nil, "mist_updateState", keyState(keys, true))
	require.Error(t, err)
	assert.Contains(t, err.Error(), keystore.ErrNoPassphrase.Error())
	assert.Empty(t, b.service.Identities())

	var info *StateInfo
	require.NoError(t, b.client.Call(&info, "mist_getState"))
	assert.Nil(t, info)

	// Public halves are still accepted
	var id common.Address
	require.NoError(t, b.client.Call(&id, "mist_updateState", keyState(keys, false)))
	assert.Equal(t, keys.Identity(), id)
}

func TestKeyStateMaterial(t *testing.T) {
	keys, _ := stealth.GenerateStealthKeys(rand.Reader)

	state := keyState(keys, true)
	state.SpendingPublicKey, state.ViewingPublicKey = nil, nil
	km, err := state.material()
	require.NoError(t, err)
	assert.True(t, km.MetaAddress().Equal(keys.MetaAddress()))
	assert.True(t, km.HasPrivate())

	zero := hexutil.Bytes(make([]byte, 32))
	state.ViewingPrivateKey = &zero
	_, err = state.material()
	assert.ErrorIs(t, err, stealth.ErrInvalidViewKey)

	state = keyState(keys, false)
	state.SpendingPrivateKey = &zero
	_, err = state.material()
	assert.ErrorIs(t, err, stealth.ErrInvalidSpendKey)
}

func TestScanAndRecover(t *testing.T) {
	b := newTestBackend(t)
	keys, _ := stealth.GenerateStealthKeys(rand.Reader)
	stranger, _ := stealth.GenerateStealthKeys(rand.Reader)

	var payments []*PaymentInfo
	err := b.client.Call(&payments, "mist_scan")
	require.Error(t, err)

	require.NoError(t, b.client.Call(nil, "mist_updateState", keyState(keys, true)))

	// The sender computes the address through the API
	var out *StealthOutput
	require.NoError(t, b.client.Call(&out, "mist_computeStealthAddress", keys.MetaAddress().String()))
	b.source.mu.Lock()
	b.source.anns = append(b.source.anns, &stealth.Announcement{
		SchemeID:        big.NewInt(1),
		StealthAddress:  out.StealthAddress,
		EphemeralPubKey: out.EphemeralPubKey,
		Metadata:        out.Metadata,
		BlockNumber:     4,
		TxHash:          common.HexToHash("0xfeed"),
		Value:           uint256.NewInt(7),
	})
	b.source.mu.Unlock()
	b.source.pay(t, stranger.MetaAddress(), 5, 1)

	require.NoError(t, b.client.Call(&payments, "mist_scan"))
	require.Len(t, payments, 1)
	assert.Equal(t, out.StealthAddress, payments[0].StealthAddress)
	assert.Equal(t, hexutil.Uint64(4), payments[0].BlockNumber)
	assert.Equal(t, int64(7), payments[0].Value.ToInt().Int64())

	// Delivered payments are not reported again
	require.NoError(t, b.client.Call(&payments, "mist_scan"))
	assert.Empty(t, payments)

	var key *RecoveredKey
	require.NoError(t, b.client.Call(&key, "mist_recover", RecoverArgs{
		EphemeralPubKey: out.EphemeralPubKey,
		StealthAddress:  out.StealthAddress,
	}))
	assert.Equal(t, out.StealthAddress, key.Address)
	priv, err := crypto.ToECDSA(key.PrivateKey)
	require.NoError(t, err)
	assert.Equal(t, out.StealthAddress, crypto.PubkeyToAddress(priv.PublicKey))

	err = b.client.Call(&key, "mist_recover", RecoverArgs{
		EphemeralPubKey: out.EphemeralPubKey,
		StealthAddress:  common.HexToAddress("0x01"),
	})
	assert.Error(t, err)
}

func TestComputeStealthAddressInvalid(t *testing.T) {
	b := newTestBackend(t)
	var out *StealthOutput
	assert.Error(t, b.client.Call(&out, "mist_computeStealthAddress", "st:eth:0x1234"))
}

func TestAdminAPI(t *testing.T) {
	b := newTestBackend(t)
	keys, _ := stealth.GenerateStealthKeys(rand.Reader)
	require.NoError(t, b.client.Call(nil, "mist_updateState", keyState(keys, true)))
	require.NoError(t, b.client.Call(nil, "mist_scan"))

	var status struct {
		Status string `json:"status"`
		Checks []struct {
			Name    string `json:"name"`
			Healthy bool   `json:"healthy"`
		} `json:"checks"`
	}
	require.NoError(t, b.client.Call(&status, "admin_health"))
	assert.Equal(t, string(health.StatusHealthy), status.Status)
	require.Len(t, status.Checks, 1)
	assert.Equal(t, "store", status.Checks[0].Name)

	var ids []*IdentityStatus
	require.NoError(t, b.client.Call(&ids, "admin_identities"))
	require.Len(t, ids, 1)
	assert.Equal(t, keys.Identity(), ids[0].Identity)
	require.NotNil(t, ids[0].Cursor)
	assert.Equal(t, uint64(10), ids[0].Cursor.FromBlock)

	require.NoError(t, b.client.Call(nil, "admin_resetCursor", keys.Identity(), 3))
	require.NoError(t, b.client.Call(&ids, "admin_identities"))
	assert.Equal(t, uint64(3), ids[0].Cursor.FromBlock)

	var m metrics.Metrics
	require.NoError(t, b.client.Call(&m, "admin_metrics"))

	var v VersionInfo
	require.NoError(t, b.client.Call(&v, "admin_version"))
	assert.Equal(t, "Mist", v.Name)
}

func TestAPIFilter(t *testing.T) {
	mist := NewMistAPI(nil, nil)
	admin := NewAdmin(health.New(), metrics.NewMetricsRegistry(), nil)

	assert.Len(t, APIs(mist, admin, nil), 2)
	apis := APIs(mist, admin, []string{"mist"})
	require.Len(t, apis, 1)
	assert.Equal(t, "mist", apis[0].Namespace)
	assert.Empty(t, APIs(mist, nil, []string{"admin"}))
}

func TestHTTPServer(t *testing.T) {
	srv, err := NewServer(APIs(nil, NewAdmin(health.New(), metrics.NewMetricsRegistry(), nil), nil))
	require.NoError(t, err)
	h, err := StartHTTP("127.0.0.1:0", srv, []string{"http://localhost:*", "https://app.example"}, false)
	require.NoError(t, err)
	defer h.Shutdown(context.Background())

	url := "http://" + h.Addr().String()
	client, err := rpc.DialContext(context.Background(), url)
	require.NoError(t, err)
	defer client.Close()

	var v VersionInfo
	require.NoError(t, client.Call(&v, "admin_version"))
	assert.Equal(t, "Mist", v.Name)

	body := `{"jsonrpc":"2.0","id":1,"method":"admin_version","params":[]}`
	for origin, allowed := range map[string]bool{
		"http://localhost:3000": true,
		"https://app.example":   true,
		"https://evil.example":  false,
	} {
		req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Origin", origin)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode, origin)
		if allowed {
			assert.Equal(t, origin, resp.Header.Get("Access-Control-Allow-Origin"), origin)
		} else {
			assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"), origin)
		}
	}
}

func TestHTTPServerPreflight(t *testing.T) {
	srv, err := NewServer(nil)
	require.NoError(t, err)
	h, err := StartHTTP("127.0.0.1:0", srv, []string{"https://app.example"}, false)
	require.NoError(t, err)
	defer h.Shutdown(context.Background())

	preflight := func(origin string) *http.Response {
		req, err := http.NewRequest(http.MethodOptions, "http://"+h.Addr().String(), nil)
		require.NoError(t, err)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		req.Header.Set("Access-Control-Request-Headers", "Content-Type")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp
	}

	resp := preflight("https://app.example")
	assert.Equal(t, "https://app.example", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), http.MethodPost)
	assert.Equal(t, "600", resp.Header.Get("Access-Control-Max-Age"))

	resp = preflight("https://evil.example")
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}
