// Copyright 2024 The Mist Authors
// This file is part of the Mist library.

package stealth

import (
	"context"
	"crypto/rand"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

type memLedger struct {
	mu   sync.Mutex
	seen map[common.Address]map[AnnouncementID]bool
}

func newMemLedger() *memLedger {
	return &memLedger{seen: make(map[common.Address]map[AnnouncementID]bool)}
}

func (l *memLedger) IsProcessed(identity common.Address, id AnnouncementID) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seen[identity][id], nil
}

func (l *memLedger) MarkProcessed(identity common.Address, ids []AnnouncementID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seen[identity] == nil {
		l.seen[identity] = make(map[AnnouncementID]bool)
	}
	for _, id := range ids {
		l.seen[identity][id] = true
	}
	return nil
}

type recorder struct {
	mu       sync.Mutex
	payments map[common.Address][]*Payment
	err      error
}

func (r *recorder) Notify(ctx context.Context, identity common.Address, payments []*Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	if r.payments == nil {
		r.payments = make(map[common.Address][]*Payment)
	}
	r.payments[identity] = append(r.payments[identity], payments...)
	return nil
}

func (r *recorder) count(id common.Address) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payments[id])
}

func TestServiceRegister(t *testing.T) {
	svc := NewService(&fakeSource{}, DefaultScannerConfig(), nil, nil, nil)
	keys, _ := GenerateStealthKeys(rand.Reader)

	id, err := svc.Register(keys)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if id != keys.Identity() {
		t.Errorf("Identity mismatch: %s", id.Hex())
	}
	if _, err := svc.Register(keys); !errors.Is(err, ErrIdentityExists) {
		t.Errorf("Expected ErrIdentityExists, got %v", err)
	}
	if ids := svc.Identities(); len(ids) != 1 || ids[0] != id {
		t.Errorf("Unexpected identities %v", ids)
	}
	if err := svc.Unregister(id); err != nil {
		t.Fatalf("Unregister failed: %v", err)
	}
	if err := svc.Unregister(id); !errors.Is(err, ErrIdentityNotFound) {
		t.Errorf("Expected ErrIdentityNotFound, got %v", err)
	}
	if _, err := svc.ScanIdentity(context.Background(), id); !errors.Is(err, ErrIdentityNotFound) {
		t.Errorf("Expected ErrIdentityNotFound, got %v", err)
	}
}

// TestEndToEnd walks through a recipient deriving keys from a signature,
// a sender paying to a stealth address and the recipient finding and
// recovering the payment.
func TestEndToEnd(t *testing.T) {
	keys, err := DeriveKeys(testSignature(t))
	if err != nil {
		t.Fatalf("Failed to derive keys: %v", err)
	}
	// Receivers learn only the published meta-address
	meta, err := ParseMetaAddress(keys.MetaAddress().String())
	if err != nil {
		t.Fatalf("Failed to parse meta-address: %v", err)
	}
	other, _ := GenerateStealthKeys(rand.Reader)

	src := &fakeSource{head: 10000}
	ledger := newMemLedger()
	notes := new(recorder)
	svc := NewService(src, DefaultScannerConfig(), nil, ledger, notes)

	id, err := svc.Register(keys)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	otherID, _ := svc.Register(other)

	// Too old to be found by the first scan
	old, _ := announce(t, meta, 4000, 0)
	src.add(old)
	ann, out := announce(t, meta, 9000, 4)
	src.add(ann)
	noise, _ := announce(t, other.MetaAddress(), 9000, 5)
	src.add(noise)

	results, err := svc.ScanOnce(context.Background())
	if err != nil {
		t.Fatalf("ScanOnce failed: %v", err)
	}
	if len(results[id]) != 1 || len(results[otherID]) != 1 {
		t.Fatalf("Unexpected results %v", results)
	}
	payment := results[id][0]
	if payment.StealthAddress != out.Address {
		t.Fatal("Wrong payment delivered")
	}
	if !samePoint(&payment.PrivateKey.PublicKey, out.StealthPubKey) {
		t.Fatal("d*G differs from the stealth public key")
	}
	if crypto.PubkeyToAddress(payment.PrivateKey.PublicKey) != ann.StealthAddress {
		t.Fatal("Recovered key does not control the announced address")
	}

	cursor, err := svc.Cursor(id)
	if err != nil || cursor == nil || cursor.FromBlock != 10000 {
		t.Fatalf("Cursor not persisted: %v, %v", cursor, err)
	}

	// The head block is scanned again on the next cycle; the ledger keeps
	// payments from being delivered twice.
	late, _ := announce(t, meta, 10000, 9)
	src.add(late)
	if _, err := svc.ScanOnce(context.Background()); err != nil {
		t.Fatalf("ScanOnce failed: %v", err)
	}
	if _, err := svc.ScanOnce(context.Background()); err != nil {
		t.Fatalf("ScanOnce failed: %v", err)
	}
	if n := notes.count(id); n != 2 {
		t.Errorf("Expected 2 notified payments, got %d", n)
	}

	// An explicit reset makes the old payment discoverable
	if err := svc.ResetCursor(id, 0); err != nil {
		t.Fatalf("ResetCursor failed: %v", err)
	}
	payments, err := svc.ScanIdentity(context.Background(), id)
	if err != nil {
		t.Fatalf("ScanIdentity failed: %v", err)
	}
	if len(payments) != 1 || payments[0].Announcement != old {
		t.Errorf("Expected only the old payment after reset, got %v", payments)
	}
}

func TestServiceNotifyFailure(t *testing.T) {
	keys, _ := GenerateStealthKeys(rand.Reader)
	src := &fakeSource{head: 100}
	ann, _ := announce(t, keys.MetaAddress(), 50, 0)
	src.add(ann)

	ledger := newMemLedger()
	notes := &recorder{err: errors.New("mailbox full")}
	svc := NewService(src, DefaultScannerConfig(), nil, ledger, notes)
	id, _ := svc.Register(keys)

	if _, err := svc.ScanIdentity(context.Background(), id); err == nil {
		t.Fatal("Expected notify failure")
	}
	if cursor, _ := svc.Cursor(id); cursor != nil {
		t.Errorf("Cursor persisted after failed cycle: %+v", cursor)
	}
	if done, _ := ledger.IsProcessed(id, ann.ID()); done {
		t.Error("Announcement marked processed after failed notify")
	}

	notes.mu.Lock()
	notes.err = nil
	notes.mu.Unlock()

	payments, err := svc.ScanIdentity(context.Background(), id)
	if err != nil {
		t.Fatalf("ScanIdentity failed: %v", err)
	}
	if len(payments) != 1 {
		t.Errorf("Payment not redelivered after failure, got %d", len(payments))
	}
}

func TestServiceTransportFailure(t *testing.T) {
	keys, _ := GenerateStealthKeys(rand.Reader)
	src := &fakeSource{head: 100}
	svc := NewService(src, DefaultScannerConfig(), nil, nil, nil)
	id, _ := svc.Register(keys)

	if _, err := svc.ScanIdentity(context.Background(), id); err != nil {
		t.Fatalf("ScanIdentity failed: %v", err)
	}
	src.setHead(200)
	src.mu.Lock()
	src.logErr = errors.New("rate limited")
	src.mu.Unlock()

	_, err := svc.ScanOnce(context.Background())
	if !errors.Is(err, ErrTransportFailure) {
		t.Fatalf("Expected ErrTransportFailure, got %v", err)
	}
	if cursor, _ := svc.Cursor(id); cursor == nil || cursor.FromBlock != 100 {
		t.Errorf("Cursor moved on failure: %+v", cursor)
	}
}

func TestServiceStartStop(t *testing.T) {
	keys, _ := GenerateStealthKeys(rand.Reader)
	src := &fakeSource{head: 10}
	ann, _ := announce(t, keys.MetaAddress(), 5, 0)
	src.add(ann)

	done := make(chan struct{}, 1)
	notifier := NotifierFunc(func(ctx context.Context, identity common.Address, payments []*Payment) error {
		select {
		case done <- struct{}{}:
		default:
		}
		return nil
	})
	svc := NewService(src, DefaultScannerConfig(), nil, newMemLedger(), notifier)
	svc.Register(keys)

	if err := svc.Start(context.Background(), time.Hour); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("First cycle did not run")
	}
	svc.Stop()
}

// steppingSource answers ChainHead from a fixed sequence, repeating the
// last value once it runs out
type steppingSource struct {
	*fakeSource
	heads []uint64
}

func (s *steppingSource) ChainHead(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	head := s.heads[0]
	if len(s.heads) > 1 {
		s.heads = s.heads[1:]
	}
	return head, nil
}

func TestServiceConcurrentScans(t *testing.T) {
	keys, _ := GenerateStealthKeys(rand.Reader)
	src := &steppingSource{fakeSource: new(fakeSource), heads: []uint64{100, 96}}
	ann, _ := announce(t, keys.MetaAddress(), 95, 0)
	src.add(ann)

	var (
		mu    sync.Mutex
		calls int
	)
	notifier := NotifierFunc(func(ctx context.Context, identity common.Address, payments []*Payment) error {
		time.Sleep(100 * time.Millisecond)
		mu.Lock()
		calls += len(payments)
		mu.Unlock()
		return nil
	})
	svc := NewService(src, DefaultScannerConfig(), nil, nil, notifier)
	id, err := svc.Register(keys)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.ScanIdentity(context.Background(), id); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("ScanIdentity failed: %v", err)
	}

	if calls != 1 {
		t.Errorf("Payment notified %d times, want 1", calls)
	}
	cursor, err := svc.Cursor(id)
	if err != nil || cursor == nil {
		t.Fatalf("Cursor missing: %v", err)
	}
	if cursor.FromBlock != 100 {
		t.Errorf("Cursor moved to %d, want 100", cursor.FromBlock)
	}
}

func TestServiceStartTwice(t *testing.T) {
	svc := NewService(&fakeSource{head: 10}, DefaultScannerConfig(), nil, nil, nil)

	if err := svc.Start(context.Background(), time.Hour); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := svc.Start(context.Background(), time.Hour); !errors.Is(err, ErrServiceRunning) {
		t.Fatalf("Second Start returned %v, want %v", err, ErrServiceRunning)
	}

	stopped := make(chan struct{})
	go func() {
		svc.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}

	// A stopped service can be started again
	if err := svc.Start(context.Background(), time.Hour); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	svc.Stop()
}
