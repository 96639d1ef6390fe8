package service_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/BrandonDHaskell/keybox/internal/keybox/service"
	"github.com/BrandonDHaskell/keybox/internal/keybox/store/memory"
	"github.com/BrandonDHaskell/keybox/internal/keybox/types"
)

var (
	alice = types.Principal{ID: "p-alice", Name: "Alice", CardToken: "AA11BB22", Active: true}
	bob   = types.Principal{ID: "p-bob", Name: "Bob", CardToken: "CC33DD44", FingerprintID: "7", Active: true}
	eve   = types.Principal{ID: "p-eve", Name: "Eve", CardToken: "EE55FF66", Active: false}
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recordingBroadcaster struct {
	mu        sync.Mutex
	summaries []types.Summary
	err       error
}

func (b *recordingBroadcaster) Broadcast(_ context.Context, s types.Summary) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.summaries = append(b.summaries, s)
	return b.err
}

func (b *recordingBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.summaries)
}

func (b *recordingBroadcaster) last() types.Summary {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.summaries[len(b.summaries)-1]
}

type harness struct {
	eng     *service.Engine
	keys    *memory.KeyStore
	ledger  *memory.LedgerStore
	devices *memory.DeviceStore
	clock   *fakeClock
	bc      *recordingBroadcaster
	logger  *logrus.Logger
}

func silentLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// newHarness builds an Engine over in-memory stores seeded with alice,
// bob and the inactive eve.
func newHarness(t *testing.T) *harness {
	t.Helper()
	keys := memory.NewKeyStore()
	ledger := memory.NewLedgerStore(keys)
	devices := memory.NewDeviceStore()
	h := &harness{
		keys:    keys,
		ledger:  ledger,
		devices: devices,
		clock:   newFakeClock(),
		bc:      &recordingBroadcaster{},
		logger:  silentLogger(),
	}
	h.eng = service.NewEngine(service.Stores{
		Principals: memory.NewPrincipalStore(alice, bob, eve),
		Keys:       keys,
		Ledger:     ledger,
		Devices:    devices,
	}, service.Options{
		DefaultDevice: "keybox-01",
		Broadcaster:   h.bc,
		Logger:        h.logger,
		Clock:         h.clock.Now,
	})
	return h
}

func (h *harness) key(t *testing.T, name string) types.Key {
	t.Helper()
	k, ok, err := h.keys.FindByName(context.Background(), name)
	if err != nil || !ok {
		t.Fatalf("key %q not found (err=%v)", name, err)
	}
	return k
}
