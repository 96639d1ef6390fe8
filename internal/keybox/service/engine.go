package service

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/BrandonDHaskell/keybox/internal/keybox/store"
)

// Stores is the storage a running engine needs.  Memory and sqlite
// implementations are interchangeable.
type Stores struct {
	Principals store.PrincipalStore
	Keys       store.KeyStore
	Ledger     store.LedgerStore
	Devices    store.DeviceStore
}

type Options struct {
	DefaultDevice string
	Broadcaster   Broadcaster
	Logger        logrus.FieldLogger

	// Clock overrides the time source.  Nil means time.Now in UTC.
	Clock func() time.Time
}

// Engine is the fully wired event pipeline.  Both transports share one
// Engine, and so one set of per-key locks.
type Engine struct {
	Ingestor   *Ingestor
	Lifecycle  *Lifecycle
	Alerts     *AlertEmitter
	Keys       *KeyRegistry
	Ledger     *Ledger
	Identity   *IdentityResolver
	Principals *PrincipalDirectory
	Devices    *DeviceRegistry
	Heartbeats *HeartbeatService
}

func NewEngine(st Stores, opt Options) *Engine {
	logger := opt.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	clock := opt.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}

	ledger := NewLedger(st.Ledger, st.Keys, opt.Broadcaster, logger)
	ledger.now = clock
	alerts := NewAlertEmitter(ledger, logger)
	alerts.now = clock
	keys := NewKeyRegistry(st.Keys)
	keys.now = clock
	identity := NewIdentityResolver(st.Principals)
	dedup := NewDedupGuard(st.Ledger, clock)
	devices := NewDeviceRegistry(st.Devices)
	devices.now = clock

	lifecycle := NewLifecycle(LifecycleDeps{
		Identity: identity,
		Registry: keys,
		Dedup:    dedup,
		Ledger:   ledger,
		Alerts:   alerts,
		Logger:   logger,
	})
	lifecycle.now = clock

	ingestor := NewIngestor(IngestorDeps{
		Lifecycle:     lifecycle,
		Alerts:        alerts,
		Identity:      identity,
		Ledger:        ledger,
		Dedup:         dedup,
		Devices:       devices,
		DefaultDevice: opt.DefaultDevice,
		Logger:        logger,
	})
	ingestor.now = clock

	return &Engine{
		Ingestor:   ingestor,
		Lifecycle:  lifecycle,
		Alerts:     alerts,
		Keys:       keys,
		Ledger:     ledger,
		Identity:   identity,
		Principals: NewPrincipalDirectory(st.Principals),
		Devices:    devices,
		Heartbeats: NewHeartbeatService(devices, logger),
	}
}
