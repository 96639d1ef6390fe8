package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/BrandonDHaskell/keybox/internal/keybox/store"
	"github.com/BrandonDHaskell/keybox/internal/keybox/types"
)

// DeviceWatchdog periodically raises a connection-lost alert for every
// device that has gone quiet.  Each device alerts once until it is seen
// again.
//
// An offline timeout of 0 disables the watchdog entirely.
type DeviceWatchdog struct {
	store    store.DeviceStore
	alerts   *AlertEmitter
	offline  time.Duration
	interval time.Duration
	logger   logrus.FieldLogger
	now      func() time.Time

	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}
}

// WatchdogConfig holds the parameters for NewDeviceWatchdog.
type WatchdogConfig struct {
	// OfflineMinutes is how long a device may stay silent.  0 disables.
	OfflineMinutes int

	// IntervalSeconds is how often the sweep runs.  Defaults to 60.
	IntervalSeconds int
}

// NewDeviceWatchdog creates a watchdog but does not start it.
func NewDeviceWatchdog(s store.DeviceStore, alerts *AlertEmitter, cfg WatchdogConfig, logger logrus.FieldLogger) *DeviceWatchdog {
	interval := time.Duration(cfg.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &DeviceWatchdog{
		store:    s,
		alerts:   alerts,
		offline:  time.Duration(cfg.OfflineMinutes) * time.Minute,
		interval: interval,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		done:     make(chan struct{}),
	}
}

// Start begins the background loop.  The loop exits when ctx is cancelled
// or Stop is called.
func (w *DeviceWatchdog) Start(ctx context.Context) {
	if w.offline <= 0 {
		w.logger.Info("device watchdog disabled (offline timeout=0)")
		close(w.done)
		return
	}

	ctx, w.cancel = context.WithCancel(ctx)
	go w.loop(ctx)

	w.logger.WithFields(logrus.Fields{
		"offline_after": w.offline.String(),
		"interval":      w.interval.String(),
	}).Info("device watchdog started")
}

// Stop signals the loop to exit and waits for it.  Safe to call more than
// once.
func (w *DeviceWatchdog) Stop() {
	w.stopOnce.Do(func() {
		if w.cancel != nil {
			w.cancel()
		}
	})
	<-w.done
}

func (w *DeviceWatchdog) loop(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep runs one pass and returns how many alerts it raised.
func (w *DeviceWatchdog) Sweep(ctx context.Context) int {
	cutoff := w.now().Add(-w.offline)
	stale, err := w.store.ListStale(ctx, cutoff)
	if err != nil {
		w.logger.WithError(err).Warn("device watchdog: list stale")
		return 0
	}

	raised := 0
	for _, d := range stale {
		_, err := w.alerts.Raise(ctx, AlertInput{
			DeviceID:    d.DeviceID,
			Category:    types.AlertConnectionLost,
			Severity:    types.SeverityHigh,
			Title:       "Device offline",
			Description: fmt.Sprintf("no contact since %s", d.LastSeen.Format(time.RFC3339)),
			Actor:       SystemActor,
		})
		if err != nil {
			w.logger.WithError(err).WithField("device", d.DeviceID).Warn("device watchdog: raise alert")
			continue
		}
		if err := w.store.MarkLost(ctx, d.DeviceID); err != nil {
			w.logger.WithError(err).WithField("device", d.DeviceID).Warn("device watchdog: mark lost")
		}
		raised++
	}
	return raised
}
