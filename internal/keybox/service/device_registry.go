package service

import (
	"context"
	"strings"
	"time"

	"github.com/BrandonDHaskell/keybox/internal/keybox/store"
)

// DeviceRegistry tracks which key boxes have been heard from and when.
type DeviceRegistry struct {
	store store.DeviceStore
	now   func() time.Time
}

func NewDeviceRegistry(st store.DeviceStore) *DeviceRegistry {
	return &DeviceRegistry{store: st, now: func() time.Time { return time.Now().UTC() }}
}

func (r *DeviceRegistry) NoteSeen(ctx context.Context, deviceID string) error {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return nil
	}
	return r.store.MarkSeen(ctx, store.DeviceRecord{DeviceID: deviceID, LastSeen: r.now()})
}

func (r *DeviceRegistry) noteHeartbeat(ctx context.Context, deviceID, firmware, ip string) error {
	return r.store.MarkSeen(ctx, store.DeviceRecord{
		DeviceID:        deviceID,
		FirmwareVersion: strings.TrimSpace(firmware),
		IP:              strings.TrimSpace(ip),
		LastSeen:        r.now(),
	})
}
