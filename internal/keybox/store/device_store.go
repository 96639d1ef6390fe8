package store

import (
	"context"
	"time"
)

type DeviceRecord struct {
	DeviceID        string
	FirmwareVersion string
	IP              string
	LastSeen        time.Time
	LostAlerted     bool
}

type DeviceStore interface {
	// MarkSeen creates the device if needed, updates last-seen and re-arms
	// the connection-lost alert.
	MarkSeen(ctx context.Context, rec DeviceRecord) error
	// ListStale returns devices last seen before cutoff that have not yet
	// been marked lost.
	ListStale(ctx context.Context, cutoff time.Time) ([]DeviceRecord, error)
	MarkLost(ctx context.Context, deviceID string) error
}
