package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BrandonDHaskell/keybox/internal/keybox/store"
)

type DeviceStore struct {
	mu      sync.RWMutex
	devices map[string]store.DeviceRecord
}

func NewDeviceStore() *DeviceStore {
	return &DeviceStore{devices: make(map[string]store.DeviceRecord)}
}

func (s *DeviceStore) MarkSeen(_ context.Context, rec store.DeviceRecord) error {
	if rec.LastSeen.IsZero() {
		rec.LastSeen = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.devices[rec.DeviceID]
	if ok {
		if rec.FirmwareVersion == "" {
			rec.FirmwareVersion = prev.FirmwareVersion
		}
		if rec.IP == "" {
			rec.IP = prev.IP
		}
	}
	rec.LostAlerted = false
	s.devices[rec.DeviceID] = rec
	return nil
}

func (s *DeviceStore) ListStale(_ context.Context, cutoff time.Time) ([]store.DeviceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.DeviceRecord
	for _, d := range s.devices {
		if !d.LostAlerted && d.LastSeen.Before(cutoff) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out, nil
}

func (s *DeviceStore) MarkLost(_ context.Context, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[deviceID]
	if !ok {
		return store.ErrNotFound
	}
	d.LostAlerted = true
	s.devices[deviceID] = d
	return nil
}

// Device returns the stored record for deviceID.  Test-only helper.
func (s *DeviceStore) Device(deviceID string) (store.DeviceRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.devices[deviceID]
	return d, ok
}
