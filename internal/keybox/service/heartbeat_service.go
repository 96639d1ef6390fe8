package service

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/BrandonDHaskell/keybox/internal/keybox/types"
)

type HeartbeatService struct {
	registry *DeviceRegistry
	logger   logrus.FieldLogger
}

func NewHeartbeatService(reg *DeviceRegistry, logger logrus.FieldLogger) *HeartbeatService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &HeartbeatService{registry: reg, logger: logger}
}

func (s *HeartbeatService) Record(ctx context.Context, req types.HeartbeatRequest) (types.HeartbeatResponse, error) {
	deviceID := strings.TrimSpace(req.DeviceID)
	if deviceID == "" {
		return types.HeartbeatResponse{}, ErrInvalidDeviceID
	}

	if err := s.registry.noteHeartbeat(ctx, deviceID, req.FirmwareVersion, req.IP); err != nil {
		return types.HeartbeatResponse{}, err
	}

	s.logger.WithFields(logrus.Fields{
		"device":   deviceID,
		"firmware": req.FirmwareVersion,
		"uptime_s": req.UptimeSeconds.String(),
	}).Debug("heartbeat")

	return types.HeartbeatResponse{
		OK:         true,
		DeviceID:   deviceID,
		ServerTime: time.Now().UTC().Format(time.RFC3339Nano),
	}, nil
}
