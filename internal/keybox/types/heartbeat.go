package types

type HeartbeatRequest struct {
	DeviceID        string     `json:"device_id"`
	FirmwareVersion string     `json:"firmware_version,omitempty"`
	UptimeSeconds   FlexString `json:"uptime_s,omitempty"`
	DoorClosed      *bool      `json:"door_closed,omitempty"`
	IP              string     `json:"ip,omitempty"`
}

type HeartbeatResponse struct {
	OK         bool   `json:"ok"`
	DeviceID   string `json:"device_id"`
	ServerTime string `json:"server_time"`
}
