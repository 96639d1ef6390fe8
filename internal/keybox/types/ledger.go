package types

import "time"

type KeyState string

const (
	KeyAvailable  KeyState = "available"
	KeyCheckedOut KeyState = "checked_out"
)

type TxnAction string

const (
	TxnCheckout TxnAction = "checkout"
	TxnCheckin  TxnAction = "checkin"
)

// ResultingState is the key state a transaction of this action leaves behind.
func (a TxnAction) ResultingState() KeyState {
	if a == TxnCheckout {
		return KeyCheckedOut
	}
	return KeyAvailable
}

// Principal is a person known to the key box. The event engine only reads it.
type Principal struct {
	ID            string `json:"id" yaml:"id"`
	Name          string `json:"name" yaml:"name"`
	CardToken     string `json:"card_token,omitempty" yaml:"card_token"`
	FingerprintID string `json:"fingerprint_id,omitempty" yaml:"fingerprint_id"`
	Role          string `json:"role,omitempty" yaml:"role"`
	Active        bool   `json:"active" yaml:"active"`
}

// Key is the durable record of one physical key.  Token is nil until a
// hardware tag has been bound to it.
type Key struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Token      *string    `json:"token,omitempty"`
	State      KeyState   `json:"state"`
	Active     bool       `json:"active"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Transaction is one immutable checkout or checkin.
type Transaction struct {
	ID         string     `json:"id"`
	KeyID      string     `json:"key_id"`
	KeyName    string     `json:"key_name"`
	Actor      string     `json:"actor"`
	Credential *string    `json:"credential,omitempty"`
	Action     TxnAction  `json:"action"`
	Timestamp  time.Time  `json:"timestamp"`
	ReportedAt *time.Time `json:"reported_at,omitempty"`
	DeviceID   string     `json:"device_id"`
	Note       string     `json:"note,omitempty"`
}

// AuditEntry is the coarse access log used for dashboard statistics.
type AuditEntry struct {
	ID        string    `json:"id"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	KeyName   *string   `json:"key_name,omitempty"`
	DeviceID  string    `json:"device_id"`
	Denied    bool      `json:"denied"`
	Timestamp time.Time `json:"timestamp"`
}

type AlertCategory string

const (
	AlertUnknownToken       AlertCategory = "unknown-token"
	AlertDoorLeftOpen       AlertCategory = "door-left-open"
	AlertSensorFailure      AlertCategory = "sensor-failure"
	AlertUnauthorizedAccess AlertCategory = "unauthorized-access"
	AlertLowBattery         AlertCategory = "low-battery"
	AlertConnectionLost     AlertCategory = "connection-lost"
	AlertTamper             AlertCategory = "tamper"
	AlertOther              AlertCategory = "other"
)

func (c AlertCategory) Valid() bool {
	switch c {
	case AlertUnknownToken, AlertDoorLeftOpen, AlertSensorFailure, AlertUnauthorizedAccess,
		AlertLowBattery, AlertConnectionLost, AlertTamper, AlertOther:
		return true
	}
	return false
}

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

type AlertStatus string

const (
	AlertActive       AlertStatus = "active"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertResolved     AlertStatus = "resolved"
)

type Alert struct {
	ID             string        `json:"id"`
	DeviceID       string        `json:"device_id"`
	Category       AlertCategory `json:"category"`
	Severity       Severity      `json:"severity"`
	Status         AlertStatus   `json:"status"`
	Title          string        `json:"title"`
	Description    string        `json:"description,omitempty"`
	RaisedAt       time.Time     `json:"raised_at"`
	AcknowledgedAt *time.Time    `json:"acknowledged_at,omitempty"`
	ResolvedAt     *time.Time    `json:"resolved_at,omitempty"`
}

// Summary is the aggregate the dashboard broadcast layer consumes.
type Summary struct {
	TotalKeys       int          `json:"total_keys"`
	AvailableKeys   int          `json:"available_keys"`
	CheckedOutKeys  int          `json:"checked_out_keys"`
	ActiveAlerts    int          `json:"active_alerts"`
	LastTransaction *Transaction `json:"last_transaction,omitempty"`
	RecentAudit     []AuditEntry `json:"recent_audit"`
	GeneratedAt     time.Time    `json:"generated_at"`
}
