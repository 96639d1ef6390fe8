package types

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// FlexString accepts a JSON string, number, bool or null.  Field hardware
// is inconsistent about quoting card numbers and timestamps.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		*f = FlexString(integralNumber(n.String()))
		return nil
	}
	var v bool
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = FlexString(strconv.FormatBool(v))
	return nil
}

func (f FlexString) String() string { return strings.TrimSpace(string(f)) }

// integralNumber rewrites exponent or decimal forms of whole numbers
// ("1.7734788e+09", "42.0") as plain integers.  Protobuf Struct values
// arrive as doubles and would otherwise mangle card numbers.
func integralNumber(s string) string {
	if !strings.ContainsAny(s, ".eE") {
		return s
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v != math.Trunc(v) || math.Abs(v) >= 1<<53 {
		return s
	}
	return strconv.FormatInt(int64(v), 10)
}

// RawEvent is the wire shape shared by both transports.  It carries the
// explicit-action fields and the auto-toggle fields; Normalize and
// NormalizeToggle turn it into one of the typed events below.
type RawEvent struct {
	Action    FlexString `json:"action"`
	User      FlexString `json:"user"`
	Extra     FlexString `json:"extra"` // legacy alias for user
	UserName  FlexString `json:"user_name"`
	KeyInfo   FlexString `json:"key_info"`
	Device    FlexString `json:"device"`
	Timestamp FlexString `json:"timestamp"`
	Note      FlexString `json:"note"`

	ActionHint    FlexString `json:"action_hint"`
	KeyToken      FlexString `json:"key_token"`
	UserToken     FlexString `json:"user_token"`
	FingerprintID FlexString `json:"fingerprint_id"`
}

// IsToggle reports whether the payload only names a key token and leaves the
// action to be inferred.
func (r RawEvent) IsToggle() bool {
	return r.Action.String() == "" && r.KeyToken.String() != ""
}

// InboundEvent is an explicit-action event after ingress coercion.
type InboundEvent struct {
	Action     string
	Credential string
	UserName   string
	KeyInfo    string
	DeviceID   string
	ReportedAt *time.Time
	Note       string
}

// ToggleEvent is an auto-toggle request after ingress coercion.
type ToggleEvent struct {
	ActionHint string
	KeyToken   string
	Credential string
	UserName   string
	DeviceID   string
	ReportedAt *time.Time
}

func (r RawEvent) Normalize(defaultDevice string) InboundEvent {
	cred := r.User.String()
	if cred == "" {
		cred = r.Extra.String()
	}
	return InboundEvent{
		Action:     strings.ToLower(r.Action.String()),
		Credential: cred,
		UserName:   r.UserName.String(),
		KeyInfo:    r.KeyInfo.String(),
		DeviceID:   deviceOrDefault(r.Device.String(), defaultDevice),
		ReportedAt: ParseReportedAt(r.Timestamp.String()),
		Note:       r.Note.String(),
	}
}

func (r RawEvent) NormalizeToggle(defaultDevice string) ToggleEvent {
	cred := r.UserToken.String()
	if cred == "" {
		cred = r.User.String()
	}
	if cred == "" {
		if fp := r.FingerprintID.String(); fp != "" {
			cred = "FP_" + fp
		}
	}
	return ToggleEvent{
		ActionHint: strings.ToLower(r.ActionHint.String()),
		KeyToken:   r.KeyToken.String(),
		Credential: cred,
		UserName:   r.UserName.String(),
		DeviceID:   deviceOrDefault(r.Device.String(), defaultDevice),
		ReportedAt: ParseReportedAt(r.Timestamp.String()),
	}
}

func deviceOrDefault(d, def string) string {
	if d == "" {
		return def
	}
	return d
}

// ParseReportedAt accepts unix seconds, unix milliseconds or RFC3339.
// Returns nil if the value is empty or unparseable.
func ParseReportedAt(s string) *time.Time {
	if s == "" {
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n <= 0 {
			return nil
		}
		var t time.Time
		if n > 1_000_000_000_000 {
			t = time.UnixMilli(n).UTC()
		} else {
			t = time.Unix(n, 0).UTC()
		}
		return &t
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		u := t.UTC()
		return &u
	}
	return nil
}

const (
	AckSuccess = "success"
	AckError   = "error"
)

// Ack is returned to the hardware caller on either transport.
type Ack struct {
	Status        string   `json:"status"`
	Action        string   `json:"action"`
	Actor         string   `json:"actor,omitempty"`
	Key           string   `json:"key,omitempty"`
	KeyState      KeyState `json:"key_state,omitempty"`
	TransactionID string   `json:"transaction_id,omitempty"`
	AlertID       string   `json:"alert_id,omitempty"`
	Duplicate     bool     `json:"duplicate,omitempty"`
	Message       string   `json:"message,omitempty"`
}
