package service

import "strings"

// Action is one of the canonical outcomes an inbound event can map to.
type Action string

const (
	ActionAuthenticated Action = "user_authenticated"
	ActionDoorUnlocked  Action = "door_unlocked"
	ActionDoorLocked    Action = "door_locked"
	ActionCheckout      Action = "key_checkout"
	ActionCheckin       Action = "key_checkin"
	ActionUnknownKey    Action = "unknown_key"
	ActionDoorTimeout   Action = "door_timeout"
)

// actionAliases maps every accepted hardware action string, legacy
// firmware spellings included, onto its canonical action.
var actionAliases = map[string]Action{
	"user_authenticated": ActionAuthenticated,
	"auth_success":       ActionAuthenticated,
	"authenticated":      ActionAuthenticated,
	"rfid_auth":          ActionAuthenticated,
	"fingerprint_auth":   ActionAuthenticated,
	"access_granted":     ActionAuthenticated,

	"door_unlock":   ActionDoorUnlocked,
	"door_unlocked": ActionDoorUnlocked,
	"unlock":        ActionDoorUnlocked,
	"door_open":     ActionDoorUnlocked,
	"door_opened":   ActionDoorUnlocked,

	"door_lock":   ActionDoorLocked,
	"door_locked": ActionDoorLocked,
	"lock":        ActionDoorLocked,
	"door_close":  ActionDoorLocked,
	"door_closed": ActionDoorLocked,

	"key_taken":    ActionCheckout,
	"key_checkout": ActionCheckout,
	"checkout":     ActionCheckout,
	"take_key":     ActionCheckout,
	"key_removed":  ActionCheckout,

	"key_returned": ActionCheckin,
	"key_checkin":  ActionCheckin,
	"checkin":      ActionCheckin,
	"return_key":   ActionCheckin,
	"key_inserted": ActionCheckin,

	"unknown_key":          ActionUnknownKey,
	"unknown_card":         ActionUnknownKey,
	"unknown_token":        ActionUnknownKey,
	"unknown_key_detected": ActionUnknownKey,

	"door_timeout":      ActionDoorTimeout,
	"door_left_open":    ActionDoorTimeout,
	"door_open_timeout": ActionDoorTimeout,
}

func LookupAction(raw string) (Action, bool) {
	a, ok := actionAliases[strings.ToLower(strings.TrimSpace(raw))]
	return a, ok
}
