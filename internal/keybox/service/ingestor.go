package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/BrandonDHaskell/keybox/internal/keybox/store"
	"github.com/BrandonDHaskell/keybox/internal/keybox/types"
)

// Audit labels for events that never touch key state.
const (
	auditAuthenticated = "authenticated"
	auditDoorUnlocked  = "door_unlocked"
	auditDoorLocked    = "door_locked"
)

// toggleAckAction names a rejected auto-toggle, which never resolved to a
// checkout or checkin.
const toggleAckAction = "key_toggle"

// Ingestor is the single entry point both transports call.  It routes an
// inbound payload to the lifecycle, the alert emitter or a plain audit
// entry and builds the acknowledgement.
type Ingestor struct {
	lifecycle     *Lifecycle
	alerts        *AlertEmitter
	identity      *IdentityResolver
	ledger        *Ledger
	dedup         *DedupGuard
	devices       *DeviceRegistry
	defaultDevice string
	logger        logrus.FieldLogger
	now           func() time.Time
}

type IngestorDeps struct {
	Lifecycle     *Lifecycle
	Alerts        *AlertEmitter
	Identity      *IdentityResolver
	Ledger        *Ledger
	Dedup         *DedupGuard
	Devices       *DeviceRegistry
	DefaultDevice string
	Logger        logrus.FieldLogger
}

func NewIngestor(d IngestorDeps) *Ingestor {
	if d.Logger == nil {
		d.Logger = logrus.StandardLogger()
	}
	return &Ingestor{
		lifecycle:     d.Lifecycle,
		alerts:        d.Alerts,
		identity:      d.Identity,
		ledger:        d.Ledger,
		dedup:         d.Dedup,
		devices:       d.Devices,
		defaultDevice: d.DefaultDevice,
		logger:        d.Logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// DefaultDevice is the device id used when a payload names none.
func (i *Ingestor) DefaultDevice() string { return i.defaultDevice }

// Handle accepts a raw payload from any transport.  A payload that names
// a key token but no action is an auto-toggle request.
func (i *Ingestor) Handle(ctx context.Context, raw types.RawEvent) (types.Ack, error) {
	if raw.IsToggle() {
		return i.HandleToggle(ctx, raw.NormalizeToggle(i.defaultDevice))
	}
	return i.HandleEvent(ctx, raw.Normalize(i.defaultDevice))
}

// ErrorAck is the reply a transport sends when Handle rejects raw.  Field
// problems are echoed to the device; anything else is reported generically.
func ErrorAck(raw types.RawEvent, err error) types.Ack {
	ack := types.Ack{Status: types.AckError, Action: strings.ToLower(strings.TrimSpace(raw.Action.String()))}
	if ack.Action == "" && raw.IsToggle() {
		ack.Action = toggleAckAction
	}

	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		ack.Message = verr.Error()
	case errors.Is(err, ErrInvalidDeviceID):
		ack.Message = err.Error()
	default:
		ack.Message = "internal error"
	}
	return ack
}

func (i *Ingestor) HandleEvent(ctx context.Context, ev types.InboundEvent) (types.Ack, error) {
	if ev.Action == "" {
		return types.Ack{}, missingField("action")
	}
	i.noteSeen(ctx, ev.DeviceID)

	action, ok := LookupAction(ev.Action)
	if !ok {
		return i.genericAudit(ctx, ev)
	}

	switch action {
	case ActionCheckout, ActionCheckin:
		txnAction := types.TxnCheckout
		if action == ActionCheckin {
			txnAction = types.TxnCheckin
		}
		res, err := i.lifecycle.Apply(ctx, TransitionRequest{
			Action:     txnAction,
			KeyInfo:    ev.KeyInfo,
			Credential: ev.Credential,
			UserName:   ev.UserName,
			DeviceID:   ev.DeviceID,
			ReportedAt: ev.ReportedAt,
			Note:       ev.Note,
		})
		if err != nil {
			return types.Ack{}, err
		}
		return transitionAck(res), nil

	case ActionAuthenticated:
		return i.authenticate(ctx, ev)

	case ActionDoorUnlocked, ActionDoorLocked:
		label := auditDoorUnlocked
		if action == ActionDoorLocked {
			label = auditDoorLocked
		}
		actor, _ := i.actorFor(ctx, ev.Credential, ev.UserName)
		return i.audit(ctx, action, label, actor, ev)

	case ActionUnknownKey:
		token := ev.KeyInfo
		if token == "" {
			token = ev.Credential
		}
		actor, _ := i.actorFor(ctx, ev.Credential, ev.UserName)
		return i.raise(ctx, action, AlertInput{
			DeviceID:    ev.DeviceID,
			Category:    types.AlertUnknownToken,
			Severity:    types.SeverityMedium,
			Title:       "Unknown key detected",
			Description: fmt.Sprintf("device reported unrecognized token %q", token),
			Actor:       actor,
			KeyName:     optional(ev.KeyInfo),
		})

	case ActionDoorTimeout:
		desc := ev.Note
		if desc == "" {
			desc = "door was left open past its timeout"
		}
		return i.raise(ctx, action, AlertInput{
			DeviceID:    ev.DeviceID,
			Category:    types.AlertDoorLeftOpen,
			Severity:    types.SeverityHigh,
			Title:       "Door left open",
			Description: desc,
			Actor:       SystemActor,
		})
	}
	return i.genericAudit(ctx, ev)
}

func (i *Ingestor) HandleToggle(ctx context.Context, ev types.ToggleEvent) (types.Ack, error) {
	i.noteSeen(ctx, ev.DeviceID)
	res, err := i.lifecycle.Toggle(ctx, ev)
	if err != nil {
		return types.Ack{}, err
	}
	return transitionAck(res), nil
}

func (i *Ingestor) authenticate(ctx context.Context, ev types.InboundEvent) (types.Ack, error) {
	actor, resolved := i.actorFor(ctx, ev.Credential, ev.UserName)
	if ev.Credential != "" && !resolved {
		ack, err := i.raise(ctx, ActionAuthenticated, AlertInput{
			DeviceID:    ev.DeviceID,
			Category:    types.AlertUnknownToken,
			Severity:    types.SeverityMedium,
			Title:       "Unrecognized credential",
			Description: fmt.Sprintf("authentication attempted with unknown credential %q", ev.Credential),
			Actor:       actor,
			KeyName:     optional(ev.KeyInfo),
		})
		if err == nil {
			ack.Message = "credential not recognized"
		}
		return ack, err
	}
	return i.audit(ctx, ActionAuthenticated, auditAuthenticated, actor, ev)
}

func (i *Ingestor) genericAudit(ctx context.Context, ev types.InboundEvent) (types.Ack, error) {
	actor, _ := i.actorFor(ctx, ev.Credential, ev.UserName)
	i.logger.WithFields(logrus.Fields{"action": ev.Action, "device": ev.DeviceID}).Info("unrecognized action recorded as audit")
	return i.audit(ctx, Action(ev.Action), ev.Action, actor, ev)
}

func (i *Ingestor) audit(ctx context.Context, action Action, label, actor string, ev types.InboundEvent) (types.Ack, error) {
	ack := types.Ack{Status: types.AckSuccess, Action: string(action), Actor: actor, Key: ev.KeyInfo}

	dup, err := i.dedup.DuplicateAudit(ctx, store.AuditProbe{
		Action:   label,
		KeyName:  ev.KeyInfo,
		Actor:    actor,
		DeviceID: ev.DeviceID,
	})
	if err != nil {
		return types.Ack{}, err
	}
	if dup {
		ack.Duplicate = true
		return ack, nil
	}

	err = i.ledger.AppendAudit(ctx, types.AuditEntry{
		ID:        uuid.NewString(),
		Actor:     actor,
		Action:    label,
		KeyName:   optional(ev.KeyInfo),
		DeviceID:  ev.DeviceID,
		Timestamp: i.now(),
	})
	if err != nil {
		return types.Ack{}, err
	}
	return ack, nil
}

// raise emits an alert unless an identical one was just raised.
func (i *Ingestor) raise(ctx context.Context, action Action, in AlertInput) (types.Ack, error) {
	keyName := ""
	if in.KeyName != nil {
		keyName = *in.KeyName
	}
	actor := in.Actor
	if actor == "" {
		actor = UnknownActor
	}
	ack := types.Ack{Status: types.AckSuccess, Action: string(action), Actor: actor, Key: keyName}

	dup, err := i.dedup.DuplicateAudit(ctx, store.AuditProbe{
		Action:   AlertAuditAction(in.Category),
		KeyName:  keyName,
		Actor:    actor,
		DeviceID: in.DeviceID,
	})
	if err != nil {
		return types.Ack{}, err
	}
	if dup {
		ack.Duplicate = true
		return ack, nil
	}

	a, err := i.alerts.Raise(ctx, in)
	if err != nil {
		return types.Ack{}, err
	}
	ack.AlertID = a.ID
	return ack, nil
}

// actorFor names whoever presented the credential.  A lookup failure
// degrades to the fallback name.
func (i *Ingestor) actorFor(ctx context.Context, credential, userName string) (string, bool) {
	p, ok, err := i.identity.Resolve(ctx, credential)
	if err != nil {
		i.logger.WithError(err).Warn("identity lookup failed")
	}
	if ok {
		return p.Name, true
	}
	if n := strings.TrimSpace(userName); n != "" {
		return n, false
	}
	return UnknownActor, false
}

func (i *Ingestor) noteSeen(ctx context.Context, deviceID string) {
	if i.devices == nil {
		return
	}
	if err := i.devices.NoteSeen(ctx, deviceID); err != nil {
		i.logger.WithError(err).WithField("device", deviceID).Warn("mark device seen")
	}
}

func transitionAck(res TransitionResult) types.Ack {
	action := ActionCheckout
	if res.Transaction.Action == types.TxnCheckin {
		action = ActionCheckin
	}
	ack := types.Ack{
		Status:        types.AckSuccess,
		Action:        string(action),
		Actor:         res.Transaction.Actor,
		Key:           res.Key.Name,
		KeyState:      res.Key.State,
		TransactionID: res.Transaction.ID,
		Duplicate:     res.Duplicate,
	}
	if res.Alert != nil {
		ack.AlertID = res.Alert.ID
	}
	if res.Unrecognized {
		ack.Message = "credential not recognized"
	}
	return ack
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
