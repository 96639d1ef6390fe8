package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/BrandonDHaskell/keybox/internal/keybox/store"
	"github.com/BrandonDHaskell/keybox/internal/keybox/types"
)

// UnknownActor is recorded when no identity can be established.
const UnknownActor = "Unknown"

// TransitionRequest is an explicit checkout or checkin.
type TransitionRequest struct {
	Action     types.TxnAction
	KeyInfo    string
	Credential string
	UserName   string
	DeviceID   string
	ReportedAt *time.Time
	Note       string
}

type TransitionResult struct {
	Transaction types.Transaction
	Key         types.Key
	Duplicate   bool
	// Unrecognized is set when a non-empty credential resolved to nobody.
	Unrecognized bool
	Alert        *types.Alert
}

// Lifecycle applies checkout/checkin transitions.  Every transition runs
// inside a per-key section spanning read-state, decide, write.
type Lifecycle struct {
	identity *IdentityResolver
	registry *KeyRegistry
	dedup    *DedupGuard
	ledger   *Ledger
	alerts   *AlertEmitter
	locks    *KeyLocks
	logger   logrus.FieldLogger
	now      func() time.Time
}

type LifecycleDeps struct {
	Identity *IdentityResolver
	Registry *KeyRegistry
	Dedup    *DedupGuard
	Ledger   *Ledger
	Alerts   *AlertEmitter
	Locks    *KeyLocks
	Logger   logrus.FieldLogger
}

func NewLifecycle(d LifecycleDeps) *Lifecycle {
	if d.Locks == nil {
		d.Locks = NewKeyLocks()
	}
	if d.Logger == nil {
		d.Logger = logrus.StandardLogger()
	}
	return &Lifecycle{
		identity: d.Identity,
		registry: d.Registry,
		dedup:    d.Dedup,
		ledger:   d.Ledger,
		alerts:   d.Alerts,
		locks:    d.Locks,
		logger:   d.Logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Apply runs an explicit-action transition.  A checkout on an unseen key
// registers it; a checkin on an unseen key is rejected.
func (m *Lifecycle) Apply(ctx context.Context, req TransitionRequest) (TransitionResult, error) {
	hint := strings.TrimSpace(req.KeyInfo)
	if hint == "" {
		return TransitionResult{}, missingField("key_info")
	}
	if req.Action != types.TxnCheckout && req.Action != types.TxnCheckin {
		return TransitionResult{}, &ValidationError{Field: "action", Message: fmt.Sprintf("unsupported transition %q", req.Action)}
	}

	unlockHint := m.locks.Lock(hintLockID(hint))
	defer unlockHint()

	key, ok, err := m.registry.FindByNameOrToken(ctx, hint)
	if err != nil {
		return TransitionResult{}, err
	}
	var registered bool
	if !ok {
		if req.Action == types.TxnCheckin {
			return TransitionResult{}, &ValidationError{
				Field:   "key_info",
				Message: fmt.Sprintf("unknown key %q", hint),
				Err:     ErrUnknownKey,
			}
		}
		if key, registered, err = m.registry.AutoRegister(ctx, hint, "", types.KeyAvailable); err != nil {
			return TransitionResult{}, err
		}
	}

	res, err := m.withKey(ctx, key.ID, func(k types.Key) (TransitionResult, error) {
		return m.commit(ctx, k, req)
	})
	if err != nil {
		return res, err
	}
	if registered {
		m.flagRegistration(ctx, &res, hint, req.DeviceID)
	}
	return res, nil
}

// Toggle infers the action from the key's current state: an available key
// is checked out, anything else is checked in.  Unseen tokens are
// registered as available first, so a first sighting is always a checkout.
func (m *Lifecycle) Toggle(ctx context.Context, ev types.ToggleEvent) (TransitionResult, error) {
	token := strings.TrimSpace(ev.KeyToken)
	if token == "" {
		return TransitionResult{}, missingField("key_token")
	}

	unlockHint := m.locks.Lock(hintLockID(token))
	defer unlockHint()

	key, ok, err := m.registry.FindByNameOrToken(ctx, token)
	if err != nil {
		return TransitionResult{}, err
	}
	var registered bool
	if !ok {
		if key, registered, err = m.registry.AutoRegister(ctx, "", token, types.KeyAvailable); err != nil {
			return TransitionResult{}, err
		}
	}

	res, err := m.withKey(ctx, key.ID, func(k types.Key) (TransitionResult, error) {
		action := types.TxnCheckin
		if k.State == types.KeyAvailable {
			action = types.TxnCheckout
		}
		return m.commit(ctx, k, TransitionRequest{
			Action:     action,
			KeyInfo:    token,
			Credential: ev.Credential,
			UserName:   ev.UserName,
			DeviceID:   ev.DeviceID,
			ReportedAt: ev.ReportedAt,
		})
	})
	if err != nil {
		return res, err
	}
	if registered {
		m.flagRegistration(ctx, &res, token, ev.DeviceID)
	}
	return res, nil
}

// flagRegistration raises the unknown-token alert for a key the engine
// registered on first sight.  The transition has already been committed,
// so a failure here is only logged.
func (m *Lifecycle) flagRegistration(ctx context.Context, res *TransitionResult, hint, deviceID string) {
	keyName := res.Key.Name
	m.logger.WithFields(logrus.Fields{"key": keyName, "key_id": res.Key.ID}).Info("key auto-registered")

	a, err := m.alerts.Raise(ctx, AlertInput{
		DeviceID:    deviceID,
		Category:    types.AlertUnknownToken,
		Severity:    types.SeverityMedium,
		Title:       "Unknown key registered",
		Description: fmt.Sprintf("key %q was not recognized and was registered as %s", hint, keyName),
		Actor:       res.Transaction.Actor,
		KeyName:     &keyName,
	})
	if err != nil {
		m.logger.WithError(err).Warn("raise unknown-key alert")
		return
	}
	// The key alert takes the ack slot over a credential alert.
	res.Alert = &a
}

// withKey holds the key's exclusive section and hands fn the state as of
// lock acquisition.
func (m *Lifecycle) withKey(ctx context.Context, keyID string, fn func(types.Key) (TransitionResult, error)) (TransitionResult, error) {
	unlock := m.locks.Lock("key:" + keyID)
	defer unlock()

	k, ok, err := m.registry.Get(ctx, keyID)
	if err != nil {
		return TransitionResult{}, err
	}
	if !ok {
		return TransitionResult{}, fmt.Errorf("key %s vanished: %w", keyID, store.ErrNotFound)
	}
	return fn(k)
}

func (m *Lifecycle) commit(ctx context.Context, k types.Key, req TransitionRequest) (TransitionResult, error) {
	principal, resolved, err := m.identity.Resolve(ctx, req.Credential)
	if err != nil {
		// Degrade to unknown actor; the transition still happens.
		m.logger.WithError(err).Warn("identity lookup failed")
		resolved = false
	}

	var credential *string
	if c := strings.TrimSpace(req.Credential); c != "" {
		credential = &c
	}

	actor, err := m.resolveActor(ctx, k, req.Action, principal, resolved, req.UserName)
	if err != nil {
		return TransitionResult{}, err
	}

	if prev, dup, err := m.dedup.DuplicateTransaction(ctx, k.ID, req.Action, actor, credential); err != nil {
		return TransitionResult{}, err
	} else if dup {
		m.logger.WithFields(logrus.Fields{
			"key":    k.Name,
			"action": req.Action,
			"actor":  actor,
		}).Debug("duplicate transition discarded")
		return TransitionResult{Transaction: prev, Key: k, Duplicate: true}, nil
	}

	now := m.now()
	keyName := k.Name
	txn := types.Transaction{
		ID:         uuid.NewString(),
		KeyID:      k.ID,
		KeyName:    k.Name,
		Actor:      actor,
		Credential: credential,
		Action:     req.Action,
		Timestamp:  now,
		ReportedAt: req.ReportedAt,
		DeviceID:   req.DeviceID,
		Note:       strings.TrimSpace(req.Note),
	}
	rec := store.TransitionRecord{
		KeyID:       k.ID,
		NewState:    req.Action.ResultingState(),
		Transaction: txn,
		Audit: types.AuditEntry{
			ID:        uuid.NewString(),
			Actor:     actor,
			Action:    TransitionAuditAction(req.Action),
			KeyName:   &keyName,
			DeviceID:  req.DeviceID,
			Timestamp: now,
		},
	}
	if err := m.ledger.AppendTransaction(ctx, rec); err != nil {
		return TransitionResult{}, err
	}

	k.State = rec.NewState
	k.LastUsedAt = &now
	res := TransitionResult{Transaction: txn, Key: k}

	m.logger.WithFields(logrus.Fields{
		"key":    k.Name,
		"action": req.Action,
		"actor":  actor,
		"device": req.DeviceID,
		"txn_id": txn.ID,
	}).Info("key transition recorded")

	if credential != nil && !resolved {
		res.Unrecognized = true
		a, err := m.alerts.Raise(ctx, AlertInput{
			DeviceID:    req.DeviceID,
			Category:    types.AlertUnknownToken,
			Severity:    types.SeverityMedium,
			Title:       "Unrecognized credential",
			Description: fmt.Sprintf("credential %s used for %s of %s", *credential, req.Action, k.Name),
			Actor:       actor,
			KeyName:     &keyName,
		})
		if err != nil {
			m.logger.WithError(err).Warn("raise unknown-token alert")
		} else {
			res.Alert = &a
		}
	}
	return res, nil
}

// resolveActor picks who performed the transition.  Checkins fall back to
// whoever holds the key, since returning hardware rarely identifies anyone.
func (m *Lifecycle) resolveActor(
	ctx context.Context,
	k types.Key,
	action types.TxnAction,
	p types.Principal,
	resolved bool,
	userName string,
) (string, error) {
	if resolved {
		return p.Name, nil
	}
	if action == types.TxnCheckin {
		last, ok, err := m.ledger.LatestCheckout(ctx, k.ID)
		if err != nil {
			return "", err
		}
		if ok && last.Actor != "" && last.Actor != UnknownActor {
			return last.Actor, nil
		}
	}
	if n := strings.TrimSpace(userName); n != "" {
		return n, nil
	}
	return UnknownActor, nil
}

// TransitionAuditAction is the audit label for a transaction action.
func TransitionAuditAction(a types.TxnAction) string {
	return "key_" + string(a)
}

func hintLockID(hint string) string {
	return "hint:" + strings.ToUpper(hint)
}
