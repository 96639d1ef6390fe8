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

// SystemActor is recorded on audit entries the engine writes on its own
// behalf, such as the extra entry for a critical alert.
const SystemActor = "system"

// AlertInput describes an alert to raise.  Actor and KeyName only feed the
// audit entry written alongside it.
type AlertInput struct {
	DeviceID    string
	Category    types.AlertCategory
	Severity    types.Severity
	Title       string
	Description string
	Actor       string
	KeyName     *string
}

type AlertEmitter struct {
	ledger *Ledger
	logger logrus.FieldLogger
	now    func() time.Time
}

func NewAlertEmitter(l *Ledger, logger logrus.FieldLogger) *AlertEmitter {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &AlertEmitter{ledger: l, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// AlertAuditAction is the audit action label written when an alert of the
// given category is raised.
func AlertAuditAction(c types.AlertCategory) string {
	return "alert:" + string(c)
}

// Raise records a new active alert plus its denied audit entry.  Critical
// alerts get a second audit entry attributed to the system.
func (e *AlertEmitter) Raise(ctx context.Context, in AlertInput) (types.Alert, error) {
	if !in.Category.Valid() {
		return types.Alert{}, &ValidationError{Field: "category", Message: fmt.Sprintf("unknown category %q", in.Category)}
	}
	if !in.Severity.Valid() {
		return types.Alert{}, &ValidationError{Field: "severity", Message: fmt.Sprintf("unknown severity %q", in.Severity)}
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return types.Alert{}, missingField("title")
	}

	now := e.now()
	a := types.Alert{
		ID:          uuid.NewString(),
		DeviceID:    in.DeviceID,
		Category:    in.Category,
		Severity:    in.Severity,
		Status:      types.AlertActive,
		Title:       title,
		Description: strings.TrimSpace(in.Description),
		RaisedAt:    now,
	}

	actor := in.Actor
	if actor == "" {
		actor = UnknownActor
	}
	audit := []types.AuditEntry{{
		ID:        uuid.NewString(),
		Actor:     actor,
		Action:    AlertAuditAction(in.Category),
		KeyName:   in.KeyName,
		DeviceID:  in.DeviceID,
		Denied:    true,
		Timestamp: now,
	}}
	if in.Severity == types.SeverityCritical {
		audit = append(audit, types.AuditEntry{
			ID:        uuid.NewString(),
			Actor:     SystemActor,
			Action:    "critical_alert",
			KeyName:   in.KeyName,
			DeviceID:  in.DeviceID,
			Denied:    true,
			Timestamp: now,
		})
	}

	if err := e.ledger.AppendAlert(ctx, a, audit); err != nil {
		return types.Alert{}, err
	}
	e.logger.WithFields(logrus.Fields{
		"alert_id": a.ID,
		"device":   a.DeviceID,
		"category": a.Category,
		"severity": a.Severity,
	}).Warn("alert raised")
	return a, nil
}

func (e *AlertEmitter) Acknowledge(ctx context.Context, id string) (types.Alert, error) {
	return e.move(ctx, id, types.AlertAcknowledged)
}

func (e *AlertEmitter) Resolve(ctx context.Context, id string) (types.Alert, error) {
	return e.move(ctx, id, types.AlertResolved)
}

func (e *AlertEmitter) List(ctx context.Context, status types.AlertStatus, limit int) ([]types.Alert, error) {
	return e.ledger.ListAlerts(ctx, status, limit)
}

// Status only moves forward: active -> acknowledged -> resolved, or
// straight from active to resolved.  The store checks the source status in
// the same write that changes it.
func (e *AlertEmitter) move(ctx context.Context, id string, to types.AlertStatus) (types.Alert, error) {
	from := alertSources(to)
	if len(from) == 0 {
		return types.Alert{}, fmt.Errorf("%w: -> %s", ErrInvalidAlertTransition, to)
	}
	updated, err := e.ledger.SetAlertStatus(ctx, id, from, to)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return types.Alert{}, ErrAlertNotFound
	case errors.Is(err, store.ErrStaleStatus):
		return types.Alert{}, fmt.Errorf("%w: %s -> %s", ErrInvalidAlertTransition, updated.Status, to)
	case err != nil:
		return types.Alert{}, err
	}
	return updated, nil
}

// alertSources lists the statuses an alert may move to "to" from.
func alertSources(to types.AlertStatus) []types.AlertStatus {
	switch to {
	case types.AlertAcknowledged:
		return []types.AlertStatus{types.AlertActive}
	case types.AlertResolved:
		return []types.AlertStatus{types.AlertActive, types.AlertAcknowledged}
	}
	return nil
}
