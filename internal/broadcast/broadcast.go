// Package broadcast delivers ledger summaries to dashboards: a websocket
// hub for browsers and a Redis channel for other services.
package broadcast

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/BrandonDHaskell/keybox/internal/keybox/types"
)

// Sink receives every summary the ledger publishes.
type Sink interface {
	Broadcast(ctx context.Context, s types.Summary) error
}

// Message is the envelope pushed on every channel.
type Message struct {
	Type    string        `json:"type"`
	Summary types.Summary `json:"summary"`
}

const messageTypeSummary = "summary"

func encode(s types.Summary) ([]byte, error) {
	return json.Marshal(Message{Type: messageTypeSummary, Summary: s})
}

// Fanout delivers to every sink and joins their errors.  One failing sink
// does not stop the others.
type Fanout []Sink

func (f Fanout) Broadcast(ctx context.Context, s types.Summary) error {
	var errs []error
	for _, sink := range f {
		if sink == nil {
			continue
		}
		if err := sink.Broadcast(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
