package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/BrandonDHaskell/keybox/internal/keybox/service"
	"github.com/BrandonDHaskell/keybox/internal/keybox/types"
)

type Dependencies struct {
	Logger logrus.FieldLogger
	Addr   string
	Engine *service.Engine

	// Stream serves GET /v1/stream.  Nil leaves the route unregistered.
	Stream http.Handler
}

type Server struct {
	httpServer *http.Server
	logger     logrus.FieldLogger
	mux        *http.ServeMux
	engine     *service.Engine
}

func NewServer(d Dependencies) *Server {
	mux := http.NewServeMux()
	logger := d.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	s := &Server{
		logger: logger,
		mux:    mux,
		engine: d.Engine,
	}

	// Hardware ingress
	mux.HandleFunc("POST /v1/events", s.handleEvent)
	mux.HandleFunc("POST /v1/keys/toggle", s.handleToggle)
	mux.HandleFunc("POST /v1/heartbeat", s.handleHeartbeat)

	// Dashboard and administration
	mux.HandleFunc("GET /v1/summary", s.handleSummary)
	mux.HandleFunc("GET /v1/keys", s.handleListKeys)
	mux.HandleFunc("POST /v1/keys", s.handleCreateKey)
	mux.HandleFunc("POST /v1/principals", s.handleUpsertPrincipal)
	mux.HandleFunc("GET /v1/transactions", s.handleListTransactions)
	mux.HandleFunc("DELETE /v1/transactions", s.handleClearTransactions)
	mux.HandleFunc("GET /v1/audit", s.handleListAudit)
	mux.HandleFunc("GET /v1/alerts", s.handleListAlerts)
	mux.HandleFunc("POST /v1/alerts", s.handleRaiseAlert)
	mux.HandleFunc("POST /v1/alerts/{id}/acknowledge", s.handleAcknowledgeAlert)
	mux.HandleFunc("POST /v1/alerts/{id}/resolve", s.handleResolveAlert)
	if d.Stream != nil {
		mux.Handle("GET /v1/stream", d.Stream)
	}
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})

	handler := loggingMiddleware(logger, mux)

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ── Hardware ingress ─────────────────────────────────────────────────────────

// readEvent decodes either encoding.  Device payloads are decoded
// permissively: unknown fields are ignored.
func readEvent(r *http.Request) (types.RawEvent, error) {
	if isProtobuf(r) {
		msg, err := readStruct(r)
		if err != nil {
			return types.RawEvent{}, err
		}
		return rawEventFromProto(msg)
	}
	var raw types.RawEvent
	err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&raw)
	return raw, err
}

func (s *Server) writeAck(w http.ResponseWriter, r *http.Request, ack types.Ack) {
	if isProtobuf(r) {
		msg, err := ackToProto(ack)
		if err != nil {
			s.logger.WithError(err).Error("encode ack")
			writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
			return
		}
		writeStruct(w, http.StatusOK, msg)
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	raw, err := readEvent(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_body", "invalid event body")
		return
	}

	ack, err := s.engine.Ingestor.Handle(r.Context(), raw)
	if err != nil {
		writeServiceError(w, s.logger, "event", err)
		return
	}
	s.writeAck(w, r, ack)
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	raw, err := readEvent(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_body", "invalid toggle body")
		return
	}

	ing := s.engine.Ingestor
	ack, err := ing.HandleToggle(r.Context(), raw.NormalizeToggle(ing.DefaultDevice()))
	if err != nil {
		writeServiceError(w, s.logger, "toggle", err)
		return
	}
	s.writeAck(w, r, ack)
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req types.HeartbeatRequest
	if isProtobuf(r) {
		msg, err := readStruct(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_proto", "invalid protobuf body")
			return
		}
		if req, err = heartbeatRequestFromProto(msg); err != nil {
			writeError(w, http.StatusBadRequest, "bad_proto", "invalid heartbeat fields")
			return
		}
	} else if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	resp, err := s.engine.Heartbeats.Record(r.Context(), req)
	if err != nil {
		writeServiceError(w, s.logger, "heartbeat", err)
		return
	}

	if isProtobuf(r) {
		msg, err := heartbeatResponseToProto(resp)
		if err != nil {
			writeServiceError(w, s.logger, "heartbeat", err)
			return
		}
		writeStruct(w, http.StatusOK, msg)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ── Dashboard and administration ─────────────────────────────────────────────

func decodeStrict(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.engine.Ledger.Summary(r.Context())
	if err != nil {
		writeServiceError(w, s.logger, "summary", err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := s.engine.Keys.List(r.Context())
	if err != nil {
		writeServiceError(w, s.logger, "list keys", err)
		return
	}
	if keys == nil {
		keys = []types.Key{}
	}
	writeJSON(w, http.StatusOK, keys)
}

type createKeyRequest struct {
	Name  string `json:"name"`
	Token string `json:"token"`
}

func (s *Server) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if err := decodeStrict(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}
	k, err := s.engine.Keys.Register(r.Context(), req.Name, req.Token)
	if err != nil {
		writeServiceError(w, s.logger, "create key", err)
		return
	}
	writeJSON(w, http.StatusCreated, k)
}

type principalRequest struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	CardToken     string `json:"card_token"`
	FingerprintID string `json:"fingerprint_id"`
	Role          string `json:"role"`
	Active        *bool  `json:"active"`
}

func (s *Server) handleUpsertPrincipal(w http.ResponseWriter, r *http.Request) {
	var req principalRequest
	if err := decodeStrict(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}
	p := types.Principal{
		ID:            req.ID,
		Name:          req.Name,
		CardToken:     req.CardToken,
		FingerprintID: req.FingerprintID,
		Role:          req.Role,
		Active:        req.Active == nil || *req.Active,
	}
	p, err := s.engine.Principals.Upsert(r.Context(), p)
	if err != nil {
		writeServiceError(w, s.logger, "upsert principal", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	txns, err := s.engine.Ledger.RecentTransactions(r.Context(), parseLimit(r))
	if err != nil {
		writeServiceError(w, s.logger, "list transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, txns)
}

func (s *Server) handleClearTransactions(w http.ResponseWriter, r *http.Request) {
	n, err := s.engine.Ledger.ClearTransactions(r.Context())
	if err != nil {
		writeServiceError(w, s.logger, "clear transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"removed": n})
}

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := s.engine.Ledger.RecentAudit(r.Context(), parseLimit(r))
	if err != nil {
		writeServiceError(w, s.logger, "list audit", err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	status := types.AlertStatus(r.URL.Query().Get("status"))
	switch status {
	case "", types.AlertActive, types.AlertAcknowledged, types.AlertResolved:
	default:
		writeJSON(w, http.StatusBadRequest, errorBody{
			Status: types.AckError, Error: "validation_error", Field: "status", Message: "unknown alert status",
		})
		return
	}
	alerts, err := s.engine.Alerts.List(r.Context(), status, parseLimit(r))
	if err != nil {
		writeServiceError(w, s.logger, "list alerts", err)
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

type raiseAlertRequest struct {
	DeviceID    string              `json:"device_id"`
	Category    types.AlertCategory `json:"category"`
	Severity    types.Severity      `json:"severity"`
	Title       string              `json:"title"`
	Description string              `json:"description"`
}

func (s *Server) handleRaiseAlert(w http.ResponseWriter, r *http.Request) {
	var req raiseAlertRequest
	if err := decodeStrict(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}
	a, err := s.engine.Alerts.Raise(r.Context(), service.AlertInput{
		DeviceID:    req.DeviceID,
		Category:    req.Category,
		Severity:    req.Severity,
		Title:       req.Title,
		Description: req.Description,
		Actor:       service.SystemActor,
	})
	if err != nil {
		writeServiceError(w, s.logger, "raise alert", err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) handleAcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	a, err := s.engine.Alerts.Acknowledge(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, s.logger, "acknowledge alert", err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	a, err := s.engine.Alerts.Resolve(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, s.logger, "resolve alert", err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}
