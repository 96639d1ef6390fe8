package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/keybox/internal/httpapi"
	"github.com/BrandonDHaskell/keybox/internal/keybox/service"
	"github.com/BrandonDHaskell/keybox/internal/keybox/store/memory"
	"github.com/BrandonDHaskell/keybox/internal/keybox/types"
)

// newTestServer wires up the full dependency graph using in-memory stores
// and returns an httptest.Server whose URL can be hit with a plain http.Client.
func newTestServer(t *testing.T) (*httptest.Server, *service.Engine) {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	keys := memory.NewKeyStore()
	eng := service.NewEngine(service.Stores{
		Principals: memory.NewPrincipalStore(types.Principal{
			ID: "p-1", Name: "Alice", CardToken: "AA11BB22", Active: true,
		}),
		Keys:    keys,
		Ledger:  memory.NewLedgerStore(keys),
		Devices: memory.NewDeviceStore(),
	}, service.Options{DefaultDevice: "keybox-01", Logger: logger})

	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger: logger,
		Addr:   ":0",
		Engine: eng,
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, eng
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewReader([]byte(body)))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

type errorResponse struct {
	Status  string `json:"status"`
	Error   string `json:"error"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ── Events ───────────────────────────────────────────────────────────────────

func TestEvent_CheckoutAck(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/events", `{"action":"key_taken","user":"aa11bb22","key_info":"Key 7","device":"keybox-02","extra_field":1}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	ack := decode[types.Ack](t, resp)
	assert.Equal(t, types.AckSuccess, ack.Status)
	assert.Equal(t, "key_checkout", ack.Action)
	assert.Equal(t, "Alice", ack.Actor)
	assert.Equal(t, "Key 7", ack.Key)
	assert.Equal(t, types.KeyCheckedOut, ack.KeyState)
	assert.NotEmpty(t, ack.TransactionID)
}

func TestEvent_CheckinUnknownKey_400(t *testing.T) {
	ts, eng := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/events", `{"action":"key_returned","key_info":"Ghost"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := decode[errorResponse](t, resp)
	assert.Equal(t, types.AckError, body.Status)
	assert.Equal(t, "unknown_key", body.Error)
	assert.Equal(t, "key_info", body.Field)

	txns, err := eng.Ledger.RecentTransactions(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, txns)
}

func TestEvent_MissingKeyInfo_400(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/events", `{"action":"key_returned"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := decode[errorResponse](t, resp)
	assert.Equal(t, "validation_error", body.Error)
	assert.Equal(t, "key_info", body.Field)
}

func TestEvent_BadJSON_400(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/events", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEvent_UnrecognizedActionAccepted(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/events", `{"action":"reboot"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ack := decode[types.Ack](t, resp)
	assert.Equal(t, "reboot", ack.Action)
}

func TestEvent_Protobuf(t *testing.T) {
	ts, _ := newTestServer(t)

	msg, err := structpb.NewStruct(map[string]any{
		"action":   "checkout",
		"user":     "AA11BB22",
		"key_info": "Key 1",
	})
	require.NoError(t, err)
	payload, err := proto.Marshal(msg)
	require.NoError(t, err)

	resp, err := http.Post(ts.URL+"/v1/events", "application/x-protobuf", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-protobuf", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var ack structpb.Struct
	require.NoError(t, proto.Unmarshal(body, &ack))
	assert.Equal(t, "key_checkout", ack.Fields["action"].GetStringValue())
	assert.Equal(t, "Alice", ack.Fields["actor"].GetStringValue())
}

// ── Toggle ───────────────────────────────────────────────────────────────────

func TestToggle_NewKeyTwice(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/keys/toggle", `{"action_hint":"scan","key_token":"NEWKEY1","user_token":"AA11BB22"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	first := decode[types.Ack](t, resp)
	assert.Equal(t, "key_checkout", first.Action)
	assert.Equal(t, types.KeyCheckedOut, first.KeyState)

	resp = postJSON(t, ts.URL+"/v1/keys/toggle", `{"action_hint":"scan","key_token":"NEWKEY1"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	second := decode[types.Ack](t, resp)
	assert.Equal(t, "key_checkin", second.Action)
	assert.Equal(t, types.KeyAvailable, second.KeyState)
	assert.Equal(t, "Alice", second.Actor)
}

func TestToggle_MissingToken_400(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/keys/toggle", `{"action_hint":"scan"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "key_token", decode[errorResponse](t, resp).Field)
}

// ── Heartbeat ────────────────────────────────────────────────────────────────

func TestHeartbeat_OK(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/heartbeat", `{"device_id":"keybox-01","uptime_s":42}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	hb := decode[types.HeartbeatResponse](t, resp)
	assert.True(t, hb.OK)
	assert.Equal(t, "keybox-01", hb.DeviceID)
}

func TestHeartbeat_MissingDeviceID_400(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/heartbeat", `{"uptime_s":1}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "device_id", decode[errorResponse](t, resp).Field)
}

// ── Administration ───────────────────────────────────────────────────────────

func TestKeys_CreateListConflict(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/keys", `{"name":"Office","token":"TAG1"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/v1/keys", `{"name":"office"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/v1/keys", `{"name":"x","color":"red"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	get, err := http.Get(ts.URL + "/v1/keys")
	require.NoError(t, err)
	defer get.Body.Close()
	keys := decode[[]types.Key](t, get)
	require.Len(t, keys, 1)
	assert.Equal(t, "Office", keys[0].Name)
}

func TestPrincipals_UpsertThenResolve(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/principals", `{"name":"Carol","fingerprint_id":"12"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	p := decode[types.Principal](t, resp)
	assert.NotEmpty(t, p.ID)
	assert.True(t, p.Active)

	resp = postJSON(t, ts.URL+"/v1/events", `{"action":"checkout","user":"FP_12","key_info":"Key 1"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Carol", decode[types.Ack](t, resp).Actor)
}

func TestTransactions_ListAndClear(t *testing.T) {
	ts, _ := newTestServer(t)

	postJSON(t, ts.URL+"/v1/events", `{"action":"checkout","key_info":"Key 1"}`)
	postJSON(t, ts.URL+"/v1/events", `{"action":"checkout","key_info":"Key 2"}`)

	get, err := http.Get(ts.URL + "/v1/transactions?limit=1")
	require.NoError(t, err)
	defer get.Body.Close()
	txns := decode[[]types.Transaction](t, get)
	require.Len(t, txns, 1)
	assert.Equal(t, "Key 2", txns[0].KeyName)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/v1/transactions", nil)
	require.NoError(t, err)
	del, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer del.Body.Close()
	require.Equal(t, http.StatusOK, del.StatusCode)
	assert.EqualValues(t, 2, decode[map[string]int64](t, del)["removed"])

	sum, err := http.Get(ts.URL + "/v1/summary")
	require.NoError(t, err)
	defer sum.Body.Close()
	s := decode[types.Summary](t, sum)
	assert.Equal(t, 2, s.TotalKeys)
	assert.Equal(t, 2, s.AvailableKeys)
	assert.Nil(t, s.LastTransaction)
}

func TestAlerts_RaiseAcknowledgeResolve(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/alerts", `{"device_id":"keybox-01","category":"tamper","severity":"critical","title":"Enclosure opened"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	a := decode[types.Alert](t, resp)
	assert.Equal(t, types.AlertActive, a.Status)

	resp = postJSON(t, ts.URL+"/v1/alerts/"+a.ID+"/acknowledge", ``)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, types.AlertAcknowledged, decode[types.Alert](t, resp).Status)

	resp = postJSON(t, ts.URL+"/v1/alerts/"+a.ID+"/acknowledge", ``)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/v1/alerts/"+a.ID+"/resolve", ``)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/v1/alerts/missing/resolve", ``)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	get, err := http.Get(ts.URL + "/v1/alerts?status=resolved")
	require.NoError(t, err)
	defer get.Body.Close()
	assert.Len(t, decode[[]types.Alert](t, get), 1)

	bad, err := http.Get(ts.URL + "/v1/alerts?status=open")
	require.NoError(t, err)
	defer bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)

	audit, err := http.Get(ts.URL + "/v1/audit")
	require.NoError(t, err)
	defer audit.Body.Close()
	entries := decode[[]types.AuditEntry](t, audit)
	require.Len(t, entries, 2)
	assert.Equal(t, service.SystemActor, entries[0].Actor)
}

func TestAlerts_InvalidCategory_400(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/alerts", `{"category":"fire","severity":"low","title":"x"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "category", decode[errorResponse](t, resp).Field)
}

func TestHealthz(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
