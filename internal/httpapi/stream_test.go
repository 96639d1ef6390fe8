package httpapi_test

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/keybox/internal/broadcast"
	"github.com/BrandonDHaskell/keybox/internal/httpapi"
	"github.com/BrandonDHaskell/keybox/internal/keybox/service"
	"github.com/BrandonDHaskell/keybox/internal/keybox/store/memory"
)

func TestStream_PushesSummaryAfterCheckout(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	hub := broadcast.NewHub(logger)
	t.Cleanup(hub.Close)

	keys := memory.NewKeyStore()
	eng := service.NewEngine(service.Stores{
		Principals: memory.NewPrincipalStore(),
		Keys:       keys,
		Ledger:     memory.NewLedgerStore(keys),
		Devices:    memory.NewDeviceStore(),
	}, service.Options{DefaultDevice: "keybox-01", Broadcaster: hub, Logger: logger})

	srv := httpapi.NewServer(httpapi.Dependencies{Logger: logger, Engine: eng, Stream: hub})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	// The upgrade goes through the logging middleware.
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/v1/stream", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	resp := postJSON(t, ts.URL+"/v1/events", `{"action":"key_taken","key_info":"Key 3","user_name":"Dana"}`)
	require.Equal(t, 200, resp.StatusCode)

	deadline := time.Now().Add(2 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var msg broadcast.Message
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Summary.CheckedOutKeys == 1 {
			require.NotNil(t, msg.Summary.LastTransaction)
			require.Equal(t, "Dana", msg.Summary.LastTransaction.Actor)
			return
		}
	}
}
