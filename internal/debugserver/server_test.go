package debugserver

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/featureflag/internal/features"
)

func TestServer_BroadcastsFeatureChangesOverWebSocket(t *testing.T) {
	table := features.New(nil)
	srv := New("", table, nil)

	mux := srv.httpServer.Handler
	testServer := httptest.NewServer(mux)
	defer testServer.Close()

	srv.hub.Start(context.Background())
	defer srv.hub.Stop(context.Background())

	wsURL := "ws" + strings.TrimPrefix(testServer.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return srv.hub.ActiveSubscribers() == 1
	}, time.Second, 5*time.Millisecond)

	value := "on"
	require.NoError(t, srv.hub.Publish(Change{Feature: "popup", Value: &value}))

	var received Change
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&received))
	assert.Equal(t, "popup", received.Feature)
	require.NotNil(t, received.Value)
	assert.Equal(t, "on", *received.Value)
}

func TestServer_SnapshotEndpointReturnsCurrentTable(t *testing.T) {
	table := features.New(nil)
	srv := New("", table, nil)

	mux := srv.httpServer.Handler
	testServer := httptest.NewServer(mux)
	defer testServer.Close()

	resp, err := testServer.Client().Get(testServer.URL + "/snapshot")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)
}
