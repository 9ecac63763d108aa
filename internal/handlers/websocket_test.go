package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/certflow/internal/interfaces"
	"github.com/ternarybob/certflow/internal/services/events"
)

type rawMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) rawMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg rawMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestWebSocket_HelloOnConnect(t *testing.T) {
	handler := NewWebSocketHandler(nil, arbor.NewLogger())
	server := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	defer server.Close()

	conn := dial(t, server)
	defer conn.Close()

	msg := readMessage(t, conn)
	assert.Equal(t, "hello", msg.Type)

	var hello HelloPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &hello))
	assert.Equal(t, handler.serverInstanceID, hello.ServerInstanceID)
}

// TestWebSocket_EventFanOut verifies every connected client receives a
// published workflow event
func TestWebSocket_EventFanOut(t *testing.T) {
	logger := arbor.NewLogger()
	eventService := events.NewService(logger)
	handler := NewWebSocketHandler(eventService, logger)

	server := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	defer server.Close()

	const numClients = 3
	conns := make([]*websocket.Conn, numClients)
	for i := range conns {
		conns[i] = dial(t, server)
		defer conns[i].Close()
		assert.Equal(t, "hello", readMessage(t, conns[i]).Type)
	}
	assert.Eventually(t, func() bool { return handler.ClientCount() == numClients }, time.Second, 10*time.Millisecond)

	require.NoError(t, eventService.PublishSync(context.Background(), interfaces.Event{
		Type: interfaces.EventRecordPersisted,
		Payload: interfaces.RecordEvent{
			RunID:          "run-1",
			Row:            3,
			DocumentNumber: "11002345",
			Status:         "found",
		},
	}))

	for _, conn := range conns {
		msg := readMessage(t, conn)
		assert.Equal(t, string(interfaces.EventRecordPersisted), msg.Type)

		var payload interfaces.RecordEvent
		require.NoError(t, json.Unmarshal(msg.Payload, &payload))
		assert.Equal(t, 3, payload.Row)
		assert.Equal(t, "found", payload.Status)
	}
}

func TestWebSocket_DisconnectRemovesClient(t *testing.T) {
	handler := NewWebSocketHandler(nil, arbor.NewLogger())
	server := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	defer server.Close()

	conn := dial(t, server)
	readMessage(t, conn)
	assert.Equal(t, 1, handler.ClientCount())

	conn.Close()
	assert.Eventually(t, func() bool { return handler.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)

	// Broadcasting with no clients is a no-op
	handler.Broadcast(WSMessage{Type: "run_completed"})
}
