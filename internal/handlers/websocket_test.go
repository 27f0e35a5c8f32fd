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
	"github.com/ternarybob/optiscan/internal/common"
	"github.com/ternarybob/optiscan/internal/interfaces"
	"github.com/ternarybob/optiscan/internal/models"
	"github.com/ternarybob/optiscan/internal/services/events"
	"github.com/ternarybob/optiscan/internal/services/queue"
	"github.com/ternarybob/optiscan/internal/storage/sqlite"
)

func newTestWSHandler(t *testing.T) (*WebSocketHandler, interfaces.EventService, interfaces.StorageManager) {
	t.Helper()

	cfg := common.NewDefaultConfig()
	cfg.Storage.SQLite.Path = ":memory:"
	cfg.WebSocket.ProgressThrottle = "1ms"

	logger := common.GetLogger()
	storage, err := sqlite.NewManager(logger, &cfg.Storage.SQLite)
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })

	bus := events.NewService(logger)
	h := NewWebSocketHandler(cfg, logger, storage, queue.NewService(cfg, logger, storage, bus))
	require.NoError(t, h.RegisterEventHandlers(bus))
	return h, bus, storage
}

func dialWS(t *testing.T, h *WebSocketHandler) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(h.Handle))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendClientMessage(t *testing.T, conn *websocket.Conn, msgType, scanID string) {
	t.Helper()
	payload, err := json.Marshal(models.ScanRef{ScanID: scanID})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(models.ClientMessage{Type: msgType, Payload: payload}))
}

func readMessage(t *testing.T, conn *websocket.Conn) models.WSMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var msg models.WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func waitForSubscribers(t *testing.T, h *WebSocketHandler, scanID string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.SubscriberCount(scanID) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("subscriber count for %s never reached %d", scanID, want)
}

func TestWebSocket_SubscribeReceivesScanEvents(t *testing.T) {
	h, bus, _ := newTestWSHandler(t)
	conn := dialWS(t, h)

	sendClientMessage(t, conn, models.MsgSubscribeToScan, "scan_abc")
	waitForSubscribers(t, h, "scan_abc", 1)

	require.NoError(t, bus.PublishSync(context.Background(), interfaces.Event{
		Type: interfaces.EventScanStarted,
		Payload: models.ScanStartedPayload{
			ScanID: "scan_abc",
			URL:    "https://example.com",
		},
	}))

	msg := readMessage(t, conn)
	assert.Equal(t, models.MsgScanStarted, msg.Type)
}

func TestWebSocket_EventsForOtherScansNotDelivered(t *testing.T) {
	h, bus, _ := newTestWSHandler(t)
	conn := dialWS(t, h)

	sendClientMessage(t, conn, models.MsgSubscribeToScan, "scan_mine")
	waitForSubscribers(t, h, "scan_mine", 1)

	require.NoError(t, bus.PublishSync(context.Background(), interfaces.Event{
		Type:    interfaces.EventImageFound,
		Payload: models.ImageFoundPayload{ScanID: "scan_other", URL: "https://x/a.png"},
	}))
	require.NoError(t, bus.PublishSync(context.Background(), interfaces.Event{
		Type:    interfaces.EventImageFound,
		Payload: models.ImageFoundPayload{ScanID: "scan_mine", URL: "https://x/b.png"},
	}))

	msg := readMessage(t, conn)
	require.Equal(t, models.MsgImageFound, msg.Type)

	raw, err := json.Marshal(msg.Payload)
	require.NoError(t, err)
	var payload models.ImageFoundPayload
	require.NoError(t, json.Unmarshal(raw, &payload))
	assert.Equal(t, "scan_mine", payload.ScanID)
}

func TestWebSocket_UnsubscribeStopsDelivery(t *testing.T) {
	h, _, _ := newTestWSHandler(t)
	conn := dialWS(t, h)

	sendClientMessage(t, conn, models.MsgSubscribeToScan, "scan_abc")
	waitForSubscribers(t, h, "scan_abc", 1)

	sendClientMessage(t, conn, models.MsgUnsubscribeFromScan, "scan_abc")
	waitForSubscribers(t, h, "scan_abc", 0)
}

func TestWebSocket_SnapshotResync(t *testing.T) {
	h, _, storage := newTestWSHandler(t)
	ctx := context.Background()

	now := time.Now().UTC()
	scan := &models.ScanJob{
		ID:           common.NewScanID(),
		URL:          "https://example.com",
		SubmitterIP:  "203.0.113.10",
		Status:       models.ScanStatusProcessing,
		PagesScanned: 7,
		PagesTotal:   12,
		ImagesFound:  30,
		CreatedAt:    now,
		StartedAt:    &now,
	}
	require.NoError(t, storage.Scans().CreateScan(ctx, scan))

	conn := dialWS(t, h)
	sendClientMessage(t, conn, models.MsgGetCurrentProgress, scan.ID)

	msg := readMessage(t, conn)
	require.Equal(t, models.MsgProgressSnapshot, msg.Type)

	raw, err := json.Marshal(msg.Payload)
	require.NoError(t, err)
	var snapshot models.ProgressSnapshot
	require.NoError(t, json.Unmarshal(raw, &snapshot))
	assert.Equal(t, scan.ID, snapshot.ScanID)
	assert.Equal(t, models.ScanStatusProcessing, snapshot.Status)
	assert.Equal(t, 7, snapshot.PagesScanned)
	assert.Equal(t, 30, snapshot.ImagesFound)
}

func TestWebSocket_SnapshotForUnknownScan(t *testing.T) {
	h, _, _ := newTestWSHandler(t)
	conn := dialWS(t, h)

	sendClientMessage(t, conn, models.MsgGetCurrentProgress, "scan_missing")

	msg := readMessage(t, conn)
	assert.Equal(t, models.MsgScanFailed, msg.Type)
}

// connectedClient dials the handler and returns its server-side client once
// it is registered
func connectedClient(t *testing.T, h *WebSocketHandler) *wsClient {
	t.Helper()
	dialWS(t, h)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h.mu.RLock()
		for client := range h.clients {
			h.mu.RUnlock()
			return client
		}
		h.mu.RUnlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("client never registered")
	return nil
}

func TestWebSocket_EnqueueAfterUnregisterIsSafe(t *testing.T) {
	h, _, _ := newTestWSHandler(t)
	client := connectedClient(t, h)

	h.subscribe(client, "scan_abc")
	h.unregister(client)

	// A broadcast racing the disconnect must not panic on the closed channel
	assert.NotPanics(t, func() {
		h.enqueue(client, models.WSMessage{Type: models.MsgStatsUpdate})
	})
	assert.Zero(t, h.SubscriberCount("scan_abc"))
}

func TestWebSocket_UnregisterTwiceClosesOnce(t *testing.T) {
	h, _, _ := newTestWSHandler(t)
	client := connectedClient(t, h)

	assert.NotPanics(t, func() {
		h.unregister(client)
		h.unregister(client)
	})
}

func TestWebSocket_QueuePositionBroadcast(t *testing.T) {
	h, bus, _ := newTestWSHandler(t)
	conn := dialWS(t, h)

	sendClientMessage(t, conn, models.MsgSubscribeToScan, "scan_q1")
	waitForSubscribers(t, h, "scan_q1", 1)

	require.NoError(t, bus.PublishSync(context.Background(), interfaces.Event{
		Type: interfaces.EventQueueChanged,
		Payload: []models.QueuePositionPayload{
			{ScanID: "scan_q1", Position: 2, EstimatedWaitSeconds: 90},
			{ScanID: "scan_q2", Position: 3, EstimatedWaitSeconds: 120},
		},
	}))

	msg := readMessage(t, conn)
	require.Equal(t, models.MsgQueuePositionUpdate, msg.Type)

	raw, err := json.Marshal(msg.Payload)
	require.NoError(t, err)
	var pos models.QueuePositionPayload
	require.NoError(t, json.Unmarshal(raw, &pos))
	assert.Equal(t, "scan_q1", pos.ScanID)
	assert.Equal(t, 2, pos.Position)
}
