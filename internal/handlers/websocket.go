package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/optiscan/internal/common"
	"github.com/ternarybob/optiscan/internal/interfaces"
	"github.com/ternarybob/optiscan/internal/models"
	"github.com/ternarybob/optiscan/internal/services/queue"
)

const (
	wsReadLimit  = 4 * 1024
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 50 * time.Second
	wsSendBuffer = 64
)

// WebSocketHandler owns the scan-progress push channel at /hubs/scanprogress.
// It maps the internal event bus onto per-scan subscriber groups; a client
// subscribes to the scans it cares about and can request an authoritative
// snapshot after reconnecting.
type WebSocketHandler struct {
	config  *common.Config
	logger  arbor.ILogger
	storage interfaces.StorageManager
	queue   *queue.Service

	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*wsClient]bool
	scans   map[string]map[*wsClient]bool

	progressMu   sync.Mutex
	lastProgress map[string]time.Time
}

// wsClient is one connected websocket peer. closed guards send: once set,
// the channel is gone and no sender may touch it again.
type wsClient struct {
	conn *websocket.Conn
	send chan models.WSMessage

	mu     sync.Mutex
	subs   map[string]bool
	closed bool
}

// NewWebSocketHandler creates the push handler
func NewWebSocketHandler(config *common.Config, logger arbor.ILogger, storage interfaces.StorageManager, queueSvc *queue.Service) *WebSocketHandler {
	return &WebSocketHandler{
		config:  config,
		logger:  logger,
		storage: storage,
		queue:   queueSvc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The API is public; origin enforcement belongs to the proxy
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:      make(map[*wsClient]bool),
		scans:        make(map[string]map[*wsClient]bool),
		lastProgress: make(map[string]time.Time),
	}
}

// Handle upgrades GET /hubs/scanprogress
func (h *WebSocketHandler) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan models.WSMessage, wsSendBuffer),
		subs: make(map[string]bool),
	}

	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()

	go h.writePump(client)
	h.readPump(r.Context(), client)
}

func (h *WebSocketHandler) readPump(ctx context.Context, client *wsClient) {
	defer h.unregister(client)

	client.conn.SetReadLimit(wsReadLimit)
	client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		var msg models.ClientMessage
		if err := client.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug().Err(err).Msg("WebSocket closed unexpectedly")
			}
			return
		}

		var ref models.ScanRef
		if len(msg.Payload) > 0 {
			if err := json.Unmarshal(msg.Payload, &ref); err != nil {
				continue
			}
		}
		if ref.ScanID == "" {
			continue
		}

		switch msg.Type {
		case models.MsgSubscribeToScan:
			h.subscribe(client, ref.ScanID)
		case models.MsgUnsubscribeFromScan:
			h.unsubscribe(client, ref.ScanID)
		case models.MsgGetCurrentProgress:
			h.sendSnapshot(ctx, client, ref.ScanID)
		}
	}
}

func (h *WebSocketHandler) writePump(client *wsClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	defer client.conn.Close()

	sendTimeout := h.config.WebSocket.SendTimeoutDuration()

	for {
		select {
		case msg, ok := <-client.send:
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			client.conn.SetWriteDeadline(time.Now().Add(sendTimeout))
			if err := client.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(sendTimeout))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *WebSocketHandler) subscribe(client *wsClient, scanID string) {
	client.mu.Lock()
	client.subs[scanID] = true
	client.mu.Unlock()

	h.mu.Lock()
	if h.scans[scanID] == nil {
		h.scans[scanID] = make(map[*wsClient]bool)
	}
	h.scans[scanID][client] = true
	h.mu.Unlock()
}

func (h *WebSocketHandler) unsubscribe(client *wsClient, scanID string) {
	client.mu.Lock()
	delete(client.subs, scanID)
	client.mu.Unlock()

	h.mu.Lock()
	if subs := h.scans[scanID]; subs != nil {
		delete(subs, client)
		if len(subs) == 0 {
			delete(h.scans, scanID)
		}
	}
	h.mu.Unlock()
}

func (h *WebSocketHandler) unregister(client *wsClient) {
	client.mu.Lock()
	subs := make([]string, 0, len(client.subs))
	for scanID := range client.subs {
		subs = append(subs, scanID)
	}
	client.subs = make(map[string]bool)
	wasClosed := client.closed
	client.closed = true
	client.mu.Unlock()

	if !wasClosed {
		close(client.send)
	}

	h.mu.Lock()
	delete(h.clients, client)
	for _, scanID := range subs {
		if group := h.scans[scanID]; group != nil {
			delete(group, client)
			if len(group) == 0 {
				delete(h.scans, scanID)
			}
		}
	}
	h.mu.Unlock()

	client.conn.Close()
}

// sendSnapshot answers GetCurrentProgress with the authoritative state from
// storage. The client replaces its accumulated view with this.
func (h *WebSocketHandler) sendSnapshot(ctx context.Context, client *wsClient, scanID string) {
	scan, err := h.storage.Scans().GetScan(ctx, scanID)
	if err != nil {
		h.enqueue(client, models.WSMessage{
			Type: models.MsgScanFailed,
			Payload: models.ScanFailedPayload{
				ScanID:    scanID,
				Error:     "scan not found",
				ErrorCode: models.ErrCodeNotFound,
			},
		})
		return
	}

	snapshot := models.ProgressSnapshot{
		ScanID:           scan.ID,
		Status:           scan.Status,
		PagesScanned:     scan.PagesScanned,
		PagesTotal:       scan.PagesTotal,
		ImagesFound:      scan.ImagesFound,
		NonWebpImages:    scan.NonWebpImages,
		TotalImageBytes:  scan.TotalImageBytes,
		EstimatedSavings: scan.EstimatedSavings,
		ReachedPageLimit: scan.ReachedPageLimit,
		Error:            scan.Error,
		ErrorCode:        scan.ErrorCode,
	}
	if scan.Status == models.ScanStatusQueued {
		if position, err := h.queue.PositionOf(ctx, scan.ID); err == nil {
			snapshot.QueuePosition = position
		}
	}

	h.enqueue(client, models.WSMessage{Type: models.MsgProgressSnapshot, Payload: snapshot})
}

// enqueue delivers a message to one client without blocking the caller. A
// client whose buffer is full is dropped; it can reconnect and resync. The
// buffered send happens under client.mu so it can never race the channel
// close in unregister.
func (h *WebSocketHandler) enqueue(client *wsClient, msg models.WSMessage) {
	client.mu.Lock()
	if client.closed {
		client.mu.Unlock()
		return
	}
	select {
	case client.send <- msg:
		client.mu.Unlock()
		return
	default:
	}
	client.mu.Unlock()

	h.logger.Warn().Msg("Dropping slow websocket client")
	go h.unregister(client)
}

// BroadcastToScan sends a message to every subscriber of one scan
func (h *WebSocketHandler) BroadcastToScan(scanID string, msg models.WSMessage) {
	h.mu.RLock()
	targets := make([]*wsClient, 0, len(h.scans[scanID]))
	for client := range h.scans[scanID] {
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	for _, client := range targets {
		h.enqueue(client, msg)
	}
}

// BroadcastAll sends a message to every connected client
func (h *WebSocketHandler) BroadcastAll(msg models.WSMessage) {
	h.mu.RLock()
	targets := make([]*wsClient, 0, len(h.clients))
	for client := range h.clients {
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	for _, client := range targets {
		h.enqueue(client, msg)
	}
}

// SubscriberCount reports how many clients follow one scan
func (h *WebSocketHandler) SubscriberCount(scanID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.scans[scanID])
}

// RegisterEventHandlers wires the internal event bus to the push channel
func (h *WebSocketHandler) RegisterEventHandlers(bus interfaces.EventService) error {
	handlers := map[interfaces.EventType]interfaces.EventHandler{
		interfaces.EventQueueChanged:  h.onQueueChanged,
		interfaces.EventScanStarted:   h.onScanStarted,
		interfaces.EventPageProgress:  h.onPageProgress,
		interfaces.EventImageFound:    h.onImageFound,
		interfaces.EventScanCompleted: h.onScanCompleted,
		interfaces.EventScanFailed:    h.onScanFailed,
		interfaces.EventStatsUpdated:  h.onStatsUpdated,
	}
	for eventType, handler := range handlers {
		if err := bus.Subscribe(eventType, handler); err != nil {
			return err
		}
	}
	return nil
}

func (h *WebSocketHandler) onQueueChanged(ctx context.Context, event interfaces.Event) error {
	positions, ok := event.Payload.([]models.QueuePositionPayload)
	if !ok {
		return nil
	}
	for _, pos := range positions {
		h.BroadcastToScan(pos.ScanID, models.WSMessage{
			Type:    models.MsgQueuePositionUpdate,
			Payload: pos,
		})
	}
	return nil
}

func (h *WebSocketHandler) onScanStarted(ctx context.Context, event interfaces.Event) error {
	payload, ok := event.Payload.(models.ScanStartedPayload)
	if !ok {
		return nil
	}
	h.BroadcastToScan(payload.ScanID, models.WSMessage{Type: models.MsgScanStarted, Payload: payload})
	return nil
}

// onPageProgress throttles the per-scan progress stream so a fast crawl
// cannot flood subscribers
func (h *WebSocketHandler) onPageProgress(ctx context.Context, event interfaces.Event) error {
	payload, ok := event.Payload.(models.PageProgressPayload)
	if !ok {
		return nil
	}

	throttle := h.config.WebSocket.ProgressThrottleDuration()
	now := time.Now()

	h.progressMu.Lock()
	last := h.lastProgress[payload.ScanID]
	if now.Sub(last) < throttle {
		h.progressMu.Unlock()
		return nil
	}
	h.lastProgress[payload.ScanID] = now
	h.progressMu.Unlock()

	h.BroadcastToScan(payload.ScanID, models.WSMessage{Type: models.MsgPageProgress, Payload: payload})
	return nil
}

func (h *WebSocketHandler) onImageFound(ctx context.Context, event interfaces.Event) error {
	payload, ok := event.Payload.(models.ImageFoundPayload)
	if !ok {
		return nil
	}
	h.BroadcastToScan(payload.ScanID, models.WSMessage{Type: models.MsgImageFound, Payload: payload})
	return nil
}

func (h *WebSocketHandler) onScanCompleted(ctx context.Context, event interfaces.Event) error {
	payload, ok := event.Payload.(models.ScanCompletePayload)
	if !ok {
		return nil
	}

	h.progressMu.Lock()
	delete(h.lastProgress, payload.ScanID)
	h.progressMu.Unlock()

	h.BroadcastToScan(payload.ScanID, models.WSMessage{Type: models.MsgScanComplete, Payload: payload})
	return nil
}

func (h *WebSocketHandler) onScanFailed(ctx context.Context, event interfaces.Event) error {
	payload, ok := event.Payload.(models.ScanFailedPayload)
	if !ok {
		return nil
	}

	h.progressMu.Lock()
	delete(h.lastProgress, payload.ScanID)
	h.progressMu.Unlock()

	h.BroadcastToScan(payload.ScanID, models.WSMessage{Type: models.MsgScanFailed, Payload: payload})
	return nil
}

func (h *WebSocketHandler) onStatsUpdated(ctx context.Context, event interfaces.Event) error {
	live, ok := event.Payload.(*models.LiveStats)
	if !ok {
		return nil
	}
	h.BroadcastAll(models.WSMessage{Type: models.MsgStatsUpdate, Payload: live})
	return nil
}
