package interfaces

import (
	"github.com/ternarybob/optiscan/internal/models"
)

// ScanBroadcaster pushes progress to subscribers of a single scan.
// The WebSocket handler implements it; services publish through the
// event bus and never hold connections directly.
type ScanBroadcaster interface {
	// BroadcastToScan sends a message to every subscriber of scanID
	BroadcastToScan(scanID string, msg models.WSMessage)
	// BroadcastAll sends a message to every connected client
	BroadcastAll(msg models.WSMessage)
	// SubscriberCount returns the number of live subscribers for a scan
	SubscriberCount(scanID string) int
}
