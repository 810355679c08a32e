package gateway

import (
	"github.com/harun/toolns/internal/observability"
	"github.com/rs/zerolog"
)

// MethodToolsListChanged tells a client to fetch tools/list again.
const MethodToolsListChanged = "notifications/tools/list_changed"

// EventBroadcaster writes server notifications to WebSocket clients.
type EventBroadcaster struct {
	clients *ClientRegistry
	logger  zerolog.Logger
}

// NewEventBroadcaster creates a broadcaster over clients.
func NewEventBroadcaster(clients *ClientRegistry, logger zerolog.Logger) *EventBroadcaster {
	return &EventBroadcaster{
		clients: clients,
		logger:  logger,
	}
}

// ToolsChanged notifies every client whose tool list is not already known
// to be stale.
func (b *EventBroadcaster) ToolsChanged() {
	b.send(MethodToolsListChanged, nil, b.clients.MarkToolsStale())
}

func (b *EventBroadcaster) send(method string, params interface{}, clients []*Client) {
	if len(clients) == 0 {
		return
	}

	msg := RPCNotification{
		JSONRPC: JSONRPCVersion,
		Method:  method,
		Params:  params,
	}

	sent := 0
	for _, client := range clients {
		if err := client.WriteJSON(msg); err != nil {
			b.logger.Warn().
				Err(err).
				Str("clientId", client.ID).
				Str("method", method).
				Msg("Failed to notify client")
			continue
		}
		sent++
	}
	observability.RecordNotificationsSent(method, sent)

	b.logger.Debug().
		Str("method", method).
		Int("sent", sent).
		Int("failed", len(clients)-sent).
		Msg("Notification sent")
}
