package gateway

import (
	"sort"
	"sync"
	"time"
)

// idleAfter marks a client idle in ClientInfo.
const idleAfter = 5 * time.Minute

// ClientRegistry tracks connected WebSocket clients and, per client,
// whether a tools/list_changed notification is outstanding. A client that
// was notified is not notified again until it lists tools, so a discovery
// rescan touching many tools costs each client one message.
type ClientRegistry struct {
	mu      sync.Mutex
	clients map[string]*Client
	now     func() time.Time
}

// NewClientRegistry creates an empty registry.
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{
		clients: make(map[string]*Client),
		now:     time.Now,
	}
}

// Add registers a connected client. New clients have no outstanding
// notification.
func (r *ClientRegistry) Add(client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	client.toolsStale = false
	r.clients[client.ID] = client
}

// Remove forgets a disconnected client.
func (r *ClientRegistry) Remove(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.clients, clientID)
}

// All returns every connected client.
func (r *ClientRegistry) All() []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	clients := make([]*Client, 0, len(r.clients))
	for _, client := range r.clients {
		clients = append(clients, client)
	}
	return clients
}

// Touch records activity on a client.
func (r *ClientRegistry) Touch(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if client, ok := r.clients[clientID]; ok {
		client.LastActivity = r.now()
	}
}

// MarkToolsStale flags every client that holds a current tool list and
// returns those clients; they are the ones to notify.
func (r *ClientRegistry) MarkToolsStale() []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	var pending []*Client
	for _, client := range r.clients {
		if client.toolsStale {
			continue
		}
		client.toolsStale = true
		pending = append(pending, client)
	}
	return pending
}

// ToolsListed clears the flag once the client has fetched tools/list.
// Unknown IDs, such as the empty ID of HTTP callers, are ignored.
func (r *ClientRegistry) ToolsListed(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if client, ok := r.clients[clientID]; ok {
		client.toolsStale = false
	}
}

// Snapshot describes the connected clients, oldest connection first.
func (r *ClientRegistry) Snapshot() []ClientInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	infos := make([]ClientInfo, 0, len(r.clients))
	for _, client := range r.clients {
		infos = append(infos, ClientInfo{
			ID:           client.ID,
			ConnectedAt:  client.ConnectedAt,
			LastActivity: client.LastActivity,
			IPAddress:    client.IPAddress,
			Idle:         now.Sub(client.LastActivity) > idleAfter,
			ToolsStale:   client.toolsStale,
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].ConnectedAt.Equal(infos[j].ConnectedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].ConnectedAt.Before(infos[j].ConnectedAt)
	})
	return infos
}
