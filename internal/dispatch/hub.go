package dispatch

import (
	"sync"

	"shelly2mqtt/internal/core/domain"
	"shelly2mqtt/internal/transport/gen1"
)

// Hub tracks the live transport sessions. Session actors register on
// connect and deregister on close; the dispatcher reads whatever is current.
type Hub struct {
	mu      sync.RWMutex
	sockets map[string]RPCSession
	cloud   CloudSession
	http    map[string]*gen1.Client
}

func NewHub() *Hub {
	return &Hub{
		sockets: make(map[string]RPCSession),
		http:    make(map[string]*gen1.Client),
	}
}

func (h *Hub) RegisterSocket(mainID string, session RPCSession) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sockets[mainID] = session
}

func (h *Hub) DeregisterSocket(mainID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sockets, mainID)
}

func (h *Hub) RegisterCloud(session CloudSession) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cloud = session
}

func (h *Hub) DeregisterCloud() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cloud = nil
}

func (h *Hub) SocketFor(mainID string) (RPCSession, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sockets[mainID]
	return s, ok
}

func (h *Hub) Cloud() (CloudSession, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.cloud == nil {
		return nil, false
	}
	return h.cloud, true
}

// HTTPFor returns the HTTP client for a device's address, creating it on
// first use. Clients are keyed by address so channels of one unit share a
// client.
func (h *Hub) HTTPFor(dev *domain.LogicalDevice) HTTPCaller {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.http[dev.Address]; ok {
		return c
	}
	c := gen1.NewClient(dev.Address, dev.Username, dev.Password)
	h.http[dev.Address] = c
	return c
}
