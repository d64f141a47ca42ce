// Package gateway implements the live channel: authenticated WebSocket
// connections grouped per tenant, a per-connection rate governor, and
// fire-and-forget fan-out of accepted samples.
package gateway

import (
	"encoding/json"
	"sync"

	"github.com/fieldtrack/fieldtrack/internal/logger"
	"github.com/fieldtrack/fieldtrack/internal/metrics"
	"github.com/fieldtrack/fieldtrack/pkg/types"
)

// Hub tracks which connections subscribe to which tenant's broadcasts.
// Membership changes only on connect/disconnect; broadcasts iterate under
// a read lock so they never block joins from other tenants.
type Hub struct {
	mu      sync.RWMutex
	tenants map[string]map[*connection]struct{}
}

func NewHub() *Hub {
	return &Hub{tenants: make(map[string]map[*connection]struct{})}
}

func (h *Hub) register(conn *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	group, ok := h.tenants[conn.tenantID]
	if !ok {
		group = make(map[*connection]struct{})
		h.tenants[conn.tenantID] = group
	}
	group[conn] = struct{}{}
	metrics.ActiveConnections.WithLabelValues(conn.tenantID).Inc()
}

func (h *Hub) unregister(conn *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	group, ok := h.tenants[conn.tenantID]
	if !ok {
		return
	}
	if _, member := group[conn]; !member {
		return
	}
	delete(group, conn)
	if len(group) == 0 {
		delete(h.tenants, conn.tenantID)
	}
	metrics.ActiveConnections.WithLabelValues(conn.tenantID).Dec()
}

// BroadcastSample fans the sample out to every connection in its tenant
// group, the sender included, as an echo confirmation. Delivery is
// at-most-once: a subscriber whose send buffer is full misses the frame
// rather than stalling the group.
func (h *Hub) BroadcastSample(sample *types.NormalizedSample) {
	frame := types.OutboundPosition{
		Type:      types.MessagePositionUpdate,
		AgentID:   sample.AgentID,
		Latitude:  sample.Latitude,
		Longitude: sample.Longitude,
		Accuracy:  sample.Accuracy,
		UpdatedAt: sample.UpdatedAt,
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		logger.Logger.Error().Err(err).Msg("failed to marshal broadcast frame")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for conn := range h.tenants[sample.TenantID] {
		if conn.enqueue(payload) {
			metrics.BroadcastsSent.Inc()
		} else {
			logger.Logger.Debug().
				Str("tenant_id", conn.tenantID).
				Str("agent_id", conn.agentID).
				Msg("dropping broadcast for slow subscriber")
		}
	}
}

// GroupSize reports the number of live connections in a tenant group.
func (h *Hub) GroupSize(tenantID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.tenants[tenantID])
}
