package gateway

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fieldtrack/fieldtrack/internal/directory"
	"github.com/fieldtrack/fieldtrack/internal/geo"
	"github.com/fieldtrack/fieldtrack/internal/ingest"
	"github.com/fieldtrack/fieldtrack/internal/logger"
	"github.com/fieldtrack/fieldtrack/internal/metrics"
	"github.com/fieldtrack/fieldtrack/internal/storage"
	"github.com/fieldtrack/fieldtrack/pkg/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 32
)

// connection is one subscribed live channel client. Its identity comes
// from the handshake token and never changes afterwards.
type connection struct {
	id       string
	agentID  string
	tenantID string

	ws      *websocket.Conn
	send    chan []byte
	gateway *Gateway
}

// enqueue offers a pre-marshaled frame, dropping it when the buffer is
// full so one slow subscriber cannot stall the broadcast.
func (c *connection) enqueue(payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *connection) sendError(code, message string) {
	payload, err := json.Marshal(types.ErrorFrame{Type: types.MessageError, Code: code, Message: message})
	if err != nil {
		return
	}
	c.enqueue(payload)
}

// readPump consumes inbound samples until the transport disconnects. A
// single bad message never tears the connection down; only the transport
// closing ends the loop. Disconnect is not deactivation.
func (c *connection) readPump() {
	defer func() {
		c.gateway.hub.unregister(c)
		c.gateway.governor.Forget(c.id)
		close(c.send)
		_ = c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Logger.Debug().Err(err).Str("agent_id", c.agentID).Msg("live channel closed unexpectedly")
			}
			return
		}
		c.handleMessage(raw)
	}
}

func (c *connection) handleMessage(raw []byte) {
	var msg types.InboundPosition
	if err := json.Unmarshal(raw, &msg); err != nil {
		logger.Logger.Debug().Err(err).Str("agent_id", c.agentID).Msg("dropping malformed live channel payload")
		return
	}
	if msg.Type != "" && msg.Type != types.MessagePositionUpdate {
		logger.Logger.Debug().Str("type", string(msg.Type)).Str("agent_id", c.agentID).Msg("dropping unknown live channel message type")
		return
	}
	if msg.Latitude == nil || msg.Longitude == nil {
		logger.Logger.Debug().Str("agent_id", c.agentID).Msg("dropping position update without coordinates")
		return
	}

	decision := c.gateway.governor.Allow(c.id, c.gateway.governorLimit)
	if !decision.Allowed {
		metrics.RateLimited.Inc()
		c.sendError("rate_limited", "too many position updates, slow down")
		return
	}

	sample, err := c.gateway.ingestor.Ingest(c.gateway.baseCtx, ingest.Request{
		AgentID:    c.agentID,
		TenantID:   c.tenantID,
		Latitude:   *msg.Latitude,
		Longitude:  *msg.Longitude,
		Accuracy:   msg.Accuracy,
		Source:     types.SourceMobilePush,
		ObservedAt: msg.ObservedAt,
	})
	if err != nil {
		c.reportIngestError(err)
		return
	}

	c.gateway.hub.BroadcastSample(sample)
}

// reportIngestError maps ingestion failures onto recoverable error frames.
// Nothing here closes the connection, and nothing that failed to persist
// is ever broadcast.
func (c *connection) reportIngestError(err error) {
	var validation *geo.ValidationError
	switch {
	case errors.As(err, &validation):
		c.sendError("invalid_sample", validation.Error())
	case errors.Is(err, storage.ErrStaleSample):
		c.sendError("stale_sample", "sample older than stored position")
	case errors.Is(err, ingest.ErrTrackingDisabled):
		c.sendError("tracking_disabled", "tracking is disabled for this agent")
	case errors.Is(err, ingest.ErrNotAuthorized), errors.Is(err, directory.ErrUnknownAgent):
		c.sendError("not_authorized", "agent is not authorized for this tenant")
	default:
		logger.Logger.Error().Err(err).Str("agent_id", c.agentID).Msg("live channel ingestion failed")
		c.sendError("storage_unavailable", "position could not be stored")
	}
}

// writePump serializes all writes to the transport: queued frames plus
// keepalive pings.
func (c *connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
