package gateway

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/fieldtrack/fieldtrack/internal/auth"
	"github.com/fieldtrack/fieldtrack/internal/ingest"
	"github.com/fieldtrack/fieldtrack/internal/logger"
	"github.com/fieldtrack/fieldtrack/internal/ratelimit"
	"github.com/fieldtrack/fieldtrack/pkg/types"
)

// Gateway upgrades authenticated requests into live channel connections.
type Gateway struct {
	hub           *Hub
	verifier      *auth.Verifier
	governor      *ratelimit.InMemoryLimiter
	governorLimit int
	ingestor      *ingest.Service
	upgrader      websocket.Upgrader
	baseCtx       context.Context
}

func New(verifier *auth.Verifier, governor *ratelimit.InMemoryLimiter, governorLimit int, ingestor *ingest.Service) *Gateway {
	return &Gateway{
		hub:           NewHub(),
		verifier:      verifier,
		governor:      governor,
		governorLimit: governorLimit,
		ingestor:      ingestor,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		baseCtx: context.Background(),
	}
}

// Hub exposes the broadcast groups so the HTTP ingress can fan out its
// accepted samples to live subscribers too.
func (g *Gateway) Hub() *Hub {
	return g.hub
}

// Handler authenticates the handshake, upgrades the transport and
// subscribes the connection to its tenant group. A missing or invalid
// token refuses the connection before any group membership exists.
func (g *Gateway) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := auth.TokenFromRequest(c.Request)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing credentials"})
			return
		}
		claims, err := g.verifier.Verify(raw)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}

		ws, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade already wrote the error response.
			return
		}

		conn := &connection{
			id:       uuid.NewString(),
			agentID:  claims.AgentID,
			tenantID: claims.TenantID,
			ws:       ws,
			send:     make(chan []byte, sendBufferSize),
			gateway:  g,
		}
		g.hub.register(conn)

		if payload, err := json.Marshal(gin.H{"type": types.MessageSubscribed, "tenant_id": claims.TenantID}); err == nil {
			conn.enqueue(payload)
		}

		logger.Logger.Info().
			Str("agent_id", claims.AgentID).
			Str("tenant_id", claims.TenantID).
			Msg("live channel subscribed")

		go conn.writePump()
		go conn.readPump()
	}
}
