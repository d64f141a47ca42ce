package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PositionSource identifies which transport or subsystem produced the last
// accepted sample for an agent.
type PositionSource string

const (
	SourceMobilePush        PositionSource = "mobile-push"
	SourceWeb               PositionSource = "web"
	SourceActivation        PositionSource = "system-activation"
	SourceReactivation      PositionSource = "system-reactivation"
	SourceAPI               PositionSource = "api"
	SourceBackgroundService PositionSource = "background-service"
)

// Valid reports whether s is one of the known position sources.
func (s PositionSource) Valid() bool {
	switch s {
	case SourceMobilePush, SourceWeb, SourceActivation, SourceReactivation, SourceAPI, SourceBackgroundService:
		return true
	}
	return false
}

// AgentPosition is the single current position row for a trackable agent.
// There is at most one row per agent_id; rows are deactivated, never deleted,
// so last-seen reads keep working after tracking is disabled.
type AgentPosition struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	AgentID   string         `gorm:"uniqueIndex;not null" json:"agent_id"`
	TenantID  string         `gorm:"index;not null" json:"tenant_id"`
	Latitude  *float64       `json:"latitude"`
	Longitude *float64       `json:"longitude"`
	// Geom mirrors Latitude/Longitude as a spatially indexed PostGIS point.
	// Only the postgres backend maintains it.
	Geom      string         `gorm:"type:geometry(Point,4326);index:idx_agent_positions_geom,type:gist" json:"-"`
	Accuracy  *float64       `json:"accuracy"`
	IsActive  bool           `gorm:"index" json:"is_active"`
	Source    PositionSource `gorm:"size:32" json:"source"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `gorm:"index" json:"updated_at"`
}

func (AgentPosition) TableName() string {
	return "agent_positions"
}

func (p *AgentPosition) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// HasPoint reports whether the agent has ever reported coordinates.
func (p *AgentPosition) HasPoint() bool {
	return p.Latitude != nil && p.Longitude != nil
}

// IsRecent reports whether the row was updated within threshold of now.
func (p *AgentPosition) IsRecent(threshold time.Duration) bool {
	return time.Since(p.UpdatedAt) <= threshold
}

// HasGoodAccuracy reports whether the reported horizontal accuracy is known
// and within maxMeters. Smaller accuracy values are better.
func (p *AgentPosition) HasGoodAccuracy(maxMeters float64) bool {
	return p.Accuracy != nil && *p.Accuracy <= maxMeters
}

// NormalizedSample is the canonical result of an accepted position sample.
// Both transports return it verbatim and the gateway broadcasts it as-is.
type NormalizedSample struct {
	AgentID   string         `json:"agent_id"`
	TenantID  string         `json:"tenant_id"`
	Latitude  float64        `json:"lat"`
	Longitude float64        `json:"lng"`
	Accuracy  *float64       `json:"accuracy,omitempty"`
	Source    PositionSource `json:"source"`
	UpdatedAt int64          `json:"updated_at"` // epoch millis
}

// MessageType discriminates frames on the live channel.
type MessageType string

const (
	MessagePositionUpdate MessageType = "position_update"
	MessageError          MessageType = "error"
	MessageSubscribed     MessageType = "subscribed"
)

// InboundPosition is the client -> server live channel payload.
type InboundPosition struct {
	Type       MessageType `json:"type"`
	Latitude   *float64    `json:"lat"`
	Longitude  *float64    `json:"lng"`
	Accuracy   *float64    `json:"accuracy,omitempty"`
	ObservedAt *int64      `json:"observed_at,omitempty"` // epoch millis
}

// OutboundPosition is the server -> subscribers broadcast frame.
type OutboundPosition struct {
	Type      MessageType `json:"type"`
	AgentID   string      `json:"agent_id"`
	Latitude  float64     `json:"lat"`
	Longitude float64     `json:"lng"`
	Accuracy  *float64    `json:"accuracy,omitempty"`
	UpdatedAt int64       `json:"updated_at"`
}

// ErrorFrame signals a recoverable error for a single message without
// closing the live channel.
type ErrorFrame struct {
	Type    MessageType `json:"type"`
	Code    string      `json:"code"`
	Message string      `json:"message"`
}

// AgentProfile is the slice of the external identity system this core
// consults: display name, tenant membership and the administrative
// tracking flag. It is never stored here.
type AgentProfile struct {
	AgentID         string `json:"agent_id"`
	TenantID        string `json:"tenant_id"`
	Name            string `json:"name"`
	TrackingEnabled bool   `json:"tracking_enabled"`
}

// Authorization is the answer of the identity collaborator for one agent
// within one tenant.
type Authorization struct {
	Authorized      bool `json:"authorized"`
	TrackingEnabled bool `json:"tracking_enabled"`
}

// TenantStats aggregates tracking adoption and freshness for one tenant.
// Percentages are preformatted ("40.0%") and never divide by zero.
type TenantStats struct {
	TenantID             string `json:"tenant_id"`
	TotalAgents          int    `json:"total_agents"`
	TrackingEnabledCount int    `json:"tracking_enabled_count"`
	ActivePositionsCount int    `json:"active_positions_count"`
	RecentPositionsCount int    `json:"recent_positions_count"`
	AdoptionRate         string `json:"adoption_rate"`
	ActiveTrackingRate   string `json:"active_tracking_rate"`
}
