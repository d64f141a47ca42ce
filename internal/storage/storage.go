// Package storage persists the single current position per agent and
// answers the geospatial read side.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fieldtrack/fieldtrack/internal/config"
	"github.com/fieldtrack/fieldtrack/pkg/types"
)

var (
	// ErrNotFound means no position row exists for the agent.
	ErrNotFound = errors.New("storage: position not found")
	// ErrStaleSample means the sample's observation time predates the
	// stored position and the caller asked for observed-order semantics.
	ErrStaleSample = errors.New("storage: sample older than stored position")
)

// UpsertSample carries everything needed to create or update an agent's
// position row atomically.
type UpsertSample struct {
	AgentID   string
	TenantID  string
	Latitude  float64
	Longitude float64
	Accuracy  *float64
	Source    types.PositionSource
	// ObservedAt becomes the row's updated_at.
	ObservedAt time.Time
	// RejectOlder makes the upsert fail with ErrStaleSample instead of
	// overwriting a row whose updated_at is newer than ObservedAt.
	RejectOlder bool
}

// PositionDistance pairs a position with its distance from a query point.
type PositionDistance struct {
	Position *types.AgentPosition
	Meters   float64
}

// PositionStore is the persistence contract for current agent positions.
// Upsert must be safe under concurrent calls for the same agent: exactly
// one row per agent_id survives, holding one of the competing payloads.
type PositionStore interface {
	GetCurrent(ctx context.Context, agentID string) (*types.AgentPosition, error)
	Upsert(ctx context.Context, sample UpsertSample) (*types.AgentPosition, error)
	Deactivate(ctx context.Context, agentID string) error
	FindActiveByTenant(ctx context.Context, tenantID string) ([]*types.AgentPosition, error)
	// FindNear returns active positions within radiusMeters of the query
	// point, ascending by great-circle distance. tenantID narrows the
	// search when non-empty. Freshness and accuracy are not filtered here.
	FindNear(ctx context.Context, lat, lng, radiusMeters float64, tenantID string) ([]PositionDistance, error)

	CountByTenant(ctx context.Context, tenantID string) (int, error)
	CountActiveByTenant(ctx context.Context, tenantID string) (int, error)
	CountRecentByTenant(ctx context.Context, tenantID string, since time.Time) (int, error)

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// NewStore builds the backend selected by cfg.Mode ("memory" or
// "postgres"). FIELDTRACK_STORAGE_MODE overrides the configured mode.
func NewStore(cfg config.StorageConfig) (PositionStore, error) {
	mode := cfg.Mode
	if envMode := os.Getenv("FIELDTRACK_STORAGE_MODE"); envMode != "" {
		mode = envMode
	}
	if mode == "" {
		mode = "memory"
	}

	switch mode {
	case "memory":
		return NewMemoryStore(), nil
	case "postgres":
		store, err := NewPostgresStore(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("initialize postgres storage: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage mode %q", mode)
	}
}
