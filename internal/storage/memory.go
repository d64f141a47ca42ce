package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fieldtrack/fieldtrack/internal/geo"
	"github.com/fieldtrack/fieldtrack/pkg/types"
)

// MemoryStore keeps positions in process memory. It backs tests and
// single-node standalone runs; the mutex serializes same-agent writes the
// way the unique constraint does in Postgres.
type MemoryStore struct {
	mu        sync.RWMutex
	positions map[string]*types.AgentPosition // keyed by agent ID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{positions: make(map[string]*types.AgentPosition)}
}

func (s *MemoryStore) GetCurrent(ctx context.Context, agentID string) (*types.AgentPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	position, ok := s.positions[agentID]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *position
	return &clone, nil
}

func (s *MemoryStore) Upsert(ctx context.Context, sample UpsertSample) (*types.AgentPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lat, lng := sample.Latitude, sample.Longitude
	existing, ok := s.positions[sample.AgentID]
	if !ok {
		row := &types.AgentPosition{
			ID:        uuid.New(),
			AgentID:   sample.AgentID,
			TenantID:  sample.TenantID,
			Latitude:  &lat,
			Longitude: &lng,
			Accuracy:  sample.Accuracy,
			IsActive:  true,
			Source:    sample.Source,
			CreatedAt: time.Now(),
			UpdatedAt: sample.ObservedAt,
		}
		s.positions[sample.AgentID] = row
		clone := *row
		return &clone, nil
	}

	if sample.RejectOlder && existing.UpdatedAt.After(sample.ObservedAt) {
		return nil, ErrStaleSample
	}

	existing.TenantID = sample.TenantID
	existing.Latitude = &lat
	existing.Longitude = &lng
	existing.Accuracy = sample.Accuracy
	existing.IsActive = true
	existing.Source = sample.Source
	existing.UpdatedAt = sample.ObservedAt

	clone := *existing
	return &clone, nil
}

func (s *MemoryStore) Deactivate(ctx context.Context, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	position, ok := s.positions[agentID]
	if !ok {
		return ErrNotFound
	}
	position.IsActive = false
	position.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) FindActiveByTenant(ctx context.Context, tenantID string) ([]*types.AgentPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*types.AgentPosition
	for _, position := range s.positions {
		if position.TenantID == tenantID && position.IsActive {
			clone := *position
			result = append(result, &clone)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].AgentID < result[j].AgentID })
	return result, nil
}

func (s *MemoryStore) FindNear(ctx context.Context, lat, lng, radiusMeters float64, tenantID string) ([]PositionDistance, error) {
	if err := geo.ValidateCoordinates(lat, lng); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []PositionDistance
	for _, position := range s.positions {
		if !position.IsActive || !position.HasPoint() {
			continue
		}
		if tenantID != "" && position.TenantID != tenantID {
			continue
		}
		meters := geo.HaversineMeters(lat, lng, *position.Latitude, *position.Longitude)
		if meters > radiusMeters {
			continue
		}
		clone := *position
		result = append(result, PositionDistance{Position: &clone, Meters: meters})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Meters < result[j].Meters })
	return result, nil
}

func (s *MemoryStore) CountByTenant(ctx context.Context, tenantID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, position := range s.positions {
		if position.TenantID == tenantID {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) CountActiveByTenant(ctx context.Context, tenantID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, position := range s.positions {
		if position.TenantID == tenantID && position.IsActive {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) CountRecentByTenant(ctx context.Context, tenantID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, position := range s.positions {
		if position.TenantID == tenantID && position.IsActive && !position.UpdatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) HealthCheck(ctx context.Context) error { return nil }

func (s *MemoryStore) Close(ctx context.Context) error { return nil }
