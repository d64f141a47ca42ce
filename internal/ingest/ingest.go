// Package ingest is the single validation and persistence path for
// position samples. Both the live channel and the HTTP API funnel through
// it, so transport stays a thin adapter.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fieldtrack/fieldtrack/internal/directory"
	"github.com/fieldtrack/fieldtrack/internal/geo"
	"github.com/fieldtrack/fieldtrack/internal/metrics"
	"github.com/fieldtrack/fieldtrack/internal/storage"
	"github.com/fieldtrack/fieldtrack/pkg/types"
)

var (
	// ErrNotAuthorized means the agent does not belong to the tenant.
	ErrNotAuthorized = errors.New("ingest: agent not authorized for tenant")
	// ErrTrackingDisabled means tracking is administratively off for the
	// agent; samples are rejected until it is re-enabled.
	ErrTrackingDisabled = errors.New("ingest: tracking disabled for agent")
	// ErrStaleSample re-exports the store's observed-order rejection.
	ErrStaleSample = storage.ErrStaleSample
)

// Ordering selects how competing samples for one agent are resolved.
type Ordering string

const (
	// OrderingArrival lets the newest-arriving sample win regardless of
	// its observation time.
	OrderingArrival Ordering = "arrival"
	// OrderingObserved drops samples observed before the stored position.
	OrderingObserved Ordering = "observed"
)

// Request is one position sample from either transport.
type Request struct {
	AgentID   string
	TenantID  string
	Latitude  float64
	Longitude float64
	Accuracy  *float64
	Source    types.PositionSource
	// ObservedAt is the client-supplied observation time in epoch millis.
	// When present it becomes the stored updated_at, so network jitter
	// does not distort freshness.
	ObservedAt *int64
}

// Service validates, authorizes and persists samples.
type Service struct {
	store     storage.PositionStore
	directory directory.AgentDirectory
	ordering  Ordering
	now       func() time.Time
}

func NewService(store storage.PositionStore, dir directory.AgentDirectory, ordering Ordering) *Service {
	if ordering == "" {
		ordering = OrderingArrival
	}
	return &Service{store: store, directory: dir, ordering: ordering, now: time.Now}
}

// Ingest applies the full acceptance pipeline and returns the normalized
// sample for broadcast. Errors are domain errors; transports map them to
// their own status codes or error frames.
func (s *Service) Ingest(ctx context.Context, req Request) (*types.NormalizedSample, error) {
	if err := geo.ValidateCoordinates(req.Latitude, req.Longitude); err != nil {
		metrics.SamplesRejected.WithLabelValues("validation").Inc()
		return nil, err
	}

	source := req.Source
	if source == "" {
		source = types.SourceAPI
	}
	if !source.Valid() {
		metrics.SamplesRejected.WithLabelValues("validation").Inc()
		return nil, &geo.ValidationError{Field: "source", Reason: fmt.Sprintf("unknown source %q", source)}
	}

	authz, err := s.directory.AuthorizeAgent(ctx, req.AgentID, req.TenantID)
	if err != nil {
		metrics.SamplesRejected.WithLabelValues("unknown_agent").Inc()
		return nil, err
	}
	if !authz.Authorized {
		metrics.SamplesRejected.WithLabelValues("unauthorized").Inc()
		return nil, ErrNotAuthorized
	}
	if !authz.TrackingEnabled {
		metrics.SamplesRejected.WithLabelValues("tracking_disabled").Inc()
		return nil, ErrTrackingDisabled
	}

	observedAt := s.now()
	if req.ObservedAt != nil {
		observedAt = time.UnixMilli(*req.ObservedAt)
	}

	position, err := s.store.Upsert(ctx, storage.UpsertSample{
		AgentID:     req.AgentID,
		TenantID:    req.TenantID,
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
		Accuracy:    req.Accuracy,
		Source:      source,
		ObservedAt:  observedAt,
		RejectOlder: s.ordering == OrderingObserved,
	})
	if err != nil {
		if errors.Is(err, storage.ErrStaleSample) {
			metrics.SamplesRejected.WithLabelValues("stale").Inc()
		} else {
			metrics.SamplesRejected.WithLabelValues("persistence").Inc()
		}
		return nil, err
	}

	metrics.SamplesIngested.WithLabelValues(string(source)).Inc()

	return &types.NormalizedSample{
		AgentID:   position.AgentID,
		TenantID:  position.TenantID,
		Latitude:  *position.Latitude,
		Longitude: *position.Longitude,
		Accuracy:  position.Accuracy,
		Source:    position.Source,
		UpdatedAt: position.UpdatedAt.UnixMilli(),
	}, nil
}

// Deactivate disables tracking for the agent while keeping its last known
// point readable.
func (s *Service) Deactivate(ctx context.Context, agentID string) error {
	return s.store.Deactivate(ctx, agentID)
}
