package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldtrack/fieldtrack/internal/directory"
	"github.com/fieldtrack/fieldtrack/internal/geo"
	"github.com/fieldtrack/fieldtrack/internal/storage"
	"github.com/fieldtrack/fieldtrack/pkg/types"
)

func newTestService(ordering Ordering) (*Service, *storage.MemoryStore) {
	store := storage.NewMemoryStore()
	dir := directory.NewStaticDirectory(
		types.AgentProfile{AgentID: "agent-1", TenantID: "tenant-a", Name: "Ada", TrackingEnabled: true},
		types.AgentProfile{AgentID: "agent-2", TenantID: "tenant-a", Name: "Brendan", TrackingEnabled: false},
		types.AgentProfile{AgentID: "agent-b", TenantID: "tenant-b", Name: "Grace", TrackingEnabled: true},
	)
	return NewService(store, dir, ordering), store
}

func validRequest() Request {
	return Request{
		AgentID:   "agent-1",
		TenantID:  "tenant-a",
		Latitude:  4.60971,
		Longitude: -74.08175,
		Source:    types.SourceMobilePush,
	}
}

func TestIngestValidSample(t *testing.T) {
	svc, store := newTestService(OrderingArrival)

	sample, err := svc.Ingest(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, "agent-1", sample.AgentID)
	assert.Equal(t, "tenant-a", sample.TenantID)
	assert.Equal(t, 4.60971, sample.Latitude)
	assert.Equal(t, types.SourceMobilePush, sample.Source)

	stored, err := store.GetCurrent(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.True(t, stored.IsActive)
}

func TestIngestDefaultsSource(t *testing.T) {
	svc, _ := newTestService(OrderingArrival)

	req := validRequest()
	req.Source = ""
	sample, err := svc.Ingest(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, types.SourceAPI, sample.Source)
}

func TestIngestRejectsOutOfRangeCoordinates(t *testing.T) {
	svc, store := newTestService(OrderingArrival)

	for name, req := range map[string]Request{
		"latitude too high":  {AgentID: "agent-1", TenantID: "tenant-a", Latitude: 91, Longitude: 0},
		"latitude too low":   {AgentID: "agent-1", TenantID: "tenant-a", Latitude: -91, Longitude: 0},
		"longitude too high": {AgentID: "agent-1", TenantID: "tenant-a", Latitude: 0, Longitude: 181},
		"longitude too low":  {AgentID: "agent-1", TenantID: "tenant-a", Latitude: 0, Longitude: -181},
	} {
		req.Source = types.SourceMobilePush
		_, err := svc.Ingest(context.Background(), req)
		var validation *geo.ValidationError
		assert.ErrorAs(t, err, &validation, name)
	}

	_, err := store.GetCurrent(context.Background(), "agent-1")
	assert.ErrorIs(t, err, storage.ErrNotFound, "rejected samples must not persist")
}

func TestIngestRejectsUnknownSource(t *testing.T) {
	svc, _ := newTestService(OrderingArrival)

	req := validRequest()
	req.Source = "carrier-pigeon"
	_, err := svc.Ingest(context.Background(), req)
	var validation *geo.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "source", validation.Field)
}

func TestIngestUnknownAgent(t *testing.T) {
	svc, _ := newTestService(OrderingArrival)

	req := validRequest()
	req.AgentID = "ghost"
	_, err := svc.Ingest(context.Background(), req)
	assert.ErrorIs(t, err, directory.ErrUnknownAgent)
}

func TestIngestWrongTenant(t *testing.T) {
	svc, _ := newTestService(OrderingArrival)

	req := validRequest()
	req.AgentID = "agent-b" // belongs to tenant-b
	_, err := svc.Ingest(context.Background(), req)
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestIngestTrackingDisabled(t *testing.T) {
	svc, store := newTestService(OrderingArrival)

	req := validRequest()
	req.AgentID = "agent-2"
	_, err := svc.Ingest(context.Background(), req)
	assert.ErrorIs(t, err, ErrTrackingDisabled)

	_, err = store.GetCurrent(context.Background(), "agent-2")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestIngestObservedAtBecomesUpdatedAt(t *testing.T) {
	svc, _ := newTestService(OrderingArrival)

	observed := time.Now().Add(-90 * time.Second).UnixMilli()
	req := validRequest()
	req.ObservedAt = &observed

	sample, err := svc.Ingest(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, observed, sample.UpdatedAt, "client observation time wins over arrival time")
}

func TestArrivalOrderingLetsOlderSampleWin(t *testing.T) {
	svc, store := newTestService(OrderingArrival)
	ctx := context.Background()

	newer := time.Now().UnixMilli()
	req := validRequest()
	req.ObservedAt = &newer
	_, err := svc.Ingest(ctx, req)
	require.NoError(t, err)

	older := newer - time.Minute.Milliseconds()
	late := validRequest()
	late.Latitude = 4.7
	late.ObservedAt = &older
	_, err = svc.Ingest(ctx, late)
	require.NoError(t, err)

	stored, err := store.GetCurrent(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, 4.7, *stored.Latitude, "last arrival wins under arrival ordering")
}

func TestObservedOrderingRejectsStaleSample(t *testing.T) {
	svc, store := newTestService(OrderingObserved)
	ctx := context.Background()

	newer := time.Now().UnixMilli()
	req := validRequest()
	req.ObservedAt = &newer
	_, err := svc.Ingest(ctx, req)
	require.NoError(t, err)

	older := newer - time.Minute.Milliseconds()
	late := validRequest()
	late.Latitude = 4.7
	late.ObservedAt = &older
	_, err = svc.Ingest(ctx, late)
	assert.ErrorIs(t, err, ErrStaleSample)

	stored, err := store.GetCurrent(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, 4.60971, *stored.Latitude)
}

func TestDeactivate(t *testing.T) {
	svc, store := newTestService(OrderingArrival)
	ctx := context.Background()

	_, err := svc.Ingest(ctx, validRequest())
	require.NoError(t, err)

	require.NoError(t, svc.Deactivate(ctx, "agent-1"))
	stored, err := store.GetCurrent(ctx, "agent-1")
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
}
