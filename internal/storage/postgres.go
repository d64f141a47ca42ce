package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/fieldtrack/fieldtrack/internal/geo"
	"github.com/fieldtrack/fieldtrack/pkg/types"
)

const (
	connectAttempts = 5
	connectDelay    = 2 * time.Second
)

// PostgresStore persists positions in Postgres with a PostGIS point per
// row. The unique constraint on agent_id makes the upsert the unit of
// serialization for same-agent writers.
type PostgresStore struct {
	db *gorm.DB
}

// NewPostgresStore opens the database with retry and ensures the PostGIS
// extension and schema exist.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres storage requires a DSN")
	}

	var db *gorm.DB
	var lastErr error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		db, lastErr = gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
		if lastErr == nil {
			break
		}
		time.Sleep(connectDelay)
	}
	if lastErr != nil {
		return nil, fmt.Errorf("db connect failed after %d attempts: %w", connectAttempts, lastErr)
	}

	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS postgis").Error; err != nil {
		return nil, fmt.Errorf("enable postgis: %w", err)
	}
	if err := db.AutoMigrate(&types.AgentPosition{}); err != nil {
		return nil, fmt.Errorf("migrate agent_positions: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) GetCurrent(ctx context.Context, agentID string) (*types.AgentPosition, error) {
	var position types.AgentPosition
	err := s.db.WithContext(ctx).Where("agent_id = ?", agentID).First(&position).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &position, nil
}

// Upsert is a single INSERT ... ON CONFLICT statement, so two devices
// signed into the same agent can race without ever creating a second row.
func (s *PostgresStore) Upsert(ctx context.Context, sample UpsertSample) (*types.AgentPosition, error) {
	ewkt := fmt.Sprintf("SRID=4326;POINT(%f %f)", sample.Longitude, sample.Latitude)

	query := `
		INSERT INTO agent_positions
			(id, agent_id, tenant_id, latitude, longitude, geom, accuracy, is_active, source, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ST_GeomFromEWKT(?), ?, TRUE, ?, NOW(), ?)
		ON CONFLICT (agent_id) DO UPDATE SET
			tenant_id = EXCLUDED.tenant_id,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			geom = EXCLUDED.geom,
			accuracy = EXCLUDED.accuracy,
			is_active = TRUE,
			source = EXCLUDED.source,
			updated_at = EXCLUDED.updated_at`
	if sample.RejectOlder {
		query += `
		WHERE agent_positions.updated_at <= EXCLUDED.updated_at`
	}

	result := s.db.WithContext(ctx).Exec(query,
		uuid.New(), sample.AgentID, sample.TenantID,
		sample.Latitude, sample.Longitude, ewkt,
		sample.Accuracy, sample.Source, sample.ObservedAt,
	)
	if result.Error != nil {
		return nil, result.Error
	}
	if sample.RejectOlder && result.RowsAffected == 0 {
		return nil, ErrStaleSample
	}

	return s.GetCurrent(ctx, sample.AgentID)
}

func (s *PostgresStore) Deactivate(ctx context.Context, agentID string) error {
	result := s.db.WithContext(ctx).Model(&types.AgentPosition{}).
		Where("agent_id = ?", agentID).
		Update("is_active", false)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) FindActiveByTenant(ctx context.Context, tenantID string) ([]*types.AgentPosition, error) {
	var positions []*types.AgentPosition
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND is_active", tenantID).
		Order("agent_id").
		Find(&positions).Error
	return positions, err
}

type nearRow struct {
	ID        uuid.UUID
	AgentID   string
	TenantID  string
	Latitude  *float64
	Longitude *float64
	Accuracy  *float64
	IsActive  bool
	Source    types.PositionSource
	CreatedAt time.Time
	UpdatedAt time.Time
	Meters    float64
}

func (s *PostgresStore) FindNear(ctx context.Context, lat, lng, radiusMeters float64, tenantID string) ([]PositionDistance, error) {
	if err := geo.ValidateCoordinates(lat, lng); err != nil {
		return nil, err
	}

	query := `
		SELECT id, agent_id, tenant_id, latitude, longitude, accuracy, is_active, source, created_at, updated_at,
		       ST_Distance(geom::geography, ST_SetSRID(ST_MakePoint(?, ?), 4326)::geography) AS meters
		FROM agent_positions
		WHERE is_active
		  AND geom IS NOT NULL
		  AND ST_DWithin(geom::geography, ST_SetSRID(ST_MakePoint(?, ?), 4326)::geography, ?)`
	args := []interface{}{lng, lat, lng, lat, radiusMeters}
	if tenantID != "" {
		query += " AND tenant_id = ?"
		args = append(args, tenantID)
	}
	query += " ORDER BY meters ASC"

	var rows []nearRow
	if err := s.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}

	result := make([]PositionDistance, 0, len(rows))
	for _, row := range rows {
		result = append(result, PositionDistance{
			Position: &types.AgentPosition{
				ID:        row.ID,
				AgentID:   row.AgentID,
				TenantID:  row.TenantID,
				Latitude:  row.Latitude,
				Longitude: row.Longitude,
				Accuracy:  row.Accuracy,
				IsActive:  row.IsActive,
				Source:    row.Source,
				CreatedAt: row.CreatedAt,
				UpdatedAt: row.UpdatedAt,
			},
			Meters: row.Meters,
		})
	}
	return result, nil
}

func (s *PostgresStore) CountByTenant(ctx context.Context, tenantID string) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&types.AgentPosition{}).
		Where("tenant_id = ?", tenantID).
		Count(&count).Error
	return int(count), err
}

func (s *PostgresStore) CountActiveByTenant(ctx context.Context, tenantID string) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&types.AgentPosition{}).
		Where("tenant_id = ? AND is_active", tenantID).
		Count(&count).Error
	return int(count), err
}

func (s *PostgresStore) CountRecentByTenant(ctx context.Context, tenantID string, since time.Time) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&types.AgentPosition{}).
		Where("tenant_id = ? AND is_active AND updated_at >= ?", tenantID, since).
		Count(&count).Error
	return int(count), err
}

func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *PostgresStore) Close(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
