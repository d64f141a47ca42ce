// Package handlers exposes the request/response API for position
// ingestion, queries, proximity search and tenant statistics.
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fieldtrack/fieldtrack/internal/auth"
	"github.com/fieldtrack/fieldtrack/internal/directory"
	"github.com/fieldtrack/fieldtrack/internal/geo"
	"github.com/fieldtrack/fieldtrack/internal/ingest"
	"github.com/fieldtrack/fieldtrack/internal/logger"
	"github.com/fieldtrack/fieldtrack/internal/storage"
	"github.com/fieldtrack/fieldtrack/pkg/types"
)

const defaultNearbyRadiusMeters = 1000.0

// Broadcaster fans an accepted sample out to live subscribers. The HTTP
// ingress uses it so dashboards see API-submitted updates too.
type Broadcaster interface {
	BroadcastSample(sample *types.NormalizedSample)
}

// ErrorResponse is the error envelope for the HTTP surface.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// Thresholds carries the freshness and accuracy cutoffs applied to query
// responses.
type Thresholds struct {
	Recent       time.Duration
	GoodAccuracy float64
}

// UpdatePositionRequest is the request/response ingress equivalent of the
// live channel sample.
type UpdatePositionRequest struct {
	Latitude   *float64 `json:"latitude" binding:"required"`
	Longitude  *float64 `json:"longitude" binding:"required"`
	Accuracy   *float64 `json:"accuracy,omitempty"`
	Source     string   `json:"source,omitempty"`
	ObservedAt *int64   `json:"observed_at,omitempty"`
}

// UpdatePositionHandler accepts a sample over HTTP, funnels it through the
// shared ingestion service and broadcasts the result to live subscribers.
func UpdatePositionHandler(ingestor *ingest.Service, broadcaster Broadcaster) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := auth.ClaimsFromContext(c)
		agentID := c.Param("agent_id")

		if claims.AgentID != agentID && !claims.IsPrivileged() {
			writeErrorResponse(c, http.StatusForbidden, "forbidden", "cannot update another agent's position")
			return
		}

		var req UpdatePositionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeErrorResponse(c, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}

		source := types.PositionSource(req.Source)
		if req.Source == "" {
			source = types.SourceAPI
		}

		sample, err := ingestor.Ingest(c.Request.Context(), ingest.Request{
			AgentID:    agentID,
			TenantID:   claims.TenantID,
			Latitude:   *req.Latitude,
			Longitude:  *req.Longitude,
			Accuracy:   req.Accuracy,
			Source:     source,
			ObservedAt: req.ObservedAt,
		})
		if err != nil {
			writeDomainError(c, err)
			return
		}

		if broadcaster != nil {
			broadcaster.BroadcastSample(sample)
		}
		c.JSON(http.StatusOK, sample)
	}
}

// PositionResponse is one agent's current position with the caller-facing
// freshness and quality flags.
type PositionResponse struct {
	AgentID     string               `json:"agent_id"`
	Coordinates *CoordinatesResponse `json:"coordinates"`
	Accuracy    *float64             `json:"accuracy"`
	IsActive    bool                 `json:"is_active"`
	IsRecent    bool                 `json:"is_recent"`
	GoodAcc     bool                 `json:"has_good_accuracy"`
	Source      types.PositionSource `json:"source"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

type CoordinatesResponse struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
}

// GetPositionHandler returns the agent's last known position, active or
// not, so "last seen" reads keep working after deactivation.
func GetPositionHandler(store storage.PositionStore, thresholds Thresholds) gin.HandlerFunc {
	return func(c *gin.Context) {
		position, err := store.GetCurrent(c.Request.Context(), c.Param("agent_id"))
		if err != nil {
			writeDomainError(c, err)
			return
		}
		c.JSON(http.StatusOK, toPositionResponse(position, thresholds))
	}
}

func toPositionResponse(position *types.AgentPosition, thresholds Thresholds) PositionResponse {
	resp := PositionResponse{
		AgentID:   position.AgentID,
		Accuracy:  position.Accuracy,
		IsActive:  position.IsActive,
		IsRecent:  position.IsRecent(thresholds.Recent),
		GoodAcc:   position.HasGoodAccuracy(thresholds.GoodAccuracy),
		Source:    position.Source,
		UpdatedAt: position.UpdatedAt,
	}
	if position.HasPoint() {
		resp.Coordinates = &CoordinatesResponse{Latitude: *position.Latitude, Longitude: *position.Longitude}
	}
	return resp
}

// TenantPositionResponse is one row of the live tenant map.
type TenantPositionResponse struct {
	AgentID     string               `json:"agent_id"`
	Name        string               `json:"name"`
	Coordinates *CoordinatesResponse `json:"coordinates"`
	Accuracy    *float64             `json:"accuracy"`
	IsRecent    bool                 `json:"is_recent"`
	GoodAcc     bool                 `json:"has_good_accuracy"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

// TenantPositionsHandler lists the active positions of agents currently
// authorized in the tenant. Agents the directory no longer recognizes are
// filtered out even when a stale row remains.
func TenantPositionsHandler(store storage.PositionStore, dir directory.AgentDirectory, thresholds Thresholds) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := c.Param("tenant_id")
		if !tenantAccessible(c, tenantID) {
			return
		}

		positions, err := store.FindActiveByTenant(c.Request.Context(), tenantID)
		if err != nil {
			writeDomainError(c, err)
			return
		}

		result := make([]TenantPositionResponse, 0, len(positions))
		for _, position := range positions {
			profile, err := dir.GetProfile(c.Request.Context(), position.AgentID)
			if err != nil {
				if errors.Is(err, directory.ErrUnknownAgent) {
					continue
				}
				writeDomainError(c, err)
				return
			}
			if profile.TenantID != tenantID {
				continue
			}
			row := TenantPositionResponse{
				AgentID:   position.AgentID,
				Name:      profile.Name,
				Accuracy:  position.Accuracy,
				IsRecent:  position.IsRecent(thresholds.Recent),
				GoodAcc:   position.HasGoodAccuracy(thresholds.GoodAccuracy),
				UpdatedAt: position.UpdatedAt,
			}
			if position.HasPoint() {
				row.Coordinates = &CoordinatesResponse{Latitude: *position.Latitude, Longitude: *position.Longitude}
			}
			result = append(result, row)
		}
		c.JSON(http.StatusOK, result)
	}
}

// NearbyResponse is one ranked proximity search hit.
type NearbyResponse struct {
	AgentID     string    `json:"agent_id"`
	Name        string    `json:"name"`
	Distance    float64   `json:"distance_meters"`
	Accuracy    *float64  `json:"accuracy"`
	LastUpdated time.Time `json:"last_updated"`
}

// NearbyHandler ranks active agents by great-circle distance from the
// query point. Staleness and accuracy are reported, not filtered; the
// caller composes its own thresholds.
func NearbyHandler(store storage.PositionStore, dir directory.AgentDirectory) gin.HandlerFunc {
	return func(c *gin.Context) {
		lat, latErr := strconv.ParseFloat(c.Param("lat"), 64)
		lng, lngErr := strconv.ParseFloat(c.Param("lng"), 64)
		if latErr != nil || lngErr != nil {
			writeErrorResponse(c, http.StatusBadRequest, "invalid_request", "lat and lng must be numeric")
			return
		}

		radius := defaultNearbyRadiusMeters
		if raw := c.Query("radius"); raw != "" {
			parsed, err := strconv.ParseFloat(raw, 64)
			if err != nil || parsed <= 0 {
				writeErrorResponse(c, http.StatusBadRequest, "invalid_request", "radius must be a positive number of meters")
				return
			}
			radius = parsed
		}

		matches, err := store.FindNear(c.Request.Context(), lat, lng, radius, c.Query("tenant_id"))
		if err != nil {
			writeDomainError(c, err)
			return
		}

		result := make([]NearbyResponse, 0, len(matches))
		for _, match := range matches {
			name := ""
			if profile, err := dir.GetProfile(c.Request.Context(), match.Position.AgentID); err == nil {
				name = profile.Name
			}
			result = append(result, NearbyResponse{
				AgentID:     match.Position.AgentID,
				Name:        name,
				Distance:    match.Meters,
				Accuracy:    match.Position.Accuracy,
				LastUpdated: match.Position.UpdatedAt,
			})
		}
		c.JSON(http.StatusOK, result)
	}
}

// TenantStatsHandler aggregates adoption and freshness for one tenant.
// The roster comes from the directory; position-derived counts come from
// the store.
func TenantStatsHandler(store storage.PositionStore, dir directory.AgentDirectory, recentThreshold time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		tenantID := c.Param("tenant_id")
		if !tenantAccessible(c, tenantID) {
			return
		}

		roster, err := dir.ListTenantAgents(ctx, tenantID)
		if err != nil {
			writeDomainError(c, err)
			return
		}
		trackingEnabled := 0
		for _, profile := range roster {
			if profile.TrackingEnabled {
				trackingEnabled++
			}
		}

		activeCount, err := store.CountActiveByTenant(ctx, tenantID)
		if err != nil {
			writeDomainError(c, err)
			return
		}
		recentCount, err := store.CountRecentByTenant(ctx, tenantID, time.Now().Add(-recentThreshold))
		if err != nil {
			writeDomainError(c, err)
			return
		}

		c.JSON(http.StatusOK, types.TenantStats{
			TenantID:             tenantID,
			TotalAgents:          len(roster),
			TrackingEnabledCount: trackingEnabled,
			ActivePositionsCount: activeCount,
			RecentPositionsCount: recentCount,
			AdoptionRate:         percentage(trackingEnabled, len(roster)),
			ActiveTrackingRate:   percentage(activeCount, trackingEnabled),
		})
	}
}

// DeactivatePositionHandler disables tracking for the agent. The last
// known point stays readable; only the active flag changes.
func DeactivatePositionHandler(ingestor *ingest.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := auth.ClaimsFromContext(c)
		agentID := c.Param("agent_id")

		if claims.AgentID != agentID && !claims.IsPrivileged() {
			writeErrorResponse(c, http.StatusForbidden, "forbidden", "cannot deactivate another agent's tracking")
			return
		}

		if err := ingestor.Deactivate(c.Request.Context(), agentID); err != nil {
			writeDomainError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"agent_id": agentID, "is_active": false})
	}
}

// percentage formats numerator/denominator as "40.0%", returning "0%" for
// an empty denominator instead of dividing by zero.
func percentage(numerator, denominator int) string {
	if denominator == 0 {
		return "0%"
	}
	return fmt.Sprintf("%.1f%%", float64(numerator)/float64(denominator)*100)
}

// tenantAccessible enforces that callers only read their own tenant unless
// privileged. Writes false and a 403 response when access is denied.
func tenantAccessible(c *gin.Context, tenantID string) bool {
	claims := auth.ClaimsFromContext(c)
	if claims == nil {
		writeErrorResponse(c, http.StatusUnauthorized, "unauthorized", "missing credentials")
		return false
	}
	if claims.TenantID != tenantID && !claims.IsPrivileged() {
		writeErrorResponse(c, http.StatusForbidden, "forbidden", "cannot access another tenant")
		return false
	}
	return true
}

func writeErrorResponse(c *gin.Context, status int, code, message string) {
	c.JSON(status, ErrorResponse{Error: code, Message: message, Code: status})
}

// writeDomainError maps the domain error taxonomy onto HTTP statuses.
func writeDomainError(c *gin.Context, err error) {
	var validation *geo.ValidationError
	switch {
	case errors.As(err, &validation):
		writeErrorResponse(c, http.StatusBadRequest, "invalid_sample", validation.Error())
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, directory.ErrUnknownAgent):
		writeErrorResponse(c, http.StatusNotFound, "not_found", "agent position not found")
	case errors.Is(err, ingest.ErrTrackingDisabled):
		writeErrorResponse(c, http.StatusForbidden, "tracking_disabled", "tracking is disabled for this agent")
	case errors.Is(err, ingest.ErrNotAuthorized):
		writeErrorResponse(c, http.StatusForbidden, "forbidden", "agent is not authorized for this tenant")
	case errors.Is(err, storage.ErrStaleSample):
		writeErrorResponse(c, http.StatusConflict, "stale_sample", "sample older than stored position")
	default:
		logger.Logger.Error().Err(err).Msg("request failed")
		writeErrorResponse(c, http.StatusInternalServerError, "internal_error", "request failed")
	}
}
