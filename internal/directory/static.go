package directory

import (
	"context"
	"sync"

	"github.com/fieldtrack/fieldtrack/pkg/types"
)

// StaticDirectory serves a fixed roster from memory. Tests and standalone
// deployments without an identity service use it; profiles can be added at
// runtime.
type StaticDirectory struct {
	mu       sync.RWMutex
	profiles map[string]types.AgentProfile
}

func NewStaticDirectory(profiles ...types.AgentProfile) *StaticDirectory {
	d := &StaticDirectory{profiles: make(map[string]types.AgentProfile)}
	for _, profile := range profiles {
		d.profiles[profile.AgentID] = profile
	}
	return d
}

// Add registers or replaces a profile.
func (d *StaticDirectory) Add(profile types.AgentProfile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.profiles[profile.AgentID] = profile
}

func (d *StaticDirectory) AuthorizeAgent(ctx context.Context, agentID, tenantID string) (types.Authorization, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	profile, ok := d.profiles[agentID]
	if !ok {
		return types.Authorization{}, ErrUnknownAgent
	}
	return types.Authorization{
		Authorized:      profile.TenantID == tenantID,
		TrackingEnabled: profile.TrackingEnabled,
	}, nil
}

func (d *StaticDirectory) GetProfile(ctx context.Context, agentID string) (*types.AgentProfile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	profile, ok := d.profiles[agentID]
	if !ok {
		return nil, ErrUnknownAgent
	}
	clone := profile
	return &clone, nil
}

func (d *StaticDirectory) ListTenantAgents(ctx context.Context, tenantID string) ([]types.AgentProfile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var roster []types.AgentProfile
	for _, profile := range d.profiles {
		if profile.TenantID == tenantID {
			roster = append(roster, profile)
		}
	}
	return roster, nil
}
