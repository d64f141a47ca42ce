// Package directory is the boundary to the external identity/tenancy
// system. The tracking core consults it for authorization, tenant rosters
// and display names; it never stores any of that locally.
package directory

import (
	"context"
	"errors"

	"github.com/fieldtrack/fieldtrack/pkg/types"
)

// ErrUnknownAgent means the identity system has no record of the agent.
var ErrUnknownAgent = errors.New("directory: unknown agent")

// AgentDirectory is the collaborator interface consumed by the tracking
// core.
type AgentDirectory interface {
	// AuthorizeAgent reports whether the agent belongs to the tenant and
	// whether tracking is administratively enabled for it.
	AuthorizeAgent(ctx context.Context, agentID, tenantID string) (types.Authorization, error)
	// GetProfile returns the agent's profile, ErrUnknownAgent otherwise.
	GetProfile(ctx context.Context, agentID string) (*types.AgentProfile, error)
	// ListTenantAgents returns the tenant's full roster.
	ListTenantAgents(ctx context.Context, tenantID string) ([]types.AgentProfile, error)
}
