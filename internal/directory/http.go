package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/fieldtrack/fieldtrack/pkg/types"
)

// HTTPDirectory talks to the identity service over its REST surface.
type HTTPDirectory struct {
	baseURL string
	client  *http.Client
}

func NewHTTPDirectory(baseURL string, timeout time.Duration) *HTTPDirectory {
	return &HTTPDirectory{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (d *HTTPDirectory) AuthorizeAgent(ctx context.Context, agentID, tenantID string) (types.Authorization, error) {
	var authz types.Authorization
	path := fmt.Sprintf("/agents/%s/authorize?tenant_id=%s", url.PathEscape(agentID), url.QueryEscape(tenantID))
	if err := d.getJSON(ctx, path, &authz); err != nil {
		return types.Authorization{}, err
	}
	return authz, nil
}

func (d *HTTPDirectory) GetProfile(ctx context.Context, agentID string) (*types.AgentProfile, error) {
	var profile types.AgentProfile
	if err := d.getJSON(ctx, "/agents/"+url.PathEscape(agentID), &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

func (d *HTTPDirectory) ListTenantAgents(ctx context.Context, tenantID string) ([]types.AgentProfile, error) {
	var roster []types.AgentProfile
	if err := d.getJSON(ctx, "/tenants/"+url.PathEscape(tenantID)+"/agents", &roster); err != nil {
		return nil, err
	}
	return roster, nil
}

func (d *HTTPDirectory) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("directory request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return json.NewDecoder(resp.Body).Decode(out)
	case http.StatusNotFound:
		return ErrUnknownAgent
	default:
		return fmt.Errorf("directory returned status %d", resp.StatusCode)
	}
}
