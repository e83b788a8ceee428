package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sentra-labs/riskfeed/internal/model"
)

// The backend's control surface, fixed paths next to the feed socket.
const (
	channelsEndpoint     = "/api/channels"
	systemHealthEndpoint = "/api/system/health"
)

// SystemHealth is the backend's health snapshot. Raw preserves the full
// response body, which the collector records as a system_health update.
type SystemHealth struct {
	Status string          `json:"status"`
	Raw    json.RawMessage `json:"-"`
}

type channelsResponse struct {
	Channels []model.Channel `json:"channels"`
}

// GetChannels fetches the catalog of subscribable channels.
func (c *Client) GetChannels(ctx context.Context) ([]model.Channel, error) {
	body, err := c.get(ctx, channelsEndpoint)
	if err != nil {
		return nil, fmt.Errorf("get channels: %w", err)
	}

	var resp channelsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal channels: %w", err)
	}
	return resp.Channels, nil
}

// GetSystemHealth fetches the backend health snapshot.
func (c *Client) GetSystemHealth(ctx context.Context) (*SystemHealth, error) {
	body, err := c.get(ctx, systemHealthEndpoint)
	if err != nil {
		return nil, fmt.Errorf("get system health: %w", err)
	}

	var health SystemHealth
	if err := json.Unmarshal(body, &health); err != nil {
		return nil, fmt.Errorf("unmarshal system health: %w", err)
	}
	health.Raw = body

	return &health, nil
}
