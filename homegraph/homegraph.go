package homegraph

import (
	"context"
	"encoding/json"
	"fmt"
	log "log/slog"
	"os"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	hg "google.golang.org/api/homegraph/v1"
	"google.golang.org/api/option"

	"github.com/mrlauy/ghome-bridge/config"
	"github.com/mrlauy/ghome-bridge/report"
)

// Client pushes state to Google HomeGraph and asks Google to resync devices.
type Client struct {
	service *hg.Service
}

// New authenticates with the service account key named in the config.
func New(ctx context.Context, cfg config.HomeGraphConfig) (*Client, error) {
	data, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read homegraph credentials %s: %w", cfg.CredentialsFile, err)
	}
	credentials, err := google.CredentialsFromJSON(ctx, data, hg.HomegraphScope)
	if err != nil {
		return nil, fmt.Errorf("failed to parse homegraph credentials: %w", err)
	}

	opts := []option.ClientOption{option.WithCredentials(credentials)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	return NewWithOptions(ctx, opts...)
}

func NewWithOptions(ctx context.Context, opts ...option.ClientOption) (*Client, error) {
	service, err := hg.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create homegraph service: %w", err)
	}
	return &Client{service: service}, nil
}

func (c *Client) Notify(ctx context.Context, notification report.Notification) error {
	states, err := json.Marshal(notification.States)
	if err != nil {
		return fmt.Errorf("failed to encode states: %w", err)
	}

	request := &hg.ReportStateAndNotificationRequest{
		RequestId:   notification.RequestID,
		AgentUserId: notification.AgentUserID,
		Payload: &hg.StateAndNotificationPayload{
			Devices: &hg.ReportStateAndNotificationDevice{
				States: googleapi.RawMessage(states),
			},
		},
	}
	if _, err := c.service.Devices.ReportStateAndNotification(request).Context(ctx).Do(); err != nil {
		return fmt.Errorf("homegraph report state: %w", err)
	}
	log.Debug("reported state to homegraph", "request", notification.RequestID, "user", notification.AgentUserID)
	return nil
}

// RequestSync asks Google to send a SYNC intent for the user.
func (c *Client) RequestSync(ctx context.Context, agentUserID string) error {
	request := &hg.RequestSyncDevicesRequest{
		AgentUserId: agentUserID,
		Async:       true,
	}
	if _, err := c.service.Devices.RequestSync(request).Context(ctx).Do(); err != nil {
		return fmt.Errorf("homegraph request sync: %w", err)
	}
	log.Info("requested sync", "user", agentUserID)
	return nil
}
