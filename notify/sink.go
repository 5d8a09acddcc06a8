package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"auctionwatch/models"
)

// Sink delivers one notification on one external channel.
type Sink interface {
	Send(ctx context.Context, channel models.Channel, ownerID int64, n *models.Notification) error
}

// WebhookTarget is the delivery endpoint for one channel, typically a
// provider gateway (email relay, SMS bridge, push service).
type WebhookTarget struct {
	Endpoint  string
	AuthToken string
}

// WebhookSink POSTs notification payloads to per-channel endpoints.
type WebhookSink struct {
	targets map[models.Channel]WebhookTarget
	client  *http.Client
}

func NewWebhookSink(targets map[models.Channel]WebhookTarget) *WebhookSink {
	return &WebhookSink{
		targets: targets,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

type webhookPayload struct {
	OwnerID   int64                   `json:"ownerId"`
	Channel   models.Channel          `json:"channel"`
	ListingID string                  `json:"listingId"`
	Kind      models.NotificationKind `json:"kind"`
	Priority  string                  `json:"priority"`
	Title     string                  `json:"title"`
	Body      string                  `json:"body"`
	Data      json.RawMessage         `json:"data,omitempty"`
}

func (s *WebhookSink) Send(ctx context.Context, channel models.Channel, ownerID int64, n *models.Notification) error {
	target, ok := s.targets[channel]
	if !ok || target.Endpoint == "" {
		return fmt.Errorf("no endpoint configured for channel %s", channel)
	}

	payload := webhookPayload{
		OwnerID:   ownerID,
		Channel:   channel,
		ListingID: n.ListingID,
		Kind:      n.Kind,
		Priority:  n.Priority,
		Title:     n.Title,
		Body:      n.Body,
		Data:      n.Data,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if target.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+target.AuthToken)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send %s: %w", channel, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("send %s: unexpected status %d", channel, resp.StatusCode)
	}
	return nil
}

// NoopSink logs instead of delivering. Used when no channel endpoints are
// configured, so the pipeline stays runnable locally.
type NoopSink struct{}

func (NoopSink) Send(_ context.Context, channel models.Channel, ownerID int64, n *models.Notification) error {
	log.Printf("NoopSink: would deliver %s to owner %d via %s: %s", n.Kind, ownerID, channel, n.Title)
	return nil
}
