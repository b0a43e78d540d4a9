// Package notify delivers MAVG limit-transition events to an external
// webhook, a supplemented notification channel beyond original_source's
// script-only reactor (which only ever forks exec_script). Modeled on the
// teacher repository's Svix webhook delivery: one application per
// deployment, one "limit.transition" event type, delivered through Svix so consumers
// get delivery retries and signature verification for free instead of a
// hand-rolled HTTP client.
package notify

import (
	"context"
	"fmt"
	"net/url"

	svix "github.com/svix/svix-webhooks/go"
	"github.com/svix/svix-webhooks/go/models"
)

// Event is one limit transition, spec.md §6's notify payload.
type Event struct {
	Window   string `json:"window"`
	Key      string `json:"key"`
	FieldIdx int    `json:"field_idx"`
	Value    uint64 `json:"value"`
	Limit    uint64 `json:"limit"`
	Over     bool   `json:"over"`
}

// Notifier sends limit-transition events through a configured Svix
// application.
type Notifier struct {
	client *svix.Svix
	appID  string
}

// New creates a Notifier against appID, an already-provisioned Svix
// application (one per deployment, not per monitoring object, since
// xenoflow is a single collector process rather than a multi-tenant
// webhooks product). If serverURL is empty, the default Svix cloud
// endpoint is used.
func New(authToken, serverURL, appID string) (*Notifier, error) {
	var opts *svix.SvixOptions
	if serverURL != "" {
		u, err := url.Parse(serverURL)
		if err != nil {
			return nil, fmt.Errorf("notify: parse svix server url: %w", err)
		}
		opts = &svix.SvixOptions{ServerUrl: u}
	}
	client, err := svix.New(authToken, opts)
	if err != nil {
		return nil, fmt.Errorf("notify: create svix client: %w", err)
	}
	return &Notifier{client: client, appID: appID}, nil
}

// Send delivers ev as a "limit.transition" message.
func (n *Notifier) Send(ctx context.Context, ev Event) error {
	payload := map[string]interface{}{
		"window":    ev.Window,
		"key":       ev.Key,
		"field_idx": ev.FieldIdx,
		"value":     ev.Value,
		"limit":     ev.Limit,
		"over":      ev.Over,
	}
	_, err := n.client.Message.Create(ctx, n.appID, models.MessageIn{
		EventType: "limit.transition",
		Payload:   payload,
	}, nil)
	if err != nil {
		return fmt.Errorf("notify: send message: %w", err)
	}
	return nil
}
