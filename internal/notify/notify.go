// Package notify calls the outbound notification collaborator: an HTTP
// endpoint that emails a signature-request link.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Client posts signature-request notifications.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// NewClient creates a client for the configured endpoint.
func NewClient(endpoint string) *Client {
	return &Client{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type notifyRequest struct {
	Email string `json:"email"`
	Link  string `json:"link"`
}

// SendSignatureRequest asks the collaborator to email the signature link.
// A non-2xx response is reported as a failure; retrying is the caller's
// decision (the worker abandons the message back to the queue).
func (c *Client) SendSignatureRequest(ctx context.Context, email, link string) error {
	body, err := json.Marshal(notifyRequest{Email: email, Link: link})
	if err != nil {
		return errors.Wrap(err, "failed to marshal notification request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "failed to build notification request")
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to call notification endpoint")
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return errors.Errorf("notification endpoint returned status %d", res.StatusCode)
	}

	log.Info().Str("email", email).Msg("signature request notification sent")
	return nil
}
