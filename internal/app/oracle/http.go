package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	domain "github.com/R3E-Network/raffle_layer/internal/app/domain/oracle"
	"github.com/R3E-Network/raffle_layer/pkg/logger"
)

// HTTPCoordinator submits randomness requests to an external VRF endpoint.
// Deliveries come back through the HTTP API's delivery route, not through
// this client.
type HTTPCoordinator struct {
	client   *http.Client
	endpoint *url.URL
	apiKey   string
	log      *logger.Logger
}

var _ Coordinator = (*HTTPCoordinator)(nil)

// NewHTTPCoordinator constructs a coordinator client for the given endpoint.
func NewHTTPCoordinator(client *http.Client, endpoint, apiKey string, log *logger.Logger) (*HTTPCoordinator, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("coordinator endpoint required")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse coordinator endpoint: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if log == nil {
		log = logger.NewDefault("oracle-http-coordinator")
	}
	return &HTTPCoordinator{
		client:   client,
		endpoint: parsed,
		apiKey:   strings.TrimSpace(apiKey),
		log:      log,
	}, nil
}

func (c *HTTPCoordinator) RequestRandomness(ctx context.Context, req domain.RandomnessRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode randomness request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build randomness request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("randomness request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read coordinator response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		if msg := gjson.GetBytes(raw, "error").String(); msg != "" {
			return "", fmt.Errorf("coordinator status %d: %s", resp.StatusCode, msg)
		}
		return "", fmt.Errorf("coordinator status %d", resp.StatusCode)
	}

	requestID := gjson.GetBytes(raw, "request_id").String()
	if requestID == "" {
		return "", fmt.Errorf("coordinator response missing request_id")
	}

	c.log.WithField("request_id", requestID).Debug("randomness requested")
	return requestID, nil
}
