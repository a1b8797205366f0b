package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// defaultClientID is used when an event carries no session id.
const defaultClientID = "trailtrack-server"

// GA4Transport sends events with the GA4 Measurement Protocol.
type GA4Transport struct {
	endpoint      string
	measurementID string
	apiSecret     string
	httpClient    *http.Client
}

// NewGA4Transport creates a transport posting to endpoint (for example
// https://www.google-analytics.com).
func NewGA4Transport(endpoint, measurementID, apiSecret string) *GA4Transport {
	return &GA4Transport{
		endpoint:      endpoint,
		measurementID: measurementID,
		apiSecret:     apiSecret,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
	}
}

type mpPayload struct {
	ClientID        string    `json:"client_id"`
	TimestampMicros int64     `json:"timestamp_micros,omitempty"`
	Events          []mpEvent `json:"events"`
}

type mpEvent struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params,omitempty"`
}

// Init validates the credentials against the debug endpoint.
func (t *GA4Transport) Init(ctx context.Context) error {
	if t.measurementID == "" || t.apiSecret == "" {
		return errors.New("ga4: measurement id and api secret are required")
	}
	return t.post(ctx, "/debug/mp/collect", mpPayload{ClientID: defaultClientID, Events: []mpEvent{}})
}

func (t *GA4Transport) Send(ctx context.Context, event Event) error {
	clientID := event.ClientID
	if clientID == "" {
		clientID = defaultClientID
	}
	payload := mpPayload{
		ClientID: clientID,
		Events:   []mpEvent{{Name: event.Name, Params: event.Params}},
	}
	if !event.Timestamp.IsZero() {
		payload.TimestampMicros = event.Timestamp.UnixMicro()
	}
	return t.post(ctx, "/mp/collect", payload)
}

func (t *GA4Transport) post(ctx context.Context, path string, payload mpPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("ga4: failed to marshal payload: %w", err)
	}

	q := url.Values{}
	q.Set("measurement_id", t.measurementID)
	q.Set("api_secret", t.apiSecret)
	target := t.endpoint + path + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("ga4: failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ga4: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ga4: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// LogTransport only logs events. Used when no GA4 credentials are configured.
type LogTransport struct {
	log *zap.Logger
}

func NewLogTransport(log *zap.Logger) *LogTransport {
	return &LogTransport{log: log}
}

func (t *LogTransport) Init(context.Context) error { return nil }

func (t *LogTransport) Send(_ context.Context, event Event) error {
	t.log.Info("Analytics event",
		zap.String("event", event.Name),
		zap.Any("params", event.Params))
	return nil
}
