// Package httpapi talks to the backend REST APIs: telemetry ingestion, offer
// responses and emergency submission.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/driverlink/auth"
	"github.com/kilianp07/driverlink/core/emergency"
	"github.com/kilianp07/driverlink/core/logger"
	"github.com/kilianp07/driverlink/core/model"
	"github.com/kilianp07/driverlink/core/offer"
	"github.com/kilianp07/driverlink/core/tracking"
)

var (
	_ tracking.TelemetryService = (*Client)(nil)
	_ offer.Responder           = (*Client)(nil)
	_ emergency.Service         = (*Client)(nil)
)

// Config configures the REST client.
type Config struct {
	BaseURL        string `json:"base_url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	// Token is a static bearer token, used only when Auth is not configured.
	Token string    `json:"token"`
	Auth  auth.Conf `json:"auth"`
}

func (c *Config) SetDefaults() {
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 10
	}
}

func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("http base_url is required")
	}
	if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
		return fmt.Errorf("http base_url: %w", err)
	}
	if c.Auth.ClientID != "" && c.Auth.AuthURL == "" {
		return fmt.Errorf("http auth.auth_url is required with auth.client_id")
	}
	return nil
}

// StatusError is returned for non-2xx responses. It unwraps to the model
// error the status maps to.
type StatusError struct {
	Code int
	Body string
	Kind error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%v: status %d: %s", e.Kind, e.Code, e.Body)
}

func (e *StatusError) Unwrap() error { return e.Kind }

// statusKind maps an HTTP status onto the error taxonomy.
func statusKind(code int) error {
	switch {
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return model.ErrRequestTimeout
	case code == http.StatusTooManyRequests || code >= 500:
		return model.ErrNetworkFailure
	default:
		return model.ErrValidationFailure
	}
}

// Client is the REST implementation of the telemetry, offer and emergency
// services for one agent.
type Client struct {
	base    string
	agentID string
	http    *http.Client
	creds   *auth.ClientCred
	token   string
	log     logger.Logger
	now     func() time.Time
}

// NewClient creates a client for agentID.
func NewClient(cfg Config, agentID string, log logger.Logger) (*Client, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Client{
		base:    strings.TrimRight(cfg.BaseURL, "/"),
		agentID: agentID,
		http:    &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		token:   cfg.Token,
		log:     log,
		now:     time.Now,
	}
	if cfg.Auth.Enabled() {
		c.creds = auth.NewClientCred(cfg.Auth)
	}
	return c, nil
}

type positionsRequest struct {
	Samples []model.PositionReport `json:"samples"`
}

type availabilityRequest struct {
	Available bool      `json:"available"`
	Timestamp time.Time `json:"ts"`
}

type heartbeatRequest struct {
	Latitude  float64   `json:"lat"`
	Longitude float64   `json:"lng"`
	Timestamp time.Time `json:"ts"`
}

type offerResponse struct {
	AgentID string `json:"agent_id"`
	Accept  bool   `json:"accept"`
}

type incidentResponse struct {
	IncidentID string `json:"incident_id"`
}

func (c *Client) agentPath(agentID, suffix string) string {
	return "/v1/agents/" + url.PathEscape(agentID) + suffix
}

// SendSingle posts one position.
func (c *Client) SendSingle(ctx context.Context, agentID string, s model.PositionSample) error {
	return c.do(ctx, http.MethodPost, c.agentPath(agentID, "/positions"), uuid.NewString(), model.NewPositionReport(agentID, s), nil)
}

// SendBatch posts the samples in one request; the server stores all or none.
func (c *Client) SendBatch(ctx context.Context, agentID string, samples []model.PositionSample) error {
	if len(samples) == 0 {
		return nil
	}
	body := positionsRequest{Samples: model.NewPositionReports(samples)}
	for i := range body.Samples {
		body.Samples[i].AgentID = agentID
	}
	return c.do(ctx, http.MethodPost, c.agentPath(agentID, "/positions/batch"), uuid.NewString(), body, nil)
}

func (c *Client) SetAvailability(ctx context.Context, agentID string, available bool) error {
	body := availabilityRequest{Available: available, Timestamp: c.now().UTC()}
	return c.do(ctx, http.MethodPut, c.agentPath(agentID, "/availability"), uuid.NewString(), body, nil)
}

func (c *Client) Heartbeat(ctx context.Context, agentID string, lat, lng float64) error {
	body := heartbeatRequest{Latitude: lat, Longitude: lng, Timestamp: c.now().UTC()}
	return c.do(ctx, http.MethodPost, c.agentPath(agentID, "/heartbeat"), uuid.NewString(), body, nil)
}

// RespondOffer accepts or declines the ride offer. A 409 or 410 means the
// offer is gone server side and maps to ErrStaleOffer.
func (c *Client) RespondOffer(ctx context.Context, rideID string, accept bool) error {
	if rideID == "" {
		return fmt.Errorf("%w: empty ride id", model.ErrValidationFailure)
	}
	path := "/v1/rides/" + url.PathEscape(rideID) + "/response"
	err := c.do(ctx, http.MethodPost, path, uuid.NewString(), offerResponse{AgentID: c.agentID, Accept: accept}, nil)
	var se *StatusError
	if errors.As(err, &se) && (se.Code == http.StatusConflict || se.Code == http.StatusGone) {
		return fmt.Errorf("%w: %v", model.ErrStaleOffer, err)
	}
	return err
}

// TriggerSOS submits the emergency event. The request id doubles as the
// idempotency key so a retried submission is not recorded twice.
func (c *Client) TriggerSOS(ctx context.Context, ev model.EmergencyEvent) (string, error) {
	key := ev.RequestID
	if key == "" {
		key = uuid.NewString()
	}
	var out incidentResponse
	if err := c.do(ctx, http.MethodPost, "/v1/emergencies", key, ev, &out); err != nil {
		return "", err
	}
	if out.IncidentID == "" {
		return "", fmt.Errorf("%w: response without incident id", model.ErrValidationFailure)
	}
	return out.IncidentID, nil
}

func (c *Client) do(ctx context.Context, method, path, idemKey string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", model.ErrValidationFailure, path, err)
	}
	resp, err := c.send(ctx, method, path, idemKey, payload, false)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized && c.creds != nil {
		resp.Body.Close()
		c.log.Warnf("%s %s unauthorized, refreshing token", method, path)
		resp, err = c.send(ctx, method, path, idemKey, payload, true)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg)), Kind: statusKind(resp.StatusCode)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", model.ErrValidationFailure, path, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path, idemKey string, payload []byte, refresh bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrValidationFailure, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idemKey)
	if err := c.authorize(req, refresh); err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	return resp, nil
}

func (c *Client) authorize(req *http.Request, refresh bool) error {
	switch {
	case c.creds != nil && refresh:
		tok, err := c.creds.ForceRefresh(req.Context())
		if err != nil {
			return fmt.Errorf("%w: %v", model.ErrNetworkFailure, err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	case c.creds != nil:
		if err := c.creds.SetAuthHeader(req); err != nil {
			return fmt.Errorf("%w: %v", model.ErrNetworkFailure, err)
		}
	case c.token != "":
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return nil
}

func transportError(ctx context.Context, err error) error {
	var ne net.Error
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return fmt.Errorf("%w: %v", model.ErrRequestTimeout, err)
	}
	return fmt.Errorf("%w: %v", model.ErrNetworkFailure, err)
}
