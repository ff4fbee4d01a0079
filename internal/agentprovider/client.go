// Package agentprovider wraps the outbound HTTP call that places a
// supplier call with the external voice-agent provider. Grounded on
// internal/router/mediator/http.go's gobreaker-wrapped HTTP client, but
// with a short synchronous-request timeout (spec §2, component F) instead
// of the teacher's 15-minute webhook-delivery timeout: this call places
// a call request and waits for an immediate ack, it does not deliver a
// long-running webhook.
package agentprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"go.poresolve.tech/internal/common/metrics"
)

// ErrProviderUnavailable is returned when the circuit breaker is open or
// too many requests are in flight during a half-open probe.
var ErrProviderUnavailable = errors.New("agent provider unavailable")

// POEntry describes one purchase order line within a call-placement request.
type POEntry struct {
	ExternalID   string `json:"externalId"`
	PONumber     string `json:"poNumber"`
	POLine       string `json:"poLine"`
	ActionType   string `json:"actionType"`
	DueDate      string `json:"dueDate"`
	RecommendedDate string `json:"recommendedDate,omitempty"`
	ValueCents   int64  `json:"valueCents"`
}

// ContactOverride optionally overrides the supplier's stored contact info
// for this dispatch only.
type ContactOverride struct {
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

// Request is the outbound call-placement payload (spec §6: "Agent Provider
// request... batch metadata plus ordered PO descriptors, a callback URL,
// attempt, and contact overrides").
type Request struct {
	BatchID      string          `json:"batchId"`
	SupplierID   string          `json:"supplierId"`
	SupplierName string          `json:"supplierName"`
	Phone        string          `json:"phone"`
	Email        string          `json:"email"`
	Contact      ContactOverride `json:"contactOverride,omitempty"`
	POs          []POEntry       `json:"pos"`
	CallbackURL  string          `json:"callbackUrl"`
	Attempt      int             `json:"attempt"`
}

// Response is the provider's synchronous reply to a call-placement request.
type Response struct {
	Success     bool   `json:"success"`
	RunID       string `json:"runId"`
	ExternalURL string `json:"externalUrl"`
	Error       string `json:"error"`
}

// Config configures the agent provider client.
type Config struct {
	BaseURL string
	// APIKey authenticates outbound requests to the provider (spec §1.2's
	// "provider API key" secret). Sent as a bearer token; empty disables
	// the header entirely, for providers fronted by network-level auth.
	APIKey  string
	Timeout time.Duration

	CircuitBreakerEnabled     bool
	CircuitBreakerRequests    uint32
	CircuitBreakerInterval    time.Duration
	CircuitBreakerRatio       float64
	CircuitBreakerTimeout     time.Duration
	CircuitBreakerMinRequests uint32

	// RateLimitPerSecond caps outbound call-placement requests, independent
	// of MaxConcurrentCalls (which bounds in-flight dispatcher goroutines,
	// not the provider's own request budget). Zero disables the limiter.
	RateLimitPerSecond float64
	RateLimitBurst     int
}

// DefaultConfig returns sensible defaults for a synchronous call-placement
// client: a 30s request timeout rather than the 15-minute webhook timeout
// used elsewhere in the teacher's stack for asynchronous deliveries.
func DefaultConfig(baseURL string) *Config {
	return &Config{
		BaseURL:                   baseURL,
		Timeout:                   30 * time.Second,
		CircuitBreakerEnabled:     true,
		CircuitBreakerRequests:    10,
		CircuitBreakerInterval:    60 * time.Second,
		CircuitBreakerRatio:       0.5,
		CircuitBreakerTimeout:     5 * time.Second,
		CircuitBreakerMinRequests: 10,
		RateLimitPerSecond:        5,
		RateLimitBurst:            10,
	}
}

// Client places call requests against the external voice-agent provider.
type Client struct {
	baseURL        string
	apiKey         string
	httpClient     *http.Client
	circuitBreaker *gobreaker.CircuitBreaker
	limiter        *rate.Limiter
}

// New creates an agent provider client from cfg.
func New(cfg *Config) *Client {
	if cfg == nil {
		cfg = DefaultConfig("")
	}

	httpClient := &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        50,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
		},
	}

	c := &Client{baseURL: cfg.BaseURL, apiKey: cfg.APIKey, httpClient: httpClient}

	if cfg.RateLimitPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), cfg.RateLimitBurst)
	}

	if cfg.CircuitBreakerEnabled {
		c.circuitBreaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "agent-provider",
			MaxRequests: cfg.CircuitBreakerRequests,
			Interval:    cfg.CircuitBreakerInterval,
			Timeout:     cfg.CircuitBreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				if counts.Requests < cfg.CircuitBreakerMinRequests {
					return false
				}
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return failureRatio >= cfg.CircuitBreakerRatio
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				var stateValue float64
				switch to {
				case gobreaker.StateClosed:
					stateValue = metrics.CircuitBreakerClosed
				case gobreaker.StateOpen:
					stateValue = metrics.CircuitBreakerOpen
					metrics.AgentCircuitBreakerTrips.Inc()
				case gobreaker.StateHalfOpen:
					stateValue = metrics.CircuitBreakerHalfOpen
				}
				metrics.AgentCircuitBreakerState.Set(stateValue)
			},
		})
	}

	return c
}

// Configured reports whether a provider base URL was set, distinguishing
// "no provider configured" (503) from a genuine dispatch failure at the
// manual trigger-call endpoint (spec §6 `POST /batches/{id}/trigger-call`).
func (c *Client) Configured() bool {
	return c.baseURL != ""
}

// PlaceCall invokes the provider with a call-placement request. A non-nil
// error means the dispatcher's trigger-failure path should run (spec
// §4.6 step 9); the Response is only meaningful when err is nil.
func (c *Client) PlaceCall(ctx context.Context, req Request) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	if c.circuitBreaker == nil {
		return c.execute(ctx, req)
	}

	result, err := c.circuitBreaker.Execute(func() (interface{}, error) {
		return c.execute(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, ErrProviderUnavailable
		}
		return nil, err
	}
	return result.(*Response), nil
}

func (c *Client) execute(ctx context.Context, req Request) (*Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal call request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/calls", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build call request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	duration := time.Since(start)
	metrics.AgentHTTPDuration.Observe(duration.Seconds())

	if err != nil {
		metrics.AgentHTTPRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("call provider: %w", err)
	}
	defer resp.Body.Close()

	metrics.AgentHTTPRequests.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, fmt.Errorf("read provider response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("provider returned status %d: %s", resp.StatusCode, body)
	}

	var out Response
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode provider response: %w", err)
	}
	if !out.Success && out.Error == "" {
		out.Error = "provider reported failure without a reason"
	}
	return &out, nil
}
