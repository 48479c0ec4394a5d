// Package elevenlabs talks to the ElevenLabs Conversational AI platform: the
// REST endpoints for signed session URLs and outbound calls, and the
// conversation websocket that carries a live call.
package elevenlabs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/troikatech/carecall/pkg/circuitbreaker"
	"github.com/troikatech/carecall/pkg/metrics"
	"github.com/troikatech/carecall/pkg/otel"
	"github.com/troikatech/carecall/pkg/retry"
)

const (
	serviceName = "elevenlabs"

	DefaultBaseURL = "https://api.elevenlabs.io"

	signedURLPath    = "/v1/convai/conversation/get_signed_url"
	outboundCallPath = "/v1/convai/twilio/outbound-call"
)

// InitiationType tags the client data message that personalises a conversation.
const InitiationType = "conversation_initiation_client_data"

// InitiationData carries the dynamic variables for one conversation.
type InitiationData struct {
	Type             string            `json:"type"`
	DynamicVariables map[string]string `json:"dynamic_variables"`
}

// APIError is a non-2xx answer from the REST API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("elevenlabs api returned %d: %s", e.StatusCode, e.Body)
}

// IsClientError reports whether err is a 4xx answer, which retrying will not fix.
func IsClientError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500
}

type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	RetryCount int
}

type Client struct {
	http      *resty.Client
	breaker   *circuitbreaker.Breaker
	dialer    *websocket.Dialer
	dialRetry retry.Policy
	log       *zap.Logger
}

func NewClient(cfg Config, log *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RetryCount < 0 {
		cfg.RetryCount = 0
	}
	if log == nil {
		log = zap.NewNop()
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(200*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		}).
		SetHeader("xi-api-key", cfg.APIKey).
		SetHeader("Accept", "application/json")

	breakerCfg := circuitbreaker.Defaults()
	breakerCfg.Ignore = IsClientError
	breakerCfg.OnStateChange = func(from, to circuitbreaker.State) {
		log.Warn("ElevenLabs circuit breaker state changed",
			zap.String("from", from.String()),
			zap.String("to", to.String()))
	}

	return &Client{
		http:    httpClient,
		breaker: circuitbreaker.New(breakerCfg),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		dialRetry: retry.Policy{
			MaxAttempts:  cfg.RetryCount + 1,
			InitialDelay: 250 * time.Millisecond,
			MaxDelay:     time.Second,
			Multiplier:   2,
			Jitter:       0.2,
			OnRetry: func(attempt int, err error, wait time.Duration) {
				log.Warn("Retrying ElevenLabs conversation dial",
					zap.Int("attempt", attempt),
					zap.Duration("wait", wait),
					zap.Error(err))
			},
		},
		log: log,
	}
}

// SignedURL returns a single-use websocket URL for a private agent.
func (c *Client) SignedURL(ctx context.Context, agentID string) (string, error) {
	var result struct {
		SignedURL string `json:"signed_url"`
	}

	err := c.do(ctx, "signed_url", func(ctx context.Context) (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetQueryParam("agent_id", agentID).
			SetResult(&result).
			Get(signedURLPath)
	})
	if err != nil {
		return "", fmt.Errorf("get signed url: %w", err)
	}
	if result.SignedURL == "" {
		return "", errors.New("get signed url: empty signed_url in response")
	}
	return result.SignedURL, nil
}

type OutboundCallRequest struct {
	AgentID            string         `json:"agent_id"`
	AgentPhoneNumberID string         `json:"agent_phone_number_id"`
	ToNumber           string         `json:"to_number"`
	InitiationData     InitiationData `json:"conversation_initiation_client_data"`
}

type OutboundCallResponse struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
	CallSid        string `json:"callSid"`
}

// OutboundCall asks the platform to dial a number through its Twilio integration.
func (c *Client) OutboundCall(ctx context.Context, req OutboundCallRequest) (*OutboundCallResponse, error) {
	var result OutboundCallResponse

	err := c.do(ctx, "outbound_call", func(ctx context.Context) (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(req).
			SetResult(&result).
			Post(outboundCallPath)
	})
	if err != nil {
		return nil, fmt.Errorf("outbound call: %w", err)
	}
	return &result, nil
}

// do runs one REST call behind the circuit breaker and records it.
func (c *Client) do(ctx context.Context, op string, send func(ctx context.Context) (*resty.Response, error)) error {
	start := time.Now()

	err := otel.WithClientSpan(ctx, serviceName, op, func(ctx context.Context) error {
		return c.breaker.Execute(ctx, func(ctx context.Context) error {
			resp, err := send(ctx)
			if err != nil {
				return err
			}
			if resp.IsError() {
				return &APIError{StatusCode: resp.StatusCode(), Body: resp.String()}
			}
			return nil
		})
	})

	metrics.RecordServiceCall(serviceName, err == nil, time.Since(start))
	metrics.UpdateCircuitBreaker(serviceName, c.breaker.State().String(), int64(c.breaker.Failures()))

	if err != nil {
		c.log.Warn("ElevenLabs API call failed",
			zap.String("operation", op),
			zap.Duration("latency", time.Since(start)),
			zap.Error(err),
		)
	}
	return err
}
