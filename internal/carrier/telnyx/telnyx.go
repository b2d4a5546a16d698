// Package telnyx implements the carrier.Driver variant for Telnyx Call
// Control: REST + bearer auth, JSON webhooks, and streaming triggered by an
// explicit API call once the streaming.started event arrives.
package telnyx

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/agentplexus/callorchestrator/internal/callerror"
	"github.com/agentplexus/callorchestrator/internal/carrier"
)

const defaultBaseURL = "https://api.telnyx.com/v2"

// Driver is the Telnyx carrier.Driver implementation.
type Driver struct {
	apiKey       string
	connectionID string
	baseURL      string
	publicKey    ed25519.PublicKey // nil when signature verification is unconfigured
	httpClient   *http.Client
}

// Config configures Driver.
type Config struct {
	APIKey       string
	ConnectionID string
	BaseURL      string
	// PublicKeyBase64 is the Telnyx webhook Ed25519 public key. Empty
	// disables signature verification; VerifySignature then accepts every
	// request, and the strict/permissive policy is applied by the server
	// package.
	PublicKeyBase64 string
	HTTPClient       *http.Client
}

// New constructs a Telnyx Driver.
func New(cfg Config) (*Driver, error) {
	if cfg.APIKey == "" {
		return nil, &callerror.MissingConfiguration{Key: "CARRIER_SECRET"}
	}
	if cfg.ConnectionID == "" {
		return nil, &callerror.MissingConfiguration{Key: "CARRIER_ACCOUNT_ID"}
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	var pub ed25519.PublicKey
	if cfg.PublicKeyBase64 != "" {
		raw, err := base64.StdEncoding.DecodeString(cfg.PublicKeyBase64)
		if err != nil {
			return nil, &callerror.MissingConfiguration{Key: "TELNYX_PUBLIC_KEY (invalid base64)"}
		}
		pub = ed25519.PublicKey(raw)
	}

	return &Driver{
		apiKey:       cfg.APIKey,
		connectionID: cfg.ConnectionID,
		baseURL:      baseURL,
		publicKey:    pub,
		httpClient:   httpClient,
	}, nil
}

type callCreateRequest struct {
	To              string `json:"to"`
	From            string `json:"from"`
	ConnectionID    string `json:"connection_id"`
	WebhookURL      string `json:"webhook_url"`
	WebhookURLMethod string `json:"webhook_url_method"`
}

type streamStartRequest struct {
	StreamURL   string `json:"stream_url"`
	StreamTrack string `json:"stream_track"`
	Format      string `json:"format"`
	SampleRate  int    `json:"sample_rate"`
}

type callEnvelope struct {
	Data struct {
		CallControlID string `json:"call_control_id"`
	} `json:"data"`
}

// Initiate places an outbound call via POST /calls.
func (d *Driver) Initiate(ctx context.Context, to, from, webhookURL string) (string, error) {
	body := callCreateRequest{
		To:               to,
		From:             from,
		ConnectionID:     d.connectionID,
		WebhookURL:       webhookURL,
		WebhookURLMethod: "POST",
	}

	var env callEnvelope
	if err := d.postJSON(ctx, d.baseURL+"/calls", body, &env); err != nil {
		return "", err
	}
	return env.Data.CallControlID, nil
}

// Hangup ends a call via POST /calls/{id}/actions/hangup.
func (d *Driver) Hangup(ctx context.Context, carrierCallID string) error {
	endpoint := fmt.Sprintf("%s/calls/%s/actions/hangup", d.baseURL, carrierCallID)
	return d.postJSON(ctx, endpoint, struct{}{}, nil)
}

// StartStreaming asks Telnyx to begin streaming inbound audio to wsURL via
// POST /calls/{id}/actions/stream.
func (d *Driver) StartStreaming(ctx context.Context, carrierCallID, wsURL string) error {
	endpoint := fmt.Sprintf("%s/calls/%s/actions/stream", d.baseURL, carrierCallID)
	body := streamStartRequest{
		StreamURL:   wsURL,
		StreamTrack: "inbound",
		Format:      "ULAW",
		SampleRate:  8000,
	}
	return d.postJSON(ctx, endpoint, body, nil)
}

// StreamConnectResponse returns an empty envelope: Telnyx streaming is
// triggered via StartStreaming once the streaming.started webhook arrives,
// not by the webhook response body itself.
func (d *Driver) StreamConnectResponse(wsURL string) []byte {
	return []byte(`<?xml version="1.0" encoding="UTF-8"?><Response></Response>`)
}

// VerifySignature validates the telnyx-signature-ed25519 header. When no
// public key is configured, it accepts unconditionally — callers apply the
// strict-signature-mode policy in internal/server before trusting this.
func (d *Driver) VerifySignature(headerSig, fullURL string, body []byte) bool {
	if d.publicKey == nil {
		return true
	}
	if headerSig == "" {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(headerSig)
	if err != nil {
		return false
	}
	return ed25519.Verify(d.publicKey, body, sig)
}

type telnyxWebhookBody struct {
	Data struct {
		EventType string `json:"event_type"`
		Payload   struct {
			CallControlID string `json:"call_control_id"`
		} `json:"payload"`
	} `json:"data"`
}

// ParseWebhook decodes Telnyx's JSON webhook body.
func (d *Driver) ParseWebhook(form url.Values, jsonBody []byte, contentType string) carrier.WebhookEvent {
	var body telnyxWebhookBody
	if err := json.Unmarshal(jsonBody, &body); err != nil {
		return carrier.WebhookEvent{Kind: carrier.EventUnknown}
	}

	event := carrier.WebhookEvent{
		CarrierCallID: body.Data.Payload.CallControlID,
		RawTag:        body.Data.EventType,
	}
	switch body.Data.EventType {
	case "call.initiated":
		event.Kind = carrier.EventCallInitiated
	case "call.answered":
		event.Kind = carrier.EventCallAnswered
	case "call.hangup":
		event.Kind = carrier.EventCallHungUp
	case "call.machine.detection.ended":
		event.Kind = carrier.EventCallAnswered
	case "streaming.started":
		event.Kind = carrier.EventStreamingStarted
	case "streaming.stopped":
		event.Kind = carrier.EventStreamingStopped
	default:
		event.Kind = carrier.EventUnknown
	}
	return event
}

func (d *Driver) postJSON(ctx context.Context, endpoint string, body any, result any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return &callerror.ProviderError{Detail: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return &callerror.NetworkError{Detail: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+d.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return &callerror.NetworkError{Detail: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &callerror.NetworkError{Detail: err.Error()}
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &callerror.AuthenticationFailed{Detail: string(respBody)}
	}
	if resp.StatusCode >= 400 {
		return &callerror.ProviderError{Detail: string(respBody)}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return &callerror.ProviderError{Detail: "malformed response: " + err.Error()}
		}
	}
	return nil
}
