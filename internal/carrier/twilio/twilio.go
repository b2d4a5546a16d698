// Package twilio implements the carrier.Driver variant for Twilio Voice:
// REST + HTTP Basic auth, form-encoded webhooks, and streaming triggered by
// the TwiML document returned from the webhook response.
package twilio

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/agentplexus/callorchestrator/internal/callerror"
	"github.com/agentplexus/callorchestrator/internal/carrier"
)

const defaultBaseURL = "https://api.twilio.com/2010-04-01"

// Driver is the Twilio carrier.Driver implementation.
type Driver struct {
	accountSID string
	authToken  string
	baseURL    string
	httpClient *http.Client
}

// Config configures Driver.
type Config struct {
	AccountSID string
	AuthToken  string
	BaseURL    string
	HTTPClient *http.Client
}

// New constructs a Twilio Driver.
func New(cfg Config) (*Driver, error) {
	if cfg.AccountSID == "" {
		return nil, &callerror.MissingConfiguration{Key: "CARRIER_ACCOUNT_ID"}
	}
	if cfg.AuthToken == "" {
		return nil, &callerror.MissingConfiguration{Key: "CARRIER_SECRET"}
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Driver{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		baseURL:    baseURL,
		httpClient: httpClient,
	}, nil
}

type callResource struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("twilio error %d: %s", e.Code, e.Message)
}

// Initiate places an outbound call via POST .../Calls.json.
func (d *Driver) Initiate(ctx context.Context, to, from, webhookURL string) (string, error) {
	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls.json", d.baseURL, d.accountSID)

	data := url.Values{}
	data.Set("To", to)
	data.Set("From", from)
	data.Set("Url", webhookURL)

	var call callResource
	if err := d.post(ctx, endpoint, data, &call); err != nil {
		return "", err
	}
	return call.SID, nil
}

// Hangup ends a call by setting its Status to "completed".
func (d *Driver) Hangup(ctx context.Context, carrierCallID string) error {
	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls/%s.json", d.baseURL, d.accountSID, carrierCallID)

	data := url.Values{}
	data.Set("Status", "completed")

	var call callResource
	return d.post(ctx, endpoint, data, &call)
}

// StartStreaming is a no-op for Twilio: streaming is triggered by the TwiML
// document returned from the webhook, not a separate API call.
func (d *Driver) StartStreaming(ctx context.Context, carrierCallID, wsURL string) error {
	return nil
}

// StreamConnectResponse builds the TwiML document that tells Twilio to open
// a media stream to wsURL, then pause to keep the call alive while the
// conversation continues over the stream. Deliberately uses <Connect><Stream>
// rather than <Start><Stream>: the pump needs Twilio to accept inbound
// mu-law frames it writes back on the same connection, which only the
// bidirectional <Connect> form provides.
func (d *Driver) StreamConnectResponse(wsURL string) []byte {
	doc := fmt.Sprintf(
		`<?xml version="1.0" encoding="UTF-8"?><Response><Connect><Stream url="%s"/></Connect><Pause length="60"/></Response>`,
		wsURL,
	)
	return []byte(doc)
}

// VerifySignature validates the X-Twilio-Signature header: base64(HMAC-SHA1(authToken, fullURL+body)).
func (d *Driver) VerifySignature(headerSig, fullURL string, body []byte) bool {
	if headerSig == "" {
		return false
	}
	mac := hmac.New(sha1.New, []byte(d.authToken))
	mac.Write([]byte(fullURL))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(headerSig))
}

// ParseWebhook decodes Twilio's form-encoded status-callback body.
func (d *Driver) ParseWebhook(form url.Values, jsonBody []byte, contentType string) carrier.WebhookEvent {
	status := form.Get("CallStatus")
	carrierCallID := form.Get("CallSid")

	event := carrier.WebhookEvent{CarrierCallID: carrierCallID, RawTag: status}
	switch status {
	case "ringing", "in-progress":
		event.Kind = carrier.EventCallAnswered
	case "completed":
		event.Kind = carrier.EventCallHungUp
	case "busy":
		event.Kind = carrier.EventCallBusy
	case "no-answer":
		event.Kind = carrier.EventCallNoAnswer
	case "failed":
		event.Kind = carrier.EventCallFailed
	default:
		event.Kind = carrier.EventUnknown
	}
	return event
}

func (d *Driver) post(ctx context.Context, endpoint string, data url.Values, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return &callerror.NetworkError{Detail: err.Error()}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(d.accountSID, d.authToken)
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
		var apiErr apiError
		if err := json.Unmarshal(respBody, &apiErr); err != nil {
			return &callerror.ProviderError{Detail: string(respBody)}
		}
		return &callerror.ProviderError{Detail: apiErr.Error()}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return &callerror.ProviderError{Detail: "malformed response: " + err.Error()}
		}
	}
	return nil
}
