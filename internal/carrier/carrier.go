// Package carrier defines the Driver interface shared by the telephony
// provider variants (Telnyx, Twilio) and the webhook event shape they both
// parse into.
package carrier

import (
	"context"
	"net/url"
)

// EventKind tags a parsed webhook event.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventCallInitiated
	EventCallAnswered
	EventCallHungUp
	EventCallBusy
	EventCallNoAnswer
	EventCallFailed
	EventStreamingStarted
	EventStreamingStopped
)

func (k EventKind) String() string {
	switch k {
	case EventCallInitiated:
		return "callInitiated"
	case EventCallAnswered:
		return "callAnswered"
	case EventCallHungUp:
		return "callHungUp"
	case EventCallBusy:
		return "callBusy"
	case EventCallNoAnswer:
		return "callNoAnswer"
	case EventCallFailed:
		return "callFailed"
	case EventStreamingStarted:
		return "streamingStarted"
	case EventStreamingStopped:
		return "streamingStopped"
	default:
		return "unknown"
	}
}

// WebhookEvent is the tagged union every carrier variant's webhook body
// parses into. RawTag preserves the provider's original event string for
// logging when Kind is EventUnknown.
type WebhookEvent struct {
	Kind          EventKind
	CarrierCallID string
	RawTag        string
}

// Driver is implemented once per supported carrier variant (telnyx, twilio).
type Driver interface {
	// Initiate places an outbound call and returns the carrier-assigned
	// call id.
	Initiate(ctx context.Context, to, from, webhookURL string) (carrierCallID string, err error)

	// Hangup ends an in-progress call.
	Hangup(ctx context.Context, carrierCallID string) error

	// StartStreaming asks the carrier to begin streaming media for
	// carrierCallID to wsURL. Variants that start streaming via the
	// webhook response instead (Twilio) implement this as a no-op.
	StartStreaming(ctx context.Context, carrierCallID, wsURL string) error

	// StreamConnectResponse builds the body returned from the webhook
	// endpoint that tells the carrier where to open its media stream.
	StreamConnectResponse(wsURL string) []byte

	// VerifySignature checks a webhook request's signature header against
	// the full request URL and raw body.
	VerifySignature(headerSig, fullURL string, body []byte) bool

	// ParseWebhook decodes a webhook body (form-encoded or JSON, depending
	// on variant and contentType) into a WebhookEvent.
	ParseWebhook(form url.Values, jsonBody []byte, contentType string) WebhookEvent
}
