// Package callerror defines the error taxonomy shared by every component of
// the call orchestrator. Each kind is a distinct type so callers can
// errors.As to it, and Kind() backs the "Error: <kind>: <detail>" format the
// tool surface puts in front of the caller.
package callerror

import "fmt"

// Kinded is implemented by every error in this package. Message is the
// human-readable detail without the kind prefix; Error() adds it back for
// normal Go error-string consumers.
type Kinded interface {
	error
	Kind() string
	Message() string
}

// MissingConfiguration is returned when a required configuration value is
// absent at startup.
type MissingConfiguration struct {
	Key string
}

func (e *MissingConfiguration) Message() string { return e.Key }
func (e *MissingConfiguration) Kind() string    { return "MissingConfiguration" }
func (e *MissingConfiguration) Error() string    { return format(e) }

// ProviderError wraps a failure returned by the carrier or speech provider.
type ProviderError struct {
	Detail string
}

func (e *ProviderError) Message() string { return e.Detail }
func (e *ProviderError) Kind() string    { return "ProviderError" }
func (e *ProviderError) Error() string    { return format(e) }

// NetworkError wraps a transport-level failure talking to a provider.
type NetworkError struct {
	Detail string
}

func (e *NetworkError) Message() string { return e.Detail }
func (e *NetworkError) Kind() string    { return "NetworkError" }
func (e *NetworkError) Error() string    { return format(e) }

// CallNotFound is returned when a call-id does not resolve in the registry.
type CallNotFound struct {
	ID string
}

func (e *CallNotFound) Message() string { return e.ID }
func (e *CallNotFound) Kind() string    { return "CallNotFound" }
func (e *CallNotFound) Error() string    { return format(e) }

// CallTimeout is returned when a wait-for-state or wait-for-transcript
// deadline elapses.
type CallTimeout struct {
	Detail string
}

func (e *CallTimeout) Message() string { return e.Detail }
func (e *CallTimeout) Kind() string    { return "CallTimeout" }
func (e *CallTimeout) Error() string    { return format(e) }

// CallHungUp is returned when the call ends while an operation is pending.
type CallHungUp struct{}

func (e *CallHungUp) Message() string { return "" }
func (e *CallHungUp) Kind() string    { return "CallHungUp" }
func (e *CallHungUp) Error() string    { return format(e) }

// TranscriptionError wraps a failure reported by the speech service during
// transcription.
type TranscriptionError struct {
	Detail string
}

func (e *TranscriptionError) Message() string { return e.Detail }
func (e *TranscriptionError) Kind() string    { return "TranscriptionError" }
func (e *TranscriptionError) Error() string    { return format(e) }

// SynthesisError wraps a failure returned by the speech service during
// text-to-speech synthesis.
type SynthesisError struct {
	Detail string
}

func (e *SynthesisError) Message() string { return e.Detail }
func (e *SynthesisError) Kind() string    { return "SynthesisError" }
func (e *SynthesisError) Error() string    { return format(e) }

// WebhookSignatureInvalid is returned when strict-mode signature
// verification rejects an inbound webhook.
type WebhookSignatureInvalid struct{}

func (e *WebhookSignatureInvalid) Message() string { return "" }
func (e *WebhookSignatureInvalid) Kind() string    { return "WebhookSignatureInvalid" }
func (e *WebhookSignatureInvalid) Error() string    { return format(e) }

// AuthenticationFailed is returned when a request to a provider is rejected
// for credential reasons.
type AuthenticationFailed struct {
	Detail string
}

func (e *AuthenticationFailed) Message() string { return e.Detail }
func (e *AuthenticationFailed) Kind() string    { return "AuthenticationFailed" }
func (e *AuthenticationFailed) Error() string    { return format(e) }

// format renders the plain error() string: "<Kind>: <message>", or just
// "<Kind>" when there's no extra detail.
func format(e Kinded) string {
	if e.Message() == "" {
		return e.Kind()
	}
	return fmt.Sprintf("%s: %s", e.Kind(), e.Message())
}

// Format renders an error the way the tool surface presents it to the
// caller: "Error: <kind>: <detail>".
func Format(err error) string {
	if k, ok := err.(Kinded); ok {
		if k.Message() == "" {
			return fmt.Sprintf("Error: %s", k.Kind())
		}
		return fmt.Sprintf("Error: %s: %s", k.Kind(), k.Message())
	}
	return fmt.Sprintf("Error: %s", err.Error())
}
