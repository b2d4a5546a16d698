package twilio

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/agentplexus/callorchestrator/internal/callerror"
	"github.com/agentplexus/callorchestrator/internal/carrier"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(authToken, fullURL string, body []byte) string {
	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(fullURL))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestVerifySignatureAcceptsValid(t *testing.T) {
	d, err := New(Config{AccountSID: "AC1", AuthToken: "secret"})
	require.NoError(t, err)

	sig := sign("secret", "https://example.com/twiml", nil)
	assert.True(t, d.VerifySignature(sig, "https://example.com/twiml", nil))
}

func TestVerifySignatureRejectsTamperedBody(t *testing.T) {
	d, err := New(Config{AccountSID: "AC1", AuthToken: "secret"})
	require.NoError(t, err)

	sig := sign("secret", "https://example.com/twiml", []byte("CallStatus=completed"))
	assert.False(t, d.VerifySignature(sig, "https://example.com/twiml", []byte("CallStatus=ringing")))
}

func TestVerifySignatureRejectsEmptyHeader(t *testing.T) {
	d, err := New(Config{AccountSID: "AC1", AuthToken: "secret"})
	require.NoError(t, err)
	assert.False(t, d.VerifySignature("", "https://example.com/twiml", nil))
}

func TestParseWebhookMapsCallStatus(t *testing.T) {
	d, err := New(Config{AccountSID: "AC1", AuthToken: "secret"})
	require.NoError(t, err)

	cases := map[string]carrier.EventKind{
		"ringing":     carrier.EventCallAnswered,
		"in-progress": carrier.EventCallAnswered,
		"completed":   carrier.EventCallHungUp,
		"busy":        carrier.EventCallBusy,
		"no-answer":   carrier.EventCallNoAnswer,
		"failed":      carrier.EventCallFailed,
		"queued":      carrier.EventUnknown,
	}

	for status, want := range cases {
		form := url.Values{"CallStatus": {status}, "CallSid": {"CA123"}}
		event := d.ParseWebhook(form, nil, "application/x-www-form-urlencoded")
		assert.Equal(t, want, event.Kind, "status %s", status)
		assert.Equal(t, "CA123", event.CarrierCallID)
	}
}

func TestStreamConnectResponseEmbedsURL(t *testing.T) {
	d, err := New(Config{AccountSID: "AC1", AuthToken: "secret"})
	require.NoError(t, err)

	doc := d.StreamConnectResponse("wss://example.com/media-stream?token=abc")
	assert.Contains(t, string(doc), `<Connect><Stream url="wss://example.com/media-stream?token=abc"/></Connect>`)
	assert.Contains(t, string(doc), `<Pause length="60"/>`)
}

func TestStartStreamingIsNoOp(t *testing.T) {
	d, err := New(Config{AccountSID: "AC1", AuthToken: "secret"})
	require.NoError(t, err)
	assert.NoError(t, d.StartStreaming(context.Background(), "CA123", "wss://example.com"))
}

func TestInitiateReturnsCallSID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "+15551234567", r.FormValue("To"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sid":"CA999","status":"queued"}`))
	}))
	defer srv.Close()

	d, err := New(Config{AccountSID: "AC1", AuthToken: "secret", BaseURL: srv.URL})
	require.NoError(t, err)

	sid, err := d.Initiate(context.Background(), "+15551234567", "+15557654321", "https://example.com/twiml")
	require.NoError(t, err)
	assert.Equal(t, "CA999", sid)
}

func TestInitiateSurfacesProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":21212,"message":"invalid from number"}`))
	}))
	defer srv.Close()

	d, err := New(Config{AccountSID: "AC1", AuthToken: "secret", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = d.Initiate(context.Background(), "+1", "+2", "https://example.com/twiml")
	require.Error(t, err)
	var provErr *callerror.ProviderError
	assert.ErrorAs(t, err, &provErr)
}

func TestInitiateSurfacesAuthenticationFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	d, err := New(Config{AccountSID: "AC1", AuthToken: "wrong", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = d.Initiate(context.Background(), "+1", "+2", "https://example.com/twiml")
	var authErr *callerror.AuthenticationFailed
	assert.ErrorAs(t, err, &authErr)
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(Config{})
	var missing *callerror.MissingConfiguration
	assert.ErrorAs(t, err, &missing)
}
