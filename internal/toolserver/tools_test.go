package toolserver

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentplexus/callorchestrator/internal/callerror"
)

type fakeCaller struct {
	initiateCallID     string
	initiateTranscript string
	initiateErr        error

	continueTranscript string
	continueErr        error

	speakErr error

	endElapsed int
	endErr     error

	lastCallID  string
	lastMessage string
}

func (f *fakeCaller) Initiate(ctx context.Context, message string) (string, string, error) {
	f.lastMessage = message
	if f.initiateErr != nil {
		return "", "", f.initiateErr
	}
	return f.initiateCallID, f.initiateTranscript, nil
}

func (f *fakeCaller) Continue(ctx context.Context, callID, message string) (string, error) {
	f.lastCallID, f.lastMessage = callID, message
	if f.continueErr != nil {
		return "", f.continueErr
	}
	return f.continueTranscript, nil
}

func (f *fakeCaller) Speak(ctx context.Context, callID, message string) error {
	f.lastCallID, f.lastMessage = callID, message
	return f.speakErr
}

func (f *fakeCaller) End(ctx context.Context, callID, message string) (int, error) {
	f.lastCallID, f.lastMessage = callID, message
	if f.endErr != nil {
		return 0, f.endErr
	}
	return f.endElapsed, nil
}

func rawParams(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestInitiateCallToolFormatsSuccess(t *testing.T) {
	caller := &fakeCaller{initiateCallID: "call-1-100", initiateTranscript: "sure, what's up?"}
	tool := NewInitiateCallTool(caller)

	text, err := tool.Call(context.Background(), rawParams(t, map[string]string{"message": "hi there"}))
	require.NoError(t, err)
	assert.Equal(t, "Call initiated successfully.\n\nCall ID: call-1-100\n\nUser's response:\nsure, what's up?\n\nUse continue_call to ask follow-ups or end_call to hang up.", text)
	assert.Equal(t, "hi there", caller.lastMessage)
}

func TestInitiateCallToolPropagatesError(t *testing.T) {
	caller := &fakeCaller{initiateErr: &callerror.ProviderError{Detail: "one active call at a time"}}
	tool := NewInitiateCallTool(caller)

	_, err := tool.Call(context.Background(), rawParams(t, map[string]string{"message": "hi"}))
	var provErr *callerror.ProviderError
	assert.ErrorAs(t, err, &provErr)
}

func TestContinueCallToolFormatsSuccess(t *testing.T) {
	caller := &fakeCaller{continueTranscript: "yes, go ahead"}
	tool := NewContinueCallTool(caller)

	text, err := tool.Call(context.Background(), rawParams(t, map[string]string{"call_id": "call-1-100", "message": "anything else?"}))
	require.NoError(t, err)
	assert.Equal(t, "User's response:\nyes, go ahead", text)
	assert.Equal(t, "call-1-100", caller.lastCallID)
}

func TestSpeakToUserToolFormatsSuccess(t *testing.T) {
	caller := &fakeCaller{}
	tool := NewSpeakToUserTool(caller)

	text, err := tool.Call(context.Background(), rawParams(t, map[string]string{"call_id": "call-1-100", "message": "one moment please"}))
	require.NoError(t, err)
	assert.Equal(t, `Message spoken: "one moment please"`, text)
}

func TestEndCallToolFormatsSuccess(t *testing.T) {
	caller := &fakeCaller{endElapsed: 42}
	tool := NewEndCallTool(caller)

	text, err := tool.Call(context.Background(), rawParams(t, map[string]string{"call_id": "call-1-100", "message": "goodbye"}))
	require.NoError(t, err)
	assert.Equal(t, "Call ended. Duration: 42s", text)
}

func TestToolsRejectMalformedParams(t *testing.T) {
	caller := &fakeCaller{}
	tools := []ToolHandler{
		NewInitiateCallTool(caller),
		NewContinueCallTool(caller),
		NewSpeakToUserTool(caller),
		NewEndCallTool(caller),
	}
	for _, tool := range tools {
		_, err := tool.Call(context.Background(), json.RawMessage(`not json`))
		assert.Error(t, err)
	}
}
