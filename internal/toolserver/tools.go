package toolserver

import (
	"context"
	"encoding/json"
	"fmt"
)

// caller is the subset of *orchestrator.Orchestrator the tool adapters
// depend on, narrowed to an interface so tests can supply a fake.
type caller interface {
	Initiate(ctx context.Context, message string) (callID string, transcript string, err error)
	Continue(ctx context.Context, callID, message string) (string, error)
	Speak(ctx context.Context, callID, message string) error
	End(ctx context.Context, callID, message string) (int, error)
}

// InitiateCallTool places a new outbound call, speaks the opening
// message, and returns the user's first reply.
type InitiateCallTool struct {
	orch caller
}

func NewInitiateCallTool(orch caller) *InitiateCallTool { return &InitiateCallTool{orch: orch} }

func (t *InitiateCallTool) Name() string { return "initiate_call" }

func (t *InitiateCallTool) Call(ctx context.Context, params json.RawMessage) (string, error) {
	var args struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return "", fmt.Errorf("invalid initiate_call arguments: %w", err)
	}

	callID, transcript, err := t.orch.Initiate(ctx, args.Message)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(
		"Call initiated successfully.\n\nCall ID: %s\n\nUser's response:\n%s\n\nUse continue_call to ask follow-ups or end_call to hang up.",
		callID, transcript,
	), nil
}

// ContinueCallTool speaks a follow-up message on an active call and
// returns the user's next reply.
type ContinueCallTool struct {
	orch caller
}

func NewContinueCallTool(orch caller) *ContinueCallTool { return &ContinueCallTool{orch: orch} }

func (t *ContinueCallTool) Name() string { return "continue_call" }

func (t *ContinueCallTool) Call(ctx context.Context, params json.RawMessage) (string, error) {
	var args struct {
		CallID  string `json:"call_id"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return "", fmt.Errorf("invalid continue_call arguments: %w", err)
	}

	transcript, err := t.orch.Continue(ctx, args.CallID, args.Message)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("User's response:\n%s", transcript), nil
}

// SpeakToUserTool plays a message on an active call without waiting for a
// reply.
type SpeakToUserTool struct {
	orch caller
}

func NewSpeakToUserTool(orch caller) *SpeakToUserTool { return &SpeakToUserTool{orch: orch} }

func (t *SpeakToUserTool) Name() string { return "speak_to_user" }

func (t *SpeakToUserTool) Call(ctx context.Context, params json.RawMessage) (string, error) {
	var args struct {
		CallID  string `json:"call_id"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return "", fmt.Errorf("invalid speak_to_user arguments: %w", err)
	}

	if err := t.orch.Speak(ctx, args.CallID, args.Message); err != nil {
		return "", err
	}
	return fmt.Sprintf("Message spoken: %q", args.Message), nil
}

// EndCallTool speaks a closing message, hangs up, and tears down the
// call.
type EndCallTool struct {
	orch caller
}

func NewEndCallTool(orch caller) *EndCallTool { return &EndCallTool{orch: orch} }

func (t *EndCallTool) Name() string { return "end_call" }

func (t *EndCallTool) Call(ctx context.Context, params json.RawMessage) (string, error) {
	var args struct {
		CallID  string `json:"call_id"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return "", fmt.Errorf("invalid end_call arguments: %w", err)
	}

	elapsed, err := t.orch.End(ctx, args.CallID, args.Message)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Call ended. Duration: %ds", elapsed), nil
}
