// Package speech talks to the realtime speech service: a WebSocket session
// for streaming transcription (TranscriptionSession) and a one-shot REST
// endpoint for text-to-speech synthesis (Synthesizer).
package speech

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/agentplexus/callorchestrator/internal/callerror"
)

// TranscriptionSession streams mu-law audio to the speech service over a
// WebSocket and surfaces completed transcripts. Single writer, single
// in-flight waiter — a second concurrent WaitForTranscript is a programming
// error, not a runtime condition, and panics.
type TranscriptionSession struct {
	apiKey    string
	url       string
	silenceMS int
	log       zerolog.Logger

	conn      *websocket.Conn
	onPartial func(string)

	mu      sync.Mutex
	waiting bool
	resultC chan transcriptResult
}

type transcriptResult struct {
	text string
	err  error
}

// Config configures a TranscriptionSession.
type Config struct {
	APIKey    string
	URL       string // wss endpoint; defaults to the speech service realtime URL
	SilenceMS int
	Logger    zerolog.Logger
}

const defaultRealtimeURL = "wss://api.openai.com/v1/realtime"

// NewTranscriptionSession constructs a session that has not yet connected.
func NewTranscriptionSession(cfg Config) *TranscriptionSession {
	url := cfg.URL
	if url == "" {
		url = defaultRealtimeURL
	}
	silenceMS := cfg.SilenceMS
	if silenceMS == 0 {
		silenceMS = 800
	}
	return &TranscriptionSession{
		apiKey:    cfg.APIKey,
		url:       url,
		silenceMS: silenceMS,
		log:       cfg.Logger,
	}
}

type sessionUpdateMessage struct {
	Type    string         `json:"type"`
	Session sessionPayload `json:"session"`
}

type sessionPayload struct {
	InputAudioFormat        string             `json:"input_audio_format"`
	TurnDetection           turnDetection      `json:"turn_detection"`
	InputAudioTranscription transcriptionModel `json:"input_audio_transcription"`
}

type turnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMS   int     `json:"prefix_padding_ms"`
	SilenceDurationMS int     `json:"silence_duration_ms"`
}

type transcriptionModel struct {
	Model string `json:"model"`
}

type inboundMessage struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
	Error      struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Connect opens the WebSocket and sends the initial session.update.
func (s *TranscriptionSession) Connect(ctx context.Context) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.apiKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, header)
	if err != nil {
		return &callerror.NetworkError{Detail: err.Error()}
	}
	s.conn = conn

	update := sessionUpdateMessage{
		Type: "session.update",
		Session: sessionPayload{
			InputAudioFormat: "g711_ulaw",
			TurnDetection: turnDetection{
				Type:              "server_vad",
				Threshold:         0.5,
				PrefixPaddingMS:   300,
				SilenceDurationMS: s.silenceMS,
			},
			InputAudioTranscription: transcriptionModel{Model: "whisper-1"},
		},
	}
	if err := conn.WriteJSON(update); err != nil {
		return &callerror.NetworkError{Detail: err.Error()}
	}

	s.resultC = make(chan transcriptResult, 1)
	go s.readLoop()
	return nil
}

func (s *TranscriptionSession) readLoop() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.deliver(transcriptResult{err: &callerror.CallHungUp{}})
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "conversation.item.input_audio_transcription.completed":
			s.deliver(transcriptResult{text: msg.Transcript})
		case "conversation.item.input_audio_transcription.failed":
			s.deliver(transcriptResult{err: &callerror.TranscriptionError{Detail: msg.Error.Message}})
		case "input_audio_buffer.speech_started", "input_audio_buffer.speech_stopped":
			if s.onPartial != nil {
				s.onPartial("")
			}
		}
	}
}

// deliver hands a result to WaitForTranscript through a one-slot buffer: a
// result that arrives before anyone waits is kept for the next call, and a
// result that arrives while the slot is already full is dropped.
func (s *TranscriptionSession) deliver(r transcriptResult) {
	select {
	case s.resultC <- r:
	default:
	}
}

// SendAudio writes a mu-law chunk to the speech service as an
// input_audio_buffer.append event.
func (s *TranscriptionSession) SendAudio(chunk []byte) error {
	msg := map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": base64.StdEncoding.EncodeToString(chunk),
	}
	if err := s.conn.WriteJSON(msg); err != nil {
		return &callerror.NetworkError{Detail: err.Error()}
	}
	return nil
}

// OnPartial registers a callback invoked on speech-boundary markers. Not
// safe to call concurrently with Connect.
func (s *TranscriptionSession) OnPartial(fn func(string)) {
	s.onPartial = fn
}

// WaitForTranscript blocks until the next completed transcript, the
// timeout elapses, or the call hangs up. Calling this a second time before
// the first resolves is a programming error and panics.
func (s *TranscriptionSession) WaitForTranscript(ctx context.Context, timeout time.Duration) (string, error) {
	s.mu.Lock()
	if s.waiting {
		s.mu.Unlock()
		panic("speech: concurrent WaitForTranscript calls on the same session")
	}
	s.waiting = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.waiting = false
		s.mu.Unlock()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-s.resultC:
		return r.text, r.err
	case <-timer.C:
		return "", &callerror.CallTimeout{Detail: fmt.Sprintf("no transcript within %s", timeout)}
	case <-ctx.Done():
		return "", &callerror.CallTimeout{Detail: ctx.Err().Error()}
	}
}

// Close closes the underlying WebSocket.
func (s *TranscriptionSession) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
