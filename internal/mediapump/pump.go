// Package mediapump shuttles audio between a carrier WebSocket and a
// transcription session: it paces outbound mu-law frames to the carrier
// and demultiplexes inbound carrier frames into audio vs. control messages.
package mediapump

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/agentplexus/callorchestrator/internal/audio"
	"github.com/agentplexus/callorchestrator/internal/callerror"
)

const (
	interFrameDelay = 18 * time.Millisecond
	flushTail       = 200 * time.Millisecond
)

// AudioSink receives inbound mu-law audio extracted from the carrier
// WebSocket, forwarding it to the transcription session.
type AudioSink interface {
	SendAudio(chunk []byte) error
}

// ControlCallbacks are invoked as the pump demultiplexes carrier control
// frames. Any may be nil.
type ControlCallbacks struct {
	OnStreamStart func(streamSid string)
	OnStop        func()
}

// Pump is a per-call bidirectional audio shuttle, one instance per active
// call.
type Pump struct {
	conn *websocket.Conn
	sink AudioSink
	cb   ControlCallbacks
	log  zerolog.Logger
}

// New constructs a Pump bound to an already-upgraded carrier WebSocket
// connection.
func New(conn *websocket.Conn, sink AudioSink, cb ControlCallbacks, log zerolog.Logger) *Pump {
	return &Pump{conn: conn, sink: sink, cb: cb, log: log}
}

// SendUtterance splits a full mu-law buffer into 160-byte frames, writes
// each as a carrier media message, and paces them 18ms apart. It sleeps an
// additional 200ms after the last frame to let the carrier flush. Only one
// utterance may be outstanding at a time; callers enforce that via the
// orchestrator's Speak/Listen mutual exclusion.
func (p *Pump) SendUtterance(mulaw []byte, streamSid string) error {
	frames := audio.SplitFrames(mulaw)
	for i, frame := range frames {
		msg := audio.MakeMediaMessage(frame, streamSid)
		if err := p.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return &callerror.NetworkError{Detail: err.Error()}
		}
		if i < len(frames)-1 {
			time.Sleep(interFrameDelay)
		}
	}
	time.Sleep(flushTail)
	return nil
}

type controlMessage struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
}

// Run reads carrier WebSocket frames until the connection closes or an
// unrecoverable read error occurs. Inbound audio frames are forwarded to
// the sink; control frames invoke the matching callback. Run blocks and is
// intended to be launched in its own goroutine; it returns when the
// connection closes.
func (p *Pump) Run() {
	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if p.cb.OnStop != nil {
				p.cb.OnStop()
			}
			return
		}

		if chunk, ok := audio.ExtractInboundAudio(data); ok {
			if p.sink != nil {
				if err := p.sink.SendAudio(chunk); err != nil {
					p.log.Warn().Err(err).Msg("forwarding inbound audio to transcription session failed")
				}
			}
			continue
		}

		var ctrl controlMessage
		if err := json.Unmarshal(data, &ctrl); err != nil {
			continue
		}
		switch ctrl.Event {
		case "start":
			if p.cb.OnStreamStart != nil {
				p.cb.OnStreamStart(ctrl.StreamSid)
			}
		case "stop":
			if p.cb.OnStop != nil {
				p.cb.OnStop()
			}
		case "connected", "mark":
			// observed, no state change required.
		}
	}
}
