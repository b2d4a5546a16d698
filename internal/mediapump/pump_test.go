package mediapump

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentplexus/callorchestrator/internal/audio"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

type fakeSink struct {
	mu     sync.Mutex
	chunks [][]byte
}

func (f *fakeSink) SendAudio(chunk []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	f.chunks = append(f.chunks, cp)
	return nil
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.chunks)
}

// dialPumpPair starts a server that upgrades to a websocket and hands the
// server-side conn to serverFn in a goroutine; returns the client-side conn.
func dialPumpPair(t *testing.T, serverFn func(*websocket.Conn)) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		serverFn(conn)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = clientConn.Close() })
	return clientConn
}

func TestSendUtteranceWritesFramesInOrder(t *testing.T) {
	var received [][]byte
	done := make(chan struct{})

	serverConn := dialPumpPair(t, func(conn *websocket.Conn) {
		go func() {
			defer close(done)
			for i := 0; i < 2; i++ {
				_, data, err := conn.ReadMessage()
				if err != nil {
					return
				}
				received = append(received, data)
			}
		}()
	})

	p := New(serverConn, nil, ControlCallbacks{}, zerolog.Nop())
	mulaw := make([]byte, audio.FrameSize*2) // two full frames
	for i := audio.FrameSize; i < len(mulaw); i++ {
		mulaw[i] = 0xFF // second frame distinguishable from the first
	}
	require.NoError(t, p.SendUtterance(mulaw, "MZ123"))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("server never received both frames")
	}

	require.Len(t, received, 2)
	for i, want := range []byte{0x00, 0xFF} {
		chunk, ok := audio.ExtractInboundAudio(injectInbound(received[i]))
		require.True(t, ok)
		assert.Len(t, chunk, audio.FrameSize)
		assert.Equal(t, want, chunk[0], "frame %d out of order", i)
	}
}

func injectInbound(msg []byte) []byte {
	var raw map[string]json.RawMessage
	_ = json.Unmarshal(msg, &raw)
	var media map[string]json.RawMessage
	_ = json.Unmarshal(raw["media"], &media)
	trackJSON, _ := json.Marshal("inbound")
	media["track"] = trackJSON
	mediaJSON, _ := json.Marshal(media)
	raw["media"] = mediaJSON
	out, _ := json.Marshal(raw)
	return out
}

func TestRunForwardsInboundAudioToSink(t *testing.T) {
	inboundFrame := audio.MakeMediaMessage([]byte{0xAA, 0xBB}, "")
	inboundFrame = injectInbound(inboundFrame)

	clientConn := dialPumpPair(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, inboundFrame)
		time.Sleep(50 * time.Millisecond)
		_ = conn.Close()
	})

	sink := &fakeSink{}
	p := New(clientConn, sink, ControlCallbacks{}, zerolog.Nop())
	p.Run()

	assert.Equal(t, 1, sink.count())
}

func TestRunDemultiplexesControlFrames(t *testing.T) {
	startFrame, _ := json.Marshal(controlMessage{Event: "start", StreamSid: "MZ999"})
	stopFrame, _ := json.Marshal(controlMessage{Event: "stop"})

	clientConn := dialPumpPair(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, startFrame)
		_ = conn.WriteMessage(websocket.TextMessage, stopFrame)
		time.Sleep(50 * time.Millisecond)
		_ = conn.Close()
	})

	var gotStreamSid string
	stopped := make(chan struct{}, 1)

	p := New(clientConn, nil, ControlCallbacks{
		OnStreamStart: func(streamSid string) { gotStreamSid = streamSid },
		OnStop:        func() { select { case stopped <- struct{}{}: default: } },
	}, zerolog.Nop())
	p.Run()

	assert.Equal(t, "MZ999", gotStreamSid)
	select {
	case <-stopped:
	default:
		t.Fatal("OnStop was never invoked")
	}
}
