// Package orchestrator drives the per-call state machine: it coordinates
// the carrier driver, the speech service, the media pump, and the call
// registry behind four operations an agent-facing tool surface can call
// as if they were synchronous.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/agentplexus/callorchestrator/internal/audio"
	"github.com/agentplexus/callorchestrator/internal/callerror"
	"github.com/agentplexus/callorchestrator/internal/carrier"
	"github.com/agentplexus/callorchestrator/internal/config"
	"github.com/agentplexus/callorchestrator/internal/mediapump"
	"github.com/agentplexus/callorchestrator/internal/registry"
)

// Phase is one state in the per-call lifecycle.
type Phase int

const (
	PhaseCreating Phase = iota
	PhaseDialing
	PhaseStreaming
	PhaseIdle
	PhaseSpeaking
	PhaseListening
	PhaseClosing
	PhaseClosed
)

const (
	connectDeadline = 15 * time.Second
	connectPoll     = 50 * time.Millisecond
	hangupTailFlush = 2 * time.Second
)

// Transcriber is the subset of *speech.TranscriptionSession the
// orchestrator depends on; narrowed to an interface so tests can supply a
// fake without a real WebSocket.
type Transcriber interface {
	Connect(ctx context.Context) error
	SendAudio(chunk []byte) error
	OnPartial(fn func(string))
	WaitForTranscript(ctx context.Context, timeout time.Duration) (string, error)
	Close() error
}

// Synthesizer is the subset of *speech.Synthesizer the orchestrator
// depends on.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// TranscriberFactory builds a fresh Transcriber for a new call; the
// orchestrator opens exactly one per Initiate.
type TranscriberFactory func() Transcriber

// callState is the orchestrator-private bookkeeping for the single
// in-flight call. One exists at a time, matching the registry's
// single-active-call invariant.
type callState struct {
	callID string

	mu    sync.Mutex
	phase Phase

	turnMu sync.Mutex

	transcriber Transcriber
	pump        *mediapump.Pump
	conn        *websocket.Conn

	channelBoundC chan *websocket.Conn

	hangupOnce sync.Once
	hangupC    chan struct{}
}

func (cs *callState) setPhase(p Phase) {
	cs.mu.Lock()
	cs.phase = p
	cs.mu.Unlock()
}

func (cs *callState) getPhase() Phase {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.phase
}

func (cs *callState) signalHangup() {
	cs.hangupOnce.Do(func() { close(cs.hangupC) })
}

// Orchestrator is the call state machine (C8). Zero value is not usable;
// use New.
type Orchestrator struct {
	mu      sync.Mutex
	current *callState

	reg            *registry.Registry
	driver         carrier.Driver
	synth          Synthesizer
	newTranscriber TranscriberFactory
	cfg            *config.Config
	log            zerolog.Logger
}

// New builds an Orchestrator wired to its collaborators.
func New(cfg *config.Config, reg *registry.Registry, driver carrier.Driver, synth Synthesizer, newTranscriber TranscriberFactory, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		reg:            reg,
		driver:         driver,
		synth:          synth,
		newTranscriber: newTranscriber,
		cfg:            cfg,
		log:            log,
	}
}

func (o *Orchestrator) stateFor(callID string) (*callState, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == nil || o.current.callID != callID {
		return nil, &callerror.CallNotFound{ID: callID}
	}
	return o.current, nil
}

// BindChannel implements server.MediaStreamHandler: it hands a freshly
// upgraded media-stream connection to the call whose ChannelToken matches.
func (o *Orchestrator) BindChannel(token string, conn *websocket.Conn) {
	rec, ok := o.reg.GetByChannel(token)
	if !ok {
		o.log.Warn().Str("token", token).Msg("media-stream connected with unknown channel token")
		_ = conn.Close()
		return
	}

	cs, err := o.stateFor(rec.CallID)
	if err != nil {
		_ = conn.Close()
		return
	}

	select {
	case cs.channelBoundC <- conn:
	default:
		o.log.Warn().Str("call_id", rec.CallID).Msg("media-stream channel already bound")
		_ = conn.Close()
	}
}

// Initiate places a new outbound call, waits for the media stream and
// carrier-ready signals, speaks msg, and waits for the user's reply.
func (o *Orchestrator) Initiate(ctx context.Context, message string) (callID string, transcript string, err error) {
	o.mu.Lock()
	if o.current != nil {
		o.mu.Unlock()
		return "", "", &callerror.ProviderError{Detail: "one active call at a time"}
	}
	o.mu.Unlock()

	callID = o.reg.NewCallID()
	channelToken := uuid.NewString()

	rec := &registry.CallRecord{
		CallID:       callID,
		UserNumber:   o.cfg.UserNumber,
		StartTime:    time.Now(),
		ChannelToken: channelToken,
	}
	if err := o.reg.Create(rec); err != nil {
		return "", "", err
	}

	cs := &callState{
		callID:        callID,
		phase:         PhaseCreating,
		channelBoundC: make(chan *websocket.Conn, 1),
		hangupC:       make(chan struct{}),
	}

	o.mu.Lock()
	o.current = cs
	o.mu.Unlock()

	cleanup := func() {
		o.mu.Lock()
		if o.current == cs {
			o.current = nil
		}
		o.mu.Unlock()
		if cs.conn != nil {
			_ = cs.conn.Close()
		}
		o.reg.Remove(callID)
	}

	transcriber := o.newTranscriber()
	if err := transcriber.Connect(ctx); err != nil {
		cleanup()
		return "", "", err
	}
	cs.transcriber = transcriber

	webhookURL := o.cfg.PublicURL() + "/twiml"
	carrierCallID, err := o.driver.Initiate(ctx, o.cfg.UserNumber, o.cfg.CarrierCallerID, webhookURL)
	if err != nil {
		_ = transcriber.Close()
		cleanup()
		return "", "", err
	}
	o.reg.BindCarrierID(callID, carrierCallID)
	cs.setPhase(PhaseDialing)

	if err := o.awaitConnected(ctx, cs, callID, transcriber); err != nil {
		_ = transcriber.Close()
		cleanup()
		return "", "", err
	}

	cs.setPhase(PhaseStreaming)
	cs.setPhase(PhaseIdle)

	if err := o.Speak(ctx, callID, message); err != nil {
		_ = transcriber.Close()
		cleanup()
		return "", "", err
	}
	transcript, err = o.listen(ctx, cs, callID)
	if err != nil {
		_ = transcriber.Close()
		cleanup()
		return "", "", err
	}
	return callID, transcript, nil
}

// awaitConnected blocks until the media-stream channel has bound and the
// carrier has reported a stream-ready state, polling the registry as
// webhook-driven updates land. The pump is started as soon as the channel
// binds, not after readiness, since readiness for carriers that never send
// a streaming-started webhook event (e.g. Twilio) can only be observed by
// reading the bound connection's own "start" control frame. Returns
// CallTimeout past the 15s deadline.
func (o *Orchestrator) awaitConnected(ctx context.Context, cs *callState, callID string, transcriber Transcriber) error {
	deadline := time.After(connectDeadline)
	ticker := time.NewTicker(connectPoll)
	defer ticker.Stop()

	for {
		if cs.pump != nil {
			if rec, err := o.reg.Get(callID); err == nil && (rec.StreamSid != "" || rec.StreamingReady) {
				return nil
			}
		}
		select {
		case conn := <-cs.channelBoundC:
			cs.conn = conn
			cs.pump = mediapump.New(conn, transcriber, mediapump.ControlCallbacks{
				OnStreamStart: func(streamSid string) {
					_ = o.reg.Mutate(callID, func(r *registry.CallRecord) { r.StreamSid = streamSid })
				},
				OnStop: func() {
					_ = o.reg.Mutate(callID, func(r *registry.CallRecord) { r.HungUp = true })
					cs.signalHangup()
				},
			}, o.log)
			go cs.pump.Run()
		case <-ticker.C:
		case <-deadline:
			return &callerror.CallTimeout{Detail: "timed out waiting for media stream connection"}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Continue speaks msg on an already-connected call and waits for the next
// reply.
func (o *Orchestrator) Continue(ctx context.Context, callID, message string) (string, error) {
	cs, err := o.stateFor(callID)
	if err != nil {
		return "", err
	}
	rec, err := o.reg.Get(callID)
	if err != nil {
		return "", err
	}
	if rec.HungUp {
		return "", &callerror.CallHungUp{}
	}

	if err := o.Speak(ctx, callID, message); err != nil {
		return "", err
	}
	return o.listen(ctx, cs, callID)
}

// Speak synthesizes msg, resamples and encodes it, and plays it out over
// the call's media pump.
func (o *Orchestrator) Speak(ctx context.Context, callID, message string) error {
	cs, err := o.stateFor(callID)
	if err != nil {
		return err
	}

	cs.turnMu.Lock()
	defer cs.turnMu.Unlock()
	cs.setPhase(PhaseSpeaking)
	defer cs.setPhase(PhaseIdle)

	pcm24k, err := o.synth.Synthesize(ctx, message)
	if err != nil {
		return err
	}
	pcm8k := audio.Resample24kTo8k(pcm24k)
	mulaw := audio.PCM16ToMulaw(pcm8k)

	rec, err := o.reg.Get(callID)
	if err != nil {
		return err
	}

	if err := cs.pump.SendUtterance(mulaw, rec.StreamSid); err != nil {
		return err
	}

	_ = o.reg.Mutate(callID, func(r *registry.CallRecord) {
		r.Transcript = append(r.Transcript, registry.TranscriptEntry{Speaker: "agent", Text: message})
	})
	return nil
}

// listen waits for the user's next transcript, failing fast with
// CallHungUp if the call ends while waiting: the media stream stops or
// closes, or a webhook marks the CallRecord hung up.
func (o *Orchestrator) listen(ctx context.Context, cs *callState, callID string) (string, error) {
	cs.turnMu.Lock()
	defer cs.turnMu.Unlock()
	cs.setPhase(PhaseListening)
	defer cs.setPhase(PhaseIdle)

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		text string
		err  error
	}
	resC := make(chan result, 1)
	go func() {
		text, err := cs.transcriber.WaitForTranscript(waitCtx, time.Duration(o.cfg.TranscriptTimeoutMS)*time.Millisecond)
		resC <- result{text, err}
	}()

	ticker := time.NewTicker(connectPoll)
	defer ticker.Stop()

	for {
		select {
		case r := <-resC:
			if r.err == nil {
				_ = o.reg.Mutate(callID, func(rec *registry.CallRecord) {
					rec.Transcript = append(rec.Transcript, registry.TranscriptEntry{Speaker: "user", Text: r.text})
				})
			}
			return r.text, r.err
		case <-cs.hangupC:
			cancel()
			return "", &callerror.CallHungUp{}
		case <-ticker.C:
			hungUp := false
			_ = o.reg.Mutate(callID, func(rec *registry.CallRecord) { hungUp = rec.HungUp })
			if hungUp {
				cancel()
				return "", &callerror.CallHungUp{}
			}
		}
	}
}

// End speaks a closing line, waits for the tail audio to flush, hangs up
// with the carrier, and tears down the call's resources. Returns the
// call's total duration in seconds.
func (o *Orchestrator) End(ctx context.Context, callID, message string) (int, error) {
	cs, err := o.stateFor(callID)
	if err != nil {
		return 0, err
	}
	rec, err := o.reg.Get(callID)
	if err != nil {
		return 0, err
	}

	if message != "" {
		_ = o.Speak(ctx, callID, message)
	}
	time.Sleep(hangupTailFlush)

	cs.setPhase(PhaseClosing)
	if rec.CarrierCallID != "" {
		if err := o.driver.Hangup(ctx, rec.CarrierCallID); err != nil {
			o.log.Warn().Err(err).Str("call_id", callID).Msg("carrier hangup failed")
		}
	}
	if cs.transcriber != nil {
		_ = cs.transcriber.Close()
	}
	if cs.conn != nil {
		_ = cs.conn.Close()
	}

	elapsed := int(time.Since(rec.StartTime).Seconds())

	o.mu.Lock()
	if o.current == cs {
		o.current = nil
	}
	o.mu.Unlock()
	o.reg.Remove(callID)
	cs.setPhase(PhaseClosed)

	return elapsed, nil
}
