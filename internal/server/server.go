// Package server exposes the HTTP/WebSocket surface a carrier talks to: a
// health check, the webhook endpoint that returns stream-connect
// instructions, and the media-stream WebSocket upgrade.
package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/agentplexus/callorchestrator/internal/carrier"
	"github.com/agentplexus/callorchestrator/internal/config"
	"github.com/agentplexus/callorchestrator/internal/registry"
)

const (
	twilioSignatureHeader = "x-twilio-signature"
	telnyxSignatureHeader = "telnyx-signature-ed25519"
)

// MediaStreamHandler is invoked once a media-stream WebSocket has been
// upgraded and its channel token validated. The orchestrator implements
// this to bind the connection to a running call.
type MediaStreamHandler func(token string, conn *websocket.Conn)

// Server is the webhook/media HTTP surface (C7). Zero value is not usable;
// use New.
type Server struct {
	router   chi.Router
	reg      *registry.Registry
	driver   carrier.Driver
	cfg      *config.Config
	log      zerolog.Logger
	upgrader websocket.Upgrader
	onMedia  MediaStreamHandler
}

// New builds a Server wired to the given registry and carrier driver.
// onMedia is called after every successfully-upgraded media-stream
// connection.
func New(cfg *config.Config, reg *registry.Registry, driver carrier.Driver, log zerolog.Logger, onMedia MediaStreamHandler) *Server {
	s := &Server{
		reg:     reg,
		driver:  driver,
		cfg:     cfg,
		log:     log,
		onMedia: onMedia,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Post("/twiml", s.handleTwiML)
	r.Get("/media-stream", s.handleMediaStream)

	s.router = r
	return s
}

// Router returns the underlying chi router, for mounting into an
// http.Server.
func (s *Server) Router() chi.Router {
	return s.router
}

type healthResponse struct {
	Status      string `json:"status"`
	ActiveCalls int    `json:"activeCalls"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(healthResponse{Status: "ok", ActiveCalls: s.reg.ActiveCount()})
}

func (s *Server) signatureHeader() string {
	if s.cfg.CallProvider == config.ProviderTelnyx {
		return telnyxSignatureHeader
	}
	return twilioSignatureHeader
}

func (s *Server) handleTwiML(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	contentType := r.Header.Get("Content-Type")

	var form url.Values
	if strings.Contains(contentType, "form-urlencoded") {
		form, _ = url.ParseQuery(string(body))
	}

	headerSig := r.Header.Get(s.signatureHeader())
	fullURL := s.cfg.PublicURL() + "/twiml"

	if !s.driver.VerifySignature(headerSig, fullURL, body) {
		if s.cfg.StrictSignatures {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		s.log.Warn().Msg("webhook signature verification failed; continuing because STRICT_SIGNATURES=false")
	}

	event := s.driver.ParseWebhook(form, body, contentType)

	var rec *registry.CallRecord
	if event.CarrierCallID != "" {
		rec, _ = s.reg.GetByCarrierID(event.CarrierCallID)
	}

	switch event.Kind {
	case carrier.EventCallHungUp, carrier.EventCallBusy, carrier.EventCallNoAnswer, carrier.EventCallFailed:
		s.reg.MutateByCarrierID(event.CarrierCallID, func(r *registry.CallRecord) {
			r.HungUp = true
		})
	case carrier.EventStreamingStarted:
		if rec != nil {
			s.reg.MutateByCarrierID(event.CarrierCallID, func(r *registry.CallRecord) {
				r.StreamingReady = true
			})
			wsURL := s.mediaStreamURL(rec.ChannelToken)
			if err := s.driver.StartStreaming(r.Context(), event.CarrierCallID, wsURL); err != nil {
				s.log.Warn().Err(err).Str("call_id", rec.CallID).Msg("StartStreaming failed")
			}
		}
	}

	wsURL := ""
	if rec != nil {
		wsURL = s.mediaStreamURL(rec.ChannelToken)
	}

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(s.driver.StreamConnectResponse(wsURL))
}

// mediaStreamURL builds the wss:// (or ws://) URL the carrier should open
// its media stream against, binding it to the given channel token.
func (s *Server) mediaStreamURL(token string) string {
	base := s.cfg.PublicURL()
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/media-stream?token=" + url.QueryEscape(token)
}

func (s *Server) handleMediaStream(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("media-stream websocket upgrade failed")
		return
	}

	if s.onMedia != nil {
		s.onMedia(token, conn)
	}
}
