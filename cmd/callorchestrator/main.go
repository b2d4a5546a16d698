// Command callorchestrator runs the voice-call orchestrator: an HTTP
// server accepting carrier webhooks and media-stream WebSocket upgrades,
// plus a stdio JSON-RPC tool loop an agent runtime can drive.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/agentplexus/callorchestrator/internal/callerror"
	"github.com/agentplexus/callorchestrator/internal/carrier"
	"github.com/agentplexus/callorchestrator/internal/carrier/telnyx"
	"github.com/agentplexus/callorchestrator/internal/carrier/twilio"
	"github.com/agentplexus/callorchestrator/internal/config"
	"github.com/agentplexus/callorchestrator/internal/orchestrator"
	"github.com/agentplexus/callorchestrator/internal/registry"
	"github.com/agentplexus/callorchestrator/internal/server"
	"github.com/agentplexus/callorchestrator/internal/speech"
	"github.com/agentplexus/callorchestrator/internal/toolserver"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("invalid log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.PublicURL() == "" {
		cfg.SetPublicURL("http://localhost:" + cfg.Port)
	}

	log.Info().
		Str("provider", string(cfg.CallProvider)).
		Str("port", cfg.Port).
		Str("log_level", cfg.LogLevel).
		Msg("starting call orchestrator")

	driver, err := newCarrierDriver(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct carrier driver")
	}

	synth, err := speech.NewSynthesizer(speech.SynthesizerConfig{
		APIKey: cfg.SpeechAPIKey,
		Voice:  cfg.TTSVoice,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct synthesizer")
	}

	reg := registry.New()

	newTranscriber := func() orchestrator.Transcriber {
		return speech.NewTranscriptionSession(speech.Config{
			APIKey:    cfg.SpeechAPIKey,
			SilenceMS: cfg.STTSilenceMS,
			Logger:    log.Logger,
		})
	}

	orch := orchestrator.New(cfg, reg, driver, synth, newTranscriber, log.Logger)

	httpSrv := server.New(cfg, reg, driver, log.Logger, orch.BindChannel)
	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      httpSrv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Msgf("webhook/media server listening on :%s", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start http server")
		}
	}()

	tools := []toolserver.ToolHandler{
		toolserver.NewInitiateCallTool(orch),
		toolserver.NewContinueCallTool(orch),
		toolserver.NewSpeakToUserTool(orch),
		toolserver.NewEndCallTool(orch),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serveErrC := make(chan error, 1)
	go func() {
		serveErrC <- toolserver.Serve(ctx, tools, os.Stdin, os.Stdout, log.Logger)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info().Msg("shutting down on signal")
	case err := <-serveErrC:
		if err != nil {
			log.Warn().Err(err).Msg("tool stdio loop exited with error")
		} else {
			log.Info().Msg("tool stdio loop closed, shutting down")
		}
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("call orchestrator stopped")
}

// newCarrierDriver constructs the carrier.Driver variant selected by
// CALL_PROVIDER.
func newCarrierDriver(cfg *config.Config) (carrier.Driver, error) {
	switch cfg.CallProvider {
	case config.ProviderTwilio:
		return twilio.New(twilio.Config{
			AccountSID: cfg.CarrierAccountID,
			AuthToken:  cfg.CarrierSecret,
		})
	case config.ProviderTelnyx:
		return telnyx.New(telnyx.Config{
			APIKey:       cfg.CarrierSecret,
			ConnectionID: cfg.CarrierAccountID,
		})
	default:
		return nil, &callerror.MissingConfiguration{Key: "CALL_PROVIDER"}
	}
}
