package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tansive/chatrelay/internal/common/logtrace"
	"github.com/tansive/chatrelay/internal/relay/chat"
	"github.com/tansive/chatrelay/internal/relay/config"
	"github.com/tansive/chatrelay/internal/relay/ollama"
	"github.com/tansive/chatrelay/internal/relay/server"
	"github.com/tansive/chatrelay/internal/relay/store"
)

func init() {
	logtrace.InitLogger("info")
}

type cmdoptions struct {
	configFile string
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		log.Error().Err(err).Msg("server failed")
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	opt := parseFlags()

	if err := config.LoadConfig(opt.configFile); err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg := config.Config()
	logtrace.InitLogger(cfg.LogLevel)

	slog := log.With().Str("state", "init").Logger()
	slog.Info().
		Str("config_file", opt.configFile).
		Str("model", cfg.Ollama.Model).
		Str("ollama", cfg.Ollama.BaseURL).
		Str("store", cfg.Store.Backend).
		Msg("configuration loaded")

	st, err := store.New(ctx, &cfg.Store)
	if err != nil {
		return fmt.Errorf("creating %s store: %w", cfg.Store.Backend, err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Error().Err(err).Msg("closing store")
		}
	}()

	generationTimeout, err := cfg.Ollama.GetRequestTimeout()
	if err != nil {
		return fmt.Errorf("invalid ollama request timeout: %w", err)
	}
	client := ollama.New(cfg.Ollama.BaseURL, cfg.Ollama.Model, ollama.WithStreamDefault(cfg.Ollama.Stream))
	relay := chat.New(st, chat.FromClient(client), chat.Options{
		CommitAttempts:    cfg.Relay.CommitAttempts,
		SerializeTurns:    cfg.Relay.SerializeTurns,
		GenerationTimeout: generationTimeout,
	})

	serverErrors, shutdownServer, err := createRelayServer(ctx, relay)
	if err != nil {
		return fmt.Errorf("creating relay server: %w", err)
	}

	// Channel to listen for an interrupt or terminate signal from the OS.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		slog.Info().Str("signal", sig.String()).Msg("shutdown signal received")
		shutdownServer()
	}

	slog.Info().Msg("server stopped")
	return nil
}

func createRelayServer(ctx context.Context, relay *chat.Relay) (chan error, func(), error) {
	slog := log.With().Str("state", "init").Logger()
	s, err := server.CreateNewServer(relay)
	if err != nil {
		return nil, nil, fmt.Errorf("creating server: %w", err)
	}
	s.MountHandlers()

	srv := &http.Server{
		Addr:              config.Config().ServerHostName + ":" + config.Config().ServerPort,
		Handler:           s.Router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErrors := make(chan error, 1)

	go func() {
		slog.Info().Str("url", config.Config().GetURL()).Msg("server started")
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := func() {
		// Give outstanding requests 5 seconds to complete and initiate the shutdown.
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error().Err(err).Msg("could not stop server gracefully")
			if err := srv.Close(); err != nil {
				slog.Error().Err(err).Msg("could not stop server")
			}
		}
	}

	return serverErrors, shutdown, nil
}

func parseFlags() cmdoptions {
	var opt cmdoptions
	flag.StringVar(&opt.configFile, "config", "", "Path to the config file (optional, defaults and environment are used without one)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [options]\n\n", os.Args[0])
		fmt.Println("Options:")
		flag.PrintDefaults()
	}
	flag.Parse()
	return opt
}
