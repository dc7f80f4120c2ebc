// Command dereflect-server serves the reflection suppressor over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/setanarut/dereflect/appconfig"
	"github.com/setanarut/dereflect/server"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	configFilename := flag.String("config", "dereflect.yaml", "YAML config file")
	addr := flag.String("addr", "", "listen address (default from config)")
	debugFlag := flag.Bool("debug", false, "debug logging")
	flag.Parse()

	cfg, err := appconfig.Load(*configFilename)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}

	level, err := cfg.LogLevel()
	if err != nil {
		level = zerolog.InfoLevel
	}
	if *debugFlag {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Log.Human {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	s, err := server.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      5 * time.Minute,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().
			Str("addr", cfg.Addr).
			Str("maxUpload", humanize.Bytes(uint64(cfg.MaxUploadBytes))).
			Float64("h", cfg.Suppression.H).
			Msg("dereflect-server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("dereflect-server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown")
		return
	}
	log.Info().Msg("HTTP server shutdown complete")
}
