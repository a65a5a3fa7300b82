package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"goalmarket/internal/api"
	"goalmarket/internal/config"
	"goalmarket/internal/market"
	"goalmarket/internal/oracle"
	"goalmarket/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)
	log.Info().Str("environment", cfg.App.Environment).Msg("Starting goalmarket server")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	st, err := store.New(store.Config{
		Addr:     cfg.Redis.Addr(),
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize store")
	}
	defer st.Close()

	if cfg.Oracle.APIKey == "" {
		log.Warn().Msg("Oracle API key not set, agents will abstain from every auction")
	}

	orc := oracle.NewClient(oracle.ClientConfig{
		Endpoint:          cfg.Oracle.Endpoint,
		APIKey:            cfg.Oracle.APIKey,
		Model:             cfg.Oracle.Model,
		Timeout:           time.Duration(cfg.Oracle.TimeoutMS) * time.Millisecond,
		RequestsPerSecond: cfg.Oracle.RequestsPerSecond,
	})

	engine := market.NewEngine(st, orc, cfg.Market)

	server := api.NewServer(api.Config{
		Host:    cfg.API.Host,
		Port:    cfg.API.Port,
		Engine:  engine,
		Store:   st,
		Metrics: cfg.Metrics,
	})

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	select {
	case err := <-serverErrors:
		log.Error().Err(err).Msg("Server error")
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	}

	log.Info().Msg("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to stop server gracefully")
	}

	// Let in-flight background auctions finish before exiting.
	engine.Wait()

	log.Info().Msg("Server stopped")
}
