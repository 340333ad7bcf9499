package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/lei/simple-apply/pkg/gateway"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	// Load .env file (ignore error if file doesn't exist - env vars might be set externally)
	_ = godotenv.Load()

	// Determine config file path from environment or use default
	configFile := os.Getenv("CONFIG_FILE")
	if configFile == "" {
		configFile = "configs/gateway.yaml"
	}

	// Fall back to pure environment configuration when no config file exists
	var (
		gw  *gateway.Gateway
		err error
	)
	if _, statErr := os.Stat(configFile); statErr == nil {
		gw, err = gateway.NewFromConfigFile(configFile)
	} else {
		gw, err = gateway.NewFromEnv()
	}
	if err != nil {
		return err
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Start the gateway (blocks until shutdown)
	return gw.Start(ctx)
}
