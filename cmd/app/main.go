package main

import (
	"context"
	"flag"
	"log"
	"os"

	"ForecastGate/internal/di"
	"ForecastGate/pkg/config"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Parse()

	if _, err := os.Stat(*configPath); err != nil {
		log.Printf("config %s not readable (%v), using defaults and environment", *configPath, err)
		*configPath = ""
	}

	// Load config
	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	log.Printf("env=%s port=%d rate_limit=%s audit=%t", cfg.Environment, cfg.Server.Port, cfg.RateLimit.Policy, cfg.Audit.Enabled)

	// Wire DI: Initialize all dependencies
	app, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	// Run application (blocks until signal)
	if err := app.Run(context.Background()); err != nil {
		log.Printf("app error: %v", err)
		os.Exit(1)
	}
}
