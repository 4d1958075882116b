package main

import (
	"flag"
	"log"
	"os"

	"PriceCast/internal/di"
	"PriceCast/pkg/config"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Parse()

	// Load config
	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	log.Printf("env=%s artifacts=%s catalog=%s datasets=%s backend=%s",
		cfg.Environment, cfg.Storage.ArtifactBackend, cfg.Storage.CatalogBackend,
		cfg.Datasets.Backend, cfg.Training.Backend)

	// Wire DI: Initialize all dependencies
	app, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	// Run application (blocks until signal)
	if err := app.Run(); err != nil {
		log.Printf("app error: %v", err)
		os.Exit(1)
	}
}
