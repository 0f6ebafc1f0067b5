package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/noa-infusion-supervisor/internal/api"
	"github.com/noa-infusion-supervisor/internal/config"
	"github.com/noa-infusion-supervisor/internal/domain"
	"github.com/noa-infusion-supervisor/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: search ./config.yaml)")
	patientPath := flag.String("patient", "", "optional patient profile JSON to admit at startup")
	flag.Parse()

	// Load configuration; the clinical tables are validated exhaustively
	// here, so no case can start against an incomplete parameter set.
	configManager, err := config.NewManagerFromFile(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	cfg := configManager.GetConfig()
	logger := config.NewLogger(cfg.Logging)

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector())
	metrics := telemetry.NewMetrics(promReg)

	registry := api.NewRegistry(logger, configManager.ClinicalParameters(), cfg.Case, metrics)
	defer registry.Close()

	if *patientPath != "" {
		if err := admitFromFile(registry, logger, *patientPath); err != nil {
			log.Fatalf("Failed to admit patient: %v", err)
		}
	}

	server := api.NewServer(logger, configManager.GetServerConfig(), registry, promReg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down")
		cancel()
	}()

	logger.WithFields(logrus.Fields{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Starting NOA infusion supervisor")

	if err := server.Start(ctx); err != nil {
		log.Fatalf("Server failed: %v", err)
	}

	logger.Info("Server stopped")
}

// admitFromFile admits a single case from a patient profile JSON file and
// logs its computed protocol, mirroring a pre-operative intake review.
func admitFromFile(registry *api.Registry, logger *logrus.Logger, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var profile domain.PatientProfile
	if err := json.Unmarshal(data, &profile); err != nil {
		return err
	}

	c, err := registry.Admit(profile)
	if err != nil {
		return err
	}

	snap := c.Snapshot()
	logger.WithFields(logrus.Fields{
		"case_id":      c.ID,
		"lockouts":     c.Lockouts().Drugs(),
		"rates":        snap.Rates,
		"availability": snap.Availability,
	}).Info("Admitted patient from file")

	return nil
}
