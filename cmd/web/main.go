// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/motion_calibration/internal/app"
	"github.com/relabs-tech/motion_calibration/internal/config"
)

func main() {
	cfgPath := flag.String("config", "calibration_config.txt", "Path to config file")
	flag.Parse()

	log.Println("starting motion calibration web server")

	// Load configuration
	if err := config.InitGlobal(*cfgPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg := config.Get()

	svc, err := app.NewService(cfg)
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := svc.Start(ctx); err != nil {
		log.Fatalf("fatal: telemetry: %v", err)
	}
	log.Printf("telemetry source: %s", cfg.TelemetrySource)

	go func() {
		<-ctx.Done()
		log.Println("shutting down")
		os.Exit(0)
	}()

	if err := svc.RunCalibrationWeb(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
