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
	configPath := flag.String("config", "./calibration_config.txt", "path to configuration file")
	mock := flag.Bool("mock", false, "publish a synthetic wearable instead of the SPI IMU")
	flag.Parse()

	log.Println("starting IMU telemetry producer (IMU → MQTT)")

	// Load configuration
	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := app.RunTelemetryProducer(ctx, config.Get(), *mock); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
