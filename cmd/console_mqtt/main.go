package main

import (
	"flag"

	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/motion_calibration/internal/app"
	"github.com/relabs-tech/motion_calibration/internal/config"
)

func main() {
	cfgPath := flag.String("config", "calibration_config.txt", "Path to config file")
	flag.Parse()

	log.Println("starting calibration console (MQTT subscriber)")

	// Load configuration
	if err := config.InitGlobal(*cfgPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunConsoleMQTT(config.Get()); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
