// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// ./cmd/calibration/main.go
//
// Guided console calibration of one sensor of the wearable.
//
// Run:
//
//	go run ./cmd/calibration -sensor acc
//	go run ./cmd/calibration -sensor mag -axis
//	go run ./cmd/calibration -sensor gyro -mode axis
//
// Telemetry arrives over the transport selected by TELEMETRY_SOURCE. Accepted
// results are written to CALIBRATION_FILE as they are accepted.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/motion_calibration/internal/app"
	"github.com/relabs-tech/motion_calibration/internal/config"
	"github.com/relabs-tech/motion_calibration/internal/plot"
	"github.com/relabs-tech/motion_calibration/internal/sensor"
	"github.com/relabs-tech/motion_calibration/internal/stage"
)

func main() {
	var (
		cfgPath  = flag.String("config", "calibration_config.txt", "Path to config file")
		sensorF  = flag.String("sensor", "acc", "Sensor to calibrate: acc, gyro or mag")
		modeF    = flag.String("mode", "value", "Calibration mode: value or axis")
		withAxis = flag.Bool("axis", false, "Append the axis stage to a value calibration")
		verbose  = flag.Bool("v", false, "Debug logging")
	)
	flag.Parse()
	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	if err := config.InitGlobal(*cfgPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg := config.Get()

	kind, err := sensor.ParseKind(*sensorF)
	if err != nil {
		log.Fatalf("%v", err)
	}
	mode, err := stage.ParseMode(*modeF)
	if err != nil {
		log.Fatalf("%v", err)
	}

	cfg.MQTTClientIDWeb = cfg.MQTTClientIDConsole
	svc, err := app.NewService(cfg)
	if err != nil {
		log.Fatalf("calibration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := svc.Start(ctx); err != nil {
		log.Fatalf("calibration: telemetry: %v", err)
	}

	ctrl := svc.Controller()
	if err := ctrl.SelectSensor(kind, mode, *withAxis); err != nil {
		log.Fatalf("calibration: %v", err)
	}

	g := &guide{
		ctrl:      ctrl,
		in:        bufio.NewReader(os.Stdin),
		tick:      time.Duration(cfg.UpdateInterval) * time.Millisecond,
		plots:     cfg.PlotDir,
		unlimited: cfg.MagSweepUnlimited,
	}
	if err := g.run(ctx); err != nil {
		log.Fatalf("calibration: %v", err)
	}

	res := svc.Result(kind)
	out, _ := json.MarshalIndent(res, "", "  ")
	fmt.Printf("\n%s calibration complete, saved to %s\n%s\n", kind, cfg.CalibrationFile, out)
}

type guide struct {
	ctrl      *stage.Controller
	in        *bufio.Reader
	tick      time.Duration
	plots     string
	unlimited bool // magnetometer sweep closes on ENTER only
}

func (g *guide) run(ctx context.Context) error {
	for {
		st := g.ctrl.Update()
		switch {
		case st.State == stage.Complete:
			return nil
		case st.FailureKind == "interrupt":
			return fmt.Errorf("%s", st.Failure)
		}

		fmt.Printf("\nStep %d/%d: %s\n", st.StageIndex+1, st.StageCount, st.Instruction)
		if !g.waitEnter("Press ENTER to start recording...") {
			return fmt.Errorf("input closed")
		}
		if err := g.ctrl.StartRecording(); err != nil {
			return err
		}
		if err := g.record(ctx); err != nil {
			return err
		}
		if err := g.decide(); err != nil {
			return err
		}
	}
}

// record waits for the window to close. Unlimited windows close on ENTER.
func (g *guide) record(ctx context.Context) error {
	st := g.ctrl.Status()
	if st.State == stage.MagSweep && g.unlimited {
		g.waitEnter("Recording. Press ENTER to stop...")
		if _, err := g.ctrl.StopRecording(); err != nil {
			fmt.Printf("  %v\n", err)
		}
		return nil
	}

	ticker := time.NewTicker(g.tick)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		st := g.ctrl.Update()
		if st.FailureKind == "interrupt" {
			return fmt.Errorf("%s", st.Failure)
		}
		if !st.Recording {
			return nil
		}
		if time.Since(last) >= time.Second {
			fmt.Printf("  %s samples\n", humanize.Comma(int64(st.Samples)))
			last = time.Now()
		}
	}
}

// decide shows the stage result and applies the operator's choice.
func (g *guide) decide() error {
	st := g.ctrl.Status()
	g.savePlot(st)

	if st.Candidate == nil {
		if st.Failure != "" {
			fmt.Printf("  stage failed: %s\n  The stage repeats.\n", st.Failure)
		}
		return nil
	}

	c := st.Candidate
	fmt.Printf("  %s samples over %.1fs, reading [%.2f %.2f %.2f]\n",
		humanize.Comma(int64(c.Stats.Samples)), c.Stats.DurationSec, c.Reading[0], c.Reading[1], c.Reading[2])
	if c.Confidence > 0 {
		fmt.Printf("  stillness confidence %.0f%%\n", c.Confidence*100)
	}
	if c.Coefficients != nil {
		fmt.Printf("  offset %v\n  gain   %v\n", c.Coefficients.Offset, c.Coefficients.Gain)
	}
	if c.Condition > 0 {
		fmt.Printf("  fit condition %.3g, residual %.3g\n", c.Condition, c.Residual)
	}
	if c.Mapping != nil {
		fmt.Printf("  swap %v polarity %v\n", c.Mapping.Swap, c.Mapping.Polarity)
	}

	for {
		switch g.ask("[a]ccept, [r]eject or re[d]o previous? ") {
		case "a", "":
			if err := g.ctrl.Accept(); err != nil {
				fmt.Printf("  result refused: %v\n  The stage repeats.\n", err)
			}
			return nil
		case "r":
			return g.ctrl.Reject()
		case "d":
			if err := g.ctrl.Reject(); err != nil {
				return err
			}
			return g.ctrl.Redo()
		}
	}
}

func (g *guide) savePlot(st stage.Status) {
	if g.plots == "" {
		return
	}
	kind, samples := g.ctrl.Series()
	if len(samples) == 0 {
		return
	}
	path := filepath.Join(g.plots, fmt.Sprintf("%s_%s_%d.png", kind.Short(), st.StateName, st.Maneuver))
	if err := plot.SavePNG(path, kind, samples); err != nil {
		log.Warnf("plot: %v", err)
		return
	}
	fmt.Printf("  series plot: %s\n", path)
}

func (g *guide) waitEnter(prompt string) bool {
	fmt.Print(prompt)
	_, err := g.in.ReadString('\n')
	return err == nil
}

func (g *guide) ask(prompt string) string {
	fmt.Print(prompt)
	line, _ := g.in.ReadString('\n')
	return strings.ToLower(strings.TrimSpace(line))
}
