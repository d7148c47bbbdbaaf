// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package plot renders recorded sample series for the operator.
package plot

import (
	"fmt"
	"io"
	"os"

	gplot "gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/relabs-tech/motion_calibration/internal/sensor"
)

// Default image size.
const (
	Width  = 8 * vg.Inch
	Height = 4 * vg.Inch
)

// Series builds the x/y/z lines of samples against time, relative to the
// first sample.
func Series(kind sensor.Kind, samples []sensor.Sample) (*gplot.Plot, error) {
	p, err := gplot.New()
	if err != nil {
		return nil, fmt.Errorf("plot: %w", err)
	}
	p.Title.Text = fmt.Sprintf("%s raw series", kind)
	p.X.Label.Text = "t (s)"
	p.Y.Label.Text = "counts"

	if len(samples) == 0 {
		return p, nil
	}
	t0 := samples[0].Timestamp
	var axes [3]plotter.XYs
	for a := range axes {
		axes[a] = make(plotter.XYs, len(samples))
	}
	for i, s := range samples {
		v := s.Vec()
		for a := 0; a < 3; a++ {
			axes[a][i].X = s.Timestamp - t0
			axes[a][i].Y = v[a]
		}
	}
	if err := plotutil.AddLines(p, "x", axes[0], "y", axes[1], "z", axes[2]); err != nil {
		return nil, fmt.Errorf("plot: %w", err)
	}
	p.Legend.Top = true
	return p, nil
}

// WritePNG renders samples as a PNG image to w.
func WritePNG(w io.Writer, kind sensor.Kind, samples []sensor.Sample) error {
	p, err := Series(kind, samples)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(Width, Height, "png")
	if err != nil {
		return fmt.Errorf("plot: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}

// SavePNG renders samples into the file at path.
func SavePNG(path string, kind sensor.Kind, samples []sensor.Sample) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("plot: %w", err)
	}
	if err := WritePNG(f, kind, samples); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
