package plot

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/relabs-tech/motion_calibration/internal/sensor"
)

func sweep(n int) []sensor.Sample {
	out := make([]sensor.Sample, n)
	for i := range out {
		th := float64(i) / 10
		out[i] = sensor.Sample{Timestamp: 5 + float64(i)/100, X: math.Cos(th), Y: math.Sin(th), Z: 0.1 * th}
	}
	return out
}

func TestWritePNG(t *testing.T) {
	var buf bytes.Buffer
	if err := WritePNG(&buf, sensor.Magnetometer, sweep(200)); err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("\x89PNG")) {
		t.Error("output is not a PNG")
	}
}

func TestSavePNGEmptySeries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.png")
	if err := SavePNG(path, sensor.Gyroscope, nil); err != nil {
		t.Fatal(err)
	}
	if fi, err := os.Stat(path); err != nil || fi.Size() == 0 {
		t.Errorf("stat = %v, %v", fi, err)
	}
}

func TestSeriesStartsAtZero(t *testing.T) {
	p, err := Series(sensor.Accelerometer, sweep(10))
	if err != nil {
		t.Fatal(err)
	}
	if p.X.Min != 0 {
		t.Errorf("x axis starts at %v, want 0", p.X.Min)
	}
}
