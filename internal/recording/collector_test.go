package recording

import (
	"sync"
	"testing"

	"github.com/relabs-tech/motion_calibration/internal/sensor"
)

func batch(kind sensor.Kind, n int, t0, odr float64) sensor.Batch {
	rows := make([][3]float64, n)
	for i := range rows {
		rows[i] = [3]float64{float64(i), 1, 2}
	}
	return sensor.Batch{
		Samples:      map[sensor.Kind][][3]float64{kind: rows, sensor.Magnetometer: rows},
		ODR:          odr,
		Timestamp:    t0,
		TotalSamples: n,
	}
}

func TestRecordDroppedWhenDisarmed(t *testing.T) {
	c := NewCollector()
	if c.Record(0, 1, 2, 3) {
		t.Error("record on disarmed collector should be dropped")
	}
	c.PrepareRecording(sensor.Gyroscope, 1, false)
	if !c.Record(0, 1, 2, 3) {
		t.Error("record on armed collector should be stored")
	}
	w := c.StopRecording()
	if len(w.Samples) != 1 {
		t.Fatalf("got %d samples, want 1", len(w.Samples))
	}
	if c.Record(0.1, 1, 2, 3) || c.Len() != 0 {
		t.Error("record after stop should be dropped and buffer cleared")
	}
}

func TestPrepareClearsStaleBuffer(t *testing.T) {
	c := NewCollector()
	c.PrepareRecording(sensor.Accelerometer, 10, false)
	c.Record(0, 1, 1, 1)
	c.Record(0.01, 1, 1, 1)
	c.PrepareRecording(sensor.Accelerometer, 10, false)
	if c.Len() != 0 {
		t.Errorf("stale samples kept: %d", c.Len())
	}
}

func TestDurationLimit(t *testing.T) {
	c := NewCollector()
	c.PrepareRecording(sensor.Accelerometer, 0.5, false)
	stored := c.AddData(batch(sensor.Accelerometer, 100, 10, 100))
	// 10.00 .. 10.50 inclusive
	if stored != 51 {
		t.Errorf("stored %d samples, want 51", stored)
	}
	if !c.Expired() {
		t.Error("window should be expired")
	}
	if c.AddData(batch(sensor.Accelerometer, 10, 10.1, 100)) != 0 {
		t.Error("samples after expiry must be dropped")
	}
	w := c.StopRecording()
	last := w.Samples[len(w.Samples)-1].Timestamp
	if last-w.StartTime > 0.5+1e-9 {
		t.Errorf("window span %v exceeds limit", last-w.StartTime)
	}
}

func TestUnlimitedWindow(t *testing.T) {
	c := NewCollector()
	c.PrepareRecording(sensor.Magnetometer, 0.1, true)
	total := 0
	for i := 0; i < 5; i++ {
		total += c.AddData(batch(sensor.Magnetometer, 20, float64(i)*0.2, 100))
	}
	if total != 100 || c.Len() != 100 || c.Expired() {
		t.Errorf("unlimited window stored %d (len %d, expired %v), want 100", total, c.Len(), c.Expired())
	}
}

func TestAddDataCountsTotalSamples(t *testing.T) {
	c := NewCollector()
	c.PrepareRecording(sensor.Gyroscope, 100, false)
	want := 0
	for i, n := range []int{3, 7, 12, 1} {
		b := batch(sensor.Gyroscope, 12, float64(i), 100)
		b.TotalSamples = n
		c.AddData(b)
		want += n
	}
	if c.Len() != want {
		t.Errorf("buffered %d, want %d", c.Len(), want)
	}
	// other kinds are ignored
	if c.AddData(batch(sensor.Accelerometer, 5, 10, 100)) != 0 {
		t.Error("samples of a different kind must not be recorded")
	}
}

func TestOutOfOrderDropped(t *testing.T) {
	c := NewCollector()
	c.PrepareRecording(sensor.Gyroscope, 10, false)
	c.Record(1.0, 0, 0, 0)
	if c.Record(0.5, 0, 0, 0) {
		t.Error("older timestamp must be dropped")
	}
	if !c.Record(1.0, 0, 0, 0) {
		t.Error("equal timestamp is non-decreasing and must be kept")
	}
}

func TestAbortDiscards(t *testing.T) {
	c := NewCollector()
	c.PrepareRecording(sensor.Gyroscope, 10, false)
	c.Record(0, 1, 1, 1)
	c.Abort()
	if c.Active() || c.Len() != 0 {
		t.Error("abort must disarm and discard")
	}
}

func TestConcurrentDeliveryAndStop(t *testing.T) {
	c := NewCollector()
	c.PrepareRecording(sensor.Gyroscope, 0, true)
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				c.AddData(batch(sensor.Gyroscope, 1, float64(g*1000+i), 100))
			}
		}(g)
	}
	wg.Wait()
	w := c.StopRecording()
	for i := 1; i < len(w.Samples); i++ {
		if w.Samples[i].Timestamp < w.Samples[i-1].Timestamp {
			t.Fatal("timestamps must be non-decreasing")
		}
	}
}
