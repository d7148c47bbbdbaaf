package app

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"

	"github.com/relabs-tech/motion_calibration/internal/calib"
	"github.com/relabs-tech/motion_calibration/internal/config"
	"github.com/relabs-tech/motion_calibration/internal/sensor"
	"github.com/relabs-tech/motion_calibration/internal/stage"
	"github.com/relabs-tech/motion_calibration/internal/store"
	"github.com/relabs-tech/motion_calibration/internal/telemetry"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		TelemetrySource:    config.SourceMQTT,
		IMUModel:           "mpu9250",
		IMUAccelRange:      0,
		GyroKnownAngle:     360,
		GyroMinAngle:       1,
		MagMaxCondition:    1e6,
		MagMinSamples:      50,
		AccStageDuration:   3,
		GyroStaticDuration: 5,
		GyroRotateDuration: 10,
		MagSweepDuration:   60,
		AxisDuration:       5,
		CalibrationFile:    filepath.Join(t.TempDir(), "calibration.json"),
		UpdateInterval:     10,
	}
}

func newTestService(t *testing.T) (*Service, *httptest.Server) {
	t.Helper()
	svc, err := NewService(testConfig(t))
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(svc.Handler())
	t.Cleanup(srv.Close)
	return svc, srv
}

func getJSON(t *testing.T, url string, v interface{}) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: %s", url, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatal(err)
	}
}

func TestGravityFromAccelRange(t *testing.T) {
	cfg := testConfig(t)
	cfg.IMUAccelRange = 1
	g, err := accelGravity(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if g != 8192 {
		t.Errorf("gravity = %v, want 8192", g)
	}

	cfg.AccGravityRaw = 1000
	if g, _ := accelGravity(cfg); g != 1000 {
		t.Errorf("explicit gravity = %v", g)
	}

	cfg.AccGravityRaw = 0
	cfg.IMUModel = "bmi160"
	if _, err := NewService(cfg); err == nil {
		t.Error("expected error for unknown IMU model")
	}
}

func TestStatusEndpoint(t *testing.T) {
	svc, srv := newTestService(t)

	var st map[string]interface{}
	getJSON(t, srv.URL+"/api/calibration/status", &st)
	if st["state"] != "sensor_select" {
		t.Errorf("state = %v", st["state"])
	}

	if err := svc.Controller().SelectSensor(sensor.Gyroscope, 0, false); err != nil {
		t.Fatal(err)
	}
	svc.Controller().Update()
	getJSON(t, srv.URL+"/api/calibration/status", &st)
	if st["state"] != "gyro_static" || st["sensor"] != "gyroscope" {
		t.Errorf("status = %v", st)
	}
}

func TestAcceptPersistsAndServesResults(t *testing.T) {
	svc, srv := newTestService(t)

	c := calib.Coefficients{Offset: sensor.Vec3{1, 2, 3}, Gain: calib.Diagonal(sensor.Vec3{2, 2, 2})}
	if err := svc.Store().AcceptCoefficients(sensor.Accelerometer, c); err != nil {
		t.Fatal(err)
	}

	f, err := store.LoadFile(svc.cfg.CalibrationFile)
	if err != nil {
		t.Fatal(err)
	}
	rec, ok := f.Sensors["accelerometer"]
	if !ok || len(rec.Offset) != 3 || rec.Offset[2] != 3 {
		t.Errorf("persisted record = %+v", rec)
	}

	var env ResultEnvelope
	getJSON(t, srv.URL+"/api/calibration/results?sensor=acc", &env)
	if env.Offset != c.Offset || env.Gain != c.Gain || env.ID == "" {
		t.Errorf("envelope = %+v", env)
	}
	if env.CalibratedAt.IsZero() {
		t.Error("calibrated_at not set")
	}

	var all map[string]ResultEnvelope
	getJSON(t, srv.URL+"/api/calibration/results", &all)
	if len(all) != 3 || all["magnetometer"].Gain != calib.Identity() {
		t.Errorf("results = %+v", all)
	}

	resp, err := http.Get(srv.URL + "/api/calibration/results?sensor=baro")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown sensor: %s", resp.Status)
	}
}

func TestPlotEndpoint(t *testing.T) {
	svc, srv := newTestService(t)

	resp, err := http.Get(srv.URL + "/api/calibration/plot.png")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("empty plot: %s", resp.Status)
	}

	ctrl := svc.Controller()
	if err := ctrl.SelectSensor(sensor.Accelerometer, 0, false); err != nil {
		t.Fatal(err)
	}
	if err := ctrl.StartRecording(); err != nil {
		t.Fatal(err)
	}
	rows := make([][3]float64, 50)
	for i := range rows {
		rows[i] = [3]float64{float64(i % 3), 0, 16384}
	}
	ctrl.AddData(sensor.Batch{
		Samples:      map[sensor.Kind][][3]float64{sensor.Accelerometer: rows},
		ODR:          100,
		TotalSamples: len(rows),
	})

	resp, err = http.Get(srv.URL + "/api/calibration/plot.png")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !bytes.HasPrefix(body, []byte("\x89PNG")) {
		t.Errorf("plot: %s, %d bytes", resp.Status, len(body))
	}
}

func TestMetricsEndpoint(t *testing.T) {
	svc, srv := newTestService(t)
	if err := svc.Controller().SelectSensor(sensor.Magnetometer, 0, false); err != nil {
		t.Fatal(err)
	}
	svc.Controller().Update()
	svc.Controller().HandleConnectionEvent(false)

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{
		`calibration_stages_entered_total{sensor="magnetometer",stage="mag_sweep"}`,
		`calibration_interrupts_total{cause="connection_lost"}`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics missing %s", want)
		}
	}
}

func TestInterruptCause(t *testing.T) {
	if got := interruptCause("power mode normal -> sleep"); got != "power_mode" {
		t.Errorf("got %q", got)
	}
	if got := interruptCause("connection lost"); got != "connection_lost" {
		t.Errorf("got %q", got)
	}
}

func readUntil(t *testing.T, conn *websocket.Conn, match func(WSResponse) bool) WSResponse {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var resp WSResponse
		if err := conn.ReadJSON(&resp); err != nil {
			t.Fatalf("read: %v", err)
		}
		if match(resp) {
			return resp
		}
	}
}

func TestWebsocketSession(t *testing.T) {
	svc, srv := newTestService(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/calibration"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	first := readUntil(t, conn, func(r WSResponse) bool { return r.Type == "session" })
	if first.Session == "" {
		t.Error("missing session id")
	}

	other, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	busy := readUntil(t, other, func(r WSResponse) bool { return r.Type == "error" })
	if !strings.Contains(busy.Message, first.Session) {
		t.Errorf("busy message = %q", busy.Message)
	}
	other.Close()

	if err := conn.WriteJSON(WSMessage{Action: "select", Sensor: "acc"}); err != nil {
		t.Fatal(err)
	}
	readUntil(t, conn, func(r WSResponse) bool {
		return r.Type == "status" && r.Status != nil && r.Status.StateName == "acc_1"
	})

	if err := conn.WriteJSON(WSMessage{Action: "accept"}); err != nil {
		t.Fatal(err)
	}
	readUntil(t, conn, func(r WSResponse) bool { return r.Type == "error" })

	if err := conn.WriteJSON(WSMessage{Action: "cancel"}); err != nil {
		t.Fatal(err)
	}
	readUntil(t, conn, func(r WSResponse) bool {
		return r.Type == "status" && r.Status != nil && r.Status.StateName == "sensor_select"
	})
	conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for {
		if err := svc.claim("next"); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("session was not released after close")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

type published struct {
	topic    string
	retained bool
	payload  interface{}
}

type fakePublisher struct{ msgs []published }

func (f *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.msgs = append(f.msgs, published{topic, retained, payload})
	return nil
}

func TestFrameSinkPublishes(t *testing.T) {
	cfg := testConfig(t)
	cfg.TopicTelemetry = "t/telemetry"
	cfg.TopicConnection = "t/connection"
	cfg.TopicPowerMode = "t/power"
	pub := &fakePublisher{}
	sink := &frameSink{client: pub, cfg: cfg}

	n := sink.AddData(sensor.Batch{
		Samples:      map[sensor.Kind][][3]float64{sensor.Gyroscope: {{1, 2, 3}, {4, 5, 6}}},
		ODR:          100,
		Timestamp:    1,
		TotalSamples: 2,
	})
	sink.HandleConnectionEvent(false)
	sink.HandlePowerModeChange(stage.PowerSleep)

	if n != 2 || sink.sent != 2 || len(pub.msgs) != 3 {
		t.Fatalf("n=%d sent=%d msgs=%+v", n, sink.sent, pub.msgs)
	}
	f, err := telemetry.DecodeFrame(pub.msgs[0].payload.([]byte))
	if err != nil {
		t.Fatal(err)
	}
	if pub.msgs[0].topic != "t/telemetry" || pub.msgs[0].retained || len(f.Gyr) != 2 {
		t.Errorf("telemetry message = %+v", pub.msgs[0])
	}
	if pub.msgs[1] != (published{"t/connection", true, "disconnected"}) {
		t.Errorf("connection message = %+v", pub.msgs[1])
	}
	if pub.msgs[2] != (published{"t/power", true, "sleep"}) {
		t.Errorf("power message = %+v", pub.msgs[2])
	}
}

func TestDescribeFrame(t *testing.T) {
	payload := []byte(`{"t":3,"odr":100,"acc":[[1,2,3],[1,2,3]]}`)
	line, n, err := describeFrame(payload, 10)
	if err != nil || n != 2 || line != "" {
		t.Errorf("below threshold: %q %d %v", line, n, err)
	}
	line, _, err = describeFrame(payload, 999)
	if err != nil || !strings.Contains(line, "1,001 samples") {
		t.Errorf("crossing: %q %v", line, err)
	}
	if line, n, err := describeFrame([]byte(`{"power_mode":"low"}`), 0); err != nil || n != 0 || line != "" {
		t.Errorf("control frame: %q %d %v", line, n, err)
	}
	if _, _, err := describeFrame([]byte(`{`), 0); err == nil {
		t.Error("expected error for malformed frame")
	}
}

func TestDescribeResult(t *testing.T) {
	env := ResultEnvelope{
		Sensor: "gyroscope",
		Offset: sensor.Vec3{1, 2, 3},
		Gain:   calib.Diagonal(sensor.Vec3{0.5, 1, 2}),
		Axes:   calib.DefaultAxisMapping(),
	}
	data, _ := json.Marshal(env)
	line, err := describeResult(data)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(line, "gyroscope offset=[1.000 2.000 3.000] gain diag=[0.5000 1.0000 2.0000]") {
		t.Errorf("line = %q", line)
	}
}
