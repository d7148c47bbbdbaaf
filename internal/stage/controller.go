// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package stage

import (
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/motion_calibration/internal/calib"
	"github.com/relabs-tech/motion_calibration/internal/recording"
	"github.com/relabs-tech/motion_calibration/internal/sensor"
)

var (
	// ErrInterrupted is reported after a connection loss or power-mode
	// change aborted the active stage.
	ErrInterrupted = errors.New("calibration interrupted")

	ErrNoSensor      = errors.New("no sensor selected")
	ErrBusy          = errors.New("a calibration is already in progress")
	ErrRecording     = errors.New("recording in progress")
	ErrNotRecording  = errors.New("not recording")
	ErrNoCandidate   = errors.New("no result waiting for a decision")
	ErrPendingResult = errors.New("a result is waiting for a decision")
	ErrNotAccepted   = errors.New("current stage has no accepted result")
)

// AxisDefaults supplies the mapping a sensor currently runs with.
type AxisDefaults interface {
	SensorAxisCalibrationNumbers(kind sensor.Kind, existingSwap, existingPolarity [3]int) ([3]int, [3]int)
}

// Results is where accepted calibration results go. *store.Store implements it.
type Results interface {
	AxisDefaults
	AcceptCoefficients(kind sensor.Kind, c calib.Coefficients) error
	AcceptAxisMapping(kind sensor.Kind, m calib.AxisMapping) error
	Coefficients(kind sensor.Kind) calib.Coefficients
}

// Hooks observe the controller. They run with the controller locked and
// must not call back into it.
type Hooks struct {
	StageEntered func(kind sensor.Kind, s State)
	Outcome      func(kind sensor.Kind, s State, outcome string)
	Interrupted  func(reason string)
}

// Config holds the references and window lengths used by the reducers.
type Config struct {
	Gravity   float64 // accelerometer counts per g
	Rate      calib.RateCalibrator
	Ellipsoid calib.EllipsoidFitter

	// Window lengths in seconds.
	AccDuration        float64
	GyroStaticDuration float64
	GyroRotateDuration float64
	MagDuration        float64
	MagUnlimited       bool
	AxisDuration       float64

	// Stillness thresholds (raw units of standard deviation) for the
	// confidence shown on static stages; zero disables it.
	StillGood float64
	StillBad  float64

	Hooks Hooks
}

// Candidate is a reduced stage result awaiting accept or reject.
type Candidate struct {
	Stage        string              `json:"stage"`
	Maneuver     int                 `json:"maneuver"`
	Reading      sensor.Vec3         `json:"reading"`
	Stats        calib.PhaseStats    `json:"stats"`
	Confidence   float64             `json:"confidence,omitempty"`
	Coefficients *calib.Coefficients `json:"coefficients,omitempty"`
	Mapping      *calib.AxisMapping  `json:"mapping,omitempty"`
	Condition    float64             `json:"condition,omitempty"`
	Residual     float64             `json:"residual,omitempty"`

	state State
}

// Status is a snapshot of the controller for the operator surface.
type Status struct {
	State       State      `json:"-"`
	StateName   string     `json:"state"`
	Sensor      string     `json:"sensor,omitempty"`
	Mode        string     `json:"mode,omitempty"`
	StageIndex  int        `json:"stage_index"`
	StageCount  int        `json:"stage_count"`
	Maneuver    int        `json:"maneuver"`
	Instruction string     `json:"instruction"`
	Recording   bool       `json:"recording"`
	Samples     int        `json:"samples"`
	Candidate   *Candidate `json:"candidate,omitempty"`
	Accepted    bool       `json:"accepted"`
	Failure     string     `json:"failure,omitempty"`
	FailureKind string     `json:"failure_kind,omitempty"` // "retryable" or "interrupt"
}

// Controller sequences the calibration stages of one sensor at a time.
//
// Update is the cooperative tick. AddData may be called from any goroutine;
// it only touches the collector.
type Controller struct {
	mu        sync.Mutex
	cfg       Config
	collector *recording.Collector
	results   Results

	state      State
	kind       sensor.Kind
	mode       Mode
	withAxis   bool
	seq        []State
	stageIndex int
	stageSet   bool
	recording  bool
	accepted   bool
	candidate  *Candidate
	failure    error
	lastSeries []sensor.Sample
	powerMode  PowerMode

	// Accepted intermediate results of the running sequence.
	tumble    calib.TumbleReadings
	gyroBias  sensor.Vec3
	gyroGains sensor.Vec3
	maneuver  int
	maneuvers [3]sensor.Vec3
	mapping   calib.AxisMapping
}

// New returns a controller in SensorSelect.
func New(cfg Config, results Results) *Controller {
	return &Controller{
		cfg:       cfg,
		collector: recording.NewCollector(),
		results:   results,
		state:     SensorSelect,
		mapping:   calib.DefaultAxisMapping(),
	}
}

// SelectSensor starts the stage sequence of kind in mode. withAxis appends
// the axis stage to a value calibration.
func (c *Controller) SelectSensor(kind sensor.Kind, mode Mode, withAxis bool) error {
	if !kind.Valid() {
		return fmt.Errorf("stage: unknown sensor kind %d", kind)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != SensorSelect && c.state != Complete {
		return fmt.Errorf("stage: %s at %s: %w", c.kind, c.state, ErrBusy)
	}

	c.clearSequence()
	c.kind = kind
	c.mode = mode
	c.withAxis = withAxis
	c.seq = sequence(kind, mode, withAxis)
	c.stageIndex = 0
	c.state = c.seq[0]

	def := calib.DefaultAxisMapping()
	swap, pol := c.results.SensorAxisCalibrationNumbers(kind, def.Swap, def.Polarity)
	c.mapping = calib.AxisMapping{Swap: swap, Polarity: pol}

	log.WithFields(log.Fields{"sensor": kind, "mode": mode, "axis": withAxis, "stages": len(c.seq)}).
		Info("stage: sensor selected")
	return nil
}

// Update is the tick. It advances past an accepted stage, initializes the
// current stage once, and closes a window whose duration limit elapsed.
func (c *Controller) Update() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.syncStage()
	if c.recording && c.collector.Expired() {
		log.Infof("stage: %s %s window elapsed", c.kind, c.state)
		_, _ = c.stopLocked()
	}
	return c.statusLocked()
}

// StartRecording arms the window of the current stage.
func (c *Controller) StartRecording() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.syncStage()
	if err := c.checkActive(); err != nil {
		return err
	}
	if c.recording {
		return ErrRecording
	}
	if c.candidate != nil {
		return ErrPendingResult
	}
	duration, unlimited := c.window(c.state)
	c.failure = nil
	c.collector.PrepareRecording(c.kind, duration, unlimited)
	c.recording = true
	log.WithFields(log.Fields{"sensor": c.kind, "stage": c.state, "limit": duration, "unlimited": unlimited}).
		Info("stage: recording started")
	return nil
}

// AddData forwards a telemetry batch to the armed window and returns how
// many samples were stored.
func (c *Controller) AddData(b sensor.Batch) int {
	return c.collector.AddData(b)
}

// StopRecording closes the window and reduces it into a candidate. A
// reducer failure is returned and kept as the stage failure; the stage
// repeats.
func (c *Controller) StopRecording() (*Candidate, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.recording {
		return nil, ErrNotRecording
	}
	return c.stopLocked()
}

func (c *Controller) stopLocked() (*Candidate, error) {
	w := c.collector.StopRecording()
	c.recording = false
	c.lastSeries = w.Samples

	cand, err := c.reduce(w.Samples)
	if err != nil {
		c.fail(err)
		return nil, err
	}
	c.candidate = cand
	log.WithFields(log.Fields{"sensor": c.kind, "stage": c.state, "samples": len(w.Samples), "span": w.Duration()}).
		Info("stage: candidate ready")
	return copyCandidate(cand), nil
}

// Accept confirms the pending candidate. Final results of a sensor sequence
// are written to the result store; the next Update advances the stage.
func (c *Controller) Accept() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cand := c.candidate
	if cand == nil {
		return ErrNoCandidate
	}

	switch {
	case c.state.isTumble():
		c.tumble[cand.state.tumblePosition()] = cand.Reading
	case c.state == GyroStatic:
		c.gyroBias = cand.Reading
	case c.state.isRotate():
		axis := c.state.rotateAxis()
		c.gyroGains[axis] = cand.Reading[axis]
	case c.state == Axis && cand.Mapping == nil:
		c.maneuvers[c.maneuver] = cand.Reading
		c.maneuver++
		c.candidate = nil
		c.outcome("maneuver_accepted")
		return nil
	}

	if cand.Coefficients != nil {
		if err := c.results.AcceptCoefficients(c.kind, *cand.Coefficients); err != nil {
			c.fail(err)
			return err
		}
	}
	if cand.Mapping != nil {
		if err := c.results.AcceptAxisMapping(c.kind, *cand.Mapping); err != nil {
			c.fail(err)
			return err
		}
		c.mapping = *cand.Mapping
	}

	c.candidate = nil
	c.accepted = true
	c.outcome("accepted")
	log.WithFields(log.Fields{"sensor": c.kind, "stage": c.state}).Info("stage: result accepted")
	return nil
}

// Reject discards the pending candidate; the stage (or axis maneuver) repeats.
func (c *Controller) Reject() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.candidate == nil {
		return ErrNoCandidate
	}
	c.candidate = nil
	c.failure = nil
	c.outcome("rejected")
	log.WithFields(log.Fields{"sensor": c.kind, "stage": c.state}).Info("stage: result rejected")
	return nil
}

// Redo discards whatever the current stage holds and repeats it. With
// nothing to discard it steps back to the previous stage.
func (c *Controller) Redo() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkActive(); err != nil {
		return err
	}

	if c.recording || c.candidate != nil || c.failure != nil || c.maneuver > 0 {
		if c.recording {
			c.collector.Abort()
			c.recording = false
		}
		c.candidate = nil
		c.failure = nil
		c.accepted = false
		c.resetManeuvers()
		c.stageSet = false
		return nil
	}
	if c.stageIndex == 0 {
		c.stageSet = false
		return nil
	}
	c.stageIndex--
	c.state = c.seq[c.stageIndex]
	c.accepted = false
	c.resetManeuvers()
	c.stageSet = false
	log.WithFields(log.Fields{"sensor": c.kind, "stage": c.state}).Info("stage: redo previous stage")
	return nil
}

// AdvanceToNextStage moves past the current stage. It fails unless the
// stage's result was accepted.
func (c *Controller) AdvanceToNextStage() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.accepted {
		return ErrNotAccepted
	}
	c.advanceToNextStage()
	return nil
}

func (c *Controller) advanceToNextStage() {
	c.accepted = false
	c.stageSet = false
	c.candidate = nil
	c.failure = nil
	c.stageIndex++
	if c.stageIndex >= len(c.seq) {
		c.state = Complete
		log.WithFields(log.Fields{"sensor": c.kind, "mode": c.mode}).Info("stage: calibration complete")
		return
	}
	c.state = c.seq[c.stageIndex]
}

// HandleConnectionEvent is the device link notification. Losing the link
// during an active stage is a hard interrupt.
func (c *Controller) HandleConnectionEvent(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if connected {
		log.Info("stage: device connected")
		return
	}
	c.interrupt("connection lost")
}

// HandlePowerModeChange interrupts an active stage when the device power
// mode changes.
func (c *Controller) HandlePowerModeChange(mode PowerMode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if mode == c.powerMode {
		return
	}
	prev := c.powerMode
	c.powerMode = mode
	c.interrupt(fmt.Sprintf("power mode %s -> %s", prev, mode))
}

func (c *Controller) interrupt(reason string) {
	if c.state == SensorSelect || c.state == Complete {
		log.Infof("stage: %s while idle", reason)
		return
	}
	log.WithFields(log.Fields{"sensor": c.kind, "stage": c.state, "reason": reason}).Warn("stage: interrupted")
	c.collector.Abort()
	c.clearSequence()
	c.failure = fmt.Errorf("%s: %w", reason, ErrInterrupted)
	if c.cfg.Hooks.Interrupted != nil {
		c.cfg.Hooks.Interrupted(reason)
	}
}

// Reset abandons any sequence and returns to SensorSelect.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.collector.Abort()
	c.clearSequence()
}

func (c *Controller) clearSequence() {
	c.state = SensorSelect
	c.seq = nil
	c.stageIndex = 0
	c.stageSet = false
	c.recording = false
	c.accepted = false
	c.candidate = nil
	c.failure = nil
	c.tumble = calib.TumbleReadings{}
	c.gyroBias = sensor.Vec3{}
	c.gyroGains = sensor.Vec3{}
	c.resetManeuvers()
}

func (c *Controller) resetManeuvers() {
	c.maneuver = 0
	c.maneuvers = [3]sensor.Vec3{}
}

// Status returns the current snapshot.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Controller) statusLocked() Status {
	st := Status{
		State:       c.state,
		StateName:   c.state.String(),
		StageIndex:  c.stageIndex,
		StageCount:  len(c.seq),
		Maneuver:    c.maneuver,
		Instruction: instruction(c.kind, c.state, c.maneuver),
		Recording:   c.recording,
		Accepted:    c.accepted,
		Candidate:   copyCandidate(c.candidate),
	}
	if c.state != SensorSelect || c.failure != nil {
		st.Sensor = c.kind.String()
		st.Mode = c.mode.String()
	}
	if c.recording {
		st.Samples = c.collector.Len()
	} else {
		st.Samples = len(c.lastSeries)
	}
	if c.failure != nil {
		st.Failure = c.failure.Error()
		st.FailureKind = "retryable"
		if errors.Is(c.failure, ErrInterrupted) {
			st.FailureKind = "interrupt"
		}
	}
	return st
}

// Series returns the samples of the running window, or of the last closed
// one, for plotting.
func (c *Controller) Series() (sensor.Kind, []sensor.Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.recording {
		return c.kind, c.collector.Snapshot()
	}
	out := make([]sensor.Sample, len(c.lastSeries))
	copy(out, c.lastSeries)
	return c.kind, out
}

// Mapping returns the axis mapping the selected sensor currently runs with.
func (c *Controller) Mapping() calib.AxisMapping {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mapping
}

func (c *Controller) checkActive() error {
	if c.state == SensorSelect || c.state == Complete {
		return ErrNoSensor
	}
	return nil
}

func (c *Controller) syncStage() {
	if c.accepted {
		c.advanceToNextStage()
	}
	if !c.stageSet && c.state != SensorSelect && c.state != Complete {
		c.setupStage()
	}
}

// setupStage initializes the resources of the current stage; stageSet
// keeps it from running again until the stage changes.
func (c *Controller) setupStage() {
	c.stageSet = true
	if c.state == Axis {
		c.resetManeuvers()
	}
	log.WithFields(log.Fields{"sensor": c.kind, "stage": c.state, "index": c.stageIndex}).
		Infof("stage: %s", instruction(c.kind, c.state, c.maneuver))
	if c.cfg.Hooks.StageEntered != nil {
		c.cfg.Hooks.StageEntered(c.kind, c.state)
	}
}

func (c *Controller) window(s State) (float64, bool) {
	switch {
	case s.isTumble():
		return c.cfg.AccDuration, false
	case s == GyroStatic:
		return c.cfg.GyroStaticDuration, false
	case s.isRotate():
		return c.cfg.GyroRotateDuration, false
	case s == MagSweep:
		return c.cfg.MagDuration, c.cfg.MagUnlimited
	case s == Axis:
		return c.cfg.AxisDuration, false
	}
	return 0, true
}

func (c *Controller) fail(err error) {
	c.failure = err
	c.candidate = nil
	c.outcome("failed")
	log.WithFields(log.Fields{"sensor": c.kind, "stage": c.state, "retryable": calib.IsRetryable(err)}).
		Warnf("stage: %v", err)
}

func (c *Controller) outcome(o string) {
	if c.cfg.Hooks.Outcome != nil {
		c.cfg.Hooks.Outcome(c.kind, c.state, o)
	}
}

func copyCandidate(cand *Candidate) *Candidate {
	if cand == nil {
		return nil
	}
	out := *cand
	if cand.Coefficients != nil {
		co := *cand.Coefficients
		out.Coefficients = &co
	}
	if cand.Mapping != nil {
		m := *cand.Mapping
		out.Mapping = &m
	}
	return &out
}
