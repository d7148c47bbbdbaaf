package app

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/motion_calibration/internal/sensor"
	"github.com/relabs-tech/motion_calibration/internal/stage"
)

var (
	currentStage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "calibration_current_stage",
		Help: "Numeric stage of the running calibration, 0 when idle.",
	})

	stagesEntered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "calibration_stages_entered_total",
			Help: "Stages entered, per sensor.",
		},
		[]string{"sensor", "stage"},
	)

	stageOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "calibration_stage_outcomes_total",
			Help: "Stage results by outcome.",
		},
		[]string{"sensor", "stage", "outcome"},
	)

	interrupts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "calibration_interrupts_total",
			Help: "Calibrations aborted by device events.",
		},
		[]string{"cause"},
	)

	samplesRecorded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "calibration_samples_recorded_total",
		Help: "Samples stored in recording windows.",
	})
)

var registerOnce sync.Once

func registerMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(currentStage)
		prometheus.MustRegister(stagesEntered)
		prometheus.MustRegister(stageOutcomes)
		prometheus.MustRegister(interrupts)
		prometheus.MustRegister(samplesRecorded)
	})
}

// metricsHooks reports controller events to prometheus and the log.
func metricsHooks() stage.Hooks {
	registerMetrics()
	return stage.Hooks{
		StageEntered: func(kind sensor.Kind, s stage.State) {
			currentStage.Set(float64(s))
			stagesEntered.With(prometheus.Labels{"sensor": kind.String(), "stage": s.String()}).Inc()
			log.Debugf("calibration: %s entered %s", kind, s)
		},
		Outcome: func(kind sensor.Kind, s stage.State, outcome string) {
			stageOutcomes.With(prometheus.Labels{"sensor": kind.String(), "stage": s.String(), "outcome": outcome}).Inc()
			log.Infof("calibration: %s %s %s", kind, s, outcome)
		},
		Interrupted: func(reason string) {
			currentStage.Set(0)
			interrupts.With(prometheus.Labels{"cause": interruptCause(reason)}).Inc()
		},
	}
}

func interruptCause(reason string) string {
	if strings.HasPrefix(reason, "power mode") {
		return "power_mode"
	}
	return "connection_lost"
}
