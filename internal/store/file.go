package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/relabs-tech/motion_calibration/internal/calib"
)

const fileVersion = 1

// File is the persisted calibration of all sensors, keyed by sensor name.
type File struct {
	Version int               `json:"version" yaml:"version"`
	Sensors map[string]Record `json:"sensors" yaml:"sensors"`
}

// Record is the flat numeric record of one sensor: 3 offsets, 3 (diagonal)
// or 9 (row-major) gain entries, 3 swap indices and 3 polarity signs.
type Record struct {
	Offset       []float64 `json:"offset" yaml:"offset"`
	Gain         []float64 `json:"gain" yaml:"gain"`
	Swap         []int     `json:"swap" yaml:"swap"`
	Polarity     []int     `json:"polarity" yaml:"polarity"`
	CalibratedAt time.Time `json:"calibrated_at" yaml:"calibrated_at"`
}

func encode(c calib.Coefficients, m calib.AxisMapping, at time.Time) Record {
	r := Record{
		Offset:       []float64{c.Offset[0], c.Offset[1], c.Offset[2]},
		Swap:         []int{m.Swap[0], m.Swap[1], m.Swap[2]},
		Polarity:     []int{m.Polarity[0], m.Polarity[1], m.Polarity[2]},
		CalibratedAt: at,
	}
	if c.Gain.IsDiagonal() {
		d := c.Gain.Diag()
		r.Gain = []float64{d[0], d[1], d[2]}
	} else {
		r.Gain = c.Gain.Flat()
	}
	return r
}

func (r Record) coefficients() (calib.Coefficients, error) {
	if len(r.Offset) != 3 {
		return calib.Coefficients{}, fmt.Errorf("offset has %d entries, want 3", len(r.Offset))
	}
	var c calib.Coefficients
	copy(c.Offset[:], r.Offset)
	switch len(r.Gain) {
	case 3:
		c.Gain = calib.Diagonal([3]float64{r.Gain[0], r.Gain[1], r.Gain[2]})
	case 9:
		c.Gain, _ = calib.MatrixFromFlat(r.Gain)
	default:
		return calib.Coefficients{}, fmt.Errorf("gain has %d entries, want 3 or 9", len(r.Gain))
	}
	if err := c.Validate(); err != nil {
		return calib.Coefficients{}, err
	}
	return c, nil
}

func (r Record) axisMapping() (calib.AxisMapping, error) {
	if len(r.Swap) != 3 || len(r.Polarity) != 3 {
		return calib.AxisMapping{}, fmt.Errorf("swap/polarity have %d/%d entries, want 3/3", len(r.Swap), len(r.Polarity))
	}
	var m calib.AxisMapping
	copy(m.Swap[:], r.Swap)
	copy(m.Polarity[:], r.Polarity)
	if err := m.Validate(); err != nil {
		return calib.AxisMapping{}, err
	}
	return m, nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// LoadFile reads a calibration file, JSON or YAML by extension. A missing
// file yields an empty File and no error.
func LoadFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return File{}, nil
	}
	if err != nil {
		return File{}, fmt.Errorf("failed to read calibration file: %w", err)
	}

	var f File
	if isYAML(path) {
		err = yaml.Unmarshal(data, &f)
	} else {
		err = json.Unmarshal(data, &f)
	}
	if err != nil {
		return File{}, fmt.Errorf("failed to parse calibration file %s: %w", path, err)
	}
	return f, nil
}

// SaveFile writes f to path, replacing any previous file.
func SaveFile(path string, f File) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(f)
	} else {
		data, err = json.MarshalIndent(f, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal calibration results: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write calibration file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace calibration file: %w", err)
	}
	return nil
}

// Open returns a store seeded from path. Unreadable or malformed files are
// logged and replaced by factory defaults.
func Open(path string) *Store {
	s := New()
	f, err := LoadFile(path)
	if err != nil {
		log.Warnf("store: %v; using factory defaults", err)
		return s
	}
	s.Seed(f)
	return s
}
