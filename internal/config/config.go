package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Fusion  FusionConfig  `yaml:"fusion"`
	Tracker TrackerConfig `yaml:"tracker"`
	Source  SourceConfig  `yaml:"source"`
	Record  RecordConfig  `yaml:"record"`
	Web     WebConfig     `yaml:"web"`
	UDP     UDPConfig     `yaml:"udp"`
}

type FusionConfig struct {
	Warmup      time.Duration `yaml:"warmup"`
	Period      time.Duration `yaml:"period"`
	GyroEpsilon float64       `yaml:"gyro_epsilon"`
	Kalman      KalmanConfig  `yaml:"kalman"`
}

type KalmanConfig struct {
	ProcessNoise     float64 `yaml:"process_noise"`
	MeasurementNoise float64 `yaml:"measurement_noise"`
	InitialVariance  float64 `yaml:"initial_variance"`
}

type TrackerConfig struct {
	WindowSize        int     `yaml:"window_size"`
	StrideCoefficient float64 `yaml:"stride_coefficient"`
	DefaultStride     float64 `yaml:"default_stride"`
	Decomposition     string  `yaml:"decomposition"`
}

const (
	SourceSim    = "sim"
	SourceReplay = "replay"
	SourceIMU    = "imu"
)

type SourceConfig struct {
	Kind        string            `yaml:"kind"`
	Replay      ReplayConfig      `yaml:"replay"`
	IMU         IMUConfig         `yaml:"imu"`
	StepCounter StepCounterConfig `yaml:"step_counter"`
	Sim         SimConfig         `yaml:"sim"`
}

type ReplayConfig struct {
	Path  string  `yaml:"path"`
	Speed float64 `yaml:"speed"`
	Loop  bool    `yaml:"loop"`
}

type IMUConfig struct {
	I2CBus         int           `yaml:"i2c_bus"`
	IMUAddr        uint16        `yaml:"imu_addr"`
	MagAddr        uint16        `yaml:"mag_addr"`
	Interval       time.Duration `yaml:"interval"`
	NoMagnetometer bool          `yaml:"no_magnetometer"`
}

// StepCounterConfig adds a GPIO pedometer next to the main source.
type StepCounterConfig struct {
	Enable   bool          `yaml:"enable"`
	Line     string        `yaml:"line"`
	Debounce time.Duration `yaml:"debounce"`
}

type SimConfig struct {
	HeadingDeg float64       `yaml:"heading_deg"`
	CadenceHz  float64       `yaml:"cadence_hz"`
	Rate       time.Duration `yaml:"rate"`
	StepAccel  float64       `yaml:"step_accel"`

	// Script, when set, replaces the constant walk with a keyframed one.
	Script string `yaml:"script"`
	Loop   bool   `yaml:"loop"`
}

type RecordConfig struct {
	Enable bool   `yaml:"enable"`
	Path   string `yaml:"path"`
}

type WebConfig struct {
	Listen string `yaml:"listen"`
}

// UDPConfig streams JSON states to Dest when set.
type UDPConfig struct {
	Dest string `yaml:"dest"`
}

// Default returns the configuration used for keys a file leaves out.
func Default() Config {
	return Config{
		Fusion: FusionConfig{
			Warmup:      5 * time.Second,
			Period:      30 * time.Millisecond,
			GyroEpsilon: 1e-9,
			Kalman: KalmanConfig{
				ProcessNoise:     0.001,
				MeasurementNoise: 0.03,
				InitialVariance:  1.0,
			},
		},
		Tracker: TrackerConfig{
			WindowSize:        10,
			StrideCoefficient: 0.98,
			DefaultStride:     0.75,
			Decomposition:     "piecewise",
		},
		Source: SourceConfig{
			Kind:   SourceSim,
			Replay: ReplayConfig{Speed: 1},
			IMU: IMUConfig{
				I2CBus:   1,
				IMUAddr:  0x68,
				MagAddr:  0x0C,
				Interval: 10 * time.Millisecond,
			},
			StepCounter: StepCounterConfig{
				Line:     "GPIO17",
				Debounce: 20 * time.Millisecond,
			},
			Sim: SimConfig{
				HeadingDeg: 45,
				CadenceHz:  1.8,
				Rate:       10 * time.Millisecond,
				StepAccel:  1.0,
			},
		},
		Web: WebConfig{Listen: ":8080"},
	}
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(b)
}

// Parse decodes YAML over Default and validates the result. Unknown keys are
// an error.
func Parse(b []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) Validate() error {
	f := cfg.Fusion
	if f.Warmup < 0 {
		return fmt.Errorf("fusion.warmup must be >= 0")
	}
	if f.Period <= 0 {
		return fmt.Errorf("fusion.period must be > 0")
	}
	if f.GyroEpsilon < 0 {
		return fmt.Errorf("fusion.gyro_epsilon must be >= 0")
	}
	if f.Kalman.ProcessNoise < 0 || f.Kalman.MeasurementNoise <= 0 || f.Kalman.InitialVariance < 0 {
		return fmt.Errorf("fusion.kalman: process_noise and initial_variance must be >= 0, measurement_noise > 0")
	}

	t := &cfg.Tracker
	if t.WindowSize <= 0 {
		return fmt.Errorf("tracker.window_size must be > 0")
	}
	if t.StrideCoefficient <= 0 {
		return fmt.Errorf("tracker.stride_coefficient must be > 0")
	}
	if t.DefaultStride <= 0 {
		return fmt.Errorf("tracker.default_stride must be > 0")
	}
	t.Decomposition = strings.ToLower(strings.TrimSpace(t.Decomposition))
	switch t.Decomposition {
	case "":
		t.Decomposition = "piecewise"
	case "piecewise", "closed_form":
	default:
		return fmt.Errorf("tracker.decomposition must be piecewise or closed_form")
	}

	src := &cfg.Source
	src.Kind = strings.ToLower(strings.TrimSpace(src.Kind))
	switch src.Kind {
	case "":
		src.Kind = SourceSim
	case SourceSim, SourceReplay, SourceIMU:
	default:
		return fmt.Errorf("source.kind must be sim, replay or imu")
	}

	if src.Kind == SourceReplay {
		if strings.TrimSpace(src.Replay.Path) == "" {
			return fmt.Errorf("source.replay.path is required when source.kind is replay")
		}
		if src.Replay.Speed <= 0 {
			return fmt.Errorf("source.replay.speed must be > 0")
		}
	}

	if src.Kind == SourceIMU {
		if src.IMU.I2CBus < 0 {
			return fmt.Errorf("source.imu.i2c_bus must be >= 0")
		}
		if src.IMU.IMUAddr > 0x7F || src.IMU.MagAddr > 0x7F {
			return fmt.Errorf("source.imu addresses must be 7-bit")
		}
		if src.IMU.Interval <= 0 {
			return fmt.Errorf("source.imu.interval must be > 0")
		}
	}

	if src.StepCounter.Enable {
		if src.Kind != SourceIMU {
			return fmt.Errorf("source.step_counter.enable requires source.kind=imu")
		}
		if strings.TrimSpace(src.StepCounter.Line) == "" {
			return fmt.Errorf("source.step_counter.line is required when source.step_counter.enable is true")
		}
		if src.StepCounter.Debounce < 0 {
			return fmt.Errorf("source.step_counter.debounce must be >= 0")
		}
	}

	if src.Kind == SourceSim {
		if src.Sim.CadenceHz < 0 {
			return fmt.Errorf("source.sim.cadence_hz must be >= 0")
		}
		if src.Sim.Rate <= 0 {
			return fmt.Errorf("source.sim.rate must be > 0")
		}
		if src.Sim.StepAccel < 0 {
			return fmt.Errorf("source.sim.step_accel must be >= 0")
		}
	}

	if cfg.Record.Enable {
		if strings.TrimSpace(cfg.Record.Path) == "" {
			return fmt.Errorf("record.path is required when record.enable is true")
		}
		if src.Kind == SourceReplay {
			return fmt.Errorf("record and source.kind=replay cannot both be enabled")
		}
	}

	if strings.TrimSpace(cfg.Web.Listen) == "" {
		return fmt.Errorf("web.listen is required")
	}
	return nil
}
