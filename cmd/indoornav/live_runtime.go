package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"indoornav/internal/config"
	"indoornav/internal/fusion"
	"indoornav/internal/orientation"
	"indoornav/internal/pdr"
	"indoornav/internal/replay"
	"indoornav/internal/sensors"
	"indoornav/internal/sensors/icm20948"
	"indoornav/internal/sim"
	"indoornav/internal/stepcounter"
	"indoornav/internal/udp"
	"indoornav/internal/web"
)

// liveRuntime holds everything a session needs besides the fusion service.
type liveRuntime struct {
	sources []sensors.Source
	names   []string
	udp     *udp.Broadcaster
	closers []io.Closer
}

func fusionConfig(cfg config.Config) (fusion.Config, error) {
	dec, err := pdr.ParseDecomposition(cfg.Tracker.Decomposition)
	if err != nil {
		return fusion.Config{}, err
	}
	return fusion.Config{
		Warmup: cfg.Fusion.Warmup,
		Period: cfg.Fusion.Period,
		Orientation: orientation.Config{
			ProcessNoise:     cfg.Fusion.Kalman.ProcessNoise,
			MeasurementNoise: cfg.Fusion.Kalman.MeasurementNoise,
			InitialVariance:  cfg.Fusion.Kalman.InitialVariance,
			GyroEpsilon:      cfg.Fusion.GyroEpsilon,
		},
		Tracker: pdr.Config{
			WindowSize:        cfg.Tracker.WindowSize,
			StrideCoefficient: cfg.Tracker.StrideCoefficient,
			DefaultStride:     cfg.Tracker.DefaultStride,
			Decomposition:     dec,
		},
	}, nil
}

func fusionInfo(cfg config.Config) map[string]any {
	return map[string]any{
		"warmup":            cfg.Fusion.Warmup.String(),
		"period":            cfg.Fusion.Period.String(),
		"process_noise":     cfg.Fusion.Kalman.ProcessNoise,
		"measurement_noise": cfg.Fusion.Kalman.MeasurementNoise,
		"window_size":       cfg.Tracker.WindowSize,
		"decomposition":     cfg.Tracker.Decomposition,
		"recording":         cfg.Record.Enable,
	}
}

func newLiveRuntime(cfg config.Config) (*liveRuntime, error) {
	r := &liveRuntime{}

	src, name, err := primarySource(cfg.Source)
	if err != nil {
		return nil, err
	}
	r.add(src, name)

	if sc := cfg.Source.StepCounter; sc.Enable {
		r.add(stepcounter.NewSource(stepcounter.Config{Line: sc.Line, Debounce: sc.Debounce}), "stepcounter:"+sc.Line)
	}

	if cfg.Record.Enable {
		w, err := replay.CreateWriter(cfg.Record.Path)
		if err != nil {
			return nil, err
		}
		r.closers = append(r.closers, w)
		for i, s := range r.sources {
			r.sources[i] = &replay.Recorder{Source: s, W: w, Logf: log.Printf}
		}
		log.Printf("recording samples to %s", cfg.Record.Path)
	}

	if dest := strings.TrimSpace(cfg.UDP.Dest); dest != "" {
		b, err := udp.NewBroadcaster(dest)
		if err != nil {
			r.Close()
			return nil, err
		}
		r.udp = b
		r.closers = append(r.closers, b)
		log.Printf("streaming states to udp %s", dest)
	}
	return r, nil
}

func primarySource(sc config.SourceConfig) (sensors.Source, string, error) {
	switch sc.Kind {
	case config.SourceSim:
		walk := sim.ConstantWalk(sc.Sim.HeadingDeg, sc.Sim.CadenceHz)
		loop := true
		name := fmt.Sprintf("sim:heading=%g,cadence=%g", sc.Sim.HeadingDeg, sc.Sim.CadenceHz)
		if sc.Sim.Script != "" {
			script, err := sim.LoadWalkScript(sc.Sim.Script)
			if err != nil {
				return nil, "", err
			}
			if walk, err = sim.NewWalk(script); err != nil {
				return nil, "", fmt.Errorf("walk script %s: %w", sc.Sim.Script, err)
			}
			loop = sc.Sim.Loop
			name = "sim:" + sc.Sim.Script
		}
		return &sim.Walker{Walk: walk, Loop: loop, Rate: sc.Sim.Rate, StepAccel: sc.Sim.StepAccel}, name, nil

	case config.SourceReplay:
		recs, err := replay.ReadFile(sc.Replay.Path)
		if err != nil {
			return nil, "", err
		}
		return &replay.Source{Records: recs, Speed: sc.Replay.Speed, Loop: sc.Replay.Loop}, "replay:" + sc.Replay.Path, nil

	case config.SourceIMU:
		return icm20948.NewSource(icm20948.Config{
			I2CBus:         sc.IMU.I2CBus,
			IMUAddr:        sc.IMU.IMUAddr,
			MagAddr:        sc.IMU.MagAddr,
			Interval:       sc.IMU.Interval,
			NoMagnetometer: sc.IMU.NoMagnetometer,
		}), "icm20948", nil
	}
	return nil, "", fmt.Errorf("unknown source kind %q", sc.Kind)
}

func (r *liveRuntime) add(src sensors.Source, name string) {
	r.sources = append(r.sources, src)
	r.names = append(r.names, name)
}

// Close releases the recorder and sockets in reverse order of creation.
func (r *liveRuntime) Close() {
	if r == nil {
		return
	}
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil {
			log.Printf("close failed: %v", err)
		}
	}
	r.closers = nil
}

// run wires sources, fusion, and the web and UDP sinks, and blocks until the
// session ends.
func run(ctx context.Context, cfg config.Config, logs *web.LogBuffer) error {
	fcfg, err := fusionConfig(cfg)
	if err != nil {
		return err
	}
	rt, err := newLiveRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	status := web.NewStatus()
	status.SetStatic(rt.names, fusionInfo(cfg))

	states := web.NewBroadcaster()
	sinks := fusion.Sinks{states}
	if rt.udp != nil {
		sinks = append(sinks, rt.udp)
	}
	svc := fusion.New(fcfg, sinks)

	webCtx, stopWeb := context.WithCancel(ctx)
	webDone := make(chan struct{})
	go func() {
		defer close(webDone)
		err := web.Serve(webCtx, cfg.Web.Listen, status, states, logs, svc)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("web: server stopped: %v", err)
		}
	}()

	err = svc.Run(ctx, rt.sources...)
	stopWeb()
	<-webDone
	return err
}
