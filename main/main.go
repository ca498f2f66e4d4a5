package main

import (
	"context"
	"flag"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/biotinker/scalpscan"

	"go.viam.com/rdk/logging"
)

// Demo driver for the quality control loop. Synthetic performance and
// environment sources sweep through thermal, frame-time and lighting
// regimes so every controller transition fires without real hardware.
func main() {
	configPath := flag.String("config", "", "path to YAML config file (optional)")
	flag.Parse()

	logger := logging.NewDebugLogger("scalpscan")

	cfg := scalpscan.DefaultConfig()
	if *configPath != "" {
		loaded, err := scalpscan.LoadConfig(*configPath)
		if err != nil {
			logger.Fatal(err)
		}
		cfg = *loaded
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	controller := scalpscan.NewController(cfg.Controller, scalpscan.ProfileBalanced,
		func(p scalpscan.ProfileParameters) {
			logger.Debugf("Applied parameters: resolution=%.2f batch=%d detail=%.2f",
				p.ResolutionScale, p.BatchSize, p.MeshDetail)
		}, logger)

	recoverer := scalpscan.NewRecoverer(cfg.Recovery, noopExecutor{}, nil, controller, logger)

	session, err := scalpscan.NewSession(&cfg.Mesh, controller, recoverer,
		scalpscan.GuidanceFunc(func(code string) {
			logger.Infof("Guidance: %s", code)
		}), logger)
	if err != nil {
		logger.Fatal(err)
	}

	session.BeginCapture()

	start := time.Now()
	perf := func() scalpscan.PerformanceSignals {
		t := time.Since(start).Seconds()
		return scalpscan.PerformanceSignals{
			// Frame time drifts past the 33ms budget every other minute.
			FrameTime:   time.Duration(25+15*math.Sin(t/30)) * time.Millisecond,
			MemoryUsage: 0.5 + 0.4*math.Sin(t/45),
			Thermal:     thermalAt(t),
		}
	}
	env := func() scalpscan.EnvironmentSignals {
		t := time.Since(start).Seconds()
		return scalpscan.EnvironmentSignals{
			LightIntensity:  80 + 60*math.Sin(t/20),
			MotionMagnitude: 0.1,
		}
	}

	if err := session.RunMonitor(ctx, cfg.Monitor, perf, env); err != nil && ctx.Err() == nil {
		logger.Fatal(err)
	}

	for _, tr := range controller.History() {
		logger.Infof("Transition %s -> %s (%s) at %s", tr.From, tr.To, tr.Reason, tr.At.Format(time.TimeOnly))
	}
}

func thermalAt(t float64) scalpscan.ThermalState {
	switch {
	case math.Mod(t, 180) > 150:
		return scalpscan.ThermalCritical
	case math.Mod(t, 180) > 120:
		return scalpscan.ThermalSerious
	default:
		return scalpscan.ThermalNominal
	}
}

// noopExecutor satisfies the recovery executor without hardware attached.
type noopExecutor struct{}

func (noopExecutor) ResetTracking(context.Context) error { return nil }
func (noopExecutor) PauseCapture(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
func (noopExecutor) AdjustScanningDistance(context.Context) error { return nil }
func (noopExecutor) RestartSession(context.Context) error         { return nil }
