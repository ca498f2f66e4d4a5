package scalpscan

import (
	"context"
	"time"
)

// PerformanceSource samples device performance for the monitor loop.
type PerformanceSource func() PerformanceSignals

// EnvironmentSource samples capture conditions for the monitor loop.
type EnvironmentSource func() EnvironmentSignals

// MonitorConfig tunes the signal sampling loop.
type MonitorConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// DefaultMonitorConfig returns the standard 1 s sampling interval.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{Interval: time.Second}
}

// RunMonitor polls the performance and environment sources on a ticker,
// feeds each sample through the controller's selection policy, and forwards
// the reason code of every resulting transition to the guidance sink.
// Returns when the context is cancelled.
func (s *Session) RunMonitor(ctx context.Context, cfg MonitorConfig, perf PerformanceSource, env EnvironmentSource) error {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultMonitorConfig().Interval
	}

	s.logger.Infof("Monitoring capture signals every %v", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Monitor shutting down")
			return ctx.Err()
		case <-ticker.C:
		}

		transition := s.controller.UpdateSignals(perf(), env())
		if transition == nil {
			continue
		}

		s.logger.Infof("Profile %s -> %s (%s)", transition.From, transition.To, transition.Reason)
		s.guidance.Guide(transition.Reason.String())
	}
}
