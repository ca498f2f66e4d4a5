package scalpscan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.viam.com/rdk/logging"
)

// ErrorKind is the closed taxonomy of scanning failures. Strategy selection
// switches exhaustively over it.
type ErrorKind int

const (
	KindQualityBelowThreshold ErrorKind = iota
	KindInsufficientLighting
	KindExcessiveMotion
	KindTrackingLost
	KindResourceExhaustion
	KindProcessingTimeout
	KindUnrecoverable
	KindUnknown
)

func (k ErrorKind) String() string {
	switch k {
	case KindQualityBelowThreshold:
		return "quality_below_threshold"
	case KindInsufficientLighting:
		return "insufficient_lighting"
	case KindExcessiveMotion:
		return "excessive_motion"
	case KindTrackingLost:
		return "tracking_lost"
	case KindResourceExhaustion:
		return "resource_exhaustion"
	case KindProcessingTimeout:
		return "processing_timeout"
	case KindUnrecoverable:
		return "unrecoverable"
	default:
		return "unknown"
	}
}

// ScanMetrics is the capture-condition snapshot carried by errors and
// re-read during recovery validation.
type ScanMetrics struct {
	MemoryUsage     float64
	FrameRate       float64
	LightIntensity  float64
	MotionMagnitude float64
}

// ScanError is a typed scanning failure with enough context for strategy
// selection: the live metrics at raise time and a frame reference.
type ScanError struct {
	Kind     ErrorKind
	Msg      string
	Metrics  ScanMetrics
	FrameRef int64
}

func (e *ScanError) Error() string {
	if e.Msg == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// NewScanError builds a ScanError for the given kind.
func NewScanError(kind ErrorKind, msg string, metrics ScanMetrics, frameRef int64) *ScanError {
	return &ScanError{Kind: kind, Msg: msg, Metrics: metrics, FrameRef: frameRef}
}

var (
	// ErrRecoveryRefused is returned when throttle or attempt limits block recovery.
	ErrRecoveryRefused = errors.New("recovery refused")

	// ErrRecoveryFailed is returned when every attempted strategy failed validation.
	ErrRecoveryFailed = errors.New("recovery failed validation")
)

// StrategyKind identifies a recovery strategy.
type StrategyKind int

const (
	StrategyResetTracking StrategyKind = iota
	StrategyAdjustQualityThresholds
	StrategyOptimizeResources
	StrategyPauseAndStabilize
	StrategyAdjustScanningDistance
	StrategyResetAndRetry
)

func (s StrategyKind) String() string {
	switch s {
	case StrategyResetTracking:
		return "reset_tracking"
	case StrategyAdjustQualityThresholds:
		return "adjust_quality_thresholds"
	case StrategyOptimizeResources:
		return "optimize_resources"
	case StrategyPauseAndStabilize:
		return "pause_and_stabilize"
	case StrategyAdjustScanningDistance:
		return "adjust_scanning_distance"
	case StrategyResetAndRetry:
		return "reset_and_retry"
	default:
		return "unknown"
	}
}

// Strategy is a recovery action with its parameters.
type Strategy struct {
	Kind          StrategyKind
	PauseDuration time.Duration  // for pause-and-stabilize
	MemoryTarget  float64        // for optimize-resources
	Profile       QualityProfile // for optimize-resources / quality adjustments
}

// RecoveryOutcome reports how a Handle call ended.
type RecoveryOutcome int

const (
	RecoverySucceeded RecoveryOutcome = iota
	RecoveryFailed
	RecoveryRefused
)

func (o RecoveryOutcome) String() string {
	switch o {
	case RecoverySucceeded:
		return "succeeded"
	case RecoveryFailed:
		return "failed"
	case RecoveryRefused:
		return "refused"
	default:
		return "unknown"
	}
}

// RecoveryAttempt is one entry in the bounded rolling attempt log.
type RecoveryAttempt struct {
	At       time.Time
	Kind     ErrorKind
	Strategy StrategyKind
	Success  bool
}

// Executor performs recovery actions against the external capture path.
// Implementations must return promptly when the context is cancelled.
type Executor interface {
	ResetTracking(ctx context.Context) error
	PauseCapture(ctx context.Context, d time.Duration) error
	AdjustScanningDistance(ctx context.Context) error
	RestartSession(ctx context.Context) error
}

// MetricsSource re-reads live capture metrics for post-strategy validation.
type MetricsSource func() ScanMetrics

// RecoveryConfig bounds attempts, throttling and escalation.
type RecoveryConfig struct {
	MaxAttempts      int           `yaml:"max_attempts"`      // attempts per handled error instance
	ThrottleWindow   time.Duration `yaml:"throttle_window"`   // same-kind burst window
	ThrottleLimit    int           `yaml:"throttle_limit"`    // same-kind errors inside window that block recovery
	EscalationWindow time.Duration `yaml:"escalation_window"` // trailing window for unknown-error escalation
	AttemptLogCap    int           `yaml:"attempt_log_cap"`   // rolling attempt log size
	ExecuteTimeout   time.Duration `yaml:"execute_timeout"`   // per-strategy execution budget
	StabilizePause   time.Duration `yaml:"stabilize_pause"`   // pause-and-stabilize duration
	RetryBackoff     time.Duration `yaml:"retry_backoff"`     // sleep between attempts
}

// DefaultRecoveryConfig returns the standard bounds.
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		MaxAttempts:      3,
		ThrottleWindow:   time.Second,
		ThrottleLimit:    3,
		EscalationWindow: 5 * time.Minute,
		AttemptLogCap:    100,
		ExecuteTimeout:   10 * time.Second,
		StabilizePause:   2 * time.Second,
		RetryBackoff:     500 * time.Millisecond,
	}
}

// Recoverer classifies scan errors, runs a bounded recovery strategy and
// validates that the originating condition actually cleared. It owns no
// global state; the executor, metrics source and controller are injected.
type Recoverer struct {
	mu         sync.Mutex
	cfg        RecoveryConfig
	logger     logging.Logger
	executor   Executor
	metrics    MetricsSource
	controller *Controller
	attempts   []RecoveryAttempt
	recent     []struct {
		kind ErrorKind
		at   time.Time
	}

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRecoverer creates a Recoverer. The controller may be nil when quality
// adjustments are handled elsewhere.
func NewRecoverer(cfg RecoveryConfig, executor Executor, metrics MetricsSource, controller *Controller, logger logging.Logger) *Recoverer {
	def := DefaultRecoveryConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.ThrottleWindow <= 0 {
		cfg.ThrottleWindow = def.ThrottleWindow
	}
	if cfg.ThrottleLimit <= 0 {
		cfg.ThrottleLimit = def.ThrottleLimit
	}
	if cfg.EscalationWindow <= 0 {
		cfg.EscalationWindow = def.EscalationWindow
	}
	if cfg.AttemptLogCap <= 0 {
		cfg.AttemptLogCap = def.AttemptLogCap
	}
	if cfg.ExecuteTimeout <= 0 {
		cfg.ExecuteTimeout = def.ExecuteTimeout
	}
	if cfg.StabilizePause <= 0 {
		cfg.StabilizePause = def.StabilizePause
	}
	if logger == nil {
		logger = logging.NewLogger("scan-recovery")
	}
	return &Recoverer{
		cfg:        cfg,
		logger:     logger,
		executor:   executor,
		metrics:    metrics,
		controller: controller,
		now:        time.Now,
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Attempts returns a copy of the rolling attempt log, oldest first.
func (r *Recoverer) Attempts() []RecoveryAttempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RecoveryAttempt(nil), r.attempts...)
}

// Handle classifies the error, runs up to MaxAttempts recovery strategies
// with backoff, and validates each against live metrics. The original error
// is re-raised when the kind is non-recoverable, when the same kind burst
// past the throttle limit inside the throttle window, or when every attempt
// fails validation.
func (r *Recoverer) Handle(ctx context.Context, serr *ScanError) (RecoveryOutcome, error) {
	if serr == nil {
		return RecoverySucceeded, nil
	}

	if serr.Kind == KindUnrecoverable {
		r.logger.Errorf("unrecoverable scan error: %v", serr)
		return RecoveryRefused, serr
	}

	if !r.admit(serr.Kind) {
		r.logger.Warnf("recovery throttled for %s: %d similar errors within %v", serr.Kind, r.cfg.ThrottleLimit, r.cfg.ThrottleWindow)
		return RecoveryRefused, fmt.Errorf("%w: %d %s errors within %v: %w",
			ErrRecoveryRefused, r.cfg.ThrottleLimit, serr.Kind, r.cfg.ThrottleWindow, serr)
	}

	for attempt := 0; attempt < r.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := r.sleep(ctx, r.cfg.RetryBackoff); err != nil {
				return RecoveryFailed, err
			}
		}

		strategy := r.determineStrategy(serr, attempt)
		r.logger.Infof("recovery attempt %d/%d for %s: %s", attempt+1, r.cfg.MaxAttempts, serr.Kind, strategy.Kind)

		execErr := r.execute(ctx, strategy)
		ok := execErr == nil && r.validate(serr)
		r.record(serr.Kind, strategy.Kind, ok)

		if execErr != nil {
			r.logger.Warnf("strategy %s execution failed: %v", strategy.Kind, execErr)
			continue
		}
		if ok {
			return RecoverySucceeded, nil
		}
		r.logger.Warnf("strategy %s did not clear the originating condition", strategy.Kind)
	}

	return RecoveryFailed, fmt.Errorf("%w after %d attempts: %w", ErrRecoveryFailed, r.cfg.MaxAttempts, serr)
}

// admit records the error arrival and applies the same-kind throttle: when
// the configured number of same-kind errors already landed inside the
// window, the new one is refused as a systemic fault.
func (r *Recoverer) admit(kind ErrorKind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	cutoff := now.Add(-r.cfg.ThrottleWindow)
	kept := r.recent[:0]
	for _, e := range r.recent {
		if e.at.After(cutoff) {
			kept = append(kept, e)
		}
	}
	r.recent = kept

	same := 0
	for _, e := range r.recent {
		if e.kind == kind {
			same++
		}
	}

	r.recent = append(r.recent, struct {
		kind ErrorKind
		at   time.Time
	}{kind, now})

	return same < r.cfg.ThrottleLimit
}

// determineStrategy maps an error kind to its strategy. Unknown kinds
// escalate with the number of recent attempts in the trailing escalation
// window: pause, then lower quality, then optimize resources, then a full
// reset.
func (r *Recoverer) determineStrategy(serr *ScanError, attempt int) Strategy {
	switch serr.Kind {
	case KindQualityBelowThreshold:
		return Strategy{Kind: StrategyAdjustQualityThresholds, Profile: ProfileBalanced}
	case KindInsufficientLighting:
		return Strategy{Kind: StrategyPauseAndStabilize, PauseDuration: r.cfg.StabilizePause}
	case KindExcessiveMotion:
		if attempt > 0 {
			return Strategy{Kind: StrategyAdjustScanningDistance}
		}
		return Strategy{Kind: StrategyPauseAndStabilize, PauseDuration: r.cfg.StabilizePause}
	case KindTrackingLost:
		if attempt > 1 {
			return Strategy{Kind: StrategyResetAndRetry}
		}
		return Strategy{Kind: StrategyResetTracking}
	case KindResourceExhaustion:
		return Strategy{Kind: StrategyOptimizeResources, MemoryTarget: 0.6, Profile: ProfileReduced}
	case KindProcessingTimeout:
		return Strategy{Kind: StrategyOptimizeResources, MemoryTarget: 0.7, Profile: ProfileReduced}
	default:
		return r.escalated()
	}
}

// escalated picks an increasingly aggressive strategy from the count of
// recent attempts in the escalation window.
func (r *Recoverer) escalated() Strategy {
	r.mu.Lock()
	cutoff := r.now().Add(-r.cfg.EscalationWindow)
	recent := 0
	for _, a := range r.attempts {
		if a.At.After(cutoff) {
			recent++
		}
	}
	r.mu.Unlock()

	switch {
	case recent == 0:
		return Strategy{Kind: StrategyPauseAndStabilize, PauseDuration: r.cfg.StabilizePause}
	case recent == 1:
		return Strategy{Kind: StrategyAdjustQualityThresholds, Profile: ProfileReduced}
	case recent == 2:
		return Strategy{Kind: StrategyOptimizeResources, MemoryTarget: 0.5, Profile: ProfileMinimum}
	default:
		return Strategy{Kind: StrategyResetAndRetry}
	}
}

// execute runs one strategy under the per-strategy timeout.
func (r *Recoverer) execute(ctx context.Context, s Strategy) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.ExecuteTimeout)
	defer cancel()

	switch s.Kind {
	case StrategyResetTracking:
		return r.executor.ResetTracking(ctx)
	case StrategyPauseAndStabilize:
		return r.executor.PauseCapture(ctx, s.PauseDuration)
	case StrategyAdjustScanningDistance:
		return r.executor.AdjustScanningDistance(ctx)
	case StrategyResetAndRetry:
		return r.executor.RestartSession(ctx)
	case StrategyAdjustQualityThresholds, StrategyOptimizeResources:
		if r.controller != nil {
			r.controller.SetProfile(s.Profile)
		}
		return nil
	default:
		return fmt.Errorf("unhandled strategy %v", s.Kind)
	}
}

// validate re-checks the metrics that raised the error. A strategy succeeds
// only when the originating condition is actually resolved, not merely when
// execution returned without error.
func (r *Recoverer) validate(serr *ScanError) bool {
	if r.metrics == nil {
		return true
	}
	m := r.metrics()
	switch serr.Kind {
	case KindInsufficientLighting:
		return m.LightIntensity > serr.Metrics.LightIntensity
	case KindExcessiveMotion:
		return m.MotionMagnitude < serr.Metrics.MotionMagnitude
	case KindResourceExhaustion:
		return m.MemoryUsage < serr.Metrics.MemoryUsage
	case KindProcessingTimeout:
		return m.FrameRate > serr.Metrics.FrameRate
	case KindQualityBelowThreshold, KindTrackingLost:
		// Quality and tracking have no single live metric; trust that the
		// capture path reports a fresh error if the condition persists.
		return true
	default:
		return true
	}
}

// record appends to the bounded rolling attempt log.
func (r *Recoverer) record(kind ErrorKind, strategy StrategyKind, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, RecoveryAttempt{
		At:       r.now(),
		Kind:     kind,
		Strategy: strategy,
		Success:  success,
	})
	if len(r.attempts) > r.cfg.AttemptLogCap {
		r.attempts = r.attempts[len(r.attempts)-r.cfg.AttemptLogCap:]
	}
}
