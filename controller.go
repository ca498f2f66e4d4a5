package scalpscan

import (
	"sync"
	"time"

	"go.viam.com/rdk/logging"
)

// QualityProfile is a named bundle of capture/processing parameters trading
// fidelity for performance. Profiles are ordered from most to least detailed.
type QualityProfile int

const (
	ProfileMaximum QualityProfile = iota
	ProfileHigh
	ProfileBalanced
	ProfileReduced
	ProfileMinimum
)

func (p QualityProfile) String() string {
	switch p {
	case ProfileMaximum:
		return "maximum"
	case ProfileHigh:
		return "high"
	case ProfileBalanced:
		return "balanced"
	case ProfileReduced:
		return "reduced"
	case ProfileMinimum:
		return "minimum"
	default:
		return "unknown"
	}
}

// ProfileParameters are the concrete capture/processing knobs a profile maps
// to. They are pushed to the external capture path via the controller's
// apply sink.
type ProfileParameters struct {
	ResolutionScale      float64 // Capture resolution relative to device maximum
	BatchSize            int     // Frames per processing batch
	PreservationStrength float64 // Feature preservation blend strength
	TextureQuality       float64 // Texture sampling quality, 0..1
	LightSensitivity     float64 // Sensor gain multiplier for dim scenes
	MeshDetail           float64 // Target mesh detail, 0..1
}

// parametersFor maps each profile to its parameter bundle.
func parametersFor(p QualityProfile) ProfileParameters {
	switch p {
	case ProfileMaximum:
		return ProfileParameters{ResolutionScale: 1.0, BatchSize: 64, PreservationStrength: 0.9, TextureQuality: 1.0, LightSensitivity: 1.0, MeshDetail: 1.0}
	case ProfileHigh:
		return ProfileParameters{ResolutionScale: 0.85, BatchSize: 48, PreservationStrength: 0.8, TextureQuality: 0.85, LightSensitivity: 1.0, MeshDetail: 0.85}
	case ProfileBalanced:
		return ProfileParameters{ResolutionScale: 0.7, BatchSize: 32, PreservationStrength: 0.6, TextureQuality: 0.7, LightSensitivity: 1.1, MeshDetail: 0.7}
	case ProfileReduced:
		return ProfileParameters{ResolutionScale: 0.5, BatchSize: 16, PreservationStrength: 0.4, TextureQuality: 0.5, LightSensitivity: 1.2, MeshDetail: 0.5}
	default: // ProfileMinimum
		return ProfileParameters{ResolutionScale: 0.3, BatchSize: 8, PreservationStrength: 0.2, TextureQuality: 0.3, LightSensitivity: 1.3, MeshDetail: 0.3}
	}
}

// ThermalState mirrors the OS-reported device thermal level.
type ThermalState int

const (
	ThermalNominal ThermalState = iota
	ThermalFair
	ThermalSerious
	ThermalCritical
)

func (t ThermalState) String() string {
	switch t {
	case ThermalNominal:
		return "nominal"
	case ThermalFair:
		return "fair"
	case ThermalSerious:
		return "serious"
	case ThermalCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// PerformanceSignals is one sample of device load from the OS monitoring
// collaborator.
type PerformanceSignals struct {
	FrameTime   time.Duration
	MemoryUsage float64 // fraction of budget, 0..1+
	Thermal     ThermalState
}

// EnvironmentSignals is one sample of capture conditions.
type EnvironmentSignals struct {
	LightIntensity  float64 // lux
	MotionMagnitude float64 // device motion, arbitrary IMU units
}

// TransitionReason is the machine-readable cause of a profile change,
// forwarded verbatim to the guidance collaborator.
type TransitionReason int

const (
	ReasonThermal TransitionReason = iota
	ReasonPerformance
	ReasonEnvironment
	ReasonMemory
	ReasonManual
)

func (r TransitionReason) String() string {
	switch r {
	case ReasonThermal:
		return "thermal"
	case ReasonPerformance:
		return "performance"
	case ReasonEnvironment:
		return "environment"
	case ReasonMemory:
		return "memory"
	case ReasonManual:
		return "manual"
	default:
		return "unknown"
	}
}

// ProfileTransition records one applied profile change.
type ProfileTransition struct {
	From   QualityProfile
	To     QualityProfile
	Reason TransitionReason
	At     time.Time
}

// ControllerConfig holds the signal thresholds driving profile selection.
type ControllerConfig struct {
	MaxFrameTime      time.Duration `yaml:"max_frame_time"`
	MaxMemoryUsage    float64       `yaml:"max_memory_usage"`
	MinLightIntensity float64       `yaml:"min_light_intensity"`
	HistoryCap        int           `yaml:"history_cap"`
}

// DefaultControllerConfig returns thresholds for a 30fps capture budget.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		MaxFrameTime:      33 * time.Millisecond,
		MaxMemoryUsage:    0.8,
		MinLightIntensity: 50,
		HistoryCap:        50,
	}
}

// ApplyFunc pushes concrete parameters to the external capture/processing
// path. It is called outside the controller's lock.
type ApplyFunc func(ProfileParameters)

// Controller selects the session's quality profile from live performance and
// environment signals. All state lives behind a mutex; readers polling
// CurrentProfile never observe a partial update. The controller is built by
// its owner and holds no process-wide state.
type Controller struct {
	mu      sync.RWMutex
	cfg     ControllerConfig
	logger  logging.Logger
	apply   ApplyFunc
	current QualityProfile
	params  ProfileParameters
	history []ProfileTransition
	now     func() time.Time
}

// NewController creates a Controller starting at the given profile.
func NewController(cfg ControllerConfig, start QualityProfile, apply ApplyFunc, logger logging.Logger) *Controller {
	if cfg.HistoryCap <= 0 {
		cfg.HistoryCap = DefaultControllerConfig().HistoryCap
	}
	if logger == nil {
		logger = logging.NewLogger("quality-controller")
	}
	return &Controller{
		cfg:     cfg,
		logger:  logger,
		apply:   apply,
		current: start,
		params:  parametersFor(start),
		now:     time.Now,
	}
}

// CurrentProfile returns the active profile.
func (c *Controller) CurrentProfile() QualityProfile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// CurrentParameters returns a copy of the active parameter bundle.
func (c *Controller) CurrentParameters() ProfileParameters {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.params
}

// History returns a copy of the bounded transition log, oldest first.
func (c *Controller) History() []ProfileTransition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]ProfileTransition(nil), c.history...)
}

// UpdateSignals runs one evaluation of the selection policy, highest
// priority first:
//
//  1. critical thermal state forces the minimum profile;
//  2. frame time over budget degrades resolution and mesh detail in place;
//  3. dim lighting raises the light sensitivity parameter;
//  4. memory pressure moves to the reduced profile (unless a change was
//     already decided) and always cuts texture quality.
//
// The returned transition is nil when the profile did not change.
// Re-requesting the current profile logs the evaluated signals but emits no
// parameter change.
func (c *Controller) UpdateSignals(perf PerformanceSignals, env EnvironmentSignals) *ProfileTransition {
	c.mu.Lock()

	target := c.current
	reason := ReasonManual
	decided := false
	paramsTouched := false

	if perf.Thermal == ThermalCritical {
		target = ProfileMinimum
		reason = ReasonThermal
		decided = true
	}

	if !decided && perf.FrameTime > c.cfg.MaxFrameTime {
		c.params.ResolutionScale *= 0.9
		c.params.MeshDetail *= 0.9
		paramsTouched = true
		c.logger.Debugf("frame time %v over budget %v; degrading resolution/detail in place", perf.FrameTime, c.cfg.MaxFrameTime)
	}

	if !decided && env.LightIntensity < c.cfg.MinLightIntensity {
		c.params.LightSensitivity *= 1.15
		paramsTouched = true
		c.logger.Debugf("light %.0f below %.0f; raising sensitivity", env.LightIntensity, c.cfg.MinLightIntensity)
	}

	memoryPressure := perf.MemoryUsage > c.cfg.MaxMemoryUsage
	if memoryPressure && !decided {
		target = ProfileReduced
		reason = ReasonMemory
		decided = true
	}

	if decided && target == c.current {
		// Idempotent request: audit the signals, change nothing beyond any
		// in-place parameter tweaks already made above.
		c.logger.Debugf("profile %s re-requested (%s); signals frame=%v mem=%.2f thermal=%s light=%.0f motion=%.2f",
			c.current, reason, perf.FrameTime, perf.MemoryUsage, perf.Thermal, env.LightIntensity, env.MotionMagnitude)
		decided = false
	}

	var result *ProfileTransition
	if decided {
		transition := c.transitionLocked(target, reason)
		result = &transition
		paramsTouched = true
	}

	// The texture cut survives any profile switch above.
	if memoryPressure {
		c.params.TextureQuality *= 0.75
		paramsTouched = true
	}

	params := c.params
	c.mu.Unlock()

	if paramsTouched && c.apply != nil {
		c.apply(params)
	}
	return result
}

// SetProfile applies a manual override. Returns nil when the profile is
// already current.
func (c *Controller) SetProfile(target QualityProfile) *ProfileTransition {
	c.mu.Lock()
	if target == c.current {
		c.logger.Debugf("manual request for current profile %s; no-op", target)
		c.mu.Unlock()
		return nil
	}
	transition := c.transitionLocked(target, ReasonManual)
	params := c.params
	c.mu.Unlock()

	if c.apply != nil {
		c.apply(params)
	}
	return &transition
}

// transitionLocked switches profiles, records history with the bounded cap,
// and loads the target's parameters. Caller holds the write lock.
func (c *Controller) transitionLocked(target QualityProfile, reason TransitionReason) ProfileTransition {
	transition := ProfileTransition{
		From:   c.current,
		To:     target,
		Reason: reason,
		At:     c.now(),
	}
	c.history = append(c.history, transition)
	if len(c.history) > c.cfg.HistoryCap {
		c.history = c.history[len(c.history)-c.cfg.HistoryCap:]
	}

	c.logger.Infof("quality profile %s -> %s (%s)", c.current, target, reason)
	c.current = target
	c.params = parametersFor(target)
	return transition
}
