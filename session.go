package scalpscan

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.viam.com/rdk/logging"

	"github.com/biotinker/scalpscan/scanmesh"
)

// GuidanceSink receives machine-readable reason codes for operator guidance.
// Implementations decide how to present them; the session never formats
// user-facing text.
type GuidanceSink interface {
	Guide(code string)
}

// GuidanceFunc adapts a function to a GuidanceSink.
type GuidanceFunc func(code string)

func (f GuidanceFunc) Guide(code string) { f(code) }

// Session holds all collaborators and state for one scanning session.
type Session struct {
	logger logging.Logger

	// Quality pipeline
	assessor  *scanmesh.Assessor
	detector  *scanmesh.FeatureDetector
	preserver *scanmesh.Preserver
	decimator *scanmesh.Decimator

	// Control
	controller *Controller
	recoverer  *Recoverer
	guidance   GuidanceSink

	// State
	mu    sync.Mutex
	state *ScanState

	// generation is bumped on every BeginCapture; results computed under an
	// older generation are discarded instead of applied.
	generation atomic.Int64
}

// ScanState tracks the state of the current capture cycle.
type ScanState struct {
	// Latest mesh from the capture path.
	Mesh *scanmesh.Mesh

	// Report from the most recent assessment.
	LastReport *scanmesh.QualityReport

	// Detected anatomical features, populated during Finalize.
	Features []scanmesh.Feature

	// Counters for the session.
	MeshUpdates    int
	RejectedStale  int
	ScansFinalized int
}

// NewSession creates a Session. The mesh config, controller and recoverer are
// required; the guidance sink may be nil.
func NewSession(cfg *scanmesh.Config, controller *Controller, recoverer *Recoverer, guidance GuidanceSink, logger logging.Logger) (*Session, error) {
	if controller == nil {
		return nil, fmt.Errorf("session requires a controller")
	}
	if recoverer == nil {
		return nil, fmt.Errorf("session requires a recoverer")
	}
	if logger == nil {
		logger = logging.NewLogger("scan-session")
	}
	if guidance == nil {
		guidance = GuidanceFunc(func(string) {})
	}
	if cfg == nil {
		def := scanmesh.DefaultConfig()
		cfg = &def
	}
	return &Session{
		logger:     logger,
		assessor:   scanmesh.NewAssessor(&cfg.Assess),
		detector:   scanmesh.NewFeatureDetector(&cfg.Feature),
		preserver:  scanmesh.NewPreserver(&cfg.Preserve),
		decimator:  scanmesh.NewDecimator(&cfg.Decimate),
		controller: controller,
		recoverer:  recoverer,
		guidance:   guidance,
		state:      &ScanState{},
	}, nil
}

// Controller returns the session's quality controller.
func (s *Session) Controller() *Controller {
	return s.controller
}

// State returns a copy of the current scan state.
func (s *Session) State() ScanState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := *s.state
	return st
}

// BeginCapture starts a fresh capture cycle. Any in-flight results from the
// previous cycle become stale and will be discarded on arrival.
func (s *Session) BeginCapture() {
	gen := s.generation.Add(1)

	s.mu.Lock()
	s.state = &ScanState{ScansFinalized: s.state.ScansFinalized}
	s.mu.Unlock()

	s.logger.Infof("Capture started (generation %d)", gen)
}

// HandleMeshUpdate assesses an incremental mesh update and feeds the result
// into the control loop. The mesh is assessed exactly once; an unacceptable
// report raises a quality error into the recoverer.
func (s *Session) HandleMeshUpdate(ctx context.Context, mesh *scanmesh.Mesh) (*scanmesh.QualityReport, error) {
	gen := s.generation.Load()

	report, err := s.assessor.Assess(ctx, mesh)
	if err != nil {
		return nil, fmt.Errorf("assess mesh update: %w", err)
	}

	// Discard results that started under a previous capture cycle.
	if s.generation.Load() != gen {
		s.mu.Lock()
		s.state.RejectedStale++
		s.mu.Unlock()
		s.logger.Debugf("Discarding stale assessment from generation %d", gen)
		return nil, nil
	}

	s.mu.Lock()
	s.state.Mesh = mesh
	s.state.LastReport = report
	s.state.MeshUpdates++
	s.mu.Unlock()

	if report.Overall == scanmesh.QualityLow {
		s.guidance.Guide("quality_low")
		serr := NewScanError(KindQualityBelowThreshold, "mesh quality below acceptance thresholds", ScanMetrics{}, gen)
		if outcome, rerr := s.recoverer.Handle(ctx, serr); rerr != nil {
			s.logger.Warnf("Quality recovery %s: %v", outcome, rerr)
		}
	}

	return report, nil
}

// Finalize runs the closing pipeline over the session mesh: detect features,
// pull the mesh toward them, decimate, and re-assess. The caller persists
// the returned mesh and report.
func (s *Session) Finalize(ctx context.Context) (*scanmesh.Mesh, *scanmesh.QualityReport, error) {
	gen := s.generation.Load()

	s.mu.Lock()
	mesh := s.state.Mesh
	s.mu.Unlock()
	if mesh == nil {
		return nil, nil, fmt.Errorf("finalize: no mesh captured")
	}

	var features []scanmesh.Feature
	var report *scanmesh.QualityReport

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"DetectFeatures", func(ctx context.Context) error {
			var err error
			features, err = s.detector.Detect(ctx, mesh)
			return err
		}},
		{"PreserveFeatures", func(ctx context.Context) error {
			return s.preserver.Apply(ctx, mesh, features)
		}},
		{"Decimate", func(ctx context.Context) error {
			var err error
			mesh, err = s.decimator.Decimate(ctx, mesh, features)
			return err
		}},
		{"Reassess", func(ctx context.Context) error {
			var err error
			report, err = s.assessor.Assess(ctx, mesh)
			return err
		}},
	}

	for _, step := range steps {
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		default:
		}

		s.logger.Infof("=== %s ===", step.name)
		if err := step.fn(ctx); err != nil {
			return nil, nil, fmt.Errorf("%s: %w", step.name, err)
		}
	}

	if s.generation.Load() != gen {
		s.mu.Lock()
		s.state.RejectedStale++
		s.mu.Unlock()
		return nil, nil, fmt.Errorf("finalize: capture restarted during pipeline")
	}

	s.mu.Lock()
	s.state.Mesh = mesh
	s.state.LastReport = report
	s.state.Features = features
	s.state.ScansFinalized++
	finalized := s.state.ScansFinalized
	s.mu.Unlock()

	s.logger.Infof("Scan %d finalized: %d vertices, %d features, overall %s",
		finalized, mesh.VertexCount(), len(features), report.Overall)
	return mesh, report, nil
}
