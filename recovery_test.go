package scalpscan

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExecutor records recovery actions and can be told to fail them.
type fakeExecutor struct {
	calls []string
	fail  error
}

func (f *fakeExecutor) ResetTracking(context.Context) error {
	f.calls = append(f.calls, "reset_tracking")
	return f.fail
}

func (f *fakeExecutor) PauseCapture(_ context.Context, d time.Duration) error {
	f.calls = append(f.calls, "pause")
	return f.fail
}

func (f *fakeExecutor) AdjustScanningDistance(context.Context) error {
	f.calls = append(f.calls, "adjust_distance")
	return f.fail
}

func (f *fakeExecutor) RestartSession(context.Context) error {
	f.calls = append(f.calls, "restart")
	return f.fail
}

// fakeClock lets tests drive the throttle and escalation windows.
type fakeClock struct {
	t time.Time
}

func (f *fakeClock) now() time.Time                { return f.t }
func (f *fakeClock) advance(d time.Duration)       { f.t = f.t.Add(d) }
func noSleep(context.Context, time.Duration) error { return nil }

func newTestRecoverer(exec Executor, metrics MetricsSource) (*Recoverer, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)}
	r := NewRecoverer(DefaultRecoveryConfig(), exec, metrics, nil, nil)
	r.now = clock.now
	r.sleep = noSleep
	return r, clock
}

func TestRecoveryUnrecoverableRefused(t *testing.T) {
	exec := &fakeExecutor{}
	r, _ := newTestRecoverer(exec, nil)

	serr := NewScanError(KindUnrecoverable, "sensor fault", ScanMetrics{}, 7)
	outcome, err := r.Handle(context.Background(), serr)

	assert.Equal(t, RecoveryRefused, outcome)
	assert.Same(t, error(serr), err)
	assert.Empty(t, exec.calls, "no strategy runs for an unrecoverable error")
}

func TestRecoveryThrottleBlocksBurst(t *testing.T) {
	exec := &fakeExecutor{}
	r, clock := newTestRecoverer(exec, nil)

	serr := NewScanError(KindTrackingLost, "lost", ScanMetrics{}, 0)
	ctx := context.Background()

	// Three same-kind errors inside the window recover normally.
	for i := 0; i < 3; i++ {
		outcome, err := r.Handle(ctx, serr)
		require.NoError(t, err)
		require.Equal(t, RecoverySucceeded, outcome)
		clock.advance(100 * time.Millisecond)
	}

	// The fourth within the same second is a systemic fault.
	outcome, err := r.Handle(ctx, serr)
	assert.Equal(t, RecoveryRefused, outcome)
	require.ErrorIs(t, err, ErrRecoveryRefused)
	assert.ErrorIs(t, err, error(serr))

	// Once the window slides past the burst, recovery resumes.
	clock.advance(2 * time.Second)
	outcome, err = r.Handle(ctx, serr)
	assert.NoError(t, err)
	assert.Equal(t, RecoverySucceeded, outcome)
}

func TestRecoveryThrottleIsPerKind(t *testing.T) {
	exec := &fakeExecutor{}
	r, clock := newTestRecoverer(exec, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := r.Handle(ctx, NewScanError(KindTrackingLost, "lost", ScanMetrics{}, 0))
		require.NoError(t, err)
		clock.advance(10 * time.Millisecond)
	}

	// A different kind is not throttled by the tracking burst.
	outcome, err := r.Handle(ctx, NewScanError(KindExcessiveMotion, "shaky", ScanMetrics{MotionMagnitude: 5}, 0))
	assert.NoError(t, err)
	assert.Equal(t, RecoverySucceeded, outcome)
}

func TestRecoveryMaxAttemptsExhausted(t *testing.T) {
	exec := &fakeExecutor{}
	// Metrics never improve, so every attempt fails validation.
	metrics := func() ScanMetrics { return ScanMetrics{LightIntensity: 10} }
	r, _ := newTestRecoverer(exec, metrics)

	serr := NewScanError(KindInsufficientLighting, "dark", ScanMetrics{LightIntensity: 10}, 0)
	outcome, err := r.Handle(context.Background(), serr)

	assert.Equal(t, RecoveryFailed, outcome)
	require.ErrorIs(t, err, ErrRecoveryFailed)
	assert.ErrorIs(t, err, error(serr))
	assert.Len(t, exec.calls, 3, "one strategy execution per attempt")

	log := r.Attempts()
	require.Len(t, log, 3)
	for _, a := range log {
		assert.Equal(t, KindInsufficientLighting, a.Kind)
		assert.False(t, a.Success)
	}
}

func TestRecoveryValidatesAgainstLiveMetrics(t *testing.T) {
	exec := &fakeExecutor{}
	light := 10.0
	metrics := func() ScanMetrics { return ScanMetrics{LightIntensity: light} }
	r, _ := newTestRecoverer(exec, metrics)

	// The pause gives the operator time to fix the lighting.
	light = 80
	serr := NewScanError(KindInsufficientLighting, "dark", ScanMetrics{LightIntensity: 10}, 0)
	outcome, err := r.Handle(context.Background(), serr)

	require.NoError(t, err)
	assert.Equal(t, RecoverySucceeded, outcome)
	assert.Equal(t, []string{"pause"}, exec.calls)

	log := r.Attempts()
	require.Len(t, log, 1)
	assert.True(t, log[0].Success)
	assert.Equal(t, StrategyPauseAndStabilize, log[0].Strategy)
}

func TestRecoveryExecutionFailureRetries(t *testing.T) {
	exec := &fakeExecutor{fail: errors.New("actuator offline")}
	r, _ := newTestRecoverer(exec, nil)

	serr := NewScanError(KindTrackingLost, "lost", ScanMetrics{}, 0)
	outcome, err := r.Handle(context.Background(), serr)

	assert.Equal(t, RecoveryFailed, outcome)
	assert.ErrorIs(t, err, ErrRecoveryFailed)
	// Tracking escalates to a full restart on the third attempt.
	assert.Equal(t, []string{"reset_tracking", "reset_tracking", "restart"}, exec.calls)
}

func TestRecoveryStrategyTable(t *testing.T) {
	r, _ := newTestRecoverer(&fakeExecutor{}, nil)

	tests := []struct {
		kind ErrorKind
		want StrategyKind
	}{
		{KindQualityBelowThreshold, StrategyAdjustQualityThresholds},
		{KindInsufficientLighting, StrategyPauseAndStabilize},
		{KindExcessiveMotion, StrategyPauseAndStabilize},
		{KindTrackingLost, StrategyResetTracking},
		{KindResourceExhaustion, StrategyOptimizeResources},
		{KindProcessingTimeout, StrategyOptimizeResources},
	}
	for _, tc := range tests {
		s := r.determineStrategy(NewScanError(tc.kind, "", ScanMetrics{}, 0), 0)
		assert.Equal(t, tc.want, s.Kind, "kind %s", tc.kind)
	}

	// Motion escalates to a distance adjustment on retry.
	s := r.determineStrategy(NewScanError(KindExcessiveMotion, "", ScanMetrics{}, 0), 1)
	assert.Equal(t, StrategyAdjustScanningDistance, s.Kind)
}

func TestRecoveryUnknownKindEscalates(t *testing.T) {
	r, clock := newTestRecoverer(&fakeExecutor{}, nil)
	serr := NewScanError(KindUnknown, "mystery", ScanMetrics{}, 0)

	want := []StrategyKind{
		StrategyPauseAndStabilize,
		StrategyAdjustQualityThresholds,
		StrategyOptimizeResources,
		StrategyResetAndRetry,
		StrategyResetAndRetry,
	}
	for i, w := range want {
		s := r.determineStrategy(serr, 0)
		assert.Equal(t, w, s.Kind, "escalation step %d", i)
		r.record(KindUnknown, s.Kind, false)
		clock.advance(10 * time.Second)
	}

	// Attempts older than the escalation window no longer count.
	clock.advance(6 * time.Minute)
	s := r.determineStrategy(serr, 0)
	assert.Equal(t, StrategyPauseAndStabilize, s.Kind)
}

func TestRecoveryAttemptLogBounded(t *testing.T) {
	r, _ := newTestRecoverer(&fakeExecutor{}, nil)
	r.cfg.AttemptLogCap = 10

	for i := 0; i < 25; i++ {
		r.record(KindTrackingLost, StrategyResetTracking, true)
	}
	assert.Len(t, r.Attempts(), 10)
}

func TestRecoveryNilErrorNoop(t *testing.T) {
	exec := &fakeExecutor{}
	r, _ := newTestRecoverer(exec, nil)

	outcome, err := r.Handle(context.Background(), nil)
	assert.NoError(t, err)
	assert.Equal(t, RecoverySucceeded, outcome)
	assert.Empty(t, exec.calls)
}
