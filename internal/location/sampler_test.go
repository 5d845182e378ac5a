package location

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"fieldsync/internal/clock"
	"fieldsync/internal/models"
	"fieldsync/internal/service"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedProvider struct {
	mu    sync.Mutex
	steps []func() (Position, error)
	opts  []PositionOptions
}

func (p *scriptedProvider) push(lat, lng float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.steps = append(p.steps, func() (Position, error) {
		return Position{Coordinates: models.Coordinates{Latitude: lat, Longitude: lng}, Accuracy: 8}, nil
	})
}

func (p *scriptedProvider) pushErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.steps = append(p.steps, func() (Position, error) { return Position{}, err })
}

func (p *scriptedProvider) CurrentPosition(_ context.Context, opts PositionOptions) (Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.opts = append(p.opts, opts)
	if len(p.steps) == 0 {
		return Position{}, errors.New("no position scripted")
	}
	step := p.steps[0]
	p.steps = p.steps[1:]
	return step()
}

func (p *scriptedProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.opts)
}

type recordingSubmitter struct {
	mu       sync.Mutex
	payloads []models.TrackLocationPayload
	err      error
}

func (s *recordingSubmitter) SubmitLocation(_ context.Context, p models.TrackLocationPayload) (service.SubmitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return service.SubmitResult{}, s.err
	}
	s.payloads = append(s.payloads, p)
	return service.SubmitResult{Queued: true, ID: "q"}, nil
}

func (s *recordingSubmitter) Payloads() []models.TrackLocationPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.TrackLocationPayload(nil), s.payloads...)
}

func (s *recordingSubmitter) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func newTestSampler(provider Provider, battery BatteryReader, submitter Submitter, fake *clock.Fake) *Sampler {
	logger := zerolog.New(io.Discard)
	return NewSampler(DefaultConfig(), provider, battery, submitter, fake, nil, &logger)
}

func newFakeClock() *clock.Fake {
	return clock.NewFake(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func TestMovementDetection(t *testing.T) {
	provider := &scriptedProvider{}
	provider.push(0, 0)
	provider.push(0.00005, 0)
	provider.push(0.0002, 0)
	submitter := &recordingSubmitter{}
	fake := newFakeClock()

	s := newTestSampler(provider, nil, submitter, fake)
	s.Start(context.Background())
	defer s.Stop()

	waitFor(t, func() bool { return len(submitter.Payloads()) == 1 })
	fake.BlockUntil(1)

	fake.Advance(models.LocationInterval)
	waitFor(t, func() bool { return len(submitter.Payloads()) == 2 })

	fake.Advance(models.LocationInterval)
	waitFor(t, func() bool { return len(submitter.Payloads()) == 3 })

	got := submitter.Payloads()
	assert.True(t, got[0].IsMoving)
	assert.False(t, got[1].IsMoving)
	assert.True(t, got[2].IsMoving)
	assert.Equal(t, 0.0002, got[2].Latitude)
	assert.Equal(t, 8.0, got[2].Accuracy)
}

func TestProviderOptions(t *testing.T) {
	provider := &scriptedProvider{}
	provider.push(1, 1)
	s := newTestSampler(provider, nil, &recordingSubmitter{}, newFakeClock())

	_, err := s.ForceUpdate(context.Background())
	require.NoError(t, err)

	require.Len(t, provider.opts, 1)
	assert.Equal(t, PositionOptions{
		EnableHighAccuracy: true,
		Timeout:            10 * time.Second,
		MaximumAge:         60 * time.Second,
	}, provider.opts[0])
}

func TestFailuresRecordedAndScheduleContinues(t *testing.T) {
	provider := &scriptedProvider{}
	provider.push(10, 10)
	provider.pushErr(errors.New("User denied Geolocation"))
	provider.push(10, 10)
	submitter := &recordingSubmitter{}
	fake := newFakeClock()

	s := newTestSampler(provider, nil, submitter, fake)
	s.Start(context.Background())
	defer s.Stop()

	waitFor(t, func() bool { return len(submitter.Payloads()) == 1 })
	fake.BlockUntil(1)

	fake.Advance(models.LocationInterval)
	waitFor(t, func() bool { return s.LastError().Get() != "" })
	assert.Contains(t, s.LastError().Get(), "User denied Geolocation")
	assert.True(t, s.IsTracking())

	fake.Advance(models.LocationInterval)
	waitFor(t, func() bool { return len(submitter.Payloads()) == 2 })
	waitFor(t, func() bool { return s.LastError().Get() == "" })
}

func TestSubmitFailureRecorded(t *testing.T) {
	provider := &scriptedProvider{}
	provider.push(5, 5)
	submitter := &recordingSubmitter{}
	submitter.setErr(errors.New("backend unavailable"))

	s := newTestSampler(provider, nil, submitter, newFakeClock())
	_, err := s.ForceUpdate(context.Background())

	require.Error(t, err)
	assert.Contains(t, s.LastError().Get(), "backend unavailable")

	last, ok := s.LastSample()
	require.True(t, ok)
	assert.Equal(t, 5.0, last.Latitude)
}

func TestBatteryAttached(t *testing.T) {
	provider := &scriptedProvider{}
	provider.push(1, 2)
	provider.push(1, 2)
	battery := NewStaticBattery(73)
	submitter := &recordingSubmitter{}

	s := newTestSampler(provider, battery, submitter, newFakeClock())
	_, err := s.ForceUpdate(context.Background())
	require.NoError(t, err)

	battery.Set(-1)
	_, err = s.ForceUpdate(context.Background())
	require.NoError(t, err)

	got := submitter.Payloads()
	require.Len(t, got, 2)
	require.NotNil(t, got[0].BatteryLevel)
	assert.Equal(t, 73, *got[0].BatteryLevel)
	assert.Nil(t, got[1].BatteryLevel)
}

func TestStartTwiceIsNoop(t *testing.T) {
	provider := &scriptedProvider{}
	provider.push(1, 1)
	provider.push(1, 1)
	submitter := &recordingSubmitter{}
	fake := newFakeClock()

	s := newTestSampler(provider, nil, submitter, fake)
	s.Start(context.Background())
	s.Start(context.Background())
	defer s.Stop()

	waitFor(t, func() bool { return len(submitter.Payloads()) == 1 })
	fake.BlockUntil(1)
	assert.Equal(t, 1, fake.Waiters())
	assert.Equal(t, 1, provider.Calls())
}

func TestOnVisible(t *testing.T) {
	provider := &scriptedProvider{}
	provider.push(1, 1)
	provider.push(1, 1)
	submitter := &recordingSubmitter{}
	fake := newFakeClock()

	s := newTestSampler(provider, nil, submitter, fake)

	// Stopped: becoming visible starts tracking.
	s.OnVisible(context.Background())
	defer s.Stop()
	assert.True(t, s.IsTracking())
	waitFor(t, func() bool { return len(submitter.Payloads()) == 1 })

	// Tracking: becoming visible captures immediately, without the timer.
	s.OnVisible(context.Background())
	waitFor(t, func() bool { return len(submitter.Payloads()) == 2 })
	assert.Equal(t, 2, provider.Calls())
}

func TestStop(t *testing.T) {
	provider := &scriptedProvider{}
	provider.push(1, 1)
	submitter := &recordingSubmitter{}
	fake := newFakeClock()

	s := newTestSampler(provider, nil, submitter, fake)
	s.Start(context.Background())
	waitFor(t, func() bool { return len(submitter.Payloads()) == 1 })

	s.Stop()
	assert.False(t, s.IsTracking())
	assert.Equal(t, 0, fake.Waiters())

	fake.Advance(models.LocationInterval)
	assert.Equal(t, 1, provider.Calls())

	// Stop on a stopped sampler is a no-op.
	s.Stop()
}

func TestRestartResetsMovementBaseline(t *testing.T) {
	provider := &scriptedProvider{}
	provider.push(1, 1)
	provider.push(1, 1)
	submitter := &recordingSubmitter{}

	s := newTestSampler(provider, nil, submitter, newFakeClock())
	s.Start(context.Background())
	waitFor(t, func() bool { return len(submitter.Payloads()) == 1 })
	s.Stop()

	s.Start(context.Background())
	waitFor(t, func() bool { return len(submitter.Payloads()) == 2 })
	s.Stop()

	got := submitter.Payloads()
	assert.True(t, got[0].IsMoving)
	assert.True(t, got[1].IsMoving)
}

func TestNoProvider(t *testing.T) {
	s := newTestSampler(nil, nil, &recordingSubmitter{}, newFakeClock())
	s.Start(context.Background())

	assert.False(t, s.IsTracking())
	assert.Equal(t, ErrNoProvider.Error(), s.LastError().Get())

	_, err := s.ForceUpdate(context.Background())
	assert.ErrorIs(t, err, ErrNoProvider)
}
