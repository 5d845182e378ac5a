// Package location samples the device position on a schedule and on demand.
package location

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"fieldsync/internal/clock"
	"fieldsync/internal/events"
	"fieldsync/internal/models"
	"fieldsync/internal/service"

	"github.com/rs/zerolog"
)

var ErrNoProvider = errors.New("geolocation not supported")

// Submitter delivers a sample to the backend or the offline queue.
type Submitter interface {
	SubmitLocation(ctx context.Context, p models.TrackLocationPayload) (service.SubmitResult, error)
}

type Config struct {
	Interval          time.Duration
	Timeout           time.Duration
	MaximumAge        time.Duration
	HighAccuracy      bool
	MovementThreshold float64
}

// DefaultConfig samples every five minutes with high accuracy.
func DefaultConfig() Config {
	return Config{
		Interval:          models.LocationInterval,
		Timeout:           models.LocationTimeout,
		MaximumAge:        models.LocationMaximumAge,
		HighAccuracy:      true,
		MovementThreshold: models.MovementThreshold,
	}
}

// Sampler captures a position immediately on Start and then every Interval.
// Failures are exposed through LastError and never stop the schedule.
type Sampler struct {
	cfg       Config
	provider  Provider
	battery   BatteryReader
	submitter Submitter
	clock     clock.Clock
	bus       *events.EventBus
	logger    zerolog.Logger

	mu       sync.Mutex
	tracking bool
	cancel   context.CancelFunc
	done     chan struct{}
	wake     chan struct{}

	// sampleMu orders captures so movement is always judged against the previous fix.
	sampleMu   sync.Mutex
	lastCoords *models.Coordinates
	lastSample *models.LocationSample

	lastError  *events.Value[string]
	isTracking *events.Value[bool]
}

func NewSampler(cfg Config, provider Provider, battery BatteryReader, submitter Submitter, clk clock.Clock, bus *events.EventBus, logger *zerolog.Logger) *Sampler {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaximumAge <= 0 {
		cfg.MaximumAge = def.MaximumAge
	}
	if cfg.MovementThreshold <= 0 {
		cfg.MovementThreshold = def.MovementThreshold
	}
	if clk == nil {
		clk = clock.New()
	}

	return &Sampler{
		cfg:        cfg,
		provider:   provider,
		battery:    battery,
		submitter:  submitter,
		clock:      clk,
		bus:        bus,
		logger:     logger.With().Str("component", "location").Logger(),
		wake:       make(chan struct{}, 1),
		lastError:  events.NewValue(""),
		isTracking: events.NewValue(false),
	}
}

// LastError holds the message of the most recent failure, or "" after a success.
func (s *Sampler) LastError() *events.Value[string] {
	return s.lastError
}

// Tracking is true between Start and Stop. Subscribers must not call back
// into the sampler.
func (s *Sampler) Tracking() *events.Value[bool] {
	return s.isTracking
}

func (s *Sampler) IsTracking() bool {
	return s.isTracking.Get()
}

// LastSample returns the most recent accepted position.
func (s *Sampler) LastSample() (models.LocationSample, bool) {
	s.sampleMu.Lock()
	defer s.sampleMu.Unlock()
	if s.lastSample == nil {
		return models.LocationSample{}, false
	}
	return *s.lastSample, true
}

// Start begins tracking. It returns at once; a second call while tracking is a no-op.
func (s *Sampler) Start(ctx context.Context) {
	if s.provider == nil {
		s.lastError.Set(ErrNoProvider.Error())
		s.logger.Warn().Msg("Location tracking unavailable, no provider")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tracking {
		return
	}

	s.sampleMu.Lock()
	s.lastCoords = nil
	s.sampleMu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.tracking = true
	s.isTracking.Set(true)

	go s.run(runCtx, s.done)
	s.logger.Info().Dur("interval", s.cfg.Interval).Msg("Location tracking started")
}

// Stop halts tracking and waits for an in-flight capture to finish.
func (s *Sampler) Stop() {
	s.mu.Lock()
	if !s.tracking {
		s.mu.Unlock()
		return
	}
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Info().Msg("Location tracking stopped")
}

// OnVisible handles the app returning to the foreground: it starts tracking
// if stopped, otherwise it captures a position right away.
func (s *Sampler) OnVisible(ctx context.Context) {
	s.mu.Lock()
	tracking := s.tracking
	s.mu.Unlock()

	if !tracking {
		s.Start(ctx)
		return
	}

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// ForceUpdate captures and submits a position synchronously.
func (s *Sampler) ForceUpdate(ctx context.Context) (models.LocationSample, error) {
	if s.provider == nil {
		s.lastError.Set(ErrNoProvider.Error())
		return models.LocationSample{}, ErrNoProvider
	}
	return s.capture(ctx)
}

func (s *Sampler) run(ctx context.Context, done chan struct{}) {
	defer func() {
		s.mu.Lock()
		if s.done == done {
			s.tracking = false
			s.isTracking.Set(false)
		}
		s.mu.Unlock()
		close(done)
	}()

	ticker := s.clock.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	_, _ = s.capture(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			_, _ = s.capture(ctx)
		case <-s.wake:
			_, _ = s.capture(ctx)
		}
	}
}

func (s *Sampler) capture(ctx context.Context) (models.LocationSample, error) {
	s.sampleMu.Lock()
	defer s.sampleMu.Unlock()

	pos, err := s.provider.CurrentPosition(ctx, PositionOptions{
		EnableHighAccuracy: s.cfg.HighAccuracy,
		Timeout:            s.cfg.Timeout,
		MaximumAge:         s.cfg.MaximumAge,
	})
	if err != nil {
		return models.LocationSample{}, s.fail("geolocation error", err)
	}

	sample := models.LocationSample{
		Coordinates: pos.Coordinates,
		Accuracy:    pos.Accuracy,
		IsMoving:    s.movedSignificantly(pos.Coordinates),
		CapturedAt:  s.clock.Now(),
	}
	if s.battery != nil {
		if level, err := s.battery.BatteryLevel(ctx); err == nil {
			sample.BatteryLevel = &level
		}
	}

	coords := pos.Coordinates
	accepted := sample
	s.lastCoords = &coords
	s.lastSample = &accepted
	s.lastError.Set("")

	res, err := s.submitter.SubmitLocation(ctx, sample.Payload())
	if err != nil {
		return sample, s.fail("failed to sync location", err)
	}

	_ = s.bus.PublishJSON(events.EventLocationSample, sample)
	s.logger.Debug().
		Float64("lat", sample.Latitude).
		Float64("lng", sample.Longitude).
		Bool("moving", sample.IsMoving).
		Bool("queued", res.Queued).
		Msg("Location sampled")
	return sample, nil
}

func (s *Sampler) movedSignificantly(next models.Coordinates) bool {
	if s.lastCoords == nil {
		return true
	}
	latDiff := math.Abs(next.Latitude - s.lastCoords.Latitude)
	lngDiff := math.Abs(next.Longitude - s.lastCoords.Longitude)
	return latDiff > s.cfg.MovementThreshold || lngDiff > s.cfg.MovementThreshold
}

func (s *Sampler) fail(msg string, err error) error {
	s.lastError.Set(msg + ": " + err.Error())
	s.logger.Error().Err(err).Msg(msg)
	return err
}
