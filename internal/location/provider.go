package location

import (
	"context"
	"errors"
	"sync"
	"time"

	"fieldsync/internal/clock"
	"fieldsync/internal/models"
)

var ErrPositionTimeout = errors.New("position acquisition timed out")

// PositionOptions mirrors the options of a platform geolocation request.
type PositionOptions struct {
	EnableHighAccuracy bool
	Timeout            time.Duration
	MaximumAge         time.Duration
}

// Position is one fix reported by the platform.
type Position struct {
	models.Coordinates
	Accuracy  float64
	Timestamp time.Time
}

// Provider acquires the device position.
type Provider interface {
	CurrentPosition(ctx context.Context, opts PositionOptions) (Position, error)
}

// BatteryReader reports the battery level in percent, when the platform knows it.
type BatteryReader interface {
	BatteryLevel(ctx context.Context) (int, error)
}

// PushProvider is a Provider fed by the platform: fixes and failures are
// pushed in, and CurrentPosition serves the latest fix or waits for one.
type PushProvider struct {
	clock clock.Clock

	mu      sync.Mutex
	latest  *Position
	failure error
	notify  chan struct{}
}

func NewPushProvider(clk clock.Clock) *PushProvider {
	if clk == nil {
		clk = clock.New()
	}
	return &PushProvider{clock: clk, notify: make(chan struct{})}
}

// Update records a new fix and wakes pending requests.
func (p *PushProvider) Update(pos Position) {
	if pos.Timestamp.IsZero() {
		pos.Timestamp = p.clock.Now()
	}
	p.mu.Lock()
	p.latest = &pos
	p.failure = nil
	p.broadcast()
	p.mu.Unlock()
}

// Fail records a platform error, such as a denied permission, for pending
// and future requests until the next fix arrives.
func (p *PushProvider) Fail(err error) {
	p.mu.Lock()
	p.failure = err
	p.broadcast()
	p.mu.Unlock()
}

func (p *PushProvider) broadcast() {
	close(p.notify)
	p.notify = make(chan struct{})
}

func (p *PushProvider) CurrentPosition(ctx context.Context, opts PositionOptions) (Position, error) {
	p.mu.Lock()
	if pos, ok := p.fresh(opts.MaximumAge); ok {
		p.mu.Unlock()
		return pos, nil
	}
	if p.failure != nil {
		err := p.failure
		p.mu.Unlock()
		return Position{}, err
	}
	wait := p.notify
	p.mu.Unlock()

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	select {
	case <-wait:
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Position{}, ErrPositionTimeout
		}
		return Position{}, ctx.Err()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failure != nil {
		return Position{}, p.failure
	}
	if p.latest == nil {
		return Position{}, ErrPositionTimeout
	}
	return *p.latest, nil
}

func (p *PushProvider) fresh(maxAge time.Duration) (Position, bool) {
	if p.latest == nil {
		return Position{}, false
	}
	if p.clock.Now().Sub(p.latest.Timestamp) > maxAge {
		return Position{}, false
	}
	return *p.latest, true
}

// StaticBattery reports a fixed level; a negative level means unknown.
type StaticBattery struct {
	mu    sync.Mutex
	level int
}

var errBatteryUnknown = errors.New("battery level unknown")

func NewStaticBattery(level int) *StaticBattery {
	return &StaticBattery{level: level}
}

func (b *StaticBattery) Set(level int) {
	b.mu.Lock()
	b.level = level
	b.mu.Unlock()
}

func (b *StaticBattery) BatteryLevel(context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.level < 0 {
		return 0, errBatteryUnknown
	}
	return b.level, nil
}
