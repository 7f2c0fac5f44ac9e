// Package geo resolves a visit check-in location, substituting a fixed
// simulated coordinate when the device position cannot be obtained.
package geo

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Fallback coordinate used when the real position is unavailable.
const (
	FallbackLat = 4.629199
	FallbackLon = -74.15403
)

// DefaultTimeout bounds a single position request.
const DefaultTimeout = 15 * time.Second

var (
	// ErrUnsupported means the client has no geolocation capability.
	ErrUnsupported = errors.New("geolocation not supported")
	// ErrPermissionDenied means the user refused the position request.
	ErrPermissionDenied = errors.New("geolocation permission denied")
	// ErrPositionUnavailable means the device could not determine a position.
	ErrPositionUnavailable = errors.New("position unavailable")
)

// Options mirrors the position request configuration.
type Options struct {
	HighAccuracy bool
	Timeout      time.Duration
	MaximumAge   time.Duration
}

// DefaultOptions requests a fresh high-accuracy fix within DefaultTimeout.
func DefaultOptions() Options {
	return Options{HighAccuracy: true, Timeout: DefaultTimeout, MaximumAge: 0}
}

// Position is a raw coordinate reported by a PositionSource.
type Position struct {
	Lat float64
	Lon float64
}

// PositionSource returns the device's current position.
type PositionSource interface {
	CurrentPosition(ctx context.Context, opts Options) (Position, error)
}

// Fact is a captured check-in location. It is never modified after capture.
type Fact struct {
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	CapturedAt time.Time `json:"captured_at"`
	Simulated  bool      `json:"simulated"`
}

// String formats the fact for display.
func (f Fact) String() string {
	s := fmt.Sprintf("%.4f, %.4f at %s", f.Lat, f.Lon, f.CapturedAt.Format("15:04:05"))
	if f.Simulated {
		s += " (simulated)"
	}
	return s
}

// Result is the outcome of one resolution. Warning is set when the fallback
// coordinate was used.
type Result struct {
	Fact    Fact
	Warning string
	Err     error
}

// Simulated reports whether the fallback coordinate was substituted.
func (r Result) Simulated() bool { return r.Fact.Simulated }

const (
	failedWarning      = "Could not get your real location. A simulated location was used."
	unsupportedWarning = "Geolocation is not supported on this device. A simulated location was used."
)

// Resolver turns a position request into exactly one Fact.
type Resolver struct {
	Options Options
	Now     func() time.Time
}

// NewResolver creates a resolver with DefaultOptions.
func NewResolver() *Resolver {
	return &Resolver{Options: DefaultOptions(), Now: time.Now}
}

// Resolve asks source for the current position. A nil source, an error, or
// a timeout all yield the simulated fallback. It never retries.
func (r *Resolver) Resolve(ctx context.Context, source PositionSource) Result {
	now := r.Now
	if now == nil {
		now = time.Now
	}

	if source == nil {
		return r.fallback(now(), ErrUnsupported)
	}

	timeout := r.Options.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pos, err := source.CurrentPosition(ctx, r.Options)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return r.fallback(now(), err)
	}

	return Result{Fact: Fact{Lat: pos.Lat, Lon: pos.Lon, CapturedAt: now()}}
}

func (r *Resolver) fallback(at time.Time, cause error) Result {
	warning := failedWarning
	if errors.Is(cause, ErrUnsupported) {
		warning = unsupportedWarning
	}
	return Result{
		Fact:    Fact{Lat: FallbackLat, Lon: FallbackLon, CapturedAt: at, Simulated: true},
		Warning: warning,
		Err:     cause,
	}
}
