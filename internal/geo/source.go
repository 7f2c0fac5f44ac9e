package geo

import (
	"context"
	"fmt"
	"math"
)

// Browser position error codes as reported by navigator.geolocation.
const (
	CodePermissionDenied    = 1
	CodePositionUnavailable = 2
	CodeTimeout             = 3
)

// Reported is a position the browser already obtained and posted back,
// or the error code it got instead.
type Reported struct {
	Lat       float64
	Lon       float64
	ErrorCode int
	Message   string
}

// CurrentPosition returns the reported coordinates, or the error they stand for.
func (r Reported) CurrentPosition(ctx context.Context, _ Options) (Position, error) {
	switch r.ErrorCode {
	case 0:
	case CodePermissionDenied:
		return Position{}, fmt.Errorf("%w: %s", ErrPermissionDenied, r.Message)
	case CodeTimeout:
		return Position{}, context.DeadlineExceeded
	default:
		return Position{}, fmt.Errorf("%w: %s", ErrPositionUnavailable, r.Message)
	}
	if err := ValidateCoordinates(r.Lat, r.Lon); err != nil {
		return Position{}, err
	}
	return Position{Lat: r.Lat, Lon: r.Lon}, ctx.Err()
}

// Fixed always reports the same coordinates. The CLI uses it for --lat/--lon.
type Fixed Position

// CurrentPosition returns the fixed coordinates.
func (f Fixed) CurrentPosition(ctx context.Context, _ Options) (Position, error) {
	if err := ValidateCoordinates(f.Lat, f.Lon); err != nil {
		return Position{}, err
	}
	return Position(f), ctx.Err()
}

// SourceFunc adapts a function to PositionSource.
type SourceFunc func(ctx context.Context, opts Options) (Position, error)

// CurrentPosition calls f.
func (f SourceFunc) CurrentPosition(ctx context.Context, opts Options) (Position, error) {
	return f(ctx, opts)
}

// ValidateCoordinates rejects values outside WGS84 bounds.
func ValidateCoordinates(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsNaN(lon) || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return fmt.Errorf("%w: coordinates out of range (%v, %v)", ErrPositionUnavailable, lat, lon)
	}
	return nil
}
