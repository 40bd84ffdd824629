package tracking

import (
	"errors"
	"time"

	"quest-reward-system/geo"
)

// Validation thresholds for incoming position samples.
const (
	// MaxAccuracyMeters: fixes reported with worse (greater) accuracy are dropped.
	// The boundary is inclusive: exactly 50m is accepted.
	MaxAccuracyMeters = 50.0
	// MaxFixAge: fixes captured longer ago than this are dropped as stale.
	MaxFixAge = 30 * time.Second
	// MaxPlausibleSpeedMps: implied speed above this within SpeedCheckWindow
	// of the previous accepted fix marks the sample as spoofed.
	MaxPlausibleSpeedMps = 50.0
	// SpeedCheckWindow: the speed check only applies to fix pairs closer
	// together than this.
	SpeedCheckWindow = 5 * time.Second
	// DwellDuration: continuous in-radius time required before auto-completion.
	DwellDuration = 30 * time.Second
)

// Sample validation failures. All are recoverable: the sample is dropped and
// the session continues.
var (
	ErrAccuracyTooLow = errors.New("tracking: gps accuracy too low")
	ErrStaleFix       = errors.New("tracking: stale gps fix")
	ErrMockLocation   = errors.New("tracking: mock location suspected")
	ErrSpeedSpoof     = errors.New("tracking: speed spoof suspected")
)

// Sample is one raw position fix pushed by the location provider. Samples are
// ephemeral: they are never persisted and are owned by the Session for the
// duration of one watch.
type Sample struct {
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	AccuracyMeters float64   `json:"accuracy_meters"`
	CapturedAt     time.Time `json:"captured_at"`
	Altitude       *float64  `json:"altitude,omitempty"`
}

// Point returns the sample's coordinates.
func (s Sample) Point() geo.Point {
	return geo.Point{Latitude: s.Latitude, Longitude: s.Longitude}
}

// validate applies the stateless checks: coordinate sanity, accuracy bound,
// fix freshness, and the zero-accuracy-without-altitude mock signature.
func (s Sample) validate(now time.Time) error {
	if err := geo.Validate(s.Point()); err != nil {
		return err
	}
	if s.AccuracyMeters < 0 {
		return geo.ErrInvalidCoordinate
	}
	if s.AccuracyMeters > MaxAccuracyMeters {
		return ErrAccuracyTooLow
	}
	if now.Sub(s.CapturedAt) > MaxFixAge {
		return ErrStaleFix
	}
	if s.AccuracyMeters == 0 && s.Altitude == nil {
		return ErrMockLocation
	}
	return nil
}
