// Package location acquires a one-shot position fix for emergency sharing.
package location

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yoockh/crisishelp/internal/models"
)

type Reason int

const (
	ReasonUnknown Reason = iota
	ReasonPermissionDenied
	ReasonUnavailable
	ReasonTimeout
)

func (r Reason) String() string {
	switch r {
	case ReasonPermissionDenied:
		return "permission_denied"
	case ReasonUnavailable:
		return "position_unavailable"
	case ReasonTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error is the normalized failure of a location request.
type Error struct {
	Reason Reason
	Err    error
}

func (e *Error) Error() string {
	switch e.Reason {
	case ReasonPermissionDenied:
		return "Location permission denied"
	case ReasonUnavailable:
		return "Location information is unavailable"
	case ReasonTimeout:
		return "Location request timed out"
	default:
		return "An unknown error occurred getting location"
	}
}

func (e *Error) Unwrap() error { return e.Err }

// ReasonOf extracts the failure reason from err, or ReasonUnknown.
func ReasonOf(err error) Reason {
	var le *Error
	if errors.As(err, &le) {
		return le.Reason
	}
	return ReasonUnknown
}

type Request struct {
	HighAccuracy bool
	Timeout      time.Duration
	MaximumAge   time.Duration
}

// Geolocator is the device position capability.
type Geolocator interface {
	CurrentPosition(ctx context.Context, req Request) (models.Location, error)
}

// Locator is what callers of the acquisition tier depend on.
type Locator interface {
	Locate(ctx context.Context) (models.Location, error)
}

type Acquirer struct {
	geo     Geolocator
	log     *logrus.Logger
	timeout time.Duration
}

func NewAcquirer(geo Geolocator, log *logrus.Logger) *Acquirer {
	if log == nil {
		log = logrus.New()
	}
	return &Acquirer{geo: geo, log: log, timeout: 10 * time.Second}
}

// WithTimeout overrides the per-attempt timeout.
func (a *Acquirer) WithTimeout(d time.Duration) *Acquirer {
	a.timeout = d
	return a
}

// Locate asks for a fresh high-accuracy fix. When that is unavailable or
// times out it tries once more without high accuracy. Permission denial is
// returned immediately.
func (a *Acquirer) Locate(ctx context.Context) (models.Location, error) {
	loc, err := a.attempt(ctx, Request{HighAccuracy: true, Timeout: a.timeout})
	if err == nil {
		return loc, nil
	}

	reason := ReasonOf(err)
	if reason != ReasonUnavailable && reason != ReasonTimeout {
		return models.Location{}, err
	}

	a.log.WithField("reason", reason.String()).Info("high accuracy location failed, retrying")
	return a.attempt(ctx, Request{HighAccuracy: false, Timeout: a.timeout})
}

func (a *Acquirer) attempt(ctx context.Context, req Request) (models.Location, error) {
	actx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	loc, err := a.geo.CurrentPosition(actx, req)
	if err == nil {
		return loc, nil
	}
	return models.Location{}, normalize(actx, err)
}

func normalize(ctx context.Context, err error) error {
	var le *Error
	if errors.As(err, &le) {
		return le
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &Error{Reason: ReasonTimeout, Err: err}
	}
	return &Error{Reason: ReasonUnknown, Err: err}
}
