package location

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/yoockh/crisishelp/internal/models"
)

// Fixed reports a configured position, e.g. a kiosk's street address.
type Fixed struct {
	Loc models.Location
}

func (f Fixed) CurrentPosition(context.Context, Request) (models.Location, error) {
	return f.Loc, nil
}

// ParseFixed reads "lat,lng" or "lat,lng,accuracy".
func ParseFixed(s string) (Fixed, error) {
	parts := strings.Split(s, ",")
	if len(parts) < 2 || len(parts) > 3 {
		return Fixed{}, fmt.Errorf("location %q: want lat,lng[,accuracy]", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return Fixed{}, fmt.Errorf("location lat: %w", err)
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return Fixed{}, fmt.Errorf("location lng: %w", err)
	}
	loc := models.Location{Lat: lat, Lng: lng}
	if len(parts) == 3 {
		acc, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
		if err != nil {
			return Fixed{}, fmt.Errorf("location accuracy: %w", err)
		}
		loc.Accuracy = &acc
	}
	return Fixed{Loc: loc}, nil
}

// Unavailable always fails; used when no position source is configured.
type Unavailable struct{}

func (Unavailable) CurrentPosition(context.Context, Request) (models.Location, error) {
	return models.Location{}, &Error{Reason: ReasonUnavailable}
}

// HTTPGeolocator resolves the host's approximate position from an IP
// geolocation endpoint that answers with {"lat":..,"lon":..} or
// {"latitude":..,"longitude":..}. It cannot do better than city level, so
// HighAccuracy is ignored.
type HTTPGeolocator struct {
	URL    string
	Client *http.Client
}

type ipGeoResponse struct {
	Status    string   `json:"status"`
	Lat       *float64 `json:"lat"`
	Lon       *float64 `json:"lon"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Accuracy  *float64 `json:"accuracy"`
}

const cityAccuracyMeters = 5000

func (g *HTTPGeolocator) CurrentPosition(ctx context.Context, _ Request) (models.Location, error) {
	client := g.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.URL, nil)
	if err != nil {
		return models.Location{}, &Error{Reason: ReasonUnknown, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return models.Location{}, &Error{Reason: ReasonTimeout, Err: err}
		}
		return models.Location{}, &Error{Reason: ReasonUnavailable, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized:
		return models.Location{}, &Error{Reason: ReasonPermissionDenied, Err: fmt.Errorf("geolocation status %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return models.Location{}, &Error{Reason: ReasonUnavailable, Err: fmt.Errorf("geolocation status %d", resp.StatusCode)}
	}

	var body ipGeoResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return models.Location{}, &Error{Reason: ReasonUnavailable, Err: err}
	}
	if body.Status != "" && body.Status != "success" {
		return models.Location{}, &Error{Reason: ReasonUnavailable, Err: fmt.Errorf("geolocation status %q", body.Status)}
	}

	lat, lng := body.Lat, body.Lon
	if lat == nil || lng == nil {
		lat, lng = body.Latitude, body.Longitude
	}
	if lat == nil || lng == nil {
		return models.Location{}, &Error{Reason: ReasonUnavailable, Err: fmt.Errorf("geolocation response missing coordinates")}
	}

	acc := float64(cityAccuracyMeters)
	if body.Accuracy != nil {
		acc = *body.Accuracy
	}
	return models.Location{Lat: *lat, Lng: *lng, Accuracy: &acc}, nil
}
