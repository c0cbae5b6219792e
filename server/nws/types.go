package nws

import "fmt"

// Alert is a single active weather alert for a zone, reduced to the fields
// the plugin delivers to subscribers. Alerts are identified by their Event
// string when tracking which alerts a zone has already seen.
type Alert struct {
	Event       string `json:"event"`
	Headline    string `json:"headline"`
	Description string `json:"description"`
}

// StatusError reports a non-200 response from the NOAA API.
type StatusError struct {
	StatusCode int
	Detail     string `json:"detail"`
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("NOAA API returned status %d: %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("NOAA API returned status %d", e.StatusCode)
}

// pointResponse is the subset of the /points/{lat},{lon} payload the plugin
// reads. The county property is a URI whose last path segment is the
// canonical alert zone code.
type pointResponse struct {
	Properties struct {
		County string `json:"county"`
	} `json:"properties"`
}

// alertsResponse is the subset of the /alerts/active payload the plugin
// reads. A missing or empty feature list means no alerts are in effect.
type alertsResponse struct {
	Features []alertFeature `json:"features"`
}

type alertFeature struct {
	Properties Alert `json:"properties"`
}
