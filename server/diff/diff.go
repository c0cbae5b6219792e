// Package diff computes, per zone, which upstream alerts are newly active
// and which previously tracked alerts have expired.
package diff

import (
	"github.com/mattermost/mattermost/server/public/pluginapi"
	"github.com/pkg/errors"

	"github.com/mattermost/mattermost-plugin-weatheralerts/server/nws"
)

// AlertFetcher fetches the current active alerts for a zone.
type AlertFetcher interface {
	ActiveAlerts(zone string) ([]nws.Alert, error)
}

// ActiveSet is the stored per-zone set of event names already known to be
// in effect.
type ActiveSet interface {
	ActiveAlerts(zone string) []string
	SetActiveAlerts(zone string, events []string)
}

// Engine diffs each poll's upstream response against the stored active set.
type Engine struct {
	fetcher AlertFetcher
	active  ActiveSet
	logger  pluginapi.LogService
}

// NewEngine creates a diff engine.
func NewEngine(fetcher AlertFetcher, active ActiveSet, logger pluginapi.LogService) *Engine {
	return &Engine{
		fetcher: fetcher,
		active:  active,
		logger:  logger,
	}
}

// Check fetches the zone's current alerts and returns the newly active
// ones in feed order. The stored active set is updated as a side effect:
// expired events are dropped first, then unseen events are added. Removal
// runs before addition so an alert that expired and reissued between polls
// is reported as new again rather than silently retained.
//
// An upstream failure mutates nothing and returns an error the caller
// should treat as transient; the zone is retried on the next cycle.
func (e *Engine) Check(zone string) ([]nws.Alert, error) {
	fetched, err := e.fetcher.ActiveAlerts(zone)
	if err != nil {
		return nil, errors.Wrapf(err, "poll failed for zone %s", zone)
	}

	current := make(map[string]bool, len(fetched))
	for _, alert := range fetched {
		current[alert.Event] = true
	}

	// Removal pass: drop tracked events the feed no longer reports.
	tracked := e.active.ActiveAlerts(zone)
	retained := make([]string, 0, len(tracked))
	known := make(map[string]bool, len(tracked))
	for _, event := range tracked {
		if !current[event] {
			e.logger.Debug("Alert expired upstream", "zone", zone, "event", event)
			continue
		}
		retained = append(retained, event)
		known[event] = true
	}

	// Addition pass: anything the feed reports that we are not tracking
	// is newly active.
	var newAlerts []nws.Alert
	for _, alert := range fetched {
		if known[alert.Event] {
			continue
		}
		known[alert.Event] = true
		retained = append(retained, alert.Event)
		newAlerts = append(newAlerts, alert)
	}

	e.active.SetActiveAlerts(zone, retained)

	if len(newAlerts) > 0 {
		e.logger.Debug("Detected new alerts", "zone", zone, "count", len(newAlerts))
	}

	return newAlerts, nil
}
