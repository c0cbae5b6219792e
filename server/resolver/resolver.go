// Package resolver turns free-text "county, state" locations into canonical
// NOAA alert zone codes, disambiguating interactively when the reference
// dataset matches more than one zone.
package resolver

import (
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mattermost/mattermost/server/public/pluginapi"
	"github.com/pkg/errors"

	"github.com/mattermost/mattermost-plugin-weatheralerts/server/formatter"
	"github.com/mattermost/mattermost-plugin-weatheralerts/server/gazetteer"
)

// MaxCandidates caps how many gazetteer matches can be offered for
// interactive selection. Beyond this the list is unusable and the request
// is rejected instead.
const MaxCandidates = 10

// SelectionTimeout bounds how long a disambiguation prompt waits for the
// user's choice.
const SelectionTimeout = 60 * time.Second

// Resolution failures. All are reported to the requesting user; none abort
// anything beyond the current request.
var (
	ErrNotFound         = errors.New("no county matched the provided values")
	ErrTooManyMatches   = errors.New("too many subzones matched; the maximum is 10")
	ErrSelectionTimeout = errors.New("selection timed out")
)

// Zone is the outcome of a successful resolution.
type Zone struct {
	Code     string
	County   string
	State    string
	ZoneName string
}

// Geocoder resolves coordinates to a canonical alert zone code.
type Geocoder interface {
	PointZone(latitude, longitude string) (string, error)
}

// Selector asks a user to pick one of the labeled options and reports the
// chosen index on the returned channel. The cancel function abandons the
// prompt.
type Selector interface {
	Ask(userID, channelID string, labels []string) (<-chan int, func(), error)
}

// Resolver matches locations against the gazetteer and geocodes the chosen
// candidate.
type Resolver struct {
	gazetteer *gazetteer.Gazetteer
	geocoder  Geocoder
	selector  Selector
	clock     clockwork.Clock
	timeout   time.Duration
	logger    pluginapi.LogService
}

// New creates a Resolver with the production clock and timeout.
func New(g *gazetteer.Gazetteer, geocoder Geocoder, selector Selector, logger pluginapi.LogService) *Resolver {
	return &Resolver{
		gazetteer: g,
		geocoder:  geocoder,
		selector:  selector,
		clock:     clockwork.NewRealClock(),
		timeout:   SelectionTimeout,
		logger:    logger,
	}
}

// SetClock replaces the clock, for tests.
func (r *Resolver) SetClock(clock clockwork.Clock) {
	r.clock = clock
}

// Resolve maps a county/state pair to its canonical alert zone. With a
// single gazetteer match it proceeds directly; with two to ten it prompts
// the user and waits up to the timeout for a reaction. The chosen
// candidate's centroid is then geocoded through the upstream point lookup.
func (r *Resolver) Resolve(userID, channelID, county, state string) (Zone, error) {
	matches := r.gazetteer.Match(county, state)
	if len(matches) > MaxCandidates {
		return Zone{}, ErrTooManyMatches
	}

	candidates := collapse(matches)

	var chosen gazetteer.Record
	switch {
	case len(candidates) == 0:
		return Zone{}, ErrNotFound

	case len(candidates) == 1:
		chosen = candidates[0]

	default:
		selected, err := r.choose(userID, channelID, candidates)
		if err != nil {
			return Zone{}, err
		}
		chosen = selected
	}

	code, err := r.geocoder.PointZone(chosen.Latitude, chosen.Longitude)
	if err != nil {
		return Zone{}, errors.Wrap(err, "canonical zone lookup failed")
	}

	zone := Zone{
		Code:     code,
		County:   strings.ToUpper(chosen.County),
		State:    strings.ToUpper(chosen.State),
		ZoneName: strings.ToUpper(chosen.ZoneName),
	}

	r.logger.Debug("Resolved location to zone",
		"county", zone.County,
		"state", zone.State,
		"zone", zone.Code)

	return zone, nil
}

// choose prompts the user with the candidate list and waits for a
// selection or the timeout, whichever comes first.
func (r *Resolver) choose(userID, channelID string, candidates []gazetteer.Record) (gazetteer.Record, error) {
	labels := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		labels = append(labels, formatter.CandidateLabel(strings.ToUpper(candidate.County), candidate.ZoneName))
	}

	choice, cancel, err := r.selector.Ask(userID, channelID, labels)
	if err != nil {
		return gazetteer.Record{}, errors.Wrap(err, "failed to prompt for selection")
	}

	select {
	case index := <-choice:
		return candidates[index], nil
	case <-r.clock.After(r.timeout):
		cancel()
		r.logger.Info("Selection prompt timed out", "userId", userID)
		return gazetteer.Record{}, ErrSelectionTimeout
	}
}

// collapse drops candidates that would render as the same option: same
// county and same zone display name. The dataset repeats rows for zones
// split across forecast offices, which would otherwise show duplicate
// choices.
func collapse(matches []gazetteer.Record) []gazetteer.Record {
	seen := make(map[string]bool, len(matches))
	collapsed := make([]gazetteer.Record, 0, len(matches))
	for _, match := range matches {
		key := strings.ToUpper(match.County) + "|" + strings.ToUpper(match.ZoneName)
		if seen[key] {
			continue
		}
		seen[key] = true
		collapsed = append(collapsed, match)
	}
	return collapsed
}
