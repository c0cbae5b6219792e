// Package store owns the durable mapping from alert zone codes to their
// subscribers and the set of alerts currently considered active for each
// zone.
package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/mattermost/mattermost/server/public/pluginapi"
	"github.com/pkg/errors"
)

// Subscription is the persisted record for one alert zone. Users holds the
// subscriber handles in subscription order, each at most once. Alerts holds
// the event names currently in effect for the zone; an incoming alert whose
// event name is already present is treated as still active, not new. Two
// distinct alerts sharing an event name in the same zone are therefore
// conflated; changing that identity scheme is a product decision, not a
// cleanup.
type Subscription struct {
	ZoneName string   `json:"zone"`
	County   string   `json:"county"`
	State    string   `json:"state"`
	Users    []string `json:"users"`
	Alerts   []string `json:"alerts"`
}

// SubscribeResult reports the outcome of a Subscribe call.
type SubscribeResult int

const (
	// Added means the user was appended to the zone's subscriber list.
	Added SubscribeResult = iota

	// AlreadySubscribed means the user was on the list already; the call
	// changed nothing.
	AlreadySubscribed
)

// UnsubscribeResult reports the outcome of an Unsubscribe call.
type UnsubscribeResult int

const (
	// Removed means the user was taken off the zone's subscriber list.
	Removed UnsubscribeResult = iota

	// NotSubscribed means the user was not on the list.
	NotSubscribed
)

// Location is a (county, state) pair for display.
type Location struct {
	County string
	State  string
}

// ZoneInfo is a read-only summary of one tracked zone.
type ZoneInfo struct {
	Code         string `json:"code"`
	County       string `json:"county"`
	State        string `json:"state"`
	ZoneName     string `json:"zone"`
	Subscribers  int    `json:"subscribers"`
	ActiveAlerts int    `json:"activeAlerts"`
}

// Store is the process-wide subscription registry. All reads and writes go
// through a single mutex; the poll loop and the command handlers share it.
type Store struct {
	path   string
	logger pluginapi.LogService

	mu   sync.Mutex
	subs map[string]*Subscription
}

// New creates a store persisting to path. Call Load before first use.
func New(path string, logger pluginapi.LogService) *Store {
	return &Store{
		path:   path,
		logger: logger,
		subs:   make(map[string]*Subscription),
	}
}

// Load reads persisted state. A missing file is a first run, not an error.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.subs = make(map[string]*Subscription)
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "failed to read subscription file %s", s.path)
	}

	subs := make(map[string]*Subscription)
	if err := json.Unmarshal(data, &subs); err != nil {
		return errors.Wrapf(err, "failed to parse subscription file %s", s.path)
	}

	s.subs = subs
	return nil
}

// Save prunes zones with no subscribers and atomically replaces the
// subscription file. The whole document is written to a temporary file in
// the same directory and renamed over the target, so a concurrent reload
// never observes a partial write.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for code, sub := range s.subs {
		if len(sub.Users) == 0 {
			s.logger.Info("Zone has no subscribers, removing", "zone", code)
			delete(s.subs, code)
		}
	}

	data, err := json.MarshalIndent(s.subs, "", "    ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal subscriptions")
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create directory %s", dir)
	}

	tmp, err := os.CreateTemp(dir, "subscriptions-*.json")
	if err != nil {
		return errors.Wrap(err, "failed to create temporary subscription file")
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, "failed to write subscriptions")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "failed to close temporary subscription file")
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(err, "failed to replace subscription file %s", s.path)
	}

	return nil
}

// Subscribe adds userID to the zone, creating the record on first
// subscription. The second return reports whether the zone record was
// created by this call.
func (s *Store) Subscribe(zone, county, state, zoneName, userID string) (SubscribeResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, exists := s.subs[zone]
	if !exists {
		sub = &Subscription{
			ZoneName: zoneName,
			County:   county,
			State:    state,
			Users:    []string{},
			Alerts:   []string{},
		}
		s.subs[zone] = sub
	}

	for _, existing := range sub.Users {
		if existing == userID {
			return AlreadySubscribed, !exists
		}
	}

	sub.Users = append(sub.Users, userID)
	return Added, !exists
}

// Unsubscribe removes userID from the zone. An emptied record is pruned by
// the next Save.
func (s *Store) Unsubscribe(zone, userID string) UnsubscribeResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, exists := s.subs[zone]
	if !exists {
		return NotSubscribed
	}

	for i, existing := range sub.Users {
		if existing == userID {
			sub.Users = append(sub.Users[:i], sub.Users[i+1:]...)
			return Removed
		}
	}

	return NotSubscribed
}

// UnsubscribeAll removes userID from every zone and reports how many
// subscriptions were dropped.
func (s *Store) UnsubscribeAll(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, sub := range s.subs {
		for i, existing := range sub.Users {
			if existing == userID {
				sub.Users = append(sub.Users[:i], sub.Users[i+1:]...)
				count++
				break
			}
		}
	}

	return count
}

// Subscriptions lists the locations userID is subscribed to, sorted by
// county then state.
func (s *Store) Subscriptions(userID string) []Location {
	s.mu.Lock()
	defer s.mu.Unlock()

	var locations []Location
	for _, sub := range s.subs {
		for _, existing := range sub.Users {
			if existing == userID {
				locations = append(locations, Location{County: sub.County, State: sub.State})
				break
			}
		}
	}

	sort.Slice(locations, func(i, j int) bool {
		if locations[i].County != locations[j].County {
			return locations[i].County < locations[j].County
		}
		return locations[i].State < locations[j].State
	})

	return locations
}

// FindSubscribed returns the zones userID is subscribed to whose county
// contains county and whose state equals state, upper-cased, sorted by zone
// code. Used to disambiguate unsubscribe requests.
func (s *Store) FindSubscribed(userID, county, state string) []ZoneInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zones []ZoneInfo
	for code, sub := range s.subs {
		if !strings.EqualFold(sub.State, state) || !containsFold(sub.County, county) {
			continue
		}
		for _, existing := range sub.Users {
			if existing == userID {
				zones = append(zones, s.zoneInfoLocked(code, sub))
				break
			}
		}
	}

	sort.Slice(zones, func(i, j int) bool { return zones[i].Code < zones[j].Code })
	return zones
}

// ZoneCodes returns a sorted copy of the tracked zone codes. Poll cycles
// iterate this snapshot, never the live map.
func (s *Store) ZoneCodes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	codes := make([]string, 0, len(s.subs))
	for code := range s.subs {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	return codes
}

// Users returns a copy of the zone's subscriber list.
func (s *Store) Users(zone string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, exists := s.subs[zone]
	if !exists {
		return nil
	}

	users := make([]string, len(sub.Users))
	copy(users, sub.Users)
	return users
}

// Location reports the county and state recorded for a zone.
func (s *Store) Location(zone string) (county, state string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, exists := s.subs[zone]
	if !exists {
		return "", "", false
	}
	return sub.County, sub.State, true
}

// ActiveAlerts returns a copy of the event names currently tracked as
// active for a zone.
func (s *Store) ActiveAlerts(zone string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, exists := s.subs[zone]
	if !exists {
		return nil
	}

	alerts := make([]string, len(sub.Alerts))
	copy(alerts, sub.Alerts)
	return alerts
}

// SetActiveAlerts replaces the active event set for a zone.
func (s *Store) SetActiveAlerts(zone string, events []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, exists := s.subs[zone]
	if !exists {
		return
	}

	sub.Alerts = make([]string, len(events))
	copy(sub.Alerts, events)
}

// Zones summarizes every tracked zone, sorted by code.
func (s *Store) Zones() []ZoneInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	zones := make([]ZoneInfo, 0, len(s.subs))
	for code, sub := range s.subs {
		zones = append(zones, s.zoneInfoLocked(code, sub))
	}

	sort.Slice(zones, func(i, j int) bool { return zones[i].Code < zones[j].Code })
	return zones
}

func (s *Store) zoneInfoLocked(code string, sub *Subscription) ZoneInfo {
	return ZoneInfo{
		Code:         code,
		County:       sub.County,
		State:        sub.State,
		ZoneName:     sub.ZoneName,
		Subscribers:  len(sub.Users),
		ActiveAlerts: len(sub.Alerts),
	}
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToUpper(haystack), strings.ToUpper(needle))
}
