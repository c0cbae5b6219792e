package main

import (
	"reflect"
	"time"

	"github.com/pkg/errors"

	"github.com/mattermost/mattermost-plugin-weatheralerts/server/nws"
)

const (
	defaultGazetteerSource  = "https://www.weather.gov/source/gis/Shapefiles/County/bp08mr23.dbx"
	defaultSubscriptionFile = "subscriptions.json"

	minPollIntervalMinutes     = 1
	maxPollIntervalMinutes     = 5
	defaultPollIntervalMinutes = 1
)

// configuration captures the plugin's external configuration as exposed in
// the Mattermost server configuration, as well as values computed from the
// configuration.
//
// As plugins are inherently concurrent (hooks being called asynchronously),
// and the plugin configuration can change at any time, access to the
// configuration must be synchronized. The strategy used here is to guard a
// pointer to the configuration and clone the entire struct whenever it
// changes.
type configuration struct {
	// BotUsername and BotDisplayName identify the bot user that posts
	// prompts and delivers alerts.
	BotUsername    string `json:"botUsername"`
	BotDisplayName string `json:"botDisplayName"`

	// PollIntervalMinutes is how often every subscribed zone is polled.
	// Clamped to 1-5 minutes.
	PollIntervalMinutes int `json:"pollIntervalMinutes"`

	// GazetteerSource is the URL or local path of the pipe-delimited
	// county reference dataset.
	GazetteerSource string `json:"gazetteerSource"`

	// NOAAAPIURL overrides the NOAA API base URL, mainly for testing.
	NOAAAPIURL string `json:"noaaApiUrl"`

	// SubscriptionFilePath is where subscription state is persisted.
	SubscriptionFilePath string `json:"subscriptionFilePath"`
}

// Clone creates a deep copy of the configuration. All fields are value
// types, so a struct copy suffices.
func (c *configuration) Clone() *configuration {
	clone := *c
	return &clone
}

func (c *configuration) pollInterval() time.Duration {
	minutes := c.PollIntervalMinutes
	if minutes < minPollIntervalMinutes {
		minutes = defaultPollIntervalMinutes
	}
	if minutes > maxPollIntervalMinutes {
		minutes = maxPollIntervalMinutes
	}
	return time.Duration(minutes) * time.Minute
}

func (c *configuration) gazetteerSource() string {
	if c.GazetteerSource == "" {
		return defaultGazetteerSource
	}
	return c.GazetteerSource
}

func (c *configuration) apiURL() string {
	if c.NOAAAPIURL == "" {
		return nws.DefaultBaseURL
	}
	return c.NOAAAPIURL
}

func (c *configuration) subscriptionPath() string {
	if c.SubscriptionFilePath == "" {
		return defaultSubscriptionFile
	}
	return c.SubscriptionFilePath
}

// getConfiguration retrieves the active configuration under lock, making it
// safe to use concurrently. The active configuration may change underneath
// the client of this method, but the struct returned by this API call is
// considered immutable.
func (p *Plugin) getConfiguration() *configuration {
	p.configurationLock.RLock()
	defer p.configurationLock.RUnlock()

	if p.configuration == nil {
		return &configuration{}
	}

	return p.configuration
}

// setConfiguration replaces the active configuration under lock.
//
// Do not call setConfiguration while holding the configurationLock, as
// sync.Mutex is not reentrant.
func (p *Plugin) setConfiguration(configuration *configuration) {
	p.configurationLock.Lock()
	defer p.configurationLock.Unlock()

	if configuration != nil && p.configuration == configuration {
		// Ignore assignment if the configuration struct is empty. Go will
		// optimize the allocation for same to point at the same memory
		// address, breaking the check above.
		if reflect.ValueOf(*configuration).NumField() == 0 {
			return
		}

		panic("setConfiguration called with the existing configuration")
	}

	p.configuration = configuration
}

// OnConfigurationChange is invoked when configuration changes may have been
// made. A changed poll interval restarts the poller; everything else is
// picked up lazily.
func (p *Plugin) OnConfigurationChange() error {
	var newConfig = new(configuration)

	if err := p.API.LoadPluginConfiguration(newConfig); err != nil {
		return errors.Wrap(err, "failed to load plugin configuration")
	}

	oldConfig := p.getConfiguration()
	p.setConfiguration(newConfig)

	if oldConfig.pollInterval() != newConfig.pollInterval() {
		if err := p.restartPoller(newConfig.pollInterval()); err != nil {
			p.API.LogError("Failed to restart poller after interval change", "error", err.Error())
		}
	}

	return nil
}
