package main

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mattermost/mattermost/server/public/model"
	"github.com/mattermost/mattermost/server/public/plugin"
	"github.com/mattermost/mattermost/server/public/pluginapi"
	"github.com/pkg/errors"

	"github.com/mattermost/mattermost-plugin-weatheralerts/server/diff"
	"github.com/mattermost/mattermost-plugin-weatheralerts/server/gazetteer"
	"github.com/mattermost/mattermost-plugin-weatheralerts/server/notifier"
	"github.com/mattermost/mattermost-plugin-weatheralerts/server/nws"
	"github.com/mattermost/mattermost-plugin-weatheralerts/server/poller"
	"github.com/mattermost/mattermost-plugin-weatheralerts/server/prompt"
	"github.com/mattermost/mattermost-plugin-weatheralerts/server/resolver"
	"github.com/mattermost/mattermost-plugin-weatheralerts/server/store"
)

// Plugin implements the interface expected by the Mattermost server to
// communicate between the server and plugin processes.
type Plugin struct {
	plugin.MattermostPlugin

	// client is the Mattermost server API client.
	client *pluginapi.Client

	// configurationLock synchronizes access to the configuration.
	configurationLock sync.RWMutex

	// configuration is the active plugin configuration. Consult
	// getConfiguration and setConfiguration for usage.
	configuration *configuration

	// botID is the user the plugin posts and delivers alerts as.
	botID string

	// gazetteer is the zone reference dataset, loaded once on activation.
	gazetteer *gazetteer.Gazetteer

	// store is the durable subscription registry.
	store *store.Store

	// nws talks to the NOAA API.
	nws *nws.Client

	// prompts tracks outstanding reaction-based selection prompts.
	prompts *prompt.Service

	// resolver maps free-text locations to alert zones.
	resolver *resolver.Resolver

	// engine diffs upstream alerts against stored zone state.
	engine *diff.Engine

	// notifier fans new alerts out to subscribers.
	notifier *notifier.Notifier

	// clock feeds the unsubscribe prompt timeout.
	clock clockwork.Clock

	// pollerLock guards poller swaps on configuration changes.
	pollerLock sync.Mutex
	poller     *poller.Poller
}

// OnActivate is invoked when the plugin is activated. If an error is
// returned, the plugin will be deactivated.
func (p *Plugin) OnActivate() error {
	p.client = pluginapi.NewClient(p.API, p.Driver)
	p.clock = clockwork.NewRealClock()

	config := p.getConfiguration()

	botUsername := config.BotUsername
	if botUsername == "" {
		botUsername = "weather-alerts"
	}
	botDisplayName := config.BotDisplayName
	if botDisplayName == "" {
		botDisplayName = "Weather Alerts"
	}

	botID, appErr := p.API.EnsureBotUser(&model.Bot{
		Username:    botUsername,
		DisplayName: botDisplayName,
		Description: "Bot for delivering severe weather alerts",
	})
	if appErr != nil {
		return errors.Wrap(appErr, "failed to ensure bot user")
	}
	p.botID = botID

	g, err := gazetteer.Load(config.gazetteerSource(), gazetteer.DefaultSchema)
	if err != nil {
		return errors.Wrap(err, "failed to load zone gazetteer")
	}
	p.gazetteer = g
	p.API.LogInfo("Zone gazetteer loaded", "records", g.Len(), "source", config.gazetteerSource())

	subscriptionPath, err := p.resolveDataPath(config.subscriptionPath())
	if err != nil {
		return errors.Wrap(err, "failed to resolve subscription file path")
	}
	p.store = store.New(subscriptionPath, p.client.Log)
	if err := p.store.Load(); err != nil {
		return errors.Wrap(err, "failed to load subscriptions")
	}

	p.nws = nws.NewClient(config.apiURL(), p.client.Log)
	p.prompts = prompt.New(p.API, p.botID)
	p.resolver = resolver.New(p.gazetteer, p.nws, p.prompts, p.client.Log)
	p.engine = diff.NewEngine(p.nws, p.store, p.client.Log)
	p.notifier = notifier.New(p.API, p.botID, p.store)

	if err := p.registerCommand(); err != nil {
		return errors.Wrap(err, "failed to register slash command")
	}

	p.pollerLock.Lock()
	p.poller = poller.New(p.client, p.API, config.pollInterval(), p.store, p.engine, p.notifier)
	err = p.poller.Start()
	p.pollerLock.Unlock()
	if err != nil {
		return errors.Wrap(err, "failed to start poller")
	}

	p.API.LogInfo("Weather alerts plugin activated",
		"zones", len(p.store.ZoneCodes()),
		"interval", config.pollInterval().String())

	return nil
}

// OnDeactivate is invoked when the plugin is deactivated.
func (p *Plugin) OnDeactivate() error {
	p.pollerLock.Lock()
	defer p.pollerLock.Unlock()

	if p.poller != nil {
		if err := p.poller.Stop(); err != nil {
			p.API.LogError("Failed to stop poller during deactivation", "error", err.Error())
			return err
		}
	}

	return nil
}

// ReactionHasBeenAdded routes reaction events to any selection prompt
// waiting on them.
func (p *Plugin) ReactionHasBeenAdded(_ *plugin.Context, reaction *model.Reaction) {
	if p.prompts == nil {
		return
	}
	p.prompts.HandleReaction(reaction)
}

// restartPoller replaces the running poller with one on the new interval.
// The subscription store, diff engine and notifier carry over.
func (p *Plugin) restartPoller(interval time.Duration) error {
	p.pollerLock.Lock()
	defer p.pollerLock.Unlock()

	if p.poller == nil {
		// Not activated yet; OnActivate will pick up the new interval.
		return nil
	}

	if err := p.poller.Stop(); err != nil {
		return errors.Wrap(err, "failed to stop poller")
	}

	p.poller = poller.New(p.client, p.API, interval, p.store, p.engine, p.notifier)
	if err := p.poller.Start(); err != nil {
		return errors.Wrap(err, "failed to start poller")
	}

	p.API.LogInfo("Poller restarted", "interval", interval.String())
	return nil
}

// resolveDataPath anchors a relative data file path under the plugin's
// bundle directory instead of the server's working directory. Absolute
// paths are respected as configured.
func (p *Plugin) resolveDataPath(path string) (string, error) {
	if filepath.IsAbs(path) {
		return path, nil
	}

	bundlePath, err := p.API.GetBundlePath()
	if err != nil {
		return "", errors.Wrap(err, "failed to get bundle path")
	}

	return filepath.Join(bundlePath, path), nil
}

// pollerStatus reports the current poller's health for the status API.
func (p *Plugin) pollerStatus() poller.Status {
	p.pollerLock.Lock()
	defer p.pollerLock.Unlock()

	if p.poller == nil {
		return poller.Status{}
	}
	return p.poller.Status()
}

// pollZone runs a one-off poll for a single zone.
func (p *Plugin) pollZone(zone string) {
	p.pollerLock.Lock()
	active := p.poller
	p.pollerLock.Unlock()

	if active == nil {
		return
	}
	if err := active.PollZone(zone); err != nil {
		p.API.LogError("One-off poll failed", "zone", zone, "error", err.Error())
	}
}

func main() {
	plugin.ClientMain(&Plugin{})
}
