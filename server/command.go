package main

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/mattermost/mattermost/server/public/plugin"
	"github.com/pkg/errors"

	"github.com/mattermost/mattermost-plugin-weatheralerts/server/formatter"
	"github.com/mattermost/mattermost-plugin-weatheralerts/server/resolver"
	"github.com/mattermost/mattermost-plugin-weatheralerts/server/store"
)

const commandTrigger = "weatheralerts"

const commandHelp = "Manage severe weather alert subscriptions:\n" +
	"* `/weatheralerts subscribe <county>, <state>` - receive alerts for a county\n" +
	"* `/weatheralerts unsubscribe <county>, <state>` - stop alerts for a county\n" +
	"* `/weatheralerts unsubscribe` - stop all alerts\n" +
	"* `/weatheralerts list` - show your subscriptions"

// locationPattern splits "county, state" free text. Both sides allow the
// punctuation that appears in real county names (St. Lucie, Miami-Dade).
var locationPattern = regexp.MustCompile(`^([\w\s.,/-]+),\s*([\w\s.-]+)$`)

func (p *Plugin) registerCommand() error {
	subscribe := model.NewAutocompleteData("subscribe", "[county, state]", "Receive alerts for a county")
	subscribe.AddTextArgument("County and state, e.g. Orange, TX", "[county, state]", "")

	unsubscribe := model.NewAutocompleteData("unsubscribe", "[county, state]", "Stop alerts for a county, or all counties")
	unsubscribe.AddTextArgument("County and state, or empty for all", "[county, state]", "")

	list := model.NewAutocompleteData("list", "", "Show your subscriptions")

	command := model.NewAutocompleteData(commandTrigger, "[action]", "Manage severe weather alert subscriptions")
	command.AddCommand(subscribe)
	command.AddCommand(unsubscribe)
	command.AddCommand(list)

	return p.API.RegisterCommand(&model.Command{
		Trigger:          commandTrigger,
		AutoComplete:     true,
		AutoCompleteDesc: "Manage severe weather alert subscriptions",
		AutoCompleteHint: "[subscribe|unsubscribe|list]",
		AutocompleteData: command,
	})
}

// ExecuteCommand handles the /weatheralerts slash command. Subscribe and
// unsubscribe may block on an interactive prompt, so they run asynchronously
// and report back with posts rather than a command response.
func (p *Plugin) ExecuteCommand(_ *plugin.Context, args *model.CommandArgs) (*model.CommandResponse, *model.AppError) {
	action, location := splitCommand(args.Command)

	switch action {
	case "subscribe":
		county, state, ok := parseLocation(location)
		if !ok {
			p.postEphemeral(args.UserId, args.ChannelId,
				"Please provide a location as `<county>, <state>`, e.g. `/weatheralerts subscribe Orange, TX`.")
			return &model.CommandResponse{}, nil
		}
		p.postEphemeral(args.UserId, args.ChannelId,
			fmt.Sprintf("Looking up %s, %s...", county, state))
		go p.handleSubscribe(args.UserId, args.ChannelId, county, state)

	case "unsubscribe":
		if strings.TrimSpace(location) == "" {
			p.handleUnsubscribeAll(args.UserId, args.ChannelId)
			return &model.CommandResponse{}, nil
		}
		county, state, ok := parseLocation(location)
		if !ok {
			p.postEphemeral(args.UserId, args.ChannelId,
				"Please provide a location as `<county>, <state>`, or no location to unsubscribe from everything.")
			return &model.CommandResponse{}, nil
		}
		go p.handleUnsubscribe(args.UserId, args.ChannelId, county, state)

	case "list":
		p.handleList(args.UserId, args.ChannelId)

	default:
		p.postEphemeral(args.UserId, args.ChannelId, commandHelp)
	}

	return &model.CommandResponse{}, nil
}

// splitCommand strips the trigger and separates the action word from the
// free-text remainder.
func splitCommand(command string) (action, remainder string) {
	fields := strings.Fields(command)
	if len(fields) < 2 {
		return "", ""
	}

	action = strings.ToLower(fields[1])
	if len(fields) > 2 {
		remainder = strings.TrimSpace(strings.Join(fields[2:], " "))
	}
	return action, remainder
}

// parseLocation splits "county, state" input on its last usable comma.
func parseLocation(text string) (county, state string, ok bool) {
	groups := locationPattern.FindStringSubmatch(strings.TrimSpace(text))
	if groups == nil {
		return "", "", false
	}
	return strings.TrimSpace(groups[1]), strings.TrimSpace(groups[2]), true
}

func (p *Plugin) handleSubscribe(userID, channelID, county, state string) {
	zone, err := p.resolver.Resolve(userID, channelID, county, state)
	if err != nil {
		p.postEphemeral(userID, channelID, resolveErrorMessage(err))
		return
	}

	result, created := p.store.Subscribe(zone.Code, zone.County, zone.State, zone.ZoneName, userID)
	if result == store.AlreadySubscribed {
		p.postEphemeral(userID, channelID,
			fmt.Sprintf("You are already subscribed to alerts for %s COUNTY, %s.", zone.County, zone.State))
		return
	}

	if err := p.store.Save(); err != nil {
		p.API.LogError("Failed to persist new subscription", "zone", zone.Code, "error", err.Error())
	}

	p.postEphemeral(userID, channelID,
		fmt.Sprintf("You are now subscribed to alerts for %s COUNTY, %s.", zone.County, zone.State))

	if created {
		// Poll right away so a zone under an active alert notifies its
		// first subscriber without waiting out a full interval.
		p.pollZone(zone.Code)
		return
	}

	// The zone was already tracked; anything in effect right now would
	// never show up as new, so deliver it directly to the new subscriber.
	p.notifyCurrentAlerts(userID, zone.Code)
}

// notifyCurrentAlerts sends the zone's currently tracked alerts to one user,
// refreshed from upstream for their full text.
func (p *Plugin) notifyCurrentAlerts(userID, zone string) {
	tracked := p.store.ActiveAlerts(zone)
	if len(tracked) == 0 {
		return
	}

	county, state, ok := p.store.Location(zone)
	if !ok {
		return
	}

	alerts, err := p.nws.ActiveAlerts(zone)
	if err != nil {
		p.API.LogError("Failed to fetch current alerts for new subscriber",
			"zone", zone, "error", err.Error())
		return
	}
	if len(alerts) == 0 {
		return
	}

	if err := p.notifier.NotifyUser(userID, county, state, alerts); err != nil {
		p.API.LogError("Failed to deliver current alerts to new subscriber",
			"zone", zone, "userId", userID, "error", err.Error())
	}
}

func (p *Plugin) handleUnsubscribeAll(userID, channelID string) {
	removed := p.store.UnsubscribeAll(userID)
	if removed > 0 {
		if err := p.store.Save(); err != nil {
			p.API.LogError("Failed to persist unsubscribe", "userId", userID, "error", err.Error())
		}
	}
	p.postEphemeral(userID, channelID, "You have been unsubscribed from all counties.")
}

func (p *Plugin) handleUnsubscribe(userID, channelID, county, state string) {
	matches := p.store.FindSubscribed(userID, county, state)

	var target store.ZoneInfo
	switch {
	case len(matches) == 0:
		p.postEphemeral(userID, channelID,
			fmt.Sprintf("You are not currently subscribed to alerts for %s COUNTY, %s.",
				strings.ToUpper(county), strings.ToUpper(state)))
		return

	case len(matches) == 1:
		target = matches[0]

	default:
		chosen, err := p.chooseSubscribed(userID, channelID, matches)
		if err != nil {
			p.postEphemeral(userID, channelID, resolveErrorMessage(err))
			return
		}
		target = chosen
	}

	if p.store.Unsubscribe(target.Code, userID) == store.Removed {
		if err := p.store.Save(); err != nil {
			p.API.LogError("Failed to persist unsubscribe", "zone", target.Code, "error", err.Error())
		}
	}

	p.postEphemeral(userID, channelID,
		fmt.Sprintf("You have been unsubscribed from alerts for %s COUNTY, %s.", target.County, target.State))
}

// chooseSubscribed prompts the user to pick which of several subscribed
// zones to drop.
func (p *Plugin) chooseSubscribed(userID, channelID string, matches []store.ZoneInfo) (store.ZoneInfo, error) {
	if len(matches) > resolver.MaxCandidates {
		return store.ZoneInfo{}, resolver.ErrTooManyMatches
	}

	labels := make([]string, 0, len(matches))
	for _, match := range matches {
		labels = append(labels, formatter.CandidateLabel(match.County, match.ZoneName))
	}

	choice, cancel, err := p.prompts.Ask(userID, channelID, labels)
	if err != nil {
		return store.ZoneInfo{}, errors.Wrap(err, "failed to prompt for selection")
	}

	select {
	case index := <-choice:
		return matches[index], nil
	case <-p.clock.After(resolver.SelectionTimeout):
		cancel()
		return store.ZoneInfo{}, resolver.ErrSelectionTimeout
	}
}

func (p *Plugin) handleList(userID, channelID string) {
	p.postEphemeral(userID, channelID, formatter.SubscriptionList(p.store.Subscriptions(userID)))
}

// resolveErrorMessage maps resolution failures to the message shown to the
// requesting user.
func resolveErrorMessage(err error) string {
	switch {
	case errors.Is(err, resolver.ErrNotFound):
		return "Unable to find a county matching the provided values. Please try again."
	case errors.Is(err, resolver.ErrTooManyMatches):
		return "Too many subzones exist. The maximum allowed is 10."
	case errors.Is(err, resolver.ErrSelectionTimeout):
		return "Timeout exceeded. Please try again."
	default:
		return "Something went wrong looking up that location. Please try again later."
	}
}

func (p *Plugin) postEphemeral(userID, channelID, message string) {
	p.API.SendEphemeralPost(userID, &model.Post{
		UserId:    p.botID,
		ChannelId: channelID,
		Message:   message,
	})
}
