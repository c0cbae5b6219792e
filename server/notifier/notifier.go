// Package notifier delivers new-alert batches to zone subscribers over
// direct messages.
package notifier

import (
	"github.com/mattermost/mattermost/server/public/model"
	"github.com/mattermost/mattermost/server/public/plugin"
	"github.com/pkg/errors"

	"github.com/mattermost/mattermost-plugin-weatheralerts/server/formatter"
	"github.com/mattermost/mattermost-plugin-weatheralerts/server/nws"
)

// SubscriberSource resolves the current subscriber list for a zone. It is
// consulted at dispatch time so the fan-out reflects concurrent
// unsubscribes.
type SubscriberSource interface {
	Users(zone string) []string
}

// Notifier fans alert batches out to subscribers. It is stateless beyond
// its immutable wiring.
type Notifier struct {
	api         plugin.API
	botID       string
	subscribers SubscriberSource
}

// New creates a Notifier posting as the given bot user.
func New(api plugin.API, botID string, subscribers SubscriberSource) *Notifier {
	return &Notifier{
		api:         api,
		botID:       botID,
		subscribers: subscribers,
	}
}

// Notify delivers the batch to every current subscriber of the zone. A
// failed delivery to one subscriber is logged and does not block the rest.
// A zone with no subscribers is a no-op.
func (n *Notifier) Notify(zone, county, state string, alerts []nws.Alert) {
	if len(alerts) == 0 {
		return
	}

	for _, userID := range n.subscribers.Users(zone) {
		if err := n.NotifyUser(userID, county, state, alerts); err != nil {
			n.api.LogError("Failed to deliver alert notification",
				"zone", zone,
				"userId", userID,
				"error", err.Error())
		}
	}
}

// NotifyUser delivers the batch to a single user over the bot's direct
// message channel.
func (n *Notifier) NotifyUser(userID, county, state string, alerts []nws.Alert) error {
	channel, appErr := n.api.GetDirectChannel(n.botID, userID)
	if appErr != nil {
		return errors.Wrap(appErr, "failed to open direct channel")
	}

	post := &model.Post{
		UserId:    n.botID,
		ChannelId: channel.Id,
		Message:   formatter.AlertBatch(county, state, alerts),
	}

	if _, appErr := n.api.CreatePost(post); appErr != nil {
		return errors.Wrap(appErr, "failed to create post")
	}

	return nil
}
