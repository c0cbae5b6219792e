// Package formatter renders the plugin's user-facing messages as Mattermost
// markdown.
package formatter

import (
	"fmt"
	"strings"

	"github.com/mattermost/mattermost-plugin-weatheralerts/server/nws"
	"github.com/mattermost/mattermost-plugin-weatheralerts/server/store"
)

// CandidateLabel renders one disambiguation option. When the zone display
// name matches the county name the zone adds nothing, so only the county is
// shown.
func CandidateLabel(county, zoneName string) string {
	if zoneName == "" || strings.EqualFold(county, zoneName) {
		return fmt.Sprintf("County: %s", county)
	}
	return fmt.Sprintf("County: %s, Zone: %s", county, zoneName)
}

// SelectionPrompt renders the numbered option list shown when a location
// matches more than one zone.
func SelectionPrompt(labels []string) string {
	var b strings.Builder
	b.WriteString("Multiple matches were found. Please select from the following choices:\n")
	for i, label := range labels {
		fmt.Fprintf(&b, "%d. %s\n", i+1, label)
	}
	return b.String()
}

// AlertBatch renders a batch of newly active alerts for direct delivery,
// concatenated in detection order.
func AlertBatch(county, state string, alerts []nws.Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "***!!!!!!!! ALERT FOR %s COUNTY, %s !!!!!!!!***\n", county, state)

	messages := make([]string, 0, len(alerts))
	for _, alert := range alerts {
		messages = append(messages,
			fmt.Sprintf("**%s**\n%s\n\n%s", alert.Event, alert.Headline, alert.Description))
	}
	b.WriteString(strings.Join(messages, "\n"))

	return b.String()
}

// SubscriptionList renders the locations a user is subscribed to.
func SubscriptionList(locations []store.Location) string {
	if len(locations) == 0 {
		return "You are not subscribed to any counties."
	}

	pairs := make([]string, 0, len(locations))
	for _, location := range locations {
		pairs = append(pairs, fmt.Sprintf("%s, %s", location.County, location.State))
	}

	return fmt.Sprintf("You are subscribed to the following counties: %s", strings.Join(pairs, ", "))
}
