package nws

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mattermost/mattermost/server/public/pluginapi"
	"github.com/pkg/errors"
)

// DefaultBaseURL is the production NOAA API endpoint.
const DefaultBaseURL = "https://api.weather.gov"

// userAgent identifies the plugin to the NOAA API, which rejects requests
// without a User-Agent header.
const userAgent = "mattermost-plugin-weatheralerts (weatheralerts@mattermost.com)"

// Client handles communication with the NOAA weather API for resolving
// alert zones and fetching active alerts.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     pluginapi.LogService
}

// NewClient creates a new NOAA API client.
func NewClient(baseURL string, logger pluginapi.LogService) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// PointZone resolves a latitude/longitude pair to its canonical alert zone
// code. The API reports the containing county as a URI; the zone code is the
// final path segment of that URI.
func (c *Client) PointZone(latitude, longitude string) (string, error) {
	pointURL := fmt.Sprintf("%s/points/%s,%s",
		c.baseURL, url.PathEscape(latitude), url.PathEscape(longitude))

	var point pointResponse
	if err := c.getJSON(pointURL, &point); err != nil {
		return "", errors.Wrap(err, "point lookup failed")
	}

	if point.Properties.County == "" {
		return "", errors.Errorf("point response for %s,%s has no county", latitude, longitude)
	}

	segments := strings.Split(point.Properties.County, "/")
	zone := segments[len(segments)-1]

	c.logger.Debug("Resolved point to alert zone",
		"latitude", latitude,
		"longitude", longitude,
		"zone", zone)

	return zone, nil
}

// ActiveAlerts fetches the alerts currently in effect for a zone. A response
// with no features is not an error; it means no alerts are active.
func (c *Client) ActiveAlerts(zone string) ([]Alert, error) {
	alertsURL := fmt.Sprintf("%s/alerts/active?zone=%s", c.baseURL, url.QueryEscape(zone))

	var response alertsResponse
	if err := c.getJSON(alertsURL, &response); err != nil {
		return nil, errors.Wrapf(err, "active alerts fetch failed for zone %s", zone)
	}

	alerts := make([]Alert, 0, len(response.Features))
	for _, feature := range response.Features {
		alerts = append(alerts, feature.Properties)
	}

	c.logger.Debug("Fetched active alerts", "zone", zone, "count", len(alerts))

	return alerts, nil
}

// getJSON issues a GET request and decodes a successful JSON response into
// out. Non-200 statuses become a StatusError carrying any detail the API
// included in its problem document.
func (c *Client) getJSON(requestURL string, out any) error {
	req, err := http.NewRequest(http.MethodGet, requestURL, nil)
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/geo+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		statusErr := &StatusError{StatusCode: resp.StatusCode}
		// The API usually returns a problem document with a detail field.
		// Ignore decode failures; the status code alone is enough.
		_ = json.NewDecoder(resp.Body).Decode(statusErr)
		return statusErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "failed to parse response")
	}

	return nil
}
