// Package poller drives the per-zone alert check across all subscribed
// zones on a fixed interval.
package poller

import (
	"fmt"
	"sync"
	"time"

	"github.com/mattermost/mattermost/server/public/plugin"
	"github.com/mattermost/mattermost/server/public/pluginapi"
	"github.com/mattermost/mattermost/server/public/pluginapi/cluster"

	"github.com/mattermost/mattermost-plugin-weatheralerts/server/nws"
)

const jobID = "weatheralerts_poll"

// ZoneChecker computes the newly active alerts for a zone, updating stored
// state as a side effect.
type ZoneChecker interface {
	Check(zone string) ([]nws.Alert, error)
}

// AlertNotifier fans a batch of new alerts out to a zone's subscribers.
type AlertNotifier interface {
	Notify(zone, county, state string, alerts []nws.Alert)
}

// SubscriptionSource exposes the subscribed zones and their persistence.
type SubscriptionSource interface {
	ZoneCodes() []string
	Location(zone string) (county, state string, ok bool)
	Save() error
}

// Status is a snapshot of the poll loop's health for the status API.
type Status struct {
	Running             bool      `json:"running"`
	LastPollTime        time.Time `json:"lastPollTime"`
	LastSuccessTime     time.Time `json:"lastSuccessTime"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	LastError           string    `json:"lastError,omitempty"`
}

// Poller manages the cluster-aware scheduled polling job.
type Poller struct {
	api       *pluginapi.Client
	interval  time.Duration
	subs      SubscriptionSource
	checker   ZoneChecker
	notifier  AlertNotifier
	scheduler JobScheduler

	// pollMu serializes zone polls: a one-off poll fired right after a
	// subscribe must not interleave with the scheduled cycle, or the
	// read-then-write against the stored active set could report the
	// same alert twice.
	pollMu sync.Mutex

	mu                  sync.Mutex
	job                 Job
	lastPoll            time.Time
	lastSuccess         time.Time
	consecutiveFailures int
	lastError           string
}

// New creates a poller instance.
func New(
	api *pluginapi.Client,
	papi plugin.API,
	interval time.Duration,
	subs SubscriptionSource,
	checker ZoneChecker,
	notifier AlertNotifier,
) *Poller {
	return &Poller{
		api:       api,
		interval:  interval,
		subs:      subs,
		checker:   checker,
		notifier:  notifier,
		scheduler: NewClusterJobScheduler(papi),
	}
}

// SetScheduler sets a custom job scheduler (useful for testing).
func (p *Poller) SetScheduler(scheduler JobScheduler) {
	p.scheduler = scheduler
}

// Start begins the polling job.
func (p *Poller) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.job != nil {
		return fmt.Errorf("poller already running")
	}

	job, err := p.scheduler.Schedule(jobID, p.nextWaitInterval, p.run)
	if err != nil {
		return fmt.Errorf("failed to schedule cluster job: %w", err)
	}

	p.job = job
	p.api.Log.Info("Poller started", "interval", p.interval)
	return nil
}

// Stop gracefully stops the polling job. Stopping a stopped poller is a
// no-op.
func (p *Poller) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.job == nil {
		return nil
	}

	err := p.job.Close()
	p.job = nil

	if err != nil {
		p.api.Log.Error("Failed to close cluster job", "error", err.Error())
		return fmt.Errorf("failed to close cluster job: %w", err)
	}

	p.api.Log.Info("Poller stopped")
	return nil
}

// Status reports the poll loop's health.
func (p *Poller) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Status{
		Running:             p.job != nil,
		LastPollTime:        p.lastPoll,
		LastSuccessTime:     p.lastSuccess,
		ConsecutiveFailures: p.consecutiveFailures,
		LastError:           p.lastError,
	}
}

// nextWaitInterval is called by the cluster job scheduler to determine how
// long to wait until the next poll cycle.
func (p *Poller) nextWaitInterval(now time.Time, metadata cluster.JobMetadata) time.Duration {
	// For the first run, execute immediately.
	if metadata.LastFinished.IsZero() {
		return 0
	}

	sinceLastFinished := now.Sub(metadata.LastFinished)
	if sinceLastFinished < p.interval {
		return p.interval - sinceLastFinished
	}

	return 0
}

// run executes one poll cycle over a stable snapshot of the zone set.
// Mutations from concurrent subscribe commands never touch the snapshot.
func (p *Poller) run() {
	p.mu.Lock()
	p.lastPoll = time.Now()
	p.mu.Unlock()

	zones := p.subs.ZoneCodes()
	p.api.Log.Debug("Starting poll cycle", "zones", len(zones))

	var cycleErr error
	for _, zone := range zones {
		if err := p.PollZone(zone); err != nil {
			cycleErr = err
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if cycleErr != nil {
		p.consecutiveFailures++
		p.lastError = cycleErr.Error()
		return
	}
	p.lastSuccess = time.Now()
	p.consecutiveFailures = 0
	p.lastError = ""
}

// PollZone checks a single zone, dispatches any new alerts, and persists
// the updated state. It is also invoked one-off right after the first
// subscription to a zone so the subscriber does not wait a full interval.
func (p *Poller) PollZone(zone string) error {
	p.pollMu.Lock()
	defer p.pollMu.Unlock()

	newAlerts, err := p.checker.Check(zone)
	if err != nil {
		// Transient: the zone is retried on the next cycle.
		p.api.Log.Error("Poll failed for zone", "zone", zone, "error", err.Error())
		return err
	}

	if len(newAlerts) > 0 {
		county, state, ok := p.subs.Location(zone)
		if !ok {
			// The zone was pruned between check and dispatch.
			p.api.Log.Debug("Zone disappeared before dispatch", "zone", zone)
			return nil
		}
		p.notifier.Notify(zone, county, state, newAlerts)
	}

	if err := p.subs.Save(); err != nil {
		// In-memory state stays authoritative until the next save.
		p.api.Log.Error("Failed to persist subscriptions after poll", "zone", zone, "error", err.Error())
		return err
	}

	return nil
}
