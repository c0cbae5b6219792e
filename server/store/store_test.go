package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mattermost/mattermost/server/public/plugin/plugintest"
	"github.com/mattermost/mattermost/server/public/pluginapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testLogger(t *testing.T) pluginapi.LogService {
	t.Helper()

	api := &plugintest.API{}
	api.On("LogDebug", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Maybe()
	api.On("LogInfo", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Maybe()
	api.On("LogError", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Maybe()

	return pluginapi.NewClient(api, &plugintest.Driver{}).Log
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "subscriptions.json"), testLogger(t))
}

func TestStore_Load(t *testing.T) {
	t.Run("missing file is an empty store", func(t *testing.T) {
		s := newTestStore(t)
		require.NoError(t, s.Load())
		assert.Empty(t, s.ZoneCodes())
	})

	t.Run("corrupt file is an error", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "subscriptions.json")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

		s := New(path, testLogger(t))
		assert.Error(t, s.Load())
	})
}

func TestStore_Subscribe(t *testing.T) {
	t.Run("first subscribe creates the zone record", func(t *testing.T) {
		s := newTestStore(t)

		result, created := s.Subscribe("CAC059", "ORANGE", "CA", "Orange County Coastal", "user-1")
		assert.Equal(t, Added, result)
		assert.True(t, created)
		assert.Equal(t, []string{"user-1"}, s.Users("CAC059"))
		assert.Empty(t, s.ActiveAlerts("CAC059"))
	})

	t.Run("subscribe is idempotent per user", func(t *testing.T) {
		s := newTestStore(t)

		result, _ := s.Subscribe("CAC059", "ORANGE", "CA", "", "user-1")
		assert.Equal(t, Added, result)

		result, created := s.Subscribe("CAC059", "ORANGE", "CA", "", "user-1")
		assert.Equal(t, AlreadySubscribed, result)
		assert.False(t, created)
		assert.Len(t, s.Users("CAC059"), 1)
	})

	t.Run("subscriber order is preserved", func(t *testing.T) {
		s := newTestStore(t)

		s.Subscribe("CAC059", "ORANGE", "CA", "", "user-2")
		s.Subscribe("CAC059", "ORANGE", "CA", "", "user-1")
		s.Subscribe("CAC059", "ORANGE", "CA", "", "user-3")

		assert.Equal(t, []string{"user-2", "user-1", "user-3"}, s.Users("CAC059"))
	})
}

func TestStore_Unsubscribe(t *testing.T) {
	t.Run("removes only the named user", func(t *testing.T) {
		s := newTestStore(t)
		s.Subscribe("CAC059", "ORANGE", "CA", "", "user-1")
		s.Subscribe("CAC059", "ORANGE", "CA", "", "user-2")

		assert.Equal(t, Removed, s.Unsubscribe("CAC059", "user-1"))
		assert.Equal(t, []string{"user-2"}, s.Users("CAC059"))
	})

	t.Run("unknown user or zone reports NotSubscribed", func(t *testing.T) {
		s := newTestStore(t)
		s.Subscribe("CAC059", "ORANGE", "CA", "", "user-1")

		assert.Equal(t, NotSubscribed, s.Unsubscribe("CAC059", "user-9"))
		assert.Equal(t, NotSubscribed, s.Unsubscribe("TXC361", "user-1"))
	})

	t.Run("unsubscribe all spans every zone", func(t *testing.T) {
		s := newTestStore(t)
		s.Subscribe("CAC059", "ORANGE", "CA", "", "user-1")
		s.Subscribe("TXC361", "ORANGE", "TX", "", "user-1")
		s.Subscribe("TXC361", "ORANGE", "TX", "", "user-2")

		assert.Equal(t, 2, s.UnsubscribeAll("user-1"))
		assert.Empty(t, s.Users("CAC059"))
		assert.Equal(t, []string{"user-2"}, s.Users("TXC361"))
	})
}

func TestStore_Save(t *testing.T) {
	t.Run("empty zones are pruned from persisted state", func(t *testing.T) {
		s := newTestStore(t)
		s.Subscribe("CAC059", "ORANGE", "CA", "", "user-1")
		s.Subscribe("TXC361", "ORANGE", "TX", "", "user-2")
		s.Unsubscribe("CAC059", "user-1")

		require.NoError(t, s.Save())

		reloaded := New(s.path, testLogger(t))
		require.NoError(t, reloaded.Load())
		assert.Equal(t, []string{"TXC361"}, reloaded.ZoneCodes())
	})

	t.Run("round-trips subscriber order and alert sets", func(t *testing.T) {
		s := newTestStore(t)
		s.Subscribe("CAC059", "ORANGE", "CA", "Orange County Coastal", "user-2")
		s.Subscribe("CAC059", "ORANGE", "CA", "Orange County Coastal", "user-1")
		s.SetActiveAlerts("CAC059", []string{"Flood Warning", "High Wind Watch"})

		require.NoError(t, s.Save())

		reloaded := New(s.path, testLogger(t))
		require.NoError(t, reloaded.Load())
		assert.Equal(t, []string{"user-2", "user-1"}, reloaded.Users("CAC059"))
		assert.Equal(t, []string{"Flood Warning", "High Wind Watch"}, reloaded.ActiveAlerts("CAC059"))

		county, state, ok := reloaded.Location("CAC059")
		require.True(t, ok)
		assert.Equal(t, "ORANGE", county)
		assert.Equal(t, "CA", state)
	})

	t.Run("save leaves no temporary files behind", func(t *testing.T) {
		s := newTestStore(t)
		s.Subscribe("CAC059", "ORANGE", "CA", "", "user-1")
		require.NoError(t, s.Save())

		entries, err := os.ReadDir(filepath.Dir(s.path))
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "subscriptions.json", entries[0].Name())
	})
}

func TestStore_Queries(t *testing.T) {
	s := newTestStore(t)
	s.Subscribe("CAC059", "ORANGE", "CA", "Orange County Coastal", "user-1")
	s.Subscribe("CAC060", "ORANGE", "CA", "Orange County Inland", "user-1")
	s.Subscribe("TXC361", "ORANGE", "TX", "", "user-1")
	s.Subscribe("NYC001", "ALBANY", "NY", "", "user-2")

	t.Run("subscriptions are sorted by county then state", func(t *testing.T) {
		locations := s.Subscriptions("user-1")
		require.Len(t, locations, 3)
		assert.Equal(t, Location{County: "ORANGE", State: "CA"}, locations[0])
		assert.Equal(t, Location{County: "ORANGE", State: "CA"}, locations[1])
		assert.Equal(t, Location{County: "ORANGE", State: "TX"}, locations[2])
	})

	t.Run("find subscribed filters by user, county and state", func(t *testing.T) {
		zones := s.FindSubscribed("user-1", "ORANGE", "CA")
		require.Len(t, zones, 2)
		assert.Equal(t, "CAC059", zones[0].Code)
		assert.Equal(t, "CAC060", zones[1].Code)

		assert.Empty(t, s.FindSubscribed("user-2", "ORANGE", "CA"))
		assert.Empty(t, s.FindSubscribed("user-1", "ORANGE", "NY"))
	})

	t.Run("zone codes are a sorted snapshot", func(t *testing.T) {
		codes := s.ZoneCodes()
		assert.Equal(t, []string{"CAC059", "CAC060", "NYC001", "TXC361"}, codes)

		codes[0] = "mutated"
		assert.Equal(t, []string{"CAC059", "CAC060", "NYC001", "TXC361"}, s.ZoneCodes())
	})

	t.Run("zones summary counts subscribers and alerts", func(t *testing.T) {
		s.SetActiveAlerts("CAC059", []string{"Flood Warning"})

		zones := s.Zones()
		require.Len(t, zones, 4)
		assert.Equal(t, "CAC059", zones[0].Code)
		assert.Equal(t, 1, zones[0].Subscribers)
		assert.Equal(t, 1, zones[0].ActiveAlerts)
	})
}
