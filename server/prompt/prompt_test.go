package prompt

import (
	"testing"
	"time"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/mattermost/mattermost/server/public/plugin/plugintest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func askAPI(t *testing.T, postID string, optionCount int) *plugintest.API {
	t.Helper()

	api := plugintest.NewAPI(t)
	api.On("CreatePost", mock.AnythingOfType("*model.Post")).
		Return(&model.Post{Id: postID}, nil).Once()
	api.On("AddReaction", mock.AnythingOfType("*model.Reaction")).
		Return(&model.Reaction{}, nil).Times(optionCount)
	return api
}

func TestService_Ask(t *testing.T) {
	t.Run("posts prompt and adds one marker per option", func(t *testing.T) {
		api := plugintest.NewAPI(t)

		var posted *model.Post
		api.On("CreatePost", mock.AnythingOfType("*model.Post")).Run(func(args mock.Arguments) {
			posted = args.Get(0).(*model.Post)
		}).Return(&model.Post{Id: "post-1"}, nil).Once()

		var emojis []string
		api.On("AddReaction", mock.AnythingOfType("*model.Reaction")).Run(func(args mock.Arguments) {
			emojis = append(emojis, args.Get(0).(*model.Reaction).EmojiName)
		}).Return(&model.Reaction{}, nil).Times(3)

		s := New(api, "bot-id")
		_, cancel, err := s.Ask("user-1", "channel-1", []string{"a", "b", "c"})
		require.NoError(t, err)
		defer cancel()

		assert.Contains(t, posted.Message, "1. a")
		assert.Contains(t, posted.Message, "3. c")
		assert.Equal(t, []string{"one", "two", "three"}, emojis)
		assert.Equal(t, 1, s.Waiting())
	})

	t.Run("rejects empty and oversized option lists", func(t *testing.T) {
		s := New(plugintest.NewAPI(t), "bot-id")

		_, _, err := s.Ask("user-1", "channel-1", nil)
		assert.Error(t, err)

		labels := make([]string, MaxOptions+1)
		_, _, err = s.Ask("user-1", "channel-1", labels)
		assert.Error(t, err)
	})

	t.Run("cancel deregisters the prompt", func(t *testing.T) {
		api := askAPI(t, "post-1", 2)

		s := New(api, "bot-id")
		_, cancel, err := s.Ask("user-1", "channel-1", []string{"a", "b"})
		require.NoError(t, err)

		cancel()
		assert.Equal(t, 0, s.Waiting())
	})
}

func TestService_HandleReaction(t *testing.T) {
	t.Run("matching reaction yields the option index", func(t *testing.T) {
		api := askAPI(t, "post-1", 3)

		s := New(api, "bot-id")
		choice, cancel, err := s.Ask("user-1", "channel-1", []string{"a", "b", "c"})
		require.NoError(t, err)
		defer cancel()

		s.HandleReaction(&model.Reaction{PostId: "post-1", UserId: "user-1", EmojiName: "two"})

		select {
		case index := <-choice:
			assert.Equal(t, 1, index)
		case <-time.After(time.Second):
			t.Fatal("no selection delivered")
		}
		assert.Equal(t, 0, s.Waiting())
	})

	t.Run("reactions from other users are ignored", func(t *testing.T) {
		api := askAPI(t, "post-1", 2)

		s := New(api, "bot-id")
		choice, cancel, err := s.Ask("user-1", "channel-1", []string{"a", "b"})
		require.NoError(t, err)
		defer cancel()

		s.HandleReaction(&model.Reaction{PostId: "post-1", UserId: "someone-else", EmojiName: "one"})

		select {
		case <-choice:
			t.Fatal("selection should not be delivered for another user")
		default:
		}
		assert.Equal(t, 1, s.Waiting())
	})

	t.Run("non-marker and out-of-range reactions are ignored", func(t *testing.T) {
		api := askAPI(t, "post-1", 2)

		s := New(api, "bot-id")
		choice, cancel, err := s.Ask("user-1", "channel-1", []string{"a", "b"})
		require.NoError(t, err)
		defer cancel()

		s.HandleReaction(&model.Reaction{PostId: "post-1", UserId: "user-1", EmojiName: "thumbsup"})
		s.HandleReaction(&model.Reaction{PostId: "post-1", UserId: "user-1", EmojiName: "five"})

		select {
		case <-choice:
			t.Fatal("selection should not be delivered")
		default:
		}
	})

	t.Run("reaction on an unknown post is ignored", func(t *testing.T) {
		s := New(plugintest.NewAPI(t), "bot-id")
		s.HandleReaction(&model.Reaction{PostId: "post-x", UserId: "user-1", EmojiName: "one"})
	})

	t.Run("second matching reaction is dropped", func(t *testing.T) {
		api := askAPI(t, "post-1", 2)

		s := New(api, "bot-id")
		choice, cancel, err := s.Ask("user-1", "channel-1", []string{"a", "b"})
		require.NoError(t, err)
		defer cancel()

		s.HandleReaction(&model.Reaction{PostId: "post-1", UserId: "user-1", EmojiName: "one"})
		s.HandleReaction(&model.Reaction{PostId: "post-1", UserId: "user-1", EmojiName: "two"})

		assert.Equal(t, 0, <-choice)
		select {
		case <-choice:
			t.Fatal("only one selection should be delivered")
		default:
		}
	})
}

func TestMaxOptionsCoversEveryMarker(t *testing.T) {
	assert.Equal(t, len(markers), MaxOptions)
	assert.Equal(t, 10, MaxOptions)
}
