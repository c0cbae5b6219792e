// Package prompt asks a user to pick one of up to ten options by reacting
// to a bot post with a number emoji.
package prompt

import (
	"sync"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/mattermost/mattermost/server/public/plugin"
	"github.com/pkg/errors"

	"github.com/mattermost/mattermost-plugin-weatheralerts/server/formatter"
)

// markers are the selectable reaction emojis, in option order. The zero
// marker stands for option ten.
var markers = []string{"one", "two", "three", "four", "five", "six", "seven", "eight", "nine", "zero"}

// MaxOptions is the number of options a single prompt can carry, one per
// marker emoji.
var MaxOptions = len(markers)

// pending is one outstanding prompt awaiting a reaction from its user.
type pending struct {
	userID  string
	options int
	choice  chan int
}

// Service posts selection prompts and routes reaction events back to the
// caller waiting on them.
type Service struct {
	api   plugin.API
	botID string

	mu      sync.Mutex
	waiting map[string]*pending // keyed by post ID
}

// New creates a prompt service posting as the given bot user.
func New(api plugin.API, botID string) *Service {
	return &Service{
		api:     api,
		botID:   botID,
		waiting: make(map[string]*pending),
	}
}

// Ask posts the numbered option list to the channel, reacts to the post
// with one marker per option, and returns a channel that yields the chosen
// zero-based index. The cancel function abandons the prompt; the caller
// must invoke it when it stops waiting.
func (s *Service) Ask(userID, channelID string, labels []string) (<-chan int, func(), error) {
	if len(labels) == 0 || len(labels) > MaxOptions {
		return nil, nil, errors.Errorf("prompt requires 1 to %d options, got %d", MaxOptions, len(labels))
	}

	post, appErr := s.api.CreatePost(&model.Post{
		UserId:    s.botID,
		ChannelId: channelID,
		Message:   formatter.SelectionPrompt(labels),
	})
	if appErr != nil {
		return nil, nil, errors.Wrap(appErr, "failed to post selection prompt")
	}

	for i := range labels {
		_, appErr := s.api.AddReaction(&model.Reaction{
			UserId:    s.botID,
			PostId:    post.Id,
			EmojiName: markers[i],
		})
		if appErr != nil {
			// The prompt is still usable without its marker reactions;
			// the user can add the emoji themselves.
			s.api.LogWarn("Failed to add selection marker",
				"postId", post.Id,
				"marker", markers[i],
				"error", appErr.Error())
		}
	}

	// Buffered so HandleReaction never blocks the platform hook even if
	// the waiter has already given up.
	choice := make(chan int, 1)

	s.mu.Lock()
	s.waiting[post.Id] = &pending{
		userID:  userID,
		options: len(labels),
		choice:  choice,
	}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		delete(s.waiting, post.Id)
		s.mu.Unlock()
	}

	return choice, cancel, nil
}

// HandleReaction routes a reaction event to the prompt waiting on it, if
// any. Reactions from other users, on other posts, or with non-marker
// emojis are ignored.
func (s *Service) HandleReaction(reaction *model.Reaction) {
	index := markerIndex(reaction.EmojiName)
	if index < 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, exists := s.waiting[reaction.PostId]
	if !exists || p.userID != reaction.UserId || index >= p.options {
		return
	}

	delete(s.waiting, reaction.PostId)
	p.choice <- index
}

// Waiting reports the number of outstanding prompts.
func (s *Service) Waiting() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.waiting)
}

func markerIndex(emojiName string) int {
	for i, marker := range markers {
		if marker == emojiName {
			return i
		}
	}
	return -1
}
