package collab

import (
	"github.com/slack-go/slack"
)

// SlackNotifier posts fire-and-forget events to a Slack channel, following
// the teacher's Announcer shape (a thin wrapper generating a human-readable
// message per event) but routed to Slack instead of TTS.
type SlackNotifier struct {
	client    *slack.Client
	channelID string
}

// NewSlackNotifier builds a notifier posting to channelID. An empty token
// yields a no-op notifier (useful when notifications aren't configured).
func NewSlackNotifier(token, channelID string) *SlackNotifier {
	if token == "" {
		return &SlackNotifier{}
	}
	return &SlackNotifier{client: slack.New(token), channelID: channelID}
}

// Notify posts event/detail to Slack in the background. It never blocks
// the core (spec §6): failures are swallowed, since notification delivery
// is explicitly out of the core's error taxonomy.
func (n *SlackNotifier) Notify(event, detail string) {
	if n.client == nil || n.channelID == "" {
		return
	}
	go func() {
		text := event
		if detail != "" {
			text = event + ": " + detail
		}
		_, _, _ = n.client.PostMessage(n.channelID, slack.MsgOptionText(text, false))
	}()
}

var _ Notifier = (*SlackNotifier)(nil)
