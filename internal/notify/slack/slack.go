// Package slack posts notify events to a Slack channel.
package slack

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/zulandar/larcrm/internal/notify"
)

// maxRetries is the max number of retries for rate-limited API calls.
const maxRetries = 3

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// Notifier implements notify.Notifier for Slack.
type Notifier struct {
	client    slackClient
	channelID string
	mention   string // rendered mention prefix for urgent events
}

// Opts holds parameters for creating a Slack Notifier.
type Opts struct {
	BotToken  string // Slack bot token (xoxb-...)
	ChannelID string // channel to post to
	// Mention is pinged on urgent events: "here", "channel", a user group
	// ID (S...) or a user ID (U...).
	Mention string
	// For testing: inject a mock client instead of the real Slack API.
	Client slackClient
}

// New creates a Slack Notifier.
func New(opts Opts) (*Notifier, error) {
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("slack: channel id is required")
	}
	client := opts.Client
	if client == nil {
		if opts.BotToken == "" {
			return nil, fmt.Errorf("slack: bot token is required")
		}
		client = slackapi.New(opts.BotToken)
	}
	return &Notifier{client: client, channelID: opts.ChannelID, mention: mentionTag(opts.Mention)}, nil
}

// mentionTag renders a Slack mention in message markup.
func mentionTag(m string) string {
	m = strings.TrimSpace(m)
	switch {
	case m == "":
		return ""
	case m == "here" || m == "channel" || m == "everyone":
		return "<!" + m + ">"
	case strings.HasPrefix(m, "S"):
		return "<!subteam^" + m + ">"
	default:
		return "<@" + m + ">"
	}
}

// Notify posts evt as a message attachment.
func (n *Notifier) Notify(ctx context.Context, evt notify.Event) error {
	options := n.buildMessageOptions(evt)
	err := retryOnRateLimit(ctx, func() error {
		_, _, postErr := n.client.PostMessage(n.channelID, options...)
		return postErr
	})
	if err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	return nil
}

// buildMessageOptions translates an event into Slack message options. The
// title doubles as the notification text, prefixed by the mention when the
// event is urgent.
func (n *Notifier) buildMessageOptions(evt notify.Event) []slackapi.MsgOption {
	return []slackapi.MsgOption{
		slackapi.MsgOptionText(n.text(evt), false),
		slackapi.MsgOptionAttachments(eventToAttachment(evt)),
	}
}

func (n *Notifier) text(evt notify.Event) string {
	if evt.Urgent && n.mention != "" {
		return n.mention + " " + evt.Title
	}
	return evt.Title
}

// eventToAttachment converts an Event to a Slack Attachment.
func eventToAttachment(evt notify.Event) slackapi.Attachment {
	att := slackapi.Attachment{
		Title:     evt.Title,
		TitleLink: evt.URL,
		Text:      evt.Body,
		Color:     evt.Color,
		Fallback:  evt.Title,
	}

	for _, f := range evt.Fields {
		att.Fields = append(att.Fields, slackapi.AttachmentField{
			Title: f.Name,
			Value: f.Value,
			Short: f.Short,
		})
	}

	return att
}

// retryOnRateLimit calls fn and retries with backoff on Slack rate limit errors.
// It respects context cancellation and the RetryAfter duration from Slack.
func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) {
			return err
		}

		if attempt == maxRetries {
			return err
		}

		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}
		log.Printf("slack: rate limited (attempt %d/%d), retrying in %v", attempt+1, maxRetries, wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil
}
