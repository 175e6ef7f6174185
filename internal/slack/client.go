package slack

import (
	"fmt"

	"github.com/slack-go/slack"
)

type Client struct {
	api *slack.Client
}

func NewClient(api *slack.Client) *Client {
	return &Client{
		api: api,
	}
}

func (c *Client) AddReaction(channel, timestamp, emoji string) error {
	ref := slack.NewRefToMessage(channel, timestamp)
	return c.api.AddReaction(emoji, ref)
}

func (c *Client) PostThreadMessage(channel, threadTS, text string) error {
	_, err := c.PostThreadMessageReturningTS(channel, threadTS, text)
	return err
}

func (c *Client) PostThreadMessageReturningTS(channel, threadTS, text string) (string, error) {
	_, ts, err := c.api.PostMessage(
		channel,
		slack.MsgOptionText(text, false),
		slack.MsgOptionTS(threadTS),
	)
	return ts, err
}

func (c *Client) UpdateThreadMessage(channel, messageTS, text string) error {
	_, _, _, err := c.api.UpdateMessage(
		channel,
		messageTS,
		slack.MsgOptionText(text, false),
	)
	return err
}

// PostEphemeralResponse answers a slash command through its response URL.
func (c *Client) PostEphemeralResponse(responseURL, text string) error {
	return slack.PostWebhook(responseURL, &slack.WebhookMessage{
		Text:         text,
		ResponseType: "ephemeral",
	})
}

func (c *Client) NotifyError(channel, threadTS string, err error) {
	c.PostThreadMessage(channel, threadTS, fmt.Sprintf(":x: Something went wrong: %s", err.Error()))
}
