package chat

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go/v4"
)

// Polling bounds for WaitForReply. The backend produces assistant
// replies asynchronously, typically within a few seconds.
const (
	replyPollDelay    = 1 * time.Second
	replyPollMaxDelay = 5 * time.Second
)

var errNoReplyYet = errors.New("no assistant reply yet")

// WaitForReply polls the chat's last message until an assistant reply
// newer than afterID appears, backing off between polls. It returns the
// reply, or the context error when ctx ends first.
func (c *Client) WaitForReply(ctx context.Context, chatID, afterID int64) (*Message, error) {
	var reply *Message

	err := retry.Do(
		func() error {
			msg, err := c.LastMessage(ctx, chatID)
			if err != nil {
				return err
			}
			if msg.IsUser || msg.ID <= afterID {
				return errNoReplyYet
			}
			reply = msg
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(0),
		retry.Delay(replyPollDelay),
		retry.MaxDelay(replyPollMaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			// Poll again only while the reply is pending; real API or
			// session errors should surface immediately.
			return errors.Is(err, errNoReplyYet)
		}),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return reply, nil
}
