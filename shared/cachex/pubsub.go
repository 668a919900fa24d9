package cachex

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
)

// PublishJSON marshals value and publishes it on a named channel. Delivery is
// fire-and-forget: subscribers that are not connected at publish time never
// see the message.
func (c *Client) PublishJSON(ctx context.Context, channel string, value any) error {
	if c == nil || c.redis == nil {
		return errors.New("redis client not initialized")
	}
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.redis.Publish(ctx, channel, b).Err()
}

// Subscribe opens a subscription on the given channels. The caller owns the
// returned PubSub and must Close it.
func (c *Client) Subscribe(ctx context.Context, channels ...string) (*redis.PubSub, error) {
	if c == nil || c.redis == nil {
		return nil, errors.New("redis client not initialized")
	}
	return c.redis.Subscribe(ctx, channels...), nil
}
