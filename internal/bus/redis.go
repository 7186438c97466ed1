package bus

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"snapcmd/internal/event"
)

// RedisChannel is the pub/sub channel carrying capture_request envelopes.
const RedisChannel = "snapcmd:capture_request"

// RedisDialer subscribes to channel on the server described by opt. Each
// dial uses a fresh client.
func RedisDialer(opt *redis.Options, channel string) DialFunc {
	return func(ctx context.Context) (Conn, error) {
		rdb := redis.NewClient(opt)
		ps := rdb.Subscribe(ctx, channel)
		if _, err := ps.Receive(ctx); err != nil {
			ps.Close()
			rdb.Close()
			return nil, fmt.Errorf("subscribe %s: %w", channel, err)
		}
		return &redisConn{rdb: rdb, ps: ps}, nil
	}
}

type redisConn struct {
	rdb *redis.Client
	ps  *redis.PubSub
}

func (r *redisConn) Serve(ctx context.Context, h Handler) error {
	// A blocked read only notices ctx once the subscription is closed.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			r.ps.Close()
		case <-stop:
		}
	}()

	for {
		msg, err := r.ps.ReceiveMessage(ctx)
		if err != nil {
			return err
		}
		t, err := event.Decode([]byte(msg.Payload))
		if err != nil {
			continue
		}
		h(t)
	}
}

func (r *redisConn) Close() error {
	r.ps.Close()
	return r.rdb.Close()
}

// RedisPublisher publishes triggers onto the Redis bus.
type RedisPublisher struct {
	rdb     *redis.Client
	channel string
}

// NewRedisPublisher returns a publisher writing to RedisChannel.
func NewRedisPublisher(rdb *redis.Client) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, channel: RedisChannel}
}

// Publish sends t and returns the number of Redis subscribers that got it.
func (p *RedisPublisher) Publish(ctx context.Context, t event.Trigger) (int64, error) {
	frame, err := event.Encode(t)
	if err != nil {
		return 0, err
	}
	n, err := p.rdb.Publish(ctx, p.channel, frame).Result()
	if err != nil {
		return 0, fmt.Errorf("bus: redis publish: %w", err)
	}
	return n, nil
}
