package bus

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"snapcmd/internal/event"
)

// DefaultBackoff is the fixed delay between upstream connection attempts.
const DefaultBackoff = 5 * time.Second

// ErrGaveUp is returned by Link.Run when reconnects are disabled and the
// single connection attempt has ended.
var ErrGaveUp = errors.New("bus: upstream link closed and reconnect is disabled")

// Handler receives triggers read from upstream. It runs on the link's read
// loop and must not block.
type Handler func(event.Trigger)

// Conn is one established upstream connection.
type Conn interface {
	// Serve reads events and passes them to h until the connection fails or
	// ctx is done.
	Serve(ctx context.Context, h Handler) error
	Close() error
}

// DialFunc establishes a Conn.
type DialFunc func(ctx context.Context) (Conn, error)

// Policy selects the hardened or unhardened reconnect behavior.
type Policy struct {
	Reconnect bool
	Backoff   time.Duration
}

// Link owns one upstream connection and its ConnectionState.
type Link struct {
	addr   string
	dial   DialFunc
	policy Policy
	log    *zap.Logger

	state   atomic.Int32
	onState func(State)
}

// NewLink returns a Link that connects with dial.
func NewLink(addr string, dial DialFunc, policy Policy, log *zap.Logger) *Link {
	if policy.Backoff <= 0 {
		policy.Backoff = DefaultBackoff
	}
	return &Link{
		addr:   addr,
		dial:   dial,
		policy: policy,
		log:    log.With(zap.String("upstream", addr)),
	}
}

// Dial builds a Link for addr. ws://, wss://, http:// and https:// addresses
// connect to a Hub; redis:// and rediss:// subscribe to RedisChannel.
func Dial(addr string, policy Policy, log *zap.Logger) (*Link, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("bus: parse upstream %q: %w", addr, err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
		return NewLink(addr, WebsocketDialer(hubURL(u), log), policy, log), nil
	case "redis", "rediss":
		opt, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("bus: parse redis upstream: %w", err)
		}
		return NewLink(addr, RedisDialer(opt, RedisChannel), policy, log), nil
	}
	return nil, fmt.Errorf("bus: unsupported upstream scheme %q", u.Scheme)
}

// OnStateChange registers fn to observe every transition. Must be called
// before Run.
func (l *Link) OnStateChange(fn func(State)) { l.onState = fn }

// State returns the current ConnectionState.
func (l *Link) State() State { return State(l.state.Load()) }

func (l *Link) fire(in Input) {
	from := l.State()
	to, err := Next(from, in)
	if err != nil {
		l.log.Error("link state machine", zap.Error(err))
		return
	}
	l.state.Store(int32(to))
	if from != to {
		l.log.Debug("link state", zap.Stringer("from", from), zap.Stringer("to", to))
		if l.onState != nil {
			l.onState(to)
		}
	}
}

// Run connects and serves until ctx is done. With reconnect enabled it retries
// forever with a fixed backoff; otherwise it returns ErrGaveUp after the first
// attempt ends.
func (l *Link) Run(ctx context.Context, h Handler) error {
	for {
		l.fire(Attempt)
		l.log.Info("connecting to upstream")
		err := l.serveOnce(ctx, h)
		if ctx.Err() != nil {
			l.fire(Close)
			return nil
		}
		l.fire(Failure)

		if !l.policy.Reconnect {
			l.log.Info("upstream link ended, not reconnecting", zap.Error(err))
			return fmt.Errorf("%w: %v", ErrGaveUp, err)
		}
		l.log.Warn("upstream link lost, retrying",
			zap.Error(err), zap.Duration("backoff", l.policy.Backoff))

		select {
		case <-time.After(l.policy.Backoff):
		case <-ctx.Done():
			l.fire(Close)
			return nil
		}
	}
}

func (l *Link) serveOnce(ctx context.Context, h Handler) error {
	conn, err := l.dial(ctx)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	l.fire(Established)
	l.log.Info("connected to upstream")
	err = conn.Serve(ctx, h)
	l.log.Info("disconnected from upstream")
	return err
}
