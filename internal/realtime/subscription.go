package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options tunes a Subscription.
type Options struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Buffer         int
	Logger         *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 500 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 30 * time.Second
	}
	if o.MaxBackoff < o.InitialBackoff {
		o.MaxBackoff = o.InitialBackoff
	}
	if o.Buffer <= 0 {
		o.Buffer = 16
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Subscription 是一个可取消的用户频道订阅。
// 连接中断后按指数退避重连，成功订阅后退避时间重置。
type Subscription struct {
	client  redis.UniversalClient
	channel string
	opts    Options

	events chan Event
	ready  chan struct{}
	once   sync.Once
	cancel context.CancelFunc
	done   chan struct{}
}

// Subscribe starts listening on the user's channel until ctx is cancelled or Close is called.
func Subscribe(ctx context.Context, client redis.UniversalClient, userID uint, opts Options) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	opts = opts.withDefaults()
	s := &Subscription{
		client:  client,
		channel: Channel(userID),
		opts:    opts,
		events:  make(chan Event, opts.Buffer),
		ready:   make(chan struct{}),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go s.run(ctx)
	return s
}

// Events 在订阅结束后关闭。
func (s *Subscription) Events() <-chan Event { return s.events }

// Ready is closed after the first successful subscribe.
func (s *Subscription) Ready() <-chan struct{} { return s.ready }

// Close 取消订阅并等待后台协程退出。
func (s *Subscription) Close() error {
	s.cancel()
	<-s.done
	return nil
}

func (s *Subscription) run(ctx context.Context) {
	defer close(s.done)
	defer close(s.events)

	log := s.opts.Logger.With(slog.String("channel", s.channel))
	backoff := s.opts.InitialBackoff
	for {
		connected, err := s.session(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			backoff = s.opts.InitialBackoff
		}
		log.Warn("realtime subscription interrupted, reconnecting",
			slog.Any("error", err),
			slog.Duration("backoff", backoff),
		)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		backoff *= 2
		if backoff > s.opts.MaxBackoff {
			backoff = s.opts.MaxBackoff
		}
	}
}

// session 订阅一次并持续转发，直到出错或 ctx 结束。
func (s *Subscription) session(ctx context.Context) (connected bool, err error) {
	pubsub := s.client.Subscribe(ctx, s.channel)
	defer pubsub.Close()

	// ReceiveMessage 不感知 ctx 取消，需要主动关闭连接来唤醒。
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = pubsub.Close()
		case <-stop:
		}
	}()

	if _, err := pubsub.Receive(ctx); err != nil {
		return false, err
	}
	s.once.Do(func() { close(s.ready) })

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			return true, err
		}

		var ev Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			s.opts.Logger.Warn("drop malformed realtime payload",
				slog.String("channel", s.channel),
				slog.Any("error", err),
			)
			continue
		}
		ev.raw = []byte(msg.Payload)

		select {
		case s.events <- ev:
		case <-ctx.Done():
			return true, ctx.Err()
		}
	}
}
