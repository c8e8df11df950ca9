// Package events publishes job and node lifecycle transitions onto a Redis
// pub/sub channel. Notification delivery itself is out of scope (spec.md §1
// lists it as an external collaborator); this package is only the publish
// side seam those collaborators subscribe to.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/meltforce/cast2md/internal/logger"
)

// Kind names the lifecycle transition an Event describes.
type Kind string

const (
	JobQueued     Kind = "job.queued"
	JobClaimed    Kind = "job.claimed"
	JobProgressed Kind = "job.progressed"
	JobCompleted  Kind = "job.completed"
	JobFailed     Kind = "job.failed"
	JobReleased   Kind = "job.released"
	JobReclaimed  Kind = "job.reclaimed"
	NodeOnline    Kind = "node.online"
	NodeOffline   Kind = "node.offline"
)

// Event is one state-change notification.
type Event struct {
	Kind      Kind            `json:"kind"`
	JobID     string          `json:"job_id,omitempty"`
	EpisodeID string          `json:"episode_id,omitempty"`
	NodeID    string          `json:"node_id,omitempty"`
	Detail    map[string]any  `json:"detail,omitempty"`
	At        time.Time       `json:"at"`
}

// Bus publishes Events and, for the server process's own event stream,
// forwards published Events back out to local subscribers.
type Bus interface {
	Publish(ctx context.Context, evt Event) error
	StartForwarder(ctx context.Context, onEvent func(Event)) error
	Close() error
}

type redisBus struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
}

// NewRedisBus dials addr and returns a Bus that publishes onto channel.
func NewRedisBus(log *logger.Logger, addr, channel string) (Bus, error) {
	if log == nil {
		return nil, fmt.Errorf("events: logger required")
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("events: redis addr required")
	}
	if channel == "" {
		channel = "cast2md.events"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("events: redis ping: %w", err)
	}

	return &redisBus{
		log:     log.With("component", "events.redisBus"),
		rdb:     rdb,
		channel: channel,
	}, nil
}

func (b *redisBus) Publish(ctx context.Context, evt Event) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("events: bus not initialized")
	}
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	raw, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("events: marshal: %w", err)
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

func (b *redisBus) StartForwarder(ctx context.Context, onEvent func(Event)) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("events: bus not initialized")
	}
	if onEvent == nil {
		return fmt.Errorf("events: onEvent callback required")
	}

	sub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("events: subscribe: %w", err)
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					_ = sub.Close()
					return
				}
				var evt Event
				if err := json.Unmarshal([]byte(m.Payload), &evt); err != nil {
					b.log.Warn("bad event payload", "error", err)
					continue
				}
				onEvent(evt)
			}
		}
	}()

	return nil
}

func (b *redisBus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}

// NopBus discards every publish. Used when no Redis is configured so the
// rest of the system can depend on Bus unconditionally.
type NopBus struct{}

func (NopBus) Publish(context.Context, Event) error                     { return nil }
func (NopBus) StartForwarder(context.Context, func(Event)) error        { return nil }
func (NopBus) Close() error                                             { return nil }

var _ Bus = (*redisBus)(nil)
var _ Bus = NopBus{}
