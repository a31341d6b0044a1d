package queue

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	readCount   = 10
	readBlock   = 5 * time.Second
	retryDelay  = 2 * time.Second
	claimBatch  = 10
	startOffset = "0"
)

// Handler processes one stream entry. Returning nil acknowledges the
// entry; an error leaves it pending so it is reclaimed later.
type Handler interface {
	Handle(ctx context.Context, msg redis.XMessage) error
}

type HandlerFunc func(ctx context.Context, msg redis.XMessage) error

func (f HandlerFunc) Handle(ctx context.Context, msg redis.XMessage) error {
	return f(ctx, msg)
}

// Consumer reads the image event stream as a member of a consumer group
// and periodically claims entries other members left idle.
type Consumer struct {
	client        *redis.Client
	stream        string
	group         string
	name          string
	claimInterval time.Duration
	log           zerolog.Logger
	handler       Handler
}

type Options struct {
	Stream        string
	Group         string
	Name          string
	ClaimInterval time.Duration
}

func NewConsumer(client *redis.Client, opts Options, log zerolog.Logger, handler Handler) *Consumer {
	if opts.ClaimInterval <= 0 {
		opts.ClaimInterval = 30 * time.Second
	}
	return &Consumer{
		client:        client,
		stream:        opts.Stream,
		group:         opts.Group,
		name:          opts.Name,
		claimInterval: opts.ClaimInterval,
		log: log.With().
			Str("stream", opts.Stream).
			Str("group", opts.Group).
			Str("consumer", opts.Name).
			Logger(),
		handler: handler,
	}
}

// EnsureGroup creates the consumer group, and the stream with it, unless
// it already exists. A new group starts from the beginning of the stream
// so events published before the first worker came up are not lost.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, startOffset).Err()
	if err != nil && !isBusyGroup(err) {
		return err
	}
	return nil
}

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.claimInterval)
	defer ticker.Stop()

	c.log.Info().Msg("consumer started")
	for {
		if err := c.read(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Error().Err(err).Msg("stream read failed")
			if !sleep(ctx, retryDelay) {
				return ctx.Err()
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.claimIdle(ctx); err != nil && ctx.Err() == nil {
				c.log.Error().Err(err).Msg("claim idle entries failed")
			}
		default:
		}
	}
}

func (c *Consumer) read(ctx context.Context) error {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.name,
		Streams:  []string{c.stream, ">"},
		Count:    readCount,
		Block:    readBlock,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	}

	for _, s := range streams {
		for _, msg := range s.Messages {
			c.process(ctx, msg)
		}
	}
	return nil
}

func (c *Consumer) claimIdle(ctx context.Context) error {
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: c.stream,
		Group:  c.group,
		Idle:   c.claimInterval,
		Start:  "-",
		End:    "+",
		Count:  claimBatch,
	}).Result()
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	ids := make([]string, 0, len(pending))
	for _, p := range pending {
		ids = append(ids, p.ID)
	}

	msgs, err := c.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   c.stream,
		Group:    c.group,
		Consumer: c.name,
		MinIdle:  c.claimInterval,
		Messages: ids,
	}).Result()
	if err != nil {
		return err
	}

	c.log.Debug().Int("claimed", len(msgs)).Msg("claimed idle entries")
	for _, msg := range msgs {
		c.process(ctx, msg)
	}
	return nil
}

func (c *Consumer) process(ctx context.Context, msg redis.XMessage) {
	if err := c.handler.Handle(ctx, msg); err != nil {
		c.log.Error().Err(err).Str("message_id", msg.ID).Msg("handle entry failed")
		return
	}
	if err := c.client.XAck(ctx, c.stream, c.group, msg.ID).Err(); err != nil {
		c.log.Error().Err(err).Str("message_id", msg.ID).Msg("ack failed")
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
