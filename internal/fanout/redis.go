package fanout

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const DefaultChannel = "chatengine:events"

// Redis relays envelopes through a Redis Pub/Sub channel so that every
// gateway process sees every event.
type Redis struct {
	log     *logrus.Logger
	rdb     *redis.Client
	channel string
}

// NewRedisClient connects to the server at url and checks it responds.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

func NewRedis(logger *logrus.Logger, rdb *redis.Client, channel string) *Redis {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Redis{log: logger, rdb: rdb, channel: channel}
}

func (r *Redis) Publish(ctx context.Context, env Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	if err := r.rdb.Publish(ctx, r.channel, b).Err(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

func (r *Redis) Subscribe(ctx context.Context, h Handler) (func(), error) {
	ps := r.rdb.Subscribe(ctx, r.channel)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", r.channel, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range ps.Channel() {
			env, err := decodeEnvelope(msg.Payload)
			if err != nil {
				r.log.WithError(err).Warn("dropping malformed envelope")
				continue
			}
			h(env)
		}
	}()

	return func() {
		if err := ps.Close(); err != nil {
			r.log.WithError(err).Debug("close subscription")
		}
		<-done
	}, nil
}

func decodeEnvelope(payload string) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return Envelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if len(env.Payload) == 0 {
		return Envelope{}, fmt.Errorf("envelope has no payload")
	}
	return env, nil
}
