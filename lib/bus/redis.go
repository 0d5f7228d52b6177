/*
 * ConfPlane
 * Copyright (C) 2025  Gravitational, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package bus

import (
	"context"
	"strings"
	"sync"

	"github.com/gravitational/trace"
	"github.com/redis/go-redis/v9"
)

// channelPrefix namespaces bus channels in a shared redis deployment.
const channelPrefix = "confplane:bus:"

// Redis is a bus backed by redis pub/sub, fanning messages out across
// control plane replicas.
type Redis struct {
	client redis.UniversalClient
}

// NewRedis returns a bus on the given redis client. The caller owns the
// client lifecycle.
func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

// Publish sends a message to every current subscriber of the topic on
// every replica.
func (r *Redis) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := r.client.Publish(ctx, channelPrefix+topic, payload).Err(); err != nil {
		return trace.ConnectionProblem(err, "publishing to bus topic %q", topic)
	}
	return nil
}

// Subscribe opens a subscription on the topic.
func (r *Redis) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	pubsub := r.client.Subscribe(ctx, channelPrefix+topic)
	// Force the subscription onto the wire before returning so callers
	// do not miss messages published right after Subscribe.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, trace.ConnectionProblem(err, "subscribing to bus topic %q", topic)
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		ch:     make(chan Message, subscriptionBuffer),
	}
	go sub.pump()
	return sub, nil
}

// Close is a no-op: the redis client is owned by the caller.
func (r *Redis) Close() error {
	return nil
}

type redisSubscription struct {
	pubsub    *redis.PubSub
	ch        chan Message
	closeOnce sync.Once
}

func (s *redisSubscription) pump() {
	defer close(s.ch)
	for msg := range s.pubsub.Channel() {
		select {
		case s.ch <- Message{
			Topic:   strings.TrimPrefix(msg.Channel, channelPrefix),
			Payload: []byte(msg.Payload),
		}:
		default:
			droppedMessages.WithLabelValues(strings.TrimPrefix(msg.Channel, channelPrefix)).Inc()
		}
	}
}

// Events returns the delivery channel.
func (s *redisSubscription) Events() <-chan Message {
	return s.ch
}

// Close terminates the subscription.
func (s *redisSubscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.pubsub.Close()
	})
	return trace.Wrap(err)
}
