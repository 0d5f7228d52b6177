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
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/confplane/lib/events"
)

func TestMemoryFanout(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m := NewMemory()
	defer m.Close()

	sub1, err := m.Subscribe(ctx, events.TopicRefresh)
	require.NoError(t, err)
	sub2, err := m.Subscribe(ctx, events.TopicRefresh)
	require.NoError(t, err)
	other, err := m.Subscribe(ctx, events.TopicInvalidation)
	require.NoError(t, err)

	require.NoError(t, m.Publish(ctx, events.TopicRefresh, []byte("hello")))

	for _, sub := range []Subscription{sub1, sub2} {
		select {
		case msg := <-sub.Events():
			require.Equal(t, events.TopicRefresh, msg.Topic)
			require.Equal(t, "hello", string(msg.Payload))
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for fanout delivery")
		}
	}

	select {
	case msg := <-other.Events():
		t.Fatalf("unexpected cross-topic delivery: %v", msg)
	default:
	}
}

func TestMemorySubscriptionClose(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m := NewMemory()
	defer m.Close()

	sub, err := m.Subscribe(ctx, events.TopicRefresh)
	require.NoError(t, err)
	require.NoError(t, sub.Close())

	// Publishing after close must not panic or deliver.
	require.NoError(t, m.Publish(ctx, events.TopicRefresh, []byte("late")))
	_, open := <-sub.Events()
	require.False(t, open)
}

func TestRedisBus(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()

	b := NewRedis(client)
	sub, err := b.Subscribe(ctx, events.TopicInvalidation)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, b.Publish(ctx, events.TopicInvalidation, []byte(`{"cache":"permissions"}`)))

	select {
	case msg := <-sub.Events():
		require.Equal(t, events.TopicInvalidation, msg.Topic)
		inv, err := events.UnmarshalInvalidation(msg.Payload)
		require.NoError(t, err)
		require.Equal(t, "permissions", inv.Cache)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for redis delivery")
	}
}

// publisherFunc adapts a function to the Publisher interface.
type publisherFunc func(ctx context.Context, topic string, payload []byte) error

func (f publisherFunc) Publish(ctx context.Context, topic string, payload []byte) error {
	return f(ctx, topic, payload)
}

func TestRefreshPublisherBreaker(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	var calls atomic.Int64
	failing := publisherFunc(func(ctx context.Context, topic string, payload []byte) error {
		calls.Add(1)
		return errors.New("broker down")
	})

	p, err := NewRefreshPublisher(RefreshPublisherConfig{Publisher: failing})
	require.NoError(t, err)

	// Trip the breaker with consecutive failures.
	for range 10 {
		require.Error(t, p.Publish(ctx, events.ServiceDestination("svc")))
	}
	tripped := calls.Load()
	// Once open, publishes are dropped without touching the broker.
	require.Error(t, p.Publish(ctx, events.ServiceDestination("svc")))
	require.Equal(t, tripped, calls.Load())
}

func TestRefreshPublisherDelivers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m := NewMemory()
	defer m.Close()
	sub, err := m.Subscribe(ctx, events.TopicRefresh)
	require.NoError(t, err)

	p, err := NewRefreshPublisher(RefreshPublisherConfig{Publisher: m})
	require.NoError(t, err)
	require.NoError(t, p.Publish(ctx, events.NewDestination("svc_payments", "i-1")))

	select {
	case msg := <-sub.Events():
		dst, err := events.UnmarshalRefresh(msg.Payload)
		require.NoError(t, err)
		require.Equal(t, "svc_payments:i-1", dst.String())
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for refresh delivery")
	}
}
