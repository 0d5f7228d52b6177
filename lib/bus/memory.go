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
	"sync"

	"github.com/gravitational/trace"
)

// subscriptionBuffer is the per-subscription delivery buffer. A full
// buffer drops the message; receivers tolerate missed signals because
// they reconcile on the next cycle.
const subscriptionBuffer = 1024

// Memory is an in-process fanout bus used in tests and single-node
// deployments.
type Memory struct {
	mu     sync.Mutex
	closed bool
	subs   map[string]map[*memorySubscription]struct{}
}

// NewMemory returns a new in-process bus.
func NewMemory() *Memory {
	return &Memory{
		subs: make(map[string]map[*memorySubscription]struct{}),
	}
}

// Publish sends a message to every current subscriber of the topic.
func (m *Memory) Publish(ctx context.Context, topic string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return trace.ConnectionProblem(nil, "bus is closed")
	}
	msg := Message{Topic: topic, Payload: payload}
	for sub := range m.subs[topic] {
		select {
		case sub.ch <- msg:
		default:
			droppedMessages.WithLabelValues(topic).Inc()
		}
	}
	return nil
}

// Subscribe opens a subscription on the topic.
func (m *Memory) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, trace.ConnectionProblem(nil, "bus is closed")
	}
	sub := &memorySubscription{
		bus:   m,
		topic: topic,
		ch:    make(chan Message, subscriptionBuffer),
	}
	if m.subs[topic] == nil {
		m.subs[topic] = make(map[*memorySubscription]struct{})
	}
	m.subs[topic][sub] = struct{}{}
	return sub, nil
}

// Close terminates the bus and every subscription.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for _, subs := range m.subs {
		for sub := range subs {
			close(sub.ch)
		}
	}
	m.subs = nil
	return nil
}

type memorySubscription struct {
	bus       *Memory
	topic     string
	ch        chan Message
	closeOnce sync.Once
}

// Events returns the delivery channel.
func (s *memorySubscription) Events() <-chan Message {
	return s.ch
}

// Close terminates the subscription.
func (s *memorySubscription) Close() error {
	s.closeOnce.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()
		if s.bus.closed {
			return
		}
		delete(s.bus.subs[s.topic], s)
		close(s.ch)
	})
	return nil
}
