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

// Package bus provides the event bus the control plane publishes
// refresh signals and cache invalidations on. Delivery is at least
// once and fire-and-forget: receivers are idempotent, slow consumers
// have messages dropped rather than stalling publishers.
package bus

import "context"

// Message is one published bus message.
type Message struct {
	// Topic is the topic the message was published on.
	Topic string
	// Payload is the opaque message body.
	Payload []byte
}

// Publisher publishes messages on a topic.
type Publisher interface {
	// Publish sends a message to every current subscriber of the
	// topic.
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Subscription delivers messages of one topic until closed.
type Subscription interface {
	// Events returns the delivery channel. The channel is closed when
	// the subscription or the bus closes.
	Events() <-chan Message
	// Close terminates the subscription.
	Close() error
}

// Bus combines publishing and subscribing.
type Bus interface {
	Publisher

	// Subscribe opens a subscription on the topic.
	Subscribe(ctx context.Context, topic string) (Subscription, error)

	// Close terminates the bus and every subscription.
	Close() error
}
