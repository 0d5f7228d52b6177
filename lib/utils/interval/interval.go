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

// Package interval provides a ticker-like abstraction with support for
// jitter and custom first-tick durations, suitable for driving periodic
// background operations.
package interval

import (
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/gravitational/confplane/lib/utils/retryutils"
)

// Interval functions similarly to time.Ticker, with the added benefit of
// being able to specify a custom duration for the first "tick", and
// an optional jitter to be applied to each period. Must be stopped via
// Stop to release associated resources.
type Interval struct {
	cfg       Config
	ch        chan time.Time
	reset     chan struct{}
	fire      chan struct{}
	done      chan struct{}
	clock     clockwork.Clock
	closeOnce sync.Once
}

// Config configures an Interval.
type Config struct {
	// Duration is the duration on which the interval "ticks" (if a
	// jitter is applied, this represents the upper bound of the range).
	Duration time.Duration
	// FirstDuration is an optional special duration to be used for the
	// first "tick" of the interval. This duration is not jittered.
	FirstDuration time.Duration
	// Jitter is an optional jitter to be applied to each step of the
	// interval.
	Jitter retryutils.Jitter
	// Clock overrides the clock in tests.
	Clock clockwork.Clock
}

// New creates a new interval instance. This function panics on
// non-positive interval durations (equivalent to time.NewTicker).
func New(cfg Config) *Interval {
	if cfg.Duration <= 0 {
		panic(errors.New("non-positive interval for interval.New"))
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	firstDuration := cfg.Duration
	if cfg.FirstDuration != 0 {
		firstDuration = cfg.FirstDuration
	}
	i := &Interval{
		ch:    make(chan time.Time, 1),
		cfg:   cfg,
		reset: make(chan struct{}),
		fire:  make(chan struct{}),
		done:  make(chan struct{}),
		clock: clock,
	}
	// Start the timer in this goroutine to improve consistency of the
	// first tick.
	timer := clock.NewTimer(firstDuration)
	go i.run(timer)
	return i
}

// Next returns the channel on which the intervals are delivered.
func (i *Interval) Next() <-chan time.Time {
	return i.ch
}

// Stop permanently stops the interval. Note that stopping an interval
// does not close its channel.
func (i *Interval) Stop() {
	i.closeOnce.Do(func() {
		close(i.done)
	})
}

// Reset resets the interval without pausing it (i.e. it will now fire in
// jitter(duration) regardless of current timer progress).
func (i *Interval) Reset() {
	select {
	case i.reset <- struct{}{}:
	case <-i.done:
	}
}

// FireNow forces the interval to fire immediately regardless of current
// timer progress and resets the timer to start a new duration.
func (i *Interval) FireNow() {
	select {
	case i.fire <- struct{}{}:
	case <-i.done:
	}
}

// duration gets the duration of the interval, applying the jitter when
// one is configured.
func (i *Interval) duration() time.Duration {
	if i.cfg.Jitter == nil {
		return i.cfg.Duration
	}
	return i.cfg.Jitter(i.cfg.Duration)
}

func (i *Interval) run(timer clockwork.Timer) {
	defer timer.Stop()
	for {
		select {
		case tick := <-timer.Chan():
			// Advance the timer before delivering the tick so slow
			// consumers do not stretch the effective period.
			timer.Reset(i.duration())
			select {
			case i.ch <- tick:
			default:
			}
		case <-i.reset:
			if !timer.Stop() {
				select {
				case <-timer.Chan():
				default:
				}
			}
			timer.Reset(i.duration())
		case <-i.fire:
			if !timer.Stop() {
				select {
				case <-timer.Chan():
				default:
				}
			}
			timer.Reset(i.duration())
			select {
			case i.ch <- i.clock.Now():
			default:
			}
		case <-i.done:
			return
		}
	}
}
