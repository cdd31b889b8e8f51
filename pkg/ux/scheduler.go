// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"sync"
	"time"
)

// Display pacing. Chunks arrive from the network in bursts; revealing them
// at a bounded rate keeps the output readable without falling behind when
// the model streams quickly.
const (
	// displayTickInterval is the cadence of reveal steps.
	displayTickInterval = 30 * time.Millisecond

	// backlogDivisor smooths the reveal rate: each tick shows one tenth
	// of the pending backlog, rounded up.
	backlogDivisor = 10

	// maxAdvancePerTick caps how many characters one tick may reveal.
	maxAdvancePerTick = 5
)

// paceFor returns how many characters a tick reveals for a given backlog.
func paceFor(backlog int) int {
	if backlog <= 0 {
		return 0
	}
	n := (backlog + backlogDivisor - 1) / backlogDivisor
	if n > maxAdvancePerTick {
		n = maxAdvancePerTick
	}
	return n
}

// DisplayScheduler reveals buffered answer text gradually.
//
// # Description
//
// A DisplayScheduler sits between the stream consumer and the terminal.
// Append adds arriving text to an internal buffer; a ticker goroutine
// reveals it in small steps through the sink callback. The revealed text
// is always a prefix of the appended text, characters are never reordered
// or dropped, and multi-byte characters are never split (the buffer is
// tracked in runes).
//
// After Close() the scheduler keeps draining at tick pace and stops on its
// own once everything has been revealed. Stop() halts immediately, leaving
// any remaining backlog unrevealed.
//
// # Thread Safety
//
// All methods are safe for concurrent use. The sink is invoked with the
// mutex held, so reveal chunks arrive in order; sinks must not call back
// into the scheduler.
//
// # Example
//
//	sched := NewDisplayScheduler(func(chunk string) {
//	    fmt.Fprint(os.Stdout, chunk)
//	})
//	sched.Start()
//	sched.Append("Hello, ")
//	sched.Append("world")
//	sched.Close()
//	sched.Wait() // blocks until "Hello, world" is fully revealed
type DisplayScheduler struct {
	mu       sync.Mutex
	target   []rune
	shown    int
	closed   bool
	running  bool
	stopping bool
	interval time.Duration
	sink     func(chunk string)
	stop     chan struct{}
	done     chan struct{}
}

// NewDisplayScheduler creates a scheduler that reveals text through sink
// at the default cadence. A nil sink discards revealed text.
func NewDisplayScheduler(sink func(chunk string)) *DisplayScheduler {
	return NewDisplaySchedulerWithInterval(sink, displayTickInterval)
}

// NewDisplaySchedulerWithInterval creates a scheduler with a custom tick
// interval (for testing).
func NewDisplaySchedulerWithInterval(sink func(chunk string), interval time.Duration) *DisplayScheduler {
	if sink == nil {
		sink = func(string) {}
	}
	if interval <= 0 {
		interval = displayTickInterval
	}
	return &DisplayScheduler{
		interval: interval,
		sink:     sink,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Append adds text to the reveal buffer. Safe to call while ticking.
// Appends after Close are ignored.
func (s *DisplayScheduler) Append(text string) {
	if text == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.target = append(s.target, []rune(text)...)
}

// Close marks the buffer complete. The scheduler finishes revealing the
// remaining backlog at tick pace and then stops on its own.
func (s *DisplayScheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// Revealed returns the text revealed so far. Always a prefix of the
// appended text.
func (s *DisplayScheduler) Revealed() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.target[:s.shown])
}

// Backlog returns the number of characters appended but not yet revealed.
func (s *DisplayScheduler) Backlog() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.target) - s.shown
}

// Tick performs one reveal step and reports whether the scheduler has
// finished (closed and fully revealed). Normally driven by Start's ticker;
// exposed so tests can pace the scheduler deterministically.
func (s *DisplayScheduler) Tick() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	backlog := len(s.target) - s.shown
	if n := paceFor(backlog); n > 0 {
		chunk := string(s.target[s.shown : s.shown+n])
		s.shown += n
		s.sink(chunk)
	}
	return s.closed && s.shown == len(s.target)
}

// Start begins the reveal loop. Returns immediately; the loop runs until
// the buffer is closed and drained, or Stop is called.
func (s *DisplayScheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		defer close(s.done)

		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				if s.Tick() {
					s.mu.Lock()
					s.running = false
					s.mu.Unlock()
					return
				}
			}
		}
	}()
}

// Stop halts the reveal loop without draining the backlog. Blocks until
// the loop goroutine has exited. Safe to call after a natural finish.
func (s *DisplayScheduler) Stop() {
	s.mu.Lock()
	if !s.running || s.stopping {
		s.mu.Unlock()
		return
	}
	s.stopping = true
	s.mu.Unlock()

	close(s.stop)
	<-s.done

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// Wait blocks until the reveal loop has finished, either by draining a
// closed buffer or by Stop.
func (s *DisplayScheduler) Wait() {
	<-s.done
}
