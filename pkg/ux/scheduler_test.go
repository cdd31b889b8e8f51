// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"
)

// =============================================================================
// Pacing Tests
// =============================================================================

func TestPaceFor(t *testing.T) {
	tests := []struct {
		backlog int
		want    int
	}{
		{0, 0},
		{-5, 0},
		{1, 1},
		{9, 1},
		{10, 1},
		{11, 2},
		{20, 2},
		{21, 3},
		{49, 5},
		{50, 5},
		{51, 5},
		{100, 5},
		{100000, 5},
	}

	for _, tt := range tests {
		if got := paceFor(tt.backlog); got != tt.want {
			t.Errorf("paceFor(%d) = %d, want %d", tt.backlog, got, tt.want)
		}
	}
}

// =============================================================================
// Tick Tests (deterministic, no goroutines)
// =============================================================================

func TestDisplayScheduler_Tick_RevealsFullText(t *testing.T) {
	var revealed strings.Builder
	s := NewDisplayScheduler(func(part string) {
		revealed.WriteString(part)
	})

	text := "The proposed allocation increases by 4.2% [1], primarily in transit [2]."
	s.Append(text)
	s.Close()

	for !s.Tick() {
	}

	if revealed.String() != text {
		t.Errorf("expected full text revealed, got %q", revealed.String())
	}
}

func TestDisplayScheduler_Tick_AdvanceSequence(t *testing.T) {
	var parts []string
	s := NewDisplayScheduler(func(part string) {
		parts = append(parts, part)
	})

	// 12 pending: first tick advances ceil(12/10)=2, then 1 per tick
	s.Append(strings.Repeat("x", 12))
	s.Close()

	for !s.Tick() {
	}

	wantLens := []int{2, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1}
	if len(parts) != len(wantLens) {
		t.Fatalf("expected %d reveal steps, got %d", len(wantLens), len(parts))
	}
	for i, want := range wantLens {
		if len(parts[i]) != want {
			t.Errorf("step %d: expected %d chars, got %d", i, want, len(parts[i]))
		}
	}
}

func TestDisplayScheduler_Tick_PrefixInvariant(t *testing.T) {
	text := "Transit funding grows fastest at 9.1% [3], followed by parks [2]."

	var shown strings.Builder
	s := NewDisplayScheduler(func(part string) {
		shown.WriteString(part)
		if !strings.HasPrefix(text, shown.String()) {
			t.Fatalf("displayed text %q is not a prefix of the stream", shown.String())
		}
	})

	// Append in uneven chunks, the way SSE delivers them
	for _, chunk := range []string{"Transit funding grows fastest", " at 9.1% [3],", " followed by parks [2]."} {
		s.Append(chunk)
	}
	s.Close()

	for !s.Tick() {
	}

	if shown.String() != text {
		t.Errorf("expected %q, got %q", text, shown.String())
	}
}

func TestDisplayScheduler_Tick_CapsAdvance(t *testing.T) {
	var parts []string
	s := NewDisplayScheduler(func(part string) {
		parts = append(parts, part)
	})

	s.Append(strings.Repeat("y", 500))
	s.Close()

	for !s.Tick() {
	}

	for i, part := range parts {
		if len(part) > 5 {
			t.Errorf("step %d revealed %d chars, cap is 5", i, len(part))
		}
	}
}

func TestDisplayScheduler_Tick_RuneSafety(t *testing.T) {
	text := "予算は4.2%増加します [1]。交通機関が最も速い [2]。"

	var shown strings.Builder
	s := NewDisplayScheduler(func(part string) {
		if !utf8.ValidString(part) {
			t.Fatalf("sink received invalid UTF-8: %q", part)
		}
		shown.WriteString(part)
	})

	s.Append(text)
	s.Close()

	for !s.Tick() {
	}

	if shown.String() != text {
		t.Errorf("expected %q, got %q", text, shown.String())
	}
}

func TestDisplayScheduler_Tick_EmptyOpen(t *testing.T) {
	called := false
	s := NewDisplayScheduler(func(part string) { called = true })

	if s.Tick() {
		t.Error("open scheduler with no backlog must not report drained")
	}
	if called {
		t.Error("sink must not be called with no backlog")
	}
}

func TestDisplayScheduler_Tick_ClosedEmpty(t *testing.T) {
	s := NewDisplayScheduler(func(part string) {})
	s.Close()

	if !s.Tick() {
		t.Error("closed, drained scheduler must report done")
	}
}

func TestDisplayScheduler_AppendAfterCloseIgnored(t *testing.T) {
	var shown strings.Builder
	s := NewDisplayScheduler(func(part string) {
		shown.WriteString(part)
	})

	s.Append("kept")
	s.Close()
	s.Append(" dropped")

	for !s.Tick() {
	}

	if shown.String() != "kept" {
		t.Errorf("expected appends after Close to be ignored, got %q", shown.String())
	}
}

func TestDisplayScheduler_Counters(t *testing.T) {
	s := NewDisplayScheduler(func(part string) {})

	s.Append("0123456789abc")
	if got := s.Backlog(); got != 13 {
		t.Errorf("expected backlog 13, got %d", got)
	}
	if got := s.Revealed(); got != 0 {
		t.Errorf("expected 0 revealed, got %d", got)
	}

	s.Tick() // advances ceil(13/10) = 2
	if got := s.Revealed(); got != 2 {
		t.Errorf("expected 2 revealed after tick, got %d", got)
	}
	if got := s.Backlog(); got != 11 {
		t.Errorf("expected backlog 11 after tick, got %d", got)
	}
}

// =============================================================================
// Start/Stop/Wait Tests (goroutine-driven)
// =============================================================================

func TestDisplayScheduler_Start_DrainsAndExits(t *testing.T) {
	var mu sync.Mutex
	var shown strings.Builder
	s := NewDisplaySchedulerWithInterval(func(part string) {
		mu.Lock()
		shown.WriteString(part)
		mu.Unlock()
	}, time.Millisecond)

	text := strings.Repeat("stream ", 40)
	s.Append(text)
	s.Close()
	s.Start()
	s.Wait()

	mu.Lock()
	defer mu.Unlock()
	if shown.String() != text {
		t.Errorf("expected full drain after Wait, got %d of %d chars", shown.Len(), len(text))
	}
}

func TestDisplayScheduler_Start_AppendWhileRunning(t *testing.T) {
	var mu sync.Mutex
	var shown strings.Builder
	s := NewDisplaySchedulerWithInterval(func(part string) {
		mu.Lock()
		shown.WriteString(part)
		mu.Unlock()
	}, time.Millisecond)

	s.Start()
	var want strings.Builder
	for i := 0; i < 20; i++ {
		chunk := "chunk "
		s.Append(chunk)
		want.WriteString(chunk)
	}
	s.Close()
	s.Wait()

	mu.Lock()
	defer mu.Unlock()
	if shown.String() != want.String() {
		t.Errorf("expected all appended text revealed, got %d of %d chars",
			shown.Len(), want.Len())
	}
}

func TestDisplayScheduler_Stop_HaltsWithoutDraining(t *testing.T) {
	var mu sync.Mutex
	var shown strings.Builder
	// Interval long enough that no tick fires before Stop
	s := NewDisplaySchedulerWithInterval(func(part string) {
		mu.Lock()
		shown.WriteString(part)
		mu.Unlock()
	}, time.Hour)

	s.Start()
	s.Append("text that should never appear")
	s.Stop()

	mu.Lock()
	defer mu.Unlock()
	if shown.Len() != 0 {
		t.Errorf("expected no reveal after Stop, got %q", shown.String())
	}
}

func TestDisplayScheduler_Stop_Idempotent(t *testing.T) {
	s := NewDisplaySchedulerWithInterval(func(part string) {}, time.Hour)
	s.Start()
	s.Stop()
	s.Stop() // must not panic or block
}
