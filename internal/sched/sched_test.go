package sched

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestScheduler_After(t *testing.T) {
	clock := NewFakeClock(epoch)
	s := New(clock)

	var ran []string
	s.After("", 2*time.Second, func() { ran = append(ran, "b") })
	s.After("", time.Second, func() { ran = append(ran, "a") })

	clock.Advance(500 * time.Millisecond)
	if len(ran) != 0 {
		t.Fatalf("tasks ran early: %v", ran)
	}
	clock.Advance(2 * time.Second)
	if len(ran) != 2 || ran[0] != "a" || ran[1] != "b" {
		t.Errorf("ran = %v, want [a b]", ran)
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d after firing, want 0", s.Len())
	}
}

func TestHandle_Cancel(t *testing.T) {
	clock := NewFakeClock(epoch)
	s := New(clock)

	fired := false
	h := s.After("", time.Second, func() { fired = true })
	if !h.Cancel() {
		t.Fatal("first Cancel() = false, want true")
	}
	if h.Cancel() {
		t.Error("second Cancel() = true, want false")
	}
	clock.Advance(time.Minute)
	if fired {
		t.Error("cancelled task ran")
	}
	if h.Pending() {
		t.Error("cancelled handle still pending")
	}
}

func TestScheduler_KeyedReplacement(t *testing.T) {
	tests := []struct {
		name       string
		first      time.Duration
		second     time.Duration
		wantRunner string
		wantDue    time.Duration
	}{
		{"sooner replaces", 15 * time.Second, time.Second, "second", time.Second},
		{"later is dropped", time.Second, 15 * time.Second, "first", time.Second},
		{"equal keeps existing", 5 * time.Second, 5 * time.Second, "first", 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := NewFakeClock(epoch)
			s := New(clock)

			var ran []string
			s.After("retry", tt.first, func() { ran = append(ran, "first") })
			h := s.After("retry", tt.second, func() { ran = append(ran, "second") })

			if got := h.Due().Sub(epoch); got != tt.wantDue {
				t.Errorf("Due() = +%v, want +%v", got, tt.wantDue)
			}
			if s.Len() != 1 {
				t.Errorf("Len() = %d, want 1", s.Len())
			}
			clock.Advance(time.Minute)
			if len(ran) != 1 || ran[0] != tt.wantRunner {
				t.Errorf("ran = %v, want [%s]", ran, tt.wantRunner)
			}
		})
	}
}

func TestScheduler_CancelAll(t *testing.T) {
	clock := NewFakeClock(epoch)
	s := New(clock)

	count := 0
	for i := 0; i < 3; i++ {
		s.After("", time.Duration(i+1)*time.Second, func() { count++ })
	}
	if n := s.CancelAll(true); n != 3 {
		t.Errorf("CancelAll() = %d, want 3", n)
	}
	clock.Advance(time.Minute)
	if count != 0 {
		t.Errorf("%d tasks ran after CancelAll", count)
	}
	if h := s.After("", time.Second, func() { count++ }); h != nil {
		t.Error("After() on a stopped scheduler should return nil")
	}
	if clock.Waiting() != 0 {
		t.Errorf("Waiting() = %d, want 0", clock.Waiting())
	}
}

func TestScheduler_RealClock(t *testing.T) {
	s := New(nil)
	done := make(chan struct{})
	s.After("", 10*time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run on the real clock")
	}
}
