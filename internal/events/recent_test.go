// ABOUTME: Unit tests for the recent-events ring buffer.
// ABOUTME: Covers eviction, newest-first ordering, and list filters.

package events

import (
	"fmt"
	"testing"
)

func TestRecentEventsOrderAndEviction(t *testing.T) {
	r := NewRecentEvents(3)

	for i := 1; i <= 5; i++ {
		r.Add("Test", fmt.Sprintf("event %d", i), "", "")
	}

	list := r.List(0, "", "")
	if len(list) != 3 {
		t.Fatalf("Expected 3 events after eviction, got %d", len(list))
	}
	want := []string{"event 5", "event 4", "event 3"}
	for i, ev := range list {
		if ev.Message != want[i] {
			t.Errorf("Position %d: expected %q, got %q", i, want[i], ev.Message)
		}
	}
}

func TestRecentEventsLimit(t *testing.T) {
	r := NewRecentEvents(10)
	for i := 0; i < 6; i++ {
		r.Add("Test", fmt.Sprintf("event %d", i), "", "")
	}

	list := r.List(2, "", "")
	if len(list) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(list))
	}
	if list[0].Message != "event 5" {
		t.Errorf("Expected newest first, got %q", list[0].Message)
	}
}

func TestRecentEventsFilters(t *testing.T) {
	r := NewRecentEvents(10)
	r.Add("Container Created", "c1 created", "", "c1")
	r.Add("Image Pulled", "nginx pulled", "", "")
	r.Add("Container Created", "c2 created", "", "c2")

	t.Run("by type", func(t *testing.T) {
		list := r.List(0, "Container Created", "")
		if len(list) != 2 {
			t.Fatalf("Expected 2 container events, got %d", len(list))
		}
		if list[0].Message != "c2 created" {
			t.Errorf("Expected newest match first, got %q", list[0].Message)
		}
	})

	t.Run("by container", func(t *testing.T) {
		list := r.List(0, "", "c1")
		if len(list) != 1 || list[0].Container != "c1" {
			t.Fatalf("Expected one event for c1, got %+v", list)
		}
	})

	t.Run("by both", func(t *testing.T) {
		if list := r.List(0, "Image Pulled", "c1"); len(list) != 0 {
			t.Errorf("Expected no match, got %+v", list)
		}
	})
}

func TestRecentEventsEmpty(t *testing.T) {
	r := NewRecentEvents(0)
	if list := r.List(10, "", ""); len(list) != 0 {
		t.Errorf("Empty buffer must list nothing, got %+v", list)
	}
}
