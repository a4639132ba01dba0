package queue

import "testing"

func TestSeenSet_AddContains(t *testing.T) {
	s := NewSeenSet()

	if s.Contains("a") {
		t.Error("empty set should not contain anything")
	}

	s.Add("a")
	if !s.Contains("a") {
		t.Error("expected set to contain added id")
	}
	if s.Contains("b") {
		t.Error("set should not contain unseen id")
	}
	if s.Size() != 1 {
		t.Errorf("expected size 1, got %d", s.Size())
	}
}

func TestSeenSet_AddIdempotent(t *testing.T) {
	s := NewSeenSet()
	s.Add("a")
	s.Add("a")
	if s.Size() != 1 {
		t.Errorf("expected size 1 after duplicate add, got %d", s.Size())
	}
}

func TestSeenSet_Clear(t *testing.T) {
	s := NewSeenSet()
	s.Add("a")
	s.Add("b")

	s.Clear()
	if s.Size() != 0 {
		t.Errorf("expected empty set after clear, got %d", s.Size())
	}
	if s.Contains("a") {
		t.Error("cleared set should not contain old ids")
	}
}
