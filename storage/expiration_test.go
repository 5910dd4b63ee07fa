package storage

import (
	"fmt"
	"testing"
	"time"
)

func TestExpirationIndexOrder(t *testing.T) {
	x := NewExpirationIndex()
	base := time.Now()

	x.Schedule("c", base.Add(3*time.Second))
	x.Schedule("a", base.Add(1*time.Second))
	x.Schedule("b", base.Add(2*time.Second))

	var order []string
	for x.Len() > 0 {
		key, _, ok := x.Next()
		if !ok {
			t.Fatal("Next() reported empty index")
		}
		order = append(order, key)
		x.Clear(key)
	}

	if fmt.Sprint(order) != "[a b c]" {
		t.Errorf("order = %v, want [a b c]", order)
	}
}

func TestExpirationIndexSameDeadline(t *testing.T) {
	x := NewExpirationIndex()
	deadline := time.Now()

	x.Schedule("b", deadline)
	x.Schedule("a", deadline)

	key, _, _ := x.Next()
	if key != "a" {
		t.Errorf("Next() = %s, want a", key)
	}

	if !x.IsExpired("a", deadline) || !x.IsExpired("b", deadline) {
		t.Error("keys due exactly at now must count as expired")
	}
}

func TestExpirationIndexSchedule(t *testing.T) {
	x := NewExpirationIndex()
	base := time.Now()

	if earliest := x.Schedule("key", base.Add(time.Second)); !earliest {
		t.Error("first key must be the earliest")
	}

	if earliest := x.Schedule("other", base.Add(time.Hour)); earliest {
		t.Error("later key must not be the earliest")
	}

	// Rescheduling replaces the deadline rather than adding a second one
	if earliest := x.Schedule("other", base.Add(time.Millisecond)); !earliest {
		t.Error("rescheduled key must become the earliest")
	}

	if x.Len() != 2 {
		t.Errorf("Len() = %d, want 2", x.Len())
	}

	deadline, ok := x.Deadline("other")
	if !ok || !deadline.Equal(base.Add(time.Millisecond)) {
		t.Errorf("Deadline() = %v, %v", deadline, ok)
	}
}

func TestExpirationIndexClear(t *testing.T) {
	x := NewExpirationIndex()
	now := time.Now()

	x.Schedule("key", now.Add(-time.Second))
	if !x.IsExpired("key", now) {
		t.Fatal("IsExpired() = false for past deadline")
	}

	if !x.Clear("key") {
		t.Error("Clear() = false for scheduled key")
	}
	if x.Clear("key") {
		t.Error("Clear() = true for cleared key")
	}

	if x.IsExpired("key", now) {
		t.Error("a key without deadline never expires")
	}

	if _, _, ok := x.Next(); ok {
		t.Error("Next() on empty index reported an entry")
	}
}

func TestExpirationIndexClearMiddle(t *testing.T) {
	x := NewExpirationIndex()
	base := time.Now()

	for i := 0; i < 50; i++ {
		x.Schedule(fmt.Sprintf("key:%02d", i), base.Add(time.Duration(i)*time.Millisecond))
	}

	for i := 0; i < 50; i += 2 {
		x.Clear(fmt.Sprintf("key:%02d", i))
	}

	prev := time.Time{}
	for x.Len() > 0 {
		key, deadline, _ := x.Next()
		if deadline.Before(prev) {
			t.Fatalf("heap order broken at %s", key)
		}
		prev = deadline
		x.Clear(key)
	}
}

func TestExpirationIndexSample(t *testing.T) {
	x := NewExpirationIndex()
	now := time.Now()

	for i := 0; i < 5; i++ {
		x.Schedule(fmt.Sprintf("due:%d", i), now.Add(-time.Second))
		x.Schedule(fmt.Sprintf("later:%d", i), now.Add(time.Hour))
	}

	sampled, due := x.Sample(100, now)
	if sampled != 10 || due != 5 {
		t.Errorf("Sample() = %d, %d; want 10, 5", sampled, due)
	}

	x.Reset()
	if sampled, _ := x.Sample(10, now); sampled != 0 {
		t.Errorf("Sample() after Reset = %d, want 0", sampled)
	}
}
