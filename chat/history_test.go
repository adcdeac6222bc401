package chat

import (
	"fmt"
	"testing"
)

func TestHistoryAppendOrder(t *testing.T) {
	h := NewHistory(10)
	for i := 0; i < 5; i++ {
		h.Append(Message{ID: fmt.Sprintf("%d", i)})
	}
	msgs := h.Messages()
	if len(msgs) != 5 {
		t.Fatalf("Len = %d, want 5", len(msgs))
	}
	for i, m := range msgs {
		if m.ID != fmt.Sprintf("%d", i) {
			t.Errorf("msgs[%d].ID = %s, want %d", i, m.ID, i)
		}
	}
}

func TestHistoryEvictsOldestFirst(t *testing.T) {
	h := NewHistory(DefaultHistoryLimit)
	total := DefaultHistoryLimit + 47
	for i := 0; i < total; i++ {
		h.Append(Message{ID: fmt.Sprintf("%d", i)})
	}
	msgs := h.Messages()
	if len(msgs) != DefaultHistoryLimit {
		t.Fatalf("Len = %d, want %d", len(msgs), DefaultHistoryLimit)
	}
	// The retained window is the last 300 in arrival order.
	if msgs[0].ID != fmt.Sprintf("%d", total-DefaultHistoryLimit) {
		t.Errorf("oldest retained = %s, want %d", msgs[0].ID, total-DefaultHistoryLimit)
	}
	if msgs[len(msgs)-1].ID != fmt.Sprintf("%d", total-1) {
		t.Errorf("newest retained = %s, want %d", msgs[len(msgs)-1].ID, total-1)
	}
}

func TestHistoryDefaultCapacity(t *testing.T) {
	h := NewHistory(0)
	if h.capacity != DefaultHistoryLimit {
		t.Errorf("capacity = %d, want %d", h.capacity, DefaultHistoryLimit)
	}
}

func TestHistoryMessagesIsACopy(t *testing.T) {
	h := NewHistory(10)
	h.Append(Message{ID: "a"})
	snapshot := h.Messages()
	h.Append(Message{ID: "b"})
	if len(snapshot) != 1 {
		t.Errorf("snapshot should not observe later appends, len = %d", len(snapshot))
	}
}
