package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"rag-chatbot-platform/models"
)

func seedSession(t *testing.T, s *MessageStore, n int, content func(i int) string) time.Time {
	t.Helper()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		msg := &models.Message{
			TenantID:  "tenant-a",
			SessionID: "s1",
			Role:      role,
			Content:   content(i),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.Append(context.Background(), msg); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	return base
}

func TestReadWindowKeepsNewestInChronologicalOrder(t *testing.T) {
	ctx := context.Background()
	s := NewMessageStore(testDB(t))
	seedSession(t, s, 8, func(i int) string { return fmt.Sprintf("message %d", i) })

	window, err := s.ReadWindow(ctx, "tenant-a", "s1", 4, 0)
	if err != nil {
		t.Fatalf("read window: %v", err)
	}
	if len(window) != 4 {
		t.Fatalf("window size = %d, want 4", len(window))
	}
	// The 4 newest of 8, oldest first
	for i, msg := range window {
		want := fmt.Sprintf("message %d", 4+i)
		if msg.Content != want {
			t.Errorf("window[%d] = %q, want %q", i, msg.Content, want)
		}
	}
}

func TestReadWindowCharBudgetDropsOlder(t *testing.T) {
	ctx := context.Background()
	s := NewMessageStore(testDB(t))
	// 5 messages of 10 chars each
	seedSession(t, s, 5, func(i int) string { return fmt.Sprintf("body %05d", i) })

	// Newest-first selection under a 25-char budget keeps the two
	// newest; the third would overflow and takes everything older with
	// it.
	window, err := s.ReadWindow(ctx, "tenant-a", "s1", 10, 25)
	if err != nil {
		t.Fatalf("read window: %v", err)
	}
	if len(window) != 2 {
		t.Fatalf("window size = %d, want 2", len(window))
	}
	if window[0].Content != "body 00003" || window[1].Content != "body 00004" {
		t.Errorf("window = %q, %q", window[0].Content, window[1].Content)
	}
	if !window[0].Timestamp.Before(window[1].Timestamp) {
		t.Error("window not in chronological order")
	}
}

func TestReadWindowOversizedNewestYieldsEmpty(t *testing.T) {
	ctx := context.Background()
	s := NewMessageStore(testDB(t))
	seedSession(t, s, 2, func(i int) string { return "a long enough message body" })

	window, err := s.ReadWindow(ctx, "tenant-a", "s1", 10, 5)
	if err != nil {
		t.Fatalf("read window: %v", err)
	}
	if len(window) != 0 {
		t.Fatalf("window size = %d, want 0", len(window))
	}
}

func TestReadWindowScopedToSessionAndTenant(t *testing.T) {
	ctx := context.Background()
	s := NewMessageStore(testDB(t))
	seedSession(t, s, 3, func(i int) string { return fmt.Sprintf("message %d", i) })

	other := &models.Message{
		TenantID:  "tenant-b",
		SessionID: "s1",
		Role:      models.RoleUser,
		Content:   "someone else's message",
		Timestamp: time.Date(2026, 8, 1, 13, 0, 0, 0, time.UTC),
	}
	if err := s.Append(ctx, other); err != nil {
		t.Fatalf("append: %v", err)
	}

	window, err := s.ReadWindow(ctx, "tenant-a", "s1", 10, 0)
	if err != nil {
		t.Fatalf("read window: %v", err)
	}
	if len(window) != 3 {
		t.Fatalf("window size = %d, want 3", len(window))
	}
	for _, msg := range window {
		if msg.TenantID != "tenant-a" {
			t.Fatalf("window leaked message from %q", msg.TenantID)
		}
	}

	empty, err := s.ReadWindow(ctx, "tenant-a", "s2", 10, 0)
	if err != nil {
		t.Fatalf("read window: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("unknown session returned %d messages", len(empty))
	}
}
